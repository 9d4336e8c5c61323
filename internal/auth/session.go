package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/kjstillabower/forecast-auth-service/internal/models"
	"github.com/kjstillabower/forecast-auth-service/internal/observability"
	"github.com/kjstillabower/forecast-auth-service/internal/sessionstore"
)

const (
	// DefaultIssuer is the iss claim of every token the service signs.
	DefaultIssuer = "forecast-auth-service"

	// MinSecretLength is the minimum HMAC key length accepted for cookie signing.
	MinSecretLength = 32

	sessionAudience = "session"
)

// SessionConfig configures the session cookie.
type SessionConfig struct {
	Secret     []byte
	CookieName string
	TTL        time.Duration
	Secure     bool
	Issuer     string
	Now        func() time.Time
}

type sessionClaims struct {
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	Provider string `json:"provider,omitempty"`
	jwt.RegisteredClaims
}

// SessionManager issues, verifies and revokes signed session cookies.
type SessionManager struct {
	cookieName string
	ttl        time.Duration
	secure     bool
	signer     *cookieSigner
	store      sessionstore.Store
}

// NewSessionManager validates cfg and returns a manager that records revocations in store.
func NewSessionManager(cfg SessionConfig, store sessionstore.Store) (*SessionManager, error) {
	if len(cfg.Secret) < MinSecretLength {
		return nil, fmt.Errorf("session secret must be at least %d bytes", MinSecretLength)
	}
	if cfg.CookieName == "" {
		return nil, errors.New("session cookie name is required")
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("session ttl must be positive")
	}
	if store == nil {
		return nil, errors.New("session store is required")
	}
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultIssuer
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &SessionManager{
		cookieName: cfg.CookieName,
		ttl:        cfg.TTL,
		secure:     cfg.Secure,
		signer:     &cookieSigner{secret: cfg.Secret, issuer: cfg.Issuer, now: cfg.Now},
		store:      store,
	}, nil
}

// SignIn issues a session cookie for identity.
func (m *SessionManager) SignIn(w http.ResponseWriter, identity models.Identity) error {
	if identity.Subject == "" {
		return errors.New("identity subject is required")
	}
	claims := sessionClaims{
		Name:             identity.Name,
		Email:            identity.Email,
		Provider:         identity.Provider,
		RegisteredClaims: m.signer.registered(identity.Subject, sessionAudience, uuid.NewString(), m.ttl),
	}
	token, err := m.signer.sign(claims)
	if err != nil {
		return fmt.Errorf("sign session: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    token,
		Path:     "/",
		Expires:  claims.ExpiresAt.Time,
		MaxAge:   int(m.ttl.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	observability.SessionsIssuedTotal.Inc()
	return nil
}

// Authenticate returns the identity in the request's session cookie.
// Errors: ErrNoSession, ErrInvalidSession, ErrRevokedSession, or a revocation store failure.
func (m *SessionManager) Authenticate(r *http.Request) (models.Identity, error) {
	claims, err := m.parseCookie(r)
	if err != nil {
		return models.Identity{}, err
	}
	revoked, err := m.store.IsRevoked(r.Context(), claims.ID)
	if err != nil {
		return models.Identity{}, fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return models.Identity{}, ErrRevokedSession
	}
	return models.Identity{
		Subject:  claims.Subject,
		Name:     claims.Name,
		Email:    claims.Email,
		Provider: claims.Provider,
	}, nil
}

// SignOut clears the session cookie and revokes its id until the token would have expired.
// Requests without a valid session only get the cookie cleared.
func (m *SessionManager) SignOut(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	claims, err := m.parseCookie(r)
	m.clearCookie(w)
	if err != nil {
		return nil
	}

	remaining := claims.ExpiresAt.Time.Sub(m.signer.now())
	if remaining <= 0 {
		return nil
	}
	if err := m.store.Revoke(ctx, claims.ID, remaining); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	observability.SessionsRevokedTotal.Inc()
	return nil
}

func (m *SessionManager) parseCookie(r *http.Request) (*sessionClaims, error) {
	cookie, err := r.Cookie(m.cookieName)
	if err != nil || cookie.Value == "" {
		return nil, ErrNoSession
	}
	var claims sessionClaims
	if err := m.signer.parse(cookie.Value, &claims, sessionAudience); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, fmt.Errorf("%w: missing subject or id", ErrInvalidSession)
	}
	return &claims, nil
}

func (m *SessionManager) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
