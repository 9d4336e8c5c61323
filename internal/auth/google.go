package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/kjstillabower/forecast-auth-service/internal/client"
	"github.com/kjstillabower/forecast-auth-service/internal/models"
	"github.com/kjstillabower/forecast-auth-service/internal/observability"
	"github.com/kjstillabower/forecast-auth-service/internal/requestctx"
)

const (
	// GoogleScheme is the scheme name recorded on identities and metrics.
	GoogleScheme = "Google"

	correlationCookieName = "forecast_oauth_correlation"
	correlationAudience   = "oauth_correlation"
	correlationTTL        = 15 * time.Minute
)

// GoogleConfig configures the Google authorization code flow.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	// CallbackURL is the absolute redirect_uri registered with Google.
	CallbackURL string
	Scopes      []string
	// AuthURL and TokenURL override the Google endpoints when set.
	AuthURL  string
	TokenURL string
	// Timeout bounds the token exchange.
	Timeout time.Duration
	// Secret signs the correlation cookie.
	Secret       []byte
	SecureCookie bool
	Issuer       string
	Now          func() time.Time
}

type correlationClaims struct {
	State    string `json:"state"`
	Verifier string `json:"verifier"`
	Redirect string `json:"redirect"`
	jwt.RegisteredClaims
}

// GoogleProvider runs the OAuth 2.0 authorization code flow with PKCE against Google.
// State, PKCE verifier and post-login redirect travel in a signed correlation cookie.
type GoogleProvider struct {
	oauth      *oauth2.Config
	profiles   client.ProfileClient
	signer     *cookieSigner
	cookiePath string
	secure     bool
	timeout    time.Duration
	httpClient *http.Client
}

// NewGoogleProvider validates cfg and returns a provider that loads profiles through profiles.
func NewGoogleProvider(cfg GoogleConfig, profiles client.ProfileClient) (*GoogleProvider, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("google client id and secret are required")
	}
	if len(cfg.Secret) < MinSecretLength {
		return nil, fmt.Errorf("correlation secret must be at least %d bytes", MinSecretLength)
	}
	if profiles == nil {
		return nil, errors.New("profile client is required")
	}
	callback, err := url.Parse(cfg.CallbackURL)
	if err != nil || !callback.IsAbs() {
		return nil, fmt.Errorf("callback url must be absolute: %q", cfg.CallbackURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultIssuer
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	endpoint := endpoints.Google
	endpoint.AuthStyle = oauth2.AuthStyleInParams
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}

	cookiePath := callback.Path
	if cookiePath == "" {
		cookiePath = "/"
	}

	return &GoogleProvider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			RedirectURL:  cfg.CallbackURL,
			Scopes:       cfg.Scopes,
		},
		profiles:   profiles,
		signer:     &cookieSigner{secret: cfg.Secret, issuer: cfg.Issuer, now: cfg.Now},
		cookiePath: cookiePath,
		secure:     cfg.SecureCookie,
		timeout:    cfg.Timeout,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (p *GoogleProvider) Name() string { return GoogleScheme }

// Challenge stores a fresh state and PKCE verifier in the correlation cookie and
// redirects to the Google consent screen.
func (p *GoogleProvider) Challenge(w http.ResponseWriter, r *http.Request, redirectURI string) error {
	state := uuid.NewString()
	verifier := oauth2.GenerateVerifier()

	claims := correlationClaims{
		State:            state,
		Verifier:         verifier,
		Redirect:         SafeRedirect(redirectURI),
		RegisteredClaims: p.signer.registered("", correlationAudience, "", correlationTTL),
	}
	token, err := p.signer.sign(claims)
	if err != nil {
		return fmt.Errorf("sign correlation cookie: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     correlationCookieName,
		Value:    token,
		Path:     p.cookiePath,
		MaxAge:   int(correlationTTL.Seconds()),
		HttpOnly: true,
		Secure:   p.secure,
		SameSite: http.SameSiteLaxMode,
	})

	authURL := p.oauth.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
	observability.AuthChallengesTotal.WithLabelValues(GoogleScheme).Inc()
	requestctx.Logger(r.Context()).Debug("redirecting to identity provider")
	http.Redirect(w, r, authURL, http.StatusFound)
	return nil
}

// HandleCallback validates the state, exchanges the code and loads the user's profile.
// The returned redirect is a local path.
func (p *GoogleProvider) HandleCallback(w http.ResponseWriter, r *http.Request) (models.Identity, string, error) {
	query := r.URL.Query()
	claims, cookieErr := p.readCorrelation(r)
	p.clearCorrelation(w)

	if errParam := query.Get("error"); errParam != "" {
		return models.Identity{}, "", fmt.Errorf("%w: %s", ErrProviderDenied, errParam)
	}
	if cookieErr != nil {
		return models.Identity{}, "", cookieErr
	}
	state := query.Get("state")
	if state == "" || subtle.ConstantTimeCompare([]byte(state), []byte(claims.State)) != 1 {
		return models.Identity{}, "", fmt.Errorf("%w: state mismatch", ErrInvalidState)
	}
	code := query.Get("code")
	if code == "" {
		return models.Identity{}, "", ErrMissingCode
	}

	ctx, cancel := context.WithTimeout(r.Context(), p.timeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	token, err := p.oauth.Exchange(ctx, code, oauth2.VerifierOption(claims.Verifier))
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil &&
			retrieveErr.Response.StatusCode >= 400 && retrieveErr.Response.StatusCode < 500 {
			return models.Identity{}, "", fmt.Errorf("%w: %s", ErrCodeRejected, retrieveErr.ErrorCode)
		}
		return models.Identity{}, "", fmt.Errorf("%w: token exchange: %w", ErrProviderUnavailable, err)
	}

	identity, err := p.profiles.FetchProfile(r.Context(), token)
	if err != nil {
		return models.Identity{}, "", fmt.Errorf("%w: fetch profile: %w", ErrProviderUnavailable, err)
	}
	identity.Provider = GoogleScheme
	return identity, SafeRedirect(claims.Redirect), nil
}

func (p *GoogleProvider) readCorrelation(r *http.Request) (*correlationClaims, error) {
	cookie, err := r.Cookie(correlationCookieName)
	if err != nil || cookie.Value == "" {
		return nil, fmt.Errorf("%w: correlation cookie missing", ErrInvalidState)
	}
	var claims correlationClaims
	if err := p.signer.parse(cookie.Value, &claims, correlationAudience); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	return &claims, nil
}

func (p *GoogleProvider) clearCorrelation(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     correlationCookieName,
		Value:    "",
		Path:     p.cookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   p.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
