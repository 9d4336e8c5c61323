package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/forecast-auth-service/internal/models"
	"github.com/kjstillabower/forecast-auth-service/internal/requestctx"
)

type recordingProvider struct {
	err        error
	redirected string
}

func (p *recordingProvider) Name() string { return "Fake" }

func (p *recordingProvider) Challenge(w http.ResponseWriter, r *http.Request, redirectURI string) error {
	if p.err != nil {
		return p.err
	}
	p.redirected = redirectURI
	http.Redirect(w, r, "https://idp.example/auth", http.StatusFound)
	return nil
}

func (p *recordingProvider) HandleCallback(http.ResponseWriter, *http.Request) (models.Identity, string, error) {
	return models.Identity{}, "", errors.New("not used")
}

func identityEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			_, _ = w.Write([]byte("anonymous"))
			return
		}
		_, _ = w.Write([]byte(identity.DisplayName()))
	})
}

func TestMiddleware_PopulatesIdentity(t *testing.T) {
	m := newTestSessions(t, nil)
	req := withCookies(httptest.NewRequest(http.MethodGet, "/", nil), signedIn(t, m, alice))
	rec := httptest.NewRecorder()

	Middleware(m)(identityEcho()).ServeHTTP(rec, req)

	assert.Equal(t, "Alice", rec.Body.String())
}

func TestMiddleware_AnonymousWithoutCookie(t *testing.T) {
	m := newTestSessions(t, nil)
	rec := httptest.NewRecorder()

	Middleware(m)(identityEcho()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "anonymous", rec.Body.String())
}

func TestMiddleware_LogsRejectedSession(t *testing.T) {
	m := newTestSessions(t, nil)
	core, logs := observer.New(zap.InfoLevel)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "forecast_session", Value: "garbage"})
	req = req.WithContext(requestctx.WithLogger(req.Context(), zap.New(core)))
	rec := httptest.NewRecorder()

	Middleware(m)(identityEcho()).ServeHTTP(rec, req)

	assert.Equal(t, "anonymous", rec.Body.String())
	entries := logs.FilterMessage("session rejected").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "invalid", entries[0].ContextMap()["reason"])
}

func TestRequireAuthenticated_ChallengesAnonymous(t *testing.T) {
	provider := &recordingProvider{}
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })
	rec := httptest.NewRecorder()

	RequireAuthenticated(provider, nil)(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/secure?x=1", nil))

	assert.False(t, called)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/secure?x=1", provider.redirected)
}

func TestRequireAuthenticated_PassesAuthenticated(t *testing.T) {
	provider := &recordingProvider{}
	req := httptest.NewRequest(http.MethodGet, "/secure", nil)
	req = req.WithContext(WithIdentity(req.Context(), alice))
	rec := httptest.NewRecorder()

	RequireAuthenticated(provider, nil)(identityEcho()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Alice", rec.Body.String())
	assert.Empty(t, provider.redirected)
}

func TestRequireAuthenticated_ChallengeFailure(t *testing.T) {
	provider := &recordingProvider{err: errors.New("boom")}

	rec := httptest.NewRecorder()
	RequireAuthenticated(provider, nil)(identityEcho()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/secure", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var handled error
	rec = httptest.NewRecorder()
	onError := func(w http.ResponseWriter, r *http.Request, err error) {
		handled = err
		w.WriteHeader(http.StatusTeapot)
	}
	RequireAuthenticated(provider, onError)(identityEcho()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/secure", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.EqualError(t, handled, "boom")
}
