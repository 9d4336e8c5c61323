package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/kjstillabower/forecast-auth-service/internal/models"
	"github.com/kjstillabower/forecast-auth-service/internal/sessionstore"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type fakeProfiles struct {
	identity models.Identity
	err      error
	token    string
}

func (f *fakeProfiles) FetchProfile(_ context.Context, token *oauth2.Token) (models.Identity, error) {
	f.token = token.AccessToken
	return f.identity, f.err
}

type failingStore struct{ err error }

func (s failingStore) Revoke(context.Context, string, time.Duration) error { return s.err }
func (s failingStore) IsRevoked(context.Context, string) (bool, error)     { return false, s.err }

func newTestSessions(t *testing.T, now func() time.Time) *SessionManager {
	t.Helper()
	m, err := NewSessionManager(SessionConfig{
		Secret:     testSecret,
		CookieName: "forecast_session",
		TTL:        time.Hour,
		Now:        now,
	}, sessionstore.NewInMemoryStore())
	require.NoError(t, err)
	return m
}

// withCookies copies the cookies set on rec onto req.
func withCookies(req *http.Request, rec *httptest.ResponseRecorder) *http.Request {
	for _, c := range rec.Result().Cookies() {
		if c.MaxAge >= 0 && c.Value != "" {
			req.AddCookie(c)
		}
	}
	return req
}
