package auth

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjstillabower/forecast-auth-service/internal/models"
)

// fakeGoogle is a token endpoint that checks the PKCE verifier against the challenge
// captured from the authorization redirect.
type fakeGoogle struct {
	mu        sync.Mutex
	challenge string
	status    int
	form      url.Values
}

func (f *fakeGoogle) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = r.ParseForm()
	f.form = r.PostForm

	w.Header().Set("Content-Type", "application/json")
	if f.status != 0 {
		w.WriteHeader(f.status)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
		return
	}
	sum := sha256.Sum256([]byte(r.PostForm.Get("code_verifier")))
	if base64.RawURLEncoding.EncodeToString(sum[:]) != f.challenge {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token": "access-123",
		"token_type":   "Bearer",
		"expires_in":   3600,
	})
}

func newTestGoogle(t *testing.T, profiles *fakeProfiles) (*GoogleProvider, *fakeGoogle) {
	t.Helper()
	fake := &fakeGoogle{}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	p, err := NewGoogleProvider(GoogleConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		CallbackURL:  "http://localhost:8080/signin-google",
		Scopes:       []string{"openid", "profile", "email"},
		AuthURL:      server.URL + "/auth",
		TokenURL:     server.URL + "/token",
		Secret:       testSecret,
	}, profiles)
	require.NoError(t, err)
	return p, fake
}

// challenge runs Challenge and returns the recorder and the authorization URL query.
func challenge(t *testing.T, p *GoogleProvider, fake *fakeGoogle, redirect string) (*httptest.ResponseRecorder, url.Values) {
	t.Helper()
	rec := httptest.NewRecorder()
	require.NoError(t, p.Challenge(rec, httptest.NewRequest(http.MethodGet, "/login", nil), redirect))
	require.Equal(t, http.StatusFound, rec.Code)

	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	query := location.Query()
	fake.mu.Lock()
	fake.challenge = query.Get("code_challenge")
	fake.mu.Unlock()
	return rec, query
}

func callbackRequest(rec *httptest.ResponseRecorder, query string) *http.Request {
	return withCookies(httptest.NewRequest(http.MethodGet, "/signin-google?"+query, nil), rec)
}

func TestNewGoogleProvider_Validation(t *testing.T) {
	base := GoogleConfig{ClientID: "id", ClientSecret: "secret", CallbackURL: "http://localhost/signin-google", Secret: testSecret}

	missingID := base
	missingID.ClientID = ""
	_, err := NewGoogleProvider(missingID, &fakeProfiles{})
	assert.Error(t, err)

	relative := base
	relative.CallbackURL = "/signin-google"
	_, err = NewGoogleProvider(relative, &fakeProfiles{})
	assert.Error(t, err)

	_, err = NewGoogleProvider(base, nil)
	assert.Error(t, err)

	p, err := NewGoogleProvider(base, &fakeProfiles{})
	require.NoError(t, err)
	assert.Equal(t, "Google", p.Name())
	assert.Contains(t, p.oauth.Endpoint.AuthURL, "accounts.google.com")
}

func TestChallenge_RedirectsWithPKCE(t *testing.T) {
	p, fake := newTestGoogle(t, &fakeProfiles{})
	rec, query := challenge(t, p, fake, "/")

	location := rec.Header().Get("Location")
	assert.Contains(t, location, "/auth?")
	assert.Equal(t, "client-id", query.Get("client_id"))
	assert.Equal(t, "code", query.Get("response_type"))
	assert.Equal(t, "http://localhost:8080/signin-google", query.Get("redirect_uri"))
	assert.Equal(t, "openid profile email", query.Get("scope"))
	assert.Equal(t, "S256", query.Get("code_challenge_method"))
	assert.NotEmpty(t, query.Get("code_challenge"))
	assert.NotEmpty(t, query.Get("state"))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, correlationCookieName, cookies[0].Name)
	assert.Equal(t, "/signin-google", cookies[0].Path)
	assert.True(t, cookies[0].HttpOnly)
}

func TestChallenge_FreshStatePerCall(t *testing.T) {
	p, fake := newTestGoogle(t, &fakeProfiles{})
	_, first := challenge(t, p, fake, "/")
	_, second := challenge(t, p, fake, "/")
	assert.NotEqual(t, first.Get("state"), second.Get("state"))
	assert.NotEqual(t, first.Get("code_challenge"), second.Get("code_challenge"))
}

func TestHandleCallback_Success(t *testing.T) {
	profiles := &fakeProfiles{identity: models.Identity{Subject: "1089", Name: "Alice"}}
	p, fake := newTestGoogle(t, profiles)
	rec, query := challenge(t, p, fake, "/secure")

	out := httptest.NewRecorder()
	identity, redirect, err := p.HandleCallback(out, callbackRequest(rec, "code=abc&state="+query.Get("state")))
	require.NoError(t, err)

	assert.Equal(t, "Alice", identity.Name)
	assert.Equal(t, "Google", identity.Provider)
	assert.Equal(t, "/secure", redirect)
	assert.Equal(t, "access-123", profiles.token)
	assert.Equal(t, "abc", fake.form.Get("code"))
	assert.Equal(t, "client-id", fake.form.Get("client_id"))

	cleared := out.Result().Cookies()
	require.Len(t, cleared, 1)
	assert.Equal(t, -1, cleared[0].MaxAge)
}

func TestHandleCallback_UnsafeRedirectFallsBackToRoot(t *testing.T) {
	p, fake := newTestGoogle(t, &fakeProfiles{identity: models.Identity{Subject: "1"}})
	rec, query := challenge(t, p, fake, "https://evil.example/")

	_, redirect, err := p.HandleCallback(httptest.NewRecorder(), callbackRequest(rec, "code=abc&state="+query.Get("state")))
	require.NoError(t, err)
	assert.Equal(t, "/", redirect)
}

func TestHandleCallback_Errors(t *testing.T) {
	tests := []struct {
		name        string
		query       func(state string) string
		noCookie    bool
		tokenStatus int
		profileErr  error
		want        error
	}{
		{"provider denied", func(string) string { return "error=access_denied" }, false, 0, nil, ErrProviderDenied},
		{"state mismatch", func(string) string { return "code=abc&state=forged" }, false, 0, nil, ErrInvalidState},
		{"missing state", func(string) string { return "code=abc" }, false, 0, nil, ErrInvalidState},
		{"missing cookie", func(s string) string { return "code=abc&state=" + s }, true, 0, nil, ErrInvalidState},
		{"missing code", func(s string) string { return "state=" + s }, false, 0, nil, ErrMissingCode},
		{"code rejected", func(s string) string { return "code=abc&state=" + s }, false, http.StatusBadRequest, nil, ErrCodeRejected},
		{"token endpoint down", func(s string) string { return "code=abc&state=" + s }, false, http.StatusServiceUnavailable, nil, ErrProviderUnavailable},
		{"profile failure", func(s string) string { return "code=abc&state=" + s }, false, 0, errors.New("userinfo 503"), ErrProviderUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, fake := newTestGoogle(t, &fakeProfiles{identity: models.Identity{Subject: "1"}, err: tt.profileErr})
			fake.status = tt.tokenStatus
			rec, query := challenge(t, p, fake, "/")

			req := httptest.NewRequest(http.MethodGet, "/signin-google?"+tt.query(query.Get("state")), nil)
			if !tt.noCookie {
				req = callbackRequest(rec, tt.query(query.Get("state")))
			}

			_, _, err := p.HandleCallback(httptest.NewRecorder(), req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

// TestHandleCallback_CorrelationCookieSingleUse verifies the callback clears the correlation
// cookie, so a replayed callback without it fails.
func TestHandleCallback_CorrelationCookieSingleUse(t *testing.T) {
	p, fake := newTestGoogle(t, &fakeProfiles{identity: models.Identity{Subject: "1"}})
	rec, query := challenge(t, p, fake, "/")
	q := "code=abc&state=" + query.Get("state")

	first := httptest.NewRecorder()
	_, _, err := p.HandleCallback(first, callbackRequest(rec, q))
	require.NoError(t, err)

	replay := withCookies(httptest.NewRequest(http.MethodGet, "/signin-google?"+q, nil), first)
	_, _, err = p.HandleCallback(httptest.NewRecorder(), replay)
	assert.ErrorIs(t, err, ErrInvalidState)
}
