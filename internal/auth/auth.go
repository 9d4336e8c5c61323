// Package auth implements cookie sessions and the Google OAuth 2.0 login flow
// behind a middleware chain for gorilla/mux.
package auth

import (
	"errors"
	"net/http"

	"github.com/kjstillabower/forecast-auth-service/internal/models"
)

var (
	ErrNoSession           = errors.New("no session")
	ErrInvalidSession      = errors.New("invalid session")
	ErrRevokedSession      = errors.New("session revoked")
	ErrInvalidState        = errors.New("invalid oauth state")
	ErrMissingCode         = errors.New("missing authorization code")
	ErrCodeRejected        = errors.New("authorization code rejected")
	ErrProviderDenied      = errors.New("provider denied access")
	ErrProviderUnavailable = errors.New("provider unavailable")
)

// Provider is a remote identity provider reached through a browser redirect.
type Provider interface {
	// Name is the authentication scheme name, e.g. "Google".
	Name() string
	// Challenge redirects the browser to the provider. redirectURI is where the user
	// lands after a successful sign-in.
	Challenge(w http.ResponseWriter, r *http.Request, redirectURI string) error
	// HandleCallback completes the flow on the provider's redirect back to the service.
	HandleCallback(w http.ResponseWriter, r *http.Request) (models.Identity, string, error)
}

// Authenticator resolves the identity carried by a request.
type Authenticator interface {
	Authenticate(r *http.Request) (models.Identity, error)
}
