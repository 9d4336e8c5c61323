package auth

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/forecast-auth-service/internal/observability"
	"github.com/kjstillabower/forecast-auth-service/internal/requestctx"
)

// Middleware resolves the session on every request and stores the identity in the context.
// Requests without a usable session continue anonymously.
func Middleware(sessions Authenticator) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := sessions.Authenticate(r)
			if err == nil {
				next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
				return
			}
			if !errors.Is(err, ErrNoSession) {
				reason := rejectionReason(err)
				observability.SessionRejectionsTotal.WithLabelValues(reason).Inc()
				requestctx.Logger(r.Context()).Info("session rejected",
					zap.String("reason", reason),
					zap.Error(err),
				)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAuthenticated challenges anonymous requests through provider, returning the user
// to the current URL after sign-in. onError handles a failed challenge; nil writes a plain 500.
func RequireAuthenticated(provider Provider, onError func(http.ResponseWriter, *http.Request, error)) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := IdentityFromContext(r.Context()); ok {
				next.ServeHTTP(w, r)
				return
			}
			if err := provider.Challenge(w, r, r.URL.RequestURI()); err != nil {
				requestctx.Logger(r.Context()).Error("authentication challenge failed",
					zap.String("provider", provider.Name()),
					zap.Error(err),
				)
				if onError != nil {
					onError(w, r, err)
					return
				}
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
		})
	}
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrRevokedSession):
		return "revoked"
	case errors.Is(err, ErrInvalidSession):
		return "invalid"
	default:
		return "store_error"
	}
}
