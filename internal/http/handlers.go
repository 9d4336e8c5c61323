package http

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/kjstillabower/forecast-auth-service/internal/auth"
	"github.com/kjstillabower/forecast-auth-service/internal/models"
	"github.com/kjstillabower/forecast-auth-service/internal/observability"
	"github.com/kjstillabower/forecast-auth-service/internal/requestctx"
	"github.com/kjstillabower/forecast-auth-service/internal/traffic"
)

// PublicGreeting is the body of GET /.
const PublicGreeting = "Public Endpoint"

// SessionService issues and ends cookie sessions. Implemented by *auth.SessionManager.
type SessionService interface {
	auth.Authenticator
	SignIn(w http.ResponseWriter, identity models.Identity) error
	SignOut(ctx context.Context, w http.ResponseWriter, r *http.Request) error
}

// ForecastSource produces a fresh forecast per call. Implemented by *forecast.Generator.
type ForecastSource interface {
	Generate() []models.ForecastEntry
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	sessions         SessionService
	provider         auth.Provider
	forecasts        ForecastSource
	healthConfig     *HealthConfig
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(
	sessions SessionService,
	provider auth.Provider,
	forecasts ForecastSource,
	healthConfig *HealthConfig,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		sessions:     sessions,
		provider:     provider,
		forecasts:    forecasts,
		healthConfig: healthConfig,
		logger:       logger,
	}
}

// GetPublic handles GET /.
//
//	@Summary	Public greeting
//	@Tags		Greeting
//	@Produce	plain
//	@Success	200	{string}	string	"Public Endpoint"
//	@Router		/ [get]
func (h *Handler) GetPublic(w http.ResponseWriter, r *http.Request) {
	writeText(w, http.StatusOK, PublicGreeting)
}

// GetSecure handles GET /secure. RequireAuthenticated has already challenged anonymous callers.
//
//	@Summary	Greet the signed-in user
//	@Tags		Greeting
//	@Produce	plain
//	@Success	200	{string}	string	"Hello, Alice!"
//	@Failure	302	"Redirect to Google sign-in"
//	@Router		/secure [get]
func (h *Handler) GetSecure(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", "Sign-in required")
		return
	}
	writeText(w, http.StatusOK, "Hello, "+identity.DisplayName()+"!")
}

// GetLogin handles GET /login by challenging the identity provider; the user lands on / afterwards.
//
//	@Summary	Start Google sign-in
//	@Tags		Auth
//	@Success	302	"Redirect to Google"
//	@Failure	429	{object}	ErrorResponse
//	@Router		/login [get]
func (h *Handler) GetLogin(w http.ResponseWriter, r *http.Request) {
	if err := h.provider.Challenge(w, r, "/"); err != nil {
		h.writeChallengeError(w, r, err)
	}
}

// writeChallengeError is the response for a challenge that could not be issued.
func (h *Handler) writeChallengeError(w http.ResponseWriter, r *http.Request, err error) {
	requestctx.Logger(r.Context()).Error("challenge failed", zap.Error(err))
	writeError(w, r, http.StatusInternalServerError, "CHALLENGE_FAILED", "Unable to start sign-in")
}

// GetCallback handles the provider redirect back to the service, signs the user in and
// returns them to the page that started the challenge.
//
//	@Summary	OAuth callback
//	@Tags		Auth
//	@Param		code	query	string	false	"Authorization code"
//	@Param		state	query	string	true	"Opaque state from the challenge"
//	@Param		error	query	string	false	"Error reported by the provider"
//	@Success	302	"Redirect to the original page"
//	@Failure	400	{object}	ErrorResponse
//	@Failure	502	{object}	ErrorResponse
//	@Router		/signin-google [get]
func (h *Handler) GetCallback(w http.ResponseWriter, r *http.Request) {
	logger := requestctx.Logger(r.Context())
	providerName := h.provider.Name()

	identity, redirect, err := h.provider.HandleCallback(w, r)
	if err != nil {
		result, status, code, message := callbackFailure(err)
		observability.AuthSignInsTotal.WithLabelValues(providerName, result).Inc()
		if result == "provider_error" {
			traffic.SignIns.RecordError()
			logger.Warn("sign-in failed", zap.String("provider", providerName), zap.Error(err))
		} else {
			logger.Info("sign-in rejected", zap.String("provider", providerName), zap.String("result", result), zap.Error(err))
		}
		writeError(w, r, status, code, message)
		return
	}

	if err := h.sessions.SignIn(w, identity); err != nil {
		observability.AuthSignInsTotal.WithLabelValues(providerName, "session_error").Inc()
		logger.Error("issue session failed", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "SESSION_FAILED", "Unable to create session")
		return
	}

	traffic.SignIns.RecordSuccess()
	observability.AuthSignInsTotal.WithLabelValues(providerName, "success").Inc()
	logger.Info("user signed in",
		zap.String("provider", providerName),
		zap.String("subject", identity.Subject),
	)
	http.Redirect(w, r, redirect, http.StatusFound)
}

// callbackFailure maps a callback error to its metric result and HTTP error.
func callbackFailure(err error) (result string, status int, code, message string) {
	switch {
	case errors.Is(err, auth.ErrProviderDenied):
		return "denied", http.StatusBadRequest, "ACCESS_DENIED", "Sign-in was cancelled or denied"
	case errors.Is(err, auth.ErrInvalidState), errors.Is(err, auth.ErrMissingCode), errors.Is(err, auth.ErrCodeRejected):
		return "invalid_callback", http.StatusBadRequest, "INVALID_CALLBACK", "Sign-in callback is invalid or expired"
	default:
		return "provider_error", http.StatusBadGateway, "PROVIDER_UNAVAILABLE", "Identity provider is unavailable"
	}
}

// GetLogout handles GET /logout: ends the session and redirects to /.
//
//	@Summary	Sign out
//	@Tags		Auth
//	@Success	302	"Redirect to /"
//	@Router		/logout [get]
func (h *Handler) GetLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.SignOut(r.Context(), w, r); err != nil {
		requestctx.Logger(r.Context()).Error("sign-out revocation failed", zap.Error(err))
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

// GetWeatherForecast handles GET /weatherforecast.
//
//	@Summary	Five-day dummy forecast
//	@Tags		Forecast
//	@ID			GetWeatherForecast
//	@Produce	json
//	@Success	200	{array}		models.ForecastEntry
//	@Failure	429	{object}	ErrorResponse
//	@Router		/weatherforecast [get]
func (h *Handler) GetWeatherForecast(w http.ResponseWriter, r *http.Request) {
	entries := h.forecasts.Generate()

	temps := make([]int, len(entries))
	for i, e := range entries {
		temps[i] = e.TemperatureC
	}
	observability.RecordForecast(temps)

	writeJSON(w, http.StatusOK, entries)
}
