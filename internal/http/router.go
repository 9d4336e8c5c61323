package http

import (
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/forecast-auth-service/internal/auth"
	_ "github.com/kjstillabower/forecast-auth-service/internal/docs" // registers the swagger spec
	"github.com/kjstillabower/forecast-auth-service/internal/observability"
)

// ForecastRouteName names the forecast route and its OpenAPI operation.
const ForecastRouteName = "GetWeatherForecast"

// CORSConfig lists what cross-origin callers may use. "*" allows everything.
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// RouterConfig holds the dependencies and switches for NewRouter.
type RouterConfig struct {
	Handler        *Handler
	Sessions       auth.Authenticator
	Provider       auth.Provider
	Logger         *zap.Logger
	RateLimiter    *rate.Limiter
	RequestTimeout time.Duration
	CallbackPath   string
	HTTPSRedirect  bool
	SwaggerEnabled bool
	CORS           CORSConfig
}

// allMethods replaces a "*" entry in the allowed methods list.
var allMethods = []string{
	http.MethodGet,
	http.MethodHead,
	http.MethodPost,
	http.MethodPut,
	http.MethodPatch,
	http.MethodDelete,
	http.MethodOptions,
}

// NewRouter builds the route table and wraps it in the CORS policy.
func NewRouter(cfg RouterConfig) http.Handler {
	return cors.New(corsOptions(cfg.CORS)).Handler(newMuxRouter(cfg))
}

func newMuxRouter(cfg RouterConfig) *mux.Router {
	h := cfg.Handler
	callbackPath := cfg.CallbackPath
	if callbackPath == "" {
		callbackPath = "/signin-google"
	}

	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(cfg.Logger))
	router.Use(MetricsMiddleware)
	router.Use(HTTPSRedirectMiddleware(cfg.HTTPSRedirect))
	router.Use(auth.Middleware(cfg.Sessions))

	rateLimit := RateLimitMiddleware(cfg.RateLimiter)
	requireAuth := auth.RequireAuthenticated(cfg.Provider, h.writeChallengeError)

	router.HandleFunc("/", h.GetPublic).Methods(http.MethodGet)
	router.Handle("/secure", requireAuth(http.HandlerFunc(h.GetSecure))).Methods(http.MethodGet)
	router.Handle("/login", rateLimit(http.HandlerFunc(h.GetLogin))).Methods(http.MethodGet)
	router.Handle(callbackPath, TimeoutMiddleware(cfg.RequestTimeout)(http.HandlerFunc(h.GetCallback))).Methods(http.MethodGet)
	router.HandleFunc("/logout", h.GetLogout).Methods(http.MethodGet)
	router.Handle("/weatherforecast", rateLimit(http.HandlerFunc(h.GetWeatherForecast))).
		Methods(http.MethodGet).
		Name(ForecastRouteName)
	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	if cfg.SwaggerEnabled {
		router.PathPrefix("/swagger/").Handler(httpSwagger.Handler(
			httpSwagger.URL("/swagger/doc.json"),
		)).Methods(http.MethodGet)
	}

	return router
}

func corsOptions(c CORSConfig) cors.Options {
	origins := orWildcard(c.AllowedOrigins)
	methods := c.AllowedMethods
	if len(methods) == 0 || slices.Contains(methods, "*") {
		methods = allMethods
	}
	return cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: methods,
		AllowedHeaders: orWildcard(c.AllowedHeaders),
		ExposedHeaders: []string{correlationHeader},
	}
}

func orWildcard(values []string) []string {
	if len(values) == 0 {
		return []string{"*"}
	}
	return values
}
