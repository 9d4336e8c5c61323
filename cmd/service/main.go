// Command service runs the forecast API with Google sign-in.
//
//	@title		My API
//	@version	v1
//	@BasePath	/
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/forecast-auth-service/internal/auth"
	"github.com/kjstillabower/forecast-auth-service/internal/circuitbreaker"
	"github.com/kjstillabower/forecast-auth-service/internal/client"
	"github.com/kjstillabower/forecast-auth-service/internal/config"
	"github.com/kjstillabower/forecast-auth-service/internal/forecast"
	httphandler "github.com/kjstillabower/forecast-auth-service/internal/http"
	"github.com/kjstillabower/forecast-auth-service/internal/lifecycle"
	"github.com/kjstillabower/forecast-auth-service/internal/observability"
	"github.com/kjstillabower/forecast-auth-service/internal/sessionstore"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const providerComponent = "google_userinfo"

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	app := fx.New(appOptions(cfg, logger))

	startCtx, cancelStart := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelStart()
	if err := app.Start(startCtx); err != nil {
		logger.Fatal("start", zap.Error(err))
	}

	sig := <-app.Wait()
	logger.Info("graceful shutdown triggered", zap.String("signal", sig.String()))

	stopCtx, cancelStop := context.WithTimeout(context.Background(), cfg.ShutdownTimeout+cfg.InFlightTimeout)
	defer cancelStop()
	if err := app.Stop(stopCtx); err != nil {
		logger.Error("shutdown", zap.Error(err))
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		fmt.Fprintf(os.Stderr, "telemetry flush: %v\n", err)
	}
}

// appOptions assembles the dependency graph. main and the wiring tests share it.
func appOptions(cfg *config.Config, logger *zap.Logger) fx.Option {
	return fx.Options(
		fx.Supply(cfg, logger),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
		fx.StopTimeout(cfg.ShutdownTimeout+cfg.InFlightTimeout),
		fx.Provide(
			newSessionStore,
			newBreaker,
			newProfileClient,
			newGoogleProvider,
			newSessionManager,
			newForecastGenerator,
			newRateLimiter,
			newHealthConfig,
			newHandler,
			newRouter,
			newHTTPServer,
		),
		fx.Invoke(func(*http.Server) {}),
	)
}

func newSessionStore(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) sessionstore.Store {
	if cfg.SessionStore != config.SessionStoreMemcached {
		logger.Info("session store: in_memory")
		return sessionstore.NewInMemoryStore()
	}
	mc := sessionstore.NewMemcachedStore(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			if err := mc.Close(); err != nil {
				logger.Error("memcached close", zap.Error(err))
			}
			return nil
		},
	})
	logger.Info("session store: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	return mc
}

// newBreaker returns nil when the breaker is disabled.
func newBreaker(cfg *config.Config, logger *zap.Logger) *circuitbreaker.CircuitBreaker {
	if !cfg.CircuitBreakerEnabled {
		return nil
	}
	cb := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.CircuitBreakerFailureThreshold,
		SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
		Timeout:          cfg.CircuitBreakerTimeout,
		Component:        providerComponent,
		OnStateChange: func(component string, from, to circuitbreaker.State) {
			observability.RecordCircuitBreakerTransition(component, from.String(), to.String(), int(to))
			logger.Warn("circuit breaker transition",
				zap.String("component", component),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	observability.CircuitBreakerState.WithLabelValues(providerComponent).Set(0)
	logger.Info("circuit breaker enabled",
		zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold),
		zap.Duration("timeout", cfg.CircuitBreakerTimeout),
	)
	return cb
}

func newProfileClient(cfg *config.Config, breaker *circuitbreaker.CircuitBreaker) (*client.UserInfoClient, error) {
	return client.NewUserInfoClient(
		auth.GoogleScheme,
		cfg.GoogleUserInfoURL,
		cfg.OAuthTimeout,
		client.RetryConfig{
			Attempts:  cfg.RetryAttempts,
			BaseDelay: cfg.RetryBaseDelay,
			MaxDelay:  cfg.RetryMaxDelay,
		},
		breaker,
	)
}

func newGoogleProvider(cfg *config.Config, profiles *client.UserInfoClient) (*auth.GoogleProvider, error) {
	return auth.NewGoogleProvider(auth.GoogleConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		CallbackURL:  cfg.CallbackURL(),
		Scopes:       cfg.GoogleScopes,
		AuthURL:      cfg.GoogleAuthURL,
		TokenURL:     cfg.GoogleTokenURL,
		Timeout:      cfg.OAuthTimeout,
		Secret:       []byte(cfg.SessionSecret),
		SecureCookie: cfg.SessionSecureCookie,
	}, profiles)
}

func newSessionManager(cfg *config.Config, store sessionstore.Store) (*auth.SessionManager, error) {
	return auth.NewSessionManager(auth.SessionConfig{
		Secret:     []byte(cfg.SessionSecret),
		CookieName: cfg.SessionCookieName,
		TTL:        cfg.SessionTTL,
		Secure:     cfg.SessionSecureCookie,
	}, store)
}

func newForecastGenerator() *forecast.Generator {
	return forecast.NewGenerator()
}

// newRateLimiter returns nil when rate limiting is disabled.
func newRateLimiter(cfg *config.Config) *rate.Limiter {
	if cfg.RateLimitRPS <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
}

func newHealthConfig(cfg *config.Config, store sessionstore.Store, breaker *circuitbreaker.CircuitBreaker) *httphandler.HealthConfig {
	hc := &httphandler.HealthConfig{
		OverloadWindow:       cfg.OverloadWindow,
		OverloadThresholdPct: cfg.OverloadThresholdPct,
		RateLimitRPS:         cfg.RateLimitRPS,
		DegradedWindow:       cfg.DegradedWindow,
		DegradedErrorPct:     cfg.DegradedErrorPct,
		Version:              version,
	}
	if p, ok := store.(sessionstore.Pinger); ok {
		hc.StorePing = p.Ping
	}
	if breaker != nil {
		hc.Breaker = breaker
	}
	return hc
}

func newHandler(
	sessions *auth.SessionManager,
	provider *auth.GoogleProvider,
	forecasts *forecast.Generator,
	healthConfig *httphandler.HealthConfig,
	logger *zap.Logger,
) *httphandler.Handler {
	return httphandler.NewHandler(sessions, provider, forecasts, healthConfig, logger)
}

func newRouter(
	cfg *config.Config,
	handler *httphandler.Handler,
	sessions *auth.SessionManager,
	provider *auth.GoogleProvider,
	limiter *rate.Limiter,
	logger *zap.Logger,
) http.Handler {
	if cfg.SwaggerEnabled {
		logger.Warn("swagger UI exposed at /swagger/index.html")
	}
	return httphandler.NewRouter(httphandler.RouterConfig{
		Handler:        handler,
		Sessions:       sessions,
		Provider:       provider,
		Logger:         logger,
		RateLimiter:    limiter,
		RequestTimeout: cfg.RequestTimeout,
		CallbackPath:   cfg.GoogleCallbackPath,
		HTTPSRedirect:  cfg.HTTPSRedirect,
		SwaggerEnabled: cfg.SwaggerEnabled,
		CORS: httphandler.CORSConfig{
			AllowedOrigins: cfg.CORSAllowedOrigins,
			AllowedMethods: cfg.CORSAllowedMethods,
			AllowedHeaders: cfg.CORSAllowedHeaders,
		},
	})
}

func newHTTPServer(lc fx.Lifecycle, cfg *config.Config, router http.Handler, logger *zap.Logger) *http.Server {
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", srv.Addr, err)
			}
			observability.RegisterRateLimitGauges(cfg.OverloadWindow)
			lifecycle.SetPhase(lifecycle.PhaseServing)
			logger.Info("server starting", zap.String("addr", ln.Addr().String()), zap.String("env", cfg.Env))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			lifecycle.SetPhase(lifecycle.PhaseDraining)
			shutdownCtx, cancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("server shutdown", zap.Error(err))
			}

			inFlight := httphandler.InFlightCount()
			logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight))
			waitCtx, waitCancel := context.WithTimeout(ctx, cfg.InFlightTimeout)
			defer waitCancel()
			if err := httphandler.WaitForInFlight(waitCtx, cfg.InFlightCheckInterval); err != nil {
				logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
			}
			lifecycle.SetPhase(lifecycle.PhaseStopped)
			logger.Info("shutdown complete")
			return nil
		},
	})
	return srv
}
