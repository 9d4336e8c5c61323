package http

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/forecast-auth-service/internal/circuitbreaker"
	"github.com/kjstillabower/forecast-auth-service/internal/lifecycle"
	"github.com/kjstillabower/forecast-auth-service/internal/observability"
	"github.com/kjstillabower/forecast-auth-service/internal/traffic"
)

// HealthConfig holds lifecycle thresholds for the health handler.
type HealthConfig struct {
	OverloadWindow       time.Duration
	OverloadThresholdPct int
	RateLimitRPS         int // 0 when rate limiter disabled
	DegradedWindow       time.Duration
	DegradedErrorPct     int
	// StorePing, when set, checks session store reachability. Used when the store is memcached.
	StorePing func() error
	// Breaker, when set, reports the identity provider circuit state.
	Breaker interface{ State() circuitbreaker.State }
	Version string
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
//
//	@Summary	Service health
//	@Tags		System
//	@Produce	json
//	@Success	200	{object}	HealthResponse
//	@Failure	503	{object}	HealthResponse
//	@Router		/health [get]
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	checks := h.runChecks()
	result := h.computeHealthStatus(checks)

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	version := "dev"
	if h.healthConfig != nil && h.healthConfig.Version != "" {
		version = h.healthConfig.Version
	}
	writeJSON(w, result.statusCode, HealthResponse{
		Status:    result.status,
		Service:   observability.ServiceName,
		Version:   version,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// runChecks reports each dependency as healthy or unhealthy.
func (h *Handler) runChecks() map[string]string {
	checks := map[string]string{"identityProvider": "healthy"}
	if h.healthConfig == nil {
		return checks
	}
	if b := h.healthConfig.Breaker; b != nil && b.State() == circuitbreaker.StateOpen {
		checks["identityProvider"] = "unhealthy"
	}
	if h.healthConfig.StorePing != nil {
		if h.healthConfig.StorePing() == nil {
			checks["sessionStore"] = "healthy"
		} else {
			checks["sessionStore"] = "unhealthy"
		}
	}
	return checks
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > overloaded > degraded > healthy.
func (h *Handler) computeHealthStatus(checks map[string]string) healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if h.healthConfig == nil {
		return healthResult{"healthy", http.StatusOK, ""}
	}
	cfg := h.healthConfig

	// Overloaded when rate-limited traffic in the window exceeds the configured share of capacity.
	if cfg.RateLimitRPS > 0 && cfg.OverloadWindow > 0 {
		threshold := float64(cfg.RateLimitRPS) * cfg.OverloadWindow.Seconds() * float64(cfg.OverloadThresholdPct) / 100
		if float64(traffic.Admissions.RequestCount(cfg.OverloadWindow)) > threshold {
			return healthResult{"overloaded", http.StatusServiceUnavailable, "overload_threshold"}
		}
	}

	for _, name := range []string{"identityProvider", "sessionStore"} {
		if state, ok := checks[name]; ok && state != "healthy" {
			return healthResult{"degraded", http.StatusServiceUnavailable, name + "_unhealthy"}
		}
	}

	if cfg.DegradedWindow > 0 && cfg.DegradedErrorPct > 0 {
		errs, total := traffic.SignIns.ErrorRate(cfg.DegradedWindow)
		if total > 0 && float64(errs)*100/float64(total) >= float64(cfg.DegradedErrorPct) {
			return healthResult{"degraded", http.StatusServiceUnavailable, "sign_in_error_rate"}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}
