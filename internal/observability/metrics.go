package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kjstillabower/forecast-auth-service/internal/traffic"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency. Watch for: p95/p99 increases on /signin-google (provider slowness).
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation.
	HTTPRequestsInFlight prometheus.Gauge

	// Challenges issued to an identity provider (login and unauthenticated /secure).
	AuthChallengesTotal *prometheus.CounterVec

	// OAuth callback outcomes. Watch for: provider_error or invalid_callback spikes.
	AuthSignInsTotal *prometheus.CounterVec

	// Session cookies issued and revoked.
	SessionsIssuedTotal  prometheus.Counter
	SessionsRevokedTotal prometheus.Counter

	// Session cookies presented but rejected (invalid signature, expired, revoked, store error).
	SessionRejectionsTotal *prometheus.CounterVec

	// Provider API call rate and latency (token exchange excluded; userinfo only).
	ProviderCallsTotal   *prometheus.CounterVec
	ProviderCallDuration *prometheus.HistogramVec

	// Retry attempts against the provider. Watch for: high retries = unstable upstream.
	ProviderRetriesTotal *prometheus.CounterVec

	// Provider errors by stable category.
	ProviderErrorsTotal *prometheus.CounterVec

	// Circuit breaker state per component: 0 closed, 1 open, 2 half-open.
	CircuitBreakerState *prometheus.GaugeVec

	// Circuit breaker transitions per component.
	CircuitBreakerTransitionsTotal *prometheus.CounterVec

	// Forecasts served and the distribution of generated temperatures.
	ForecastsServedTotal       prometheus.Counter
	ForecastTemperatureCelsius prometheus.Histogram

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter

	rateLimitGaugesOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	AuthChallengesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authChallengesTotal",
			Help: "Total number of redirects into an identity provider",
		},
		[]string{"provider"},
	)
	AuthSignInsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authSignInsTotal",
			Help: "OAuth callback outcomes",
		},
		[]string{"provider", "result"},
	)
	SessionsIssuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sessionsIssuedTotal",
			Help: "Total number of session cookies issued",
		},
	)
	SessionsRevokedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sessionsRevokedTotal",
			Help: "Total number of sessions revoked by logout",
		},
	)
	SessionRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessionRejectionsTotal",
			Help: "Session cookies presented but rejected",
		},
		[]string{"reason"},
	)
	ProviderCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "providerCallsTotal",
			Help: "Total number of identity provider API calls",
		},
		[]string{"provider", "status"},
	)
	ProviderCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "providerCallDurationSeconds",
			Help:    "Identity provider API latency in seconds (per call)",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"provider", "status"},
	)
	ProviderRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "providerRetriesTotal",
			Help: "Total number of retry attempts for identity provider calls",
		},
		[]string{"provider"},
	)
	ProviderErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "providerErrorsTotal",
			Help: "Identity provider errors by category",
		},
		[]string{"provider", "category"},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"component"},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions",
		},
		[]string{"component", "from", "to"},
	)
	ForecastsServedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "forecastsServedTotal",
			Help: "Total number of generated forecasts served",
		},
	)
	ForecastTemperatureCelsius = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "forecastTemperatureCelsius",
			Help:    "Distribution of generated forecast temperatures",
			Buckets: prometheus.LinearBuckets(-10, 10, 7),
		},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		AuthChallengesTotal, AuthSignInsTotal,
		SessionsIssuedTotal, SessionsRevokedTotal, SessionRejectionsTotal,
		ProviderCallsTotal, ProviderCallDuration, ProviderRetriesTotal, ProviderErrorsTotal,
		CircuitBreakerState, CircuitBreakerTransitionsTotal,
		ForecastsServedTotal, ForecastTemperatureCelsius,
		RateLimitDeniedTotal,
	)
}

// RegisterRateLimitGauges registers load and rejects gauges for the rate-limited routes.
// Call once after config load with the overload window.
func RegisterRateLimitGauges(window time.Duration) {
	rateLimitGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRequestsInWindow",
					Help: "Requests hitting rate-limited routes in sliding window",
				},
				func() float64 { return float64(traffic.Admissions.RequestCount(window)) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRejectsInWindow",
					Help: "429 responses in sliding window",
				},
				func() float64 { return float64(traffic.Admissions.DenialCount(window)) },
			),
		)
	})
}

// RecordCircuitBreakerTransition counts a transition and updates the state gauge.
func RecordCircuitBreakerTransition(component, from, to string, toValue int) {
	CircuitBreakerTransitionsTotal.WithLabelValues(component, from, to).Inc()
	CircuitBreakerState.WithLabelValues(component).Set(float64(toValue))
}

// RecordForecast records one served forecast and its temperatures.
func RecordForecast(temperaturesC []int) {
	ForecastsServedTotal.Inc()
	for _, c := range temperaturesC {
		ForecastTemperatureCelsius.Observe(float64(c))
	}
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
