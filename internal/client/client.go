package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/kjstillabower/forecast-auth-service/internal/circuitbreaker"
	"github.com/kjstillabower/forecast-auth-service/internal/models"
	"github.com/kjstillabower/forecast-auth-service/internal/observability"
	"github.com/kjstillabower/forecast-auth-service/internal/requestctx"
)

// DefaultUserInfoURL is Google's OpenID Connect userinfo endpoint.
const DefaultUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"

// ProfileClient fetches the signed-in user's profile with an access token from the code exchange.
type ProfileClient interface {
	FetchProfile(ctx context.Context, token *oauth2.Token) (models.Identity, error)
}

var (
	ErrUnauthorized    = errors.New("access token rejected")
	ErrRateLimited     = errors.New("rate limited")
	ErrUpstreamFailure = errors.New("upstream failure")
	ErrInvalidProfile  = errors.New("invalid profile")
)

// RetryConfig controls retries of transient userinfo failures.
type RetryConfig struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// UserInfoClient calls an OpenID Connect userinfo endpoint with retry and an optional circuit breaker.
type UserInfoClient struct {
	provider string
	url      string
	timeout  time.Duration
	client   *http.Client
	retry    RetryConfig
	breaker  *circuitbreaker.CircuitBreaker
}

// NewUserInfoClient returns a client for the userinfo endpoint at url. breaker may be nil.
func NewUserInfoClient(provider, url string, timeout time.Duration, retry RetryConfig, breaker *circuitbreaker.CircuitBreaker) (*UserInfoClient, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("userinfo url is required")
	}
	if timeout <= 0 {
		return nil, errors.New("userinfo timeout must be positive")
	}
	if retry.Attempts <= 0 {
		retry.Attempts = 1
	}
	return &UserInfoClient{
		provider: provider,
		url:      url,
		timeout:  timeout,
		client:   &http.Client{Timeout: timeout},
		retry:    retry,
		breaker:  breaker,
	}, nil
}

type userInfoResponse struct {
	Sub   string `json:"sub"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (c *UserInfoClient) FetchProfile(ctx context.Context, token *oauth2.Token) (models.Identity, error) {
	if token == nil || token.AccessToken == "" {
		return models.Identity{}, fmt.Errorf("%w: missing access token", ErrUnauthorized)
	}

	var lastErr error
	for attempt := 0; attempt < c.retry.Attempts; attempt++ {
		if attempt > 0 {
			observability.ProviderRetriesTotal.WithLabelValues(c.provider).Inc()
			delay := c.calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return models.Identity{}, ctx.Err()
			case <-time.After(delay):
			}
		}

		identity, err := c.callProtected(ctx, token)
		if err == nil {
			return identity, nil
		}

		lastErr = err
		observability.ProviderErrorsTotal.WithLabelValues(c.provider, string(CategorizeError(err))).Inc()
		if !isRetryable(err) || ctx.Err() != nil {
			return models.Identity{}, err
		}
	}

	return models.Identity{}, fmt.Errorf("exhausted retries: %w", lastErr)
}

func (c *UserInfoClient) callProtected(ctx context.Context, token *oauth2.Token) (models.Identity, error) {
	if c.breaker == nil {
		return c.callAPI(ctx, token)
	}
	var (
		identity models.Identity
		callErr  error
	)
	err := c.breaker.Call(ctx, func() error {
		identity, callErr = c.callAPI(ctx, token)
		// A rejected token or a malformed profile says nothing about provider health.
		if errors.Is(callErr, ErrUnauthorized) || errors.Is(callErr, ErrInvalidProfile) {
			return nil
		}
		return callErr
	})
	if err != nil {
		return models.Identity{}, err
	}
	if callErr != nil {
		return models.Identity{}, callErr
	}
	return identity, nil
}

func (c *UserInfoClient) callAPI(ctx context.Context, token *oauth2.Token) (models.Identity, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.url, nil)
	if err != nil {
		observability.ProviderCallsTotal.WithLabelValues(c.provider, "error").Inc()
		return models.Identity{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	token.SetAuthHeader(req)
	if corrID := requestctx.CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		duration := time.Since(start).Seconds()
		observability.ProviderCallsTotal.WithLabelValues(c.provider, "error").Inc()
		observability.ProviderCallDuration.WithLabelValues(c.provider, "error").Observe(duration)

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return models.Identity{}, fmt.Errorf("request timeout: %w", err)
		}
		return models.Identity{}, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	duration := time.Since(start).Seconds()
	status := statusLabel(resp.StatusCode)
	observability.ProviderCallsTotal.WithLabelValues(c.provider, status).Inc()
	observability.ProviderCallDuration.WithLabelValues(c.provider, status).Observe(duration)

	if err := handleErrorResponse(resp); err != nil {
		return models.Identity{}, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return models.Identity{}, fmt.Errorf("read response body: %w", err)
	}

	var payload userInfoResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return models.Identity{}, fmt.Errorf("%w: parse response: %v", ErrInvalidProfile, err)
	}
	if strings.TrimSpace(payload.Sub) == "" {
		return models.Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidProfile)
	}

	return models.Identity{
		Subject:  payload.Sub,
		Name:     strings.TrimSpace(payload.Name),
		Email:    payload.Email,
		Provider: c.provider,
	}, nil
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstreamFailure) {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "timeout") || strings.Contains(errStr, "context deadline exceeded")
}

func (c *UserInfoClient) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.retry.BaseDelay) * math.Pow(2, float64(attempt-1))
	if c.retry.MaxDelay > 0 && delay > float64(c.retry.MaxDelay) {
		delay = float64(c.retry.MaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func handleErrorResponse(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d", ErrUnauthorized, resp.StatusCode)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w", ErrRateLimited)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}
	return nil
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
