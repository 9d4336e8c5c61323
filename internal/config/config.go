package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Session store backends.
const (
	SessionStoreInMemory  = "in_memory"
	SessionStoreMemcached = "memcached"
)

// MinSessionSecretLength matches the HMAC key length required by the session signer.
const MinSessionSecretLength = 32

// Config holds service configuration loaded from YAML and env.
type Config struct {
	Env string

	ServerPort     string
	PublicURL      string
	HTTPSRedirect  bool
	RequestTimeout time.Duration

	GoogleClientID     string
	GoogleClientSecret string
	GoogleCallbackPath string
	GoogleScopes       []string
	GoogleAuthURL      string
	GoogleTokenURL     string
	GoogleUserInfoURL  string

	OAuthTimeout   time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold int
	CircuitBreakerSuccessThreshold int
	CircuitBreakerTimeout          time.Duration

	SessionSecret       string
	SessionCookieName   string
	SessionTTL          time.Duration
	SessionSecureCookie bool
	SessionStore        string // "in_memory" or "memcached"

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	CORSAllowedOrigins []string
	CORSAllowedMethods []string
	CORSAllowedHeaders []string

	RateLimitRPS   int
	RateLimitBurst int

	SwaggerEnabled bool

	ShutdownTimeout       time.Duration
	InFlightTimeout       time.Duration
	InFlightCheckInterval time.Duration

	OverloadWindow       time.Duration
	OverloadThresholdPct int
	DegradedWindow       time.Duration
	DegradedErrorPct     int
}

// CallbackURL is the absolute OAuth redirect_uri registered with Google.
func (c *Config) CallbackURL() string {
	return strings.TrimRight(c.PublicURL, "/") + c.GoogleCallbackPath
}

// IsDevelopment reports whether the service runs in a development environment.
func (c *Config) IsDevelopment() bool {
	switch strings.ToLower(c.Env) {
	case "dev", "development":
		return true
	default:
		return false
	}
}

type fileConfig struct {
	Server struct {
		Port          string `yaml:"port"`
		PublicURL     string `yaml:"public_url"`
		HTTPSRedirect *bool  `yaml:"https_redirect"`
	} `yaml:"server"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	OAuth struct {
		Google struct {
			ClientID     string   `yaml:"client_id"`
			ClientSecret string   `yaml:"client_secret"`
			CallbackPath string   `yaml:"callback_path"`
			Scopes       []string `yaml:"scopes"`
			AuthURL      string   `yaml:"auth_url"`
			TokenURL     string   `yaml:"token_url"`
			UserInfoURL  string   `yaml:"userinfo_url"`
		} `yaml:"google"`
		Timeout          string `yaml:"timeout"`
		RetryMaxAttempts int    `yaml:"retry_max_attempts"`
		RetryBaseDelay   string `yaml:"retry_base_delay"`
		RetryMaxDelay    string `yaml:"retry_max_delay"`
		CircuitBreaker   struct {
			Enabled          *bool  `yaml:"enabled"`
			FailureThreshold int    `yaml:"failure_threshold"`
			SuccessThreshold int    `yaml:"success_threshold"`
			Timeout          string `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"oauth"`

	Session struct {
		Secret       string `yaml:"secret"`
		CookieName   string `yaml:"cookie_name"`
		TTL          string `yaml:"ttl"`
		SecureCookie *bool  `yaml:"secure_cookie"`
		Store        string `yaml:"store"`
		Memcached    struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"session"`

	CORS struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
		AllowedMethods []string `yaml:"allowed_methods"`
		AllowedHeaders []string `yaml:"allowed_headers"`
	} `yaml:"cors"`

	Reliability struct {
		RateLimitRPS   int `yaml:"rate_limit_rps"`
		RateLimitBurst int `yaml:"rate_limit_burst"`
	} `yaml:"reliability"`

	Swagger struct {
		Enabled *bool `yaml:"enabled"`
	} `yaml:"swagger"`

	Shutdown struct {
		Timeout               string `yaml:"timeout"`
		InFlightTimeout       string `yaml:"in_flight_timeout"`
		InFlightCheckInterval string `yaml:"in_flight_check_interval"`
	} `yaml:"shutdown"`

	Lifecycle struct {
		OverloadWindow       string `yaml:"overload_window"`
		OverloadThresholdPct int    `yaml:"overload_threshold_pct"`
		DegradedWindow       string `yaml:"degraded_window"`
		DegradedErrorPct     int    `yaml:"degraded_error_pct"`
	} `yaml:"lifecycle"`
}

type secretsFile struct {
	GoogleClientID     string `yaml:"google_client_id"`
	GoogleClientSecret string `yaml:"google_client_secret"`
	SessionSecret      string `yaml:"session_secret"`
}

// envOverrides are environment variables that win over both YAML files. Nil means unset.
type envOverrides struct {
	EnvName             string  `env:"ENV_NAME" envDefault:"dev"`
	Port                *string `env:"PORT"`
	PublicURL           *string `env:"PUBLIC_URL"`
	HTTPSRedirect       *bool   `env:"HTTPS_REDIRECT"`
	GoogleClientID      *string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret  *string `env:"GOOGLE_CLIENT_SECRET"`
	SessionSecret       *string `env:"SESSION_SECRET"`
	SessionStore        *string `env:"SESSION_STORE"`
	SessionSecureCookie *bool   `env:"SESSION_SECURE_COOKIE"`
	MemcachedAddrs      *string `env:"MEMCACHED_ADDRS"`
	SwaggerEnabled      *bool   `env:"SWAGGER_ENABLED"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) and config/secrets.yaml
// under the working directory, then applies env overrides. Call from project root.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	return LoadFrom(cwd)
}

// LoadFrom is Load rooted at dir instead of the working directory.
func LoadFrom(dir string) (*Config, error) {
	var overrides envOverrides
	if err := env.Parse(&overrides); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	envName := strings.TrimSpace(overrides.EnvName)
	if envName == "" {
		envName = "dev"
	}

	configPath := filepath.Join(dir, "config", envName+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	sec, err := readSecrets(filepath.Join(dir, "config", "secrets.yaml"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{Env: envName}

	cfg.ServerPort = firstNonEmpty(deref(overrides.Port), fc.Server.Port, "8080")
	cfg.PublicURL = firstNonEmpty(deref(overrides.PublicURL), fc.Server.PublicURL, "http://localhost:"+cfg.ServerPort)
	cfg.HTTPSRedirect = boolOr(overrides.HTTPSRedirect, fc.Server.HTTPSRedirect, false)
	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 10*time.Second)

	g := fc.OAuth.Google
	cfg.GoogleClientID = firstNonEmpty(deref(overrides.GoogleClientID), sec.GoogleClientID, g.ClientID)
	cfg.GoogleClientSecret = firstNonEmpty(deref(overrides.GoogleClientSecret), sec.GoogleClientSecret, g.ClientSecret)
	cfg.GoogleCallbackPath = firstNonEmpty(g.CallbackPath, "/signin-google")
	cfg.GoogleScopes = trimAll(g.Scopes)
	if len(cfg.GoogleScopes) == 0 {
		cfg.GoogleScopes = []string{"openid", "profile", "email"}
	}
	cfg.GoogleAuthURL = strings.TrimSpace(g.AuthURL)
	cfg.GoogleTokenURL = strings.TrimSpace(g.TokenURL)
	cfg.GoogleUserInfoURL = firstNonEmpty(g.UserInfoURL, "https://openidconnect.googleapis.com/v1/userinfo")

	cfg.OAuthTimeout = parseDurationOrZero(fc.OAuth.Timeout, 5*time.Second)
	cfg.RetryAttempts = fc.OAuth.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	cfg.RetryBaseDelay = parseDuration(fc.OAuth.RetryBaseDelay, 100*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.OAuth.RetryMaxDelay, 2*time.Second)

	cb := fc.OAuth.CircuitBreaker
	cfg.CircuitBreakerEnabled = boolOr(nil, cb.Enabled, true)
	cfg.CircuitBreakerFailureThreshold = cb.FailureThreshold
	if cfg.CircuitBreakerFailureThreshold <= 0 {
		cfg.CircuitBreakerFailureThreshold = 5
	}
	cfg.CircuitBreakerSuccessThreshold = cb.SuccessThreshold
	if cfg.CircuitBreakerSuccessThreshold <= 0 {
		cfg.CircuitBreakerSuccessThreshold = 2
	}
	cfg.CircuitBreakerTimeout = parseDuration(cb.Timeout, 30*time.Second)

	cfg.SessionSecret = firstNonEmpty(deref(overrides.SessionSecret), sec.SessionSecret, fc.Session.Secret)
	cfg.SessionCookieName = firstNonEmpty(fc.Session.CookieName, "forecast_session")
	cfg.SessionTTL = parseDuration(fc.Session.TTL, 14*24*time.Hour)
	cfg.SessionSecureCookie = boolOr(overrides.SessionSecureCookie, fc.Session.SecureCookie, false)
	cfg.SessionStore = strings.ToLower(firstNonEmpty(deref(overrides.SessionStore), fc.Session.Store, SessionStoreInMemory))

	cfg.MemcachedAddrs = firstNonEmpty(deref(overrides.MemcachedAddrs), fc.Session.Memcached.Addrs, "localhost:11211")
	cfg.MemcachedTimeout = parseDuration(fc.Session.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Session.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.CORSAllowedOrigins = orAll(fc.CORS.AllowedOrigins)
	cfg.CORSAllowedMethods = orAll(fc.CORS.AllowedMethods)
	cfg.CORSAllowedHeaders = orAll(fc.CORS.AllowedHeaders)

	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 100
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 250
	}

	cfg.SwaggerEnabled = boolOr(overrides.SwaggerEnabled, fc.Swagger.Enabled, cfg.IsDevelopment())

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.InFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second)
	cfg.InFlightCheckInterval = parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond)

	cfg.OverloadWindow = parseDuration(fc.Lifecycle.OverloadWindow, 60*time.Second)
	cfg.OverloadThresholdPct = fc.Lifecycle.OverloadThresholdPct
	if cfg.OverloadThresholdPct <= 0 {
		cfg.OverloadThresholdPct = 80
	}
	cfg.DegradedWindow = parseDuration(fc.Lifecycle.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = fc.Lifecycle.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 50
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// readSecrets loads config/secrets.yaml. A missing file is not an error.
func readSecrets(path string) (secretsFile, error) {
	var sec secretsFile
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return sec, nil
		}
		return sec, fmt.Errorf("read secrets file: %w", err)
	}
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return sec, fmt.Errorf("parse secrets file: %w", err)
	}
	return sec, nil
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is (validate rejects them).
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func boolOr(override, file *bool, defaultVal bool) bool {
	if override != nil {
		return *override
	}
	if file != nil {
		return *file
	}
	return defaultVal
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func orAll(values []string) []string {
	values = trimAll(values)
	if len(values) == 0 {
		return []string{"*"}
	}
	return values
}

// validate performs post-load validation of configuration values.
// Auto-adjusts RequestTimeout so the OAuth callback can finish within it.
func validate(cfg *Config) error {
	var errs []error
	if cfg.GoogleClientID == "" {
		errs = append(errs, errors.New("GOOGLE_CLIENT_ID required (set env or config/secrets.yaml google_client_id)"))
	}
	if cfg.GoogleClientSecret == "" {
		errs = append(errs, errors.New("GOOGLE_CLIENT_SECRET required (set env or config/secrets.yaml google_client_secret)"))
	}
	if len(cfg.SessionSecret) < MinSessionSecretLength {
		errs = append(errs, fmt.Errorf("SESSION_SECRET must be at least %d bytes", MinSessionSecretLength))
	}
	if cfg.OAuthTimeout <= 0 {
		errs = append(errs, errors.New("oauth.timeout must be positive"))
	}
	if !strings.HasPrefix(cfg.GoogleCallbackPath, "/") {
		errs = append(errs, fmt.Errorf("oauth.google.callback_path must start with /, got %q", cfg.GoogleCallbackPath))
	}
	if u, err := url.Parse(cfg.PublicURL); err != nil || !u.IsAbs() || u.Host == "" {
		errs = append(errs, fmt.Errorf("server.public_url must be an absolute URL, got %q", cfg.PublicURL))
	}
	switch cfg.SessionStore {
	case SessionStoreInMemory, SessionStoreMemcached:
	default:
		errs = append(errs, fmt.Errorf("session.store must be in_memory or memcached, got %q", cfg.SessionStore))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	if cfg.RequestTimeout <= cfg.OAuthTimeout {
		cfg.RequestTimeout = cfg.OAuthTimeout + time.Second
	}
	return nil
}
