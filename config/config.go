// ABOUTME: Configuration loader for the admin gateway
// ABOUTME: Loads settings from environment variables (and an optional .env file) with defaults

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ErrUpstreamURLMissing is returned when UPSTREAM_BASE_URL is not set
var ErrUpstreamURLMissing = errors.New("UPSTREAM_BASE_URL is required")

const productionEnv = "production"

type Config struct {
	// Server
	Port               string
	AppEnv             string   // development, production (default: development)
	BasePath           string   // routing prefix, e.g. /admin (default: none)
	ProtectedPrefix    string   // page area behind the route guard (default: /console)
	CORSAllowedOrigins []string // allowed CORS origins (empty = block all cross-origin)

	// Upstream API
	UpstreamBaseURL  string
	UpstreamTimeout  time.Duration // per-call timeout (default: 10s)
	UpstreamAllProxy string        // optional ssh+socks5://user@host:port?private-key=/path

	// Credential cookies
	CookieSecure       bool          // Secure flag (default: true in production)
	AccessTokenMaxAge  time.Duration // fallback when the token carries no exp (default: 15m)
	RefreshTokenMaxAge time.Duration // fallback when the token carries no exp (default: 7d)

	// Rate Limiting
	RateLimitEnabled bool // Enable rate limiting (default: true)
	RateLimitLogin   int  // Login requests per minute per client (default: 10)
}

// IsProduction reports whether error details must be hidden from responses
func (c *Config) IsProduction() bool {
	return c.AppEnv == productionEnv
}

// Load reads configuration from the environment.
// A .env file in the working directory is applied first; variables that are
// already set in the environment take precedence over it.
func Load() (*Config, error) {
	if err := LoadEnvFile(); err != nil {
		slog.Warn("Ignoring unreadable .env file", "error", err)
	}

	appEnv := strings.ToLower(getEnv("APP_ENV", "development"))

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		AppEnv:             appEnv,
		BasePath:           normalizePrefix(os.Getenv("BASE_PATH")),
		ProtectedPrefix:    normalizePrefix(getEnv("PROTECTED_PREFIX", "/console")),
		CORSAllowedOrigins: getEnvStringList("CORS_ALLOWED_ORIGINS"),

		UpstreamBaseURL:  strings.TrimRight(ensureScheme(os.Getenv("UPSTREAM_BASE_URL")), "/"),
		UpstreamTimeout:  getEnvDuration("UPSTREAM_TIMEOUT", 10*time.Second),
		UpstreamAllProxy: os.Getenv("UPSTREAM_ALL_PROXY"),

		CookieSecure:       getEnvBool("COOKIE_SECURE", appEnv == productionEnv),
		AccessTokenMaxAge:  getEnvDuration("ACCESS_TOKEN_MAX_AGE", 15*time.Minute),
		RefreshTokenMaxAge: getEnvDuration("REFRESH_TOKEN_MAX_AGE", 7*24*time.Hour),

		RateLimitEnabled: getEnvBool("RATE_LIMIT_ENABLED", true),
		RateLimitLogin:   getEnvInt("RATE_LIMIT_LOGIN", 10),
	}

	// Validate required fields
	if cfg.UpstreamBaseURL == "" {
		return nil, ErrUpstreamURLMissing
	}
	if u, err := url.Parse(cfg.UpstreamBaseURL); err != nil || u.Host == "" {
		return nil, fmt.Errorf("UPSTREAM_BASE_URL is not a valid URL: %q", cfg.UpstreamBaseURL)
	}

	if cfg.UpstreamTimeout <= 0 {
		return nil, fmt.Errorf("UPSTREAM_TIMEOUT must be positive, got %s", cfg.UpstreamTimeout)
	}
	if cfg.ProtectedPrefix == "" {
		return nil, fmt.Errorf("PROTECTED_PREFIX must not be the site root")
	}

	if cfg.RateLimitLogin < 1 || cfg.RateLimitLogin > 10000 {
		return nil, fmt.Errorf("RATE_LIMIT_LOGIN must be between 1 and 10000, got %d", cfg.RateLimitLogin)
	}

	return cfg, nil
}

// LoadEnvFile applies a .env file from the working directory. Variables that
// are already set win, and a missing file is not an error.
func LoadEnvFile() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings ("30s") or bare seconds ("30")
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func getEnvStringList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// ensureScheme adds https:// prefix if the URL has no scheme
func ensureScheme(url string) string {
	if url == "" {
		return url
	}
	if !strings.Contains(url, "://") {
		return "https://" + url
	}
	return url
}

// normalizePrefix turns "admin/" into "/admin" and "/" into ""
func normalizePrefix(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return ""
	}
	return "/" + prefix
}
