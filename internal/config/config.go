package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
//
// The two MyFatoorah API keys are deliberately not validated here: a
// deployment may legitimately run with only one credential context
// configured, and the gateway client reports a structured config error
// on first use of a missing key instead of crashing the whole service
// at startup.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	JWTSecret          string
	CORSAllowedOrigins []string

	MyFatoorahBaseURL      string
	EventAPIKey            string
	SubscriptionAPIKey     string
	EventSupplierName      string
	SubscriptionSupplier   string
	PaymentLogoURL         string
	PaymentCallbackBaseURL string

	MembershipFeeFils  int64
	MembershipTermDays int

	CallbackReplayTTL time.Duration
	PollInterval      time.Duration
	PollMaxAttempts   int
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		JWTSecret:          k.String("JWT_SECRET"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		MyFatoorahBaseURL:      strings.TrimSpace(k.String("MYFATOORAH_BASE_URL")),
		EventAPIKey:            k.String("MYFATOORAH_EVENT_API_KEY"),
		SubscriptionAPIKey:     k.String("MYFATOORAH_SUBSCRIPTION_API_KEY"),
		EventSupplierName:      valueOrDefault(k.String("MYFATOORAH_EVENT_SUPPLIER"), "Nadi Events"),
		SubscriptionSupplier:   valueOrDefault(k.String("MYFATOORAH_SUBSCRIPTION_SUPPLIER"), "Nadi Membership"),
		PaymentLogoURL:         strings.TrimSpace(k.String("PAYMENT_LOGO_URL")),
		PaymentCallbackBaseURL: strings.TrimSpace(k.String("PAYMENT_CALLBACK_BASE_URL")),

		MembershipFeeFils:  int64(parseInt(k.String("MEMBERSHIP_FEE_FILS"), 25000)),
		MembershipTermDays: parseInt(k.String("MEMBERSHIP_TERM_DAYS"), 365),

		CallbackReplayTTL: parseDuration(k.String("CALLBACK_REPLAY_TTL"), "24h"),
		PollInterval:      parseDuration(k.String("PAYMENT_POLL_INTERVAL"), "30s"),
		PollMaxAttempts:   parseInt(k.String("PAYMENT_POLL_MAX_ATTEMPTS"), 20),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
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

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	var n int
	if _, err := fmt.Sscanf(trimmed, "%d", &n); err != nil || n <= 0 {
		return fallback
	}
	return n
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
