package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds client configuration loaded from the environment.
type Config struct {
	AppEnv   string `validate:"required"`
	Endpoint string `validate:"required,url"`
	Shop     string `validate:"required"`
	Project  string `validate:"required"`
	DataDir  string `validate:"required"`

	ClientID string

	PollInterval     time.Duration `validate:"gt=0"`
	HTTPTimeout      time.Duration `validate:"gt=0"`
	CartMaxAge       time.Duration `validate:"gt=0"`
	BackupMaxAge     time.Duration `validate:"gt=0"`
	SaveDebounce     time.Duration `validate:"gte=0"`
	RetryMaxFails    int           `validate:"gt=0"`
	MaxCheckoutCents int64         `validate:"gte=0"`
	MaxOnlineCents   int64         `validate:"gte=0"`

	LogFormat string
	LogLevel  string
	// MetricsAddr is the listen address for the Prometheus endpoint; empty
	// disables it.
	MetricsAddr string
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:           valueOrDefault(k.String("APP_ENV"), "production"),
		Endpoint:         strings.TrimSpace(k.String("SCO_ENDPOINT")),
		Shop:             strings.TrimSpace(k.String("SCO_SHOP_ID")),
		Project:          strings.TrimSpace(k.String("SCO_PROJECT_ID")),
		DataDir:          valueOrDefault(k.String("SCO_DATA_DIR"), defaultDataDir()),
		ClientID:         strings.TrimSpace(k.String("SCO_CLIENT_ID")),
		PollInterval:     parseDuration(k.String("SCO_POLL_INTERVAL"), "2s"),
		HTTPTimeout:      parseDuration(k.String("SCO_HTTP_TIMEOUT"), "15s"),
		CartMaxAge:       parseDuration(k.String("SCO_CART_MAX_AGE"), "4h"),
		BackupMaxAge:     parseDuration(k.String("SCO_BACKUP_MAX_AGE"), "5m"),
		SaveDebounce:     parseDuration(k.String("SCO_SAVE_DEBOUNCE"), "1s"),
		RetryMaxFails:    parseInt(k.String("SCO_RETRY_MAX_FAILURES"), 3),
		MaxCheckoutCents: parseCents(k.String("SCO_MAX_CHECKOUT_CENTS")),
		MaxOnlineCents:   parseCents(k.String("SCO_MAX_ONLINE_CENTS")),
		LogFormat:        valueOrDefault(k.String("LOG_FORMAT"), "json"),
		LogLevel:         valueOrDefault(k.String("LOG_LEVEL"), "info"),
		MetricsAddr:      strings.TrimSpace(k.String("SCO_METRICS_ADDR")),
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
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

func defaultDataDir() string {
	if dir, err := os.UserCacheDir(); err == nil && dir != "" {
		return dir + string(os.PathSeparator) + "selfscan"
	}
	return "."
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

func parseCents(value string) int64 {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0
	}
	var n int64
	if _, err := fmt.Sscanf(trimmed, "%d", &n); err != nil || n < 0 {
		return 0
	}
	return n
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
