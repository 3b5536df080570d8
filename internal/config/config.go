// Package config handles loading and validation of daemon configuration.
// Layers, lowest first: defaults, CONFIG_FILE (YAML), CARTD_* environment
// variables, and in production the secrets held in GCP Secret Manager.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix marks environment overrides. Nested keys use "__":
// CARTD_BACKEND__BASE_URL sets backend.base_url.
const EnvPrefix = "CARTD_"

// Config holds all daemon configuration.
type Config struct {
	Port         string `koanf:"port" validate:"required"`
	Environment  string `koanf:"environment" validate:"oneof=development production"`
	LogLevel     string `koanf:"log_level" validate:"oneof=debug info warn error"`
	StorefrontID string `koanf:"storefront_id"`
	GCPProject   string `koanf:"gcp_project" validate:"required_if=Environment production"`
	SentryDSN    string `koanf:"sentry_dsn"`

	Backend BackendConfig `koanf:"backend"`
	Store   StoreConfig   `koanf:"store"`
	Sync    SyncConfig    `koanf:"sync"`
	Catalog CatalogConfig `koanf:"catalog"`
}

// BackendConfig points at the storefront backend.
type BackendConfig struct {
	BaseURL   string        `koanf:"base_url" validate:"required,url"`
	APIKey    string        `koanf:"api_key"`
	Timeout   time.Duration `koanf:"timeout" validate:"gt=0"`
	ChromeTLS bool          `koanf:"chrome_tls"`

	BreakerFailures uint32        `koanf:"breaker_failures"`
	BreakerTimeout  time.Duration `koanf:"breaker_timeout"`
}

// StoreConfig selects the guest cart backend.
type StoreConfig struct {
	Driver        string        `koanf:"driver" validate:"oneof=memory sqlite redis"`
	Path          string        `koanf:"path" validate:"required_if=Driver sqlite"`
	RedisAddr     string        `koanf:"redis_addr" validate:"required_if=Driver redis"`
	RedisPassword string        `koanf:"redis_password"`
	Key           string        `koanf:"key"`
	TTL           time.Duration `koanf:"ttl" validate:"gte=0"`
}

// SyncConfig tunes persistence and reconciliation.
type SyncConfig struct {
	Debounce      time.Duration `koanf:"debounce" validate:"gte=0"`
	MergeStrategy string        `koanf:"merge_strategy" validate:"oneof=sequential sync"`
	MaxRetries    uint64        `koanf:"max_retries"`
	RetryInterval time.Duration `koanf:"retry_interval" validate:"gte=0"`
}

// CatalogConfig sizes the product lookup cache.
type CatalogConfig struct {
	CacheSize int `koanf:"cache_size" validate:"gt=0"`
}

// secrets is the JSON document stored in Secret Manager.
type secrets struct {
	APIKey        string `json:"api_key"`
	RedisPassword string `json:"redis_password"`
	SentryDSN     string `json:"sentry_dsn"`
}

// secretSource returns the payload of a secret version.
type secretSource func(ctx context.Context, name string) ([]byte, error)

var defaults = map[string]any{
	"port":                     "8420",
	"environment":              "development",
	"log_level":                "info",
	"backend.timeout":          "10s",
	"backend.breaker_failures": 5,
	"backend.breaker_timeout":  "30s",
	"store.driver":             "sqlite",
	"store.path":               "guest-cart.db",
	"store.ttl":                "720h",
	"sync.debounce":            "300ms",
	"sync.merge_strategy":      "sequential",
	"sync.max_retries":         3,
	"sync.retry_interval":      "200ms",
	"catalog.cache_size":       256,
}

// Load reads configuration from defaults, CONFIG_FILE, the environment and,
// in production, Secret Manager. Returns an error describing every invalid
// field.
func Load(ctx context.Context) (*Config, error) {
	return load(ctx, accessSecret)
}

func load(ctx context.Context, source secretSource) (*Config, error) {
	k := koanf.New(".")
	for key, val := range defaults {
		if err := k.Set(key, val); err != nil {
			return nil, fmt.Errorf("setting default %s: %w", key, err)
		}
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(".", env.Opt{
		Prefix:        EnvPrefix,
		TransformFunc: envKey,
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if cfg.Environment == "production" && cfg.GCPProject != "" {
		if err := cfg.loadSecrets(ctx, source); err != nil {
			return nil, fmt.Errorf("loading secrets: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKey maps CARTD_SYNC__MERGE_STRATEGY to sync.merge_strategy.
func envKey(k, v string) (string, any) {
	k = strings.TrimPrefix(k, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(k), "__", "."), v
}

// SecretName is the Secret Manager resource holding the daemon's secrets.
// Format: projects/{project}/secrets/{storefront_id}/versions/latest
func (c *Config) SecretName() string {
	return fmt.Sprintf("projects/%s/secrets/%s/versions/latest", c.GCPProject, c.StorefrontID)
}

// loadSecrets overlays non-empty secret values onto c.
func (c *Config) loadSecrets(ctx context.Context, source secretSource) error {
	if c.StorefrontID == "" {
		return fmt.Errorf("storefront_id is required in production")
	}

	data, err := source(ctx, c.SecretName())
	if err != nil {
		return err
	}

	var s secrets
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("parsing secret JSON: %w", err)
	}

	if s.APIKey != "" {
		c.Backend.APIKey = s.APIKey
	}
	if s.RedisPassword != "" {
		c.Store.RedisPassword = s.RedisPassword
	}
	if s.SentryDSN != "" {
		c.SentryDSN = s.SentryDSN
	}
	return nil
}

// accessSecret fetches a secret version from GCP Secret Manager.
func accessSecret(ctx context.Context, name string) ([]byte, error) {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating secret manager client: %w", err)
	}
	defer client.Close()

	result, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: name,
	})
	if err != nil {
		return nil, fmt.Errorf("accessing secret %s: %w", name, err)
	}
	return result.Payload.Data, nil
}

// validate checks required fields and enumerations.
func (c *Config) validate() error {
	err := validator.New(validator.WithRequiredStructEnabled()).Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validating config: %w", err)
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %q)",
			strings.TrimPrefix(fe.Namespace(), "Config."), fe.Tag(), fmt.Sprint(fe.Value())))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// SlogLevel maps LogLevel to a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsProduction reports whether the daemon runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
