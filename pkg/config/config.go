// Package config loads service configuration: built-in defaults, then an
// optional YAML file named by MISMO_CONFIG, then environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/mismo/pkg/artifacts"
)

// Config holds server configuration.
type Config struct {
	Port        string            `yaml:"port"`
	LogLevel    string            `yaml:"log_level"`
	Database    DatabaseConfig    `yaml:"database"`
	Artifacts   artifacts.Config  `yaml:"artifacts"`
	Redis       RedisConfig       `yaml:"redis"`
	EntityStore EntityStoreConfig `yaml:"entity_store"`
	Submission  SubmissionConfig  `yaml:"submission"`
	Packs       PacksConfig       `yaml:"packs"`
	API         APIConfig         `yaml:"api"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

// DatabaseConfig selects the run store backend. An empty URL keeps runs in memory.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // postgres | sqlite
	URL    string `yaml:"url"`
}

// RedisConfig enables the shared duplicate index when Addr is set.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// EntityStoreConfig points at the deal system of record.
type EntityStoreConfig struct {
	URL     string        `yaml:"url"`
	Secret  string        `yaml:"secret"`
	Timeout time.Duration `yaml:"timeout"`
	RPS     float64       `yaml:"rps"`
	Burst   int           `yaml:"burst"`
}

// SubmissionConfig points at the counterparty endpoint.
type SubmissionConfig struct {
	URL    string `yaml:"url"`
	Secret string `yaml:"secret"`
}

// PacksConfig adds YAML packs and picks the registry default.
type PacksConfig struct {
	Dir     string `yaml:"dir"`
	Default string `yaml:"default"`
}

// APIConfig configures the HTTP surface.
type APIConfig struct {
	TokenSecret  string        `yaml:"token_secret"`
	RPS          float64       `yaml:"rps"`
	Burst        int           `yaml:"burst"`
	RunTimeout   time.Duration `yaml:"run_timeout"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRate  float64 `yaml:"sample_rate"`
	Environment string  `yaml:"environment"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:     "8080",
		LogLevel: "INFO",
		Database: DatabaseConfig{Driver: "sqlite"},
		Artifacts: artifacts.Config{
			Type:    artifacts.StoreTypeFS,
			DataDir: "data",
			S3:      artifacts.S3StoreConfig{Region: "us-east-1"},
		},
		EntityStore: EntityStoreConfig{Timeout: 10 * time.Second, RPS: 20, Burst: 5},
		API: APIConfig{
			RPS:          10,
			Burst:        20,
			RunTimeout:   60 * time.Second,
			MaxBodyBytes: 10 << 20,
		},
		Telemetry: TelemetryConfig{Endpoint: "localhost:4317", SampleRate: 1.0, Environment: "development"},
	}
}

// Load builds the configuration from defaults, the MISMO_CONFIG file and the
// environment, then validates it.
func Load() (*Config, error) {
	return load(os.LookupEnv)
}

func load(lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	if path, ok := lookup("MISMO_CONFIG"); ok && path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // operator-provided path
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (r *envReader) str(key string, dst *string) {
	if v, ok := r.lookup(key); ok && v != "" {
		*dst = v
	}
}

func (r *envReader) integer(key string, dst *int) {
	if v, ok := r.lookup(key); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
}

func (r *envReader) float(key string, dst *float64) {
	if v, ok := r.lookup(key); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = f
	}
}

func (r *envReader) boolean(key string, dst *bool) {
	if v, ok := r.lookup(key); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = b
	}
}

func (r *envReader) duration(key string, dst *time.Duration) {
	if v, ok := r.lookup(key); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = d
	}
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	r := &envReader{lookup: lookup}

	r.str("PORT", &c.Port)
	r.str("LOG_LEVEL", &c.LogLevel)

	r.str("DATABASE_DRIVER", &c.Database.Driver)
	r.str("DATABASE_URL", &c.Database.URL)

	var storeType string
	r.str("ARTIFACT_STORAGE_TYPE", &storeType)
	if storeType != "" {
		c.Artifacts.Type = artifacts.StoreType(storeType)
	}
	r.str("DATA_DIR", &c.Artifacts.DataDir)
	r.str("AWS_REGION", &c.Artifacts.S3.Region)
	r.str("ARTIFACT_S3_REGION", &c.Artifacts.S3.Region)
	r.str("ARTIFACT_S3_BUCKET", &c.Artifacts.S3.Bucket)
	r.str("ARTIFACT_S3_ENDPOINT", &c.Artifacts.S3.Endpoint)
	r.str("ARTIFACT_S3_PREFIX", &c.Artifacts.S3.Prefix)
	r.str("ARTIFACT_GCS_BUCKET", &c.Artifacts.GCS.Bucket)
	r.str("ARTIFACT_GCS_PREFIX", &c.Artifacts.GCS.Prefix)

	r.str("REDIS_ADDR", &c.Redis.Addr)
	r.str("REDIS_PASSWORD", &c.Redis.Password)
	r.integer("REDIS_DB", &c.Redis.DB)
	r.duration("REDIS_TTL", &c.Redis.TTL)

	r.str("ENTITY_STORE_URL", &c.EntityStore.URL)
	r.str("ENTITY_STORE_SECRET", &c.EntityStore.Secret)
	r.duration("ENTITY_STORE_TIMEOUT", &c.EntityStore.Timeout)
	r.float("ENTITY_STORE_RPS", &c.EntityStore.RPS)
	r.integer("ENTITY_STORE_BURST", &c.EntityStore.Burst)

	r.str("SUBMISSION_URL", &c.Submission.URL)
	r.str("SUBMISSION_SECRET", &c.Submission.Secret)

	r.str("MISMO_PACKS_DIR", &c.Packs.Dir)
	r.str("MISMO_DEFAULT_PACK", &c.Packs.Default)

	r.str("API_TOKEN_SECRET", &c.API.TokenSecret)
	r.float("API_RPS", &c.API.RPS)
	r.integer("API_BURST", &c.API.Burst)
	r.duration("RUN_TIMEOUT", &c.API.RunTimeout)

	r.boolean("OTEL_ENABLED", &c.Telemetry.Enabled)
	r.str("OTEL_EXPORTER_OTLP_ENDPOINT", &c.Telemetry.Endpoint)
	r.boolean("OTEL_INSECURE", &c.Telemetry.Insecure)
	r.float("OTEL_SAMPLE_RATE", &c.Telemetry.SampleRate)
	r.str("ENVIRONMENT", &c.Telemetry.Environment)

	if len(r.errs) > 0 {
		return fmt.Errorf("config: invalid environment: %w", errors.Join(r.errs...))
	}
	return nil
}

// Validate rejects configurations that cannot start.
func (c *Config) Validate() error {
	var errs []error
	if _, err := strconv.Atoi(c.Port); err != nil {
		errs = append(errs, fmt.Errorf("port %q is not a number", c.Port))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("unsupported database driver %q", c.Database.Driver))
	}
	switch c.Artifacts.Type {
	case artifacts.StoreTypeFS, artifacts.StoreTypeS3, artifacts.StoreTypeGCS:
	default:
		errs = append(errs, fmt.Errorf("unsupported artifact storage type %q", c.Artifacts.Type))
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("telemetry sample rate %v outside [0, 1]", c.Telemetry.SampleRate))
	}
	if c.API.RunTimeout <= 0 {
		errs = append(errs, fmt.Errorf("run timeout must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// ParseLevel maps LOG_LEVEL values onto slog levels.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(strings.TrimSpace(s)))); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}
