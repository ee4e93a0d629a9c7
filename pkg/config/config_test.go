package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/mismo/pkg/artifacts"
)

func env(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(env(nil))
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, artifacts.StoreTypeFS, cfg.Artifacts.Type)
	assert.Equal(t, 60*time.Second, cfg.API.RunTimeout)
	assert.False(t, cfg.Telemetry.Enabled)
}

func TestLoad_EnvOverrides(t *testing.T) {
	cfg, err := load(env(map[string]string{
		"PORT":                  "9090",
		"LOG_LEVEL":             "debug",
		"DATABASE_DRIVER":       "postgres",
		"DATABASE_URL":          "postgres://mismo@localhost/mismo",
		"ARTIFACT_STORAGE_TYPE": "s3",
		"ARTIFACT_S3_BUCKET":    "docs",
		"REDIS_ADDR":            "localhost:6379",
		"REDIS_DB":              "2",
		"ENTITY_STORE_TIMEOUT":  "3s",
		"ENTITY_STORE_RPS":      "7.5",
		"OTEL_ENABLED":          "true",
		"OTEL_SAMPLE_RATE":      "0.25",
	}))
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, artifacts.StoreTypeS3, cfg.Artifacts.Type)
	assert.Equal(t, "docs", cfg.Artifacts.S3.Bucket)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, 3*time.Second, cfg.EntityStore.Timeout)
	assert.Equal(t, 7.5, cfg.EntityStore.RPS)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, 0.25, cfg.Telemetry.SampleRate)
}

func TestLoad_InvalidEnv(t *testing.T) {
	_, err := load(env(map[string]string{"REDIS_DB": "two", "OTEL_ENABLED": "maybe"}))
	require.Error(t, err)
	assert.ErrorContains(t, err, "REDIS_DB")
	assert.ErrorContains(t, err, "OTEL_ENABLED")
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mismo.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "7000"
database:
  driver: postgres
  url: postgres://file
entity_store:
  url: http://deals.internal
  timeout: 2s
packs:
  dir: /etc/mismo/packs
  default: mismo-3.4-b325
`), 0o600))

	cfg, err := load(env(map[string]string{"MISMO_CONFIG": path, "PORT": "7001"}))
	require.NoError(t, err)
	assert.Equal(t, "7001", cfg.Port, "environment wins over the file")
	assert.Equal(t, "postgres://file", cfg.Database.URL)
	assert.Equal(t, 2*time.Second, cfg.EntityStore.Timeout)
	assert.Equal(t, "mismo-3.4-b325", cfg.Packs.Default)
	assert.Equal(t, 20.0, cfg.EntityStore.RPS, "defaults survive a partial file")
}

func TestLoad_FileUnknownKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mismo.yaml")
	require.NoError(t, os.WriteFile(path, []byte("prot: 1\n"), 0o600))
	_, err := load(env(map[string]string{"MISMO_CONFIG": path}))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Database.Driver = "oracle"
	cfg.LogLevel = "loud"
	cfg.Telemetry.SampleRate = 2
	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "oracle")
	assert.ErrorContains(t, err, "loud")
	assert.ErrorContains(t, err, "sample rate")
}

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, l)
}
