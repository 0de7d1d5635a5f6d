package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/census-viz/internal/failure"
	"github.com/sells-group/census-viz/internal/model"
)

// chdirTemp moves into an empty temp dir so no config.yaml or .env is found.
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	t.Setenv("CENSUS_API_KEY", "")
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Empty(t, cfg.APIKey)
	assert.Equal(t, "https://api.census.gov/data", cfg.Census.BaseURL)
	assert.Equal(t, model.YearRange{Min: 2013, Max: 2023}, cfg.Census.Years)
	assert.Equal(t, 45, cfg.Census.MaxVariablesPerRequest)
	assert.Equal(t, 4, cfg.Census.Concurrency)
	assert.Equal(t, 5, cfg.Census.MaxFailedChunks)
	assert.InDelta(t, 10, cfg.Census.RequestsPerSecond, 0.001)
	assert.Equal(t, "https://www2.census.gov/geo/tiger", cfg.Tiger.BaseURL)
	assert.Equal(t, "data/tiger", cfg.Tiger.CacheDir)
	assert.Equal(t, model.YearRange{Min: 2011, Max: 2024}, cfg.Tiger.Vintages)
	assert.Equal(t, "full", cfg.Tiger.Resolution)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.InitialBackoff)
	assert.Equal(t, 30*time.Second, cfg.Retry.MaxBackoff)
	assert.Equal(t, 2021, cfg.Collect.Year)
	assert.Equal(t, "total_population", cfg.Collect.Attribute)
	assert.Empty(t, cfg.Collect.Variables)
	assert.Equal(t, "output", cfg.Collect.OutputDir)
	assert.Equal(t, 5*time.Minute, cfg.Collect.FetchTimeout)
	assert.Equal(t, "", cfg.Store.Driver)
	assert.Equal(t, int32(4), cfg.Store.MaxConns)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
census:
  concurrency: 2
  years:
    min: 2015
    max: 2022
tiger:
  resolution: 500k
collect:
  year: 2019
  variables: [B01003_001E, B19013_001E]
store:
  driver: sqlite
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Census.Concurrency)
	assert.Equal(t, model.YearRange{Min: 2015, Max: 2022}, cfg.Census.Years)
	assert.Equal(t, "500k", cfg.Tiger.Resolution)
	assert.Equal(t, 2019, cfg.Collect.Year)
	assert.Equal(t, []string{"B01003_001E", "B19013_001E"}, cfg.Collect.Variables)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	// Defaults still apply for unset values
	assert.Equal(t, 45, cfg.Census.MaxVariablesPerRequest)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("CENSUS_STORE_DRIVER", "postgres")
	t.Setenv("CENSUS_LOG_LEVEL", "warn")
	t.Setenv("CENSUS_API_KEY", "abc123")
	t.Setenv("CENSUS_COLLECT_FETCH_TIMEOUT", "90s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "abc123", cfg.APIKey)
	assert.Equal(t, 90*time.Second, cfg.Collect.FetchTimeout)
}

func TestLoadDotEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.Unsetenv("CENSUS_API_KEY"))
	t.Cleanup(func() { os.Unsetenv("CENSUS_API_KEY") }) //nolint:errcheck

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("CENSUS_API_KEY=from-dotenv\n"), 0600))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.APIKey)
}

func TestLoadBadYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("census: [unterminated"), 0644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with the collect settings populated.
func validDefaults() *Config {
	cfg := &Config{APIKey: "key"}
	cfg.Census.Concurrency = 4
	cfg.Retry.MaxAttempts = 3
	cfg.Tiger.Resolution = "full"
	cfg.Collect.FetchTimeout = 5 * time.Minute
	cfg.Collect.Attribute = "total_population"
	return cfg
}

func TestValidateCollect_OK(t *testing.T) {
	assert.NoError(t, validDefaults().Validate("collect"))
}

func TestValidateCollect_MissingKey(t *testing.T) {
	cfg := validDefaults()
	cfg.APIKey = "  "

	err := cfg.Validate("collect")
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.MissingCredential))
	assert.Equal(t, failure.ExitSetup, failure.ExitCode(err))
}

func TestValidateCollect_BadSettings(t *testing.T) {
	cfg := validDefaults()
	cfg.Tiger.Resolution = "20m"
	cfg.Collect.FetchTimeout = 0
	cfg.Retry.MaxAttempts = 0
	cfg.Store.Driver = "mysql"

	err := cfg.Validate("collect")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tiger.resolution")
	assert.Contains(t, err.Error(), "collect.fetch_timeout must be positive")
	assert.Contains(t, err.Error(), "retry.max_attempts")
	assert.Contains(t, err.Error(), "store.driver must be sqlite or postgres")
}

func TestValidateCollect_StoreDrivers(t *testing.T) {
	cfg := validDefaults()

	cfg.Store.Driver = "postgres"
	err := cfg.Validate("collect")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")

	cfg.Store.DatabaseURL = "postgres://localhost/census"
	assert.NoError(t, cfg.Validate("collect"))

	cfg.Store.Driver = "sqlite"
	err = cfg.Validate("collect")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.sqlite_path is required")
}

func TestValidateRuns_RequiresStore(t *testing.T) {
	cfg := validDefaults()
	cfg.APIKey = ""

	err := cfg.Validate("runs")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver is required")

	cfg.Store.Driver = "sqlite"
	cfg.Store.SQLitePath = "census.db"
	assert.NoError(t, cfg.Validate("runs"))
}

func TestValidateStore(t *testing.T) {
	cfg := validDefaults()
	assert.Error(t, cfg.Validate("store"))

	cfg.Store.Driver = "postgres"
	err := cfg.Validate("store")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")

	cfg.Store.DatabaseURL = "postgres://localhost/census"
	assert.NoError(t, cfg.Validate("store"))
}

func TestValidateRender(t *testing.T) {
	cfg := validDefaults()
	cfg.APIKey = ""
	assert.NoError(t, cfg.Validate("render"))

	cfg.Collect.Attribute = ""
	assert.Error(t, cfg.Validate("render"))
}

func TestValidateUnknownMode(t *testing.T) {
	err := validDefaults().Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestParsedResolution(t *testing.T) {
	tests := []struct {
		in   string
		want model.Resolution
		ok   bool
	}{
		{"", model.ResolutionFull, true},
		{"full", model.ResolutionFull, true},
		{"500K", model.Resolution500k, true},
		{" 5m ", "", false},
		{"20m", "", false},
		{"1m", "", false},
	}
	for _, tt := range tests {
		got, err := TigerConfig{Resolution: tt.in}.ParsedResolution()
		if !tt.ok {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestYAML_RedactsSecrets(t *testing.T) {
	cfg := validDefaults()
	cfg.APIKey = "super-secret"
	cfg.Store.Driver = "postgres"
	cfg.Store.DatabaseURL = "postgres://census:hunter2@db:5432/census"

	b, err := cfg.YAML()
	require.NoError(t, err)
	out := string(b)

	assert.NotContains(t, out, "super-secret")
	assert.NotContains(t, out, "hunter2")
	assert.Contains(t, out, "********")
	assert.Contains(t, out, "postgres://census:xxxxx@db:5432/census")
	assert.Contains(t, out, "fetch_timeout: 5m0s")
	// Redaction works on a copy.
	assert.Equal(t, "super-secret", cfg.APIKey)
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "", redactURL(""))
	assert.Equal(t, "postgres://db/census", redactURL("postgres://db/census"))
	assert.Equal(t, "postgres://u:xxxxx@db/census", redactURL("postgres://u:p@db/census"))
}
