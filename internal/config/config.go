package config

import (
	"errors"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/census-viz/internal/failure"
	"github.com/sells-group/census-viz/internal/model"
)

// Config holds the full application configuration.
type Config struct {
	// APIKey is the Census Data API key (CENSUS_API_KEY).
	APIKey  string        `yaml:"api_key" mapstructure:"api_key"`
	Census  CensusConfig  `yaml:"census" mapstructure:"census"`
	Tiger   TigerConfig   `yaml:"tiger" mapstructure:"tiger"`
	Retry   RetryConfig   `yaml:"retry" mapstructure:"retry"`
	Collect CollectConfig `yaml:"collect" mapstructure:"collect"`
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// CensusConfig configures the statistics fetcher.
type CensusConfig struct {
	BaseURL                string          `yaml:"base_url" mapstructure:"base_url"`
	Years                  model.YearRange `yaml:"years" mapstructure:"years"`
	MaxVariablesPerRequest int             `yaml:"max_variables_per_request" mapstructure:"max_variables_per_request"`
	Concurrency            int             `yaml:"concurrency" mapstructure:"concurrency"`
	MaxFailedChunks        int             `yaml:"max_failed_chunks" mapstructure:"max_failed_chunks"`
	RequestsPerSecond      float64         `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	BreakerThreshold       int             `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	TimeoutSecs            int             `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// TigerConfig configures the boundary fetcher.
type TigerConfig struct {
	BaseURL  string          `yaml:"base_url" mapstructure:"base_url"`
	CacheDir string          `yaml:"cache_dir" mapstructure:"cache_dir"`
	Vintages model.YearRange `yaml:"vintages" mapstructure:"vintages"`
	// Resolution is "full" (TIGER/Line) or "500k" (cartographic).
	Resolution  string `yaml:"resolution" mapstructure:"resolution"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// RetryConfig is the retry policy shared by both fetchers.
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff" mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff" mapstructure:"max_backoff"`
}

// CollectConfig holds defaults for the collect command.
type CollectConfig struct {
	Year         int           `yaml:"year" mapstructure:"year"`
	Attribute    string        `yaml:"attribute" mapstructure:"attribute"`
	Variables    []string      `yaml:"variables" mapstructure:"variables"`
	OutputDir    string        `yaml:"output_dir" mapstructure:"output_dir"`
	FetchTimeout time.Duration `yaml:"fetch_timeout" mapstructure:"fetch_timeout"`
}

// StoreConfig configures the optional dataset store. An empty driver
// disables it.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, config.yaml and the environment, in
// increasing order of precedence for the environment.
func Load() (*Config, error) {
	// .env is optional and never overrides variables already set.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CENSUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("api_key", "")
	v.SetDefault("census.base_url", "https://api.census.gov/data")
	v.SetDefault("census.years.min", 2013)
	v.SetDefault("census.years.max", 2023)
	v.SetDefault("census.max_variables_per_request", 45)
	v.SetDefault("census.concurrency", 4)
	v.SetDefault("census.max_failed_chunks", 5)
	v.SetDefault("census.requests_per_second", 10)
	v.SetDefault("census.breaker_threshold", 5)
	v.SetDefault("census.timeout_secs", 60)
	v.SetDefault("tiger.base_url", "https://www2.census.gov/geo/tiger")
	v.SetDefault("tiger.cache_dir", "data/tiger")
	v.SetDefault("tiger.vintages.min", 2011)
	v.SetDefault("tiger.vintages.max", 2024)
	v.SetDefault("tiger.resolution", "full")
	v.SetDefault("tiger.timeout_secs", 600)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff", "500ms")
	v.SetDefault("retry.max_backoff", "30s")
	v.SetDefault("collect.year", 2021)
	v.SetDefault("collect.attribute", "total_population")
	v.SetDefault("collect.variables", []string{})
	v.SetDefault("collect.output_dir", "output")
	v.SetDefault("collect.fetch_timeout", "5m")
	v.SetDefault("store.driver", "")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.sqlite_path", "data/census.db")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// ParsedResolution maps the configured resolution onto a model.Resolution.
func (c TigerConfig) ParsedResolution() (model.Resolution, error) {
	switch strings.ToLower(strings.TrimSpace(c.Resolution)) {
	case "", "full":
		return model.ResolutionFull, nil
	case "500k":
		return model.Resolution500k, nil
	case "5m", "20m":
		return "", eris.Errorf("config: tiger.resolution %q: block groups are only published at full or 500k", c.Resolution)
	default:
		return "", eris.Errorf("config: tiger.resolution %q: want full or 500k", c.Resolution)
	}
}

// Validate checks the settings a command needs. Modes: collect, render,
// runs, store.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "collect":
		if strings.TrimSpace(c.APIKey) == "" {
			return failure.New(failure.MissingCredential, "census API key not configured (CENSUS_API_KEY)")
		}
		if _, err := c.Tiger.ParsedResolution(); err != nil {
			errs = append(errs, err.Error())
		}
		if c.Collect.FetchTimeout <= 0 {
			errs = append(errs, "collect.fetch_timeout must be positive")
		}
		if c.Retry.MaxAttempts < 1 {
			errs = append(errs, "retry.max_attempts must be at least 1")
		}
		if c.Census.Concurrency < 1 {
			errs = append(errs, "census.concurrency must be at least 1")
		}
		errs = append(errs, c.storeErrors(false)...)
	case "render":
		if c.Collect.Attribute == "" {
			errs = append(errs, "collect.attribute is required")
		}
	case "runs", "store":
		errs = append(errs, c.storeErrors(true)...)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) storeErrors(required bool) []string {
	switch c.Store.Driver {
	case "":
		if required {
			return []string{"store.driver is required (sqlite or postgres)"}
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return []string{"store.sqlite_path is required for the sqlite driver"}
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return []string{"store.database_url is required for the postgres driver"}
		}
	default:
		return []string{"store.driver must be sqlite or postgres, got " + c.Store.Driver}
	}
	return nil
}

// YAML renders the configuration with secrets masked.
func (c *Config) YAML() ([]byte, error) {
	masked := *c
	if masked.APIKey != "" {
		masked.APIKey = "********"
	}
	masked.Store.DatabaseURL = redactURL(masked.Store.DatabaseURL)

	b, err := yaml.Marshal(&masked)
	if err != nil {
		return nil, eris.Wrap(err, "config: marshal yaml")
	}
	return b, nil
}

func redactURL(raw string) string {
	if raw == "" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
