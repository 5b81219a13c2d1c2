package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Database   DatabaseConfig   `yaml:"database" mapstructure:"database"`
	Basins     BasinsConfig     `yaml:"basins" mapstructure:"basins"`
	Raster     RasterConfig     `yaml:"raster" mapstructure:"raster"`
	Remote     RemoteConfig     `yaml:"remote" mapstructure:"remote"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Resilience ResilienceConfig `yaml:"resilience" mapstructure:"resilience"`
	Analysis   AnalysisConfig   `yaml:"analysis" mapstructure:"analysis"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the run history backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // "sqlite", "postgres" or "none"
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// DatabaseConfig configures the PostGIS connection holding basin datasets.
type DatabaseConfig struct {
	URL      string `yaml:"url" mapstructure:"url"`
	MaxConns int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// BasinsConfig configures basin dataset ingest.
type BasinsConfig struct {
	SourceURL   string   `yaml:"source_url" mapstructure:"source_url"` // {region} and {level} placeholders
	Regions     []string `yaml:"regions" mapstructure:"regions"`
	TempDir     string   `yaml:"temp_dir" mapstructure:"temp_dir"`
	BatchSize   int      `yaml:"batch_size" mapstructure:"batch_size"`
	Concurrency int      `yaml:"concurrency" mapstructure:"concurrency"`
}

// RasterConfig configures the object store holding raster layers.
type RasterConfig struct {
	Endpoint  string `yaml:"endpoint" mapstructure:"endpoint"`
	AccessKey string `yaml:"access_key" mapstructure:"access_key"`
	SecretKey string `yaml:"secret_key" mapstructure:"secret_key"`
	Bucket    string `yaml:"bucket" mapstructure:"bucket"`
	Dataset   string `yaml:"dataset" mapstructure:"dataset"`
	UseSSL    bool   `yaml:"use_ssl" mapstructure:"use_ssl"`
}

// RemoteConfig configures the hosted processing API. When BaseURL is set
// it replaces the local PostGIS + object store backend.
type RemoteConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	APIKey      string  `yaml:"api_key" mapstructure:"api_key"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit"` // requests per second
	Burst       int     `yaml:"burst" mapstructure:"burst"`
}

// CacheConfig configures the upstream, basin and raster caches.
type CacheConfig struct {
	RedisURL        string `yaml:"redis_url" mapstructure:"redis_url"`
	UpstreamTTLMins int    `yaml:"upstream_ttl_mins" mapstructure:"upstream_ttl_mins"`
	UpstreamSize    int    `yaml:"upstream_size" mapstructure:"upstream_size"`
	BasinLevels     int    `yaml:"basin_levels" mapstructure:"basin_levels"`
	BasinTTLMins    int    `yaml:"basin_ttl_mins" mapstructure:"basin_ttl_mins"`
	RasterSize      int    `yaml:"raster_size" mapstructure:"raster_size"`
	RasterTTLMins   int    `yaml:"raster_ttl_mins" mapstructure:"raster_ttl_mins"`
}

// ResilienceConfig configures retries and the circuit breaker around
// geospatial service calls.
type ResilienceConfig struct {
	CallTimeoutSecs  int     `yaml:"call_timeout_secs" mapstructure:"call_timeout_secs"`
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
	FailureThreshold int     `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int     `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// AnalysisConfig holds the analysis defaults applied when a request omits
// a parameter.
type AnalysisConfig struct {
	MaxIterations      int `yaml:"max_iterations" mapstructure:"max_iterations"`
	DefaultLevel       int `yaml:"default_level" mapstructure:"default_level"`
	DefaultThreshold   int `yaml:"default_threshold" mapstructure:"default_threshold"`
	DefaultStartYear   int `yaml:"default_start_year" mapstructure:"default_start_year"`
	DefaultEndYear     int `yaml:"default_end_year" mapstructure:"default_end_year"`
	RequestTimeoutSecs int `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
	MaxChartBasins     int `yaml:"max_chart_basins" mapstructure:"max_chart_basins"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port            int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins  []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	ShutdownTimeout int      `yaml:"shutdown_timeout_secs" mapstructure:"shutdown_timeout_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CATCHMENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "catchment.db")
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("basins.source_url", "https://data.hydrosheds.org/file/hydrobasins/standard/hybas_{region}_lev{level}_v1c.zip")
	v.SetDefault("basins.regions", []string{"af", "ar", "as", "au", "eu", "gr", "na", "sa", "si"})
	v.SetDefault("basins.temp_dir", "/tmp/catchment")
	v.SetDefault("basins.concurrency", 3)
	v.SetDefault("basins.batch_size", 5000)
	v.SetDefault("raster.endpoint", "localhost:9000")
	v.SetDefault("raster.bucket", "forest-change")
	v.SetDefault("raster.dataset", "hansen_gfc_2020_v1_8")
	v.SetDefault("raster.access_key", "")
	v.SetDefault("raster.secret_key", "")
	v.SetDefault("raster.use_ssl", false)
	v.SetDefault("remote.base_url", "")
	v.SetDefault("remote.api_key", "")
	v.SetDefault("remote.timeout_secs", 60)
	v.SetDefault("remote.rate_limit", 5.0)
	v.SetDefault("remote.burst", 5)
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.upstream_ttl_mins", 60)
	v.SetDefault("cache.upstream_size", 1000)
	v.SetDefault("cache.basin_levels", 8)
	v.SetDefault("cache.basin_ttl_mins", 720)
	v.SetDefault("cache.raster_size", 16)
	v.SetDefault("cache.raster_ttl_mins", 30)
	v.SetDefault("resilience.call_timeout_secs", 120)
	v.SetDefault("resilience.max_attempts", 3)
	v.SetDefault("resilience.initial_backoff_ms", 500)
	v.SetDefault("resilience.max_backoff_ms", 10000)
	v.SetDefault("resilience.multiplier", 2.0)
	v.SetDefault("resilience.jitter_fraction", 0.25)
	v.SetDefault("resilience.failure_threshold", 5)
	v.SetDefault("resilience.reset_timeout_secs", 30)
	v.SetDefault("analysis.max_iterations", 100)
	v.SetDefault("analysis.default_level", 6)
	v.SetDefault("analysis.default_threshold", 80)
	v.SetDefault("analysis.default_start_year", 10)
	v.SetDefault("analysis.default_end_year", 20)
	v.SetDefault("analysis.request_timeout_secs", 300)
	v.SetDefault("analysis.max_chart_basins", 10)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout_secs", 10)
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

// Validate checks the settings a command mode depends on. Modes are
// "serve", "stats" and "basins"; every violation is reported at once.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "postgres", "none":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q must be sqlite, postgres or none", c.Store.Driver))
	}
	if c.Analysis.MaxIterations <= 0 {
		errs = append(errs, "analysis.max_iterations must be > 0")
	}
	if c.Analysis.DefaultStartYear > c.Analysis.DefaultEndYear {
		errs = append(errs, "analysis.default_start_year must not exceed default_end_year")
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		errs = append(errs, c.backendErrors()...)
	case "stats":
		errs = append(errs, c.backendErrors()...)
	case "basins":
		if c.Database.URL == "" {
			errs = append(errs, "database.url is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// backendErrors checks that either the remote API or the local
// PostGIS + object store backend is configured.
func (c *Config) backendErrors() []string {
	if c.Remote.BaseURL != "" {
		return nil
	}
	var errs []string
	if c.Database.URL == "" {
		errs = append(errs, "database.url is required when remote.base_url is unset")
	}
	if c.Raster.Endpoint == "" || c.Raster.Bucket == "" {
		errs = append(errs, "raster.endpoint and raster.bucket are required when remote.base_url is unset")
	}
	return errs
}

// RunStoreURL returns the DSN for the run history store.
func (c *Config) RunStoreURL() string {
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		return c.Database.URL
	}
	return c.Store.DatabaseURL
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
