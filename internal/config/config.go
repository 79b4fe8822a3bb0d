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
	Store  StoreConfig  `yaml:"store" mapstructure:"store"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
	Server ServerConfig `yaml:"server" mapstructure:"server"`
	Recalc RecalcConfig `yaml:"recalc" mapstructure:"recalc"`
	Redis  RedisConfig  `yaml:"redis" mapstructure:"redis"`
	Risk   RiskConfig   `yaml:"risk" mapstructure:"risk"`
	CMS    CMSConfig    `yaml:"cms" mapstructure:"cms"`
	Retry  RetryConfig  `yaml:"retry" mapstructure:"retry"`
}

// StoreConfig configures the database backend. Driver is postgres, sqlite,
// or memory; for sqlite DatabaseURL is a file path.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int    `yaml:"max_conns" mapstructure:"max_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port         int      `yaml:"port" mapstructure:"port"`
	RateLimitRPS float64  `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	Burst        int      `yaml:"burst" mapstructure:"burst"`
	CORSOrigins  []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// RecalcConfig configures the recalculation engine.
type RecalcConfig struct {
	CacheTTLSecs            int    `yaml:"cache_ttl_secs" mapstructure:"cache_ttl_secs"`
	CacheBackend            string `yaml:"cache_backend" mapstructure:"cache_backend"`
	Workers                 int    `yaml:"workers" mapstructure:"workers"`
	DebounceMS              int    `yaml:"debounce_ms" mapstructure:"debounce_ms"`
	MaxWaitMS               int    `yaml:"max_wait_ms" mapstructure:"max_wait_ms"`
	MonteCarloMinIterations int    `yaml:"monte_carlo_min_iterations" mapstructure:"monte_carlo_min_iterations"`
	MonteCarloMaxIterations int    `yaml:"monte_carlo_max_iterations" mapstructure:"monte_carlo_max_iterations"`
	DefaultIterations       int    `yaml:"default_iterations" mapstructure:"default_iterations"`
}

// RedisConfig configures the optional shared cache.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
}

// RiskConfig tunes the risk engine. Category weights are fractions that
// sum to 1; scores and thresholds are on a 0-100 scale.
type RiskConfig struct {
	Weights              RiskWeights    `yaml:"weights" mapstructure:"weights"`
	Thresholds           RiskThresholds `yaml:"thresholds" mapstructure:"thresholds"`
	KeyRiskLimit         int            `yaml:"key_risk_limit" mapstructure:"key_risk_limit"`
	KeyRiskMinScore      float64        `yaml:"key_risk_min_score" mapstructure:"key_risk_min_score"`
	PassThreshold        float64        `yaml:"pass_threshold" mapstructure:"pass_threshold"`
	ConditionalThreshold float64        `yaml:"conditional_threshold" mapstructure:"conditional_threshold"`
}

// RiskWeights holds the per-category weights.
type RiskWeights struct {
	Regulatory    float64 `yaml:"regulatory" mapstructure:"regulatory"`
	Financial     float64 `yaml:"financial" mapstructure:"financial"`
	Operational   float64 `yaml:"operational" mapstructure:"operational"`
	Market        float64 `yaml:"market" mapstructure:"market"`
	Reputational  float64 `yaml:"reputational" mapstructure:"reputational"`
	Legal         float64 `yaml:"legal" mapstructure:"legal"`
	Environmental float64 `yaml:"environmental" mapstructure:"environmental"`
	Technology    float64 `yaml:"technology" mapstructure:"technology"`
}

// RiskThresholds are the lower bounds of each rating tier.
type RiskThresholds struct {
	Critical float64 `yaml:"critical" mapstructure:"critical"`
	High     float64 `yaml:"high" mapstructure:"high"`
	Elevated float64 `yaml:"elevated" mapstructure:"elevated"`
	Moderate float64 `yaml:"moderate" mapstructure:"moderate"`
	Low      float64 `yaml:"low" mapstructure:"low"`
}

// CMSConfig configures CMS provider lookups. An empty BaseURL disables
// fetching; lookups are then served from the cache and store only.
type CMSConfig struct {
	CacheTTLHours int    `yaml:"cache_ttl_hours" mapstructure:"cache_ttl_hours"`
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	Dataset       string `yaml:"dataset" mapstructure:"dataset"`
	TimeoutSecs   int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// RetryConfig configures retries of external calls.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// Load reads configuration from the environment and a YAML file. With no
// file argument ./config.yaml is used if present; a named file must exist.
func Load(file ...string) (*Config, error) {
	v := viper.New()

	if len(file) > 0 && file[0] != "" {
		v.SetConfigFile(file[0])
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("UNDERWRITE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "underwriter.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_limit_rps", 20.0)
	v.SetDefault("server.burst", 40)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("recalc.cache_ttl_secs", 30)
	v.SetDefault("recalc.cache_backend", "memory")
	v.SetDefault("recalc.workers", 8)
	v.SetDefault("recalc.debounce_ms", 150)
	v.SetDefault("recalc.max_wait_ms", 500)
	v.SetDefault("recalc.monte_carlo_min_iterations", 10)
	v.SetDefault("recalc.monte_carlo_max_iterations", 100_000)
	v.SetDefault("recalc.default_iterations", 500)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("risk.weights.regulatory", 0.30)
	v.SetDefault("risk.weights.financial", 0.25)
	v.SetDefault("risk.weights.operational", 0.20)
	v.SetDefault("risk.weights.market", 0.10)
	v.SetDefault("risk.weights.reputational", 0.10)
	v.SetDefault("risk.weights.legal", 0.01)
	v.SetDefault("risk.weights.environmental", 0.01)
	v.SetDefault("risk.weights.technology", 0.01)
	v.SetDefault("risk.thresholds.critical", 80)
	v.SetDefault("risk.thresholds.high", 60)
	v.SetDefault("risk.thresholds.elevated", 40)
	v.SetDefault("risk.thresholds.moderate", 20)
	v.SetDefault("risk.thresholds.low", 10)
	v.SetDefault("risk.key_risk_limit", 5)
	v.SetDefault("risk.key_risk_min_score", 40)
	v.SetDefault("risk.pass_threshold", 60)
	v.SetDefault("risk.conditional_threshold", 35)
	v.SetDefault("cms.cache_ttl_hours", 168)
	v.SetDefault("cms.base_url", "https://data.cms.gov/provider-data/api/1/datastore/query")
	v.SetDefault("cms.dataset", "4pq5-n9py")
	v.SetDefault("cms.timeout_secs", 30)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 10_000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)

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

// Validate checks the settings a command mode depends on. Modes: "store"
// (any command that reads or writes overrides), "serve", "recalc", and
// "local" (pure engines, no external dependencies).
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "local":
	case "store":
		errs = append(errs, c.validateStore()...)
	case "recalc":
		errs = append(errs, c.validateStore()...)
		errs = append(errs, c.validateRecalc()...)
	case "serve":
		errs = append(errs, c.validateStore()...)
		errs = append(errs, c.validateRecalc()...)
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Server.RateLimitRPS <= 0 {
			errs = append(errs, "server.rate_limit_rps must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Risk.PassThreshold < c.Risk.ConditionalThreshold {
		errs = append(errs, "risk.pass_threshold must be >= risk.conditional_threshold")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateStore() []string {
	var errs []string
	switch c.Store.Driver {
	case "memory":
	case "postgres", "sqlite":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q must be postgres, sqlite, or memory", c.Store.Driver))
	}
	return errs
}

func (c *Config) validateRecalc() []string {
	var errs []string
	if c.Recalc.CacheTTLSecs < 0 {
		errs = append(errs, "recalc.cache_ttl_secs must be >= 0")
	}
	switch c.Recalc.CacheBackend {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, "redis.addr is required when recalc.cache_backend is redis")
		}
	default:
		errs = append(errs, fmt.Sprintf("recalc.cache_backend %q must be memory or redis", c.Recalc.CacheBackend))
	}
	if c.Recalc.Workers < 1 || c.Recalc.Workers > 64 {
		errs = append(errs, "recalc.workers must be between 1 and 64")
	}
	if c.Recalc.MaxWaitMS > 0 && c.Recalc.MaxWaitMS < c.Recalc.DebounceMS {
		errs = append(errs, "recalc.max_wait_ms must be >= recalc.debounce_ms")
	}
	if c.Recalc.MonteCarloMaxIterations < c.Recalc.MonteCarloMinIterations {
		errs = append(errs, "recalc.monte_carlo_max_iterations must be >= recalc.monte_carlo_min_iterations")
	}
	if c.Recalc.DefaultIterations > c.Recalc.MonteCarloMaxIterations {
		errs = append(errs, "recalc.default_iterations must be <= recalc.monte_carlo_max_iterations")
	}
	return errs
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
