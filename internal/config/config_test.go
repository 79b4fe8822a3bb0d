package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "underwriter.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 30, cfg.Recalc.CacheTTLSecs)
	assert.Equal(t, "memory", cfg.Recalc.CacheBackend)
	assert.Equal(t, 150, cfg.Recalc.DebounceMS)
	assert.Equal(t, 500, cfg.Recalc.MaxWaitMS)
	assert.Equal(t, 10, cfg.Recalc.MonteCarloMinIterations)
	assert.Equal(t, 100_000, cfg.Recalc.MonteCarloMaxIterations)
	assert.Equal(t, 500, cfg.Recalc.DefaultIterations)
	assert.InDelta(t, 0.30, cfg.Risk.Weights.Regulatory, 0.001)
	assert.InDelta(t, 0.25, cfg.Risk.Weights.Financial, 0.001)
	assert.InDelta(t, 0.01, cfg.Risk.Weights.Technology, 0.001)
	assert.InDelta(t, 80, cfg.Risk.Thresholds.Critical, 0.001)
	assert.InDelta(t, 10, cfg.Risk.Thresholds.Low, 0.001)
	assert.Equal(t, 5, cfg.Risk.KeyRiskLimit)
	assert.InDelta(t, 60, cfg.Risk.PassThreshold, 0.001)
	assert.InDelta(t, 35, cfg.Risk.ConditionalThreshold, 0.001)
	assert.Equal(t, 168, cfg.CMS.CacheTTLHours)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/uw
log:
  level: debug
  format: console
recalc:
  cache_backend: redis
  workers: 4
risk:
  weights:
    regulatory: 0.4
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, "redis", cfg.Recalc.CacheBackend)
	assert.Equal(t, 4, cfg.Recalc.Workers)
	assert.InDelta(t, 0.4, cfg.Risk.Weights.Regulatory, 0.001)
	// Defaults still apply for unset values
	assert.InDelta(t, 0.25, cfg.Risk.Weights.Financial, 0.001)
	assert.Equal(t, 30, cfg.Recalc.CacheTTLSecs)
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

	t.Setenv("UNDERWRITE_STORE_DRIVER", "memory")
	t.Setenv("UNDERWRITE_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)
	t.Setenv("UNDERWRITE_RECALC_CACHE_TTL_SECS", "5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Recalc.CacheTTLSecs)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0644))

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadNamedFile(t *testing.T) {
	chdirTemp(t)
	path := filepath.Join(t.TempDir(), "deal-team.yaml")
	require.NoError(t, os.WriteFile(path, []byte("recalc:\n  workers: 3\nstore:\n  driver: memory\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Recalc.Workers)
	assert.Equal(t, "memory", cfg.Store.Driver)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "config: read file")
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

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "underwriter.db"
	cfg.Server.Port = 8080
	cfg.Server.RateLimitRPS = 20
	cfg.Recalc.CacheBackend = "memory"
	cfg.Recalc.CacheTTLSecs = 30
	cfg.Recalc.Workers = 8
	cfg.Recalc.DebounceMS = 150
	cfg.Recalc.MaxWaitMS = 500
	cfg.Recalc.MonteCarloMinIterations = 10
	cfg.Recalc.MonteCarloMaxIterations = 100_000
	cfg.Recalc.DefaultIterations = 500
	cfg.Risk.PassThreshold = 60
	cfg.Risk.ConditionalThreshold = 35
	return cfg
}

func TestValidate_Modes(t *testing.T) {
	for _, mode := range []string{"local", "store", "recalc", "serve"} {
		t.Run(mode, func(t *testing.T) {
			assert.NoError(t, validDefaults().Validate(mode))
		})
	}
}

func TestValidateStore_MissingURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "postgres"
	cfg.Store.DatabaseURL = ""

	err := cfg.Validate("store")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")

	cfg.Store.Driver = "memory"
	assert.NoError(t, cfg.Validate("store"))
}

func TestValidateStore_UnknownDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"
	err := cfg.Validate("store")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver")
}

func TestValidateRecalc(t *testing.T) {
	cfg := validDefaults()
	cfg.Recalc.CacheBackend = "redis"
	err := cfg.Validate("recalc")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "redis.addr is required")

	cfg.Redis.Addr = "localhost:6379"
	assert.NoError(t, cfg.Validate("recalc"))

	cfg.Recalc.Workers = 0
	err = cfg.Validate("recalc")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "recalc.workers must be between 1 and 64")

	cfg.Recalc.Workers = 8
	cfg.Recalc.MaxWaitMS = 100
	err = cfg.Validate("recalc")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "max_wait_ms")
}

func TestValidateRecalc_MonteCarloLimits(t *testing.T) {
	cfg := validDefaults()
	cfg.Recalc.MonteCarloMaxIterations = 5
	err := cfg.Validate("recalc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monte_carlo_max_iterations must be >= recalc.monte_carlo_min_iterations")
	assert.Contains(t, err.Error(), "default_iterations must be <=")

	cfg.Recalc.MonteCarloMaxIterations = 1_000
	assert.NoError(t, cfg.Validate("recalc"))
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateRiskThresholdOrder(t *testing.T) {
	cfg := validDefaults()
	cfg.Risk.PassThreshold = 30
	err := cfg.Validate("local")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "pass_threshold")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
