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
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "https://person.clearbit.com", cfg.Clearbit.BaseURL)
	assert.Equal(t, "https://api.apollo.io", cfg.Apollo.BaseURL)
	assert.Equal(t, "sonar-pro", cfg.Perplexity.Model)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.HaikuModel)
	assert.Equal(t, []string{"clearbit", "apollo", "linkedin"}, cfg.Providers.DefaultChain)
	assert.Equal(t, 10, cfg.Providers.TimeoutSecs)

	assert.Equal(t, 5, cfg.Queues.Enrichment.Concurrency)
	assert.Equal(t, 3, cfg.Queues.Enrichment.Attempts)
	assert.Equal(t, 100, cfg.Queues.Enrichment.KeepCompleted)
	assert.Equal(t, 50, cfg.Queues.Enrichment.KeepFailed)
	assert.Equal(t, 2, cfg.Queues.AutoMatch.Concurrency)
	assert.Equal(t, 2, cfg.Queues.AutoMatch.Attempts)
	assert.Equal(t, 50, cfg.Queues.AutoMatch.KeepCompleted)
	assert.Equal(t, 25, cfg.Queues.AutoMatch.KeepFailed)
	assert.Equal(t, 2, cfg.Queues.Bulk.Attempts)
	assert.Equal(t, 20, cfg.Queues.Bulk.KeepCompleted)
	assert.Equal(t, 10, cfg.Queues.Bulk.KeepFailed)
	assert.Equal(t, 5000, cfg.Queues.Bulk.BackoffMs)
	assert.Equal(t, 10, cfg.Queues.BulkBatchSize)

	assert.Equal(t, 7, cfg.AutoMatch.LookbackDays)
	assert.Equal(t, "0 */6 * * *", cfg.AutoMatch.Schedule)
	assert.InDelta(t, 0.8, cfg.AutoMatch.FuzzyThreshold, 0.001)
	assert.Equal(t, "US", cfg.Contacts.PhoneRegion)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
  database_url: /tmp/enrich.db
log:
  level: debug
  format: console
queues:
  enrichment:
    concurrency: 8
providers:
  default_chain: [apollo, clearbit]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 8, cfg.Queues.Enrichment.Concurrency)
	assert.Equal(t, []string{"apollo", "clearbit"}, cfg.Providers.DefaultChain)
	// Defaults still apply for unset values
	assert.Equal(t, 3, cfg.Queues.Enrichment.Attempts)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
clearbit:
  key: from-file
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("ENRICH_STORE_DRIVER", "postgres")
	t.Setenv("ENRICH_CLEARBIT_KEY", "from-env")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "from-env", cfg.Clearbit.Key)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0o644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestLoadFile(t *testing.T) {
	chdirTemp(t)
	path := filepath.Join(t.TempDir(), "enrichd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("automatch:\n  lookback_days: 14\n"), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 14, cfg.AutoMatch.LookbackDays)
	assert.Equal(t, "0 */6 * * *", cfg.AutoMatch.Schedule)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func validConfig() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "postgres"
	cfg.Store.DatabaseURL = "postgres://localhost/enrich"
	cfg.Server.Port = 8080
	cfg.AutoMatch.FuzzyThreshold = 0.8
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		command string
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}, command: "serve"},
		{name: "missing url", mutate: func(c *Config) { c.Store.DatabaseURL = "" }, command: "work", wantErr: "store.database_url"},
		{name: "bad driver", mutate: func(c *Config) { c.Store.Driver = "mysql" }, command: "work", wantErr: "not supported"},
		{name: "bad port", mutate: func(c *Config) { c.Server.Port = 0 }, command: "serve", wantErr: "server.port"},
		{name: "port ignored outside serve", mutate: func(c *Config) { c.Server.Port = 0 }, command: "work"},
		{name: "bad threshold", mutate: func(c *Config) { c.AutoMatch.FuzzyThreshold = 1.5 }, command: "work", wantErr: "fuzzy_threshold"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate(tt.command)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestInitLoggerConsole(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	assert.Error(t, InitLogger(LogConfig{Level: "invalid", Format: "json"}))
}
