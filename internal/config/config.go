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
	Clearbit   ProviderAPI      `yaml:"clearbit" mapstructure:"clearbit"`
	Apollo     ProviderAPI      `yaml:"apollo" mapstructure:"apollo"`
	Perplexity PerplexityConfig `yaml:"perplexity" mapstructure:"perplexity"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Providers  ProvidersConfig  `yaml:"providers" mapstructure:"providers"`
	Queues     QueuesConfig     `yaml:"queues" mapstructure:"queues"`
	AutoMatch  AutoMatchConfig  `yaml:"automatch" mapstructure:"automatch"`
	Contacts   ContactsConfig   `yaml:"contacts" mapstructure:"contacts"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ProviderAPI holds credentials and limits for a person-lookup API.
type ProviderAPI struct {
	Key        string  `yaml:"key" mapstructure:"key"`
	BaseURL    string  `yaml:"base_url" mapstructure:"base_url"`
	RatePerSec float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// PerplexityConfig holds Perplexity API settings used by the linkedin lookup.
type PerplexityConfig struct {
	Key        string  `yaml:"key" mapstructure:"key"`
	BaseURL    string  `yaml:"base_url" mapstructure:"base_url"`
	Model      string  `yaml:"model" mapstructure:"model"`
	RatePerSec float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// AnthropicConfig holds Anthropic API settings used for profile extraction.
type AnthropicConfig struct {
	Key        string `yaml:"key" mapstructure:"key"`
	BaseURL    string `yaml:"base_url" mapstructure:"base_url"`
	HaikuModel string `yaml:"haiku_model" mapstructure:"haiku_model"`
}

// ProvidersConfig controls which lookup providers run and how they are guarded.
type ProvidersConfig struct {
	Enabled          []string `yaml:"enabled" mapstructure:"enabled"`
	DefaultChain     []string `yaml:"default_chain" mapstructure:"default_chain"`
	TimeoutSecs      int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	BreakerThreshold int      `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs int      `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// QueueConfig tunes one job queue.
type QueueConfig struct {
	Concurrency   int `yaml:"concurrency" mapstructure:"concurrency"`
	Attempts      int `yaml:"attempts" mapstructure:"attempts"`
	BackoffMs     int `yaml:"backoff_ms" mapstructure:"backoff_ms"`
	KeepCompleted int `yaml:"keep_completed" mapstructure:"keep_completed"`
	KeepFailed    int `yaml:"keep_failed" mapstructure:"keep_failed"`
}

// QueuesConfig holds settings for every queue plus shared polling knobs.
type QueuesConfig struct {
	Enrichment     QueueConfig `yaml:"enrichment" mapstructure:"enrichment"`
	AutoMatch      QueueConfig `yaml:"automatch" mapstructure:"automatch"`
	Bulk           QueueConfig `yaml:"bulk" mapstructure:"bulk"`
	PollIntervalMs int         `yaml:"poll_interval_ms" mapstructure:"poll_interval_ms"`
	LeaseSecs      int         `yaml:"lease_secs" mapstructure:"lease_secs"`
	BulkBatchSize  int         `yaml:"bulk_batch_size" mapstructure:"bulk_batch_size"`
}

// AutoMatchConfig configures the recurring auto-match sweep.
type AutoMatchConfig struct {
	LookbackDays   int     `yaml:"lookback_days" mapstructure:"lookback_days"`
	Schedule       string  `yaml:"schedule" mapstructure:"schedule"`
	FuzzyThreshold float64 `yaml:"fuzzy_threshold" mapstructure:"fuzzy_threshold"`
}

// ContactsConfig configures contact materialization.
type ContactsConfig struct {
	PhoneRegion string `yaml:"phone_region" mapstructure:"phone_region"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads config.yaml from the working directory, if present, and the
// environment.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file. A missing explicit file is
// an error; a missing default file is not.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("ENRICH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("clearbit.base_url", "https://person.clearbit.com")
	v.SetDefault("clearbit.rate_per_sec", 5)
	v.SetDefault("apollo.base_url", "https://api.apollo.io")
	v.SetDefault("apollo.rate_per_sec", 5)
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar-pro")
	v.SetDefault("perplexity.rate_per_sec", 2)
	v.SetDefault("anthropic.haiku_model", "claude-haiku-4-5-20251001")
	v.SetDefault("providers.default_chain", []string{"clearbit", "apollo", "linkedin"})
	v.SetDefault("providers.timeout_secs", 10)
	v.SetDefault("providers.breaker_threshold", 5)
	v.SetDefault("providers.breaker_reset_secs", 60)
	v.SetDefault("queues.enrichment.concurrency", 5)
	v.SetDefault("queues.enrichment.attempts", 3)
	v.SetDefault("queues.enrichment.backoff_ms", 5000)
	v.SetDefault("queues.enrichment.keep_completed", 100)
	v.SetDefault("queues.enrichment.keep_failed", 50)
	v.SetDefault("queues.automatch.concurrency", 2)
	v.SetDefault("queues.automatch.attempts", 2)
	v.SetDefault("queues.automatch.backoff_ms", 5000)
	v.SetDefault("queues.automatch.keep_completed", 50)
	v.SetDefault("queues.automatch.keep_failed", 25)
	v.SetDefault("queues.bulk.concurrency", 2)
	v.SetDefault("queues.bulk.attempts", 2)
	v.SetDefault("queues.bulk.backoff_ms", 5000)
	v.SetDefault("queues.bulk.keep_completed", 20)
	v.SetDefault("queues.bulk.keep_failed", 10)
	v.SetDefault("queues.poll_interval_ms", 1000)
	v.SetDefault("queues.lease_secs", 300)
	v.SetDefault("queues.bulk_batch_size", 10)
	v.SetDefault("automatch.lookback_days", 7)
	v.SetDefault("automatch.schedule", "0 */6 * * *")
	v.SetDefault("automatch.fuzzy_threshold", 0.8)
	v.SetDefault("contacts.phone_region", "US")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command needs before it starts.
func (c *Config) Validate(command string) error {
	var errs []string

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for the postgres driver")
		}
	case "sqlite":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required (sqlite file path)")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
	}

	if command == "serve" && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server.port %d is out of range", c.Server.Port))
	}
	if c.AutoMatch.FuzzyThreshold <= 0 || c.AutoMatch.FuzzyThreshold > 1 {
		errs = append(errs, "automatch.fuzzy_threshold must be in (0, 1]")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
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
