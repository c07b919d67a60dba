package provider

import (
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/participant-enrichment/internal/config"
	"github.com/sells-group/participant-enrichment/internal/model"
	"github.com/sells-group/participant-enrichment/internal/resilience"
	"github.com/sells-group/participant-enrichment/pkg/anthropic"
	"github.com/sells-group/participant-enrichment/pkg/apollo"
	"github.com/sells-group/participant-enrichment/pkg/clearbit"
	"github.com/sells-group/participant-enrichment/pkg/perplexity"
)

const defaultLookupTimeout = 10 * time.Second

// FromConfig builds a registry of guarded adapters. When providers.enabled is
// empty every provider with credentials is registered; a provider listed
// explicitly without its credentials is a ConfigurationError.
func FromConfig(cfg *config.Config, breakers *resilience.Breakers, obs Observer) (*Registry, error) {
	enabled := cfg.Providers.Enabled
	strict := len(enabled) > 0
	if !strict {
		for _, src := range model.ProviderSources() {
			enabled = append(enabled, string(src))
		}
	}

	timeout := defaultLookupTimeout
	if cfg.Providers.TimeoutSecs > 0 {
		timeout = time.Duration(cfg.Providers.TimeoutSecs) * time.Second
	}

	reg := NewRegistry()
	for _, name := range enabled {
		src := model.Source(name)
		if !src.IsProvider() {
			return nil, resilience.NewConfigurationError("providers", fmt.Sprintf("unknown provider %q", name))
		}

		adapter, rps, missing := build(cfg, src)
		if missing != "" {
			if strict {
				return nil, resilience.NewConfigurationError(name, missing+" is not set")
			}
			zap.L().Info("provider: skipping, no credentials", zap.String("provider", name))
			continue
		}

		g := Guard{Timeout: timeout, Observer: obs}
		if rps > 0 {
			g.Limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
		if breakers != nil {
			g.Breaker = breakers.Get(name)
		}
		reg.Register(Guarded(adapter, g))
	}
	return reg, nil
}

// build returns the adapter for src, its request rate, or the name of the
// missing credential.
func build(cfg *config.Config, src model.Source) (Adapter, float64, string) {
	switch src {
	case model.SourceClearbit:
		if cfg.Clearbit.Key == "" {
			return nil, 0, "clearbit.key"
		}
		var opts []clearbit.Option
		if cfg.Clearbit.BaseURL != "" {
			opts = append(opts, clearbit.WithBaseURL(cfg.Clearbit.BaseURL))
		}
		return NewClearbit(clearbit.NewClient(cfg.Clearbit.Key, opts...)), cfg.Clearbit.RatePerSec, ""
	case model.SourceApollo:
		if cfg.Apollo.Key == "" {
			return nil, 0, "apollo.key"
		}
		var opts []apollo.Option
		if cfg.Apollo.BaseURL != "" {
			opts = append(opts, apollo.WithBaseURL(cfg.Apollo.BaseURL))
		}
		return NewApollo(apollo.NewClient(cfg.Apollo.Key, opts...)), cfg.Apollo.RatePerSec, ""
	case model.SourceLinkedIn:
		if cfg.Perplexity.Key == "" {
			return nil, 0, "perplexity.key"
		}
		if cfg.Anthropic.Key == "" {
			return nil, 0, "anthropic.key"
		}
		opts := []perplexity.Option{perplexity.WithTemperature(0.2)}
		if cfg.Perplexity.BaseURL != "" {
			opts = append(opts, perplexity.WithBaseURL(cfg.Perplexity.BaseURL))
		}
		if cfg.Perplexity.Model != "" {
			opts = append(opts, perplexity.WithModel(cfg.Perplexity.Model))
		}
		var aiOpts []option.RequestOption
		if cfg.Anthropic.BaseURL != "" {
			aiOpts = append(aiOpts, option.WithBaseURL(cfg.Anthropic.BaseURL))
		}
		return NewLinkedIn(
			perplexity.NewClient(cfg.Perplexity.Key, opts...),
			anthropic.NewClient(cfg.Anthropic.Key, aiOpts...),
			cfg.Anthropic.HaikuModel,
		), cfg.Perplexity.RatePerSec, ""
	}
	return nil, 0, "provider"
}

// NewBreakers creates the per-provider breaker set configured by cfg.
func NewBreakers(cfg config.ProvidersConfig) *resilience.Breakers {
	bc := resilience.NewBreakerConfig(cfg.BreakerThreshold, cfg.BreakerResetSecs)
	bc.ShouldTrip = ShouldTrip
	return resilience.NewBreakers(bc)
}
