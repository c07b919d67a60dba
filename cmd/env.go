package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/participant-enrichment/internal/enrichment"
	"github.com/sells-group/participant-enrichment/internal/metrics"
	"github.com/sells-group/participant-enrichment/internal/provider"
	"github.com/sells-group/participant-enrichment/internal/store"
)

// appEnv holds the components a command runs against.
type appEnv struct {
	Store   store.Store
	Manager *enrichment.Manager
	Metrics *metrics.Manager
}

// Close releases the store.
func (e *appEnv) Close() {
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("close store", zap.Error(err))
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL, &store.PoolConfig{
		MaxConns: cfg.Store.MaxConns,
		MinConns: cfg.Store.MinConns,
	})
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	return st, nil
}

// initEnv validates configuration for command, opens and migrates the store,
// and wires the provider registry into an enrichment manager.
func initEnv(ctx context.Context, command string) (*appEnv, error) {
	if err := cfg.Validate(command); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	m := metrics.NewManager(metrics.WithGoCollectors())
	breakers := provider.NewBreakers(cfg.Providers)
	reg, err := provider.FromConfig(cfg, breakers, m)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	zap.L().Info("providers registered", zap.Any("providers", reg.List()))

	mgr := enrichment.New(st, reg, cfg,
		enrichment.WithMetrics(m),
		enrichment.WithBreakers(breakers),
	)
	return &appEnv{Store: st, Manager: mgr, Metrics: m}, nil
}
