// Package enrichment is the job-manager surface: it enqueues enrichment,
// auto-match and bulk work, runs the workers that process it, and exposes
// the synchronous operations (manual link, calendar sync, reporting).
package enrichment

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/participant-enrichment/internal/automatch"
	"github.com/sells-group/participant-enrichment/internal/config"
	"github.com/sells-group/participant-enrichment/internal/jobqueue"
	"github.com/sells-group/participant-enrichment/internal/materialize"
	"github.com/sells-group/participant-enrichment/internal/metrics"
	"github.com/sells-group/participant-enrichment/internal/model"
	"github.com/sells-group/participant-enrichment/internal/provider"
	"github.com/sells-group/participant-enrichment/internal/resilience"
	"github.com/sells-group/participant-enrichment/internal/resolver"
	"github.com/sells-group/participant-enrichment/internal/store"
)

// Job names.
const (
	JobEnrichParticipant = "enrich-participant"
	JobAutoMatch         = "auto-match"
	JobBulkEnrichment    = "bulk-enrichment"
)

const defaultBulkBatchSize = 10

// Manager owns the queues and the components their jobs drive.
type Manager struct {
	store        store.Store
	cfg          *config.Config
	resolver     *resolver.Resolver
	materializer *materialize.Materializer
	sweeper      *automatch.Sweeper
	scheduler    *jobqueue.Scheduler
	enrichQ      *jobqueue.Queue
	autoMatchQ   *jobqueue.Queue
	bulkQ        *jobqueue.Queue
	chain        []model.Source
	metrics      *metrics.Manager
	breakers     *resilience.Breakers
	now          func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithMetrics reports queue, match and enrichment metrics to m.
func WithMetrics(m *metrics.Manager) Option {
	return func(mgr *Manager) { mgr.metrics = m }
}

// WithBreakers publishes the provider breakers' states alongside queue stats.
func WithBreakers(b *resilience.Breakers) Option {
	return func(mgr *Manager) { mgr.breakers = b }
}

// WithClock overrides the time source for queues and sweeps.
func WithClock(now func() time.Time) Option {
	return func(mgr *Manager) { mgr.now = now }
}

// New wires a Manager over st using the providers in reg.
func New(st store.Store, reg *provider.Registry, cfg *config.Config, opts ...Option) *Manager {
	m := &Manager{
		store: st,
		cfg:   cfg,
		now:   time.Now,
	}
	for _, o := range opts {
		o(m)
	}

	m.chain = parseChain(cfg.Providers.DefaultChain)
	m.resolver = resolver.New(reg)
	m.materializer = materialize.New(st, cfg.Contacts.PhoneRegion)
	m.sweeper = automatch.New(st,
		automatch.WithThreshold(cfg.AutoMatch.FuzzyThreshold),
		automatch.WithObserver(m.metrics),
		automatch.WithClock(m.now),
	)

	m.enrichQ = m.newQueue(jobqueue.QueueEnrichment, cfg.Queues.Enrichment)
	m.autoMatchQ = m.newQueue(jobqueue.QueueAutoMatch, cfg.Queues.AutoMatch)
	m.bulkQ = m.newQueue(jobqueue.QueueBulk, cfg.Queues.Bulk)
	m.scheduler = jobqueue.NewScheduler(st, 0, m.enrichQ, m.autoMatchQ, m.bulkQ)
	return m
}

func (m *Manager) newQueue(name string, qc config.QueueConfig) *jobqueue.Queue {
	opts := jobqueue.OptionsFromConfig(qc)
	opts.Now = m.now
	return jobqueue.New(name, m.store, opts)
}

func parseChain(names []string) []model.Source {
	var out []model.Source
	for _, n := range names {
		if src := model.Source(n); src.IsProvider() {
			out = append(out, src)
		}
	}
	if len(out) == 0 {
		return model.ProviderSources()
	}
	return out
}

// Pools builds one worker pool per queue, sized from configuration.
func (m *Manager) Pools() []*jobqueue.WorkerPool {
	q := m.cfg.Queues
	common := []jobqueue.PoolOption{
		jobqueue.WithPollInterval(time.Duration(q.PollIntervalMs) * time.Millisecond),
		jobqueue.WithLease(time.Duration(q.LeaseSecs) * time.Second),
		jobqueue.WithObserver(m.metrics),
	}
	pool := func(queue *jobqueue.Queue, h jobqueue.Handler, concurrency int) *jobqueue.WorkerPool {
		return jobqueue.NewWorkerPool(queue, h, append(common, jobqueue.WithConcurrency(concurrency))...)
	}
	return []*jobqueue.WorkerPool{
		pool(m.enrichQ, m.handleEnrich, q.Enrichment.Concurrency),
		pool(m.autoMatchQ, m.handleAutoMatch, q.AutoMatch.Concurrency),
		pool(m.bulkQ, m.handleBulk, q.Bulk.Concurrency),
	}
}

// Run starts every worker pool and the recurring scheduler, and blocks until
// ctx is cancelled and in-flight jobs have finished.
func (m *Manager) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range m.Pools() {
		g.Go(func() error { return p.Run(gctx) })
	}
	g.Go(func() error { return m.scheduler.Run(gctx) })
	g.Go(func() error {
		m.publishBreakers(gctx)
		return nil
	})
	zap.L().Info("enrichment: workers running")
	return g.Wait()
}

// Drain runs every ready job to completion, bulk first so the enrichment
// jobs it fans out are picked up in the same pass. It returns the number of
// jobs processed.
func (m *Manager) Drain(ctx context.Context) (int, error) {
	if _, err := m.scheduler.Tick(ctx); err != nil {
		return 0, err
	}
	total := 0
	for _, p := range []*jobqueue.WorkerPool{
		jobqueue.NewWorkerPool(m.bulkQ, m.handleBulk, jobqueue.WithObserver(m.metrics)),
		jobqueue.NewWorkerPool(m.enrichQ, m.handleEnrich, jobqueue.WithObserver(m.metrics)),
		jobqueue.NewWorkerPool(m.autoMatchQ, m.handleAutoMatch, jobqueue.WithObserver(m.metrics)),
	} {
		n, err := p.Drain(ctx)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (m *Manager) publishBreakers(ctx context.Context) {
	if m.breakers == nil || m.metrics == nil {
		return
	}
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		for name, state := range m.breakers.States() {
			m.metrics.SetBreakerState(name, state)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep runs one auto-match sweep for orgID outside the queues.
func (m *Manager) Sweep(ctx context.Context, orgID string, lookbackDays int) (*automatch.Result, error) {
	if orgID == "" {
		return nil, resilience.Invalid("organization_id", "required")
	}
	if lookbackDays <= 0 {
		lookbackDays = m.cfg.AutoMatch.LookbackDays
	}
	return m.sweeper.Sweep(ctx, orgID, lookbackDays)
}
