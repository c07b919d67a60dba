package provider

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/participant-enrichment/internal/model"
	"github.com/sells-group/participant-enrichment/internal/resilience"
	"github.com/sells-group/participant-enrichment/pkg/apierr"
)

// Lookup outcomes reported to an Observer.
const (
	OutcomeData        = "data"
	OutcomeNoData      = "no_data"
	OutcomeError       = "error"
	OutcomeCircuitOpen = "circuit_open"
)

// Observer receives one call per guarded lookup.
type Observer interface {
	ObserveLookup(src model.Source, outcome string, elapsed time.Duration)
}

// Guard bounds a single adapter's calls.
type Guard struct {
	Timeout  time.Duration
	Limiter  *rate.Limiter
	Breaker  *resilience.CircuitBreaker
	Observer Observer
}

type guarded struct {
	next Adapter
	g    Guard
}

// Guarded wraps a with a per-call timeout, rate limit and circuit breaker.
// Every failure it returns is a resilience.TransientError.
func Guarded(a Adapter, g Guard) Adapter {
	return &guarded{next: a, g: g}
}

func (w *guarded) Name() model.Source { return w.next.Name() }

func (w *guarded) Lookup(ctx context.Context, email, displayName string) (*model.EnrichedRecord, error) {
	src := w.next.Name()
	start := time.Now()

	if w.g.Limiter != nil {
		if err := w.g.Limiter.Wait(ctx); err != nil {
			w.observe(src, OutcomeError, start)
			return nil, resilience.NewTransientError(eris.Wrapf(err, "%s: rate limit wait", src), 0)
		}
	}

	if w.g.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.g.Timeout)
		defer cancel()
	}

	call := func(ctx context.Context) (*model.EnrichedRecord, error) {
		return w.next.Lookup(ctx, email, displayName)
	}

	var rec *model.EnrichedRecord
	var err error
	if w.g.Breaker != nil {
		rec, err = resilience.Execute(ctx, w.g.Breaker, call)
	} else {
		rec, err = call(ctx)
	}

	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		w.observe(src, OutcomeCircuitOpen, start)
		return nil, resilience.NewTransientError(eris.Wrapf(err, "%s", src), 0)
	case err != nil:
		w.observe(src, OutcomeError, start)
		return nil, resilience.NewTransientError(eris.Wrapf(err, "%s: lookup", src), apierr.Status(err))
	case rec == nil:
		w.observe(src, OutcomeNoData, start)
		return nil, nil
	default:
		w.observe(src, OutcomeData, start)
		return rec, nil
	}
}

func (w *guarded) observe(src model.Source, outcome string, start time.Time) {
	if w.g.Observer != nil {
		w.g.Observer.ObserveLookup(src, outcome, time.Since(start))
	}
}

// ShouldTrip counts upstream hiccups (timeouts, 429, 5xx) toward opening a
// provider's breaker. Client errors such as a bad key do not.
func ShouldTrip(err error) bool {
	return resilience.IsTransient(err) || apierr.IsTemporary(err)
}
