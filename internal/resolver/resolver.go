// Package resolver runs an ordered provider chain for one participant email
// and stops at the first provider that returns data.
package resolver

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/participant-enrichment/internal/model"
	"github.com/sells-group/participant-enrichment/internal/provider"
	"github.com/sells-group/participant-enrichment/internal/resilience"
)

// Result classifies a single provider attempt.
type Result string

const (
	ResultData   Result = "data"
	ResultNoData Result = "no_data"
	ResultError  Result = "error"
)

// Request identifies who to look up and which providers to try, in order.
type Request struct {
	ParticipantID  string
	OrganizationID string
	Email          string
	DisplayName    string
	Sources        []model.Source
	Priority       model.Priority
}

// Attempt is one provider call made during resolution.
type Attempt struct {
	Source model.Source
	Result Result
	Err    error
}

// Outcome is the result of a resolution. Record is nil when no provider had
// data.
type Outcome struct {
	Record    *model.EnrichedRecord
	Source    model.Source
	CostCents int
	Attempts  []Attempt
}

// Found reports whether a provider returned data.
func (o *Outcome) Found() bool {
	return o != nil && o.Record != nil
}

// AttemptedSources joins the attempted sources with commas.
func (o *Outcome) AttemptedSources() string {
	names := make([]string, len(o.Attempts))
	for i, a := range o.Attempts {
		names[i] = string(a.Source)
	}
	return strings.Join(names, ",")
}

// Errors summarizes failed attempts as "source: error" pairs.
func (o *Outcome) Errors() string {
	var parts []string
	for _, a := range o.Attempts {
		if a.Err != nil {
			parts = append(parts, string(a.Source)+": "+a.Err.Error())
		}
	}
	return strings.Join(parts, "; ")
}

// Resolver walks a provider chain.
type Resolver struct {
	registry *provider.Registry
}

// New creates a Resolver over reg.
func New(reg *provider.Registry) *Resolver {
	return &Resolver{registry: reg}
}

// Resolve tries req.Sources in order. Provider failures are recorded and the
// chain continues; only a cancelled context aborts resolution with an error.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Outcome, error) {
	log := zap.L().With(
		zap.String("participant_id", req.ParticipantID),
		zap.String("org_id", req.OrganizationID),
	)
	out := &Outcome{}

	for _, src := range req.Sources {
		if err := ctx.Err(); err != nil {
			return out, eris.Wrap(err, "resolver: resolve")
		}

		adapter, ok := r.registry.Get(src)
		if !ok {
			err := resilience.NewConfigurationError(string(src), "provider is not configured")
			log.Warn("resolver: skipping provider", zap.String("source", string(src)), zap.Error(err))
			out.Attempts = append(out.Attempts, Attempt{Source: src, Result: ResultError, Err: err})
			continue
		}

		rec, err := adapter.Lookup(ctx, req.Email, req.DisplayName)
		switch {
		case err != nil:
			log.Warn("resolver: provider failed", zap.String("source", string(src)), zap.Error(err))
			out.Attempts = append(out.Attempts, Attempt{Source: src, Result: ResultError, Err: err})
		case rec == nil:
			log.Debug("resolver: no data", zap.String("source", string(src)))
			out.Attempts = append(out.Attempts, Attempt{Source: src, Result: ResultNoData})
		default:
			out.Attempts = append(out.Attempts, Attempt{Source: src, Result: ResultData})
			out.Record = rec
			out.Source = src
			out.CostCents = rec.CostCents
			log.Info("resolver: enriched", zap.String("source", string(src)), zap.Float64("confidence", rec.Confidence))
			return out, nil
		}
	}
	return out, nil
}
