package history

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/participant-enrichment/internal/model"
	"github.com/sells-group/participant-enrichment/internal/store"
)

// DefaultSummaryDays is the history window used when none is given.
const DefaultSummaryDays = 30

// SourceStats aggregates history entries for one source value.
type SourceStats struct {
	Source         string  `json:"source"`
	Attempts       int     `json:"attempts"`
	Successes      int     `json:"successes"`
	Failures       int     `json:"failures"`
	SuccessRate    float64 `json:"success_rate"`
	TotalCostCents int     `json:"total_cost_cents"`
	AvgCostCents   float64 `json:"average_cost_cents"`
}

// Summary is the enrichment report for one organization.
type Summary struct {
	OrganizationID  string                         `json:"organization_id"`
	Since           time.Time                      `json:"since"`
	Participants    int                            `json:"participants"`
	StatusCounts    map[model.EnrichmentStatus]int `json:"status_counts"`
	MatchRate       float64                        `json:"match_rate"`
	AutoMatchRate   float64                        `json:"auto_match_rate"`
	ManualMatchRate float64                        `json:"manual_match_rate"`
	APIRate         float64                        `json:"api_enrichment_rate"`
	TotalCostCents  int                            `json:"total_cost_cents"`
	AvgCostCents    float64                        `json:"average_cost_cents"`
	Sources         []SourceStats                  `json:"sources"`
}

// Summarize groups entries by their source value. Rates are percentages and
// average cost is per success. The result is sorted by source.
func Summarize(entries []model.HistoryEntry) []SourceStats {
	bySource := map[string]*SourceStats{}
	for _, e := range entries {
		st, ok := bySource[e.Source]
		if !ok {
			st = &SourceStats{Source: e.Source}
			bySource[e.Source] = st
		}
		st.Attempts++
		if e.Status == model.HistorySuccess {
			st.Successes++
		} else {
			st.Failures++
		}
		if e.CostCents != nil {
			st.TotalCostCents += *e.CostCents
		}
	}

	out := make([]SourceStats, 0, len(bySource))
	for _, st := range bySource {
		st.SuccessRate = percent(st.Successes, st.Attempts)
		if st.Successes > 0 {
			st.AvgCostCents = float64(st.TotalCostCents) / float64(st.Successes)
		}
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

// Build combines history entries and participant status counts into a
// Summary.
func Build(orgID string, since time.Time, entries []model.HistoryEntry, counts map[model.EnrichmentStatus]int) *Summary {
	s := &Summary{
		OrganizationID: orgID,
		Since:          since,
		StatusCounts:   map[model.EnrichmentStatus]int{},
		Sources:        Summarize(entries),
	}
	linked := 0
	for _, status := range model.AllStatuses() {
		n := counts[status]
		s.StatusCounts[status] = n
		s.Participants += n
		if status.Linked() {
			linked += n
		}
	}
	s.MatchRate = percent(linked, s.Participants)

	var auto, manual, api, successes int
	for _, e := range entries {
		if e.CostCents != nil {
			s.TotalCostCents += *e.CostCents
		}
		if e.Status != model.HistorySuccess {
			continue
		}
		successes++
		switch {
		case e.Type == model.HistoryContactMatch && e.Source == string(model.SourceAuto):
			auto++
		case e.Type == model.HistoryContactMatch && e.Source == string(model.SourceManual):
			manual++
		case e.Type == model.HistoryAPILookup:
			api++
		}
	}
	total := auto + manual + api
	s.AutoMatchRate = percent(auto, total)
	s.ManualMatchRate = percent(manual, total)
	s.APIRate = percent(api, total)
	if successes > 0 {
		s.AvgCostCents = float64(s.TotalCostCents) / float64(successes)
	}
	return s
}

// Load reads the last days of history for orgID and summarizes it.
func Load(ctx context.Context, s store.Store, orgID string, days int, now time.Time) (*Summary, error) {
	if days <= 0 {
		days = DefaultSummaryDays
	}
	since := now.AddDate(0, 0, -days)
	entries, err := s.ListHistorySince(ctx, orgID, since)
	if err != nil {
		return nil, eris.Wrap(err, "history: load entries")
	}
	counts, err := s.CountByStatus(ctx, orgID)
	if err != nil {
		return nil, eris.Wrap(err, "history: count statuses")
	}
	return Build(orgID, since, entries, counts), nil
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}
