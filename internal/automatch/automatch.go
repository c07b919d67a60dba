// Package automatch links pending participants to existing contacts by exact
// email or by a fuzzy name match within the same email domain.
package automatch

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/participant-enrichment/internal/history"
	"github.com/sells-group/participant-enrichment/internal/model"
	"github.com/sells-group/participant-enrichment/internal/similarity"
	"github.com/sells-group/participant-enrichment/internal/store"
)

const (
	// DefaultLookbackDays bounds how far back pending participants are swept.
	DefaultLookbackDays = 7
	// DefaultThreshold is the name similarity a fuzzy match must exceed.
	DefaultThreshold = 0.8
	// FuzzyConfidence is recorded for every fuzzy match regardless of score.
	FuzzyConfidence = 0.8
)

// Match methods.
const (
	MethodExact = "exact_email"
	MethodFuzzy = "fuzzy_name"
)

// Observer counts matches by method.
type Observer interface {
	IncMatch(method string)
}

// Match is a contact chosen for a participant.
type Match struct {
	ContactID  string
	Confidence float64
	Method     string
}

// Result summarizes one sweep.
type Result struct {
	Processed int `json:"processed"`
	Matched   int `json:"matched"`
}

// Sweeper runs auto-match sweeps.
type Sweeper struct {
	store     store.Store
	threshold float64
	observer  Observer
	now       func() time.Time
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithThreshold overrides the fuzzy name threshold.
func WithThreshold(t float64) Option {
	return func(s *Sweeper) {
		if t > 0 && t <= 1 {
			s.threshold = t
		}
	}
}

// WithObserver reports matches to o.
func WithObserver(o Observer) Option {
	return func(s *Sweeper) { s.observer = o }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

// New creates a Sweeper over st.
func New(st store.Store, opts ...Option) *Sweeper {
	s := &Sweeper{store: st, threshold: DefaultThreshold, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Sweep matches the organization's pending participants whose meeting falls
// within the lookback window. Unmatched participants stay pending, so running
// it again is safe.
func (s *Sweeper) Sweep(ctx context.Context, orgID string, lookbackDays int) (*Result, error) {
	if lookbackDays <= 0 {
		lookbackDays = DefaultLookbackDays
	}
	log := zap.L().With(zap.String("org_id", orgID))
	since := s.now().AddDate(0, 0, -lookbackDays)

	pending, err := s.store.ListPendingSince(ctx, orgID, since)
	if err != nil {
		return nil, eris.Wrap(err, "automatch: list pending participants")
	}
	res := &Result{Processed: len(pending)}
	if len(pending) == 0 {
		return res, nil
	}

	contacts, err := s.store.ListContactRefs(ctx, orgID)
	if err != nil {
		return nil, eris.Wrap(err, "automatch: list contacts")
	}
	idx := newIndex(contacts)

	for i := range pending {
		if err := ctx.Err(); err != nil {
			return res, eris.Wrap(err, "automatch: sweep")
		}
		p := &pending[i]
		m, ok := idx.match(p, s.threshold)
		if !ok {
			continue
		}
		linked, err := s.apply(ctx, p, m)
		if err != nil {
			return res, err
		}
		if linked {
			res.Matched++
			if s.observer != nil {
				s.observer.IncMatch(m.Method)
			}
			log.Debug("automatch: linked participant",
				zap.String("participant_id", p.ID),
				zap.String("contact_id", m.ContactID),
				zap.String("method", m.Method),
			)
		}
	}

	log.Info("automatch: sweep complete", zap.Int("processed", res.Processed), zap.Int("matched", res.Matched))
	return res, nil
}

func (s *Sweeper) apply(ctx context.Context, p *model.Participant, m Match) (bool, error) {
	var moved bool
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		moved, err = tx.TransitionParticipant(ctx, model.ParticipantUpdate{
			ParticipantID:  p.ID,
			OrganizationID: p.OrganizationID,
			Status:         model.StatusMatched,
			ContactID:      model.Ptr(m.ContactID),
			Source:         model.Ptr(string(model.SourceAuto)),
			Confidence:     model.Ptr(m.Confidence),
			From:           []model.EnrichmentStatus{model.StatusPending},
		})
		if err != nil || !moved {
			return err
		}
		return history.Record(ctx, tx, history.ContactMatched(p, model.SourceAuto, m.ContactID, m.Confidence))
	})
	if err != nil {
		return false, eris.Wrapf(err, "automatch: link participant %s", p.ID)
	}
	return moved, nil
}

type index struct {
	byEmail  map[string]string
	byDomain map[string][]model.ContactRef
}

func newIndex(contacts []model.ContactRef) *index {
	idx := &index{
		byEmail:  make(map[string]string, len(contacts)),
		byDomain: make(map[string][]model.ContactRef),
	}
	for _, c := range contacts {
		email := normalizeEmail(c.Email)
		if email == "" {
			continue
		}
		if _, dup := idx.byEmail[email]; !dup {
			idx.byEmail[email] = c.ID
		}
		if d := domainOf(email); d != "" {
			idx.byDomain[d] = append(idx.byDomain[d], c)
		}
	}
	return idx
}

func (idx *index) match(p *model.Participant, threshold float64) (Match, bool) {
	email := normalizeEmail(p.Email)
	if id, ok := idx.byEmail[email]; ok {
		return Match{ContactID: id, Confidence: 1.0, Method: MethodExact}, true
	}
	if strings.TrimSpace(p.DisplayName) == "" {
		return Match{}, false
	}
	for _, c := range idx.byDomain[domainOf(email)] {
		if c.FullName == "" {
			continue
		}
		if similarity.Dice(c.FullName, p.DisplayName) > threshold {
			return Match{ContactID: c.ID, Confidence: FuzzyConfidence, Method: MethodFuzzy}, true
		}
	}
	return Match{}, false
}

// FindMatch picks a contact for p from contacts, or reports false.
func FindMatch(p *model.Participant, contacts []model.ContactRef, threshold float64) (Match, bool) {
	return newIndex(contacts).match(p, threshold)
}

func normalizeEmail(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}

func domainOf(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return email[at+1:]
}
