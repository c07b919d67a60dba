package provider

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/sells-group/participant-enrichment/internal/model"
	"github.com/sells-group/participant-enrichment/internal/provider/mocks"
	"github.com/sells-group/participant-enrichment/internal/resilience"
	"github.com/sells-group/participant-enrichment/pkg/apierr"
)

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *recordingObserver) ObserveLookup(_ model.Source, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

func TestGuarded_Outcomes(t *testing.T) {
	rec := &model.EnrichedRecord{FullName: "Jane Doe"}

	m := mocks.NewMockAdapter(t, model.SourceClearbit)
	m.On("Lookup", mock.Anything, "hit@acme.com", "").Return(rec, nil).Once()
	m.On("Lookup", mock.Anything, "miss@acme.com", "").Return(nil, nil).Once()
	m.On("Lookup", mock.Anything, "err@acme.com", "").Return(nil, apierr.New("clearbit", 401, nil)).Once()

	obs := &recordingObserver{}
	g := Guarded(m, Guard{Timeout: time.Second, Observer: obs})
	assert.Equal(t, model.SourceClearbit, g.Name())

	got, err := g.Lookup(context.Background(), "hit@acme.com", "")
	require.NoError(t, err)
	assert.Same(t, rec, got)

	got, err = g.Lookup(context.Background(), "miss@acme.com", "")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = g.Lookup(context.Background(), "err@acme.com", "")
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
	var te *resilience.TransientError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 401, te.StatusCode)

	assert.Equal(t, []string{OutcomeData, OutcomeNoData, OutcomeError}, obs.outcomes)
}

func TestGuarded_Timeout(t *testing.T) {
	m := mocks.NewMockAdapter(t, model.SourceApollo)
	m.On("Lookup", mock.Anything, "slow@acme.com", "").Return(
		func(ctx context.Context, _, _ string) (*model.EnrichedRecord, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	).Once()

	g := Guarded(m, Guard{Timeout: 20 * time.Millisecond})
	start := time.Now()
	_, err := g.Lookup(context.Background(), "slow@acme.com", "")
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
	assert.Less(t, time.Since(start), time.Second)
}

func TestGuarded_BreakerOpensOnUpstreamFailures(t *testing.T) {
	m := mocks.NewMockAdapter(t, model.SourceClearbit)
	m.On("Lookup", mock.Anything, "a@acme.com", "").Return(nil, apierr.New("clearbit", 503, nil)).Twice()

	breakers := NewBreakers(configWithBreaker(2))
	obs := &recordingObserver{}
	g := Guarded(m, Guard{Breaker: breakers.Get("clearbit"), Observer: obs})

	for i := 0; i < 2; i++ {
		_, err := g.Lookup(context.Background(), "a@acme.com", "")
		require.Error(t, err)
	}
	assert.Equal(t, resilience.CircuitOpen, breakers.Get("clearbit").State())

	_, err := g.Lookup(context.Background(), "a@acme.com", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, resilience.ErrCircuitOpen))
	assert.True(t, resilience.IsTransient(err))
	assert.Equal(t, OutcomeCircuitOpen, obs.outcomes[2])
}

func TestGuarded_ClientErrorsDoNotTrip(t *testing.T) {
	m := mocks.NewMockAdapter(t, model.SourceApollo)
	m.On("Lookup", mock.Anything, "a@acme.com", "").Return(nil, apierr.New("apollo", 403, nil)).Times(3)

	breakers := NewBreakers(configWithBreaker(2))
	g := Guarded(m, Guard{Breaker: breakers.Get("apollo")})
	for i := 0; i < 3; i++ {
		_, err := g.Lookup(context.Background(), "a@acme.com", "")
		require.Error(t, err)
	}
	assert.Equal(t, resilience.CircuitClosed, breakers.Get("apollo").State())
}

func TestGuarded_RateLimitWaitCancelled(t *testing.T) {
	m := mocks.NewMockAdapter(t, model.SourceLinkedIn)
	lim := rate.NewLimiter(rate.Every(time.Hour), 1)
	require.True(t, lim.Allow())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	g := Guarded(m, Guard{Limiter: lim})
	_, err := g.Lookup(ctx, "a@acme.com", "")
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
	m.AssertNotCalled(t, "Lookup", mock.Anything, mock.Anything, mock.Anything)
}

func TestShouldTrip(t *testing.T) {
	assert.True(t, ShouldTrip(apierr.New("x", 429, nil)))
	assert.True(t, ShouldTrip(context.DeadlineExceeded))
	assert.False(t, ShouldTrip(apierr.New("x", 400, nil)))
	assert.False(t, ShouldTrip(resilience.NewConfigurationError("x", "y")))
}
