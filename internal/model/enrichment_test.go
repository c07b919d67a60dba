package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPriority_RankAndDelay(t *testing.T) {
	t.Parallel()

	tests := []struct {
		p     Priority
		rank  int
		delay time.Duration
	}{
		{PriorityHigh, 1, 0},
		{PriorityMedium, 5, 5 * time.Second},
		{PriorityLow, 10, 5 * time.Second},
		{Priority(""), 5, 5 * time.Second},
	}
	for _, tt := range tests {
		t.Run(string(tt.p), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.rank, tt.p.Rank())
			assert.Equal(t, tt.delay, tt.p.Delay())
		})
	}
}

func TestSource_IsProvider(t *testing.T) {
	t.Parallel()

	for _, s := range ProviderSources() {
		assert.True(t, s.IsProvider(), s)
	}
	assert.False(t, SourceManual.IsProvider())
	assert.False(t, SourceAuto.IsProvider())
	assert.False(t, Source("zoominfo").IsProvider())
}
