package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_Doubles(t *testing.T) {
	b := ExponentialBackoff(5 * time.Second)

	assert.Equal(t, 5*time.Second, b.Delay(1))
	assert.Equal(t, 10*time.Second, b.Delay(2))
	assert.Equal(t, 20*time.Second, b.Delay(3))
	assert.Equal(t, 5*time.Second, b.Delay(0))
}

func TestBackoff_Capped(t *testing.T) {
	b := Backoff{Base: time.Second, Max: 3 * time.Second, Multiplier: 2}

	assert.Equal(t, 3*time.Second, b.Delay(5))
}

func TestBackoff_JitterWithinRange(t *testing.T) {
	b := Backoff{Base: time.Second, Multiplier: 2, JitterFraction: 0.5}

	for i := 0; i < 50; i++ {
		d := b.Delay(1)
		assert.GreaterOrEqual(t, d, 500*time.Millisecond)
		assert.LessOrEqual(t, d, 1500*time.Millisecond)
	}
}
