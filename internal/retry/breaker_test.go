package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := NewBreaker(3, 50*time.Millisecond)
	require.True(t, b.Allow())

	b.RecordFailure()
	b.RecordFailure()
	assert.False(t, b.Open(), "should stay closed below threshold")

	b.RecordFailure()
	assert.True(t, b.Open(), "should open once threshold reached")
	assert.False(t, b.Allow())
}

func TestBreakerClosesAfterCooldown(t *testing.T) {
	b := NewBreaker(1, 10*time.Millisecond)
	b.RecordFailure()
	require.True(t, b.Open())

	time.Sleep(20 * time.Millisecond)
	assert.True(t, b.Allow(), "trial call should be allowed once cooldown elapses")

	b.RecordSuccess()
	assert.False(t, b.Open())
}

func TestBreakerResetClearsState(t *testing.T) {
	b := NewBreaker(1, time.Hour)
	b.RecordFailure()
	require.True(t, b.Open())

	b.Reset()
	assert.False(t, b.Open())
	assert.True(t, b.Allow())
}
