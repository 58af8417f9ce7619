package crawler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRetryPolicyAttemptBudget(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(3, 10*time.Millisecond, time.Second)
	require.True(t, p.ShouldRetry(Transient, 1))
	require.True(t, p.ShouldRetry(Transient, 2))
	require.False(t, p.ShouldRetry(Transient, 3), "third failure exhausts three attempts")
	require.False(t, p.ShouldRetry(Permanent, 1))
	require.Equal(t, 3, p.MaxAttempts())

	zero := NewExponentialRetryPolicy(0, 0, 0)
	require.False(t, zero.ShouldRetry(Transient, 1))
}

func TestRetryPolicyBackoffGrowsAndCaps(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(10, 100*time.Millisecond, 400*time.Millisecond)
	for attempt, ceiling := range map[int]time.Duration{
		1: 100 * time.Millisecond,
		2: 200 * time.Millisecond,
		3: 400 * time.Millisecond,
		6: 400 * time.Millisecond,
	} {
		got := p.Backoff(attempt)
		require.GreaterOrEqual(t, got, ceiling/2, "attempt %d", attempt)
		require.LessOrEqual(t, got, ceiling, "attempt %d", attempt)
	}
}
