//go:build unit

package backoff

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExponential(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		base     time.Duration
		attempt  int
		expected time.Duration
	}{
		{
			name:     "attempt 0 returns base",
			base:     100 * time.Millisecond,
			attempt:  0,
			expected: 100 * time.Millisecond,
		},
		{
			name:     "attempt 1 doubles base",
			base:     100 * time.Millisecond,
			attempt:  1,
			expected: 200 * time.Millisecond,
		},
		{
			name:     "attempt 3 is 8x base",
			base:     100 * time.Millisecond,
			attempt:  3,
			expected: 800 * time.Millisecond,
		},
		{
			name:     "negative attempt treated as 0",
			base:     100 * time.Millisecond,
			attempt:  -5,
			expected: 100 * time.Millisecond,
		},
		{
			name:     "zero base returns zero",
			base:     0,
			attempt:  5,
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.expected, Exponential(tt.base, tt.attempt))
		})
	}
}

func TestPolicyDelayRespectsMax(t *testing.T) {
	t.Parallel()

	policy := Policy{Base: 1 * time.Second, Max: 4 * time.Second}

	for attempt := 0; attempt < 20; attempt++ {
		delay := policy.Delay(attempt)
		assert.GreaterOrEqual(t, delay, time.Duration(0))
		assert.Less(t, delay, 4*time.Second)
	}
}

func TestFullJitterBounds(t *testing.T) {
	t.Parallel()

	assert.Equal(t, time.Duration(0), FullJitter(0))
	assert.Equal(t, time.Duration(0), FullJitter(-time.Second))

	for i := 0; i < 100; i++ {
		jittered := FullJitter(time.Second)
		assert.GreaterOrEqual(t, jittered, time.Duration(0))
		assert.Less(t, jittered, time.Second)
	}
}

func TestSleepWithContext(t *testing.T) {
	t.Parallel()

	t.Run("returns immediately for non-positive durations", func(t *testing.T) {
		t.Parallel()

		require.NoError(t, SleepWithContext(context.Background(), 0))
		require.NoError(t, SleepWithContext(context.Background(), -time.Second))
	})

	t.Run("completes the sleep", func(t *testing.T) {
		t.Parallel()

		start := time.Now()
		require.NoError(t, SleepWithContext(context.Background(), 10*time.Millisecond))
		assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
	})

	t.Run("honors cancellation", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := SleepWithContext(ctx, time.Minute)
		require.ErrorIs(t, err, context.Canceled)
	})
}
