package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(perMinute, concurrent int) (*ClientRateLimiter, *time.Time) {
	now := time.Unix(1_700_000_000, 0)
	limiter := NewClientRateLimiter(Limits{RequestsPerMinute: perMinute, MaxConcurrent: concurrent})
	limiter.now = func() time.Time { return now }
	return limiter, &now
}

func TestClientRateLimiter_Begin(t *testing.T) {
	t.Run("should allow requests under limit", func(t *testing.T) {
		limiter, _ := newTestLimiter(10, 5)

		for i := 0; i < 5; i++ {
			require.NoError(t, limiter.Begin())
		}
	})

	t.Run("should reject when concurrent limit exceeded", func(t *testing.T) {
		limiter, _ := newTestLimiter(100, 3)

		for i := 0; i < 3; i++ {
			require.NoError(t, limiter.Begin())
		}

		assert.ErrorIs(t, limiter.Begin(), ErrTooManyConcurrent)
	})

	t.Run("should reject when rate limit exceeded", func(t *testing.T) {
		limiter, _ := newTestLimiter(5, 10)

		for i := 0; i < 5; i++ {
			require.NoError(t, limiter.Begin())
			limiter.End()
		}

		assert.ErrorIs(t, limiter.Begin(), ErrRateLimited)
	})

	t.Run("should allow requests after window expires", func(t *testing.T) {
		limiter, now := newTestLimiter(2, 10)

		require.NoError(t, limiter.Begin())
		limiter.End()
		*now = now.Add(30 * time.Second)
		require.NoError(t, limiter.Begin())
		limiter.End()

		assert.ErrorIs(t, limiter.Begin(), ErrRateLimited)

		*now = now.Add(31 * time.Second)
		assert.NoError(t, limiter.Begin())

		requests, _ := limiter.Stats()
		assert.Equal(t, 2, requests)
	})

	t.Run("rejected requests are not counted", func(t *testing.T) {
		limiter, _ := newTestLimiter(100, 1)

		require.NoError(t, limiter.Begin())
		assert.Error(t, limiter.Begin())

		requests, inFlight := limiter.Stats()
		assert.Equal(t, 1, requests)
		assert.Equal(t, 1, inFlight)
	})
}

func TestClientRateLimiter_End(t *testing.T) {
	limiter, _ := newTestLimiter(100, 10)

	require.NoError(t, limiter.Begin())
	require.NoError(t, limiter.Begin())

	_, inFlight := limiter.Stats()
	assert.Equal(t, 2, inFlight)

	limiter.End()
	limiter.End()
	limiter.End()

	_, inFlight = limiter.Stats()
	assert.Equal(t, 0, inFlight)
}

func TestClientRateLimiter_SetLimits(t *testing.T) {
	limiter, _ := newTestLimiter(10, 3)

	for i := 0; i < 3; i++ {
		require.NoError(t, limiter.Begin())
	}
	assert.ErrorIs(t, limiter.Begin(), ErrTooManyConcurrent)

	limiter.SetLimits(Limits{RequestsPerMinute: 20, MaxConcurrent: 5})
	for i := 0; i < 2; i++ {
		require.NoError(t, limiter.Begin())
	}
	assert.ErrorIs(t, limiter.Begin(), ErrTooManyConcurrent)
}

func TestLimits_Defaults(t *testing.T) {
	assert.Equal(t, DefaultLimits, Limits{}.withDefaults())
	assert.Equal(t, Limits{RequestsPerMinute: 7, MaxConcurrent: DefaultLimits.MaxConcurrent}, Limits{RequestsPerMinute: 7}.withDefaults())
}
