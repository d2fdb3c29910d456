package server

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is advanced manually by tests.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func withClock(rl *RateLimiter, c *fakeClock) *RateLimiter {
	rl.now = c.now
	return rl
}

func TestNewRateLimiter(t *testing.T) {
	rl := NewRateLimiter(10, 100, 1000, 1024*1024)

	assert.Equal(t, 10, rl.requestsPerMinute)
	assert.Equal(t, 100, rl.requestsPerHour)
	assert.Equal(t, 1000, rl.maxRequestsPerDay)
	assert.Equal(t, int64(1024*1024), rl.maxDataPerDay)
	assert.NotNil(t, rl.clients)
}

func TestRateLimiter_NoLimits(t *testing.T) {
	rl := NewRateLimiter(0, 0, 0, 0)

	for range 100 {
		require.NoError(t, rl.CheckRateLimit("client", 100))
	}
	usage := rl.GetUsage("client")
	assert.Equal(t, 100, usage.RequestsToday())
	assert.Equal(t, int64(10000), usage.DataToday())
}

func TestRateLimiter_RequestsPerMinute(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC))
	rl := withClock(NewRateLimiter(2, 0, 0, 0), clock)

	require.NoError(t, rl.CheckRateLimit("client", 0))
	clock.advance(20 * time.Second)
	require.NoError(t, rl.CheckRateLimit("client", 0))

	err := rl.CheckRateLimit("client", 0)
	var rateErr *RateLimitError
	require.ErrorAs(t, err, &rateErr)
	assert.Equal(t, limitMinute, rateErr.Type)
	assert.Equal(t, 2, rateErr.Limit)
	assert.Equal(t, 40*time.Second, rateErr.RetryAfter)

	// A rejected request does not count.
	assert.Equal(t, 2, rl.GetUsage("client").RequestsToday())

	clock.advance(40 * time.Second)
	assert.NoError(t, rl.CheckRateLimit("client", 0))
}

func TestRateLimiter_RequestsPerHour(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC))
	rl := withClock(NewRateLimiter(0, 3, 0, 0), clock)

	for range 3 {
		require.NoError(t, rl.CheckRateLimit("client", 0))
		clock.advance(5 * time.Minute)
	}

	err := rl.CheckRateLimit("client", 0)
	var rateErr *RateLimitError
	require.ErrorAs(t, err, &rateErr)
	assert.Equal(t, limitHour, rateErr.Type)
	assert.Equal(t, 45*time.Minute, rateErr.RetryAfter)

	clock.advance(45 * time.Minute)
	assert.NoError(t, rl.CheckRateLimit("client", 0))
}

func TestRateLimiter_MaxRequestsPerDay(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 4, 23, 0, 0, 0, time.UTC))
	rl := withClock(NewRateLimiter(0, 0, 2, 0), clock)

	require.NoError(t, rl.CheckRateLimit("client", 0))
	require.NoError(t, rl.CheckRateLimit("client", 0))

	err := rl.CheckRateLimit("client", 0)
	var quotaErr *QuotaExceededError
	require.ErrorAs(t, err, &quotaErr)
	assert.Equal(t, quotaRequests, quotaErr.Type)
	assert.Equal(t, int64(2), quotaErr.Limit)
	assert.Equal(t, int64(2), quotaErr.Used)
	assert.Equal(t, time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC), quotaErr.Resets)

	// Crossing midnight resets the quota, also across month boundaries.
	clock.advance(2 * time.Hour)
	assert.NoError(t, rl.CheckRateLimit("client", 0))
}

func TestRateLimiter_DayResetSameDayNextMonth(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 1, 31, 12, 0, 0, 0, time.UTC))
	rl := withClock(NewRateLimiter(0, 0, 1, 0), clock)

	require.NoError(t, rl.CheckRateLimit("client", 0))
	clock.t = time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)
	assert.NoError(t, rl.CheckRateLimit("client", 0))
}

func TestRateLimiter_MaxDataPerDay(t *testing.T) {
	rl := NewRateLimiter(0, 0, 0, 1000)

	require.NoError(t, rl.CheckRateLimit("client", 500))
	require.NoError(t, rl.CheckRateLimit("client", 400))

	err := rl.CheckRateLimit("client", 200)
	var quotaErr *QuotaExceededError
	require.ErrorAs(t, err, &quotaErr)
	assert.Equal(t, quotaData, quotaErr.Type)
	assert.Equal(t, int64(1000), quotaErr.Limit)
	assert.Equal(t, int64(900), quotaErr.Used)

	assert.NoError(t, rl.CheckRateLimit("client", 100))
}

func TestRateLimiter_GetUsage_UnknownClient(t *testing.T) {
	rl := NewRateLimiter(10, 100, 1000, 10000)

	usage := rl.GetUsage("nobody")
	assert.Zero(t, usage.RequestsToday())
	assert.Zero(t, usage.DataToday())
}

func TestRateLimiter_MultipleClients(t *testing.T) {
	rl := NewRateLimiter(2, 0, 0, 0)

	require.NoError(t, rl.CheckRateLimit("a", 0))
	require.NoError(t, rl.CheckRateLimit("a", 0))
	assert.Error(t, rl.CheckRateLimit("a", 0))

	require.NoError(t, rl.CheckRateLimit("b", 0))
	require.NoError(t, rl.CheckRateLimit("b", 0))
	assert.Error(t, rl.CheckRateLimit("b", 0))
}

func TestRateLimitErrors_Messages(t *testing.T) {
	rateErr := &RateLimitError{Type: limitMinute, Limit: 10, RetryAfter: 5 * time.Minute}
	assert.Equal(t, "rate limit exceeded for minute (limit: 10, retry after: 5m0s)", rateErr.Error())

	quotaErr := &QuotaExceededError{Type: quotaData, Limit: 1000, Used: 950, Resets: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)}
	assert.Equal(t, "quota exceeded for data (used: 950, limit: 1000, resets: 2024-01-02T00:00:00Z)", quotaErr.Error())

	var target *RateLimitError
	assert.False(t, errors.As(quotaErr, &target))
}

func BenchmarkRateLimiter_CheckRateLimit(b *testing.B) {
	rl := NewRateLimiter(0, 0, 0, 0)

	b.ResetTimer()
	for range b.N {
		_ = rl.CheckRateLimit("bench", 100)
	}
}
