package server

import (
	"fmt"
	"sync"
	"time"
)

// Limit types reported in RateLimitError and QuotaExceededError.
const (
	limitMinute   = "minute"
	limitHour     = "hour"
	quotaRequests = "requests"
	quotaData     = "data"
)

// RateLimiter enforces per-client request rates and daily quotas. Uploads
// count against the data quota with their declared size. Zero disables a limit.
type RateLimiter struct {
	mu sync.Mutex

	requestsPerMinute int
	requestsPerHour   int
	maxRequestsPerDay int
	maxDataPerDay     int64 // bytes

	clients map[string]*UserUsage
	now     func() time.Time
}

// UserUsage tracks the fixed-window counters of one client.
type UserUsage struct {
	minuteStart   time.Time
	minuteCount   int
	hourStart     time.Time
	hourCount     int
	dayStart      time.Time
	requestsToday int
	dataToday     int64
}

// RequestsToday returns the number of accepted requests since midnight.
func (u UserUsage) RequestsToday() int { return u.requestsToday }

// DataToday returns the bytes accepted since midnight.
func (u UserUsage) DataToday() int64 { return u.dataToday }

// NewRateLimiter creates a new rate limiter with the given limits.
func NewRateLimiter(requestsPerMinute, requestsPerHour, maxRequestsPerDay int, maxDataPerDay int64) *RateLimiter {
	return &RateLimiter{
		requestsPerMinute: requestsPerMinute,
		requestsPerHour:   requestsPerHour,
		maxRequestsPerDay: maxRequestsPerDay,
		maxDataPerDay:     maxDataPerDay,
		clients:           make(map[string]*UserUsage),
		now:               time.Now,
	}
}

// CheckRateLimit records a request of dataSize bytes from clientID, or
// returns a *RateLimitError or *QuotaExceededError without recording it.
func (rl *RateLimiter) CheckRateLimit(clientID string, dataSize int64) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	usage, ok := rl.clients[clientID]
	if !ok {
		usage = &UserUsage{minuteStart: now, hourStart: now, dayStart: startOfDay(now)}
		rl.clients[clientID] = usage
	}
	usage.roll(now)

	if rl.requestsPerMinute > 0 && usage.minuteCount >= rl.requestsPerMinute {
		return &RateLimitError{Type: limitMinute, Limit: rl.requestsPerMinute, RetryAfter: usage.minuteStart.Add(time.Minute).Sub(now)}
	}
	if rl.requestsPerHour > 0 && usage.hourCount >= rl.requestsPerHour {
		return &RateLimitError{Type: limitHour, Limit: rl.requestsPerHour, RetryAfter: usage.hourStart.Add(time.Hour).Sub(now)}
	}

	resets := usage.dayStart.AddDate(0, 0, 1)
	if rl.maxRequestsPerDay > 0 && usage.requestsToday >= rl.maxRequestsPerDay {
		return &QuotaExceededError{Type: quotaRequests, Limit: int64(rl.maxRequestsPerDay), Used: int64(usage.requestsToday), Resets: resets}
	}
	if rl.maxDataPerDay > 0 && usage.dataToday+dataSize > rl.maxDataPerDay {
		return &QuotaExceededError{Type: quotaData, Limit: rl.maxDataPerDay, Used: usage.dataToday, Resets: resets}
	}

	usage.minuteCount++
	usage.hourCount++
	usage.requestsToday++
	usage.dataToday += dataSize
	return nil
}

// roll starts new windows whose period has elapsed.
func (u *UserUsage) roll(now time.Time) {
	if now.Sub(u.minuteStart) >= time.Minute {
		u.minuteStart, u.minuteCount = now, 0
	}
	if now.Sub(u.hourStart) >= time.Hour {
		u.hourStart, u.hourCount = now, 0
	}
	if day := startOfDay(now); !day.Equal(u.dayStart) {
		u.dayStart, u.requestsToday, u.dataToday = day, 0, 0
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// GetUsage returns a copy of the usage of a client; unknown clients have zero usage.
func (rl *RateLimiter) GetUsage(clientID string) UserUsage {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if usage, ok := rl.clients[clientID]; ok {
		return *usage
	}
	return UserUsage{}
}

// RateLimitError represents a rate limit violation.
type RateLimitError struct {
	Type       string        // "minute" or "hour"
	Limit      int           // the limit that was exceeded
	RetryAfter time.Duration // how long to wait before retrying
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s (limit: %d, retry after: %v)", e.Type, e.Limit, e.RetryAfter)
}

// QuotaExceededError represents a quota violation.
type QuotaExceededError struct {
	Type   string    // "requests" or "data"
	Limit  int64     // the limit that was exceeded
	Used   int64     // current usage
	Resets time.Time // when the quota resets
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s (used: %d, limit: %d, resets: %s)",
		e.Type, e.Used, e.Limit, e.Resets.Format(time.RFC3339))
}
