package gateway

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrRateLimited       = errors.New("rate limit exceeded")
	ErrTooManyConcurrent = errors.New("too many concurrent requests")
)

// Limits bound the commands a single websocket client may issue. Streaming
// commands count as concurrent only until their handler returns.
type Limits struct {
	RequestsPerMinute int
	MaxConcurrent     int
}

// DefaultLimits are used for zero fields.
var DefaultLimits = Limits{RequestsPerMinute: 120, MaxConcurrent: 16}

func (l Limits) withDefaults() Limits {
	if l.RequestsPerMinute <= 0 {
		l.RequestsPerMinute = DefaultLimits.RequestsPerMinute
	}
	if l.MaxConcurrent <= 0 {
		l.MaxConcurrent = DefaultLimits.MaxConcurrent
	}
	return l
}

// ClientRateLimiter is a sliding one-minute window plus a concurrency cap.
type ClientRateLimiter struct {
	mu       sync.Mutex
	limits   Limits
	window   time.Duration
	requests []time.Time
	inFlight int
	now      func() time.Time
}

func NewClientRateLimiter(limits Limits) *ClientRateLimiter {
	return &ClientRateLimiter{
		limits: limits.withDefaults(),
		window: time.Minute,
		now:    time.Now,
	}
}

// prune drops timestamps older than the window. Timestamps are appended in
// order so the expired ones form a prefix.
func (r *ClientRateLimiter) prune(now time.Time) {
	cutoff := now.Add(-r.window)
	i := 0
	for i < len(r.requests) && !r.requests[i].After(cutoff) {
		i++
	}
	r.requests = append(r.requests[:0], r.requests[i:]...)
}

// Begin admits a command or returns ErrTooManyConcurrent or ErrRateLimited.
// Every admitted command must be paired with End.
func (r *ClientRateLimiter) Begin() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.inFlight >= r.limits.MaxConcurrent {
		return ErrTooManyConcurrent
	}

	now := r.now()
	r.prune(now)
	if len(r.requests) >= r.limits.RequestsPerMinute {
		return ErrRateLimited
	}

	r.requests = append(r.requests, now)
	r.inFlight++
	return nil
}

func (r *ClientRateLimiter) End() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.inFlight > 0 {
		r.inFlight--
	}
}

// SetLimits replaces the limits; zero fields take defaults.
func (r *ClientRateLimiter) SetLimits(limits Limits) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.limits = limits.withDefaults()
}

// Stats returns the requests in the current window and those in flight.
func (r *ClientRateLimiter) Stats() (requests, inFlight int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.prune(r.now())
	return len(r.requests), r.inFlight
}
