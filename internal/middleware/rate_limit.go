package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RateLimiter implements a simple in-memory sliding window rate limiter
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int           // Max requests
	window   time.Duration // Time window
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter creates a new rate limiter. Call Stop to end its cleanup goroutine.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		stopCh:   make(chan struct{}),
	}

	go rl.cleanup()

	return rl
}

// Allow checks if a request is allowed for the given key
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	valid := rl.pruneLocked(key, time.Now())
	if len(valid) >= rl.limit {
		return false
	}

	rl.requests[key] = append(valid, time.Now())
	return true
}

// Remaining returns the number of remaining requests for a key
func (rl *RateLimiter) Remaining(key string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	remaining := rl.limit - len(rl.pruneLocked(key, time.Now()))
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Reset returns the time when the oldest request in the window expires
func (rl *RateLimiter) Reset(key string) time.Time {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	valid := rl.pruneLocked(key, time.Now())
	if len(valid) == 0 {
		return time.Now()
	}
	return valid[0].Add(rl.window)
}

// Stop ends the cleanup goroutine. Safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// pruneLocked drops expired entries for key. Caller must hold the lock.
func (rl *RateLimiter) pruneLocked(key string, now time.Time) []time.Time {
	windowStart := now.Add(-rl.window)
	requests := rl.requests[key]
	i := 0
	for i < len(requests) && !requests[i].After(windowStart) {
		i++
	}
	valid := requests[i:]
	if len(valid) == 0 {
		delete(rl.requests, key)
		return nil
	}
	rl.requests[key] = valid
	return valid
}

// cleanup periodically removes old entries
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			rl.mu.Lock()
			now := time.Now()
			for key := range rl.requests {
				rl.pruneLocked(key, now)
			}
			rl.mu.Unlock()
		}
	}
}

// StreamOpenRateLimiter limits how often one user may open post streams
type StreamOpenRateLimiter struct {
	limiter *RateLimiter
	limit   int
}

// NewStreamOpenRateLimiter creates a limiter allowing perMinute stream opens per user.
// It returns nil when perMinute is not positive; a nil limiter lets every request through.
func NewStreamOpenRateLimiter(perMinute int) *StreamOpenRateLimiter {
	if perMinute <= 0 {
		return nil
	}
	return &StreamOpenRateLimiter{
		limiter: NewRateLimiter(perMinute, time.Minute),
		limit:   perMinute,
	}
}

// Stop releases the limiter's background goroutine
func (rl *StreamOpenRateLimiter) Stop() {
	if rl == nil {
		return
	}
	rl.limiter.Stop()
}

// Limit creates middleware that rate limits by the platform user ID.
// Must run after RequireUser.
func (rl *StreamOpenRateLimiter) Limit(next http.Handler) http.Handler {
	if rl == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := ExtractUserID(r.Context())
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		if !rl.limiter.Allow(userID) {
			writeRateLimitError(w, rl.limiter.Reset(userID))
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(rl.limiter.Remaining(userID)))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(rl.limiter.Reset(userID).Unix(), 10))

		next.ServeHTTP(w, r)
	})
}

// writeRateLimitError writes a 429 Too Many Requests response
func writeRateLimitError(w http.ResponseWriter, resetTime time.Time) {
	retryAfter := resetTime.Unix() - time.Now().Unix()
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))

	writeErrorResponse(w, http.StatusTooManyRequests, ErrorDetail{
		Code:    "TOO_MANY_REQUESTS",
		Message: "Rate limit exceeded. Please try again later.",
		Details: map[string]int64{"retry_after": retryAfter},
	})
}
