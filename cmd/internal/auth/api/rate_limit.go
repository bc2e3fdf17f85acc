package authapi

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// maxTrackedClients bounds the limiter map; beyond it stale keys are swept on write.
const maxTrackedClients = 10_000

// loginLimiter is a per-client sliding-window counter of failed logins.
// State is process-local.
type loginLimiter struct {
	mu       sync.Mutex
	failures map[string][]time.Time
	limit    int
	window   time.Duration
}

func newLoginLimiter(limit int, window time.Duration) *loginLimiter {
	return &loginLimiter{
		failures: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Check reports whether key is currently blocked and for how long.
func (l *loginLimiter) Check(key string, now time.Time) (bool, time.Duration) {
	if l == nil || key == "" || l.limit <= 0 {
		return false, 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := pruneBefore(l.failures[key], now.Add(-l.window))
	if len(kept) == 0 {
		delete(l.failures, key)
	} else {
		l.failures[key] = kept
	}
	return evaluateWindowThrottle(now, kept, l.limit, l.window)
}

// RecordFailure counts a failed attempt for key at now.
func (l *loginLimiter) RecordFailure(key string, now time.Time) {
	if l == nil || key == "" || l.limit <= 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	cut := now.Add(-l.window)
	if _, ok := l.failures[key]; !ok && len(l.failures) >= maxTrackedClients {
		for k, ts := range l.failures {
			if kept := pruneBefore(ts, cut); len(kept) == 0 {
				delete(l.failures, k)
			}
		}
	}
	l.failures[key] = append(pruneBefore(l.failures[key], cut), now)
}

// evaluateWindowThrottle blocks once limit failures fall inside the window ending at now.
// The retry delay is the time until the oldest counted failure leaves the window.
func evaluateWindowThrottle(now time.Time, failures []time.Time, limit int, window time.Duration) (bool, time.Duration) {
	cut := now.Add(-window)

	var (
		count  int
		oldest time.Time
	)
	for _, t := range failures {
		if !t.After(cut) {
			continue
		}
		if count == 0 || t.Before(oldest) {
			oldest = t
		}
		count++
	}
	if count < limit {
		return false, 0
	}

	retry := oldest.Add(window).Sub(now)
	if retry < time.Second {
		retry = time.Second
	}
	return true, retry
}

// pruneBefore drops entries at or before cut, reusing ts' backing array.
func pruneBefore(ts []time.Time, cut time.Time) []time.Time {
	dst := ts[:0]
	for _, t := range ts {
		if t.After(cut) {
			dst = append(dst, t)
		}
	}
	return dst
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		secs := int64((retryAfter + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	writeErrors(w, http.StatusTooManyRequests, apiError{Msg: "Too many login attempts, please try again later"})
}
