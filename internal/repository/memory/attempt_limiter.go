package memory

import (
	"context"
	"sync"
	"time"
)

type attemptWindow struct {
	count   int
	expires time.Time
}

// AttemptLimiter counts OTP confirmation attempts per key inside a fixed
// window, the same shape as the Redis INCR+EXPIRE counter.
type AttemptLimiter struct {
	mu          sync.Mutex
	maxAttempts int
	window      time.Duration
	counters    map[string]attemptWindow
	now         func() time.Time
}

func NewAttemptLimiter(maxAttempts int, window time.Duration) *AttemptLimiter {
	return &AttemptLimiter{
		maxAttempts: maxAttempts,
		window:      window,
		counters:    make(map[string]attemptWindow),
		now:         time.Now,
	}
}

// WithClock swaps the time source; used by expiry tests
func (l *AttemptLimiter) WithClock(now func() time.Time) *AttemptLimiter {
	l.now = now
	return l
}

func (l *AttemptLimiter) RecordAttempt(_ context.Context, key string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.current(key)
	if !ok {
		w = attemptWindow{expires: l.now().Add(l.window)}
	}
	w.count++
	l.counters[key] = w
	return w.count, nil
}

func (l *AttemptLimiter) Reset(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.counters, key)
	return nil
}

func (l *AttemptLimiter) MaxAttempts() int {
	return l.maxAttempts
}

// caller holds l.mu
func (l *AttemptLimiter) current(key string) (attemptWindow, bool) {
	w, ok := l.counters[key]
	if !ok {
		return attemptWindow{}, false
	}
	if !l.now().Before(w.expires) {
		delete(l.counters, key)
		return attemptWindow{}, false
	}
	return w, true
}
