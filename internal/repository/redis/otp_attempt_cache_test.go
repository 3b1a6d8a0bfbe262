package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"healthcare-auth/internal/client"
)

func newTestCache(t *testing.T, max int, window time.Duration) (*miniredis.Miniredis, *OTPAttemptCache) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return mr, NewOTPAttemptCache(client.WrapRedisClient(rdb), max, window)
}

func TestOTPAttemptCache_CountsPerKey(t *testing.T) {
	ctx := context.Background()
	_, cache := newTestCache(t, 3, 15*time.Minute)

	for i := 1; i <= 4; i++ {
		n, err := cache.RecordAttempt(ctx, "login:a@b.com")
		if err != nil || n != i {
			t.Fatalf("attempt %d: count=%d err=%v", i, n, err)
		}
	}
	if n, _ := cache.RecordAttempt(ctx, "password_reset:a@b.com"); n != 1 {
		t.Fatalf("purposes must be counted separately, got %d", n)
	}
	if cache.MaxAttempts() != 3 {
		t.Fatalf("unexpected max %d", cache.MaxAttempts())
	}
}

func TestOTPAttemptCache_ConcurrentAttemptsGetDistinctCounts(t *testing.T) {
	ctx := context.Background()
	_, cache := newTestCache(t, 5, time.Minute)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		seen    = map[int]bool{}
		allowed int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := cache.RecordAttempt(ctx, "k")
			if err != nil {
				t.Errorf("record: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			seen[n] = true
			if n <= cache.MaxAttempts() {
				allowed++
			}
		}()
	}
	wg.Wait()

	if len(seen) != 50 || allowed != 5 {
		t.Fatalf("expected 50 distinct counts and 5 allowed, got %d and %d", len(seen), allowed)
	}
}

func TestOTPAttemptCache_WindowIsFixed(t *testing.T) {
	ctx := context.Background()
	mr, cache := newTestCache(t, 2, time.Minute)

	_, _ = cache.RecordAttempt(ctx, "k")
	mr.FastForward(40 * time.Second)
	_, _ = cache.RecordAttempt(ctx, "k")

	if ttl := mr.TTL(otpAttemptPrefix + "k"); ttl > 20*time.Second {
		t.Fatalf("second attempt must not extend the window, ttl=%v", ttl)
	}

	mr.FastForward(21 * time.Second)
	if n, _ := cache.RecordAttempt(ctx, "k"); n != 1 {
		t.Fatalf("expected a fresh window, got count %d", n)
	}
}

func TestOTPAttemptCache_Reset(t *testing.T) {
	ctx := context.Background()
	mr, cache := newTestCache(t, 1, time.Minute)

	_, _ = cache.RecordAttempt(ctx, "k")
	if err := cache.Reset(ctx, "k"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if mr.Exists(otpAttemptPrefix + "k") {
		t.Fatalf("expected reset to delete the counter")
	}
	if n, _ := cache.RecordAttempt(ctx, "k"); n != 1 {
		t.Fatalf("expected count to restart, got %d", n)
	}
}
