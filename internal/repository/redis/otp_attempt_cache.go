// Package redis keeps short-lived counters that must be shared by every
// replica of the service.
package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"healthcare-auth/internal/client"
	"healthcare-auth/internal/util"
)

const otpAttemptPrefix = "otp_attempts:"

// OTPAttemptCache counts OTP confirmation attempts per key in a fixed window.
// Callers reject once the count passes maxAttempts; the key unlocks when the
// window's TTL lapses.
type OTPAttemptCache struct {
	client      *client.RedisClient
	maxAttempts int
	window      time.Duration
	timeout     time.Duration
}

func NewOTPAttemptCache(client *client.RedisClient, maxAttempts int, window time.Duration) *OTPAttemptCache {
	return &OTPAttemptCache{
		client:      client,
		maxAttempts: maxAttempts,
		window:      window,
		timeout:     3 * time.Second,
	}
}

// RecordAttempt is a single INCR, so concurrent callers each see a distinct
// count and at most maxAttempts of them get through.
func (c *OTPAttemptCache) RecordAttempt(ctx context.Context, key string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	count, err := c.client.IncrWithExpire(ctx, otpAttemptPrefix+key, c.window)
	if err != nil {
		util.Error("Failed to increment OTP attempts", util.String("key", key), zap.Error(err))
		return 0, fmt.Errorf("failed to increment OTP attempts: %w", err)
	}
	if int(count) == c.maxAttempts {
		util.Warn("OTP attempts exhausted", util.String("key", key), util.Duration("window", c.window))
	}
	return int(count), nil
}

func (c *OTPAttemptCache) Reset(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.client.Del(ctx, otpAttemptPrefix+key); err != nil {
		return fmt.Errorf("failed to reset OTP attempts: %w", err)
	}
	return nil
}

func (c *OTPAttemptCache) MaxAttempts() int {
	return c.maxAttempts
}
