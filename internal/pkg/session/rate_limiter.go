// internal/pkg/session/rate_limiter.go
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	maxLoginAttempts   = 5
	loginAttemptWindow = 15 * time.Minute
)

// ActionRepair is the limiter key shared by every manual repair entry point.
const ActionRepair = "repair"

// ActionLimiter throttles expensive per-identity actions.
type ActionLimiter interface {
	CheckActionLimit(ctx context.Context, identityID, action string, maxRequests int64, window time.Duration) (bool, error)
}

var _ ActionLimiter = (*RateLimiter)(nil)

type RateLimiter struct {
	client *redis.Client
}

func NewRateLimiter(client *redis.Client) *RateLimiter {
	return &RateLimiter{client: client}
}

// CheckLoginAttempt checks if login attempt is allowed
func (r *RateLimiter) CheckLoginAttempt(ctx context.Context, ip, email string) (bool, int64, error) {
	allowed, count, err := r.hit(ctx, loginKey(ip, email), maxLoginAttempts, loginAttemptWindow)
	if err != nil {
		return false, 0, fmt.Errorf("failed to increment login attempt: %w", err)
	}

	remaining := int64(maxLoginAttempts) - count
	if remaining < 0 {
		remaining = 0
	}
	return allowed, remaining, nil
}

// GetRemainingAttempts returns remaining login attempts
func (r *RateLimiter) GetRemainingAttempts(ctx context.Context, ip, email string) (int64, error) {
	count, err := r.client.Get(ctx, loginKey(ip, email)).Int64()
	if errors.Is(err, redis.Nil) {
		return maxLoginAttempts, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get login attempts: %w", err)
	}

	remaining := maxLoginAttempts - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// ResetLoginAttempts resets the login attempt counter
func (r *RateLimiter) ResetLoginAttempts(ctx context.Context, ip, email string) error {
	return r.client.Del(ctx, loginKey(ip, email)).Err()
}

// CheckActionLimit limits how often an identity may run an expensive action
// such as a manual repair.
func (r *RateLimiter) CheckActionLimit(ctx context.Context, identityID, action string, maxRequests int64, window time.Duration) (bool, error) {
	allowed, _, err := r.hit(ctx, fmt.Sprintf("ratelimit:action:%s:%s", action, identityID), maxRequests, window)
	if err != nil {
		return false, fmt.Errorf("failed to increment %s rate limit: %w", action, err)
	}
	return allowed, nil
}

func (r *RateLimiter) hit(ctx context.Context, key string, max int64, window time.Duration) (bool, int64, error) {
	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, err
	}

	// Set expiration on first attempt
	if count == 1 {
		r.client.Expire(ctx, key, window)
	}

	return count <= max, count, nil
}

func loginKey(ip, email string) string {
	return fmt.Sprintf("ratelimit:login:%s:%s", ip, email)
}
