package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const denylistPrefix = "auth:revoked:"

// TokenDenylist records revoked access token ids in Redis until they would have expired anyway.
type TokenDenylist struct {
	client *redis.Client
	logger *zap.Logger
}

// NewTokenDenylist constructs a denylist. A nil client disables it.
func NewTokenDenylist(client *redis.Client, logger *zap.Logger) *TokenDenylist {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenDenylist{client: client, logger: logger}
}

// Revoke stores jti for ttl. Non-positive ttls are ignored since the token is already expired.
func (d *TokenDenylist) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if d.client == nil || jti == "" || ttl <= 0 {
		return nil
	}
	if err := d.client.Set(ctx, denylistPrefix+jti, "1", ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", jti, err)
	}
	return nil
}

// IsRevoked reports whether jti was revoked. Redis failures are logged and returned.
func (d *TokenDenylist) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if d.client == nil || jti == "" {
		return false, nil
	}
	n, err := d.client.Exists(ctx, denylistPrefix+jti).Result()
	if err != nil {
		d.logger.Warn("denylist lookup failed", zap.String("jti", jti), zap.Error(err))
		return false, fmt.Errorf("redis exists %s: %w", jti, err)
	}
	return n > 0, nil
}

// Close releases the underlying Redis connection if present.
func (d *TokenDenylist) Close() error {
	if d.client == nil {
		return nil
	}
	return d.client.Close()
}
