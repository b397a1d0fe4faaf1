package cache

import (
	"context"
	"errors"
	"time"
)

var (
	ErrCacheMiss = errors.New("cache: key not found")
)

// Service defines cache operations interface. Values are stored as JSON and
// decoded into dest on Get.
type Service interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, keys ...string) (bool, error)
	// TryLock sets key to token only if absent; the lock expires after ttl.
	TryLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	// Refresh extends the lock to ttl from now if token still holds it.
	Refresh(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	// Unlock deletes the lock only if token still holds it.
	Unlock(ctx context.Context, key, token string) error
	Close() error
}
