package cache

import (
	"context"
	"errors"
	"time"
)

// Provider defines the cache operations the pipeline needs: short-lived
// telemetry window caching and the cross-process deploy lock.
type Provider interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
	Close() error
}

// ErrCacheMiss signals that a cache key was not found.
var ErrCacheMiss = errors.New("cache miss")

// TryLock takes a best-effort distributed lock via SetNX. It returns a release
// function and whether the lock was acquired. The release function is safe to
// call even when acquisition failed.
func TryLock(ctx context.Context, p Provider, key string, ttl time.Duration) (func() error, bool, error) {
	acquired, err := p.SetNX(ctx, key, []byte("1"), ttl)
	if err != nil || !acquired {
		return func() error { return nil }, false, err
	}
	return func() error { return p.Del(ctx, key) }, true, nil
}

// NoopProvider implements Provider but never stores data. It stands in when
// caching is disabled so callers need no nil checks.
type NoopProvider struct{}

// Get always returns ErrCacheMiss.
func (NoopProvider) Get(context.Context, string) ([]byte, error) {
	return nil, ErrCacheMiss
}

// Set discards the value and returns nil.
func (NoopProvider) Set(context.Context, string, []byte, time.Duration) error {
	return nil
}

// SetNX pretends to store the value and reports success, so single-process
// deployments still take the in-process mutex path.
func (NoopProvider) SetNX(context.Context, string, []byte, time.Duration) (bool, error) {
	return true, nil
}

// Del is a no-op for the noop cache.
func (NoopProvider) Del(context.Context, string) error { return nil }

// Close is a no-op.
func (NoopProvider) Close() error { return nil }
