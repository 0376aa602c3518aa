package cache

import (
	"context"
	"time"
)

// Driver is a byte-oriented cache backend for the shared levels. Values are
// serialized before they reach a driver; the live-object level never touches
// one.
type Driver interface {
	// Name identifies the driver in stats and health output.
	Name() string
	// Get returns the stored value and whether the key was present and
	// unexpired.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	// Available reports whether the backend is reachable. Never returns an
	// error; unavailability is a degraded state, not a failure.
	Available(ctx context.Context) bool
}

// TagStore maintains sets of cache keys per tag. The query cache uses it for
// bulk invalidation. Drivers that can hold tag sets natively implement it;
// others fall back to an in-process store.
type TagStore interface {
	AddToTag(ctx context.Context, tag string, keys ...string) error
	TagMembers(ctx context.Context, tag string) ([]string, error)
	DeleteTag(ctx context.Context, tag string) error
	ClearTags(ctx context.Context) error
}
