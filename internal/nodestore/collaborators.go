package nodestore

import (
	"context"
	"time"
)

// Secondary is the legacy node store that passthrough operations cascade to
// while data migrates into the backend.
type Secondary interface {
	// GetBytes returns the payload stored for id, or an error wrapping
	// ErrNotFound when there is none.
	GetBytes(ctx context.Context, id string) ([]byte, error)

	// SetBytes stores data for id. A zero ttl means no expiry.
	SetBytes(ctx context.Context, id string, data []byte, ttl time.Duration) error

	// Delete removes the payload stored for id.
	Delete(ctx context.Context, id string) error

	// DeleteMulti removes the payloads stored for every id in ids.
	DeleteMulti(ctx context.Context, ids []string) error

	// Cleanup removes every payload written before cutoff.
	Cleanup(ctx context.Context, cutoff time.Time) error
}

// Cache is the host's node cache. The backend never reads from it; it only
// invalidates entries after deletes.
type Cache interface {
	Invalidate(ctx context.Context, id string)
	InvalidateMulti(ctx context.Context, ids []string)
}

// NopCache is a Cache that does nothing.
type NopCache struct{}

func (NopCache) Invalidate(context.Context, string) {}
func (NopCache) InvalidateMulti(context.Context, []string) {}
