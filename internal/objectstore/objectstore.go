package objectstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no object exists under the key.
var ErrNotFound = errors.New("object not found")

// Object is a stored payload together with the content encoding recorded when
// it was written. An empty ContentEncoding means the payload is stored as is.
type Object struct {
	Data            []byte
	ContentEncoding string
}

// Store defines the blob store that holds node payloads.
type Store interface {
	// Put stores data under key, replacing any existing object.
	Put(ctx context.Context, key string, data []byte, contentEncoding string) error

	// Get retrieves the object stored under key. It returns ErrNotFound when
	// the key does not exist and the underlying error for any other failure.
	Get(ctx context.Context, key string) (*Object, error)

	// Delete removes the object under key. Removing a missing key succeeds.
	Delete(ctx context.Context, key string) error
}
