package nodestore

import "errors"

var (
	// ErrNotFound is returned by Read when no payload exists for an id.
	ErrNotFound = errors.New("node not found")

	// ErrInconsistent is returned when an id that must be indexed is not,
	// e.g. deleting an id that has no recorded timestamp.
	ErrInconsistent = errors.New("node index inconsistent")
)
