package nodestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"nodestore/internal/codec"
	"nodestore/internal/index"
	"nodestore/internal/keys"
	"nodestore/internal/objectstore"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const tracerName = "nodestore"

// Backend stores node payloads in an object store and records, per node id,
// the write timestamp from which the object key is derived.
//
// Writes go index first, then blob. Deletes look the timestamp up, remove the
// blob, then remove the index entry. Nothing spans both stores
// transactionally, and concurrent calls for the same id are not coordinated.
//
// The index is write-once per id: writing an id again stores a new blob under
// the current day's key, but reads keep resolving through the first recorded
// timestamp until the node is deleted.
type Backend struct {
	index  index.Index
	store  objectstore.Store
	opts   Options
	codec  codec.Codec
	log    *slog.Logger
	tracer trace.Tracer
}

// New builds a Backend over the given index and object store. The backend
// takes ownership of both and releases them on Close.
func New(idx index.Index, store objectstore.Store, opts ...Option) (*Backend, error) {
	if idx == nil {
		return nil, errors.New("nodestore: index must not be nil")
	}
	if store == nil {
		return nil, errors.New("nodestore: object store must not be nil")
	}

	o := newOptions(opts...)

	if o.Secondary == nil && (o.ReadThrough || o.WriteThrough || o.DeleteThrough) {
		return nil, errors.New("nodestore: passthrough enabled without a secondary store")
	}

	b := &Backend{
		index:  idx,
		store:  store,
		opts:   o,
		log:    o.Logger,
		tracer: otel.Tracer(tracerName),
	}

	if o.Compression != "" {
		c, err := o.Codecs.MustLookup(o.Compression)
		if err != nil {
			return nil, fmt.Errorf("nodestore: %w", err)
		}
		b.codec = c
	}

	return b, nil
}

// Key returns the object key for id written at t.
func (b *Backend) Key(id string, t time.Time) string {
	return keys.Derive(id, t, b.opts.KeyPrefix)
}

// Write stores data for id.
func (b *Backend) Write(ctx context.Context, id string, data []byte) error {
	return b.WriteTTL(ctx, id, data, 0)
}

// WriteTTL stores data for id. The ttl is only forwarded to the secondary
// store; the primary store keeps payloads until they are deleted.
func (b *Backend) WriteTTL(ctx context.Context, id string, data []byte, ttl time.Duration) (err error) {
	ctx, span := b.startSpan(ctx, "nodestore.Write", id)
	defer func() { endSpan(span, err) }()

	if b.opts.WriteThrough {
		if err := b.opts.Secondary.SetBytes(ctx, id, data, ttl); err != nil {
			return fmt.Errorf("write-through %q: %w", id, err)
		}
	}

	return b.writePrimary(ctx, id, data)
}

func (b *Backend) writePrimary(ctx context.Context, id string, data []byte) error {
	now := b.opts.Clock().UTC()

	inserted, err := b.index.Upsert(ctx, id, now)
	if err != nil {
		return err
	}

	payload, encoding, err := b.compress(data)
	if err != nil {
		return fmt.Errorf("compress %q: %w", id, err)
	}

	key := b.Key(id, now)
	if !inserted {
		b.log.Warn("Node already indexed; payload written under a key reads do not resolve to",
			"id", id, "key", key)
	}

	if err := b.store.Put(ctx, key, payload, encoding); err != nil {
		return err
	}

	b.log.Debug("Stored node", "id", id, "key", key, "size", len(data), "stored_size", len(payload), "encoding", encoding)
	return nil
}

// compress encodes data with the configured codec. The encoded form is only
// kept when it is not larger than the input.
func (b *Backend) compress(data []byte) ([]byte, string, error) {
	if b.codec == nil {
		return data, "", nil
	}

	encoded, err := b.codec.Encode(data)
	if err != nil {
		return nil, "", err
	}
	if len(encoded) > len(data) {
		return data, "", nil
	}
	return encoded, b.codec.Name(), nil
}

// Read returns the payload stored for id, or ErrNotFound.
//
// Only a missing index entry falls back to the secondary store (when read
// through is enabled). An indexed id whose blob is missing is reported as
// ErrNotFound without consulting the secondary store.
func (b *Backend) Read(ctx context.Context, id string) (data []byte, err error) {
	ctx, span := b.startSpan(ctx, "nodestore.Read", id)
	defer func() { endSpan(span, err) }()

	ts, err := b.index.Lookup(ctx, id)
	if errors.Is(err, index.ErrNotFound) {
		if !b.opts.ReadThrough {
			return nil, ErrNotFound
		}
		return b.readSecondary(ctx, id)
	}
	if err != nil {
		return nil, err
	}

	key := b.Key(id, ts)
	obj, err := b.store.Get(ctx, key)
	if errors.Is(err, objectstore.ErrNotFound) {
		b.log.Debug("Indexed node has no payload", "id", id, "key", key)
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	c, ok := b.opts.Codecs.Lookup(obj.ContentEncoding)
	if !ok {
		if obj.ContentEncoding != "" {
			b.log.Warn("Unknown content encoding; returning raw payload", "id", id, "key", key, "encoding", obj.ContentEncoding)
		}
		return obj.Data, nil
	}

	data, err = c.Decode(obj.Data)
	if err != nil {
		return nil, fmt.Errorf("decode %q (%s): %w", id, c.Name(), err)
	}
	return data, nil
}

func (b *Backend) readSecondary(ctx context.Context, id string) ([]byte, error) {
	data, err := b.opts.Secondary.GetBytes(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read-through %q: %w", id, err)
	}
	return data, nil
}

// Delete removes id from the secondary store (when delete through is
// enabled) and then from the backend, and invalidates its cache entry.
// Deleting an id without an index entry returns ErrInconsistent, so a second
// delete of the same id fails.
func (b *Backend) Delete(ctx context.Context, id string) (err error) {
	ctx, span := b.startSpan(ctx, "nodestore.Delete", id)
	defer func() { endSpan(span, err) }()

	if b.opts.DeleteThrough {
		if err := b.opts.Secondary.Delete(ctx, id); err != nil {
			return fmt.Errorf("delete-through %q: %w", id, err)
		}
	}

	if err := b.deletePrimary(ctx, id); err != nil {
		return err
	}

	b.opts.Cache.Invalidate(ctx, id)
	return nil
}

// DeleteMulti deletes every id in ids with the semantics of Delete. Primary
// deletes run concurrently and in no particular order. After the first
// failure no further ids are started, but deletes already running finish
// against ctx. The first failure is returned and the cache is only
// invalidated when all succeed.
func (b *Backend) DeleteMulti(ctx context.Context, ids []string) (err error) {
	ctx, span := b.tracer.Start(ctx, "nodestore.DeleteMulti", trace.WithAttributes(attribute.Int("node.count", len(ids))))
	defer func() { endSpan(span, err) }()

	if b.opts.DeleteThrough {
		if err := b.opts.Secondary.DeleteMulti(ctx, ids); err != nil {
			return fmt.Errorf("delete-through %d ids: %w", len(ids), err)
		}
	}

	var (
		g      errgroup.Group
		failed atomic.Bool
	)
	g.SetLimit(b.opts.DeleteConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			if failed.Load() {
				return nil
			}
			if err := b.deletePrimary(ctx, id); err != nil {
				failed.Store(true)
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	b.opts.Cache.InvalidateMulti(ctx, ids)
	return nil
}

func (b *Backend) deletePrimary(ctx context.Context, id string) error {
	ts, err := b.index.Lookup(ctx, id)
	if errors.Is(err, index.ErrNotFound) {
		return fmt.Errorf("%w: no timestamp recorded for %q", ErrInconsistent, id)
	}
	if err != nil {
		return err
	}

	key := b.Key(id, ts)
	if err := b.store.Delete(ctx, key); err != nil {
		return err
	}

	if err := b.index.Delete(ctx, id); err != nil {
		return err
	}

	b.log.Debug("Deleted node", "id", id, "key", key)
	return nil
}

// Cleanup removes data written before cutoff from the secondary store when
// delete through is enabled. The backend's own objects are not touched;
// their retention is left to the object store's lifecycle rules.
func (b *Backend) Cleanup(ctx context.Context, cutoff time.Time) (err error) {
	ctx, span := b.tracer.Start(ctx, "nodestore.Cleanup", trace.WithAttributes(attribute.String("cutoff", cutoff.UTC().Format(time.RFC3339))))
	defer func() { endSpan(span, err) }()

	if !b.opts.DeleteThrough {
		b.log.Debug("Cleanup skipped; delete through disabled", "cutoff", cutoff)
		return nil
	}

	if err := b.opts.Secondary.Cleanup(ctx, cutoff); err != nil {
		return fmt.Errorf("cleanup-through: %w", err)
	}
	return nil
}

// Close releases the index and, when it holds resources, the object store.
func (b *Backend) Close() error {
	var errs []error
	if err := b.index.Close(); err != nil {
		errs = append(errs, err)
	}
	if c, ok := b.store.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *Backend) startSpan(ctx context.Context, name string, id string) (context.Context, trace.Span) {
	return b.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("node.id", id)))
}

func endSpan(span trace.Span, err error) {
	if err != nil && !errors.Is(err, ErrNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
