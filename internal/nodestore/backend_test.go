package nodestore_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"nodestore/internal/codec"
	"nodestore/internal/keys"
	"nodestore/internal/nodestore"

	"github.com/stretchr/testify/require"
)

var (
	day1 = time.Date(2024, time.March, 1, 9, 30, 0, 0, time.UTC)
	day2 = time.Date(2024, time.March, 2, 14, 0, 0, 0, time.UTC)
)

type harness struct {
	backend   *nodestore.Backend
	index     *memIndex
	store     *memStore
	secondary *fakeSecondary
	cache     *recordingCache
}

// newHarness builds a Backend over in-memory collaborators. The secondary
// store and cache are always wired; passthrough is controlled by opts.
func newHarness(t *testing.T, opts ...nodestore.Option) *harness {
	t.Helper()

	h := &harness{
		index:     newMemIndex(),
		store:     newMemStore(),
		secondary: newFakeSecondary(),
		cache:     &recordingCache{},
	}

	all := append([]nodestore.Option{
		nodestore.WithSecondary(h.secondary),
		nodestore.WithCache(h.cache),
		nodestore.WithClock(sequenceClock(day1)),
	}, opts...)

	b, err := nodestore.New(h.index, h.store, all...)
	require.NoError(t, err, "New error")
	h.backend = b
	return h
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	payloads := map[string][]byte{
		"empty":      {},
		"short":      []byte("hello"),
		"repetitive": bytes.Repeat([]byte("event payload "), 512),
		"binary":     {0x00, 0xff, 0x10, 0x80, 0x00},
	}

	configs := map[string][]nodestore.Option{
		"zstd":         {nodestore.WithCompression(codec.ZstdName)},
		"s2":           {nodestore.WithCompression(codec.S2Name)},
		"uncompressed": {nodestore.WithoutCompression()},
	}

	for name, opts := range configs {
		opts := opts
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			h := newHarness(t, opts...)

			for id, payload := range payloads {
				require.NoError(t, h.backend.Write(ctx, id, payload), "write %s", id)

				got, err := h.backend.Read(ctx, id)
				require.NoError(t, err, "read %s", id)
				require.True(t, bytes.Equal(payload, got), "round trip %s", id)
			}
		})
	}
}

func TestWriteStoresUnderDerivedKey(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, nodestore.WithKeyPrefix("nodes"), nodestore.WithoutCompression())

	require.NoError(t, h.backend.Write(ctx, "abc", []byte("data")))

	require.Equal(t, []string{"nodes/2024/03/01/abc"}, h.store.keys())
	require.Equal(t, keys.Derive("abc", day1, "nodes"), h.backend.Key("abc", day1))

	ts, err := h.index.Lookup(ctx, "abc")
	require.NoError(t, err)
	require.True(t, day1.Equal(ts))
}

func TestCompressionGuardKeepsOriginal(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t,
		nodestore.WithCodecs(codec.NewRegistry(expandingCodec{})),
		nodestore.WithCompression("expand"),
	)

	payload := bytes.Repeat([]byte("z"), 64)
	require.NoError(t, h.backend.Write(ctx, "id", payload))

	obj, ok := h.store.object(h.backend.Key("id", day1))
	require.True(t, ok)
	require.Empty(t, obj.ContentEncoding, "expanded output must not be kept")
	require.Equal(t, payload, obj.Data)
}

func TestShortPayloadStoredUncompressed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t) // zstd by default

	require.NoError(t, h.backend.Write(ctx, "abc", []byte("hello")))

	obj, ok := h.store.object("2024/03/01/abc")
	require.True(t, ok)
	require.Empty(t, obj.ContentEncoding)
	require.Equal(t, []byte("hello"), obj.Data)

	got, err := h.backend.Read(ctx, "abc")
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got)
}

func TestCompressiblePayloadStoredCompressed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)

	payload := bytes.Repeat([]byte("compress me "), 1000)
	require.NoError(t, h.backend.Write(ctx, "big", payload))

	obj, ok := h.store.object("2024/03/01/big")
	require.True(t, ok)
	require.Equal(t, codec.ZstdName, obj.ContentEncoding)
	require.Less(t, len(obj.Data), len(payload))
}

func TestReadDecodesByRecordedEncoding(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	registry := codec.NewRegistry(halvingCodec{}, codec.NewZstd())

	h := newHarness(t, nodestore.WithCodecs(registry), nodestore.WithCompression("halve"))
	require.NoError(t, h.backend.Write(ctx, "mixed", []byte("abcabc")))

	// A backend that writes zstd (or nothing) still decodes older objects by
	// their recorded scheme.
	for _, opt := range []nodestore.Option{nodestore.WithCompression(codec.ZstdName), nodestore.WithoutCompression()} {
		reader, err := nodestore.New(h.index, h.store, nodestore.WithCodecs(registry), opt)
		require.NoError(t, err)

		got, err := reader.Read(ctx, "mixed")
		require.NoError(t, err)
		require.Equal(t, []byte("abcabc"), got)
	}
}

func TestReadUnknownEncodingReturnsRaw(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)

	_, err := h.index.Upsert(ctx, "legacy", day1)
	require.NoError(t, err)
	require.NoError(t, h.store.Put(ctx, h.backend.Key("legacy", day1), []byte("raw"), "brotli"))

	got, err := h.backend.Read(ctx, "legacy")
	require.NoError(t, err)
	require.Equal(t, []byte("raw"), got)
}

func TestRewriteKeepsFirstIndexEntry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	var logs bytes.Buffer
	h := newHarness(t,
		nodestore.WithClock(sequenceClock(day1, day2)),
		nodestore.WithoutCompression(),
		nodestore.WithLogger(slog.New(slog.NewTextHandler(&logs, nil))),
	)

	require.NoError(t, h.backend.Write(ctx, "x", []byte("first")))
	require.NotContains(t, logs.String(), "already indexed")
	require.NoError(t, h.backend.Write(ctx, "x", []byte("second")))
	require.Contains(t, logs.String(), "Node already indexed")

	// Both blobs exist.
	require.Equal(t, []string{"2024/03/01/x", "2024/03/02/x"}, h.store.keys())

	// The index still points at day one.
	ts, err := h.index.Lookup(ctx, "x")
	require.NoError(t, err)
	require.True(t, day1.Equal(ts))

	got, err := h.backend.Read(ctx, "x")
	require.NoError(t, err)
	require.Equal(t, []byte("first"), got, "reads resolve through the first index entry")
}

func TestReadMissing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("read through disabled", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.secondary.data["missing"] = []byte("legacy")

		_, err := h.backend.Read(ctx, "missing")
		require.ErrorIs(t, err, nodestore.ErrNotFound)
		require.Zero(t, h.secondary.total(), "secondary must not be consulted")
	})

	t.Run("read through with legacy value", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, nodestore.WithReadThrough(true))
		h.secondary.data["missing"] = []byte("legacy")

		got, err := h.backend.Read(ctx, "missing")
		require.NoError(t, err)
		require.Equal(t, []byte("legacy"), got)
		require.Equal(t, 1, h.secondary.count("get"))
	})

	t.Run("read through without legacy value", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, nodestore.WithReadThrough(true))

		_, err := h.backend.Read(ctx, "missing")
		require.ErrorIs(t, err, nodestore.ErrNotFound)
	})
}

func TestReadIndexedWithoutBlobDoesNotFallBack(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, nodestore.WithReadThrough(true))
	h.secondary.data["orphan"] = []byte("legacy")

	_, err := h.index.Upsert(ctx, "orphan", day1)
	require.NoError(t, err)

	_, err = h.backend.Read(ctx, "orphan")
	require.ErrorIs(t, err, nodestore.ErrNotFound)
	require.Zero(t, h.secondary.count("get"))
}

func TestDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)

	require.NoError(t, h.backend.Write(ctx, "abc", []byte("payload")))
	require.NoError(t, h.backend.Delete(ctx, "abc"))

	require.Empty(t, h.store.keys(), "blob must be removed")
	require.False(t, h.index.has("abc"), "index entry must be removed")
	require.Equal(t, []string{"abc"}, h.cache.ids)

	_, err := h.backend.Read(ctx, "abc")
	require.ErrorIs(t, err, nodestore.ErrNotFound)
}

func TestDeleteTwiceReportsInconsistency(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)

	require.NoError(t, h.backend.Write(ctx, "abc", []byte("payload")))
	require.NoError(t, h.backend.Delete(ctx, "abc"))

	err := h.backend.Delete(ctx, "abc")
	require.ErrorIs(t, err, nodestore.ErrInconsistent)
	require.ErrorContains(t, err, "abc")
	require.Equal(t, []string{"abc"}, h.cache.ids, "failed delete must not invalidate")
}

func TestDeleteRemovesOnlyIndexedBlob(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, nodestore.WithClock(sequenceClock(day1, day2)))

	require.NoError(t, h.backend.Write(ctx, "x", []byte("first")))
	require.NoError(t, h.backend.Write(ctx, "x", []byte("second")))
	require.NoError(t, h.backend.Delete(ctx, "x"))

	// The rewrite's blob is unreachable through the index and survives.
	require.Equal(t, []string{"2024/03/02/x"}, h.store.keys())
}

func TestPassthroughGating(t *testing.T) {
	t.Parallel()

	type flags struct{ read, write, delete bool }

	tests := []struct {
		name  string
		flags flags
	}{
		{name: "all off", flags: flags{}},
		{name: "read through", flags: flags{read: true}},
		{name: "write through", flags: flags{write: true}},
		{name: "delete through", flags: flags{delete: true}},
		{name: "all on", flags: flags{read: true, write: true, delete: true}},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			h := newHarness(t,
				nodestore.WithReadThrough(tc.flags.read),
				nodestore.WithWriteThrough(tc.flags.write),
				nodestore.WithDeleteThrough(tc.flags.delete),
			)

			require.NoError(t, h.backend.Write(ctx, "a", []byte("payload")))
			_, err := h.backend.Read(ctx, "missing")
			require.ErrorIs(t, err, nodestore.ErrNotFound)
			require.NoError(t, h.backend.Delete(ctx, "a"))
			require.NoError(t, h.backend.Write(ctx, "b", []byte("payload")))
			require.NoError(t, h.backend.DeleteMulti(ctx, []string{"b"}))
			require.NoError(t, h.backend.Cleanup(ctx, day2))

			expect := func(on bool, n int) int {
				if on {
					return n
				}
				return 0
			}

			require.Equal(t, expect(tc.flags.write, 2), h.secondary.count("set"), "set")
			require.Equal(t, expect(tc.flags.read, 1), h.secondary.count("get"), "get")
			require.Equal(t, expect(tc.flags.delete, 1), h.secondary.count("delete"), "delete")
			require.Equal(t, expect(tc.flags.delete, 1), h.secondary.count("delete_multi"), "delete_multi")
			require.Equal(t, expect(tc.flags.delete, 1), h.secondary.count("cleanup"), "cleanup")
		})
	}
}

func TestWriteThroughForwardsTTL(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, nodestore.WithWriteThrough(true))

	require.NoError(t, h.backend.WriteTTL(ctx, "a", []byte("payload"), time.Hour))
	require.Equal(t, time.Hour, h.secondary.lastTTL)
	require.Equal(t, []byte("payload"), h.secondary.data["a"])

	got, err := h.backend.Read(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), got)
}

func TestCleanupCascade(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, nodestore.WithDeleteThrough(true))

	require.NoError(t, h.backend.Write(ctx, "a", []byte("payload")))
	require.NoError(t, h.backend.Cleanup(ctx, day2))

	require.True(t, day2.Equal(h.secondary.cutoff))
	require.True(t, h.index.has("a"), "primary has no bulk retention")
	require.Len(t, h.store.keys(), 1)
}

func TestDeleteMulti(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, nodestore.WithDeleteThrough(true), nodestore.WithDeleteConcurrency(3))

	ids := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("node-%02d", i)
		ids = append(ids, id)
		require.NoError(t, h.backend.Write(ctx, id, []byte(id)))
	}

	require.NoError(t, h.backend.DeleteMulti(ctx, ids))

	require.Empty(t, h.store.keys())
	for _, id := range ids {
		require.False(t, h.index.has(id), id)
	}
	require.Equal(t, ids, h.secondary.multiIDs)
	require.Equal(t, [][]string{ids}, h.cache.multi, "one batched invalidation")
	require.Empty(t, h.cache.ids)
}

func TestDeleteMultiWithUnknownID(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)

	require.NoError(t, h.backend.Write(ctx, "known", []byte("payload")))

	err := h.backend.DeleteMulti(ctx, []string{"known", "unknown"})
	require.ErrorIs(t, err, nodestore.ErrInconsistent)
	require.Empty(t, h.cache.multi)
}

func TestDeleteMultiFailureDoesNotAbortRunningDeletes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, nodestore.WithDeleteConcurrency(2))

	require.NoError(t, h.backend.Write(ctx, "known", []byte("payload")))
	h.index.honorCtx = true
	h.store.deleteDelay = 100 * time.Millisecond

	err := h.backend.DeleteMulti(ctx, []string{"known", "unknown"})
	require.ErrorIs(t, err, nodestore.ErrInconsistent)

	// Either "known" was never started or it was deleted from both stores.
	_, hasBlob := h.store.object(h.backend.Key("known", day1))
	require.Equal(t, h.index.has("known"), hasBlob, "index entry and blob must agree")
	if !hasBlob {
		_, err = h.backend.Read(ctx, "known")
		require.ErrorIs(t, err, nodestore.ErrNotFound)
	}
}

func TestDeleteMultiEmpty(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nodestore.WithDeleteThrough(true))
	require.NoError(t, h.backend.DeleteMulti(context.Background(), nil))

	// The cascade and the batched invalidation still run.
	require.Equal(t, 1, h.secondary.count("delete_multi"))
	require.Len(t, h.cache.multi, 1)
	require.Empty(t, h.cache.multi[0])
}

func TestBlobFailureLeavesIndexEntry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)
	h.store.putErr = errors.New("connection reset")

	err := h.backend.Write(ctx, "abc", []byte("payload"))
	require.ErrorContains(t, err, "connection reset")

	// No compensation: the index entry stays behind without a blob.
	require.True(t, h.index.has("abc"))
	_, err = h.backend.Read(ctx, "abc")
	require.ErrorIs(t, err, nodestore.ErrNotFound)
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := nodestore.New(newMemIndex(), newMemStore(), nodestore.WithReadThrough(true))
	require.ErrorContains(t, err, "secondary")

	_, err = nodestore.New(newMemIndex(), newMemStore(), nodestore.WithCompression("lzma"))
	require.ErrorContains(t, err, "lzma")

	_, err = nodestore.New(nil, newMemStore())
	require.Error(t, err)

	_, err = nodestore.New(newMemIndex(), nil)
	require.Error(t, err)
}

func TestClose(t *testing.T) {
	t.Parallel()

	idx := newMemIndex()
	b, err := nodestore.New(idx, newMemStore())
	require.NoError(t, err)
	require.NoError(t, b.Close())
	require.True(t, idx.closed)
}
