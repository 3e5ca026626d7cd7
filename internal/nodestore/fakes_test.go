package nodestore_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"nodestore/internal/index"
	"nodestore/internal/nodestore"
	"nodestore/internal/objectstore"
)

// memIndex is an in-memory index.Index with the same write-once semantics as
// the SQL implementation.
type memIndex struct {
	mu      sync.Mutex
	entries map[string]time.Time
	closed  bool
	// honorCtx makes Lookup and Delete fail once ctx is done, like a SQL
	// driver would.
	honorCtx bool
}

func newMemIndex() *memIndex {
	return &memIndex{entries: map[string]time.Time{}}
}

func (m *memIndex) Upsert(_ context.Context, id string, t time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[id]; ok {
		return false, nil
	}
	m.entries[id] = t
	return true, nil
}

func (m *memIndex) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.honorCtx && ctx.Err() != nil {
		return ctx.Err()
	}
	delete(m.entries, id)
	return nil
}

func (m *memIndex) Lookup(ctx context.Context, id string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.honorCtx && ctx.Err() != nil {
		return time.Time{}, ctx.Err()
	}
	ts, ok := m.entries[id]
	if !ok {
		return time.Time{}, index.ErrNotFound
	}
	return ts, nil
}

func (m *memIndex) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, ts := range m.entries {
		if ts.Before(cutoff) {
			delete(m.entries, id)
			n++
		}
	}
	return n, nil
}

func (m *memIndex) Close() error {
	m.closed = true
	return nil
}

func (m *memIndex) has(id string) bool {
	_, err := m.Lookup(context.Background(), id)
	return err == nil
}

// memStore is an in-memory objectstore.Store.
type memStore struct {
	mu      sync.Mutex
	objects map[string]objectstore.Object
	putErr  error
	// deleteDelay stalls every Delete before it takes effect.
	deleteDelay time.Duration
}

func newMemStore() *memStore {
	return &memStore{objects: map[string]objectstore.Object{}}
}

func (m *memStore) Put(_ context.Context, key string, data []byte, contentEncoding string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.objects[key] = objectstore.Object{Data: append([]byte(nil), data...), ContentEncoding: contentEncoding}
	return nil
}

func (m *memStore) Get(_ context.Context, key string) (*objectstore.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, objectstore.ErrNotFound
	}
	return &obj, nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	time.Sleep(m.deleteDelay)
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memStore) object(key string) (objectstore.Object, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	return obj, ok
}

func (m *memStore) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.objects))
	for k := range m.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// fakeSecondary records every call made to it.
type fakeSecondary struct {
	mu       sync.Mutex
	data     map[string][]byte
	calls    map[string]int
	lastTTL  time.Duration
	cutoff   time.Time
	multiIDs []string
}

func newFakeSecondary() *fakeSecondary {
	return &fakeSecondary{data: map[string][]byte{}, calls: map[string]int{}}
}

func (f *fakeSecondary) GetBytes(_ context.Context, id string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["get"]++
	data, ok := f.data[id]
	if !ok {
		return nil, nodestore.ErrNotFound
	}
	return data, nil
}

func (f *fakeSecondary) SetBytes(_ context.Context, id string, data []byte, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["set"]++
	f.data[id] = data
	f.lastTTL = ttl
	return nil
}

func (f *fakeSecondary) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["delete"]++
	delete(f.data, id)
	return nil
}

func (f *fakeSecondary) DeleteMulti(_ context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["delete_multi"]++
	f.multiIDs = append([]string(nil), ids...)
	for _, id := range ids {
		delete(f.data, id)
	}
	return nil
}

func (f *fakeSecondary) Cleanup(_ context.Context, cutoff time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["cleanup"]++
	f.cutoff = cutoff
	return nil
}

func (f *fakeSecondary) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeSecondary) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

// recordingCache remembers invalidations.
type recordingCache struct {
	mu    sync.Mutex
	ids   []string
	multi [][]string
}

func (c *recordingCache) Invalidate(_ context.Context, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = append(c.ids, id)
}

func (c *recordingCache) InvalidateMulti(_ context.Context, ids []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.multi = append(c.multi, append([]string(nil), ids...))
}

// expandingCodec always produces output longer than its input.
type expandingCodec struct{}

func (expandingCodec) Name() string { return "expand" }

func (expandingCodec) Encode(src []byte) ([]byte, error) {
	return append([]byte("XXXXXXXXXXXXXXXX"), src...), nil
}

func (expandingCodec) Decode(src []byte) ([]byte, error) {
	if len(src) < 16 {
		return nil, errors.New("short input")
	}
	return src[16:], nil
}

// halvingCodec stores the first half of a doubled payload.
type halvingCodec struct{}

func (halvingCodec) Name() string { return "halve" }

func (halvingCodec) Encode(src []byte) ([]byte, error) {
	return src[:len(src)/2], nil
}

func (halvingCodec) Decode(src []byte) ([]byte, error) {
	return append(append([]byte(nil), src...), src...), nil
}

// sequenceClock returns the given instants in order, repeating the last.
func sequenceClock(instants ...time.Time) func() time.Time {
	var mu sync.Mutex
	i := 0
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := instants[i]
		if i < len(instants)-1 {
			i++
		}
		return t
	}
}
