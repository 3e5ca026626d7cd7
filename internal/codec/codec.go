package codec

import (
	"fmt"
	"sort"
	"sync"
)

// Codec is a reversible byte transformation identified by a scheme name. The
// name is what gets recorded as an object's content encoding, so it must stay
// stable for as long as objects encoded with it exist.
type Codec interface {
	// Name returns the scheme name recorded alongside encoded objects.
	Name() string

	// Encode compresses src.
	Encode(src []byte) ([]byte, error)

	// Decode reverses Encode.
	Decode(src []byte) ([]byte, error)
}

// Registry maps scheme names to codecs. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	codecs map[string]Codec
}

// NewRegistry returns a registry holding the given codecs.
func NewRegistry(codecs ...Codec) *Registry {
	r := &Registry{codecs: make(map[string]Codec, len(codecs))}
	for _, c := range codecs {
		r.Register(c)
	}
	return r
}

// Default returns a registry with every codec shipped in this package.
func Default() *Registry {
	return NewRegistry(NewZstd(), NewS2())
}

// Register adds c, replacing any codec already registered under its name.
func (r *Registry) Register(c Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codecs[c.Name()] = c
}

// Lookup returns the codec registered under name. The empty name never
// matches, which is how uncompressed objects are represented.
func (r *Registry) Lookup(name string) (Codec, bool) {
	if name == "" {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.codecs[name]
	return c, ok
}

// MustLookup is like Lookup but returns an error naming the known schemes.
func (r *Registry) MustLookup(name string) (Codec, error) {
	c, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown compression scheme %q (known: %v)", name, r.Names())
	}
	return c, nil
}

// Names lists the registered scheme names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.codecs))
	for name := range r.codecs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
