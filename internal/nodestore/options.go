package nodestore

import (
	"log/slog"
	"time"

	"nodestore/internal/codec"
)

// DefaultDeleteConcurrency bounds the number of primary deletes DeleteMulti
// keeps in flight.
const DefaultDeleteConcurrency = 8

// Options holds the tunables of a Backend.
type Options struct {
	Secondary     Secondary
	Cache         Cache
	ReadThrough   bool
	WriteThrough  bool
	DeleteThrough bool

	// Compression names the scheme used for new writes; empty disables it.
	Compression string
	Codecs      *codec.Registry

	// KeyPrefix is prepended to every derived object key.
	KeyPrefix string

	DeleteConcurrency int
	Clock             func() time.Time
	Logger            *slog.Logger
}

// Option mutates Options.
type Option func(*Options)

func WithSecondary(secondary Secondary) Option {
	return func(o *Options) {
		o.Secondary = secondary
	}
}

func WithCache(cache Cache) Option {
	return func(o *Options) {
		o.Cache = cache
	}
}

func WithReadThrough(enabled bool) Option {
	return func(o *Options) {
		o.ReadThrough = enabled
	}
}

func WithWriteThrough(enabled bool) Option {
	return func(o *Options) {
		o.WriteThrough = enabled
	}
}

func WithDeleteThrough(enabled bool) Option {
	return func(o *Options) {
		o.DeleteThrough = enabled
	}
}

// WithCompression selects the scheme used to compress new writes.
func WithCompression(scheme string) Option {
	return func(o *Options) {
		o.Compression = scheme
	}
}

// WithoutCompression stores new writes uncompressed. Existing compressed
// objects remain readable.
func WithoutCompression() Option {
	return func(o *Options) {
		o.Compression = ""
	}
}

func WithCodecs(codecs *codec.Registry) Option {
	return func(o *Options) {
		o.Codecs = codecs
	}
}

func WithKeyPrefix(prefix string) Option {
	return func(o *Options) {
		o.KeyPrefix = prefix
	}
}

func WithDeleteConcurrency(n int) Option {
	return func(o *Options) {
		o.DeleteConcurrency = n
	}
}

// WithClock overrides the source of write timestamps.
func WithClock(clock func() time.Time) Option {
	return func(o *Options) {
		o.Clock = clock
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

func newOptions(opts ...Option) Options {
	o := Options{
		Cache:             NopCache{},
		Compression:       codec.ZstdName,
		DeleteConcurrency: DefaultDeleteConcurrency,
		Clock:             time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if o.Codecs == nil {
		o.Codecs = codec.Default()
	}
	if o.Cache == nil {
		o.Cache = NopCache{}
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.DeleteConcurrency <= 0 {
		o.DeleteConcurrency = DefaultDeleteConcurrency
	}
	return o
}
