package codec

import (
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
)

const (
	// ZstdName is the scheme name of the Zstandard codec.
	ZstdName = "zstd"

	// S2Name is the scheme name of the S2 (Snappy-compatible) codec.
	S2Name = "s2"
)

// Zstd is a Codec backed by klauspost/compress/zstd. EncodeAll and DecodeAll
// are safe for concurrent use, so a single encoder/decoder pair is shared.
type Zstd struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewZstd returns a Zstd codec using the default compression level.
func NewZstd() *Zstd {
	// Both constructors only fail on invalid options.
	enc, _ := zstd.NewWriter(nil)
	dec, _ := zstd.NewReader(nil)
	return &Zstd{enc: enc, dec: dec}
}

func (z *Zstd) Name() string { return ZstdName }

func (z *Zstd) Encode(src []byte) ([]byte, error) {
	return z.enc.EncodeAll(src, make([]byte, 0, len(src))), nil
}

func (z *Zstd) Decode(src []byte) ([]byte, error) {
	return z.dec.DecodeAll(src, nil)
}

// S2 is a Codec backed by klauspost/compress/s2, trading ratio for speed.
type S2 struct{}

// NewS2 returns an S2 codec.
func NewS2() S2 { return S2{} }

func (S2) Name() string { return S2Name }

func (S2) Encode(src []byte) ([]byte, error) {
	return s2.Encode(nil, src), nil
}

func (S2) Decode(src []byte) ([]byte, error) {
	return s2.Decode(nil, src)
}
