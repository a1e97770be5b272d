package compress

import (
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// Zstd is a Compressor using Zstandard.
// It is safe for concurrent use.
type Zstd struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func NewZstd() (*Zstd, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, errors.Wrap(err, "creating zstd encoder")
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, errors.Wrap(err, "creating zstd decoder")
	}
	return &Zstd{enc: enc, dec: dec}, nil
}

func (z *Zstd) Compress(inp []byte) []byte {
	return z.enc.EncodeAll(inp, nil)
}

func (z *Zstd) Uncompress(inp []byte) ([]byte, error) {
	return z.dec.DecodeAll(inp, nil)
}

// S2 is a Compressor using S2,
// which trades ratio for speed.
type S2 struct{}

func (S2) Compress(inp []byte) []byte {
	return s2.Encode(nil, inp)
}

func (S2) Uncompress(inp []byte) ([]byte, error) {
	return s2.Decode(nil, inp)
}
