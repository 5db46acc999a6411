// internal/safe/compression.go
package safe

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// compressor wraps a shared zstd encoder/decoder pair. EncodeAll and
// DecodeAll are safe for concurrent use on a single instance.
type compressor struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
	min int
}

func newCompressor(min int) (*compressor, error) {
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, fmt.Errorf("creating encoder: %w", err)
	}

	dec, err := zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(1),
	)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("creating decoder: %w", err)
	}

	return &compressor{enc: enc, dec: dec, min: min}, nil
}

// compress returns the stored form of content and whether it was
// compressed. Blobs below the size floor, or blobs that do not shrink,
// are stored as-is.
func (c *compressor) compress(content []byte) ([]byte, bool) {
	if len(content) < c.min {
		return content, false
	}
	compressed := c.enc.EncodeAll(content, make([]byte, 0, len(content)))
	if len(compressed) >= len(content) {
		return content, false
	}
	return compressed, true
}

func (c *compressor) decompress(content []byte) ([]byte, error) {
	return c.dec.DecodeAll(content, nil)
}

func (c *compressor) close() {
	c.enc.Close()
	c.dec.Close()
}
