package compressors

import (
	"bytes"
	"fmt"
	"io"

	"github.com/LittleNewton/zfs/core"
	lz4 "github.com/pierrec/lz4/v4"
)

// LZ4Compressor implements the Compressor interface using LZ4 block
// compression.
type LZ4Compressor struct{}

var _ core.Compressor = (*LZ4Compressor)(nil)

func NewLz4Compressor() *LZ4Compressor {
	return &LZ4Compressor{}
}

func (c *LZ4Compressor) Compress(data []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, dst, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress error: %w", err)
	}
	if n == 0 && len(data) > 0 {
		// Incompressible input; CompressBlock signals this with a
		// zero length rather than an error.
		return nil, fmt.Errorf("lz4 compression resulted in zero bytes for non-empty input")
	}
	return dst[:n], nil
}

func (c *LZ4Compressor) Decompress(data []byte) (io.ReadCloser, error) {
	// The lz4 block format does not record the original size, so grow
	// the destination until the block fits.
	size := 4 * len(data)
	if size == 0 {
		size = 16
	}
	for {
		dst := make([]byte, size)
		n, err := lz4.UncompressBlock(data, dst)
		if err == nil {
			return io.NopCloser(bytes.NewReader(dst[:n])), nil
		}
		if size >= 64<<20 {
			return nil, fmt.Errorf("lz4 decompress error: %w", err)
		}
		size *= 2
	}
}

func (c *LZ4Compressor) Type() core.CompressionType {
	return core.CompressionLZ4
}
