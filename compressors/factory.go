package compressors

import (
	"fmt"

	"github.com/LittleNewton/zfs/core"
)

// ForType returns the Compressor implementation for the given type.
func ForType(t core.CompressionType) (core.Compressor, error) {
	switch t {
	case core.CompressionNone:
		return NewNoCompressionCompressor(), nil
	case core.CompressionSnappy:
		return NewSnappyCompressor(), nil
	case core.CompressionLZ4:
		return NewLz4Compressor(), nil
	default:
		return nil, fmt.Errorf("%w: unknown compression type %d", core.ErrInvalid, t)
	}
}
