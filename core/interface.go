package core

import (
	"context"
	"io"
)

// Pool is the injection engine's view of a live storage pool. The concrete
// implementation lives in the spa package; the engine only needs identity,
// the syncing transaction group, cache flushing, and hold release.
type Pool interface {
	// Name returns the pool's namespace name.
	Name() string
	// SyncingTXG returns the transaction group currently being synced.
	SyncingTXG() uint64
	// FlushCaches drops all cached blocks pool-wide, best effort, so
	// subsequent reads go through the I/O path.
	FlushCaches(ctx context.Context) error
	// InjectRelease drops one injection hold previously taken on the
	// pool. It must be called exactly once per hold.
	InjectRelease()
}

// CompressionType identifies the compression algorithm used for cached
// block payloads.
type CompressionType byte

const (
	CompressionNone   CompressionType = 0
	CompressionSnappy CompressionType = 1
	CompressionLZ4    CompressionType = 2
)

func (ct CompressionType) String() string {
	switch ct {
	case CompressionNone:
		return "none"
	case CompressionSnappy:
		return "snappy"
	case CompressionLZ4:
		return "lz4"
	default:
		return "unknown"
	}
}

// Compressor defines the interface for compression and decompression
// algorithms used by the block cache.
type Compressor interface {
	// Compress compresses the input data.
	Compress(data []byte) ([]byte, error)
	// Decompress decompresses the input data.
	Decompress(data []byte) (io.ReadCloser, error)
	// Type returns the CompressionType identifier for this compressor.
	Type() CompressionType
}
