// Package arc provides the pool-wide read cache the injection engine flushes
// when a fault must be observed on the I/O path rather than served from
// memory. Cached payloads are stored compressed.
package arc

import (
	"container/list"
	"context"
	"expvar"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/LittleNewton/zfs/compressors"
	"github.com/LittleNewton/zfs/core"
)

// cacheEntry holds the key and compressed payload for a cached block.
type cacheEntry struct {
	key  string
	data []byte
}

// Options configures a Cache.
type Options struct {
	// Capacity is the maximum number of blocks held per shard. Zero
	// disables caching entirely.
	Capacity int
	// Shards is the number of independently locked segments. Defaults
	// to 8.
	Shards int
	// Compressor compresses payloads before caching. Defaults to snappy.
	Compressor core.Compressor
	// Logger for flush reporting. Defaults to a discard logger.
	Logger *slog.Logger
}

type shard struct {
	mu      sync.Mutex
	lruList *list.List
	items   map[string]*list.Element
}

// Cache is a sharded, fixed-size LRU block cache.
type Cache struct {
	opts   Options
	shards []*shard
	comp   core.Compressor
	logger *slog.Logger

	hits   *expvar.Int
	misses *expvar.Int
}

// New creates a Cache with the given options.
func New(opts Options) *Cache {
	if opts.Shards <= 0 {
		opts.Shards = 8
	}
	if opts.Compressor == nil {
		opts.Compressor = compressors.NewSnappyCompressor()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	c := &Cache{
		opts:   opts,
		comp:   opts.Compressor,
		logger: logger.With("component", "arc"),
		hits:   new(expvar.Int),
		misses: new(expvar.Int),
	}
	for i := 0; i < opts.Shards; i++ {
		c.shards = append(c.shards, &shard{
			lruList: list.New(),
			items:   make(map[string]*list.Element),
		})
	}
	return c
}

// BlockKey builds the canonical cache key for a block address.
func BlockKey(pool string, objset, object, level, blkid uint64) string {
	return fmt.Sprintf("%s/%d/%d/%d/%d", pool, objset, object, level, blkid)
}

func (c *Cache) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[int(h.Sum32())%len(c.shards)]
}

// Get retrieves and decompresses a cached block.
func (c *Cache) Get(key string) ([]byte, bool) {
	if c.opts.Capacity <= 0 {
		return nil, false
	}
	s := c.shardFor(key)
	s.mu.Lock()
	elem, ok := s.items[key]
	var compressed []byte
	if ok {
		s.lruList.MoveToFront(elem)
		compressed = elem.Value.(*cacheEntry).data
	}
	s.mu.Unlock()

	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)

	rc, err := c.comp.Decompress(compressed)
	if err != nil {
		// A corrupt cached payload is treated as a miss; the read
		// falls through to the I/O path.
		c.logger.Warn("dropping undecompressable cache entry", "key", key, "error", err)
		c.Invalidate(key)
		return nil, false
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		c.Invalidate(key)
		return nil, false
	}
	return data, true
}

// Put compresses and caches a block payload, evicting the least recently
// used entry when the shard is full.
func (c *Cache) Put(key string, data []byte) error {
	if c.opts.Capacity <= 0 {
		return nil
	}
	compressed, err := c.comp.Compress(data)
	if err != nil {
		return fmt.Errorf("compressing cache entry: %w", err)
	}

	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.items[key]; ok {
		s.lruList.MoveToFront(elem)
		elem.Value.(*cacheEntry).data = compressed
		return nil
	}
	elem := s.lruList.PushFront(&cacheEntry{key: key, data: compressed})
	s.items[key] = elem
	if s.lruList.Len() > c.opts.Capacity {
		oldest := s.lruList.Back()
		if oldest != nil {
			s.lruList.Remove(oldest)
			delete(s.items, oldest.Value.(*cacheEntry).key)
		}
	}
	return nil
}

// Invalidate removes a single key.
func (c *Cache) Invalidate(key string) {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if elem, ok := s.items[key]; ok {
		s.lruList.Remove(elem)
		delete(s.items, key)
	}
}

// FlushAll drops every cached block, flushing shards concurrently. It is
// best effort: concurrent insertions racing the flush may survive, which is
// acceptable for its only caller, fault registration.
func (c *Cache) FlushAll(ctx context.Context) error {
	g, _ := errgroup.WithContext(ctx)
	for _, s := range c.shards {
		s := s
		g.Go(func() error {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.lruList.Init()
			s.items = make(map[string]*list.Element)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	c.logger.Debug("flushed all cached blocks")
	return nil
}

// Len returns the total number of cached blocks across shards.
func (c *Cache) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.Lock()
		n += s.lruList.Len()
		s.mu.Unlock()
	}
	return n
}

// Hits returns the cumulative hit count.
func (c *Cache) Hits() int64 { return c.hits.Value() }

// Misses returns the cumulative miss count.
func (c *Cache) Misses() int64 { return c.misses.Value() }
