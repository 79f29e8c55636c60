package spa

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/LittleNewton/zfs/arc"
	"github.com/LittleNewton/zfs/compressors"
	"github.com/LittleNewton/zfs/core"
	"github.com/LittleNewton/zfs/vdev"
)

// State tracks whether a pool is loaded in the namespace.
type State int32

const (
	StateActive State = iota
	StateExported
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateExported:
		return "exported"
	default:
		return "unknown"
	}
}

// DeviceConfig describes one device in a pool's device tree.
type DeviceConfig struct {
	GUID     uint64
	PSize    uint64
	Children []DeviceConfig
}

// PoolConfig describes a pool to import.
type PoolConfig struct {
	Devices       []DeviceConfig
	CacheCapacity int
	CacheShards   int
	Compression   core.CompressionType
}

// ObjectInfo carries the block geometry of one object, used to translate
// byte ranges into block-id ranges.
type ObjectInfo struct {
	// DataBlockShift is the log2 size of the object's data blocks.
	DataBlockShift int
	// IndirectShift is the log2 size of the object's indirect blocks.
	IndirectShift int
	// Levels is the object's indirection depth; level 0 is data.
	Levels int
}

type objKey struct {
	objset uint64
	object uint64
}

// Pool is a live storage pool: a named device tree, a block cache, and the
// object metadata needed by range translation. A Pool object survives
// export/reload; the injection hold count only gates final destruction.
type Pool struct {
	name   string
	config PoolConfig
	root   *vdev.Device
	cache  *arc.Cache
	logger *slog.Logger

	state      atomic.Int32
	injectRefs atomic.Int64
	syncingTXG atomic.Uint64

	mu      sync.RWMutex
	objects map[objKey]ObjectInfo
}

var _ core.Pool = (*Pool)(nil)

func newPool(name string, config PoolConfig, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	p := &Pool{
		name:    name,
		config:  config,
		logger:  logger.With("pool", name),
		objects: make(map[objKey]ObjectInfo),
	}
	p.load()
	return p
}

func buildDevice(cfg DeviceConfig) *vdev.Device {
	d := vdev.New(cfg.GUID, cfg.PSize)
	for _, c := range cfg.Children {
		d.AddChild(buildDevice(c))
	}
	return d
}

// load (re)constructs the pool's runtime state from its config. Object
// metadata and the syncing txg persist across a reload, matching an
// on-disk pool whose contents survive an export.
func (p *Pool) load() {
	root := vdev.New(0, 0)
	for _, c := range p.config.Devices {
		root.AddChild(buildDevice(c))
	}
	p.root = root
	comp, err := compressors.ForType(p.config.Compression)
	if err != nil {
		// Unknown codec in config degrades to uncompressed caching.
		p.logger.Warn("unknown cache compression, caching uncompressed", "error", err)
		comp = nil
	}
	p.cache = arc.New(arc.Options{
		Capacity:   p.config.CacheCapacity,
		Shards:     p.config.CacheShards,
		Compressor: comp,
		Logger:     p.logger,
	})
	p.state.Store(int32(StateActive))
}

// unload tears down runtime state. The Pool object itself stays valid so
// outstanding injection holds keep working.
func (p *Pool) unload(ctx context.Context) {
	_ = p.cache.FlushAll(ctx)
	p.state.Store(int32(StateExported))
}

// Name returns the pool's namespace name.
func (p *Pool) Name() string { return p.name }

// State returns the pool's load state.
func (p *Pool) State() State { return State(p.state.Load()) }

// SyncingTXG returns the transaction group currently being synced.
func (p *Pool) SyncingTXG() uint64 { return p.syncingTXG.Load() }

// AdvanceTXG moves the pool to the next transaction group and returns it.
func (p *Pool) AdvanceTXG() uint64 { return p.syncingTXG.Add(1) }

// RootDevice returns the root of the pool's device tree.
func (p *Pool) RootDevice() *vdev.Device { return p.root }

// LookupDevice finds a device by guid within the pool's device tree, or nil.
func (p *Pool) LookupDevice(guid uint64) *vdev.Device {
	return p.root.Lookup(guid)
}

// Cache returns the pool's block cache.
func (p *Pool) Cache() *arc.Cache { return p.cache }

// FlushCaches drops all cached blocks pool-wide.
func (p *Pool) FlushCaches(ctx context.Context) error {
	return p.cache.FlushAll(ctx)
}

// SetObjectInfo records the block geometry for one object.
func (p *Pool) SetObjectInfo(objset, object uint64, info ObjectInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.objects[objKey{objset, object}] = info
}

// ObjectInfo returns the block geometry for one object.
func (p *Pool) ObjectInfo(objset, object uint64) (ObjectInfo, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	info, ok := p.objects[objKey{objset, object}]
	return info, ok
}

// InjectAddRef takes one injection hold on the pool. The hold blocks final
// destruction but not export.
func (p *Pool) InjectAddRef() {
	p.injectRefs.Add(1)
}

// InjectRelease drops one injection hold.
func (p *Pool) InjectRelease() {
	if p.injectRefs.Add(-1) < 0 {
		panic("injection hold released more times than taken")
	}
}

// InjectHolds returns the number of outstanding injection holds.
func (p *Pool) InjectHolds() int64 { return p.injectRefs.Load() }
