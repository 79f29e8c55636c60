// Package spa implements the pool namespace the injection engine observes
// and perturbs: pool import/export/destroy, injection holds, device lookup,
// and byte-range to block-range translation.
package spa

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/LittleNewton/zfs/core"
	"github.com/LittleNewton/zfs/internal/clock"
)

// DelayProbe is invoked by the import and export paths with the time already
// spent on the operation, so a registered pool-delay rule can suspend the
// caller for the remainder of its configured duration.
type DelayProbe func(ctx context.Context, pool core.Pool, elapsed time.Duration)

// NamespaceOptions configures a Namespace.
type NamespaceOptions struct {
	Logger *slog.Logger
	Clock  clock.Clock
}

// Namespace is the registry of live pools, keyed by name. All structural
// access goes through the namespace mutex.
type Namespace struct {
	logger *slog.Logger
	clock  clock.Clock

	mu    sync.Mutex
	pools map[string]*Pool

	probeMu     sync.RWMutex
	importProbe DelayProbe
	exportProbe DelayProbe
}

// NewNamespace creates an empty pool namespace.
func NewNamespace(opts NamespaceOptions) *Namespace {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.SystemClockDefault
	}
	return &Namespace{
		logger: logger.With("component", "spa"),
		clock:  clk,
		pools:  make(map[string]*Pool),
	}
}

// SetDelayProbes registers the injection engine's import and export delay
// probes. Either may be nil.
func (ns *Namespace) SetDelayProbes(importProbe, exportProbe DelayProbe) {
	ns.probeMu.Lock()
	defer ns.probeMu.Unlock()
	ns.importProbe = importProbe
	ns.exportProbe = exportProbe
}

// Lookup returns the live pool with the given name, or nil.
func (ns *Namespace) Lookup(name string) *Pool {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	return ns.pools[name]
}

// Exists reports whether a live pool with the given name is in the
// namespace.
func (ns *Namespace) Exists(name string) bool {
	return ns.Lookup(name) != nil
}

// Import loads a pool into the namespace. If an import-delay rule targets
// the name, the call suspends for the remainder of the rule's duration
// before the pool becomes visible.
func (ns *Namespace) Import(ctx context.Context, name string, config PoolConfig) (*Pool, error) {
	begin := ns.clock.Now()

	ns.mu.Lock()
	if _, ok := ns.pools[name]; ok {
		ns.mu.Unlock()
		return nil, fmt.Errorf("importing pool %q: %w", name, core.ErrExists)
	}
	ns.mu.Unlock()

	p := newPool(name, config, ns.logger)

	ns.probeMu.RLock()
	probe := ns.importProbe
	ns.probeMu.RUnlock()
	if probe != nil {
		probe(ctx, p, ns.clock.Now().Sub(begin))
	}

	ns.mu.Lock()
	defer ns.mu.Unlock()
	if _, ok := ns.pools[name]; ok {
		return nil, fmt.Errorf("importing pool %q: %w", name, core.ErrExists)
	}
	ns.pools[name] = p
	ns.logger.Info("imported pool", "pool", name, "elapsed", ns.clock.Now().Sub(begin))
	return p, nil
}

// Export removes a pool from the namespace. Outstanding injection holds do
// not block export; the Pool object stays valid for any handler still
// referencing it. If an export-delay rule targets the name, the call
// suspends for the remainder of the rule's duration.
func (ns *Namespace) Export(ctx context.Context, name string) error {
	begin := ns.clock.Now()

	ns.mu.Lock()
	p, ok := ns.pools[name]
	ns.mu.Unlock()
	if !ok {
		return fmt.Errorf("exporting pool %q: %w", name, core.ErrNotFound)
	}

	ns.probeMu.RLock()
	probe := ns.exportProbe
	ns.probeMu.RUnlock()
	if probe != nil {
		probe(ctx, p, ns.clock.Now().Sub(begin))
	}

	ns.mu.Lock()
	delete(ns.pools, name)
	ns.mu.Unlock()

	p.unload(ctx)
	ns.logger.Info("exported pool", "pool", name, "holds", p.InjectHolds())
	return nil
}

// Destroy removes a pool from the namespace permanently. Unlike Export, it
// refuses while injection holds are outstanding.
func (ns *Namespace) Destroy(ctx context.Context, name string) error {
	ns.mu.Lock()
	p, ok := ns.pools[name]
	if !ok {
		ns.mu.Unlock()
		return fmt.Errorf("destroying pool %q: %w", name, core.ErrNotFound)
	}
	if holds := p.InjectHolds(); holds > 0 {
		ns.mu.Unlock()
		return fmt.Errorf("destroying pool %q: %d injection holds outstanding: %w",
			name, holds, core.ErrBusy)
	}
	delete(ns.pools, name)
	ns.mu.Unlock()

	p.unload(ctx)
	ns.logger.Info("destroyed pool", "pool", name)
	return nil
}

// Reset unloads and reloads a pool in place, so the next access re-runs the
// load paths where pending faults will be observed. The Pool object is
// reused; references held by injection handlers stay valid.
func (ns *Namespace) Reset(name string) error {
	ns.mu.Lock()
	p, ok := ns.pools[name]
	ns.mu.Unlock()
	if !ok {
		return fmt.Errorf("resetting pool %q: %w", name, core.ErrNotFound)
	}
	p.unload(context.Background())
	p.load()
	ns.logger.Info("reset pool", "pool", name)
	return nil
}

// InjectAddRef takes an injection hold on the named pool and returns it.
func (ns *Namespace) InjectAddRef(name string) (core.Pool, error) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	p, ok := ns.pools[name]
	if !ok {
		return nil, fmt.Errorf("pool %q: %w", name, core.ErrNotFound)
	}
	p.InjectAddRef()
	return p, nil
}

// FlushCaches drops cached blocks in every live pool. Best effort; the
// first error is returned after all pools have been attempted.
func (ns *Namespace) FlushCaches(ctx context.Context) error {
	ns.mu.Lock()
	pools := make([]*Pool, 0, len(ns.pools))
	for _, p := range ns.pools {
		pools = append(pools, p)
	}
	ns.mu.Unlock()

	var firstErr error
	for _, p := range pools {
		if err := p.FlushCaches(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ResolveRange translates a byte range on the given object into a block-id
// range at the requested indirection level. Returns core.ErrDomain when the
// level exceeds the object's depth.
func (ns *Namespace) ResolveRange(name string, objset, object uint64, level int64, start, end uint64) (uint64, uint64, error) {
	p := ns.Lookup(name)
	if p == nil {
		return 0, 0, fmt.Errorf("pool %q: %w", name, core.ErrNotFound)
	}
	info, ok := p.ObjectInfo(objset, object)
	if !ok {
		return 0, 0, fmt.Errorf("object %d/%d in pool %q: %w",
			objset, object, name, core.ErrNotFound)
	}

	// An all-encompassing range stays all-encompassing; anything else is
	// collapsed from bytes to data block ids.
	if start != 0 || end != math.MaxUint64 {
		start >>= uint(info.DataBlockShift)
		end >>= uint(info.DataBlockShift)
	}
	if level > 0 {
		if level >= int64(info.Levels) {
			return 0, 0, fmt.Errorf("level %d exceeds object depth %d: %w",
				level, info.Levels, core.ErrDomain)
		}
		if start != 0 || end != 0 {
			shift := uint(info.IndirectShift - core.BlockPtrShift)
			for l := level; l > 0; l-- {
				start >>= shift
				end >>= shift
			}
		}
	}
	return start, end, nil
}
