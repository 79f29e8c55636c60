// Package inject implements the fault-injection engine of the storage pool
// runtime. Operators register rules that corrupt, delay, fail, or ignore
// I/O operations and pool lifecycle events; the storage engine consults
// narrow probe functions at its decision points and applies whatever side
// effect the first matching rule dictates.
//
// Rules are kept in a single id-ordered registry behind one reader/writer
// lock: probes on the I/O hot paths take it shared, rule creation and
// removal take it exclusive. A rule either references a live pool through a
// non-exclusive injection hold, or, for import/export delay rules, an owned
// copy of the pool name. No more than a handful of rules are expected at
// once, so the registry is deliberately a linear structure.
package inject

import (
	"context"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/LittleNewton/zfs/core"
	"github.com/LittleNewton/zfs/internal/clock"
)

// DefaultMaxLanes caps the lane table allocation of a delay-io rule.
const DefaultMaxLanes = 1 << 16

// PoolBroker is the injection engine's window into the pool namespace. The
// spa package provides the production implementation.
type PoolBroker interface {
	// InjectAddRef takes an injection hold on the named pool and
	// returns it, or core.ErrNotFound.
	InjectAddRef(name string) (core.Pool, error)
	// Exists reports whether a live pool with the given name exists.
	Exists(name string) bool
	// Reset unloads and reloads the named pool in place.
	Reset(name string) error
	// ResolveRange translates a byte range on an object into a block-id
	// range at the given indirection level.
	ResolveRange(name string, objset, object uint64, level int64, start, end uint64) (uint64, uint64, error)
	// FlushCaches drops cached blocks in every live pool.
	FlushCaches(ctx context.Context) error
}

// Options configures an Engine.
type Options struct {
	// Broker resolves pool names; required.
	Broker PoolBroker
	// Logger for control-plane reporting. Defaults to a discard logger.
	Logger *slog.Logger
	// Clock drives delay scheduling; defaults to the system clock.
	Clock clock.Clock
	// TracerProvider traces control-plane calls; defaults to noop.
	TracerProvider trace.TracerProvider
	// Seed makes the probabilistic paths deterministic; zero derives a
	// seed from the clock.
	Seed int64
	// MaxLanes overrides the delay lane-count cap; zero means
	// DefaultMaxLanes.
	MaxLanes uint32
}

// Engine is the fault-injection engine. The zero value is not usable;
// construct with NewEngine.
type Engine struct {
	broker   PoolBroker
	logger   *slog.Logger
	clock    clock.Clock
	tracer   trace.Tracer
	metrics  *Metrics
	maxLanes uint32

	// mu guards the handler registry, nextID and delayCount. Probes
	// take it shared; insertion and removal take it exclusive.
	mu         sync.RWMutex
	handlers   []*handler
	nextID     int
	delayCount int

	// enabled counts active handlers. It is the fast-path short-circuit
	// read without the registry lock by systems with no injection
	// configured.
	enabled atomic.Int32

	// laneMu serializes delay lane selection; always acquired inside a
	// shared hold of mu, never the other way around.
	laneMu sync.Mutex

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewEngine creates an injection engine with no registered handlers.
func NewEngine(opts Options) *Engine {
	if opts.Broker == nil {
		panic("inject: Options.Broker is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.SystemClockDefault
	}
	tp := opts.TracerProvider
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	seed := opts.Seed
	if seed == 0 {
		seed = clk.Now().UnixNano()
	}
	maxLanes := opts.MaxLanes
	if maxLanes == 0 {
		maxLanes = DefaultMaxLanes
	}
	return &Engine{
		broker:   opts.Broker,
		logger:   logger.With("component", "inject"),
		clock:    clk,
		tracer:   tp.Tracer("inject"),
		metrics:  NewMetrics(),
		maxLanes: maxLanes,
		nextID:   1,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// Enabled reports whether any handler is registered. Probe call sites use
// it to keep non-injection-configured systems at near-zero overhead.
func (e *Engine) Enabled() bool {
	return e.enabled.Load() > 0
}

// Active returns the number of registered handlers.
func (e *Engine) Active() int {
	return int(e.enabled.Load())
}

// Metrics returns the engine's diagnostic counters.
func (e *Engine) Metrics() *Metrics {
	return e.metrics
}

// Close force-destroys any remaining handlers. Rules are process-lifetime
// only; a clean shutdown is expected to have removed them already.
func (e *Engine) Close() error {
	for {
		e.mu.RLock()
		if len(e.handlers) == 0 {
			e.mu.RUnlock()
			return nil
		}
		id := e.handlers[0].id
		cmd := e.handlers[0].rec.Cmd
		e.mu.RUnlock()

		e.logger.Warn("destroying leftover injection handler", "id", id, "command", cmd.String())
		if err := e.ClearFault(id); err != nil {
			return err
		}
	}
}

// randIntn returns a uniform value in [0, n) from the engine's seeded
// generator.
func (e *Engine) randIntn(n int) int {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return e.rng.Intn(n)
}
