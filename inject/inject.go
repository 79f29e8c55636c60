package inject

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/LittleNewton/zfs/core"
)

// Flag modifies handler creation.
type Flag uint32

const (
	// FlagUnloadPool force-unloads the target pool first, so the next
	// load attempt re-runs the paths where the fault will be observed.
	FlagUnloadPool Flag = 1 << iota
	// FlagCalcRange interprets the record's range as bytes and
	// translates it to block ids before registration.
	FlagCalcRange
	// FlagFlushCache drops all cached blocks after registration, so
	// subsequent reads go through the I/O path where the fault applies.
	FlagFlushCache
	// FlagDryRun validates the request without registering a handler.
	FlagDryRun
)

// InjectFault validates the record, takes the appropriate hold on the
// target, and registers a new handler, returning its id. On any failure
// the registry and all counters are left unchanged.
func (e *Engine) InjectFault(ctx context.Context, name string, flags Flag, rec Record) (int, error) {
	ctx, span := e.tracer.Start(ctx, "inject.InjectFault", trace.WithAttributes(
		attribute.String("pool", name),
		attribute.String("command", rec.Cmd.String()),
	))
	defer span.End()

	// Pool-wide metadata faults only trigger during load, so unload the
	// pool now if asked; the next attempt to use it will re-load it.
	if flags&FlagUnloadPool != 0 {
		if err := e.broker.Reset(name); err != nil {
			return 0, err
		}
	}

	if err := rec.validate(e.maxLanes); err != nil {
		return 0, err
	}

	// If the supplied range was in bytes, translate it to block ids.
	if flags&FlagCalcRange != 0 {
		start, end, err := e.broker.ResolveRange(name, rec.Objset, rec.Object, rec.Level, rec.Start, rec.End)
		if err != nil {
			return 0, err
		}
		rec.Start, rec.End = start, end
	}

	id := 0
	if flags&FlagDryRun == 0 {
		h := &handler{rec: rec}

		if rec.Cmd.poolDelay() {
			// Import and export delays do not take an injection
			// hold; no live pool may exist yet. They match by
			// name, at most one per pool per direction.
			if e.poolHandlerExists(name, rec.Cmd) {
				return 0, fmt.Errorf("pool %q already has a %s rule: %w",
					name, rec.Cmd.String(), core.ErrExists)
			}
			exists := e.broker.Exists(name)
			if rec.Cmd == CommandDelayImport && exists {
				return 0, fmt.Errorf("pool %q is already imported: %w", name, core.ErrExists)
			}
			if rec.Cmd == CommandDelayExport && !exists {
				return 0, fmt.Errorf("pool %q: %w", name, core.ErrNotFound)
			}
			h.poolName = name
		} else {
			// The injection hold keeps the pool from being removed
			// from the namespace while still allowing it to be
			// unloaded.
			pool, err := e.broker.InjectAddRef(name)
			if err != nil {
				return 0, err
			}
			h.pool = pool
		}

		// The lane table is allocated before the handler is linked in,
		// and outside the write lock.
		if rec.Cmd == CommandDelayIO {
			h.lanes = make([]time.Time, rec.NLanes)
		}

		e.mu.Lock()
		if rec.Cmd == CommandDelayIO {
			e.delayCount++
		}
		h.id = e.nextID
		e.nextID++
		e.handlers = append(e.handlers, h)
		e.enabled.Add(1)
		e.mu.Unlock()

		id = h.id
		e.metrics.HandlersCreated.Add(1)
		e.metrics.ActiveHandlers.Add(1)
		e.logger.Info("registered injection handler",
			"id", id, "command", rec.Cmd.String(), "pool", name)
	}

	// Drop the caches so attempts to read the targeted data reach the
	// I/O layer. Coarser than necessary, but fault injection is not a
	// performance-critical path. Best effort.
	if flags&FlagFlushCache != 0 {
		if err := e.broker.FlushCaches(ctx); err != nil {
			e.logger.Warn("cache flush after registration failed", "error", err)
		}
	}

	return id, nil
}

// ClearFault removes the handler with the given id, releasing whichever
// hold it took at creation, or returns core.ErrNotFound.
func (e *Engine) ClearFault(id int) error {
	_, span := e.tracer.Start(context.Background(), "inject.ClearFault", trace.WithAttributes(
		attribute.Int("id", id),
	))
	defer span.End()

	e.mu.Lock()
	idx := -1
	for i, h := range e.handlers {
		if h.id == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		e.mu.Unlock()
		return fmt.Errorf("injection handler %d: %w", id, core.ErrNotFound)
	}
	h := e.handlers[idx]
	if h.rec.Cmd == CommandDelayIO {
		e.delayCount--
	}
	e.handlers = append(e.handlers[:idx], e.handlers[idx+1:]...)
	e.enabled.Add(-1)
	e.mu.Unlock()

	// Resource release happens after the handler is unlinked, so no
	// concurrent evaluator can observe a partially-torn-down handler.
	if h.rec.Cmd == CommandDelayIO {
		if h.lanes == nil {
			panic("delay handler removed without a lane table")
		}
		h.lanes = nil
	}
	if h.pool != nil {
		h.pool.InjectRelease()
	}

	e.metrics.HandlersRemoved.Add(1)
	e.metrics.ActiveHandlers.Add(-1)
	e.logger.Info("removed injection handler", "id", id, "command", h.rec.Cmd.String())
	return nil
}

// ListNext returns the first handler with an id strictly greater than
// lastID, enabling stateless cursor enumeration by repeated calls. Returns
// core.ErrNotFound when none remain.
func (e *Engine) ListNext(lastID int) (int, string, Record, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, h := range e.handlers {
		if h.id > lastID {
			return h.id, h.name(), h.snapshot(), nil
		}
	}
	return 0, "", Record{}, fmt.Errorf("no injection handler beyond id %d: %w", lastID, core.ErrNotFound)
}

// poolHandlerExists reports whether a pool-delay rule of the given kind
// already targets the named pool.
func (e *Engine) poolHandlerExists(name string, cmd Command) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, h := range e.handlers {
		if h.rec.Cmd != cmd {
			continue
		}
		if h.name() == name {
			return true
		}
	}
	return false
}
