package inject

import (
	"context"
	"time"

	"github.com/LittleNewton/zfs/core"
	"github.com/LittleNewton/zfs/zio"
)

// HandleIODelay computes the target completion time for an operation
// subject to delay-io rules, or the zero time if the operation should not
// be delayed. The caller is responsible for suspending the operation until
// the returned instant.
//
// Each delay rule owns a number of lanes, each able to carry one operation
// at the rule's configured latency. A rule with a single 10ms lane
// completes at most one operation per 10ms; submitting faster than that
// queues operations behind the lane and raises their observed latency.
func (e *Engine) HandleIODelay(z *zio.ZIO) time.Time {
	var minTarget time.Time

	e.mu.RLock()
	defer e.mu.RUnlock()

	// delayCount is a subset of the enabled counter that only tracks
	// delay rules. If none are registered, skip the scan entirely and
	// avoid taking the lane mutex on the hot read path.
	if e.delayCount == 0 {
		return minTarget
	}

	// The scan only needs shared access to the registry, but choosing a
	// lane and claiming it must be atomic across concurrent callers;
	// otherwise two operations could claim the same lane and the
	// per-rule concurrency bound would not hold. The dedicated mutex
	// keeps that critical section from serializing unrelated registry
	// reads. Lock order is always registry lock, then lane mutex.
	e.laneMu.Lock()
	defer e.laneMu.Unlock()

	var minHandler *handler
	now := e.clock.Now()

	for _, h := range e.handlers {
		if h.rec.Cmd != CommandDelayIO {
			continue
		}

		if z.Device.GUID != h.rec.GUID {
			continue
		}

		if !matchIOType(z, h.rec.IOType) {
			continue
		}

		// A delay rule without its lane table indicates registry
		// corruption; fail loudly.
		if h.lanes == nil {
			panic("delay handler registered without a lane table")
		}

		h.matchCount.Add(1)

		if !e.freqTriggered(h.rec.Freq) {
			continue
		}

		// The rule's next lane is always its soonest-idle lane, so a
		// scan of the lane table is unnecessary. If that lane is
		// idle the operation completes one latency from now; if it
		// is busy, one latency after the lane frees up. The later of
		// the two is this rule's candidate target, and the operation
		// goes to whichever rule offers the earliest one.
		idle := now.Add(h.rec.Timer)
		busy := h.lanes[h.nextLane].Add(h.rec.Timer)
		target := idle
		if busy.After(idle) {
			target = busy
		}

		if minHandler == nil || target.Before(minTarget) {
			minHandler = h
			minTarget = target
		}

		// The lane cursor is not advanced yet; a later rule may still
		// offer an earlier target. The winning lane is claimed once
		// the scan is complete.
	}

	if minHandler != nil {
		minHandler.lanes[minHandler.nextLane] = minTarget
		minHandler.nextLane = (minHandler.nextLane + 1) % int(minHandler.rec.NLanes)
		minHandler.injectCount.Add(1)
		e.metrics.ObserveDelay(minTarget.Sub(now))
	}

	return minTarget
}

// HandleImportDelay suspends a pool import for the remainder of a matching
// import-delay rule's duration.
func (e *Engine) HandleImportDelay(ctx context.Context, pool core.Pool, elapsed time.Duration) {
	e.handlePoolDelay(ctx, pool, elapsed, CommandDelayImport)
}

// HandleExportDelay suspends a pool export for the remainder of a matching
// export-delay rule's duration.
func (e *Engine) HandleExportDelay(ctx context.Context, pool core.Pool, elapsed time.Duration) {
	e.handlePoolDelay(ctx, pool, elapsed, CommandDelayExport)
}

func (e *Engine) handlePoolDelay(ctx context.Context, pool core.Pool, elapsed time.Duration, cmd Command) {
	var delay time.Duration
	id := 0

	e.mu.RLock()
	for _, h := range e.handlers {
		if h.rec.Cmd != cmd {
			continue
		}
		if h.name() == pool.Name() {
			h.matchCount.Add(1)
			pause := time.Duration(h.rec.Duration) * time.Second
			if pause > elapsed {
				h.injectCount.Add(1)
				delay = pause - elapsed
			}
			id = h.id
			break
		}
	}
	e.mu.RUnlock()

	if delay > 0 {
		if cmd == CommandDelayImport {
			e.logger.Info("injecting import delay", "pool", pool.Name(), "delay", delay)
		}
		sleepFor(ctx, delay)
	}
	if id != 0 {
		// All done with this one-shot handler.
		_ = e.ClearFault(id)
	}
}

// sleepFor blocks for the given duration or until the context is done.
func sleepFor(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
