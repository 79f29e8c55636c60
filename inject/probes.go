package inject

import (
	"errors"
	"fmt"

	"github.com/LittleNewton/zfs/core"
	"github.com/LittleNewton/zfs/vdev"
	"github.com/LittleNewton/zfs/zio"
)

// HandleFaultInjection determines whether a read should fail with the
// candidate error. Returns the error to surface, or nil to let the
// operation proceed. When the matching rule's target error is the
// corruption sentinel, the read buffer is silently corrupted instead and
// nil is returned.
func (e *Engine) HandleFaultInjection(z *zio.ZIO, err error) error {
	// Ignore I/O not associated with any logical data.
	if z.Logical == nil {
		return nil
	}

	// Fault injection is only supported on reads.
	if z.Type != core.IOTypeRead {
		return nil
	}

	// A rebuild read has no checksum to verify.
	if z.Priority == zio.PriorityRebuild && errors.Is(err, core.ErrChecksum) {
		return nil
	}

	var ret error

	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, h := range e.handlers {
		if h.pool != z.Pool || h.rec.Cmd != CommandDataFault {
			continue
		}

		objType := core.ObjectTypeNone
		if z.BP != nil {
			objType = z.BP.Type
		}
		if e.matchHandler(z.Logical, objType, z.MatchDVA(), h, err) {
			if errors.Is(h.rec.Err, core.ErrCorrupt) {
				e.flipRandomBit(z.Data)
				break
			}
			ret = err
			break
		}
	}
	return ret
}

// HandleLabelInjection determines whether label I/O against a device should
// fail. The rule's [Start, End] range is relative to a single label copy;
// the copy actually being written is derived from the operation's offset.
func (e *Engine) HandleLabelInjection(z *zio.ZIO, err error) error {
	vd := z.Device
	offset := z.Offset

	if offset >= vdev.LabelStartSize && offset < vd.PSize-vdev.LabelEndSize {
		return nil
	}

	var ret error

	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, h := range e.handlers {
		if h.rec.Cmd != CommandLabelFault {
			continue
		}

		// Adjust the rule's label-relative region to the label copy
		// this operation updates.
		label := vdev.LabelNumber(vd.PSize, offset)
		start := vdev.LabelOffset(vd.PSize, label, h.rec.Start)
		end := vdev.LabelOffset(vd.PSize, label, h.rec.End)

		if vd.GUID == h.rec.GUID && offset >= start && offset <= end {
			h.matchCount.Add(1)
			h.injectCount.Add(1)
			ret = err
			break
		}
	}
	return ret
}

// HandleDecryptInjection determines whether decryption of a block should
// fail with the candidate error.
func (e *Engine) HandleDecryptInjection(pool core.Pool, bm *core.Bookmark, objType core.ObjectType, err error) error {
	var ret error

	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, h := range e.handlers {
		if h.pool != pool || h.rec.Cmd != CommandDecryptFault {
			continue
		}
		if e.matchHandler(bm, objType, core.NoDVA, h, err) {
			ret = err
			break
		}
	}
	return ret
}

// HandleDeviceInjection determines whether an operation against the device
// should fail with the candidate error.
func (e *Engine) HandleDeviceInjection(vd *vdev.Device, z *zio.ZIO, err error) error {
	return e.handleDeviceInjection(vd, z, err, nil)
}

// HandleDeviceInjections is HandleDeviceInjection with two acceptable
// candidate errors, for call sites that can surface either.
func (e *Engine) HandleDeviceInjections(vd *vdev.Device, z *zio.ZIO, err1, err2 error) error {
	return e.handleDeviceInjection(vd, z, err1, err2)
}

func (e *Engine) handleDeviceInjection(vd *vdev.Device, z *zio.ZIO, err1, err2 error) error {
	// Label-region I/O belongs to label injection, not device injection.
	// Device opens (nil operation) and flushes have no meaningful offset
	// and always pass; probes pass so they can reach probe rules.
	if z != nil && z.Type != core.IOTypeFlush && z.Flags&zio.FlagProbe == 0 {
		if z.Offset < vdev.LabelStartSize || z.Offset >= vd.PSize-vdev.LabelEndSize {
			return nil
		}
	}

	var ret error

	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, h := range e.handlers {
		if h.rec.Cmd != CommandDeviceFault {
			continue
		}

		if vd.GUID != h.rec.GUID {
			continue
		}

		if h.rec.Failfast &&
			(z == nil || z.Flags&(zio.FlagIORetry|zio.FlagTryHard) != 0) {
			continue
		}

		if z != nil && !matchIOType(z, h.rec.IOType) {
			continue
		}

		if errors.Is(err1, h.rec.Err) || (err2 != nil && errors.Is(err2, h.rec.Err)) {
			h.matchCount.Add(1)

			if !e.freqTriggered(h.rec.Freq) {
				continue
			}
			h.injectCount.Add(1)

			// For a failed open, pretend the device has gone away.
			if errors.Is(err1, core.ErrNoDevice) {
				vd.SetAux(vdev.AuxOpenFailed)
			}

			// Treat the failure as retried so the engine's own
			// failure statistics and health events reflect it
			// realistically.
			if !h.rec.Failfast && z != nil {
				z.Flags |= zio.FlagIORetry
			}

			// The corruption sentinel flips a bit after a read
			// instead of failing it.
			if errors.Is(h.rec.Err, core.ErrCorrupt) {
				if z == nil {
					break
				}
				e.flipRandomBit(z.Data)
				break
			}

			ret = h.rec.Err
			break
		}
		// A rule configured with the device-gone error acts as a
		// catch-all, converting any other requested error into a
		// generic I/O failure.
		if errors.Is(h.rec.Err, core.ErrNoDevice) {
			h.matchCount.Add(1)
			h.injectCount.Add(1)
			ret = core.ErrIO
			break
		}
	}
	return ret
}

// HandleIgnoredWrites simulates write-back cache hardware that ignores
// flush requests: with fixed 60% probability per matching flush, the device
// pipeline stages are stripped so the write is never durably flushed. The
// first match stamps the rule's start marker, wall clock or transaction
// group depending on the configured duration's sign.
func (e *Engine) HandleIgnoredWrites(z *zio.ZIO) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, h := range e.handlers {
		// Ignore rules not destined for this pool.
		if h.pool != z.Pool || h.rec.Cmd != CommandIgnoredWrites {
			continue
		}

		h.matchCount.Add(1)

		// Positive duration counts seconds, negative a number of
		// transaction groups.
		if h.stamp.Load() == 0 {
			if h.rec.Duration > 0 {
				h.stamp.CompareAndSwap(0, e.clock.Now().UnixNano())
			} else {
				h.stamp.CompareAndSwap(0, int64(z.TXG))
			}
		}

		// Have a "problem" writing 60% of the time.
		if e.randIntn(100) < 60 {
			h.injectCount.Add(1)
			z.Pipeline &^= zio.VdevIOStages
		}
		break
	}
}

// PoolHandleIgnoredWrites is the health-check side of ignored-writes
// injection: it asserts the simulated misbehavior window has not exceeded
// the rule's configured duration. A violation is registry corruption, not a
// runtime condition, and is surfaced as an invariant error.
func (e *Engine) PoolHandleIgnoredWrites(pool core.Pool) error {
	if !e.Enabled() {
		return nil
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, h := range e.handlers {
		if h.pool != pool || h.rec.Cmd != CommandIgnoredWrites {
			continue
		}

		h.matchCount.Add(1)
		h.injectCount.Add(1)

		stamp := h.stamp.Load()
		if stamp == 0 {
			continue
		}
		if h.rec.Duration > 0 {
			deadline := stamp + h.rec.Duration*int64(1e9)
			if e.clock.Now().UnixNano() >= deadline {
				return &core.InvariantError{Condition: fmt.Sprintf(
					"ignored-writes window exceeded %ds on pool %q", h.rec.Duration, pool.Name())}
			}
		} else {
			// Duration is negative, so subtracting adds.
			if uint64(stamp-h.rec.Duration) < pool.SyncingTXG() {
				return &core.InvariantError{Condition: fmt.Sprintf(
					"ignored-writes window exceeded %d txgs on pool %q", -h.rec.Duration, pool.Name())}
			}
		}
	}
	return nil
}

// HandlePanicInjection aborts the process when the named internal
// checkpoint is reached, for crash-recovery testing.
func (e *Engine) HandlePanicInjection(pool core.Pool, tag string, kind core.ObjectType) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, h := range e.handlers {
		if h.pool != pool || h.rec.Cmd != CommandPanic {
			continue
		}
		if h.rec.ObjType == kind && h.rec.Func == tag {
			h.matchCount.Add(1)
			h.injectCount.Add(1)
			panic(fmt.Sprintf("panic requested in function %s", tag))
		}
	}
}
