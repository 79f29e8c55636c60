package inject

import (
	"errors"

	"github.com/LittleNewton/zfs/core"
	"github.com/LittleNewton/zfs/zio"
)

// percentageMax is the denominator of the extended high-resolution
// frequency scale used when Freq exceeds 100.
const percentageMax = 10000

// freqTriggered tests whether the rule's configured frequency fires this
// time. Zero means always.
func (e *Engine) freqTriggered(freq uint32) bool {
	if freq == 0 {
		return true
	}

	// Frequencies at most 100 are a plain percentage; larger values use
	// the legacy high-resolution scale.
	maximum := uint32(100)
	if freq > 100 {
		maximum = percentageMax
	}
	return uint32(e.randIntn(int(maximum))) < freq
}

// matchHandler decides whether the rule matches the operation's coordinates
// and, if so, whether it fires this time. Match and inject statistics are
// updated as a side effect.
func (e *Engine) matchHandler(bm *core.Bookmark, objType core.ObjectType, dva int, h *handler, err error) bool {
	matched := false
	rec := &h.rec

	switch {
	// The pool's internal metadata object-set matches on object type
	// alone; the block range is ignored. This special case is checked
	// first and exclusively.
	case bm.Objset == core.MetaObjset &&
		rec.Objset == core.MetaObjset &&
		rec.Object == core.MetaDnodeObject:
		matched = rec.ObjType == core.ObjectTypeNone || objType == rec.ObjType

	// Otherwise an exact match: same object address, block id within the
	// inclusive range, copy slot in the configured bitmask, and the
	// observed error equal to the target error.
	case bm.Objset == rec.Objset &&
		bm.Object == rec.Object &&
		bm.Level == rec.Level &&
		bm.BlkID >= rec.Start &&
		bm.BlkID <= rec.End &&
		(rec.DVAs == 0 || (dva != core.NoDVA && rec.DVAs&(1<<uint(dva)) != 0)) &&
		errors.Is(err, rec.Err):
		matched = true
	}

	if !matched {
		return false
	}
	h.matchCount.Add(1)
	injected := e.freqTriggered(rec.Freq)
	if injected {
		h.injectCount.Add(1)
	}
	return injected
}

// matchIOType tests an operation against a rule's I/O type filter.
func matchIOType(z *zio.ZIO, iotype core.IOType) bool {
	// Unknown filter values, perhaps from a newer rule format, never
	// match.
	if iotype >= core.IOTypeCount {
		return false
	}

	// Probe operations match the probe filter exclusively, regardless of
	// their underlying type.
	if z.Flags&zio.FlagProbe != 0 {
		return iotype == core.IOTypeProbe
	}

	if iotype < core.IOTypeAll {
		return iotype == z.Type
	}
	return iotype == core.IOTypeAll
}

// flipRandomBit corrupts a single pseudo-random bit in a single
// pseudo-random byte of the buffer, simulating silent corruption. The
// buffer is owned by the in-flight operation and not read concurrently.
func (e *Engine) flipRandomBit(buf []byte) {
	if len(buf) == 0 {
		return
	}
	byteIdx := e.randIntn(len(buf))
	buf[byteIdx] ^= 1 << uint(e.randIntn(8))
}
