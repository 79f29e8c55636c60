package inject

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/LittleNewton/zfs/core"
)

// Command selects what a rule does when it fires.
type Command int

const (
	CommandUninitialized Command = iota
	// CommandDataFault returns the configured error from a matching
	// logical read, or flips a bit when the error is the corruption
	// sentinel.
	CommandDataFault
	// CommandDeviceFault fails operations against a specific device.
	CommandDeviceFault
	// CommandLabelFault fails I/O within a device's label regions.
	CommandLabelFault
	// CommandIgnoredWrites simulates write-back cache hardware that
	// ignores flush requests.
	CommandIgnoredWrites
	// CommandPanic aborts the process at a named internal checkpoint.
	CommandPanic
	// CommandDelayIO injects artificial latency on the read path.
	CommandDelayIO
	// CommandDecryptFault fails decryption of matching blocks.
	CommandDecryptFault
	// CommandDelayImport suspends a pool import for a fixed duration.
	CommandDelayImport
	// CommandDelayExport suspends a pool export for a fixed duration.
	CommandDelayExport
)

func (c Command) String() string {
	switch c {
	case CommandDataFault:
		return "data_fault"
	case CommandDeviceFault:
		return "device_fault"
	case CommandLabelFault:
		return "label_fault"
	case CommandIgnoredWrites:
		return "ignored_writes"
	case CommandPanic:
		return "panic"
	case CommandDelayIO:
		return "delay_io"
	case CommandDecryptFault:
		return "decrypt_fault"
	case CommandDelayImport:
		return "delay_import"
	case CommandDelayExport:
		return "delay_export"
	default:
		return "uninitialized"
	}
}

// poolDelay reports whether the command is an import or export delay, the
// only kinds that target a pool name rather than a live pool.
func (c Command) poolDelay() bool {
	return c == CommandDelayImport || c == CommandDelayExport
}

// Record is the rule specification supplied at creation and returned from
// enumeration. MatchCount and InjectCount are populated only on records
// returned by ListNext.
type Record struct {
	Cmd Command

	// Logical address predicate: object-set, object, indirection level
	// and the inclusive [Start, End] block-id range.
	Objset uint64
	Object uint64
	Level  int64
	Start  uint64
	End    uint64

	// DVAs is a bitmask of redundant-copy slots the rule applies to;
	// zero matches any copy.
	DVAs uint64

	// GUID targets a specific device for device, label and delay rules.
	GUID uint64

	// Err is the error the rule injects; matching requires the observed
	// candidate error to equal it.
	Err error

	// IOType filters by operation type for device and delay rules.
	IOType core.IOType

	// ObjType restricts metadata-object matches to one object type;
	// ObjectTypeNone matches any. For panic rules it discriminates
	// checkpoint variants.
	ObjType core.ObjectType

	// Failfast makes a device rule skip retried and last-effort
	// operations.
	Failfast bool

	// Freq throttles firing: 0 means always, values at most 100 are a
	// percentage, larger values use the extended 1/10000 scale.
	Freq uint32

	// Timer is the per-operation latency for delay-io rules.
	Timer time.Duration

	// NLanes is the number of concurrent latency lanes for delay-io
	// rules.
	NLanes uint32

	// Duration bounds ignored-writes and pool-delay rules: positive
	// values are seconds, negative values a number of transaction
	// groups.
	Duration int64

	// Func names the internal checkpoint a panic rule fires in.
	Func string

	// MatchCount is the number of operations the rule was evaluated
	// against and matched.
	MatchCount uint64
	// InjectCount is the number of operations the rule actually
	// altered. Always at most MatchCount.
	InjectCount uint64
}

// handler is a registered rule. Exactly one of pool and poolName is set:
// pool-delay rules hold an owned name because no live pool exists (or it is
// about to go away); every other kind holds an injection reference on the
// live pool.
type handler struct {
	id       int
	pool     core.Pool
	poolName string
	rec      Record

	matchCount  atomic.Uint64
	injectCount atomic.Uint64

	// stamp is the ignored-writes start marker, either wall-clock nanos
	// or a transaction group depending on the sign of rec.Duration. Set
	// once, on first match.
	stamp atomic.Int64

	// lanes[i] is when delay lane i becomes free; nextLane is the
	// round-robin cursor. Both are guarded by the engine's lane mutex.
	lanes    []time.Time
	nextLane int
}

// name returns the pool name the handler targets, whichever of the two
// target forms is populated.
func (h *handler) name() string {
	if h.pool != nil {
		return h.pool.Name()
	}
	return h.poolName
}

// snapshot copies the handler's record with live statistics filled in.
func (h *handler) snapshot() Record {
	rec := h.rec
	rec.MatchCount = h.matchCount.Load()
	rec.InjectCount = h.injectCount.Load()
	return rec
}

// validate rejects command-specific nonsense before any resource is
// acquired.
func (r *Record) validate(maxLanes uint32) error {
	if r.Cmd == CommandDelayIO {
		if r.Timer == 0 || r.NLanes == 0 {
			return fmt.Errorf("delay rule needs a non-zero timer and lane count: %w", core.ErrInvalid)
		}
		// The lane count maps directly to an allocation, so cap it.
		if r.NLanes >= maxLanes {
			return fmt.Errorf("lane count %d exceeds cap %d: %w", r.NLanes, maxLanes, core.ErrInvalid)
		}
	}
	if r.Cmd.poolDelay() && r.Duration <= 0 {
		return fmt.Errorf("pool delay needs a positive duration: %w", core.ErrInvalid)
	}
	return nil
}
