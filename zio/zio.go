// Package zio models the in-flight I/O operation the injection probes
// inspect and perturb. Only the coordinates and state the probes consume are
// represented; the pipeline that executes operations is the storage engine's
// concern.
package zio

import (
	"github.com/LittleNewton/zfs/core"
	"github.com/LittleNewton/zfs/vdev"
)

// Flag is a bitmask of operation flags.
type Flag uint32

const (
	// FlagIORetry marks an operation as having been retried, so failure
	// statistics and health events reflect the injected fault
	// realistically.
	FlagIORetry Flag = 1 << iota
	// FlagTryHard marks a last-effort retry that fail-fast rules skip.
	FlagTryHard
	// FlagProbe marks an internal health-probe operation.
	FlagProbe
)

// Priority is the scheduling class of an operation.
type Priority int32

const (
	PriorityNone Priority = iota
	PrioritySyncRead
	PrioritySyncWrite
	PriorityAsyncRead
	PriorityAsyncWrite
	PriorityScrub
	// PriorityRebuild reads have no checksum to verify, so checksum
	// faults never apply to them.
	PriorityRebuild
)

// Stage is a bitmask of pipeline stages still to be executed for an
// operation.
type Stage uint32

const (
	StageOpen Stage = 1 << iota
	StageIssue
	StageChecksumVerify
	StageVdevIOStart
	StageVdevIODone
	StageVdevIOAssess
	StageDone
)

// VdevIOStages are the stages that actually move data to and from the
// device. Stripping them silently drops the device work while the
// operation still completes.
const VdevIOStages = StageVdevIOStart | StageVdevIODone | StageVdevIOAssess

// ChildType describes an operation's position in the I/O tree.
type ChildType int32

const (
	ChildLogical ChildType = iota
	ChildGang
	ChildDDT
	ChildVdev
)

// DVA names one redundant copy of a block: the device holding it and the
// payload-relative offset of the copy on that device.
type DVA struct {
	VdevGUID uint64
	Offset   uint64
}

// BlockPointer carries the block metadata the probes consult: the object
// type of the block and the set of redundant copies.
type BlockPointer struct {
	Type core.ObjectType
	DVAs []DVA
}

// ZIO is a single in-flight operation.
type ZIO struct {
	Pool     core.Pool
	Type     core.IOType
	Priority Priority
	Flags    Flag
	Child    ChildType

	// Pipeline holds the stages still to run; the ignored-writes probe
	// strips the device stages from it.
	Pipeline Stage

	// Device is the device this operation addresses, nil for purely
	// logical operations.
	Device *vdev.Device
	Offset uint64
	Size   uint64

	// Logical is the bookmark of the logical operation this physical
	// operation serves, nil when the operation is not associated with
	// any logical data.
	Logical *core.Bookmark

	// BP is the block pointer being read or written, nil for non-block
	// I/O such as flushes.
	BP *BlockPointer

	// TXG is the transaction group the operation belongs to.
	TXG uint64

	// Data is the operation's buffer. It is owned by the operation and
	// not concurrently read by other goroutines while in flight, which
	// is what permits in-place corruption simulation.
	Data []byte
}

// MatchDVA determines which redundant copy of the block a physical
// operation targets, by walking the block's DVA set backwards and matching
// on device and offset. Returns core.NoDVA when the operation does not
// correspond to any copy.
func (z *ZIO) MatchDVA() int {
	i := core.NoDVA
	if z.BP != nil && z.Device != nil && z.Child == ChildVdev {
		for i = len(z.BP.DVAs) - 1; i >= 0; i-- {
			d := z.BP.DVAs[i]
			off := d.Offset
			// Compensate for the label region on leaf devices.
			if z.Device.Leaf() {
				off += vdev.LabelStartSize
			}
			if z.Device.GUID == d.VdevGUID && z.Offset == off {
				break
			}
		}
	}
	return i
}
