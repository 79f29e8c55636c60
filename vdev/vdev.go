package vdev

import "sync/atomic"

// AuxState records auxiliary device health information set by the failure
// paths, mirroring what the engine's own open/probe machinery would record
// for a genuine fault.
type AuxState uint32

const (
	AuxNone AuxState = iota
	// AuxOpenFailed marks a device that failed to open, as if it had
	// gone away.
	AuxOpenFailed
)

func (s AuxState) String() string {
	switch s {
	case AuxNone:
		return "none"
	case AuxOpenFailed:
		return "open_failed"
	default:
		return "unknown"
	}
}

// Device is one node in a pool's device tree. Interior devices aggregate
// children; leaf devices carry actual storage and therefore labels.
type Device struct {
	// GUID uniquely identifies the device within its pool.
	GUID uint64
	// PSize is the device's usable physical size in bytes, labels
	// included.
	PSize uint64

	children []*Device

	aux atomic.Uint32
}

// New creates a device with the given identity and size.
func New(guid, psize uint64) *Device {
	return &Device{GUID: guid, PSize: psize}
}

// AddChild attaches a child device, making the receiver an interior node.
func (d *Device) AddChild(child *Device) {
	d.children = append(d.children, child)
}

// Children returns the device's direct children.
func (d *Device) Children() []*Device {
	return d.children
}

// Leaf reports whether the device is a leaf (actual storage).
func (d *Device) Leaf() bool {
	return len(d.children) == 0
}

// Aux returns the device's auxiliary health state.
func (d *Device) Aux() AuxState {
	return AuxState(d.aux.Load())
}

// SetAux records auxiliary health state. Safe for concurrent use from
// probe paths.
func (d *Device) SetAux(s AuxState) {
	d.aux.Store(uint32(s))
}

// Lookup finds the device with the given guid in the tree rooted at d,
// or nil if absent.
func (d *Device) Lookup(guid uint64) *Device {
	if d.GUID == guid {
		return d
	}
	for _, c := range d.children {
		if found := c.Lookup(guid); found != nil {
			return found
		}
	}
	return nil
}
