package vdev

// Device label geometry. Each device carries four fixed-size replicated
// labels: two at the front of the device and two at the very end. Everything
// between LabelStartSize and psize-LabelEndSize is payload space.
const (
	// LabelSize is the size of one replicated label copy.
	LabelSize = 256 << 10
	// Labels is the number of replicated label copies per device.
	Labels = 4
	// LabelStartSize is the region at the front of a device occupied by
	// the first half of the labels.
	LabelStartSize = (Labels / 2) * LabelSize
	// LabelEndSize is the region at the end of a device occupied by the
	// second half of the labels.
	LabelEndSize = (Labels / 2) * LabelSize
)

// LabelOffset computes the absolute on-device offset of a byte at the given
// relative offset within label copy l, for a device of the given physical
// size. The first half of the labels sits at the front of the device, the
// second half at the end.
func LabelOffset(psize uint64, l int, offset uint64) uint64 {
	base := uint64(l) * LabelSize
	if l >= Labels/2 {
		base += psize - Labels*LabelSize
	}
	return base + offset
}

// LabelNumber returns which label copy contains the given absolute device
// offset, or -1 if the offset is not within any label region.
func LabelNumber(psize, offset uint64) int {
	if offset >= psize-LabelEndSize {
		offset -= psize - LabelEndSize
		offset += (Labels / 2) * LabelSize
	}
	l := int(offset / LabelSize)
	if l >= Labels {
		return -1
	}
	return l
}
