package core

// IOType classifies an in-flight operation. The values below IOTypes are the
// standard pipeline types; the values at and above IOTypes exist only as
// rule-side filters and never appear on an operation itself.
type IOType uint32

const (
	IOTypeNull IOType = iota
	IOTypeRead
	IOTypeWrite
	IOTypeFree
	IOTypeClaim
	IOTypeFlush
	IOTypeTrim
	// IOTypes is the number of standard operation types.
	IOTypes
)

// Rule-side I/O type filters.
const (
	// IOTypeAll matches any standard operation type.
	IOTypeAll = IOTypes
	// IOTypeProbe matches internal health-probe operations only. Probe
	// operations match this filter exclusively, regardless of their
	// underlying type, so probes never accidentally trip ordinary-type
	// rules and vice versa.
	IOTypeProbe = IOTypes + 1
	// IOTypeCount bounds the valid filter values; anything at or above
	// it is rejected as unknown.
	IOTypeCount = IOTypes + 2
)

func (t IOType) String() string {
	switch t {
	case IOTypeNull:
		return "null"
	case IOTypeRead:
		return "read"
	case IOTypeWrite:
		return "write"
	case IOTypeFree:
		return "free"
	case IOTypeClaim:
		return "claim"
	case IOTypeFlush:
		return "flush"
	case IOTypeTrim:
		return "trim"
	case IOTypeAll:
		return "all"
	case IOTypeProbe:
		return "probe"
	default:
		return "unknown"
	}
}

// ObjectType identifies the kind of object a block belongs to.
type ObjectType uint64

const (
	ObjectTypeNone ObjectType = iota
	ObjectTypeObjectDirectory
	ObjectTypeDNode
	ObjectTypeObjsetHeader
	ObjectTypePlainFile
	ObjectTypeDirectory
	ObjectTypeSpaceMap
	ObjectTypeConfig
)

// The pool's internal metadata object-set and its metadata dnode object.
// Rules addressing this pair match on object-set and (optionally) object
// type only, ignoring the block range.
const (
	MetaObjset      uint64 = 0
	MetaDnodeObject uint64 = 0
)

// NoDVA marks an operation that does not target a specific redundant copy
// of a block.
const NoDVA = -1

// BlockPtrShift is the log2 size of a block pointer, used when collapsing a
// byte range through indirection levels.
const BlockPtrShift = 7

// Bookmark identifies a logical block within a pool's object address space.
type Bookmark struct {
	Objset uint64
	Object uint64
	Level  int64
	BlkID  uint64
}
