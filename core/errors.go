package core

import (
	"errors"
	"fmt"
)

// Control-plane errors returned by the injection engine and the pool
// namespace. Callers are expected to test these with errors.Is.
var (
	// ErrNotFound indicates the named pool, object, or handler id does
	// not exist.
	ErrNotFound = errors.New("not found")
	// ErrExists indicates a conflicting pool or handler already exists.
	ErrExists = errors.New("already exists")
	// ErrInvalid indicates a rejected argument; no state was mutated.
	ErrInvalid = errors.New("invalid argument")
	// ErrDomain indicates a requested indirection level exceeds the
	// object's actual depth.
	ErrDomain = errors.New("argument out of domain")
	// ErrBusy indicates the pool still carries injection holds and
	// cannot be destroyed.
	ErrBusy = errors.New("pool is busy")
)

// Injectable I/O errors. These are the error values a rule may be configured
// to return from the storage engine's own operations; they must be
// indistinguishable from naturally occurring failures of the same kind.
var (
	// ErrIO is a generic I/O failure.
	ErrIO = errors.New("i/o error")
	// ErrChecksum is a block checksum mismatch.
	ErrChecksum = errors.New("checksum error")
	// ErrNoDevice indicates the device has gone away (open failure).
	ErrNoDevice = errors.New("no such device")
	// ErrCorrupt is the bit-flip sentinel: instead of returning an
	// error, the matching rule flips a single random bit in the read
	// buffer and reports success.
	ErrCorrupt = errors.New("illegal byte sequence")
	// ErrDecrypt is a decryption failure.
	ErrDecrypt = errors.New("decryption failed")
	// ErrNoSpace is an allocation failure.
	ErrNoSpace = errors.New("no space left on device")
)

// InvariantError reports a violated internal consistency condition, such as
// a delay rule observed without its lane table. These indicate registry
// corruption and are never expected during normal operation.
type InvariantError struct {
	Condition string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("injection invariant violated: %s", e.Condition)
}

// IsInvariantError checks if an error is an InvariantError.
func IsInvariantError(err error) bool {
	var invariantError *InvariantError
	return errors.As(err, &invariantError)
}
