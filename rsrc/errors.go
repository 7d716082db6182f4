package rsrc

import (
	"errors"
	"fmt"
)

// Error definitions
var (
	// ErrOutOfMemory is returned after OOM escalation when the handler lets the caller continue
	ErrOutOfMemory = errors.New("rsrc: out of memory")
	// ErrPoolExhausted is returned when a variable pool is at its concurrency limit
	ErrPoolExhausted = errors.New("rsrc: pool at concurrency limit")
	// ErrAlreadyFreed is returned for a handle whose resource was already freed
	ErrAlreadyFreed = errors.New("rsrc: resource already freed")
	// ErrInvalidHandle is returned for a handle that no pool issued
	ErrInvalidHandle = errors.New("rsrc: invalid handle")
	// ErrUnknownPool is returned when a handle names a pool that does not exist
	ErrUnknownPool = errors.New("rsrc: unknown pool")
	// ErrPoolDestroyed is returned for operations on a torn-down pool
	ErrPoolDestroyed = errors.New("rsrc: pool destroyed")
	// ErrPoolInUse is returned when tearing down a pool that still has resources in use
	ErrPoolInUse = errors.New("rsrc: pool has resources in use")
	// ErrWrongKind is returned when a fixed-pool operation is used on a variable pool or vice versa
	ErrWrongKind = errors.New("rsrc: wrong pool kind")
	// ErrInvalidArgument is returned for unusable sizes or counts
	ErrInvalidArgument = errors.New("rsrc: invalid argument")
	// ErrManagerClosed is returned when creating pools in a closed manager
	ErrManagerClosed = errors.New("rsrc: manager closed")
)

// Error carries the operation and pool a failure happened in.
type Error struct {
	Op     string
	Pool   string
	Handle Handle
	Err    error
}

func (e *Error) Error() string {
	if e.Handle != Nil {
		return fmt.Sprintf("%s %q %s: %v", e.Op, e.Pool, e.Handle, e.Err)
	}
	return fmt.Sprintf("%s %q: %v", e.Op, e.Pool, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func opError(op string, p *Pool, h Handle, err error) error {
	name := ""
	if p != nil {
		name = p.name
	}
	return &Error{Op: op, Pool: name, Handle: h, Err: err}
}
