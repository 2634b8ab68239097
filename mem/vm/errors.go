package vm

import (
	"errors"
	"fmt"
)

// Resource exhaustion.
var (
	ErrOutOfFrames = errors.New("no free frame and no evictable victim")
	ErrOutOfSwap   = errors.New("swap space exhausted")
)

// Load failures and invalid accesses.
var (
	ErrShortRead     = errors.New("short read from backing file")
	ErrAlreadyMapped = errors.New("virtual page already mapped")
	ErrInvalidAccess = errors.New("invalid memory access")
	ErrDuplicatePage = errors.New("virtual page already registered")
)

// FaultKind classifies why a page fault could not be resolved.
type FaultKind int

// The kinds of unresolved faults.
const (
	FaultNone FaultKind = iota
	FaultResourceExhausted
	FaultInvalidAccess
	FaultLoadFailed
)

func (k FaultKind) String() string {
	switch k {
	case FaultNone:
		return "none"
	case FaultResourceExhausted:
		return "resource-exhausted"
	case FaultInvalidAccess:
		return "invalid-access"
	case FaultLoadFailed:
		return "load-failed"
	default:
		return fmt.Sprintf("FaultKind(%d)", int(k))
	}
}

// Classify maps an error returned by the paging core to a FaultKind.
func Classify(err error) FaultKind {
	var faultErr *FaultError

	switch {
	case err == nil:
		return FaultNone
	case errors.As(err, &faultErr):
		return faultErr.Kind
	case errors.Is(err, ErrOutOfFrames), errors.Is(err, ErrOutOfSwap):
		return FaultResourceExhausted
	case errors.Is(err, ErrInvalidAccess):
		return FaultInvalidAccess
	default:
		return FaultLoadFailed
	}
}

// FaultError is reported to the page-fault handler when a fault cannot be
// resolved. Deciding what happens to the faulting process is up to the caller.
type FaultError struct {
	Kind FaultKind
	PID  PID
	Addr uint64
	Err  error
}

// NewFaultError wraps err into a FaultError of the matching kind.
func NewFaultError(pid PID, addr uint64, err error) *FaultError {
	return &FaultError{
		Kind: Classify(err),
		PID:  pid,
		Addr: addr,
		Err:  err,
	}
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("pid %d: fault at %#x: %s: %v",
		e.PID, e.Addr, e.Kind, e.Err)
}

func (e *FaultError) Unwrap() error {
	return e.Err
}
