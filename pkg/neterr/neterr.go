// Package neterr defines the failure taxonomy shared by every package of the
// socket library. Each fallible operation returns an *Error whose Kind can be
// tested with errors.Is against the Err* sentinels.
package neterr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindResolution
	KindAllocation
	KindBind
	KindListen
	KindConnect
	KindHandshake
	KindIO
	KindProtocolMismatch
)

// String returns a string representation of the failure kind
func (k Kind) String() string {
	switch k {
	case KindResolution:
		return "resolution failure"
	case KindAllocation:
		return "allocation failure"
	case KindBind:
		return "bind failure"
	case KindListen:
		return "listen failure"
	case KindConnect:
		return "connect failure"
	case KindHandshake:
		return "handshake failure"
	case KindIO:
		return "i/o failure"
	case KindProtocolMismatch:
		return "protocol mismatch"
	default:
		return "unknown failure"
	}
}

// Kind sentinels, matched by errors.Is against any *Error of the same kind.
var (
	ErrResolution       = &kindError{KindResolution}
	ErrAllocation       = &kindError{KindAllocation}
	ErrBind             = &kindError{KindBind}
	ErrListen           = &kindError{KindListen}
	ErrConnect          = &kindError{KindConnect}
	ErrHandshake        = &kindError{KindHandshake}
	ErrIO               = &kindError{KindIO}
	ErrProtocolMismatch = &kindError{KindProtocolMismatch}
)

var (
	// ErrWouldBlock is returned by non-blocking operations that had nothing to do.
	ErrWouldBlock = errors.New("operation would block")

	// ErrClosed is returned by operations on a closed or unblocked handle.
	ErrClosed = errors.New("use of closed socket")

	// ErrNotConnected is returned by connected-only operations on an unconnected handle.
	ErrNotConnected = errors.New("socket is not connected")
)

type kindError struct {
	kind Kind
}

func (e *kindError) Error() string {
	return e.kind.String()
}

// Error is a classified failure of a single operation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// New creates a classified error for operation op.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel of this error's kind.
func (e *Error) Is(target error) bool {
	k, ok := target.(*kindError)
	return ok && k.kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
