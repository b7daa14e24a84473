// Package stream implements a multi-session stream server, where every
// accepted connection runs its own receive loop, and a polled stream client
// driven by the caller's loop.
package stream

import (
	"errors"
	"sync/atomic"
	"time"
)

const (
	// DefaultBufferSize is the per-session receive buffer capacity used when none is set.
	DefaultBufferSize = 4096

	// DefaultMaxSessions bounds the session set when no limit is set.
	DefaultMaxSessions = 64

	// MaxHandlers is the size of the index space of a handler table.
	MaxHandlers = 256

	acceptRetryDelay = 5 * time.Millisecond
)

var (
	errNoReceive     = errors.New("receive callback is required")
	errEmptyPayload  = errors.New("empty payload")
	errModeConflict  = errors.New("handler table and single receive callback are mutually exclusive")
	errTooManyRoutes = errors.New("handler table holds at most 256 handlers")
	errPeerClosed    = errors.New("peer closed the connection")
)

// State is the lifecycle state of a Server.
type State int32

const (
	StateListening State = iota
	StateRunning
	StateStopped
)

// String returns a string representation of the state
func (s State) String() string {
	switch s {
	case StateListening:
		return "listening"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// CloseReason tells why a session ended.
type CloseReason uint8

const (
	// CloseReasonShutdown: the session or its server was closed locally.
	CloseReasonShutdown CloseReason = iota
	// CloseReasonPeerClosed: the peer closed the connection.
	CloseReasonPeerClosed
	// CloseReasonCallback: a receive callback returned false.
	CloseReasonCallback
	// CloseReasonFailure: the handshake or a receive failed.
	CloseReasonFailure
)

// String returns a string representation of the close reason
func (r CloseReason) String() string {
	switch r {
	case CloseReasonShutdown:
		return "shutdown"
	case CloseReasonPeerClosed:
		return "peer closed"
	case CloseReasonCallback:
		return "callback"
	case CloseReasonFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// Stats is a snapshot of server counters.
type Stats struct {
	SessionsAccepted uint64
	SessionsRejected uint64
	SessionsClosed   uint64
	BytesReceived    uint64
	BytesSent        uint64
	Dropped          uint64
	AcceptErrors     uint64
}

type counters struct {
	sessionsAccepted atomic.Uint64
	sessionsRejected atomic.Uint64
	sessionsClosed   atomic.Uint64
	bytesReceived    atomic.Uint64
	bytesSent        atomic.Uint64
	dropped          atomic.Uint64
	acceptErrors     atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		SessionsAccepted: c.sessionsAccepted.Load(),
		SessionsRejected: c.sessionsRejected.Load(),
		SessionsClosed:   c.sessionsClosed.Load(),
		BytesReceived:    c.bytesReceived.Load(),
		BytesSent:        c.bytesSent.Load(),
		Dropped:          c.dropped.Load(),
		AcceptErrors:     c.acceptErrors.Load(),
	}
}
