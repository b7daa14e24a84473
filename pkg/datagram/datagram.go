// Package datagram implements a threaded datagram client connected to one
// peer and a datagram server exchanging datagrams with any peer, optionally
// dispatching each datagram by its leading index byte.
package datagram

import (
	"errors"
	"sync/atomic"
	"time"
)

const (
	// DefaultBufferSize is the receive buffer capacity used when none is set.
	DefaultBufferSize = 4096

	// DefaultRetryDelay is the server back-off after a failed receive.
	DefaultRetryDelay = time.Millisecond

	// MaxHandlers is the size of the index space of a dispatch table.
	MaxHandlers = 256
)

var (
	errNoReceive     = errors.New("receive callback is required")
	errEmptyPayload  = errors.New("empty payload")
	errModeConflict  = errors.New("dispatch handlers and single receive callback are mutually exclusive")
	errTooManyRoutes = errors.New("dispatch table holds at most 256 handlers")
	errSecureTable   = errors.New("dispatch table mode cannot be secured")
	errSecureVerify  = errors.New("a secure server needs a certificate context")
)

// State is the lifecycle state of a client or server.
type State int32

const (
	StateStopped State = iota
	StateConnecting
	StateBound
	StateRunning
)

// String returns a string representation of the state
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateConnecting:
		return "connecting"
	case StateBound:
		return "bound"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// Stats is a snapshot of traffic counters.
type Stats struct {
	DatagramsReceived uint64
	BytesReceived     uint64
	DatagramsSent     uint64
	BytesSent         uint64
	Dropped           uint64
	ReceiveErrors     uint64
}

type counters struct {
	datagramsReceived atomic.Uint64
	bytesReceived     atomic.Uint64
	datagramsSent     atomic.Uint64
	bytesSent         atomic.Uint64
	dropped           atomic.Uint64
	receiveErrors     atomic.Uint64
}

func (c *counters) received(n int) {
	c.datagramsReceived.Add(1)
	c.bytesReceived.Add(uint64(n))
}

func (c *counters) sent(n int) {
	c.datagramsSent.Add(1)
	c.bytesSent.Add(uint64(n))
}

func (c *counters) snapshot() Stats {
	return Stats{
		DatagramsReceived: c.datagramsReceived.Load(),
		BytesReceived:     c.bytesReceived.Load(),
		DatagramsSent:     c.datagramsSent.Load(),
		BytesSent:         c.bytesSent.Load(),
		Dropped:           c.dropped.Load(),
		ReceiveErrors:     c.receiveErrors.Load(),
	}
}
