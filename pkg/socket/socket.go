// Package socket wraps an operating system socket in a Handle: creation,
// binding, listening, accepting, connecting, shutdown, send/receive, options
// and an unblock primitive for orderly teardown. Secured handles delegate to
// crypto/tls (stream) or pion/dtls (datagram).
package socket

import (
	"errors"
	"time"

	"github.com/vitalvas/gosock/pkg/address"
	"github.com/vitalvas/gosock/pkg/log"
	"github.com/vitalvas/gosock/pkg/security"
)

// PollInterval is the wait of a single non-blocking receive or accept.
const PollInterval = time.Millisecond

var (
	noDeadline   time.Time
	pastDeadline = time.Unix(1, 0)
)

// Direction selects the half of a connection to shut down.
type Direction uint8

const (
	ShutdownReceive Direction = iota
	ShutdownSend
	ShutdownBoth
)

// String returns a string representation of the direction
func (d Direction) String() string {
	switch d {
	case ShutdownReceive:
		return "receive"
	case ShutdownSend:
		return "send"
	case ShutdownBoth:
		return "receive-send"
	default:
		return "unknown"
	}
}

// Options describes the socket to create.
type Options struct {
	Type   address.SocketType
	Family address.Family

	// Bind is the local address. Datagram sockets without one are bound to
	// the any address of the family with a system-assigned port.
	Bind *address.SocketAddress

	// Listening creates a listening stream socket, which requires Bind.
	Listening bool

	// NonBlocking makes receive and accept return neterr.ErrWouldBlock
	// instead of waiting.
	NonBlocking bool

	// Security secures the socket. A serve-mode context on a datagram socket
	// accepts DTLS sessions from any peer.
	Security *security.Context

	Logger log.Logger
}

var (
	errEmptyPayload     = errors.New("empty payload")
	errEmptyBuffer      = errors.New("empty receive buffer")
	errListening        = errors.New("operation not valid on a listening socket")
	errNotListening     = errors.New("socket is not listening")
	errAlreadyConnected = errors.New("socket is already connected")
	errFamilyMismatch   = errors.New("address family does not match socket family")
	errUnknownType      = errors.New("unknown socket type")
	errDatagramListen   = errors.New("datagram sockets cannot listen")
	errListenNoBind     = errors.New("listening socket requires a bind address")
	errSecureServe      = errors.New("serve-mode datagram socket cannot connect")
	errSecureListen     = errors.New("a secure listener needs a certificate context")
	errNoDelayDatagram  = errors.New("no-delay applies to stream sockets only")

	errUnsupportedSockaddr = errors.New("unsupported socket address")
)
