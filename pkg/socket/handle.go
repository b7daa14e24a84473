package socket

import (
	"context"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/vitalvas/gosock/pkg/address"
	"github.com/vitalvas/gosock/pkg/log"
	"github.com/vitalvas/gosock/pkg/neterr"
	"github.com/vitalvas/gosock/pkg/security"
)

// deadliner is implemented by listeners that can interrupt Accept.
type deadliner interface {
	net.Listener
	SetDeadline(t time.Time) error
}

// Handle owns one socket. Receive and accept may block in one goroutine
// while another calls Unblock, Send or SendTo.
type Handle struct {
	socketType address.SocketType
	family     address.Family
	listening  bool
	secure     *security.Context
	logger     log.Logger

	mu          sync.Mutex
	nonBlocking bool
	recvTimeout time.Duration
	sendTimeout time.Duration
	noDelay     *bool
	serverName  string
	bind        *address.SocketAddress

	listener deadliner
	packet   net.PacketConn
	udp      *net.UDPConn
	tcp      *net.TCPConn
	conn     net.Conn

	remote      address.SocketAddress
	connected   bool
	interrupted bool
	closed      bool
}

// Create allocates a socket as described by opts.
func Create(opts Options) (*Handle, error) {
	if err := Initialize(); err != nil {
		return nil, err
	}

	if opts.Family != address.FamilyIPv4 && opts.Family != address.FamilyIPv6 {
		return nil, neterr.New(neterr.KindProtocolMismatch, "create", errFamilyMismatch)
	}
	if opts.Bind != nil && opts.Bind.Family() != opts.Family {
		return nil, neterr.New(neterr.KindProtocolMismatch, "create", errFamilyMismatch)
	}

	h := &Handle{
		socketType:  opts.Type,
		family:      opts.Family,
		listening:   opts.Listening,
		secure:      opts.Security,
		logger:      log.OrDiscard(opts.Logger),
		nonBlocking: opts.NonBlocking,
	}

	if opts.Security != nil && opts.Security.Protocol().IsDatagram() != (opts.Type == address.TypeDatagram) {
		return nil, neterr.New(neterr.KindProtocolMismatch, "create",
			fmt.Errorf("%s cannot secure a %s socket", opts.Security.Protocol(), opts.Type))
	}

	switch opts.Type {
	case address.TypeStream:
		if !opts.Listening {
			h.bind = opts.Bind
			return h, nil
		}
		if opts.Bind == nil {
			return nil, neterr.New(neterr.KindListen, "create", errListenNoBind)
		}
		if opts.Security != nil && opts.Security.Mode() != security.ModeServe {
			return nil, neterr.New(neterr.KindProtocolMismatch, "create", errSecureListen)
		}
		if err := h.listen(*opts.Bind); err != nil {
			return nil, err
		}
	case address.TypeDatagram:
		if opts.Listening {
			return nil, neterr.New(neterr.KindProtocolMismatch, "create", errDatagramListen)
		}

		bind := opts.Bind
		if bind == nil {
			anyAddr, err := address.Any(opts.Family)
			if err != nil {
				return nil, err
			}
			bind = &anyAddr
		}
		if err := h.bindDatagram(*bind); err != nil {
			return nil, err
		}
	default:
		return nil, neterr.New(neterr.KindProtocolMismatch, "create", errUnknownType)
	}

	return h, nil
}

func (h *Handle) listen(bind address.SocketAddress) error {
	lc := net.ListenConfig{Control: reuseAddrControl}

	listener, err := lc.Listen(context.Background(), address.Network(h.socketType, h.family), bind.String())
	if err != nil {
		return neterr.New(neterr.KindBind, "listen", err)
	}

	tl, ok := listener.(*net.TCPListener)
	if !ok {
		listener.Close()
		return neterr.New(neterr.KindListen, "listen", errNotListening)
	}

	h.listener = tl
	return nil
}

func (h *Handle) bindDatagram(bind address.SocketAddress) error {
	network := address.Network(h.socketType, h.family)

	if h.secure != nil && h.secure.Mode() == security.ModeServe {
		packet, err := listenSecure(h.secure, network, bind.UDPAddr(), h.logger)
		if err != nil {
			return err
		}
		h.packet = packet
		return nil
	}

	var lc net.ListenConfig

	packet, err := lc.ListenPacket(context.Background(), network, bind.String())
	if err != nil {
		return neterr.New(neterr.KindBind, "bind", err)
	}

	h.udp = packet.(*net.UDPConn)
	h.packet = h.udp
	return nil
}

func sockName(conn syscall.Conn) (address.SocketAddress, error) {
	rc, err := conn.SyscallConn()
	if err != nil {
		return address.SocketAddress{}, neterr.New(neterr.KindIO, "local address", err)
	}

	var (
		addr    address.SocketAddress
		nameErr error
	)
	if err := rc.Control(func(fd uintptr) {
		addr, nameErr = getSockName(fd)
	}); err != nil {
		return addr, neterr.New(neterr.KindIO, "local address", err)
	}
	if nameErr != nil {
		return addr, neterr.New(neterr.KindIO, "local address", nameErr)
	}
	return addr, nil
}

func reuseAddrControl(_, _ string, rc syscall.RawConn) error {
	var opErr error
	err := rc.Control(func(fd uintptr) {
		opErr = setReuseAddr(fd)
	})
	if err != nil {
		return err
	}
	return opErr
}

// Type returns the socket type.
func (h *Handle) Type() address.SocketType {
	return h.socketType
}

// Family returns the address family.
func (h *Handle) Family() address.Family {
	return h.family
}

// IsListening reports whether the handle accepts connections.
func (h *Handle) IsListening() bool {
	return h.listening
}

// IsBlocking reports whether receive and accept wait for data.
func (h *Handle) IsBlocking() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.nonBlocking
}

// SetBlocking switches between blocking and non-blocking mode.
func (h *Handle) SetBlocking(blocking bool) {
	h.mu.Lock()
	h.nonBlocking = !blocking
	h.mu.Unlock()
}

// ReceiveTimeout returns the receive timeout, 0 when receives wait forever.
func (h *Handle) ReceiveTimeout() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.recvTimeout
}

// SetReceiveTimeout bounds each blocking receive. 0 disables the bound.
func (h *Handle) SetReceiveTimeout(d time.Duration) {
	h.mu.Lock()
	h.recvTimeout = d
	h.mu.Unlock()
}

// SendTimeout returns the send timeout, 0 when sends wait forever.
func (h *Handle) SendTimeout() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sendTimeout
}

// SetSendTimeout bounds each send. 0 disables the bound.
func (h *Handle) SetSendTimeout(d time.Duration) {
	h.mu.Lock()
	h.sendTimeout = d
	h.mu.Unlock()
}

// NoDelay reports whether Nagle's algorithm is disabled. Connected stream
// sockets are queried through getsockopt.
func (h *Handle) NoDelay() (bool, error) {
	if h.socketType != address.TypeStream {
		return false, neterr.New(neterr.KindProtocolMismatch, "no delay", errNoDelayDatagram)
	}

	h.mu.Lock()
	tcp, pending := h.tcp, h.noDelay
	h.mu.Unlock()

	if tcp == nil {
		return pending != nil && *pending, nil
	}

	rc, err := tcp.SyscallConn()
	if err != nil {
		return false, neterr.New(neterr.KindIO, "no delay", err)
	}

	var (
		value  bool
		optErr error
	)
	if err := rc.Control(func(fd uintptr) {
		value, optErr = getNoDelay(fd)
	}); err != nil {
		return false, neterr.New(neterr.KindIO, "no delay", err)
	}
	if optErr != nil {
		return false, neterr.New(neterr.KindIO, "no delay", optErr)
	}
	return value, nil
}

// SetNoDelay disables or enables Nagle's algorithm. Before connect the value
// is applied at connect time; on a listener it applies to accepted sockets.
func (h *Handle) SetNoDelay(enabled bool) error {
	if h.socketType != address.TypeStream {
		return neterr.New(neterr.KindProtocolMismatch, "set no delay", errNoDelayDatagram)
	}

	h.mu.Lock()
	h.noDelay = &enabled
	tcp := h.tcp
	h.mu.Unlock()

	if tcp != nil {
		if err := tcp.SetNoDelay(enabled); err != nil {
			return neterr.New(neterr.KindIO, "set no delay", err)
		}
	}
	return nil
}

// LocalAddress returns the bound local address. Connected datagram sockets
// report the address the system chose for the route to the peer.
func (h *Handle) LocalAddress() (address.SocketAddress, error) {
	h.mu.Lock()
	if h.udp != nil && h.connected && !h.closed {
		udpConn := h.udp
		h.mu.Unlock()
		return sockName(udpConn)
	}

	var addr net.Addr
	switch {
	case h.listener != nil:
		addr = h.listener.Addr()
	case h.conn != nil:
		addr = h.conn.LocalAddr()
	case h.packet != nil:
		addr = h.packet.LocalAddr()
	}
	h.mu.Unlock()

	if addr == nil {
		return address.SocketAddress{}, neterr.New(neterr.KindIO, "local address", neterr.ErrNotConnected)
	}
	return address.FromNetAddr(addr)
}

// RemoteAddress returns the connected peer address.
func (h *Handle) RemoteAddress() (address.SocketAddress, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.connected {
		return address.SocketAddress{}, neterr.New(neterr.KindIO, "remote address", neterr.ErrNotConnected)
	}
	return h.remote, nil
}

// IsSecure reports whether the handle carries a security context.
func (h *Handle) IsSecure() bool {
	return h.secure != nil
}

// SecureContext returns the security context, nil for plain sockets.
func (h *Handle) SecureContext() *security.Context {
	return h.secure
}

// SetServerName sets the name verified against the peer certificate at
// connect. An empty name checks the certificate chain only.
func (h *Handle) SetServerName(name string) {
	h.mu.Lock()
	h.serverName = name
	h.mu.Unlock()
}

// ServerName returns the name set with SetServerName.
func (h *Handle) ServerName() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.serverName
}

// Unblock makes every receive and accept blocked on the handle return
// neterr.ErrClosed, and every later one fail the same way. The socket stays
// allocated until Close.
func (h *Handle) Unblock() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.interrupted = true

	if h.listener != nil {
		_ = h.listener.SetDeadline(pastDeadline)
	}
	if h.conn != nil {
		_ = h.conn.SetReadDeadline(pastDeadline)
	}
	if h.packet != nil {
		_ = h.packet.SetReadDeadline(pastDeadline)
	}
}

// Close shuts down both directions and releases the socket. Calling it more
// than once is harmless.
func (h *Handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.interrupted = true
	listener, packet, conn := h.listener, h.packet, h.conn
	h.mu.Unlock()

	var errs []error
	if listener != nil {
		errs = append(errs, listener.Close())
	}
	if conn != nil {
		// secure conns send their close alert on Close
		if h.secure == nil {
			_ = h.shutdown(ShutdownBoth)
		}
		errs = append(errs, conn.Close())
	}
	if packet != nil {
		errs = append(errs, packet.Close())
	}

	for _, err := range errs {
		if err != nil && !isClosedErr(err) {
			return neterr.New(neterr.KindIO, "close", err)
		}
	}
	return nil
}
