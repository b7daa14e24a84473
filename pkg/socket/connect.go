package socket

import (
	"context"
	"crypto/tls"
	"net"

	"github.com/vitalvas/gosock/pkg/address"
	"github.com/vitalvas/gosock/pkg/neterr"
)

// Accept takes the next pending connection of a listening socket. A secured
// listener wraps it in a TLS server session whose handshake runs on first
// I/O. Non-blocking listeners return neterr.ErrWouldBlock when nothing is
// pending.
func (h *Handle) Accept() (*Handle, error) {
	h.mu.Lock()
	if h.interrupted {
		h.mu.Unlock()
		return nil, neterr.New(neterr.KindIO, "accept", neterr.ErrClosed)
	}
	if !h.listening {
		h.mu.Unlock()
		return nil, neterr.New(neterr.KindProtocolMismatch, "accept", errNotListening)
	}
	listener, noDelay := h.listener, h.noDelay
	var err error
	if h.nonBlocking {
		err = listener.SetDeadline(h.readDeadlineLocked())
	} else {
		err = listener.SetDeadline(noDeadline)
	}
	h.mu.Unlock()
	if err != nil {
		return nil, neterr.New(neterr.KindIO, "accept", err)
	}

	conn, err := listener.Accept()
	if err != nil {
		return nil, h.readError("accept", err)
	}

	tcp := conn.(*net.TCPConn)
	if noDelay != nil {
		_ = tcp.SetNoDelay(*noDelay)
	}

	remote, err := address.FromNetAddr(conn.RemoteAddr())
	if err != nil {
		conn.Close()
		return nil, neterr.New(neterr.KindIO, "accept", err)
	}

	child := &Handle{
		socketType: address.TypeStream,
		family:     h.family,
		secure:     h.secure,
		logger:     h.logger,
		tcp:        tcp,
		conn:       conn,
		remote:     remote,
		connected:  true,
	}

	if h.secure != nil {
		secured, err := h.secure.StreamServer(conn)
		if err != nil {
			conn.Close()
			return nil, err
		}
		child.conn = secured
	}

	return child, nil
}

// Handshake completes the TLS handshake of an accepted secure stream socket
// instead of leaving it to the first receive or send. Plain sockets return
// immediately.
func (h *Handle) Handshake(ctx context.Context) error {
	h.mu.Lock()
	conn := h.conn
	h.mu.Unlock()

	tlsConn, ok := conn.(*tls.Conn)
	if !ok {
		return nil
	}
	return h.secure.Handshake(ctx, tlsConn)
}

// Connect connects the socket to addr. See ConnectContext.
func (h *Handle) Connect(addr address.SocketAddress) error {
	return h.ConnectContext(context.Background(), addr)
}

// ConnectContext connects the socket to addr. Secured sockets complete the
// TLS or DTLS handshake before returning. ctx bounds the connect and the
// handshake.
func (h *Handle) ConnectContext(ctx context.Context, addr address.SocketAddress) error {
	if addr.Family() != h.family {
		return neterr.New(neterr.KindProtocolMismatch, "connect", errFamilyMismatch)
	}

	h.mu.Lock()
	switch {
	case h.closed:
		h.mu.Unlock()
		return neterr.New(neterr.KindConnect, "connect", neterr.ErrClosed)
	case h.listening:
		h.mu.Unlock()
		return neterr.New(neterr.KindProtocolMismatch, "connect", errListening)
	case h.connected:
		h.mu.Unlock()
		return neterr.New(neterr.KindConnect, "connect", errAlreadyConnected)
	}
	h.mu.Unlock()

	if h.socketType == address.TypeStream {
		return h.connectStream(ctx, addr)
	}
	return h.connectDatagram(ctx, addr)
}

func (h *Handle) connectStream(ctx context.Context, addr address.SocketAddress) error {
	h.mu.Lock()
	bind, noDelay, serverName := h.bind, h.noDelay, h.serverName
	h.mu.Unlock()

	dialer := net.Dialer{}
	if bind != nil {
		dialer.LocalAddr = bind.TCPAddr()
		dialer.Control = reuseAddrControl
	}

	conn, err := dialer.DialContext(ctx, address.Network(h.socketType, h.family), addr.String())
	if err != nil {
		return neterr.New(neterr.KindConnect, "connect", err)
	}

	tcp := conn.(*net.TCPConn)
	if noDelay != nil {
		_ = tcp.SetNoDelay(*noDelay)
	}

	var stream net.Conn = conn
	if h.secure != nil {
		secured, err := h.secure.StreamClient(conn, serverName)
		if err != nil {
			conn.Close()
			return err
		}
		if err := h.secure.Handshake(ctx, secured); err != nil {
			conn.Close()
			return err
		}
		stream = secured
	}

	return h.attach(tcp, stream, addr)
}

func (h *Handle) connectDatagram(ctx context.Context, addr address.SocketAddress) error {
	h.mu.Lock()
	udpConn, serverName := h.udp, h.serverName
	h.mu.Unlock()

	if udpConn == nil {
		return neterr.New(neterr.KindProtocolMismatch, "connect", errSecureServe)
	}

	rc, err := udpConn.SyscallConn()
	if err != nil {
		return neterr.New(neterr.KindConnect, "connect", err)
	}

	var connErr error
	if err := rc.Control(func(fd uintptr) {
		connErr = connectSocket(fd, addr)
	}); err != nil {
		return neterr.New(neterr.KindConnect, "connect", err)
	}
	if connErr != nil {
		return neterr.New(neterr.KindConnect, "connect", connErr)
	}

	var conn net.Conn = &datagramConn{UDPConn: udpConn, remote: addr.UDPAddr()}
	if h.secure != nil {
		secured, err := h.secure.DatagramClient(ctx, conn, serverName)
		if err != nil {
			return err
		}
		conn = secured
	}

	return h.attach(nil, conn, addr)
}

func (h *Handle) attach(tcp *net.TCPConn, conn net.Conn, remote address.SocketAddress) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		conn.Close()
		return neterr.New(neterr.KindConnect, "connect", neterr.ErrClosed)
	}

	h.tcp = tcp
	h.conn = conn
	h.remote = remote
	h.connected = true

	if h.interrupted {
		_ = conn.SetReadDeadline(pastDeadline)
	}
	return nil
}

// IsConnected reports whether the socket has a peer.
func (h *Handle) IsConnected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connected && !h.closed
}

// datagramConn presents a kernel-connected UDP socket as a net.Conn. The net
// package does not record a peer for sockets connected after bind.
type datagramConn struct {
	*net.UDPConn
	remote *net.UDPAddr
}

func (c *datagramConn) RemoteAddr() net.Addr {
	return c.remote
}
