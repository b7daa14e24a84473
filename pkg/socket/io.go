package socket

import (
	"crypto/tls"
	"errors"
	"io"
	"net"
	"os"
	"time"

	"github.com/pion/dtls/v2"
	"github.com/pion/transport/v2/udp"

	"github.com/vitalvas/gosock/pkg/address"
	"github.com/vitalvas/gosock/pkg/neterr"
)

// Send writes data to the connected peer and returns the bytes written.
func (h *Handle) Send(data []byte) (int, error) {
	if len(data) == 0 {
		return 0, neterr.New(neterr.KindIO, "send", errEmptyPayload)
	}

	conn, err := h.beginWrite("send")
	if err != nil {
		return 0, err
	}

	n, err := conn.Write(data)
	if err != nil {
		return n, h.writeError("send", err)
	}
	return n, nil
}

// Receive reads into buf from the connected peer. It returns (0, io.EOF)
// once a stream peer has closed the connection; a datagram socket may return
// 0 bytes for an empty datagram.
func (h *Handle) Receive(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, neterr.New(neterr.KindIO, "receive", errEmptyBuffer)
	}

	conn, err := h.beginRead("receive")
	if err != nil {
		return 0, err
	}

	n, err := conn.Read(buf)
	if err == nil || n > 0 {
		return n, nil
	}
	if errors.Is(err, io.EOF) && h.socketType == address.TypeStream {
		return 0, io.EOF
	}
	return 0, h.readError("receive", err)
}

// SendTo writes one datagram to addr.
func (h *Handle) SendTo(data []byte, addr address.SocketAddress) (int, error) {
	if len(data) == 0 {
		return 0, neterr.New(neterr.KindIO, "send to", errEmptyPayload)
	}
	if h.socketType != address.TypeDatagram {
		return 0, neterr.New(neterr.KindProtocolMismatch, "send to", errors.New("stream sockets send with Send"))
	}
	if addr.Family() != h.family {
		return 0, neterr.New(neterr.KindProtocolMismatch, "send to", errFamilyMismatch)
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return 0, neterr.New(neterr.KindIO, "send to", neterr.ErrClosed)
	}
	if h.connected {
		remote := h.remote
		h.mu.Unlock()
		if !remote.Equal(addr) {
			return 0, neterr.New(neterr.KindProtocolMismatch, "send to", errAlreadyConnected)
		}
		return h.Send(data)
	}
	packet := h.packet
	_ = packet.SetWriteDeadline(h.writeDeadlineLocked())
	h.mu.Unlock()

	n, err := packet.WriteTo(data, addr.UDPAddr())
	if err != nil {
		return n, h.writeError("send to", err)
	}
	return n, nil
}

// ReceiveFrom reads one datagram into buf and returns its sender.
func (h *Handle) ReceiveFrom(buf []byte) (int, address.SocketAddress, error) {
	var from address.SocketAddress

	if len(buf) == 0 {
		return 0, from, neterr.New(neterr.KindIO, "receive from", errEmptyBuffer)
	}
	if h.socketType != address.TypeDatagram {
		return 0, from, neterr.New(neterr.KindProtocolMismatch, "receive from", errors.New("stream sockets receive with Receive"))
	}

	h.mu.Lock()
	if h.interrupted {
		h.mu.Unlock()
		return 0, from, neterr.New(neterr.KindIO, "receive from", neterr.ErrClosed)
	}
	if h.connected {
		remote := h.remote
		h.mu.Unlock()
		n, err := h.Receive(buf)
		return n, remote, err
	}
	packet := h.packet
	if err := packet.SetReadDeadline(h.readDeadlineLocked()); err != nil {
		h.mu.Unlock()
		return 0, from, neterr.New(neterr.KindIO, "receive from", err)
	}
	h.mu.Unlock()

	n, peer, err := packet.ReadFrom(buf)
	if err != nil {
		return 0, from, h.readError("receive from", err)
	}

	from, err = address.FromNetAddr(peer)
	if err != nil {
		return 0, from, neterr.New(neterr.KindIO, "receive from", err)
	}
	return n, from, nil
}

// Shutdown disables further receives, sends or both on a connected socket.
func (h *Handle) Shutdown(dir Direction) error {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()

	if closed {
		return neterr.New(neterr.KindIO, "shutdown", neterr.ErrClosed)
	}
	return h.shutdown(dir)
}

func (h *Handle) shutdown(dir Direction) error {
	h.mu.Lock()
	tcp, udpConn, conn, connected := h.tcp, h.udp, h.conn, h.connected
	h.mu.Unlock()

	if !connected {
		return neterr.New(neterr.KindIO, "shutdown", neterr.ErrNotConnected)
	}

	var err error
	switch {
	case tcp != nil:
		if dir != ShutdownReceive {
			if tlsConn, ok := conn.(*tls.Conn); ok {
				_ = tlsConn.CloseWrite()
			}
			err = tcp.CloseWrite()
		}
		if dir != ShutdownSend {
			if rerr := tcp.CloseRead(); err == nil {
				err = rerr
			}
		}
	case udpConn != nil:
		rc, rerr := udpConn.SyscallConn()
		if rerr != nil {
			return neterr.New(neterr.KindIO, "shutdown", rerr)
		}
		if cerr := rc.Control(func(fd uintptr) {
			err = shutdownSocket(fd, dir)
		}); cerr != nil {
			err = cerr
		}
	}

	if err != nil {
		return neterr.New(neterr.KindIO, "shutdown", err)
	}
	return nil
}

// beginRead arms the read deadline of the connected conn. The deadline is
// set under the same lock Unblock takes, so an unblock is never lost.
func (h *Handle) beginRead(op string) (net.Conn, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.interrupted {
		return nil, neterr.New(neterr.KindIO, op, neterr.ErrClosed)
	}
	if h.listening {
		return nil, neterr.New(neterr.KindProtocolMismatch, op, errListening)
	}
	if !h.connected {
		return nil, neterr.New(neterr.KindIO, op, neterr.ErrNotConnected)
	}

	if err := h.conn.SetReadDeadline(h.readDeadlineLocked()); err != nil {
		return nil, neterr.New(neterr.KindIO, op, err)
	}
	return h.conn, nil
}

func (h *Handle) beginWrite(op string) (net.Conn, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, neterr.New(neterr.KindIO, op, neterr.ErrClosed)
	}
	if h.listening {
		return nil, neterr.New(neterr.KindProtocolMismatch, op, errListening)
	}
	if !h.connected {
		return nil, neterr.New(neterr.KindIO, op, neterr.ErrNotConnected)
	}

	if err := h.conn.SetWriteDeadline(h.writeDeadlineLocked()); err != nil {
		return nil, neterr.New(neterr.KindIO, op, err)
	}
	return h.conn, nil
}

func (h *Handle) readDeadlineLocked() time.Time {
	switch {
	case h.nonBlocking:
		return time.Now().Add(PollInterval)
	case h.recvTimeout > 0:
		return time.Now().Add(h.recvTimeout)
	default:
		return time.Time{}
	}
}

// Sends ignore non-blocking mode: a TLS write interrupted by a deadline
// leaves the session unusable.
func (h *Handle) writeDeadlineLocked() time.Time {
	if h.sendTimeout > 0 {
		return time.Now().Add(h.sendTimeout)
	}
	return time.Time{}
}

func (h *Handle) readError(op string, err error) error {
	h.mu.Lock()
	interrupted, nonBlocking := h.interrupted, h.nonBlocking
	h.mu.Unlock()

	switch {
	case interrupted && (isTimeout(err) || isClosedErr(err)):
		return neterr.New(neterr.KindIO, op, neterr.ErrClosed)
	case nonBlocking && isTimeout(err):
		return neterr.ErrWouldBlock
	case isClosedErr(err):
		return neterr.New(neterr.KindIO, op, neterr.ErrClosed)
	default:
		return neterr.New(neterr.KindIO, op, err)
	}
}

func (h *Handle) writeError(op string, err error) error {
	if isClosedErr(err) {
		return neterr.New(neterr.KindIO, op, neterr.ErrClosed)
	}
	return neterr.New(neterr.KindIO, op, err)
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed) ||
		errors.Is(err, dtls.ErrConnClosed) ||
		errors.Is(err, udp.ErrClosedListener) ||
		errors.Is(err, errSecureClosed)
}
