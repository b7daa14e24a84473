package socket

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"time"

	"github.com/pion/dtls/v2"
	"github.com/pion/transport/v2/deadline"
	"github.com/pion/transport/v2/udp"

	"github.com/vitalvas/gosock/pkg/log"
	"github.com/vitalvas/gosock/pkg/neterr"
	"github.com/vitalvas/gosock/pkg/security"
)

const securePacketBacklog = 64

var (
	errSecureClosed = errors.New("secure datagram socket closed")
	errNoSession    = errors.New("no DTLS session with peer")
)

type securePacket struct {
	data []byte
	addr net.Addr
}

// securePacketConn serves DTLS sessions from any number of peers behind one
// bound socket and presents their decrypted datagrams as a net.PacketConn.
type securePacketConn struct {
	ctx      *security.Context
	listener net.Listener
	logger   log.Logger

	incoming chan securePacket
	readDL   *deadline.Deadline
	closed   chan struct{}

	mu      sync.RWMutex
	peers   map[string]*dtls.Conn
	pending map[net.Conn]struct{}

	wg        sync.WaitGroup
	closeOnce sync.Once
}

func listenSecure(ctx *security.Context, network string, laddr *net.UDPAddr, logger log.Logger) (*securePacketConn, error) {
	lc := udp.ListenConfig{Backlog: securePacketBacklog}

	listener, err := lc.Listen(network, laddr)
	if err != nil {
		return nil, neterr.New(neterr.KindBind, "bind", err)
	}

	c := &securePacketConn{
		ctx:      ctx,
		listener: listener,
		logger:   logger,
		incoming: make(chan securePacket, securePacketBacklog),
		readDL:   deadline.New(),
		closed:   make(chan struct{}),
		peers:    make(map[string]*dtls.Conn),
		pending:  make(map[net.Conn]struct{}),
	}

	c.wg.Add(1)
	go c.acceptLoop()

	return c, nil
}

func (c *securePacketConn) acceptLoop() {
	defer c.wg.Done()

	for {
		conn, err := c.listener.Accept()
		if err != nil {
			if errors.Is(err, udp.ErrClosedListener) || c.isClosed() {
				return
			}
			c.logger.Debugf("secure datagram accept failed: %v", err)
			continue
		}

		c.wg.Add(1)
		go c.handshake(conn)
	}
}

func (c *securePacketConn) handshake(conn net.Conn) {
	defer c.wg.Done()

	peer := conn.RemoteAddr()

	c.mu.Lock()
	if c.isClosed() {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.pending[conn] = struct{}{}
	c.mu.Unlock()

	secured, err := c.ctx.DatagramServer(context.Background(), conn)

	c.mu.Lock()
	delete(c.pending, conn)
	c.mu.Unlock()

	if err != nil {
		c.logger.Warnf("DTLS handshake with %s failed: %v", peer, err)
		conn.Close()
		return
	}

	c.mu.Lock()
	if c.isClosed() {
		c.mu.Unlock()
		secured.Close()
		return
	}
	if prev, ok := c.peers[peer.String()]; ok {
		prev.Close()
	}
	c.peers[peer.String()] = secured
	c.mu.Unlock()

	c.logger.Debugf("DTLS session established with %s", peer)
	c.readPeer(secured, peer)
}

func (c *securePacketConn) readPeer(conn *dtls.Conn, peer net.Addr) {
	defer func() {
		c.mu.Lock()
		if c.peers[peer.String()] == conn {
			delete(c.peers, peer.String())
		}
		c.mu.Unlock()
		conn.Close()
	}()

	buf := make([]byte, 65535)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			c.logger.Debugf("DTLS session with %s ended: %v", peer, err)
			return
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		select {
		case c.incoming <- securePacket{data: data, addr: peer}:
		case <-c.closed:
			return
		}
	}
}

func (c *securePacketConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// ReadFrom returns the next decrypted datagram from any peer.
func (c *securePacketConn) ReadFrom(p []byte) (int, net.Addr, error) {
	select {
	case <-c.closed:
		return 0, nil, errSecureClosed
	case <-c.readDL.Done():
		return 0, nil, os.ErrDeadlineExceeded
	default:
	}

	select {
	case pkt := <-c.incoming:
		return copy(p, pkt.data), pkt.addr, nil
	case <-c.closed:
		return 0, nil, errSecureClosed
	case <-c.readDL.Done():
		return 0, nil, os.ErrDeadlineExceeded
	}
}

// WriteTo encrypts p for the session of addr.
func (c *securePacketConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	if c.isClosed() {
		return 0, errSecureClosed
	}

	c.mu.RLock()
	conn, ok := c.peers[addr.String()]
	c.mu.RUnlock()

	if !ok {
		return 0, errNoSession
	}
	return conn.Write(p)
}

func (c *securePacketConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.listener.Close()

		c.mu.Lock()
		for key, conn := range c.peers {
			conn.Close()
			delete(c.peers, key)
		}
		for conn := range c.pending {
			conn.Close()
		}
		c.mu.Unlock()

		c.wg.Wait()
	})
	return err
}

func (c *securePacketConn) LocalAddr() net.Addr {
	return c.listener.Addr()
}

func (c *securePacketConn) SetDeadline(t time.Time) error {
	return c.SetReadDeadline(t)
}

func (c *securePacketConn) SetReadDeadline(t time.Time) error {
	c.readDL.Set(t)
	return nil
}

// Write deadlines belong to each peer session.
func (c *securePacketConn) SetWriteDeadline(time.Time) error {
	return nil
}

// Sessions returns the number of established peer sessions.
func (c *securePacketConn) Sessions() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.peers)
}
