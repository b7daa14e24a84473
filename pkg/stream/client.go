package stream

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/vitalvas/gosock/pkg/address"
	"github.com/vitalvas/gosock/pkg/log"
	"github.com/vitalvas/gosock/pkg/neterr"
	"github.com/vitalvas/gosock/pkg/security"
	"github.com/vitalvas/gosock/pkg/socket"
)

// ClientReceiveFunc handles bytes received by Update. An empty data slice
// reports that the peer closed the connection. data aliases the client
// buffer and is only valid during the call.
type ClientReceiveFunc func(c *Client, data []byte)

// ClientConfig configures a Client.
type ClientConfig struct {
	Family     address.Family
	Receive    ClientReceiveFunc
	BufferSize int

	// Security secures the connection with TLS. ServerName, when set, is
	// verified against the server certificate.
	Security   *security.Context
	ServerName string

	Logger log.Logger
}

// Client is a stream client without a goroutine of its own: the caller
// drives receiving by calling Update from its loop. A Client is not safe for
// concurrent use.
type Client struct {
	family     address.Family
	receive    ClientReceiveFunc
	security   *security.Context
	serverName string
	logger     log.Logger

	handle     *socket.Handle
	buffer     []byte
	peerClosed bool
}

// NewClient validates cfg and allocates the receive buffer. The client
// connects with Connect.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Receive == nil {
		return nil, errNoReceive
	}
	if cfg.Family != address.FamilyIPv4 && cfg.Family != address.FamilyIPv6 {
		return nil, neterr.New(neterr.KindProtocolMismatch, "stream client", errors.New("unknown address family"))
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}

	return &Client{
		family:     cfg.Family,
		receive:    cfg.Receive,
		security:   cfg.Security,
		serverName: cfg.ServerName,
		logger:     log.OrDiscard(cfg.Logger),
		buffer:     make([]byte, cfg.BufferSize),
	}, nil
}

// Connect connects to addr, completing the TLS handshake of a secure client,
// within timeout. A zero timeout waits indefinitely. A client whose previous
// connection ended may connect again.
func (c *Client) Connect(addr address.SocketAddress, timeout time.Duration) error {
	if c.buffer == nil {
		return neterr.New(neterr.KindConnect, "stream client connect", neterr.ErrClosed)
	}
	if c.IsConnected() {
		return neterr.New(neterr.KindConnect, "stream client connect", errors.New("already connected"))
	}
	if c.handle != nil {
		c.handle.Close()
		c.handle = nil
	}

	handle, err := socket.Create(socket.Options{
		Type:     address.TypeStream,
		Family:   c.family,
		Security: c.security,
		Logger:   c.logger,
	})
	if err != nil {
		return err
	}
	handle.SetServerName(c.serverName)

	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := handle.ConnectContext(ctx, addr); err != nil {
		handle.Close()
		return err
	}
	handle.SetBlocking(false)

	c.handle = handle
	c.peerClosed = false

	c.logger.Infof("Stream client connected to %s", addr)

	return nil
}

// Update makes one non-blocking receive attempt and hands whatever arrived
// to the receive callback. It returns nil when nothing was pending.
func (c *Client) Update() error {
	if c.handle == nil {
		return neterr.New(neterr.KindIO, "stream client update", neterr.ErrNotConnected)
	}
	if c.peerClosed {
		return neterr.New(neterr.KindIO, "stream client update", errPeerClosed)
	}

	n, err := c.handle.Receive(c.buffer)
	switch {
	case errors.Is(err, neterr.ErrWouldBlock):
		return nil
	case errors.Is(err, io.EOF), err == nil && n == 0:
		c.peerClosed = true
		c.logger.Debugf("Stream client peer closed the connection")
		c.receive(c, c.buffer[:0])
		return nil
	case err != nil:
		return err
	}

	c.receive(c, c.buffer[:n])
	return nil
}

// Send writes data to the server.
func (c *Client) Send(data []byte) error {
	if len(data) == 0 {
		return neterr.New(neterr.KindIO, "stream client send", errEmptyPayload)
	}
	if c.handle == nil {
		return neterr.New(neterr.KindIO, "stream client send", neterr.ErrNotConnected)
	}

	for len(data) > 0 {
		n, err := c.handle.Send(data)
		if err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

// IsConnected reports whether the client has a live connection.
func (c *Client) IsConnected() bool {
	return c.handle != nil && !c.peerClosed && c.handle.IsConnected()
}

// Close releases the connection and the buffer. The client cannot be used
// afterwards.
func (c *Client) Close() error {
	c.buffer = nil
	if c.handle == nil {
		return nil
	}

	err := c.handle.Close()
	c.handle = nil
	return err
}

// LocalAddress returns the local address of the connection.
func (c *Client) LocalAddress() (address.SocketAddress, error) {
	if c.handle == nil {
		return address.SocketAddress{}, neterr.New(neterr.KindIO, "local address", neterr.ErrNotConnected)
	}
	return c.handle.LocalAddress()
}

// RemoteAddress returns the server address.
func (c *Client) RemoteAddress() (address.SocketAddress, error) {
	if c.handle == nil {
		return address.SocketAddress{}, neterr.New(neterr.KindIO, "remote address", neterr.ErrNotConnected)
	}
	return c.handle.RemoteAddress()
}
