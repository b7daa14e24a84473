package datagram

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vitalvas/gosock/internal/worker"
	"github.com/vitalvas/gosock/pkg/address"
	"github.com/vitalvas/gosock/pkg/log"
	"github.com/vitalvas/gosock/pkg/neterr"
	"github.com/vitalvas/gosock/pkg/security"
	"github.com/vitalvas/gosock/pkg/socket"
)

// ReceiveFunc handles one datagram received by a Client. data aliases the
// client's receive buffer and is only valid during the call. Returning false
// stops the receive loop.
type ReceiveFunc func(c *Client, data []byte) bool

// ClientConfig configures a Client.
type ClientConfig struct {
	// Remote is the peer. Its family selects the local socket family.
	Remote address.SocketAddress

	Receive    ReceiveFunc
	BufferSize int

	// ReceiveTimeout bounds each receive; an expired receive stops the loop.
	ReceiveTimeout time.Duration

	// Security secures the client with DTLS. ServerName, when set, is
	// verified against the server certificate.
	Security   *security.Context
	ServerName string

	Logger log.Logger
}

// Client is a datagram socket connected to one peer with a dedicated
// receive loop.
type Client struct {
	handle  *socket.Handle
	receive ReceiveFunc
	logger  log.Logger

	buffer []byte
	thread *worker.Thread

	running atomic.Bool
	state   atomic.Int32
	stats   counters

	closeMu sync.Mutex
	closed  bool
}

// NewClient binds an ephemeral local address of the remote family, connects
// to the remote and starts the receive loop.
func NewClient(cfg ClientConfig) (*Client, error) {
	return NewClientContext(context.Background(), cfg)
}

// NewClientContext is NewClient with ctx bounding the DTLS handshake.
func NewClientContext(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.Receive == nil {
		return nil, errNoReceive
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}

	c := &Client{
		receive: cfg.Receive,
		logger:  log.OrDiscard(cfg.Logger),
	}
	c.state.Store(int32(StateConnecting))

	handle, err := socket.Create(socket.Options{
		Type:     address.TypeDatagram,
		Family:   cfg.Remote.Family(),
		Security: cfg.Security,
		Logger:   c.logger,
	})
	if err != nil {
		return nil, err
	}

	handle.SetServerName(cfg.ServerName)
	handle.SetReceiveTimeout(cfg.ReceiveTimeout)

	if err := handle.ConnectContext(ctx, cfg.Remote); err != nil {
		handle.Close()
		return nil, err
	}

	c.handle = handle
	c.buffer = make([]byte, cfg.BufferSize)

	c.running.Store(true)
	c.state.Store(int32(StateRunning))
	c.thread = worker.New()
	c.thread.Start(c.receiveLoop)

	c.logger.Infof("Datagram client connected to %s", cfg.Remote)

	return c, nil
}

func (c *Client) receiveLoop() {
	defer func() {
		c.running.Store(false)
		c.state.Store(int32(StateStopped))
	}()

	for c.running.Load() {
		n, err := c.handle.Receive(c.buffer)
		if err != nil {
			if c.running.Load() {
				c.stats.receiveErrors.Add(1)
				c.logger.Debugf("Datagram client receive failed, stopping: %v", err)
			}
			return
		}
		if n == 0 {
			c.logger.Debugf("Datagram client received an empty datagram, stopping")
			return
		}

		c.stats.received(n)

		if !c.receive(c, c.buffer[:n]) {
			c.logger.Debugf("Datagram client receive callback requested stop")
			return
		}
	}
}

// Send writes one datagram to the peer.
func (c *Client) Send(data []byte) error {
	if len(data) == 0 {
		return neterr.New(neterr.KindIO, "datagram client send", errEmptyPayload)
	}

	n, err := c.handle.Send(data)
	if err != nil {
		return err
	}

	c.stats.sent(n)
	return nil
}

// Close stops the receive loop, unblocks and joins it, then releases the
// buffer and the socket. It must not be called from the receive callback;
// return false there instead.
func (c *Client) Close() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	c.running.Store(false)
	c.handle.Unblock()
	c.thread.Join()

	c.buffer = nil
	err := c.handle.Close()
	c.state.Store(int32(StateStopped))

	c.logger.Infof("Datagram client stopped")

	return err
}

// IsRunning reports whether the receive loop is active.
func (c *Client) IsRunning() bool {
	return c.running.Load()
}

// State returns the lifecycle state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// LocalAddress returns the bound local address.
func (c *Client) LocalAddress() (address.SocketAddress, error) {
	return c.handle.LocalAddress()
}

// RemoteAddress returns the connected peer.
func (c *Client) RemoteAddress() (address.SocketAddress, error) {
	return c.handle.RemoteAddress()
}

// Handle returns the underlying socket.
func (c *Client) Handle() *socket.Handle {
	return c.handle
}

// Stats returns a snapshot of the traffic counters.
func (c *Client) Stats() Stats {
	return c.stats.snapshot()
}
