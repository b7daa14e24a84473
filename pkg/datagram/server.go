package datagram

import (
	"errors"
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

// HandlerFunc handles one datagram received by a Server from the peer at
// from. data aliases the server's receive buffer and is only valid during
// the call.
type HandlerFunc func(s *Server, from address.SocketAddress, data []byte)

// Mode selects how a Server hands datagrams to callbacks.
type Mode uint8

const (
	// ModeDispatch routes each datagram by its first byte into the handler
	// table and passes the remaining bytes.
	ModeDispatch Mode = iota
	// ModeSingle passes every datagram whole to one callback.
	ModeSingle
)

// String returns a string representation of the mode
func (m Mode) String() string {
	if m == ModeSingle {
		return "single"
	}
	return "dispatch"
}

// ServerConfig configures a Server. Exactly one of Handlers and Receive
// must be set.
type ServerConfig struct {
	Address address.SocketAddress

	// Handlers is the dispatch table, indexed by the first datagram byte.
	// Datagrams with an index past the table or at a nil entry are dropped.
	Handlers []HandlerFunc

	// Receive is the single callback. Only this mode may be secured.
	Receive  HandlerFunc
	Security *security.Context

	BufferSize int
	RetryDelay time.Duration

	Logger log.Logger
}

// Server is a bound datagram socket with a dedicated receive loop.
type Server struct {
	handle   *socket.Handle
	mode     Mode
	handlers []HandlerFunc
	receive  HandlerFunc
	logger   log.Logger

	buffer     []byte
	retryDelay time.Duration
	thread     *worker.Thread

	running atomic.Bool
	state   atomic.Int32
	stats   counters

	closeMu sync.Mutex
	closed  bool
}

// NewServer binds the configured address and starts the receive loop.
func NewServer(cfg ServerConfig) (*Server, error) {
	s := &Server{
		logger:     log.OrDiscard(cfg.Logger),
		retryDelay: cfg.RetryDelay,
	}

	switch {
	case len(cfg.Handlers) > 0 && cfg.Receive != nil:
		return nil, errModeConflict
	case len(cfg.Handlers) > MaxHandlers:
		return nil, errTooManyRoutes
	case len(cfg.Handlers) > 0:
		if cfg.Security != nil {
			return nil, neterr.New(neterr.KindProtocolMismatch, "datagram server", errSecureTable)
		}
		s.mode = ModeDispatch
		s.handlers = append([]HandlerFunc(nil), cfg.Handlers...)
	case cfg.Receive != nil:
		if cfg.Security != nil && cfg.Security.Mode() != security.ModeServe {
			return nil, neterr.New(neterr.KindProtocolMismatch, "datagram server", errSecureVerify)
		}
		s.mode = ModeSingle
		s.receive = cfg.Receive
	default:
		return nil, errNoReceive
	}

	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if s.retryDelay <= 0 {
		s.retryDelay = DefaultRetryDelay
	}

	bind := cfg.Address
	handle, err := socket.Create(socket.Options{
		Type:     address.TypeDatagram,
		Family:   bind.Family(),
		Bind:     &bind,
		Security: cfg.Security,
		Logger:   s.logger,
	})
	if err != nil {
		return nil, err
	}

	s.handle = handle
	s.buffer = make([]byte, cfg.BufferSize)
	s.state.Store(int32(StateBound))

	s.running.Store(true)
	s.state.Store(int32(StateRunning))
	s.thread = worker.New()
	s.thread.Start(s.receiveLoop)

	if local, err := handle.LocalAddress(); err == nil {
		s.logger.Infof("Datagram server listening on %s (%s mode)", local, s.mode)
	}

	return s, nil
}

func (s *Server) receiveLoop() {
	defer s.running.Store(false)

	for s.running.Load() {
		n, from, err := s.handle.ReceiveFrom(s.buffer)
		if err != nil {
			if !s.running.Load() || errors.Is(err, neterr.ErrClosed) {
				break
			}
			s.stats.receiveErrors.Add(1)
			s.logger.Debugf("Datagram server receive failed, retrying: %v", err)
			worker.Sleep(s.retryDelay)
			continue
		}

		s.stats.received(n)
		s.dispatch(from, s.buffer[:n])
	}

	s.logger.Debugf("Datagram server receive loop exited")
}

func (s *Server) dispatch(from address.SocketAddress, data []byte) {
	if s.mode == ModeSingle {
		s.receive(s, from, data)
		return
	}

	if len(data) == 0 {
		s.drop(from, "empty datagram")
		return
	}

	index := int(data[0])
	if index >= len(s.handlers) || s.handlers[index] == nil {
		s.drop(from, "no handler at index")
		return
	}

	s.handlers[index](s, from, data[1:])
}

func (s *Server) drop(from address.SocketAddress, reason string) {
	s.stats.dropped.Add(1)
	s.logger.Debugf("Dropped datagram from %s: %s", from, reason)
}

// SendTo writes one datagram to addr. It is safe to call concurrently with
// the receive loop, including from a callback.
func (s *Server) SendTo(data []byte, addr address.SocketAddress) error {
	if len(data) == 0 {
		return neterr.New(neterr.KindIO, "datagram server send", errEmptyPayload)
	}

	n, err := s.handle.SendTo(data, addr)
	if err != nil {
		return err
	}

	s.stats.sent(n)
	return nil
}

// Close stops the receive loop, unblocks and joins it, then releases the
// buffer and the socket. It must not be called from a callback.
func (s *Server) Close() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	s.running.Store(false)
	s.handle.Unblock()
	s.thread.Join()

	s.buffer = nil
	err := s.handle.Close()
	s.state.Store(int32(StateStopped))

	s.logger.Infof("Datagram server stopped")

	return err
}

// IsRunning reports whether the receive loop is active.
func (s *Server) IsRunning() bool {
	return s.running.Load()
}

// State returns the lifecycle state.
func (s *Server) State() State {
	return State(s.state.Load())
}

// Mode returns the dispatch mode.
func (s *Server) Mode() Mode {
	return s.mode
}

// LocalAddress returns the bound address.
func (s *Server) LocalAddress() (address.SocketAddress, error) {
	return s.handle.LocalAddress()
}

// Handle returns the underlying socket.
func (s *Server) Handle() *socket.Handle {
	return s.handle
}

// Stats returns a snapshot of the traffic counters.
func (s *Server) Stats() Stats {
	return s.stats.snapshot()
}
