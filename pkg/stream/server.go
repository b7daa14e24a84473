package stream

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/vitalvas/gosock/internal/worker"
	"github.com/vitalvas/gosock/pkg/address"
	"github.com/vitalvas/gosock/pkg/log"
	"github.com/vitalvas/gosock/pkg/neterr"
	"github.com/vitalvas/gosock/pkg/security"
	"github.com/vitalvas/gosock/pkg/socket"
)

// ReceiveFunc handles bytes received by a session. data aliases the session
// buffer and is only valid during the call. Returning false closes the
// session.
type ReceiveFunc func(s *Session, data []byte) bool

// CloseFunc is called once when a session ends. err carries the failure for
// CloseReasonFailure and is nil otherwise.
type CloseFunc func(s *Session, reason CloseReason, err error)

// ServerConfig configures a Server. Exactly one of Handlers and Receive
// must be set.
type ServerConfig struct {
	Address address.SocketAddress

	// MaxSessions bounds the number of live sessions. Connections accepted
	// while the set is full are closed right away.
	MaxSessions int

	// Handlers is the handler table, indexed by the first byte of each
	// received chunk. The handler gets the bytes after the index.
	Handlers []ReceiveFunc
	Receive  ReceiveFunc
	OnClose  CloseFunc

	// ReceiveTimeout bounds each session receive; an expired receive ends
	// the session.
	ReceiveTimeout time.Duration
	BufferSize     int

	Security *security.Context
	Logger   log.Logger
}

// Server accepts stream connections on its own accept loop and runs one
// Session per connection.
type Server struct {
	listener *socket.Handle
	handlers []ReceiveFunc
	receive  ReceiveFunc
	onClose  CloseFunc
	logger   log.Logger

	bufferSize     int
	receiveTimeout time.Duration

	slots    *semaphore.Weighted
	mu       sync.Mutex
	sessions map[uint64]*Session
	closing  bool
	lastID   atomic.Uint64

	thread  *worker.Thread
	running atomic.Bool
	state   atomic.Int32
	stats   counters

	closeMu sync.Mutex
	closed  bool
}

// NewServer listens on the configured address and starts the accept loop.
func NewServer(cfg ServerConfig) (*Server, error) {
	switch {
	case len(cfg.Handlers) > 0 && cfg.Receive != nil:
		return nil, errModeConflict
	case len(cfg.Handlers) > MaxHandlers:
		return nil, errTooManyRoutes
	case len(cfg.Handlers) == 0 && cfg.Receive == nil:
		return nil, errNoReceive
	}

	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}

	s := &Server{
		handlers:       append([]ReceiveFunc(nil), cfg.Handlers...),
		receive:        cfg.Receive,
		onClose:        cfg.OnClose,
		logger:         log.OrDiscard(cfg.Logger),
		bufferSize:     cfg.BufferSize,
		receiveTimeout: cfg.ReceiveTimeout,
		slots:          semaphore.NewWeighted(int64(cfg.MaxSessions)),
		sessions:       make(map[uint64]*Session),
	}

	bind := cfg.Address
	listener, err := socket.Create(socket.Options{
		Type:      address.TypeStream,
		Family:    bind.Family(),
		Bind:      &bind,
		Listening: true,
		Security:  cfg.Security,
		Logger:    s.logger,
	})
	if err != nil {
		return nil, err
	}

	s.listener = listener
	s.state.Store(int32(StateListening))

	s.running.Store(true)
	s.state.Store(int32(StateRunning))
	s.thread = worker.New()
	s.thread.Start(s.acceptLoop)

	if local, err := listener.LocalAddress(); err == nil {
		s.logger.Infof("Stream server listening on %s (max %d sessions)", local, cfg.MaxSessions)
	}

	return s, nil
}

func (s *Server) acceptLoop() {
	defer s.running.Store(false)

	for s.running.Load() {
		handle, err := s.listener.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, neterr.ErrClosed) {
				break
			}
			s.stats.acceptErrors.Add(1)
			s.logger.Debugf("Stream server accept failed, retrying: %v", err)
			worker.Sleep(acceptRetryDelay)
			continue
		}

		s.admit(handle)
	}

	s.logger.Debugf("Stream server accept loop exited")
}

// admit registers an accepted connection as a session, or closes it when
// the session set is full or the server is closing.
func (s *Server) admit(handle *socket.Handle) {
	remote, _ := handle.RemoteAddress()

	if !s.slots.TryAcquire(1) {
		s.stats.sessionsRejected.Add(1)
		s.logger.Warnf("Session limit reached, rejecting connection from %s", remote)
		handle.Close()
		return
	}

	handle.SetReceiveTimeout(s.receiveTimeout)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closing {
		s.slots.Release(1)
		handle.Close()
		return
	}

	id := s.lastID.Add(1)
	session := &Session{
		id:     id,
		server: s,
		handle: handle,
		remote: remote,
		logger: log.WithFields(s.logger, map[string]interface{}{"session": id, "remote": remote.String()}),
		buffer: make([]byte, s.bufferSize),
	}
	s.sessions[session.id] = session
	s.stats.sessionsAccepted.Add(1)

	// registered before the loop starts, so its teardown always finds it
	session.start()

	session.logger.Debugf("Session opened")
}

// remove drops a finished session from the set and frees its slot.
func (s *Server) remove(session *Session) {
	s.mu.Lock()
	_, ok := s.sessions[session.id]
	delete(s.sessions, session.id)
	s.mu.Unlock()

	if ok {
		s.slots.Release(1)
		s.stats.sessionsClosed.Add(1)
	}
}

// Close stops accepting, stops and joins every live session, joins the
// accept loop and releases the listener. It must not be called from a
// session callback.
func (s *Server) Close() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	s.running.Store(false)
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.listener.Unblock()

	for _, session := range s.Sessions() {
		session.stop()
	}

	s.thread.Join()

	err := s.listener.Close()
	s.state.Store(int32(StateStopped))

	s.logger.Infof("Stream server stopped")

	return err
}

// Sessions returns the live sessions ordered by ID.
func (s *Server) Sessions() []*Session {
	s.mu.Lock()
	list := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		list = append(list, session)
	}
	s.mu.Unlock()

	sort.Slice(list, func(i, j int) bool { return list[i].id < list[j].id })
	return list
}

// SessionCount returns the number of live sessions.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// LocalAddress returns the listening address.
func (s *Server) LocalAddress() (address.SocketAddress, error) {
	return s.listener.LocalAddress()
}

// IsRunning reports whether the accept loop is active.
func (s *Server) IsRunning() bool {
	return s.running.Load()
}

// State returns the lifecycle state.
func (s *Server) State() State {
	return State(s.state.Load())
}

// Stats returns a snapshot of the server counters.
func (s *Server) Stats() Stats {
	return s.stats.snapshot()
}
