package stream

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/vitalvas/gosock/internal/worker"
	"github.com/vitalvas/gosock/pkg/address"
	"github.com/vitalvas/gosock/pkg/log"
	"github.com/vitalvas/gosock/pkg/neterr"
	"github.com/vitalvas/gosock/pkg/socket"
)

// Session is one accepted connection of a Server with its own receive loop.
// Callbacks of one session never run concurrently.
type Session struct {
	id     uint64
	server *Server
	handle *socket.Handle
	remote address.SocketAddress
	logger log.Logger

	buffer  []byte
	thread  *worker.Thread
	running atomic.Bool

	sendMu       sync.Mutex
	teardownOnce sync.Once
}

func (s *Session) start() {
	s.thread = worker.New()
	s.running.Store(true)
	s.thread.Start(s.receiveLoop)
}

func (s *Session) receiveLoop() {
	reason, err := s.serve()
	s.running.Store(false)
	s.teardown(reason, err)
}

func (s *Session) serve() (CloseReason, error) {
	if s.handle.IsSecure() {
		if err := s.handle.Handshake(context.Background()); err != nil {
			if !s.running.Load() {
				return CloseReasonShutdown, nil
			}
			s.logger.Warnf("Session handshake failed: %v", err)
			return CloseReasonFailure, err
		}
	}

	for s.running.Load() {
		n, err := s.handle.Receive(s.buffer)
		switch {
		case errors.Is(err, io.EOF), err == nil && n == 0:
			return CloseReasonPeerClosed, nil
		case err != nil:
			if !s.running.Load() {
				return CloseReasonShutdown, nil
			}
			s.logger.Debugf("Session receive failed: %v", err)
			return CloseReasonFailure, err
		}

		s.server.stats.bytesReceived.Add(uint64(n))

		if !s.dispatch(s.buffer[:n]) {
			return CloseReasonCallback, nil
		}
	}

	return CloseReasonShutdown, nil
}

func (s *Session) dispatch(data []byte) bool {
	srv := s.server
	if srv.receive != nil {
		return srv.receive(s, data)
	}

	index := int(data[0])
	if index >= len(srv.handlers) || srv.handlers[index] == nil {
		srv.stats.dropped.Add(1)
		s.logger.Debugf("Dropped %d bytes: no handler at index %d", len(data), index)
		return true
	}

	return srv.handlers[index](s, data[1:])
}

// teardown runs on the receive loop after it returned, so the buffer and
// the socket are no longer in use.
func (s *Session) teardown(reason CloseReason, err error) {
	s.teardownOnce.Do(func() {
		s.server.remove(s)

		if s.server.onClose != nil {
			s.server.onClose(s, reason, err)
		}

		s.buffer = nil
		if cerr := s.handle.Close(); cerr != nil {
			s.logger.Debugf("Session close: %v", cerr)
		}

		s.logger.Debugf("Session closed: %s", reason)
	})
}

// stop signals the loop, unblocks its receive and joins it.
func (s *Session) stop() {
	s.running.Store(false)
	s.handle.Unblock()
	s.thread.Join()
}

// Send writes data to the peer. It may be called from the session callback
// or any other goroutine.
func (s *Session) Send(data []byte) error {
	if len(data) == 0 {
		return neterr.New(neterr.KindIO, "session send", errEmptyPayload)
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	for len(data) > 0 {
		n, err := s.handle.Send(data)
		s.server.stats.bytesSent.Add(uint64(n))
		if err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

// Close ends the session and waits for its teardown. It must not be called
// from the session's own callback; return false there instead.
func (s *Session) Close() {
	s.stop()
}

// ID returns the server-unique session number.
func (s *Session) ID() uint64 {
	return s.id
}

// RemoteAddress returns the peer address.
func (s *Session) RemoteAddress() address.SocketAddress {
	return s.remote
}

// Server returns the owning server.
func (s *Session) Server() *Server {
	return s.server
}

// Handle returns the session socket.
func (s *Session) Handle() *socket.Handle {
	return s.handle
}

// IsRunning reports whether the receive loop is active.
func (s *Session) IsRunning() bool {
	return s.running.Load()
}
