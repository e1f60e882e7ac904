// Copyright 2026 The Atelier Bridge Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/atelier-foundation/atelier-bridge/command"
	"github.com/atelier-foundation/atelier-bridge/lib/clock"
	"github.com/atelier-foundation/atelier-bridge/lib/tick"
)

const (
	// acceptBackoff is the pause after a transient Accept failure, so
	// a persistent fault (out of file descriptors, say) logs a few
	// times a second instead of spinning.
	acceptBackoff = 500 * time.Millisecond

	// stopTimeout bounds how long Stop waits for connection handlers
	// to drain. The host calls Stop from its own shutdown path; a
	// handler stuck on a dead peer must not hang the host.
	stopTimeout = 5 * time.Second
)

// Config wires a Server. Queue, Registry and Flags are required;
// handlers registered in Registry run on whichever goroutine drains
// Queue, never on connection goroutines.
type Config struct {
	// ListenAddress is the TCP address to bind, e.g. "localhost:9876".
	// Port 0 binds an ephemeral port; Addr reports the choice.
	ListenAddress string

	// Queue receives one execution item per decoded command.
	Queue *tick.Queue

	// Registry resolves command types to handlers.
	Registry *command.Registry

	// Flags gates feature-flagged commands at dispatch time.
	Flags *command.FlagSet

	// Clock drives the accept backoff and the Stop drain timeout.
	// Defaults to clock.Real().
	Clock clock.Clock

	// Logger receives structured output. Per-connection events log at
	// Debug, lifecycle and faults at Info/Warn/Error. Defaults to a
	// discard logger.
	Logger *slog.Logger
}

// Server owns the TCP listener and the connection handler goroutines.
// Start and Stop may be called repeatedly, in pairs, from any
// goroutine; the zero value is not usable, construct with New.
type Server struct {
	listenAddress string
	queue         *tick.Queue
	registry      *command.Registry
	flags         *command.FlagSet
	clock         clock.Clock
	logger        *slog.Logger

	mu       sync.Mutex
	running  bool
	listener net.Listener
	cancel   context.CancelFunc
	done     chan struct{}

	connectionsMu     sync.Mutex
	activeConnections map[net.Conn]struct{}
	draining          bool
	handlers          sync.WaitGroup
	connectionCount   int64
}

// New validates cfg and returns an unstarted Server.
func New(cfg Config) (*Server, error) {
	if cfg.ListenAddress == "" {
		return nil, errors.New("bridge: ListenAddress is required")
	}
	if cfg.Queue == nil {
		return nil, errors.New("bridge: Queue is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("bridge: Registry is required")
	}
	if cfg.Flags == nil {
		return nil, errors.New("bridge: Flags is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		listenAddress:     cfg.ListenAddress,
		queue:             cfg.Queue,
		registry:          cfg.Registry,
		flags:             cfg.Flags,
		clock:             cfg.Clock,
		logger:            cfg.Logger,
		activeConnections: make(map[net.Conn]struct{}),
	}, nil
}

// Start binds the listener and spawns the accept loop. Returns a
// wrapped error when the bind fails, so the host can report the fault
// and keep running. Start on a running server logs and returns nil.
// The context cancels the server the same way Stop does, except that
// only Stop resets it for another Start.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.logger.Info("bridge already running", "listen_address", s.listenAddress)
		return nil
	}

	listener, err := net.Listen("tcp", s.listenAddress)
	if err != nil {
		return fmt.Errorf("bridge: listen on %s: %w", s.listenAddress, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.listener = listener
	s.cancel = cancel
	s.done = done
	s.running = true
	s.connectionsMu.Lock()
	s.draining = false
	s.connectionsMu.Unlock()

	// Single close path for the listener: Stop and an external
	// context cancel both land here, and closing twice is harmless.
	go func() {
		<-runCtx.Done()
		listener.Close()
	}()
	go func() {
		defer close(done)
		s.acceptLoop(runCtx, listener)
	}()

	s.logger.Info("bridge listening", "address", listener.Addr().String())
	return nil
}

// Addr returns the bound listener address, or nil when the server is
// not running. With ListenAddress port 0 this is how callers learn the
// ephemeral port.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Running reports whether the server is accepting connections.
func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Stop closes the listener and every active connection, then waits
// (bounded by stopTimeout) for the accept loop and handlers to drain.
// The server is restartable afterwards. Stop on a stopped server is a
// no-op.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	done := s.done
	s.listener = nil
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	cancel()
	s.closeActiveConnections()

	select {
	case <-done:
	case <-s.clock.After(stopTimeout):
		s.logger.Warn("bridge stop timed out waiting for connections")
	}
	s.logger.Info("bridge stopped")
}

// Wait blocks until the accept loop exits, whether by Stop or by
// context cancellation. Returns immediately when the server is not
// running.
func (s *Server) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

// acceptLoop accepts until the listener closes. It waits for all
// handler goroutines before returning, so the done channel closing
// means full quiescence.
func (s *Server) acceptLoop(ctx context.Context, listener net.Listener) {
	defer s.handlers.Wait()

	for {
		connection, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("accept failed", "error", err)
			s.clock.Sleep(acceptBackoff)
			continue
		}

		connectionID, accepted := s.trackConnection(connection)
		if !accepted {
			// Stop swept the active set between this Accept and the
			// registration; the server is going down.
			connection.Close()
			continue
		}

		s.handlers.Add(1)
		go func() {
			defer s.handlers.Done()
			defer s.forgetConnection(connection)
			s.handleConnection(ctx, connection, connectionID)
		}()
	}
}

func (s *Server) trackConnection(connection net.Conn) (int64, bool) {
	s.connectionsMu.Lock()
	defer s.connectionsMu.Unlock()
	if s.draining {
		return 0, false
	}
	s.connectionCount++
	s.activeConnections[connection] = struct{}{}
	return s.connectionCount, true
}

func (s *Server) forgetConnection(connection net.Conn) {
	s.connectionsMu.Lock()
	delete(s.activeConnections, connection)
	s.connectionsMu.Unlock()
}

// closeActiveConnections unblocks every handler stuck in Read and
// marks the server draining so a racing Accept cannot slip a new
// handler past the sweep.
func (s *Server) closeActiveConnections() {
	s.connectionsMu.Lock()
	defer s.connectionsMu.Unlock()
	s.draining = true
	for connection := range s.activeConnections {
		connection.Close()
	}
}
