package stratum

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/bardlex/cnpool/internal/banning"
	"github.com/bardlex/cnpool/internal/clock"
	"github.com/bardlex/cnpool/internal/config"
	"github.com/bardlex/cnpool/internal/jobs"
	"github.com/bardlex/cnpool/pkg/log"
)

// Server accepts miner connections on the configured ports, runs one session
// per connection, and fans new templates out to every authorized session.
type Server struct {
	cfg     *config.Config
	logger  *log.Logger
	handler *Handler
	manager *jobs.Manager
	bans    *banning.Manager
	clock   clock.Clock

	mu        sync.RWMutex
	sessions  map[string]*Session
	listeners []net.Listener

	wg sync.WaitGroup
}

// NewServer creates a stratum server.
func NewServer(cfg *config.Config, handler *Handler, manager *jobs.Manager, bans *banning.Manager, clk clock.Clock, logger *log.Logger) *Server {
	return &Server{
		cfg:      cfg,
		logger:   logger.WithComponent("server"),
		handler:  handler,
		manager:  manager,
		bans:     bans,
		clock:    clk,
		sessions: make(map[string]*Session),
	}
}

// Start listens on every configured port and blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	var tlsConfig *tls.Config
	if s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
		if err != nil {
			return fmt.Errorf("failed to load TLS key pair: %w", err)
		}
		tlsConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	}

	for _, port := range s.cfg.Ports {
		addr := fmt.Sprintf("%s:%d", s.cfg.ListenAddr, port.Port)

		var listener net.Listener
		var err error
		if tlsConfig != nil {
			listener, err = tls.Listen("tcp", addr, tlsConfig)
		} else {
			listener, err = net.Listen("tcp", addr)
		}
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", addr, err)
		}

		s.mu.Lock()
		s.listeners = append(s.listeners, listener)
		s.mu.Unlock()

		s.logger.Info("server listening", "address", addr)

		s.wg.Add(1)
		go s.acceptLoop(ctx, listener, port.Port)
	}

	s.wg.Add(1)
	go s.broadcastLoop(ctx)

	s.wg.Add(1)
	go s.statsLoop(ctx)

	<-ctx.Done()
	return ctx.Err()
}

// statsLoop periodically logs per-session counters and estimated hashrate.
func (s *Server) statsLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.RLock()
			snapshot := make([]*Session, 0, len(s.sessions))
			for _, session := range s.sessions {
				snapshot = append(snapshot, session)
			}
			s.mu.RUnlock()

			for _, session := range snapshot {
				if !session.IsAuthorized() {
					continue
				}
				miner, worker := session.Miner()
				stats := session.Stats()
				s.logger.WithMiner(miner, worker).Info("session stats",
					"session_id", session.ID(),
					"valid_shares", stats.ValidShares,
					"invalid_shares", stats.InvalidShares,
					"difficulty", session.Difficulty(),
					"hashrate", session.Hashrate(),
				)
			}
		}
	}
}

func (s *Server) acceptLoop(ctx context.Context, listener net.Listener, port int) {
	defer s.wg.Done()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				s.logger.WithError(err).Error("failed to accept connection")
				continue
			}
		}

		s.mu.RLock()
		count := len(s.sessions)
		s.mu.RUnlock()
		if count >= s.cfg.MaxConnections {
			s.logger.Warn("connection limit reached, rejecting", "remote_addr", conn.RemoteAddr().String())
			_ = conn.Close()
			continue
		}

		if host, _, err := net.SplitHostPort(conn.RemoteAddr().String()); err == nil {
			if s.bans.IsBanned(ctx, host) {
				s.logger.Debug("rejecting banned address", "remote_ip", host)
				_ = conn.Close()
				continue
			}
		}

		s.wg.Add(1)
		go s.handleConnection(ctx, conn, port)
	}
}

// newSessionID generates a stable random connection identifier.
func newSessionID() string {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf[:])
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn, port int) {
	defer s.wg.Done()

	sessionID := newSessionID()

	session := NewSession(
		sessionID,
		conn,
		port,
		s.clock,
		s.logger,
		s.cfg.ConnectionTimeout,
		s.cfg.WriteTimeout,
		s.cfg.MaxMessageSize,
	)

	s.mu.Lock()
	s.sessions[sessionID] = session
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.sessions, sessionID)
		s.mu.Unlock()
	}()

	if err := session.Start(ctx, s.handler); err != nil && err != context.Canceled {
		s.logger.WithError(err).Debug("session ended with error")
	}
}

// broadcastLoop subscribes to the template stream and fans each new template
// out to the live sessions. Events are processed strictly in order on this
// task; per-session sends run concurrently within one event.
func (s *Server) broadcastLoop(ctx context.Context) {
	defer s.wg.Done()

	templates, cancel := s.manager.Stream().Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case template, ok := <-templates:
			if !ok {
				return
			}
			s.broadcast(ctx, template.Height)
		}
	}
}

// broadcast mints and pushes one job per authorized session, evicting idle
// connections on the way. Per-session failures are logged, never fatal.
func (s *Server) broadcast(ctx context.Context, height uint64) {
	s.mu.RLock()
	snapshot := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		snapshot = append(snapshot, session)
	}
	s.mu.RUnlock()

	deadline := s.clock.Now().Add(s.cfg.BroadcastDeadline)
	now := s.clock.Now()

	var wg sync.WaitGroup
	sent := 0

	for _, session := range snapshot {
		if !session.IsAuthorized() || session.Closed() {
			continue
		}

		if now.Sub(session.LastActivity()) > s.cfg.ConnectionTimeout {
			s.logger.Info("evicting idle session", "session_id", session.ID())
			session.Close()
			continue
		}

		sent++
		wg.Add(1)
		go func(session *Session) {
			defer wg.Done()

			job, err := MintJob(s.manager, session)
			if err != nil {
				s.logger.WithError(err).Error("broadcast mint failed", "session_id", session.ID())
				return
			}

			if err := session.SendJob(JobWire(job)); err != nil {
				s.logger.WithError(err).Debug("broadcast send failed", "session_id", session.ID())
			}
		}(session)
	}

	wg.Wait()

	if over := s.clock.Now().Sub(deadline); over > 0 {
		s.logger.Warn("broadcast exceeded deadline", "height", height, "overrun", over)
	}

	s.logger.LogJobBroadcast(height, sent)
}

// SessionCount returns the number of live sessions.
func (s *Server) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Shutdown closes the listeners and drains the sessions.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	s.mu.RLock()
	for _, listener := range s.listeners {
		if err := listener.Close(); err != nil {
			s.logger.WithError(err).Debug("failed to close listener")
		}
	}
	for _, session := range s.sessions {
		session.Close()
	}
	s.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
