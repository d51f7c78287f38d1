package stratum

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bardlex/cnpool/internal/clock"
	"github.com/bardlex/cnpool/internal/jobs"
	"github.com/bardlex/cnpool/internal/vardiff"
	"github.com/bardlex/cnpool/pkg/log"
)

// recentJobCapacity bounds how many minted jobs a session keeps resolvable.
// Submissions against evicted jobs are stale.
const recentJobCapacity = 4

// SessionStats counts share verdicts for one connection.
type SessionStats struct {
	ValidShares   uint64
	InvalidShares uint64
}

// Session is the per-connection state machine. The read loop owns inbound
// frames, the write loop serializes all outbound traffic, and shared fields
// are guarded by the session lock.
type Session struct {
	id     string
	conn   net.Conn
	port   int
	logger *log.Logger
	clock  clock.Clock

	// Session state
	authorized        bool
	minerAddress      string
	workerName        string
	paymentID         string
	userAgent         string
	difficulty        uint64
	pendingDifficulty uint64
	staticDifficulty  bool
	lastActivity      time.Time
	recentJobs        []*jobs.WorkerJob
	stats             SessionStats

	// Vardiff tracking
	vardiffWindow vardiff.Window

	// Hashrate estimation
	acceptedDiff uint64
	statsSince   time.Time

	extraNonce atomic.Uint32

	// Connection management
	readTimeout    time.Duration
	writeTimeout   time.Duration
	maxMessageSize int

	outbound chan []byte
	done     chan struct{}

	mu sync.RWMutex
}

// NewSession creates a session for an accepted connection.
func NewSession(id string, conn net.Conn, port int, clk clock.Clock, logger *log.Logger, readTimeout, writeTimeout time.Duration, maxMessageSize int) *Session {
	now := clk.Now()
	return &Session{
		id:             id,
		conn:           conn,
		port:           port,
		logger:         logger.WithFields("session_id", id, "remote_addr", conn.RemoteAddr().String()),
		clock:          clk,
		lastActivity:   now,
		statsSince:     now,
		readTimeout:    readTimeout,
		writeTimeout:   writeTimeout,
		maxMessageSize: maxMessageSize,
		outbound:       make(chan []byte, 100),
		done:           make(chan struct{}),
	}
}

// MessageHandler dispatches parsed requests.
type MessageHandler interface {
	HandleMessage(ctx context.Context, session *Session, req *Request)
}

// Start begins processing the session
func (s *Session) Start(ctx context.Context, handler MessageHandler) error {
	s.logger.LogConnection("connected", s.conn.RemoteAddr().String())

	go s.writeLoop(ctx)

	return s.readLoop(ctx, handler)
}

// readLoop handles incoming messages from the client
func (s *Session) readLoop(ctx context.Context, handler MessageHandler) error {
	defer s.Close()

	scanner := bufio.NewScanner(s.conn)
	scanner.Buffer(make([]byte, 4096), s.maxMessageSize)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		default:
		}

		if err := s.conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
			s.logger.WithError(err).Error("failed to set read deadline")
			return err
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				s.logger.WithError(err).Debug("scanner error")
				return err
			}
			// EOF - client disconnected
			s.logger.Info("client disconnected")
			return nil
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		s.logger.LogStratumMessage("received", string(line))

		req, err := ParseRequest(line)
		if err != nil {
			s.logger.WithError(err).Error("failed to parse message")
			if sendErr := s.SendError(nil, ErrorCodeGeneric, "Parse error"); sendErr != nil {
				s.logger.WithError(sendErr).Error("failed to send parse error")
			}
			continue
		}
		req.Received = s.clock.Now()

		handler.HandleMessage(ctx, s, req)
	}
}

// writeLoop handles outbound messages to the client
func (s *Session) writeLoop(ctx context.Context) {
	defer func() {
		if err := s.conn.Close(); err != nil {
			s.logger.Debug("failed to close connection", "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case data := <-s.outbound:
			if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
				s.logger.WithError(err).Error("failed to set write deadline")
				return
			}

			data = append(data, '\n')

			if _, err := s.conn.Write(data); err != nil {
				s.logger.WithError(err).Error("failed to write message")
				return
			}

			s.logger.LogStratumMessage("sent", string(data[:len(data)-1]))
		}
	}
}

// send enqueues an outbound frame without blocking the caller.
func (s *Session) send(v any) error {
	data, err := Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	select {
	case s.outbound <- data:
		return nil
	case <-s.done:
		return fmt.Errorf("session closed")
	default:
		return fmt.Errorf("outbound channel full")
	}
}

// SendResponse sends a success response.
func (s *Session) SendResponse(id any, result any) error {
	return s.send(NewResponse(id, result))
}

// SendError sends an error response.
func (s *Session) SendError(id any, code int, message string) error {
	return s.send(NewErrorResponse(id, code, message))
}

// SendJob pushes an unsolicited job notification.
func (s *Session) SendJob(job *JobParams) error {
	return s.send(NewJobNotification(job))
}

// Close closes the session
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.done:
		return // Already closed
	default:
		close(s.done)
		s.logger.LogConnection("disconnected", s.conn.RemoteAddr().String())
	}
}

// Closed reports whether the session has shut down.
func (s *Session) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// ID returns the stable connection identifier.
func (s *Session) ID() string {
	return s.id
}

// Port returns the listen port that accepted this connection.
func (s *Session) Port() int {
	return s.port
}

// RemoteAddr returns the remote address of the client connection.
func (s *Session) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}

// RemoteIP returns the remote address without the port.
func (s *Session) RemoteIP() string {
	if host, _, err := net.SplitHostPort(s.conn.RemoteAddr().String()); err == nil {
		return host
	}
	return s.conn.RemoteAddr().String()
}

// IsAuthorized returns whether the session has completed login.
func (s *Session) IsAuthorized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authorized
}

// Authorize records a successful login.
func (s *Session) Authorize(minerAddress, workerName, paymentID, userAgent string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authorized = true
	s.minerAddress = minerAddress
	s.workerName = workerName
	s.paymentID = paymentID
	s.userAgent = userAgent
}

// Miner returns the authorized miner address and worker name.
func (s *Session) Miner() (address, worker string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.minerAddress, s.workerName
}

// Difficulty returns the session's current difficulty.
func (s *Session) Difficulty() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.difficulty
}

// SetDifficulty sets the difficulty directly, marking it static when the
// miner pinned it via the password field.
func (s *Session) SetDifficulty(difficulty uint64, static bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.difficulty = difficulty
	s.staticDifficulty = static
	s.pendingDifficulty = 0
}

// HasStaticDifficulty reports whether vardiff is disabled for this session.
func (s *Session) HasStaticDifficulty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.staticDifficulty
}

// SetPendingDifficulty schedules a difficulty to apply at the next job mint.
func (s *Session) SetPendingDifficulty(difficulty uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.staticDifficulty {
		s.pendingDifficulty = difficulty
	}
}

// ApplyPendingDifficulty steps the difficulty at a job-mint boundary and
// returns the value to mint with.
func (s *Session) ApplyPendingDifficulty() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingDifficulty != 0 {
		s.difficulty = s.pendingDifficulty
		s.pendingDifficulty = 0
	}
	return s.difficulty
}

// NextExtraNonce allocates the session-scoped extra nonce for a job.
func (s *Session) NextExtraNonce() uint32 {
	return s.extraNonce.Add(1)
}

// TouchActivity updates the liveness timestamp.
func (s *Session) TouchActivity() {
	now := s.clock.Now()
	s.mu.Lock()
	s.lastActivity = now
	s.mu.Unlock()
}

// LastActivity returns the liveness timestamp.
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// RememberJob retains a minted job, evicting the oldest beyond capacity.
func (s *Session) RememberJob(job *jobs.WorkerJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recentJobs = append(s.recentJobs, job)
	if len(s.recentJobs) > recentJobCapacity {
		s.recentJobs = s.recentJobs[len(s.recentJobs)-recentJobCapacity:]
	}
}

// FindJob resolves a submitted job id against the retained jobs.
func (s *Session) FindJob(jobID string) (*jobs.WorkerJob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, job := range s.recentJobs {
		if job.ID == jobID {
			return job, true
		}
	}
	return nil, false
}

// RecordValidShare updates counters and the hashrate accumulator for an
// accepted share. The vardiff window is recorded separately by the handler,
// which knows the port's window size.
func (s *Session) RecordValidShare(difficulty uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.ValidShares++
	s.acceptedDiff += difficulty
}

// RecordInvalidShare updates counters for a rejected share.
func (s *Session) RecordInvalidShare() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.InvalidShares++
}

// Stats returns the share counters.
func (s *Session) Stats() SessionStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// VardiffWindow exposes the retarget window; callers hold no other session
// state while retargeting.
func (s *Session) VardiffWindow() *vardiff.Window {
	return &s.vardiffWindow
}

// Hashrate estimates the session's hashrate from accepted difficulty over
// the session lifetime.
func (s *Session) Hashrate() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	elapsed := s.clock.Now().Sub(s.statsSince).Seconds()
	if elapsed < 1 || s.acceptedDiff == 0 {
		return 0
	}
	return float64(s.acceptedDiff) / elapsed
}
