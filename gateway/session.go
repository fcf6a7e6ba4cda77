package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// State is the connection state of a Session.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	}
	return "unknown"
}

// ConnectionError reports a failed or timed out connection attempt. It is the
// only session-wide error; request-scoped failures never escalate to it.
type ConnectionError struct {
	Reason string
	Err    error
}

func (e *ConnectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gateway connection: %v: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("gateway connection: %v", e.Reason)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Request ids are allocated above the order-id floor the handshake reports,
// so locally issued request ids never collide with gateway-issued order ids.
const requestIDHeadroom = 10_000

// Session owns the lifecycle of the single gateway connection and issues
// monotonic request identifiers. Exactly one Session exists per process; no
// other component opens a connection.
type Session struct {
	logger         *zap.SugaredLogger
	gw             Gateway
	connectTimeout time.Duration

	mu        sync.Mutex
	unsub     UnsubscribeFunc
	state     atomic.Int32
	nextID    atomic.Int64
	accountMu sync.RWMutex
	accountID string
}

func NewSession(logger *zap.SugaredLogger, gw Gateway, connectTimeout time.Duration) *Session {
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	return &Session{
		logger:         logger.With("session", uuid.NewString()[:8]),
		gw:             gw,
		connectTimeout: connectTimeout,
	}
}

// Connect dials the gateway and waits for the identifier handshake that
// confirms readiness. On success it kicks off account discovery; the account
// id arrives asynchronously and consumers must tolerate it being absent.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if State(s.state.Load()) == StateConnected {
		return nil
	}
	s.state.Store(int32(StateConnecting))

	var ready = make(chan int64, 1)
	var unsub = s.gw.Events().Subscribe(func(ev any) {
		switch e := ev.(type) {
		case NextValidID:
			select {
			case ready <- e.ID:
			default:
			}
		case ManagedAccounts:
			if len(e.IDs) > 0 {
				s.setAccountID(e.IDs[0])
			}
		case Disconnected:
			s.state.Store(int32(StateDisconnected))
		}
	})
	s.unsub = unsub

	if err := s.gw.Connect(ctx); err != nil {
		s.failConnect(unsub)
		return &ConnectionError{Reason: "refused", Err: err}
	}
	if err := s.gw.RequestIDs(); err != nil {
		s.failConnect(unsub)
		return &ConnectionError{Reason: "handshake", Err: err}
	}

	var timer = time.NewTimer(s.connectTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		s.failConnect(unsub)
		return &ConnectionError{Reason: "cancelled", Err: ctx.Err()}
	case <-timer.C:
		s.failConnect(unsub)
		return &ConnectionError{Reason: "timeout waiting for gateway handshake"}
	case seed := <-ready:
		s.nextID.Store(seed + requestIDHeadroom)
		s.state.Store(int32(StateConnected))
		s.logger.Infow("gateway ready", "seed", seed)
	}

	if err := s.gw.RequestManagedAccounts(); err != nil {
		s.logger.Warnw("account discovery failed", "error", err)
	}
	return nil
}

func (s *Session) failConnect(unsub UnsubscribeFunc) {
	s.state.Store(int32(StateError))
	unsub()
	s.unsub = nil
	s.gw.Close()
}

// Close releases the connection. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unsub != nil {
		s.unsub()
		s.unsub = nil
	}
	if State(s.state.Load()) == StateDisconnected {
		return nil
	}
	s.state.Store(int32(StateDisconnected))
	return s.gw.Close()
}

// NextID returns a fresh monotonic request identifier. Identifiers are never
// reused within a session.
func (s *Session) NextID() int64 {
	return s.nextID.Add(1)
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setAccountID(id string) {
	s.accountMu.Lock()
	defer s.accountMu.Unlock()
	if s.accountID == "" {
		s.accountID = strings.TrimSpace(id)
		s.logger.Infow("account discovered", "account", s.accountID)
	}
}

// AccountID returns the discovered account identifier, if known yet.
func (s *Session) AccountID() (string, bool) {
	s.accountMu.RLock()
	defer s.accountMu.RUnlock()
	return s.accountID, s.accountID != ""
}

func (s *Session) Events() Subscriber {
	return s.gw.Events()
}

func (s *Session) Gateway() Gateway {
	return s.gw
}
