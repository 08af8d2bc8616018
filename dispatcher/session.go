package dispatcher

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/BaSui01/casegate/session"
)

// Session is one conversation's handle. Its state is reachable only through
// Dispatcher operations, which hold mu for their whole duration.
type Session struct {
	id         string
	createdAt  time.Time
	lastActive atomic.Int64

	mu     sync.Mutex
	state  session.State
	closed bool
}

// NewSession creates a session handle with a fresh state.
func NewSession(id string) *Session {
	now := time.Now()
	s := &Session{id: id, createdAt: now}
	s.lastActive.Store(now.UnixNano())
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// CreatedAt returns when the session was opened.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// LastActive returns the time of the last operation.
func (s *Session) LastActive() time.Time { return time.Unix(0, s.lastActive.Load()) }

// Snapshot returns a read-only view of the session state.
func (s *Session) Snapshot() session.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Snapshot()
}

// Closed reports whether the session was ended.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// close discards the state; later operations are refused.
func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.state = session.State{}
}

func (s *Session) touch(now time.Time) {
	s.lastActive.Store(now.UnixNano())
}
