package dispatcher

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/casegate/types"
)

// SessionMetrics receives the active session gauge.
type SessionMetrics interface {
	SetActiveSessions(n int)
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// MaxSessions caps concurrently open sessions. Zero means unlimited.
	MaxSessions int
	// IdleTimeout closes sessions with no activity for this long. Zero disables the sweeper.
	IdleTimeout time.Duration
	// SweepInterval is how often idle sessions are checked.
	SweepInterval time.Duration
}

// DefaultManagerConfig returns the default manager settings.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		MaxSessions:   1000,
		IdleTimeout:   30 * time.Minute,
		SweepInterval: time.Minute,
	}
}

// Manager owns the open sessions of a process. Each session is independent;
// the manager only tracks handles.
type Manager struct {
	config  ManagerConfig
	logger  *zap.Logger
	metrics SessionMetrics

	mu       sync.RWMutex
	sessions map[string]*Session

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewManager creates a Manager and starts the idle sweeper when configured.
func NewManager(config ManagerConfig, logger *zap.Logger, metrics SessionMetrics) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		config:   config,
		logger:   logger.With(zap.String("component", "session_manager")),
		metrics:  metrics,
		sessions: make(map[string]*Session),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	if config.IdleTimeout > 0 {
		interval := config.SweepInterval
		if interval <= 0 {
			interval = config.IdleTimeout / 2
		}
		go m.sweepLoop(interval)
	} else {
		close(m.done)
	}
	return m
}

// Open creates and registers a new session.
func (m *Manager) Open() (*Session, error) {
	m.mu.Lock()
	if m.config.MaxSessions > 0 && len(m.sessions) >= m.config.MaxSessions {
		m.mu.Unlock()
		return nil, types.NewError(types.ErrSessionLimit, "too many open sessions").WithRetryable(true)
	}
	s := NewSession(uuid.NewString())
	m.sessions[s.id] = s
	n := len(m.sessions)
	m.mu.Unlock()

	m.report(n)
	m.logger.Debug("session opened", zap.String("session_id", s.id))
	return s, nil
}

// Get returns the session with the given id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, types.NewError(types.ErrSessionNotFound, "session not found")
	}
	return s, nil
}

// Close ends a session and discards its state.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	n := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		return types.NewError(types.ErrSessionNotFound, "session not found")
	}
	s.close()
	m.report(n)
	m.logger.Debug("session closed", zap.String("session_id", id))
	return nil
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// List returns open sessions ordered by creation time.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].createdAt.Before(out[j].createdAt) })
	return out
}

// SweepIdle closes sessions idle since before now-IdleTimeout and returns how many were closed.
func (m *Manager) SweepIdle(now time.Time) int {
	if m.config.IdleTimeout <= 0 {
		return 0
	}
	cutoff := now.Add(-m.config.IdleTimeout)

	m.mu.Lock()
	var expired []*Session
	for id, s := range m.sessions {
		if s.LastActive().Before(cutoff) {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	n := len(m.sessions)
	m.mu.Unlock()

	for _, s := range expired {
		s.close()
	}
	if len(expired) > 0 {
		m.report(n)
		m.logger.Info("idle sessions closed", zap.Int("count", len(expired)))
	}
	return len(expired)
}

func (m *Manager) sweepLoop(interval time.Duration) {
	defer close(m.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case now := <-ticker.C:
			m.SweepIdle(now)
		}
	}
}

// Shutdown stops the sweeper and closes every session.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.stopOnce.Do(func() { close(m.stop) })

	select {
	case <-m.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
	m.report(0)
	m.logger.Info("session manager stopped", zap.Int("closed", len(sessions)))
	return nil
}

func (m *Manager) report(n int) {
	if m.metrics != nil {
		m.metrics.SetActiveSessions(n)
	}
}
