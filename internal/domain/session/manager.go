package session

import (
	"sort"
	"sync"

	"github.com/GriffinCanCode/webmodder/internal/shared/id"
	"go.uber.org/zap"
)

// Gauge tracks the number of live sessions
type Gauge interface {
	SetSessions(n int)
}

// Manager owns the live preview sessions
type Manager struct {
	mu       sync.RWMutex
	sessions map[id.SessionID]*Controller // Protected by mu
	opts     Options
	gauge    Gauge
	logger   *zap.Logger
}

// NewManager creates a session manager. Every session it creates shares the
// collaborators in opts.
func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		sessions: make(map[id.SessionID]*Controller),
		opts:     opts,
		logger:   logger,
	}
}

// WithGauge adds live-session tracking to the manager
func (m *Manager) WithGauge(g Gauge) *Manager {
	m.gauge = g
	return m
}

// Create starts a new idle session
func (m *Manager) Create() *Controller {
	c := NewController(id.NewSessionID(), m.opts)

	m.mu.Lock()
	m.sessions[c.ID()] = c
	n := len(m.sessions)
	m.mu.Unlock()

	m.report(n)
	m.logger.Info("session created", zap.String("session", c.ID().String()))
	return c
}

// Get retrieves a session
func (m *Manager) Get(sid id.SessionID) (*Controller, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.sessions[sid]
	return c, ok
}

// List returns snapshots of every session in creation order
func (m *Manager) List() []Snapshot {
	m.mu.RLock()
	controllers := make([]*Controller, 0, len(m.sessions))
	for _, c := range m.sessions {
		controllers = append(controllers, c)
	}
	m.mu.RUnlock()

	// ULIDs sort by creation time.
	sort.Slice(controllers, func(i, j int) bool {
		return controllers[i].ID() < controllers[j].ID()
	})
	out := make([]Snapshot, len(controllers))
	for i, c := range controllers {
		out[i] = c.Snapshot()
	}
	return out
}

// Delete closes and removes a session
func (m *Manager) Delete(sid id.SessionID) bool {
	m.mu.Lock()
	c, ok := m.sessions[sid]
	delete(m.sessions, sid)
	n := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		return false
	}
	c.Close()
	m.report(n)
	m.logger.Info("session deleted", zap.String("session", sid.String()))
	return true
}

// Count returns the number of live sessions
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close closes every session
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[id.SessionID]*Controller)
	m.mu.Unlock()

	for _, c := range sessions {
		c.Close()
	}
	m.report(0)
}

func (m *Manager) report(n int) {
	if m.gauge != nil {
		m.gauge.SetSessions(n)
	}
}
