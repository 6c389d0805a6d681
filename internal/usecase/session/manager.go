package session

import (
	"fmt"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kailas-cloud/kgbrowse/internal/domain"
)

// DefaultMaxSessions bounds the number of live tabs kept in memory.
const DefaultMaxSessions = 10000

// Factory builds the session with the given id for a browser.
type Factory func(id, browserID string) (*Session, error)

// Manager owns the live sessions. The least recently used one is dropped
// when the bound is reached.
type Manager struct {
	factory  Factory
	sessions *lru.Cache[string, *Session]
	active   prometheus.Gauge
}

// NewManager creates a manager holding at most maxSessions sessions.
// active, if non-nil, tracks the number of live sessions.
func NewManager(maxSessions int, factory Factory, active prometheus.Gauge) (*Manager, error) {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	m := &Manager{factory: factory, active: active}
	sessions, err := lru.NewWithEvict(maxSessions, m.evicted)
	if err != nil {
		return nil, fmt.Errorf("create session cache: %w", err)
	}
	m.sessions = sessions
	return m, nil
}

func (m *Manager) evicted(_ string, _ *Session) {
	if m.active != nil {
		m.active.Dec()
	}
}

// Create starts tracking a new session for browserID.
func (m *Manager) Create(browserID string) (*Session, error) {
	id := uuid.NewString()
	s, err := m.factory(id, browserID)
	if err != nil {
		return nil, fmt.Errorf("build session: %w", err)
	}
	m.sessions.Add(id, s)
	if m.active != nil {
		m.active.Inc()
	}
	return s, nil
}

// Get returns the session with the given id.
func (m *Manager) Get(id string) (*Session, error) {
	s, ok := m.sessions.Get(id)
	if !ok {
		return nil, fmt.Errorf("session %q: %w", id, domain.ErrSessionNotFound)
	}
	return s, nil
}

// ByLoginState returns the session whose pending login carries state.
func (m *Manager) ByLoginState(state string) (*Session, error) {
	if state != "" {
		for _, s := range m.sessions.Values() {
			if s.LoginState() == state {
				m.sessions.Get(s.ID())
				return s, nil
			}
		}
	}
	return nil, fmt.Errorf("login state: %w", domain.ErrSessionNotFound)
}

// Remove drops a session, e.g. when its tab is closed.
func (m *Manager) Remove(id string) {
	m.sessions.Remove(id)
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	return m.sessions.Len()
}
