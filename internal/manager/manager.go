package manager

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chatd/internal/llm"
)

// Manager wires the registry, session manager and worker pool behind Handle.
type Manager struct {
	cfg      ManagerConfig
	log      zerolog.Logger
	pub      EventPublisher
	registry *Registry
	sessions *SessionManager
	pool     *Pool
	started  time.Time

	mu      sync.RWMutex
	lastErr string
	closed  bool
}

// New returns a manager over engine with default settings.
func New(engine llm.Engine) *Manager {
	return NewWithConfig(ManagerConfig{Engine: engine})
}

// NewWithConfig applies defaults to cfg and starts the session expiry loop.
// Call Close to release it.
func NewWithConfig(cfg ManagerConfig) *Manager {
	cfg = cfg.withDefaults()
	m := &Manager{
		cfg:      cfg,
		log:      cfg.Logger.With().Str("component", "manager").Logger(),
		pub:      cfg.Publisher,
		registry: NewRegistry(cfg),
		sessions: NewSessionManager(cfg),
		pool:     NewPool(cfg.Workers, *cfg.Logger),
		started:  time.Now(),
	}
	// Sessions never outlive the handle they were created from.
	m.registry.OnEvict(m.sessions.DropHandle)
	return m
}

// Registry exposes the model registry.
func (m *Manager) Registry() *Registry { return m.registry }

// Ready reports whether the manager accepts requests.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.closed
}

// Close waits for running jobs, retires sessions and unloads idle models.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()
	m.pool.Close()
	m.sessions.Close()
	return m.registry.Close()
}

func (m *Manager) setLastErr(err error) {
	m.mu.Lock()
	m.lastErr = err.Error()
	m.mu.Unlock()
}
