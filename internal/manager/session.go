package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog"

	"chatd/internal/llm"
)

// Session binds engine execution state to one model handle. At most one
// request executes against the handle at a time; the gate enforcing that
// lives on the Handle so it survives session expiry and replacement.
type Session struct {
	Path   string
	handle *Handle
	llm    llm.Session

	mu       sync.Mutex
	inflight bool
	jobs     int
	retired  bool
	closed   bool
	log      zerolog.Logger
}

func newSession(h *Handle, ls llm.Session, log zerolog.Logger) *Session {
	return &Session{
		Path:   h.Path,
		handle: h,
		llm:    ls,
		log:    log,
	}
}

// acquire waits for the handle's execution slot and marks the session busy.
// Returns a release func to be deferred.
func (s *Session) acquire(ctx context.Context, nonBlocking bool, maxWait time.Duration) (func(), error) {
	leave, err := s.handle.gate.enter(ctx, nonBlocking, maxWait)
	if err != nil {
		return func() {}, err
	}
	s.mu.Lock()
	s.inflight = true
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.inflight = false
			s.closeIfIdleLocked()
			s.mu.Unlock()
			leave()
		})
	}, nil
}

func (s *Session) beginJob() {
	s.mu.Lock()
	s.jobs++
	s.mu.Unlock()
}

func (s *Session) endJob() {
	s.mu.Lock()
	s.jobs--
	s.closeIfIdleLocked()
	s.mu.Unlock()
}

// retire marks the session unusable. The engine session is closed once no
// request holds the slot and no job is still running on it.
func (s *Session) retire() {
	s.mu.Lock()
	s.retired = true
	s.closeIfIdleLocked()
	s.mu.Unlock()
}

func (s *Session) isRetired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retired
}

func (s *Session) closeIfIdleLocked() {
	if !s.retired || s.closed || s.inflight || s.jobs > 0 {
		return
	}
	s.closed = true
	if err := s.llm.Close(); err != nil {
		s.log.Error().Err(err).Str("path", s.Path).Msg("close session")
	}
}

// SessionManager creates, reuses and expires one Session per model path.
type SessionManager struct {
	mu       sync.Mutex
	cache    *ttlcache.Cache[string, *Session]
	log      zerolog.Logger
	stopOnce sync.Once
}

// NewSessionManager starts the expiry loop; call Close to stop it.
func NewSessionManager(cfg ManagerConfig) *SessionManager {
	cfg = cfg.withDefaults()
	c := ttlcache.New[string, *Session](
		ttlcache.WithTTL[string, *Session](cfg.SessionTTL),
	)
	sm := &SessionManager{
		cache: c,
		log:   cfg.Logger.With().Str("component", "sessions").Logger(),
	}
	c.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *Session]) {
		s := item.Value()
		if reason == ttlcache.EvictionReasonExpired {
			sm.log.Debug().Str("path", s.Path).Msg("session expired")
		}
		s.retire()
	})
	go c.Start()
	return sm
}

// SessionFor returns the live session bound to h, creating one if absent or
// if the cached one belongs to an evicted handle.
func (sm *SessionManager) SessionFor(h *Handle) (*Session, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if it := sm.cache.Get(h.Path); it != nil {
		s := it.Value()
		if s.handle == h && !s.isRetired() {
			return s, nil
		}
		sm.cache.Delete(h.Path)
	}
	ls, err := h.Model().NewSession()
	if err != nil {
		return nil, ErrInference(h.Path, fmt.Errorf("new session: %w", err))
	}
	s := newSession(h, ls, sm.log)
	sm.cache.Set(h.Path, s, ttlcache.DefaultTTL)
	return s, nil
}

// Drop retires s and forgets it if it is still the cached session for its path.
func (sm *SessionManager) Drop(s *Session) {
	sm.mu.Lock()
	if it := sm.cache.Get(s.Path, ttlcache.WithDisableTouchOnHit[string, *Session]()); it != nil && it.Value() == s {
		sm.cache.Delete(s.Path)
	}
	sm.mu.Unlock()
	s.retire()
}

// DropHandle retires the session bound to an evicted handle.
func (sm *SessionManager) DropHandle(h *Handle) {
	sm.mu.Lock()
	it := sm.cache.Get(h.Path, ttlcache.WithDisableTouchOnHit[string, *Session]())
	sm.mu.Unlock()
	if it != nil && it.Value().handle == h {
		sm.Drop(it.Value())
	}
}

// Len returns the number of live sessions.
func (sm *SessionManager) Len() int { return sm.cache.Len() }

// Close stops expiry and retires every session.
func (sm *SessionManager) Close() {
	sm.stopOnce.Do(func() {
		sm.cache.Stop()
		for _, it := range sm.cache.Items() {
			it.Value().retire()
		}
		sm.cache.DeleteAll()
	})
}
