package checkout

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RegistryConfig bounds the in-memory session store.
type RegistryConfig struct {
	// IdleTTL evicts sessions untouched for this long.
	IdleTTL time.Duration
	// MaxSessions caps the number of open sessions.
	MaxSessions int
	// CompletedTTL keeps completed sessions readable for this long.
	CompletedTTL time.Duration
}

// Registry owns the open checkout sessions of the process.
type Registry struct {
	deps Deps
	cfg  RegistryConfig
	lg   *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty Registry.
func NewRegistry(deps Deps, cfg RegistryConfig) *Registry {
	deps = deps.withDefaults()
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 30 * time.Minute
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 10_000
	}
	if cfg.CompletedTTL <= 0 {
		cfg.CompletedTTL = 5 * time.Minute
	}
	return &Registry{
		deps:     deps,
		cfg:      cfg,
		lg:       deps.Logger,
		sessions: make(map[string]*Session),
	}
}

// Create opens a new session and registers it.
func (r *Registry) Create(ctx context.Context, p Params) (*Session, error) {
	r.mu.Lock()
	if len(r.sessions) >= r.cfg.MaxSessions {
		r.evictLocked(r.deps.Now())
	}
	full := len(r.sessions) >= r.cfg.MaxSessions
	r.mu.Unlock()
	if full {
		return nil, ErrTooManySessions
	}

	s, err := Open(ctx, uuid.NewString(), r.deps, p)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sessions) >= r.cfg.MaxSessions {
		s.Close()
		return nil, ErrTooManySessions
	}
	r.sessions[s.ID()] = s
	return s, nil
}

// Get returns an open or recently completed session.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	s.touch()
	return s, nil
}

// Delete closes and removes a session.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	s.Close()
	return nil
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// EvictExpired removes idle sessions and completed sessions past their
// retention. It returns the number removed.
func (r *Registry) EvictExpired() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.evictLocked(r.deps.Now())
}

func (r *Registry) evictLocked(now time.Time) int {
	var n int
	for id, s := range r.sessions {
		ttl := r.cfg.IdleTTL
		select {
		case <-s.Done():
			ttl = r.cfg.CompletedTTL
		default:
		}
		if now.Sub(s.idleSince()) < ttl {
			continue
		}
		delete(r.sessions, id)
		s.Close()
		n++
	}
	if n > 0 {
		r.lg.Debug("Evicted checkout sessions", zap.Int("count", n))
	}
	return n
}

// StartEviction evicts expired sessions every interval until ctx is done.
func (r *Registry) StartEviction(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.EvictExpired()
			}
		}
	}()
}

// CloseAll closes every session. Used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
