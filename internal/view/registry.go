package view

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alphatech-ng/alphatech-site/internal/banner"
	"github.com/alphatech-ng/alphatech-site/internal/domain"
)

// SessionStore is the part of the session store a tab controller needs.
type SessionStore interface {
	SignOuter
	Subscribe(ctx context.Context, visitorID string, fn func(domain.Identity)) (unsubscribe func())
}

// Session is the mounted view state of one visitor tab.
type Session struct {
	VisitorID string
	TabID     string
	View      *Controller
	Banners   *banner.Board

	unsubscribe func()
	now         func() time.Time

	mu       sync.Mutex
	lastSeen time.Time
	streams  int
}

// Touch marks the session as active.
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

// Attach records an open event stream. The returned function detaches it.
func (s *Session) Attach(now time.Time) (detach func()) {
	s.mu.Lock()
	s.streams++
	s.lastSeen = now
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.streams--
			s.lastSeen = s.now()
			s.mu.Unlock()
		})
	}
}

func (s *Session) idle(now time.Time, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streams == 0 && now.Sub(s.lastSeen) > ttl
}

func (s *Session) unmount() {
	s.unsubscribe()
	s.Banners.Close()
}

// Registry mounts one Session per visitor tab. Mounting subscribes the tab's
// controller to identity changes; unmounting always unsubscribes.
type Registry struct {
	store       SessionStore
	bannerDelay time.Duration
	bannerOpts  []banner.Option
	now         func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry(store SessionStore, bannerDelay time.Duration, bannerOpts ...banner.Option) *Registry {
	return &Registry{
		store:       store,
		bannerDelay: bannerDelay,
		bannerOpts:  bannerOpts,
		now:         time.Now,
		sessions:    make(map[string]*Session),
	}
}

func sessionKey(visitorID, tabID string) string {
	return visitorID + ":" + tabID
}

// Acquire returns the tab's session, mounting it on first use.
func (r *Registry) Acquire(ctx context.Context, visitorID, tabID string) *Session {
	key := sessionKey(visitorID, tabID)

	r.mu.Lock()
	if s, ok := r.sessions[key]; ok {
		r.mu.Unlock()
		s.Touch(r.now())
		return s
	}
	r.mu.Unlock()

	s := &Session{
		VisitorID: visitorID,
		TabID:     tabID,
		View:      NewController(visitorID, r.store),
		Banners:   banner.NewBoard(r.bannerDelay, r.bannerOpts...),
		now:       r.now,
		lastSeen:  r.now(),
	}
	s.unsubscribe = r.store.Subscribe(ctx, visitorID, s.View.OnIdentityChanged)

	r.mu.Lock()
	if existing, ok := r.sessions[key]; ok {
		r.mu.Unlock()
		s.unmount()
		existing.Touch(r.now())
		return existing
	}
	r.sessions[key] = s
	r.mu.Unlock()

	slog.Debug("View session mounted", "visitor_id", visitorID, "session_id", tabID)
	return s
}

// Get returns a mounted session without creating one.
func (r *Registry) Get(visitorID, tabID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionKey(visitorID, tabID)]
	return s, ok
}

// Release unmounts a session.
func (r *Registry) Release(visitorID, tabID string) {
	key := sessionKey(visitorID, tabID)
	r.mu.Lock()
	s, ok := r.sessions[key]
	delete(r.sessions, key)
	r.mu.Unlock()

	if ok {
		s.unmount()
	}
}

// SweepIdle unmounts sessions without an open stream that have been idle
// longer than ttl. It returns the number unmounted.
func (r *Registry) SweepIdle(ttl time.Duration) int {
	now := r.now()

	r.mu.Lock()
	var idle []*Session
	for key, s := range r.sessions {
		if s.idle(now, ttl) {
			idle = append(idle, s)
			delete(r.sessions, key)
		}
	}
	r.mu.Unlock()

	for _, s := range idle {
		s.unmount()
	}
	return len(idle)
}

// Len returns the number of mounted sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close unmounts every session.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.unmount()
	}
}
