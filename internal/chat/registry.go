package chat

import (
	"log/slog"
	"sync"
	"time"

	"github.com/alphatech-ng/alphatech-site/internal/agent"
	"github.com/alphatech-ng/alphatech-site/internal/domain"
)

// Registry keeps one chat session per visitor tab.
type Registry struct {
	generator agent.Generator
	model     string
	timeout   time.Duration
	convLog   agent.ConversationLogger
	now       func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// Options configures a Registry.
type Options struct {
	Model          string
	RequestTimeout time.Duration
	Log            agent.ConversationLogger
}

// NewRegistry creates an empty registry.
func NewRegistry(generator agent.Generator, opts Options) *Registry {
	convLog := opts.Log
	if convLog == nil {
		convLog = agent.NoopConversationLogger()
	}
	return &Registry{
		generator: generator,
		model:     opts.Model,
		timeout:   opts.RequestTimeout,
		convLog:   convLog,
		now:       time.Now,
		sessions:  make(map[string]*Session),
	}
}

func key(visitorID, tabID string) string {
	return visitorID + ":" + tabID
}

func (r *Registry) newSession(visitorID, tabID string) *Session {
	return &Session{
		VisitorID:  visitorID,
		TabID:      tabID,
		generator:  r.generator,
		model:      r.model,
		timeout:    r.timeout,
		convLog:    r.convLog,
		now:        r.now,
		transcript: []domain.ChatTurn{},
		lastActive: r.now(),
		watchers:   make(map[uint64]func(State)),
	}
}

// Open starts a fresh, empty session for the tab, replacing any previous
// one. A reply still pending on the old session lands only in the old one.
func (r *Registry) Open(visitorID, tabID string) *Session {
	s := r.newSession(visitorID, tabID)
	r.mu.Lock()
	r.sessions[key(visitorID, tabID)] = s
	r.mu.Unlock()

	slog.Debug("Chat session opened", "visitor_id", visitorID, "session_id", tabID)
	return s
}

// Get returns the tab's session.
func (r *Registry) Get(visitorID, tabID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[key(visitorID, tabID)]
	return s, ok
}

// GetOrOpen returns the tab's session, opening one if needed.
func (r *Registry) GetOrOpen(visitorID, tabID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(visitorID, tabID)
	if s, ok := r.sessions[k]; ok {
		return s
	}
	s := r.newSession(visitorID, tabID)
	r.sessions[k] = s
	return s
}

// Close drops the tab's session.
func (r *Registry) Close(visitorID, tabID string) {
	r.mu.Lock()
	delete(r.sessions, key(visitorID, tabID))
	r.mu.Unlock()
}

// SweepIdle drops sessions idle longer than ttl. Sessions awaiting a reply
// or followed by a socket are kept.
func (r *Registry) SweepIdle(ttl time.Duration) int {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for k, s := range r.sessions {
		if s.idle(now, ttl) {
			delete(r.sessions, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

