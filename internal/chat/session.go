// Package chat runs the assistant conversation of each visitor tab.
package chat

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alphatech-ng/alphatech-site/internal/agent"
	"github.com/alphatech-ng/alphatech-site/internal/domain"
)

// State is a copy of a session's observable state.
type State struct {
	Transcript       []domain.ChatTurn `json:"transcript"`
	AwaitingResponse bool              `json:"awaiting_response"`
	Draft            string            `json:"draft"`
}

// Session holds one in-memory transcript. At most one request is in flight.
type Session struct {
	VisitorID string
	TabID     string

	generator agent.Generator
	model     string
	timeout   time.Duration
	convLog   agent.ConversationLogger
	now       func() time.Time

	mu         sync.Mutex
	transcript []domain.ChatTurn
	awaiting   bool
	draft      string
	lastActive time.Time
	nextWID    uint64
	watchers   map[uint64]func(State)
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

// SetDraft replaces the input buffer.
func (s *Session) SetDraft(text string) {
	s.mu.Lock()
	s.draft = text
	s.lastActive = s.now()
	st, watchers := s.stateLocked(), s.watchersLocked()
	s.mu.Unlock()

	notify(watchers, st)
}

// Submit sends text to the assistant and records both turns. It returns
// false without doing anything when text is blank or a reply is still
// pending. Generation failures become a scripted assistant turn.
func (s *Session) Submit(ctx context.Context, text string) bool {
	s.mu.Lock()
	if strings.TrimSpace(text) == "" || s.awaiting {
		s.mu.Unlock()
		return false
	}
	s.transcript = append(s.transcript, domain.ChatTurn{Role: domain.ChatRoleUser, Text: text})
	s.awaiting = true
	s.draft = ""
	s.lastActive = s.now()
	st, watchers := s.stateLocked(), s.watchersLocked()
	s.mu.Unlock()

	notify(watchers, st)
	s.logTurn("outbound", "chat_user_message", text, nil)

	reply := s.generate(ctx, text)

	s.mu.Lock()
	s.transcript = append(s.transcript, domain.ChatTurn{Role: domain.ChatRoleAssistant, Text: reply})
	s.awaiting = false
	s.lastActive = s.now()
	st, watchers = s.stateLocked(), s.watchersLocked()
	s.mu.Unlock()

	notify(watchers, st)
	return true
}

// generate never returns an error; the request outlives ctx's cancellation
// and is bounded only by the configured timeout.
func (s *Session) generate(ctx context.Context, prompt string) string {
	genCtx := context.WithoutCancel(ctx)
	if s.timeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(genCtx, s.timeout)
		defer cancel()
	}

	started := s.now()
	resp, err := s.generator.Generate(genCtx, agent.GenerateRequest{
		Model:             s.model,
		Prompt:            prompt,
		SystemInstruction: SystemInstruction,
	})
	elapsed := s.now().Sub(started)

	if err != nil {
		slog.Error("Chat generation failed",
			"visitor_id", s.VisitorID,
			"session_id", s.TabID,
			"error", err,
		)
		s.logTurn("inbound", "chat_assistant_message", FailureFallback, map[string]any{
			"fallback":    "failure",
			"error":       err.Error(),
			"duration_ms": elapsed.Milliseconds(),
		})
		return FailureFallback
	}

	if resp == nil || resp.Text == "" {
		s.logTurn("inbound", "chat_assistant_message", EmptyReplyFallback, map[string]any{
			"fallback":    "empty",
			"duration_ms": elapsed.Milliseconds(),
		})
		return EmptyReplyFallback
	}

	s.logTurn("inbound", "chat_assistant_message", resp.Text, map[string]any{
		"duration_ms": elapsed.Milliseconds(),
	})
	return resp.Text
}

// Watch calls fn with a new state after every change. A watched session is
// never swept; the idle clock restarts when the last watcher stops.
func (s *Session) Watch(fn func(State)) (stop func()) {
	s.mu.Lock()
	s.nextWID++
	id := s.nextWID
	s.watchers[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watchers, id)
			s.lastActive = s.now()
			s.mu.Unlock()
		})
	}
}

func (s *Session) idle(now time.Time, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.awaiting && len(s.watchers) == 0 && now.Sub(s.lastActive) > ttl
}

func (s *Session) stateLocked() State {
	return State{
		Transcript:       append([]domain.ChatTurn{}, s.transcript...),
		AwaitingResponse: s.awaiting,
		Draft:            s.draft,
	}
}

func (s *Session) watchersLocked() []func(State) {
	out := make([]func(State), 0, len(s.watchers))
	for _, fn := range s.watchers {
		out = append(out, fn)
	}
	return out
}

func (s *Session) logTurn(direction, eventType, text string, meta map[string]any) {
	s.convLog.Log(agent.ConversationLogEvent{
		UserID:     s.VisitorID,
		SessionID:  s.TabID,
		Channel:    "chat",
		Direction:  direction,
		EventType:  eventType,
		ContentRaw: text,
		Meta:       meta,
	})
}

func notify(watchers []func(State), st State) {
	for _, fn := range watchers {
		fn(st)
	}
}
