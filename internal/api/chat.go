package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/alphatech-ng/alphatech-site/internal/chat"
	"github.com/alphatech-ng/alphatech-site/internal/identity"
)

// ChatHandler exposes the tab's chat session over HTTP.
type ChatHandler struct {
	*Handler
	chats       *chat.Registry
	rateLimiter *RateLimiter
}

// NewChatHandler creates a chat handler. Submissions are limited per visitor.
func NewChatHandler(base *Handler, chats *chat.Registry, limiter *RateLimiter) *ChatHandler {
	return &ChatHandler{Handler: base, chats: chats, rateLimiter: limiter}
}

// RegisterRoutes registers chat routes.
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/chat", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Post("/open", h.Open)
		r.Put("/draft", h.SetDraft)
		r.Post("/messages", h.Submit)
	})
	r.Post("/api/tab/close", h.CloseTab)
}

type chatTextRequest struct {
	Text string `json:"text"`
}

func ids(r *http.Request) (string, string) {
	ctx := r.Context()
	return identity.VisitorIDFromContext(ctx), identity.SessionIDFromContext(ctx)
}

// Open starts a new, empty transcript for the tab.
func (h *ChatHandler) Open(w http.ResponseWriter, r *http.Request) {
	visitorID, sessionID := ids(r)
	JSON(w, http.StatusOK, h.chats.Open(visitorID, sessionID).Snapshot())
}

// Get returns the tab's chat state.
func (h *ChatHandler) Get(w http.ResponseWriter, r *http.Request) {
	visitorID, sessionID := ids(r)
	JSON(w, http.StatusOK, h.chats.GetOrOpen(visitorID, sessionID).Snapshot())
}

// SetDraft replaces the input buffer, as the quick-reply chips do.
func (h *ChatHandler) SetDraft(w http.ResponseWriter, r *http.Request) {
	var req chatTextRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	visitorID, sessionID := ids(r)
	sess := h.chats.GetOrOpen(visitorID, sessionID)
	sess.SetDraft(req.Text)
	JSON(w, http.StatusOK, sess.Snapshot())
}

// Submit sends a message and waits for the assistant turn. A blank message
// or one sent while a reply is pending is not accepted and changes nothing.
func (h *ChatHandler) Submit(w http.ResponseWriter, r *http.Request) {
	visitorID, sessionID := ids(r)

	// Rate-limit by visitor only (not visitor:session) so clients cannot
	// bypass throttling by rotating session IDs.
	if h.rateLimiter != nil && !h.rateLimiter.Allow(visitorID) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var req chatTextRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	sess := h.chats.GetOrOpen(visitorID, sessionID)
	accepted := sess.Submit(r.Context(), req.Text)
	if !accepted {
		slog.Debug("Chat submission ignored", "visitor_id", visitorID, "session_id", sessionID)
	}
	JSON(w, http.StatusOK, map[string]any{
		"accepted": accepted,
		"state":    sess.Snapshot(),
	})
}

// CloseTab unmounts the tab's view controller and drops its chat session.
// Clients call it from the page's unload beacon.
func (h *ChatHandler) CloseTab(w http.ResponseWriter, r *http.Request) {
	visitorID, sessionID := ids(r)
	h.views.Release(visitorID, sessionID)
	h.chats.Close(visitorID, sessionID)
	slog.Debug("Tab closed", "visitor_id", visitorID, "session_id", sessionID)
	w.WriteHeader(http.StatusNoContent)
}
