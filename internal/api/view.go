package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/alphatech-ng/alphatech-site/internal/banner"
	"github.com/alphatech-ng/alphatech-site/internal/identity"
	"github.com/alphatech-ng/alphatech-site/internal/view"
)

// ViewHandler exposes the tab's view-routing controller.
type ViewHandler struct {
	*Handler
}

// NewViewHandler creates a view handler.
func NewViewHandler(base *Handler) *ViewHandler {
	return &ViewHandler{Handler: base}
}

// RegisterRoutes registers view routes.
func (h *ViewHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/view", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Get("/stream", h.Stream)
		r.Post("/admin", h.action(func(s *view.Session, _ *http.Request) { s.View.RequestAdminArea() }))
		r.Post("/login", h.action(func(s *view.Session, _ *http.Request) { s.View.RequestUserLogin() }))
		r.Post("/register", h.action(func(s *view.Session, _ *http.Request) { s.View.ShowRegistration() }))
		r.Post("/logout", h.action(func(s *view.Session, r *http.Request) { s.View.RequestLogout(r.Context()) }))
		r.Delete("/banners/{form}", h.DismissBanner)
	})
}

// Get returns the tab's current view and banners.
func (h *ViewHandler) Get(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, viewState(h.session(r)))
}

func (h *ViewHandler) action(apply func(*view.Session, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := h.session(r)
		apply(sess, r)
		JSON(w, http.StatusOK, viewState(sess))
	}
}

// DismissBanner removes a banner before its timer fires.
func (h *ViewHandler) DismissBanner(w http.ResponseWriter, r *http.Request) {
	form := chi.URLParam(r, "form")
	switch form {
	case banner.FormRegister, banner.FormUserLogin, banner.FormAdminLogin, banner.FormLead:
	default:
		Error(w, http.StatusBadRequest, "unknown form")
		return
	}
	if !h.session(r).Banners.Dismiss(form) {
		Error(w, http.StatusNotFound, "no banner")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Stream pushes the tab's view state over SSE whenever it changes.
// Changes are coalesced: each event carries the latest state.
func (h *ViewHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	visitorID := identity.VisitorIDFromContext(ctx)
	sessionID := identity.SessionIDFromContext(ctx)

	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	sess := h.session(r)
	detach := sess.Attach(time.Now())
	defer detach()

	dirty := make(chan struct{}, 1)
	signal := func() {
		select {
		case dirty <- struct{}{}:
		default:
		}
	}
	stopView := sess.View.Watch(func(view.Snapshot) { signal() })
	defer stopView()
	stopBanners := sess.Banners.Watch(func([]banner.Banner) { signal() })
	defer stopBanners()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	retryDelay := 5 * time.Second
	keepaliveInterval := 10 * time.Second
	if h.cfg != nil {
		retryDelay = h.cfg.SSE.RetryDelay
		keepaliveInterval = h.cfg.SSE.KeepaliveInterval
	}
	if _, err := fmt.Fprintf(w, "retry: %d\n\n", retryDelay.Milliseconds()); err != nil {
		slog.Warn("failed to write SSE retry header", "error", err, "visitor_id", visitorID)
		return
	}

	var eventID int64
	send := func(event string) bool {
		data, err := json.Marshal(viewState(sess))
		if err != nil {
			slog.Warn("failed to marshal view state", "error", err)
			return false
		}
		eventID++
		if err := writeSSEWithID(w, eventID, event, string(data)); err != nil {
			slog.Warn("failed to write SSE event", "error", err, "visitor_id", visitorID)
			return false
		}
		flusher.Flush()
		return true
	}

	if !send("connected") {
		return
	}
	slog.Info("View stream connected", "visitor_id", visitorID, "session_id", sessionID)

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("View stream disconnected", "visitor_id", visitorID, "session_id", sessionID)
			return
		case <-dirty:
			if !send("view") {
				return
			}
		case <-keepalive.C:
			if err := writeSSE(w, "ping", `{"status":"alive"}`); err != nil {
				slog.Warn("failed to write SSE keepalive ping", "error", err, "visitor_id", visitorID)
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func writeSSEWithID(w io.Writer, id int64, event, data string) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data)
	return err
}
