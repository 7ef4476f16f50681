// Package api provides HTTP handlers for the site API.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/alphatech-ng/alphatech-site/internal/config"
	"github.com/alphatech-ng/alphatech-site/internal/identity"
	"github.com/alphatech-ng/alphatech-site/internal/store"
	"github.com/alphatech-ng/alphatech-site/internal/view"
)

const defaultMaxRequestBodySize = 1 << 20

// Handler provides common handler utilities.
type Handler struct {
	repo     store.Repository
	profiles store.ProfileStore
	views    *view.Registry
	forms    *formGuard
	cfg      *config.Config
}

// NewHandler creates a new Handler with common dependencies. profiles may
// differ from repo when profile documents live in another backend.
func NewHandler(repo store.Repository, profiles store.ProfileStore, views *view.Registry, cfg *config.Config) *Handler {
	if profiles == nil {
		profiles = repo
	}
	return &Handler{
		repo:     repo,
		profiles: profiles,
		views:    views,
		forms:    &formGuard{},
		cfg:      cfg,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// session returns the calling tab's mounted view session.
func (h *Handler) session(r *http.Request) *view.Session {
	ctx := r.Context()
	return h.views.Acquire(ctx, identity.VisitorIDFromContext(ctx), identity.SessionIDFromContext(ctx))
}

// decodeJSON reads a size-limited JSON body into v and writes the error
// response itself when decoding fails.
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	maxBodySize := int64(defaultMaxRequestBodySize)
	if h.cfg != nil && h.cfg.SSE.MaxRequestBodySize > 0 {
		maxBodySize = h.cfg.SSE.MaxRequestBodySize
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// viewResponse is the body returned by every view-changing endpoint.
type viewResponse struct {
	View    view.Snapshot `json:"view"`
	Banners any           `json:"banners"`
}

func viewState(s *view.Session) viewResponse {
	return viewResponse{View: s.View.Snapshot(), Banners: s.Banners.All()}
}
