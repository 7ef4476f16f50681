package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/alphatech-ng/alphatech-site/internal/domain"
)

// notAvailable replaces profile fields that could not be loaded.
const notAvailable = "Not available"

// ProfileHandler serves the user profile and the admin registrations list.
type ProfileHandler struct {
	*Handler
}

// NewProfileHandler creates a profile handler.
func NewProfileHandler(base *Handler) *ProfileHandler {
	return &ProfileHandler{Handler: base}
}

// RegisterRoutes registers profile routes.
func (h *ProfileHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/profile", h.GetProfile)
	r.Get("/api/admin/registrations", h.ListRegistrations)
}

type profileResponse struct {
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	CreatedAt string `json:"created_at"`
	Available bool   `json:"available"`
}

// GetProfile returns the signed-in user's profile while the profile screen
// is active. A failed or missing profile renders as placeholders.
func (h *ProfileHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	snap := h.session(r).View.Snapshot()
	if snap.Screen != domain.ScreenUserProfile {
		Error(w, http.StatusForbidden, "profile screen is not active")
		return
	}

	resp := profileResponse{
		UserID:    snap.Identity.ID,
		Name:      notAvailable,
		Email:     snap.Identity.Email,
		CreatedAt: notAvailable,
	}
	if resp.Email == "" {
		resp.Email = notAvailable
	}

	profile, err := h.profiles.ReadProfile(r.Context(), snap.Identity.ID)
	switch {
	case err != nil:
		slog.Error("Failed to read profile", "user_id", snap.Identity.ID, "error", err)
	case profile != nil:
		resp.Available = true
		if profile.Name != "" {
			resp.Name = profile.Name
		}
		if profile.CreatedAt != "" {
			resp.CreatedAt = profile.CreatedAt
		}
	}
	JSON(w, http.StatusOK, resp)
}

// ListRegistrations returns every profile while the admin dashboard is active.
func (h *ProfileHandler) ListRegistrations(w http.ResponseWriter, r *http.Request) {
	if h.session(r).View.Screen() != domain.ScreenAdminDashboard {
		Error(w, http.StatusForbidden, "admin dashboard is not active")
		return
	}

	profiles, err := h.profiles.ListAllProfiles(r.Context())
	if err != nil {
		slog.Error("Failed to list profiles", "error", err)
		Error(w, http.StatusInternalServerError, "failed to load registrations")
		return
	}
	if profiles == nil {
		profiles = []*domain.Profile{}
	}
	JSON(w, http.StatusOK, map[string]any{
		"registrations": profiles,
		"total":         len(profiles),
	})
}
