package api

import (
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/alphatech-ng/alphatech-site/internal/banner"
	"github.com/alphatech-ng/alphatech-site/internal/catalog"
	"github.com/alphatech-ng/alphatech-site/internal/domain"
	"github.com/alphatech-ng/alphatech-site/internal/identity"
)

// Lead form copy.
const (
	leadSuccessText = "Thank you for reaching out. An Alpha Tech representative will contact you shortly."
	leadFailureText = "Something went wrong. Please try again."
)

// SiteHandler serves the public catalog and lead capture.
type SiteHandler struct {
	*Handler
	catalog *catalog.Catalog
}

// NewSiteHandler creates a site handler.
func NewSiteHandler(base *Handler, cat *catalog.Catalog) *SiteHandler {
	return &SiteHandler{Handler: base, catalog: cat}
}

// RegisterRoutes registers site routes.
func (h *SiteHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/site", h.GetSite)
		r.Post("/leads", h.CreateLead)
	})
}

// GetSite returns the catalog.
func (h *SiteHandler) GetSite(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.catalog)
}

type leadRequest struct {
	Kind    domain.LeadKind `json:"kind"`
	Program string          `json:"program"`
	Name    string          `json:"name"`
	Email   string          `json:"email"`
	Phone   string          `json:"phone"`
	Message string          `json:"message"`
}

// CreateLead stores a contact or training-enrollment request.
func (h *SiteHandler) CreateLead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	visitorID := identity.VisitorIDFromContext(ctx)
	sessionID := identity.SessionIDFromContext(ctx)

	unlock, ok := h.forms.tryLock(visitorID, sessionID, banner.FormLead)
	if !ok {
		Error(w, http.StatusConflict, "submission_in_progress")
		return
	}
	defer unlock()

	var req leadRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	lead, status, msg := h.validateLead(req)
	if lead == nil {
		Error(w, status, msg)
		return
	}
	lead.VisitorID = visitorID

	sess := h.session(r)
	if err := h.repo.CreateLead(ctx, lead); err != nil {
		slog.Error("Failed to store lead", "visitor_id", visitorID, "kind", lead.Kind, "error", err)
		sess.Banners.Show(banner.FormLead, banner.KindError, leadFailureText)
		Error(w, http.StatusInternalServerError, leadFailureText)
		return
	}

	slog.Info("Lead captured", "visitor_id", visitorID, "kind", lead.Kind, "program", lead.Program)
	sess.Banners.Show(banner.FormLead, banner.KindSuccess, leadSuccessText)
	JSON(w, http.StatusCreated, map[string]any{
		"lead_id": lead.LeadID,
		"message": leadSuccessText,
	})
}

func (h *SiteHandler) validateLead(req leadRequest) (*domain.Lead, int, string) {
	lead := &domain.Lead{
		LeadID:    uuid.NewString(),
		Kind:      req.Kind,
		Name:      strings.TrimSpace(req.Name),
		Email:     strings.TrimSpace(req.Email),
		Phone:     strings.TrimSpace(req.Phone),
		CreatedAt: time.Now(),
	}

	switch req.Kind {
	case domain.LeadContact:
		lead.Message = strings.TrimSpace(req.Message)
	case domain.LeadTraining:
		if title := strings.TrimSpace(req.Program); title != "" {
			program, ok := h.catalog.Program(title)
			if !ok {
				return nil, http.StatusBadRequest, "unknown program"
			}
			if !program.Open() {
				return nil, http.StatusConflict, "program is not open for enrollment"
			}
			lead.Program = program.Title
		}
	default:
		return nil, http.StatusBadRequest, "kind must be contact or training"
	}

	if lead.Name == "" || lead.Email == "" || lead.Phone == "" {
		return nil, http.StatusBadRequest, "name, email and phone are required"
	}
	if _, err := mail.ParseAddress(lead.Email); err != nil {
		return nil, http.StatusBadRequest, "Invalid email address"
	}
	return lead, 0, ""
}
