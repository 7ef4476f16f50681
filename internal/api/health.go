package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/alphatech-ng/alphatech-site/internal/config"
	"github.com/alphatech-ng/alphatech-site/internal/store"
)

// GenerationHealth reports the text-generation backend's health.
type GenerationHealth interface {
	Health(ctx context.Context) error
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	repo       store.Repository
	generation GenerationHealth
	cfg        *config.Config
}

// NewHealthHandler creates a new health handler. generation may be nil.
func NewHealthHandler(repo store.Repository, generation GenerationHealth, cfg *config.Config) *HealthHandler {
	return &HealthHandler{repo: repo, generation: generation, cfg: cfg}
}

// Health returns the health status of the API and its dependencies. A failing
// generation backend only degrades chat, so it does not fail the check.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	healthCheckTimeout := 5 * time.Second
	if h.cfg != nil {
		healthCheckTimeout = h.cfg.Timeout.HealthCheck
	}
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := "healthy"
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status = "degraded"
		checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	if h.generation != nil {
		if err := h.generation.Health(ctx); err != nil {
			slog.Warn("Generation health check failed", "error", err)
			checks["generation"] = "unavailable"
			status = "degraded"
		} else {
			checks["generation"] = "ok"
		}
	}

	JSON(w, statusCode, map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}
