package handlers

import (
	"context"
	"net/http"

	"github.com/sadewadee/source-orchestrator/internal/service"
)

// HealthServiceInterface defines the health reporting methods
type HealthServiceInterface interface {
	Overall(ctx context.Context) *service.HealthReport
	Quick() *service.QuickReport
	Indexers(ctx context.Context) *service.IndexerReport
}

// HealthHandler handles health-related HTTP requests. Every endpoint answers
// 200; the verdict lives in the response body so load balancers and humans
// read the same payload.
type HealthHandler struct {
	health HealthServiceInterface
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(health HealthServiceInterface) *HealthHandler {
	return &HealthHandler{
		health: health,
	}
}

// Overall handles GET /health/
func (h *HealthHandler) Overall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		RenderError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	RenderJSON(w, http.StatusOK, h.health.Overall(r.Context()))
}

// Quick handles GET /health/quick
func (h *HealthHandler) Quick(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		RenderError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	RenderJSON(w, http.StatusOK, h.health.Quick())
}

// Indexers handles GET /health/indexers
func (h *HealthHandler) Indexers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		RenderError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	RenderJSON(w, http.StatusOK, h.health.Indexers(r.Context()))
}
