package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/sadewadee/source-orchestrator/internal/domain"
	"github.com/sadewadee/source-orchestrator/internal/service"
)

// ProviderServiceInterface defines the provider catalog service methods
type ProviderServiceInterface interface {
	List(ctx context.Context) []service.ProviderInfo
	Get(ctx context.Context, id string) (*service.ProviderInfo, error)
	Update(ctx context.Context, id string, req service.UpdateProviderRequest) (*service.ProviderInfo, error)
	Test(ctx context.Context, id string) (*domain.ProviderHealthStatus, error)
	Limits(ctx context.Context, id string) (*domain.RateLimitStats, error)
}

// HistoryServiceInterface defines the health history lookup
type HistoryServiceInterface interface {
	History(ctx context.Context, providerID string, limit int) ([]*domain.HealthCheck, error)
}

// ProviderHandler handles provider-related HTTP requests
type ProviderHandler struct {
	providers ProviderServiceInterface
	history   HistoryServiceInterface
}

// NewProviderHandler creates a new ProviderHandler
func NewProviderHandler(providers ProviderServiceInterface, history HistoryServiceInterface) *ProviderHandler {
	return &ProviderHandler{
		providers: providers,
		history:   history,
	}
}

// List handles GET /api/v1/providers
func (h *ProviderHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		RenderError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	providers := h.providers.List(r.Context())
	RenderJSON(w, http.StatusOK, NewListResponse(providers, len(providers)))
}

// Get handles GET /api/v1/providers/{id}
func (h *ProviderHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		RenderError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	info, err := h.providers.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, service.ErrProviderNotFound) {
			RenderError(w, http.StatusNotFound, "Provider not found")
		} else {
			RenderError(w, http.StatusInternalServerError, "Failed to get provider: "+err.Error())
		}
		return
	}

	RenderJSON(w, http.StatusOK, info)
}

// Update handles PATCH /api/v1/providers/{id}
func (h *ProviderHandler) Update(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch {
		RenderError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req service.UpdateProviderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RenderError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	info, err := h.providers.Update(r.Context(), r.PathValue("id"), req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrProviderNotFound):
			RenderError(w, http.StatusNotFound, "Provider not found")
		case errors.Is(err, service.ErrEmptyUpdate),
			errors.Is(err, service.ErrInvalidTier),
			errors.Is(err, service.ErrInvalidInterval):
			RenderError(w, http.StatusBadRequest, err.Error())
		default:
			RenderError(w, http.StatusInternalServerError, "Failed to update provider: "+err.Error())
		}
		return
	}

	RenderJSON(w, http.StatusOK, info)
}

// Test handles POST /api/v1/providers/{id}/test
func (h *ProviderHandler) Test(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		RenderError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	status, err := h.providers.Test(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, service.ErrProviderNotFound) {
			RenderError(w, http.StatusNotFound, "Provider not found")
		} else {
			RenderError(w, http.StatusInternalServerError, "Failed to test provider: "+err.Error())
		}
		return
	}

	RenderJSON(w, http.StatusOK, status)
}

// Limits handles GET /api/v1/providers/{id}/limits
func (h *ProviderHandler) Limits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		RenderError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	stats, err := h.providers.Limits(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, service.ErrProviderNotFound) {
			RenderError(w, http.StatusNotFound, "Provider not found")
		} else {
			RenderError(w, http.StatusInternalServerError, "Failed to get limits: "+err.Error())
		}
		return
	}

	RenderJSON(w, http.StatusOK, stats)
}

// History handles GET /api/v1/providers/{id}/history
func (h *ProviderHandler) History(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		RenderError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 500 {
		limit = 50
	}

	checks, err := h.history.History(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		if errors.Is(err, service.ErrProviderNotFound) {
			RenderError(w, http.StatusNotFound, "Provider not found")
		} else {
			RenderError(w, http.StatusInternalServerError, "Failed to get history: "+err.Error())
		}
		return
	}

	RenderJSON(w, http.StatusOK, NewListResponse(checks, len(checks)))
}
