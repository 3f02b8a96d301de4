package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sadewadee/source-orchestrator/internal/domain"
	"github.com/sadewadee/source-orchestrator/internal/proxypool"
	"github.com/sadewadee/source-orchestrator/internal/service"
)

// ProxyServiceInterface defines the proxy pool service methods
type ProxyServiceInterface interface {
	List(ctx context.Context, providerID string) ([]proxypool.ProxyStatus, error)
	Add(ctx context.Context, providerID string, cfg domain.ProxyConfig) (*domain.ProxyEndpoint, error)
	Remove(ctx context.Context, providerID, proxyID string) error
	Reactivate(ctx context.Context, providerID, proxyID string) error
	SetStrategy(ctx context.Context, providerID string, strategy domain.SelectionStrategy) error
	Strategy(ctx context.Context, providerID string) (domain.SelectionStrategy, error)
}

// ProxyHandler handles proxy pool HTTP requests
type ProxyHandler struct {
	proxies ProxyServiceInterface
}

// NewProxyHandler creates a new ProxyHandler
func NewProxyHandler(proxies ProxyServiceInterface) *ProxyHandler {
	return &ProxyHandler{
		proxies: proxies,
	}
}

// PoolResponse lists a provider's proxies alongside its selection strategy
type PoolResponse struct {
	Strategy domain.SelectionStrategy `json:"strategy"`
	Data     []proxypool.ProxyStatus  `json:"data"`
	Total    int                      `json:"total"`
}

// List handles GET /api/v1/providers/{id}/proxies
func (h *ProxyHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		RenderError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	providerID := r.PathValue("id")

	proxies, err := h.proxies.List(r.Context(), providerID)
	if err != nil {
		if errors.Is(err, service.ErrProviderNotFound) {
			RenderError(w, http.StatusNotFound, "Provider not found")
		} else {
			RenderError(w, http.StatusInternalServerError, "Failed to list proxies: "+err.Error())
		}
		return
	}

	strategy, err := h.proxies.Strategy(r.Context(), providerID)
	if err != nil {
		RenderError(w, http.StatusInternalServerError, "Failed to get strategy: "+err.Error())
		return
	}

	RenderJSON(w, http.StatusOK, PoolResponse{
		Strategy: strategy,
		Data:     proxies,
		Total:    len(proxies),
	})
}

// Add handles POST /api/v1/providers/{id}/proxies
func (h *ProxyHandler) Add(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		RenderError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var cfg domain.ProxyConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		RenderError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	endpoint, err := h.proxies.Add(r.Context(), r.PathValue("id"), cfg)
	if err != nil {
		if errors.Is(err, service.ErrProviderNotFound) {
			RenderError(w, http.StatusNotFound, "Provider not found")
		} else {
			RenderError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	RenderJSON(w, http.StatusCreated, endpoint)
}

// SetStrategy handles PATCH /api/v1/providers/{id}/proxies
func (h *ProxyHandler) SetStrategy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch {
		RenderError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req struct {
		Strategy string `json:"strategy"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RenderError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Strategy == "" {
		RenderError(w, http.StatusBadRequest, "Strategy is required")
		return
	}

	err := h.proxies.SetStrategy(r.Context(), r.PathValue("id"), domain.SelectionStrategy(req.Strategy))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrProviderNotFound):
			RenderError(w, http.StatusNotFound, "Provider not found")
		case errors.Is(err, service.ErrInvalidStrategy):
			RenderError(w, http.StatusBadRequest, err.Error())
		default:
			RenderError(w, http.StatusInternalServerError, "Failed to set strategy: "+err.Error())
		}
		return
	}

	RenderJSON(w, http.StatusOK, map[string]string{"strategy": req.Strategy})
}

// Remove handles DELETE /api/v1/providers/{id}/proxies/{proxyID}
func (h *ProxyHandler) Remove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		RenderError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	err := h.proxies.Remove(r.Context(), r.PathValue("id"), r.PathValue("proxyID"))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrProviderNotFound):
			RenderError(w, http.StatusNotFound, "Provider not found")
		case errors.Is(err, service.ErrProxyNotFound):
			RenderError(w, http.StatusNotFound, "Proxy not found")
		default:
			RenderError(w, http.StatusInternalServerError, "Failed to remove proxy: "+err.Error())
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Reactivate handles POST /api/v1/providers/{id}/proxies/{proxyID}/reactivate
func (h *ProxyHandler) Reactivate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		RenderError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	err := h.proxies.Reactivate(r.Context(), r.PathValue("id"), r.PathValue("proxyID"))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrProviderNotFound):
			RenderError(w, http.StatusNotFound, "Provider not found")
		case errors.Is(err, service.ErrProxyNotFound):
			RenderError(w, http.StatusNotFound, "Proxy not found")
		default:
			RenderError(w, http.StatusInternalServerError, "Failed to reactivate proxy: "+err.Error())
		}
		return
	}

	RenderJSON(w, http.StatusOK, map[string]string{"message": "Proxy reactivated"})
}
