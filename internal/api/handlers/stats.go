package handlers

import (
	"context"
	"net/http"

	"github.com/sadewadee/source-orchestrator/internal/domain"
)

// StatsServiceInterface defines the stats service methods
type StatsServiceInterface interface {
	GetStats(ctx context.Context) *domain.Stats
}

// StatsHandler handles statistics-related HTTP requests
type StatsHandler struct {
	stats StatsServiceInterface
}

// NewStatsHandler creates a new StatsHandler
func NewStatsHandler(stats StatsServiceInterface) *StatsHandler {
	return &StatsHandler{
		stats: stats,
	}
}

// GetStats handles GET /api/v1/stats
func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		RenderError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	RenderJSON(w, http.StatusOK, h.stats.GetStats(r.Context()))
}
