// Package api exposes the orchestrator over HTTP: health reports, the
// aggregated search surface, provider and proxy administration, and
// Prometheus metrics.
package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sadewadee/source-orchestrator/internal/api/handlers"
)

// Router holds the HTTP router and its handlers
type Router struct {
	mux       *http.ServeMux
	health    *handlers.HealthHandler
	system    *handlers.SystemHandler
	search    *handlers.SearchHandler
	providers *handlers.ProviderHandler
	proxies   *handlers.ProxyHandler
	stats     *handlers.StatsHandler
}

// NewRouter creates a new Router with the given handlers
func NewRouter(
	health *handlers.HealthHandler,
	system *handlers.SystemHandler,
	search *handlers.SearchHandler,
	providers *handlers.ProviderHandler,
	proxies *handlers.ProxyHandler,
	stats *handlers.StatsHandler,
) *Router {
	return &Router{
		mux:       http.NewServeMux(),
		health:    health,
		system:    system,
		search:    search,
		providers: providers,
		proxies:   proxies,
		stats:     stats,
	}
}

// Setup registers all routes and returns the handler wrapped in middleware
func (r *Router) Setup(token string) http.Handler {
	// Health and metrics endpoints, never token gated
	r.mux.HandleFunc("/health", r.health.Overall)
	r.mux.HandleFunc("/health/", r.health.Overall)
	r.mux.HandleFunc("/health/quick", r.health.Quick)
	r.mux.HandleFunc("/health/indexers", r.health.Indexers)
	r.mux.HandleFunc("/health/system", r.system.Diagnostics)
	r.mux.Handle("/metrics", promhttp.Handler())

	// Search
	r.mux.HandleFunc("/api/v1/search", r.search.Search)
	r.mux.HandleFunc("/api/v1/search/export", r.search.Export)
	r.mux.HandleFunc("/api/v1/search/refresh", r.search.Refresh)

	// Providers
	r.mux.HandleFunc("/api/v1/providers", r.providers.List)
	r.mux.HandleFunc("/api/v1/providers/{id}", r.handleProvider)
	r.mux.HandleFunc("/api/v1/providers/{id}/test", r.providers.Test)
	r.mux.HandleFunc("/api/v1/providers/{id}/limits", r.providers.Limits)
	r.mux.HandleFunc("/api/v1/providers/{id}/history", r.providers.History)

	// Proxy pools
	r.mux.HandleFunc("/api/v1/providers/{id}/proxies", r.handleProxies)
	r.mux.HandleFunc("/api/v1/providers/{id}/proxies/{proxyID}", r.proxies.Remove)
	r.mux.HandleFunc("/api/v1/providers/{id}/proxies/{proxyID}/reactivate", r.proxies.Reactivate)

	// Stats
	r.mux.HandleFunc("/api/v1/stats", r.stats.GetStats)

	return Chain(r.mux, Recovery, Logger, CORS, SecurityHeaders, Auth(token))
}

// handleProvider dispatches GET and PATCH for a single provider
func (r *Router) handleProvider(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		r.providers.Get(w, req)
	case http.MethodPatch:
		r.providers.Update(w, req)
	default:
		handlers.RenderError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleProxies dispatches list, add and strategy changes for a provider's pool
func (r *Router) handleProxies(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		r.proxies.List(w, req)
	case http.MethodPost:
		r.proxies.Add(w, req)
	case http.MethodPatch:
		r.proxies.SetStrategy(w, req)
	default:
		handlers.RenderError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}
