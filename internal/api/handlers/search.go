package handlers

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"github.com/sadewadee/source-orchestrator/internal/aggregator"
	"github.com/sadewadee/source-orchestrator/internal/domain"
	"github.com/sadewadee/source-orchestrator/internal/logging"
	"github.com/sadewadee/source-orchestrator/internal/queue"
	"github.com/sadewadee/source-orchestrator/internal/service"
)

// SearchServiceInterface defines the search service methods
type SearchServiceInterface interface {
	Search(ctx context.Context, query string, opts domain.SearchOptions) (*domain.SearchResponse, error)
	Refresh(ctx context.Context, req service.RefreshRequest) (*queue.RefreshPayload, error)
}

// SearchHandler handles search-related HTTP requests
type SearchHandler struct {
	search SearchServiceInterface
	log    zerolog.Logger
}

// MaxSearchLimit caps the per-request result limit
const MaxSearchLimit = 100

// NewSearchHandler creates a new SearchHandler
func NewSearchHandler(search SearchServiceInterface) *SearchHandler {
	return &SearchHandler{
		search: search,
		log:    logging.WithComponent("api"),
	}
}

// Search handles GET /api/v1/search
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		RenderError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	query, opts, err := parseSearchQuery(r)
	if err != nil {
		RenderError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.search.Search(r.Context(), query, opts)
	if err != nil {
		if errors.Is(err, aggregator.ErrNoEligibleProviders) {
			RenderError(w, http.StatusServiceUnavailable, "No providers available")
		} else {
			RenderError(w, http.StatusInternalServerError, "Search failed: "+err.Error())
		}
		return
	}

	RenderJSON(w, http.StatusOK, resp)
}

// Export handles GET /api/v1/search/export
func (h *SearchHandler) Export(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		RenderError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	query, opts, err := parseSearchQuery(r)
	if err != nil {
		RenderError(w, http.StatusBadRequest, err.Error())
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "csv"
	}
	if format != "csv" && format != "xlsx" {
		RenderError(w, http.StatusBadRequest, "Invalid format. Use 'csv' or 'xlsx'")
		return
	}

	resp, err := h.search.Search(r.Context(), query, opts)
	if err != nil {
		if errors.Is(err, aggregator.ErrNoEligibleProviders) {
			RenderError(w, http.StatusServiceUnavailable, "No providers available")
		} else {
			RenderError(w, http.StatusInternalServerError, "Search failed: "+err.Error())
		}
		return
	}

	availableColumns := getAvailableColumns()
	selectedColumns := parseSelectedColumns(r.URL.Query().Get("columns"), availableColumns)

	switch format {
	case "csv":
		h.exportCSV(w, resp, selectedColumns, availableColumns)
	case "xlsx":
		h.exportXLSX(w, resp, selectedColumns, availableColumns)
	}
}

// Refresh handles POST /api/v1/search/refresh
func (h *SearchHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		RenderError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req service.RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RenderError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	payload, err := h.search.Refresh(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrRefreshPending):
			RenderError(w, http.StatusConflict, "Refresh already pending for this query")
		case errors.Is(err, service.ErrRefreshUnavailable):
			RenderError(w, http.StatusServiceUnavailable, "Refresh queue not configured")
		default:
			RenderError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	RenderJSON(w, http.StatusAccepted, payload)
}

func (h *SearchHandler) exportCSV(w http.ResponseWriter, resp *domain.SearchResponse, selectedColumns []string, availableColumns map[string]func(m *domain.Metadata) string) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename="+exportFilename(resp.Query, "csv"))

	writer := csv.NewWriter(w)
	defer writer.Flush()

	if err := writer.Write(selectedColumns); err != nil {
		return
	}

	for i := range resp.Results {
		record := make([]string, len(selectedColumns))
		for j, col := range selectedColumns {
			record[j] = availableColumns[col](&resp.Results[i])
		}

		if err := writer.Write(record); err != nil {
			return
		}
	}
}

func (h *SearchHandler) exportXLSX(w http.ResponseWriter, resp *domain.SearchResponse, selectedColumns []string, availableColumns map[string]func(m *domain.Metadata) string) {
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", "attachment; filename="+exportFilename(resp.Query, "xlsx"))

	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Results"
	f.SetSheetName("Sheet1", sheetName)

	// Write header row
	for i, col := range selectedColumns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheetName, cell, col)
	}

	// Style the header
	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E0E0E0"}, Pattern: 1},
	})
	lastCol, _ := excelize.CoordinatesToCellName(len(selectedColumns), 1)
	f.SetCellStyle(sheetName, "A1", lastCol, headerStyle)

	for i := range resp.Results {
		for j, col := range selectedColumns {
			cell, _ := excelize.CoordinatesToCellName(j+1, i+2)
			f.SetCellValue(sheetName, cell, availableColumns[col](&resp.Results[i]))
		}
	}

	// Approximate column widths
	for i := range selectedColumns {
		colName, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(sheetName, colName, colName, 15)
	}

	if err := f.Write(w); err != nil {
		h.log.Warn().Err(err).Str("query", resp.Query).Msg("failed to write xlsx export")
	}
}

// parseSearchQuery extracts and validates the common search parameters
func parseSearchQuery(r *http.Request) (string, domain.SearchOptions, error) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		return "", domain.SearchOptions{}, fmt.Errorf("query parameter 'q' is required")
	}

	opts := domain.SearchOptions{Mode: domain.SearchModeFallback}

	if mode := r.URL.Query().Get("mode"); mode != "" {
		m := domain.SearchMode(mode)
		if m != domain.SearchModeFallback && m != domain.SearchModeAggregate {
			return "", domain.SearchOptions{}, fmt.Errorf("invalid mode %q, use 'fallback' or 'aggregate'", mode)
		}
		opts.Mode = m
	}

	if nsfw := r.URL.Query().Get("nsfw"); nsfw != "" {
		v, err := strconv.ParseBool(nsfw)
		if err != nil {
			return "", domain.SearchOptions{}, fmt.Errorf("invalid nsfw value %q", nsfw)
		}
		opts.IncludeNSFW = v
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			return "", domain.SearchOptions{}, fmt.Errorf("invalid limit %q", limitStr)
		}
		if limit > MaxSearchLimit {
			limit = MaxSearchLimit
		}
		opts.Limit = limit
	}

	return query, opts, nil
}

// getAvailableColumns returns the map of available export columns
func getAvailableColumns() map[string]func(m *domain.Metadata) string {
	return map[string]func(m *domain.Metadata) string{
		"Title": func(m *domain.Metadata) string { return m.Title },
		"Type":  func(m *domain.Metadata) string { return m.Type },
		"Year": func(m *domain.Metadata) string {
			if m.Year == 0 {
				return ""
			}
			return strconv.Itoa(m.Year)
		},
		"Rating": func(m *domain.Metadata) string {
			if m.Rating == 0 {
				return ""
			}
			return fmt.Sprintf("%.1f", m.Rating)
		},
		"Genres":      func(m *domain.Metadata) string { return strings.Join(m.Genres, ", ") },
		"Link":        func(m *domain.Metadata) string { return m.Link },
		"Cover":       func(m *domain.Metadata) string { return m.CoverURL },
		"Description": func(m *domain.Metadata) string { return m.Description },
		"Source":      func(m *domain.Metadata) string { return m.SourceID },
		"Tier":        func(m *domain.Metadata) string { return strconv.Itoa(int(m.Tier)) },
		"Confidence":  func(m *domain.Metadata) string { return fmt.Sprintf("%.2f", m.Confidence) },
	}
}

// parseSelectedColumns parses and validates requested columns
func parseSelectedColumns(colsParam string, availableColumns map[string]func(m *domain.Metadata) string) []string {
	var selectedColumns []string
	if colsParam != "" {
		requested := strings.Split(colsParam, ",")
		for _, col := range requested {
			col = strings.TrimSpace(col)
			if _, ok := availableColumns[col]; ok {
				selectedColumns = append(selectedColumns, col)
			}
		}
	}

	// Default columns if none selected or invalid
	if len(selectedColumns) == 0 {
		selectedColumns = []string{
			"Title", "Type", "Year", "Rating", "Link", "Source", "Tier", "Confidence",
		}
	}
	return selectedColumns
}

// exportFilename builds a safe attachment name from the query
func exportFilename(query, ext string) string {
	slug := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		case r == ' ', r == '-', r == '_':
			return '-'
		default:
			return -1
		}
	}, query)

	if slug == "" {
		slug = "results"
	}
	return "search-" + slug + "." + ext
}
