package handlers

import (
	"encoding/json"
	"net/http"
)

// APIError represents an error response
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ListResponse wraps list results
type ListResponse struct {
	Data  interface{} `json:"data"`
	Total int         `json:"total"`
}

// RenderJSON renders a JSON response
func RenderJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}

// RenderError renders an error response
func RenderError(w http.ResponseWriter, code int, message string) {
	RenderJSON(w, code, APIError{
		Code:    code,
		Message: message,
	})
}

// NewListResponse creates a list response
func NewListResponse(data interface{}, total int) ListResponse {
	return ListResponse{
		Data:  data,
		Total: total,
	}
}
