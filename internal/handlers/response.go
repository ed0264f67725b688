package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/earnsigma/go_earnsigma/internal/logger"
	"github.com/earnsigma/go_earnsigma/internal/models"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error         string `json:"error"`
	Code          string `json:"code,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, ctx context.Context, statusCode int, data interface{}) {
	if correlationID := logger.CorrelationIDFrom(ctx); correlationID != "" {
		w.Header().Set("X-Correlation-ID", correlationID)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.LogError(ctx, "Failed to encode response", err)
	}
}

// respondError sends an error response
func respondError(w http.ResponseWriter, ctx context.Context, statusCode int, message string) {
	respondJSON(w, ctx, statusCode, ErrorResponse{
		Error:         message,
		CorrelationID: logger.CorrelationIDFrom(ctx),
	})
}

// respondAPIError relays a backend failure. Client errors keep their status;
// everything else is reported as a bad gateway.
func respondAPIError(w http.ResponseWriter, ctx context.Context, err error) {
	statusCode := http.StatusBadGateway
	if status, ok := models.HTTPStatusOf(err); ok && status >= 400 && status < 500 {
		statusCode = status
	}

	response := ErrorResponse{
		Error:         "backend request failed",
		CorrelationID: logger.CorrelationIDFrom(ctx),
	}
	var apiErr *models.APIError
	if errors.As(err, &apiErr) {
		response.Error = apiErr.DisplayMessage()
		response.Code = apiErr.Code
	}

	logger.LogError(ctx, "Backend request failed", err, "status_code", statusCode)
	respondJSON(w, ctx, statusCode, response)
}
