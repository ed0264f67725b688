package services

import (
	"context"
	"regexp"
	"strings"

	"github.com/earnsigma/go_earnsigma/internal/logger"
	"github.com/earnsigma/go_earnsigma/internal/models"
)

// TrackRequest asks the gateway to follow an upload the creator already sent
type TrackRequest struct {
	UploadID string          `json:"upload_id"`
	Platform models.Platform `json:"platform"`
	Filename string          `json:"filename"`
}

// ValidationResult represents the outcome of validating a track request
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// Validator checks track requests before anything is stored
type Validator struct {
	uploadIDPattern *regexp.Regexp
}

// NewValidator creates a new Validator instance
func NewValidator() *Validator {
	return &Validator{
		uploadIDPattern: regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,127}$`),
	}
}

// ValidateTrackRequest validates a request and stops at the first failing rule.
// A filename without a .csv extension is only a warning.
func (v *Validator) ValidateTrackRequest(ctx context.Context, req TrackRequest) *ValidationResult {
	result := &ValidationResult{
		Valid:  true,
		Errors: []string{},
	}

	if !v.ValidUploadID(req.UploadID) {
		logger.Debug(ctx, "Track request rejected", "rule", "upload_id")
		return reject(result, "upload_id must be 1-128 letters, digits, '-' or '_'")
	}

	if req.Platform == "" {
		logger.Debug(ctx, "Track request rejected", "rule", "platform")
		return reject(result, "platform is required")
	}
	if !req.Platform.IsKnown() {
		logger.Debug(ctx, "Track request rejected", "rule", "platform", "platform", req.Platform)
		return reject(result, "unknown platform: "+string(req.Platform))
	}
	if !req.Platform.IsSupported() {
		logger.Debug(ctx, "Track request rejected", "rule", "platform", "platform", req.Platform)
		return reject(result, "CSV uploads are not supported for "+string(req.Platform)+" yet")
	}

	if strings.TrimSpace(req.Filename) == "" {
		logger.Debug(ctx, "Track request rejected", "rule", "filename")
		return reject(result, "filename is required")
	}
	if !strings.HasSuffix(strings.ToLower(req.Filename), ".csv") {
		result.Warnings = append(result.Warnings, "This file does not look like a CSV export. The upload may fail validation.")
	}

	return result
}

// ValidUploadID reports whether id is safe to use as a backend upload id
func (v *Validator) ValidUploadID(id string) bool {
	return v.uploadIDPattern.MatchString(id)
}

func reject(result *ValidationResult, message string) *ValidationResult {
	result.Valid = false
	result.Errors = append(result.Errors, message)
	return result
}
