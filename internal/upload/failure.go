package upload

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/earnsigma/go_earnsigma/internal/models"
)

// Reason codes produced on the client side. Backend codes such as
// validation_failed pass through unchanged.
const (
	ReasonSessionExpired = "session_expired"
	ReasonNotFound       = "upload_not_found"
	ReasonTimeout        = "timeout"
	ReasonUploadFailed   = "upload_failed"
	ReasonValidation     = "validation_failed"
	ReasonIngest         = "ingest_failed"
	ReasonReport         = "report_failed"
)

const (
	unknownErrorMessage   = "Unknown upload error"
	sessionExpiredMessage = "Your session expired. Log in again, then return to upload status."
	notFoundMessage       = "That upload could not be found. It may have expired."
	timeoutMessage        = "Upload is still processing. Retry status check in a moment."
	processingFailedText  = "Processing failed."
)

// UploadFailure classifies an error observed during upload or polling
type UploadFailure struct {
	ReasonCode        string `json:"reason_code"`
	Message           string `json:"message"`
	ShouldStopPolling bool   `json:"should_stop_polling"`
}

// MapAPIErrorToUploadFailure classifies err by the HTTP status it carries.
// 401/403 and 404 stop polling; everything else may be retried.
func MapAPIErrorToUploadFailure(err error) UploadFailure {
	if status, ok := models.HTTPStatusOf(err); ok {
		switch status {
		case http.StatusUnauthorized, http.StatusForbidden:
			return UploadFailure{
				ReasonCode:        ReasonSessionExpired,
				Message:           sessionExpiredMessage,
				ShouldStopPolling: true,
			}
		case http.StatusNotFound:
			return UploadFailure{
				ReasonCode:        ReasonNotFound,
				Message:           notFoundMessage,
				ShouldStopPolling: true,
			}
		}
	}

	return UploadFailure{
		ReasonCode:        ReasonUploadFailed,
		Message:           errorMessage(err),
		ShouldStopPolling: false,
	}
}

// errorMessage prefers the display message of an API error over its formatted form
func errorMessage(err error) string {
	if err == nil {
		return unknownErrorMessage
	}

	var apiErr *models.APIError
	if errors.As(err, &apiErr) && apiErr.DisplayMessage() != "" {
		return apiErr.DisplayMessage()
	}

	if msg := err.Error(); msg != "" {
		return msg
	}
	return unknownErrorMessage
}

// FailureFromPollError classifies an error returned by Poll.
// ok is false for cancellation, which callers should not surface.
func FailureFromPollError(err error) (failure UploadFailure, ok bool) {
	switch {
	case err == nil:
		return UploadFailure{}, false
	case errors.Is(err, ErrPollingCancelled):
		return UploadFailure{}, false
	case errors.Is(err, ErrPollingTimedOut):
		return UploadFailure{
			ReasonCode:        ReasonTimeout,
			Message:           timeoutMessage,
			ShouldStopPolling: false,
		}, true
	default:
		return MapAPIErrorToUploadFailure(err), true
	}
}

// FailureFromView builds the failure for a terminal failed snapshot
func FailureFromView(view models.UploadStatusView) UploadFailure {
	reason := view.ReasonCode
	if reason == "" {
		reason = ReasonUploadFailed
	}
	message := view.Message
	if message == "" {
		message = processingFailedText
	}
	return UploadFailure{
		ReasonCode:        reason,
		Message:           message,
		ShouldStopPolling: true,
	}
}

// FriendlyFailureMessage returns the headline shown to the creator for a reason code
func FriendlyFailureMessage(reasonCode string) string {
	switch reasonCode {
	case ReasonValidation:
		return "We couldn't validate that CSV. Please export a fresh file and try again."
	case ReasonIngest:
		return "We couldn't ingest the file right now. Please retry in a moment."
	case ReasonReport:
		return "The upload succeeded, but report generation failed. Please retry."
	case ReasonSessionExpired:
		return "Your session expired while checking upload status. Please log in again."
	case ReasonNotFound:
		return "We couldn't find that previous upload anymore. Please reset and upload again."
	case ReasonTimeout:
		return "This upload is still processing and timed out in the dashboard. You can retry status checks or reset."
	default:
		return "We couldn't complete processing for this upload yet."
	}
}

// DiagnosticsInput carries the fields copied into a bug report
type DiagnosticsInput struct {
	UploadID   string
	RawStatus  string
	ReasonCode string
	Message    string
	UpdatedAt  string
}

// diagnostics fixes the key order of the serialized report
type diagnostics struct {
	UploadID   *string `json:"upload_id"`
	Status     string  `json:"status"`
	ReasonCode *string `json:"reason_code"`
	Message    *string `json:"message"`
	UpdatedAt  *string `json:"updated_at"`
}

// BuildUploadDiagnostics serializes the input as compact JSON with a stable key order.
// Empty fields become null and a missing status becomes "unknown".
func BuildUploadDiagnostics(in DiagnosticsInput) string {
	status := in.RawStatus
	if status == "" {
		status = "unknown"
	}

	d := diagnostics{
		UploadID:   nullable(in.UploadID),
		Status:     status,
		ReasonCode: nullable(in.ReasonCode),
		Message:    nullable(in.Message),
		UpdatedAt:  nullable(in.UpdatedAt),
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(d); err != nil {
		// Strings and pointers to strings always encode
		return "{}"
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

// DiagnosticsForView builds diagnostics from a snapshot and the failure derived from it
func DiagnosticsForView(view models.UploadStatusView, failure UploadFailure) string {
	return BuildUploadDiagnostics(DiagnosticsInput{
		UploadID:   view.UploadID,
		RawStatus:  view.RawStatus,
		ReasonCode: failure.ReasonCode,
		Message:    failure.Message,
		UpdatedAt:  view.UpdatedAt,
	})
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
