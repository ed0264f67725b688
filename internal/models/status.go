package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// UploadUIStatus is the normalized status shown to creators. It is always derived
// from the backend token and never carries the raw backend string.
type UploadUIStatus string

const (
	// UploadStatusProcessing covers every non-terminal or unrecognized backend token
	UploadStatusProcessing UploadUIStatus = "processing"

	// UploadStatusReady indicates the backend finished ingesting and the report is available
	UploadStatusReady UploadUIStatus = "ready"

	// UploadStatusFailed indicates the backend explicitly reported a failure
	UploadStatusFailed UploadUIStatus = "failed"
)

// IsValid checks if the status is one of the three UI statuses
func (s UploadUIStatus) IsValid() bool {
	switch s {
	case UploadStatusProcessing, UploadStatusReady, UploadStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal returns true if polling should stop at this status
func (s UploadUIStatus) IsTerminal() bool {
	return s == UploadStatusReady || s == UploadStatusFailed
}

// IsTerminalUploadStatus reports whether status is ready or failed
func IsTerminalUploadStatus(status UploadUIStatus) bool {
	return status.IsTerminal()
}

// Backend tokens that classify as terminal. Keys are lowercase.
var (
	readyBackendStatuses = map[string]struct{}{
		"ready":        {},
		"report_ready": {},
		"completed":    {},
		"complete":     {},
		"succeeded":    {},
		"success":      {},
	}

	failedBackendStatuses = map[string]struct{}{
		"failed":            {},
		"error":             {},
		"rejected":          {},
		"validation_failed": {},
		"ingest_failed":     {},
		"report_failed":     {},
	}
)

// ReadyBackendStatuses returns the backend tokens that map to ready
func ReadyBackendStatuses() []string {
	return setKeys(readyBackendStatuses)
}

// FailedBackendStatuses returns the backend tokens that map to failed
func FailedBackendStatuses() []string {
	return setKeys(failedBackendStatuses)
}

func setKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	return keys
}

// ClassifyBackendStatus maps a raw backend token to its UI status.
// Unknown tokens are processing, so a new backend state can never look terminal.
func ClassifyBackendStatus(raw string) UploadUIStatus {
	token := strings.ToLower(raw)
	if _, ok := readyBackendStatuses[token]; ok {
		return UploadStatusReady
	}
	if _, ok := failedBackendStatuses[token]; ok {
		return UploadStatusFailed
	}
	return UploadStatusProcessing
}

// UploadStatusEnvelope is the canonical form of a backend upload status record.
// Empty strings mean the field was absent (or not a string) in the payload.
type UploadStatusEnvelope struct {
	UploadID   string `json:"upload_id,omitempty"`
	Status     string `json:"status,omitempty"`
	ReasonCode string `json:"reason_code,omitempty"`
	Message    string `json:"message,omitempty"`
	ReportID   string `json:"report_id,omitempty"`
	UpdatedAt  string `json:"updated_at,omitempty"`
}

// ParseUploadStatusEnvelope normalizes a backend status payload that may spell its
// fields in snake_case or camelCase. The snake_case spelling wins when both exist.
func ParseUploadStatusEnvelope(data []byte) (UploadStatusEnvelope, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return UploadStatusEnvelope{}, fmt.Errorf("failed to parse upload status payload: %w", err)
	}
	return EnvelopeFromFields(raw), nil
}

// EnvelopeFromFields builds an envelope from already-decoded top level fields
func EnvelopeFromFields(raw map[string]json.RawMessage) UploadStatusEnvelope {
	return UploadStatusEnvelope{
		UploadID:   FirstString(raw, "upload_id", "uploadId"),
		Status:     FirstString(raw, "status"),
		ReasonCode: FirstString(raw, "reason_code", "reasonCode"),
		Message:    FirstString(raw, "message"),
		ReportID:   FirstString(raw, "report_id", "reportId"),
		UpdatedAt:  FirstString(raw, "updated_at", "updatedAt"),
	}
}

// FirstString returns the first key holding a JSON string. Present-but-null and
// non-string values fall through to the next spelling.
func FirstString(raw map[string]json.RawMessage, keys ...string) string {
	for _, key := range keys {
		value, ok := raw[key]
		if !ok || strings.TrimSpace(string(value)) == "null" {
			continue
		}
		var s string
		if err := json.Unmarshal(value, &s); err == nil {
			return s
		}
	}
	return ""
}

// UploadStatusView is an immutable snapshot of one poll response
type UploadStatusView struct {
	UploadID   string         `json:"upload_id,omitempty"`
	Status     UploadUIStatus `json:"status"`
	RawStatus  string         `json:"raw_status,omitempty"`
	ReasonCode string         `json:"reason_code,omitempty"`
	Message    string         `json:"message,omitempty"`
	ReportID   string         `json:"report_id,omitempty"`
	UpdatedAt  string         `json:"updated_at,omitempty"`
}

// MapUploadStatus converts an envelope into the UI view
func MapUploadStatus(env UploadStatusEnvelope) UploadStatusView {
	rawStatus := strings.ToLower(env.Status)

	return UploadStatusView{
		UploadID:   env.UploadID,
		Status:     ClassifyBackendStatus(rawStatus),
		RawStatus:  rawStatus,
		ReasonCode: env.ReasonCode,
		Message:    env.Message,
		ReportID:   env.ReportID,
		UpdatedAt:  env.UpdatedAt,
	}
}

// Envelope converts a view back into the backend shape, preferring the raw token
func (v UploadStatusView) Envelope() UploadStatusEnvelope {
	status := v.RawStatus
	if status == "" {
		status = string(v.Status)
	}
	return UploadStatusEnvelope{
		UploadID:   v.UploadID,
		Status:     status,
		ReasonCode: v.ReasonCode,
		Message:    v.Message,
		ReportID:   v.ReportID,
		UpdatedAt:  v.UpdatedAt,
	}
}
