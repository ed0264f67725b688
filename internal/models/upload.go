package models

import (
	"time"
)

// Platform identifies the creator platform a revenue export came from
type Platform string

const (
	PlatformPatreon   Platform = "patreon"
	PlatformSubstack  Platform = "substack"
	PlatformYouTube   Platform = "youtube"
	PlatformInstagram Platform = "instagram"
	PlatformTikTok    Platform = "tiktok"
	PlatformOnlyFans  Platform = "onlyfans"
)

// IsKnown checks if the platform is one the product recognizes
func (p Platform) IsKnown() bool {
	switch p {
	case PlatformPatreon, PlatformSubstack, PlatformYouTube,
		PlatformInstagram, PlatformTikTok, PlatformOnlyFans:
		return true
	default:
		return false
	}
}

// IsSupported checks if CSV ingestion exists for the platform
func (p Platform) IsSupported() bool {
	return p == PlatformPatreon || p == PlatformSubstack
}

// TrackedUpload is the gateway's record of an upload being followed by the worker
type TrackedUpload struct {
	ID         int64          `json:"id" db:"id"`
	UploadID   string         `json:"upload_id" db:"upload_id"`
	CreatorID  string         `json:"creator_id" db:"creator_id"`
	Platform   Platform       `json:"platform" db:"platform"`
	Filename   string         `json:"filename" db:"filename"`
	Status     UploadUIStatus `json:"status" db:"status"`
	RawStatus  *string        `json:"raw_status,omitempty" db:"raw_status"`
	ReasonCode *string        `json:"reason_code,omitempty" db:"reason_code"`
	Message    *string        `json:"message,omitempty" db:"message"`
	ReportID   *string        `json:"report_id,omitempty" db:"report_id"`
	BackendAt  *string        `json:"backend_updated_at,omitempty" db:"backend_updated_at"`
	CreatedAt  time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at" db:"updated_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty" db:"finished_at"`
}

// NewTrackedUpload creates a processing record for an upload
func NewTrackedUpload(uploadID, creatorID string, platform Platform, filename string) *TrackedUpload {
	now := time.Now()
	return &TrackedUpload{
		UploadID:  uploadID,
		CreatorID: creatorID,
		Platform:  platform,
		Filename:  filename,
		Status:    UploadStatusProcessing,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// CanTransitionTo checks if the upload can move from its current status to target
func (u *TrackedUpload) CanTransitionTo(target UploadUIStatus) bool {
	// Terminal states cannot transition
	if u.Status.IsTerminal() {
		return false
	}
	return target.IsValid()
}

// ApplyView copies a poll snapshot onto the record, transitioning status when it changes
func (u *TrackedUpload) ApplyView(view UploadStatusView) error {
	if view.Status != u.Status {
		if !u.CanTransitionTo(view.Status) {
			return &InvalidTransitionError{From: u.Status, To: view.Status}
		}
		u.Status = view.Status
	}

	u.RawStatus = optional(view.RawStatus)
	u.ReasonCode = optional(view.ReasonCode)
	u.Message = optional(view.Message)
	if view.ReportID != "" {
		u.ReportID = optional(view.ReportID)
	}
	u.BackendAt = optional(view.UpdatedAt)
	u.UpdatedAt = time.Now()
	if u.Status.IsTerminal() && u.FinishedAt == nil {
		finished := u.UpdatedAt
		u.FinishedAt = &finished
	}
	return nil
}

// MarkFailed records a client-observed failure that ends tracking
func (u *TrackedUpload) MarkFailed(reasonCode, message string) error {
	if !u.CanTransitionTo(UploadStatusFailed) {
		return &InvalidTransitionError{From: u.Status, To: UploadStatusFailed}
	}
	u.Status = UploadStatusFailed
	u.ReasonCode = optional(reasonCode)
	u.Message = optional(message)
	u.UpdatedAt = time.Now()
	finished := u.UpdatedAt
	u.FinishedAt = &finished
	return nil
}

// View returns the record as a status snapshot
func (u *TrackedUpload) View() UploadStatusView {
	return UploadStatusView{
		UploadID:   u.UploadID,
		Status:     u.Status,
		RawStatus:  deref(u.RawStatus),
		ReasonCode: deref(u.ReasonCode),
		Message:    deref(u.Message),
		ReportID:   deref(u.ReportID),
		UpdatedAt:  deref(u.BackendAt),
	}
}

// StatusSnapshot is one observation made while tracking an upload
type StatusSnapshot struct {
	ID              int64          `json:"id" db:"id"`
	TrackedUploadID int64          `json:"tracked_upload_id" db:"tracked_upload_id"`
	PollNo          int            `json:"poll_no" db:"poll_no"`
	ObservedAt      time.Time      `json:"observed_at" db:"observed_at"`
	Status          UploadUIStatus `json:"status" db:"status"`
	RawStatus       *string        `json:"raw_status,omitempty" db:"raw_status"`
	ReasonCode      *string        `json:"reason_code,omitempty" db:"reason_code"`
	Message         *string        `json:"message,omitempty" db:"message"`
	ErrorMessage    *string        `json:"error_message,omitempty" db:"error_message"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
}

// NewStatusSnapshot records a successful poll result
func NewStatusSnapshot(trackedUploadID int64, pollNo int, view UploadStatusView) *StatusSnapshot {
	now := time.Now()
	return &StatusSnapshot{
		TrackedUploadID: trackedUploadID,
		PollNo:          pollNo,
		ObservedAt:      now,
		Status:          view.Status,
		RawStatus:       optional(view.RawStatus),
		ReasonCode:      optional(view.ReasonCode),
		Message:         optional(view.Message),
		CreatedAt:       now,
	}
}

// NewFailedSnapshot records a poll attempt that ended in an error
func NewFailedSnapshot(trackedUploadID int64, pollNo int, reasonCode, errorMessage string) *StatusSnapshot {
	now := time.Now()
	return &StatusSnapshot{
		TrackedUploadID: trackedUploadID,
		PollNo:          pollNo,
		ObservedAt:      now,
		Status:          UploadStatusProcessing,
		ReasonCode:      optional(reasonCode),
		ErrorMessage:    optional(errorMessage),
		CreatedAt:       now,
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
