package models

import "time"

// AdminWhoAmI is the backend's view of the caller's admin role
type AdminWhoAmI struct {
	IsAdmin bool   `json:"is_admin"`
	Email   string `json:"email,omitempty"`
}

// AdminUserRow is one creator in the admin console
type AdminUserRow struct {
	CreatorID   string `json:"creator_id"`
	Email       string `json:"email,omitempty"`
	Plan        string `json:"plan,omitempty"`
	Status      string `json:"status,omitempty"`
	Blocked     bool   `json:"blocked"`
	CompUntil   string `json:"comp_until,omitempty"`
	UploadState string `json:"upload_state,omitempty"`
}

// AdminUserList is a page of creators
type AdminUserList struct {
	Users []AdminUserRow `json:"users"`
	Total int            `json:"total"`
}

// ResourceHealth summarizes a creator's latest upload or report
type ResourceHealth struct {
	ID        string `json:"id,omitempty"`
	Status    string `json:"status,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
	Link      string `json:"link,omitempty"`
}

// AdminUserDetail is a creator with their latest activity
type AdminUserDetail struct {
	AdminUserRow
	LatestUpload *ResourceHealth `json:"latest_upload,omitempty"`
	LatestReport *ResourceHealth `json:"latest_report,omitempty"`
	FetchedAt    time.Time       `json:"fetched_at"`
}
