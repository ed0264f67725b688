package models

// PresignRequest asks the backend for a presigned storage URL
type PresignRequest struct {
	Platform    string `json:"platform"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	SHA256      string `json:"sha256,omitempty"`
	ContentMD5  string `json:"content_md5,omitempty"`
}

// PresignResponse is the normalized presign result.
// CallbackURL is empty when the backend did not supply one.
type PresignResponse struct {
	UploadID     string            `json:"upload_id"`
	ObjectKey    string            `json:"object_key,omitempty"`
	PresignedURL string            `json:"presigned_url"`
	CallbackURL  string            `json:"callback_url,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
}

// UploadCallbackRequest tells the backend the object is in storage
type UploadCallbackRequest struct {
	UploadID    string `json:"upload_id"`
	Platform    string `json:"platform"`
	ObjectKey   string `json:"object_key,omitempty"`
	Filename    string `json:"filename"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
	SHA256      string `json:"sha256,omitempty"`
	ContentMD5  string `json:"content_md5,omitempty"`
}

// UploadCallbackResponse is the normalized finalize result
type UploadCallbackResponse struct {
	UploadID string   `json:"upload_id"`
	Status   string   `json:"status,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// GenerateReportRequest asks the backend to build a report for an upload
type GenerateReportRequest struct {
	UploadID string `json:"upload_id"`
	Platform string `json:"platform"`
}

// GenerateReportResponse is the normalized report generation result
type GenerateReportResponse struct {
	ReportID string   `json:"report_id"`
	Warnings []string `json:"warnings,omitempty"`
}
