package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/earnsigma/go_earnsigma/internal/models"
)

// DefaultUploadCallbackPath is used when the presign response names no callback
const DefaultUploadCallbackPath = "/v1/uploads/callback"

// decodeFields decodes a JSON object into its top level fields
func decodeFields(raw json.RawMessage) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func (c *Client) getFields(ctx context.Context, method, path string, body any, what string) (map[string]json.RawMessage, error) {
	raw, err := c.doJSON(ctx, method, path, body, what)
	if err != nil {
		return nil, err
	}
	fields, err := decodeFields(raw)
	if err != nil {
		return nil, models.NewAPIError(http.StatusOK, models.ErrorCodeParse, contextErrorMessage(what, 0), nil, err)
	}
	return fields, nil
}

func stringSlice(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var values []string
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil
	}
	return values
}

func missingField(what, field string) error {
	return models.NewAPIError(http.StatusOK, models.ErrorCodeParse,
		fmt.Sprintf("%s response is missing %s", what, field), nil, nil)
}

// CreateUploadPresign requests a presigned storage URL for a new upload
func (c *Client) CreateUploadPresign(ctx context.Context, req models.PresignRequest) (models.PresignResponse, error) {
	fields, err := c.getFields(ctx, http.MethodPost, "/v1/uploads/presign", req, "upload presign")
	if err != nil {
		return models.PresignResponse{}, err
	}

	resp := models.PresignResponse{
		UploadID:     models.FirstString(fields, "upload_id", "uploadId"),
		ObjectKey:    models.FirstString(fields, "object_key", "objectKey"),
		PresignedURL: models.FirstString(fields, "presigned_url", "presign_url", "url"),
		CallbackURL:  models.FirstString(fields, "callback_url", "callbackUrl"),
	}
	if raw, ok := fields["headers"]; ok {
		var headers map[string]string
		if json.Unmarshal(raw, &headers) == nil {
			resp.Headers = headers
		}
	}

	if resp.UploadID == "" {
		return models.PresignResponse{}, missingField("Upload presign", "upload_id")
	}
	if resp.PresignedURL == "" {
		return models.PresignResponse{}, missingField("Upload presign", "presigned_url")
	}
	return resp, nil
}

// UploadToPresignedURL PUTs the file body straight to object storage. No
// bearer token is sent; the URL carries its own authorization.
func (c *Client) UploadToPresignedURL(ctx context.Context, presignedURL string, body io.Reader, size int64, headers map[string]string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, presignedURL, body)
	if err != nil {
		return fmt.Errorf("failed to create storage request: %w", err)
	}
	if size > 0 {
		req.ContentLength = size
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.NewAPIError(0, models.ErrorCodeNetwork, "Storage upload failed.", nil, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &models.StorageUploadError{StatusCode: resp.StatusCode}
	}
	return nil
}

// FinalizeUploadCallback tells the backend the object is in storage.
// An empty callbackURL uses the default callback endpoint.
func (c *Client) FinalizeUploadCallback(ctx context.Context, req models.UploadCallbackRequest, callbackURL string) (models.UploadCallbackResponse, error) {
	endpoint := callbackURL
	if endpoint == "" {
		endpoint = DefaultUploadCallbackPath
	}

	fields, err := c.getFields(ctx, http.MethodPost, endpoint, req, "upload callback")
	if err != nil {
		return models.UploadCallbackResponse{}, err
	}

	resp := models.UploadCallbackResponse{
		UploadID: models.FirstString(fields, "upload_id", "uploadId"),
		Status:   models.FirstString(fields, "status"),
		Warnings: stringSlice(fields["warnings"]),
	}
	if resp.UploadID == "" {
		resp.UploadID = req.UploadID
	}
	return resp, nil
}

// GenerateReport asks the backend to build a report for a processed upload
func (c *Client) GenerateReport(ctx context.Context, req models.GenerateReportRequest) (models.GenerateReportResponse, error) {
	fields, err := c.getFields(ctx, http.MethodPost, "/v1/reports/generate", req, "report generation")
	if err != nil {
		return models.GenerateReportResponse{}, err
	}

	resp := models.GenerateReportResponse{
		ReportID: models.FirstString(fields, "report_id", "reportId"),
		Warnings: stringSlice(fields["warnings"]),
	}
	if resp.ReportID == "" {
		return models.GenerateReportResponse{}, missingField("Report generation", "report_id")
	}
	return resp, nil
}

// GetUploadStatus fetches the backend status record for an upload
func (c *Client) GetUploadStatus(ctx context.Context, uploadID string) (models.UploadStatusEnvelope, error) {
	path := fmt.Sprintf("/v1/uploads/%s/status", url.PathEscape(uploadID))
	fields, err := c.getFields(ctx, http.MethodGet, path, nil, "upload status")
	if err != nil {
		return models.UploadStatusEnvelope{}, err
	}
	return models.EnvelopeFromFields(fields), nil
}

// GetLatestUploadStatus fetches the status of the caller's most recent upload
func (c *Client) GetLatestUploadStatus(ctx context.Context) (models.UploadStatusEnvelope, error) {
	fields, err := c.getFields(ctx, http.MethodGet, "/v1/uploads/latest", nil, "latest upload status")
	if err != nil {
		return models.UploadStatusEnvelope{}, err
	}
	return models.EnvelopeFromFields(fields), nil
}

// StatusFunc adapts GetUploadStatus into a poller status function
func (c *Client) StatusFunc(uploadID string) func(ctx context.Context) (models.UploadStatusView, error) {
	return func(ctx context.Context) (models.UploadStatusView, error) {
		env, err := c.GetUploadStatus(ctx, uploadID)
		if err != nil {
			return models.UploadStatusView{}, err
		}
		view := models.MapUploadStatus(env)
		if view.UploadID == "" {
			view.UploadID = uploadID
		}
		return view, nil
	}
}
