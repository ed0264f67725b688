package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/earnsigma/go_earnsigma/internal/logger"
	"github.com/earnsigma/go_earnsigma/internal/models"
	"github.com/earnsigma/go_earnsigma/internal/queue"
	"github.com/earnsigma/go_earnsigma/internal/repository"
	"github.com/earnsigma/go_earnsigma/internal/services"
	"github.com/earnsigma/go_earnsigma/internal/upload"
	"github.com/gorilla/mux"
)

const maxTrackBodyBytes = 1 << 20

// UploadHandler handles upload tracking requests from the web app
type UploadHandler struct {
	uploadRepo   repository.TrackedUploadRepository
	snapshotRepo repository.StatusSnapshotRepository
	queue        queue.Queue
	validator    *services.Validator
}

// NewUploadHandler creates a new UploadHandler
func NewUploadHandler(uploadRepo repository.TrackedUploadRepository, snapshotRepo repository.StatusSnapshotRepository, q queue.Queue) *UploadHandler {
	return &UploadHandler{
		uploadRepo:   uploadRepo,
		snapshotRepo: snapshotRepo,
		queue:        q,
		validator:    services.NewValidator(),
	}
}

// TrackResponse is returned after an upload is handed to the worker
type TrackResponse struct {
	UploadID      string   `json:"upload_id"`
	Status        string   `json:"status"`
	Warnings      []string `json:"warnings,omitempty"`
	CorrelationID string   `json:"correlation_id"`
}

// UploadStatusResponse is the latest known state of a tracked upload
type UploadStatusResponse struct {
	models.UploadStatusView
	Platform   models.Platform `json:"platform"`
	Filename   string          `json:"filename"`
	Headline   string          `json:"headline,omitempty"`
	CreatedAt  string          `json:"created_at"`
	FinishedAt *string         `json:"finished_at,omitempty"`
}

// HandleTrackUpload handles POST /app/api/uploads/track
func (h *UploadHandler) HandleTrackUpload(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	session, ok := SessionFrom(ctx)
	if !ok {
		respondError(w, ctx, http.StatusUnauthorized, "authentication required")
		return
	}

	var req services.TrackRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxTrackBodyBytes)).Decode(&req); err != nil {
		logger.LogError(ctx, "Malformed track request", err)
		respondError(w, ctx, http.StatusBadRequest, "malformed JSON payload")
		return
	}

	ctx = logger.WithUploadID(ctx, req.UploadID)
	result := h.validator.ValidateTrackRequest(ctx, req)
	if !result.Valid {
		respondError(w, ctx, http.StatusBadRequest, strings.Join(result.Errors, "; "))
		return
	}

	tracked := models.NewTrackedUpload(req.UploadID, session.Subject, req.Platform, req.Filename)
	if err := h.uploadRepo.CreateTrackedUpload(ctx, tracked); err != nil {
		logger.LogError(ctx, "Failed to create tracked upload", err)
		respondError(w, ctx, http.StatusServiceUnavailable, "database error")
		return
	}

	// An upload id already tracked by someone else reveals nothing and queues nothing
	if !visibleTo(ctx, session, tracked) {
		logger.Warn(ctx, "Track request for an upload owned by another creator")
		respondError(w, ctx, http.StatusNotFound, "upload not found")
		return
	}

	response := TrackResponse{
		UploadID:      tracked.UploadID,
		Status:        string(tracked.Status),
		Warnings:      result.Warnings,
		CorrelationID: logger.CorrelationIDFrom(ctx),
	}

	// Finished uploads are answered from the record
	if tracked.Status.IsTerminal() {
		logger.Info(ctx, "Upload already finished", "status", tracked.Status)
		respondJSON(w, ctx, http.StatusOK, response)
		return
	}

	if err := h.queue.Enqueue(ctx, queue.JobTypeTrackUpload, queue.NewTrackUploadPayload(tracked.UploadID)); err != nil {
		logger.LogError(ctx, "Failed to enqueue job", err)
		if queue.IsUnavailableError(err) {
			respondError(w, ctx, http.StatusServiceUnavailable, "queue unavailable")
			return
		}
		respondError(w, ctx, http.StatusInternalServerError, "failed to queue upload tracking")
		return
	}

	logger.Info(ctx, "Enqueued tracking job", "tracked_upload_id", tracked.ID)
	logger.LogSlowOperation(ctx, "track_upload_request", time.Since(startTime))

	respondJSON(w, ctx, http.StatusAccepted, response)
}

// HandleGetUpload handles GET /app/api/uploads/{id}
func (h *UploadHandler) HandleGetUpload(w http.ResponseWriter, r *http.Request) {
	ctx := logger.WithUploadID(r.Context(), mux.Vars(r)["id"])

	tracked, ok := h.loadOwned(w, ctx, mux.Vars(r)["id"])
	if !ok {
		return
	}

	view := tracked.View()
	response := UploadStatusResponse{
		UploadStatusView: view,
		Platform:         tracked.Platform,
		Filename:         tracked.Filename,
		CreatedAt:        tracked.CreatedAt.UTC().Format(time.RFC3339),
	}
	if view.Status == models.UploadStatusFailed {
		response.Headline = upload.FriendlyFailureMessage(upload.FailureFromView(view).ReasonCode)
	}
	if tracked.FinishedAt != nil {
		finished := tracked.FinishedAt.UTC().Format(time.RFC3339)
		response.FinishedAt = &finished
	}

	respondJSON(w, ctx, http.StatusOK, response)
}

// HandleDiagnostics handles GET /app/api/uploads/{id}/diagnostics.
// The body is the diagnostics document the creator copies into a support request.
func (h *UploadHandler) HandleDiagnostics(w http.ResponseWriter, r *http.Request) {
	ctx := logger.WithUploadID(r.Context(), mux.Vars(r)["id"])

	tracked, ok := h.loadOwned(w, ctx, mux.Vars(r)["id"])
	if !ok {
		return
	}

	diagnostics, err := h.diagnosticsFor(ctx, tracked)
	if err != nil {
		logger.LogError(ctx, "Failed to load latest snapshot", err)
		respondError(w, ctx, http.StatusInternalServerError, "internal server error")
		return
	}

	if correlationID := logger.CorrelationIDFrom(ctx); correlationID != "" {
		w.Header().Set("X-Correlation-ID", correlationID)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, diagnostics)
}

// diagnosticsFor describes a failed upload by its recorded failure, and an
// upload still processing by the last poll error, if there was one
func (h *UploadHandler) diagnosticsFor(ctx context.Context, tracked *models.TrackedUpload) (string, error) {
	view := tracked.View()
	if view.Status == models.UploadStatusFailed {
		return upload.DiagnosticsForView(view, upload.FailureFromView(view)), nil
	}

	in := upload.DiagnosticsInput{
		UploadID:   view.UploadID,
		RawStatus:  view.RawStatus,
		ReasonCode: view.ReasonCode,
		Message:    view.Message,
		UpdatedAt:  view.UpdatedAt,
	}

	latest, err := h.snapshotRepo.GetLatest(ctx, tracked.ID)
	switch {
	case errors.Is(err, models.ErrNotFound):
	case err != nil:
		return "", err
	case latest.ErrorMessage != nil:
		if latest.ReasonCode != nil {
			in.ReasonCode = *latest.ReasonCode
		}
		in.Message = *latest.ErrorMessage
	}

	return upload.BuildUploadDiagnostics(in), nil
}

// loadOwned loads a tracked upload the caller may see. Uploads of other
// creators are reported as missing unless the caller is an admin.
func (h *UploadHandler) loadOwned(w http.ResponseWriter, ctx context.Context, uploadID string) (*models.TrackedUpload, bool) {
	session, ok := SessionFrom(ctx)
	if !ok {
		respondError(w, ctx, http.StatusUnauthorized, "authentication required")
		return nil, false
	}

	tracked, err := h.uploadRepo.GetByUploadID(ctx, uploadID)
	if errors.Is(err, models.ErrNotFound) {
		respondError(w, ctx, http.StatusNotFound, "upload not found")
		return nil, false
	}
	if err != nil {
		logger.LogError(ctx, "Failed to get tracked upload", err)
		respondError(w, ctx, http.StatusServiceUnavailable, "database error")
		return nil, false
	}

	if !visibleTo(ctx, session, tracked) {
		respondError(w, ctx, http.StatusNotFound, "upload not found")
		return nil, false
	}
	return tracked, true
}

// visibleTo reports whether the session owns tracked or belongs to an admin
func visibleTo(ctx context.Context, session *Session, tracked *models.TrackedUpload) bool {
	if tracked.CreatorID == session.Subject {
		return true
	}
	access, _ := AccessFrom(ctx)
	return access.IsAdmin
}
