package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/earnsigma/go_earnsigma/internal/logger"
	"github.com/earnsigma/go_earnsigma/internal/models"
	"github.com/earnsigma/go_earnsigma/internal/queue"
	"github.com/earnsigma/go_earnsigma/internal/repository"
	"github.com/gorilla/mux"
)

const (
	defaultRecentLimit = 50
	maxRecentLimit     = 200
)

// StatsHandler handles the admin observability endpoints
type StatsHandler struct {
	uploadRepo   repository.TrackedUploadRepository
	snapshotRepo repository.StatusSnapshotRepository
	queue        queue.Queue
}

// NewStatsHandler creates a new StatsHandler
func NewStatsHandler(uploadRepo repository.TrackedUploadRepository, snapshotRepo repository.StatusSnapshotRepository, q queue.Queue) *StatsHandler {
	return &StatsHandler{
		uploadRepo:   uploadRepo,
		snapshotRepo: snapshotRepo,
		queue:        q,
	}
}

// UploadCountsByStatus represents tracked upload counts grouped by status
type UploadCountsByStatus struct {
	Processing int            `json:"processing"`
	Ready      int            `json:"ready"`
	Failed     int            `json:"failed"`
	Total      int            `json:"total"`
	Jobs       map[string]int `json:"jobs"`
}

// RecentUploadSummary represents a summary of a recently tracked upload
type RecentUploadSummary struct {
	UploadID   string  `json:"upload_id"`
	CreatorID  string  `json:"creator_id"`
	Platform   string  `json:"platform"`
	Status     string  `json:"status"`
	ReasonCode *string `json:"reason_code,omitempty"`
	CreatedAt  string  `json:"created_at"`
}

// UploadHistoryResponse represents the full polling history of an upload
type UploadHistoryResponse struct {
	RecentUploadSummary
	Filename   string            `json:"filename"`
	RawStatus  *string           `json:"raw_status,omitempty"`
	Message    *string           `json:"message,omitempty"`
	ReportID   *string           `json:"report_id,omitempty"`
	FinishedAt *string           `json:"finished_at,omitempty"`
	Snapshots  []SnapshotSummary `json:"snapshots"`
}

// SnapshotSummary represents one recorded poll
type SnapshotSummary struct {
	PollNo       int     `json:"poll_no"`
	ObservedAt   string  `json:"observed_at"`
	Status       string  `json:"status"`
	RawStatus    *string `json:"raw_status,omitempty"`
	ReasonCode   *string `json:"reason_code,omitempty"`
	ErrorMessage *string `json:"error_message,omitempty"`
}

// HandleUploadCounts handles GET /app/admin/uploads/counts
func (h *StatsHandler) HandleUploadCounts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	logger.Info(ctx, "Fetching upload counts by status")

	counts, err := h.uploadRepo.GetCountsByStatus(ctx)
	if err != nil {
		logger.LogError(ctx, "Failed to get upload counts", err)
		respondError(w, ctx, http.StatusInternalServerError, "internal server error")
		return
	}

	jobs, err := h.queue.CountsByStatus(ctx)
	if err != nil {
		logger.LogError(ctx, "Failed to get job counts", err)
		respondError(w, ctx, http.StatusInternalServerError, "internal server error")
		return
	}

	total := 0
	for _, count := range counts {
		total += count
	}

	respondJSON(w, ctx, http.StatusOK, UploadCountsByStatus{
		Processing: counts[string(models.UploadStatusProcessing)],
		Ready:      counts[string(models.UploadStatusReady)],
		Failed:     counts[string(models.UploadStatusFailed)],
		Total:      total,
		Jobs:       jobs,
	})
}

// HandleRecentUploads handles GET /app/admin/uploads/recent.
// ?creator= filters by creator and ?limit= caps the result.
func (h *StatsHandler) HandleRecentUploads(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := defaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			respondError(w, ctx, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(parsed, maxRecentLimit)
	}
	creatorID := r.URL.Query().Get("creator")

	logger.Info(ctx, "Fetching recent uploads", "limit", limit, "creator", creatorID)

	uploads, err := h.uploadRepo.ListRecent(ctx, creatorID, limit)
	if err != nil {
		logger.LogError(ctx, "Failed to get recent uploads", err)
		respondError(w, ctx, http.StatusInternalServerError, "internal server error")
		return
	}

	response := make([]RecentUploadSummary, 0, len(uploads))
	for _, u := range uploads {
		response = append(response, summarize(u))
	}

	respondJSON(w, ctx, http.StatusOK, response)
}

// HandleUploadHistory handles GET /app/admin/uploads/{id}/history
func (h *StatsHandler) HandleUploadHistory(w http.ResponseWriter, r *http.Request) {
	uploadID := mux.Vars(r)["id"]
	ctx := logger.WithUploadID(r.Context(), uploadID)

	logger.Info(ctx, "Fetching upload history")

	tracked, err := h.uploadRepo.GetByUploadID(ctx, uploadID)
	if errors.Is(err, models.ErrNotFound) {
		respondError(w, ctx, http.StatusNotFound, "upload not found")
		return
	}
	if err != nil {
		logger.LogError(ctx, "Failed to get tracked upload", err)
		respondError(w, ctx, http.StatusInternalServerError, "internal server error")
		return
	}

	snapshots, err := h.snapshotRepo.ListByTrackedUpload(ctx, tracked.ID)
	if err != nil {
		logger.LogError(ctx, "Failed to get status snapshots", err)
		respondError(w, ctx, http.StatusInternalServerError, "internal server error")
		return
	}

	summaries := make([]SnapshotSummary, 0, len(snapshots))
	for _, s := range snapshots {
		summaries = append(summaries, SnapshotSummary{
			PollNo:       s.PollNo,
			ObservedAt:   s.ObservedAt.UTC().Format(time.RFC3339),
			Status:       string(s.Status),
			RawStatus:    s.RawStatus,
			ReasonCode:   s.ReasonCode,
			ErrorMessage: s.ErrorMessage,
		})
	}

	response := UploadHistoryResponse{
		RecentUploadSummary: summarize(tracked),
		Filename:            tracked.Filename,
		RawStatus:           tracked.RawStatus,
		Message:             tracked.Message,
		ReportID:            tracked.ReportID,
		Snapshots:           summaries,
	}
	if tracked.FinishedAt != nil {
		finished := tracked.FinishedAt.UTC().Format(time.RFC3339)
		response.FinishedAt = &finished
	}

	respondJSON(w, ctx, http.StatusOK, response)
}

func summarize(u *models.TrackedUpload) RecentUploadSummary {
	return RecentUploadSummary{
		UploadID:   u.UploadID,
		CreatorID:  u.CreatorID,
		Platform:   string(u.Platform),
		Status:     string(u.Status),
		ReasonCode: u.ReasonCode,
		CreatedAt:  u.CreatedAt.UTC().Format(time.RFC3339),
	}
}
