package queue

import (
	"context"
	"time"
)

// JobTypeTrackUpload follows a backend upload until it reaches a terminal status
const JobTypeTrackUpload = "track_upload"

// Job represents a background job to be processed
type Job struct {
	ID        int64                  `json:"id"`
	Type      string                 `json:"type"`
	Payload   map[string]interface{} `json:"payload"`
	CreatedAt time.Time              `json:"created_at"`
	NextRunAt time.Time              `json:"next_run_at"`
	Attempts  int                    `json:"attempts"`
}

// Queue defines the interface for job queue operations
type Queue interface {
	// Enqueue adds a new job to the queue
	Enqueue(ctx context.Context, jobType string, payload map[string]interface{}) error

	// EnqueueWithDelay adds a job to be processed after a delay
	EnqueueWithDelay(ctx context.Context, jobType string, payload map[string]interface{}, delay time.Duration) error

	// Dequeue retrieves the next available job from the queue
	// Returns nil if no jobs are available
	Dequeue(ctx context.Context) (*Job, error)

	// Complete marks a job as successfully completed
	Complete(ctx context.Context, jobID int64) error

	// Retry reschedules a job for retry with a delay
	Retry(ctx context.Context, jobID int64, delay time.Duration) error

	// Fail marks a job as permanently failed
	Fail(ctx context.Context, jobID int64, errorMsg string) error

	// Release returns an interrupted job to pending without counting the attempt
	Release(ctx context.Context, jobID int64) error

	// CountsByStatus returns job counts grouped by status
	CountsByStatus(ctx context.Context) (map[string]int, error)

	// HealthCheck verifies the queue is operational
	HealthCheck(ctx context.Context) error

	// Close closes the queue connection
	Close() error
}

// NewTrackUploadPayload creates the payload of a track_upload job
func NewTrackUploadPayload(uploadID string) map[string]interface{} {
	return map[string]interface{}{
		"upload_id": uploadID,
	}
}

// GetUploadID extracts upload_id from a job payload
func GetUploadID(payload map[string]interface{}) (string, bool) {
	uploadID, ok := payload["upload_id"].(string)
	if !ok || uploadID == "" {
		return "", false
	}
	return uploadID, true
}
