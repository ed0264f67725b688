package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/earnsigma/go_earnsigma/internal/models"
)

// StatusSnapshotRepository defines persistence operations for poll snapshots
type StatusSnapshotRepository interface {
	// CreateSnapshot records one poll observation
	CreateSnapshot(ctx context.Context, snapshot *models.StatusSnapshot) error

	// CreateSnapshotTx records one poll observation within a transaction
	CreateSnapshotTx(ctx context.Context, tx *sql.Tx, snapshot *models.StatusSnapshot) error

	// ListByTrackedUpload returns every snapshot of an upload in poll order
	ListByTrackedUpload(ctx context.Context, trackedUploadID int64) ([]*models.StatusSnapshot, error)

	// GetLatest returns the most recent snapshot of an upload
	GetLatest(ctx context.Context, trackedUploadID int64) (*models.StatusSnapshot, error)

	// CountSnapshots returns the number of snapshots recorded for an upload
	CountSnapshots(ctx context.Context, trackedUploadID int64) (int, error)
}

// statusSnapshotRepository is the concrete implementation of StatusSnapshotRepository
type statusSnapshotRepository struct {
	db *sql.DB
}

// NewStatusSnapshotRepository creates a new StatusSnapshotRepository instance
func NewStatusSnapshotRepository(db *sql.DB) StatusSnapshotRepository {
	return &statusSnapshotRepository{
		db: db,
	}
}

const insertSnapshotQuery = `
	INSERT INTO status_snapshots (
		tracked_upload_id, poll_no, observed_at, status, raw_status,
		reason_code, message, error_message, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	RETURNING id
`

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func insertSnapshot(ctx context.Context, db queryRower, snapshot *models.StatusSnapshot) error {
	now := time.Now()
	if snapshot.ObservedAt.IsZero() {
		snapshot.ObservedAt = now
	}
	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = now
	}

	return db.QueryRowContext(
		ctx,
		insertSnapshotQuery,
		snapshot.TrackedUploadID,
		snapshot.PollNo,
		snapshot.ObservedAt,
		snapshot.Status,
		snapshot.RawStatus,
		snapshot.ReasonCode,
		snapshot.Message,
		snapshot.ErrorMessage,
		snapshot.CreatedAt,
	).Scan(&snapshot.ID)
}

// CreateSnapshot records one poll observation
func (r *statusSnapshotRepository) CreateSnapshot(ctx context.Context, snapshot *models.StatusSnapshot) error {
	if err := insertSnapshot(ctx, r.db, snapshot); err != nil {
		return fmt.Errorf("failed to create status snapshot: %w", err)
	}
	return nil
}

// CreateSnapshotTx records one poll observation within a transaction
func (r *statusSnapshotRepository) CreateSnapshotTx(ctx context.Context, tx *sql.Tx, snapshot *models.StatusSnapshot) error {
	if err := insertSnapshot(ctx, tx, snapshot); err != nil {
		return fmt.Errorf("failed to create status snapshot in transaction: %w", err)
	}
	return nil
}

const snapshotColumns = `
	id, tracked_upload_id, poll_no, observed_at, status, raw_status,
	reason_code, message, error_message, created_at`

func scanSnapshot(row rowScanner) (*models.StatusSnapshot, error) {
	snapshot := &models.StatusSnapshot{}
	err := row.Scan(
		&snapshot.ID,
		&snapshot.TrackedUploadID,
		&snapshot.PollNo,
		&snapshot.ObservedAt,
		&snapshot.Status,
		&snapshot.RawStatus,
		&snapshot.ReasonCode,
		&snapshot.Message,
		&snapshot.ErrorMessage,
		&snapshot.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// ListByTrackedUpload returns every snapshot of an upload in poll order
func (r *statusSnapshotRepository) ListByTrackedUpload(ctx context.Context, trackedUploadID int64) ([]*models.StatusSnapshot, error) {
	query := `SELECT` + snapshotColumns + `
		FROM status_snapshots
		WHERE tracked_upload_id = $1
		ORDER BY poll_no ASC, id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, trackedUploadID)
	if err != nil {
		return nil, fmt.Errorf("failed to query status snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []*models.StatusSnapshot
	for rows.Next() {
		snapshot, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan status snapshot: %w", err)
		}
		snapshots = append(snapshots, snapshot)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return snapshots, nil
}

// GetLatest returns the most recent snapshot of an upload
func (r *statusSnapshotRepository) GetLatest(ctx context.Context, trackedUploadID int64) (*models.StatusSnapshot, error) {
	query := `SELECT` + snapshotColumns + `
		FROM status_snapshots
		WHERE tracked_upload_id = $1
		ORDER BY poll_no DESC, id DESC
		LIMIT 1
	`

	snapshot, err := scanSnapshot(r.db.QueryRowContext(ctx, query, trackedUploadID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("snapshot for tracked upload %d: %w", trackedUploadID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest status snapshot: %w", err)
	}

	return snapshot, nil
}

// CountSnapshots returns the number of snapshots recorded for an upload
func (r *statusSnapshotRepository) CountSnapshots(ctx context.Context, trackedUploadID int64) (int, error) {
	query := `SELECT COUNT(*) FROM status_snapshots WHERE tracked_upload_id = $1`

	var count int
	if err := r.db.QueryRowContext(ctx, query, trackedUploadID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count status snapshots: %w", err)
	}

	return count, nil
}
