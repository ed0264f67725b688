package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/earnsigma/go_earnsigma/internal/models"
)

// TrackedUploadRepository defines persistence operations for tracked uploads
type TrackedUploadRepository interface {
	// CreateTrackedUpload inserts a record, or loads the existing one for the same upload id
	CreateTrackedUpload(ctx context.Context, upload *models.TrackedUpload) error

	// GetByUploadID retrieves a tracked upload by its backend upload id
	GetByUploadID(ctx context.Context, uploadID string) (*models.TrackedUpload, error)

	// GetByID retrieves a tracked upload by its row id
	GetByID(ctx context.Context, id int64) (*models.TrackedUpload, error)

	// UpdateStatus writes the mutable status columns of a tracked upload
	UpdateStatus(ctx context.Context, upload *models.TrackedUpload) error

	// BeginTx starts a new database transaction
	BeginTx(ctx context.Context) (*sql.Tx, error)

	// UpdateStatusTx is UpdateStatus within a transaction
	UpdateStatusTx(ctx context.Context, tx *sql.Tx, upload *models.TrackedUpload) error

	// GetCountsByStatus returns counts of tracked uploads grouped by status
	GetCountsByStatus(ctx context.Context) (map[string]int, error)

	// ListRecent returns the newest tracked uploads, optionally for one creator
	ListRecent(ctx context.Context, creatorID string, limit int) ([]*models.TrackedUpload, error)
}

// trackedUploadRepository is the concrete implementation of TrackedUploadRepository
type trackedUploadRepository struct {
	db *sql.DB
}

// NewTrackedUploadRepository creates a new TrackedUploadRepository instance
func NewTrackedUploadRepository(db *sql.DB) TrackedUploadRepository {
	return &trackedUploadRepository{
		db: db,
	}
}

const trackedUploadColumns = `
	id, upload_id, creator_id, platform, filename, status,
	raw_status, reason_code, message, report_id, backend_updated_at,
	created_at, updated_at, finished_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrackedUpload(row rowScanner) (*models.TrackedUpload, error) {
	upload := &models.TrackedUpload{}
	err := row.Scan(
		&upload.ID,
		&upload.UploadID,
		&upload.CreatorID,
		&upload.Platform,
		&upload.Filename,
		&upload.Status,
		&upload.RawStatus,
		&upload.ReasonCode,
		&upload.Message,
		&upload.ReportID,
		&upload.BackendAt,
		&upload.CreatedAt,
		&upload.UpdatedAt,
		&upload.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	return upload, nil
}

// CreateTrackedUpload inserts a record. Tracking the same upload twice loads the
// existing row's id, owner, status and creation time instead of failing, so
// callers must check CreatorID before trusting the result.
func (r *trackedUploadRepository) CreateTrackedUpload(ctx context.Context, upload *models.TrackedUpload) error {
	query := `
		INSERT INTO tracked_uploads (
			upload_id, creator_id, platform, filename, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (upload_id) DO UPDATE SET upload_id = EXCLUDED.upload_id
		RETURNING id, creator_id, status, created_at
	`

	now := time.Now()
	if upload.CreatedAt.IsZero() {
		upload.CreatedAt = now
	}
	if upload.UpdatedAt.IsZero() {
		upload.UpdatedAt = now
	}
	if upload.Status == "" {
		upload.Status = models.UploadStatusProcessing
	}

	err := r.db.QueryRowContext(
		ctx,
		query,
		upload.UploadID,
		upload.CreatorID,
		upload.Platform,
		upload.Filename,
		upload.Status,
		upload.CreatedAt,
		upload.UpdatedAt,
	).Scan(&upload.ID, &upload.CreatorID, &upload.Status, &upload.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create tracked upload: %w", err)
	}

	return nil
}

// GetByUploadID retrieves a tracked upload by its backend upload id
func (r *trackedUploadRepository) GetByUploadID(ctx context.Context, uploadID string) (*models.TrackedUpload, error) {
	query := `SELECT` + trackedUploadColumns + `
		FROM tracked_uploads
		WHERE upload_id = $1
	`

	upload, err := scanTrackedUpload(r.db.QueryRowContext(ctx, query, uploadID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("tracked upload %s: %w", uploadID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tracked upload: %w", err)
	}

	return upload, nil
}

// GetByID retrieves a tracked upload by its row id
func (r *trackedUploadRepository) GetByID(ctx context.Context, id int64) (*models.TrackedUpload, error) {
	query := `SELECT` + trackedUploadColumns + `
		FROM tracked_uploads
		WHERE id = $1
	`

	upload, err := scanTrackedUpload(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("tracked upload %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tracked upload: %w", err)
	}

	return upload, nil
}

const updateTrackedUploadQuery = `
	UPDATE tracked_uploads
	SET status = $1, raw_status = $2, reason_code = $3, message = $4,
		report_id = $5, backend_updated_at = $6, updated_at = $7, finished_at = $8
	WHERE id = $9
`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func updateTrackedUpload(ctx context.Context, db execer, upload *models.TrackedUpload) error {
	result, err := db.ExecContext(
		ctx,
		updateTrackedUploadQuery,
		upload.Status,
		upload.RawStatus,
		upload.ReasonCode,
		upload.Message,
		upload.ReportID,
		upload.BackendAt,
		upload.UpdatedAt,
		upload.FinishedAt,
		upload.ID,
	)
	if err != nil {
		return err
	}

	return expectOneRow(result, fmt.Sprintf("tracked upload %d", upload.ID))
}

// UpdateStatus writes the mutable status columns of a tracked upload
func (r *trackedUploadRepository) UpdateStatus(ctx context.Context, upload *models.TrackedUpload) error {
	if err := updateTrackedUpload(ctx, r.db, upload); err != nil {
		return fmt.Errorf("failed to update tracked upload status: %w", err)
	}
	return nil
}

// BeginTx starts a new database transaction
func (r *trackedUploadRepository) BeginTx(ctx context.Context) (*sql.Tx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return tx, nil
}

// UpdateStatusTx writes the mutable status columns within a transaction
func (r *trackedUploadRepository) UpdateStatusTx(ctx context.Context, tx *sql.Tx, upload *models.TrackedUpload) error {
	if err := updateTrackedUpload(ctx, tx, upload); err != nil {
		return fmt.Errorf("failed to update tracked upload status in transaction: %w", err)
	}
	return nil
}

// GetCountsByStatus returns counts of tracked uploads grouped by status
func (r *trackedUploadRepository) GetCountsByStatus(ctx context.Context) (map[string]int, error) {
	query := `
		SELECT status, COUNT(*) as count
		FROM tracked_uploads
		GROUP BY status
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query upload counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		counts[status] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return counts, nil
}

// ListRecent returns the newest tracked uploads. An empty creatorID lists every creator.
func (r *trackedUploadRepository) ListRecent(ctx context.Context, creatorID string, limit int) ([]*models.TrackedUpload, error) {
	query := `SELECT` + trackedUploadColumns + `
		FROM tracked_uploads
		WHERE ($1 = '' OR creator_id = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, creatorID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent uploads: %w", err)
	}
	defer rows.Close()

	uploads := make([]*models.TrackedUpload, 0, limit)
	for rows.Next() {
		upload, err := scanTrackedUpload(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tracked upload: %w", err)
		}
		uploads = append(uploads, upload)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return uploads, nil
}

func expectOneRow(result sql.Result, what string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s: %w", what, models.ErrNotFound)
	}
	return nil
}
