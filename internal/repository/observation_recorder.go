package repository

import (
	"context"
	"fmt"

	"github.com/earnsigma/go_earnsigma/internal/models"
)

// ObservationRecorder writes a poll snapshot and the matching tracked upload
// update in one transaction
type ObservationRecorder struct {
	uploads   TrackedUploadRepository
	snapshots StatusSnapshotRepository
}

// NewObservationRecorder creates a new ObservationRecorder
func NewObservationRecorder(uploads TrackedUploadRepository, snapshots StatusSnapshotRepository) *ObservationRecorder {
	return &ObservationRecorder{
		uploads:   uploads,
		snapshots: snapshots,
	}
}

// RecordObservation inserts snapshot and persists upload's current status columns
func (r *ObservationRecorder) RecordObservation(ctx context.Context, upload *models.TrackedUpload, snapshot *models.StatusSnapshot) error {
	tx, err := r.uploads.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := r.snapshots.CreateSnapshotTx(ctx, tx, snapshot); err != nil {
		return err
	}
	if err := r.uploads.UpdateStatusTx(ctx, tx, upload); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
