package worker

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/earnsigma/go_earnsigma/internal/models"
	"github.com/earnsigma/go_earnsigma/internal/queue"
)

type retriedJob struct {
	id    int64
	delay time.Duration
}

type fakeQueue struct {
	mu        sync.Mutex
	jobs      []*queue.Job
	completed []int64
	retried   []retriedJob
	released  []int64
	failed    map[int64]string
}

func newFakeQueue(jobs ...*queue.Job) *fakeQueue {
	return &fakeQueue{jobs: jobs, failed: make(map[int64]string)}
}

func (q *fakeQueue) Enqueue(ctx context.Context, jobType string, payload map[string]interface{}) error {
	return q.EnqueueWithDelay(ctx, jobType, payload, 0)
}

func (q *fakeQueue) EnqueueWithDelay(ctx context.Context, jobType string, payload map[string]interface{}, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, &queue.Job{ID: int64(len(q.jobs) + 1), Type: jobType, Payload: payload})
	return nil
}

func (q *fakeQueue) Dequeue(ctx context.Context) (*queue.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return nil, nil
	}
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	job.Attempts++
	return job, nil
}

func (q *fakeQueue) Complete(ctx context.Context, jobID int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.completed = append(q.completed, jobID)
	return nil
}

func (q *fakeQueue) Retry(ctx context.Context, jobID int64, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.retried = append(q.retried, retriedJob{id: jobID, delay: delay})
	return nil
}

func (q *fakeQueue) Release(ctx context.Context, jobID int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.released = append(q.released, jobID)
	return nil
}

func (q *fakeQueue) Fail(ctx context.Context, jobID int64, errorMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failed[jobID] = errorMsg
	return nil
}

func (q *fakeQueue) CountsByStatus(ctx context.Context) (map[string]int, error) {
	return map[string]int{}, nil
}

func (q *fakeQueue) HealthCheck(ctx context.Context) error { return nil }

func (q *fakeQueue) Close() error { return nil }

type fakeUploadRepo struct {
	mu      sync.Mutex
	uploads map[string]*models.TrackedUpload
	getErr  error
	updates int
}

func newFakeUploadRepo(uploads ...*models.TrackedUpload) *fakeUploadRepo {
	repo := &fakeUploadRepo{uploads: make(map[string]*models.TrackedUpload)}
	for i, u := range uploads {
		u.ID = int64(i + 1)
		repo.uploads[u.UploadID] = u
	}
	return repo
}

func (r *fakeUploadRepo) CreateTrackedUpload(ctx context.Context, upload *models.TrackedUpload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	upload.ID = int64(len(r.uploads) + 1)
	r.uploads[upload.UploadID] = upload
	return nil
}

func (r *fakeUploadRepo) GetByUploadID(ctx context.Context, uploadID string) (*models.TrackedUpload, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return nil, r.getErr
	}
	u, ok := r.uploads[uploadID]
	if !ok {
		return nil, fmt.Errorf("tracked upload %s: %w", uploadID, models.ErrNotFound)
	}
	return u, nil
}

func (r *fakeUploadRepo) GetByID(ctx context.Context, id int64) (*models.TrackedUpload, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.uploads {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, models.ErrNotFound
}

func (r *fakeUploadRepo) UpdateStatus(ctx context.Context, upload *models.TrackedUpload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates++
	return nil
}

func (r *fakeUploadRepo) BeginTx(ctx context.Context) (*sql.Tx, error) { return nil, nil }

func (r *fakeUploadRepo) UpdateStatusTx(ctx context.Context, tx *sql.Tx, upload *models.TrackedUpload) error {
	return r.UpdateStatus(ctx, upload)
}

func (r *fakeUploadRepo) GetCountsByStatus(ctx context.Context) (map[string]int, error) {
	return map[string]int{}, nil
}

func (r *fakeUploadRepo) ListRecent(ctx context.Context, creatorID string, limit int) ([]*models.TrackedUpload, error) {
	return nil, nil
}

type fakeSnapshotRepo struct {
	mu        sync.Mutex
	snapshots []*models.StatusSnapshot
}

func (r *fakeSnapshotRepo) CreateSnapshot(ctx context.Context, snapshot *models.StatusSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot.ID = int64(len(r.snapshots) + 1)
	r.snapshots = append(r.snapshots, snapshot)
	return nil
}

func (r *fakeSnapshotRepo) CreateSnapshotTx(ctx context.Context, tx *sql.Tx, snapshot *models.StatusSnapshot) error {
	return r.CreateSnapshot(ctx, snapshot)
}

func (r *fakeSnapshotRepo) ListByTrackedUpload(ctx context.Context, trackedUploadID int64) ([]*models.StatusSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.StatusSnapshot
	for _, s := range r.snapshots {
		if s.TrackedUploadID == trackedUploadID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *fakeSnapshotRepo) GetLatest(ctx context.Context, trackedUploadID int64) (*models.StatusSnapshot, error) {
	list, _ := r.ListByTrackedUpload(ctx, trackedUploadID)
	if len(list) == 0 {
		return nil, models.ErrNotFound
	}
	return list[len(list)-1], nil
}

func (r *fakeSnapshotRepo) CountSnapshots(ctx context.Context, trackedUploadID int64) (int, error) {
	list, _ := r.ListByTrackedUpload(ctx, trackedUploadID)
	return len(list), nil
}

// fakeRecorder stores snapshots in the snapshot repo, like the transactional recorder
type fakeRecorder struct {
	snapshots *fakeSnapshotRepo
	err       error
}

func (r *fakeRecorder) RecordObservation(ctx context.Context, upload *models.TrackedUpload, snapshot *models.StatusSnapshot) error {
	if r.err != nil {
		return r.err
	}
	return r.snapshots.CreateSnapshot(ctx, snapshot)
}

type statusResponse struct {
	view models.UploadStatusView
	err  error
}

// fakeStatusSource replays responses per upload; the last one repeats
type fakeStatusSource struct {
	mu        sync.Mutex
	responses map[string][]statusResponse
	calls     map[string]int
}

func newFakeStatusSource() *fakeStatusSource {
	return &fakeStatusSource{
		responses: make(map[string][]statusResponse),
		calls:     make(map[string]int),
	}
}

func (s *fakeStatusSource) add(uploadID string, responses ...statusResponse) {
	s.responses[uploadID] = append(s.responses[uploadID], responses...)
}

func (s *fakeStatusSource) StatusFunc(uploadID string) func(ctx context.Context) (models.UploadStatusView, error) {
	return func(ctx context.Context) (models.UploadStatusView, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		responses := s.responses[uploadID]
		if len(responses) == 0 {
			return models.UploadStatusView{}, fmt.Errorf("no response configured for %s", uploadID)
		}
		i := s.calls[uploadID]
		s.calls[uploadID]++
		if i >= len(responses) {
			i = len(responses) - 1
		}
		return responses[i].view, responses[i].err
	}
}

func viewOf(raw string) statusResponse {
	return statusResponse{view: models.MapUploadStatus(models.UploadStatusEnvelope{Status: raw})}
}
