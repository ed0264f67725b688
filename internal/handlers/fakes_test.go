package handlers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/earnsigma/go_earnsigma/internal/client"
	"github.com/earnsigma/go_earnsigma/internal/config"
	"github.com/earnsigma/go_earnsigma/internal/models"
	"github.com/earnsigma/go_earnsigma/internal/queue"
	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-jwt-secret"

func testConfig() *config.Config {
	return &config.Config{
		Auth: config.AuthConfig{
			Enabled:   true,
			JWTSecret: testSecret,
		},
	}
}

func signToken(t *testing.T, subject, email string, expiresIn time.Duration) string {
	t.Helper()
	claims := SessionClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return token
}

// withSession returns req carrying a session, optionally with admin access
func withSession(req *http.Request, subject string, admin bool) *http.Request {
	ctx := WithSession(req.Context(), &Session{Subject: subject, AccessToken: "token-" + subject})
	ctx = context.WithValue(ctx, accessKey{}, Access{IsAdmin: admin})
	return req.WithContext(ctx)
}

type fakeUploadRepo struct {
	mu        sync.Mutex
	uploads   map[string]*models.TrackedUpload
	nextID    int64
	createErr error
	getErr    error
	counts    map[string]int
	listErr   error
	listArgs  []string
}

func newFakeUploadRepo(uploads ...*models.TrackedUpload) *fakeUploadRepo {
	r := &fakeUploadRepo{uploads: make(map[string]*models.TrackedUpload), nextID: 1}
	for _, u := range uploads {
		if u.ID == 0 {
			u.ID = r.nextID
		}
		r.nextID = u.ID + 1
		r.uploads[u.UploadID] = u
	}
	return r
}

func (r *fakeUploadRepo) CreateTrackedUpload(ctx context.Context, upload *models.TrackedUpload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	if existing, ok := r.uploads[upload.UploadID]; ok {
		upload.ID = existing.ID
		upload.CreatorID = existing.CreatorID
		upload.Status = existing.Status
		upload.CreatedAt = existing.CreatedAt
		return nil
	}
	upload.ID = r.nextID
	r.nextID++
	stored := *upload
	r.uploads[upload.UploadID] = &stored
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
	copied := *u
	return &copied, nil
}

func (r *fakeUploadRepo) GetByID(ctx context.Context, id int64) (*models.TrackedUpload, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.uploads {
		if u.ID == id {
			copied := *u
			return &copied, nil
		}
	}
	return nil, models.ErrNotFound
}

func (r *fakeUploadRepo) UpdateStatus(ctx context.Context, upload *models.TrackedUpload) error {
	return errors.New("not used")
}

func (r *fakeUploadRepo) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return nil, errors.New("not used")
}

func (r *fakeUploadRepo) UpdateStatusTx(ctx context.Context, tx *sql.Tx, upload *models.TrackedUpload) error {
	return errors.New("not used")
}

func (r *fakeUploadRepo) GetCountsByStatus(ctx context.Context) (map[string]int, error) {
	return r.counts, nil
}

func (r *fakeUploadRepo) ListRecent(ctx context.Context, creatorID string, limit int) ([]*models.TrackedUpload, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listArgs = append(r.listArgs, fmt.Sprintf("%s:%d", creatorID, limit))
	if r.listErr != nil {
		return nil, r.listErr
	}
	var out []*models.TrackedUpload
	for _, u := range r.uploads {
		if creatorID == "" || u.CreatorID == creatorID {
			out = append(out, u)
		}
	}
	return out, nil
}

type fakeSnapshotRepo struct {
	snapshots map[int64][]*models.StatusSnapshot
	err       error
}

func (r *fakeSnapshotRepo) CreateSnapshot(ctx context.Context, snapshot *models.StatusSnapshot) error {
	return errors.New("not used")
}

func (r *fakeSnapshotRepo) CreateSnapshotTx(ctx context.Context, tx *sql.Tx, snapshot *models.StatusSnapshot) error {
	return errors.New("not used")
}

func (r *fakeSnapshotRepo) ListByTrackedUpload(ctx context.Context, trackedUploadID int64) ([]*models.StatusSnapshot, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.snapshots[trackedUploadID], nil
}

func (r *fakeSnapshotRepo) GetLatest(ctx context.Context, trackedUploadID int64) (*models.StatusSnapshot, error) {
	if r.err != nil {
		return nil, r.err
	}
	list := r.snapshots[trackedUploadID]
	if len(list) == 0 {
		return nil, fmt.Errorf("snapshot for tracked upload %d: %w", trackedUploadID, models.ErrNotFound)
	}
	return list[len(list)-1], nil
}

func (r *fakeSnapshotRepo) CountSnapshots(ctx context.Context, trackedUploadID int64) (int, error) {
	return len(r.snapshots[trackedUploadID]), nil
}

type enqueuedJob struct {
	jobType string
	payload map[string]interface{}
}

type fakeQueue struct {
	mu         sync.Mutex
	enqueued   []enqueuedJob
	enqueueErr error
	counts     map[string]int
	healthErr  error
}

func (q *fakeQueue) Enqueue(ctx context.Context, jobType string, payload map[string]interface{}) error {
	return q.EnqueueWithDelay(ctx, jobType, payload, 0)
}

func (q *fakeQueue) EnqueueWithDelay(ctx context.Context, jobType string, payload map[string]interface{}, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.enqueueErr != nil {
		return q.enqueueErr
	}
	q.enqueued = append(q.enqueued, enqueuedJob{jobType: jobType, payload: payload})
	return nil
}

func (q *fakeQueue) Dequeue(ctx context.Context) (*queue.Job, error) { return nil, nil }
func (q *fakeQueue) Complete(ctx context.Context, jobID int64) error { return nil }
func (q *fakeQueue) Retry(ctx context.Context, jobID int64, d time.Duration) error { return nil }
func (q *fakeQueue) Fail(ctx context.Context, jobID int64, errorMsg string) error { return nil }
func (q *fakeQueue) Release(ctx context.Context, jobID int64) error { return nil }
func (q *fakeQueue) CountsByStatus(ctx context.Context) (map[string]int, error) { return q.counts, nil }
func (q *fakeQueue) HealthCheck(ctx context.Context) error { return q.healthErr }
func (q *fakeQueue) Close() error { return nil }

type fakeAccess struct {
	mu              sync.Mutex
	entitlements    models.Entitlements
	entitlementsErr error
	whoami          models.AdminWhoAmI
	whoamiErr       error
	scopes          []string
	tokens          []string
}

func (a *fakeAccess) FetchEntitlements(ctx context.Context, opts client.FetchOptions) (models.Entitlements, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scopes = append(a.scopes, opts.Scope)
	a.tokens = append(a.tokens, client.AccessTokenFrom(ctx))
	return a.entitlements, a.entitlementsErr
}

func (a *fakeAccess) FetchAdminWhoAmI(ctx context.Context, opts client.FetchOptions) (models.AdminWhoAmI, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scopes = append(a.scopes, opts.Scope)
	return a.whoami, a.whoamiErr
}

type fakeBilling struct {
	fakeAccess
	resets      []string
	checkout    models.CheckoutSession
	checkoutErr error
	plans       []models.CheckoutPlan
	lastRefresh bool
}

func (b *fakeBilling) FetchEntitlements(ctx context.Context, opts client.FetchOptions) (models.Entitlements, error) {
	b.lastRefresh = opts.ForceRefresh
	return b.fakeAccess.FetchEntitlements(ctx, opts)
}

func (b *fakeBilling) ResetEntitlementsCache(ctx context.Context, scope string) error {
	b.resets = append(b.resets, scope)
	return nil
}

func (b *fakeBilling) CreateCheckoutSession(ctx context.Context, plan models.CheckoutPlan, scope string) (models.CheckoutSession, error) {
	b.plans = append(b.plans, plan)
	return b.checkout, b.checkoutErr
}

func strPtr(s string) *string {
	return &s
}
