package integration

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/earnsigma/go_earnsigma/internal/client"
	"github.com/earnsigma/go_earnsigma/internal/config"
	"github.com/earnsigma/go_earnsigma/internal/database"
	"github.com/earnsigma/go_earnsigma/internal/handlers"
	"github.com/earnsigma/go_earnsigma/internal/logger"
	"github.com/earnsigma/go_earnsigma/internal/queue"
	"github.com/earnsigma/go_earnsigma/internal/repository"
	"github.com/earnsigma/go_earnsigma/internal/worker"
	"github.com/golang-jwt/jwt/v5"
)

const testJWTSecret = "integration-secret"

// testEnv is a gateway and worker wired to a real database and a fake backend
type testEnv struct {
	cfg       *config.Config
	db        *database.DB
	uploads   repository.TrackedUploadRepository
	snapshots repository.StatusSnapshotRepository
	queue     *queue.DBQueue
	backend   *fakeBackend
	api       *client.Client
	router    http.Handler
}

func setupTestEnvironment(t *testing.T) *testEnv {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping database test in short mode")
	}

	logger.InitWithWriter(io.Discard, "error", "json")
	t.Setenv("SUPABASE_JWT_SECRET", testJWTSecret)

	cfg, err := config.Load()
	if err != nil {
		t.Skipf("Skipping test - failed to load config: %v", err)
	}
	cfg.Hosts.EnforceCanonical = false
	cfg.Frontend.URL = ""

	db, err := database.InitFromConfig(cfg)
	if err != nil {
		t.Skipf("Skipping test - failed to connect to database: %v", err)
	}

	ctx := context.Background()
	if err := database.RunMigrations(ctx, db, io.Discard); err != nil {
		db.Close()
		t.Skipf("Skipping test - failed to run migrations: %v", err)
	}

	cleanTables(db)
	t.Cleanup(func() {
		cleanTables(db)
		db.Close()
	})

	q, err := queue.NewDBQueue(db.DB)
	if err != nil {
		t.Fatalf("Failed to create queue: %v", err)
	}

	backend := newFakeBackend(t, "unused")
	api := client.NewClient(client.Config{
		BaseURL:     backend.server.URL,
		TokenSource: client.StaticToken("service-token"),
		Store:       repository.NewCacheStore(db.DB),
	})

	env := &testEnv{
		cfg:       cfg,
		db:        db,
		uploads:   repository.NewTrackedUploadRepository(db.DB),
		snapshots: repository.NewStatusSnapshotRepository(db.DB),
		queue:     q,
		backend:   backend,
		api:       api,
	}
	env.router = env.newRouter(t, q)
	return env
}

func (e *testEnv) newRouter(t *testing.T, q queue.Queue) http.Handler {
	t.Helper()
	router, err := handlers.NewRouter(handlers.RouterConfig{
		Config:  e.cfg,
		Uploads: handlers.NewUploadHandler(e.uploads, e.snapshots, q),
		Stats:   handlers.NewStatsHandler(e.uploads, e.snapshots, q),
		Billing: handlers.NewBillingHandler(e.api),
		Access:  e.api,
		Health:  []handlers.HealthChecker{e.db, q},
	})
	if err != nil {
		t.Fatalf("Failed to build router: %v", err)
	}
	return router
}

func (e *testEnv) newProcessor(maxAttempts int) *worker.Processor {
	delays := make([]time.Duration, maxAttempts)
	return worker.NewProcessor(worker.ProcessorConfig{
		Queue:                    e.queue,
		UploadRepo:               e.uploads,
		SnapshotRepo:             e.snapshots,
		Recorder:                 repository.NewObservationRecorder(e.uploads, e.snapshots),
		StatusSource:             e.api,
		PollOptions:              fastPolling(),
		MaxAttempts:              maxAttempts,
		ExponentialBackoffDelays: delays,
	})
}

// runNextJob dequeues one job and processes it like a worker loop would
func (e *testEnv) runNextJob(t *testing.T, processor *worker.Processor) (*queue.Job, error) {
	t.Helper()
	ctx := context.Background()
	job, err := e.queue.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Failed to dequeue job: %v", err)
	}
	if job == nil {
		t.Fatal("Expected a job to be queued")
	}
	return job, processor.ProcessJob(ctx, job)
}

func (e *testEnv) do(t *testing.T, method, target, subject, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if subject != "" {
		req.Header.Set("Authorization", "Bearer "+sessionToken(t, subject))
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) jobStatus(t *testing.T, jobID int64) (status string, attempts int) {
	t.Helper()
	err := e.db.QueryRowContext(context.Background(),
		"SELECT status, attempts FROM background_jobs WHERE id = $1", jobID).Scan(&status, &attempts)
	if err != nil {
		t.Fatalf("Failed to read job %d: %v", jobID, err)
	}
	return status, attempts
}

func sessionToken(t *testing.T, subject string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, handlers.SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return token
}

func cleanTables(db *database.DB) {
	ctx := context.Background()
	for _, table := range []string{"status_snapshots", "tracked_uploads", "background_jobs", "cache_entries"} {
		_, _ = db.ExecContext(ctx, "DELETE FROM "+table)
	}
}
