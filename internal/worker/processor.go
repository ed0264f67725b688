package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/earnsigma/go_earnsigma/internal/logger"
	"github.com/earnsigma/go_earnsigma/internal/models"
	"github.com/earnsigma/go_earnsigma/internal/queue"
	"github.com/earnsigma/go_earnsigma/internal/repository"
	"github.com/earnsigma/go_earnsigma/internal/upload"
)

// StatusSource builds a status fetcher for one backend upload
type StatusSource interface {
	StatusFunc(uploadID string) func(ctx context.Context) (models.UploadStatusView, error)
}

// ObservationRecorder persists a snapshot together with the tracked upload update
type ObservationRecorder interface {
	RecordObservation(ctx context.Context, upload *models.TrackedUpload, snapshot *models.StatusSnapshot) error
}

// Processor handles track_upload jobs
type Processor struct {
	queue                    queue.Queue
	uploadRepo               repository.TrackedUploadRepository
	snapshotRepo             repository.StatusSnapshotRepository
	recorder                 ObservationRecorder
	statusSource             StatusSource
	pollOptions              []upload.PollOption
	pollInterval             time.Duration
	concurrency              int
	maxAttempts              int
	exponentialBackoffDelays []time.Duration
	shutdownChan             chan struct{}
	shutdownOnce             sync.Once
}

// ProcessorConfig holds configuration for the worker processor
type ProcessorConfig struct {
	Queue                    queue.Queue
	UploadRepo               repository.TrackedUploadRepository
	SnapshotRepo             repository.StatusSnapshotRepository
	Recorder                 ObservationRecorder
	StatusSource             StatusSource
	PollConfig               upload.PollConfig
	PollOptions              []upload.PollOption
	PollInterval             time.Duration
	Concurrency              int
	MaxAttempts              int
	ExponentialBackoffDelays []time.Duration
}

// BackoffDelays doubles base for each attempt: base, 2*base, 4*base, ...
func BackoffDelays(base time.Duration, attempts int) []time.Duration {
	delays := make([]time.Duration, 0, attempts)
	for i := 0; i < attempts; i++ {
		delays = append(delays, base<<i)
	}
	return delays
}

// NewProcessor creates a new worker processor
func NewProcessor(config ProcessorConfig) *Processor {
	if config.PollInterval == 0 {
		config.PollInterval = 5 * time.Second
	}

	if config.Concurrency < 1 {
		config.Concurrency = 1
	}

	if config.MaxAttempts == 0 {
		config.MaxAttempts = 5
	}

	if len(config.ExponentialBackoffDelays) == 0 {
		config.ExponentialBackoffDelays = BackoffDelays(30*time.Second, config.MaxAttempts)
	}

	if config.PollConfig == (upload.PollConfig{}) {
		config.PollConfig = upload.DefaultPollConfig()
	}

	pollOptions := append([]upload.PollOption{upload.WithPollConfig(config.PollConfig)}, config.PollOptions...)

	return &Processor{
		queue:                    config.Queue,
		uploadRepo:               config.UploadRepo,
		snapshotRepo:             config.SnapshotRepo,
		recorder:                 config.Recorder,
		statusSource:             config.StatusSource,
		pollOptions:              pollOptions,
		pollInterval:             config.PollInterval,
		concurrency:              config.Concurrency,
		maxAttempts:              config.MaxAttempts,
		exponentialBackoffDelays: config.ExponentialBackoffDelays,
		shutdownChan:             make(chan struct{}),
	}
}

// Start runs Concurrency polling loops until ctx is done or Shutdown is called
func (p *Processor) Start(ctx context.Context) error {
	logger.Info(ctx, "Starting worker processor",
		"poll_interval", p.pollInterval,
		"concurrency", p.concurrency)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.concurrency; i++ {
		g.Go(func() error {
			return p.run(gctx)
		})
	}
	return g.Wait()
}

func (p *Processor) run(ctx context.Context) error {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "Context cancelled, shutting down gracefully")
			return ctx.Err()

		case <-p.shutdownChan:
			logger.Info(ctx, "Shutdown requested, shutting down gracefully")
			return nil

		case <-ticker.C:
			if err := p.pollAndProcess(ctx); err != nil {
				logger.LogError(ctx, "Error polling and processing jobs", err)
			}
		}
	}
}

// Shutdown signals the worker to stop gracefully
func (p *Processor) Shutdown() {
	p.shutdownOnce.Do(func() {
		close(p.shutdownChan)
	})
}

// retryError asks the queue to run the job again after delay. A released job
// was interrupted rather than attempted and goes back without a delay.
type retryError struct {
	delay   time.Duration
	release bool
	err     error
}

func (e *retryError) Error() string {
	return fmt.Sprintf("retry in %s: %v", e.delay, e.err)
}

func (e *retryError) Unwrap() error {
	return e.err
}

// pollAndProcess dequeues one job and settles it in the queue
func (p *Processor) pollAndProcess(ctx context.Context) error {
	job, err := p.queue.Dequeue(ctx)
	if err != nil {
		return fmt.Errorf("failed to dequeue job: %w", err)
	}

	if job == nil {
		return nil
	}

	return p.ProcessJob(ctx, job)
}

// ProcessJob runs one job and completes, retries or fails it in the queue
func (p *Processor) ProcessJob(ctx context.Context, job *queue.Job) error {
	logger.Info(ctx, "Processing job", "job_id", job.ID, "job_type", job.Type, "attempt", job.Attempts)

	var processErr error
	switch job.Type {
	case queue.JobTypeTrackUpload:
		processErr = p.trackUpload(ctx, job)
	default:
		processErr = fmt.Errorf("unknown job type: %s", job.Type)
	}

	// Settle the job even when ctx was cancelled mid-run
	settleCtx := context.WithoutCancel(ctx)

	var retry *retryError
	if errors.As(processErr, &retry) && ctx.Err() != nil {
		retry.release = true
	}

	switch {
	case processErr == nil:
		if err := p.queue.Complete(settleCtx, job.ID); err != nil {
			logger.LogError(ctx, "Failed to mark job as completed", err, "job_id", job.ID)
			return err
		}
		logger.Info(ctx, "Job completed successfully", "job_id", job.ID)
		return nil

	case retry != nil && retry.release:
		logger.Info(ctx, "Job released", "job_id", job.ID, "reason", retry.err.Error())
		if err := p.queue.Release(settleCtx, job.ID); err != nil {
			logger.LogError(ctx, "Failed to release job", err, "job_id", job.ID)
			return err
		}
		return nil

	case retry != nil:
		logger.Info(ctx, "Job rescheduled", "job_id", job.ID, "delay", retry.delay, "reason", retry.err.Error())
		if err := p.queue.Retry(settleCtx, job.ID, retry.delay); err != nil {
			logger.LogError(ctx, "Failed to reschedule job", err, "job_id", job.ID)
			return err
		}
		return nil

	default:
		logger.LogError(ctx, "Job failed", processErr, "job_id", job.ID)
		if err := p.queue.Fail(settleCtx, job.ID, processErr.Error()); err != nil {
			logger.LogError(ctx, "Failed to mark job as failed", err, "job_id", job.ID)
		}
		return processErr
	}
}

// retryDelay returns the backoff before the given 1-indexed attempt is retried
func (p *Processor) retryDelay(attempt int) time.Duration {
	if len(p.exponentialBackoffDelays) == 0 {
		return 0
	}
	index := attempt - 1
	if index < 0 {
		index = 0
	}
	if index >= len(p.exponentialBackoffDelays) {
		index = len(p.exponentialBackoffDelays) - 1
	}
	return p.exponentialBackoffDelays[index]
}

// trackUpload polls the backend until the upload is terminal, recording every snapshot
func (p *Processor) trackUpload(ctx context.Context, job *queue.Job) error {
	startTime := time.Now()
	defer func() {
		logger.LogSlowOperation(ctx, "track_upload", time.Since(startTime))
	}()

	uploadID, ok := queue.GetUploadID(job.Payload)
	if !ok {
		return fmt.Errorf("%w: missing upload_id", queue.ErrInvalidPayload)
	}
	ctx = logger.WithUploadID(ctx, uploadID)

	tracked, err := p.uploadRepo.GetByUploadID(ctx, uploadID)
	if errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to load tracked upload %s: %w", uploadID, err)
	}
	if err != nil {
		return &retryError{delay: p.retryDelay(job.Attempts), err: err}
	}

	if tracked.Status.IsTerminal() {
		logger.Info(ctx, "Upload already terminal, nothing to track", "status", tracked.Status)
		return nil
	}

	pollNo, err := p.snapshotRepo.CountSnapshots(ctx, tracked.ID)
	if err != nil {
		return &retryError{delay: p.retryDelay(job.Attempts), err: err}
	}

	fetch := p.statusSource.StatusFunc(uploadID)
	var recordErr error
	record := func(ctx context.Context) (models.UploadStatusView, error) {
		view, err := fetch(ctx)
		if err != nil {
			return view, err
		}
		if view.UploadID == "" {
			view.UploadID = uploadID
		}
		pollNo++
		if err := p.recordView(ctx, tracked, pollNo, view); err != nil {
			recordErr = err
			return view, err
		}
		return view, nil
	}

	view, pollErr := upload.Poll(ctx, record, p.pollOptions...)
	if pollErr == nil {
		if view.Status == models.UploadStatusFailed {
			failure := upload.FailureFromView(view)
			logger.Info(ctx, "Upload failed on the backend",
				"reason_code", failure.ReasonCode,
				"diagnostics", upload.DiagnosticsForView(view, failure))
		} else {
			logger.Info(ctx, "Upload ready", "report_id", view.ReportID)
		}
		return nil
	}

	if errors.Is(pollErr, upload.ErrPollingCancelled) {
		// Shutdown is not the upload's fault
		return &retryError{release: true, err: pollErr}
	}

	if recordErr != nil {
		return &retryError{delay: p.retryDelay(job.Attempts), err: recordErr}
	}

	failure, _ := upload.FailureFromPollError(pollErr)

	pollNo++
	snapshot := models.NewFailedSnapshot(tracked.ID, pollNo, failure.ReasonCode, failure.Message)
	if err := p.snapshotRepo.CreateSnapshot(ctx, snapshot); err != nil {
		logger.LogError(ctx, "Failed to record failed poll", err)
	}

	if failure.ShouldStopPolling {
		return p.markFailed(ctx, tracked, failure)
	}

	if job.Attempts >= p.maxAttempts {
		logger.Info(ctx, "Max tracking attempts exhausted",
			"attempts", job.Attempts,
			"max_attempts", p.maxAttempts)
		if err := p.markFailed(ctx, tracked, failure); err != nil {
			return err
		}
		return fmt.Errorf("gave up tracking upload %s after %d attempts: %w", uploadID, job.Attempts, pollErr)
	}

	return &retryError{delay: p.retryDelay(job.Attempts), err: pollErr}
}

// recordView applies a fetched snapshot to the tracked upload and persists both
func (p *Processor) recordView(ctx context.Context, tracked *models.TrackedUpload, pollNo int, view models.UploadStatusView) error {
	oldStatus := tracked.Status
	if err := tracked.ApplyView(view); err != nil {
		return err
	}

	snapshot := models.NewStatusSnapshot(tracked.ID, pollNo, view)
	if err := p.recorder.RecordObservation(ctx, tracked, snapshot); err != nil {
		return fmt.Errorf("failed to record poll %d: %w", pollNo, err)
	}

	if oldStatus != tracked.Status {
		logger.LogStatusTransition(ctx, tracked.UploadID, string(oldStatus), string(tracked.Status))
	}
	return nil
}

// markFailed ends tracking with a client-observed failure
func (p *Processor) markFailed(ctx context.Context, tracked *models.TrackedUpload, failure upload.UploadFailure) error {
	oldStatus := tracked.Status
	if err := tracked.MarkFailed(failure.ReasonCode, failure.Message); err != nil {
		return err
	}
	if err := p.uploadRepo.UpdateStatus(ctx, tracked); err != nil {
		return fmt.Errorf("failed to mark upload failed: %w", err)
	}
	logger.LogStatusTransition(ctx, tracked.UploadID, string(oldStatus), string(tracked.Status))
	return nil
}
