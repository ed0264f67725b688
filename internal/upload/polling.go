package upload

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/earnsigma/go_earnsigma/internal/models"
)

const (
	// DefaultInitialInterval is the delay before the second status request
	DefaultInitialInterval = time.Second
	// DefaultMaxInterval caps the delay between status requests
	DefaultMaxInterval = 2 * time.Second
	// DefaultPollTimeout bounds a whole polling run
	DefaultPollTimeout = 180 * time.Second
	// PollIntervalStep is added to the interval after every non-terminal poll
	PollIntervalStep = 250 * time.Millisecond
)

var (
	// ErrPollingCancelled is returned when the context ends a polling run.
	// The returned error also matches the context's own error.
	ErrPollingCancelled = errors.New("upload polling cancelled")

	// ErrPollingTimedOut is returned when the upload stays non-terminal past the timeout
	ErrPollingTimedOut = errors.New("upload processing timed out, please retry the upload")
)

// StatusFunc fetches one status snapshot. It must be safe to call repeatedly.
type StatusFunc func(ctx context.Context) (models.UploadStatusView, error)

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// PollConfig holds the interval and timeout settings for a polling run
type PollConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Timeout         time.Duration
}

// DefaultPollConfig returns the standard polling settings
func DefaultPollConfig() PollConfig {
	return PollConfig{
		InitialInterval: DefaultInitialInterval,
		MaxInterval:     DefaultMaxInterval,
		Timeout:         DefaultPollTimeout,
	}
}

type pollOptions struct {
	config   PollConfig
	onUpdate func(models.UploadStatusView)
	sleep    SleepFunc
	now      func() time.Time
}

// PollOption customizes a polling run
type PollOption func(*pollOptions)

// WithPollConfig replaces all interval and timeout settings
func WithPollConfig(cfg PollConfig) PollOption {
	return func(o *pollOptions) {
		o.config = cfg
	}
}

// WithTimeout sets the overall timeout. Zero times out after the first non-terminal poll.
func WithTimeout(timeout time.Duration) PollOption {
	return func(o *pollOptions) {
		o.config.Timeout = timeout
	}
}

// WithIntervals sets the initial and maximum delay between polls
func WithIntervals(initial, max time.Duration) PollOption {
	return func(o *pollOptions) {
		o.config.InitialInterval = initial
		o.config.MaxInterval = max
	}
}

// WithOnUpdate registers a callback invoked with every fetched snapshot
func WithOnUpdate(fn func(models.UploadStatusView)) PollOption {
	return func(o *pollOptions) {
		o.onUpdate = fn
	}
}

// WithSleep replaces the timer based delay
func WithSleep(sleep SleepFunc) PollOption {
	return func(o *pollOptions) {
		o.sleep = sleep
	}
}

// WithClock replaces time.Now for timeout accounting
func WithClock(now func() time.Time) PollOption {
	return func(o *pollOptions) {
		o.now = now
	}
}

// NextPollInterval grows the interval linearly, capped at max
func NextPollInterval(current, max time.Duration) time.Duration {
	next := current + PollIntervalStep
	if next > max {
		return max
	}
	return next
}

// Poll calls getStatus until the upload reaches a terminal status.
//
// A failed upload is a successful result: the caller must check view.Status.
// Errors from getStatus are returned unchanged. When the context is done the
// error matches ErrPollingCancelled, and cancellation takes precedence over
// the timeout whenever both hold.
func Poll(ctx context.Context, getStatus StatusFunc, opts ...PollOption) (models.UploadStatusView, error) {
	o := pollOptions{
		config: DefaultPollConfig(),
		sleep:  Sleep,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	startedAt := o.now()
	interval := o.config.InitialInterval

	for {
		if err := cancelled(ctx); err != nil {
			return models.UploadStatusView{}, err
		}

		view, err := getStatus(ctx)
		if err != nil {
			// A fetch aborted by the context is a cancellation, not a transport failure
			if cerr := cancelled(ctx); cerr != nil {
				return models.UploadStatusView{}, cerr
			}
			return models.UploadStatusView{}, err
		}

		if o.onUpdate != nil {
			o.onUpdate(view)
		}

		if view.Status.IsTerminal() {
			return view, nil
		}

		if err := cancelled(ctx); err != nil {
			return models.UploadStatusView{}, err
		}

		if o.now().Sub(startedAt) >= o.config.Timeout {
			return models.UploadStatusView{}, ErrPollingTimedOut
		}

		if err := o.sleep(ctx, interval); err != nil {
			if errors.Is(err, ErrPollingCancelled) {
				return models.UploadStatusView{}, err
			}
			if cerr := cancelled(ctx); cerr != nil {
				return models.UploadStatusView{}, cerr
			}
			return models.UploadStatusView{}, err
		}

		interval = NextPollInterval(interval, o.config.MaxInterval)
	}
}

// Sleep waits for d, returning early with ErrPollingCancelled when ctx is done
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return cancelled(ctx)
	case <-timer.C:
		return nil
	}
}

func cancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrPollingCancelled, err)
	}
	return nil
}
