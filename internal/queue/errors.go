package queue

import "errors"

// Callers match these with errors.Is.
var (
	// ErrQueueUnavailable means the jobs table could not be reached and the
	// job was not stored
	ErrQueueUnavailable = errors.New("queue is unavailable")

	// ErrJobNotFound is returned when settling a job id that no longer exists
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidPayload is returned for payloads that cannot be encoded or lack
	// the upload id a track_upload job needs
	ErrInvalidPayload = errors.New("invalid job payload")
)

// IsUnavailableError reports whether err means the queue itself is down, as
// opposed to a rejected job
func IsUnavailableError(err error) bool {
	return errors.Is(err, ErrQueueUnavailable)
}
