package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/earnsigma/go_earnsigma/internal/models"
)

// DefaultContentType is sent when the caller does not know the file's type
const DefaultContentType = "text/csv"

// Step is a stage of the upload flow
type Step string

const (
	StepPlatform   Step = "platform"
	StepFile       Step = "file"
	StepUploading  Step = "uploading"
	StepProcessing Step = "processing"
	StepDone       Step = "done"
)

// Steps lists the flow stages in display order
var Steps = []Step{StepPlatform, StepFile, StepUploading, StepProcessing, StepDone}

// Index returns the position of the step in Steps, or -1
func (s Step) Index() int {
	for i, step := range Steps {
		if step == s {
			return i
		}
	}
	return -1
}

var (
	// ErrPlatformRequired is returned when no platform was chosen
	ErrPlatformRequired = errors.New("platform is required")
	// ErrFileRequired is returned when no file was supplied
	ErrFileRequired = errors.New("file is required")
)

// UnsupportedPlatformError is returned for platforms without CSV ingestion
type UnsupportedPlatformError struct {
	Platform models.Platform
}

func (e *UnsupportedPlatformError) Error() string {
	return fmt.Sprintf("platform %q is not supported yet", e.Platform)
}

// API is the slice of the backend client the flow depends on
type API interface {
	CreateUploadPresign(ctx context.Context, req models.PresignRequest) (models.PresignResponse, error)
	UploadToPresignedURL(ctx context.Context, presignedURL string, body io.Reader, size int64, headers map[string]string) error
	FinalizeUploadCallback(ctx context.Context, req models.UploadCallbackRequest, callbackURL string) (models.UploadCallbackResponse, error)
	GetUploadStatus(ctx context.Context, uploadID string) (models.UploadStatusEnvelope, error)
	GetLatestUploadStatus(ctx context.Context) (models.UploadStatusEnvelope, error)
	GenerateReport(ctx context.Context, req models.GenerateReportRequest) (models.GenerateReportResponse, error)
}

// StepEvent is reported to the observer on every flow transition
type StepEvent struct {
	Step     Step
	Message  string
	UploadID string
	View     *models.UploadStatusView
	Failure  *UploadFailure
}

// FlowInput describes one file to upload
type FlowInput struct {
	Platform    models.Platform
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader

	// GenerateReport requests a report when processing finishes without one
	GenerateReport bool
}

// FlowResult is the outcome of a flow run. Failure is nil on success.
type FlowResult struct {
	Step        Step
	UploadID    string
	View        models.UploadStatusView
	Warnings    []string
	Failure     *UploadFailure
	Diagnostics string
}

// Failed reports whether the run ended in a failure state
func (r *FlowResult) Failed() bool {
	return r.Failure != nil
}

// Flow drives an upload from presign to a terminal processing status
type Flow struct {
	api         API
	pollOptions []PollOption
	observer    func(StepEvent)
}

// FlowConfig holds the dependencies of a Flow
type FlowConfig struct {
	API         API
	PollOptions []PollOption
	OnStep      func(StepEvent)
}

// NewFlow creates a new upload flow
func NewFlow(config FlowConfig) *Flow {
	return &Flow{
		api:         config.API,
		pollOptions: config.PollOptions,
		observer:    config.OnStep,
	}
}

// ValidateInput checks the input and returns warnings that do not block the upload
func ValidateInput(in FlowInput) ([]string, error) {
	if in.Platform == "" {
		return nil, ErrPlatformRequired
	}
	if !in.Platform.IsSupported() {
		return nil, &UnsupportedPlatformError{Platform: in.Platform}
	}
	if in.Body == nil || strings.TrimSpace(in.Filename) == "" {
		return nil, ErrFileRequired
	}

	var warnings []string
	if !strings.HasSuffix(strings.ToLower(in.Filename), ".csv") {
		warnings = append(warnings, "This file does not look like a CSV export. The upload may fail validation.")
	}
	return warnings, nil
}

// Run uploads the file and polls until processing finishes.
// Failures are reported in the result; the error is reserved for invalid
// input and cancellation.
func (f *Flow) Run(ctx context.Context, in FlowInput) (*FlowResult, error) {
	warnings, err := ValidateInput(in)
	if err != nil {
		return nil, err
	}

	contentType := in.ContentType
	if contentType == "" {
		contentType = DefaultContentType
	}

	result := &FlowResult{Step: StepUploading, Warnings: warnings}

	// Report generation needs the platform, so it doubles as the opt-in flag
	var reportPlatform models.Platform
	if in.GenerateReport {
		reportPlatform = in.Platform
	}

	f.emit(StepEvent{Step: StepUploading, Message: "Requesting secure upload URL…"})
	presign, err := f.api.CreateUploadPresign(ctx, models.PresignRequest{
		Platform:    string(in.Platform),
		Filename:    in.Filename,
		ContentType: contentType,
		Size:        in.Size,
	})
	if err != nil {
		return f.failRequest(ctx, result, err)
	}
	result.UploadID = presign.UploadID

	f.emit(StepEvent{Step: StepUploading, Message: "Uploading file…", UploadID: presign.UploadID})
	if err := f.api.UploadToPresignedURL(ctx, presign.PresignedURL, in.Body, in.Size, presign.Headers); err != nil {
		return f.failRequest(ctx, result, err)
	}

	f.emit(StepEvent{Step: StepUploading, Message: "Finalizing upload…", UploadID: presign.UploadID})
	callback, err := f.api.FinalizeUploadCallback(ctx, models.UploadCallbackRequest{
		UploadID:    presign.UploadID,
		Platform:    string(in.Platform),
		ObjectKey:   presign.ObjectKey,
		Filename:    in.Filename,
		Size:        in.Size,
		ContentType: contentType,
	}, presign.CallbackURL)
	if err != nil {
		return f.failRequest(ctx, result, err)
	}
	result.Warnings = append(result.Warnings, callback.Warnings...)

	f.emit(StepEvent{Step: StepProcessing, Message: "Processing upload…", UploadID: presign.UploadID})
	return f.pollUntilTerminal(ctx, result, presign.UploadID, reportPlatform)
}

// Resume picks up a previously started upload. When the upload no longer
// exists the creator's latest upload is used instead.
func (f *Flow) Resume(ctx context.Context, uploadID string) (*FlowResult, error) {
	result := &FlowResult{Step: StepProcessing, UploadID: uploadID}
	f.emit(StepEvent{Step: StepProcessing, Message: "Checking previous upload…", UploadID: uploadID})

	env, err := f.api.GetUploadStatus(ctx, uploadID)
	if err != nil {
		if cerr := cancelled(ctx); cerr != nil {
			return result, cerr
		}

		mapped := MapAPIErrorToUploadFailure(err)
		if mapped.ReasonCode == ReasonNotFound {
			if latest, lerr := f.api.GetLatestUploadStatus(ctx); lerr == nil {
				view := f.observe(models.MapUploadStatus(latest), uploadID)
				result.UploadID = view.UploadID
				if view.Status == models.UploadStatusProcessing && latest.UploadID != "" {
					return f.pollUntilTerminal(ctx, result, latest.UploadID, "")
				}
				return f.finish(ctx, result, view, ""), nil
			}
		}

		return f.fail(result, mapped, ""), nil
	}

	view := f.observe(models.MapUploadStatus(env), uploadID)
	result.UploadID = view.UploadID
	if view.Status == models.UploadStatusProcessing {
		return f.pollUntilTerminal(ctx, result, view.UploadID, "")
	}
	return f.finish(ctx, result, view, ""), nil
}

// RetryProcessing polls an existing upload again, typically after a timeout
func (f *Flow) RetryProcessing(ctx context.Context, uploadID string) (*FlowResult, error) {
	result := &FlowResult{Step: StepProcessing, UploadID: uploadID}
	f.emit(StepEvent{Step: StepProcessing, Message: "Retrying status check…", UploadID: uploadID})
	return f.pollUntilTerminal(ctx, result, uploadID, "")
}

// pollUntilTerminal polls uploadID and records the outcome. A non-empty
// reportPlatform requests report generation once the upload is ready.
func (f *Flow) pollUntilTerminal(ctx context.Context, result *FlowResult, uploadID string, reportPlatform models.Platform) (*FlowResult, error) {
	getStatus := func(ctx context.Context) (models.UploadStatusView, error) {
		env, err := f.api.GetUploadStatus(ctx, uploadID)
		if err != nil {
			return models.UploadStatusView{}, err
		}
		view := models.MapUploadStatus(env)
		if view.UploadID == "" {
			view.UploadID = uploadID
		}
		return view, nil
	}

	opts := append([]PollOption{}, f.pollOptions...)
	opts = append(opts, WithOnUpdate(func(view models.UploadStatusView) {
		f.observe(view, uploadID)
	}))

	view, err := Poll(ctx, getStatus, opts...)
	if err != nil {
		failure, ok := FailureFromPollError(err)
		if !ok {
			return result, err
		}
		rawStatus := ""
		if failure.ReasonCode == ReasonTimeout {
			rawStatus = string(models.UploadStatusProcessing)
		}
		result.View = models.UploadStatusView{UploadID: uploadID, Status: models.UploadStatusFailed, RawStatus: rawStatus}
		return f.fail(result, failure, rawStatus), nil
	}

	return f.finish(ctx, result, view, reportPlatform), nil
}

// finish records a terminal or still-processing snapshot on the result
func (f *Flow) finish(ctx context.Context, result *FlowResult, view models.UploadStatusView, reportPlatform models.Platform) *FlowResult {
	result.View = view
	result.UploadID = view.UploadID

	switch view.Status {
	case models.UploadStatusFailed:
		return f.fail(result, FailureFromView(view), view.RawStatus)
	case models.UploadStatusReady:
		if reportPlatform != "" && view.ReportID == "" {
			report, err := f.api.GenerateReport(ctx, models.GenerateReportRequest{
				UploadID: view.UploadID,
				Platform: string(reportPlatform),
			})
			if err != nil {
				failure := MapAPIErrorToUploadFailure(err)
				if failure.ReasonCode == ReasonUploadFailed {
					failure.ReasonCode = ReasonReport
				}
				return f.fail(result, failure, view.RawStatus)
			}
			result.View.ReportID = report.ReportID
			result.Warnings = append(result.Warnings, report.Warnings...)
		}
		result.Step = StepDone
	default:
		result.Step = StepProcessing
	}
	return result
}

func (f *Flow) fail(result *FlowResult, failure UploadFailure, rawStatus string) *FlowResult {
	result.Step = StepProcessing
	result.Failure = &failure
	result.Diagnostics = BuildUploadDiagnostics(DiagnosticsInput{
		UploadID:   result.UploadID,
		RawStatus:  rawStatus,
		ReasonCode: failure.ReasonCode,
		Message:    failure.Message,
		UpdatedAt:  result.View.UpdatedAt,
	})

	event := StepEvent{
		Step:     StepProcessing,
		Message:  FriendlyFailureMessage(failure.ReasonCode),
		UploadID: result.UploadID,
		Failure:  &failure,
	}
	if result.View.Status != "" {
		view := result.View
		event.View = &view
	}
	f.emit(event)
	return result
}

// failRequest handles an error from one of the upload requests
func (f *Flow) failRequest(ctx context.Context, result *FlowResult, err error) (*FlowResult, error) {
	if cerr := cancelled(ctx); cerr != nil {
		return result, cerr
	}
	return f.fail(result, MapAPIErrorToUploadFailure(err), ""), nil
}

// observe reports a snapshot to the observer and returns it with the upload id
// filled in. Failed snapshots are reported by fail instead.
func (f *Flow) observe(view models.UploadStatusView, fallbackUploadID string) models.UploadStatusView {
	if view.UploadID == "" {
		view.UploadID = fallbackUploadID
	}

	event := StepEvent{UploadID: view.UploadID, View: &view}
	switch view.Status {
	case models.UploadStatusFailed:
		return view
	case models.UploadStatusReady:
		event.Step = StepDone
		event.Message = "Report ready"
	default:
		event.Step = StepProcessing
		event.Message = "Processing upload…"
	}
	f.emit(event)
	return view
}

func (f *Flow) emit(event StepEvent) {
	if f.observer != nil {
		f.observer(event)
	}
}
