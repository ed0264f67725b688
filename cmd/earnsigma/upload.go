package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/earnsigma/go_earnsigma/internal/models"
	"github.com/earnsigma/go_earnsigma/internal/upload"
	"github.com/spf13/cobra"
)

// uploadSummary is printed after upload, resume and status commands
type uploadSummary struct {
	UploadID    string   `json:"upload_id"`
	Step        string   `json:"step,omitempty"`
	Status      string   `json:"status"`
	RawStatus   string   `json:"raw_status,omitempty"`
	ReportID    string   `json:"report_id,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
	Headline    string   `json:"headline,omitempty"`
	Diagnostics string   `json:"diagnostics,omitempty"`
}

func summarizeResult(result *upload.FlowResult) uploadSummary {
	s := uploadSummary{
		UploadID:  result.UploadID,
		Step:      string(result.Step),
		Status:    string(result.View.Status),
		RawStatus: result.View.RawStatus,
		ReportID:  result.View.ReportID,
		Warnings:  result.Warnings,
	}
	if result.Failed() {
		s.Status = string(models.UploadStatusFailed)
		s.Headline = upload.FriendlyFailureMessage(result.Failure.ReasonCode)
		s.Diagnostics = result.Diagnostics
	}
	return s
}

func (a *app) printResult(w io.Writer, result *upload.FlowResult) error {
	if err := printJSON(w, summarizeResult(result)); err != nil {
		return err
	}
	if result.Failed() {
		return errUploadFailed
	}
	return nil
}

func (a *app) newFlow() *upload.Flow {
	return upload.NewFlow(upload.FlowConfig{
		API:         a.client(),
		PollOptions: a.pollOptions(),
		OnStep:      a.onStep,
	})
}

func newUploadCmd(a *app) *cobra.Command {
	var platform string
	var report bool
	cmd := &cobra.Command{
		Use:   "upload <file.csv>",
		Short: "Upload a revenue export and wait for processing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			info, err := f.Stat()
			if err != nil {
				return err
			}

			result, err := a.newFlow().Run(cmd.Context(), upload.FlowInput{
				Platform:       models.Platform(platform),
				Filename:       filepath.Base(args[0]),
				Size:           info.Size(),
				Body:           f,
				GenerateReport: report,
			})
			if err != nil {
				return err
			}
			for _, warning := range result.Warnings {
				a.log.Warn(warning)
			}
			return a.printResult(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().StringVarP(&platform, "platform", "p", "", "Platform the export came from (patreon, substack)")
	cmd.Flags().BoolVar(&report, "report", false, "Generate a report when processing finishes without one")
	_ = cmd.MarkFlagRequired("platform")
	return cmd
}

func newStatusCmd(a *app) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "status <upload-id>",
		Short: "Show the processing status of an upload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uploadID := args[0]
			api := a.client()

			if !watch {
				env, err := api.GetUploadStatus(cmd.Context(), uploadID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), models.MapUploadStatus(env))
			}

			opts := append(a.pollOptions(), upload.WithOnUpdate(func(view models.UploadStatusView) {
				a.log.WithField("status", view.RawStatus).Info(string(view.Status))
			}))
			view, err := upload.Poll(cmd.Context(), api.StatusFunc(uploadID), opts...)
			if err != nil {
				failure, ok := upload.FailureFromPollError(err)
				if !ok {
					return err
				}
				return fmt.Errorf("%s (%s)", upload.FriendlyFailureMessage(failure.ReasonCode), failure.Message)
			}
			return printJSON(cmd.OutOrStdout(), view)
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Poll until the upload is ready or failed")
	return cmd
}

func newResumeCmd(a *app) *cobra.Command {
	var retry bool
	cmd := &cobra.Command{
		Use:   "resume <upload-id>",
		Short: "Continue following a previous upload",
		Long: `resume checks a previous upload and keeps polling while it is processing.
When the upload no longer exists the most recent upload is used instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flow := a.newFlow()

			var result *upload.FlowResult
			var err error
			if retry {
				result, err = flow.RetryProcessing(cmd.Context(), args[0])
			} else {
				result, err = flow.Resume(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}
			return a.printResult(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().BoolVar(&retry, "retry", false, "Restart status polling without checking the stored upload first")
	return cmd
}

func newDiagnosticsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "diagnostics <upload-id>",
		Short: "Print the diagnostics line to attach to a support request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uploadID := args[0]
			env, err := a.client().GetUploadStatus(cmd.Context(), uploadID)
			if err != nil {
				failure := upload.MapAPIErrorToUploadFailure(err)
				fmt.Fprintln(cmd.OutOrStdout(), upload.BuildUploadDiagnostics(upload.DiagnosticsInput{
					UploadID:   uploadID,
					ReasonCode: failure.ReasonCode,
					Message:    failure.Message,
				}))
				return nil
			}

			view := models.MapUploadStatus(env)
			if view.UploadID == "" {
				view.UploadID = uploadID
			}
			if view.Status == models.UploadStatusFailed {
				fmt.Fprintln(cmd.OutOrStdout(), upload.DiagnosticsForView(view, upload.FailureFromView(view)))
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), upload.BuildUploadDiagnostics(upload.DiagnosticsInput{
				UploadID:   view.UploadID,
				RawStatus:  view.RawStatus,
				ReasonCode: view.ReasonCode,
				Message:    view.Message,
				UpdatedAt:  view.UpdatedAt,
			}))
			return nil
		},
	}
}
