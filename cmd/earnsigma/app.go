package main

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"time"

	"github.com/earnsigma/go_earnsigma/internal/client"
	"github.com/earnsigma/go_earnsigma/internal/upload"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// errUploadFailed makes the process exit non-zero after a failure was reported
var errUploadFailed = errors.New("upload did not finish successfully")

// app carries the global flags shared by every command
type app struct {
	apiURL      string
	token       string
	timeout     time.Duration
	pollTimeout time.Duration
	verbose     bool

	log *logrus.Logger
}

func newApp() *app {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	return &app{log: log}
}

func newRootCommand() *cobra.Command {
	a := newApp()
	cmd := &cobra.Command{
		Use:   "earnsigma",
		Short: "EarnSigma creator and operator CLI",
		Long: `earnsigma uploads revenue exports, follows their processing status, and
inspects billing, admin and access-gate state against the EarnSigma API.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			a.log.SetOutput(cmd.ErrOrStderr())
			if a.verbose {
				a.log.SetLevel(logrus.DebugLevel)
			}
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.apiURL, "api-url", os.Getenv("EARNSIGMA_API_BASE_URL"), "EarnSigma API origin (defaults to the deployment host or localhost)")
	flags.StringVar(&a.token, "token", os.Getenv("EARNSIGMA_TOKEN"), "Bearer token sent to the API")
	flags.DurationVar(&a.timeout, "http-timeout", 30*time.Second, "Timeout of a single API request")
	flags.DurationVar(&a.pollTimeout, "poll-timeout", upload.DefaultPollTimeout, "How long to wait for processing to finish")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "Log every poll")

	cmd.AddCommand(
		newUploadCmd(a),
		newStatusCmd(a),
		newResumeCmd(a),
		newDiagnosticsCmd(a),
		newEntitlementsCmd(a),
		newCheckoutCmd(a),
		newAdminCmd(a),
		newGateCmd(a),
		newMigrateCmd(a),
	)
	return cmd
}

// client builds a backend client from the global flags
func (a *app) client() *client.Client {
	return client.NewClient(client.Config{
		BaseURL:     client.ResolveAPIBaseURL(a.apiURL, "", os.Getenv("VERCEL_URL")),
		Timeout:     a.timeout,
		TokenSource: client.StaticToken(a.token),
	})
}

func (a *app) pollOptions() []upload.PollOption {
	return []upload.PollOption{upload.WithTimeout(a.pollTimeout)}
}

// onStep logs flow transitions
func (a *app) onStep(event upload.StepEvent) {
	entry := a.log.WithField("step", string(event.Step))
	if event.UploadID != "" {
		entry = entry.WithField("upload_id", event.UploadID)
	}
	switch {
	case event.Failure != nil:
		entry.WithField("reason_code", event.Failure.ReasonCode).Warn(event.Message)
	case event.View != nil:
		entry.WithField("status", event.View.RawStatus).Debug(event.Message)
	default:
		entry.Info(event.Message)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
