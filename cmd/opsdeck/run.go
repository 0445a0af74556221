package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/ternarybob/opsdeck/internal/app"
	"github.com/ternarybob/opsdeck/internal/models"
	"github.com/ternarybob/opsdeck/internal/services/workflow"
)

// Exit codes of a headless run
const (
	exitOK        = 0
	exitError     = 1
	exitBlocked   = 2 // Pre-check failed or did not allow the operation to proceed
	exitJobFailed = 3 // Execute job finished with a failure
)

const connectTimeout = 15 * time.Second

// headlessWorkflow is the part of the workflow controller a headless run drives
type headlessWorkflow interface {
	StartPreCheck(ctx context.Context, req models.OperationRequest) (*models.JobHandle, error)
	StartExecute(ctx context.Context) (*models.JobHandle, error)
	WaitForPhase(ctx context.Context, phases ...models.Phase) (models.WorkflowSnapshot, error)
}

func runCmd() *cobra.Command {
	var (
		requestFile string
		execute     bool
		timeout     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a pre-check (and optionally the operation) without the HTTP server",
		Long: `Runs the pre-check described by a TOML request file, prints the check summary
and, with --execute, starts the operation when the pre-check allows it.

Exit codes: 0 success, 1 error, 2 pre-check blocked, 3 operation failed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			code := headless(cmd.OutOrStdout(), requestFile, execute, timeout)
			if code != exitOK {
				cmd.SilenceErrors = true
				os.Exit(code)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&requestFile, "request", "r", "", "Operation request file (TOML)")
	cmd.Flags().BoolVar(&execute, "execute", false, "Execute the operation when the pre-check allows it")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Minute, "Overall time limit for the run")
	_ = cmd.MarkFlagRequired("request")

	return cmd
}

func headless(out io.Writer, requestFile string, execute bool, timeout time.Duration) int {
	config, logger, err := setup()
	if err != nil {
		return exitError
	}

	req, err := loadRequest(requestFile)
	if err != nil {
		logger.Error().Str("path", requestFile).Err(err).Msg("Failed to load request")
		return exitError
	}

	opts := workflow.OptionsFromConfig(config.Workflow)
	opts.SettleDelay = 0

	application, err := app.NewWithOptions(config, logger, opts)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize application")
		return exitError
	}
	defer application.Close()
	application.Start()

	ctx, cancel := context.WithTimeout(application.Context(), timeout)
	defer cancel()

	if err := waitConnected(ctx, application.Relay.IsConnected, connectTimeout); err != nil {
		logger.Error().Str("relay", config.Relay.URL).Err(err).Msg("Relay not reachable")
		return exitError
	}

	code, err := runHeadless(ctx, application.Workflow, req, execute, out)
	if err != nil {
		logger.Error().Err(err).Msg("Headless run failed")
	}
	return code
}

// loadRequest reads an OperationRequest from TOML. An empty password is taken from
// OPSDECK_DEVICE_PASSWORD so request files need not hold credentials.
func loadRequest(path string) (models.OperationRequest, error) {
	var req models.OperationRequest

	data, err := os.ReadFile(path)
	if err != nil {
		return req, fmt.Errorf("failed to read request file: %w", err)
	}
	if err := toml.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("failed to parse request file: %w", err)
	}
	if req.Password == "" {
		req.Password = os.Getenv("OPSDECK_DEVICE_PASSWORD")
	}
	return req, nil
}

// waitConnected polls until isConnected reports true or limit elapses
func waitConnected(ctx context.Context, isConnected func() bool, limit time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for !isConnected() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("relay connection: %w", ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

// runHeadless drives one pre-check and, when asked and allowed, the operation itself
func runHeadless(ctx context.Context, wf headlessWorkflow, req models.OperationRequest, execute bool, out io.Writer) (int, error) {
	handle, err := wf.StartPreCheck(ctx, req)
	if err != nil {
		var verr *workflow.ValidationError
		if errors.As(err, &verr) {
			fmt.Fprintf(out, "Invalid request, missing or invalid: %s\n", strings.Join(verr.Fields, ", "))
		}
		return exitError, err
	}
	fmt.Fprintf(out, "Pre-check started: job %s\n", handle.JobID)

	snap, err := wf.WaitForPhase(ctx, models.PhaseReview)
	if err != nil {
		return exitError, fmt.Errorf("waiting for pre-check: %w", err)
	}
	printSummary(out, snap)

	if snap.Summary == nil || !snap.Summary.CanProceed {
		fmt.Fprintln(out, "Pre-check did not allow the operation to proceed")
		return exitBlocked, nil
	}
	if !execute {
		return exitOK, nil
	}

	handle, err = wf.StartExecute(ctx)
	if err != nil {
		return exitError, err
	}
	fmt.Fprintf(out, "Operation started: job %s\n", handle.JobID)

	snap, err = wf.WaitForPhase(ctx, models.PhaseResults)
	if err != nil {
		return exitError, fmt.Errorf("waiting for operation: %w", err)
	}

	fmt.Fprintf(out, "Operation %s\n", snap.ExecuteStatus)
	if snap.LastError != "" {
		fmt.Fprintf(out, "Last error: %s\n", snap.LastError)
	}
	if snap.ExecuteStatus != models.JobStatusSucceeded {
		return exitJobFailed, nil
	}
	return exitOK, nil
}

func printSummary(out io.Writer, snap models.WorkflowSnapshot) {
	s := snap.Summary
	if s == nil {
		fmt.Fprintf(out, "Pre-check %s without a summary\n", snap.PreCheckStatus)
		return
	}

	fmt.Fprintf(out, "Checks: %d total, %d passed, %d warnings, %d critical\n",
		s.TotalChecks, s.Passed, s.Warnings, s.CriticalFailures)

	if len(s.Results) == 0 {
		return
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, r := range s.Results {
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", strings.ToUpper(string(r.Severity)), r.Name, r.Message)
	}
	_ = tw.Flush()
}
