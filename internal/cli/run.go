package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/credsync/internal/credential"
	"github.com/roach88/credsync/internal/engine"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <staff|guardian>",
		Short: "Consolidate one origin into the target dataset",
		Long: `Run the consolidation pipeline for one origin:
read, map, plan, write, resolve duplicates and validate.

Re-running the same origin converges to the same target state.

Exit codes:
  0 - Run completed (a validation mismatch is reported, not fatal)
  1 - A dataset was unreachable or some upserts failed
  2 - Command error (unknown origin, invalid configuration, etc.)

Example:
  credsync run staff
  CREDSYNC_BACKEND=sqlite SQLITE_PATH=./credsync.db credsync run guardian --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOrigin(opts, args[0], cmd)
		},
	}

	return cmd
}

func runOrigin(opts *RunOptions, arg string, cmd *cobra.Command) error {
	origin, err := credential.ParseOrigin(arg)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid origin", err)
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	out := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	s, err := openSession(ctx, opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer s.finish(string(origin))
	out.VerboseLog("reading %s records from %s", origin, s.sourceName(origin))

	ctx, cancel := s.runContext(ctx)
	defer cancel()

	report, runErr := s.engine.Run(ctx, origin)
	return finishRun(out, report, runErr)
}

// finishRun renders a run report and maps the run error to an exit code.
func finishRun(out *OutputFormatter, report *engine.Report, runErr error) error {
	var data any = report
	if out.Format == "text" {
		data = formatReport(report)
	}

	if runErr == nil {
		return out.Success(data)
	}

	cliErr := &CLIError{Code: "RUN", Message: runErr.Error()}
	var re *engine.RunError
	if errors.As(runErr, &re) {
		cliErr.Code = string(re.Code)
		cliErr.Details = re.Details
	}
	if err := out.Failure(data, cliErr); err != nil {
		return err
	}
	return WrapExitError(ExitFailure, "run failed", runErr)
}

// formatReport renders a report for text output.
func formatReport(r *engine.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s (%s) in %s\n", r.RunID, r.Origin, formatDuration(r.FinishedAt.Sub(r.StartedAt)))
	fmt.Fprintf(&b, "  source:     %s\n", fmtCount(
		"total", r.Source.Total,
		"excluded", r.Source.Excluded,
		"qualifying", r.Source.Qualifying,
		"missing_identity", r.Source.MissingIdentity,
		"distinct", r.Source.DistinctIdentities,
	))
	fmt.Fprintf(&b, "  mapped:     %d\n", r.Mapped)
	fmt.Fprintf(&b, "  write:      %s\n", fmtCount(
		"inserted", r.Write.Inserted,
		"matched", r.Write.Matched,
		"modified", r.Write.Modified,
		"applied", r.Write.Applied(),
		"failed", len(r.Write.Failures),
	))
	for _, f := range r.Write.Failures {
		fmt.Fprintf(&b, "    %s\n", f)
	}
	fmt.Fprintf(&b, "  resolve:    %s\n", fmtCount(
		"groups", r.Resolve.Groups,
		"deleted", r.Resolve.Deleted,
		"merged", r.Resolve.Merged,
	))
	if v := r.Validation; v != nil {
		fmt.Fprintf(&b, "  validation: %s\n", formatValidation(*v))
	}
	for _, n := range r.Notices {
		fmt.Fprintf(&b, "  notice [%s]: %s\n", n.Code, n.Message)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func formatValidation(v engine.Validation) string {
	return fmtCount(
		"app", v.AppID,
		"expected", v.Expected,
		"actual", v.Actual,
		"total_entitled", v.TotalEntitled,
		"schema_violations", v.SchemaViolations,
		"match", v.Match,
	)
}

// signalContext cancels on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
