package cli

import (
	"github.com/spf13/cobra"
)

// NewDedupeCommand creates the dedupe command.
func NewDedupeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dedupe",
		Short: "Remove duplicate credentials from the target dataset",
		Long: `Run the duplicate resolver on its own.

For every user ID held by more than one credential, the first credential with
entitlements survives and the others are deleted. With
RESOLVER_MERGE_ENTITLEMENTS=true the survivor first receives entitlements held
only by the deleted copies.

Example:
  credsync dedupe --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDedupe(rootOpts, cmd)
		},
	}
	return cmd
}

func runDedupe(opts *RootOptions, cmd *cobra.Command) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	s, err := openSession(ctx, opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer s.finish("dedupe")

	ctx, cancel := s.runContext(ctx)
	defer cancel()

	report, err := s.engine.Dedupe(ctx)
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	if err != nil {
		if ferr := out.Error("RUN", err.Error(), nil); ferr != nil {
			return ferr
		}
		return WrapExitError(ExitFailure, "dedupe failed", err)
	}

	if opts.Format == "text" {
		return out.Success(fmtCount("groups", report.Groups, "deleted", report.Deleted, "merged", report.Merged))
	}
	return out.Success(report)
}
