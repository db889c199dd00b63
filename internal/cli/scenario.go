package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/credsync/internal/harness"
)

// ScenarioOptions holds flags for the scenario command.
type ScenarioOptions struct {
	*RootOptions
	Golden string // golden snapshot directory
	Update bool   // regenerate golden files
}

// NewScenarioCommand creates the scenario command.
func NewScenarioCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScenarioOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "scenario <scenarios-dir>",
		Short: "Run convergence scenarios",
		Long: `Run every *.yaml convergence scenario in a directory.

Each scenario executes against a fresh in-memory database, so no
configuration or running backend is needed.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  credsync scenario ./scenarios
  credsync scenario ./scenarios --golden ./golden
  credsync scenario ./scenarios --golden ./golden --update`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Golden, "golden", "", "compare snapshots with golden files in this directory")
	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files (requires --golden)")

	return cmd
}

func runScenarios(opts *ScenarioOptions, dir string, cmd *cobra.Command) error {
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return NewExitError(ExitCommandError, fmt.Sprintf("scenarios directory not found: %s", dir))
	}
	if opts.Update && opts.Golden == "" {
		return NewExitError(ExitCommandError, "--update requires --golden")
	}

	result, err := harness.RunSuite(dir, harness.SuiteOptions{GoldenDir: opts.Golden, Update: opts.Update})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to run scenarios", err)
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	var data any = result
	if opts.Format == "text" {
		data = formatSuite(result)
	}
	if err := out.Success(data); err != nil {
		return err
	}

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenarios failed", result.Failed, result.Total))
	}
	return nil
}

func formatSuite(r *harness.SuiteResult) string {
	var b strings.Builder
	for _, f := range r.Failures {
		name := f.Name
		if name == "" {
			name = f.Path
		}
		fmt.Fprintf(&b, "FAIL %s\n  %s\n", name, strings.ReplaceAll(f.Error, "\n", "\n  "))
	}
	fmt.Fprintf(&b, "%d passed, %d failed, %d total", r.Passed, r.Failed, r.Total)
	if r.Updated > 0 {
		fmt.Fprintf(&b, " (%d golden files updated)", r.Updated)
	}
	return b.String()
}
