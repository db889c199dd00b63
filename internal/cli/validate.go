package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/credsync/internal/credential"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Strict bool // exit non-zero on mismatch or schema violations
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <staff|guardian>",
		Short: "Compare an origin with the target dataset",
		Long: `Count the origin's distinct identities and the target credentials entitled
to the origin's application, and check entitled credentials against the
credential schema. Nothing is written.

A mismatch is reported with exit code 0 unless --strict is given.

Example:
  credsync validate guardian
  credsync validate staff --strict`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "exit 1 on mismatch or schema violations")

	return cmd
}

func runValidate(opts *ValidateOptions, arg string, cmd *cobra.Command) error {
	origin, err := credential.ParseOrigin(arg)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid origin", err)
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	s, err := openSession(ctx, opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer s.finish("validate-" + string(origin))

	ctx, cancel := s.runContext(ctx)
	defer cancel()

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	v, err := s.engine.Validate(ctx, origin)
	if err != nil {
		if ferr := out.Error("RUN", err.Error(), nil); ferr != nil {
			return ferr
		}
		return WrapExitError(ExitFailure, "validation failed", err)
	}

	var data any = v
	if opts.Format == "text" {
		lines := []string{fmt.Sprintf("%s: %s", origin, formatValidation(v))}
		for _, violation := range v.Violations {
			lines = append(lines, "  "+violation.String())
		}
		data = strings.Join(lines, "\n")
	}
	if err := out.Success(data); err != nil {
		return err
	}

	if opts.Strict && (!v.Match || v.SchemaViolations > 0) {
		return NewExitError(ExitFailure, fmt.Sprintf("validation of %s failed: expected %d, actual %d, %d schema violations",
			origin, v.Expected, v.Actual, v.SchemaViolations))
	}
	return nil
}
