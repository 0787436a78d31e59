package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/t77yq/multisim/internal/config"
)

const (
	exitOK          = 0
	exitUsage       = 1
	exitValidation  = 2
	exitEngineStart = 3
	exitRunFailure  = 4
)

// exitError carries the process exit code of a failed command
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

type rootOptions struct {
	configPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "multisim",
		Short:         "Run batches of architectural simulations in parallel",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "experiment file (default ./multisim.yaml)")

	cmd.AddCommand(
		newRunCommand(opts),
		newScheduleCommand(opts),
		newHistoryCommand(opts),
		newCatalogCommand(),
	)
	return cmd
}

// execute runs the command line and returns the process exit code
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := newRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}

	fmt.Fprintln(stderr, "Error:", err)
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitUsage
}

// path prefers the positional argument over --config
func (o *rootOptions) path(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return o.configPath
}

// load reads the experiment file and builds its logger
func load(path string, overrides ...config.Option) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(path, overrides...)
	if err != nil {
		code := exitUsage
		if errors.Is(err, config.ErrInvalidConfig) {
			code = exitValidation
		}
		return nil, nil, &exitError{code: code, err: err}
	}

	logger, err := cfg.Logging.Logger()
	if err != nil {
		return nil, nil, &exitError{code: exitUsage, err: fmt.Errorf("failed to create logger: %w", err)}
	}
	return cfg, logger, nil
}

func set(key string, value any) config.Option {
	return func(v *viper.Viper) error {
		v.Set(key, value)
		return nil
	}
}
