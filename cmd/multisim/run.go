package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/t77yq/multisim/internal/config"
	"github.com/t77yq/multisim/internal/model"
)

func newRunCommand(opts *rootOptions) *cobra.Command {
	var (
		parallel int
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run [experiment.yaml]",
		Short: "Run every system and sweep of an experiment file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var overrides []config.Option
			if cmd.Flags().Changed("parallel") {
				overrides = append(overrides, set("multisim.max_parallel", parallel))
			}
			if cmd.Flags().Changed("timeout") {
				overrides = append(overrides, set("multisim.run_timeout", timeout))
			}

			cfg, logger, err := load(opts.path(args), overrides...)
			if err != nil {
				return err
			}
			defer logger.Sync()

			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()

			jobs, err := a.jobs.Jobs(cfg)
			if err != nil {
				return &exitError{code: exitValidation, err: err}
			}
			if len(jobs) == 0 {
				return &exitError{code: exitUsage, err: errors.New("experiment defines no systems or sweeps")}
			}

			logger.Info("Running experiment",
				zap.Int("runs", len(jobs)),
				zap.Int("max_parallel", cfg.MultiSim.MaxParallel))

			records := a.runBatch(cmd.Context(), jobs, cmd.OutOrStdout())
			return batchError(records)
		},
	}

	cmd.Flags().IntVarP(&parallel, "parallel", "p", 1, "maximum number of concurrent runs")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "wall-clock limit per run, 0 for none")
	return cmd
}

// batchError maps the failed records of a batch to an exit code. Timed out
// runs do not fail the batch.
func batchError(records []*model.RunRecord) error {
	failed := 0
	engineStart := false
	for _, rec := range records {
		if !rec.Failed() {
			continue
		}
		failed++
		if rec.ErrorClass == model.ErrorClassEngineStart {
			engineStart = true
		}
	}

	switch {
	case failed == 0:
		return nil
	case engineStart:
		return &exitError{code: exitEngineStart, err: fmt.Errorf("%d of %d runs failed, engine could not start", failed, len(records))}
	default:
		return &exitError{code: exitRunFailure, err: fmt.Errorf("%d of %d runs failed", failed, len(records))}
	}
}
