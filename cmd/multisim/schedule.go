package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/t77yq/multisim/internal/config"
	"github.com/t77yq/multisim/internal/model"
	"github.com/t77yq/multisim/internal/schedule"
)

func newScheduleCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule [experiment.yaml]",
		Short: "Re-run experiment files on their cron schedules until interrupted",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.path(args)
			cfg, logger, err := load(path)
			if err != nil {
				return err
			}
			defer logger.Sync()

			if len(cfg.Schedules) == 0 {
				return &exitError{code: exitUsage, err: errors.New("experiment defines no schedules")}
			}

			out := cmd.OutOrStdout()
			scheduler := schedule.NewSweepScheduler(sweepRunner(logger, cmd), logger)
			for _, sc := range cfg.Schedules {
				s := sc.Schedule()
				if !filepath.IsAbs(s.ConfigPath) && path != "" {
					s.ConfigPath = filepath.Join(filepath.Dir(path), s.ConfigPath)
				}
				if err := scheduler.AddSchedule(s); err != nil {
					return &exitError{code: exitValidation, err: fmt.Errorf("schedule %q: %w", sc.Name, err)}
				}
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tEXPRESSION\tCONFIG\tNEXT RUN")
			for _, s := range scheduler.ListSchedules() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.Name, s.Expression, s.ConfigPath, s.NextRunTime.Format(time.RFC3339))
			}
			w.Flush()

			scheduler.Start(cmd.Context())
			<-cmd.Context().Done()
			scheduler.Stop()
			return nil
		},
	}
}

// sweepRunner runs the experiment file of a schedule as one batch
func sweepRunner(logger *zap.Logger, cmd *cobra.Command) schedule.Runner {
	return func(ctx context.Context, s model.SweepSchedule) (model.RunStatus, error) {
		cfg, err := config.Load(s.ConfigPath)
		if err != nil {
			return model.RunStatusFailed, err
		}

		a, err := newApp(ctx, cfg, logger.With(zap.String("schedule", s.Name)))
		if err != nil {
			return model.RunStatusFailed, err
		}
		defer a.close()

		jobs, err := a.jobs.Jobs(cfg)
		if err != nil {
			return model.RunStatusFailed, err
		}

		records := a.runBatch(ctx, jobs, cmd.OutOrStdout())
		if err := batchError(records); err != nil {
			return model.RunStatusFailed, err
		}
		return model.RunStatusCompleted, nil
	}
}
