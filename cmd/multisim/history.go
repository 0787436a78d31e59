package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/t77yq/multisim/internal/model"
	"github.com/t77yq/multisim/internal/storage"
)

func newHistoryCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect and prune stored run records",
	}
	cmd.AddCommand(
		newHistoryListCommand(opts),
		newHistoryShowCommand(opts),
		newHistoryPruneCommand(opts),
	)
	return cmd
}

// openHistory loads the experiment file and opens its history database
func openHistory(opts *rootOptions) (*storage.SQLiteRunHistory, *zap.Logger, func(), error) {
	cfg, logger, err := load(opts.configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	if cfg.Storage.HistoryDB == "" {
		return nil, nil, nil, &exitError{code: exitUsage, err: errors.New("storage.history_db is not configured")}
	}
	history, err := storage.NewSQLiteRunHistory(logger, cfg.Storage.HistoryDB)
	if err != nil {
		return nil, nil, nil, err
	}
	return history, logger, func() {
		history.Close()
		logger.Sync()
	}, nil
}

func newHistoryListCommand(opts *rootOptions) *cobra.Command {
	var (
		filter storage.RunFilter
		status string
		offset int
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List run records, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			history, _, closeFn, err := openHistory(opts)
			if err != nil {
				return err
			}
			defer closeFn()

			filter.Status = model.RunStatus(status)
			records, err := history.List(cmd.Context(), filter, offset, limit)
			if err != nil {
				return err
			}
			total, err := history.Count(cmd.Context(), filter)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tLABEL\tSTATUS\tEXIT\tWALL\tSTARTED")
			for _, rec := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
					rec.ID, rec.Label, rec.Status, rec.ExitCode,
					rec.WallTime.Round(time.Millisecond), rec.StartedAt.Format(time.RFC3339))
			}
			w.Flush()
			fmt.Fprintf(cmd.OutOrStdout(), "%d of %d records\n", len(records), total)
			return nil
		},
	}

	cmd.Flags().StringVar(&filter.Label, "label", "", "only runs with this label")
	cmd.Flags().StringVar(&filter.Batch, "batch", "", "only runs of this batch")
	cmd.Flags().StringVar(&status, "status", "", "only runs with this status")
	cmd.Flags().IntVar(&offset, "offset", 0, "records to skip")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum records to list")
	return cmd
}

func newHistoryShowCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print one run record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			history, _, closeFn, err := openHistory(opts)
			if err != nil {
				return err
			}
			defer closeFn()

			rec, err := history.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(rec)
		},
	}
}

func newHistoryPruneCommand(opts *rootOptions) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete run records and event logs older than the retention",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := load(opts.configPath)
			if err != nil {
				return err
			}
			defer logger.Sync()

			retention := cfg.Storage.HistoryRetention
			if cmd.Flags().Changed("older-than") {
				retention = olderThan
			}
			if retention <= 0 {
				return &exitError{code: exitUsage, err: fmt.Errorf("retention must be > 0, got %s", retention)}
			}

			out := cmd.OutOrStdout()
			if cfg.Storage.HistoryDB != "" {
				history, err := storage.NewSQLiteRunHistory(logger, cfg.Storage.HistoryDB)
				if err != nil {
					return err
				}
				defer history.Close()

				n, err := history.DeleteBefore(cmd.Context(), time.Now().Add(-retention))
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Deleted %d run records\n", n)
			}

			if cfg.Storage.EventLogDir != "" {
				events, err := storage.NewEventLog(logger, cfg.Storage.EventLogDir, 0)
				if err != nil {
					return err
				}
				defer events.Close()

				n, err := events.Prune(retention)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Deleted %d event logs\n", n)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "retention, defaults to storage.history_retention")
	return cmd
}
