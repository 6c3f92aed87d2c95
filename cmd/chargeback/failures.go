package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/chargeback/pkg/deadletter"
	"github.com/pario-ai/chargeback/pkg/meter"
	"github.com/pario-ai/chargeback/pkg/models"
	"github.com/pario-ai/chargeback/pkg/pipeline"
)

func newFailuresCmd(cfgPath func() string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "failures",
		Short: "Inspect and replay records that failed metering",
	}

	cmd.AddCommand(
		newFailuresListCmd(cfgPath),
		newFailuresShowCmd(cfgPath),
		newFailuresStatsCmd(cfgPath),
		newFailuresCleanupCmd(cfgPath),
		newFailuresReplayCmd(cfgPath),
	)
	return cmd
}

func openDeadLetter(configPath string) (*deadletter.Store, func(), error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	if !cfg.DeadLetter.Enabled {
		return nil, nil, fmt.Errorf("dead-letter store is disabled in config")
	}
	s, err := deadletter.New(cfg.DeadLetter.DBPath, cfg.DeadLetter.RetentionDays)
	if err != nil {
		return nil, nil, err
	}
	return s, func() { _ = s.Close() }, nil
}

func queryFlags(cmd *cobra.Command, opts *models.FailedQueryOpts, since *string) {
	cmd.Flags().StringVar(&opts.BatchID, "batch-id", "", "filter by batch id")
	cmd.Flags().StringVar(&opts.Source, "source", "", "filter by source (http, queue, spool, cli, replay)")
	cmd.Flags().StringVar(since, "since", "", "start date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&opts.IncludeReplayed, "all", false, "include records already replayed")
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "max records to return")
}

func parseSince(opts *models.FailedQueryOpts, since string) error {
	if since == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", since)
	if err != nil {
		return fmt.Errorf("invalid --since date (use YYYY-MM-DD): %w", err)
	}
	opts.Since = t
	return nil
}

func newFailuresListCmd(cfgPath func() string) *cobra.Command {
	var (
		opts  models.FailedQueryOpts
		since string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List failed records",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := parseSince(&opts, since); err != nil {
				return err
			}
			s, cleanup, err := openDeadLetter(cfgPath())
			if err != nil {
				return err
			}
			defer cleanup()

			records, err := s.Query(context.Background(), opts)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), formatFailures(records))
			return nil
		},
	}
	queryFlags(cmd, &opts, &since)
	return cmd
}

func formatFailures(records []models.FailedRecord) string {
	if len(records) == 0 {
		return "No failed records found.\n"
	}
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATED\tSOURCE\tBATCH\tINDEX\tREPLAYED\tERROR")
	for _, r := range records {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%t\t%s\n",
			r.ID, r.CreatedAt.Format("2006-01-02T15:04:05"), r.Source, r.BatchID, r.Index, r.Replayed, truncate(r.Error, 80))
	}
	_ = w.Flush()
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func newFailuresShowCmd(cfgPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a failed record including its payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid id %q: %w", args[0], err)
			}
			s, cleanup, err := openDeadLetter(cfgPath())
			if err != nil {
				return err
			}
			defer cleanup()

			r, err := s.Get(context.Background(), id)
			if err != nil {
				return err
			}
			fmt.Printf("ID:        %d\n", r.ID)
			fmt.Printf("Created:   %s\n", r.CreatedAt.Format(time.RFC3339))
			fmt.Printf("Source:    %s\n", r.Source)
			fmt.Printf("Batch:     %s\n", r.BatchID)
			fmt.Printf("Index:     %d\n", r.Index)
			if r.RecordID != "" {
				fmt.Printf("Record ID: %s\n", r.RecordID)
			}
			fmt.Printf("Replayed:  %t\n", r.Replayed)
			fmt.Printf("Error:     %s\n", r.Error)
			fmt.Printf("\n--- Payload ---\n%s\n", r.Payload)
			return nil
		},
	}
}

func newFailuresStatsCmd(cfgPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show failure counts per source and day",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, cleanup, err := openDeadLetter(cfgPath())
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := s.Stats(context.Background())
			if err != nil {
				return err
			}
			if len(stats) == 0 {
				fmt.Println("No failed records.")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "DAY\tSOURCE\tFAILED")
			for _, st := range stats {
				fmt.Fprintf(w, "%s\t%s\t%d\n", st.Day, st.Source, st.Count)
			}
			return w.Flush()
		},
	}
}

func newFailuresCleanupCmd(cfgPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete failed records older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, cleanup, err := openDeadLetter(cfgPath())
			if err != nil {
				return err
			}
			defer cleanup()

			n, err := s.Cleanup(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %d failed records.\n", n)
			return nil
		},
	}
}

func newFailuresReplayCmd(cfgPath func() string) *cobra.Command {
	var (
		opts  models.FailedQueryOpts
		since string
	)

	cmd := &cobra.Command{
		Use:   "replay [id...]",
		Short: "Meter failed records again",
		Long: "Meter failed records again, selected by id or by the query flags.\n" +
			"Replayed records are marked; records that fail again are stored under the replay batch.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := parseSince(&opts, since); err != nil {
				return err
			}
			a, err := newApp(cfgPath())
			if err != nil {
				return err
			}
			defer a.Close()
			if a.dead == nil {
				return fmt.Errorf("dead-letter store is disabled in config")
			}

			ctx := context.Background()
			records, err := selectFailures(ctx, a.dead, args, opts)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("Nothing to replay.")
				return nil
			}

			items := make([]meter.Item, len(records))
			ids := make([]int64, len(records))
			for i, r := range records {
				items[i] = meter.Item{Payload: r.Payload, RecordID: r.RecordID}
				ids[i] = r.ID
			}

			batchID, out := a.pipeline.RunItems(ctx, pipeline.SourceReplay, "", items)
			if err := a.dead.MarkReplayed(ctx, ids...); err != nil {
				return err
			}
			return writeOutcome(cmd.OutOrStdout(), batchID, out)
		},
	}
	queryFlags(cmd, &opts, &since)
	return cmd
}

func selectFailures(ctx context.Context, s *deadletter.Store, args []string, opts models.FailedQueryOpts) ([]models.FailedRecord, error) {
	if len(args) == 0 {
		return s.Query(ctx, opts)
	}
	records := make([]models.FailedRecord, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q: %w", arg, err)
		}
		r, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}
