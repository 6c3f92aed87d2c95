package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/chargeback/pkg/tracker"
)

func newStatsCmd(cfgPath func() string) *cobra.Command {
	var (
		appKey string
		since  string
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show recorded token usage per app key and operation",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cfgPath())
			if err != nil {
				return err
			}

			tr, err := tracker.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer tr.Close()

			ctx := context.Background()

			// Record list for a single key
			if since != "" {
				if appKey == "" {
					return fmt.Errorf("--since needs --app-key")
				}
				t, err := time.Parse("2006-01-02", since)
				if err != nil {
					return fmt.Errorf("invalid --since date (use YYYY-MM-DD): %w", err)
				}
				recs, err := tr.QueryByKey(ctx, appKey, t)
				if err != nil {
					return err
				}
				if len(recs) == 0 {
					fmt.Println("No usage records found.")
					return nil
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "RECORDED\tTOKEN INFO ID\tOPERATION\tSTREAM\tPROMPT\tCOMPLETION\tTOTAL")
				for _, r := range recs {
					fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%d\t%d\t%d\n",
						r.RecordedAt.Format("2006-01-02T15:04:05"), r.ID, r.Operation, r.Stream,
						r.PromptTokens, r.CompletionTokens, r.TotalTokens())
				}
				return w.Flush()
			}

			summaries, err := tr.Summary(ctx, appKey)
			if err != nil {
				return err
			}
			if len(summaries) == 0 {
				fmt.Println("No usage data found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "APP KEY\tOPERATION\tREQUESTS\tSTREAMED\tPROMPT\tCOMPLETION\tTOTAL")
			for _, s := range summaries {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
					s.AppKey, s.Operation, s.RequestCount, s.StreamCount, s.TotalPrompt, s.TotalCompletion, s.TotalTokens)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&appKey, "app-key", "", "filter by app subscription key")
	cmd.Flags().StringVar(&since, "since", "", "list individual records since date (YYYY-MM-DD), needs --app-key")
	return cmd
}
