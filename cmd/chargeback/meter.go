package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/pario-ai/chargeback/pkg/meter"
	"github.com/pario-ai/chargeback/pkg/pipeline"
)

func newMeterCmd(cfgPath func() string) *cobra.Command {
	var (
		batchID string
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "meter [file...]",
		Short: "Meter batch files (JSON array or JSON Lines); reads stdin without arguments",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfgPath())
			if err != nil {
				return err
			}
			defer a.Close()

			if len(args) == 0 {
				args = []string{"-"}
			}

			ctx := context.Background()
			var batchErr error
			for _, path := range args {
				payloads, id, err := readBatchFile(path)
				if err != nil {
					return err
				}
				if batchID != "" {
					id = batchID
				}

				id, out := a.pipeline.Run(ctx, pipeline.SourceCLI, id, payloads)
				if asJSON {
					err = writeOutcomeJSON(cmd.OutOrStdout(), id, out)
				} else {
					err = writeOutcome(cmd.OutOrStdout(), id, out)
				}
				if err != nil {
					return err
				}
				batchErr = multierr.Append(batchErr, out.Err())
			}
			if batchErr != nil {
				return fmt.Errorf("metering failed: %w", batchErr)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&batchID, "batch-id", "", "batch id to record failures under (default: file name)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the outcome as JSON")
	return cmd
}

// readBatchFile reads a batch from path, or stdin for "-". The returned id is
// the file name without extension.
func readBatchFile(path string) ([]string, string, error) {
	var r io.Reader = os.Stdin
	id := ""
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, "", fmt.Errorf("open batch: %w", err)
		}
		defer f.Close()
		r = f
		name := filepath.Base(path)
		id = strings.TrimSuffix(name, filepath.Ext(name))
	}

	payloads, err := pipeline.ReadBatch(r)
	if err != nil {
		return nil, "", fmt.Errorf("read batch %s: %w", path, err)
	}
	return payloads, id, nil
}

func writeOutcome(w io.Writer, batchID string, out *meter.Outcome) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if len(out.Records) > 0 {
		fmt.Fprintln(tw, "TOKEN INFO ID\tOPERATION\tAPP KEY\tSTREAM\tPROMPT\tCOMPLETION\tTOTAL")
		for _, r := range out.Records {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%d\t%d\t%d\n",
				r.ID, r.Operation, r.AppKey, r.Stream, r.PromptTokens, r.CompletionTokens, r.TotalTokens())
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	for _, f := range out.Failures {
		fmt.Fprintf(w, "FAILED %v\n", f)
	}
	fmt.Fprintf(w, "batch %s: %d records, %d succeeded, %d failed, %d skipped\n",
		batchID, out.Total(), len(out.Records), len(out.Failures), out.Skipped)
	return nil
}

type outcomeJSON struct {
	BatchID  string      `json:"batch_id"`
	Records  []recordOut `json:"records"`
	Failures []string    `json:"failures,omitempty"`
	Skipped  int         `json:"skipped"`
}

type recordOut struct {
	ID               string `json:"token_info_id"`
	Operation        string `json:"api_operation"`
	AppKey           string `json:"app_key"`
	Timestamp        string `json:"timestamp"`
	Stream           bool   `json:"stream"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
}

func writeOutcomeJSON(w io.Writer, batchID string, out *meter.Outcome) error {
	doc := outcomeJSON{BatchID: batchID, Records: []recordOut{}, Skipped: out.Skipped}
	for _, r := range out.Records {
		doc.Records = append(doc.Records, recordOut{
			ID:               r.ID,
			Operation:        r.Operation.String(),
			AppKey:           r.AppKey,
			Timestamp:        r.Timestamp,
			Stream:           r.Stream,
			PromptTokens:     r.PromptTokens,
			CompletionTokens: r.CompletionTokens,
			TotalTokens:      r.TotalTokens(),
		})
	}
	for _, f := range out.Failures {
		doc.Failures = append(doc.Failures, f.Error())
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}
