package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pario-ai/chargeback/pkg/queue"
)

func newEnqueueCmd(cfgPath func() string) *cobra.Command {
	var batchID string

	cmd := &cobra.Command{
		Use:   "enqueue [file...]",
		Short: "Publish batch files onto the Redis queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cfgPath())
			if err != nil {
				return err
			}
			if len(args) == 0 {
				args = []string{"-"}
			}
			if batchID != "" && len(args) > 1 {
				return fmt.Errorf("--batch-id needs a single input")
			}

			client := queue.NewClient(cfg.Queue)
			defer client.Close()

			for _, path := range args {
				payloads, id, err := readBatchFile(path)
				if err != nil {
					return err
				}
				if batchID != "" {
					id = batchID
				}
				taskID, err := client.Enqueue(context.Background(), queue.BatchPayload{BatchID: id, Events: payloads})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "enqueued %d events as task %s\n", len(payloads), taskID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&batchID, "batch-id", "", "batch id, also used as task id (default: file name)")
	return cmd
}
