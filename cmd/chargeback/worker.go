package main

import (
	"github.com/spf13/cobra"

	"github.com/pario-ai/chargeback/pkg/queue"
)

func newWorkerCmd(cfgPath func() string) *cobra.Command {
	var concurrency int

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume batch tasks from the Redis queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfgPath())
			if err != nil {
				return err
			}
			defer a.Close()

			qcfg := a.cfg.Queue
			if concurrency > 0 {
				qcfg.Concurrency = concurrency
			}

			logger := a.logger.Named("worker")
			srv := queue.NewServer(qcfg, queue.NewHandler(a.pipeline, logger), logger)

			ctx, stop := signalContext()
			defer stop()
			return srv.Run(ctx)
		},
	}

	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "number of concurrent tasks (overrides config)")
	return cmd
}
