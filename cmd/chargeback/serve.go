package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/pario-ai/chargeback/pkg/server"
)

func newServeCmd(cfgPath func() string) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP batch ingest server",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfgPath())
			if err != nil {
				return err
			}
			defer a.Close()

			if listen == "" {
				listen = a.cfg.Listen
			}

			var usage server.Summarizer
			if a.tracker != nil {
				usage = a.tracker
			}
			var gatherer prometheus.Gatherer
			if a.registry != nil {
				gatherer = a.registry
			}

			srv := server.New(listen, a.pipeline, usage, gatherer, a.logger.Named("server"))

			ctx, stop := signalContext()
			defer stop()
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides config)")
	return cmd
}
