package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pario-ai/chargeback/pkg/spool"
)

func newWatchCmd(cfgPath func() string) *cobra.Command {
	var (
		dir  string
		once bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Meter batch files dropped into the spool directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfgPath())
			if err != nil {
				return err
			}
			defer a.Close()

			scfg := a.cfg.Spool
			if dir != "" {
				scfg.Dir = dir
			}
			w := spool.New(scfg, a.pipeline, a.logger.Named("spool"))

			if once {
				n, err := w.ProcessPending(context.Background())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "processed %d files\n", n)
				return nil
			}

			ctx, stop := signalContext()
			defer stop()
			return w.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "spool directory (overrides config)")
	cmd.Flags().BoolVar(&once, "once", false, "process pending files and exit")
	return cmd
}
