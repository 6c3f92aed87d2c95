package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/pario-ai/chargeback/pkg/budget"
	"github.com/pario-ai/chargeback/pkg/deadletter"
	"github.com/pario-ai/chargeback/pkg/logging"
	"github.com/pario-ai/chargeback/pkg/mcp"
	"github.com/pario-ai/chargeback/pkg/tracker"
)

func newMCPCmd(cfgPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve usage, budgets and failed records to MCP clients over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cfgPath())
			if err != nil {
				return err
			}
			// stdout carries the protocol
			if cfg.Log.Output == "" || cfg.Log.Output == "stdout" {
				cfg.Log.Output = "stderr"
			}
			logger, err := logging.New(cfg.Log)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			tr, err := tracker.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer func() { _ = tr.Close() }()

			var budgets mcp.BudgetReporter
			if cfg.Budget.Enabled {
				budgets = budget.New(cfg.Budget.Policies, tr)
			}

			var failures mcp.FailureQuerier
			if cfg.DeadLetter.Enabled {
				store, err := deadletter.New(cfg.DeadLetter.DBPath, 0)
				if err != nil {
					return err
				}
				defer func() { _ = store.Close() }()
				failures = store
			}

			ctx, stop := signalContext()
			defer stop()

			srv := mcp.New(tr, budgets, failures, version, logger.Named("mcp"))
			return srv.Run(ctx, os.Stdin, os.Stdout)
		},
	}
}
