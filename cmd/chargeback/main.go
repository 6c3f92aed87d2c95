package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "chargeback",
		Short:         "Chargeback - token usage metering for OpenAI API traffic",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (defaults built in)")

	cfgPath := func() string { return configPath }
	root.AddCommand(
		newMeterCmd(cfgPath),
		newServeCmd(cfgPath),
		newWorkerCmd(cfgPath),
		newEnqueueCmd(cfgPath),
		newWatchCmd(cfgPath),
		newStatsCmd(cfgPath),
		newBudgetCmd(cfgPath),
		newFailuresCmd(cfgPath),
		newMCPCmd(cfgPath),
	)
	return root
}
