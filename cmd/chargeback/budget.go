package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pario-ai/chargeback/pkg/budget"
	"github.com/pario-ai/chargeback/pkg/models"
	"github.com/pario-ai/chargeback/pkg/tracker"
)

func newBudgetCmd(cfgPath func() string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Inspect token budgets per app key",
	}

	var appKey string
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show budget usage vs limits",
		RunE: func(cmd *cobra.Command, args []string) error {
			enforcer, cleanup, err := openEnforcer(cfgPath())
			if err != nil {
				return err
			}
			if enforcer == nil {
				fmt.Println("Budgets are disabled.")
				return nil
			}
			defer cleanup()

			key := appKey
			if key == "" {
				key = "*"
			}

			statuses, err := enforcer.Status(context.Background(), key)
			if err != nil {
				return err
			}
			if len(statuses) == 0 {
				fmt.Println("No budget policies found for this key.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "APP KEY\tOPERATION\tPERIOD\tMAX TOKENS\tUSED\tREMAINING")
			for _, s := range statuses {
				op := s.Policy.Operation.String()
				if op == "" {
					op = "*"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\n",
					s.Policy.AppKey, op, s.Policy.Period, s.Policy.MaxTokens, s.Used, s.Remaining)
			}
			return w.Flush()
		},
	}
	statusCmd.Flags().StringVar(&appKey, "app-key", "", "filter by app subscription key")

	var (
		checkKey string
		checkOp  string
	)
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Exit non-zero when an app key has used up its budget",
		RunE: func(cmd *cobra.Command, args []string) error {
			if checkKey == "" {
				return fmt.Errorf("--app-key is required")
			}
			var op models.Operation
			if checkOp != "" {
				var err error
				if op, err = models.ParseOperation(checkOp); err != nil {
					return err
				}
			}

			enforcer, cleanup, err := openEnforcer(cfgPath())
			if err != nil {
				return err
			}
			if enforcer == nil {
				fmt.Println("Budgets are disabled.")
				return nil
			}
			defer cleanup()

			if err := enforcer.Check(context.Background(), checkKey, op); err != nil {
				return err
			}
			fmt.Println("Within budget.")
			return nil
		},
	}
	checkCmd.Flags().StringVar(&checkKey, "app-key", "", "app subscription key")
	checkCmd.Flags().StringVar(&checkOp, "operation", "", "ChatCompletion or TextCompletion")

	cmd.AddCommand(statusCmd, checkCmd)
	return cmd
}

// openEnforcer returns a nil enforcer when budgets are disabled.
func openEnforcer(configPath string) (*budget.Enforcer, func(), error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	if !cfg.Budget.Enabled {
		return nil, func() {}, nil
	}

	tr, err := tracker.New(cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	return budget.New(cfg.Budget.Policies, tr), func() { _ = tr.Close() }, nil
}
