package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/deusflow/sportswire/internal/app"
	"github.com/deusflow/sportswire/internal/budget"
	"github.com/deusflow/sportswire/internal/retry"
)

var retriesCmd = &cobra.Command{
	Use:   "retries",
	Short: "Inspect and drive the retry queue",
}

var retriesProcessCmd = &cobra.Command{
	Use:   "process",
	Short: "Attempt every queued retry that is due",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			n := a.Coordinator.ProcessDue(ctx)
			fmt.Printf("Processed %d due retries, %d still pending\n", n, a.Coordinator.Stats().PendingRetries)
			return nil
		})
	},
}

var errorsCmd = &cobra.Command{
	Use:   "errors",
	Short: "Inspect the error log",
}

var errorsListCmd = &cobra.Command{
	Use:   "list [operation]",
	Short: "List unresolved errors, optionally for one operation kind",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var kind retry.OpKind
		if len(args) == 1 {
			kind = retry.OpKind(args[0])
		}
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			return printJSON(a.Coordinator.Unresolved(kind))
		})
	},
}

var errorsClearCmd = &cobra.Command{
	Use:   "clear-resolved",
	Short: "Drop resolved entries from the error log",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			fmt.Printf("Cleared %d resolved errors\n", a.Coordinator.ClearResolved(ctx))
			return nil
		})
	},
}

var budgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Inspect and adjust the budget ledger",
}

var budgetStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show spend against limits",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			return printJSON(a.Budget.Status())
		})
	},
}

var budgetAddUsageCmd = &cobra.Command{
	Use:   "add-usage <api_requests|tokens|videos|uploads> <amount>",
	Short: "Record billable usage",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := parseUsageKind(args[0])
		if err != nil {
			return err
		}
		amount, err := parseAmount(args[1])
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			alerts, err := a.Budget.RecordUsage(ctx, kind, amount)
			printAlerts(alerts)
			return err
		})
	},
}

var budgetAddCostCmd = &cobra.Command{
	Use:   "add-cost <amount>",
	Short: "Record a direct cost in dollars",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := parseAmount(args[0])
		if err != nil {
			return err
		}
		source, _ := cmd.Flags().GetString("source")
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			alerts, err := a.Budget.AddCost(ctx, amount, source)
			printAlerts(alerts)
			return err
		})
	},
}

var budgetResetCmd = &cobra.Command{
	Use:       "reset <daily|weekly|monthly>",
	Short:     "Zero one period's spend",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{string(budget.Daily), string(budget.Weekly), string(budget.Monthly)},
	RunE: func(cmd *cobra.Command, args []string) error {
		p := budget.Period(strings.ToLower(args[0]))
		switch p {
		case budget.Daily, budget.Weekly, budget.Monthly:
		default:
			return fmt.Errorf("unknown period %q", args[0])
		}
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			if err := a.Budget.Reset(p); err != nil {
				return err
			}
			fmt.Printf("%s budget reset\n", p)
			return nil
		})
	},
}

var pauseCmd = &cobra.Command{
	Use:   "pause [reason]",
	Short: "Pause costly work",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason := "manual pause"
		if len(args) == 1 {
			reason = args[0]
		}
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			changed, err := a.Workflow.Pause(ctx, reason)
			if err != nil {
				return err
			}
			if !changed {
				fmt.Println("Workflow already paused")
				return nil
			}
			fmt.Printf("Workflow paused: %s\n", reason)
			return nil
		})
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume costly work",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			changed, err := a.Workflow.Resume(ctx)
			if err != nil {
				return err
			}
			if !changed {
				fmt.Println("Workflow already active")
				return nil
			}
			fmt.Println("Workflow resumed")
			return nil
		})
	},
}

func init() {
	retriesCmd.AddCommand(retriesProcessCmd)
	errorsCmd.AddCommand(errorsListCmd, errorsClearCmd)

	budgetAddCostCmd.Flags().String("source", "manual", "what the cost is for")
	budgetCmd.AddCommand(budgetStatusCmd, budgetAddUsageCmd, budgetAddCostCmd, budgetResetCmd)

	rootCmd.AddCommand(retriesCmd, errorsCmd, budgetCmd, pauseCmd, resumeCmd)
}

func parseUsageKind(s string) (budget.UsageKind, error) {
	k := budget.UsageKind(strings.ToLower(s))
	switch k {
	case budget.UsageAPIRequests, budget.UsageTokens, budget.UsageVideos, budget.UsageUploads:
		return k, nil
	}
	return "", fmt.Errorf("unknown usage kind %q", s)
}

func parseAmount(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("amount must be a non-negative number, got %q", s)
	}
	return v, nil
}

func printAlerts(alerts []budget.Alert) {
	for _, al := range alerts {
		fmt.Printf("[%s] %s\n", strings.ToUpper(string(al.Level)), al.Message)
	}
}
