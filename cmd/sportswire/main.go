package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/deusflow/sportswire/internal/app"
	"github.com/deusflow/sportswire/internal/config"
	"github.com/deusflow/sportswire/internal/logger"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "sportswire",
	Short: "Sports news urgency pipeline",
	Long: `sportswire polls sports RSS feeds, scores stories for urgency, rewrites
them into short video scripts and delivers them immediately or in digests.

Example usage:
  sportswire run                      # Start the scheduler and monitoring server
  sportswire cycle                    # Run one polling cycle and exit
  sportswire status                   # Show budget, retry and workflow state
  sportswire budget reset daily       # Zero the daily spend
  sportswire pause "maintenance"      # Stop costly work until resumed`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		logger.Init(cfg.LogLevel)
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduler until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return withApp(ctx, func(ctx context.Context, a *app.App) error {
			logger.Info("sportswire started", "poll_interval", cfg.PollInterval, "monitoring", cfg.EnableHTTPMonitoring)
			return a.Run(ctx)
		})
	},
}

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run a single polling cycle",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			report, err := a.Pipeline.RunCycle(ctx)
			if err != nil {
				return err
			}
			return printJSON(report)
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show budget, retry, dedup and workflow state",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			st, err := a.Status(ctx)
			if err != nil {
				return err
			}
			return printJSON(st)
		})
	},
}

func init() {
	rootCmd.AddCommand(runCmd, cycleCmd, statusCmd)
}

// withApp builds and loads the application, runs fn and closes it.
func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("failed to close resources", "error", err)
		}
	}()

	if err := a.Load(ctx); err != nil {
		return err
	}
	return fn(ctx, a)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Stderr.WriteString("Error: " + err.Error() + "\n")
		os.Exit(1)
	}
}
