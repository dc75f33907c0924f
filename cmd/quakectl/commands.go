package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/mr1hm/go-quake-forecast/internal/app"
	"github.com/mr1hm/go-quake-forecast/internal/config"
	"github.com/mr1hm/go-quake-forecast/internal/forecast"
	"github.com/mr1hm/go-quake-forecast/internal/logging"
	"github.com/mr1hm/go-quake-forecast/internal/observability"
)

type rootOptions struct {
	dbPath  string
	timeout time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "quakectl",
		Short: "Operate the quakecast earthquake service",
		Long: `quakectl runs one-off ingestion ticks and forecast runs against the
quakecast database and prints the dashboard, alert and forecast views.

Configuration comes from the same environment variables (and .env file)
as the quakecast server.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.dbPath, "db", "", "database path (overrides DB_PATH)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "overall command timeout")

	root.AddCommand(
		newIngestCmd(opts),
		newForecastCmd(opts),
		newStatsCmd(opts),
		newAlertsCmd(opts),
		newPredictionsCmd(opts),
	)
	return root
}

// withApp loads configuration, opens the database and hands the app to fn.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if opts.dbPath != "" {
		cfg.DB.Path = opts.dbPath
	}
	logging.SetupWriter(cmd.ErrOrStderr(), cfg.Logging.Level)

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()

	a, err := app.New(ctx, cfg, observability.NewMetrics())
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newIngestCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Fetch the live feed once and store new events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				notifier, err := a.Notifier()
				if err != nil {
					return err
				}
				ing, err := a.Ingestor(notifier)
				if err != nil {
					return err
				}
				res, err := ing.RunOnce(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]int{
					"fetched": res.Fetched,
					"valid":   res.Valid,
					"recent":  res.Recent,
					"stored":  res.Stored,
					"failed":  res.Failed,
				})
			})
		},
	}
}

func newForecastCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "forecast",
		Short: "Forecast commands",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Replace the stored forecast set with a new run",
		Example: `  quakectl forecast run
  FORECAST_LOCK_BACKEND=redis REDIS_URL=redis://localhost:6379 quakectl forecast run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				engine, err := a.Engine()
				if err != nil {
					return err
				}
				res, err := engine.Run(ctx)
				if err != nil {
					stage, _ := forecast.StageOf(err)
					if !stage.Ran() {
						return fmt.Errorf("forecast did not run: %w", err)
					}
					return err
				}
				if views, err := a.Views(); err == nil {
					views.InvalidatePredictions(ctx)
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"run_id":   res.RunID,
					"started":  res.Started.Format(time.RFC3339),
					"deleted":  res.Deleted,
					"inserted": res.Inserted,
				})
			})
		},
	})
	return cmd
}

func newStatsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print the dashboard view",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				views, err := a.Views()
				if err != nil {
					return err
				}
				d, err := views.Dashboard(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), d)
			})
		},
	}
}

func newAlertsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "List unacknowledged alerts from the last 24 hours",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				views, err := a.Views()
				if err != nil {
					return err
				}
				alerts, err := views.Alerts(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), alerts)
			})
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "ack <id>...",
		Short: "Mark alerts as sent",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				views, err := a.Views()
				if err != nil {
					return err
				}
				n, err := views.AcknowledgeAlerts(ctx, args)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "acknowledged %d of %d\n", n, len(args))
				return nil
			})
		},
	})
	return cmd
}

func newPredictionsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "predictions",
		Short: "List forecasts for the next 30 days",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				views, err := a.Views()
				if err != nil {
					return err
				}
				preds, err := views.Predictions(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), preds)
			})
		},
	}
}
