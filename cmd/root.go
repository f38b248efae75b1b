// Package cmd defines the specialdays CLI.
//
// serve runs the HTTP API together with the cron jobs that keep the source
// caches and the holiday API cache warm. The remaining commands operate on
// the same data directory one-shot, which makes them suitable for cron or
// for poking at the caches by hand.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/specialdays/internal/config"
	"github.com/JakeFAU/specialdays/internal/server"
)

type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory. Tests replace it.
var newApp = func(ctx context.Context, cfgFile string) (*server.App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	return server.Build(ctx, cfg)
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "specialdays",
		Short: "International observances for team announcements.",
		Long: `specialdays aggregates international observances from the UN, WHO and
UNESCO calendars, a holiday API and a custom list, and tracks which
announcements have already gone out.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(*server.App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (env SPECIALDAYS_* overrides it)")

	cmd.AddCommand(
		newServeCmd(),
		newRefreshCmd(),
		newPrefetchCmd(),
		newTodayCmd(),
		newUpcomingCmd(),
		newStatsCmd(),
		newModeCmd(),
	)
	return cmd
}

func resolveApp(ctx context.Context) (*server.App, error) {
	appInstance, ok := ctx.Value(appKey).(*server.App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
