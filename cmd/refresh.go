package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/specialdays/internal/holidayapi"
	"github.com/JakeFAU/specialdays/internal/sourcecache"
)

func newRefreshCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "refresh [source]",
		Short: "Refresh scraped source caches",
		Long: `Refresh re-extracts the named source, or every enabled source when no
name is given. A disabled source is refreshed only when named. Fresh caches
are left alone unless --force is set.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			names := appInstance.Sources.EnabledNames()
			if len(args) == 1 {
				names = args[:1]
			}
			results := make(map[string]sourcecache.RefreshStats, len(names))
			var failed int
			for _, name := range names {
				stats, err := appInstance.Sources.Refresh(cmd.Context(), name, force)
				if err != nil {
					return err
				}
				if stats.Error != "" {
					failed++
				}
				results[name] = stats
			}
			if err := printJSON(cmd, results); err != nil {
				return err
			}
			if failed == len(names) && failed > 0 {
				return fmt.Errorf("refresh failed for %d source(s)", failed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "ignore cache freshness")
	return cmd
}

func newPrefetchCmd() *cobra.Command {
	var (
		days  int
		force bool
	)
	cmd := &cobra.Command{
		Use:   "prefetch",
		Short: "Prefetch upcoming dates from the holiday API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if appInstance.Holidays == nil {
				return fmt.Errorf("holiday api is disabled")
			}
			stats := appInstance.Holidays.WeeklyPrefetch(cmd.Context(), days, force)
			if err := printJSON(cmd, stats); err != nil {
				return err
			}
			if stats.QuotaExceeded {
				return fmt.Errorf("monthly quota exhausted after %d call(s)", stats.Calls)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", holidayapi.DefaultPrefetchDays, "days ahead to fetch")
	cmd.Flags().BoolVar(&force, "force", false, "refetch dates that are already cached")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
