package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/specialdays/internal/aggregate"
	"github.com/JakeFAU/specialdays/internal/observance"
)

func newTodayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "today",
		Short: "List today's observances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			now := appInstance.Clock.Now()
			list := appInstance.Service.GetForDate(cmd.Context(), now)
			printDay(cmd.OutOrStdout(), aggregate.Day{Date: now, Observances: list})
			return nil
		},
	}
}

func newUpcomingCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "upcoming",
		Short: "List observances for the coming days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if days <= 0 || days > 366 {
				return fmt.Errorf("--days must be between 1 and 366")
			}
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, day := range appInstance.Service.GetDays(cmd.Context(), appInstance.Clock.Now(), days) {
				if len(day.Observances) > 0 {
					printDay(out, day)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", aggregate.DefaultUpcomingDays, "days to look ahead, today included")
	return cmd
}

func newStatsCmd() *cobra.Command {
	var verify bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show observance statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if !verify {
				return printJSON(cmd, appInstance.Service.GetStatistics(cmd.Context()))
			}
			report := appInstance.Service.Verify(cmd.Context())
			if err := printJSON(cmd, report); err != nil {
				return err
			}
			if !report.OK() {
				return fmt.Errorf("custom observances need attention")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&verify, "verify", false, "check custom entries for completeness instead")
	return cmd
}

// splitThreshold is the list length above which a day is printed under
// category headings even when every entry shares one category.
const splitThreshold = 6

func printDay(w io.Writer, day aggregate.Day) {
	fmt.Fprintf(w, "%s %s\n", observance.DateKey(day.Date), day.Date.Weekday())
	if len(day.Observances) == 0 {
		fmt.Fprintln(w, "  (no observances)")
		return
	}
	if !aggregate.ShouldSplit(day.Observances, splitThreshold) {
		printLines(w, "  ", day.Observances)
		return
	}
	grouped := aggregate.GroupByCategory(day.Observances)
	for _, c := range aggregate.GroupedCategories(grouped) {
		fmt.Fprintf(w, "  %s\n", c)
		printLines(w, "    ", grouped[c])
	}
}

func printLines(w io.Writer, indent string, list []observance.Observance) {
	for _, o := range list {
		emoji := o.Emoji
		if emoji == "" {
			emoji = "•"
		}
		line := fmt.Sprintf("%s%s %s [%s]", indent, emoji, o.Name, o.Category)
		if o.Source != "" {
			line += " (" + o.Source + ")"
		}
		fmt.Fprintln(w, strings.TrimRight(line, " "))
	}
}
