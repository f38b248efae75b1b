package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/specialdays/internal/announce"
)

func newModeCmd() *cobra.Command {
	var weekday string
	cmd := &cobra.Command{
		Use:   "mode [daily|weekly]",
		Short: "Show or switch the announcement cadence",
		Long: `Without an argument mode prints the current cadence. Switching to weekly
takes effect on the next weekly day; switching to daily is immediate.`,
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{string(announce.ModeDaily), string(announce.ModeWeekly)},
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if len(args) == 0 {
				st, err := appInstance.Modes.State(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd, st)
			}
			mode, err := announce.ParseMode(args[0])
			if err != nil {
				return err
			}
			var day *time.Weekday
			if weekday != "" {
				d, err := announce.ParseWeekday(weekday)
				if err != nil {
					return err
				}
				day = &d
			}
			st, err := appInstance.Modes.Set(cmd.Context(), mode, day)
			if err != nil {
				return err
			}
			return printJSON(cmd, st)
		},
	}
	cmd.Flags().StringVar(&weekday, "weekday", "", "weekly digest day, e.g. monday")
	return cmd
}
