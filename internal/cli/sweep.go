package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/makerhaus/toolbot/internal/checkin"
)

// NewSweepCommand creates the sweep command, intended to run from cron.
func NewSweepCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Post follow-up reminders for tool check-ins that are due",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			cache, err := a.manager.Get(cmd.Context(), nil, false)
			if err != nil {
				return WrapExitError(ExitFailure, "loading CRM cache", err)
			}

			correlator := checkin.NewCorrelator(checkin.CorrelatorConfig{
				Chat:     a.conn(),
				Resolver: a.resolver,
				Logger:   a.logger,
			})
			result, err := correlator.Sweep(cmd.Context(), cache, a.cfg.Slack.NotificationChannel)
			if err != nil {
				return WrapExitError(ExitFailure, "check-in sweep", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(),
				"examined %d sign-offs: %d due, %d resolved, %d already reminded, %d reminded, %d skipped\n",
				result.Examined, result.Due, result.Resolved,
				result.AlreadyReminded, result.Reminded, result.Skipped)
			return nil
		},
	}
}
