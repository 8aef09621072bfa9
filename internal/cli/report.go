package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/makerhaus/toolbot/internal/report"
)

// NewReportCommand creates the report command.
func NewReportCommand(opts *RootOptions) *cobra.Command {
	var stats bool

	cmd := &cobra.Command{
		Use:   "report [category]",
		Short: "Render the operator matrix, or membership statistics with --stats",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			cache, err := a.manager.Get(cmd.Context(), nil, false)
			if err != nil {
				return WrapExitError(ExitFailure, "loading CRM cache", err)
			}

			if stats {
				ids := make([]int64, 0, len(cache.Contacts))
				for _, contact := range cache.Contacts {
					ids = append(ids, contact.ID)
				}
				fmt.Fprint(cmd.OutOrStdout(), report.ComputeStats(cache, a.resolver, ids).Render())
				return nil
			}

			category := "all"
			if len(args) == 1 {
				category = args[0]
			}
			tax, err := a.taxonomy(cache)
			if err != nil {
				return err
			}
			matrix, err := report.OperatorMatrix(cache, tax, a.resolver, category)
			if err != nil {
				return WrapExitError(ExitCommandError, "rendering report", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), matrix)
			return nil
		},
	}

	cmd.Flags().BoolVar(&stats, "stats", false, "render membership statistics instead of the operator matrix")
	return cmd
}
