package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewRefreshCacheCommand creates the refresh-cache command.
func NewRefreshCacheCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh-cache",
		Short: "Rebuild the CRM snapshot regardless of its age",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			cache, err := a.manager.Get(cmd.Context(), nil, true)
			if err != nil {
				return WrapExitError(ExitFailure, "rebuilding CRM cache", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cache rebuilt: %d contacts, %d groups\n",
				len(cache.Contacts), len(cache.Groups))
			return nil
		},
	}
}
