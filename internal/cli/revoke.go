package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/makerhaus/toolbot/internal/machines"
	"github.com/makerhaus/toolbot/internal/tidyhq"
)

// NewRevokeCommand creates the revoke command. Revocation never cascades:
// only the named machine is removed.
func NewRevokeCommand(opts *RootOptions) *cobra.Command {
	var actor string

	cmd := &cobra.Command{
		Use:   "revoke <contact> <group-id>",
		Short: "Remove a contact's machine authorisation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMutation(cmd, opts, actor, args, func(ctx context.Context, e *machines.Engine, contact tidyhq.Contact, machineID int64, cache *tidyhq.Cache) []machines.StepResult {
				return e.Revoke(ctx, actor, contact, machineID, cache)
			})
		},
	}

	cmd.Flags().StringVar(&actor, "actor", "", "chat user ID credited with the removal")
	cmd.MarkFlagRequired("actor")
	return cmd
}
