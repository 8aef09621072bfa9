package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/makerhaus/toolbot/internal/machines"
	"github.com/makerhaus/toolbot/internal/tidyhq"
)

// NewGrantCommand creates the grant command: a manual sign-off from the
// terminal, with the same cascade, audit and announcement as a chat-driven
// one.
func NewGrantCommand(opts *RootOptions) *cobra.Command {
	var actor string

	cmd := &cobra.Command{
		Use:   "grant <contact> <group-id>",
		Short: "Authorise a contact for a machine",
		Long: "Authorise a contact for a machine, including any cascaded child machines\n" +
			"and exclusivity revocations. The contact is a CRM contact ID or a linked\n" +
			"chat user ID; the group ID names the machine's CRM group.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMutation(cmd, opts, actor, args, func(ctx context.Context, e *machines.Engine, contact tidyhq.Contact, machineID int64, cache *tidyhq.Cache) []machines.StepResult {
				return e.Grant(ctx, actor, contact, machineID, cache)
			})
		},
	}

	cmd.Flags().StringVar(&actor, "actor", "", "chat user ID credited as the trainer")
	cmd.MarkFlagRequired("actor")
	return cmd
}

type mutationFunc func(ctx context.Context, e *machines.Engine, contact tidyhq.Contact, machineID int64, cache *tidyhq.Cache) []machines.StepResult

func runMutation(cmd *cobra.Command, opts *RootOptions, actor string, args []string, run mutationFunc) error {
	machineID, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("invalid group id %q", args[1]), err)
	}

	a, err := newApp(opts)
	if err != nil {
		return err
	}
	cache, err := a.manager.Get(cmd.Context(), nil, false)
	if err != nil {
		return WrapExitError(ExitFailure, "loading CRM cache", err)
	}

	contactID, ok := a.resolver.ResolveIdentity(cache, args[0])
	if !ok {
		return NewExitError(ExitCommandError, fmt.Sprintf("could not resolve contact %q", args[0]))
	}
	contact, ok := cache.Contact(contactID)
	if !ok {
		return NewExitError(ExitCommandError, fmt.Sprintf("contact %d is not in the cache", contactID))
	}

	conn := a.conn()
	results := run(cmd.Context(), a.engine(conn), contact, machineID, cache)
	if len(results) == 0 {
		return NewExitError(ExitFailure, "no membership changes attempted")
	}

	failed := false
	for _, step := range results {
		status := "ok"
		if !step.OK {
			status = "failed"
			failed = true
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s group %d: %s\n", step.Action, step.GroupID, status)
	}
	if failed {
		return NewExitError(ExitFailure, "one or more membership changes failed")
	}
	return nil
}
