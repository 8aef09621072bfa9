package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/makerhaus/toolbot/internal/audit"
)

// NewAuditCommand creates the audit command: a human view over the
// append-only change log, with IDs resolved to names where the cache and
// chat platform can supply them.
func NewAuditCommand(opts *RootOptions) *cobra.Command {
	var limit int
	var resolveNames bool

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recent authorisation changes from the audit log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			entries, err := audit.Read(a.cfg.Audit.Path, a.logger)
			switch {
			case errors.Is(err, fs.ErrNotExist):
				// Nothing logged yet: an empty log, not a failure.
				return nil
			case err != nil:
				return WrapExitError(ExitFailure, "reading audit log", err)
			}
			if limit > 0 && len(entries) > limit {
				entries = entries[len(entries)-limit:]
			}

			cache, err := a.manager.Get(cmd.Context(), nil, false)
			if err != nil {
				return WrapExitError(ExitFailure, "loading CRM cache", err)
			}

			actorNames := map[string]string{}
			if resolveNames {
				users, err := a.conn().Users(cmd.Context())
				if err != nil {
					a.logger.Warn("could not list chat users", "error", err)
				}
				for _, user := range users {
					if user.DisplayName != "" {
						actorNames[user.ID] = user.DisplayName
					}
				}
			}

			for _, entry := range entries {
				actor := entry.Actor
				if name, ok := actorNames[actor]; ok {
					actor = name
				}
				subject := strconv.FormatInt(entry.ContactID, 10)
				if contact, ok := cache.Contact(entry.ContactID); ok {
					subject = contact.Format()
				}
				group := fmt.Sprintf("group %d", entry.GroupID)
				if g, ok := cache.Groups[entry.GroupID]; ok {
					group = g.Label
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-6s  %s  %s  %s\n",
					time.Unix(entry.Time, 0).UTC().Format(time.RFC3339),
					entry.Action, actor, subject, group)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "show only the most recent N entries")
	cmd.Flags().BoolVar(&resolveNames, "names", false, "resolve actor chat IDs to display names")
	return cmd
}
