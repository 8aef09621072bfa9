package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/makerhaus/toolbot/internal/bot"
	"github.com/makerhaus/toolbot/internal/checkin"
)

// NewRunCommand creates the run command: the long-lived interactive bot.
func NewRunCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to the chat platform and handle events until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			if a.cfg.Slack.AppToken == "" {
				return NewExitError(ExitCommandError, "slack.app_token is required to run the bot")
			}

			conn := a.conn()
			engine := a.engine(conn)
			actions := checkin.NewActions(checkin.ActionsConfig{
				Chat:       conn,
				Engine:     engine,
				Resolver:   a.resolver,
				ContactURL: a.cfg.TidyHQ.ContactURL,
				Logger:     a.logger,
			})
			b := bot.New(bot.Config{
				Conn:     conn,
				Manager:  a.manager,
				Engine:   engine,
				Actions:  actions,
				Resolver: a.resolver,
				Trainers: a.cfg.Slack.Trainers,
				Logger:   a.logger,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			// Fail fast on a bad token or unreachable CRM rather than
			// after the first button press.
			if _, err := b.Cache(ctx, false); err != nil {
				return WrapExitError(ExitFailure, "priming CRM cache", err)
			}

			if err := bot.RunSocket(ctx, b, conn.API(), a.logger); err != nil && ctx.Err() == nil {
				return WrapExitError(ExitFailure, "event loop", err)
			}
			return nil
		},
	}
}
