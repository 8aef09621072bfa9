package cli

import (
	"log/slog"

	"github.com/slack-go/slack"

	"github.com/makerhaus/toolbot/internal/audit"
	"github.com/makerhaus/toolbot/internal/chat"
	"github.com/makerhaus/toolbot/internal/config"
	"github.com/makerhaus/toolbot/internal/machines"
	"github.com/makerhaus/toolbot/internal/tidyhq"
)

// app bundles the dependencies every command builds from the config file.
// Chat connections are built on demand: read-only commands like report never
// touch the chat platform.
type app struct {
	cfg      *config.Config
	crm      *tidyhq.Client
	manager  *tidyhq.Manager
	resolver tidyhq.Resolver
	audit    *audit.Writer
	logger   *slog.Logger
}

func newApp(opts *RootOptions) (*app, error) {
	logger := opts.Logger()

	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "loading config", err)
	}

	crm, err := tidyhq.NewClient(tidyhq.ClientConfig{
		Token:   cfg.TidyHQ.Token,
		BaseURL: cfg.TidyHQ.BaseURL,
		Logger:  logger,
	})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "creating CRM client", err)
	}

	manager, err := tidyhq.NewManager(tidyhq.ManagerConfig{
		API:          crm,
		Path:         cfg.Cache.Path,
		TTL:          cfg.Cache.TTL,
		GroupPrefix:  cfg.TidyHQ.GroupPrefix,
		SlackFieldID: cfg.TidyHQ.SlackFieldID,
		Logger:       logger,
	})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "creating cache manager", err)
	}

	return &app{
		cfg:      cfg,
		crm:      crm,
		manager:  manager,
		resolver: tidyhq.Resolver{GroupPrefix: cfg.TidyHQ.GroupPrefix, SlackFieldID: cfg.TidyHQ.SlackFieldID},
		audit:    audit.NewWriter(cfg.Audit.Path, logger),
		logger:   logger,
	}, nil
}

// conn opens a chat connection. The app-level token is attached when
// configured so the same client can drive socket mode.
func (a *app) conn() *chat.Slack {
	var opts []slack.Option
	if a.cfg.Slack.AppToken != "" {
		opts = append(opts, slack.OptionAppLevelToken(a.cfg.Slack.AppToken))
	}
	return chat.NewSlack(a.cfg.Slack.BotToken, opts...)
}

// engine builds the authorization engine over the given chat connection.
func (a *app) engine(conn chat.Conn) *machines.Engine {
	return machines.NewEngine(machines.EngineConfig{
		CRM:      a.crm,
		Audit:    a.audit,
		Chat:     conn,
		Resolver: a.resolver,
		Channel:  a.cfg.Slack.NotificationChannel,
		Logger:   a.logger,
	})
}

// taxonomy returns the machine taxonomy: the static file when configured,
// otherwise derived from the cached group descriptions.
func (a *app) taxonomy(cache *tidyhq.Cache) (machines.Taxonomy, error) {
	if a.cfg.Machines.Path != "" {
		tax, err := machines.LoadTaxonomy(a.cfg.Machines.Path)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "loading machine taxonomy", err)
		}
		return tax, nil
	}
	return machines.DeriveTaxonomy(cache, a.cfg.TidyHQ.GroupPrefix), nil
}
