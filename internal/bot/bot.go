// Package bot is the interactive event layer: it holds the live cache
// handle, answers "what am I trained on" mentions, and routes check-in
// button presses to their resolutions.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/makerhaus/toolbot/internal/audit"
	"github.com/makerhaus/toolbot/internal/chat"
	"github.com/makerhaus/toolbot/internal/checkin"
	"github.com/makerhaus/toolbot/internal/machines"
	"github.com/makerhaus/toolbot/internal/tidyhq"
)

// Config configures a Bot.
type Config struct {
	Conn     chat.Conn
	Manager  *tidyhq.Manager
	Engine   *machines.Engine
	Actions  *checkin.Actions
	Resolver tidyhq.Resolver

	// Trainers lists who may action check-ins: chat user IDs, or usergroup
	// IDs (prefix "S") whose members all qualify.
	Trainers []string

	Logger *slog.Logger
}

// Bot handles chat events. It is single-threaded by design: one event is
// processed at a time, and the cache handle is passed explicitly rather than
// shared through globals.
type Bot struct {
	conn     chat.Conn
	manager  *tidyhq.Manager
	engine   *machines.Engine
	actions  *checkin.Actions
	resolver tidyhq.Resolver
	trainers []string
	logger   *slog.Logger

	cache *tidyhq.Cache
}

// New creates a bot.
func New(cfg Config) *Bot {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Bot{
		conn:     cfg.Conn,
		manager:  cfg.Manager,
		engine:   cfg.Engine,
		actions:  cfg.Actions,
		resolver: cfg.Resolver,
		trainers: cfg.Trainers,
		logger:   cfg.Logger,
	}
}

// Cache returns a fresh-enough snapshot, replacing the bot's handle when the
// manager rebuilds.
func (b *Bot) Cache(ctx context.Context, force bool) (*tidyhq.Cache, error) {
	cache, err := b.manager.Get(ctx, b.cache, force)
	if err != nil {
		return nil, err
	}
	b.cache = cache
	return cache, nil
}

// Interaction is one button press, already parsed out of the platform
// callback.
type Interaction struct {
	// Actor is the chat ID of whoever pressed the button.
	Actor    string
	ActionID string
	Value    string

	// Channel, ThreadTS and PromptTS locate the pressed message: the
	// channel, the announcement thread, and the prompt message itself.
	Channel  string
	ThreadTS string
	PromptTS string
}

// Dispatch routes a button press. Non-trainers are told off in a DM rather
// than erroring; a genuinely malformed interaction returns an error.
func (b *Bot) Dispatch(ctx context.Context, in Interaction) error {
	switch in.ActionID {
	case machines.ActionCheckinApprove, machines.ActionCheckinContact, machines.ActionCheckinRemove:
	default:
		return fmt.Errorf("bot: unhandled action %q", in.ActionID)
	}

	trainer, err := b.IsTrainer(ctx, in.Actor)
	if err != nil {
		return fmt.Errorf("bot: trainer check: %w", err)
	}
	if !trainer {
		b.logger.Warn("check-in action from non-trainer", "actor", in.Actor, "action", in.ActionID)
		b.dmActor(ctx, in.Actor, "Only trainers can action tool check ins. If you think you should be able to, ask a committee member to add you to the trainers group.")
		return nil
	}

	c, err := checkin.ParseCaseValue(in.Value)
	if err != nil {
		return err
	}
	c.Channel = in.Channel
	c.ThreadTS = in.ThreadTS
	c.PromptTS = in.PromptTS

	cache, err := b.Cache(ctx, false)
	if err != nil {
		return err
	}

	switch in.ActionID {
	case machines.ActionCheckinApprove:
		return b.actions.Approve(ctx, in.Actor, c, cache)
	case machines.ActionCheckinContact:
		return b.actions.Contact(ctx, in.Actor, c, cache)
	case machines.ActionCheckinRemove:
		if err := b.actions.Remove(ctx, in.Actor, c, cache); err != nil {
			return err
		}
		// The CRM just changed under the snapshot.
		_, err := b.Cache(ctx, true)
		return err
	}
	return nil
}

// IsTrainer reports whether the user may action check-ins: either listed
// directly, or a member of a listed usergroup.
func (b *Bot) IsTrainer(ctx context.Context, userID string) (bool, error) {
	var usergroups []chat.Usergroup
	fetched := false

	for _, entry := range b.trainers {
		if entry == userID {
			return true, nil
		}
		if !strings.HasPrefix(entry, "S") {
			continue
		}
		if !fetched {
			var err error
			usergroups, err = b.conn.Usergroups(ctx)
			if err != nil {
				return false, err
			}
			fetched = true
		}
		for _, group := range usergroups {
			if group.ID != entry {
				continue
			}
			for _, member := range group.Users {
				if member == userID {
					return true, nil
				}
			}
		}
	}
	return false, nil
}

var mentionToken = regexp.MustCompile(`^<@([A-Z0-9]+)(\|[^>]*)?>$`)

// HandleMention answers an @-mention. Trainers can change authorizations
// with "grant @member <machine>" and "revoke @member <machine>"; any other
// mention renders the caller's own training status.
func (b *Bot) HandleMention(ctx context.Context, actor, text string) (string, error) {
	verb, args := parseMention(text)
	switch verb {
	case "grant", "revoke":
		return b.changeTraining(ctx, actor, verb, args)
	}
	return b.ToolsSummary(ctx, actor)
}

// parseMention splits a mention into a command verb and its arguments,
// dropping the leading bot mention.
func parseMention(text string) (string, []string) {
	fields := strings.Fields(text)
	if len(fields) > 0 && mentionToken.MatchString(fields[0]) {
		fields = fields[1:]
	}
	if len(fields) == 0 {
		return "", nil
	}
	return strings.ToLower(fields[0]), fields[1:]
}

// changeTraining runs a mention-driven grant or revoke through the engine.
// Bad input gets a chat reply, not an error: the conversation is the UI.
func (b *Bot) changeTraining(ctx context.Context, actor, verb string, args []string) (string, error) {
	trainer, err := b.IsTrainer(ctx, actor)
	if err != nil {
		return "", fmt.Errorf("bot: trainer check: %w", err)
	}
	if !trainer {
		b.logger.Warn("training change from non-trainer", "actor", actor, "verb", verb)
		return "Only trainers can change tool authorisations. If you think you should be able to, ask a committee member to add you to the trainers group.", nil
	}
	if len(args) < 2 {
		return fmt.Sprintf("Usage: %s @member <machine name or group id>", verb), nil
	}

	cache, err := b.Cache(ctx, false)
	if err != nil {
		return "", err
	}

	operator := args[0]
	if m := mentionToken.FindStringSubmatch(operator); m != nil {
		operator = m[1]
	}
	contactID, ok := b.resolver.ResolveIdentity(cache, operator)
	if !ok {
		return fmt.Sprintf("I couldn't link %s to a TidyHQ contact.", args[0]), nil
	}
	contact, ok := cache.Contact(contactID)
	if !ok {
		return fmt.Sprintf("I couldn't link %s to a TidyHQ contact.", args[0]), nil
	}

	token := strings.Join(args[1:], " ")
	machine, ok := b.findMachine(cache, token)
	if !ok {
		return fmt.Sprintf("I couldn't find a machine called %q.", token), nil
	}

	var results []machines.StepResult
	if verb == "grant" {
		results = b.engine.Grant(ctx, actor, contact, machine.ID, cache)
	} else {
		results = b.engine.Revoke(ctx, actor, contact, machine.ID, cache)
	}

	// The CRM just changed under the snapshot.
	if _, err := b.Cache(ctx, true); err != nil {
		b.logger.Warn("cache refresh after training change failed", "error", err)
	}

	lines := make([]string, 0, len(results))
	for _, step := range results {
		name := fmt.Sprintf("group %d", step.GroupID)
		if m, ok := b.resolver.Machine(cache, step.GroupID); ok {
			name = m.Name
		}
		switch {
		case step.OK && step.Action == audit.ActionAdd:
			lines = append(lines, fmt.Sprintf("✅ added %s", name))
		case step.OK:
			lines = append(lines, fmt.Sprintf("✅ removed %s", name))
		case step.Action == audit.ActionAdd:
			lines = append(lines, fmt.Sprintf("⚠️ could not add %s", name))
		default:
			lines = append(lines, fmt.Sprintf("⚠️ could not remove %s", name))
		}
	}
	return strings.Join(lines, "\n"), nil
}

// findMachine resolves a machine by group ID or by name, case-insensitive.
func (b *Bot) findMachine(cache *tidyhq.Cache, token string) (tidyhq.MachineInfo, bool) {
	if id, err := strconv.ParseInt(token, 10, 64); err == nil {
		if machine, ok := b.resolver.Machine(cache, id); ok {
			return machine, true
		}
	}
	for id, group := range cache.Groups {
		if !strings.HasPrefix(group.Label, b.resolver.GroupPrefix) {
			continue
		}
		machine, ok := b.resolver.Machine(cache, id)
		if ok && strings.EqualFold(machine.Name, token) {
			return machine, true
		}
	}
	return tidyhq.MachineInfo{}, false
}

// ToolsSummary renders the identity's training status across every machine,
// grouped by category with a ✅ or ❌ per tool.
func (b *Bot) ToolsSummary(ctx context.Context, identity string) (string, error) {
	cache, err := b.Cache(ctx, false)
	if err != nil {
		return "", err
	}

	tax := machines.DeriveTaxonomy(cache, b.resolver.GroupPrefix)
	grants, ok := machines.Authorized(cache, tax, b.resolver, identity)
	if !ok {
		return "You're not authorised to use any medium or high risk tools. This may be because you haven't completed the required training, or because we were unable to automatically link your Slack and TidyHQ accounts.", nil
	}

	held := map[int64]bool{}
	for _, ids := range grants {
		for _, id := range ids {
			held[id] = true
		}
	}

	all := machines.All(cache, tax, b.resolver.GroupPrefix)
	var b2 strings.Builder
	for _, category := range tax.Categories() {
		tools := all[category]
		if len(tools) == 0 {
			continue
		}
		sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })

		fmt.Fprintf(&b2, "*%s*\n", category)
		for _, tool := range tools {
			level := tool.Level
			if level == "" {
				level = "⚪"
			}
			mark := "❌"
			if held[tool.ID] {
				mark = "✅"
			}
			fmt.Fprintf(&b2, "%s%s %s", level, mark, tool.Name)
			if !held[tool.ID] && tool.Training != "" {
				fmt.Fprintf(&b2, " (Training: %s)", tool.Training)
			}
			b2.WriteString("\n")
		}
	}
	return strings.TrimRight(b2.String(), "\n"), nil
}

func (b *Bot) dmActor(ctx context.Context, actor, text string) {
	dm, err := b.conn.OpenDM(ctx, actor)
	if err != nil {
		b.logger.Warn("could not open conversation", "user", actor, "error", err)
		return
	}
	if _, err := b.conn.Post(ctx, chat.Message{Channel: dm, Text: text}); err != nil {
		b.logger.Warn("direct message failed", "user", actor, "error", err)
	}
}
