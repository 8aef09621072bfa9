package machines

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/makerhaus/toolbot/internal/audit"
	"github.com/makerhaus/toolbot/internal/chat"
	"github.com/makerhaus/toolbot/internal/tidyhq"
)

// Message metadata vocabulary. Every message the bot sends about an
// authorization or check-in case carries one of these event types; sweeps
// read the payload back instead of re-parsing rendered text.
const (
	EventAuthorization     = "tool_authorization"
	EventCheckinPrompt     = "checkin_prompt"
	EventCheckinReminder   = "checkin_reminder"
	EventCheckinResolution = "checkin_resolution"

	PayloadMachineID = "machine_id"
	PayloadOperator  = "operator"
	PayloadTrainer   = "trainer"
	PayloadCaseToken = "case_token"
	PayloadOutcome   = "outcome"
)

// Check-in button action IDs, shared with the interaction handlers.
const (
	ActionCheckinApprove = "checkin-approve"
	ActionCheckinContact = "checkin-contact"
	ActionCheckinRemove  = "checkin-remove"
)

// TokenGenerator mints case tokens for check-in prompts.
type TokenGenerator interface {
	Generate() string
}

// UUIDTokens generates time-ordered UUIDv7 tokens.
type UUIDTokens struct{}

// Generate returns a new token. Falls back to a random UUID if v7 generation
// fails.
func (UUIDTokens) Generate() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// StepResult reports one CRM mutation within a grant or revoke sequence.
// Cascades are best-effort, not transactional, so callers get the per-step
// outcomes rather than an aggregate boolean.
type StepResult struct {
	GroupID int64
	Action  audit.Action
	OK      bool
}

// EngineConfig configures an Engine.
type EngineConfig struct {
	CRM      tidyhq.API
	Audit    *audit.Writer
	Chat     chat.Conn
	Resolver tidyhq.Resolver

	// Channel receives authorization announcements and check-in prompts.
	Channel string

	Clock  tidyhq.Clock
	Tokens TokenGenerator
	Logger *slog.Logger
}

// Engine executes authorization mutations: the CRM write, the audit entry,
// the channel announcement, and any check-in case the grant opens.
type Engine struct {
	crm      tidyhq.API
	audit    *audit.Writer
	chat     chat.Conn
	resolver tidyhq.Resolver
	channel  string
	clock    tidyhq.Clock
	tokens   TokenGenerator
	logger   *slog.Logger
}

// NewEngine creates an engine. Clock, Tokens and Logger default to the system
// clock, UUIDv7 tokens and the default logger.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = tidyhq.RealClock{}
	}
	if cfg.Tokens == nil {
		cfg.Tokens = UUIDTokens{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		crm:      cfg.CRM,
		audit:    cfg.Audit,
		chat:     cfg.Chat,
		resolver: cfg.Resolver,
		channel:  cfg.Channel,
		clock:    cfg.Clock,
		tokens:   cfg.Tokens,
		logger:   cfg.Logger,
	}
}

// Grant authorizes the contact for the machine and runs the declared
// cascades in fixed order: the machine itself, then each child, then a
// revoke of each held exclusive-with machine. Each step issues its own CRM
// write, audit entry and announcement. A failed step is logged and skipped;
// nothing is rolled back.
func (e *Engine) Grant(ctx context.Context, actor string, contact tidyhq.Contact, machineID int64, cache *tidyhq.Cache) []StepResult {
	machine, ok := e.resolver.Machine(cache, machineID)
	if !ok {
		e.logger.Error("grant of unknown machine group", "group", machineID)
		return []StepResult{{GroupID: machineID, Action: audit.ActionAdd, OK: false}}
	}

	results := []StepResult{e.grantOne(ctx, actor, contact, machine)}

	for _, childID := range machine.Children {
		child, ok := e.resolver.Machine(cache, childID)
		if !ok {
			e.logger.Warn("machine declares unknown child group", "machine", machine.Name, "child", childID)
			results = append(results, StepResult{GroupID: childID, Action: audit.ActionAdd, OK: false})
			continue
		}
		results = append(results, e.grantOne(ctx, actor, contact, child))
	}

	for _, exID := range machine.ExclusiveWith {
		if !contact.Groups.Contains(exID) {
			continue
		}
		ex, ok := e.resolver.Machine(cache, exID)
		if !ok {
			e.logger.Warn("machine declares unknown exclusive group", "machine", machine.Name, "exclusive", exID)
			continue
		}
		suffix := fmt.Sprintf(" as it is exclusive with %s", machine.Name)
		results = append(results, e.revokeOne(ctx, actor, contact, ex, suffix))
	}

	return results
}

// Revoke deauthorizes the contact for the machine. Children and exclusivity
// are not propagated on revoke.
func (e *Engine) Revoke(ctx context.Context, actor string, contact tidyhq.Contact, machineID int64, cache *tidyhq.Cache) []StepResult {
	machine, ok := e.resolver.Machine(cache, machineID)
	if !ok {
		e.logger.Error("revoke of unknown machine group", "group", machineID)
		return []StepResult{{GroupID: machineID, Action: audit.ActionRemove, OK: false}}
	}
	return []StepResult{e.revokeOne(ctx, actor, contact, machine, "")}
}

func (e *Engine) grantOne(ctx context.Context, actor string, contact tidyhq.Contact, machine tidyhq.MachineInfo) StepResult {
	if !e.crm.AddMember(ctx, machine.ID, contact.ID) {
		e.logger.Error("grant write failed", "machine", machine.Name, "contact", contact.ID)
		return StepResult{GroupID: machine.ID, Action: audit.ActionAdd, OK: false}
	}
	e.record(actor, audit.ActionAdd, contact.ID, machine.ID)

	operator := e.resolver.SlackID(contact)
	ts, err := e.chat.Post(ctx, chat.Message{
		Channel: e.channel,
		Text:    fmt.Sprintf("✅%s has been authorised for %s (%s) by <@%s>", e.displayName(contact), machine.Name, levelOrDefault(machine), actor),
		Metadata: &chat.Metadata{EventType: EventAuthorization, Payload: map[string]string{
			PayloadMachineID: strconv.FormatInt(machine.ID, 10),
			PayloadOperator:  operatorToken(operator, contact),
			PayloadTrainer:   actor,
			PayloadOutcome:   "authorised",
		}},
	})
	if err != nil {
		e.logger.Error("announcement failed", "machine", machine.Name, "error", err)
	} else if machine.RequiresCheckIn() {
		e.openCheckIn(ctx, actor, operator, contact, machine, ts)
	}

	if machine.TraineeMessage != "" && operator != "" {
		e.sendTraineeMessage(ctx, actor, operator, machine)
	}

	return StepResult{GroupID: machine.ID, Action: audit.ActionAdd, OK: true}
}

func (e *Engine) revokeOne(ctx context.Context, actor string, contact tidyhq.Contact, machine tidyhq.MachineInfo, suffix string) StepResult {
	if !e.crm.RemoveMember(ctx, machine.ID, contact.ID) {
		e.logger.Error("revoke write failed", "machine", machine.Name, "contact", contact.ID)
		return StepResult{GroupID: machine.ID, Action: audit.ActionRemove, OK: false}
	}
	e.record(actor, audit.ActionRemove, contact.ID, machine.ID)

	_, err := e.chat.Post(ctx, chat.Message{
		Channel: e.channel,
		Text:    fmt.Sprintf("🚫%s has been deauthorised for %s (%s) by <@%s>%s", e.displayName(contact), machine.Name, levelOrDefault(machine), actor, suffix),
		Metadata: &chat.Metadata{EventType: EventAuthorization, Payload: map[string]string{
			PayloadMachineID: strconv.FormatInt(machine.ID, 10),
			PayloadOperator:  operatorToken(e.resolver.SlackID(contact), contact),
			PayloadTrainer:   actor,
			PayloadOutcome:   "deauthorised",
		}},
	})
	if err != nil {
		e.logger.Error("announcement failed", "machine", machine.Name, "error", err)
	}

	return StepResult{GroupID: machine.ID, Action: audit.ActionRemove, OK: true}
}

// openCheckIn threads the follow-up prompt off the authorization
// announcement, opening the check-in case for the sweep to track.
func (e *Engine) openCheckIn(ctx context.Context, actor, operator string, contact tidyhq.Contact, machine tidyhq.MachineInfo, announcementTS string) {
	op := operatorToken(operator, contact)
	value := fmt.Sprintf("%d-%s-%s", machine.ID, op, actor)
	due := e.clock.Now().Add(time.Duration(machine.CheckInDays) * 24 * time.Hour)

	_, err := e.chat.Post(ctx, chat.Message{
		Channel:  e.channel,
		ThreadTS: announcementTS,
		Text: fmt.Sprintf(
			"This tool needs a follow up with the operator after %d days. A trainer can check in with the operator using the buttons below. I will send the original trainer a reminder if this isn't actioned by: %s",
			machine.CheckInDays, due.Format("Monday 2 January")),
		Buttons: []chat.Button{
			{Text: "Approve", Value: value, ActionID: ActionCheckinApprove, Style: "primary"},
			{Text: "Contact operator", Value: value, ActionID: ActionCheckinContact},
			{Text: "Remove", Value: value, ActionID: ActionCheckinRemove, Style: "danger"},
		},
		Metadata: &chat.Metadata{EventType: EventCheckinPrompt, Payload: map[string]string{
			PayloadMachineID: strconv.FormatInt(machine.ID, 10),
			PayloadOperator:  op,
			PayloadTrainer:   actor,
			PayloadCaseToken: e.tokens.Generate(),
		}},
	})
	if err != nil {
		e.logger.Error("check-in prompt failed", "machine", machine.Name, "error", err)
	}
}

func (e *Engine) sendTraineeMessage(ctx context.Context, actor, operator string, machine tidyhq.MachineInfo) {
	dm, err := e.chat.OpenDM(ctx, operator)
	if err != nil {
		e.logger.Warn("could not open trainee conversation", "operator", operator, "error", err)
		return
	}
	text := strings.ReplaceAll(machine.TraineeMessage, "{trainer}", actor)
	if _, err := e.chat.Post(ctx, chat.Message{Channel: dm, Text: text}); err != nil {
		e.logger.Warn("trainee message failed", "operator", operator, "error", err)
	}
}

func (e *Engine) record(actor string, action audit.Action, contactID, groupID int64) {
	entry := audit.Entry{
		Time:      e.clock.Now().Unix(),
		Actor:     actor,
		Action:    action,
		ContactID: contactID,
		GroupID:   groupID,
	}
	if err := e.audit.Append(entry); err != nil {
		e.logger.Error("audit append failed", "error", err)
	}
}

// displayName renders a contact for announcements, with the chat mention
// appended when the account link is known.
func (e *Engine) displayName(contact tidyhq.Contact) string {
	name := contact.Format()
	if id := e.resolver.SlackID(contact); id != "" {
		name += fmt.Sprintf(" (<@%s>)", id)
	}
	return name
}

// operatorToken identifies the operator in button values and metadata: the
// chat ID when the account link is known, the contact ID otherwise.
func operatorToken(slackID string, contact tidyhq.Contact) string {
	if slackID != "" {
		return slackID
	}
	return strconv.FormatInt(contact.ID, 10)
}

func levelOrDefault(machine tidyhq.MachineInfo) string {
	if machine.Level == "" {
		return "⚪"
	}
	return machine.Level
}
