package checkin

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/makerhaus/toolbot/internal/chat"
	"github.com/makerhaus/toolbot/internal/machines"
	"github.com/makerhaus/toolbot/internal/tidyhq"
)

// ActionsConfig configures an Actions handler.
type ActionsConfig struct {
	Chat     chat.Conn
	Engine   *machines.Engine
	Resolver tidyhq.Resolver
	Clock    tidyhq.Clock

	// ContactURL is a template for linking to a contact in the CRM UI, with
	// %d substituted by the contact ID. Used in trainer fallback messages
	// when the operator has no linked chat account. Optional.
	ContactURL string

	Logger *slog.Logger
}

// Actions executes the three trainer resolutions on a check-in case. Each
// posts a terminal marker into the announcement thread, which is what closes
// the case for subsequent sweeps.
type Actions struct {
	chat       chat.Conn
	engine     *machines.Engine
	resolver   tidyhq.Resolver
	clock      tidyhq.Clock
	contactURL string
	logger     *slog.Logger
}

// NewActions creates the resolution handler.
func NewActions(cfg ActionsConfig) *Actions {
	if cfg.Clock == nil {
		cfg.Clock = tidyhq.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Actions{
		chat:       cfg.Chat,
		engine:     cfg.Engine,
		resolver:   cfg.Resolver,
		clock:      cfg.Clock,
		contactURL: cfg.ContactURL,
		logger:     cfg.Logger,
	}
}

// Approve keeps the authorization: tells the operator and trainer, retires
// the prompt, and marks the case approved.
func (a *Actions) Approve(ctx context.Context, actor string, c Case, cache *tidyhq.Cache) error {
	machine, ok := a.resolver.Machine(cache, c.MachineID)
	if !ok {
		return fmt.Errorf("checkin: approve references unknown machine group %d", c.MachineID)
	}

	a.notifyParticipants(ctx, c, fmt.Sprintf(
		"Your %s induction has been maintained. Unless something changes about the tool or we identify it's been a long time since you've used it I won't contact you about it again.",
		machine.Name))
	a.retirePrompt(ctx, c, machine)

	return a.postMarker(ctx, actor, c, OutcomeApproved,
		fmt.Sprintf("This induction was confirmed by <@%s>", actor))
}

// Contact hands the case over to a conversation between trainer and
// operator. The case is treated as escalated, not left open.
func (a *Actions) Contact(ctx context.Context, actor string, c Case, cache *tidyhq.Cache) error {
	machine, ok := a.resolver.Machine(cache, c.MachineID)
	if !ok {
		return fmt.Errorf("checkin: contact references unknown machine group %d", c.MachineID)
	}

	a.notifyParticipants(ctx, c, fmt.Sprintf(
		"This is in relation to the %s induction you completed %d days ago. Check ins like this one give you a chance to cement your learning and ask any questions that have come up since.",
		machine.Name, a.daysSince(c)))

	return a.postMarker(ctx, actor, c, OutcomeEscalated,
		fmt.Sprintf("<@%s> triggered a conversation regarding this induction", actor))
}

// Remove revokes the authorization, tells the operator, retires the prompt,
// and marks the case rejected.
func (a *Actions) Remove(ctx context.Context, actor string, c Case, cache *tidyhq.Cache) error {
	machine, ok := a.resolver.Machine(cache, c.MachineID)
	if !ok {
		return fmt.Errorf("checkin: remove references unknown machine group %d", c.MachineID)
	}

	contactID, ok := a.resolver.ResolveIdentity(cache, c.Operator)
	if !ok {
		return fmt.Errorf("checkin: cannot resolve operator %q to a contact", c.Operator)
	}
	contact, ok := cache.Contact(contactID)
	if !ok {
		return fmt.Errorf("checkin: contact %d missing from cache", contactID)
	}

	results := a.engine.Revoke(ctx, actor, contact, c.MachineID, cache)
	for _, step := range results {
		if !step.OK {
			return fmt.Errorf("checkin: revoke of group %d failed", step.GroupID)
		}
	}

	a.notifyParticipants(ctx, c, fmt.Sprintf(
		"Unfortunately your %s induction has been revoked. Please arrange with a trainer to undergo a refresher induction before using this tool again.",
		machine.Name))
	a.retirePrompt(ctx, c, machine)

	return a.postMarker(ctx, actor, c, OutcomeRejected,
		fmt.Sprintf("This induction was removed by <@%s>", actor))
}

// notifyParticipants opens a conversation with the operator and trainer.
// Operators without a linked chat account can't be messaged; the trainer is
// told how to reach them instead.
func (a *Actions) notifyParticipants(ctx context.Context, c Case, text string) {
	if !c.HasChatOperator() {
		dm, err := a.chat.OpenDM(ctx, c.Trainer)
		if err != nil {
			a.logger.Warn("could not open trainer conversation", "trainer", c.Trainer, "error", err)
			return
		}
		fallback := fmt.Sprintf(
			"The operator for this check in does not have a linked chat account, so I can't message them directly. Their contact record is %s.", a.operatorRef(c))
		if _, err := a.chat.Post(ctx, chat.Message{Channel: dm, Text: fallback}); err != nil {
			a.logger.Warn("trainer fallback message failed", "error", err)
		}
		return
	}

	dm, err := a.chat.OpenDM(ctx, c.Operator, c.Trainer)
	if err != nil {
		a.logger.Warn("could not open check in conversation", "operator", c.Operator, "trainer", c.Trainer, "error", err)
		return
	}
	if _, err := a.chat.Post(ctx, chat.Message{Channel: dm, Text: text}); err != nil {
		a.logger.Warn("check in conversation message failed", "error", err)
	}
}

// retirePrompt rewrites the follow-up prompt so its buttons stop inviting
// action on a closed case.
func (a *Actions) retirePrompt(ctx context.Context, c Case, machine tidyhq.MachineInfo) {
	if c.PromptTS == "" {
		return
	}
	text := fmt.Sprintf(
		"This tool needed a follow up with the operator after %d days. Details of this check in can be found below.",
		machine.CheckInDays)
	if err := a.chat.Update(ctx, c.Channel, c.PromptTS, text); err != nil {
		a.logger.Warn("could not retire follow up prompt", "ts", c.PromptTS, "error", err)
	}
}

// postMarker writes the terminal marker into the announcement thread. The
// marker is what makes the resolution durable: sweeps close the case off it.
func (a *Actions) postMarker(ctx context.Context, actor string, c Case, outcome Outcome, text string) error {
	_, err := a.chat.Post(ctx, chat.Message{
		Channel:  c.Channel,
		ThreadTS: c.ThreadTS,
		Text:     text,
		Metadata: &chat.Metadata{EventType: machines.EventCheckinResolution, Payload: map[string]string{
			machines.PayloadMachineID: strconv.FormatInt(c.MachineID, 10),
			machines.PayloadOperator:  c.Operator,
			machines.PayloadTrainer:   c.Trainer,
			machines.PayloadOutcome:   string(outcome),
		}},
	})
	if err != nil {
		return fmt.Errorf("checkin: post %s marker: %w", outcome, err)
	}
	return nil
}

// operatorRef renders the operator for trainer-facing text: the CRM contact
// URL when a template is configured and the operator is a contact ID, the
// raw token otherwise.
func (a *Actions) operatorRef(c Case) string {
	if a.contactURL == "" {
		return c.Operator
	}
	id, err := strconv.ParseInt(c.Operator, 10, 64)
	if err != nil {
		return c.Operator
	}
	return fmt.Sprintf(a.contactURL, id)
}

func (a *Actions) daysSince(c Case) int64 {
	ts, err := parseTS(c.ThreadTS)
	if err != nil {
		return 0
	}
	return (a.clock.Now().Unix()-ts)/secondsPerDay + 1
}
