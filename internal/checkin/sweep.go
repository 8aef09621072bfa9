package checkin

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/makerhaus/toolbot/internal/chat"
	"github.com/makerhaus/toolbot/internal/machines"
	"github.com/makerhaus/toolbot/internal/tidyhq"
)

// Text markers for messages sent before structured metadata existed. New
// messages carry metadata and never hit these.
var (
	operatorPattern = regexp.MustCompile(`\(<@(\w+)>\)`)
	trainerPattern  = regexp.MustCompile(`by <@(\w*)>`)
)

const (
	signOffMarker   = "has been authorised"
	confirmedMarker = "This induction was confirmed by"
	removedMarker   = "This induction was removed by"
	reminderMarker  = "can you please follow up with"
)

const secondsPerDay = 86400

// CorrelatorConfig configures a Correlator.
type CorrelatorConfig struct {
	Chat     chat.Conn
	Resolver tidyhq.Resolver
	Clock    tidyhq.Clock
	Logger   *slog.Logger
}

// Correlator reconciles the notification channel against the check-in
// policies: it finds sign-offs whose follow-up is due and nudges the trainer,
// reconstructing case state from each announcement's thread.
type Correlator struct {
	chat     chat.Conn
	resolver tidyhq.Resolver
	clock    tidyhq.Clock
	logger   *slog.Logger
}

// NewCorrelator creates a correlator. Clock and Logger default to the system
// clock and the default logger.
func NewCorrelator(cfg CorrelatorConfig) *Correlator {
	if cfg.Clock == nil {
		cfg.Clock = tidyhq.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Correlator{chat: cfg.Chat, resolver: cfg.Resolver, clock: cfg.Clock, logger: cfg.Logger}
}

// SweepResult summarizes one reconciliation pass.
type SweepResult struct {
	// Examined counts sign-off announcements inspected.
	Examined int
	// Due counts cases whose follow-up window has been reached.
	Due int
	// Resolved counts due cases already closed by a trainer action.
	Resolved int
	// AlreadyReminded counts due cases whose trainer was nudged on an
	// earlier pass.
	AlreadyReminded int
	// Reminded counts reminders posted by this pass.
	Reminded int
	// Skipped counts malformed messages passed over with a warning.
	Skipped int
}

type signOff struct {
	machine  tidyhq.MachineInfo
	operator string
	trainer  string
}

// Sweep scans channel history back to the midnight boundary covering the
// longest configured check-in window and reminds trainers of due, unhandled
// cases. Running it twice over unchanged history never posts a duplicate
// reminder. A single malformed message is skipped, never fatal.
func (c *Correlator) Sweep(ctx context.Context, cache *tidyhq.Cache, channel string) (SweepResult, error) {
	var result SweepResult

	policies, maxDays := c.policies(cache)
	if len(policies) == 0 {
		c.logger.Info("no machines configure a first use check in")
		return result, nil
	}

	now := c.clock.Now().Unix()
	// Midnight boundary, not a rolling 24h window.
	oldest := now - now%secondsPerDay - int64(maxDays)*secondsPerDay

	history, err := c.chat.History(ctx, channel, strconv.FormatInt(oldest, 10))
	if err != nil {
		return result, fmt.Errorf("checkin: fetch history: %w", err)
	}
	c.logger.Debug("sweeping channel history", "channel", channel, "messages", len(history), "window_days", maxDays)

	for _, msg := range history {
		s, ok := c.extractSignOff(msg, policies)
		if !ok {
			continue
		}
		result.Examined++

		if s.trainer == "" {
			c.logger.Warn("no trainer found in sign off", "ts", msg.TS)
			result.Skipped++
			continue
		}

		ts, err := parseTS(msg.TS)
		if err != nil {
			c.logger.Warn("unparseable message timestamp", "ts", msg.TS)
			result.Skipped++
			continue
		}

		daysElapsed := (now-ts)/secondsPerDay + 1
		if daysElapsed < int64(s.machine.CheckInDays) {
			continue
		}
		result.Due++

		replies, err := c.chat.Replies(ctx, channel, msg.TS)
		if err != nil {
			c.logger.Warn("could not fetch thread replies", "ts", msg.TS, "error", err)
			result.Skipped++
			continue
		}

		resolved, reminded := threadState(replies)
		switch {
		case resolved:
			result.Resolved++
			continue
		case reminded:
			result.AlreadyReminded++
			continue
		}

		c.logger.Info("reminding trainer of due check in",
			"machine", s.machine.Name, "trainer", s.trainer, "operator", s.operator, "days", daysElapsed)
		_, err = c.chat.Post(ctx, chat.Message{
			Channel:  channel,
			ThreadTS: msg.TS,
			Text: fmt.Sprintf(
				"Hey <@%s>, can you please follow up with <@%s> about their recent sign off for %s? It's been %d days since the sign off.",
				s.trainer, s.operator, s.machine.Name, daysElapsed),
			Metadata: &chat.Metadata{EventType: machines.EventCheckinReminder, Payload: map[string]string{
				machines.PayloadMachineID: strconv.FormatInt(s.machine.ID, 10),
				machines.PayloadOperator:  s.operator,
				machines.PayloadTrainer:   s.trainer,
			}},
		})
		if err != nil {
			c.logger.Warn("reminder failed", "ts", msg.TS, "error", err)
			result.Skipped++
			continue
		}
		result.Reminded++
	}

	return result, nil
}

// policies returns every machine with a check-in window, keyed by group ID,
// plus the longest window in days.
func (c *Correlator) policies(cache *tidyhq.Cache) (map[int64]tidyhq.MachineInfo, int) {
	policies := map[int64]tidyhq.MachineInfo{}
	maxDays := 0
	for id := range cache.Groups {
		machine, ok := c.resolver.Machine(cache, id)
		if !ok || !machine.RequiresCheckIn() {
			continue
		}
		policies[id] = machine
		if machine.CheckInDays > maxDays {
			maxDays = machine.CheckInDays
		}
	}
	return policies, maxDays
}

// extractSignOff recognizes an authorization announcement for a machine with
// a check-in policy. Metadata is authoritative; text parsing remains only for
// messages sent before metadata existed.
func (c *Correlator) extractSignOff(msg chat.Message, policies map[int64]tidyhq.MachineInfo) (signOff, bool) {
	if msg.Metadata != nil {
		if msg.Metadata.EventType != machines.EventAuthorization {
			return signOff{}, false
		}
		if msg.Metadata.Payload[machines.PayloadOutcome] == "deauthorised" {
			return signOff{}, false
		}
		id, err := strconv.ParseInt(msg.Metadata.Payload[machines.PayloadMachineID], 10, 64)
		if err != nil {
			return signOff{}, false
		}
		machine, ok := policies[id]
		if !ok {
			return signOff{}, false
		}
		return signOff{
			machine:  machine,
			operator: msg.Metadata.Payload[machines.PayloadOperator],
			trainer:  msg.Metadata.Payload[machines.PayloadTrainer],
		}, true
	}

	if !strings.Contains(msg.Text, signOffMarker) {
		return signOff{}, false
	}
	for _, machine := range policies {
		if !strings.Contains(msg.Text, machine.Name) {
			continue
		}
		s := signOff{machine: machine}
		if m := operatorPattern.FindStringSubmatch(msg.Text); m != nil {
			s.operator = m[1]
		}
		if m := trainerPattern.FindStringSubmatch(msg.Text); m != nil {
			s.trainer = m[1]
		}
		return s, true
	}
	return signOff{}, false
}

// threadState inspects a thread for terminal resolutions and prior reminders.
func threadState(replies []chat.Message) (resolved, reminded bool) {
	for _, reply := range replies {
		if reply.Metadata != nil {
			switch reply.Metadata.EventType {
			case machines.EventCheckinResolution:
				resolved = true
			case machines.EventCheckinReminder:
				reminded = true
			}
			continue
		}
		if strings.Contains(reply.Text, confirmedMarker) || strings.Contains(reply.Text, removedMarker) {
			resolved = true
		}
		if strings.Contains(reply.Text, reminderMarker) {
			reminded = true
		}
	}
	return resolved, reminded
}

func parseTS(ts string) (int64, error) {
	f, err := strconv.ParseFloat(ts, 64)
	if err != nil {
		return 0, err
	}
	return int64(f), nil
}
