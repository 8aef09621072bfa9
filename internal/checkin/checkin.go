// Package checkin tracks first-use check-in cases: the follow-up a trainer
// owes an operator N days after signing them off on certain tools.
//
// A case is born when a grant opens a follow-up prompt, becomes due once the
// configured number of days has elapsed, and is closed exactly once by a
// trainer action. State never lives in the bot — it is reconstructed from the
// announcement thread on every sweep.
package checkin

import (
	"fmt"
	"strconv"
	"strings"
)

// Outcome is the state of a check-in case.
type Outcome string

const (
	// OutcomeNew is a grant that has not yet opened a follow-up prompt.
	OutcomeNew Outcome = "new"
	// OutcomeAwaiting is an open case waiting on a trainer action.
	OutcomeAwaiting Outcome = "awaiting_follow_up"
	// OutcomeApproved closes the case keeping the authorization.
	OutcomeApproved Outcome = "approved"
	// OutcomeRejected closes the case revoking the authorization.
	OutcomeRejected Outcome = "rejected"
	// OutcomeEscalated closes the case by handing it to a conversation
	// between the trainer and the operator.
	OutcomeEscalated Outcome = "escalated"
)

// Terminal reports whether the case is closed. A closed case is never
// reopened or re-actioned.
func (o Outcome) Terminal() bool {
	switch o {
	case OutcomeApproved, OutcomeRejected, OutcomeEscalated:
		return true
	}
	return false
}

// Case identifies one check-in: which machine, which operator, which trainer,
// and where its thread lives.
type Case struct {
	MachineID int64

	// Operator is the operator's chat ID, or their CRM contact ID when no
	// chat account is linked.
	Operator string

	// Trainer is the chat ID of whoever signed the operator off.
	Trainer string

	// Channel and ThreadTS locate the announcement thread; PromptTS is the
	// follow-up prompt message within it.
	Channel  string
	ThreadTS string
	PromptTS string
}

// ParseCaseValue decodes the "machineID-operator-trainer" value carried by
// the follow-up prompt's buttons.
func ParseCaseValue(value string) (Case, error) {
	parts := strings.SplitN(value, "-", 3)
	if len(parts) != 3 {
		return Case{}, fmt.Errorf("checkin: malformed case value %q", value)
	}
	machineID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Case{}, fmt.Errorf("checkin: bad machine id in case value %q", value)
	}
	if parts[2] == "" {
		return Case{}, fmt.Errorf("checkin: no trainer in case value %q", value)
	}
	return Case{MachineID: machineID, Operator: parts[1], Trainer: parts[2]}, nil
}

// HasChatOperator reports whether Operator is a chat ID rather than a bare
// contact ID fallback.
func (c Case) HasChatOperator() bool {
	return strings.HasPrefix(c.Operator, "U") || strings.HasPrefix(c.Operator, "W")
}

// Value encodes the case for button values.
func (c Case) Value() string {
	return fmt.Sprintf("%d-%s-%s", c.MachineID, c.Operator, c.Trainer)
}
