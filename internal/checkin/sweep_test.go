package checkin

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makerhaus/toolbot/internal/chat"
	"github.com/makerhaus/toolbot/internal/machines"
	"github.com/makerhaus/toolbot/internal/testutil"
)

// now0 is 2023-11-14 22:13:20 UTC; the midnight boundary three days back is
// 1699660800.
const now0 = 1_700_000_000

type sweepFixture struct {
	correlator *Correlator
	conn       *fakeConn
	clock      *testutil.FakeClock
}

func newSweepFixture(t *testing.T) *sweepFixture {
	t.Helper()
	clock := testutil.NewFakeClock(time.Unix(now0, 0))
	conn := newFakeConn(clock)
	correlator := NewCorrelator(CorrelatorConfig{
		Chat:     conn,
		Resolver: testResolver(),
		Clock:    clock,
	})
	return &sweepFixture{correlator: correlator, conn: conn, clock: clock}
}

func signOffMessage(ts string) chat.Message {
	return chat.Message{
		Channel: testChannel,
		TS:      ts,
		Text:    "✅Ada Lovelace (<@U0ADA>) has been authorised for Laser Cutter (🔴) by <@U0TRAIN>",
		Metadata: &chat.Metadata{EventType: machines.EventAuthorization, Payload: map[string]string{
			machines.PayloadMachineID: "301",
			machines.PayloadOperator:  "U0ADA",
			machines.PayloadTrainer:   "U0TRAIN",
			machines.PayloadOutcome:   "authorised",
		}},
	}
}

func TestSweep_RemindsDueCase(t *testing.T) {
	fix := newSweepFixture(t)
	// Signed off two days ago: daysElapsed = 3, matching the 3-day policy.
	fix.conn.seed(signOffMessage("1699827200.000001"))

	result, err := fix.correlator.Sweep(context.Background(), checkinCache(), testChannel)
	require.NoError(t, err)

	assert.Equal(t, SweepResult{Examined: 1, Due: 1, Reminded: 1}, result)

	// History was fetched back to the midnight boundary, not a rolling 24h
	// multiple.
	require.Len(t, fix.conn.oldestAsked, 1)
	assert.Equal(t, "1699660800", fix.conn.oldestAsked[0])

	replies := fix.conn.replies["1699827200.000001"]
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Text, "Hey <@U0TRAIN>, can you please follow up with <@U0ADA>")
	assert.Contains(t, replies[0].Text, "Laser Cutter")
	assert.Contains(t, replies[0].Text, "It's been 3 days")
	assert.Equal(t, machines.EventCheckinReminder, replies[0].Metadata.EventType)
}

func TestSweep_NotYetDue(t *testing.T) {
	fix := newSweepFixture(t)
	// Signed off earlier today: daysElapsed = 1 < 3.
	fix.conn.seed(signOffMessage("1699999900.000001"))

	result, err := fix.correlator.Sweep(context.Background(), checkinCache(), testChannel)
	require.NoError(t, err)

	assert.Equal(t, SweepResult{Examined: 1}, result)
	assert.Empty(t, fix.conn.replies["1699999900.000001"])
}

func TestSweep_OverdueIsStillDue(t *testing.T) {
	fix := newSweepFixture(t)
	// Signed off three days ago: daysElapsed = 4. Overdue cases still get
	// their reminder, they aren't dropped for missing the exact day.
	fix.conn.seed(signOffMessage("1699740800.000001"))

	result, err := fix.correlator.Sweep(context.Background(), checkinCache(), testChannel)
	require.NoError(t, err)

	assert.Equal(t, SweepResult{Examined: 1, Due: 1, Reminded: 1}, result)
}

func TestSweep_ResolvedCaseSkipped(t *testing.T) {
	fix := newSweepFixture(t)
	msg := signOffMessage("1699827200.000001")
	fix.conn.seed(msg)
	fix.conn.replies[msg.TS] = []chat.Message{{
		Channel: testChannel,
		Text:    "This induction was confirmed by <@U0TRAIN>",
		Metadata: &chat.Metadata{EventType: machines.EventCheckinResolution, Payload: map[string]string{
			machines.PayloadOutcome: string(OutcomeApproved),
		}},
	}}

	result, err := fix.correlator.Sweep(context.Background(), checkinCache(), testChannel)
	require.NoError(t, err)

	assert.Equal(t, SweepResult{Examined: 1, Due: 1, Resolved: 1}, result)
	assert.Len(t, fix.conn.replies[msg.TS], 1)
}

func TestSweep_LegacyResolutionMarkerSkipped(t *testing.T) {
	fix := newSweepFixture(t)
	msg := signOffMessage("1699827200.000001")
	fix.conn.seed(msg)
	// A marker posted before metadata existed: bare text, no event type.
	fix.conn.replies[msg.TS] = []chat.Message{{
		Channel: testChannel,
		Text:    "This induction was removed by <@U0TRAIN>",
	}}

	result, err := fix.correlator.Sweep(context.Background(), checkinCache(), testChannel)
	require.NoError(t, err)

	assert.Equal(t, SweepResult{Examined: 1, Due: 1, Resolved: 1}, result)
}

func TestSweep_Idempotent(t *testing.T) {
	fix := newSweepFixture(t)
	msg := signOffMessage("1699827200.000001")
	fix.conn.seed(msg)

	first, err := fix.correlator.Sweep(context.Background(), checkinCache(), testChannel)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Reminded)

	// The second pass sees its own reminder in the thread and stays quiet.
	second, err := fix.correlator.Sweep(context.Background(), checkinCache(), testChannel)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Examined: 1, Due: 1, AlreadyReminded: 1}, second)
	assert.Len(t, fix.conn.replies[msg.TS], 1)
}

func TestSweep_LegacyTextMessage(t *testing.T) {
	fix := newSweepFixture(t)
	msg := signOffMessage("1699827200.000001")
	msg.Metadata = nil
	fix.conn.seed(msg)

	result, err := fix.correlator.Sweep(context.Background(), checkinCache(), testChannel)
	require.NoError(t, err)

	assert.Equal(t, SweepResult{Examined: 1, Due: 1, Reminded: 1}, result)
	replies := fix.conn.replies[msg.TS]
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Text, "Hey <@U0TRAIN>")
	assert.Contains(t, replies[0].Text, "<@U0ADA>")
}

func TestSweep_MissingTrainerSkipped(t *testing.T) {
	fix := newSweepFixture(t)
	fix.conn.seed(chat.Message{
		Channel: testChannel,
		TS:      "1699827200.000001",
		Text:    "✅Ada Lovelace (<@U0ADA>) has been authorised for Laser Cutter (🔴)",
	})

	result, err := fix.correlator.Sweep(context.Background(), checkinCache(), testChannel)
	require.NoError(t, err)

	assert.Equal(t, SweepResult{Examined: 1, Skipped: 1}, result)
	assert.Empty(t, fix.conn.replies["1699827200.000001"])
}

func TestSweep_DeauthorisationIgnored(t *testing.T) {
	fix := newSweepFixture(t)
	msg := signOffMessage("1699827200.000001")
	msg.Metadata.Payload[machines.PayloadOutcome] = "deauthorised"
	fix.conn.seed(msg)

	result, err := fix.correlator.Sweep(context.Background(), checkinCache(), testChannel)
	require.NoError(t, err)

	assert.Equal(t, SweepResult{}, result)
}

func TestSweep_MachineWithoutPolicyIgnored(t *testing.T) {
	fix := newSweepFixture(t)
	msg := signOffMessage("1699827200.000001")
	msg.Metadata.Payload[machines.PayloadMachineID] = "302"
	fix.conn.seed(msg)

	result, err := fix.correlator.Sweep(context.Background(), checkinCache(), testChannel)
	require.NoError(t, err)

	assert.Equal(t, SweepResult{}, result)
}

func TestSweep_NoPoliciesNoHistoryFetch(t *testing.T) {
	fix := newSweepFixture(t)
	cache := checkinCache()
	delete(cache.Groups, 301)

	result, err := fix.correlator.Sweep(context.Background(), cache, testChannel)
	require.NoError(t, err)

	assert.Equal(t, SweepResult{}, result)
	assert.Empty(t, fix.conn.oldestAsked)
}
