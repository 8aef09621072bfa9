package bot

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makerhaus/toolbot/internal/audit"
	"github.com/makerhaus/toolbot/internal/chat"
	"github.com/makerhaus/toolbot/internal/checkin"
	"github.com/makerhaus/toolbot/internal/machines"
	"github.com/makerhaus/toolbot/internal/testutil"
	"github.com/makerhaus/toolbot/internal/tidyhq"
)

const (
	testPrefix  = "Machine Operator - "
	testChannel = "C0NOTIFY"
)

type fakeCRM struct {
	contacts []tidyhq.Contact
	groups   []tidyhq.Group

	groupCalls int
	added      [][2]int64
	removed    [][2]int64
}

func (f *fakeCRM) Contacts(ctx context.Context) ([]tidyhq.Contact, error) {
	return f.contacts, nil
}

func (f *fakeCRM) Groups(ctx context.Context) ([]tidyhq.Group, error) {
	f.groupCalls++
	return f.groups, nil
}

func (f *fakeCRM) Group(ctx context.Context, id int64) (tidyhq.Group, error) {
	return tidyhq.Group{}, errors.New("no such group")
}

func (f *fakeCRM) AddMember(ctx context.Context, groupID, contactID int64) bool {
	f.added = append(f.added, [2]int64{groupID, contactID})
	return true
}

func (f *fakeCRM) RemoveMember(ctx context.Context, groupID, contactID int64) bool {
	f.removed = append(f.removed, [2]int64{groupID, contactID})
	return true
}

type fakeConn struct {
	clock   tidyhq.Clock
	nextSeq int

	history    map[string][]chat.Message
	replies    map[string][]chat.Message
	updates    map[string]string
	dms        [][]string
	usergroups []chat.Usergroup
}

func newFakeConn(clock tidyhq.Clock) *fakeConn {
	return &fakeConn{
		clock:   clock,
		history: map[string][]chat.Message{},
		replies: map[string][]chat.Message{},
		updates: map[string]string{},
	}
}

func (c *fakeConn) Post(ctx context.Context, msg chat.Message) (string, error) {
	c.nextSeq++
	msg.TS = fmt.Sprintf("%d.%06d", c.clock.Now().Unix(), c.nextSeq)
	if msg.ThreadTS == "" {
		c.history[msg.Channel] = append(c.history[msg.Channel], msg)
	} else {
		c.replies[msg.ThreadTS] = append(c.replies[msg.ThreadTS], msg)
	}
	return msg.TS, nil
}

func (c *fakeConn) Update(ctx context.Context, channel, ts, text string) error {
	c.updates[ts] = text
	return nil
}

func (c *fakeConn) OpenDM(ctx context.Context, users ...string) (string, error) {
	c.dms = append(c.dms, users)
	return "D0FAKE", nil
}

func (c *fakeConn) History(ctx context.Context, channel, oldest string) ([]chat.Message, error) {
	return c.history[channel], nil
}

func (c *fakeConn) Replies(ctx context.Context, channel, ts string) ([]chat.Message, error) {
	return c.replies[ts], nil
}

func (c *fakeConn) Users(ctx context.Context) ([]chat.User, error) { return nil, nil }

func (c *fakeConn) Usergroups(ctx context.Context) ([]chat.Usergroup, error) {
	return c.usergroups, nil
}

type botFixture struct {
	bot  *Bot
	conn *fakeConn
	crm  *fakeCRM
}

func newBotFixture(t *testing.T) *botFixture {
	t.Helper()
	clock := testutil.NewFakeClock(time.Unix(1_700_000_000, 0))
	conn := newFakeConn(clock)
	crm := &fakeCRM{
		contacts: []tidyhq.Contact{{
			ID:           42,
			FirstName:    "ada",
			LastName:     "lovelace",
			CustomFields: []tidyhq.CustomField{{ID: "f-slack", Value: "U0ADA"}},
			Groups:       tidyhq.GroupIDs{301},
		}},
		groups: []tidyhq.Group{
			{ID: 301, Label: testPrefix + "Laser Cutter", Description: "categories=laser\nlevel=🔴\nfirst_use_check_in=3"},
			{ID: 302, Label: testPrefix + "Bandsaw", Description: "categories=woodwork\nlevel=🟠\ntraining=ask in #woodwork"},
		},
	}
	resolver := tidyhq.Resolver{GroupPrefix: testPrefix, SlackFieldID: "f-slack"}
	manager, err := tidyhq.NewManager(tidyhq.ManagerConfig{
		API:          crm,
		Path:         filepath.Join(t.TempDir(), "cache.json"),
		TTL:          3600,
		GroupPrefix:  testPrefix,
		SlackFieldID: "f-slack",
		Clock:        clock,
	})
	require.NoError(t, err)

	engine := machines.NewEngine(machines.EngineConfig{
		CRM:      crm,
		Audit:    audit.NewWriter(filepath.Join(t.TempDir(), "changes.log"), nil),
		Chat:     conn,
		Resolver: resolver,
		Channel:  testChannel,
		Clock:    clock,
	})
	actions := checkin.NewActions(checkin.ActionsConfig{
		Chat:     conn,
		Engine:   engine,
		Resolver: resolver,
		Clock:    clock,
	})

	b := New(Config{
		Conn:     conn,
		Manager:  manager,
		Engine:   engine,
		Actions:  actions,
		Resolver: resolver,
		Trainers: []string{"U0TRAIN", "S0TRAINERS"},
	})
	return &botFixture{bot: b, conn: conn, crm: crm}
}

func approveInteraction() Interaction {
	return Interaction{
		Actor:    "U0TRAIN",
		ActionID: machines.ActionCheckinApprove,
		Value:    "301-U0ADA-U0TRAIN",
		Channel:  testChannel,
		ThreadTS: "1699827200.000001",
		PromptTS: "1699827200.000002",
	}
}

func TestBot_Dispatch_Approve(t *testing.T) {
	fix := newBotFixture(t)
	in := approveInteraction()

	require.NoError(t, fix.bot.Dispatch(context.Background(), in))

	replies := fix.conn.replies[in.ThreadTS]
	require.Len(t, replies, 1)
	assert.Equal(t, "This induction was confirmed by <@U0TRAIN>", replies[0].Text)
	assert.Equal(t, [][]string{{"U0ADA", "U0TRAIN"}}, fix.conn.dms)
}

func TestBot_Dispatch_RemoveRefreshesCache(t *testing.T) {
	fix := newBotFixture(t)
	in := approveInteraction()
	in.ActionID = machines.ActionCheckinRemove

	require.NoError(t, fix.bot.Dispatch(context.Background(), in))

	assert.Equal(t, [][2]int64{{301, 42}}, fix.crm.removed)
	// The first Get built the cache; the revoke forces a second build.
	assert.Equal(t, 2, fix.crm.groupCalls)
}

func TestBot_Dispatch_NonTrainerRefused(t *testing.T) {
	fix := newBotFixture(t)
	in := approveInteraction()
	in.Actor = "U0RANDO"

	require.NoError(t, fix.bot.Dispatch(context.Background(), in))

	// No marker, no mutation, just a polite DM.
	assert.Empty(t, fix.conn.replies[in.ThreadTS])
	require.Equal(t, [][]string{{"U0RANDO"}}, fix.conn.dms)
	dm := fix.conn.history["D0FAKE"]
	require.Len(t, dm, 1)
	assert.Contains(t, dm[0].Text, "Only trainers")
}

func TestBot_Dispatch_UsergroupTrainer(t *testing.T) {
	fix := newBotFixture(t)
	fix.conn.usergroups = []chat.Usergroup{{ID: "S0TRAINERS", Users: []string{"U0GROUPIE"}}}
	in := approveInteraction()
	in.Actor = "U0GROUPIE"
	in.Value = "301-U0ADA-U0GROUPIE"

	require.NoError(t, fix.bot.Dispatch(context.Background(), in))

	require.Len(t, fix.conn.replies[in.ThreadTS], 1)
	assert.Equal(t, "This induction was confirmed by <@U0GROUPIE>", fix.conn.replies[in.ThreadTS][0].Text)
}

func TestBot_Dispatch_UnknownAction(t *testing.T) {
	fix := newBotFixture(t)
	in := approveInteraction()
	in.ActionID = "something-else"

	assert.Error(t, fix.bot.Dispatch(context.Background(), in))
}

func TestBot_Dispatch_MalformedValue(t *testing.T) {
	fix := newBotFixture(t)
	in := approveInteraction()
	in.Value = "not-a-case"

	assert.Error(t, fix.bot.Dispatch(context.Background(), in))
}

func TestBot_Mention_GrantByName(t *testing.T) {
	fix := newBotFixture(t)

	reply, err := fix.bot.HandleMention(context.Background(), "U0TRAIN", "<@B0BOT> grant <@U0ADA> Bandsaw")
	require.NoError(t, err)

	assert.Equal(t, "✅ added Bandsaw", reply)
	assert.Equal(t, [][2]int64{{302, 42}}, fix.crm.added)

	// The grant announces itself in the notification channel.
	announcements := fix.conn.history[testChannel]
	require.Len(t, announcements, 1)
	assert.Contains(t, announcements[0].Text, "has been authorised for Bandsaw")

	// The first Get built the cache; the grant forces a second build.
	assert.Equal(t, 2, fix.crm.groupCalls)
}

func TestBot_Mention_RevokeByGroupID(t *testing.T) {
	fix := newBotFixture(t)

	reply, err := fix.bot.HandleMention(context.Background(), "U0TRAIN", "<@B0BOT> revoke <@U0ADA> 301")
	require.NoError(t, err)

	assert.Equal(t, "✅ removed Laser Cutter", reply)
	assert.Equal(t, [][2]int64{{301, 42}}, fix.crm.removed)
}

func TestBot_Mention_NonTrainerRefused(t *testing.T) {
	fix := newBotFixture(t)

	reply, err := fix.bot.HandleMention(context.Background(), "U0RANDO", "grant <@U0ADA> Bandsaw")
	require.NoError(t, err)

	assert.Contains(t, reply, "Only trainers")
	assert.Empty(t, fix.crm.added)
}

func TestBot_Mention_UnknownMachine(t *testing.T) {
	fix := newBotFixture(t)

	reply, err := fix.bot.HandleMention(context.Background(), "U0TRAIN", "grant <@U0ADA> Plasma Cutter")
	require.NoError(t, err)

	assert.Contains(t, reply, `couldn't find a machine called "Plasma Cutter"`)
	assert.Empty(t, fix.crm.added)
}

func TestBot_Mention_UnlinkedOperator(t *testing.T) {
	fix := newBotFixture(t)

	reply, err := fix.bot.HandleMention(context.Background(), "U0TRAIN", "grant <@U0NOBODY> Bandsaw")
	require.NoError(t, err)

	assert.Contains(t, reply, "couldn't link <@U0NOBODY> to a TidyHQ contact")
	assert.Empty(t, fix.crm.added)
}

func TestBot_Mention_FallsBackToSummary(t *testing.T) {
	fix := newBotFixture(t)

	reply, err := fix.bot.HandleMention(context.Background(), "U0ADA", "<@B0BOT> what am I trained on?")
	require.NoError(t, err)

	assert.Contains(t, reply, "🔴✅ Laser Cutter")
}

func TestBot_ToolsSummary(t *testing.T) {
	fix := newBotFixture(t)

	summary, err := fix.bot.ToolsSummary(context.Background(), "U0ADA")
	require.NoError(t, err)

	assert.Contains(t, summary, "*laser*")
	assert.Contains(t, summary, "🔴✅ Laser Cutter")
	assert.Contains(t, summary, "*woodwork*")
	assert.Contains(t, summary, "🟠❌ Bandsaw (Training: ask in #woodwork)")
}

func TestBot_ToolsSummary_UnlinkedIdentity(t *testing.T) {
	fix := newBotFixture(t)

	summary, err := fix.bot.ToolsSummary(context.Background(), "U0NOBODY")
	require.NoError(t, err)

	assert.Contains(t, summary, "unable to automatically link")
}
