package chat

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
)

// Slack implements Conn on the Slack Web API.
type Slack struct {
	api *slack.Client
}

// NewSlack creates a Slack connection. An app-level token is only needed
// when the caller also runs the socket-mode event loop.
func NewSlack(botToken string, opts ...slack.Option) *Slack {
	return &Slack{api: slack.New(botToken, opts...)}
}

// API exposes the underlying client for the socket-mode loop.
func (s *Slack) API() *slack.Client { return s.api }

// Post sends a message and returns its timestamp.
func (s *Slack) Post(ctx context.Context, msg Message) (string, error) {
	options := []slack.MsgOption{slack.MsgOptionText(msg.Text, false)}
	if msg.ThreadTS != "" {
		options = append(options, slack.MsgOptionTS(msg.ThreadTS))
	}
	if len(msg.Buttons) > 0 {
		options = append(options, slack.MsgOptionBlocks(buttonBlocks(msg)...))
	}
	if msg.Metadata != nil {
		options = append(options, slack.MsgOptionMetadata(toSlackMetadata(*msg.Metadata)))
	}

	_, ts, err := s.api.PostMessageContext(ctx, msg.Channel, options...)
	if err != nil {
		return "", fmt.Errorf("chat: post message: %w", err)
	}
	return ts, nil
}

// Update replaces the text of a previously sent message.
func (s *Slack) Update(ctx context.Context, channel, ts, text string) error {
	_, _, _, err := s.api.UpdateMessageContext(ctx, channel, ts, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("chat: update message %s: %w", ts, err)
	}
	return nil
}

// OpenDM opens a direct conversation with one or more users.
func (s *Slack) OpenDM(ctx context.Context, users ...string) (string, error) {
	channel, _, _, err := s.api.OpenConversationContext(ctx, &slack.OpenConversationParameters{
		Users: users,
	})
	if err != nil {
		return "", fmt.Errorf("chat: open conversation: %w", err)
	}
	return channel.ID, nil
}

// History returns channel messages newer than oldest, including metadata.
func (s *Slack) History(ctx context.Context, channel, oldest string) ([]Message, error) {
	var messages []Message
	cursor := ""
	for {
		resp, err := s.api.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
			ChannelID:          channel,
			Oldest:             oldest,
			Cursor:             cursor,
			IncludeAllMetadata: true,
		})
		if err != nil {
			return nil, fmt.Errorf("chat: conversation history: %w", err)
		}
		for _, m := range resp.Messages {
			messages = append(messages, fromSlackMessage(channel, m))
		}
		cursor = resp.ResponseMetaData.NextCursor
		if cursor == "" {
			return messages, nil
		}
	}
}

// Replies returns the thread replies under the message at ts.
func (s *Slack) Replies(ctx context.Context, channel, ts string) ([]Message, error) {
	var messages []Message
	cursor := ""
	for {
		replies, hasMore, nextCursor, err := s.api.GetConversationRepliesContext(ctx, &slack.GetConversationRepliesParameters{
			ChannelID: channel,
			Timestamp: ts,
			Cursor:    cursor,
		})
		if err != nil {
			return nil, fmt.Errorf("chat: conversation replies: %w", err)
		}
		for _, m := range replies {
			messages = append(messages, fromSlackMessage(channel, m))
		}
		if !hasMore {
			return messages, nil
		}
		cursor = nextCursor
	}
}

// Users lists all known identities.
func (s *Slack) Users(ctx context.Context) ([]User, error) {
	raw, err := s.api.GetUsersContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("chat: list users: %w", err)
	}
	users := make([]User, 0, len(raw))
	for _, u := range raw {
		users = append(users, User{
			ID:          u.ID,
			DisplayName: u.Profile.DisplayName,
			IsBot:       u.IsBot,
			Deleted:     u.Deleted,
		})
	}
	return users, nil
}

// Usergroups lists usergroups with their member IDs.
func (s *Slack) Usergroups(ctx context.Context) ([]Usergroup, error) {
	raw, err := s.api.GetUserGroupsContext(ctx, slack.GetUserGroupsOptionIncludeUsers(true))
	if err != nil {
		return nil, fmt.Errorf("chat: list usergroups: %w", err)
	}
	groups := make([]Usergroup, 0, len(raw))
	for _, g := range raw {
		groups = append(groups, Usergroup{ID: g.ID, Users: g.Users})
	}
	return groups, nil
}

func buttonBlocks(msg Message) []slack.Block {
	elements := make([]slack.BlockElement, 0, len(msg.Buttons))
	for _, b := range msg.Buttons {
		button := slack.NewButtonBlockElement(b.ActionID, b.Value,
			slack.NewTextBlockObject(slack.PlainTextType, b.Text, true, false))
		if b.Style != "" {
			button.Style = slack.Style(b.Style)
		}
		elements = append(elements, button)
	}
	return []slack.Block{
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, msg.Text, false, false), nil, nil),
		slack.NewActionBlock("", elements...),
	}
}

func toSlackMetadata(m Metadata) slack.SlackMetadata {
	payload := make(map[string]interface{}, len(m.Payload))
	for k, v := range m.Payload {
		payload[k] = v
	}
	return slack.SlackMetadata{EventType: m.EventType, EventPayload: payload}
}

func fromSlackMessage(channel string, m slack.Message) Message {
	msg := Message{
		Channel:  channel,
		Text:     m.Text,
		ThreadTS: m.ThreadTimestamp,
		TS:       m.Timestamp,
		User:     m.User,
	}
	if m.Metadata.EventType != "" {
		payload := make(map[string]string, len(m.Metadata.EventPayload))
		for k, v := range m.Metadata.EventPayload {
			if s, ok := v.(string); ok {
				payload[k] = s
			}
		}
		msg.Metadata = &Metadata{EventType: m.Metadata.EventType, Payload: payload}
	}
	return msg
}
