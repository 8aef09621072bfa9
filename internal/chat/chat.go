// Package chat defines the narrow chat-platform surface the bot depends on,
// and its Slack implementation.
//
// The core only ever needs to: post a message (optionally threaded, with
// buttons and structured metadata), update a message, open a direct
// conversation, read channel history and thread replies, and list known
// identities. Everything else about the platform is out of scope.
package chat

import "context"

// Metadata is structured event data attached to a message at send time.
// Sweeps read it back instead of re-parsing rendered text.
type Metadata struct {
	EventType string            `json:"event_type"`
	Payload   map[string]string `json:"payload,omitempty"`
}

// Button is one interactive action rendered under a message.
type Button struct {
	Text     string
	Value    string
	ActionID string
	// Style is "", "primary" or "danger".
	Style string
}

// Message is an outbound or historical chat message.
type Message struct {
	Channel string
	Text    string

	// ThreadTS threads the message under an existing one when set.
	ThreadTS string

	// TS is the platform timestamp identifying the message. Set on
	// messages read back from history.
	TS string

	// User is the sender's platform ID on historical messages.
	User string

	Buttons  []Button
	Metadata *Metadata
}

// User is a chat platform identity.
type User struct {
	ID          string
	DisplayName string
	IsBot       bool
	Deleted     bool
}

// Usergroup is a named set of users, used for the trainer permission check.
type Usergroup struct {
	ID    string
	Users []string
}

// Conn is the chat platform connection used by the core.
type Conn interface {
	// Post sends a message and returns its timestamp.
	Post(ctx context.Context, msg Message) (string, error)

	// Update replaces the text of a previously sent message.
	Update(ctx context.Context, channel, ts, text string) error

	// OpenDM opens a direct conversation with one or more users and
	// returns its channel ID.
	OpenDM(ctx context.Context, users ...string) (string, error)

	// History returns channel messages newer than the oldest timestamp,
	// including message metadata.
	History(ctx context.Context, channel, oldest string) ([]Message, error)

	// Replies returns the thread replies under the message at ts.
	Replies(ctx context.Context, channel, ts string) ([]Message, error)

	// Users lists all known identities, following pagination.
	Users(ctx context.Context) ([]User, error)

	// Usergroups lists usergroups with their member IDs.
	Usergroups(ctx context.Context) ([]Usergroup, error)
}
