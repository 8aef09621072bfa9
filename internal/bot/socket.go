package bot

import (
	"context"
	"log/slog"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/makerhaus/toolbot/internal/chat"
)

// RunSocket drives the bot off a socket-mode connection until ctx is
// cancelled. Every request is acknowledged before any work happens, so a
// slow CRM call never makes the platform retry the event.
func RunSocket(ctx context.Context, b *Bot, api *slack.Client, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	client := socketmode.New(api)

	go func() {
		for evt := range client.Events {
			switch evt.Type {
			case socketmode.EventTypeConnecting:
				logger.Info("connecting to chat platform")
			case socketmode.EventTypeConnectionError:
				logger.Error("chat connection error", "data", evt.Data)
			case socketmode.EventTypeConnected:
				logger.Info("connected to chat platform")
			case socketmode.EventTypeInteractive:
				callback, ok := evt.Data.(slack.InteractionCallback)
				if !ok {
					continue
				}
				if evt.Request != nil {
					client.Ack(*evt.Request)
				}
				handleInteractive(ctx, b, callback, logger)
			case socketmode.EventTypeEventsAPI:
				event, ok := evt.Data.(slackevents.EventsAPIEvent)
				if !ok {
					continue
				}
				if evt.Request != nil {
					client.Ack(*evt.Request)
				}
				handleEvent(ctx, b, event, logger)
			}
		}
	}()

	return client.RunContext(ctx)
}

func handleInteractive(ctx context.Context, b *Bot, callback slack.InteractionCallback, logger *slog.Logger) {
	if callback.Type != slack.InteractionTypeBlockActions {
		return
	}
	for _, action := range callback.ActionCallback.BlockActions {
		in := Interaction{
			Actor:    callback.User.ID,
			ActionID: action.ActionID,
			Value:    action.Value,
			Channel:  callback.Channel.ID,
			ThreadTS: callback.Container.ThreadTs,
			PromptTS: callback.Container.MessageTs,
		}
		if err := b.Dispatch(ctx, in); err != nil {
			logger.Error("interaction failed", "action", in.ActionID, "actor", in.Actor, "error", err)
		}
	}
}

func handleEvent(ctx context.Context, b *Bot, event slackevents.EventsAPIEvent, logger *slog.Logger) {
	mention, ok := event.InnerEvent.Data.(*slackevents.AppMentionEvent)
	if !ok {
		return
	}
	text, err := b.HandleMention(ctx, mention.User, mention.Text)
	if err != nil {
		logger.Error("mention handling failed", "user", mention.User, "error", err)
		return
	}
	reply := chat.Message{Channel: mention.Channel, Text: text, ThreadTS: mention.TimeStamp}
	if mention.ThreadTimeStamp != "" {
		reply.ThreadTS = mention.ThreadTimeStamp
	}
	if _, err := b.conn.Post(ctx, reply); err != nil {
		logger.Error("mention reply failed", "user", mention.User, "error", err)
	}
}
