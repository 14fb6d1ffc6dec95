// Package platform implements the chat platform adapters: inbound
// verification and normalization, and outbound reply delivery.
package platform

import (
	"context"
	"fmt"
	"strconv"

	"github.com/moltbot/relay/internal/model"
)

// IncomingMessage is the canonical normalized form of an inbound platform
// message. It is tenant-independent; the resolver attaches ownership later.
type IncomingMessage struct {
	Channel        string // "slack" | "telegram"
	ConversationID string // Slack channel ID or Telegram chat ID
	MessageID      string // Slack thread/parent ts or Telegram message ID
	SenderID       string
	Text           string

	// Platform-specific matching key used by the connection resolver:
	// Slack team ID, or the Telegram webhook secret token.
	MatchKey string
}

// ReplyTarget identifies where a reply goes, one variant per channel. Each
// variant carries exactly the fields its adapter needs.
type ReplyTarget interface {
	// Channel returns the channel identifier for this target.
	Channel() string
	// ConversationID returns the external conversation identifier used for
	// session-key derivation.
	ConversationID() string
}

// SlackTarget replies into a Slack channel, threading when ThreadTS is set.
type SlackTarget struct {
	BotToken  string
	ChannelID string
	ThreadTS  string
}

func (t SlackTarget) Channel() string        { return model.ChannelSlack }
func (t SlackTarget) ConversationID() string { return t.ChannelID }

// TelegramTarget replies into a Telegram chat, referencing the original
// message for threading.
type TelegramTarget struct {
	BotToken  string
	ChatID    int64
	MessageID int64
}

func (t TelegramTarget) Channel() string        { return model.ChannelTelegram }
func (t TelegramTarget) ConversationID() string { return strconv.FormatInt(t.ChatID, 10) }

// Replier delivers reply text through the adapter matching the target's
// channel. The type switch happens here, once.
type Replier struct {
	slack    *SlackClient
	telegram *TelegramClient
}

// NewReplier creates a replier over the given platform clients.
func NewReplier(slack *SlackClient, telegram *TelegramClient) *Replier {
	return &Replier{slack: slack, telegram: telegram}
}

// Send delivers text to the target.
func (r *Replier) Send(ctx context.Context, target ReplyTarget, text string) error {
	switch t := target.(type) {
	case SlackTarget:
		return r.slack.PostMessage(ctx, t.BotToken, t.ChannelID, text, t.ThreadTS)
	case TelegramTarget:
		return r.telegram.SendMessage(ctx, t.BotToken, t.ChatID, text, t.MessageID)
	default:
		return fmt.Errorf("unsupported reply target %T", target)
	}
}
