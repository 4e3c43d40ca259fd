package relay

import (
	"context"
	"fmt"

	tele "gopkg.in/telebot.v4"

	"schoolbell/internal/dispatch"
	"schoolbell/internal/eventbus"
)

type TelegramConfig struct {
	Enabled bool
	Token   string
	// Chats maps tenant id to the chat that receives its events.
	Chats map[string]int64
	// Rings also forwards ordinary bell rings; alarms are always forwarded.
	Rings bool
}

type sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// TelegramSink posts a short text per event to the tenant's staff chat.
// Tenants without a chat are skipped.
type TelegramSink struct {
	bot   sender
	chats map[string]int64
	rings bool
}

// NewTelegramBot builds a send-only bot; it never polls for updates.
func NewTelegramBot(token string) (*tele.Bot, error) {
	return tele.NewBot(tele.Settings{Token: token})
}

func NewTelegramSink(bot sender, chats map[string]int64, rings bool) *TelegramSink {
	cp := make(map[string]int64, len(chats))
	for k, v := range chats {
		cp[k] = v
	}
	return &TelegramSink{bot: bot, chats: cp, rings: rings}
}

func (t *TelegramSink) Name() string { return "telegram" }

func (t *TelegramSink) Send(ctx context.Context, e eventbus.Event) error {
	chat, ok := t.chats[e.Tenant]
	if !ok {
		return nil
	}
	text, ok := t.format(e)
	if !ok {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := t.bot.Send(tele.ChatID(chat), text)
	return err
}

func (t *TelegramSink) format(e eventbus.Event) (string, bool) {
	switch e.Name {
	case eventbus.RingTheBell:
		if !t.rings {
			return "", false
		}
		if p, ok := e.Payload.(dispatch.RingPayload); ok {
			return fmt.Sprintf("🔔 %s (%s)", p.BellName, p.BellTime), true
		}
		return "🔔 Bell", true
	case eventbus.PlayAlert:
		alert := dispatch.DefaultAlertType
		if p, ok := e.Payload.(dispatch.AlertPayload); ok && p.AlertType != "" {
			alert = p.AlertType
		}
		return fmt.Sprintf("🚨 Alarm started: %s", alert), true
	case eventbus.StopAlert:
		return "✅ Alarm stopped", true
	default:
		return "", false
	}
}
