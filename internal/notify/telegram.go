// Package notify pushes decision events that need operator attention
// to external channels. Delivery is best-effort and never feeds back
// into the decision path.
package notify

import (
	"fmt"
	"log"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/stellarlinkco/clawgate/internal/audit"
	"github.com/stellarlinkco/clawgate/internal/bus"
	"github.com/stellarlinkco/clawgate/internal/config"
	"github.com/stellarlinkco/clawgate/internal/permission"
)

// Notifier delivers a decision event to an operator.
type Notifier interface {
	Notify(ev bus.Event) error
}

// TelegramBot is the slice of the bot API the notifier uses. Outbound
// only; the notifier never polls for updates.
type TelegramBot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetSelf() tgbotapi.User
}

type tgBotWrapper struct {
	bot *tgbotapi.BotAPI
}

func (w *tgBotWrapper) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	return w.bot.Send(c)
}

func (w *tgBotWrapper) GetSelf() tgbotapi.User {
	return w.bot.Self
}

// BotFactory creates TelegramBot instances (allows mocking).
type BotFactory func(token string) (TelegramBot, error)

var defaultBotFactory BotFactory = func(token string) (TelegramBot, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return &tgBotWrapper{bot: bot}, nil
}

// TelegramNotifier sends pending and denied decisions to a chat.
type TelegramNotifier struct {
	bot    TelegramBot
	chatID int64
}

func NewTelegramNotifier(cfg config.TelegramConfig) (*TelegramNotifier, error) {
	return NewTelegramNotifierWithFactory(cfg, defaultBotFactory)
}

// NewTelegramNotifierWithFactory creates a TelegramNotifier with a
// custom bot factory (for testing).
func NewTelegramNotifierWithFactory(cfg config.TelegramConfig, factory BotFactory) (*TelegramNotifier, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	if cfg.ChatID == 0 {
		return nil, fmt.Errorf("telegram chat id is required")
	}

	bot, err := factory(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	log.Printf("[notify] telegram authorized as @%s", bot.GetSelf().UserName)

	return &TelegramNotifier{bot: bot, chatID: cfg.ChatID}, nil
}

// Notify sends decisions that wait on or were blocked from the user.
// Auto-approved and skipped decisions stay quiet.
func (n *TelegramNotifier) Notify(ev bus.Event) error {
	switch ev.Record.Decision {
	case string(permission.PendingUser), string(permission.Denied):
	default:
		return nil
	}

	msg := tgbotapi.NewMessage(n.chatID, formatRecord(ev.Record, true))
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := n.bot.Send(msg); err != nil {
		// Retry without HTML parse mode
		msg.ParseMode = ""
		msg.Text = formatRecord(ev.Record, false)
		if _, err2 := n.bot.Send(msg); err2 != nil {
			return fmt.Errorf("send telegram notification: %w", err2)
		}
	}
	return nil
}

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func formatRecord(rec audit.Record, asHTML bool) string {
	title := "Confirmation required"
	if rec.Decision == string(permission.Denied) {
		title = "Command denied"
	}

	command := rec.Command
	if asHTML {
		command = htmlEscaper.Replace(command)
	}

	var b strings.Builder
	if asHTML {
		fmt.Fprintf(&b, "<b>%s</b>\n<code>%s</code>\n", title, command)
	} else {
		fmt.Fprintf(&b, "%s\n%s\n", title, command)
	}
	fmt.Fprintf(&b, "%s, confidence %.2f", rec.Classification, rec.Confidence)
	if rec.Reasoning != "" {
		reasoning := rec.Reasoning
		if asHTML {
			reasoning = htmlEscaper.Replace(reasoning)
		}
		b.WriteString("\n")
		b.WriteString(reasoning)
	}
	return b.String()
}
