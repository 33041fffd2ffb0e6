// Package notify alerts a triage chat about newly detected emerging issues.
package notify

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/DeafMist/civic-radar/internal/models"
)

// Notifier is implemented by anything that can announce an issue.
type Notifier interface {
	NotifyIssue(ctx context.Context, issue models.EmergingIssue) error
}

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram posts issue alerts into one chat.
type Telegram struct {
	api    sender
	chatID int64
}

// NewTelegram authenticates the bot token against the Bot API.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Telegram{api: api, chatID: chatID}, nil
}

// NotifyIssue sends a plain-text alert for issue.
func (t *Telegram) NotifyIssue(ctx context.Context, issue models.EmergingIssue) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(t.chatID, FormatIssue(issue))
	msg.DisableWebPagePreview = true
	if _, err := t.api.Send(msg); err != nil {
		return fmt.Errorf("send telegram alert: %w", err)
	}
	return nil
}

// FormatIssue renders the alert body.
func FormatIssue(issue models.EmergingIssue) string {
	var sb strings.Builder
	sb.WriteString("⚠️ Isu baru: " + issue.Title + "\n")
	sb.WriteString(fmt.Sprintf("Urgensi: %d/10\n", issue.UrgencyScore))
	sb.WriteString(fmt.Sprintf("Laju: %.1f sebutan/jam (%d sebutan)\n", issue.Velocity, issue.MentionCount))
	if len(issue.Keywords) > 0 {
		sb.WriteString("Kata kunci: " + strings.Join(issue.Keywords, ", ") + "\n")
	}
	if len(issue.DepartmentRelevance) > 0 {
		sb.WriteString("Instansi: " + strings.Join(issue.DepartmentRelevance, ", ") + "\n")
	}
	sb.WriteString("Pertama terdeteksi: " + issue.FirstDetected.UTC().Format("2006-01-02 15:04 UTC"))
	return sb.String()
}

// Log writes alerts to the log instead of a chat. Used when no bot token is set.
type Log struct {
	Logger zerolog.Logger
}

// NotifyIssue logs the issue.
func (l Log) NotifyIssue(_ context.Context, issue models.EmergingIssue) error {
	l.Logger.Info().
		Str("title", issue.Title).
		Int("urgency", issue.UrgencyScore).
		Float64("velocity", issue.Velocity).
		Strs("departments", issue.DepartmentRelevance).
		Msg("emerging issue detected")
	return nil
}
