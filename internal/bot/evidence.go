package bot

import (
	"bytes"
	"context"
	"fmt"

	tele "gopkg.in/telebot.v3"

	"telegram-rank-bot/internal/audit"
)

// EvidencePublisher delivers rendered evidence records to the configured
// audit chat. It implements audit.Publisher.
type EvidencePublisher struct {
	bot    *tele.Bot
	chatID int64
}

// NewEvidencePublisher returns nil when no audit chat is configured,
// which the audit trail treats as "no audit surface".
func NewEvidencePublisher(b *tele.Bot, chatID int64) *EvidencePublisher {
	if chatID == 0 {
		return nil
	}
	return &EvidencePublisher{bot: b, chatID: chatID}
}

// Publish sends the evidence text, attaching the screenshot when one
// was carried along.
func (p *EvidencePublisher) Publish(ctx context.Context, e audit.Evidence) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	recipient := &tele.Chat{ID: p.chatID}
	text := e.Render()

	if len(e.Image) > 0 {
		photo := &tele.Photo{
			File:    tele.FromReader(bytes.NewReader(e.Image)),
			Caption: text,
		}
		if _, err := p.bot.Send(recipient, photo); err != nil {
			return fmt.Errorf("publish evidence photo: %w", err)
		}
		return nil
	}

	if _, err := p.bot.Send(recipient, text); err != nil {
		return fmt.Errorf("publish evidence: %w", err)
	}
	return nil
}
