// Package handler provides Telegram bot command handlers.
package handler

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"telegram-rank-bot/internal/ingest"
	"telegram-rank-bot/internal/model"
	"telegram-rank-bot/internal/pkg/lock"
	"telegram-rank-bot/internal/service"
)

// VerifyHandler handles screenshot submissions.
type VerifyHandler struct {
	verifier     *service.Verifier
	identityLock *lock.IdentityLock
}

// NewVerifyHandler creates a new VerifyHandler.
func NewVerifyHandler(verifier *service.Verifier, identityLock *lock.IdentityLock) *VerifyHandler {
	return &VerifyHandler{verifier: verifier, identityLock: identityLock}
}

// HandlePhoto handles profile screenshots sent as photos.
func (h *VerifyHandler) HandlePhoto(c tele.Context) error {
	photo := c.Message().Photo
	if photo == nil {
		return nil
	}

	url, err := fileURL(c.Bot(), photo.FileID)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to resolve photo file URL")
		return c.Reply("❌ Internal error, please try again later.")
	}

	// Telegram compresses photos to JPEG.
	src := ingest.Source{
		URL:                 url,
		DeclaredSize:        int64(photo.FileSize),
		DeclaredContentType: "image/jpeg",
	}

	return h.verify(c, src)
}

// HandleDocument handles profile screenshots sent as uncompressed
// files.
func (h *VerifyHandler) HandleDocument(c tele.Context) error {
	doc := c.Message().Document
	if doc == nil {
		return nil
	}

	url, err := fileURL(c.Bot(), doc.FileID)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to resolve document file URL")
		return c.Reply("❌ Internal error, please try again later.")
	}

	src := ingest.Source{
		URL:                 url,
		Filename:            doc.FileName,
		DeclaredSize:        int64(doc.FileSize),
		DeclaredContentType: doc.MIME,
	}

	return h.verify(c, src)
}

// fileURL resolves a Telegram file ID to its download URL via the
// getFile call.
func fileURL(b *tele.Bot, fileID string) (string, error) {
	f, err := b.FileByID(fileID)
	if err != nil {
		return "", fmt.Errorf("resolve file %q: %w", fileID, err)
	}
	return fmt.Sprintf("%s/file/bot%s/%s", b.URL, b.Token, f.FilePath), nil
}

// verify serializes attempts per identity and maps the pipeline
// result to a user-facing reply. The four failure messages are the
// only detail a user ever sees.
func (h *VerifyHandler) verify(c tele.Context, src ingest.Source) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	if !h.identityLock.TryLock(sender.ID) {
		return c.Reply("⏳ Your previous verification is still running, please wait.")
	}
	defer h.identityLock.Unlock(sender.ID)

	result := h.verifier.ProcessAndVerify(context.Background(), src, sender.ID)

	log.Info().
		Int64("identity", sender.ID).
		Str("status", string(result.Status)).
		Str("reason", string(result.Reason)).
		Float64("confidence", result.Confidence).
		Bool("cache_hit", result.CacheHit).
		Dur("duration", result.Duration).
		Msg("Verification attempt finished")

	return c.Reply(replyFor(result))
}

func replyFor(r *model.VerificationResult) string {
	switch r.Status {
	case model.StatusSuccess:
		var b strings.Builder
		fmt.Fprintf(&b, "✅ Verified! Your rank is *%s*", r.RankName)
		if r.Level != model.LevelUnknown {
			fmt.Fprintf(&b, " (level %d)", r.Level)
		}
		b.WriteString(".")
		return b.String()

	case model.StatusManualReview:
		return "🔎 We couldn't verify your rank with enough confidence. A moderator will review your screenshot."

	default:
		switch r.Reason {
		case model.ReasonNotProfile:
			return "❌ That doesn't look like a profile screenshot. Please send a screenshot of your in-game profile screen."
		case model.ReasonRankNotRecognized:
			return "❌ Couldn't recognize a rank on that screenshot. Make sure the rank and level are visible."
		case model.ReasonAlreadyClaimed:
			return "❌ This screenshot or game account has already been claimed by another player. Contact a moderator if you believe this is a mistake."
		default:
			return "❌ Internal error, please try again later."
		}
	}
}
