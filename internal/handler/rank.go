package handler

import (
	"context"
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v3"

	"telegram-rank-bot/internal/audit"
	"telegram-rank-bot/internal/model"
	"telegram-rank-bot/internal/service"
)

// RankHandler handles account and rank lookup commands.
type RankHandler struct {
	accounts *service.AccountService
}

// NewRankHandler creates a new RankHandler.
func NewRankHandler(accounts *service.AccountService) *RankHandler {
	return &RankHandler{accounts: accounts}
}

// HandleRank handles /rank: lists the sender's verified accounts.
func (h *RankHandler) HandleRank(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	accounts, err := h.accounts.Accounts(context.Background(), sender.ID)
	if err != nil {
		return c.Reply("❌ Internal error, please try again later.")
	}

	if len(accounts) == 0 {
		return c.Reply("You have no verified accounts yet. Send a screenshot of your in-game profile to verify one.")
	}

	var b strings.Builder
	b.WriteString("🏅 Your verified accounts:\n")
	for _, a := range accounts {
		marker := "•"
		if a.IsPrimary {
			marker = "★"
		}
		fmt.Fprintf(&b, "%s %s - %s", marker, audit.FormatUniqueID(a.UniqueID), a.RankName)
		if a.Level != model.LevelUnknown && a.Level > 0 {
			fmt.Fprintf(&b, " (level %d)", a.Level)
		}
		b.WriteString("\n")
	}
	return c.Reply(b.String())
}

// HandleSetPrimary handles /setprimary <unique-id>: marks one of the
// sender's accounts as the primary one.
func (h *RankHandler) HandleSetPrimary(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	arg := strings.TrimSpace(c.Message().Payload)
	if arg == "" {
		return c.Reply("Usage: /setprimary <unique-id>")
	}

	if err := h.accounts.SetPrimary(context.Background(), sender.ID, arg); err != nil {
		return c.Reply("❌ No verified account with that id was found.")
	}
	return c.Reply("⭐ Primary account updated.")
}

// HandleStart handles /start with a short usage message.
func (h *RankHandler) HandleStart(c tele.Context) error {
	return c.Reply(
		"👋 Send me a screenshot of your in-game profile screen and I'll verify your rank.\n\n" +
			"Commands:\n" +
			"/rank - your verified accounts\n" +
			"/setprimary <unique-id> - choose your primary account",
	)
}
