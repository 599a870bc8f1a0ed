package handler

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	tele "gopkg.in/telebot.v3"

	"telegram-rank-bot/internal/audit"
	"telegram-rank-bot/internal/service"
)

// hashPattern recognizes a full SHA-256 hex digest.
var hashPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// AdminHandler handles moderator commands. All of these are gated by
// the admin middleware.
type AdminHandler struct {
	locks *service.LockService
	roles *service.RoleStateMachine
	trail *audit.Trail
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(locks *service.LockService, roles *service.RoleStateMachine, trail *audit.Trail) *AdminHandler {
	return &AdminHandler{locks: locks, roles: roles, trail: trail}
}

// HandleUnlink handles /unlink <hash|unique-id>, the admin override
// that releases a disputed screenshot lock.
func (h *AdminHandler) HandleUnlink(c tele.Context) error {
	arg := strings.TrimSpace(c.Message().Payload)
	if arg == "" {
		return c.Reply("Usage: /unlink <screenshot-hash|unique-id>")
	}

	var hash, uniqueID string
	if hashPattern.MatchString(strings.ToLower(arg)) {
		hash = strings.ToLower(arg)
	} else {
		uniqueID = arg
	}

	removed, err := h.locks.Unlink(context.Background(), hash, uniqueID)
	if err != nil {
		return c.Reply("❌ Failed to unlink: " + err.Error())
	}

	if removed == 0 {
		return c.Reply("No lock found for that key.")
	}
	return c.Reply(fmt.Sprintf("🔓 Unlinked %d lock(s).", removed))
}

// HandleClearRoles handles /clearroles <identity>, the manual
// correction that strips every rank-tier role from an identity.
func (h *AdminHandler) HandleClearRoles(c tele.Context) error {
	arg := strings.TrimSpace(c.Message().Payload)
	if arg == "" {
		return c.Reply("Usage: /clearroles <identity-id>")
	}

	var identity int64
	if _, err := fmt.Sscanf(arg, "%d", &identity); err != nil {
		return c.Reply("Identity must be a numeric id.")
	}

	if err := h.roles.RemoveAll(context.Background(), identity); err != nil {
		return c.Reply("❌ Failed to clear roles: " + err.Error())
	}
	return c.Reply("🧹 All rank roles removed.")
}

// HandleStats handles /rankstats, the read-only metrics snapshot.
func (h *AdminHandler) HandleStats(c tele.Context) error {
	snap := h.trail.Snapshot()

	msg := fmt.Sprintf(
		"📊 Verification metrics\n"+
			"Total: %d\n"+
			"Successes: %d\n"+
			"Failures: %d\n"+
			"Manual reviews: %d\n"+
			"Avg confidence: %.2f\n"+
			"Cleanup runs: %d (removed %d, budget hits %d)",
		snap.Total, snap.Successes, snap.Failures, snap.ManualReviews,
		snap.AverageConfidence(),
		snap.CleanupRuns, snap.CleanupRemoved, snap.RateLimitHits,
	)
	return c.Reply(msg)
}
