package handler

import (
	"context"
	"strconv"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"riddle-pool-bot/internal/model"
	"riddle-pool-bot/internal/service"
)

const unpaidListLimit = 20

// PayoutEngine is the part of the round service the admin commands use.
type PayoutEngine interface {
	RetryPayout(ctx context.Context, roundID int64) (*service.PayoutOutcome, error)
	UnpaidPayouts(ctx context.Context, limit int) ([]*model.PrizePool, error)
}

// AdminHandler handles payout reconciliation commands.
type AdminHandler struct {
	payouts PayoutEngine
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(payouts PayoutEngine) *AdminHandler {
	return &AdminHandler{payouts: payouts}
}

// HandlePayoutRetry handles the /payout_retry command.
// Format: /payout_retry <round_id>
func (h *AdminHandler) HandlePayoutRetry(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	args := c.Args()
	if len(args) != 1 {
		return c.Reply("❌ Usage: /payout_retry <round_id>")
	}
	roundID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || roundID <= 0 {
		return c.Reply("❌ Invalid round id")
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	outcome, err := h.payouts.RetryPayout(ctx, roundID)
	if err != nil {
		return c.Reply(errorMessage(err), tele.ModeHTML)
	}

	log.Info().
		Int64("admin_id", sender.ID).
		Int64("round_id", roundID).
		Str("status", string(outcome.Status)).
		Msg("Admin retried payout")
	return c.Reply(formatPayout(outcome), tele.ModeHTML)
}

// HandlePayouts handles the /payouts command, listing settled pools not yet paid.
func (h *AdminHandler) HandlePayouts(c tele.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	pools, err := h.payouts.UnpaidPayouts(ctx, unpaidListLimit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list unpaid payouts")
		return c.Reply(errorMessage(err), tele.ModeHTML)
	}
	return c.Reply(formatUnpaid(pools), tele.ModeHTML)
}
