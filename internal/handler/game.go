// Package handler provides Telegram bot command handlers.
package handler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	tele "gopkg.in/telebot.v3"

	"riddle-pool-bot/internal/model"
	"riddle-pool-bot/internal/payment"
	"riddle-pool-bot/internal/service"
)

// requestTimeout bounds one command, including provider calls.
const requestTimeout = 45 * time.Second

// RoundEngine is the part of the round service the player commands use.
type RoundEngine interface {
	CurrentRound(ctx context.Context) (*service.RoundView, error)
	SubmitGuess(ctx context.Context, telegramID int64, guess string) (*service.AttemptResult, error)
}

// Wallets is the part of the wallet service the player commands use.
type Wallets interface {
	Register(ctx context.Context, telegramID int64, username string) (*model.Player, bool, error)
	Balance(ctx context.Context, telegramID int64) (*payment.Balance, error)
}

// GameHandler handles the player-facing commands.
type GameHandler struct {
	rounds      RoundEngine
	wallets     Wallets
	connectURL  string
	winnerRatio decimal.Decimal
}

// NewGameHandler creates a new GameHandler.
func NewGameHandler(rounds RoundEngine, wallets Wallets, connectURL string, winnerRatio decimal.Decimal) *GameHandler {
	return &GameHandler{
		rounds:      rounds,
		wallets:     wallets,
		connectURL:  connectURL,
		winnerRatio: winnerRatio,
	}
}

// HandleStart handles the /start command.
// Registers the player and sends the wallet connection link when needed.
func (h *GameHandler) HandleStart(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	player, created, err := h.wallets.Register(ctx, sender.ID, displayName(sender))
	if err != nil {
		log.Error().Err(err).Int64("telegram_id", sender.ID).Msg("Failed to register player")
		return c.Reply(errorMessage(err), tele.ModeHTML)
	}
	if created {
		log.Info().Int64("telegram_id", sender.ID).Msg("Player registered")
	}

	name := sender.FirstName
	if name == "" {
		name = displayName(sender)
	}
	return c.Reply(formatWelcome(name, player, created, connectLink(h.connectURL, sender.ID)), tele.ModeHTML, tele.NoPreview)
}

// HandleHelp handles the /help command.
func (h *GameHandler) HandleHelp(c tele.Context) error {
	return c.Reply(fmt.Sprintf(helpText, percent(h.winnerRatio)), tele.ModeHTML)
}

// HandleProblem handles the /problem command.
// Shows the active riddle with its pool and the price of a guess right now.
func (h *GameHandler) HandleProblem(c tele.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	view, err := h.rounds.CurrentRound(ctx)
	if err != nil {
		if !errors.Is(err, service.ErrNoActiveRound) {
			log.Error().Err(err).Msg("Failed to load current round")
		}
		return c.Reply(errorMessage(err), tele.ModeHTML)
	}
	return c.Reply(formatRound(view), tele.ModeHTML)
}

// HandleBalance handles the /balance command.
func (h *GameHandler) HandleBalance(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	bal, err := h.wallets.Balance(ctx, sender.ID)
	if err != nil {
		return c.Reply(errorMessage(err), tele.ModeHTML)
	}
	return c.Reply(formatBalance(bal.Raw), tele.ModeHTML)
}

// HandleGuess handles any non-command text as a paid guess.
func (h *GameHandler) HandleGuess(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}
	if chat := c.Chat(); chat != nil && chat.Type != tele.ChatPrivate {
		return nil
	}

	guess := c.Text()
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	result, err := h.rounds.SubmitGuess(ctx, sender.ID, guess)
	if err != nil {
		log.Debug().Err(err).Int64("telegram_id", sender.ID).Msg("Guess not accepted")
		return c.Reply(errorMessage(err), tele.ModeHTML)
	}

	if result.Win != nil {
		log.Info().
			Int64("telegram_id", sender.ID).
			Int64("round_id", result.RoundID).
			Str("winner_share", result.Win.WinnerShare.StringFixed(2)).
			Str("payout_status", string(result.Win.PayoutStatus)).
			Msg("Round won")
	}
	return c.Reply(formatAttempt(guess, result), tele.ModeHTML)
}

func displayName(u *tele.User) string {
	if u.Username != "" {
		return u.Username
	}
	return u.FirstName
}
