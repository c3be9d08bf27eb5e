package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"riddle-pool-bot/internal/model"
	"riddle-pool-bot/internal/payment"
	"riddle-pool-bot/internal/repository"
)

// WalletService handles player registration and payment credentials.
type WalletService struct {
	players  PlayerStore
	payments payment.Provider
	timeout  time.Duration
}

// NewWalletService creates a new WalletService instance.
func NewWalletService(players PlayerStore, payments payment.Provider, timeout time.Duration) *WalletService {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &WalletService{
		players:  players,
		payments: payments,
		timeout:  timeout,
	}
}

// Register ensures a player exists, creating one if necessary.
// Returns the player and whether it was newly created.
func (s *WalletService) Register(ctx context.Context, telegramID int64, username string) (*model.Player, bool, error) {
	p, created, err := s.players.GetOrCreate(ctx, telegramID, username)
	if err != nil {
		return nil, false, fmt.Errorf("failed to register player: %w", err)
	}
	return p, created, nil
}

// Player retrieves a player by Telegram ID.
func (s *WalletService) Player(ctx context.Context, telegramID int64) (*model.Player, error) {
	p, err := s.players.GetByTelegramID(ctx, telegramID)
	if err != nil {
		if errors.Is(err, repository.ErrPlayerNotFound) {
			return nil, ErrPlayerNotFound
		}
		return nil, err
	}
	return p, nil
}

// ConnectWithCode exchanges an OAuth authorization code and stores the
// resulting credential on the player.
func (s *WalletService) ConnectWithCode(ctx context.Context, telegramID int64, code string) (*model.Player, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, fmt.Errorf("%w: authorization code is required", ErrInvalidState)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cred, err := s.payments.ExchangeCode(callCtx, code)
	if err != nil {
		log.Warn().Err(err).Int64("telegram_id", telegramID).Msg("OAuth code exchange failed")
		return nil, fmt.Errorf("%w: %s", ErrPaymentFailed, payment.Reason(err))
	}

	return s.store(ctx, telegramID, cred.AccessToken, cred.UserID, cred.ExpiresAt)
}

// ConnectWithToken stores a credential obtained by the bridge directly,
// after checking that the provider accepts it.
func (s *WalletService) ConnectWithToken(ctx context.Context, telegramID int64, accessToken, walletID string) (*model.Player, error) {
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return nil, fmt.Errorf("%w: access token is required", ErrInvalidState)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.payments.Validate(callCtx, payment.Account{AccessToken: accessToken, WalletID: walletID}); err != nil {
		if errors.Is(err, payment.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %s", ErrPaymentFailed, payment.Reason(err))
	}

	return s.store(ctx, telegramID, accessToken, walletID, nil)
}

// Balance returns the provider's balance for a connected player.
func (s *WalletService) Balance(ctx context.Context, telegramID int64) (*payment.Balance, error) {
	p, err := s.Player(ctx, telegramID)
	if err != nil {
		if errors.Is(err, ErrPlayerNotFound) {
			return nil, ErrWalletNotConnected
		}
		return nil, err
	}
	if !p.Connected() {
		return nil, ErrWalletNotConnected
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	bal, err := s.payments.Balance(callCtx, accountOf(p))
	if err != nil {
		if errors.Is(err, payment.ErrTokenExpired) {
			if clearErr := s.players.ClearCredential(ctx, p.ID); clearErr != nil {
				log.Warn().Err(clearErr).Int64("player_id", p.ID).Msg("Failed to clear expired credential")
			}
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %s", ErrPaymentFailed, payment.Reason(err))
	}

	if !p.HasWallet() && bal.WalletID != "" {
		if err := s.players.SetWalletID(ctx, p.ID, bal.WalletID); err != nil {
			log.Warn().Err(err).Int64("player_id", p.ID).Msg("Failed to store recovered wallet id")
		}
	}
	return bal, nil
}

func (s *WalletService) store(ctx context.Context, telegramID int64, accessToken, walletID string, expiresAt *time.Time) (*model.Player, error) {
	p, err := s.players.Connect(ctx, telegramID, accessToken, walletID, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("failed to store credential: %w", err)
	}
	log.Info().Int64("player_id", p.ID).Int64("telegram_id", telegramID).Msg("Wallet connected")
	return p, nil
}
