package service

import (
	"context"
	"time"

	"riddle-pool-bot/internal/game/problembank"
	"riddle-pool-bot/internal/model"
	"riddle-pool-bot/internal/repository"
)

// RoundStore is the round persistence the engine needs.
// *repository.RoundRepository implements it.
type RoundStore interface {
	ActiveRound(ctx context.Context) (*model.Round, error)
	RoundByID(ctx context.Context, id int64) (*model.Round, error)
	PoolByRound(ctx context.Context, roundID int64) (*model.PrizePool, error)
	LastSourceKey(ctx context.Context) (string, error)
	CountAttempts(ctx context.Context, roundID int64) (int64, error)
	RecordPayout(ctx context.Context, roundID int64, status model.PayoutStatus, reason *string) error
	UnpaidPools(ctx context.Context, limit int) ([]*model.PrizePool, error)
	InTx(ctx context.Context, fn func(tx repository.Tx) error) error
}

// PlayerStore is the player persistence the services need.
// *repository.PlayerRepository implements it.
type PlayerStore interface {
	GetByTelegramID(ctx context.Context, telegramID int64) (*model.Player, error)
	GetByID(ctx context.Context, id int64) (*model.Player, error)
	GetOrCreate(ctx context.Context, telegramID int64, username string) (*model.Player, bool, error)
	Connect(ctx context.Context, telegramID int64, accessToken, walletID string, expiresAt *time.Time) (*model.Player, error)
	SetWalletID(ctx context.Context, playerID int64, walletID string) error
	ClearCredential(ctx context.Context, playerID int64) error
}

// ProblemIssuer picks the puzzle for the next round.
// *problembank.Bank implements it.
type ProblemIssuer interface {
	IssueNext(lastKey string) (*problembank.Issue, error)
}
