package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"riddle-pool-bot/internal/game/pricing"
	"riddle-pool-bot/internal/model"
	"riddle-pool-bot/internal/repository"
)

// PoolAccumulator maintains the prize pool of each round.
// Mutations run inside the caller's transaction.
type PoolAccumulator struct {
	store       RoundStore
	basePrize   decimal.Decimal
	winnerRatio decimal.Decimal
}

// NewPoolAccumulator creates a PoolAccumulator.
// basePrize is reported for rounds without a pool row.
func NewPoolAccumulator(store RoundStore, basePrize, winnerRatio decimal.Decimal) *PoolAccumulator {
	return &PoolAccumulator{
		store:       store,
		basePrize:   basePrize,
		winnerRatio: winnerRatio,
	}
}

// Open creates the pool for a new round with pool_amount = base_amount = seed.
func (a *PoolAccumulator) Open(ctx context.Context, tx repository.Tx, roundID int64, seed decimal.Decimal) (*model.PrizePool, error) {
	if seed.IsNegative() {
		return nil, fmt.Errorf("%w: negative seed %s", ErrInvalidAmount, seed)
	}
	p, err := tx.CreatePool(ctx, roundID, seed.Round(2))
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Credit adds an attempt's charge to an unsettled pool and returns the new total.
func (a *PoolAccumulator) Credit(ctx context.Context, tx repository.Tx, roundID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	total, err := tx.CreditPool(ctx, roundID, amount)
	if err != nil {
		if errors.Is(err, repository.ErrPoolSettled) {
			return decimal.Zero, fmt.Errorf("%w: pool for round %d is settled", ErrInvalidState, roundID)
		}
		return decimal.Zero, err
	}
	return total, nil
}

// Read returns the current pool amount of a round.
// A round without a pool row reports the base prize pool.
func (a *PoolAccumulator) Read(ctx context.Context, roundID int64) (decimal.Decimal, error) {
	p, err := a.store.PoolByRound(ctx, roundID)
	if err != nil {
		if errors.Is(err, repository.ErrPoolNotFound) {
			log.Warn().Int64("round_id", roundID).Msg("Prize pool missing, reporting base amount")
			return a.basePrize, nil
		}
		return decimal.Zero, err
	}
	return p.PoolAmount, nil
}

// Settle freezes a round's pool in favour of winnerID and returns the split.
func (a *PoolAccumulator) Settle(ctx context.Context, tx repository.Tx, roundID, winnerID int64, at time.Time) (pricing.Split, error) {
	p, err := tx.LockPool(ctx, roundID)
	if err != nil {
		return pricing.Split{}, err
	}
	if p.Settled() {
		return pricing.Split{}, fmt.Errorf("%w: pool for round %d is already settled", ErrInvalidState, roundID)
	}

	split := pricing.SplitPool(p.PoolAmount, a.winnerRatio)
	err = tx.SettlePool(ctx, roundID, model.Settlement{
		WinnerPlayerID: winnerID,
		WinnerShare:    split.Winner,
		RolloverShare:  split.Rollover,
		SettledAt:      at,
	})
	if err != nil {
		if errors.Is(err, repository.ErrPoolSettled) {
			return pricing.Split{}, fmt.Errorf("%w: pool for round %d is already settled", ErrInvalidState, roundID)
		}
		return pricing.Split{}, err
	}
	return split, nil
}
