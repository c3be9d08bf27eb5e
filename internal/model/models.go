// Package model defines the data models for the riddle pool bot.
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RoundStatus is the lifecycle state of a round.
type RoundStatus string

// Round statuses. At most one round is active at any time.
const (
	RoundActive  RoundStatus = "active"
	RoundSettled RoundStatus = "settled"
)

// PayoutStatus records the outcome of paying the winner of a settled pool.
type PayoutStatus string

// Payout statuses.
const (
	PayoutNone      PayoutStatus = "none"      // Pool not settled yet
	PayoutPending   PayoutStatus = "pending"   // Settled, payout not yet confirmed
	PayoutSucceeded PayoutStatus = "succeeded" // Provider accepted the payout
	PayoutFailed    PayoutStatus = "failed"    // Provider rejected or timed out
)

// Player is a Telegram user with a payment-provider credential.
type Player struct {
	ID             int64      `db:"id"`
	TelegramID     int64      `db:"telegram_id"`
	Username       string     `db:"username"`
	AccessToken    *string    `db:"access_token"`
	WalletID       *string    `db:"wallet_id"`
	PayeeID        *string    `db:"payee_id"`
	TokenExpiresAt *time.Time `db:"token_expires_at"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
}

// Connected reports whether the player has a stored payment credential.
func (p *Player) Connected() bool {
	return p.AccessToken != nil && *p.AccessToken != ""
}

// HasWallet reports whether the player's wallet id is known.
func (p *Player) HasWallet() bool {
	return p.WalletID != nil && *p.WalletID != ""
}

// Round is one open puzzle with its own prize pool and answer commitment.
type Round struct {
	ID               int64       `db:"id"`
	SourceKey        string      `db:"source_key"`
	Prompt           string      `db:"prompt"`
	AnswerCommitment string      `db:"answer_commitment"`
	Status           RoundStatus `db:"status"`
	OpenedAt         time.Time   `db:"opened_at"`
	ClosedAt         *time.Time  `db:"closed_at"`
}

// IsActive reports whether the round still accepts attempts.
func (r *Round) IsActive() bool {
	return r.Status == RoundActive
}

// Attempt is one paid guess against a round. Attempts are append-only.
type Attempt struct {
	ID            int64           `db:"id"`
	RoundID       int64           `db:"round_id"`
	PlayerID      int64           `db:"player_id"`
	GuessText     string          `db:"guess_text"`
	IsCorrect     bool            `db:"is_correct"`
	AmountCharged decimal.Decimal `db:"amount_charged"`
	ChargeRef     uuid.UUID       `db:"charge_ref"`
	CreatedAt     time.Time       `db:"created_at"`
}

// PrizePool is the money collected for a round.
// PoolAmount never drops below BaseAmount and is frozen once SettledAt is set.
type PrizePool struct {
	ID             int64               `db:"id"`
	RoundID        int64               `db:"round_id"`
	PoolAmount     decimal.Decimal     `db:"pool_amount"`
	BaseAmount     decimal.Decimal     `db:"base_amount"`
	WinnerPlayerID *int64              `db:"winner_player_id"`
	WinnerShare    decimal.NullDecimal `db:"winner_share"`
	RolloverShare  decimal.NullDecimal `db:"rollover_share"`
	PaidOut        bool                `db:"paid_out"`
	PayoutStatus   PayoutStatus        `db:"payout_status"`
	PayoutError    *string             `db:"payout_error"`
	SettledAt      *time.Time          `db:"settled_at"`
	CreatedAt      time.Time           `db:"created_at"`
	UpdatedAt      time.Time           `db:"updated_at"`
}

// Settled reports whether the pool has been frozen by a winning attempt.
func (p *PrizePool) Settled() bool {
	return p.SettledAt != nil
}

// Settlement is the terminal update applied to a pool when its round is won.
type Settlement struct {
	WinnerPlayerID int64
	WinnerShare    decimal.Decimal
	RolloverShare  decimal.Decimal
	SettledAt      time.Time
}
