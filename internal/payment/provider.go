// Package payment talks to the wallet provider bridge that moves money for the game.
package payment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Provider errors. Callers never see raw transport errors.
var (
	ErrTokenExpired = errors.New("payment token expired")
	ErrRejected     = errors.New("payment rejected")
	ErrUnavailable  = errors.New("payment provider unavailable")
)

// Account identifies whose wallet a call acts on.
type Account struct {
	AccessToken string
	WalletID    string
	PayeeID     string
}

// ChargeRequest debits a player's wallet.
type ChargeRequest struct {
	Account     Account
	Amount      decimal.Decimal
	Description string
	Reference   uuid.UUID
}

// PayoutRequest credits a player's wallet.
type PayoutRequest struct {
	Account     Account
	Amount      decimal.Decimal
	Description string
	Reference   uuid.UUID
}

// Balance is the provider's view of a wallet. Raw is shown to the player as-is.
type Balance struct {
	Raw      string
	WalletID string
}

// Credential is the result of an OAuth code exchange.
type Credential struct {
	AccessToken string
	UserID      string
	ExpiresAt   *time.Time
}

// Provider moves money on behalf of players.
type Provider interface {
	Charge(ctx context.Context, req ChargeRequest) error
	Payout(ctx context.Context, req PayoutRequest) error
	Balance(ctx context.Context, acct Account) (*Balance, error)
	Validate(ctx context.Context, acct Account) error
	ExchangeCode(ctx context.Context, code string) (*Credential, error)
}
