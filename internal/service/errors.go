// Package service provides business logic implementations.
package service

import (
	"errors"

	"riddle-pool-bot/internal/game/answer"
)

// Errors returned by the game services. Each one maps to a distinct message in the bot.
var (
	ErrPaymentFailed         = errors.New("payment failed")
	ErrTokenExpired          = errors.New("payment connection expired")
	ErrNoActiveRound         = errors.New("no active round")
	ErrSettlementPersistence = errors.New("charged attempt could not be recorded")
	ErrWalletNotConnected    = errors.New("wallet not connected")
	ErrAttemptInFlight       = errors.New("another attempt is still being processed")
	ErrInvalidState          = errors.New("invalid state")
	ErrPlayerNotFound        = errors.New("player not found")
	ErrEmptyGuess            = errors.New("guess is empty")
	ErrInvalidAmount         = errors.New("invalid amount: must be positive")

	// ErrInvalidAnswerCommitment is returned when a round's stored commitment is malformed.
	ErrInvalidAnswerCommitment = answer.ErrInvalidAnswerCommitment
)
