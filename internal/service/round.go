package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"riddle-pool-bot/internal/game/answer"
	"riddle-pool-bot/internal/game/pricing"
	"riddle-pool-bot/internal/model"
	"riddle-pool-bot/internal/payment"
	"riddle-pool-bot/internal/pkg/lock"
	"riddle-pool-bot/internal/repository"
)

// payoutNamespace derives one stable payout reference per round, so a retried
// payout carries the same reference as the first try.
var payoutNamespace = uuid.MustParse("6f1d2c8e-3b9a-4e57-9a0c-5d7e2b1f4a63")

// recordTimeout bounds persisting an attempt that has already been charged.
const recordTimeout = 30 * time.Second

// RoundSettings holds the economic constants of the engine.
type RoundSettings struct {
	BasePrizePool  decimal.Decimal
	WinnerRatio    decimal.Decimal
	PaymentTimeout time.Duration
	// PayoutLockWait bounds how long a fresh win waits for an in-flight retry.
	PayoutLockWait time.Duration
}

// AttemptResult describes a processed, paid guess.
type AttemptResult struct {
	AttemptID    int64
	RoundID      int64
	Correct      bool
	Cost         decimal.Decimal
	PoolTotal    decimal.Decimal
	ElapsedHours float64
	ChargeRef    uuid.UUID
	Win          *WinResult
}

// WinResult is attached to a correct attempt.
type WinResult struct {
	WinnerShare   decimal.Decimal
	RolloverShare decimal.Decimal
	PayoutStatus  model.PayoutStatus
	PayoutError   string
	NextRound     *model.Round
}

// RoundView is the public state of the active round.
type RoundView struct {
	RoundID      int64
	Prompt       string
	PoolTotal    decimal.Decimal
	CurrentCost  decimal.Decimal
	ElapsedHours float64
	OpenedAt     time.Time
	Attempts     int64
}

// PayoutOutcome is the result of a payout attempt for a settled pool.
type PayoutOutcome struct {
	RoundID  int64
	PlayerID int64
	Amount   decimal.Decimal
	Status   model.PayoutStatus
	Reason   string
}

// RoundService runs the round lifecycle: pricing, charging, recording,
// settlement and payout.
type RoundService struct {
	rounds   RoundStore
	players  PlayerStore
	bank     ProblemIssuer
	payments payment.Provider
	pricing  *pricing.Model
	pool     *PoolAccumulator
	settings RoundSettings

	attemptLocks *lock.KeyLock
	payoutLocks  *lock.KeyLock
	now          func() time.Time
}

// RoundOption configures a RoundService.
type RoundOption func(*RoundService)

// WithClock replaces the wall clock. Intended for tests.
func WithClock(now func() time.Time) RoundOption {
	return func(s *RoundService) { s.now = now }
}

// NewRoundService creates a new RoundService instance.
func NewRoundService(
	rounds RoundStore,
	players PlayerStore,
	bank ProblemIssuer,
	payments payment.Provider,
	costs *pricing.Model,
	settings RoundSettings,
	opts ...RoundOption,
) *RoundService {
	if settings.PaymentTimeout <= 0 {
		settings.PaymentTimeout = 15 * time.Second
	}
	if settings.PayoutLockWait <= 0 {
		settings.PayoutLockWait = 10 * time.Second
	}
	s := &RoundService{
		rounds:       rounds,
		players:      players,
		bank:         bank,
		payments:     payments,
		pricing:      costs,
		pool:         NewPoolAccumulator(rounds, settings.BasePrizePool, settings.WinnerRatio),
		settings:     settings,
		attemptLocks: lock.New(),
		payoutLocks:  lock.New(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureActiveRound returns the active round, opening one seeded with the base
// prize pool if none exists.
func (s *RoundService) EnsureActiveRound(ctx context.Context) (*model.Round, error) {
	rd, err := s.rounds.ActiveRound(ctx)
	if err == nil {
		return rd, nil
	}
	if !errors.Is(err, repository.ErrNoActiveRound) {
		return nil, fmt.Errorf("failed to get active round: %w", err)
	}

	lastKey, err := s.rounds.LastSourceKey(ctx)
	if err != nil {
		return nil, err
	}

	err = s.rounds.InTx(ctx, func(tx repository.Tx) error {
		rd, err = s.openRound(ctx, tx, lastKey, s.settings.BasePrizePool, s.now())
		return err
	})
	if err == nil {
		return rd, nil
	}
	if !errors.Is(err, repository.ErrRoundConflict) {
		return nil, fmt.Errorf("%w: %w", ErrNoActiveRound, err)
	}

	// Lost the race to a concurrent opener
	rd, err = s.rounds.ActiveRound(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get active round: %w", err)
	}
	return rd, nil
}

// CurrentRound returns the prompt, pool and price of the active round.
func (s *RoundService) CurrentRound(ctx context.Context) (*RoundView, error) {
	rd, err := s.EnsureActiveRound(ctx)
	if err != nil {
		return nil, err
	}

	total, err := s.pool.Read(ctx, rd.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read prize pool: %w", err)
	}
	attempts, err := s.rounds.CountAttempts(ctx, rd.ID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	return &RoundView{
		RoundID:      rd.ID,
		Prompt:       rd.Prompt,
		PoolTotal:    total,
		CurrentCost:  s.pricing.Cost(rd.OpenedAt, now),
		ElapsedHours: pricing.ElapsedHours(rd.OpenedAt, now),
		OpenedAt:     rd.OpenedAt,
		Attempts:     attempts,
	}, nil
}

// SubmitGuess charges the player for one guess against the active round and
// records it. A correct guess settles the round, opens the next one and pays
// the winner.
func (s *RoundService) SubmitGuess(ctx context.Context, telegramID int64, guess string) (*AttemptResult, error) {
	if strings.TrimSpace(guess) == "" {
		return nil, ErrEmptyGuess
	}

	player, err := s.players.GetByTelegramID(ctx, telegramID)
	if err != nil {
		if errors.Is(err, repository.ErrPlayerNotFound) {
			return nil, ErrWalletNotConnected
		}
		return nil, fmt.Errorf("failed to get player: %w", err)
	}
	if !player.Connected() {
		return nil, ErrWalletNotConnected
	}

	if !s.attemptLocks.TryLock(player.ID) {
		return nil, ErrAttemptInFlight
	}
	defer s.attemptLocks.Unlock(player.ID)

	if err := s.recoverWallet(ctx, player); err != nil {
		return nil, err
	}

	rd, err := s.EnsureActiveRound(ctx)
	if err != nil {
		return nil, err
	}
	if err := answer.Commitment(rd.AnswerCommitment).Validate(); err != nil {
		log.Error().Int64("round_id", rd.ID).Msg("Active round has a malformed answer commitment")
		return nil, err
	}

	pricedAt := s.now()
	cost := s.pricing.Cost(rd.OpenedAt, pricedAt)
	ref := uuid.New()

	if err := s.charge(ctx, player, rd, cost, ref); err != nil {
		return nil, err
	}

	// The charge went through, so finishing the attempt must not depend on
	// the caller still waiting.
	detached := context.WithoutCancel(ctx)
	recordCtx, cancel := context.WithTimeout(detached, recordTimeout)
	defer cancel()

	result, err := s.record(recordCtx, player, rd, guess, cost, ref)
	if err != nil {
		log.Error().Err(err).
			Int64("player_id", player.ID).
			Int64("telegram_id", player.TelegramID).
			Int64("round_id", rd.ID).
			Str("amount", cost.StringFixed(2)).
			Str("charge_ref", ref.String()).
			Msg("Charged attempt was not persisted, manual reconciliation required")
		return nil, fmt.Errorf("%w: %w", ErrSettlementPersistence, err)
	}

	if result.Win != nil {
		outcome := s.payWinner(detached, player, result.RoundID, result.Win.WinnerShare)
		result.Win.PayoutStatus = outcome.Status
		result.Win.PayoutError = outcome.Reason
	}

	return result, nil
}

// RetryPayout pays the winner of a settled round whose payout is pending or failed.
func (s *RoundService) RetryPayout(ctx context.Context, roundID int64) (*PayoutOutcome, error) {
	var outcome PayoutOutcome
	err := s.payoutLocks.TryWithLock(roundID, func() error {
		p, err := s.rounds.PoolByRound(ctx, roundID)
		if err != nil {
			if errors.Is(err, repository.ErrPoolNotFound) {
				return fmt.Errorf("%w: round %d has no prize pool", ErrInvalidState, roundID)
			}
			return err
		}
		if !p.Settled() || p.WinnerPlayerID == nil || !p.WinnerShare.Valid {
			return fmt.Errorf("%w: round %d is not settled", ErrInvalidState, roundID)
		}
		if p.PayoutStatus == model.PayoutSucceeded {
			return fmt.Errorf("%w: round %d is already paid out", ErrInvalidState, roundID)
		}

		winner, err := s.players.GetByID(ctx, *p.WinnerPlayerID)
		if err != nil {
			if errors.Is(err, repository.ErrPlayerNotFound) {
				return ErrPlayerNotFound
			}
			return err
		}

		outcome = s.pay(ctx, winner, roundID, p.WinnerShare.Decimal)
		return nil
	})
	if errors.Is(err, lock.ErrLockBusy) {
		return nil, ErrAttemptInFlight
	}
	if err != nil {
		return nil, err
	}
	return &outcome, nil
}

// UnpaidPayouts lists settled pools whose winner has not been paid.
func (s *RoundService) UnpaidPayouts(ctx context.Context, limit int) ([]*model.PrizePool, error) {
	return s.rounds.UnpaidPools(ctx, limit)
}

// recoverWallet fills in a missing wallet id with one balance lookup.
func (s *RoundService) recoverWallet(ctx context.Context, player *model.Player) error {
	if player.HasWallet() {
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, s.settings.PaymentTimeout)
	defer cancel()

	bal, err := s.payments.Balance(callCtx, accountOf(player))
	if err != nil {
		if errors.Is(err, payment.ErrTokenExpired) {
			s.expireCredential(ctx, player)
			return ErrTokenExpired
		}
		log.Warn().Err(err).Int64("player_id", player.ID).Msg("Wallet id lookup failed")
		return ErrWalletNotConnected
	}
	if bal.WalletID == "" {
		return ErrWalletNotConnected
	}

	if err := s.players.SetWalletID(ctx, player.ID, bal.WalletID); err != nil {
		return fmt.Errorf("failed to store wallet id: %w", err)
	}
	player.WalletID = &bal.WalletID
	return nil
}

// charge debits the attempt cost. No lock or transaction is held here.
func (s *RoundService) charge(ctx context.Context, player *model.Player, rd *model.Round, cost decimal.Decimal, ref uuid.UUID) error {
	callCtx, cancel := context.WithTimeout(ctx, s.settings.PaymentTimeout)
	defer cancel()

	err := s.payments.Charge(callCtx, payment.ChargeRequest{
		Account:     accountOf(player),
		Amount:      cost,
		Description: fmt.Sprintf("Riddle attempt, round #%d", rd.ID),
		Reference:   ref,
	})
	if err == nil {
		return nil
	}

	if errors.Is(err, payment.ErrTokenExpired) {
		s.expireCredential(ctx, player)
		return ErrTokenExpired
	}

	log.Warn().Err(err).
		Int64("player_id", player.ID).
		Int64("round_id", rd.ID).
		Str("amount", cost.StringFixed(2)).
		Msg("Attempt charge failed")
	return fmt.Errorf("%w: %s", ErrPaymentFailed, payment.Reason(err))
}

// record persists a charged attempt in one transaction and, for a correct
// guess, settles the round and opens the next one in the same transaction.
func (s *RoundService) record(ctx context.Context, player *model.Player, priced *model.Round, guess string, cost decimal.Decimal, ref uuid.UUID) (*AttemptResult, error) {
	var result *AttemptResult

	err := s.rounds.InTx(ctx, func(tx repository.Tx) error {
		now := s.now()
		rd, err := s.lockCurrentRound(ctx, tx, priced.SourceKey, now)
		if err != nil {
			return err
		}
		if rd.ID != priced.ID {
			log.Info().
				Int64("priced_round_id", priced.ID).
				Int64("round_id", rd.ID).
				Int64("player_id", player.ID).
				Msg("Round changed after pricing, evaluating against the new round")
		}

		commitment := answer.Commitment(rd.AnswerCommitment)
		if err := commitment.Validate(); err != nil {
			return err
		}
		correct := answer.Verify(guess, commitment)

		attempt := &model.Attempt{
			RoundID:       rd.ID,
			PlayerID:      player.ID,
			GuessText:     guess,
			IsCorrect:     correct,
			AmountCharged: cost,
			ChargeRef:     ref,
			CreatedAt:     now,
		}
		if err := tx.InsertAttempt(ctx, attempt); err != nil {
			return err
		}

		total, err := s.pool.Credit(ctx, tx, rd.ID, cost)
		if err != nil {
			return err
		}

		result = &AttemptResult{
			AttemptID:    attempt.ID,
			RoundID:      rd.ID,
			Correct:      correct,
			Cost:         cost,
			PoolTotal:    total,
			ElapsedHours: pricing.ElapsedHours(rd.OpenedAt, now),
			ChargeRef:    ref,
		}
		if !correct {
			return nil
		}

		split, err := s.pool.Settle(ctx, tx, rd.ID, player.ID, now)
		if err != nil {
			return err
		}
		if err := tx.CloseRound(ctx, rd.ID, now); err != nil {
			return err
		}
		next, err := s.openRound(ctx, tx, rd.SourceKey, split.Rollover, now)
		if err != nil {
			return err
		}

		result.Win = &WinResult{
			WinnerShare:   split.Winner,
			RolloverShare: split.Rollover,
			PayoutStatus:  model.PayoutPending,
			NextRound:     next,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Win != nil {
		log.Info().
			Int64("round_id", result.RoundID).
			Int64("player_id", player.ID).
			Str("pool", result.PoolTotal.StringFixed(2)).
			Str("winner_share", result.Win.WinnerShare.StringFixed(2)).
			Str("rollover", result.Win.RolloverShare.StringFixed(2)).
			Int64("next_round_id", result.Win.NextRound.ID).
			Msg("Round settled")
	}
	return result, nil
}

// lockCurrentRound locks the active round for the rest of the transaction.
// A round settled by a concurrent transaction is skipped by the row lock, so
// the lookup is repeated once before a replacement is opened.
func (s *RoundService) lockCurrentRound(ctx context.Context, tx repository.Tx, lastKey string, now time.Time) (*model.Round, error) {
	rd, err := tx.LockActiveRound(ctx)
	if !errors.Is(err, repository.ErrNoActiveRound) {
		return rd, err
	}
	rd, err = tx.LockActiveRound(ctx)
	if !errors.Is(err, repository.ErrNoActiveRound) {
		return rd, err
	}
	return s.openRound(ctx, tx, lastKey, s.settings.BasePrizePool, now)
}

// openRound issues the next problem and inserts its round and pool.
func (s *RoundService) openRound(ctx context.Context, tx repository.Tx, lastKey string, seed decimal.Decimal, now time.Time) (*model.Round, error) {
	issue, err := s.bank.IssueNext(lastKey)
	if err != nil {
		return nil, fmt.Errorf("failed to issue next problem: %w", err)
	}

	rd, err := tx.OpenRound(ctx, repository.NewRound{
		SourceKey:        issue.Key,
		Prompt:           issue.Prompt,
		AnswerCommitment: issue.Commitment.String(),
		OpenedAt:         now,
	})
	if err != nil {
		return nil, err
	}
	if _, err := s.pool.Open(ctx, tx, rd.ID, seed); err != nil {
		return nil, err
	}

	log.Info().
		Int64("round_id", rd.ID).
		Str("source_key", rd.SourceKey).
		Str("seed", seed.StringFixed(2)).
		Msg("Round opened")
	return rd, nil
}

// payWinner pays a freshly settled round. It waits a bounded time for any
// in-flight retry; if that retry is still running the payout is left pending
// for it.
func (s *RoundService) payWinner(ctx context.Context, winner *model.Player, roundID int64, amount decimal.Decimal) PayoutOutcome {
	if err := s.payoutLocks.LockContext(ctx, roundID, s.settings.PayoutLockWait); err != nil {
		log.Warn().Err(err).
			Int64("round_id", roundID).
			Int64("player_id", winner.ID).
			Msg("Payout already in progress, leaving it to the running attempt")
		return PayoutOutcome{
			RoundID:  roundID,
			PlayerID: winner.ID,
			Amount:   amount,
			Status:   model.PayoutPending,
			Reason:   "payout already in progress",
		}
	}
	defer s.payoutLocks.Unlock(roundID)

	if p, err := s.rounds.PoolByRound(ctx, roundID); err == nil && p.PayoutStatus != model.PayoutPending {
		// A retry got there first
		outcome := PayoutOutcome{RoundID: roundID, PlayerID: winner.ID, Amount: amount, Status: p.PayoutStatus}
		if p.PayoutError != nil {
			outcome.Reason = *p.PayoutError
		}
		return outcome
	}
	return s.pay(ctx, winner, roundID, amount)
}

// pay sends the payout and records its outcome. A failed payout never
// reopens the round; it stays recorded for RetryPayout.
func (s *RoundService) pay(ctx context.Context, winner *model.Player, roundID int64, amount decimal.Decimal) PayoutOutcome {
	outcome := PayoutOutcome{
		RoundID:  roundID,
		PlayerID: winner.ID,
		Amount:   amount,
		Status:   model.PayoutSucceeded,
	}

	if !winner.Connected() {
		outcome.Status = model.PayoutFailed
		outcome.Reason = ErrWalletNotConnected.Error()
	} else {
		callCtx, cancel := context.WithTimeout(ctx, s.settings.PaymentTimeout)
		err := s.payments.Payout(callCtx, payment.PayoutRequest{
			Account:     accountOf(winner),
			Amount:      amount,
			Description: fmt.Sprintf("Prize pool winner, round #%d", roundID),
			Reference:   payoutReference(roundID),
		})
		cancel()
		if err != nil {
			if errors.Is(err, payment.ErrTokenExpired) {
				s.expireCredential(ctx, winner)
			}
			outcome.Status = model.PayoutFailed
			outcome.Reason = payment.Reason(err)
		}
	}

	var reason *string
	if outcome.Reason != "" {
		reason = &outcome.Reason
	}
	if err := s.rounds.RecordPayout(ctx, roundID, outcome.Status, reason); err != nil {
		log.Error().Err(err).
			Int64("round_id", roundID).
			Int64("player_id", winner.ID).
			Str("amount", amount.StringFixed(2)).
			Str("payout_status", string(outcome.Status)).
			Msg("Failed to record payout outcome")
	}

	if outcome.Status == model.PayoutFailed {
		log.Error().
			Int64("round_id", roundID).
			Int64("player_id", winner.ID).
			Str("amount", amount.StringFixed(2)).
			Str("reason", outcome.Reason).
			Msg("Winner payout failed")
	} else {
		log.Info().
			Int64("round_id", roundID).
			Int64("player_id", winner.ID).
			Str("amount", amount.StringFixed(2)).
			Msg("Winner paid")
	}
	return outcome
}

func (s *RoundService) expireCredential(ctx context.Context, player *model.Player) {
	if err := s.players.ClearCredential(ctx, player.ID); err != nil {
		log.Warn().Err(err).Int64("player_id", player.ID).Msg("Failed to clear expired credential")
	}
	player.AccessToken = nil
	player.TokenExpiresAt = nil
}

func accountOf(p *model.Player) payment.Account {
	var acct payment.Account
	if p.AccessToken != nil {
		acct.AccessToken = *p.AccessToken
	}
	if p.WalletID != nil {
		acct.WalletID = *p.WalletID
	}
	if p.PayeeID != nil {
		acct.PayeeID = *p.PayeeID
	}
	return acct
}

func payoutReference(roundID int64) uuid.UUID {
	return uuid.NewSHA1(payoutNamespace, []byte("payout:"+strconv.FormatInt(roundID, 10)))
}
