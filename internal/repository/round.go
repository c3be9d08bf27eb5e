package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"riddle-pool-bot/internal/model"
)

const (
	roundColumns = `id, source_key, prompt, answer_commitment, status, opened_at, closed_at`
	poolColumns  = `id, round_id, pool_amount, base_amount, winner_player_id, winner_share, rollover_share,
		paid_out, payout_status, payout_error, settled_at, created_at, updated_at`
)

// NewRound is what a round is opened from.
type NewRound struct {
	SourceKey        string
	Prompt           string
	AnswerCommitment string
	OpenedAt         time.Time
}

// Tx is the set of round operations that run inside one database transaction.
type Tx interface {
	LockActiveRound(ctx context.Context) (*model.Round, error)
	LockPool(ctx context.Context, roundID int64) (*model.PrizePool, error)
	OpenRound(ctx context.Context, r NewRound) (*model.Round, error)
	CreatePool(ctx context.Context, roundID int64, seed decimal.Decimal) (*model.PrizePool, error)
	InsertAttempt(ctx context.Context, a *model.Attempt) error
	CreditPool(ctx context.Context, roundID int64, amount decimal.Decimal) (decimal.Decimal, error)
	SettlePool(ctx context.Context, roundID int64, s model.Settlement) error
	CloseRound(ctx context.Context, roundID int64, closedAt time.Time) error
}

// RoundRepository handles rounds, prize pools and attempts.
// A RoundRepository bound to a transaction implements Tx.
type RoundRepository struct {
	pool *pgxpool.Pool
	db   DBTX
}

// NewRoundRepository creates a new RoundRepository instance.
func NewRoundRepository(pool *pgxpool.Pool) *RoundRepository {
	return &RoundRepository{pool: pool, db: pool}
}

// InTx runs fn inside a transaction. The transaction commits when fn returns nil.
func (r *RoundRepository) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if r.pool == nil {
		// Already inside a transaction
		return fn(r)
	}
	return pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return fn(&RoundRepository{db: tx})
	})
}

func scanRound(row pgx.Row) (*model.Round, error) {
	var rd model.Round
	err := row.Scan(
		&rd.ID,
		&rd.SourceKey,
		&rd.Prompt,
		&rd.AnswerCommitment,
		&rd.Status,
		&rd.OpenedAt,
		&rd.ClosedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rd, nil
}

func scanPool(row pgx.Row) (*model.PrizePool, error) {
	var p model.PrizePool
	err := row.Scan(
		&p.ID,
		&p.RoundID,
		&p.PoolAmount,
		&p.BaseAmount,
		&p.WinnerPlayerID,
		&p.WinnerShare,
		&p.RolloverShare,
		&p.PaidOut,
		&p.PayoutStatus,
		&p.PayoutError,
		&p.SettledAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ActiveRound returns the round currently accepting attempts.
func (r *RoundRepository) ActiveRound(ctx context.Context) (*model.Round, error) {
	query := `SELECT ` + roundColumns + ` FROM rounds WHERE status = 'active'`

	rd, err := scanRound(r.db.QueryRow(ctx, query))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoActiveRound
		}
		return nil, fmt.Errorf("failed to get active round: %w", err)
	}
	return rd, nil
}

// LockActiveRound is ActiveRound with a row lock held until the transaction ends.
func (r *RoundRepository) LockActiveRound(ctx context.Context) (*model.Round, error) {
	query := `SELECT ` + roundColumns + ` FROM rounds WHERE status = 'active' FOR UPDATE`

	rd, err := scanRound(r.db.QueryRow(ctx, query))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoActiveRound
		}
		return nil, fmt.Errorf("failed to lock active round: %w", err)
	}
	return rd, nil
}

// RoundByID retrieves any round, active or settled.
func (r *RoundRepository) RoundByID(ctx context.Context, id int64) (*model.Round, error) {
	query := `SELECT ` + roundColumns + ` FROM rounds WHERE id = $1`

	rd, err := scanRound(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRoundNotFound
		}
		return nil, fmt.Errorf("failed to get round: %w", err)
	}
	return rd, nil
}

// LastSourceKey returns the problem key of the most recently opened round, or "".
func (r *RoundRepository) LastSourceKey(ctx context.Context) (string, error) {
	const query = `SELECT source_key FROM rounds ORDER BY opened_at DESC, id DESC LIMIT 1`

	var key string
	if err := r.db.QueryRow(ctx, query).Scan(&key); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get last source key: %w", err)
	}
	return key, nil
}

// OpenRound inserts a new active round.
// Returns ErrRoundConflict if another round is already active.
func (r *RoundRepository) OpenRound(ctx context.Context, nr NewRound) (*model.Round, error) {
	const query = `
		INSERT INTO rounds (source_key, prompt, answer_commitment, status, opened_at)
		VALUES ($1, $2, $3, 'active', $4)
		ON CONFLICT (status) WHERE status = 'active' DO NOTHING
		RETURNING ` + roundColumns

	rd, err := scanRound(r.db.QueryRow(ctx, query, nr.SourceKey, nr.Prompt, nr.AnswerCommitment, nr.OpenedAt))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isUniqueViolation(err) {
			return nil, ErrRoundConflict
		}
		return nil, fmt.Errorf("failed to open round: %w", err)
	}
	return rd, nil
}

// CloseRound marks an active round as settled.
func (r *RoundRepository) CloseRound(ctx context.Context, roundID int64, closedAt time.Time) error {
	const query = `
		UPDATE rounds
		SET status = 'settled', closed_at = $2
		WHERE id = $1 AND status = 'active'
	`

	tag, err := r.db.Exec(ctx, query, roundID, closedAt)
	if err != nil {
		return fmt.Errorf("failed to close round: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoActiveRound
	}
	return nil
}

// CreatePool opens a prize pool for a round, seeded with seed.
func (r *RoundRepository) CreatePool(ctx context.Context, roundID int64, seed decimal.Decimal) (*model.PrizePool, error) {
	const query = `
		INSERT INTO prize_pools (round_id, pool_amount, base_amount)
		VALUES ($1, $2, $2)
		RETURNING ` + poolColumns

	p, err := scanPool(r.db.QueryRow(ctx, query, roundID, seed))
	if err != nil {
		return nil, fmt.Errorf("failed to create prize pool: %w", err)
	}
	return p, nil
}

// PoolByRound reads a round's prize pool without locking it.
func (r *RoundRepository) PoolByRound(ctx context.Context, roundID int64) (*model.PrizePool, error) {
	query := `SELECT ` + poolColumns + ` FROM prize_pools WHERE round_id = $1`

	p, err := scanPool(r.db.QueryRow(ctx, query, roundID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPoolNotFound
		}
		return nil, fmt.Errorf("failed to get prize pool: %w", err)
	}
	return p, nil
}

// LockPool reads a round's prize pool and holds its row lock.
func (r *RoundRepository) LockPool(ctx context.Context, roundID int64) (*model.PrizePool, error) {
	query := `SELECT ` + poolColumns + ` FROM prize_pools WHERE round_id = $1 FOR UPDATE`

	p, err := scanPool(r.db.QueryRow(ctx, query, roundID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPoolNotFound
		}
		return nil, fmt.Errorf("failed to lock prize pool: %w", err)
	}
	return p, nil
}

// CreditPool adds amount to an unsettled pool and returns the new total.
func (r *RoundRepository) CreditPool(ctx context.Context, roundID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	const query = `
		UPDATE prize_pools
		SET pool_amount = pool_amount + $2, updated_at = NOW()
		WHERE round_id = $1 AND settled_at IS NULL
		RETURNING pool_amount
	`

	var total decimal.Decimal
	err := r.db.QueryRow(ctx, query, roundID, amount).Scan(&total)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, r.missingOrSettled(ctx, roundID)
		}
		return decimal.Zero, fmt.Errorf("failed to credit prize pool: %w", err)
	}
	return total, nil
}

// SettlePool freezes a pool with its winner and split.
// The payout is recorded as pending until RecordPayout runs.
func (r *RoundRepository) SettlePool(ctx context.Context, roundID int64, s model.Settlement) error {
	const query = `
		UPDATE prize_pools
		SET winner_player_id = $2,
		    winner_share = $3,
		    rollover_share = $4,
		    settled_at = $5,
		    payout_status = 'pending',
		    updated_at = NOW()
		WHERE round_id = $1 AND settled_at IS NULL
	`

	tag, err := r.db.Exec(ctx, query, roundID, s.WinnerPlayerID, s.WinnerShare, s.RolloverShare, s.SettledAt)
	if err != nil {
		return fmt.Errorf("failed to settle prize pool: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missingOrSettled(ctx, roundID)
	}
	return nil
}

// RecordPayout stores the outcome of paying a settled pool's winner.
func (r *RoundRepository) RecordPayout(ctx context.Context, roundID int64, status model.PayoutStatus, reason *string) error {
	const query = `
		UPDATE prize_pools
		SET payout_status = $2,
		    paid_out = ($2 = 'succeeded'),
		    payout_error = $3,
		    updated_at = NOW()
		WHERE round_id = $1 AND settled_at IS NOT NULL
	`

	tag, err := r.db.Exec(ctx, query, roundID, string(status), reason)
	if err != nil {
		return fmt.Errorf("failed to record payout: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPoolNotFound
	}
	return nil
}

// UnpaidPools lists settled pools whose payout is pending or failed, oldest first.
func (r *RoundRepository) UnpaidPools(ctx context.Context, limit int) ([]*model.PrizePool, error) {
	query := `SELECT ` + poolColumns + `
		FROM prize_pools
		WHERE payout_status IN ('pending', 'failed')
		ORDER BY settled_at ASC
		LIMIT $1`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unpaid pools: %w", err)
	}
	defer rows.Close()

	var pools []*model.PrizePool
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan prize pool: %w", err)
		}
		pools = append(pools, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating prize pools: %w", err)
	}
	return pools, nil
}

// InsertAttempt appends an attempt and fills in its id and creation time.
func (r *RoundRepository) InsertAttempt(ctx context.Context, a *model.Attempt) error {
	const query = `
		INSERT INTO attempts (round_id, player_id, guess_text, is_correct, amount_charged, charge_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`

	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	err := r.db.QueryRow(ctx, query,
		a.RoundID, a.PlayerID, a.GuessText, a.IsCorrect, a.AmountCharged, a.ChargeRef, createdAt,
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert attempt: %w", err)
	}
	return nil
}

// CountAttempts returns how many attempts a round has received.
func (r *RoundRepository) CountAttempts(ctx context.Context, roundID int64) (int64, error) {
	const query = `SELECT COUNT(*) FROM attempts WHERE round_id = $1`

	var n int64
	if err := r.db.QueryRow(ctx, query, roundID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count attempts: %w", err)
	}
	return n, nil
}

func (r *RoundRepository) missingOrSettled(ctx context.Context, roundID int64) error {
	p, err := r.PoolByRound(ctx, roundID)
	if err != nil {
		return err
	}
	if p.Settled() {
		return ErrPoolSettled
	}
	return ErrPoolNotFound
}
