package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"riddle-pool-bot/internal/model"
)

const playerColumns = `id, telegram_id, username, access_token, wallet_id, payee_id, token_expires_at, created_at, updated_at`

// PlayerRepository handles player data persistence.
type PlayerRepository struct {
	db DBTX
}

// NewPlayerRepository creates a new PlayerRepository instance.
func NewPlayerRepository(pool *pgxpool.Pool) *PlayerRepository {
	return &PlayerRepository{db: pool}
}

func scanPlayer(row pgx.Row) (*model.Player, error) {
	var p model.Player
	err := row.Scan(
		&p.ID,
		&p.TelegramID,
		&p.Username,
		&p.AccessToken,
		&p.WalletID,
		&p.PayeeID,
		&p.TokenExpiresAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetByTelegramID retrieves a player by Telegram ID.
// Returns ErrPlayerNotFound if the player does not exist.
func (r *PlayerRepository) GetByTelegramID(ctx context.Context, telegramID int64) (*model.Player, error) {
	query := `SELECT ` + playerColumns + ` FROM players WHERE telegram_id = $1`

	p, err := scanPlayer(r.db.QueryRow(ctx, query, telegramID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPlayerNotFound
		}
		return nil, fmt.Errorf("failed to get player: %w", err)
	}
	return p, nil
}

// GetByID retrieves a player by internal id.
func (r *PlayerRepository) GetByID(ctx context.Context, id int64) (*model.Player, error) {
	query := `SELECT ` + playerColumns + ` FROM players WHERE id = $1`

	p, err := scanPlayer(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPlayerNotFound
		}
		return nil, fmt.Errorf("failed to get player: %w", err)
	}
	return p, nil
}

// GetOrCreate retrieves a player by Telegram ID, creating one if it doesn't exist.
// The boolean reports whether the player was created by this call.
func (r *PlayerRepository) GetOrCreate(ctx context.Context, telegramID int64, username string) (*model.Player, bool, error) {
	const query = `
		INSERT INTO players (telegram_id, username)
		VALUES ($1, $2)
		ON CONFLICT (telegram_id) DO NOTHING
		RETURNING ` + playerColumns

	p, err := scanPlayer(r.db.QueryRow(ctx, query, telegramID, username))
	if err == nil {
		return p, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to create player: %w", err)
	}

	// Already registered
	p, err = r.GetByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, false, err
	}
	return p, false, nil
}

// Connect stores a fresh payment credential, creating the player if needed.
func (r *PlayerRepository) Connect(ctx context.Context, telegramID int64, accessToken, walletID string, expiresAt *time.Time) (*model.Player, error) {
	const query = `
		INSERT INTO players (telegram_id, access_token, wallet_id, token_expires_at)
		VALUES ($1, $2, NULLIF($3, ''), $4)
		ON CONFLICT (telegram_id) DO UPDATE
		SET access_token = EXCLUDED.access_token,
		    wallet_id = COALESCE(EXCLUDED.wallet_id, players.wallet_id),
		    token_expires_at = EXCLUDED.token_expires_at,
		    updated_at = NOW()
		RETURNING ` + playerColumns

	p, err := scanPlayer(r.db.QueryRow(ctx, query, telegramID, accessToken, walletID, expiresAt))
	if err != nil {
		return nil, fmt.Errorf("failed to store credential: %w", err)
	}
	return p, nil
}

// SetWalletID records the wallet id recovered from a balance lookup.
func (r *PlayerRepository) SetWalletID(ctx context.Context, playerID int64, walletID string) error {
	const query = `UPDATE players SET wallet_id = $2, updated_at = NOW() WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, playerID, walletID)
	if err != nil {
		return fmt.Errorf("failed to set wallet id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPlayerNotFound
	}
	return nil
}

// ClearCredential forgets the player's access token so they must reconnect.
func (r *PlayerRepository) ClearCredential(ctx context.Context, playerID int64) error {
	const query = `
		UPDATE players
		SET access_token = NULL, token_expires_at = NULL, updated_at = NOW()
		WHERE id = $1
	`

	tag, err := r.db.Exec(ctx, query, playerID)
	if err != nil {
		return fmt.Errorf("failed to clear credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPlayerNotFound
	}
	return nil
}
