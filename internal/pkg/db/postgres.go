// Package db opens the bot's PostgreSQL pool and applies its schema.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"riddle-pool-bot/internal/config"
)

const (
	applicationName = "riddle-pool-bot"

	// minMaxConns keeps one connection free for /healthz and /problem reads
	// while a guess transaction waits on the active round's row lock.
	minMaxConns = 2

	defaultConnectTimeout  = 10 * time.Second
	defaultMaxConnLifetime = time.Hour
	defaultMaxConnIdleTime = 30 * time.Minute
	healthCheckPeriod      = 30 * time.Second
)

// Pool is the shared connection pool behind the repositories.
type Pool struct {
	*pgxpool.Pool
}

// poolConfig turns the database section into pgx pool settings.
func poolConfig(cfg *config.DatabaseConfig) (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	maxConns := cfg.PoolSize
	if maxConns < minMaxConns {
		maxConns = minMaxConns
	}
	pc.MaxConns = int32(maxConns)
	pc.MinConns = max(int32(maxConns/4), 1)

	pc.ConnConfig.ConnectTimeout = orDefault(cfg.ConnectTimeout, defaultConnectTimeout)
	pc.MaxConnLifetime = orDefault(cfg.MaxConnLifetime, defaultMaxConnLifetime)
	pc.MaxConnIdleTime = orDefault(cfg.MaxConnIdleTime, defaultMaxConnIdleTime)
	pc.HealthCheckPeriod = healthCheckPeriod

	// Shows up in pg_stat_activity next to any blocked settlement.
	pc.ConnConfig.RuntimeParams["application_name"] = applicationName
	return pc, nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}

// NewPool connects to PostgreSQL and verifies the connection with a ping.
func NewPool(ctx context.Context, cfg *config.DatabaseConfig) (*Pool, error) {
	pc, err := poolConfig(cfg)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Name).
		Int32("max_conns", pc.MaxConns).
		Int32("min_conns", pc.MinConns).
		Dur("connect_timeout", pc.ConnConfig.ConnectTimeout).
		Dur("max_conn_lifetime", pc.MaxConnLifetime).
		Dur("max_conn_idle_time", pc.MaxConnIdleTime).
		Msg("Connecting to PostgreSQL")
	if cfg.PoolSize < minMaxConns {
		log.Warn().
			Int("pool_size", cfg.PoolSize).
			Int("using", minMaxConns).
			Msg("database.pool_size too small, raised")
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("Successfully connected to PostgreSQL")
	return &Pool{Pool: pool}, nil
}

// Ready reports whether the database answers within timeout.
func (p *Pool) Ready(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.Pool.Ping(ctx)
}

// Close closes the connection pool.
func (p *Pool) Close() {
	if p.Pool != nil {
		p.Pool.Close()
		log.Info().Msg("PostgreSQL connection pool closed")
	}
}
