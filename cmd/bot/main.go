// Package main is the entry point for the riddle pool bot.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"riddle-pool-bot/internal/bot"
	"riddle-pool-bot/internal/config"
	"riddle-pool-bot/internal/game/pricing"
	"riddle-pool-bot/internal/game/problembank"
	"riddle-pool-bot/internal/httpapi"
	"riddle-pool-bot/internal/payment"
	"riddle-pool-bot/internal/pkg/db"
	"riddle-pool-bot/internal/repository"
	"riddle-pool-bot/internal/service"
)

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log.Info().Msg("Configuration loaded successfully")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database connection pool
	dbPool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbPool.Close()

	// Run database migrations
	log.Info().Msg("Running database migrations...")
	if err := db.Migrate(cfg.Database.DSN()); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	// Initialize repositories
	playerRepo := repository.NewPlayerRepository(dbPool.Pool)
	roundRepo := repository.NewRoundRepository(dbPool.Pool)

	// Problem bank
	bank, err := problembank.NewWithProblems(loadProblems(cfg), problembank.WithRepeats(cfg.Game.AllowRepeats))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load problem bank")
	}
	log.Info().Int("problem_count", bank.Count()).Msg("Problem bank loaded")

	costs, err := pricing.New(pricing.Params{
		BaseCost:        cfg.Game.BaseCostAmount(),
		MaxCost:         cfg.Game.MaxCostAmount(),
		EscalationHours: cfg.Game.EscalationHours,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid pricing configuration")
	}

	payments := payment.NewHTTPClient(cfg.Payment.BaseURL, cfg.Payment.AppToken, cfg.Payment.Timeout)

	// Initialize services
	walletService := service.NewWalletService(playerRepo, payments, cfg.Payment.Timeout)
	roundService := service.NewRoundService(
		roundRepo,
		playerRepo,
		bank,
		payments,
		costs,
		service.RoundSettings{
			BasePrizePool:  cfg.Game.BasePrizePoolAmount(),
			WinnerRatio:    cfg.Game.WinnerRatioValue(),
			PaymentTimeout: cfg.Payment.Timeout,
		},
	)

	round, err := roundService.EnsureActiveRound(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open the first round")
	}
	log.Info().Int64("round_id", round.ID).Str("problem", round.SourceKey).Msg("Active round ready")

	if unpaid, err := roundService.UnpaidPayouts(ctx, 100); err != nil {
		log.Warn().Err(err).Msg("Failed to check unpaid payouts")
	} else if len(unpaid) > 0 {
		log.Warn().Int("count", len(unpaid)).Msg("Settled rounds with unpaid winners, use /payout_retry")
	}

	// Initialize bot
	telegramBot, err := bot.New(&bot.Dependencies{
		Config:        cfg,
		RoundService:  roundService,
		WalletService: walletService,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create bot")
	}

	// HTTP surface
	gin.SetMode(gin.ReleaseMode)
	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           httpapi.New(dbPool, roundService, walletService, cfg.HTTP.BridgeSecret).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("HTTP server is starting...")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Start bot in a goroutine
	go func() {
		log.Info().Msg("Bot is starting...")
		telegramBot.Start()
	}()

	// Wait for shutdown signal
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	// Graceful shutdown
	telegramBot.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	log.Info().Msg("Bot stopped gracefully")
}

// loadProblems returns the configured riddles, or the built-in set when none are configured.
func loadProblems(cfg *config.Config) []problembank.Problem {
	if len(cfg.Game.Problems) == 0 {
		return problembank.Defaults()
	}
	problems := make([]problembank.Problem, 0, len(cfg.Game.Problems))
	for _, p := range cfg.Game.Problems {
		problems = append(problems, problembank.Problem{Key: p.Key, Prompt: p.Prompt, Answer: p.Answer})
	}
	return problems
}
