// Package httpapi exposes the HTTP surface: health, round state and the
// wallet connect callback used by the payment bridge.
package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"riddle-pool-bot/internal/model"
	"riddle-pool-bot/internal/service"
)

const (
	healthTimeout  = 2 * time.Second
	requestTimeout = 30 * time.Second

	// BridgeSecretHeader carries the shared secret on bridge callbacks.
	BridgeSecretHeader = "X-Bridge-Secret"
)

// Pinger reports whether the database is reachable.
type Pinger interface {
	Ready(ctx context.Context, timeout time.Duration) error
}

// RoundReader serves the active round.
type RoundReader interface {
	CurrentRound(ctx context.Context) (*service.RoundView, error)
}

// Connector stores wallet credentials delivered by the bridge.
type Connector interface {
	ConnectWithCode(ctx context.Context, telegramID int64, code string) (*model.Player, error)
	ConnectWithToken(ctx context.Context, telegramID int64, accessToken, walletID string) (*model.Player, error)
}

// Server holds the HTTP handlers and their dependencies.
type Server struct {
	db           Pinger
	rounds       RoundReader
	wallets      Connector
	bridgeSecret string
}

// New creates a new Server. Bridge callbacks are refused while bridgeSecret is empty.
func New(db Pinger, rounds RoundReader, wallets Connector, bridgeSecret string) *Server {
	return &Server{db: db, rounds: rounds, wallets: wallets, bridgeSecret: bridgeSecret}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/health", s.handleHealth)

	api := r.Group("/api")
	api.GET("/round", s.handleRound) // Active round state

	bridge := r.Group("/oauth", requireBridgeSecret(s.bridgeSecret))
	bridge.POST("/connect", s.handleConnect) // Bridge callback after OAuth

	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.db.Ready(c.Request.Context(), healthTimeout); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "database": "unreachable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "database": "ok"})
}

type roundResponse struct {
	RoundID      int64     `json:"round_id"`
	Prompt       string    `json:"prompt"`
	PrizePool    string    `json:"prize_pool"`
	CurrentCost  string    `json:"current_cost"`
	ElapsedHours float64   `json:"elapsed_hours"`
	OpenedAt     time.Time `json:"opened_at"`
	Attempts     int64     `json:"attempts"`
}

func (s *Server) handleRound(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	v, err := s.rounds.CurrentRound(ctx)
	if err != nil {
		if errors.Is(err, service.ErrNoActiveRound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No active round"})
			return
		}
		log.Error().Err(err).Msg("Failed to load current round")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load round"})
		return
	}

	c.JSON(http.StatusOK, roundResponse{
		RoundID:      v.RoundID,
		Prompt:       v.Prompt,
		PrizePool:    v.PoolTotal.StringFixed(2),
		CurrentCost:  v.CurrentCost.StringFixed(2),
		ElapsedHours: v.ElapsedHours,
		OpenedAt:     v.OpenedAt,
		Attempts:     v.Attempts,
	})
}

// connectRequest carries either an OAuth code or a token the bridge already exchanged.
type connectRequest struct {
	TelegramUserID int64  `json:"telegram_user_id" binding:"required"`
	Code           string `json:"code"`
	AccessToken    string `json:"access_token"`
	UserID         string `json:"user_id"`
}

func (s *Server) handleConnect(c *gin.Context) {
	var req connectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Code == "" && req.AccessToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code or access_token is required"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	var (
		player *model.Player
		err    error
	)
	if req.Code != "" {
		player, err = s.wallets.ConnectWithCode(ctx, req.TelegramUserID, req.Code)
	} else {
		player, err = s.wallets.ConnectWithToken(ctx, req.TelegramUserID, req.AccessToken, req.UserID)
	}
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidState):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, service.ErrTokenExpired):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Access token expired"})
		case errors.Is(err, service.ErrPaymentFailed):
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		default:
			log.Error().Err(err).Int64("telegram_id", req.TelegramUserID).Msg("Failed to connect wallet")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to connect wallet"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"player_id":  player.ID,
		"has_wallet": player.HasWallet(),
	})
}

// requireBridgeSecret rejects requests whose X-Bridge-Secret header does not
// match the configured secret. An empty secret rejects everything.
func requireBridgeSecret(secret string) gin.HandlerFunc {
	if secret == "" {
		log.Warn().Msg("http.bridge_secret is not set, wallet connect callbacks are disabled")
	}
	return func(c *gin.Context) {
		got := c.GetHeader(BridgeSecretHeader)
		if secret == "" || got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			log.Warn().Str("remote", c.ClientIP()).Str("path", c.FullPath()).Msg("Rejected bridge callback")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("HTTP request")
	}
}
