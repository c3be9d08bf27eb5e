// Package config provides configuration management using viper.
// It supports loading from YAML files, a .env file and environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Bot      BotConfig      `mapstructure:"bot"`
	Database DatabaseConfig `mapstructure:"database"`
	Payment  PaymentConfig  `mapstructure:"payment"`
	Game     GameConfig     `mapstructure:"game"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Admin    AdminConfig    `mapstructure:"admin"`
}

// BotConfig holds Telegram bot configuration.
type BotConfig struct {
	Token      string `mapstructure:"token"`
	ConnectURL string `mapstructure:"connect_url"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// PaymentConfig holds the payment bridge configuration.
type PaymentConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	AppToken string        `mapstructure:"app_token"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// GameConfig holds the pricing, settlement and problem bank configuration.
// Monetary values are kept as strings so they never pass through float64.
type GameConfig struct {
	BaseCost        string          `mapstructure:"base_cost"`
	MaxCost         string          `mapstructure:"max_cost"`
	EscalationHours float64         `mapstructure:"escalation_hours"`
	BasePrizePool   string          `mapstructure:"base_prize_pool"`
	WinnerRatio     string          `mapstructure:"winner_ratio"`
	RolloverRatio   string          `mapstructure:"rollover_ratio"`
	AllowRepeats    bool            `mapstructure:"allow_repeats"`
	Problems        []ProblemConfig `mapstructure:"problems"`
}

// ProblemConfig is one riddle in the configured inventory.
type ProblemConfig struct {
	Key    string `mapstructure:"key"`
	Prompt string `mapstructure:"prompt"`
	Answer string `mapstructure:"answer"`
}

// HTTPConfig holds the HTTP surface configuration.
type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
	// BridgeSecret must be sent by the payment bridge in the X-Bridge-Secret
	// header on /oauth/connect. The endpoint refuses every call while it is empty.
	BridgeSecret string `mapstructure:"bridge_secret"`
}

// AdminConfig holds admin user configuration.
type AdminConfig struct {
	IDs []int64 `mapstructure:"ids"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// Load reads configuration from file and environment variables.
// A .env file in the working directory is applied first, without
// overwriting variables that are already set.
func Load(configPath string) (*Config, error) {
	if err := LoadDotEnv(".env"); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// e.g., BOT_TOKEN, DATABASE_HOST, PAYMENT_BASE_URL, GAME_WINNER_RATIO
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Keys without a default are invisible to Unmarshal when only set by env.
	v.SetDefault("bot.token", "")
	v.SetDefault("bot.connect_url", "")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.password", "")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "riddlepool")
	v.SetDefault("database.name", "riddlepool")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")

	v.SetDefault("payment.base_url", "http://localhost:3001")
	v.SetDefault("payment.app_token", "")
	v.SetDefault("payment.timeout", "15s")

	v.SetDefault("game.base_cost", "0.50")
	v.SetDefault("game.max_cost", "100.00")
	v.SetDefault("game.escalation_hours", 6)
	v.SetDefault("game.base_prize_pool", "20.00")
	v.SetDefault("game.winner_ratio", "0.80")
	v.SetDefault("game.rollover_ratio", "0.20")
	v.SetDefault("game.allow_repeats", false)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.bridge_secret", "")
}

// Validate checks values that would otherwise surface as runtime failures.
func (c *Config) Validate() error {
	g := &c.Game
	baseCost, err := parseCents("game.base_cost", g.BaseCost)
	if err != nil {
		return err
	}
	maxCost, err := parseCents("game.max_cost", g.MaxCost)
	if err != nil {
		return err
	}
	if !baseCost.IsPositive() {
		return errors.New("game.base_cost must be positive")
	}
	if maxCost.LessThan(baseCost) {
		return errors.New("game.max_cost must not be below game.base_cost")
	}
	if g.EscalationHours <= 0 {
		return errors.New("game.escalation_hours must be positive")
	}
	basePool, err := parseCents("game.base_prize_pool", g.BasePrizePool)
	if err != nil {
		return err
	}
	if basePool.IsNegative() {
		return errors.New("game.base_prize_pool must not be negative")
	}

	winner, err := parseAmount("game.winner_ratio", g.WinnerRatio)
	if err != nil {
		return err
	}
	rollover, err := parseAmount("game.rollover_ratio", g.RolloverRatio)
	if err != nil {
		return err
	}
	if winner.IsNegative() || rollover.IsNegative() {
		return errors.New("game ratios must not be negative")
	}
	if !winner.Add(rollover).Equal(decimal.NewFromInt(1)) {
		return fmt.Errorf("game.winner_ratio + game.rollover_ratio must equal 1, got %s", winner.Add(rollover))
	}

	for i, p := range g.Problems {
		if p.Key == "" || p.Prompt == "" || strings.TrimSpace(p.Answer) == "" {
			return fmt.Errorf("game.problems[%d]: key, prompt and answer are required", i)
		}
	}

	if c.Payment.Timeout <= 0 {
		return errors.New("payment.timeout must be positive")
	}

	return nil
}

func parseAmount(key, raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

// parseCents parses a money amount and rejects sub-cent precision.
func parseCents(key, raw string) (decimal.Decimal, error) {
	d, err := parseAmount(key, raw)
	if err != nil {
		return decimal.Zero, err
	}
	if !d.Equal(d.Round(2)) {
		return decimal.Zero, fmt.Errorf("invalid %s %q: at most two decimal places", key, raw)
	}
	return d, nil
}

// BaseCostAmount returns the validated base attempt cost.
func (g *GameConfig) BaseCostAmount() decimal.Decimal { return decimal.RequireFromString(g.BaseCost) }

// MaxCostAmount returns the validated attempt cost ceiling.
func (g *GameConfig) MaxCostAmount() decimal.Decimal { return decimal.RequireFromString(g.MaxCost) }

// BasePrizePoolAmount returns the seed for rounds opened without a rollover.
func (g *GameConfig) BasePrizePoolAmount() decimal.Decimal {
	return decimal.RequireFromString(g.BasePrizePool)
}

// WinnerRatioValue returns the winner's share of a settled pool.
func (g *GameConfig) WinnerRatioValue() decimal.Decimal {
	return decimal.RequireFromString(g.WinnerRatio)
}

// IsAdmin checks if a user ID is in the admin list.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.Admin.IDs {
		if id == userID {
			return true
		}
	}
	return false
}
