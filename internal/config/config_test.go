package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Payment: PaymentConfig{Timeout: 5 * time.Second},
		Game: GameConfig{
			BaseCost:        "0.50",
			MaxCost:         "100.00",
			EscalationHours: 6,
			BasePrizePool:   "20.00",
			WinnerRatio:     "0.80",
			RolloverRatio:   "0.20",
		},
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "0.50", cfg.Game.BaseCost)
	assert.Equal(t, "100.00", cfg.Game.MaxCost)
	assert.Equal(t, float64(6), cfg.Game.EscalationHours)
	assert.Equal(t, "20.00", cfg.Game.BasePrizePool)
	assert.Equal(t, 15*time.Second, cfg.Payment.Timeout)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Empty(t, cfg.HTTP.BridgeSecret)
	assert.Equal(t, "0.8", cfg.Game.WinnerRatioValue().String())
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("GAME_WINNER_RATIO", "0.70")
	t.Setenv("GAME_ROLLOVER_RATIO", "0.30")
	t.Setenv("BOT_TOKEN", "secret")
	t.Setenv("HTTP_BRIDGE_SECRET", "shared")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "0.70", cfg.Game.WinnerRatio)
	assert.Equal(t, "secret", cfg.Bot.Token)
	assert.Equal(t, "shared", cfg.HTTP.BridgeSecret)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("PAYMENT_APP_TOKEN=from-dotenv\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("PAYMENT_APP_TOKEN") })

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Payment.AppToken)
}

func TestLoad_YAMLProblems(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	yaml := `
game:
  allow_repeats: true
  problems:
    - key: fib
      prompt: "1, 1, 2, 3, 5, ?"
      answer: "8"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))

	cfg, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, cfg.Game.Problems, 1)
	assert.Equal(t, "fib", cfg.Game.Problems[0].Key)
	assert.True(t, cfg.Game.AllowRepeats)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"ratios do not sum to one", func(c *Config) { c.Game.RolloverRatio = "0.25" }, true},
		{"negative ratio", func(c *Config) { c.Game.WinnerRatio = "1.10"; c.Game.RolloverRatio = "-0.10" }, true},
		{"bad amount", func(c *Config) { c.Game.BaseCost = "cheap" }, true},
		{"zero base cost", func(c *Config) { c.Game.BaseCost = "0" }, true},
		{"max below base", func(c *Config) { c.Game.MaxCost = "0.25" }, true},
		{"zero escalation", func(c *Config) { c.Game.EscalationHours = 0 }, true},
		{"negative base pool", func(c *Config) { c.Game.BasePrizePool = "-1" }, true},
		{"sub-cent base cost", func(c *Config) { c.Game.BaseCost = "0.505" }, true},
		{"sub-cent max cost", func(c *Config) { c.Game.MaxCost = "100.001" }, true},
		{"sub-cent base pool", func(c *Config) { c.Game.BasePrizePool = "20.005" }, true},
		{"whole units", func(c *Config) { c.Game.BaseCost = "1"; c.Game.BasePrizePool = "20" }, false},
		{"zero payment timeout", func(c *Config) { c.Payment.Timeout = 0 }, true},
		{"problem without answer", func(c *Config) {
			c.Game.Problems = []ProblemConfig{{Key: "k", Prompt: "p", Answer: "  "}}
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestIsAdmin(t *testing.T) {
	cfg := &Config{Admin: AdminConfig{IDs: []int64{10, 20}}}
	assert.True(t, cfg.IsAdmin(20))
	assert.False(t, cfg.IsAdmin(30))
}
