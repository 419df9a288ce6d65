package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, k := range []string{"PORT", "DATABASE_URL", "ADMIN_SECRET", "BETTING_DURATION", "TICK_INTERVAL",
		"CLOSE_DELAY", "SPIN_DURATION", "ROUND_INTERVAL", "STORE_TIMEOUT", "MAX_BET", "STARTING_BALANCE", "SETTLE_CONCURRENCY"} {
		t.Setenv(k, "")
	}

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Equal(t, 20*time.Second, cfg.Game.BettingDuration)
	assert.Equal(t, time.Second, cfg.Game.TickInterval)
	assert.Equal(t, 2*time.Second, cfg.Game.CloseDelay)
	assert.Equal(t, 9*time.Second, cfg.Game.SpinDuration)
	assert.Equal(t, 5*time.Second, cfg.Game.RoundInterval)
	assert.Equal(t, 3*time.Second, cfg.Game.StoreTimeout)
	assert.Equal(t, 16, cfg.Game.SettleConcurrency)
	assert.True(t, cfg.Game.MaxBet.Equal(decimal.NewFromInt(10000)))
	assert.True(t, cfg.Game.StartingBalance.Equal(decimal.NewFromInt(1000)))
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("DATABASE_URL", "postgres://localhost/roulette")
	t.Setenv("ADMIN_SECRET", "s3cret")
	t.Setenv("BETTING_DURATION", "30")
	t.Setenv("TICK_INTERVAL", "500ms")
	t.Setenv("MAX_BET", "250.50")
	t.Setenv("SETTLE_CONCURRENCY", "4")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "postgres://localhost/roulette", cfg.DatabaseURL)
	assert.Equal(t, "s3cret", cfg.Game.AdminSecret)
	assert.Equal(t, 30*time.Second, cfg.Game.BettingDuration)
	assert.Equal(t, 500*time.Millisecond, cfg.Game.TickInterval)
	assert.True(t, cfg.Game.MaxBet.Equal(decimal.RequireFromString("250.5")))
	assert.Equal(t, 4, cfg.Game.SettleConcurrency)
}

func TestFromEnvRejectsMalformedValues(t *testing.T) {
	t.Setenv("PORT", "eighty")
	t.Setenv("SPIN_DURATION", "soon")
	t.Setenv("MAX_BET", "-5")

	_, err := FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PORT")
	assert.Contains(t, err.Error(), "SPIN_DURATION")
	assert.Contains(t, err.Error(), "MAX_BET")
}

func TestFromEnvRejectsBettingShorterThanTick(t *testing.T) {
	t.Setenv("BETTING_DURATION", "500ms")
	t.Setenv("TICK_INTERVAL", "1s")

	_, err := FromEnv()
	require.Error(t, err)
}
