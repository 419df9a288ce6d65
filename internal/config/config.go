// Package config reads process settings from the environment, after loading
// a .env file when one is present.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/scythe504/roulette-backend/internal/game"
	"github.com/shopspring/decimal"
)

type Config struct {
	Port        int
	DatabaseURL string
	Game        game.Config
}

// Load reads .env (if present) and then the environment. Unset variables
// take their defaults; malformed ones are an error.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

func FromEnv() (Config, error) {
	cfg := Config{
		Port:        8080,
		DatabaseURL: os.Getenv("DATABASE_URL"),
		Game:        game.DefaultConfig(),
	}
	cfg.Game.AdminSecret = os.Getenv("ADMIN_SECRET")

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	collect(intVar("PORT", &cfg.Port))
	collect(durationVar("BETTING_DURATION", &cfg.Game.BettingDuration))
	collect(durationVar("TICK_INTERVAL", &cfg.Game.TickInterval))
	collect(durationVar("CLOSE_DELAY", &cfg.Game.CloseDelay))
	collect(durationVar("SPIN_DURATION", &cfg.Game.SpinDuration))
	collect(durationVar("ROUND_INTERVAL", &cfg.Game.RoundInterval))
	collect(durationVar("STORE_TIMEOUT", &cfg.Game.StoreTimeout))
	collect(decimalVar("MAX_BET", &cfg.Game.MaxBet))
	collect(decimalVar("STARTING_BALANCE", &cfg.Game.StartingBalance))
	collect(intVar("SETTLE_CONCURRENCY", &cfg.Game.SettleConcurrency))

	if cfg.Game.TickInterval <= 0 {
		errs = append(errs, errors.New("TICK_INTERVAL must be positive"))
	}
	if cfg.Game.BettingDuration < cfg.Game.TickInterval {
		errs = append(errs, errors.New("BETTING_DURATION must be at least one TICK_INTERVAL"))
	}
	if cfg.Game.SettleConcurrency <= 0 {
		errs = append(errs, errors.New("SETTLE_CONCURRENCY must be positive"))
	}
	return cfg, errors.Join(errs...)
}

func intVar(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

// durationVar accepts Go durations ("1500ms", "20s") or whole seconds ("20").
func durationVar(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(secs) * time.Second
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func decimalVar(key string, dst *decimal.Decimal) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if d.IsNegative() {
		return fmt.Errorf("%s: must not be negative", key)
	}
	*dst = d
	return nil
}
