package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load builds a Config from, in increasing precedence: Defaults(), the TOML
// file named by CONFIG_FILE (if any), a .env file in the working directory
// (if any), and process environment variables. The result is not validated.
func Load() (*Config, error) {
	cfg := Defaults()

	// Missing .env is fine; variables already in the environment win.
	_ = godotenv.Load()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config.Load: decode %q: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) error {
	// ── Server ────────────────────────────────────────────────────────────────
	setStr(&cfg.Server.Port, "SERVER_PORT")
	setStr(&cfg.Server.BackofficePort, "BACKOFFICE_PORT")
	setStr(&cfg.Server.Env, "ENVIRONMENT")
	setDuration(&cfg.Server.ReadTimeout, "SERVER_READ_TIMEOUT")
	setDuration(&cfg.Server.WriteTimeout, "SERVER_WRITE_TIMEOUT")
	setStr(&cfg.Server.BackofficeAllowedIPs, "BACKOFFICE_ALLOWED_IPS")
	setStringSlice(&cfg.Server.AllowedOrigins, "ALLOWED_ORIGINS")
	if err := setInt(&cfg.Server.RateLimitPerMinute, "RATE_LIMIT_PER_MINUTE"); err != nil {
		return err
	}

	// ── Storage / Database ────────────────────────────────────────────────────
	setStr(&cfg.Storage.Driver, "STORAGE_DRIVER")
	setStr(&cfg.DB.DSN, "DATABASE_DSN")
	if cfg.DB.DSN == "" && os.Getenv("DB_HOST") != "" {
		// Build DSN from individual components for convenience in dev
		cfg.DB.DSN = fmt.Sprintf(
			"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			getEnv("DB_HOST", "localhost"),
			getEnv("DB_PORT", "5432"),
			getEnv("DB_USER", "postgres"),
			getEnv("DB_PASSWORD", ""),
			getEnv("DB_NAME", "yesno"),
			getEnv("DB_SSLMODE", "disable"),
		)
	}
	if err := setInt(&cfg.DB.MaxOpenConns, "DB_MAX_OPEN_CONNS"); err != nil {
		return err
	}
	if err := setInt(&cfg.DB.MaxIdleConns, "DB_MAX_IDLE_CONNS"); err != nil {
		return err
	}
	setDuration(&cfg.DB.ConnMaxLifetime, "DB_CONN_MAX_LIFETIME")
	setStr(&cfg.DB.MigrationsDir, "DB_MIGRATIONS_DIR")

	// ── Redis ─────────────────────────────────────────────────────────────────
	setStr(&cfg.Redis.Addr, "REDIS_ADDR")
	setStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	if err := setInt(&cfg.Redis.DB, "REDIS_DB"); err != nil {
		return err
	}
	if err := setInt(&cfg.Redis.PoolSize, "REDIS_POOL_SIZE"); err != nil {
		return err
	}
	setDuration(&cfg.Redis.MarketTTL, "REDIS_MARKET_TTL")

	// ── JWT ───────────────────────────────────────────────────────────────────
	setStr(&cfg.JWT.AccessSecret, "JWT_ACCESS_SECRET")
	setDuration(&cfg.JWT.AccessTTL, "JWT_ACCESS_TTL")
	setDuration(&cfg.JWT.ChallengeTTL, "JWT_CHALLENGE_TTL")
	setStringSlice(&cfg.JWT.AdminAddresses, "JWT_ADMIN_ADDRESSES")

	// ── Market ────────────────────────────────────────────────────────────────
	setStr(&cfg.Market.FactoryAddress, "MARKET_FACTORY_ADDRESS")
	if err := setInt(&cfg.Market.MinQuestionLength, "MARKET_MIN_QUESTION_LENGTH"); err != nil {
		return err
	}
	if err := setInt(&cfg.Market.MaxQuestionLength, "MARKET_MAX_QUESTION_LENGTH"); err != nil {
		return err
	}
	if err := setInt(&cfg.Market.MinDurationDays, "MARKET_MIN_DURATION_DAYS"); err != nil {
		return err
	}
	if err := setInt(&cfg.Market.MaxDurationDays, "MARKET_MAX_DURATION_DAYS"); err != nil {
		return err
	}
	setStr(&cfg.Market.MinLiquidity, "MARKET_MIN_LIQUIDITY")
	if err := setInt(&cfg.Market.DefaultPageSize, "MARKET_DEFAULT_PAGE_SIZE"); err != nil {
		return err
	}

	// ── Scheduler / Log ───────────────────────────────────────────────────────
	setDuration(&cfg.Scheduler.Interval, "SCHEDULER_INTERVAL")
	setStr(&cfg.Log.Level, "LOG_LEVEL")
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Helper functions: each only touches dst when the variable is non-empty
// ──────────────────────────────────────────────────────────────────────────────

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: invalid integer %q", key, v)
	}
	*dst = n
	return nil
}

// setDuration falls back to the current value on a parse error.
func setDuration(dst *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	parts := strings.Split(v, ",")
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	*dst = cleaned
}
