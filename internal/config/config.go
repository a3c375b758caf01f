// Package config provides application configuration loaded from an optional
// TOML file and environment variables. Use the package-level Get() function to
// obtain the singleton Config instance.
package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Sub-config structs
// ──────────────────────────────────────────────────────────────────────────────

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port                 string   `toml:"port"`                   // e.g. "8080"
	BackofficePort       string   `toml:"backoffice_port"`        // e.g. "8081"
	Env                  string   `toml:"env"`                    // "development" | "production"
	ReadTimeout          Duration `toml:"read_timeout"`           // default 10s
	WriteTimeout         Duration `toml:"write_timeout"`          // default 10s
	BackofficeAllowedIPs string   `toml:"backoffice_allowed_ips"` // comma-separated IPs; "" = allow all
	AllowedOrigins       []string `toml:"allowed_origins"`        // CORS + WS origins; empty = any
	RateLimitPerMinute   int      `toml:"rate_limit_per_minute"`  // mutating requests per IP
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Driver string `toml:"driver"` // "memory" | "postgres"
}

// DBConfig holds PostgreSQL connection settings.
type DBConfig struct {
	DSN             string   `toml:"dsn"`
	MaxOpenConns    int      `toml:"max_open_conns"`    // default 25
	MaxIdleConns    int      `toml:"max_idle_conns"`    // default 10
	ConnMaxLifetime Duration `toml:"conn_max_lifetime"` // default 5m
	MigrationsDir   string   `toml:"migrations_dir"`    // default "migrations"
}

// RedisConfig holds the market read-cache settings. An empty Addr disables it.
type RedisConfig struct {
	Addr      string   `toml:"addr"`
	Password  string   `toml:"password"`
	DB        int      `toml:"db"`
	PoolSize  int      `toml:"pool_size"`
	MarketTTL Duration `toml:"market_ttl"` // default 30s
}

// JWTConfig holds token signing and wallet sign-in settings.
type JWTConfig struct {
	AccessSecret   string   `toml:"access_secret"`   // must be set
	AccessTTL      Duration `toml:"access_ttl"`      // default 24h
	ChallengeTTL   Duration `toml:"challenge_ttl"`   // default 5m
	AdminAddresses []string `toml:"admin_addresses"` // wallets granted the admin role
}

// MarketConfig holds the factory policy.
type MarketConfig struct {
	FactoryAddress    string `toml:"factory_address"`
	MinQuestionLength int    `toml:"min_question_length"` // default 10
	MaxQuestionLength int    `toml:"max_question_length"` // default 200
	MinDurationDays   int    `toml:"min_duration_days"`   // default 1
	MaxDurationDays   int    `toml:"max_duration_days"`   // default 365
	MinLiquidity      string `toml:"min_liquidity"`       // base units, default 10^18
	DefaultPageSize   int    `toml:"default_page_size"`   // HTTP list limit when none is given, default 100
}

// SchedulerConfig holds background loop settings.
type SchedulerConfig struct {
	Interval Duration `toml:"interval"` // default 5s
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level string `toml:"level"` // debug | info | warn | error
}

// ──────────────────────────────────────────────────────────────────────────────
// Top-level Config
// ──────────────────────────────────────────────────────────────────────────────

// Config is the root configuration object for the entire application.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Storage   StorageConfig   `toml:"storage"`
	DB        DBConfig        `toml:"db"`
	Redis     RedisConfig     `toml:"redis"`
	JWT       JWTConfig       `toml:"jwt"`
	Market    MarketConfig    `toml:"market"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Log       LogConfig       `toml:"log"`
}

// IsProd returns true when running in the production environment.
func (c *Config) IsProd() bool {
	return c.Server.Env == "production"
}

// UsePostgres returns true when the postgres storage driver is selected.
func (c *Config) UsePostgres() bool {
	return c.Storage.Driver == "postgres"
}

// FactoryAddress returns the parsed factory address.
func (c *Config) FactoryAddress() common.Address {
	return common.HexToAddress(c.Market.FactoryAddress)
}

// MinLiquidity returns the parsed minimum liquidity in base units.
func (c *Config) MinLiquidity() decimal.Decimal {
	d, err := decimal.NewFromString(c.Market.MinLiquidity)
	if err != nil {
		return decimal.New(1, 18)
	}
	return d
}

// IsAdmin reports whether addr is listed in JWT.AdminAddresses.
func (c *Config) IsAdmin(addr common.Address) bool {
	for _, a := range c.JWT.AdminAddresses {
		if common.IsHexAddress(a) && common.HexToAddress(a) == addr {
			return true
		}
	}
	return false
}

// Validate checks that all required configuration values are present and valid.
// All problems are reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.JWT.AccessSecret == "" {
		errs = append(errs, errors.New("JWT_ACCESS_SECRET must be set"))
	}

	switch c.Storage.Driver {
	case "memory":
		if c.IsProd() {
			errs = append(errs, errors.New("STORAGE_DRIVER=memory is not allowed in production"))
		}
	case "postgres":
		if c.DB.DSN == "" {
			errs = append(errs, errors.New("DATABASE_DSN must be set for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORAGE_DRIVER must be memory or postgres, got %q", c.Storage.Driver))
	}

	if !common.IsHexAddress(c.Market.FactoryAddress) {
		errs = append(errs, fmt.Errorf("MARKET_FACTORY_ADDRESS is not a valid address: %q", c.Market.FactoryAddress))
	}
	for _, a := range c.JWT.AdminAddresses {
		if !common.IsHexAddress(a) {
			errs = append(errs, fmt.Errorf("JWT_ADMIN_ADDRESSES contains an invalid address: %q", a))
		}
	}

	if c.Market.MinQuestionLength < 1 || c.Market.MinQuestionLength > c.Market.MaxQuestionLength {
		errs = append(errs, fmt.Errorf(
			"question length bounds are inconsistent (min=%d max=%d)",
			c.Market.MinQuestionLength, c.Market.MaxQuestionLength,
		))
	}
	if c.Market.MinDurationDays < 1 || c.Market.MinDurationDays > c.Market.MaxDurationDays {
		errs = append(errs, fmt.Errorf(
			"duration bounds are inconsistent (min=%d max=%d)",
			c.Market.MinDurationDays, c.Market.MaxDurationDays,
		))
	}
	if d, err := decimal.NewFromString(c.Market.MinLiquidity); err != nil || !d.IsPositive() || !d.IsInteger() {
		errs = append(errs, fmt.Errorf("MARKET_MIN_LIQUIDITY must be a positive integer, got %q", c.Market.MinLiquidity))
	}
	if c.Market.DefaultPageSize < 1 {
		errs = append(errs, fmt.Errorf("MARKET_DEFAULT_PAGE_SIZE must be positive, got %d", c.Market.DefaultPageSize))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Defaults
// ──────────────────────────────────────────────────────────────────────────────

// Defaults returns the development configuration every source is layered on.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:               "8080",
			BackofficePort:     "8081",
			Env:                "development",
			ReadTimeout:        Duration{10 * time.Second},
			WriteTimeout:       Duration{10 * time.Second},
			RateLimitPerMinute: 60,
		},
		Storage: StorageConfig{Driver: "memory"},
		DB: DBConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    10,
			ConnMaxLifetime: Duration{5 * time.Minute},
			MigrationsDir:   "migrations",
		},
		Redis: RedisConfig{
			PoolSize:  10,
			MarketTTL: Duration{30 * time.Second},
		},
		JWT: JWTConfig{
			AccessTTL:    Duration{24 * time.Hour},
			ChallengeTTL: Duration{5 * time.Minute},
		},
		Market: MarketConfig{
			FactoryAddress:    "0x00000000000000000000000000000000000fac70",
			MinQuestionLength: 10,
			MaxQuestionLength: 200,
			MinDurationDays:   1,
			MaxDurationDays:   365,
			MinLiquidity:      "1000000000000000000",
			DefaultPageSize:   100,
		},
		Scheduler: SchedulerConfig{Interval: Duration{5 * time.Second}},
		Log:       LogConfig{Level: "info"},
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Singleton
// ──────────────────────────────────────────────────────────────────────────────

var (
	instance *Config
	once     sync.Once
	loadErr  error
)

// Get returns the singleton Config, loading it once.
// Panics if loading fails: call this early in main() to catch misconfigurations
// at startup.
func Get() *Config {
	once.Do(func() {
		instance, loadErr = Load()
	})
	if loadErr != nil {
		panic(fmt.Sprintf("config: failed to load: %v", loadErr))
	}
	return instance
}

// MustLoad loads and validates configuration. Intended for use in main().
// Panics on any error so misconfiguration is caught immediately at boot.
func MustLoad() *Config {
	cfg := Get()
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("config: validation failed: %v", err))
	}
	return cfg
}

// ──────────────────────────────────────────────────────────────────────────────
// Duration
// ──────────────────────────────────────────────────────────────────────────────

// Duration lets TOML files spell durations as "5s" or "15m".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}
