// Package app wires the storage backend, optional Redis, and the services
// shared by the API and back-office binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/evetabi/yesno/internal/api/middleware"
	rediscache "github.com/evetabi/yesno/internal/cache/redis"
	"github.com/evetabi/yesno/internal/config"
	"github.com/evetabi/yesno/internal/domain"
	"github.com/evetabi/yesno/internal/ledger"
	"github.com/evetabi/yesno/internal/repository"
	"github.com/evetabi/yesno/internal/service"
	"github.com/evetabi/yesno/internal/store"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver
)

// App holds every long-lived component built from one Config.
type App struct {
	Cfg    *config.Config
	Logger *slog.Logger

	DB    *sqlx.DB           // nil with the memory driver
	Redis *rediscache.Client // nil when REDIS_ADDR is empty
	Store store.Store

	MarketSvc *service.MarketService
	TokenSvc  *service.TokenService
	AuthSvc   *service.AuthService
	Limiter   middleware.Limiter
}

// NewLogger builds the process logger: JSON in production, text otherwise,
// at the configured level.
func NewLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if cfg.IsProd() {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(h)
}

// New connects the configured backends and builds the services. On error
// everything opened so far is closed.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	a := &App{Cfg: cfg, Logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	// ── Storage ──────────────────────────────────────────────────────────────
	if cfg.UsePostgres() {
		a.DB, err = sqlx.ConnectContext(ctx, "postgres", cfg.DB.DSN)
		if err != nil {
			return nil, fmt.Errorf("app.New: database connect: %w", err)
		}
		a.DB.SetMaxOpenConns(cfg.DB.MaxOpenConns)
		a.DB.SetMaxIdleConns(cfg.DB.MaxIdleConns)
		a.DB.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime.Duration)
		logger.Info("database connected")

		if err = RunMigrations(ctx, a.DB, cfg.DB.MigrationsDir, logger); err != nil {
			return nil, err
		}
		a.Store = repository.NewStore(a.DB)
	} else {
		a.Store = store.NewMemory(ledger.NewMemory())
		logger.Warn("using in-memory storage; state is lost on restart")
	}

	// ── Redis (optional) ─────────────────────────────────────────────────────
	challenges := service.ChallengeStore(service.NewMemoryChallengeStore())
	a.Limiter = middleware.NewTokenBucket(cfg.Server.RateLimitPerMinute)
	if cfg.Redis.Addr != "" {
		a.Redis, err = rediscache.New(ctx, rediscache.ClientConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err != nil {
			return nil, fmt.Errorf("app.New: %w", err)
		}
		challenges = rediscache.NewChallengeStore(a.Redis)
		a.Limiter = rediscache.NewRateLimiter(a.Redis, cfg.Server.RateLimitPerMinute, time.Minute)
		logger.Info("redis connected", "addr", cfg.Redis.Addr)
	}

	// ── Services ─────────────────────────────────────────────────────────────
	policy := domain.FactoryPolicy{
		MinQuestionLength: cfg.Market.MinQuestionLength,
		MaxQuestionLength: cfg.Market.MaxQuestionLength,
		MinDurationDays:   cfg.Market.MinDurationDays,
		MaxDurationDays:   cfg.Market.MaxDurationDays,
		MinLiquidity:      cfg.MinLiquidity(),
	}
	a.MarketSvc = service.NewMarketService(a.Store, policy, cfg.FactoryAddress(), logger)
	if a.Redis != nil {
		a.MarketSvc.SetCache(rediscache.NewMarketCache(a.Redis, cfg.Redis.MarketTTL.Duration))
	}
	a.TokenSvc = service.NewTokenService(a.Store.Accounts(), logger)
	a.AuthSvc = service.NewAuthService(challenges, cfg)

	return a, nil
}

// Close releases the database and Redis connections.
func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Warn("redis close failed", "err", err)
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Warn("database close failed", "err", err)
		}
	}
}

// RunMigrations reads all *.sql files from dir, sorted by name, and executes
// them sequentially. Idempotent: SQL files use IF NOT EXISTS.
func RunMigrations(ctx context.Context, db *sqlx.DB, dir string, logger *slog.Logger) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn("migrations dir not found, skipping", "dir", dir)
			return nil
		}
		return fmt.Errorf("runMigrations: read dir %q: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("runMigrations: read %q: %w", f, err)
		}
		if _, err = db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("runMigrations: exec %q: %w", f, err)
		}
		logger.Info("migration applied", "file", filepath.Base(f))
	}
	return nil
}
