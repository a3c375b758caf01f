// Package main is the entry point for the YES/NO prediction market API
// server. It wires together all services and starts the HTTP server alongside
// the WebSocket hub and the expiry scheduler.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evetabi/yesno/internal/api"
	"github.com/evetabi/yesno/internal/api/middleware"
	"github.com/evetabi/yesno/internal/app"
	"github.com/evetabi/yesno/internal/backoffice"
	"github.com/evetabi/yesno/internal/config"
	"github.com/evetabi/yesno/internal/scheduler"
	"github.com/evetabi/yesno/internal/ws"
	"golang.org/x/sync/errgroup"
)

func main() {
	// ── 1. Config + logger ────────────────────────────────────────────────────
	cfg := config.MustLoad()
	logger := app.NewLogger(cfg)
	slog.SetDefault(logger)

	logger.Info("starting yesno market server",
		"env", cfg.Server.Env, "port", cfg.Server.Port, "storage", cfg.Storage.Driver)

	// ── 2. Root context + signal handling ─────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 3. Storage, cache, services ───────────────────────────────────────────
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	// ── 4. WebSocket hub ──────────────────────────────────────────────────────
	hub := ws.NewHub(func(token string) (common.Address, bool) {
		claims, err := a.AuthSvc.ParseAccessToken(token)
		if err != nil {
			return common.Address{}, false
		}
		return common.HexToAddress(claims.Subject), true
	}, cfg.Server.AllowedOrigins, logger)
	a.MarketSvc.SetBroadcaster(hub)

	// ── 5. Scheduler ──────────────────────────────────────────────────────────
	sched := scheduler.NewScheduler(a.MarketSvc, hub, cfg.Scheduler.Interval.Duration, logger)
	sched.SetPageSize(cfg.Market.DefaultPageSize)

	// ── 6. HTTP servers ───────────────────────────────────────────────────────
	srv := &http.Server{
		Addr: ":" + cfg.Server.Port,
		Handler: api.SetupRouter(api.RouterDeps{
			AuthSvc:   a.AuthSvc,
			MarketSvc: a.MarketSvc,
			TokenSvc:  a.TokenSvc,
			Hub:       hub,
			Limiter:   a.Limiter,
			Cfg:       cfg,
			Logger:    logger,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
	}
	servers := []*http.Server{srv}

	// The in-memory store lives in this process, so the back-office must too.
	if !cfg.UsePostgres() && cfg.Server.BackofficePort != "" {
		servers = append(servers, &http.Server{
			Addr: ":" + cfg.Server.BackofficePort,
			Handler: backoffice.SetupBackofficeRouter(backoffice.BackofficeDeps{
				AuthSvc:   a.AuthSvc,
				MarketSvc: a.MarketSvc,
				TokenSvc:  a.TokenSvc,
				Hub:       hub,
				Cfg:       cfg,
			}),
			ReadTimeout:  cfg.Server.ReadTimeout.Duration,
			WriteTimeout: cfg.Server.WriteTimeout.Duration,
		})
	}

	// ── 7. Run everything until the first failure or a signal ────────────────
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(gctx) })
	g.Go(func() error { return sched.Run(gctx) })
	if tb, ok := a.Limiter.(*middleware.TokenBucket); ok {
		g.Go(func() error { tb.RunEviction(gctx); return nil })
	}
	for _, s := range servers {
		g.Go(func() error {
			logger.Info("http server listening", "addr", s.Addr)
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	// ── 8. Graceful shutdown ──────────────────────────────────────────────────
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received, draining connections…")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for _, s := range servers {
			if err := s.Shutdown(shutdownCtx); err != nil {
				logger.Error("http shutdown error", "addr", s.Addr, "err", err)
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", "err", err)
		a.Close()
		os.Exit(1)
	}
	logger.Info("server stopped cleanly")
}
