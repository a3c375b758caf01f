// Package main is the entry point for the standalone back-office admin
// server. It shares the PostgreSQL database with the API server and exposes
// admin-only endpoints protected by an IP allow-list and the admin JWT role.
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

	"github.com/evetabi/yesno/internal/app"
	"github.com/evetabi/yesno/internal/backoffice"
	"github.com/evetabi/yesno/internal/config"
)

func main() {
	// ── Logger ────────────────────────────────────────────────────────────────
	cfg := config.MustLoad()
	logger := app.NewLogger(cfg)
	slog.SetDefault(logger)

	logger.Info("starting yesno backoffice server",
		"env", cfg.Server.Env, "port", cfg.Server.BackofficePort)

	if !cfg.UsePostgres() {
		logger.Error("standalone backoffice needs STORAGE_DRIVER=postgres; with the memory driver the API server hosts it")
		os.Exit(1)
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Storage + services ────────────────────────────────────────────────────
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	// ── Router ────────────────────────────────────────────────────────────────
	router := backoffice.SetupBackofficeRouter(backoffice.BackofficeDeps{
		AuthSvc:   a.AuthSvc,
		MarketSvc: a.MarketSvc,
		TokenSvc:  a.TokenSvc,
		Hub:       nil, // backoffice does not directly serve WS
		Cfg:       cfg,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.BackofficePort,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
	}

	// ── Start ─────────────────────────────────────────────────────────────────
	go func() {
		logger.Info("backoffice http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("backoffice server error", "err", err)
			stop()
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err = srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("backoffice shutdown error", "err", err)
	}
	logger.Info("backoffice server stopped cleanly")
}
