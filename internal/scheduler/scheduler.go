// Package scheduler runs the background expiry announcer: once a market's
// betting window closes it pushes one market_expired message so clients can
// stop offering bets and prompt the resolver.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evetabi/yesno/internal/domain"
)

// ──────────────────────────────────────────────────────────────────────────────
// Dependencies: declared here so the scheduler does not import service or ws
// ──────────────────────────────────────────────────────────────────────────────

// MarketLister pages through the market registry. Implemented by
// service.MarketService.
type MarketLister interface {
	CountMarkets(ctx context.Context) (int64, error)
	ListMarkets(ctx context.Context, offset, limit int) ([]domain.MarketInfo, error)
}

// Announcer pushes expiry notices. Implemented by ws.Hub.
type Announcer interface {
	BroadcastMarketExpired(info domain.MarketInfo)
}

// ──────────────────────────────────────────────────────────────────────────────
// Scheduler
// ──────────────────────────────────────────────────────────────────────────────

const defaultPageSize = 100

// Scheduler announces each expired, still-active market exactly once per
// process.
type Scheduler struct {
	markets  MarketLister
	hub      Announcer
	interval time.Duration
	pageSize int
	logger   *slog.Logger
	now      func() time.Time

	// ids announced while still Active; dropped once the market settles.
	mu        sync.Mutex
	announced map[common.Address]bool
}

// NewScheduler creates a Scheduler that scans the registry every interval.
func NewScheduler(markets MarketLister, hub Announcer, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Scheduler{
		markets:   markets,
		hub:       hub,
		interval:  interval,
		pageSize:  defaultPageSize,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		announced: make(map[common.Address]bool),
	}
}

// SetPageSize changes how many markets each registry read requests.
func (s *Scheduler) SetPageSize(n int) {
	if n > 0 {
		s.pageSize = n
	}
}

// Run scans on every tick until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	defer s.recoverAndLog("expiryLoop")

	s.logger.Info("scheduler started", "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("expiryLoop: shutting down")
			return nil
		case <-ticker.C:
			if n, err := s.ScanOnce(ctx); err != nil {
				s.logger.Error("expiryLoop: scan failed", "err", err)
			} else if n > 0 {
				s.logger.Info("expiryLoop: markets expired", "count", n)
			}
		}
	}
}

// ScanOnce pages through the whole registry and announces newly expired
// markets. Returns how many were announced.
func (s *Scheduler) ScanOnce(ctx context.Context) (int, error) {
	total, err := s.markets.CountMarkets(ctx)
	if err != nil {
		return 0, err
	}

	now := s.now()
	announced := 0
	for offset := 0; int64(offset) < total; {
		page, err := s.markets.ListMarkets(ctx, offset, s.pageSize)
		if err != nil {
			return announced, err
		}
		if len(page) == 0 {
			break
		}
		for _, info := range page {
			if info.Status != domain.StatusActive {
				s.forget(info.ID)
				continue
			}
			if now.Before(info.EndTime) {
				continue
			}
			if s.markAnnounced(info.ID) {
				s.hub.BroadcastMarketExpired(info)
				announced++
			}
		}
		offset += len(page)
	}
	return announced, nil
}

// markAnnounced returns true the first time it sees id.
func (s *Scheduler) markAnnounced(id common.Address) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.announced[id] {
		return false
	}
	s.announced[id] = true
	return true
}

// forget drops id once its market has settled; it can never expire again.
func (s *Scheduler) forget(id common.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.announced, id)
}

// tracked reports how many announced markets are still remembered.
func (s *Scheduler) tracked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.announced)
}

// recoverAndLog is deferred inside the loop to catch unexpected panics and log
// them.
func (s *Scheduler) recoverAndLog(loop string) {
	if r := recover(); r != nil {
		s.logger.Error("PANIC recovered in scheduler loop",
			"loop", loop, "panic", r)
	}
}
