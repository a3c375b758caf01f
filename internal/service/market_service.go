package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/evetabi/yesno/internal/domain"
	"github.com/evetabi/yesno/internal/store"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// ──────────────────────────────────────────────────────────────────────────────
// Interfaces injected into MarketService to avoid import cycles
// ──────────────────────────────────────────────────────────────────────────────

// Broadcaster is the minimal interface MarketService needs from the WS hub.
// Implemented by ws.Hub.
type Broadcaster interface {
	Publish(evt domain.Event)
}

// MarketCache is a read-through cache of committed markets.
// Implemented by cache/redis.MarketCache.
type MarketCache interface {
	Get(ctx context.Context, id common.Address) (*domain.Market, error)
	Set(ctx context.Context, m *domain.Market) error
	Delete(ctx context.Context, id common.Address) error
}

// ──────────────────────────────────────────────────────────────────────────────
// MarketService
// ──────────────────────────────────────────────────────────────────────────────

// MarketService is the market engine: factory, registry, trading, resolution
// and claims. Every mutation runs in one store transaction holding the
// market's lock; the ledger transfer commits or rolls back with it.
type MarketService struct {
	store       store.Store
	policy      domain.FactoryPolicy
	factory     common.Address
	logger      *slog.Logger
	now         func() time.Time
	cache       MarketCache // optional
	broadcaster Broadcaster // optional
	reads       singleflight.Group
}

// NewMarketService creates a MarketService. factory is the address whose
// allowance pays for creation and from which market ids are derived.
func NewMarketService(st store.Store, policy domain.FactoryPolicy, factory common.Address, logger *slog.Logger) *MarketService {
	if logger == nil {
		logger = slog.Default()
	}
	return &MarketService{
		store:   st,
		policy:  policy,
		factory: factory,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetCache injects the read cache post-construction.
func (s *MarketService) SetCache(c MarketCache) { s.cache = c }

// SetBroadcaster injects the WS Hub dependency post-construction.
func (s *MarketService) SetBroadcaster(b Broadcaster) { s.broadcaster = b }

// SetClock replaces the time source.
func (s *MarketService) SetClock(now func() time.Time) { s.now = now }

// FactoryAddress returns the address users approve before createMarket.
func (s *MarketService) FactoryAddress() common.Address { return s.factory }

// Policy returns the active factory policy.
func (s *MarketService) Policy() domain.FactoryPolicy { return s.policy }

// ──────────────────────────────────────────────────────────────────────────────
// CreateMarket
// ──────────────────────────────────────────────────────────────────────────────

// CreateMarket validates req, pulls the initial liquidity from the creator
// through the factory's allowance and appends the market to the registry.
// Validation failures return before any funds move; a failed transfer leaves
// no registry entry.
func (s *MarketService) CreateMarket(ctx context.Context, req domain.CreateMarketRequest) (*domain.Market, error) {
	now := s.now()

	// ── 1. Validate before touching the registry ─────────────────────────────
	if _, _, err := s.policy.Validate(req, now); err != nil {
		return nil, err
	}

	// ── 2. Begin transaction and reserve the next registry slot ──────────────
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("market_service.CreateMarket: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	seq, err := tx.NextSequence(ctx)
	if err != nil {
		return nil, fmt.Errorf("market_service.CreateMarket: sequence: %w", err)
	}

	// ── 3. Build the market ──────────────────────────────────────────────────
	id := crypto.CreateAddress(s.factory, uint64(seq))
	market, seed, err := s.policy.NewMarket(id, seq, req, now)
	if err != nil {
		return nil, err
	}

	// ── 4. Pull liquidity creator → market ───────────────────────────────────
	if err = tx.Ledger().TransferFrom(ctx, s.factory, req.Creator, market.ID, req.InitialLiquidity); err != nil {
		return nil, fmt.Errorf("market_service.CreateMarket: transfer: %w", err)
	}

	// ── 5. Persist and commit ────────────────────────────────────────────────
	if err = tx.InsertMarket(ctx, market); err != nil {
		return nil, fmt.Errorf("market_service.CreateMarket: insert: %w", err)
	}
	if err = tx.SavePosition(ctx, seed); err != nil {
		return nil, fmt.Errorf("market_service.CreateMarket: seed position: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("market_service.CreateMarket: commit: %w", err)
	}

	s.logger.Info("market created",
		"market_id", market.ID.Hex(),
		"sequence", seq,
		"creator", req.Creator.Hex(),
		"liquidity", req.InitialLiquidity.String(),
		"end_time", market.EndTime,
	)
	s.afterCommit(ctx, market, domain.Event{Kind: domain.EventMarketCreated, Account: req.Creator, Amount: req.InitialLiquidity})
	return market, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Registry reads
// ──────────────────────────────────────────────────────────────────────────────

// CountMarkets returns the registry length.
func (s *MarketService) CountMarkets(ctx context.Context) (int64, error) {
	n, err := s.store.CountMarkets(ctx)
	if err != nil {
		return 0, fmt.Errorf("market_service.CountMarkets: %w", err)
	}
	return n, nil
}

// ListMarkets returns MarketInfo for registry entries [offset, offset+limit),
// clipped to the registry only. Never fails on out-of-range input.
func (s *MarketService) ListMarkets(ctx context.Context, offset, limit int) ([]domain.MarketInfo, error) {
	markets, err := s.store.ListMarkets(ctx, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("market_service.ListMarkets: %w", err)
	}
	out := make([]domain.MarketInfo, 0, len(markets))
	for _, m := range markets {
		out = append(out, m.Info())
	}
	return out, nil
}

// ListMarketIDs returns the registry ids in [offset, offset+limit).
func (s *MarketService) ListMarketIDs(ctx context.Context, offset, limit int) ([]common.Address, error) {
	markets, err := s.store.ListMarkets(ctx, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("market_service.ListMarketIDs: %w", err)
	}
	ids := make([]common.Address, 0, len(markets))
	for _, m := range markets {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Market reads
// ──────────────────────────────────────────────────────────────────────────────

// GetMarket returns the committed market, served from the cache when one is
// configured. Concurrent misses for the same id share one store read.
func (s *MarketService) GetMarket(ctx context.Context, id common.Address) (*domain.Market, error) {
	if s.cache != nil {
		if m, err := s.cache.Get(ctx, id); err == nil {
			return m, nil
		} else if !errors.Is(err, domain.ErrMarketNotFound) {
			s.logger.Warn("market cache read failed", "market_id", id.Hex(), "err", err)
		}
	}

	v, err, _ := s.reads.Do(id.Hex(), func() (interface{}, error) {
		m, err := s.store.GetMarket(ctx, id)
		if err != nil {
			return nil, err
		}
		if s.cache != nil {
			if cerr := s.cache.Set(ctx, m); cerr != nil {
				s.logger.Warn("market cache write failed", "market_id", id.Hex(), "err", cerr)
			}
		}
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Market).Clone(), nil
}

// GetMarketInfo returns the marketInfo view.
func (s *MarketService) GetMarketInfo(ctx context.Context, id common.Address) (domain.MarketInfo, error) {
	m, err := s.GetMarket(ctx, id)
	if err != nil {
		return domain.MarketInfo{}, err
	}
	return m.Info(), nil
}

// GetPrice returns the price of one side in basis points.
func (s *MarketService) GetPrice(ctx context.Context, id common.Address, yes bool) (int64, error) {
	m, err := s.GetMarket(ctx, id)
	if err != nil {
		return 0, err
	}
	return m.Price(yes), nil
}

// GetPosition returns owner's shares; zero shares for unknown owners.
func (s *MarketService) GetPosition(ctx context.Context, id, owner common.Address) (*domain.Position, error) {
	p, err := s.store.GetPosition(ctx, id, owner)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// CalculateWinnings returns owner's entitlement under the market's current
// status. It does not consult the claimed flag.
func (s *MarketService) CalculateWinnings(ctx context.Context, id, owner common.Address) (decimal.Decimal, error) {
	m, err := s.store.GetMarket(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	p, err := s.store.GetPosition(ctx, id, owner)
	if err != nil {
		return decimal.Zero, err
	}
	return m.Entitlement(p), nil
}

// HasClaimed reports whether owner has already been paid.
func (s *MarketService) HasClaimed(ctx context.Context, id, owner common.Address) (bool, error) {
	p, err := s.store.GetPosition(ctx, id, owner)
	if err != nil {
		return false, err
	}
	return p.Claimed, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Post-commit side effects
// ──────────────────────────────────────────────────────────────────────────────

// afterCommit refreshes the cache and publishes evt. Failures are logged only;
// the mutation is already durable.
func (s *MarketService) afterCommit(ctx context.Context, m *domain.Market, evt domain.Event) {
	if s.cache != nil {
		if err := s.cache.Set(ctx, m); err != nil {
			s.logger.Warn("market cache refresh failed", "market_id", m.ID.Hex(), "err", err)
			_ = s.cache.Delete(ctx, m.ID)
		}
	}
	if s.broadcaster != nil {
		evt.Market = m.Info()
		if evt.At.IsZero() {
			evt.At = s.now()
		}
		s.broadcaster.Publish(evt)
	}
}
