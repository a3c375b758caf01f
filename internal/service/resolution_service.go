package service

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evetabi/yesno/internal/domain"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Resolution
// ──────────────────────────────────────────────────────────────────────────────

// ResolveMarket fixes the outcome of an ended market. Only the market's
// resolver may call it.
func (s *MarketService) ResolveMarket(ctx context.Context, caller, marketID common.Address, outcome bool) (*domain.Market, error) {
	market, err := s.settle(ctx, marketID, "ResolveMarket", func(m *domain.Market) error {
		return m.Resolve(caller, outcome, s.now())
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("market resolved",
		"market_id", market.ID.Hex(),
		"outcome", outcome,
		"yes_pool", market.YesPool.String(),
		"no_pool", market.NoPool.String(),
	)
	s.afterCommit(ctx, market, domain.Event{Kind: domain.EventMarketResolved, Account: caller, Yes: outcome})
	return market, nil
}

// MarkInvalid voids an ended market; every position becomes refundable at par.
func (s *MarketService) MarkInvalid(ctx context.Context, caller, marketID common.Address) (*domain.Market, error) {
	market, err := s.settle(ctx, marketID, "MarkInvalid", func(m *domain.Market) error {
		return m.MarkInvalid(caller, s.now())
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("market invalidated",
		"market_id", market.ID.Hex(),
		"total_pool", market.TotalPool().String(),
	)
	s.afterCommit(ctx, market, domain.Event{Kind: domain.EventMarketInvalidated, Account: caller})
	return market, nil
}

// settle runs a status transition under the market lock.
func (s *MarketService) settle(ctx context.Context, marketID common.Address, op string, apply func(*domain.Market) error) (*domain.Market, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolution_service.%s: begin tx: %w", op, err)
	}
	defer func() { _ = tx.Rollback() }()

	market, err := tx.LockMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if err = apply(market); err != nil {
		return nil, err
	}
	if err = tx.UpdateMarket(ctx, market); err != nil {
		return nil, fmt.Errorf("resolution_service.%s: update: %w", op, err)
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("resolution_service.%s: commit: %w", op, err)
	}
	return market, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Claims
// ──────────────────────────────────────────────────────────────────────────────

// ClaimWinnings pays caller's full entitlement and marks the position claimed.
// The transfer and the claimed flag commit together; a second claim fails with
// domain.ErrAlreadyClaimed.
func (s *MarketService) ClaimWinnings(ctx context.Context, caller, marketID common.Address) (decimal.Decimal, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("resolution_service.ClaimWinnings: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	market, err := tx.LockMarket(ctx, marketID)
	if err != nil {
		return decimal.Zero, err
	}
	pos, err := tx.GetPosition(ctx, marketID, caller)
	if err != nil {
		return decimal.Zero, fmt.Errorf("resolution_service.ClaimWinnings: get position: %w", err)
	}

	amount, err := market.Claim(pos, s.now())
	if err != nil {
		return decimal.Zero, err
	}

	if err = tx.Ledger().Transfer(ctx, market.ID, caller, amount); err != nil {
		return decimal.Zero, fmt.Errorf("resolution_service.ClaimWinnings: transfer: %w", err)
	}
	if err = tx.SavePosition(ctx, pos); err != nil {
		return decimal.Zero, fmt.Errorf("resolution_service.ClaimWinnings: save position: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return decimal.Zero, fmt.Errorf("resolution_service.ClaimWinnings: commit: %w", err)
	}

	s.logger.Info("winnings claimed",
		"market_id", market.ID.Hex(),
		"claimer", caller.Hex(),
		"amount", amount.String(),
		"status", market.Status.String(),
	)
	s.afterCommit(ctx, market, domain.Event{Kind: domain.EventWinningsClaimed, Account: caller, Amount: amount})
	return amount, nil
}
