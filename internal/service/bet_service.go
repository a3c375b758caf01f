package service

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evetabi/yesno/internal/domain"
	"github.com/shopspring/decimal"
)

// BuyResult is returned by BuyPosition.
type BuyResult struct {
	Market   domain.MarketInfo   `json:"market"`
	Position domain.PositionView `json:"position"`
}

// BuyPosition credits amount of one side to caller. The caller must have
// approved the market address for at least amount.
//
// Lock order: market row, then the ledger rows it touches.
func (s *MarketService) BuyPosition(ctx context.Context, caller, marketID common.Address, yes bool, amount decimal.Decimal) (*BuyResult, error) {
	// ── 1. Input validation ──────────────────────────────────────────────────
	if err := domain.ValidateAmount(amount); err != nil {
		return nil, err
	}

	// ── 2. Begin transaction and lock the market ─────────────────────────────
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("bet_service.BuyPosition: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	market, err := tx.LockMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	pos, err := tx.GetPosition(ctx, marketID, caller)
	if err != nil {
		return nil, fmt.Errorf("bet_service.BuyPosition: get position: %w", err)
	}

	// ── 3. Apply the bet to the staged copies ────────────────────────────────
	if err = market.Buy(pos, yes, amount, s.now()); err != nil {
		return nil, err
	}

	// ── 4. Pull funds caller → market ────────────────────────────────────────
	if err = tx.Ledger().TransferFrom(ctx, market.ID, caller, market.ID, amount); err != nil {
		return nil, fmt.Errorf("bet_service.BuyPosition: transfer: %w", err)
	}

	// ── 5. Persist and commit ────────────────────────────────────────────────
	if err = tx.UpdateMarket(ctx, market); err != nil {
		return nil, fmt.Errorf("bet_service.BuyPosition: update market: %w", err)
	}
	if err = tx.SavePosition(ctx, pos); err != nil {
		return nil, fmt.Errorf("bet_service.BuyPosition: save position: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("bet_service.BuyPosition: commit: %w", err)
	}

	s.logger.Info("position bought",
		"market_id", market.ID.Hex(),
		"buyer", caller.Hex(),
		"yes", yes,
		"amount", amount.String(),
		"yes_price", market.Price(true),
	)
	s.afterCommit(ctx, market, domain.Event{Kind: domain.EventPositionBought, Account: caller, Yes: yes, Amount: amount})

	return &BuyResult{Market: market.Info(), Position: pos.View()}, nil
}
