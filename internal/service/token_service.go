package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evetabi/yesno/internal/domain"
	"github.com/evetabi/yesno/internal/ledger"
	"github.com/shopspring/decimal"
)

// TokenService exposes the settlement-token account operations the front-end
// performs before createMarket and buyPosition, plus the admin mint.
type TokenService struct {
	accounts ledger.Accounts
	logger   *slog.Logger
}

// NewTokenService creates a TokenService over accounts.
func NewTokenService(accounts ledger.Accounts, logger *slog.Logger) *TokenService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenService{accounts: accounts, logger: logger}
}

// BalanceOf returns owner's balance.
func (s *TokenService) BalanceOf(ctx context.Context, owner common.Address) (decimal.Decimal, error) {
	bal, err := s.accounts.BalanceOf(ctx, owner)
	if err != nil {
		return decimal.Zero, fmt.Errorf("token_service.BalanceOf: %w", err)
	}
	return bal, nil
}

// Allowance returns spender's remaining allowance over owner's funds.
func (s *TokenService) Allowance(ctx context.Context, owner, spender common.Address) (decimal.Decimal, error) {
	amt, err := s.accounts.Allowance(ctx, owner, spender)
	if err != nil {
		return decimal.Zero, fmt.Errorf("token_service.Allowance: %w", err)
	}
	return amt, nil
}

// Approve sets spender's allowance over owner's funds to amount.
func (s *TokenService) Approve(ctx context.Context, owner, spender common.Address, amount decimal.Decimal) error {
	if amount.IsNegative() || !amount.IsInteger() {
		return domain.ErrInvalidAmount
	}
	if err := s.accounts.Approve(ctx, owner, spender, amount); err != nil {
		return fmt.Errorf("token_service.Approve: %w", err)
	}
	s.logger.Info("allowance set", "owner", owner.Hex(), "spender", spender.Hex(), "amount", amount.String())
	return nil
}

// Mint issues amount new tokens to to. Back-office only.
func (s *TokenService) Mint(ctx context.Context, to common.Address, amount decimal.Decimal) error {
	if err := domain.ValidateAmount(amount); err != nil {
		return err
	}
	if err := s.accounts.Mint(ctx, to, amount); err != nil {
		return fmt.Errorf("token_service.Mint: %w", err)
	}
	s.logger.Info("tokens minted", "to", to.Hex(), "amount", amount.String())
	return nil
}

// Journal returns the transfer history of addr, newest first.
func (s *TokenService) Journal(ctx context.Context, addr common.Address, limit, offset int) ([]ledger.Entry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	entries, err := s.accounts.Journal(ctx, addr, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("token_service.Journal: %w", err)
	}
	return entries, nil
}
