package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evetabi/yesno/internal/domain"
	"github.com/evetabi/yesno/internal/ledger"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// LedgerRepository stores token balances, allowances and the transfer journal.
type LedgerRepository struct {
	db *sqlx.DB
}

// NewLedgerRepository creates a new LedgerRepository.
func NewLedgerRepository(db *sqlx.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// BalanceOf returns owner's balance, zero when the account has never been credited.
func (r *LedgerRepository) BalanceOf(ctx context.Context, owner common.Address) (decimal.Decimal, error) {
	var bal decimal.Decimal
	err := r.db.GetContext(ctx, &bal, `SELECT balance FROM balances WHERE owner = $1`, owner)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("ledger_repo.BalanceOf: %w", err)
	}
	return bal, nil
}

// Allowance returns how much spender may still pull from owner.
func (r *LedgerRepository) Allowance(ctx context.Context, owner, spender common.Address) (decimal.Decimal, error) {
	var amt decimal.Decimal
	err := r.db.GetContext(ctx, &amt,
		`SELECT amount FROM allowances WHERE owner = $1 AND spender = $2`, owner, spender)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("ledger_repo.Allowance: %w", err)
	}
	return amt, nil
}

// Approve overwrites spender's allowance over owner's funds.
func (r *LedgerRepository) Approve(ctx context.Context, owner, spender common.Address, amount decimal.Decimal) error {
	if amount.IsNegative() || !amount.IsInteger() {
		return domain.ErrInvalidAmount
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO allowances (owner, spender, amount, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (owner, spender) DO UPDATE
		SET amount = EXCLUDED.amount, updated_at = now()`,
		owner, spender, amount)
	if err != nil {
		return fmt.Errorf("ledger_repo.Approve: %w", err)
	}
	return nil
}

// Mint credits newly issued tokens to to and journals the issuance.
func (r *LedgerRepository) Mint(ctx context.Context, to common.Address, amount decimal.Decimal) error {
	if err := domain.ValidateAmount(amount); err != nil {
		return err
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ledger_repo.Mint begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = credit(ctx, tx, to, amount); err != nil {
		return fmt.Errorf("ledger_repo.Mint: %w", err)
	}
	if err = logEntry(ctx, tx, ledger.EntryMint, common.Address{}, common.Address{}, to, amount); err != nil {
		return fmt.Errorf("ledger_repo.Mint: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("ledger_repo.Mint commit: %w", err)
	}
	return nil
}

// Journal returns the most recent entries touching addr.
func (r *LedgerRepository) Journal(ctx context.Context, addr common.Address, limit, offset int) ([]ledger.Entry, error) {
	entries := []ledger.Entry{}
	err := r.db.SelectContext(ctx, &entries, `
		SELECT id, kind, spender, from_addr, to_addr, amount, created_at
		FROM ledger_entries
		WHERE from_addr = $1 OR to_addr = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		addr, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ledger_repo.Journal: %w", err)
	}
	return entries, nil
}

// WithTx returns a Ledger whose transfers run inside tx.
func (r *LedgerRepository) WithTx(tx *sqlx.Tx) ledger.Ledger {
	return &txLedger{tx: tx}
}

// ──────────────────────────────────────────────────────────────────────────────
// txLedger
// ──────────────────────────────────────────────────────────────────────────────

type txLedger struct {
	tx *sqlx.Tx
}

func (l *txLedger) TransferFrom(ctx context.Context, spender, payer, payee common.Address, amount decimal.Decimal) error {
	if err := domain.ValidateAmount(amount); err != nil {
		return err
	}

	var allowed decimal.Decimal
	err := l.tx.GetContext(ctx, &allowed,
		`SELECT amount FROM allowances WHERE owner = $1 AND spender = $2 FOR UPDATE`,
		payer, spender)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("ledger_repo.TransferFrom allowance: %w", err)
	}
	if allowed.LessThan(amount) {
		return domain.ErrInsufficientAllowance
	}

	if err = debit(ctx, l.tx, payer, amount); err != nil {
		return err
	}
	if err = credit(ctx, l.tx, payee, amount); err != nil {
		return fmt.Errorf("ledger_repo.TransferFrom: %w", err)
	}
	_, err = l.tx.ExecContext(ctx,
		`UPDATE allowances SET amount = amount - $1, updated_at = now() WHERE owner = $2 AND spender = $3`,
		amount, payer, spender)
	if err != nil {
		return fmt.Errorf("ledger_repo.TransferFrom spend allowance: %w", err)
	}
	return logEntry(ctx, l.tx, ledger.EntryTransferFrom, spender, payer, payee, amount)
}

func (l *txLedger) Transfer(ctx context.Context, from, to common.Address, amount decimal.Decimal) error {
	if err := domain.ValidateAmount(amount); err != nil {
		return err
	}
	if err := debit(ctx, l.tx, from, amount); err != nil {
		return err
	}
	if err := credit(ctx, l.tx, to, amount); err != nil {
		return fmt.Errorf("ledger_repo.Transfer: %w", err)
	}
	return logEntry(ctx, l.tx, ledger.EntryTransfer, common.Address{}, from, to, amount)
}

// debit locks owner's balance row and subtracts amount, failing with
// ErrInsufficientFunds when the balance is too low.
func debit(ctx context.Context, tx *sqlx.Tx, owner common.Address, amount decimal.Decimal) error {
	var bal decimal.Decimal
	err := tx.GetContext(ctx, &bal, `SELECT balance FROM balances WHERE owner = $1 FOR UPDATE`, owner)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("ledger_repo.debit lock: %w", err)
	}
	if bal.LessThan(amount) {
		return domain.ErrInsufficientFunds
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE balances SET balance = balance - $1, updated_at = now() WHERE owner = $2`,
		amount, owner)
	if err != nil {
		return fmt.Errorf("ledger_repo.debit update: %w", err)
	}
	return nil
}

func credit(ctx context.Context, tx *sqlx.Tx, owner common.Address, amount decimal.Decimal) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO balances (owner, balance, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (owner) DO UPDATE
		SET balance = balances.balance + EXCLUDED.balance, updated_at = now()`,
		owner, amount)
	if err != nil {
		return fmt.Errorf("credit: %w", err)
	}
	return nil
}

func logEntry(ctx context.Context, tx *sqlx.Tx, kind ledger.EntryKind, spender, from, to common.Address, amount decimal.Decimal) error {
	e := ledger.Entry{
		ID:        uuid.New(),
		Kind:      kind,
		Spender:   spender,
		From:      from,
		To:        to,
		Amount:    amount,
		CreatedAt: time.Now().UTC(),
	}
	query := `
		INSERT INTO ledger_entries (id, kind, spender, from_addr, to_addr, amount, created_at)
		VALUES (:id, :kind, :spender, :from_addr, :to_addr, :amount, :created_at)`
	if _, err := tx.NamedExecContext(ctx, query, e); err != nil {
		return fmt.Errorf("ledger_repo.logEntry: %w", err)
	}
	return nil
}
