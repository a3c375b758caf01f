// Package ledger defines the settlement-token balance ledger the market engine
// moves funds through, plus an in-memory implementation.
package ledger

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Ledger moves settlement tokens. Both calls are atomic: they either move the
// full amount or fail with no effect.
type Ledger interface {
	// TransferFrom moves amount from payer to payee using spender's allowance.
	TransferFrom(ctx context.Context, spender, payer, payee common.Address, amount decimal.Decimal) error
	// Transfer moves amount from one account to another.
	Transfer(ctx context.Context, from, to common.Address, amount decimal.Decimal) error
}

// Accounts exposes the token-side operations the front-end drives directly
// (balance, allowance, approve) and the administrative mint.
type Accounts interface {
	BalanceOf(ctx context.Context, owner common.Address) (decimal.Decimal, error)
	Allowance(ctx context.Context, owner, spender common.Address) (decimal.Decimal, error)
	Approve(ctx context.Context, owner, spender common.Address, amount decimal.Decimal) error
	Mint(ctx context.Context, to common.Address, amount decimal.Decimal) error
	// Journal lists entries where addr is payer or payee, newest first.
	Journal(ctx context.Context, addr common.Address, limit, offset int) ([]Entry, error)
}

// EntryKind classifies a journal entry.
type EntryKind string

const (
	EntryTransfer     EntryKind = "transfer"
	EntryTransferFrom EntryKind = "transfer_from"
	EntryMint         EntryKind = "mint"
)

// Entry is one line of the transfer journal.
type Entry struct {
	ID        uuid.UUID       `json:"id"         db:"id"`
	Kind      EntryKind       `json:"kind"       db:"kind"`
	Spender   common.Address  `json:"spender"    db:"spender"`
	From      common.Address  `json:"from"       db:"from_addr"`
	To        common.Address  `json:"to"         db:"to_addr"`
	Amount    decimal.Decimal `json:"amount"     db:"amount"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}
