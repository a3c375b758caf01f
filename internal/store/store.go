// Package store defines the persistence boundary of the market engine.
//
// Mutations run inside a Tx that holds the exclusive lock of every market it
// touches. Nothing a Tx writes is visible to readers until Commit.
package store

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evetabi/yesno/internal/domain"
	"github.com/evetabi/yesno/internal/ledger"
)

// Store is the read side plus the transaction factory.
type Store interface {
	// Begin opens a transaction. Callers must Commit or Rollback it.
	Begin(ctx context.Context) (Tx, error)

	// GetMarket returns a copy of the committed market or domain.ErrMarketNotFound.
	GetMarket(ctx context.Context, id common.Address) (*domain.Market, error)

	// GetPosition returns the committed position, or an empty one when owner
	// never traded in the market.
	GetPosition(ctx context.Context, market, owner common.Address) (*domain.Position, error)

	// CountMarkets returns the registry length.
	CountMarkets(ctx context.Context) (int64, error)

	// ListMarkets returns registry entries [offset, offset+limit) clipped to
	// the registry length, in creation order.
	ListMarkets(ctx context.Context, offset, limit int) ([]*domain.Market, error)

	// Accounts exposes the token accounts backing this store's ledger.
	Accounts() ledger.Accounts
}

// Tx is a unit of work.
type Tx interface {
	// LockMarket acquires the market's exclusive lock and returns a mutable
	// copy. The lock is held until Commit or Rollback.
	LockMarket(ctx context.Context, id common.Address) (*domain.Market, error)

	// GetPosition returns a mutable copy of owner's position in a market the
	// Tx already locked, or a fresh empty position.
	GetPosition(ctx context.Context, market, owner common.Address) (*domain.Position, error)

	// NextSequence serialises registry appends and returns the index the
	// next inserted market will take.
	NextSequence(ctx context.Context) (int64, error)

	InsertMarket(ctx context.Context, m *domain.Market) error
	UpdateMarket(ctx context.Context, m *domain.Market) error
	SavePosition(ctx context.Context, p *domain.Position) error

	// Ledger returns a ledger whose transfers commit and roll back with the Tx.
	Ledger() ledger.Ledger

	Commit() error
	// Rollback is a no-op after Commit.
	Rollback() error
}

// ClipPage converts offset/limit into a [start, end) window over n entries.
// Negative inputs count as zero.
func ClipPage(n, offset, limit int) (start, end int) {
	if offset < 0 {
		offset = 0
	}
	if limit < 0 {
		limit = 0
	}
	if offset >= n {
		return n, n
	}
	end = offset + limit
	if end > n || end < offset {
		end = n
	}
	return offset, end
}
