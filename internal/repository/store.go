package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evetabi/yesno/internal/domain"
	"github.com/evetabi/yesno/internal/ledger"
	"github.com/evetabi/yesno/internal/store"
	"github.com/jmoiron/sqlx"
)

// Store is the PostgreSQL implementation of store.Store. Market locks are row
// locks (SELECT … FOR UPDATE) and the ledger shares the market transaction.
type Store struct {
	db      *sqlx.DB
	markets *MarketRepository
	ledger  *LedgerRepository
}

// NewStore wires the repositories over db.
func NewStore(db *sqlx.DB) *Store {
	return &Store{
		db:      db,
		markets: NewMarketRepository(db),
		ledger:  NewLedgerRepository(db),
	}
}

// Ledger exposes the ledger repository for back-office reads.
func (s *Store) Ledger() *LedgerRepository { return s.ledger }

// Accounts implements store.Store.
func (s *Store) Accounts() ledger.Accounts { return s.ledger }

// GetMarket implements store.Store.
func (s *Store) GetMarket(ctx context.Context, id common.Address) (*domain.Market, error) {
	return s.markets.GetByID(ctx, id)
}

// GetPosition implements store.Store.
func (s *Store) GetPosition(ctx context.Context, market, owner common.Address) (*domain.Position, error) {
	if _, err := s.markets.GetByID(ctx, market); err != nil {
		return nil, err
	}
	return s.markets.GetPosition(ctx, s.db, market, owner)
}

// CountMarkets implements store.Store.
func (s *Store) CountMarkets(ctx context.Context) (int64, error) {
	return s.markets.Count(ctx)
}

// ListMarkets implements store.Store.
func (s *Store) ListMarkets(ctx context.Context, offset, limit int) ([]*domain.Market, error) {
	n, err := s.markets.Count(ctx)
	if err != nil {
		return nil, err
	}
	start, end := store.ClipPage(int(n), offset, limit)
	if start == end {
		return []*domain.Market{}, nil
	}
	return s.markets.List(ctx, start, end-start)
}

// Begin implements store.Store.
func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store.Begin: %w", err)
	}
	return &pgTx{tx: tx, markets: s.markets, ledger: s.ledger.WithTx(tx)}, nil
}

type pgTx struct {
	tx      *sqlx.Tx
	markets *MarketRepository
	ledger  ledger.Ledger
}

func (t *pgTx) LockMarket(ctx context.Context, id common.Address) (*domain.Market, error) {
	return t.markets.LockByID(ctx, t.tx, id)
}

func (t *pgTx) GetPosition(ctx context.Context, market, owner common.Address) (*domain.Position, error) {
	return t.markets.GetPosition(ctx, t.tx, market, owner)
}

func (t *pgTx) NextSequence(ctx context.Context) (int64, error) {
	return t.markets.ReserveSequence(ctx, t.tx)
}

func (t *pgTx) InsertMarket(ctx context.Context, m *domain.Market) error {
	return t.markets.Insert(ctx, t.tx, m)
}

func (t *pgTx) UpdateMarket(ctx context.Context, m *domain.Market) error {
	return t.markets.Update(ctx, t.tx, m)
}

func (t *pgTx) SavePosition(ctx context.Context, p *domain.Position) error {
	return t.markets.UpsertPosition(ctx, t.tx, p)
}

func (t *pgTx) Ledger() ledger.Ledger { return t.ledger }

func (t *pgTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("store.Commit: %w", err)
	}
	return nil
}

func (t *pgTx) Rollback() error {
	err := t.tx.Rollback()
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("store.Rollback: %w", err)
	}
	return nil
}
