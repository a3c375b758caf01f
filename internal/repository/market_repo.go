package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evetabi/yesno/internal/domain"
	"github.com/jmoiron/sqlx"
)

// registryLockKey is the advisory lock that serialises registry appends.
const registryLockKey = 0x59e5_0001

// MarketRepository handles all database operations for markets and positions.
type MarketRepository struct {
	db *sqlx.DB
}

// NewMarketRepository creates a new MarketRepository.
func NewMarketRepository(db *sqlx.DB) *MarketRepository {
	return &MarketRepository{db: db}
}

// GetByID fetches a committed market by its address.
func (r *MarketRepository) GetByID(ctx context.Context, id common.Address) (*domain.Market, error) {
	var m domain.Market
	err := r.db.GetContext(ctx, &m, `SELECT * FROM markets WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrMarketNotFound
		}
		return nil, fmt.Errorf("market_repo.GetByID: %w", err)
	}
	return &m, nil
}

// Count returns the number of registered markets.
func (r *MarketRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM markets`); err != nil {
		return 0, fmt.Errorf("market_repo.Count: %w", err)
	}
	return n, nil
}

// List returns markets in registry order. limit must already be clipped.
func (r *MarketRepository) List(ctx context.Context, offset, limit int) ([]*domain.Market, error) {
	markets := make([]*domain.Market, 0, limit)
	err := r.db.SelectContext(ctx, &markets,
		`SELECT * FROM markets ORDER BY sequence ASC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("market_repo.List: %w", err)
	}
	return markets, nil
}

// GetPosition fetches owner's position; returns an empty position when none
// exists. q may be the pool or an open transaction.
func (r *MarketRepository) GetPosition(ctx context.Context, q sqlx.QueryerContext, market, owner common.Address) (*domain.Position, error) {
	var p domain.Position
	err := sqlx.GetContext(ctx, q, &p,
		`SELECT * FROM positions WHERE market_id = $1 AND owner = $2`,
		market, owner)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.NewPosition(market, owner), nil
		}
		return nil, fmt.Errorf("market_repo.GetPosition: %w", err)
	}
	return &p, nil
}

// ── Transactional helpers ────────────────────────────────────────────────────

// LockByID reads a market with FOR UPDATE, holding its row lock until tx ends.
func (r *MarketRepository) LockByID(ctx context.Context, tx *sqlx.Tx, id common.Address) (*domain.Market, error) {
	var m domain.Market
	err := tx.GetContext(ctx, &m, `SELECT * FROM markets WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrMarketNotFound
		}
		return nil, fmt.Errorf("market_repo.LockByID: %w", err)
	}
	return &m, nil
}

// ReserveSequence takes the registry advisory lock for the rest of tx and
// returns the next registry index.
func (r *MarketRepository) ReserveSequence(ctx context.Context, tx *sqlx.Tx) (int64, error) {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, registryLockKey); err != nil {
		return 0, fmt.Errorf("market_repo.ReserveSequence lock: %w", err)
	}
	var next int64
	if err := tx.GetContext(ctx, &next, `SELECT COALESCE(MAX(sequence) + 1, 0) FROM markets`); err != nil {
		return 0, fmt.Errorf("market_repo.ReserveSequence: %w", err)
	}
	return next, nil
}

// Insert adds a new market row inside tx.
func (r *MarketRepository) Insert(ctx context.Context, tx *sqlx.Tx, m *domain.Market) error {
	query := `
		INSERT INTO markets
			(id, sequence, question, end_time, yes_pool, no_pool, initial_liquidity,
			 total_yes_shares, total_no_shares, total_volume, status, outcome, resolver,
			 created_at, resolved_at, revision)
		VALUES
			(:id, :sequence, :question, :end_time, :yes_pool, :no_pool, :initial_liquidity,
			 :total_yes_shares, :total_no_shares, :total_volume, :status, :outcome, :resolver,
			 :created_at, :resolved_at, :revision)`
	if _, err := tx.NamedExecContext(ctx, query, m); err != nil {
		return fmt.Errorf("market_repo.Insert: %w", err)
	}
	return nil
}

// Update writes the mutable columns of m inside tx.
func (r *MarketRepository) Update(ctx context.Context, tx *sqlx.Tx, m *domain.Market) error {
	query := `
		UPDATE markets
		SET yes_pool         = :yes_pool,
		    no_pool          = :no_pool,
		    total_yes_shares = :total_yes_shares,
		    total_no_shares  = :total_no_shares,
		    total_volume     = :total_volume,
		    status           = :status,
		    outcome          = :outcome,
		    resolved_at      = :resolved_at,
		    revision         = :revision
		WHERE id = :id`
	res, err := tx.NamedExecContext(ctx, query, m)
	if err != nil {
		return fmt.Errorf("market_repo.Update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrMarketNotFound
	}
	return nil
}

// UpsertPosition inserts or overwrites a position inside tx.
func (r *MarketRepository) UpsertPosition(ctx context.Context, tx *sqlx.Tx, p *domain.Position) error {
	query := `
		INSERT INTO positions
			(market_id, owner, yes_shares, no_shares, claimed, claimed_amount, claimed_at, updated_at)
		VALUES
			(:market_id, :owner, :yes_shares, :no_shares, :claimed, :claimed_amount, :claimed_at, :updated_at)
		ON CONFLICT (market_id, owner) DO UPDATE
		SET yes_shares     = EXCLUDED.yes_shares,
		    no_shares      = EXCLUDED.no_shares,
		    claimed        = EXCLUDED.claimed,
		    claimed_amount = EXCLUDED.claimed_amount,
		    claimed_at     = EXCLUDED.claimed_at,
		    updated_at     = EXCLUDED.updated_at`
	if _, err := tx.NamedExecContext(ctx, query, p); err != nil {
		return fmt.Errorf("market_repo.UpsertPosition: %w", err)
	}
	return nil
}
