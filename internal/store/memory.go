package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evetabi/yesno/internal/domain"
	"github.com/evetabi/yesno/internal/ledger"
)

var errTxDone = errors.New("store: transaction already finished")

type positionKey struct {
	market, owner common.Address
}

// lock is a mutex that can be abandoned when ctx ends.
type lock chan struct{}

func newLock() lock { return make(lock, 1) }

func (l lock) acquire(ctx context.Context) error {
	select {
	case l <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l lock) release() { <-l }

// Memory is an in-process Store backed by maps and a ledger.Memory.
type Memory struct {
	mu        sync.RWMutex // guards the maps and order
	markets   map[common.Address]*domain.Market
	order     []common.Address
	positions map[positionKey]*domain.Position
	locks     map[common.Address]lock

	registry lock
	ledger   *ledger.Memory
}

// NewMemory returns an empty store whose funds live in l.
func NewMemory(l *ledger.Memory) *Memory {
	return &Memory{
		markets:   make(map[common.Address]*domain.Market),
		positions: make(map[positionKey]*domain.Position),
		locks:     make(map[common.Address]lock),
		registry:  newLock(),
		ledger:    l,
	}
}

// Accounts implements Store.
func (s *Memory) Accounts() ledger.Accounts { return s.ledger }

// GetMarket implements Store.
func (s *Memory) GetMarket(_ context.Context, id common.Address) (*domain.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.markets[id]
	if !ok {
		return nil, domain.ErrMarketNotFound
	}
	return m.Clone(), nil
}

// GetPosition implements Store.
func (s *Memory) GetPosition(_ context.Context, market, owner common.Address) (*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.markets[market]; !ok {
		return nil, domain.ErrMarketNotFound
	}
	if p, ok := s.positions[positionKey{market, owner}]; ok {
		return p.Clone(), nil
	}
	return domain.NewPosition(market, owner), nil
}

// CountMarkets implements Store.
func (s *Memory) CountMarkets(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.order)), nil
}

// ListMarkets implements Store.
func (s *Memory) ListMarkets(_ context.Context, offset, limit int) ([]*domain.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start, end := ClipPage(len(s.order), offset, limit)
	out := make([]*domain.Market, 0, end-start)
	for _, id := range s.order[start:end] {
		out = append(out, s.markets[id].Clone())
	}
	return out, nil
}

// Begin implements Store.
func (s *Memory) Begin(_ context.Context) (Tx, error) {
	return &memoryTx{
		s:         s,
		ledger:    s.ledger.Begin(),
		locked:    make(map[common.Address]*domain.Market),
		positions: make(map[positionKey]*domain.Position),
	}, nil
}

func (s *Memory) lockFor(id common.Address) lock {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = newLock()
		s.locks[id] = l
	}
	return l
}

// ──────────────────────────────────────────────────────────────────────────────
// memoryTx
// ──────────────────────────────────────────────────────────────────────────────

type memoryTx struct {
	s      *Memory
	ledger *ledger.MemoryTx

	locked    map[common.Address]*domain.Market // staged copies of locked markets
	dirty     map[common.Address]bool
	inserted  []*domain.Market
	positions map[positionKey]*domain.Position

	registryHeld bool
	done         bool
}

func (t *memoryTx) LockMarket(ctx context.Context, id common.Address) (*domain.Market, error) {
	if t.done {
		return nil, errTxDone
	}
	if m, ok := t.locked[id]; ok {
		return m, nil
	}
	l := t.s.lockFor(id)
	if err := l.acquire(ctx); err != nil {
		return nil, fmt.Errorf("store.LockMarket: %w", err)
	}
	m, err := t.s.GetMarket(ctx, id)
	if err != nil {
		l.release()
		return nil, err
	}
	t.locked[id] = m
	return m, nil
}

func (t *memoryTx) GetPosition(ctx context.Context, market, owner common.Address) (*domain.Position, error) {
	if t.done {
		return nil, errTxDone
	}
	key := positionKey{market, owner}
	if p, ok := t.positions[key]; ok {
		return p, nil
	}
	if _, ok := t.locked[market]; !ok && !t.isInserted(market) {
		return nil, fmt.Errorf("store.GetPosition: market %s not locked by this transaction", market.Hex())
	}

	t.s.mu.RLock()
	p, ok := t.s.positions[key]
	t.s.mu.RUnlock()
	if ok {
		p = p.Clone()
	} else {
		p = domain.NewPosition(market, owner)
	}
	t.positions[key] = p
	return p, nil
}

func (t *memoryTx) NextSequence(ctx context.Context) (int64, error) {
	if t.done {
		return 0, errTxDone
	}
	if !t.registryHeld {
		if err := t.s.registry.acquire(ctx); err != nil {
			return 0, fmt.Errorf("store.NextSequence: %w", err)
		}
		t.registryHeld = true
	}
	t.s.mu.RLock()
	n := len(t.s.order)
	t.s.mu.RUnlock()
	return int64(n + len(t.inserted)), nil
}

func (t *memoryTx) InsertMarket(_ context.Context, m *domain.Market) error {
	if t.done {
		return errTxDone
	}
	if !t.registryHeld {
		return errors.New("store.InsertMarket: registry not reserved, call NextSequence first")
	}
	t.s.mu.RLock()
	_, exists := t.s.markets[m.ID]
	t.s.mu.RUnlock()
	if exists || t.isInserted(m.ID) {
		return fmt.Errorf("store.InsertMarket: market %s already exists", m.ID.Hex())
	}
	t.inserted = append(t.inserted, m)
	return nil
}

func (t *memoryTx) UpdateMarket(_ context.Context, m *domain.Market) error {
	if t.done {
		return errTxDone
	}
	if _, ok := t.locked[m.ID]; !ok {
		return fmt.Errorf("store.UpdateMarket: market %s not locked by this transaction", m.ID.Hex())
	}
	t.locked[m.ID] = m
	if t.dirty == nil {
		t.dirty = make(map[common.Address]bool)
	}
	t.dirty[m.ID] = true
	return nil
}

func (t *memoryTx) SavePosition(_ context.Context, p *domain.Position) error {
	if t.done {
		return errTxDone
	}
	if _, ok := t.locked[p.MarketID]; !ok && !t.isInserted(p.MarketID) {
		return fmt.Errorf("store.SavePosition: market %s not locked by this transaction", p.MarketID.Hex())
	}
	t.positions[positionKey{p.MarketID, p.Owner}] = p
	return nil
}

func (t *memoryTx) Ledger() ledger.Ledger { return t.ledger }

func (t *memoryTx) Commit() error {
	if t.done {
		return errTxDone
	}
	if err := t.ledger.Commit(); err != nil {
		t.finish()
		return err
	}

	t.s.mu.Lock()
	for _, m := range t.inserted {
		t.s.markets[m.ID] = m.Clone()
		t.s.order = append(t.s.order, m.ID)
	}
	for id := range t.dirty {
		t.s.markets[id] = t.locked[id].Clone()
	}
	for key, p := range t.positions {
		t.s.positions[key] = p.Clone()
	}
	t.s.mu.Unlock()

	t.finish()
	return nil
}

func (t *memoryTx) Rollback() error {
	if t.done {
		return nil
	}
	t.ledger.Rollback()
	t.finish()
	return nil
}

func (t *memoryTx) finish() {
	t.done = true
	for id := range t.locked {
		t.s.lockFor(id).release()
	}
	if t.registryHeld {
		t.s.registry.release()
	}
}

func (t *memoryTx) isInserted(id common.Address) bool {
	for _, m := range t.inserted {
		if m.ID == id {
			return true
		}
	}
	return false
}
