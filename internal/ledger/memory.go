package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evetabi/yesno/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type allowanceKey struct {
	owner, spender common.Address
}

// Memory is a process-local ledger. It is safe for concurrent use.
type Memory struct {
	mu         sync.Mutex
	balances   map[common.Address]decimal.Decimal
	allowances map[allowanceKey]decimal.Decimal
	journal    []Entry
	now        func() time.Time
}

// NewMemory returns an empty ledger.
func NewMemory() *Memory {
	return &Memory{
		balances:   make(map[common.Address]decimal.Decimal),
		allowances: make(map[allowanceKey]decimal.Decimal),
		now:        time.Now,
	}
}

// ── Accounts ─────────────────────────────────────────────────────────────────

// BalanceOf returns owner's balance (zero for unknown accounts).
func (l *Memory) BalanceOf(_ context.Context, owner common.Address) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[owner], nil
}

// Allowance returns how much spender may still pull from owner.
func (l *Memory) Allowance(_ context.Context, owner, spender common.Address) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allowances[allowanceKey{owner, spender}], nil
}

// Approve overwrites spender's allowance over owner's funds. Zero revokes it.
func (l *Memory) Approve(_ context.Context, owner, spender common.Address, amount decimal.Decimal) error {
	if amount.IsNegative() || !amount.IsInteger() {
		return domain.ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	key := allowanceKey{owner, spender}
	if amount.IsZero() {
		delete(l.allowances, key)
		return nil
	}
	l.allowances[key] = amount
	return nil
}

// Mint credits newly issued tokens to to.
func (l *Memory) Mint(_ context.Context, to common.Address, amount decimal.Decimal) error {
	if err := domain.ValidateAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[to] = l.balances[to].Add(amount)
	l.record(Entry{Kind: EntryMint, To: to, Amount: amount})
	return nil
}

// ── Ledger ───────────────────────────────────────────────────────────────────

// TransferFrom implements Ledger. Allowance is checked before balance.
func (l *Memory) TransferFrom(_ context.Context, spender, payer, payee common.Address, amount decimal.Decimal) error {
	if err := domain.ValidateAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	key := allowanceKey{payer, spender}
	if l.allowances[key].LessThan(amount) {
		return domain.ErrInsufficientAllowance
	}
	if l.balances[payer].LessThan(amount) {
		return domain.ErrInsufficientFunds
	}
	l.allowances[key] = l.allowances[key].Sub(amount)
	l.move(payer, payee, amount)
	l.record(Entry{Kind: EntryTransferFrom, Spender: spender, From: payer, To: payee, Amount: amount})
	return nil
}

// Transfer implements Ledger.
func (l *Memory) Transfer(_ context.Context, from, to common.Address, amount decimal.Decimal) error {
	if err := domain.ValidateAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.balances[from].LessThan(amount) {
		return domain.ErrInsufficientFunds
	}
	l.move(from, to, amount)
	l.record(Entry{Kind: EntryTransfer, From: from, To: to, Amount: amount})
	return nil
}

// move must be called with l.mu held.
func (l *Memory) move(from, to common.Address, amount decimal.Decimal) {
	l.balances[from] = l.balances[from].Sub(amount)
	l.balances[to] = l.balances[to].Add(amount)
}

// record must be called with l.mu held.
func (l *Memory) record(e Entry) {
	e.ID = uuid.New()
	e.CreatedAt = l.now().UTC()
	l.journal = append(l.journal, e)
}

// Entries returns a copy of every entry recorded so far, oldest first.
func (l *Memory) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.journal))
	copy(out, l.journal)
	return out
}

// Journal returns the entries touching addr, newest first.
func (l *Memory) Journal(_ context.Context, addr common.Address, limit, offset int) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := []Entry{}
	skipped := 0
	for i := len(l.journal) - 1; i >= 0 && len(out) < limit; i-- {
		e := l.journal[i]
		if e.From != addr && e.To != addr {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// ── Scoped transactions ──────────────────────────────────────────────────────

// MemoryTx stages transfers as net deltas. Nothing is visible to other
// callers until Commit, which re-checks every touched balance and allowance
// against the current ledger and applies them all or none.
type MemoryTx struct {
	l          *Memory
	balances   map[common.Address]decimal.Decimal
	allowances map[allowanceKey]decimal.Decimal
	pending    []Entry
}

// Begin starts a scoped transaction on l.
func (l *Memory) Begin() *MemoryTx {
	tx := &MemoryTx{l: l}
	tx.reset()
	return tx
}

func (t *MemoryTx) reset() {
	t.balances = make(map[common.Address]decimal.Decimal)
	t.allowances = make(map[allowanceKey]decimal.Decimal)
	t.pending = nil
}

// view returns what owner's balance and key's allowance would be if t
// committed now.
func (t *MemoryTx) view(owner common.Address, key *allowanceKey) (balance, allowance decimal.Decimal) {
	t.l.mu.Lock()
	defer t.l.mu.Unlock()
	balance = t.l.balances[owner].Add(t.balances[owner])
	if key != nil {
		allowance = t.l.allowances[*key].Add(t.allowances[*key])
	}
	return balance, allowance
}

// TransferFrom implements Ledger. Allowance is checked before balance.
func (t *MemoryTx) TransferFrom(_ context.Context, spender, payer, payee common.Address, amount decimal.Decimal) error {
	if err := domain.ValidateAmount(amount); err != nil {
		return err
	}
	key := allowanceKey{payer, spender}
	balance, allowance := t.view(payer, &key)
	if allowance.LessThan(amount) {
		return domain.ErrInsufficientAllowance
	}
	if balance.LessThan(amount) {
		return domain.ErrInsufficientFunds
	}
	t.allowances[key] = t.allowances[key].Sub(amount)
	t.stage(Entry{Kind: EntryTransferFrom, Spender: spender, From: payer, To: payee, Amount: amount})
	return nil
}

// Transfer implements Ledger.
func (t *MemoryTx) Transfer(_ context.Context, from, to common.Address, amount decimal.Decimal) error {
	if err := domain.ValidateAmount(amount); err != nil {
		return err
	}
	if balance, _ := t.view(from, nil); balance.LessThan(amount) {
		return domain.ErrInsufficientFunds
	}
	t.stage(Entry{Kind: EntryTransfer, From: from, To: to, Amount: amount})
	return nil
}

func (t *MemoryTx) stage(e Entry) {
	t.balances[e.From] = t.balances[e.From].Sub(e.Amount)
	t.balances[e.To] = t.balances[e.To].Add(e.Amount)
	t.pending = append(t.pending, e)
}

// Commit applies every staged transfer atomically. It fails with
// ErrInsufficientAllowance or ErrInsufficientFunds, leaving the ledger
// untouched, when a concurrent commit spent what this one relied on.
func (t *MemoryTx) Commit() error {
	l := t.l
	l.mu.Lock()
	defer l.mu.Unlock()
	defer t.reset()

	for key, d := range t.allowances {
		if l.allowances[key].Add(d).IsNegative() {
			return domain.ErrInsufficientAllowance
		}
	}
	for owner, d := range t.balances {
		if l.balances[owner].Add(d).IsNegative() {
			return domain.ErrInsufficientFunds
		}
	}

	for key, d := range t.allowances {
		next := l.allowances[key].Add(d)
		if next.IsZero() {
			delete(l.allowances, key)
		} else {
			l.allowances[key] = next
		}
	}
	for owner, d := range t.balances {
		l.balances[owner] = l.balances[owner].Add(d)
	}
	for _, e := range t.pending {
		l.record(e)
	}
	return nil
}

// Rollback discards every staged transfer.
func (t *MemoryTx) Rollback() {
	t.reset()
}
