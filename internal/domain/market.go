// Package domain defines the core business entities and accounting rules for
// the YES/NO prediction market ledger.
package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Types & constants
// ──────────────────────────────────────────────────────────────────────────────

// MarketStatus represents the lifecycle state of a market. The numeric values
// are the ones the front-end decodes from marketInfo.
type MarketStatus uint8

const (
	StatusActive   MarketStatus = iota // accepting bets until EndTime
	StatusResolved                     // outcome fixed by the resolver
	StatusInvalid                      // voided; positions refundable at par
)

// transitions is the complete table of legal status changes.
var transitions = map[MarketStatus][]MarketStatus{
	StatusActive: {StatusResolved, StatusInvalid},
}

// String returns the lower-case status name.
func (s MarketStatus) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusResolved:
		return "resolved"
	case StatusInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// IsTerminal returns true once the market can no longer change status.
func (s MarketStatus) IsTerminal() bool {
	return s == StatusResolved || s == StatusInvalid
}

// CanTransitionTo reports whether next is reachable from s in one step.
func (s MarketStatus) CanTransitionTo(next MarketStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// PriceScale is the fixed-point denominator of Price: 10000 = 100 %.
const PriceScale = 10000

var priceScale = decimal.NewFromInt(PriceScale)

// ──────────────────────────────────────────────────────────────────────────────
// Market
// ──────────────────────────────────────────────────────────────────────────────

// Market is the accounting state of one YES/NO question.
//
// Every unit in YesPool/NoPool is backed by exactly one share of the same
// side, so TotalYesShares == YesPool and TotalNoShares == NoPool for markets
// created by FactoryPolicy. The share totals are kept separately so payout
// math never depends on that coincidence.
type Market struct {
	ID               common.Address  `json:"id"                db:"id"`
	Sequence         int64           `json:"sequence"          db:"sequence"`
	Question         string          `json:"question"          db:"question"`
	EndTime          time.Time       `json:"end_time"          db:"end_time"`
	YesPool          decimal.Decimal `json:"yes_pool"          db:"yes_pool"`
	NoPool           decimal.Decimal `json:"no_pool"           db:"no_pool"`
	InitialLiquidity decimal.Decimal `json:"initial_liquidity" db:"initial_liquidity"`
	TotalYesShares   decimal.Decimal `json:"total_yes_shares"  db:"total_yes_shares"`
	TotalNoShares    decimal.Decimal `json:"total_no_shares"   db:"total_no_shares"`
	TotalVolume      decimal.Decimal `json:"total_volume"      db:"total_volume"`
	Status           MarketStatus    `json:"status"            db:"status"`
	Outcome          bool            `json:"outcome"           db:"outcome"`
	Resolver         common.Address  `json:"resolver"          db:"resolver"`
	CreatedAt        time.Time       `json:"created_at"        db:"created_at"`
	ResolvedAt       *time.Time      `json:"resolved_at"       db:"resolved_at"`
	// Revision starts at 1 and increases with every committed mutation.
	Revision int64 `json:"revision" db:"revision"`
}

// Clone returns a deep copy that can be mutated without affecting m.
func (m *Market) Clone() *Market {
	c := *m
	if m.ResolvedAt != nil {
		t := *m.ResolvedAt
		c.ResolvedAt = &t
	}
	return &c
}

// TotalPool returns the sum of both pools: all capital at risk.
func (m *Market) TotalPool() decimal.Decimal {
	return m.YesPool.Add(m.NoPool)
}

// Price returns the fixed-point price of one side (0–PriceScale).
//
//	price(YES) = floor(NoPool × 10000 / (YesPool + NoPool))
//	price(NO)  = 10000 − price(YES)
//
// Deriving NO from YES keeps the two prices summing to exactly PriceScale.
// Returns 0 for both sides when the pool is empty.
func (m *Market) Price(yes bool) int64 {
	total := m.TotalPool()
	if !total.IsPositive() {
		return 0
	}
	q, _ := m.NoPool.Mul(priceScale).QuoRem(total, 0)
	yesPrice := q.IntPart()
	if yes {
		return yesPrice
	}
	return PriceScale - yesPrice
}

// IsOpenAt returns true while the market accepts bets at instant now.
func (m *Market) IsOpenAt(now time.Time) bool {
	return m.Status == StatusActive && now.Before(m.EndTime)
}

// HasEnded returns true once now has reached EndTime.
func (m *Market) HasEnded(now time.Time) bool {
	return !now.Before(m.EndTime)
}

// TimeLeft returns the duration remaining until betting closes, or 0.
func (m *Market) TimeLeft(now time.Time) time.Duration {
	remaining := m.EndTime.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ──────────────────────────────────────────────────────────────────────────────
// Mutations: callers apply these to a Clone and persist it on success
// ──────────────────────────────────────────────────────────────────────────────

// Buy credits amount of one side to pos and to the matching pool.
// pos must belong to m. Nothing is mutated when an error is returned.
func (m *Market) Buy(pos *Position, yes bool, amount decimal.Decimal, now time.Time) error {
	if err := ValidateAmount(amount); err != nil {
		return err
	}
	if m.Status != StatusActive {
		return ErrMarketNotActive
	}
	if m.HasEnded(now) {
		return ErrBettingClosed
	}

	if yes {
		m.YesPool = m.YesPool.Add(amount)
		m.TotalYesShares = m.TotalYesShares.Add(amount)
		pos.YesShares = pos.YesShares.Add(amount)
	} else {
		m.NoPool = m.NoPool.Add(amount)
		m.TotalNoShares = m.TotalNoShares.Add(amount)
		pos.NoShares = pos.NoShares.Add(amount)
	}
	m.TotalVolume = m.TotalVolume.Add(amount)
	m.Revision++
	pos.UpdatedAt = now
	return nil
}

// Resolve fixes the outcome. Only the resolver may call it, only once, and
// only after EndTime.
func (m *Market) Resolve(caller common.Address, outcome bool, now time.Time) error {
	if err := m.transition(caller, StatusResolved, now); err != nil {
		return err
	}
	m.Outcome = outcome
	return nil
}

// MarkInvalid voids the market so every position is refundable at par.
func (m *Market) MarkInvalid(caller common.Address, now time.Time) error {
	return m.transition(caller, StatusInvalid, now)
}

func (m *Market) transition(caller common.Address, next MarketStatus, now time.Time) error {
	if caller != m.Resolver {
		return ErrNotResolver
	}
	if !m.Status.CanTransitionTo(next) {
		return ErrMarketNotActive
	}
	if !m.HasEnded(now) {
		return ErrMarketNotEnded
	}
	m.Status = next
	resolvedAt := now
	m.ResolvedAt = &resolvedAt
	m.Revision++
	return nil
}

// Entitlement returns what pos may withdraw given the market's current state.
//
//	Invalid:  YesShares + NoShares (refund at par)
//	Resolved: floor(winningShares × TotalPool / totalWinningShares)
//	Active:   0
//
// The result ignores pos.Claimed; claim gating happens in Claim.
func (m *Market) Entitlement(pos *Position) decimal.Decimal {
	if pos == nil {
		return decimal.Zero
	}
	switch m.Status {
	case StatusInvalid:
		return pos.YesShares.Add(pos.NoShares)
	case StatusResolved:
		shares, total := pos.NoShares, m.TotalNoShares
		if m.Outcome {
			shares, total = pos.YesShares, m.TotalYesShares
		}
		if !shares.IsPositive() || !total.IsPositive() {
			return decimal.Zero
		}
		q, _ := shares.Mul(m.TotalPool()).QuoRem(total, 0)
		return q
	default:
		return decimal.Zero
	}
}

// Claim marks pos as claimed and returns the amount the caller must be paid.
// The checks run in order: settled, not yet claimed, non-zero entitlement.
func (m *Market) Claim(pos *Position, now time.Time) (decimal.Decimal, error) {
	if !m.Status.IsTerminal() {
		return decimal.Zero, ErrMarketNotSettled
	}
	if pos.Claimed {
		return decimal.Zero, ErrAlreadyClaimed
	}
	amount := m.Entitlement(pos)
	if !amount.IsPositive() {
		return decimal.Zero, ErrNothingToClaim
	}
	pos.Claimed = true
	pos.ClaimedAmount = amount
	claimedAt := now
	pos.ClaimedAt = &claimedAt
	pos.UpdatedAt = now
	return amount, nil
}

// ValidateAmount rejects zero, negative and fractional amounts.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() || !amount.IsInteger() {
		return ErrInvalidAmount
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// MarketInfo: read model served to the front-end
// ──────────────────────────────────────────────────────────────────────────────

// MarketInfo is the marketInfo tuple plus derived prices. CreatedAt and
// TotalVolume occupy the two metadata slots between the pools and status.
type MarketInfo struct {
	ID          common.Address  `json:"id"`
	Question    string          `json:"question"`
	EndTime     time.Time       `json:"end_time"`
	YesPool     decimal.Decimal `json:"yes_pool"`
	NoPool      decimal.Decimal `json:"no_pool"`
	CreatedAt   time.Time       `json:"created_at"`
	TotalVolume decimal.Decimal `json:"total_volume"`
	Status      MarketStatus    `json:"status"`
	Outcome     bool            `json:"outcome"`
	Resolver    common.Address  `json:"resolver"`
	YesPrice    int64           `json:"yes_price"`
	NoPrice     int64           `json:"no_price"`
	StatusName  string          `json:"status_name"`
}

// Info builds the MarketInfo view of m.
func (m *Market) Info() MarketInfo {
	return MarketInfo{
		ID:          m.ID,
		Question:    m.Question,
		EndTime:     m.EndTime,
		YesPool:     m.YesPool,
		NoPool:      m.NoPool,
		CreatedAt:   m.CreatedAt,
		TotalVolume: m.TotalVolume,
		Status:      m.Status,
		Outcome:     m.Outcome,
		Resolver:    m.Resolver,
		YesPrice:    m.Price(true),
		NoPrice:     m.Price(false),
		StatusName:  m.Status.String(),
	}
}
