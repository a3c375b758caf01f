package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Position holds one address's shares in one market. A position exists for
// every address that has ever bought, plus the creator's seed position.
type Position struct {
	MarketID      common.Address  `json:"market_id"      db:"market_id"`
	Owner         common.Address  `json:"owner"          db:"owner"`
	YesShares     decimal.Decimal `json:"yes_shares"     db:"yes_shares"`
	NoShares      decimal.Decimal `json:"no_shares"      db:"no_shares"`
	Claimed       bool            `json:"claimed"        db:"claimed"`
	ClaimedAmount decimal.Decimal `json:"claimed_amount" db:"claimed_amount"`
	ClaimedAt     *time.Time      `json:"claimed_at"     db:"claimed_at"`
	UpdatedAt     time.Time       `json:"updated_at"     db:"updated_at"`
}

// NewPosition returns an empty position for owner in market.
func NewPosition(market, owner common.Address) *Position {
	return &Position{
		MarketID:      market,
		Owner:         owner,
		YesShares:     decimal.Zero,
		NoShares:      decimal.Zero,
		ClaimedAmount: decimal.Zero,
	}
}

// Clone returns a deep copy of p.
func (p *Position) Clone() *Position {
	c := *p
	if p.ClaimedAt != nil {
		t := *p.ClaimedAt
		c.ClaimedAt = &t
	}
	return &c
}

// IsEmpty returns true when the position holds no shares on either side.
func (p *Position) IsEmpty() bool {
	return p.YesShares.IsZero() && p.NoShares.IsZero()
}

// PositionView is the getUserPosition response.
type PositionView struct {
	MarketID  common.Address  `json:"market_id"`
	Owner     common.Address  `json:"owner"`
	YesShares decimal.Decimal `json:"yes_shares"`
	NoShares  decimal.Decimal `json:"no_shares"`
	Claimed   bool            `json:"claimed"`
}

// View returns the public projection of p.
func (p *Position) View() PositionView {
	return PositionView{
		MarketID:  p.MarketID,
		Owner:     p.Owner,
		YesShares: p.YesShares,
		NoShares:  p.NoShares,
		Claimed:   p.Claimed,
	}
}
