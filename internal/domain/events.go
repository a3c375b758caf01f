package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// EventKind names a committed state change pushed to subscribers.
type EventKind string

const (
	EventMarketCreated     EventKind = "market_created"
	EventPositionBought    EventKind = "position_bought"
	EventMarketResolved    EventKind = "market_resolved"
	EventMarketInvalidated EventKind = "market_invalidated"
	EventWinningsClaimed   EventKind = "winnings_claimed"
	EventMarketExpired     EventKind = "market_expired"
)

// Event describes one committed mutation. Account, Yes and Amount are set
// only for kinds that carry them.
type Event struct {
	Kind    EventKind
	Market  MarketInfo
	Account common.Address
	Yes     bool
	Amount  decimal.Decimal
	At      time.Time
}
