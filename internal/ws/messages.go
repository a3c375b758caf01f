// Package ws holds WebSocket message types and the Hub implementation.
// messages.go defines all message structs pushed to connected clients.
package ws

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evetabi/yesno/internal/domain"
	"github.com/shopspring/decimal"
)

// MsgType identifies the kind of WS message so clients can switch on it.
type MsgType string

const (
	MsgTypeMarketCreated     MsgType = "market_created"
	MsgTypePositionBought    MsgType = "position_bought"
	MsgTypeMarketResolved    MsgType = "market_resolved"
	MsgTypeMarketInvalidated MsgType = "market_invalidated"
	MsgTypeWinningsClaimed   MsgType = "winnings_claimed"
	MsgTypeMarketExpired     MsgType = "market_expired"
	MsgTypeSubscribed        MsgType = "subscribed"
	MsgTypeError             MsgType = "error"
)

// Client command actions.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)

// Command is the only message clients send, e.g.
// {"action":"subscribe","market":"0x..."}.
type Command struct {
	Action string `json:"action"`
	Market string `json:"market,omitempty"`
}

// SubscriptionMessage acknowledges a filter change. Market is null when the
// client receives every market.
type SubscriptionMessage struct {
	Type   MsgType         `json:"type"`
	Market *common.Address `json:"market"`
}

// ──────────────────────────────────────────────────────────────────────────────
// MarketMessage: lifecycle changes (created, resolved, invalidated, expired)
// ──────────────────────────────────────────────────────────────────────────────

// MarketMessage carries the full marketInfo view after a lifecycle change.
type MarketMessage struct {
	Type      MsgType           `json:"type"`
	Market    domain.MarketInfo `json:"market"`
	Timestamp time.Time         `json:"timestamp"`
}

// ──────────────────────────────────────────────────────────────────────────────
// PositionBoughtMessage: broadcast after a bet so prices refresh for all.
// ──────────────────────────────────────────────────────────────────────────────

// PositionBoughtMessage notifies clients that the pool ratios have changed.
type PositionBoughtMessage struct {
	Type      MsgType         `json:"type"`
	MarketID  common.Address  `json:"market_id"`
	Buyer     common.Address  `json:"buyer"`
	Outcome   string          `json:"outcome"` // "yes" | "no"
	Amount    decimal.Decimal `json:"amount"`
	YesPool   decimal.Decimal `json:"yes_pool"`
	NoPool    decimal.Decimal `json:"no_pool"`
	YesPrice  int64           `json:"yes_price"`
	NoPrice   int64           `json:"no_price"`
	Timestamp time.Time       `json:"timestamp"`
}

// ──────────────────────────────────────────────────────────────────────────────
// WinningsClaimedMessage
// ──────────────────────────────────────────────────────────────────────────────

// WinningsClaimedMessage reports a successful payout.
type WinningsClaimedMessage struct {
	Type      MsgType         `json:"type"`
	MarketID  common.Address  `json:"market_id"`
	Claimer   common.Address  `json:"claimer"`
	Amount    decimal.Decimal `json:"amount"`
	Timestamp time.Time       `json:"timestamp"`
}

// ──────────────────────────────────────────────────────────────────────────────
// ErrorMessage: sent to a single client on a non-fatal error.
// ──────────────────────────────────────────────────────────────────────────────

// ErrorMessage is sent directly to one client (not broadcast).
type ErrorMessage struct {
	Type    MsgType `json:"type"`
	Code    string  `json:"code"`
	Message string  `json:"message"`
}

// outcomeName maps a side flag to its wire name.
func outcomeName(yes bool) string {
	if yes {
		return "yes"
	}
	return "no"
}

// messageFor converts a committed domain event into its wire message.
func messageFor(evt domain.Event) interface{} {
	ts := evt.At
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	switch evt.Kind {
	case domain.EventPositionBought:
		return PositionBoughtMessage{
			Type:      MsgTypePositionBought,
			MarketID:  evt.Market.ID,
			Buyer:     evt.Account,
			Outcome:   outcomeName(evt.Yes),
			Amount:    evt.Amount,
			YesPool:   evt.Market.YesPool,
			NoPool:    evt.Market.NoPool,
			YesPrice:  evt.Market.YesPrice,
			NoPrice:   evt.Market.NoPrice,
			Timestamp: ts,
		}
	case domain.EventWinningsClaimed:
		return WinningsClaimedMessage{
			Type:      MsgTypeWinningsClaimed,
			MarketID:  evt.Market.ID,
			Claimer:   evt.Account,
			Amount:    evt.Amount,
			Timestamp: ts,
		}
	default:
		return MarketMessage{Type: MsgType(evt.Kind), Market: evt.Market, Timestamp: ts}
	}
}
