package ws

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evetabi/yesno/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	marketID = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	buyer    = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	at       = time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)
)

func TestMessageFor_PositionBought(t *testing.T) {
	msg := messageFor(domain.Event{
		Kind:    domain.EventPositionBought,
		Market:  domain.MarketInfo{ID: marketID, YesPool: decimal.NewFromInt(100), NoPool: decimal.NewFromInt(50), YesPrice: 3333, NoPrice: 6667},
		Account: buyer,
		Yes:     false,
		Amount:  decimal.NewFromInt(7),
		At:      at,
	})

	bought, ok := msg.(PositionBoughtMessage)
	require.True(t, ok, "got %T", msg)
	assert.Equal(t, MsgTypePositionBought, bought.Type)
	assert.Equal(t, "no", bought.Outcome)
	assert.Equal(t, marketID, bought.MarketID)
	assert.Equal(t, int64(3333), bought.YesPrice)
	assert.Equal(t, at, bought.Timestamp)
}

func TestMessageFor_Lifecycle(t *testing.T) {
	for _, kind := range []domain.EventKind{
		domain.EventMarketCreated,
		domain.EventMarketResolved,
		domain.EventMarketInvalidated,
	} {
		msg := messageFor(domain.Event{Kind: kind, Market: domain.MarketInfo{ID: marketID}})
		lifecycle, ok := msg.(MarketMessage)
		require.True(t, ok, "%s: got %T", kind, msg)
		assert.Equal(t, MsgType(kind), lifecycle.Type)
		assert.False(t, lifecycle.Timestamp.IsZero(), "missing time is filled in")
	}
}

func TestMessageFor_WireShape(t *testing.T) {
	msg := messageFor(domain.Event{
		Kind:    domain.EventWinningsClaimed,
		Market:  domain.MarketInfo{ID: marketID},
		Account: buyer,
		Amount:  decimal.RequireFromString("1500000000000000000"),
		At:      at,
	})
	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "winnings_claimed", decoded["type"])
	assert.Equal(t, "1500000000000000000", decoded["amount"], "amounts travel as strings")
	assert.Equal(t, strings.ToLower(buyer.Hex()), decoded["claimer"])
}
