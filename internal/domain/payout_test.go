package domain_test

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evetabi/yesno/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPayout_SoleBettorOnWinningSide walks the canonical scenario:
//
//	create with 100 liquidity  → yes = no = 50, creator holds 50 YES + 50 NO
//	alice buys 50 YES          → yes = 100, no = 50, price(YES) = 3333
//	resolve YES
//	alice:   50 × 150 / 100 = 75
//	creator: 50 × 150 / 100 = 75
func TestPayout_SoleBettorOnWinningSide(t *testing.T) {
	policy := domain.DefaultFactoryPolicy()
	policy.MinLiquidity = dec(1)

	m, seed, err := policy.NewMarket(marketID, 0, domain.CreateMarketRequest{
		Creator:          resolver,
		Question:         "Will the launch happen this week?",
		DurationDays:     7,
		InitialLiquidity: dec(100),
	}, t0)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), m.Price(true))

	pos := domain.NewPosition(m.ID, alice)
	require.NoError(t, m.Buy(pos, true, dec(50), t0.Add(time.Hour)))
	assert.Equal(t, int64(3333), m.Price(true))
	assert.Equal(t, int64(6667), m.Price(false))

	require.NoError(t, m.Resolve(resolver, true, m.EndTime))

	assert.True(t, m.Entitlement(pos).Equal(dec(75)), "alice got %s", m.Entitlement(pos))
	assert.True(t, m.Entitlement(seed).Equal(dec(75)), "creator got %s", m.Entitlement(seed))
	assert.True(t, m.Entitlement(pos).Add(m.Entitlement(seed)).LessThanOrEqual(m.TotalPool()))
}

// TestPayout_LosingSideGetsNothing confirms the NO holder of a YES market has
// zero entitlement and that claiming reports it distinctly.
func TestPayout_LosingSideGetsNothing(t *testing.T) {
	m := newMarket(50, 50)
	pos := domain.NewPosition(m.ID, bob)
	require.NoError(t, m.Buy(pos, false, dec(30), t0))
	require.NoError(t, m.Resolve(resolver, true, m.EndTime))

	assert.True(t, m.Entitlement(pos).IsZero())
	_, err := m.Claim(pos, m.EndTime)
	assert.ErrorIs(t, err, domain.ErrNothingToClaim)
	assert.False(t, pos.Claimed)
}

// TestPayout_FloorDust checks integer floor division: the sum of all winning
// payouts never exceeds the pool and the dust stays behind.
//
//	yes = 3 shares (one each for three holders), no = 2 → total 5
//	each winner: floor(1 × 5 / 3) = 1; dust = 5 − 3 = 2
func TestPayout_FloorDust(t *testing.T) {
	m := newMarket(0, 2)
	holders := make([]*domain.Position, 3)
	for i := range holders {
		holders[i] = domain.NewPosition(m.ID, common.BigToAddress(big.NewInt(int64(100+i))))
		require.NoError(t, m.Buy(holders[i], true, dec(1), t0))
	}
	require.NoError(t, m.Resolve(resolver, true, m.EndTime))

	paid := decimal.Zero
	for _, h := range holders {
		amt, err := m.Claim(h, m.EndTime)
		require.NoError(t, err)
		assert.True(t, amt.Equal(dec(1)), "got %s", amt)
		paid = paid.Add(amt)
	}
	assert.True(t, paid.LessThanOrEqual(m.TotalPool()))
	assert.True(t, m.TotalPool().Sub(paid).Equal(dec(2)))
}

// TestPayout_InvalidRefundsAtPar covers the two-bettor refund scenario:
// contributions of 30 and 20 come back exactly, never more.
func TestPayout_InvalidRefundsAtPar(t *testing.T) {
	m := newMarket(50, 50)
	a := domain.NewPosition(m.ID, alice)
	b := domain.NewPosition(m.ID, bob)
	require.NoError(t, m.Buy(a, true, dec(30), t0))
	require.NoError(t, m.Buy(b, false, dec(20), t0))
	require.NoError(t, m.MarkInvalid(resolver, m.EndTime))

	amtA, err := m.Claim(a, m.EndTime)
	require.NoError(t, err)
	amtB, err := m.Claim(b, m.EndTime)
	require.NoError(t, err)

	assert.True(t, amtA.Equal(dec(30)), "alice got %s", amtA)
	assert.True(t, amtB.Equal(dec(20)), "bob got %s", amtB)
}

// TestPayout_InvalidRefundsBothSides refunds a holder of both sides in full.
func TestPayout_InvalidRefundsBothSides(t *testing.T) {
	m := newMarket(50, 50)
	pos := domain.NewPosition(m.ID, alice)
	require.NoError(t, m.Buy(pos, true, dec(7), t0))
	require.NoError(t, m.Buy(pos, false, dec(5), t0))
	require.NoError(t, m.MarkInvalid(resolver, m.EndTime))

	assert.True(t, m.Entitlement(pos).Equal(dec(12)))
}

// TestClaim_CheckOrder verifies each failure is distinct and reported in
// order: not settled, already claimed, nothing to claim.
func TestClaim_CheckOrder(t *testing.T) {
	m := newMarket(50, 50)
	pos := domain.NewPosition(m.ID, alice)
	require.NoError(t, m.Buy(pos, true, dec(10), t0))

	_, err := m.Claim(pos, t0)
	assert.ErrorIs(t, err, domain.ErrMarketNotSettled)
	assert.True(t, m.Entitlement(pos).IsZero(), "active markets owe nothing")

	require.NoError(t, m.Resolve(resolver, true, m.EndTime))

	amt, err := m.Claim(pos, m.EndTime)
	require.NoError(t, err)
	// 10 × 110 / 60 = 18.33 → 18
	assert.True(t, amt.Equal(dec(18)), "got %s", amt)
	assert.True(t, pos.Claimed)
	assert.True(t, pos.ClaimedAmount.Equal(dec(18)))
	require.NotNil(t, pos.ClaimedAt)

	_, err = m.Claim(pos, m.EndTime)
	assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)

	// A claimed losing position still reports AlreadyClaimed before NothingToClaim.
	loser := domain.NewPosition(m.ID, bob)
	loser.Claimed = true
	_, err = m.Claim(loser, m.EndTime)
	assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)

	// Entitlement ignores the claimed flag.
	assert.True(t, m.Entitlement(pos).Equal(dec(18)))
}

func TestEntitlement_NilAndEmpty(t *testing.T) {
	m := newMarket(50, 50)
	require.NoError(t, m.Resolve(resolver, false, m.EndTime))
	assert.True(t, m.Entitlement(nil).IsZero())
	assert.True(t, m.Entitlement(domain.NewPosition(m.ID, alice)).IsZero())
}
