package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/evetabi/yesno/internal/domain"
	"github.com/evetabi/yesno/internal/ledger"
	"github.com/evetabi/yesno/internal/service"
	"github.com/evetabi/yesno/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	factory = common.HexToAddress("0x00000000000000000000000000000000000fac70")
	creator = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	alice   = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	bob     = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	t0      = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
)

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

// recorder collects published events.
type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) Publish(evt domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) kinds() []domain.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventKind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

type fixture struct {
	svc    *service.MarketService
	ledger *ledger.Memory
	events *recorder
	now    time.Time
}

// newFixture wires a MarketService over the memory store with a minimum
// liquidity of one base unit and a controllable clock.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	policy := domain.DefaultFactoryPolicy()
	policy.MinLiquidity = dec(1)

	l := ledger.NewMemory()
	f := &fixture{ledger: l, events: &recorder{}, now: t0}
	f.svc = service.NewMarketService(store.NewMemory(l), policy, factory, nil)
	f.svc.SetClock(func() time.Time { return f.now })
	f.svc.SetBroadcaster(f.events)
	return f
}

// fund mints amount to addr and approves spender for it.
func (f *fixture) fund(t *testing.T, addr, spender common.Address, amount int64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.ledger.Mint(ctx, addr, dec(amount)))
	require.NoError(t, f.ledger.Approve(ctx, addr, spender, dec(amount)))
}

func (f *fixture) balance(t *testing.T, addr common.Address) decimal.Decimal {
	t.Helper()
	b, err := f.ledger.BalanceOf(context.Background(), addr)
	require.NoError(t, err)
	return b
}

func (f *fixture) create(t *testing.T, liquidity int64) *domain.Market {
	t.Helper()
	f.fund(t, creator, factory, liquidity)
	m, err := f.svc.CreateMarket(context.Background(), domain.CreateMarketRequest{
		Creator:          creator,
		Question:         "Will the bridge open before summer?",
		DurationDays:     7,
		InitialLiquidity: dec(liquidity),
	})
	require.NoError(t, err)
	return m
}

func TestCreateMarket(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	m := f.create(t, 100)
	assert.Equal(t, crypto.CreateAddress(factory, 0), m.ID)
	assert.Equal(t, t0.Add(7*24*time.Hour), m.EndTime)
	assert.True(t, f.balance(t, m.ID).Equal(dec(100)), "liquidity sits in the market account")
	assert.True(t, f.balance(t, creator).IsZero())

	second := f.create(t, 10)
	assert.Equal(t, crypto.CreateAddress(factory, 1), second.ID)

	n, err := f.svc.CountMarkets(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	ids, err := f.svc.ListMarketIDs(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []common.Address{m.ID, second.ID}, ids)

	seed, err := f.svc.GetPosition(ctx, m.ID, creator)
	require.NoError(t, err)
	assert.True(t, seed.YesShares.Equal(dec(50)))
	assert.True(t, seed.NoShares.Equal(dec(50)))

	assert.Equal(t, []domain.EventKind{domain.EventMarketCreated, domain.EventMarketCreated}, f.events.kinds())
}

func TestCreateMarket_ValidationMovesNoFunds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fund(t, creator, factory, 100)

	_, err := f.svc.CreateMarket(ctx, domain.CreateMarketRequest{
		Creator:          creator,
		Question:         "short",
		DurationDays:     7,
		InitialLiquidity: dec(100),
	})
	assert.ErrorIs(t, err, domain.ErrQuestionTooShort)
	assert.True(t, f.balance(t, creator).Equal(dec(100)))

	n, _ := f.svc.CountMarkets(ctx)
	assert.Zero(t, n)
}

func TestCreateMarket_TransferFailureLeavesNoEntry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.ledger.Mint(ctx, creator, dec(100)))
	// No allowance for the factory.

	_, err := f.svc.CreateMarket(ctx, domain.CreateMarketRequest{
		Creator:          creator,
		Question:         "Will the bridge open before summer?",
		DurationDays:     7,
		InitialLiquidity: dec(100),
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientAllowance)

	n, _ := f.svc.CountMarkets(ctx)
	assert.Zero(t, n)
	assert.True(t, f.balance(t, creator).Equal(dec(100)))

	// The slot was not consumed: the next market still gets sequence 0.
	m := f.create(t, 10)
	assert.Equal(t, crypto.CreateAddress(factory, 0), m.ID)
}

func TestBuyPosition(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := f.create(t, 100)
	f.fund(t, alice, m.ID, 50)

	res, err := f.svc.BuyPosition(ctx, alice, m.ID, true, dec(50))
	require.NoError(t, err)
	assert.Equal(t, int64(3333), res.Market.YesPrice)
	assert.True(t, res.Position.YesShares.Equal(dec(50)))
	assert.True(t, f.balance(t, m.ID).Equal(dec(150)))
	assert.True(t, f.balance(t, alice).IsZero())

	price, err := f.svc.GetPrice(ctx, m.ID, false)
	require.NoError(t, err)
	assert.Equal(t, int64(6667), price)
}

func TestBuyPosition_Rejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := f.create(t, 100)

	_, err := f.svc.BuyPosition(ctx, alice, m.ID, true, dec(0))
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = f.svc.BuyPosition(ctx, alice, common.HexToAddress("0xdead"), true, dec(1))
	assert.ErrorIs(t, err, domain.ErrMarketNotFound)

	_, err = f.svc.BuyPosition(ctx, alice, m.ID, true, dec(10))
	assert.ErrorIs(t, err, domain.ErrInsufficientAllowance)

	require.NoError(t, f.ledger.Approve(ctx, alice, m.ID, dec(10)))
	_, err = f.svc.BuyPosition(ctx, alice, m.ID, true, dec(10))
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	// Failed transfers leave the market unchanged.
	got, err := f.svc.GetMarket(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, got.YesPool.Equal(dec(50)))
	assert.True(t, got.TotalVolume.IsZero())

	f.now = m.EndTime
	f.fund(t, alice, m.ID, 10)
	_, err = f.svc.BuyPosition(ctx, alice, m.ID, true, dec(10))
	assert.ErrorIs(t, err, domain.ErrBettingClosed)
}

func TestResolveAndClaim(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := f.create(t, 100)
	f.fund(t, alice, m.ID, 50)
	f.fund(t, bob, m.ID, 30)

	_, err := f.svc.BuyPosition(ctx, alice, m.ID, true, dec(50))
	require.NoError(t, err)
	_, err = f.svc.BuyPosition(ctx, bob, m.ID, false, dec(30))
	require.NoError(t, err)

	_, err = f.svc.ResolveMarket(ctx, creator, m.ID, true)
	assert.ErrorIs(t, err, domain.ErrMarketNotEnded)
	_, err = f.svc.ClaimWinnings(ctx, alice, m.ID)
	assert.ErrorIs(t, err, domain.ErrMarketNotSettled)

	f.now = m.EndTime.Add(time.Minute)
	_, err = f.svc.ResolveMarket(ctx, alice, m.ID, true)
	assert.ErrorIs(t, err, domain.ErrNotResolver)

	resolved, err := f.svc.ResolveMarket(ctx, creator, m.ID, true)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusResolved, resolved.Status)

	// pool = 180, YES shares = 100
	// alice:   50 × 180 / 100 = 90
	// creator: 50 × 180 / 100 = 90
	win, err := f.svc.CalculateWinnings(ctx, m.ID, alice)
	require.NoError(t, err)
	assert.True(t, win.Equal(dec(90)), "got %s", win)

	paid, err := f.svc.ClaimWinnings(ctx, alice, m.ID)
	require.NoError(t, err)
	assert.True(t, paid.Equal(dec(90)))
	assert.True(t, f.balance(t, alice).Equal(dec(90)))

	claimed, err := f.svc.HasClaimed(ctx, m.ID, alice)
	require.NoError(t, err)
	assert.True(t, claimed)

	_, err = f.svc.ClaimWinnings(ctx, alice, m.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)
	_, err = f.svc.ClaimWinnings(ctx, bob, m.ID)
	assert.ErrorIs(t, err, domain.ErrNothingToClaim)

	paid, err = f.svc.ClaimWinnings(ctx, creator, m.ID)
	require.NoError(t, err)
	assert.True(t, paid.Equal(dec(90)))
	assert.True(t, f.balance(t, m.ID).IsZero())

	// Winnings are still reported after claiming.
	win, err = f.svc.CalculateWinnings(ctx, m.ID, alice)
	require.NoError(t, err)
	assert.True(t, win.Equal(dec(90)))

	assert.Equal(t, []domain.EventKind{
		domain.EventMarketCreated,
		domain.EventPositionBought,
		domain.EventPositionBought,
		domain.EventMarketResolved,
		domain.EventWinningsClaimed,
		domain.EventWinningsClaimed,
	}, f.events.kinds())
}

func TestMarkInvalid_RefundsAtPar(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := f.create(t, 100)
	f.fund(t, alice, m.ID, 30)
	f.fund(t, bob, m.ID, 20)

	_, err := f.svc.BuyPosition(ctx, alice, m.ID, true, dec(30))
	require.NoError(t, err)
	_, err = f.svc.BuyPosition(ctx, bob, m.ID, false, dec(20))
	require.NoError(t, err)

	f.now = m.EndTime
	_, err = f.svc.MarkInvalid(ctx, creator, m.ID)
	require.NoError(t, err)
	_, err = f.svc.ResolveMarket(ctx, creator, m.ID, true)
	assert.ErrorIs(t, err, domain.ErrMarketNotActive)

	for addr, want := range map[common.Address]int64{alice: 30, bob: 20, creator: 100} {
		paid, err := f.svc.ClaimWinnings(ctx, addr, m.ID)
		require.NoError(t, err)
		assert.True(t, paid.Equal(dec(want)), "%s got %s", addr.Hex(), paid)
	}
	assert.True(t, f.balance(t, m.ID).IsZero())
}

func TestListMarkets_ClipsToRegistryOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	const n = 120
	for i := 0; i < n; i++ {
		f.create(t, 10)
	}

	count, err := f.svc.CountMarkets(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(n), count)

	// The front-end lists everything in one call: (0, count).
	infos, err := f.svc.ListMarkets(ctx, 0, int(count))
	require.NoError(t, err)
	assert.Len(t, infos, n)
	assert.Equal(t, crypto.CreateAddress(factory, n-1), infos[n-1].ID)

	ids, err := f.svc.ListMarketIDs(ctx, 0, int(count))
	require.NoError(t, err)
	assert.Len(t, ids, n)

	tests := []struct {
		name          string
		offset, limit int
		want          int
	}{
		{"zero limit", 0, 0, 0},
		{"offset at count", n, 10, 0},
		{"offset past count", n + 5, 10, 0},
		{"tail clipped", n - 2, 1000, 2},
		{"window", 10, 5, 5},
		{"negative offset", -3, 4, 4},
		{"negative limit", 0, -1, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			infos, err := f.svc.ListMarkets(ctx, tc.offset, tc.limit)
			require.NoError(t, err)
			assert.Len(t, infos, tc.want)
		})
	}

	_, err = f.svc.GetMarketInfo(ctx, common.HexToAddress("0xdead"))
	assert.ErrorIs(t, err, domain.ErrMarketNotFound)
}

// gatedCache is an in-process MarketCache that keeps the newest revision.
// The first Set blocks until release is closed.
type gatedCache struct {
	mu      sync.Mutex
	entries map[common.Address]*domain.Market
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedCache() *gatedCache {
	return &gatedCache{
		entries: make(map[common.Address]*domain.Market),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (c *gatedCache) Get(_ context.Context, id common.Address) (*domain.Market, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.entries[id]
	if !ok {
		return nil, domain.ErrMarketNotFound
	}
	return m.Clone(), nil
}

func (c *gatedCache) Set(_ context.Context, m *domain.Market) error {
	first := false
	c.once.Do(func() { first = true })
	if first {
		close(c.entered)
		<-c.release
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.entries[m.ID]; ok && cur.Revision >= m.Revision {
		return nil
	}
	c.entries[m.ID] = m.Clone()
	return nil
}

func (c *gatedCache) Delete(_ context.Context, id common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
	return nil
}

// A read-through that loaded the market before a buy committed must not
// replace the state published by that commit.
func TestGetMarket_SlowReadThroughDoesNotOverwriteCommit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := f.create(t, 100)
	assert.Equal(t, int64(1), m.Revision)

	cache := newGatedCache()
	f.svc.SetCache(cache)
	f.fund(t, alice, m.ID, 50)

	stale := make(chan int64, 1)
	go func() {
		p, err := f.svc.GetPrice(ctx, m.ID, true)
		assert.NoError(t, err)
		stale <- p
	}()
	<-cache.entered

	_, err := f.svc.BuyPosition(ctx, alice, m.ID, true, dec(50))
	require.NoError(t, err)

	close(cache.release)
	assert.Equal(t, int64(5000), <-stale, "the slow reader saw the pre-buy pools")

	got, err := f.svc.GetMarket(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Revision)

	price, err := f.svc.GetPrice(ctx, m.ID, true)
	require.NoError(t, err)
	assert.Equal(t, int64(3333), price)

	info, err := f.svc.GetMarketInfo(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, info.YesPool.Equal(dec(100)))
}
