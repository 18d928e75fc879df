package risk

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfall/arbengine/types"
)

var (
	marketA = types.Address{1}
	tokenX  = types.Address{10}
	tokenY  = types.Address{11}
)

func testGuard() *Guard {
	return NewGuard(Limits{
		MinProfitPct:        0.01,
		MinLiquidity:        1_000,
		MaxSpread:           0.05,
		MaxTradeSize:        100_000,
		DailyVolumeLimit:    1_000_000,
		MaxSlippage:         0.02,
		MaxConcurrentTrades: 2,
		PositionTimeout:     time.Second,
		SimulationTolerance: 0.005,
	}, []types.Address{marketA}, []types.Address{tokenX, tokenY})
}

func TestCheckSnapshot(t *testing.T) {
	guard := testGuard()

	good := &types.MarketSnapshot{
		Venue:        "x",
		Market:       marketA,
		Pair:         types.TokenPair{Base: tokenY, Quote: tokenX},
		BestBid:      100,
		BestAsk:      101,
		QuoteReserve: 10_000,
	}
	require.NoError(t, guard.CheckSnapshot(good))

	t.Run("UnlistedMarket", func(t *testing.T) {
		s := *good
		s.Market = types.Address{99}
		err := guard.CheckSnapshot(&s)
		assert.True(t, types.IsFilteredOut(err))
	})

	t.Run("UnlistedToken", func(t *testing.T) {
		s := *good
		s.Pair.Base = types.Address{99}
		assert.True(t, types.IsFilteredOut(guard.CheckSnapshot(&s)))
	})

	t.Run("ThinLiquidity", func(t *testing.T) {
		s := *good
		s.QuoteReserve = 10
		assert.True(t, types.IsFilteredOut(guard.CheckSnapshot(&s)))
	})

	t.Run("WideSpread", func(t *testing.T) {
		s := *good
		s.BestAsk = 120
		assert.True(t, types.IsFilteredOut(guard.CheckSnapshot(&s)))
	})
}

func TestCheckOpportunity(t *testing.T) {
	guard := testGuard()
	leg := types.Leg{Venue: "x", Market: marketA, TokenIn: tokenX, TokenOut: tokenY}

	good := &types.Opportunity{
		Legs:            []types.Leg{leg},
		ProfitPct:       0.02,
		RequiredCapital: 50_000,
	}
	require.NoError(t, guard.CheckOpportunity(good))

	t.Run("ProfitBelowMinimum", func(t *testing.T) {
		o := *good
		o.ProfitPct = 0.001
		assert.True(t, types.IsFilteredOut(guard.CheckOpportunity(&o)))
	})

	t.Run("CapitalAboveMaxTradeSize", func(t *testing.T) {
		o := *good
		o.RequiredCapital = 500_000
		assert.True(t, types.IsFilteredOut(guard.CheckOpportunity(&o)))
	})

	t.Run("UnlistedLegMarket", func(t *testing.T) {
		o := *good
		o.Legs = []types.Leg{{Venue: "x", Market: types.Address{99}, TokenIn: tokenX, TokenOut: tokenY}}
		assert.True(t, types.IsFilteredOut(guard.CheckOpportunity(&o)))
	})
}

func TestMinOut(t *testing.T) {
	guard := testGuard()
	// 2% max slippage on an expectation of 100_000.
	assert.InDelta(t, 98_000, float64(guard.MinOut(100_000)), 1)
}

func TestPositionAdmit(t *testing.T) {
	pos := NewPosition()

	a, b, c := uuid.New(), uuid.New(), uuid.New()
	require.NoError(t, pos.Admit(a, 100, 2, 1_000))
	require.NoError(t, pos.Admit(b, 100, 2, 1_000))

	t.Run("ConcurrencyCap", func(t *testing.T) {
		err := pos.Admit(c, 100, 2, 1_000)
		require.Error(t, err)
		assert.Equal(t, 2, pos.OpenCount())
	})

	t.Run("SlotFreedAfterFinalize", func(t *testing.T) {
		pos.Finalize(a, false)
		assert.NoError(t, pos.Admit(c, 100, 2, 1_000))
	})
}

func TestPositionVolumeWindow(t *testing.T) {
	pos := NewPosition()
	now := time.Now()
	pos.nowFunc = func() time.Time { return now }

	id := uuid.New()
	require.NoError(t, pos.Admit(id, 600, 5, 1_000))
	pos.Finalize(id, true)
	assert.Equal(t, uint64(600), pos.WindowVolume())

	t.Run("AdmissionCountsPendingSize", func(t *testing.T) {
		err := pos.Admit(uuid.New(), 500, 5, 1_000)
		require.Error(t, err)
		assert.NoError(t, pos.Admit(uuid.New(), 400, 5, 1_000))
	})

	t.Run("EntriesExpireAfterWindow", func(t *testing.T) {
		now = now.Add(25 * time.Hour)
		assert.Equal(t, uint64(0), pos.WindowVolume())
	})
}

func TestPositionAdmitCountsOpenTrades(t *testing.T) {
	pos := NewPosition()

	a, b := uuid.New(), uuid.New()
	require.NoError(t, pos.Admit(a, 600, 3, 1_000))

	// The first trade is still in flight; admitting the second would let the
	// pair jointly land 1200 against a 1000 limit.
	err := pos.Admit(b, 600, 3, 1_000)
	require.Error(t, err)

	t.Run("HeadroomAdmits", func(t *testing.T) {
		assert.NoError(t, pos.Admit(b, 400, 3, 1_000))
	})

	t.Run("LostTradeFreesItsShare", func(t *testing.T) {
		pos.Finalize(a, false)
		pos.Finalize(b, true)
		assert.Equal(t, uint64(400), pos.WindowVolume())
		assert.NoError(t, pos.Admit(uuid.New(), 600, 3, 1_000))
	})
}

func TestPositionFinalizeIdempotent(t *testing.T) {
	pos := NewPosition()
	id := uuid.New()
	require.NoError(t, pos.Admit(id, 250, 1, 1_000))

	pos.Finalize(id, true)
	pos.Finalize(id, true)
	pos.Finalize(id, true)

	// Volume counts exactly once no matter how many finalization paths fire.
	assert.Equal(t, uint64(250), pos.WindowVolume())
	assert.Equal(t, 0, pos.OpenCount())
}

func TestPositionFinalizeLostTradeCountsNoVolume(t *testing.T) {
	pos := NewPosition()
	id := uuid.New()
	require.NoError(t, pos.Admit(id, 250, 1, 1_000))

	pos.Finalize(id, false)
	assert.Equal(t, uint64(0), pos.WindowVolume())
}
