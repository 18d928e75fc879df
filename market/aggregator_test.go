package market

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/quantfall/arbengine/types"
)

func snapshot(venue string, market types.Address, version uint64) *types.MarketSnapshot {
	return &types.MarketSnapshot{
		Venue:     venue,
		Market:    market,
		BestBid:   99,
		BestAsk:   100,
		Version:   version,
		Timestamp: time.Now(),
	}
}

func TestPublishMonotonicVersions(t *testing.T) {
	agg := NewAggregator(zaptest.NewLogger(t))
	market := types.Address{1}

	assert.True(t, agg.Publish(snapshot("x", market, 1)))
	assert.True(t, agg.Publish(snapshot("x", market, 3)))

	t.Run("LateUpdateDropped", func(t *testing.T) {
		assert.False(t, agg.Publish(snapshot("x", market, 2)))
		assert.Equal(t, uint64(1), agg.Dropped())

		latest, ok := agg.Latest("x", market)
		require.True(t, ok)
		assert.Equal(t, uint64(3), latest.Version)
	})

	t.Run("DuplicateVersionDropped", func(t *testing.T) {
		assert.False(t, agg.Publish(snapshot("x", market, 3)))
	})

	t.Run("RepeatedDeliveryIdempotent", func(t *testing.T) {
		before, _ := agg.Latest("x", market)
		agg.Publish(snapshot("x", market, 3))
		agg.Publish(snapshot("x", market, 3))
		after, ok := agg.Latest("x", market)
		require.True(t, ok)
		assert.Equal(t, before.Version, after.Version)
	})
}

func TestLatestUnknownSlot(t *testing.T) {
	agg := NewAggregator(zaptest.NewLogger(t))
	_, ok := agg.Latest("x", types.Address{1})
	assert.False(t, ok)
}

func TestSlotsAreIndependentPerVenue(t *testing.T) {
	agg := NewAggregator(zaptest.NewLogger(t))
	market := types.Address{1}

	require.True(t, agg.Publish(snapshot("x", market, 5)))
	require.True(t, agg.Publish(snapshot("y", market, 1)))

	x, ok := agg.Latest("x", market)
	require.True(t, ok)
	y, ok := agg.Latest("y", market)
	require.True(t, ok)
	assert.Equal(t, uint64(5), x.Version)
	assert.Equal(t, uint64(1), y.Version)
}

func TestFresh(t *testing.T) {
	agg := NewAggregator(zaptest.NewLogger(t))
	market := types.Address{1}

	agg.Publish(snapshot("x", market, 1))
	assert.True(t, agg.Fresh("x", market, 1))

	agg.Publish(snapshot("x", market, 2))
	assert.False(t, agg.Fresh("x", market, 1))
	assert.False(t, agg.Fresh("x", types.Address{2}, 1))
}

func TestWaitUpdatesCoalesces(t *testing.T) {
	agg := NewAggregator(zaptest.NewLogger(t))
	market := types.Address{1}

	agg.Publish(snapshot("x", market, 1))
	agg.Publish(snapshot("x", market, 2))
	agg.Publish(snapshot("y", market, 1))

	refs, err := agg.WaitUpdates(context.Background())
	require.NoError(t, err)
	assert.Len(t, refs, 2)
	assert.Contains(t, refs, Ref{Venue: "x", Market: market})
	assert.Contains(t, refs, Ref{Venue: "y", Market: market})
}

func TestWaitUpdatesHonorsContext(t *testing.T) {
	agg := NewAggregator(zaptest.NewLogger(t))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := agg.WaitUpdates(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConsumePublishesUntilFeedCloses(t *testing.T) {
	agg := NewAggregator(zaptest.NewLogger(t))
	market := types.Address{1}

	feed := make(chan *types.MarketSnapshot, 2)
	feed <- snapshot("x", market, 1)
	feed <- snapshot("x", market, 2)
	close(feed)

	done := make(chan struct{})
	go func() {
		agg.Consume(context.Background(), feed)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("consume did not stop on feed close")
	}

	latest, ok := agg.Latest("x", market)
	require.True(t, ok)
	assert.Equal(t, uint64(2), latest.Version)
}
