package flashloan

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/quantfall/arbengine/types"
)

// mockProvider implements the Provider interface for testing.
type mockProvider struct {
	name      string
	feeBps    uint64
	liquidity uint64
	failing   bool
}

func (m *mockProvider) String() string { return m.name }

func (m *mockProvider) Fee(amount uint64) uint64 {
	return amount * m.feeBps / 10_000
}

func (m *mockProvider) Liquidity(context.Context, types.Address) (uint64, error) {
	if m.failing {
		return 0, errors.New("mock error")
	}
	return m.liquidity, nil
}

func (m *mockProvider) Quote(_ context.Context, token types.Address, amount uint64) (*Quote, error) {
	if m.failing {
		return nil, errors.New("mock error")
	}
	if amount > m.liquidity {
		return nil, errors.New("insufficient liquidity")
	}
	return &Quote{
		Provider: m.name,
		Token:    token,
		Amount:   amount,
		Fee:      m.Fee(amount),
		Borrow:   types.Instruction{Kind: types.InstrBorrow},
		Repay:    types.Instruction{Kind: types.InstrRepay},
	}, nil
}

func TestManager(t *testing.T) {
	logger := zaptest.NewLogger(t)
	manager := NewManager(logger)
	require.NotNil(t, manager)
	assert.False(t, manager.Enabled())

	token := types.Address{1}

	t.Run("AddProvider", func(t *testing.T) {
		provider := &mockProvider{name: "solend", feeBps: 9, liquidity: 1_000_000}
		require.NoError(t, manager.AddProvider(provider))
		assert.True(t, manager.Enabled())

		// Same name again is rejected.
		err := manager.AddProvider(&mockProvider{name: "solend"})
		require.Error(t, err)

		assert.Equal(t, []string{"solend"}, manager.Providers())
	})

	t.Run("BestQuotePicksCheapestFee", func(t *testing.T) {
		require.NoError(t, manager.AddProvider(&mockProvider{name: "port", feeBps: 10, liquidity: 1_000_000}))

		quote, err := manager.BestQuote(context.Background(), token, 100_000)
		require.NoError(t, err)
		assert.Equal(t, "solend", quote.Provider)
		assert.Equal(t, uint64(90), quote.Fee)
		assert.Equal(t, uint64(100_090), quote.Repayment())
	})

	t.Run("FallsBackWhenCheapestCannotCover", func(t *testing.T) {
		fresh := NewManager(logger)
		require.NoError(t, fresh.AddProvider(&mockProvider{name: "solend", feeBps: 9, liquidity: 1_000}))
		require.NoError(t, fresh.AddProvider(&mockProvider{name: "port", feeBps: 10, liquidity: 1_000_000}))

		quote, err := fresh.BestQuote(context.Background(), token, 100_000)
		require.NoError(t, err)
		assert.Equal(t, "port", quote.Provider)
	})

	t.Run("NoProviderCanCover", func(t *testing.T) {
		fresh := NewManager(logger)
		require.NoError(t, fresh.AddProvider(&mockProvider{name: "solend", feeBps: 9, liquidity: 10}))

		_, err := fresh.BestQuote(context.Background(), token, 100_000)
		require.Error(t, err)
	})

	t.Run("NoProvidersConfigured", func(t *testing.T) {
		fresh := NewManager(logger)
		_, err := fresh.BestQuote(context.Background(), token, 100)
		require.Error(t, err)
	})

	t.Run("FailingProviderSkipped", func(t *testing.T) {
		fresh := NewManager(logger)
		require.NoError(t, fresh.AddProvider(&mockProvider{name: "solend", failing: true}))
		require.NoError(t, fresh.AddProvider(&mockProvider{name: "port", feeBps: 10, liquidity: 1_000_000}))

		quote, err := fresh.BestQuote(context.Background(), token, 100_000)
		require.NoError(t, err)
		assert.Equal(t, "port", quote.Provider)
	})
}
