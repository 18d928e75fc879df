package port

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/quantfall/arbengine/chain"
	"github.com/quantfall/arbengine/flashloan"
	"github.com/quantfall/arbengine/types"
)

type stubClient struct {
	depth uint64
}

func (s *stubClient) GetAccountState(context.Context, types.Address) ([]byte, error) {
	buf := make([]byte, 32)
	binary.LittleEndian.PutUint64(buf, s.depth)
	return buf, nil
}

func (s *stubClient) SubmitTransaction(context.Context, []byte) (string, error) {
	return "", errors.New("not implemented")
}

func (s *stubClient) TransactionStatus(context.Context, string) (chain.StatusInfo, error) {
	return chain.StatusInfo{}, errors.New("not implemented")
}

func (s *stubClient) SubscribeMarketData(context.Context, []types.Address) (<-chan *types.MarketSnapshot, error) {
	return nil, errors.New("not implemented")
}

func TestQuote(t *testing.T) {
	p := New(&stubClient{depth: 10_000_000}, flashloan.ProviderConfig{
		Program: types.Address{1},
		Pool:    types.Address{2},
	}, zaptest.NewLogger(t))

	quote, err := p.Quote(context.Background(), types.Address{7}, 1_000_000)
	require.NoError(t, err)

	// Port charges 10 bps by default, one above solend.
	assert.Equal(t, "port", quote.Provider)
	assert.Equal(t, uint64(1_000), quote.Fee)
	assert.Equal(t, types.InstrBorrow, quote.Borrow.Kind)
	assert.Equal(t, types.InstrRepay, quote.Repay.Kind)
	assert.Equal(t, uint64(1_001_000), quote.Repayment())
}

func TestFeeOverride(t *testing.T) {
	p := New(&stubClient{depth: 10_000_000}, flashloan.ProviderConfig{
		Program: types.Address{1},
		Pool:    types.Address{2},
		FeeBps:  25,
	}, zaptest.NewLogger(t))

	assert.Equal(t, uint64(2_500), p.Fee(1_000_000))
}
