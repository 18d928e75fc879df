// Package port adapts the Port Finance lending pool as a flash-loan source.
package port

import (
	"context"
	"encoding/binary"
	"fmt"

	"go.uber.org/zap"

	"github.com/quantfall/arbengine/chain"
	"github.com/quantfall/arbengine/flashloan"
	"github.com/quantfall/arbengine/types"
)

// DefaultFeeBps is Port's standard flash-loan fee (0.10%).
const DefaultFeeBps = 10

const (
	opBorrow byte = 0x10
	opRepay  byte = 0x11
)

// Provider implements flashloan.Provider against a Port Finance pool.
type Provider struct {
	client chain.Client
	config flashloan.ProviderConfig
	logger *zap.Logger
}

// New creates a Port provider. A zero FeeBps falls back to the default.
func New(client chain.Client, config flashloan.ProviderConfig, logger *zap.Logger) *Provider {
	if config.FeeBps == 0 {
		config.FeeBps = DefaultFeeBps
	}
	return &Provider{client: client, config: config, logger: logger}
}

var _ flashloan.Provider = (*Provider)(nil)

func (p *Provider) String() string {
	return "port"
}

// Fee returns the round-trip fee for a principal amount.
func (p *Provider) Fee(amount uint64) uint64 {
	return amount * uint64(p.config.FeeBps) / 10_000
}

// Liquidity reads the pool's available depth from its account state.
func (p *Provider) Liquidity(ctx context.Context, token types.Address) (uint64, error) {
	raw, err := p.client.GetAccountState(ctx, p.config.Pool)
	if err != nil {
		return 0, fmt.Errorf("read port pool: %w", err)
	}
	if len(raw) < 8 {
		return 0, fmt.Errorf("port pool account too short: %d bytes", len(raw))
	}
	return binary.LittleEndian.Uint64(raw[:8]), nil
}

// Quote offers a borrow/repay instruction pair for the amount, or fails if
// the pool cannot cover it.
func (p *Provider) Quote(ctx context.Context, token types.Address, amount uint64) (*flashloan.Quote, error) {
	if p.config.MaxLoan > 0 && amount > p.config.MaxLoan {
		return nil, fmt.Errorf("amount %d above provider max %d", amount, p.config.MaxLoan)
	}

	depth, err := p.Liquidity(ctx, token)
	if err != nil {
		return nil, err
	}
	if depth < amount {
		return nil, fmt.Errorf("port liquidity %d insufficient for %d", depth, amount)
	}

	fee := p.Fee(amount)
	return &flashloan.Quote{
		Provider: p.String(),
		Token:    token,
		Amount:   amount,
		Fee:      fee,
		Borrow:   p.instruction(opBorrow, types.InstrBorrow, token, amount),
		Repay:    p.instruction(opRepay, types.InstrRepay, token, amount+fee),
	}, nil
}

func (p *Provider) instruction(op byte, kind types.InstructionKind, token types.Address, amount uint64) types.Instruction {
	data := make([]byte, 9)
	data[0] = op
	binary.LittleEndian.PutUint64(data[1:], amount)
	return types.Instruction{
		Kind:     kind,
		Program:  p.config.Program,
		Accounts: []types.Address{p.config.Pool, token},
		Data:     data,
	}
}
