// Package solend adapts the Solend lending pool as a flash-loan source.
package solend

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quantfall/arbengine/chain"
	"github.com/quantfall/arbengine/flashloan"
	"github.com/quantfall/arbengine/types"
)

// DefaultFeeBps is Solend's standard flash-loan fee (0.09%).
const DefaultFeeBps = 9

// Borrow/repay opcodes of the pool program's instruction layout.
const (
	opBorrow byte = 0x0c
	opRepay  byte = 0x0d
)

const liquidityCacheTTL = 2 * time.Second

// Provider implements flashloan.Provider against a Solend reserve.
type Provider struct {
	client chain.Client
	config flashloan.ProviderConfig
	logger *zap.Logger

	mu          sync.Mutex
	cachedDepth uint64
	cachedAt    time.Time
}

// New creates a Solend provider. A zero FeeBps falls back to the default.
func New(client chain.Client, config flashloan.ProviderConfig, logger *zap.Logger) *Provider {
	if config.FeeBps == 0 {
		config.FeeBps = DefaultFeeBps
	}
	return &Provider{client: client, config: config, logger: logger}
}

var _ flashloan.Provider = (*Provider)(nil)

func (p *Provider) String() string {
	return "solend"
}

// Fee returns the round-trip fee for a principal amount.
func (p *Provider) Fee(amount uint64) uint64 {
	return amount * uint64(p.config.FeeBps) / 10_000
}

// Liquidity reads the reserve's available depth, cached briefly to keep
// quote bursts from hammering the RPC node.
func (p *Provider) Liquidity(ctx context.Context, token types.Address) (uint64, error) {
	p.mu.Lock()
	if time.Since(p.cachedAt) < liquidityCacheTTL {
		depth := p.cachedDepth
		p.mu.Unlock()
		return depth, nil
	}
	p.mu.Unlock()

	raw, err := p.client.GetAccountState(ctx, p.config.Pool)
	if err != nil {
		return 0, fmt.Errorf("read solend reserve: %w", err)
	}
	if len(raw) < 8 {
		return 0, fmt.Errorf("solend reserve account too short: %d bytes", len(raw))
	}
	depth := binary.LittleEndian.Uint64(raw[:8])

	p.mu.Lock()
	p.cachedDepth = depth
	p.cachedAt = time.Now()
	p.mu.Unlock()
	return depth, nil
}

// Quote offers a borrow/repay instruction pair for the amount, or fails if
// the reserve cannot cover it.
func (p *Provider) Quote(ctx context.Context, token types.Address, amount uint64) (*flashloan.Quote, error) {
	if p.config.MaxLoan > 0 && amount > p.config.MaxLoan {
		return nil, fmt.Errorf("amount %d above provider max %d", amount, p.config.MaxLoan)
	}

	depth, err := p.Liquidity(ctx, token)
	if err != nil {
		return nil, err
	}
	if depth < amount {
		return nil, fmt.Errorf("solend liquidity %d insufficient for %d", depth, amount)
	}

	fee := p.Fee(amount)
	return &flashloan.Quote{
		Provider: p.String(),
		Token:    token,
		Amount:   amount,
		Fee:      fee,
		Borrow:   p.instruction(opBorrow, token, amount),
		Repay:    p.instruction(opRepay, token, amount+fee),
	}, nil
}

func (p *Provider) instruction(op byte, token types.Address, amount uint64) types.Instruction {
	data := make([]byte, 9)
	data[0] = op
	binary.LittleEndian.PutUint64(data[1:], amount)

	kind := types.InstrBorrow
	if op == opRepay {
		kind = types.InstrRepay
	}
	return types.Instruction{
		Kind:     kind,
		Program:  p.config.Program,
		Accounts: []types.Address{p.config.Pool, token},
		Data:     data,
	}
}
