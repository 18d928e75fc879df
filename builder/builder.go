// Package builder compiles a strategy into an atomic, guarded instruction
// bundle. Construction is single-shot: the full sequence is assembled,
// simulated and signed in one pass with no intermediate state exposed, so no
// partial intent is ever observable before submission.
package builder

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quantfall/arbengine/chain"
	"github.com/quantfall/arbengine/flashloan"
	"github.com/quantfall/arbengine/market"
	"github.com/quantfall/arbengine/risk"
	"github.com/quantfall/arbengine/simulator"
	"github.com/quantfall/arbengine/types"
)

// Swap and liquidity opcodes of the engine's opaque instruction encoding.
const (
	opSwap     byte = 0x01
	opProvide  byte = 0x02
	opWithdraw byte = 0x03
)

// Builder compiles opportunities into signed bundles.
type Builder struct {
	agg    *market.Aggregator
	signer chain.Signer
	loans  *flashloan.Manager
	sim    *simulator.Simulator
	guard  *risk.Guard
	logger *zap.Logger

	nowFunc func() time.Time
}

// New creates a builder.
func New(agg *market.Aggregator, signer chain.Signer, loans *flashloan.Manager,
	sim *simulator.Simulator, guard *risk.Guard, logger *zap.Logger) *Builder {
	return &Builder{
		agg:     agg,
		signer:  signer,
		loans:   loans,
		sim:     sim,
		guard:   guard,
		logger:  logger,
		nowFunc: time.Now,
	}
}

// Build compiles the opportunity under the chosen strategy. It aborts with
// types.ErrStale if any referenced snapshot is superseded at any point
// before signing, and with a SimulationMismatchError if the pre-flight
// projection diverges from the expectation. Nothing is signed on either
// path.
func (b *Builder) Build(ctx context.Context, opp *types.Opportunity, strat types.Strategy) (*types.TransactionBundle, error) {
	if err := b.checkFreshness(opp); err != nil {
		return nil, err
	}

	amountIn := opp.RequiredCapital
	expectedOut := opp.RequiredCapital + opp.EstimatedProfit

	// The route projection models swap legs; liquidity provision has no
	// equivalent path through the book, its expectation is validated by the
	// guard bound alone.
	if strat.Kind != types.StrategyJitLiquidity {
		if _, err := b.sim.Preflight(opp, amountIn, expectedOut); err != nil {
			return nil, fmt.Errorf("preflight: %w", err)
		}
	}

	instructions, err := b.assemble(ctx, opp, strat, amountIn, expectedOut)
	if err != nil {
		return nil, err
	}

	// The market may have moved while instructions were assembled; a stale
	// route must never reach the signer.
	if err := b.checkFreshness(opp); err != nil {
		return nil, err
	}

	signed, err := b.signer.Sign(ctx, instructions)
	if err != nil {
		return nil, fmt.Errorf("sign bundle: %w", err)
	}

	return &types.TransactionBundle{
		ID:           uuid.New(),
		Opportunity:  opp,
		Strategy:     strat,
		Instructions: instructions,
		ExpectedOut:  expectedOut,
		MinOut:       b.guard.MinOut(expectedOut),
		MaxSlippage:  b.guard.Limits().MaxSlippage,
		Fingerprint:  opp.Fingerprint(),
		Signed:       signed,
		BuiltAt:      b.nowFunc(),
	}, nil
}

// checkFreshness enforces the staleness invariant: every pinned snapshot
// version must still be the latest for its venue and the deadline must not
// have passed.
func (b *Builder) checkFreshness(opp *types.Opportunity) error {
	if opp.Expired(b.nowFunc()) {
		return fmt.Errorf("opportunity past deadline: %w", types.ErrStale)
	}
	for _, leg := range opp.Legs {
		if !b.agg.Fresh(leg.Venue, leg.Market, leg.SnapshotVersion) {
			return fmt.Errorf("snapshot v%d superseded on %s: %w",
				leg.SnapshotVersion, leg.Venue, types.ErrStale)
		}
	}
	return nil
}

// assemble produces the ordered instruction sequence for the strategy. Every
// bundle ends with the guard instruction; flash-loan bundles bracket the
// route with borrow and repay so the ledger's atomicity makes an unrepaid
// loan impossible.
func (b *Builder) assemble(ctx context.Context, opp *types.Opportunity, strat types.Strategy,
	amountIn, expectedOut uint64) ([]types.Instruction, error) {

	var instructions []types.Instruction

	switch strat.Kind {
	case types.StrategyDirect:
		instructions = append(instructions, b.swapInstructions(opp.Legs, amountIn)...)

	case types.StrategyFlashLoan:
		plan := strat.FlashLoan
		if plan == nil {
			return nil, fmt.Errorf("flash loan strategy without plan")
		}
		quote, err := b.loans.BestQuote(ctx, plan.Token, plan.Amount)
		if err != nil {
			return nil, fmt.Errorf("flash loan quote: %w", err)
		}
		instructions = append(instructions, quote.Borrow)
		instructions = append(instructions, b.swapInstructions(opp.Legs, amountIn)...)
		instructions = append(instructions, quote.Repay)

	case types.StrategyJitLiquidity:
		plan := strat.Jit
		if plan == nil {
			return nil, fmt.Errorf("jit strategy without plan")
		}
		instructions = append(instructions, b.liquidityInstructions(opp.Legs[0], plan, amountIn)...)

	default:
		return nil, fmt.Errorf("unknown strategy kind %d", strat.Kind)
	}

	outToken := opp.Legs[len(opp.Legs)-1].TokenOut
	instructions = append(instructions, types.Instruction{
		Kind:    types.InstrGuard,
		Program: opp.Legs[0].Market,
		Data: types.GuardData{
			Token:  outToken,
			MinOut: b.guard.MinOut(expectedOut),
		}.Encode(),
	})

	return instructions, nil
}

// swapInstructions emits one swap per leg. Only the first leg carries an
// explicit input amount; later legs consume the previous output.
func (b *Builder) swapInstructions(legs []types.Leg, amountIn uint64) []types.Instruction {
	out := make([]types.Instruction, len(legs))
	for i, leg := range legs {
		amount := uint64(0)
		if i == 0 {
			amount = amountIn
		}
		data := make([]byte, 9)
		data[0] = opSwap
		binary.LittleEndian.PutUint64(data[1:], amount)

		out[i] = types.Instruction{
			Kind:     types.InstrSwap,
			Program:  leg.Market,
			Accounts: []types.Address{leg.TokenIn, leg.TokenOut},
			Data:     data,
		}
	}
	return out
}

// liquidityInstructions brackets the pending order: provide depth ahead of
// it, withdraw immediately after it fills.
func (b *Builder) liquidityInstructions(leg types.Leg, plan *types.JitPlan, amountIn uint64) []types.Instruction {
	provide := make([]byte, 9)
	provide[0] = opProvide
	binary.LittleEndian.PutUint64(provide[1:], amountIn)

	withdraw := make([]byte, 9)
	withdraw[0] = opWithdraw

	return []types.Instruction{
		{
			Kind:     types.InstrProvideLiquidity,
			Program:  plan.Market,
			Accounts: []types.Address{leg.TokenIn, leg.TokenOut},
			Data:     provide,
		},
		{
			Kind:     types.InstrWithdrawLiquidity,
			Program:  plan.Market,
			Accounts: []types.Address{leg.TokenIn, leg.TokenOut},
			Data:     withdraw,
		},
	}
}
