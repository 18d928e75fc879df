// Package strategy maps a detected opportunity onto the closed set of
// execution strategies given capital and risk state. Rejection is a normal
// filtering outcome, not an error condition.
package strategy

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/quantfall/arbengine/flashloan"
	"github.com/quantfall/arbengine/market"
	"github.com/quantfall/arbengine/types"
)

// Config controls which strategies are considered and how they are costed.
type Config struct {
	DirectEnabled    bool
	FlashLoanEnabled bool
	JitEnabled       bool

	AvailableCapital uint64
	MinProfitPct     float64
	FixedCostPerLeg  uint64
	JitWindow        time.Duration
}

// Selector chooses an execution strategy for each opportunity.
type Selector struct {
	cfg    Config
	loans  *flashloan.Manager
	agg    *market.Aggregator
	logger *zap.Logger

	nowFunc func() time.Time
}

// New creates a selector.
func New(cfg Config, loans *flashloan.Manager, agg *market.Aggregator, logger *zap.Logger) *Selector {
	return &Selector{
		cfg:     cfg,
		loans:   loans,
		agg:     agg,
		logger:  logger,
		nowFunc: time.Now,
	}
}

// Select maps an opportunity to a strategy:
//
//   - capital requirement within the local balance: Direct;
//   - otherwise, loan sources configured and profit net of loan fee still
//     above threshold: FlashLoan;
//   - single-leg liquidity-provision pattern with a live timing window:
//     JitLiquidity.
//
// types.ErrNoStrategy means no variant clears the net-profit threshold.
func (s *Selector) Select(ctx context.Context, opp *types.Opportunity) (types.Strategy, error) {
	if len(opp.Legs) == 1 {
		return s.selectJit(opp)
	}

	if s.cfg.DirectEnabled && opp.RequiredCapital <= s.cfg.AvailableCapital {
		return types.Direct(), nil
	}

	if s.cfg.FlashLoanEnabled && s.loans != nil && s.loans.Enabled() {
		return s.selectFlashLoan(ctx, opp)
	}

	return types.Strategy{}, types.ErrNoStrategy
}

// selectFlashLoan prices the loan and keeps the strategy only if profit net
// of the loan fee still clears the threshold.
func (s *Selector) selectFlashLoan(ctx context.Context, opp *types.Opportunity) (types.Strategy, error) {
	token := opp.Legs[0].TokenIn
	quote, err := s.loans.BestQuote(ctx, token, opp.RequiredCapital)
	if err != nil {
		s.logger.Debug("no flash loan quote", zap.Error(err))
		return types.Strategy{}, types.ErrNoStrategy
	}

	// Borrow and repay add two instructions of fixed cost on top of the fee.
	cost := quote.Fee + 2*s.cfg.FixedCostPerLeg
	if opp.EstimatedProfit <= cost {
		return types.Strategy{}, types.ErrNoStrategy
	}
	net := float64(opp.EstimatedProfit-cost) / float64(opp.RequiredCapital)
	if net < s.cfg.MinProfitPct {
		return types.Strategy{}, types.ErrNoStrategy
	}

	return types.FlashLoanStrategy(types.FlashLoanPlan{
		Provider: quote.Provider,
		Token:    quote.Token,
		Amount:   quote.Amount,
		Fee:      quote.Fee,
	}), nil
}

// selectJit validates the liquidity-provision pattern against the latest
// snapshot: the pending order must still be there and its window must allow
// positioning ahead of it.
func (s *Selector) selectJit(opp *types.Opportunity) (types.Strategy, error) {
	if !s.cfg.JitEnabled {
		return types.Strategy{}, types.ErrNoStrategy
	}
	if opp.RequiredCapital > s.cfg.AvailableCapital {
		return types.Strategy{}, types.ErrNoStrategy
	}

	leg := opp.Legs[0]
	snap, ok := s.agg.Latest(leg.Venue, leg.Market)
	if !ok || snap.Pending == nil {
		return types.Strategy{}, types.ErrNoStrategy
	}

	now := s.nowFunc()
	lead := snap.Pending.Deadline.Sub(now)
	if lead <= 0 || lead > s.cfg.JitWindow {
		return types.Strategy{}, types.ErrNoStrategy
	}

	return types.JitStrategy(types.JitPlan{
		Market: leg.Market,
		Order:  *snap.Pending,
		Window: lead,
	}), nil
}
