// Package risk holds the static trade limits, the cross-cutting guard
// checks, and the engine's only mutable shared state: the position ledger.
package risk

import (
	"time"

	"github.com/quantfall/arbengine/types"
)

// Limits is the static risk policy, fixed for the process lifetime.
type Limits struct {
	MinProfitPct        float64
	MinLiquidity        uint64
	MaxSpread           float64
	MaxTradeSize        uint64
	DailyVolumeLimit    uint64
	MaxSlippage         float64
	MaxConcurrentTrades int
	PositionTimeout     time.Duration
	SimulationTolerance float64
}

// Guard applies the limits at the three consultation points: detection
// filtering, build-time guard embedding, and scheduler admission.
type Guard struct {
	limits  Limits
	markets map[types.Address]struct{}
	tokens  map[types.Address]struct{}
}

// NewGuard creates a guard over the given limits and whitelists.
func NewGuard(limits Limits, markets, tokens []types.Address) *Guard {
	g := &Guard{
		limits:  limits,
		markets: make(map[types.Address]struct{}, len(markets)),
		tokens:  make(map[types.Address]struct{}, len(tokens)),
	}
	for _, m := range markets {
		g.markets[m] = struct{}{}
	}
	for _, t := range tokens {
		g.tokens[t] = struct{}{}
	}
	return g
}

// Limits returns the static policy snapshot.
func (g *Guard) Limits() Limits {
	return g.limits
}

// MarketAllowed reports whether a market is whitelisted.
func (g *Guard) MarketAllowed(market types.Address) bool {
	_, ok := g.markets[market]
	return ok
}

// TokenAllowed reports whether a token is whitelisted.
func (g *Guard) TokenAllowed(token types.Address) bool {
	_, ok := g.tokens[token]
	return ok
}

// CheckSnapshot rejects snapshots that fail the market-level filters:
// liquidity floor, spread ceiling, whitelist membership.
func (g *Guard) CheckSnapshot(s *types.MarketSnapshot) error {
	if !g.MarketAllowed(s.Market) {
		return types.FilteredOut("market %s not whitelisted", s.Market)
	}
	if !g.TokenAllowed(s.Pair.Base) || !g.TokenAllowed(s.Pair.Quote) {
		return types.FilteredOut("pair %s touches non-whitelisted token", s.Pair)
	}
	if s.Liquidity() < g.limits.MinLiquidity {
		return types.FilteredOut("liquidity %d below minimum %d", s.Liquidity(), g.limits.MinLiquidity)
	}
	if spread := s.Spread(); spread > g.limits.MaxSpread {
		return types.FilteredOut("spread %.4f above maximum %.4f", spread, g.limits.MaxSpread)
	}
	return nil
}

// CheckOpportunity is the detection-stage filter. Opportunities failing it
// never reach the strategy selector.
func (g *Guard) CheckOpportunity(o *types.Opportunity) error {
	if o.ProfitPct < g.limits.MinProfitPct {
		return types.FilteredOut("profit %.4f%% below minimum %.4f%%",
			o.ProfitPct*100, g.limits.MinProfitPct*100)
	}
	if o.RequiredCapital > g.limits.MaxTradeSize {
		return types.FilteredOut("capital %d above max trade size %d",
			o.RequiredCapital, g.limits.MaxTradeSize)
	}
	for _, leg := range o.Legs {
		if !g.MarketAllowed(leg.Market) {
			return types.FilteredOut("leg market %s not whitelisted", leg.Market)
		}
		if !g.TokenAllowed(leg.TokenIn) || !g.TokenAllowed(leg.TokenOut) {
			return types.FilteredOut("leg touches non-whitelisted token")
		}
	}
	return nil
}

// MinOut computes the guard bound embedded in every bundle: realized output
// below expected × (1 − max slippage) aborts the whole atomic unit.
func (g *Guard) MinOut(expected uint64) uint64 {
	return uint64(float64(expected) * (1 - g.limits.MaxSlippage))
}
