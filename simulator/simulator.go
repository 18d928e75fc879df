// Package simulator projects a route against the latest market snapshots
// before any signing happens. A projection that diverges from the
// opportunity's expectation beyond tolerance aborts the build; no funds move
// for a stale or mispriced opportunity.
package simulator

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/quantfall/arbengine/types"
)

// slippageFactor scales price impact linearly with trade size relative to
// pool depth, capped at the configured maximum.
const slippageFactor = 0.1

// LatestFunc resolves the current snapshot for a venue/market.
type LatestFunc func(venue string, market types.Address) (*types.MarketSnapshot, bool)

// Result is the outcome of one pre-flight projection.
type Result struct {
	AmountIn     uint64
	ProjectedOut uint64
	ExpectedOut  uint64
	Divergence   float64
	FeesPaid     uint64
}

// Simulator runs pre-flight projections.
type Simulator struct {
	latest      LatestFunc
	tolerance   float64
	maxSlippage float64
	logger      *zap.Logger
}

// New creates a simulator reading snapshots through latest.
func New(latest LatestFunc, tolerance, maxSlippage float64, logger *zap.Logger) *Simulator {
	return &Simulator{
		latest:      latest,
		tolerance:   tolerance,
		maxSlippage: maxSlippage,
		logger:      logger,
	}
}

// ProjectRoute walks the legs with amountIn and returns the projected output
// after fees and modeled slippage, priced off the latest snapshots.
func (s *Simulator) ProjectRoute(legs []types.Leg, amountIn uint64) (uint64, error) {
	amount := float64(amountIn)

	for i, leg := range legs {
		snap, ok := s.latest(leg.Venue, leg.Market)
		if !ok {
			return 0, fmt.Errorf("leg %d: no snapshot for %s on %s: %w",
				i, leg.Market, leg.Venue, types.ErrStale)
		}

		out, err := s.projectLeg(leg, snap, amount)
		if err != nil {
			return 0, fmt.Errorf("leg %d: %w", i, err)
		}
		amount = out
	}

	if amount < 0 {
		amount = 0
	}
	return uint64(amount), nil
}

// projectLeg applies one swap with the linear price-impact model.
func (s *Simulator) projectLeg(leg types.Leg, snap *types.MarketSnapshot, amountIn float64) (float64, error) {
	slip := s.slippage(amountIn, snap)

	switch {
	case leg.TokenIn == snap.Pair.Quote && leg.TokenOut == snap.Pair.Base:
		// Buying base with quote at the ask, impact raises the price.
		price := snap.BestAsk * (1 + slip)
		if price <= 0 {
			return 0, fmt.Errorf("non-positive ask on %s", snap.Venue)
		}
		return amountIn / price * (1 - snap.FeeRate), nil

	case leg.TokenIn == snap.Pair.Base && leg.TokenOut == snap.Pair.Quote:
		// Selling base for quote at the bid, impact lowers the price.
		price := snap.BestBid * (1 - slip)
		return amountIn * price * (1 - snap.FeeRate), nil

	default:
		return 0, fmt.Errorf("leg tokens do not match market pair %s", snap.Pair)
	}
}

// slippage models price impact as size over depth, capped at the limit.
func (s *Simulator) slippage(amount float64, snap *types.MarketSnapshot) float64 {
	depth := float64(snap.Liquidity())
	if depth <= 0 {
		return s.maxSlippage
	}
	slip := amount / depth * slippageFactor
	if slip > s.maxSlippage {
		slip = s.maxSlippage
	}
	return slip
}

// Preflight projects the route and compares it with the expected output.
// Divergence beyond tolerance returns a SimulationMismatchError.
func (s *Simulator) Preflight(opp *types.Opportunity, amountIn, expectedOut uint64) (*Result, error) {
	projected, err := s.ProjectRoute(opp.Legs, amountIn)
	if err != nil {
		return nil, err
	}

	res := &Result{
		AmountIn:     amountIn,
		ProjectedOut: projected,
		ExpectedOut:  expectedOut,
	}
	if expectedOut > 0 {
		diff := float64(projected) - float64(expectedOut)
		if diff < 0 {
			diff = -diff
		}
		res.Divergence = diff / float64(expectedOut)
	}

	if res.Divergence > s.tolerance {
		s.logger.Debug("preflight divergence above tolerance",
			zap.Uint64("expected", expectedOut),
			zap.Uint64("projected", projected),
			zap.Float64("divergence", res.Divergence))
		return res, &types.SimulationMismatchError{
			Expected:  expectedOut,
			Projected: projected,
			Tolerance: s.tolerance,
		}
	}
	return res, nil
}
