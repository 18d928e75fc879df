// Package detector searches the whitelisted token graph for profitable
// cycles. Edges are venue quotes weighted by fee-adjusted exchange rate; a
// cycle whose rate product exceeds one is a candidate opportunity. Search
// depth is bounded: multi-hop paths beyond a few legs have exponentially
// decaying expected profit net of fees, so completeness is traded for
// bounded latency.
package detector

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/quantfall/arbengine/market"
	"github.com/quantfall/arbengine/risk"
	"github.com/quantfall/arbengine/types"
)

// liquidityFraction bounds trade size to a tenth of the shallowest pool on
// the route, keeping modeled price impact in the linear regime.
const liquidityFraction = 10

// Config tunes the cycle search.
type Config struct {
	MaxHops         int
	MaxTradeSize    uint64
	FixedCostPerLeg uint64
	OpportunityTTL  time.Duration
}

// Detector turns snapshot updates into ranked opportunities.
type Detector struct {
	agg    *market.Aggregator
	guard  *risk.Guard
	cfg    Config
	logger *zap.Logger

	nowFunc func() time.Time
}

// New creates a detector over the aggregator's live state.
func New(agg *market.Aggregator, guard *risk.Guard, cfg Config, logger *zap.Logger) *Detector {
	return &Detector{
		agg:     agg,
		guard:   guard,
		cfg:     cfg,
		logger:  logger,
		nowFunc: time.Now,
	}
}

// edge is one direction of a venue quote.
type edge struct {
	from    types.Address
	to      types.Address
	venue   string
	market  types.Address
	price   float64
	rate    float64
	fee     float64
	version uint64
	ts      time.Time
	depth   uint64
}

// Scan re-evaluates the parts of the graph touched by the changed refs and
// returns opportunities ranked best-profit-first. Every returned candidate
// already passed the risk filter; the strategy selector never sees anything
// below the profit or liquidity thresholds.
func (d *Detector) Scan(refs []market.Ref) []*types.Opportunity {
	snapshots := d.tradableSnapshots()
	if len(snapshots) == 0 {
		return nil
	}

	edges := buildEdges(snapshots)
	startTokens := d.affectedTokens(refs, snapshots)

	var found []*types.Opportunity
	seen := make(map[uint64]struct{})

	for token := range startTokens {
		for _, opp := range d.searchCycles(edges, token) {
			fp := opp.Fingerprint()
			if _, dup := seen[fp]; dup {
				continue
			}
			seen[fp] = struct{}{}
			if err := d.guard.CheckOpportunity(opp); err != nil {
				d.logger.Debug("candidate filtered", zap.String("reason", err.Error()))
				continue
			}
			found = append(found, opp)
		}
	}

	for _, snap := range snapshots {
		if opp := d.jitCandidate(snap); opp != nil {
			if err := d.guard.CheckOpportunity(opp); err == nil {
				found = append(found, opp)
			}
		}
	}

	rank(found)
	return found
}

// tradableSnapshots returns the current snapshots passing the market-level
// risk filters.
func (d *Detector) tradableSnapshots() []*types.MarketSnapshot {
	all := d.agg.Snapshots()
	out := all[:0]
	for _, s := range all {
		if err := d.guard.CheckSnapshot(s); err != nil {
			continue
		}
		out = append(out, s)
	}
	return out
}

// affectedTokens maps dirty refs to the tokens whose cycles need
// re-evaluation. An empty ref set means a full rescan.
func (d *Detector) affectedTokens(refs []market.Ref, snapshots []*types.MarketSnapshot) map[types.Address]struct{} {
	tokens := make(map[types.Address]struct{})
	if len(refs) == 0 {
		for _, s := range snapshots {
			tokens[s.Pair.Base] = struct{}{}
			tokens[s.Pair.Quote] = struct{}{}
		}
		return tokens
	}

	dirty := make(map[market.Ref]struct{}, len(refs))
	for _, r := range refs {
		dirty[r] = struct{}{}
	}
	for _, s := range snapshots {
		if _, ok := dirty[market.Ref{Venue: s.Venue, Market: s.Market}]; ok {
			tokens[s.Pair.Base] = struct{}{}
			tokens[s.Pair.Quote] = struct{}{}
		}
	}
	return tokens
}

func buildEdges(snapshots []*types.MarketSnapshot) map[types.Address][]edge {
	edges := make(map[types.Address][]edge)
	for _, s := range snapshots {
		if s.BestAsk > 0 {
			// Quote -> base: buy at the ask.
			edges[s.Pair.Quote] = append(edges[s.Pair.Quote], edge{
				from:    s.Pair.Quote,
				to:      s.Pair.Base,
				venue:   s.Venue,
				market:  s.Market,
				price:   s.BestAsk,
				rate:    (1 / s.BestAsk) * (1 - s.FeeRate),
				fee:     s.FeeRate,
				version: s.Version,
				ts:      s.Timestamp,
				depth:   s.Liquidity(),
			})
		}
		if s.BestBid > 0 {
			// Base -> quote: sell at the bid.
			edges[s.Pair.Base] = append(edges[s.Pair.Base], edge{
				from:    s.Pair.Base,
				to:      s.Pair.Quote,
				venue:   s.Venue,
				market:  s.Market,
				price:   s.BestBid,
				rate:    s.BestBid * (1 - s.FeeRate),
				fee:     s.FeeRate,
				version: s.Version,
				ts:      s.Timestamp,
				depth:   s.Liquidity(),
			})
		}
	}
	return edges
}

// searchCycles runs a bounded-depth DFS from start and returns every cycle
// returning to start with a rate product above one, net of fixed costs.
func (d *Detector) searchCycles(edges map[types.Address][]edge, start types.Address) []*types.Opportunity {
	var found []*types.Opportunity
	path := make([]edge, 0, d.cfg.MaxHops)
	usedMarkets := make(map[types.Address]struct{}, d.cfg.MaxHops)

	var dfs func(current types.Address, product float64)
	dfs = func(current types.Address, product float64) {
		for _, e := range edges[current] {
			if _, used := usedMarkets[e.market]; used {
				continue
			}
			next := product * e.rate

			if e.to == start && len(path) >= 1 {
				if opp := d.buildOpportunity(append(path, e), next); opp != nil {
					found = append(found, opp)
				}
				continue
			}
			if len(path)+1 >= d.cfg.MaxHops {
				continue
			}

			path = append(path, e)
			usedMarkets[e.market] = struct{}{}
			dfs(e.to, next)
			delete(usedMarkets, e.market)
			path = path[:len(path)-1]
		}
	}

	dfs(start, 1)
	return found
}

// buildOpportunity sizes and prices a discovered cycle. Returns nil when the
// cycle is unprofitable after fixed costs.
func (d *Detector) buildOpportunity(cycle []edge, product float64) *types.Opportunity {
	if product <= 1 {
		return nil
	}

	capital := d.cfg.MaxTradeSize
	for _, e := range cycle {
		if sized := e.depth / liquidityFraction; sized < capital {
			capital = sized
		}
	}
	if capital == 0 {
		return nil
	}

	gross := float64(capital) * (product - 1)
	fixed := float64(d.cfg.FixedCostPerLeg) * float64(len(cycle))
	net := gross - fixed
	if net <= 0 {
		return nil
	}

	legs := make([]types.Leg, len(cycle))
	for i, e := range cycle {
		legs[i] = types.Leg{
			Venue:           e.venue,
			Market:          e.market,
			TokenIn:         e.from,
			TokenOut:        e.to,
			Price:           e.price,
			FeeRate:         e.fee,
			SnapshotVersion: e.version,
			SnapshotTime:    e.ts,
		}
	}

	now := d.nowFunc()
	return &types.Opportunity{
		Legs:            legs,
		ProfitPct:       net / float64(capital),
		EstimatedProfit: uint64(net),
		RequiredCapital: capital,
		Detected:        now,
		Deadline:        now.Add(d.cfg.OpportunityTTL),
	}
}

// jitCandidate emits a single-leg opportunity when a snapshot carries a
// pending large order: providing liquidity just ahead of it captures part of
// its price impact. The strategy selector validates the timing window.
func (d *Detector) jitCandidate(snap *types.MarketSnapshot) *types.Opportunity {
	p := snap.Pending
	if p == nil || p.Size == 0 {
		return nil
	}

	now := d.nowFunc()
	if !p.Deadline.After(now) {
		return nil
	}

	// Capture is bounded by the order's price impact on current depth.
	depth := float64(snap.Liquidity())
	if depth <= 0 {
		return nil
	}
	impact := float64(p.Size) / depth
	if impact > 1 {
		impact = 1
	}

	capital := p.Size / 2
	if capital > d.cfg.MaxTradeSize {
		capital = d.cfg.MaxTradeSize
	}
	if capital == 0 {
		return nil
	}

	gross := float64(capital) * impact * (1 - snap.FeeRate)
	net := gross - float64(d.cfg.FixedCostPerLeg)*2
	if net <= 0 {
		return nil
	}

	deadline := now.Add(d.cfg.OpportunityTTL)
	if p.Deadline.Before(deadline) {
		deadline = p.Deadline
	}

	return &types.Opportunity{
		Legs: []types.Leg{{
			Venue:           snap.Venue,
			Market:          snap.Market,
			TokenIn:         snap.Pair.Quote,
			TokenOut:        snap.Pair.Base,
			Price:           p.Price,
			FeeRate:         snap.FeeRate,
			SnapshotVersion: snap.Version,
			SnapshotTime:    snap.Timestamp,
		}},
		ProfitPct:       net / float64(capital),
		EstimatedProfit: uint64(net),
		RequiredCapital: capital,
		Detected:        now,
		Deadline:        deadline,
	}
}

// rank orders candidates best-profit-first; ties break toward lower capital,
// then toward the route whose oldest snapshot is freshest.
func rank(opps []*types.Opportunity) {
	sort.SliceStable(opps, func(i, j int) bool {
		a, b := opps[i], opps[j]
		if a.ProfitPct != b.ProfitPct {
			return a.ProfitPct > b.ProfitPct
		}
		if a.RequiredCapital != b.RequiredCapital {
			return a.RequiredCapital < b.RequiredCapital
		}
		return oldestLeg(a).After(oldestLeg(b))
	})
}

func oldestLeg(o *types.Opportunity) time.Time {
	oldest := o.Legs[0].SnapshotTime
	for _, leg := range o.Legs[1:] {
		if leg.SnapshotTime.Before(oldest) {
			oldest = leg.SnapshotTime
		}
	}
	return oldest
}
