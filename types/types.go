// Package types holds the core domain model shared by every stage of the
// engine: market snapshots, opportunities, strategies, bundles and results.
package types

import (
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/mr-tron/base58"
)

// Address is a 32-byte on-ledger account identifier.
type Address [32]byte

// ParseAddress decodes a base58-encoded address.
func ParseAddress(s string) (Address, error) {
	var a Address
	raw, err := base58.Decode(s)
	if err != nil {
		return a, fmt.Errorf("decode address %q: %w", s, err)
	}
	if len(raw) != len(a) {
		return a, fmt.Errorf("address %q: expected 32 bytes, got %d", s, len(raw))
	}
	copy(a[:], raw)
	return a, nil
}

// MustAddress is ParseAddress that panics on invalid input. Static-config and
// test use only.
func MustAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Address) String() string {
	return base58.Encode(a[:])
}

// IsZero reports whether the address is the all-zero account.
func (a Address) IsZero() bool {
	return a == Address{}
}

// TokenPair identifies a tradable base/quote pair.
type TokenPair struct {
	Base  Address
	Quote Address
}

func (p TokenPair) String() string {
	return p.Base.String() + "/" + p.Quote.String()
}

// Key returns a compact hash of the pair, stable across restarts.
func (p TokenPair) Key() uint64 {
	h := xxhash.New()
	h.Write(p.Base[:])
	h.Write(p.Quote[:])
	return h.Sum64()
}

// OrderSide distinguishes resting order direction in a snapshot.
type OrderSide int

const (
	SideBuy OrderSide = iota
	SideSell
)

func (s OrderSide) String() string {
	if s == SideBuy {
		return "buy"
	}
	return "sell"
}

// PendingOrder is a large resting order observed on a venue, the trigger
// pattern for just-in-time liquidity provision.
type PendingOrder struct {
	Side     OrderSide
	Size     uint64
	Price    float64
	Deadline time.Time
}

// MarketSnapshot is one venue's view of a token pair at a point in time.
// Snapshots are immutable once published; a newer version supersedes the
// older one for the same venue/pair.
type MarketSnapshot struct {
	Venue        string
	Market       Address
	Pair         TokenPair
	BestBid      float64
	BestAsk      float64
	BaseReserve  uint64
	QuoteReserve uint64
	FeeRate      float64
	Pending      *PendingOrder
	Version      uint64
	Timestamp    time.Time
}

// Spread returns the relative bid/ask spread.
func (s *MarketSnapshot) Spread() float64 {
	if s.BestBid <= 0 {
		return 0
	}
	return (s.BestAsk - s.BestBid) / s.BestBid
}

// Liquidity returns the quote-denominated depth of the snapshot.
func (s *MarketSnapshot) Liquidity() uint64 {
	return s.QuoteReserve
}

// MidPrice returns the bid/ask midpoint.
func (s *MarketSnapshot) MidPrice() float64 {
	return (s.BestBid + s.BestAsk) / 2
}

// Leg is one hop of an arbitrage route: swap TokenIn for TokenOut on Venue at
// the quoted price. SnapshotVersion pins the exact snapshot the quote came
// from; the leg is stale once the venue publishes a newer version.
type Leg struct {
	Venue           string
	Market          Address
	TokenIn         Address
	TokenOut        Address
	Price           float64
	FeeRate         float64
	SnapshotVersion uint64
	SnapshotTime    time.Time
}

// Opportunity is a profitable cycle of legs over the whitelisted token graph.
// Valid only while every pinned snapshot version remains the latest for its
// venue and the deadline has not passed.
type Opportunity struct {
	Legs            []Leg
	ProfitPct       float64
	EstimatedProfit uint64
	RequiredCapital uint64
	Detected        time.Time
	Deadline        time.Time
}

// Fingerprint is a stable identity for the opportunity's economic content:
// the route plus required capital, independent of detection time. Used to
// suppress re-submission of semantically identical trades.
func (o *Opportunity) Fingerprint() uint64 {
	h := xxhash.New()
	for _, leg := range o.Legs {
		h.Write(leg.Market[:])
		h.Write(leg.TokenIn[:])
		h.Write(leg.TokenOut[:])
	}
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(o.RequiredCapital >> (8 * i))
	}
	h.Write(buf[:])
	return h.Sum64()
}

// PairKeys returns one key per venue/market the route touches. The scheduler
// uses these for pair-level mutual exclusion between in-flight bundles.
func (o *Opportunity) PairKeys() []string {
	keys := make([]string, 0, len(o.Legs))
	seen := make(map[string]struct{}, len(o.Legs))
	for _, leg := range o.Legs {
		k := leg.Venue + ":" + leg.Market.String()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys
}

// Expired reports whether the opportunity passed its staleness deadline.
func (o *Opportunity) Expired(now time.Time) bool {
	return now.After(o.Deadline)
}
