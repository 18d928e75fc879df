// Package market maintains the live, versioned view of every whitelisted
// venue. Each venue/market holds one atomically-published slot: single
// writer (its feed), many readers, no lock on the read path.
package market

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/quantfall/arbengine/types"
)

// Ref identifies one venue/market slot.
type Ref struct {
	Venue  string
	Market types.Address
}

type slot struct {
	ptr atomic.Pointer[types.MarketSnapshot]
}

// Aggregator holds the latest snapshot per venue/market and feeds a
// coalesced update stream to the detector. Versions are monotonic per slot;
// late or duplicate deliveries are dropped silently.
type Aggregator struct {
	mu    sync.RWMutex
	slots map[Ref]*slot

	dirtyMu sync.Mutex
	dirty   map[Ref]struct{}
	notify  chan struct{}

	dropped atomic.Uint64
	logger  *zap.Logger
}

// NewAggregator creates an empty aggregator.
func NewAggregator(logger *zap.Logger) *Aggregator {
	return &Aggregator{
		slots:  make(map[Ref]*slot),
		dirty:  make(map[Ref]struct{}),
		notify: make(chan struct{}, 1),
		logger: logger,
	}
}

// Publish installs a snapshot if its version is newer than the held one.
// Returns false when the update was superseded and dropped.
func (a *Aggregator) Publish(s *types.MarketSnapshot) bool {
	ref := Ref{Venue: s.Venue, Market: s.Market}

	a.mu.RLock()
	sl, ok := a.slots[ref]
	a.mu.RUnlock()
	if !ok {
		a.mu.Lock()
		if sl, ok = a.slots[ref]; !ok {
			sl = &slot{}
			a.slots[ref] = sl
		}
		a.mu.Unlock()
	}

	for {
		cur := sl.ptr.Load()
		if cur != nil && s.Version <= cur.Version {
			a.dropped.Add(1)
			return false
		}
		if sl.ptr.CompareAndSwap(cur, s) {
			break
		}
	}

	a.dirtyMu.Lock()
	a.dirty[ref] = struct{}{}
	a.dirtyMu.Unlock()

	select {
	case a.notify <- struct{}{}:
	default:
	}
	return true
}

// Latest returns the most recent snapshot for a venue/market, or false if
// never observed. Never blocks.
func (a *Aggregator) Latest(venue string, market types.Address) (*types.MarketSnapshot, bool) {
	a.mu.RLock()
	sl, ok := a.slots[Ref{Venue: venue, Market: market}]
	a.mu.RUnlock()
	if !ok {
		return nil, false
	}
	s := sl.ptr.Load()
	if s == nil {
		return nil, false
	}
	return s, true
}

// Snapshots returns the current value of every observed slot.
func (a *Aggregator) Snapshots() []*types.MarketSnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]*types.MarketSnapshot, 0, len(a.slots))
	for _, sl := range a.slots {
		if s := sl.ptr.Load(); s != nil {
			out = append(out, s)
		}
	}
	return out
}

// Fresh reports whether the given version is still the latest for its slot.
// The staleness invariant for opportunities and bundles rests on this check.
func (a *Aggregator) Fresh(venue string, market types.Address, version uint64) bool {
	s, ok := a.Latest(venue, market)
	return ok && s.Version == version
}

// WaitUpdates blocks until at least one slot changed, then drains and
// returns the changed refs. Multiple updates to the same slot coalesce into
// one ref; the detector acts on current state, not on every event.
func (a *Aggregator) WaitUpdates(ctx context.Context) ([]Ref, error) {
	for {
		a.dirtyMu.Lock()
		if len(a.dirty) > 0 {
			refs := make([]Ref, 0, len(a.dirty))
			for ref := range a.dirty {
				refs = append(refs, ref)
			}
			a.dirty = make(map[Ref]struct{})
			a.dirtyMu.Unlock()
			return refs, nil
		}
		a.dirtyMu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-a.notify:
		}
	}
}

// Dropped returns the count of superseded updates discarded so far.
func (a *Aggregator) Dropped() uint64 {
	return a.dropped.Load()
}

// Consume publishes snapshots from a feed channel until it closes or the
// context ends. One Consume goroutine runs per venue feed.
func (a *Aggregator) Consume(ctx context.Context, feed <-chan *types.MarketSnapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-feed:
			if !ok {
				a.logger.Info("market feed closed")
				return
			}
			if !a.Publish(snap) {
				a.logger.Debug("superseded update dropped",
					zap.String("venue", snap.Venue),
					zap.Uint64("version", snap.Version))
			}
		}
	}
}
