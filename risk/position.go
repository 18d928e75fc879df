package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// rollingWindow spans one day for the volume cap.
const volumeWindow = 24 * time.Hour

type openTrade struct {
	size    uint64
	started time.Time
}

type volumeEntry struct {
	at   time.Time
	size uint64
}

// Position is the engine's single mutable shared state: open trade count and
// the rolling executed-volume window. The scheduler is the only mutator;
// every state transition happens inside one critical section.
type Position struct {
	mu      sync.Mutex
	open    map[uuid.UUID]openTrade
	window  []volumeEntry
	nowFunc func() time.Time
}

// NewPosition creates an empty position ledger.
func NewPosition() *Position {
	return &Position{
		open:    make(map[uuid.UUID]openTrade),
		nowFunc: time.Now,
	}
}

// Admit atomically checks the concurrency and rolling-volume limits and, if
// both pass, registers the trade as open. Rejection leaves no trace.
func (p *Position) Admit(id uuid.UUID, size uint64, maxConcurrent int, dailyLimit uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.nowFunc()
	if len(p.open) >= maxConcurrent {
		return fmt.Errorf("in-flight trades at limit %d", maxConcurrent)
	}

	// In-flight sizes count against the window: an open trade may still land,
	// so the admitted total must hold even if every pending trade does.
	committed := p.volumeLocked(now) + p.openSizeLocked()
	if committed+size > dailyLimit {
		return fmt.Errorf("committed volume %d + trade %d exceeds daily limit %d", committed, size, dailyLimit)
	}

	p.open[id] = openTrade{size: size, started: now}
	return nil
}

// Finalize closes an open trade and, if it landed, counts its volume exactly
// once. Finalizing an unknown or already-closed trade is a no-op; the open
// map is the idempotence guard.
func (p *Position) Finalize(id uuid.UUID, landed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	trade, ok := p.open[id]
	if !ok {
		return
	}
	delete(p.open, id)

	if landed {
		p.window = append(p.window, volumeEntry{at: p.nowFunc(), size: trade.size})
	}
}

// OpenCount returns the number of in-flight trades.
func (p *Position) OpenCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.open)
}

// StartedAt returns when an open trade was admitted.
func (p *Position) StartedAt(id uuid.UUID) (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.open[id]
	return t.started, ok
}

// WindowVolume returns cumulative landed volume within the rolling day.
func (p *Position) WindowVolume() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volumeLocked(p.nowFunc())
}

// openSizeLocked sums the sizes of in-flight trades. Caller holds mu.
func (p *Position) openSizeLocked() uint64 {
	var total uint64
	for _, t := range p.open {
		total += t.size
	}
	return total
}

// volumeLocked prunes expired entries and sums the rest. Caller holds mu.
func (p *Position) volumeLocked(now time.Time) uint64 {
	cutoff := now.Add(-volumeWindow)
	kept := p.window[:0]
	var total uint64
	for _, e := range p.window {
		if e.at.After(cutoff) {
			kept = append(kept, e)
			total += e.size
		}
	}
	p.window = kept
	return total
}
