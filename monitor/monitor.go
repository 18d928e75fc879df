// Package monitor is the engine's observation surface. Delivery problems in
// monitoring never propagate back into the execution path.
package monitor

import (
	"github.com/quantfall/arbengine/types"
)

// Sink receives execution events. Implementations must be safe for
// concurrent use and must not block the caller.
type Sink interface {
	// OpportunitiesDetected records the size of one detection batch.
	OpportunitiesDetected(n int)
	// BundleSubmitted records a bundle entering flight.
	BundleSubmitted(kind types.StrategyKind)
	// InFlight reports the current number of occupied execution slots.
	InFlight(n int)
	// ExecutionFinished records a terminal result.
	ExecutionFinished(res *types.ExecutionResult)
}

// NopSink discards everything.
type NopSink struct{}

var _ Sink = NopSink{}

func (NopSink) OpportunitiesDetected(int)                {}
func (NopSink) BundleSubmitted(types.StrategyKind)       {}
func (NopSink) InFlight(int)                             {}
func (NopSink) ExecutionFinished(*types.ExecutionResult) {}
