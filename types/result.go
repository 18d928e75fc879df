package types

import (
	"time"

	"github.com/google/uuid"
)

// Outcome tags the terminal state of a submitted bundle.
type Outcome int

const (
	// OutcomeLanded means the bundle confirmed and the guard held.
	OutcomeLanded Outcome = iota
	// OutcomeReverted means the bundle landed but a guard condition failed
	// on-ledger, or submission was exhausted; no funds moved beyond fees.
	OutcomeReverted
	// OutcomeTimedOut means confirmation did not arrive within the position
	// timeout and reconciliation could not prove the trade landed.
	OutcomeTimedOut
	// OutcomeRejectedByGuard means the risk layer refused the bundle before
	// submission.
	OutcomeRejectedByGuard
)

func (o Outcome) String() string {
	switch o {
	case OutcomeLanded:
		return "landed"
	case OutcomeReverted:
		return "reverted"
	case OutcomeTimedOut:
		return "timed_out"
	case OutcomeRejectedByGuard:
		return "rejected_by_guard"
	default:
		return "unknown"
	}
}

// ExecutionResult is the terminal record of one bundle. It carries enough
// detail to reconstruct the decision: the opportunity, the strategy and the
// cause of failure if any.
type ExecutionResult struct {
	BundleID       uuid.UUID
	Fingerprint    uint64
	Outcome        Outcome
	Strategy       StrategyKind
	ProfitRealized uint64
	Volume         uint64
	Signature      string
	Cause          string
	Route          []Leg
	SubmittedAt    time.Time
	FinalizedAt    time.Time
	ExecutionTime  time.Duration
	Simulated      bool
}
