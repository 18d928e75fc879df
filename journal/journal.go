// Package journal persists terminal execution results. The journal is an
// audit trail: writes are fire-and-forget from the scheduler's point of view
// and a failed write never blocks or fails a trade.
package journal

import (
	"context"
	"errors"

	"github.com/quantfall/arbengine/types"
)

// ErrNotFound is returned when no record matches.
var ErrNotFound = errors.New("journal: record not found")

// ErrDuplicate is returned when a bundle ID is recorded twice.
var ErrDuplicate = errors.New("journal: duplicate bundle id")

// Store is the persistence contract for execution results.
type Store interface {
	// Record appends a terminal result. Each bundle ID is recorded once.
	Record(ctx context.Context, res *types.ExecutionResult) error
	// Recent returns up to limit results, newest first.
	Recent(ctx context.Context, limit int) ([]*types.ExecutionResult, error)
	// Close releases the store's resources.
	Close()
}
