package types

import (
	"errors"
	"fmt"
)

// Sentinel errors for the recoverable failure classes. Callers discard and
// rescan on ErrStale, count ErrFilteredOut and ErrBusy without alarming, and
// retry ErrSubmission up to the configured limit.
var (
	// ErrStale marks an opportunity or bundle whose referenced snapshot has
	// been superseded. Discarded, never executed.
	ErrStale = errors.New("referenced snapshot superseded")

	// ErrBusy marks a bundle refused admission because no execution slot or
	// pair lock is available. The opportunity is dropped; the next detection
	// cycle rediscovers it if it survives.
	ErrBusy = errors.New("no execution slot available")

	// ErrSignerUnavailable is fatal: the signing key cannot be reached.
	ErrSignerUnavailable = errors.New("signer unavailable")

	// ErrNoStrategy marks an opportunity no enabled strategy can execute
	// profitably. A normal filtering outcome, not a fault.
	ErrNoStrategy = errors.New("no viable execution strategy")
)

// FilteredOutError reports an opportunity rejected by a risk or profit
// filter. Normal control flow, counted rather than logged as an error.
type FilteredOutError struct {
	Reason string
}

func (e *FilteredOutError) Error() string {
	return "filtered out: " + e.Reason
}

// FilteredOut wraps a reason into a FilteredOutError.
func FilteredOut(format string, args ...any) error {
	return &FilteredOutError{Reason: fmt.Sprintf(format, args...)}
}

// IsFilteredOut reports whether err is a filtering outcome.
func IsFilteredOut(err error) bool {
	var fe *FilteredOutError
	return errors.As(err, &fe)
}

// SimulationMismatchError reports a pre-flight projection that diverged from
// the opportunity's expected outcome beyond tolerance. Build aborts before
// signing; no funds are put at risk.
type SimulationMismatchError struct {
	Expected  uint64
	Projected uint64
	Tolerance float64
}

func (e *SimulationMismatchError) Error() string {
	return fmt.Sprintf("simulation mismatch: expected %d, projected %d (tolerance %.4f)",
		e.Expected, e.Projected, e.Tolerance)
}

// IsSimulationMismatch reports whether err is a pre-flight divergence.
func IsSimulationMismatch(err error) bool {
	var se *SimulationMismatchError
	return errors.As(err, &se)
}

// SubmissionError wraps a transport-level failure during bundle submission.
// Retryable up to the configured limit.
type SubmissionError struct {
	Attempts int
	Err      error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submission failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// ConfigError is fatal at startup: the configuration cannot produce a
// runnable engine.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config %s: %s", e.Field, e.Reason)
}
