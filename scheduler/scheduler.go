// Package scheduler executes signed bundles under bounded concurrency. It
// owns the execution slots, the per-pair exclusion locks and the position
// ledger transitions; every bundle that enters leaves through exactly one
// terminal result.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"

	"github.com/quantfall/arbengine/chain"
	"github.com/quantfall/arbengine/journal"
	"github.com/quantfall/arbengine/monitor"
	"github.com/quantfall/arbengine/risk"
	"github.com/quantfall/arbengine/types"
)

// defaultDedupSize bounds the recent-fingerprint cache.
const defaultDedupSize = 4096

// Config tunes the execution path.
type Config struct {
	MaxConcurrent    int
	DailyVolumeLimit uint64
	PositionTimeout  time.Duration

	// SubmitRetries bounds resubmission attempts after transport failures.
	SubmitRetries uint64
	// ConfirmPollInterval paces status queries while a bundle is in flight.
	ConfirmPollInterval time.Duration
	// SimulateOnly short-circuits submission and records the projected
	// outcome instead.
	SimulateOnly bool
}

// Scheduler runs bundles to a terminal outcome.
type Scheduler struct {
	cfg      Config
	client   chain.Client
	position *risk.Position
	sink     monitor.Sink
	store    journal.Store
	logger   *zap.Logger

	slots  chan struct{}
	recent *lru.Cache

	mu        sync.Mutex
	pairLocks map[string]struct{}

	wg      sync.WaitGroup
	nowFunc func() time.Time
}

// New creates a scheduler. The journal store may be nil for pure dry runs.
func New(cfg Config, client chain.Client, position *risk.Position,
	sink monitor.Sink, store journal.Store, logger *zap.Logger) (*Scheduler, error) {

	if cfg.MaxConcurrent <= 0 {
		return nil, fmt.Errorf("max concurrent trades must be positive, got %d", cfg.MaxConcurrent)
	}
	if cfg.ConfirmPollInterval <= 0 {
		cfg.ConfirmPollInterval = 500 * time.Millisecond
	}
	if sink == nil {
		sink = monitor.NopSink{}
	}

	recent, err := lru.New(defaultDedupSize)
	if err != nil {
		return nil, fmt.Errorf("create dedup cache: %w", err)
	}

	return &Scheduler{
		cfg:       cfg,
		client:    client,
		position:  position,
		sink:      sink,
		store:     store,
		logger:    logger,
		slots:     make(chan struct{}, cfg.MaxConcurrent),
		recent:    recent,
		pairLocks: make(map[string]struct{}),
		nowFunc:   time.Now,
	}, nil
}

// Submit admits a bundle for execution. It returns types.ErrBusy when no
// slot is free or a route pair is already being traded, and a rejection
// error when the risk ledger refuses admission. A nil return means the
// bundle is in flight and will surface exactly one result.
func (s *Scheduler) Submit(ctx context.Context, bundle *types.TransactionBundle) error {
	if s.recent.Contains(bundle.Fingerprint) {
		return types.FilteredOut("route fingerprint %x executed recently", bundle.Fingerprint)
	}

	pairs := bundle.Opportunity.PairKeys()
	if !s.tryLockPairs(pairs) {
		return fmt.Errorf("pair already trading: %w", types.ErrBusy)
	}

	select {
	case s.slots <- struct{}{}:
	default:
		s.unlockPairs(pairs)
		return fmt.Errorf("all %d execution slots occupied: %w", s.cfg.MaxConcurrent, types.ErrBusy)
	}

	// Size is the flash-loan principal for financed bundles, the local
	// capital otherwise; that is the number the volume window must bound.
	if err := s.position.Admit(bundle.ID, bundle.Size(),
		s.cfg.MaxConcurrent, s.cfg.DailyVolumeLimit); err != nil {
		<-s.slots
		s.unlockPairs(pairs)
		s.record(ctx, s.rejectionResult(bundle, err))
		return fmt.Errorf("admission refused: %w", err)
	}

	s.recent.Add(bundle.Fingerprint, struct{}{})
	s.sink.BundleSubmitted(bundle.Strategy.Kind)
	s.sink.InFlight(s.position.OpenCount())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(ctx, bundle, pairs)
	}()
	return nil
}

// Wait blocks until every in-flight bundle reached a terminal result.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// execute drives one bundle to its terminal outcome and releases resources
// only after that outcome is known.
func (s *Scheduler) execute(ctx context.Context, bundle *types.TransactionBundle, pairs []string) {
	submittedAt := s.nowFunc()

	var res *types.ExecutionResult
	if s.cfg.SimulateOnly {
		res = s.simulatedResult(bundle, submittedAt)
	} else {
		res = s.executeLive(ctx, bundle, submittedAt)
	}

	s.position.Finalize(bundle.ID, res.Outcome == types.OutcomeLanded && !res.Simulated)

	// Slot and pair locks release strictly after the fate is resolved so a
	// possibly-landed trade can never run concurrently with a successor on
	// the same pair.
	<-s.slots
	s.unlockPairs(pairs)

	s.sink.InFlight(s.position.OpenCount())
	s.record(ctx, res)
}

// executeLive submits the bundle and waits for a terminal status.
func (s *Scheduler) executeLive(ctx context.Context, bundle *types.TransactionBundle, submittedAt time.Time) *types.ExecutionResult {
	signature, err := s.submitWithRetry(ctx, bundle.Signed)
	if err != nil {
		s.logger.Warn("submission exhausted",
			zap.String("bundle", bundle.ID.String()),
			zap.Error(err))
		return s.terminalResult(bundle, submittedAt, types.OutcomeReverted, "", err.Error())
	}

	s.logger.Info("bundle submitted",
		zap.String("bundle", bundle.ID.String()),
		zap.String("signature", signature),
		zap.String("strategy", bundle.Strategy.Kind.String()))

	deadline := submittedAt.Add(s.cfg.PositionTimeout)
	info, polled := s.pollStatus(ctx, signature, deadline)
	if polled && info.Status.Terminal() {
		return s.settle(bundle, submittedAt, signature, info)
	}

	// Timeout is ambiguity, not failure: the transaction may still land.
	// Reconciliation queries until a terminal answer or the hard deadline.
	return s.reconcile(ctx, bundle, submittedAt, signature)
}

// submitWithRetry resubmits through transient transport failures with
// exponential backoff, wrapping exhaustion in a SubmissionError.
func (s *Scheduler) submitWithRetry(ctx context.Context, signed []byte) (string, error) {
	var signature string
	attempts := 0

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), s.cfg.SubmitRetries), ctx)

	err := backoff.Retry(func() error {
		attempts++
		sig, err := s.client.SubmitTransaction(ctx, signed)
		if err != nil {
			return err
		}
		signature = sig
		return nil
	}, policy)
	if err != nil {
		return "", &types.SubmissionError{Attempts: attempts, Err: err}
	}
	return signature, nil
}

// pollStatus queries the signature until terminal, the deadline, or context
// cancellation. The second return is false when no query ever succeeded.
func (s *Scheduler) pollStatus(ctx context.Context, signature string, deadline time.Time) (chain.StatusInfo, bool) {
	ticker := time.NewTicker(s.cfg.ConfirmPollInterval)
	defer ticker.Stop()

	var last chain.StatusInfo
	polled := false

	for s.nowFunc().Before(deadline) {
		select {
		case <-ctx.Done():
			return last, polled
		case <-ticker.C:
		}

		info, err := s.client.TransactionStatus(ctx, signature)
		if err != nil {
			s.logger.Debug("status query failed", zap.String("signature", signature), zap.Error(err))
			continue
		}
		last, polled = info, true
		if info.Status.Terminal() {
			return info, true
		}
	}
	return last, polled
}

// reconcile resolves a timed-out bundle. The final status must be known
// before resources release: a landed trade counts its volume exactly once,
// a proven revert surfaces as reverted, and a signature the network never
// saw is dropped without volume.
func (s *Scheduler) reconcile(ctx context.Context, bundle *types.TransactionBundle, submittedAt time.Time, signature string) *types.ExecutionResult {
	hardDeadline := submittedAt.Add(2 * s.cfg.PositionTimeout)
	info, polled := s.pollStatus(ctx, signature, hardDeadline)

	if polled && info.Status.Terminal() {
		res := s.settle(bundle, submittedAt, signature, info)
		if res.Outcome == types.OutcomeLanded {
			s.logger.Info("late confirmation during reconciliation",
				zap.String("bundle", bundle.ID.String()),
				zap.String("signature", signature))
		}
		return res
	}

	cause := "confirmation not observed within reconciliation window"
	if polled && info.Status == chain.StatusNotFound {
		cause = "signature unknown to network, bundle dropped"
	}
	return s.terminalResult(bundle, submittedAt, types.OutcomeTimedOut, signature, cause)
}

// settle maps a terminal chain status onto an execution result.
func (s *Scheduler) settle(bundle *types.TransactionBundle, submittedAt time.Time, signature string, info chain.StatusInfo) *types.ExecutionResult {
	if info.Status == chain.StatusConfirmed {
		res := s.terminalResult(bundle, submittedAt, types.OutcomeLanded, signature, "")
		res.ProfitRealized = bundle.Opportunity.EstimatedProfit
		res.Volume = bundle.Size()
		return res
	}
	return s.terminalResult(bundle, submittedAt, types.OutcomeReverted, signature, info.Err)
}

func (s *Scheduler) simulatedResult(bundle *types.TransactionBundle, submittedAt time.Time) *types.ExecutionResult {
	res := s.terminalResult(bundle, submittedAt, types.OutcomeLanded, "", "")
	res.ProfitRealized = bundle.Opportunity.EstimatedProfit
	res.Volume = bundle.Size()
	res.Simulated = true
	return res
}

func (s *Scheduler) rejectionResult(bundle *types.TransactionBundle, err error) *types.ExecutionResult {
	now := s.nowFunc()
	res := s.terminalResult(bundle, now, types.OutcomeRejectedByGuard, "", err.Error())
	res.FinalizedAt = now
	return res
}

func (s *Scheduler) terminalResult(bundle *types.TransactionBundle, submittedAt time.Time,
	outcome types.Outcome, signature, cause string) *types.ExecutionResult {

	finalized := s.nowFunc()
	return &types.ExecutionResult{
		BundleID:      bundle.ID,
		Fingerprint:   bundle.Fingerprint,
		Outcome:       outcome,
		Strategy:      bundle.Strategy.Kind,
		Signature:     signature,
		Cause:         cause,
		Route:         bundle.Opportunity.Legs,
		SubmittedAt:   submittedAt,
		FinalizedAt:   finalized,
		ExecutionTime: finalized.Sub(submittedAt),
	}
}

// record delivers the result to the sink and the journal. Journal failures
// are logged and swallowed.
func (s *Scheduler) record(ctx context.Context, res *types.ExecutionResult) {
	s.sink.ExecutionFinished(res)

	if s.store == nil {
		return
	}
	if err := s.store.Record(ctx, res); err != nil {
		s.logger.Warn("journal write failed",
			zap.String("bundle", res.BundleID.String()),
			zap.Error(err))
	}
}

// tryLockPairs acquires all pair locks or none.
func (s *Scheduler) tryLockPairs(pairs []string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range pairs {
		if _, held := s.pairLocks[p]; held {
			return false
		}
	}
	for _, p := range pairs {
		s.pairLocks[p] = struct{}{}
	}
	return true
}

func (s *Scheduler) unlockPairs(pairs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range pairs {
		delete(s.pairLocks, p)
	}
}
