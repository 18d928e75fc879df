package journal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantfall/arbengine/types"
)

const pgErrUniqueViolation = "23505"

const executionsSchema = `
	CREATE TABLE IF NOT EXISTS executions (
		bundle_id         UUID PRIMARY KEY,
		fingerprint       BIGINT NOT NULL,
		outcome           TEXT NOT NULL,
		strategy          TEXT NOT NULL,
		profit_realized   BIGINT NOT NULL,
		volume            BIGINT NOT NULL,
		signature         TEXT NOT NULL DEFAULT '',
		cause             TEXT NOT NULL DEFAULT '',
		route             TEXT NOT NULL DEFAULT '',
		submitted_at      TIMESTAMPTZ NOT NULL,
		finalized_at      TIMESTAMPTZ NOT NULL,
		execution_time_ms BIGINT NOT NULL,
		simulated         BOOLEAN NOT NULL
	)
`

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects, verifies the connection and ensures the schema.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse journal dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect journal: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping journal: %w", err)
	}

	if _, err := pool.Exec(ctx, executionsSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure executions schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Record appends one result. Returns ErrDuplicate when the bundle ID exists.
func (s *PostgresStore) Record(ctx context.Context, res *types.ExecutionResult) error {
	query := `
		INSERT INTO executions (
			bundle_id, fingerprint, outcome, strategy,
			profit_realized, volume, signature, cause, route,
			submitted_at, finalized_at, execution_time_ms, simulated
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8, $9,
			$10, $11, $12, $13
		)
	`

	_, err := s.pool.Exec(ctx, query,
		res.BundleID, int64(res.Fingerprint), res.Outcome.String(), res.Strategy.String(),
		int64(res.ProfitRealized), int64(res.Volume), res.Signature, res.Cause, encodeRoute(res.Route),
		res.SubmittedAt, res.FinalizedAt, res.ExecutionTime.Milliseconds(), res.Simulated,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

// Recent returns up to limit results, newest first. Route detail beyond the
// venue:market path is not reconstructed.
func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]*types.ExecutionResult, error) {
	query := `
		SELECT
			bundle_id, fingerprint, outcome, strategy,
			profit_realized, volume, signature, cause,
			submitted_at, finalized_at, execution_time_ms, simulated
		FROM executions
		ORDER BY finalized_at DESC, bundle_id DESC
		LIMIT $1
	`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent executions: %w", err)
	}
	defer rows.Close()

	var results []*types.ExecutionResult
	for rows.Next() {
		var (
			r           types.ExecutionResult
			fingerprint int64
			outcome     string
			strategy    string
			profit      int64
			volume      int64
			execMs      int64
		)
		err := rows.Scan(
			&r.BundleID, &fingerprint, &outcome, &strategy,
			&profit, &volume, &r.Signature, &r.Cause,
			&r.SubmittedAt, &r.FinalizedAt, &execMs, &r.Simulated,
		)
		if err != nil {
			return nil, fmt.Errorf("scan execution row: %w", err)
		}
		r.Fingerprint = uint64(fingerprint)
		r.Outcome = parseOutcome(outcome)
		r.Strategy = parseStrategy(strategy)
		r.ProfitRealized = uint64(profit)
		r.Volume = uint64(volume)
		r.ExecutionTime = millisDuration(execMs)
		results = append(results, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate execution rows: %w", err)
	}
	return results, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func encodeRoute(legs []types.Leg) string {
	parts := make([]string, len(legs))
	for i, leg := range legs {
		parts[i] = leg.Venue + ":" + leg.Market.String()
	}
	return strings.Join(parts, "->")
}

func parseOutcome(s string) types.Outcome {
	for _, o := range []types.Outcome{
		types.OutcomeLanded, types.OutcomeReverted,
		types.OutcomeTimedOut, types.OutcomeRejectedByGuard,
	} {
		if o.String() == s {
			return o
		}
	}
	return types.OutcomeReverted
}

func parseStrategy(s string) types.StrategyKind {
	for _, k := range []types.StrategyKind{
		types.StrategyDirect, types.StrategyFlashLoan, types.StrategyJitLiquidity,
	} {
		if k.String() == s {
			return k
		}
	}
	return types.StrategyDirect
}

func millisDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgErrUniqueViolation
	}
	return false
}
