// Package chain defines the engine's boundary with the ledger: submission,
// status queries, account reads, market-data subscription and signing. The
// engine depends only on these capability shapes, never on a wire protocol.
package chain

import (
	"context"

	"github.com/quantfall/arbengine/types"
)

// TxStatus is the observable state of a submitted transaction.
type TxStatus int

const (
	// StatusPending means the transaction is known but not yet finalized.
	StatusPending TxStatus = iota
	// StatusConfirmed means the transaction landed with the required
	// confirmation count.
	StatusConfirmed
	// StatusFailed means the transaction landed and reverted on-ledger.
	StatusFailed
	// StatusNotFound means the network has no record of the signature.
	StatusNotFound
)

func (s TxStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusConfirmed:
		return "confirmed"
	case StatusFailed:
		return "failed"
	case StatusNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status resolves the transaction's fate.
func (s TxStatus) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

// StatusInfo is the answer to a transaction status query.
type StatusInfo struct {
	Status TxStatus
	Slot   uint64
	Err    string
}

// Client is the blockchain connectivity collaborator. Every call honors the
// passed context; implementations wrap each request in the configured
// timeout.
type Client interface {
	// SubmitTransaction broadcasts a signed bundle and returns its
	// signature.
	SubmitTransaction(ctx context.Context, signed []byte) (string, error)

	// TransactionStatus queries the final state of a signature. Used by the
	// scheduler to resolve ambiguous timeouts before releasing resources.
	TransactionStatus(ctx context.Context, signature string) (StatusInfo, error)

	// GetAccountState reads raw account data, used by flash-loan adapters
	// to gauge pool liquidity.
	GetAccountState(ctx context.Context, addr types.Address) ([]byte, error)

	// SubscribeMarketData streams snapshot updates for the given markets.
	// The channel closes when the context is canceled or the feed
	// terminates.
	SubscribeMarketData(ctx context.Context, markets []types.Address) (<-chan *types.MarketSnapshot, error)
}

// Signer turns an unsigned instruction sequence into a signed submittable
// transaction. Key custody lives outside the engine; an unreachable key
// surfaces as types.ErrSignerUnavailable and is fatal.
type Signer interface {
	Sign(ctx context.Context, instructions []types.Instruction) ([]byte, error)
}
