// Package flashloan coordinates uncollateralized borrow/repay financing for
// bundles whose capital requirement exceeds the local balance. A loan exists
// only inside one atomic transaction unit: the borrow and repay instructions
// bracket the route, and the ledger reverts the whole unit if repayment with
// fee does not happen.
package flashloan

import (
	"context"

	"github.com/quantfall/arbengine/types"
)

// Quote is a provider's offer: the borrow/repay instruction pair and the fee
// charged for the round trip.
type Quote struct {
	Provider string
	Token    types.Address
	Amount   uint64
	Fee      uint64
	Borrow   types.Instruction
	Repay    types.Instruction
}

// Repayment returns principal plus fee, the amount the repay instruction
// settles.
func (q *Quote) Repayment() uint64 {
	return q.Amount + q.Fee
}

// Provider is one flash-loan protocol adapter.
type Provider interface {
	// Quote returns borrow/repay instructions and the fee for the requested
	// amount, or an error if the provider's pool cannot cover it.
	Quote(ctx context.Context, token types.Address, amount uint64) (*Quote, error)

	// Liquidity reports the provider's available pool depth for a token.
	Liquidity(ctx context.Context, token types.Address) (uint64, error)

	// Fee returns the fee charged for borrowing the given amount.
	Fee(amount uint64) uint64

	String() string
}

// ProviderConfig parameterizes a protocol adapter.
type ProviderConfig struct {
	Program types.Address
	Pool    types.Address
	FeeBps  uint16
	MaxLoan uint64
}
