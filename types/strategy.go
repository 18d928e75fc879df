package types

import "time"

// StrategyKind enumerates the closed set of execution strategies. Adding a
// strategy means adding a constant here and a case to every switch over the
// kind; the compiler and tests keep the set exhaustive.
type StrategyKind int

const (
	// StrategyDirect executes the route with locally available capital.
	StrategyDirect StrategyKind = iota
	// StrategyFlashLoan finances the route with an uncollateralized loan
	// borrowed and repaid inside the same atomic bundle.
	StrategyFlashLoan
	// StrategyJitLiquidity supplies liquidity immediately ahead of a
	// pending large order to capture its price impact.
	StrategyJitLiquidity
)

func (k StrategyKind) String() string {
	switch k {
	case StrategyDirect:
		return "direct"
	case StrategyFlashLoan:
		return "flash_loan"
	case StrategyJitLiquidity:
		return "jit_liquidity"
	default:
		return "unknown"
	}
}

// FlashLoanPlan carries the financing terms for a flash-loan strategy.
type FlashLoanPlan struct {
	Provider string
	Token    Address
	Amount   uint64
	Fee      uint64
}

// JitPlan targets a pending order with a liquidity-provision window.
type JitPlan struct {
	Market Address
	Order  PendingOrder
	Window time.Duration
}

// Strategy is a tagged variant over the execution strategies. Exactly one of
// the plan fields is set, matching Kind.
type Strategy struct {
	Kind      StrategyKind
	FlashLoan *FlashLoanPlan
	Jit       *JitPlan
}

// Direct returns a direct-execution strategy.
func Direct() Strategy {
	return Strategy{Kind: StrategyDirect}
}

// FlashLoanStrategy returns a flash-loan strategy with the given plan.
func FlashLoanStrategy(plan FlashLoanPlan) Strategy {
	return Strategy{Kind: StrategyFlashLoan, FlashLoan: &plan}
}

// JitStrategy returns a just-in-time liquidity strategy with the given plan.
func JitStrategy(plan JitPlan) Strategy {
	return Strategy{Kind: StrategyJitLiquidity, Jit: &plan}
}
