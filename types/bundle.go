package types

import (
	"encoding/binary"
	"time"

	"github.com/google/uuid"
)

// InstructionKind classifies the role of an instruction within a bundle.
type InstructionKind int

const (
	InstrBorrow InstructionKind = iota
	InstrSwap
	InstrProvideLiquidity
	InstrWithdrawLiquidity
	InstrRepay
	InstrGuard
)

func (k InstructionKind) String() string {
	switch k {
	case InstrBorrow:
		return "borrow"
	case InstrSwap:
		return "swap"
	case InstrProvideLiquidity:
		return "provide_liquidity"
	case InstrWithdrawLiquidity:
		return "withdraw_liquidity"
	case InstrRepay:
		return "repay"
	case InstrGuard:
		return "guard"
	default:
		return "unknown"
	}
}

// Instruction is one atomic on-ledger action. Program and account layout are
// opaque to the engine; Data carries the ledger-specific encoding produced by
// the venue or flash-loan adapter.
type Instruction struct {
	Kind     InstructionKind
	Program  Address
	Accounts []Address
	Data     []byte
}

// GuardData encodes the minimum-output guard payload: the whole bundle
// aborts on-ledger if realized output falls below MinOut.
type GuardData struct {
	Token  Address
	MinOut uint64
}

// Encode serializes the guard payload into instruction data.
func (g GuardData) Encode() []byte {
	buf := make([]byte, len(g.Token)+8)
	copy(buf, g.Token[:])
	binary.LittleEndian.PutUint64(buf[len(g.Token):], g.MinOut)
	return buf
}

// DecodeGuardData parses instruction data produced by GuardData.Encode.
func DecodeGuardData(data []byte) (GuardData, bool) {
	var g GuardData
	if len(data) != len(g.Token)+8 {
		return g, false
	}
	copy(g.Token[:], data[:len(g.Token)])
	g.MinOut = binary.LittleEndian.Uint64(data[len(g.Token):])
	return g, true
}

// TransactionBundle is an ordered, guarded instruction sequence compiled from
// one opportunity and strategy. The underlying ledger executes it atomically:
// either every instruction applies or none does.
type TransactionBundle struct {
	ID           uuid.UUID
	Opportunity  *Opportunity
	Strategy     Strategy
	Instructions []Instruction
	ExpectedOut  uint64
	MinOut       uint64
	MaxSlippage  float64
	Fingerprint  uint64
	Signed       []byte
	BuiltAt      time.Time
}

// Size returns the capital the bundle puts in motion.
func (b *TransactionBundle) Size() uint64 {
	if b.Strategy.Kind == StrategyFlashLoan && b.Strategy.FlashLoan != nil {
		return b.Strategy.FlashLoan.Amount
	}
	return b.Opportunity.RequiredCapital
}

// GuardInstruction returns the embedded guard, if present.
func (b *TransactionBundle) GuardInstruction() (Instruction, bool) {
	for _, instr := range b.Instructions {
		if instr.Kind == InstrGuard {
			return instr, true
		}
	}
	return Instruction{}, false
}
