// Package command defines the console's scripting grammar: a closed set
// of typed command variants plus the tokenizer that produces them.
// Parsing is pure and deterministic; no variant performs I/O.
package command

import (
	"fmt"
	"math/big"
)

// Selector identifies which account a command acts on. Index 0 is the
// deployer; U<n> maps to index n. An unset selector defers to the
// session's current actor.
type Selector struct {
	Explicit bool
	Index    int
	Raw      string
}

// Command is the closed interface over all parsed variants. Opcode is the
// canonical mnemonic used for dispatch tables, metrics, and the ledger.
type Command interface {
	Opcode() string
	Actor() Selector
}

type base struct {
	selector Selector
	opcode   string
}

func (b base) Opcode() string  { return b.opcode }
func (b base) Actor() Selector { return b.selector }

// OrderMode selects how the third order argument is interpreted.
type OrderMode int

const (
	// ModeUnits means the value argument is a base-unit size (18dp).
	ModeUnits OrderMode = 1
	// ModeQuote means the value argument is a quote-currency amount (6dp)
	// converted to size at the best reference price at execution time.
	ModeQuote OrderMode = 2
)

// PlaceOrder covers LB, LS, MB, and MS.
type PlaceOrder struct {
	base
	Buy         bool
	Market      bool
	Price       *big.Int // 6dp; protective bound for market orders
	Mode        OrderMode
	Size        *big.Int // 18dp, set when Mode == ModeUnits
	QuoteValue  *big.Int // 6dp, set when Mode == ModeQuote
	SlippageBps int64
	HasSlippage bool
}

// Deposit is DEP: move quote-currency collateral into the account.
type Deposit struct {
	base
	Amount *big.Int // 6dp
}

// Withdraw is WDR: move free collateral back out.
type Withdraw struct {
	base
	Amount *big.Int // 6dp
}

// CancelAll is CA.
type CancelAll struct{ base }

// CancelByID is CO <id>.
type CancelByID struct {
	base
	OrderID string
}

// CancelByIndex is CNO <index>: cancel by position in the actor's open
// order list.
type CancelByIndex struct {
	base
	Index int
}

// TopUpMargin is TUP <index> <amount>.
type TopUpMargin struct {
	base
	Index  int
	Amount *big.Int // 6dp
}

// ReduceMargin is RED <index> <amount>.
type ReduceMargin struct {
	base
	Index  int
	Amount *big.Int // 6dp
}

// ShowPositions is POS.
type ShowPositions struct{ base }

// ShowOrders is ORDS.
type ShowOrders struct{ base }

// ShowOrderBook is OB.
type ShowOrderBook struct{ base }

// ShowPortfolio is PF: render the reconciliation report for the actor.
type ShowPortfolio struct{ base }

// Reconcile is RECON: run the reconciliation engine and print the raw report.
type Reconcile struct{ base }

// ShowHistory is HIST [k].
type ShowHistory struct {
	base
	Count int
}

// SwitchActor is SU <actor>.
type SwitchActor struct {
	base
	Target Selector
}

// Sleep is SLEEP <ms>.
type Sleep struct {
	base
	Millis int
}

// Strict is STRICT ON|OFF.
type Strict struct {
	base
	On bool
}

// RunScript is RUN <path>.
type RunScript struct {
	base
	Path string
}

// Liquidate is LIQ [actor]: trigger liquidation checks on the target.
type Liquidate struct {
	base
	Target Selector
}

// AssertTarget names the quantity an ASSERT fetches.
type AssertTarget string

const (
	// AssertBid compares the best bid (6dp).
	AssertBid AssertTarget = "BID"
	// AssertAsk compares the best ask (6dp).
	AssertAsk AssertTarget = "ASK"
	// AssertPosition compares the actor's net signed size (18dp).
	AssertPosition AssertTarget = "POSITION"
	// AssertAvail compares the actor's available collateral (6dp).
	AssertAvail AssertTarget = "AVAIL"
)

// AssertOp is a comparison operator in the ASSERT sub-grammar.
type AssertOp string

// Supported comparison operators.
const (
	OpGE AssertOp = ">="
	OpGT AssertOp = ">"
	OpLE AssertOp = "<="
	OpLT AssertOp = "<"
	OpEQ AssertOp = "=="
	OpNE AssertOp = "!="
)

// Assert is ASSERT <target> [actor] [side] <op> <value>.
type Assert struct {
	base
	Target AssertTarget
	Short  bool // POSITION only: compare against the negated net size
	Op     AssertOp
	Value  *big.Int // scaled per target
	Raw    string   // value as written, for failure messages
}

// ParseError reports malformed command text; it aborts only that command.
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %q: %s", e.Input, e.Reason)
}

func parseErrorf(input, format string, args ...any) error {
	return &ParseError{Input: input, Reason: fmt.Sprintf(format, args...)}
}
