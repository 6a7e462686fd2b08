package command

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/SayidwithDexextra/dexextra-console/internal/fixed"
)

// ValidationError reports a structurally valid command with a bad argument
// shape, an invalid actor token, or an out-of-range value. It aborts only
// the offending command.
type ValidationError struct {
	Opcode string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Opcode == "" {
		return fmt.Sprintf("validation: %s", e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Opcode, e.Reason)
}

func validationErrorf(opcode, format string, args ...any) error {
	return &ValidationError{Opcode: opcode, Reason: fmt.Sprintf(format, args...)}
}

// Split breaks a raw line into individual command strings on `,` and `;`,
// discarding blanks. Comment stripping is the Batch Runner's concern.
func Split(line string) []string {
	parts := strings.FieldsFunc(line, func(r rune) bool {
		return r == ',' || r == ';'
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Tokenize splits a line and parses every command on it.
func Tokenize(line string) ([]Command, error) {
	segments := Split(line)
	if len(segments) == 0 {
		return nil, &ParseError{Input: line, Reason: "empty command"}
	}
	out := make([]Command, 0, len(segments))
	for _, segment := range segments {
		cmd, err := Parse(segment)
		if err != nil {
			return nil, err
		}
		out = append(out, cmd)
	}
	return out, nil
}

// OpcodeOf extracts the opcode mnemonic from a raw command string without
// fully parsing it, for ledgering commands that failed to parse. A leading
// actor selector is skipped.
func OpcodeOf(segment string) string {
	fields := strings.Fields(segment)
	if len(fields) == 0 {
		return "?"
	}
	if _, ok := parseSelector(fields[0]); ok && len(fields) > 1 {
		return strings.ToUpper(fields[1])
	}
	return strings.ToUpper(fields[0])
}

// Parse turns a single command string into its typed variant.
func Parse(input string) (Command, error) {
	tokens := strings.Fields(input)
	if len(tokens) == 0 {
		return nil, &ParseError{Input: input, Reason: "empty command"}
	}

	var selector Selector
	if sel, ok := parseSelector(tokens[0]); ok {
		selector = sel
		tokens = tokens[1:]
		if len(tokens) == 0 {
			return nil, parseErrorf(input, "actor selector without opcode")
		}
	}

	opcode := strings.ToUpper(tokens[0])
	args := tokens[1:]
	b := base{selector: selector, opcode: opcode}

	switch opcode {
	case "LB", "LS", "MB", "MS":
		return parsePlaceOrder(b, args)
	case "DEP", "WDR":
		if len(args) != 1 {
			return nil, validationErrorf(opcode, "expected 1 argument (amount), got %d", len(args))
		}
		amount, err := parseQuoteArg(opcode, "amount", args[0])
		if err != nil {
			return nil, err
		}
		if opcode == "DEP" {
			return &Deposit{base: b, Amount: amount}, nil
		}
		return &Withdraw{base: b, Amount: amount}, nil
	case "CA":
		if len(args) != 0 {
			return nil, validationErrorf(opcode, "takes no arguments")
		}
		return &CancelAll{base: b}, nil
	case "CO":
		if len(args) != 1 {
			return nil, validationErrorf(opcode, "expected 1 argument (order id), got %d", len(args))
		}
		return &CancelByID{base: b, OrderID: args[0]}, nil
	case "CNO":
		if len(args) != 1 {
			return nil, validationErrorf(opcode, "expected 1 argument (order index), got %d", len(args))
		}
		index, err := parseIndexArg(opcode, args[0])
		if err != nil {
			return nil, err
		}
		return &CancelByIndex{base: b, Index: index}, nil
	case "TUP", "RED":
		if len(args) != 2 {
			return nil, validationErrorf(opcode, "expected 2 arguments (index amount), got %d", len(args))
		}
		index, err := parseIndexArg(opcode, args[0])
		if err != nil {
			return nil, err
		}
		amount, err := parseQuoteArg(opcode, "amount", args[1])
		if err != nil {
			return nil, err
		}
		if opcode == "TUP" {
			return &TopUpMargin{base: b, Index: index, Amount: amount}, nil
		}
		return &ReduceMargin{base: b, Index: index, Amount: amount}, nil
	case "POS":
		return noArgs(opcode, args, &ShowPositions{base: b})
	case "ORDS":
		return noArgs(opcode, args, &ShowOrders{base: b})
	case "OB":
		return noArgs(opcode, args, &ShowOrderBook{base: b})
	case "PF":
		return noArgs(opcode, args, &ShowPortfolio{base: b})
	case "RECON":
		return noArgs(opcode, args, &Reconcile{base: b})
	case "HIST":
		count := 10
		if len(args) > 1 {
			return nil, validationErrorf(opcode, "expected at most 1 argument, got %d", len(args))
		}
		if len(args) == 1 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n <= 0 {
				return nil, validationErrorf(opcode, "count must be a positive integer, got %q", args[0])
			}
			count = n
		}
		return &ShowHistory{base: b, Count: count}, nil
	case "SU":
		if len(args) != 1 {
			return nil, validationErrorf(opcode, "expected 1 argument (actor), got %d", len(args))
		}
		target, ok := parseSelector(args[0])
		if !ok {
			return nil, validationErrorf(opcode, "invalid actor %q", args[0])
		}
		return &SwitchActor{base: b, Target: target}, nil
	case "SLEEP":
		if len(args) != 1 {
			return nil, validationErrorf(opcode, "expected 1 argument (milliseconds), got %d", len(args))
		}
		ms, err := strconv.Atoi(args[0])
		if err != nil || ms < 0 {
			return nil, validationErrorf(opcode, "milliseconds must be a non-negative integer, got %q", args[0])
		}
		return &Sleep{base: b, Millis: ms}, nil
	case "STRICT":
		if len(args) != 1 {
			return nil, validationErrorf(opcode, "expected ON or OFF")
		}
		switch strings.ToUpper(args[0]) {
		case "ON":
			return &Strict{base: b, On: true}, nil
		case "OFF":
			return &Strict{base: b, On: false}, nil
		default:
			return nil, validationErrorf(opcode, "expected ON or OFF, got %q", args[0])
		}
	case "RUN":
		if len(args) == 0 {
			return nil, validationErrorf(opcode, "expected a script path")
		}
		return &RunScript{base: b, Path: strings.Join(args, " ")}, nil
	case "LIQ":
		target := selector
		if len(args) > 1 {
			return nil, validationErrorf(opcode, "expected at most 1 argument (actor), got %d", len(args))
		}
		if len(args) == 1 {
			sel, ok := parseSelector(args[0])
			if !ok {
				return nil, validationErrorf(opcode, "invalid actor %q", args[0])
			}
			target = sel
		}
		return &Liquidate{base: b, Target: target}, nil
	case "ASSERT":
		return parseAssert(b, input, args)
	default:
		return nil, parseErrorf(input, "unknown opcode %q", opcode)
	}
}

func noArgs(opcode string, args []string, cmd Command) (Command, error) {
	if len(args) != 0 {
		return nil, validationErrorf(opcode, "takes no arguments")
	}
	return cmd, nil
}

func parseQuoteArg(opcode, name, raw string) (*big.Int, error) {
	amount, err := fixed.ParseQuote(raw)
	if err != nil {
		return nil, validationErrorf(opcode, "%s: %v", name, err)
	}
	if amount.Sign() <= 0 {
		return nil, validationErrorf(opcode, "%s must be positive", name)
	}
	return amount, nil
}

func parseIndexArg(opcode, raw string) (int, error) {
	index, err := strconv.Atoi(raw)
	if err != nil || index < 0 {
		return 0, validationErrorf(opcode, "index must be a non-negative integer, got %q", raw)
	}
	return index, nil
}

// parseSelector recognizes `@`, `DEPLOYER`, and `U<n>` (n >= 1).
func parseSelector(token string) (Selector, bool) {
	upper := strings.ToUpper(token)
	if upper == "@" || upper == "DEPLOYER" {
		return Selector{Explicit: true, Index: 0, Raw: token}, true
	}
	if len(upper) >= 2 && upper[0] == 'U' {
		n, err := strconv.Atoi(upper[1:])
		if err == nil && n >= 1 {
			return Selector{Explicit: true, Index: n, Raw: token}, true
		}
	}
	return Selector{}, false
}

func parsePlaceOrder(b base, args []string) (Command, error) {
	opcode := b.opcode
	if len(args) < 3 || len(args) > 4 {
		return nil, validationErrorf(opcode, "expected price, mode, value[, slippageBps], got %d arguments", len(args))
	}
	price, err := fixed.ParsePrice(args[0])
	if err != nil {
		return nil, validationErrorf(opcode, "price: %v", err)
	}
	if price.Sign() <= 0 {
		return nil, validationErrorf(opcode, "price must be positive")
	}

	modeN, err := strconv.Atoi(args[1])
	if err != nil || (modeN != int(ModeUnits) && modeN != int(ModeQuote)) {
		return nil, validationErrorf(opcode, "mode must be 1 (units) or 2 (quote value), got %q", args[1])
	}
	mode := OrderMode(modeN)

	order := &PlaceOrder{
		base:   b,
		Buy:    opcode == "LB" || opcode == "MB",
		Market: opcode == "MB" || opcode == "MS",
		Price:  price,
		Mode:   mode,
	}
	switch mode {
	case ModeUnits:
		size, err := fixed.ParseSize(args[2])
		if err != nil {
			return nil, validationErrorf(opcode, "size: %v", err)
		}
		if size.Sign() <= 0 {
			return nil, validationErrorf(opcode, "size must be positive")
		}
		order.Size = size
	case ModeQuote:
		value, err := fixed.ParseQuote(args[2])
		if err != nil {
			return nil, validationErrorf(opcode, "value: %v", err)
		}
		if value.Sign() <= 0 {
			return nil, validationErrorf(opcode, "value must be positive")
		}
		order.QuoteValue = value
	}

	if len(args) == 4 {
		bps, err := strconv.ParseInt(args[3], 10, 64)
		if err != nil || bps < 0 || bps > 10000 {
			return nil, validationErrorf(opcode, "slippage must be 0..10000 bps, got %q", args[3])
		}
		order.SlippageBps = bps
		order.HasSlippage = true
	}
	return order, nil
}

func parseAssert(b base, input string, args []string) (Command, error) {
	if len(args) < 3 {
		return nil, validationErrorf("ASSERT", "expected target [actor] [side] op value")
	}

	target := AssertTarget(strings.ToUpper(args[0]))
	switch target {
	case AssertBid, AssertAsk, AssertPosition, AssertAvail:
	default:
		return nil, validationErrorf("ASSERT", "unknown target %q", args[0])
	}
	rest := args[1:]

	assert := &Assert{base: b, Target: target}
	if sel, ok := parseSelector(rest[0]); ok {
		assert.selector = sel
		rest = rest[1:]
	}
	if len(rest) > 0 && target == AssertPosition {
		switch strings.ToUpper(rest[0]) {
		case "LONG":
			rest = rest[1:]
		case "SHORT":
			assert.Short = true
			rest = rest[1:]
		}
	}
	if len(rest) != 2 {
		return nil, validationErrorf("ASSERT", "expected op and value, got %d tokens", len(rest))
	}

	op := AssertOp(rest[0])
	switch op {
	case OpGE, OpGT, OpLE, OpLT, OpEQ, OpNE:
	default:
		return nil, validationErrorf("ASSERT", "unknown operator %q", rest[0])
	}
	assert.Op = op

	var value *big.Int
	var err error
	switch target {
	case AssertBid, AssertAsk:
		value, err = fixed.ParsePrice(rest[1])
	case AssertPosition:
		value, err = fixed.ParseSize(rest[1])
	case AssertAvail:
		value, err = fixed.ParseQuote(rest[1])
	}
	if err != nil {
		return nil, validationErrorf("ASSERT", "value: %v", err)
	}
	assert.Value = value
	assert.Raw = rest[1]
	return assert, nil
}
