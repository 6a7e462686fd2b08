// Package fixed converts between decimal strings and the scaled integer
// amounts the remote exchange gateway speaks. Financial quantities are
// carried as *big.Int with an implied decimal scale and never touch
// floating point.
package fixed

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

const (
	// PriceScale is the implied decimal places for prices.
	PriceScale = 6
	// SizeScale is the implied decimal places for base-unit position sizes.
	SizeScale = 18
	// QuoteScale is the implied decimal places for quote-currency amounts.
	QuoteScale = 6
)

var (
	priceUnit = pow10(PriceScale)
	sizeUnit  = pow10(SizeScale)
	quoteUnit = pow10(QuoteScale)
)

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// Parse converts a decimal string into an integer scaled by 10^scale.
// Excess fractional digits are rejected rather than silently truncated.
func Parse(s string, scale int) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	shifted := d.Shift(int32(scale))
	if !shifted.IsInteger() {
		return nil, fmt.Errorf("amount %q has more than %d decimal places", s, scale)
	}
	return shifted.BigInt(), nil
}

// ParsePrice parses a price string at 6 implied decimals.
func ParsePrice(s string) (*big.Int, error) { return Parse(s, PriceScale) }

// ParseSize parses a base-unit size string at 18 implied decimals.
func ParseSize(s string) (*big.Int, error) { return Parse(s, SizeScale) }

// ParseQuote parses a quote-currency amount string at 6 implied decimals.
func ParseQuote(s string) (*big.Int, error) { return Parse(s, QuoteScale) }

// Format renders a scaled integer back to a decimal string.
func Format(v *big.Int, scale int) string {
	if v == nil {
		return "-"
	}
	return decimal.NewFromBigInt(v, -int32(scale)).String()
}

// FormatPrice renders a 6dp price.
func FormatPrice(v *big.Int) string { return Format(v, PriceScale) }

// FormatSize renders an 18dp size.
func FormatSize(v *big.Int) string { return Format(v, SizeScale) }

// FormatQuote renders a 6dp quote amount.
func FormatQuote(v *big.Int) string { return Format(v, QuoteScale) }

// Notional computes price (6dp) times size (18dp) as a quote amount (6dp).
func Notional(price, size *big.Int) *big.Int {
	out := new(big.Int).Mul(price, size)
	return out.Quo(out, sizeUnit)
}

// SizeFromQuote converts a quote-currency value (6dp) into a base-unit
// size (18dp) at the given price (6dp). Returns an error on zero price.
func SizeFromQuote(quote, price *big.Int) (*big.Int, error) {
	if price == nil || price.Sign() == 0 {
		return nil, fmt.Errorf("zero reference price")
	}
	out := new(big.Int).Mul(quote, sizeUnit)
	return out.Quo(out, price), nil
}

// ApplyBps scales v by (10000+bps)/10000; bps may be negative.
func ApplyBps(v *big.Int, bps int64) *big.Int {
	out := new(big.Int).Mul(v, big.NewInt(10000+bps))
	return out.Quo(out, big.NewInt(10000))
}
