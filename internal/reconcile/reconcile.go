// Package reconcile independently rebuilds an account's financial state
// from the remote system's partially overlapping data sources and flags
// cross-source disagreements without ever treating them as fatal.
package reconcile

import (
	"context"
	"fmt"
	"math/big"

	"github.com/rs/zerolog"

	"github.com/SayidwithDexextra/dexextra-console/internal/chain"
	"github.com/SayidwithDexextra/dexextra-console/internal/fixed"
	"github.com/SayidwithDexextra/dexextra-console/internal/gateway"
)

// Source is the slice of the exchange gateway the engine reads. It never
// issues write calls and never mutates console session state.
type Source interface {
	AccountSummary(ctx context.Context, address string) (chain.AccountSummary, error)
	Field(ctx context.Context, address, name string) (*big.Int, error)
	Positions(ctx context.Context, address string) ([]chain.Position, error)
	MarkPrice(ctx context.Context, market string) (*big.Int, error)
	TrackedNetSize(ctx context.Context, address string) (*big.Int, error)
}

// Confidence grades where a field value came from.
type Confidence int

const (
	// Primary means the unified account summary supplied the value.
	Primary Confidence = iota
	// Fallback means a per-field getter supplied the value.
	Fallback
	// Estimate means no source supplied the value; it defaults to zero
	// and must not be treated as authoritative.
	Estimate
)

func (c Confidence) String() string {
	switch c {
	case Primary:
		return "primary"
	case Fallback:
		return "fallback"
	default:
		return "estimate"
	}
}

// Field is a reconciled quantity with its provenance.
type Field struct {
	Value      *big.Int
	Confidence Confidence
}

// Discrepancy records a non-fatal cross-source disagreement.
type Discrepancy struct {
	Kind   string
	Detail string
}

// PositionView pairs a remote position with the unrealized PnL computed
// locally from the live mark price.
type PositionView struct {
	chain.Position
	MarkPrice     *big.Int
	UnrealizedPnL *big.Int // quote scale; nil when no mark was available
}

// Report is the outcome of one reconciliation pass. Nothing in it is
// cached beyond the pass that produced it.
type Report struct {
	Address        string
	Collateral     Field
	MarginUsed     Field
	MarginReserved Field
	Available      Field
	RealizedPnL    Field
	UnrealizedPnL  Field
	TotalCommitted Field
	Healthy        bool
	Positions      []PositionView
	SocializedLoss *big.Int
	PortfolioValue *big.Int
	Discrepancies  []Discrepancy
}

// Engine aggregates and cross-validates account state through the Remote
// Call Gateway.
type Engine struct {
	gw  *gateway.Gateway
	src Source
	log zerolog.Logger
}

// New builds an engine over the given gateway and read-only source.
func New(gw *gateway.Gateway, src Source, log zerolog.Logger) *Engine {
	return &Engine{gw: gw, src: src, log: log}
}

// fallbackFields maps summary fields to the per-field getter names used
// when the unified call is unavailable.
var fallbackFields = []string{
	"collateral",
	"margin_used",
	"margin_reserved",
	"available",
	"realized_pnl",
	"unrealized_pnl",
	"total_committed",
}

// Reconcile assembles a report for the address. It only fails outright
// when position data is unreachable; every field-level problem degrades to
// a fallback, an estimate, or a discrepancy entry instead.
func (e *Engine) Reconcile(ctx context.Context, address string) (*Report, error) {
	report := &Report{Address: address}

	summary, summaryErr := e.fetchSummary(ctx, address)
	if summaryErr == nil {
		report.Collateral = Field{summary.Collateral, Primary}
		report.MarginUsed = Field{summary.MarginUsed, Primary}
		report.MarginReserved = Field{summary.MarginReserved, Primary}
		report.Available = Field{summary.Available, Primary}
		report.RealizedPnL = Field{summary.RealizedPnL, Primary}
		report.UnrealizedPnL = Field{summary.UnrealizedPnL, Primary}
		report.TotalCommitted = Field{summary.TotalCommitted, Primary}
		report.Healthy = summary.Healthy
	} else {
		e.log.Warn().Err(summaryErr).Str("address", address).Msg("unified summary unavailable, using per-field getters")
		fields := e.fetchFallbackFields(ctx, address)
		report.Collateral = fields["collateral"]
		report.MarginUsed = fields["margin_used"]
		report.MarginReserved = fields["margin_reserved"]
		report.Available = fields["available"]
		report.RealizedPnL = fields["realized_pnl"]
		report.UnrealizedPnL = fields["unrealized_pnl"]
		report.TotalCommitted = fields["total_committed"]
	}

	positions, err := e.fetchPositions(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("positions: %w", err)
	}
	report.Positions, report.SocializedLoss = e.markPositions(ctx, positions)

	e.applyComputedUnrealized(report)
	e.crossValidateNetSize(ctx, report)
	report.PortfolioValue = derivePortfolioValue(report)
	return report, nil
}

func (e *Engine) fetchSummary(ctx context.Context, address string) (chain.AccountSummary, error) {
	var summary chain.AccountSummary
	err := e.gw.Do(ctx, "accountSummary", func(ctx context.Context) error {
		var err error
		summary, err = e.src.AccountSummary(ctx, address)
		return err
	})
	return summary, err
}

func (e *Engine) fetchFallbackFields(ctx context.Context, address string) map[string]Field {
	out := make(map[string]Field, len(fallbackFields))
	for _, name := range fallbackFields {
		var value *big.Int
		err := e.gw.Do(ctx, "field."+name, func(ctx context.Context) error {
			var err error
			value, err = e.src.Field(ctx, address, name)
			return err
		})
		if err != nil {
			out[name] = Field{Value: big.NewInt(0), Confidence: Estimate}
			continue
		}
		out[name] = Field{Value: value, Confidence: Fallback}
	}
	return out
}

func (e *Engine) fetchPositions(ctx context.Context, address string) ([]chain.Position, error) {
	var positions []chain.Position
	err := e.gw.Do(ctx, "positions", func(ctx context.Context) error {
		var err error
		positions, err = e.src.Positions(ctx, address)
		return err
	})
	return positions, err
}

// markPositions computes per-position unrealized PnL from live marks and
// accumulates the socialized-loss haircut.
func (e *Engine) markPositions(ctx context.Context, positions []chain.Position) ([]PositionView, *big.Int) {
	views := make([]PositionView, 0, len(positions))
	socialized := big.NewInt(0)
	for _, pos := range positions {
		view := PositionView{Position: pos}
		var mark *big.Int
		err := e.gw.Do(ctx, "markPrice", func(ctx context.Context) error {
			var err error
			mark, err = e.src.MarkPrice(ctx, pos.MarketID)
			return err
		})
		if err == nil {
			view.MarkPrice = mark
			view.UnrealizedPnL = positionPnL(pos, mark)
		} else {
			e.log.Warn().Err(err).Str("market", pos.MarketID).Msg("mark price unavailable")
		}
		if pos.AccruedHaircut != nil {
			socialized.Add(socialized, pos.AccruedHaircut)
		}
		views = append(views, view)
	}
	return views, socialized
}

// positionPnL is (mark - entry) * signedSize at quote scale.
func positionPnL(pos chain.Position, mark *big.Int) *big.Int {
	diff := new(big.Int).Sub(mark, pos.EntryPrice)
	return fixed.Notional(diff, pos.SignedSize)
}

// applyComputedUnrealized prefers the locally computed per-position sum
// over the summary's figure whenever every position had a live mark.
func (e *Engine) applyComputedUnrealized(report *Report) {
	sum := big.NewInt(0)
	for _, view := range report.Positions {
		if view.UnrealizedPnL == nil {
			return // fall back to the summary/getter value already set
		}
		sum.Add(sum, view.UnrealizedPnL)
	}
	confidence := report.UnrealizedPnL.Confidence
	if confidence == Estimate {
		confidence = Fallback
	}
	report.UnrealizedPnL = Field{Value: sum, Confidence: confidence}
}

// crossValidateNetSize compares the primary position listing against the
// secondary tracking source. Mismatches are recorded, never raised.
func (e *Engine) crossValidateNetSize(ctx context.Context, report *Report) {
	total := big.NewInt(0)
	for _, view := range report.Positions {
		if view.SignedSize != nil {
			total.Add(total, view.SignedSize)
		}
	}

	var tracked *big.Int
	err := e.gw.Do(ctx, "trackedNetSize", func(ctx context.Context) error {
		var err error
		tracked, err = e.src.TrackedNetSize(ctx, report.Address)
		return err
	})
	if err != nil {
		report.Discrepancies = append(report.Discrepancies, Discrepancy{
			Kind:   "tracking_source_unavailable",
			Detail: err.Error(),
		})
		return
	}
	if total.Cmp(tracked) != 0 {
		report.Discrepancies = append(report.Discrepancies, Discrepancy{
			Kind: "net_size_mismatch",
			Detail: fmt.Sprintf("positions sum %s, tracking source %s",
				fixed.FormatSize(total), fixed.FormatSize(tracked)),
		})
	}
}

// derivePortfolioValue computes
//
//	collateral + adjustedRealizedPnL + unrealizedPnL - socializedLoss
//
// where a negative realized PnL is zeroed only when the account holds no
// open positions, so a loss already absorbed into collateral during a
// prior liquidation is not double-counted.
func derivePortfolioValue(report *Report) *big.Int {
	value := big.NewInt(0)
	if report.Collateral.Value != nil {
		value.Add(value, report.Collateral.Value)
	}
	value.Add(value, adjustedRealizedPnL(report))
	if report.UnrealizedPnL.Value != nil {
		value.Add(value, report.UnrealizedPnL.Value)
	}
	if report.SocializedLoss != nil {
		value.Sub(value, report.SocializedLoss)
	}
	return value
}

func adjustedRealizedPnL(report *Report) *big.Int {
	realized := report.RealizedPnL.Value
	if realized == nil {
		return big.NewInt(0)
	}
	if realized.Sign() < 0 && len(report.Positions) == 0 {
		return big.NewInt(0)
	}
	return realized
}
