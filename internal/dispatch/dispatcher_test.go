package dispatch

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/SayidwithDexextra/dexextra-console/internal/chain"
	"github.com/SayidwithDexextra/dexextra-console/internal/command"
	"github.com/SayidwithDexextra/dexextra-console/internal/fixed"
	"github.com/SayidwithDexextra/dexextra-console/internal/gateway"
	"github.com/SayidwithDexextra/dexextra-console/internal/ledger"
	"github.com/SayidwithDexextra/dexextra-console/internal/reconcile"
)

type fakeExchange struct {
	summary    chain.AccountSummary
	summaryErr error
	positions  []chain.Position
	best       chain.BestPrices
	orders     []chain.OpenOrder

	placed    []chain.OrderRequest
	placeErr  error
	cancelled []string
	deposits  []*big.Int
	topUps    []int
	liqs      []string
}

func (f *fakeExchange) AccountSummary(context.Context, string) (chain.AccountSummary, error) {
	return f.summary, f.summaryErr
}
func (f *fakeExchange) Positions(context.Context, string) ([]chain.Position, error) {
	return f.positions, nil
}
func (f *fakeExchange) BestPrices(context.Context, string) (chain.BestPrices, error) {
	return f.best, nil
}
func (f *fakeExchange) OpenOrders(context.Context, string, string) ([]chain.OpenOrder, error) {
	return f.orders, nil
}
func (f *fakeExchange) PlaceOrder(_ context.Context, req chain.OrderRequest) (chain.OrderAck, error) {
	if f.placeErr != nil {
		return chain.OrderAck{}, f.placeErr
	}
	f.placed = append(f.placed, req)
	return chain.OrderAck{OrderID: "ord-1", Status: "accepted"}, nil
}
func (f *fakeExchange) CancelOrder(_ context.Context, _, _, orderID string) error {
	f.cancelled = append(f.cancelled, orderID)
	return nil
}
func (f *fakeExchange) CancelAll(context.Context, string, string) error {
	f.cancelled = append(f.cancelled, "*")
	return nil
}
func (f *fakeExchange) Deposit(_ context.Context, _ string, amount *big.Int) error {
	f.deposits = append(f.deposits, amount)
	return nil
}
func (f *fakeExchange) Withdraw(context.Context, string, *big.Int) error { return nil }
func (f *fakeExchange) TopUpMargin(_ context.Context, _ string, index int, _ *big.Int) error {
	f.topUps = append(f.topUps, index)
	return nil
}
func (f *fakeExchange) ReduceMargin(context.Context, string, int, *big.Int) error { return nil }
func (f *fakeExchange) TriggerLiquidation(_ context.Context, _, address string) error {
	f.liqs = append(f.liqs, address)
	return nil
}

type fakeReconciler struct {
	report *reconcile.Report
	err    error
}

func (f *fakeReconciler) Reconcile(context.Context, string) (*reconcile.Report, error) {
	return f.report, f.err
}

func quote(n int64) *big.Int { return big.NewInt(n * 1_000_000) }
func price(n int64) *big.Int { return big.NewInt(n * 1_000_000) }
func size(n int64) *big.Int  { return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000_000_000_000)) }

func newTestDispatcher(t *testing.T, ex *fakeExchange) *Dispatcher {
	t.Helper()
	keyring, err := chain.NewEphemeralKeyring(3)
	if err != nil {
		t.Fatalf("keyring: %v", err)
	}
	session := NewSession(keyring, "SOL-PERP")
	gw := gateway.New(gateway.Config{ConcurrencyLimit: 3, Attempts: 1}, zerolog.Nop())
	recon := &fakeReconciler{report: &reconcile.Report{
		Collateral:     reconcile.Field{Value: quote(100)},
		Available:      reconcile.Field{Value: quote(100)},
		RealizedPnL:    reconcile.Field{Value: big.NewInt(0)},
		UnrealizedPnL:  reconcile.Field{Value: big.NewInt(0)},
		SocializedLoss: big.NewInt(0),
		PortfolioValue: quote(100),
	}}
	return New(session, gw, ex, recon, ledger.New(50), zerolog.Nop())
}

func mustParse(t *testing.T, input string) command.Command {
	t.Helper()
	cmd, err := command.Parse(input)
	if err != nil {
		t.Fatalf("parse %q: %v", input, err)
	}
	return cmd
}

func TestDepositRecordsOKResult(t *testing.T) {
	ex := &fakeExchange{}
	d := newTestDispatcher(t, ex)

	result, err := d.Execute(context.Background(), mustParse(t, "U1 DEP 100"))
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if result.Status != ledger.StatusOK {
		t.Fatalf("expected ok status, got %s", result.Status)
	}
	if len(ex.deposits) != 1 || ex.deposits[0].Cmp(quote(100)) != 0 {
		t.Fatalf("expected deposit of 100, got %+v", ex.deposits)
	}
	if d.History().Len() != 1 {
		t.Fatalf("expected 1 ledger entry, got %d", d.History().Len())
	}
}

func TestPlaceOrderInsufficientCollateralStrict(t *testing.T) {
	ex := &fakeExchange{summary: chain.AccountSummary{Available: quote(100)}}
	d := newTestDispatcher(t, ex)
	d.Session().Strict = true

	// price 50 * size 10 = 500 required vs 100 available
	result, err := d.Execute(context.Background(), mustParse(t, "U1 LB 50 1 10"))
	var validation *command.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if result.Status != ledger.StatusError {
		t.Fatalf("expected error result, got %s", result.Status)
	}
	if len(ex.placed) != 0 {
		t.Fatalf("order must not reach the exchange")
	}
}

func TestPlaceOrderInsufficientCollateralRemoteRevert(t *testing.T) {
	ex := &fakeExchange{
		summary:  chain.AccountSummary{Available: quote(100)},
		placeErr: &chain.RevertError{Code: "E11", Reason: "insufficient collateral"},
	}
	d := newTestDispatcher(t, ex)

	result, err := d.Execute(context.Background(), mustParse(t, "U1 LB 50 1 10"))
	if !chain.IsRevert(err) {
		t.Fatalf("expected RevertError, got %v", err)
	}
	if result.Status != ledger.StatusError {
		t.Fatalf("expected error result, got %s", result.Status)
	}
}

func TestPlaceOrderQuoteModeUsesReferencePrice(t *testing.T) {
	ex := &fakeExchange{
		summary: chain.AccountSummary{Available: quote(100000)},
		best:    chain.BestPrices{Bid: price(49), Ask: price(50)},
	}
	d := newTestDispatcher(t, ex)

	// 500 quote units at ask 50 = size 10
	if _, err := d.Execute(context.Background(), mustParse(t, "U1 MB 55 2 500")); err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if len(ex.placed) != 1 {
		t.Fatalf("expected one placed order")
	}
	if ex.placed[0].Size.Cmp(size(10)) != 0 {
		t.Fatalf("expected size 10, got %s", fixed.FormatSize(ex.placed[0].Size))
	}
	if ex.placed[0].Kind != chain.Market || ex.placed[0].Side != chain.Buy {
		t.Fatalf("unexpected order shape: %+v", ex.placed[0])
	}
	if ex.placed[0].SlippageBps != 100 {
		t.Fatalf("expected default slippage 100, got %d", ex.placed[0].SlippageBps)
	}
	if ex.placed[0].ClientID == "" {
		t.Fatalf("expected idempotency client id")
	}
	// market buy: 55 widened by the default 100 bps
	if ex.placed[0].Price.Cmp(big.NewInt(55_550_000)) != 0 {
		t.Fatalf("expected protective bound 55.55, got %s", fixed.FormatPrice(ex.placed[0].Price))
	}
	if ex.placed[0].Signature == "" {
		t.Fatalf("expected signed placement")
	}
}

func TestMarketSellBoundWidensDownward(t *testing.T) {
	ex := &fakeExchange{summary: chain.AccountSummary{Available: quote(100000)}}
	d := newTestDispatcher(t, ex)

	if _, err := d.Execute(context.Background(), mustParse(t, "U1 MS 100 1 1 200")); err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if len(ex.placed) != 1 {
		t.Fatalf("expected one placed order")
	}
	if ex.placed[0].Price.Cmp(price(98)) != 0 {
		t.Fatalf("expected protective bound 98, got %s", fixed.FormatPrice(ex.placed[0].Price))
	}
	if ex.placed[0].Side != chain.Sell || ex.placed[0].Kind != chain.Market {
		t.Fatalf("unexpected order shape: %+v", ex.placed[0])
	}
}

func TestLimitOrderPriceUnchangedAndSigned(t *testing.T) {
	ex := &fakeExchange{summary: chain.AccountSummary{Available: quote(100000)}}
	d := newTestDispatcher(t, ex)

	if _, err := d.Execute(context.Background(), mustParse(t, "U1 LB 50 1 1 300")); err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if ex.placed[0].Price.Cmp(price(50)) != 0 {
		t.Fatalf("limit price must pass through untouched, got %s", fixed.FormatPrice(ex.placed[0].Price))
	}
	if ex.placed[0].Signature == "" {
		t.Fatalf("expected signed placement")
	}
}

func TestCancelByIndexOutOfRange(t *testing.T) {
	ex := &fakeExchange{orders: []chain.OpenOrder{{ID: "a", Side: chain.Buy, Price: price(1), Size: size(1)}}}
	d := newTestDispatcher(t, ex)

	_, err := d.Execute(context.Background(), mustParse(t, "U1 CNO 3"))
	var validation *command.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	if _, err := d.Execute(context.Background(), mustParse(t, "U1 CNO 0")); err != nil {
		t.Fatalf("in-range cancel failed: %v", err)
	}
	if len(ex.cancelled) != 1 || ex.cancelled[0] != "a" {
		t.Fatalf("expected cancel of order a, got %v", ex.cancelled)
	}
}

func TestTopUpMarginByPositionIndex(t *testing.T) {
	ex := &fakeExchange{positions: []chain.Position{
		{MarketID: "SOL-PERP", SignedSize: size(1), EntryPrice: price(10), MarginLocked: quote(10), AccruedHaircut: big.NewInt(0), LiquidationPrice: price(5)},
	}}
	d := newTestDispatcher(t, ex)

	if _, err := d.Execute(context.Background(), mustParse(t, "U1 TUP 0 25")); err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if len(ex.topUps) != 1 || ex.topUps[0] != 0 {
		t.Fatalf("expected top-up on position 0, got %v", ex.topUps)
	}

	_, err := d.Execute(context.Background(), mustParse(t, "U1 RED 5 1"))
	var validation *command.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError for bad index, got %v", err)
	}
}

func TestAssertBidScaledComparison(t *testing.T) {
	ex := &fakeExchange{best: chain.BestPrices{Bid: price(10), Ask: price(11)}}
	d := newTestDispatcher(t, ex)

	if _, err := d.Execute(context.Background(), mustParse(t, "ASSERT BID >= 10")); err != nil {
		t.Fatalf("assert should pass at exactly 10: %v", err)
	}

	ex.best.Bid = big.NewInt(9_999_999) // 9.999999
	_, err := d.Execute(context.Background(), mustParse(t, "ASSERT BID >= 10"))
	var failure *AssertionFailure
	if !errors.As(err, &failure) {
		t.Fatalf("expected AssertionFailure, got %v", err)
	}
	if failure.Expected != "10" || failure.Actual != "9.999999" {
		t.Fatalf("failure must carry both values: %+v", failure)
	}
}

func TestAssertPositionShortSide(t *testing.T) {
	ex := &fakeExchange{positions: []chain.Position{
		{MarketID: "SOL-PERP", SignedSize: new(big.Int).Neg(size(2)), EntryPrice: price(10)},
	}}
	d := newTestDispatcher(t, ex)

	if _, err := d.Execute(context.Background(), mustParse(t, "ASSERT POSITION U1 SHORT == 2")); err != nil {
		t.Fatalf("short assert should pass: %v", err)
	}
	if _, err := d.Execute(context.Background(), mustParse(t, "ASSERT POSITION U1 == 2")); err == nil {
		t.Fatalf("long assert against short book must fail")
	}
}

func TestAssertAvail(t *testing.T) {
	ex := &fakeExchange{summary: chain.AccountSummary{Available: quote(850)}}
	d := newTestDispatcher(t, ex)

	if _, err := d.Execute(context.Background(), mustParse(t, "ASSERT AVAIL U1 > 800")); err != nil {
		t.Fatalf("assert should pass: %v", err)
	}
	if _, err := d.Execute(context.Background(), mustParse(t, "ASSERT AVAIL U1 < 800")); err == nil {
		t.Fatalf("assert should fail")
	}
}

func TestSwitchActorAndDefaultSelector(t *testing.T) {
	ex := &fakeExchange{}
	d := newTestDispatcher(t, ex)

	if _, err := d.Execute(context.Background(), mustParse(t, "SU U2")); err != nil {
		t.Fatalf("SU failed: %v", err)
	}
	if index, ok := d.Session().CurrentActorIndex(); !ok || index != 2 {
		t.Fatalf("expected current actor 2, got %d (%v)", index, ok)
	}

	// No explicit selector: deposit goes through as U2 without error.
	if _, err := d.Execute(context.Background(), mustParse(t, "DEP 1")); err != nil {
		t.Fatalf("implicit actor deposit failed: %v", err)
	}

	_, err := d.Execute(context.Background(), mustParse(t, "SU U9"))
	var validation *command.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError for unknown actor, got %v", err)
	}
}

func TestNoActorValidation(t *testing.T) {
	ex := &fakeExchange{}
	keyring, _ := chain.NewEphemeralKeyring(0)
	session := NewSession(keyring, "SOL-PERP")
	session.hasActor = false
	gw := gateway.New(gateway.Config{ConcurrencyLimit: 1, Attempts: 1}, zerolog.Nop())
	d := New(session, gw, ex, &fakeReconciler{}, ledger.New(10), zerolog.Nop())

	_, err := d.Execute(context.Background(), mustParse(t, "DEP 1"))
	var validation *command.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError without actor, got %v", err)
	}
}

func TestSleepAndStrictMeta(t *testing.T) {
	ex := &fakeExchange{}
	d := newTestDispatcher(t, ex)
	var slept time.Duration
	d.sleep = func(_ context.Context, dur time.Duration) error {
		slept = dur
		return nil
	}

	if _, err := d.Execute(context.Background(), mustParse(t, "SLEEP 150")); err != nil {
		t.Fatalf("SLEEP failed: %v", err)
	}
	if slept != 150*time.Millisecond {
		t.Fatalf("expected 150ms sleep, got %s", slept)
	}

	if _, err := d.Execute(context.Background(), mustParse(t, "STRICT ON")); err != nil {
		t.Fatalf("STRICT failed: %v", err)
	}
	if !d.Session().Strict {
		t.Fatalf("expected strict mode on")
	}
}

func TestRunScriptWiring(t *testing.T) {
	ex := &fakeExchange{}
	d := newTestDispatcher(t, ex)

	_, err := d.Execute(context.Background(), mustParse(t, "RUN scripts/smoke.txt"))
	var validation *command.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError without runner, got %v", err)
	}

	var ranPath string
	d.SetScriptRunner(func(_ context.Context, path string) error {
		ranPath = path
		return nil
	})
	if _, err := d.Execute(context.Background(), mustParse(t, "RUN scripts/smoke.txt")); err != nil {
		t.Fatalf("RUN failed: %v", err)
	}
	if ranPath != "scripts/smoke.txt" {
		t.Fatalf("unexpected script path %q", ranPath)
	}
}

func TestShowHistoryRendersLedger(t *testing.T) {
	ex := &fakeExchange{}
	d := newTestDispatcher(t, ex)

	if _, err := d.Execute(context.Background(), mustParse(t, "U1 DEP 1")); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	result, err := d.Execute(context.Background(), mustParse(t, "HIST 5"))
	if err != nil {
		t.Fatalf("HIST failed: %v", err)
	}
	if !strings.Contains(result.Summary, "DEP") {
		t.Fatalf("expected history to mention DEP, got %q", result.Summary)
	}
}

func TestLiquidateTargetsSelector(t *testing.T) {
	ex := &fakeExchange{}
	d := newTestDispatcher(t, ex)

	if _, err := d.Execute(context.Background(), mustParse(t, "LIQ U3")); err != nil {
		t.Fatalf("LIQ failed: %v", err)
	}
	if len(ex.liqs) != 1 {
		t.Fatalf("expected one liquidation call, got %d", len(ex.liqs))
	}
}
