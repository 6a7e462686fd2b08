package dispatch

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/SayidwithDexextra/dexextra-console/internal/chain"
	"github.com/SayidwithDexextra/dexextra-console/internal/command"
	"github.com/SayidwithDexextra/dexextra-console/internal/fixed"
	"github.com/SayidwithDexextra/dexextra-console/internal/gateway"
	"github.com/SayidwithDexextra/dexextra-console/internal/ledger"
	"github.com/SayidwithDexextra/dexextra-console/internal/metrics"
	"github.com/SayidwithDexextra/dexextra-console/internal/reconcile"
)

// Exchange is the slice of the exchange gateway the dispatcher drives.
type Exchange interface {
	AccountSummary(ctx context.Context, address string) (chain.AccountSummary, error)
	Positions(ctx context.Context, address string) ([]chain.Position, error)
	BestPrices(ctx context.Context, market string) (chain.BestPrices, error)
	OpenOrders(ctx context.Context, market, address string) ([]chain.OpenOrder, error)
	PlaceOrder(ctx context.Context, req chain.OrderRequest) (chain.OrderAck, error)
	CancelOrder(ctx context.Context, market, address, orderID string) error
	CancelAll(ctx context.Context, market, address string) error
	Deposit(ctx context.Context, address string, amount *big.Int) error
	Withdraw(ctx context.Context, address string, amount *big.Int) error
	TopUpMargin(ctx context.Context, address string, index int, amount *big.Int) error
	ReduceMargin(ctx context.Context, address string, index int, amount *big.Int) error
	TriggerLiquidation(ctx context.Context, market, address string) error
}

// Reconciler runs the financial reconciliation engine for an address.
type Reconciler interface {
	Reconcile(ctx context.Context, address string) (*reconcile.Report, error)
}

// AssertionFailure carries both sides of a failed ASSERT comparison.
type AssertionFailure struct {
	Target   string
	Op       string
	Expected string
	Actual   string
}

func (e *AssertionFailure) Error() string {
	return fmt.Sprintf("assert %s %s %s failed: actual %s", e.Target, e.Op, e.Expected, e.Actual)
}

// Dispatcher executes one command at a time against the session, using the
// gateway for all I/O. Every execution appends exactly one ledger entry.
type Dispatcher struct {
	session *Session
	gw      *gateway.Gateway
	ex      Exchange
	recon   Reconciler
	history *ledger.Ledger
	log     zerolog.Logger

	// runScript is wired by the composition root to the batch runner so
	// the RUN opcode works without an import cycle.
	runScript func(ctx context.Context, path string) error
	sleep     func(ctx context.Context, d time.Duration) error
}

// New constructs a dispatcher. history must not be shared with any other
// writer.
func New(session *Session, gw *gateway.Gateway, ex Exchange, recon Reconciler, history *ledger.Ledger, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		session: session,
		gw:      gw,
		ex:      ex,
		recon:   recon,
		history: history,
		log:     log,
		sleep:   sleepCtx,
	}
}

// SetScriptRunner installs the RUN opcode's implementation.
func (d *Dispatcher) SetScriptRunner(run func(ctx context.Context, path string) error) {
	d.runScript = run
}

// Session exposes the session for the REPL's pause handling.
func (d *Dispatcher) Session() *Session { return d.session }

// History exposes the ledger for display surfaces.
func (d *Dispatcher) History() *ledger.Ledger { return d.history }

// Execute runs one parsed command, appends its result to the ledger, and
// returns the result alongside any error. Errors never escape as panics;
// a failed command leaves the session usable.
func (d *Dispatcher) Execute(ctx context.Context, cmd command.Command) (ledger.Result, error) {
	summary, err := d.dispatch(ctx, cmd)

	result := ledger.Result{
		ID:        uuid.New(),
		Opcode:    cmd.Opcode(),
		Status:    ledger.StatusOK,
		Summary:   summary,
		Timestamp: time.Now(),
	}
	if err != nil {
		result.Status = ledger.StatusError
		result.Summary = err.Error()
	}
	d.history.Append(result)
	metrics.CommandsTotal.WithLabelValues(result.Opcode, string(result.Status)).Inc()
	return result, err
}

// RecordFailure appends a failed result for a command that never reached
// dispatch, such as a tokenizer rejection during a batch run. The ledger
// stays owned by the dispatcher.
func (d *Dispatcher) RecordFailure(opcode string, err error) ledger.Result {
	result := ledger.Result{
		ID:        uuid.New(),
		Opcode:    opcode,
		Status:    ledger.StatusError,
		Summary:   err.Error(),
		Timestamp: time.Now(),
	}
	d.history.Append(result)
	metrics.CommandsTotal.WithLabelValues(opcode, string(result.Status)).Inc()
	return result
}

func (d *Dispatcher) dispatch(ctx context.Context, cmd command.Command) (string, error) {
	switch c := cmd.(type) {
	case *command.PlaceOrder:
		return d.placeOrder(ctx, c)
	case *command.Deposit:
		return d.deposit(ctx, c)
	case *command.Withdraw:
		return d.withdraw(ctx, c)
	case *command.CancelAll:
		return d.cancelAll(ctx, c)
	case *command.CancelByID:
		return d.cancelByID(ctx, c)
	case *command.CancelByIndex:
		return d.cancelByIndex(ctx, c)
	case *command.TopUpMargin:
		return d.adjustMargin(ctx, c.Actor(), c.Index, c.Amount, true)
	case *command.ReduceMargin:
		return d.adjustMargin(ctx, c.Actor(), c.Index, c.Amount, false)
	case *command.ShowPositions:
		return d.showPositions(ctx, c)
	case *command.ShowOrders:
		return d.showOrders(ctx, c)
	case *command.ShowOrderBook:
		return d.showOrderBook(ctx)
	case *command.ShowPortfolio:
		return d.showPortfolio(ctx, c.Actor())
	case *command.Reconcile:
		return d.showReconciliation(ctx, c.Actor())
	case *command.ShowHistory:
		return d.showHistory(c.Count), nil
	case *command.SwitchActor:
		if err := d.session.SwitchActor(c.Target.Index); err != nil {
			return "", err
		}
		return fmt.Sprintf("actor switched to %s", c.Target.Raw), nil
	case *command.Sleep:
		if err := d.sleep(ctx, time.Duration(c.Millis)*time.Millisecond); err != nil {
			return "", err
		}
		return fmt.Sprintf("slept %dms", c.Millis), nil
	case *command.Strict:
		d.session.Strict = c.On
		if c.On {
			return "strict mode on", nil
		}
		return "strict mode off", nil
	case *command.RunScript:
		if d.runScript == nil {
			return "", &command.ValidationError{Opcode: "RUN", Reason: "no script runner available"}
		}
		if err := d.runScript(ctx, c.Path); err != nil {
			return "", err
		}
		return fmt.Sprintf("script %s completed", c.Path), nil
	case *command.Liquidate:
		return d.liquidate(ctx, c)
	case *command.Assert:
		return d.assert(ctx, c)
	default:
		return "", &command.ValidationError{Opcode: cmd.Opcode(), Reason: "unhandled command variant"}
	}
}

func (d *Dispatcher) placeOrder(ctx context.Context, c *command.PlaceOrder) (string, error) {
	address, err := d.session.ResolveActor(c.Actor())
	if err != nil {
		return "", err
	}
	market, err := d.session.ResolveMarket()
	if err != nil {
		return "", err
	}

	size := c.Size
	if c.Mode == command.ModeQuote {
		size, err = d.sizeFromQuote(ctx, c, market)
		if err != nil {
			return "", err
		}
	}

	slippage := d.session.DefaultSlippageBps
	if c.HasSlippage {
		slippage = c.SlippageBps
	}

	// Market orders travel with a protective price bound: the given price
	// widened by the slippage tolerance in the adverse direction.
	price := c.Price
	if c.Market {
		if c.Buy {
			price = fixed.ApplyBps(c.Price, slippage)
		} else {
			price = fixed.ApplyBps(c.Price, -slippage)
		}
	}

	required := fixed.Notional(price, size)
	if err := d.preflightCollateral(ctx, address, required); err != nil {
		return "", err
	}

	kind := chain.Limit
	if c.Market {
		kind = chain.Market
	}
	side := chain.Sell
	if c.Buy {
		side = chain.Buy
	}

	signer, err := d.session.ResolveSigner(c.Actor())
	if err != nil {
		return "", err
	}
	clientID := uuid.NewString()
	signature, err := signer.Sign([]byte(clientID))
	if err != nil {
		return "", fmt.Errorf("sign order: %w", err)
	}

	req := chain.OrderRequest{
		ClientID:    clientID,
		Signature:   signature.String(),
		Market:      market,
		Address:     address,
		Side:        side,
		Kind:        kind,
		Price:       price,
		Size:        size,
		SlippageBps: slippage,
	}
	var ack chain.OrderAck
	err = d.gw.Do(ctx, "placeOrder", func(ctx context.Context) error {
		var err error
		ack, err = d.ex.PlaceOrder(ctx, req)
		return err
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s %s %s @ %s accepted (%s, id %s)",
		c.Opcode(), fixed.FormatSize(size), market, fixed.FormatPrice(c.Price), ack.Status, ack.OrderID), nil
}

// sizeFromQuote converts a quote-currency order value into a base size at
// the best current reference price: ask for buys, bid for sells.
func (d *Dispatcher) sizeFromQuote(ctx context.Context, c *command.PlaceOrder, market string) (*big.Int, error) {
	var best chain.BestPrices
	err := d.gw.Do(ctx, "bestPrices", func(ctx context.Context) error {
		var err error
		best, err = d.ex.BestPrices(ctx, market)
		return err
	})
	if err != nil {
		return nil, err
	}
	reference := best.Bid
	if c.Buy {
		reference = best.Ask
	}
	if reference == nil || reference.Sign() == 0 {
		reference = c.Price
	}
	size, err := fixed.SizeFromQuote(c.QuoteValue, reference)
	if err != nil {
		return nil, &command.ValidationError{Opcode: c.Opcode(), Reason: err.Error()}
	}
	if size.Sign() <= 0 {
		return nil, &command.ValidationError{Opcode: c.Opcode(), Reason: "order value too small at current price"}
	}
	return size, nil
}

// preflightCollateral warns when required notional exceeds the account's
// available collateral; strict mode upgrades the warning to an error. A
// failed balance fetch never blocks the order.
func (d *Dispatcher) preflightCollateral(ctx context.Context, address string, required *big.Int) error {
	var summary chain.AccountSummary
	err := d.gw.Do(ctx, "accountSummary", func(ctx context.Context) error {
		var err error
		summary, err = d.ex.AccountSummary(ctx, address)
		return err
	})
	if err != nil {
		d.log.Debug().Err(err).Msg("pre-flight balance check unavailable")
		return nil
	}
	if summary.Available == nil || summary.Available.Cmp(required) >= 0 {
		return nil
	}
	detail := fmt.Sprintf("required %s exceeds available %s",
		fixed.FormatQuote(required), fixed.FormatQuote(summary.Available))
	if d.session.Strict {
		return &command.ValidationError{Reason: "insufficient collateral: " + detail}
	}
	d.log.Warn().Str("address", address).Msg("insufficient collateral: " + detail)
	return nil
}

func (d *Dispatcher) deposit(ctx context.Context, c *command.Deposit) (string, error) {
	address, err := d.session.ResolveActor(c.Actor())
	if err != nil {
		return "", err
	}
	err = d.gw.Do(ctx, "deposit", func(ctx context.Context) error {
		return d.ex.Deposit(ctx, address, c.Amount)
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("deposited %s", fixed.FormatQuote(c.Amount)), nil
}

func (d *Dispatcher) withdraw(ctx context.Context, c *command.Withdraw) (string, error) {
	address, err := d.session.ResolveActor(c.Actor())
	if err != nil {
		return "", err
	}
	err = d.gw.Do(ctx, "withdraw", func(ctx context.Context) error {
		return d.ex.Withdraw(ctx, address, c.Amount)
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("withdrew %s", fixed.FormatQuote(c.Amount)), nil
}

func (d *Dispatcher) cancelAll(ctx context.Context, c *command.CancelAll) (string, error) {
	address, err := d.session.ResolveActor(c.Actor())
	if err != nil {
		return "", err
	}
	market, err := d.session.ResolveMarket()
	if err != nil {
		return "", err
	}
	err = d.gw.Do(ctx, "cancelAll", func(ctx context.Context) error {
		return d.ex.CancelAll(ctx, market, address)
	})
	if err != nil {
		return "", err
	}
	return "cancelled all open orders", nil
}

func (d *Dispatcher) cancelByID(ctx context.Context, c *command.CancelByID) (string, error) {
	address, err := d.session.ResolveActor(c.Actor())
	if err != nil {
		return "", err
	}
	market, err := d.session.ResolveMarket()
	if err != nil {
		return "", err
	}
	err = d.gw.Do(ctx, "cancelOrder", func(ctx context.Context) error {
		return d.ex.CancelOrder(ctx, market, address, c.OrderID)
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("cancelled order %s", c.OrderID), nil
}

func (d *Dispatcher) cancelByIndex(ctx context.Context, c *command.CancelByIndex) (string, error) {
	address, err := d.session.ResolveActor(c.Actor())
	if err != nil {
		return "", err
	}
	market, err := d.session.ResolveMarket()
	if err != nil {
		return "", err
	}
	orders, err := d.openOrders(ctx, market, address)
	if err != nil {
		return "", err
	}
	if c.Index >= len(orders) {
		return "", &command.ValidationError{
			Opcode: "CNO",
			Reason: fmt.Sprintf("order index %d out of range (have %d open)", c.Index, len(orders)),
		}
	}
	target := orders[c.Index]
	err = d.gw.Do(ctx, "cancelOrder", func(ctx context.Context) error {
		return d.ex.CancelOrder(ctx, market, address, target.ID)
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("cancelled order #%d (%s)", c.Index, target.ID), nil
}

func (d *Dispatcher) adjustMargin(ctx context.Context, sel command.Selector, index int, amount *big.Int, topUp bool) (string, error) {
	address, err := d.session.ResolveActor(sel)
	if err != nil {
		return "", err
	}
	positions, err := d.positions(ctx, address)
	if err != nil {
		return "", err
	}
	opcode := "RED"
	if topUp {
		opcode = "TUP"
	}
	if index >= len(positions) {
		return "", &command.ValidationError{
			Opcode: opcode,
			Reason: fmt.Sprintf("position index %d out of range (have %d)", index, len(positions)),
		}
	}
	if topUp {
		err = d.gw.Do(ctx, "topUpMargin", func(ctx context.Context) error {
			return d.ex.TopUpMargin(ctx, address, index, amount)
		})
	} else {
		err = d.gw.Do(ctx, "reduceMargin", func(ctx context.Context) error {
			return d.ex.ReduceMargin(ctx, address, index, amount)
		})
	}
	if err != nil {
		return "", err
	}
	verb := "reduced"
	if topUp {
		verb = "topped up"
	}
	return fmt.Sprintf("%s margin on position %d (%s) by %s",
		verb, index, positions[index].MarketID, fixed.FormatQuote(amount)), nil
}

func (d *Dispatcher) showPositions(ctx context.Context, c *command.ShowPositions) (string, error) {
	address, err := d.session.ResolveActor(c.Actor())
	if err != nil {
		return "", err
	}
	positions, err := d.positions(ctx, address)
	if err != nil {
		return "", err
	}
	if len(positions) == 0 {
		return "no open positions", nil
	}
	var b strings.Builder
	for i, pos := range positions {
		fmt.Fprintf(&b, "[%d] %s size=%s entry=%s margin=%s liq=%s\n",
			i, pos.MarketID, fixed.FormatSize(pos.SignedSize), fixed.FormatPrice(pos.EntryPrice),
			fixed.FormatQuote(pos.MarginLocked), fixed.FormatPrice(pos.LiquidationPrice))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (d *Dispatcher) showOrders(ctx context.Context, c *command.ShowOrders) (string, error) {
	address, err := d.session.ResolveActor(c.Actor())
	if err != nil {
		return "", err
	}
	market, err := d.session.ResolveMarket()
	if err != nil {
		return "", err
	}
	orders, err := d.openOrders(ctx, market, address)
	if err != nil {
		return "", err
	}
	if len(orders) == 0 {
		return "no open orders", nil
	}
	var b strings.Builder
	for i, order := range orders {
		fmt.Fprintf(&b, "[%d] %s %s %s @ %s\n",
			i, order.ID, order.Side, fixed.FormatSize(order.Size), fixed.FormatPrice(order.Price))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (d *Dispatcher) showOrderBook(ctx context.Context) (string, error) {
	market, err := d.session.ResolveMarket()
	if err != nil {
		return "", err
	}
	var best chain.BestPrices
	err = d.gw.Do(ctx, "bestPrices", func(ctx context.Context) error {
		var err error
		best, err = d.ex.BestPrices(ctx, market)
		return err
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s bid %s / ask %s", market, fixed.FormatPrice(best.Bid), fixed.FormatPrice(best.Ask)), nil
}

func (d *Dispatcher) showPortfolio(ctx context.Context, sel command.Selector) (string, error) {
	address, err := d.session.ResolveActor(sel)
	if err != nil {
		return "", err
	}
	report, err := d.recon.Reconcile(ctx, address)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "portfolio %s\n", address)
	fmt.Fprintf(&b, "  collateral %s  available %s\n",
		fixed.FormatQuote(report.Collateral.Value), fixed.FormatQuote(report.Available.Value))
	fmt.Fprintf(&b, "  realized %s  unrealized %s\n",
		fixed.FormatQuote(report.RealizedPnL.Value), fixed.FormatQuote(report.UnrealizedPnL.Value))
	fmt.Fprintf(&b, "  portfolio value %s (%d positions)",
		fixed.FormatQuote(report.PortfolioValue), len(report.Positions))
	return b.String(), nil
}

func (d *Dispatcher) showReconciliation(ctx context.Context, sel command.Selector) (string, error) {
	address, err := d.session.ResolveActor(sel)
	if err != nil {
		return "", err
	}
	report, err := d.recon.Reconcile(ctx, address)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "reconciliation %s\n", address)
	fmt.Fprintf(&b, "  collateral %s (%s)\n", fixed.FormatQuote(report.Collateral.Value), report.Collateral.Confidence)
	fmt.Fprintf(&b, "  margin used %s (%s)  reserved %s (%s)\n",
		fixed.FormatQuote(report.MarginUsed.Value), report.MarginUsed.Confidence,
		fixed.FormatQuote(report.MarginReserved.Value), report.MarginReserved.Confidence)
	fmt.Fprintf(&b, "  realized %s (%s)  unrealized %s (%s)\n",
		fixed.FormatQuote(report.RealizedPnL.Value), report.RealizedPnL.Confidence,
		fixed.FormatQuote(report.UnrealizedPnL.Value), report.UnrealizedPnL.Confidence)
	fmt.Fprintf(&b, "  socialized loss %s  portfolio value %s\n",
		fixed.FormatQuote(report.SocializedLoss), fixed.FormatQuote(report.PortfolioValue))
	if len(report.Discrepancies) == 0 {
		b.WriteString("  no discrepancies")
	} else {
		for _, disc := range report.Discrepancies {
			fmt.Fprintf(&b, "  DISCREPANCY %s: %s\n", disc.Kind, disc.Detail)
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (d *Dispatcher) showHistory(count int) string {
	entries := d.history.Recent(count)
	if len(entries) == 0 {
		return "history empty"
	}
	var b strings.Builder
	for _, entry := range entries {
		fmt.Fprintf(&b, "%s [%s] %s: %s\n",
			entry.Timestamp.Format("15:04:05"), entry.Status, entry.Opcode, entry.Summary)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (d *Dispatcher) liquidate(ctx context.Context, c *command.Liquidate) (string, error) {
	address, err := d.session.ResolveActor(c.Target)
	if err != nil {
		return "", err
	}
	market, err := d.session.ResolveMarket()
	if err != nil {
		return "", err
	}
	err = d.gw.Do(ctx, "triggerLiquidation", func(ctx context.Context) error {
		return d.ex.TriggerLiquidation(ctx, market, address)
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("liquidation check triggered for %s", address), nil
}

func (d *Dispatcher) assert(ctx context.Context, c *command.Assert) (string, error) {
	actual, render, err := d.assertActual(ctx, c)
	if err != nil {
		return "", err
	}
	if !compare(actual, c.Value, c.Op) {
		return "", &AssertionFailure{
			Target:   string(c.Target),
			Op:       string(c.Op),
			Expected: c.Raw,
			Actual:   render(actual),
		}
	}
	return fmt.Sprintf("assert %s %s %s passed (actual %s)", c.Target, c.Op, c.Raw, render(actual)), nil
}

// assertActual fetches the freshly observed quantity an ASSERT compares,
// plus the formatter matching its scale.
func (d *Dispatcher) assertActual(ctx context.Context, c *command.Assert) (*big.Int, func(*big.Int) string, error) {
	switch c.Target {
	case command.AssertBid, command.AssertAsk:
		market, err := d.session.ResolveMarket()
		if err != nil {
			return nil, nil, err
		}
		var best chain.BestPrices
		err = d.gw.Do(ctx, "bestPrices", func(ctx context.Context) error {
			var err error
			best, err = d.ex.BestPrices(ctx, market)
			return err
		})
		if err != nil {
			return nil, nil, err
		}
		if c.Target == command.AssertBid {
			return best.Bid, fixed.FormatPrice, nil
		}
		return best.Ask, fixed.FormatPrice, nil

	case command.AssertPosition:
		address, err := d.session.ResolveActor(c.Actor())
		if err != nil {
			return nil, nil, err
		}
		positions, err := d.positions(ctx, address)
		if err != nil {
			return nil, nil, err
		}
		net := big.NewInt(0)
		for _, pos := range positions {
			if pos.SignedSize != nil {
				net.Add(net, pos.SignedSize)
			}
		}
		if c.Short {
			net.Neg(net)
		}
		return net, fixed.FormatSize, nil

	case command.AssertAvail:
		address, err := d.session.ResolveActor(c.Actor())
		if err != nil {
			return nil, nil, err
		}
		var summary chain.AccountSummary
		err = d.gw.Do(ctx, "accountSummary", func(ctx context.Context) error {
			var err error
			summary, err = d.ex.AccountSummary(ctx, address)
			return err
		})
		if err != nil {
			return nil, nil, err
		}
		return summary.Available, fixed.FormatQuote, nil
	}
	return nil, nil, &command.ValidationError{Opcode: "ASSERT", Reason: "unknown target"}
}

func compare(actual, expected *big.Int, op command.AssertOp) bool {
	if actual == nil {
		return false
	}
	cmp := actual.Cmp(expected)
	switch op {
	case command.OpGE:
		return cmp >= 0
	case command.OpGT:
		return cmp > 0
	case command.OpLE:
		return cmp <= 0
	case command.OpLT:
		return cmp < 0
	case command.OpEQ:
		return cmp == 0
	case command.OpNE:
		return cmp != 0
	}
	return false
}

func (d *Dispatcher) positions(ctx context.Context, address string) ([]chain.Position, error) {
	var positions []chain.Position
	err := d.gw.Do(ctx, "positions", func(ctx context.Context) error {
		var err error
		positions, err = d.ex.Positions(ctx, address)
		return err
	})
	return positions, err
}

func (d *Dispatcher) openOrders(ctx context.Context, market, address string) ([]chain.OpenOrder, error) {
	var orders []chain.OpenOrder
	err := d.gw.Do(ctx, "openOrders", func(ctx context.Context) error {
		var err error
		orders, err = d.ex.OpenOrders(ctx, market, address)
		return err
	})
	return orders, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
