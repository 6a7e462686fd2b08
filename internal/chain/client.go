package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a thin HTTP client for the exchange gateway. It performs no
// retries and holds no concurrency budget of its own; callers route every
// method through the Remote Call Gateway.
type Client struct {
	Base string
	Http *http.Client
}

// NewClient builds a client for the given base URL.
func NewClient(base string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &Client{
		Base: strings.TrimSuffix(base, "/"),
		Http: &http.Client{Timeout: timeout},
	}
}

type errorEnvelope struct {
	Error struct {
		Code   string `json:"code"`
		Reason string `json:"reason"`
	} `json:"error"`
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Base+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out, false)
}

// getOptional is get for endpoints a gateway may simply not expose; a 404
// maps to ErrFieldUnavailable instead of a revert.
func (c *Client) getOptional(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Base+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out, true)
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out, false)
}

func (c *Client) do(req *http.Request, out any, optional bool) error {
	resp, err := c.Http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if optional && resp.StatusCode == http.StatusNotFound {
		return ErrFieldUnavailable
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		var envelope errorEnvelope
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil && envelope.Error.Reason != "" {
			return &RevertError{Code: envelope.Error.Code, Reason: envelope.Error.Reason}
		}
		return &RevertError{Reason: fmt.Sprintf("gateway status %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("gateway status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Health performs the cheap readiness probe used before retries and by
// waitUntilHealthy.
func (c *Client) Health(ctx context.Context) error {
	return c.get(ctx, "/v1/health", nil)
}

type summaryWire struct {
	Collateral     string `json:"collateral"`
	MarginUsed     string `json:"margin_used"`
	MarginReserved string `json:"margin_reserved"`
	Available      string `json:"available"`
	RealizedPnL    string `json:"realized_pnl"`
	UnrealizedPnL  string `json:"unrealized_pnl"`
	TotalCommitted string `json:"total_committed"`
	Healthy        bool   `json:"healthy"`
}

// AccountSummary fetches the unified account snapshot.
func (c *Client) AccountSummary(ctx context.Context, address string) (AccountSummary, error) {
	var wire summaryWire
	if err := c.get(ctx, "/v1/accounts/"+url.PathEscape(address)+"/summary", &wire); err != nil {
		return AccountSummary{}, err
	}
	summary := AccountSummary{Address: address, Healthy: wire.Healthy}
	for _, field := range []struct {
		dst **big.Int
		raw string
	}{
		{&summary.Collateral, wire.Collateral},
		{&summary.MarginUsed, wire.MarginUsed},
		{&summary.MarginReserved, wire.MarginReserved},
		{&summary.Available, wire.Available},
		{&summary.RealizedPnL, wire.RealizedPnL},
		{&summary.UnrealizedPnL, wire.UnrealizedPnL},
		{&summary.TotalCommitted, wire.TotalCommitted},
	} {
		v, err := parseAmount(field.raw)
		if err != nil {
			return AccountSummary{}, fmt.Errorf("account summary: %w", err)
		}
		*field.dst = v
	}
	return summary, nil
}

// Field fetches a single account field through the per-field fallback
// getters. Returns ErrFieldUnavailable when the gateway does not expose it.
func (c *Client) Field(ctx context.Context, address, name string) (*big.Int, error) {
	var wire struct {
		Value string `json:"value"`
	}
	path := "/v1/accounts/" + url.PathEscape(address) + "/fields/" + url.PathEscape(name)
	if err := c.getOptional(ctx, path, &wire); err != nil {
		return nil, err
	}
	return parseAmount(wire.Value)
}

type positionWire struct {
	MarketID         string `json:"market_id"`
	SignedSize       string `json:"signed_size"`
	EntryPrice       string `json:"entry_price"`
	MarginLocked     string `json:"margin_locked"`
	AccruedHaircut   string `json:"accrued_haircut"`
	LiquidationPrice string `json:"liquidation_price"`
}

// Positions lists the account's open exposures.
func (c *Client) Positions(ctx context.Context, address string) ([]Position, error) {
	var wire struct {
		Positions []positionWire `json:"positions"`
	}
	if err := c.get(ctx, "/v1/accounts/"+url.PathEscape(address)+"/positions", &wire); err != nil {
		return nil, err
	}
	out := make([]Position, 0, len(wire.Positions))
	for _, p := range wire.Positions {
		pos := Position{MarketID: p.MarketID}
		for _, field := range []struct {
			dst **big.Int
			raw string
		}{
			{&pos.SignedSize, p.SignedSize},
			{&pos.EntryPrice, p.EntryPrice},
			{&pos.MarginLocked, p.MarginLocked},
			{&pos.AccruedHaircut, p.AccruedHaircut},
			{&pos.LiquidationPrice, p.LiquidationPrice},
		} {
			v, err := parseAmount(field.raw)
			if err != nil {
				return nil, fmt.Errorf("position %s: %w", p.MarketID, err)
			}
			*field.dst = v
		}
		out = append(out, pos)
	}
	return out, nil
}

// TrackedNetSize returns the secondary position-tracking source's view of
// the account's total signed size, used only for cross-validation.
func (c *Client) TrackedNetSize(ctx context.Context, address string) (*big.Int, error) {
	var wire struct {
		Value string `json:"value"`
	}
	if err := c.getOptional(ctx, "/v1/accounts/"+url.PathEscape(address)+"/net-size", &wire); err != nil {
		return nil, err
	}
	return parseAmount(wire.Value)
}

// MarkPrice returns the live mark price for a market.
func (c *Client) MarkPrice(ctx context.Context, market string) (*big.Int, error) {
	var wire struct {
		Price string `json:"price"`
	}
	if err := c.get(ctx, "/v1/markets/"+url.PathEscape(market)+"/mark-price", &wire); err != nil {
		return nil, err
	}
	return parseAmount(wire.Price)
}

// BestPrices returns the current top of book.
func (c *Client) BestPrices(ctx context.Context, market string) (BestPrices, error) {
	var wire struct {
		Bid string `json:"bid"`
		Ask string `json:"ask"`
	}
	if err := c.get(ctx, "/v1/markets/"+url.PathEscape(market)+"/book/best", &wire); err != nil {
		return BestPrices{}, err
	}
	bid, err := parseAmount(wire.Bid)
	if err != nil {
		return BestPrices{}, fmt.Errorf("best bid: %w", err)
	}
	ask, err := parseAmount(wire.Ask)
	if err != nil {
		return BestPrices{}, fmt.Errorf("best ask: %w", err)
	}
	return BestPrices{Bid: bid, Ask: ask}, nil
}

type openOrderWire struct {
	ID    string `json:"id"`
	Side  string `json:"side"`
	Price string `json:"price"`
	Size  string `json:"size"`
}

// OpenOrders lists the actor's resting orders on a market, oldest first.
func (c *Client) OpenOrders(ctx context.Context, market, address string) ([]OpenOrder, error) {
	var wire struct {
		Orders []openOrderWire `json:"orders"`
	}
	path := "/v1/markets/" + url.PathEscape(market) + "/orders?address=" + url.QueryEscape(address)
	if err := c.get(ctx, path, &wire); err != nil {
		return nil, err
	}
	out := make([]OpenOrder, 0, len(wire.Orders))
	for _, o := range wire.Orders {
		price, err := parseAmount(o.Price)
		if err != nil {
			return nil, fmt.Errorf("order %s: %w", o.ID, err)
		}
		size, err := parseAmount(o.Size)
		if err != nil {
			return nil, fmt.Errorf("order %s: %w", o.ID, err)
		}
		out = append(out, OpenOrder{ID: o.ID, Side: Side(o.Side), Price: price, Size: size})
	}
	return out, nil
}

// PlaceOrder submits an order; the gateway treats ClientID as an
// idempotency key so transport-level retries never double-place.
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error) {
	payload := map[string]any{
		"client_id":    req.ClientID,
		"signature":    req.Signature,
		"market":       req.Market,
		"address":      req.Address,
		"side":         string(req.Side),
		"kind":         string(req.Kind),
		"price":        amountString(req.Price),
		"size":         amountString(req.Size),
		"slippage_bps": req.SlippageBps,
	}
	var ack OrderAck
	if err := c.post(ctx, "/v1/orders", payload, &ack); err != nil {
		return OrderAck{}, err
	}
	return ack, nil
}

// CancelOrder cancels one resting order by id.
func (c *Client) CancelOrder(ctx context.Context, market, address, orderID string) error {
	payload := map[string]any{"market": market, "address": address, "order_id": orderID}
	return c.post(ctx, "/v1/orders/cancel", payload, nil)
}

// CancelAll cancels every resting order the actor holds on the market.
func (c *Client) CancelAll(ctx context.Context, market, address string) error {
	payload := map[string]any{"market": market, "address": address}
	return c.post(ctx, "/v1/orders/cancel-all", payload, nil)
}

// Deposit moves quote-currency collateral into the account.
func (c *Client) Deposit(ctx context.Context, address string, amount *big.Int) error {
	payload := map[string]any{"address": address, "amount": amountString(amount)}
	return c.post(ctx, "/v1/collateral/deposit", payload, nil)
}

// Withdraw moves free collateral back out of the account.
func (c *Client) Withdraw(ctx context.Context, address string, amount *big.Int) error {
	payload := map[string]any{"address": address, "amount": amountString(amount)}
	return c.post(ctx, "/v1/collateral/withdraw", payload, nil)
}

// TopUpMargin adds collateral to the position at the given index.
func (c *Client) TopUpMargin(ctx context.Context, address string, index int, amount *big.Int) error {
	payload := map[string]any{"address": address, "index": index, "amount": amountString(amount)}
	return c.post(ctx, "/v1/positions/margin/topup", payload, nil)
}

// ReduceMargin removes excess collateral from the position at the given index.
func (c *Client) ReduceMargin(ctx context.Context, address string, index int, amount *big.Int) error {
	payload := map[string]any{"address": address, "index": index, "amount": amountString(amount)}
	return c.post(ctx, "/v1/positions/margin/reduce", payload, nil)
}

// TriggerLiquidation invokes the opaque liquidation-trigger endpoint for a
// target account on a market.
func (c *Client) TriggerLiquidation(ctx context.Context, market, address string) error {
	payload := map[string]any{"market": market, "address": address}
	return c.post(ctx, "/v1/liquidations/trigger", payload, nil)
}
