// Package chain speaks to the remote derivatives contract system through
// its exchange-gateway API. The console never computes fills, margin, or
// liquidations itself; everything here is request/response plumbing plus
// the scaled-integer amounts the gateway returns.
package chain

import (
	"fmt"
	"math/big"
)

// Side enumerates order directions accepted by the exchange gateway.
type Side string

const (
	// Buy indicates a long order.
	Buy Side = "BUY"
	// Sell indicates a short order.
	Sell Side = "SELL"
)

// OrderKind distinguishes resting limit orders from immediate market orders.
type OrderKind string

const (
	// Limit rests on the book at the given price.
	Limit OrderKind = "LIMIT"
	// Market crosses immediately, bounded by the slippage tolerance.
	Market OrderKind = "MARKET"
)

// AccountSummary is the unified point-in-time account snapshot. All amounts
// are quote-scaled (6dp) integers.
type AccountSummary struct {
	Address        string
	Collateral     *big.Int
	MarginUsed     *big.Int
	MarginReserved *big.Int
	Available      *big.Int
	RealizedPnL    *big.Int
	UnrealizedPnL  *big.Int
	TotalCommitted *big.Int
	Healthy        bool
}

// Position is one open exposure owned by an account snapshot. SignedSize is
// 18dp (positive long, negative short); prices are 6dp; margin and haircut
// are quote-scaled.
type Position struct {
	MarketID         string
	SignedSize       *big.Int
	EntryPrice       *big.Int
	MarginLocked     *big.Int
	AccruedHaircut   *big.Int
	LiquidationPrice *big.Int
}

// OpenOrder is a resting order as reported by the gateway, in book order.
type OpenOrder struct {
	ID    string
	Side  Side
	Price *big.Int
	Size  *big.Int
}

// BestPrices carries the current top of book (6dp).
type BestPrices struct {
	Bid *big.Int
	Ask *big.Int
}

// OrderRequest describes a placement the console submits on behalf of an
// actor. ClientID makes resubmission after a retried transport failure
// idempotent on the gateway side; Signature is the actor's base58 ed25519
// signature over ClientID.
type OrderRequest struct {
	ClientID    string
	Signature   string
	Market      string
	Address     string
	Side        Side
	Kind        OrderKind
	Price       *big.Int
	Size        *big.Int
	SlippageBps int64
}

// OrderAck is the gateway's acknowledgement of a write call.
type OrderAck struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

func parseAmount(s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("empty amount")
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("malformed amount %q", s)
	}
	return v, nil
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
