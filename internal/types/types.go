// Package types defines shared types used across the execution engine.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side represents the direction of an order.
type Side int

const (
	SideBuy Side = iota
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideSell:
		return "SELL"
	default:
		return "BUY"
	}
}

// Opposite returns the opposite side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// ParseSide parses a side string ("BUY"/"SELL", case-insensitive via upper).
func ParseSide(s string) (Side, bool) {
	switch s {
	case "BUY", "buy":
		return SideBuy, true
	case "SELL", "sell":
		return SideSell, true
	default:
		return SideBuy, false
	}
}

// OrderStatus represents the state of an exchange order.
type OrderStatus int

const (
	OrderStatusOpen OrderStatus = iota
	OrderStatusPartialFill
	OrderStatusFilled
	OrderStatusCancelled
	OrderStatusRejected
	OrderStatusExpired
	OrderStatusUnknown
)

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusOpen:
		return "OPEN"
	case OrderStatusPartialFill:
		return "PARTIAL_FILL"
	case OrderStatusFilled:
		return "FILLED"
	case OrderStatusCancelled:
		return "CANCELLED"
	case OrderStatusRejected:
		return "REJECTED"
	case OrderStatusExpired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// IsFinal returns true if the order is in a terminal state.
func (s OrderStatus) IsFinal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired:
		return true
	default:
		return false
	}
}

// PriceMode selects how a slice price is resolved at placement time.
type PriceMode int

const (
	// PriceLimit uses the parent order's fixed limit price.
	PriceLimit PriceMode = iota
	// PriceBid pegs to the current best bid.
	PriceBid
	// PriceMid pegs to the current mid price.
	PriceMid
	// PriceAsk pegs to the current best ask.
	PriceAsk
	// PriceMarket crosses the touch for immediate execution.
	PriceMarket
)

func (p PriceMode) String() string {
	switch p {
	case PriceBid:
		return "BID"
	case PriceMid:
		return "MID"
	case PriceAsk:
		return "ASK"
	case PriceMarket:
		return "MARKET"
	default:
		return "LIMIT"
	}
}

// Distribution selects the size distribution of a price ladder.
type Distribution int

const (
	DistributionFlat Distribution = iota
	DistributionLinear
	DistributionExponential
)

func (d Distribution) String() string {
	switch d {
	case DistributionLinear:
		return "LINEAR"
	case DistributionExponential:
		return "EXPONENTIAL"
	default:
		return "FLAT"
	}
}

// ParseDistribution parses a distribution name.
func ParseDistribution(s string) (Distribution, bool) {
	switch s {
	case "flat", "FLAT":
		return DistributionFlat, true
	case "linear", "LINEAR":
		return DistributionLinear, true
	case "exponential", "EXPONENTIAL":
		return DistributionExponential, true
	default:
		return DistributionFlat, false
	}
}

// Fill is a single trade against one of our orders. FillID is unique per
// trade and is the idempotency key for fill application.
type Fill struct {
	FillID  string
	OrderID string
	Size    decimal.Decimal
	Price   decimal.Decimal
	Fee     decimal.Decimal
	IsMaker bool
	Time    time.Time
}

// Notional returns size * price.
func (f Fill) Notional() decimal.Decimal {
	return f.Size.Mul(f.Price)
}

// MarketSnapshot is a point-in-time view of the top of book.
type MarketSnapshot struct {
	ProductID string
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	Time      time.Time
}

// Mid returns the bid/ask midpoint.
func (m MarketSnapshot) Mid() decimal.Decimal {
	return m.Bid.Add(m.Ask).Div(decimal.NewFromInt(2))
}

// Valid reports whether both sides of the book are populated.
func (m MarketSnapshot) Valid() bool {
	return m.Bid.IsPositive() && m.Ask.IsPositive()
}

// ProductInfo describes a tradable product's constraints.
type ProductInfo struct {
	ProductID      string
	BaseMinSize    decimal.Decimal
	BaseMaxSize    decimal.Decimal
	BaseIncrement  decimal.Decimal
	QuoteIncrement decimal.Decimal
}

// Candle is one OHLCV bar.
type Candle struct {
	Start  time.Time
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume decimal.Decimal
}

// TypicalPrice returns (high + low + close) / 3.
func (c Candle) TypicalPrice() decimal.Decimal {
	return c.High.Add(c.Low).Add(c.Close).Div(decimal.NewFromInt(3))
}
