package types

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestOrderStatusIsFinal(t *testing.T) {
	finals := []OrderStatus{OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired}
	for _, s := range finals {
		if !s.IsFinal() {
			t.Errorf("%s should be final", s)
		}
	}
	nonFinals := []OrderStatus{OrderStatusOpen, OrderStatusPartialFill, OrderStatusUnknown}
	for _, s := range nonFinals {
		if s.IsFinal() {
			t.Errorf("%s should not be final", s)
		}
	}
}

func TestParseSide(t *testing.T) {
	if s, ok := ParseSide("BUY"); !ok || s != SideBuy {
		t.Errorf("ParseSide(BUY) = %v, %v", s, ok)
	}
	if s, ok := ParseSide("sell"); !ok || s != SideSell {
		t.Errorf("ParseSide(sell) = %v, %v", s, ok)
	}
	if _, ok := ParseSide("HOLD"); ok {
		t.Error("ParseSide(HOLD) should fail")
	}
	if SideBuy.Opposite() != SideSell || SideSell.Opposite() != SideBuy {
		t.Error("Opposite is wrong")
	}
}

func TestMarketSnapshotMid(t *testing.T) {
	snap := MarketSnapshot{
		ProductID: "BTC-USD",
		Bid:       decimal.RequireFromString("100"),
		Ask:       decimal.RequireFromString("102"),
		Time:      time.Now(),
	}
	if !snap.Valid() {
		t.Fatal("snapshot should be valid")
	}
	if !snap.Mid().Equal(decimal.RequireFromString("101")) {
		t.Errorf("Mid() = %s, want 101", snap.Mid())
	}

	var empty MarketSnapshot
	if empty.Valid() {
		t.Error("zero snapshot should be invalid")
	}
}

func TestCandleTypicalPrice(t *testing.T) {
	c := Candle{
		High:  decimal.RequireFromString("30"),
		Low:   decimal.RequireFromString("10"),
		Close: decimal.RequireFromString("20"),
	}
	if !c.TypicalPrice().Equal(decimal.RequireFromString("20")) {
		t.Errorf("TypicalPrice() = %s, want 20", c.TypicalPrice())
	}
}

func TestFillNotional(t *testing.T) {
	f := Fill{
		Size:  decimal.RequireFromString("0.5"),
		Price: decimal.RequireFromString("40000"),
	}
	if !f.Notional().Equal(decimal.RequireFromString("20000")) {
		t.Errorf("Notional() = %s, want 20000", f.Notional())
	}
}
