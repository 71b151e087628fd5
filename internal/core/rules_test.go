package core

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestCheckPlacementLimitRequiresPrice(t *testing.T) {
	order := NewOrder{
		Symbol:   "BNBBTC",
		Side:     Buy,
		Type:     Limit,
		Quantity: decimal.RequireFromString("1"),
	}
	if err := CheckPlacement(order, Rules{}); !errors.Is(err, ErrInvalidOrder) {
		t.Fatalf("CheckPlacement() error = %v, want %v", err, ErrInvalidOrder)
	}
}

func TestCheckPlacementRejectsNonPositiveQty(t *testing.T) {
	order := NewOrder{
		Symbol:   "BNBBTC",
		Side:     Sell,
		Type:     Market,
		Quantity: decimal.Zero,
	}
	if err := CheckPlacement(order, Rules{}); !errors.Is(err, ErrInvalidOrder) {
		t.Fatalf("CheckPlacement() error = %v, want %v", err, ErrInvalidOrder)
	}
}

func TestCheckPlacementBelowMinQty(t *testing.T) {
	order := NewOrder{
		Symbol:   "BTCUSDT",
		Side:     Buy,
		Type:     Limit,
		Price:    decimal.RequireFromString("100"),
		Quantity: decimal.RequireFromString("0.009"),
	}
	rules := Rules{
		MinQty: decimal.RequireFromString("0.01"),
	}

	err := CheckPlacement(order, rules)
	if !errors.Is(err, ErrBelowMinQty) {
		t.Fatalf("CheckPlacement() error = %v, want %v", err, ErrBelowMinQty)
	}
}

func TestCheckPlacementLimitBelowMinNotional(t *testing.T) {
	order := NewOrder{
		Symbol:   "BTCUSDT",
		Side:     Buy,
		Type:     Limit,
		Price:    decimal.RequireFromString("100"),
		Quantity: decimal.RequireFromString("0.05"),
	}
	rules := Rules{
		MinNotional: decimal.RequireFromString("6"),
	}

	err := CheckPlacement(order, rules)
	if !errors.Is(err, ErrBelowMinNotional) {
		t.Fatalf("CheckPlacement() error = %v, want %v", err, ErrBelowMinNotional)
	}
}

func TestCheckPlacementMarketMinNotionalRules(t *testing.T) {
	rules := Rules{
		MinNotional: decimal.RequireFromString("60"),
	}

	noPriceMarket := NewOrder{
		Symbol:   "BTCUSDT",
		Side:     Buy,
		Type:     Market,
		Quantity: decimal.RequireFromString("1"),
	}
	if err := CheckPlacement(noPriceMarket, rules); err != nil {
		t.Fatalf("CheckPlacement() no-price market error = %v", err)
	}

	withPriceMarket := NewOrder{
		Symbol:   "BTCUSDT",
		Side:     Buy,
		Type:     Market,
		Price:    decimal.RequireFromString("50"),
		Quantity: decimal.RequireFromString("1"),
	}
	if err := CheckPlacement(withPriceMarket, rules); !errors.Is(err, ErrBelowMinNotional) {
		t.Fatalf("CheckPlacement() market with price error = %v, want %v", err, ErrBelowMinNotional)
	}
}

func TestOrderStatusTerminal(t *testing.T) {
	for _, s := range []OrderStatus{OrderFilled, OrderCanceled, OrderRejected, OrderExpired} {
		if !s.Terminal() {
			t.Fatalf("%s.Terminal() = false, want true", s)
		}
	}
	for _, s := range []OrderStatus{OrderNew, OrderPartiallyFilled} {
		if s.Terminal() {
			t.Fatalf("%s.Terminal() = true, want false", s)
		}
	}
}

func TestAccountCloneDoesNotShareBalances(t *testing.T) {
	acct := Account{Balances: map[string]Asset{
		"BTC": {Asset: "BTC", Free: decimal.NewFromInt(1)},
	}}
	cp := acct.Clone()
	cp.Balances["BTC"] = Asset{Asset: "BTC", Free: decimal.NewFromInt(2)}
	if !acct.Balances["BTC"].Free.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("original balance changed to %s", acct.Balances["BTC"].Free)
	}
}
