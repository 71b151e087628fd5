package core

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrBelowMinQty      = errors.New("qty below min")
	ErrBelowMinNotional = errors.New("notional below min")
)

// CheckPlacement validates an order placement against the symbol's filters.
// Unlike the live exchange it never rounds; a value off the tick or step is
// accepted as-is.
func CheckPlacement(order NewOrder, rules Rules) error {
	if order.Symbol == "" {
		return fmt.Errorf("%w: symbol required", ErrInvalidOrder)
	}
	if order.Side != Buy && order.Side != Sell {
		return fmt.Errorf("%w: side %q", ErrInvalidOrder, order.Side)
	}
	if order.Quantity.Cmp(decimal.Zero) <= 0 {
		return fmt.Errorf("%w: quantity must be > 0", ErrInvalidOrder)
	}
	if rules.MinQty.Cmp(decimal.Zero) > 0 && order.Quantity.Cmp(rules.MinQty) < 0 {
		return ErrBelowMinQty
	}
	switch order.Type {
	case Limit, LimitMaker:
		if order.Price.Cmp(decimal.Zero) <= 0 {
			return fmt.Errorf("%w: price must be > 0", ErrInvalidOrder)
		}
	case Market:
		if order.Price.Cmp(decimal.Zero) <= 0 {
			return nil
		}
	default:
		if order.Price.Cmp(decimal.Zero) <= 0 {
			return nil
		}
	}
	if rules.MinNotional.Cmp(decimal.Zero) > 0 {
		notional := order.Price.Mul(order.Quantity)
		if notional.Cmp(rules.MinNotional) < 0 {
			return ErrBelowMinNotional
		}
	}
	return nil
}
