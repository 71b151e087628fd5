package exchange

import (
	"context"

	"spot-sim/internal/core"
)

// MarketDataSource supplies the one-time snapshot a simulation session is seeded from.
type MarketDataSource interface {
	Snapshot(ctx context.Context) (core.MarketSnapshot, error)
}

// TradingAPI is the account-side operation set of the spot API.
type TradingAPI interface {
	Account(ctx context.Context) (core.Account, error)
	NewOrder(ctx context.Context, order core.NewOrder) (core.OrderRef, error)
	NewOrderTest(ctx context.Context, order core.NewOrder) (core.OrderRef, error)
	CancelOrder(ctx context.Context, req core.CancelOrderRequest) (core.Order, error)
	GetOrder(ctx context.Context, req core.OrderStatusRequest) (core.Order, bool, error)
	OpenOrders(ctx context.Context, req core.OpenOrdersRequest) ([]core.Order, error)
	AllOrders(ctx context.Context, req core.AllOrdersRequest) ([]core.Order, error)
	MyTrades(ctx context.Context, req core.MyTradesRequest) ([]core.Trade, error)
	Withdraw(ctx context.Context, req core.WithdrawOrder) (string, error)
	WithdrawHistory(ctx context.Context, req core.HistoryRequest) ([]core.WithdrawTransaction, error)
	DepositHistory(ctx context.Context, req core.HistoryRequest) ([]core.Deposit, error)
}

// StaticSource serves a fixed snapshot, e.g. one built from config.
type StaticSource struct {
	Snap core.MarketSnapshot
}

func (s StaticSource) Snapshot(ctx context.Context) (core.MarketSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return core.MarketSnapshot{}, err
	}
	return s.Snap, nil
}
