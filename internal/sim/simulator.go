package sim

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"spot-sim/internal/core"
	"spot-sim/internal/exchange"
	"spot-sim/internal/userdata"
)

var _ exchange.TradingAPI = (*Simulator)(nil)

type Options struct {
	CommissionRate decimal.Decimal
	WithdrawFee    decimal.Decimal
	Now            func() time.Time
	// Registry receives the simulator metrics; nil disables them.
	Registry *prometheus.Registry
	Journal  TradeJournal
	// Publish pushes execution reports and account updates to every open
	// stream after each order, cancel and withdrawal.
	Publish bool
}

// Simulator is an offline stand-in for the spot trading API. All
// components share one Ledger.
type Simulator struct {
	ledger  *Ledger
	orders  *OrderRegistry
	funding *DepositLedger
	hub     *EventHub
	now     func() time.Time
	publish bool
}

func New(source exchange.MarketDataSource, opts Options) *Simulator {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	var metrics *Metrics
	if opts.Registry != nil {
		metrics = NewMetrics(opts.Registry)
	}
	ledger := NewLedger(source, LedgerOptions{CommissionRate: opts.CommissionRate, Now: now})
	return &Simulator{
		ledger: ledger,
		orders: NewOrderRegistry(ledger, RegistryOptions{
			Now:     now,
			Metrics: metrics,
			Journal: opts.Journal,
		}),
		funding: NewDepositLedger(ledger, DepositOptions{
			WithdrawFee: opts.WithdrawFee,
			Now:         now,
			Metrics:     metrics,
		}),
		hub:     NewEventHub(now, metrics),
		now:     now,
		publish: opts.Publish,
	}
}

func (s *Simulator) Ledger() *Ledger { return s.ledger }

func (s *Simulator) Account(ctx context.Context) (core.Account, error) {
	return s.ledger.Account(ctx)
}

func (s *Simulator) Asset(ctx context.Context, code string) (core.Asset, error) {
	return s.ledger.Asset(ctx, code)
}

func (s *Simulator) ExchangeInfo(ctx context.Context) (map[string]core.SymbolInfo, error) {
	return s.ledger.ExchangeInfo(ctx)
}

func (s *Simulator) SetPrice(ctx context.Context, symbol string, price decimal.Decimal) error {
	return s.ledger.SetPrice(ctx, symbol, price)
}

func (s *Simulator) NewOrder(ctx context.Context, order core.NewOrder) (core.OrderRef, error) {
	ref, err := s.orders.CreateOrder(ctx, order, false)
	if err != nil {
		return core.OrderRef{}, err
	}
	s.publishOrder(ctx, ref.OrderID)
	return ref, nil
}

// NewOrderTest validates a placement without placing it.
func (s *Simulator) NewOrderTest(ctx context.Context, order core.NewOrder) (core.OrderRef, error) {
	return s.orders.CreateOrder(ctx, order, true)
}

func (s *Simulator) CancelOrder(ctx context.Context, req core.CancelOrderRequest) (core.Order, error) {
	order, err := s.orders.CancelOrder(ctx, req)
	if err != nil {
		return core.Order{}, err
	}
	if s.publish {
		s.hub.Broadcast(userdata.NewExecutionReport(order, nil, s.now()))
	}
	return order, nil
}

func (s *Simulator) GetOrder(ctx context.Context, req core.OrderStatusRequest) (core.Order, bool, error) {
	return s.orders.GetOrder(ctx, req)
}

func (s *Simulator) GetOrderByRef(ctx context.Context, ref core.OrderRef) (core.Order, bool, error) {
	return s.orders.GetOrderByRef(ctx, ref)
}

func (s *Simulator) OpenOrders(ctx context.Context, req core.OpenOrdersRequest) ([]core.Order, error) {
	return s.orders.OpenOrders(ctx, req)
}

func (s *Simulator) AllOrders(ctx context.Context, req core.AllOrdersRequest) ([]core.Order, error) {
	return s.orders.AllOrders(ctx, req)
}

func (s *Simulator) ClosedOrders(ctx context.Context, req core.AllOrdersRequest) ([]core.Order, error) {
	return s.orders.ClosedOrders(ctx, req)
}

func (s *Simulator) MyTrades(ctx context.Context, req core.MyTradesRequest) ([]core.Trade, error) {
	return s.orders.MyTrades(ctx, req)
}

func (s *Simulator) Trades(ctx context.Context, req core.TradesRequest) ([]core.Trade, error) {
	return s.orders.Trades(ctx, req)
}

func (s *Simulator) Withdraw(ctx context.Context, req core.WithdrawOrder) (string, error) {
	id, err := s.funding.Withdraw(ctx, req)
	if err != nil {
		return "", err
	}
	s.publishAccount(ctx)
	return id, nil
}

func (s *Simulator) WithdrawHistory(ctx context.Context, req core.HistoryRequest) ([]core.WithdrawTransaction, error) {
	return s.funding.WithdrawHistory(ctx, req)
}

func (s *Simulator) DepositHistory(ctx context.Context, req core.HistoryRequest) ([]core.Deposit, error) {
	return s.funding.DepositHistory(ctx, req)
}

func (s *Simulator) FiatOrders(ctx context.Context, req core.FiatHistoryRequest) ([]core.FiatOrder, error) {
	return s.funding.FiatOrders(ctx, req)
}

func (s *Simulator) FiatPayments(ctx context.Context, req core.FiatHistoryRequest) ([]core.FiatPayment, error) {
	return s.funding.FiatPayments(ctx, req)
}

// Deposit records an inbound crypto deposit; successful deposits credit the
// ledger.
func (s *Simulator) Deposit(ctx context.Context, deposit core.Deposit) error {
	if err := s.funding.RecordDeposit(ctx, deposit); err != nil {
		return err
	}
	s.publishAccount(ctx)
	return nil
}

func (s *Simulator) FiatPayment(ctx context.Context, payment core.FiatPayment) error {
	if err := s.funding.RecordFiatPayment(ctx, payment); err != nil {
		return err
	}
	s.publishAccount(ctx)
	return nil
}

func (s *Simulator) FiatOrder(order core.FiatOrder) {
	s.funding.RecordFiatOrder(order)
}

// Subscribe opens a simulated user data stream.
func (s *Simulator) Subscribe(l userdata.Listener) *Channel {
	return s.hub.Subscribe(l)
}

func (s *Simulator) Stream(listenKey string) (*Channel, error) {
	return s.hub.Channel(listenKey)
}

func (s *Simulator) KeepAliveUserDataStream(ctx context.Context, listenKey string) error {
	return s.hub.KeepAlive(ctx, listenKey)
}

func (s *Simulator) CloseUserDataStream(ctx context.Context, listenKey string) error {
	return s.hub.CloseStream(ctx, listenKey)
}

func (s *Simulator) publishOrder(ctx context.Context, orderID int64) {
	if !s.publish {
		return
	}
	order, ok, err := s.orders.GetOrder(ctx, core.OrderStatusRequest{OrderID: orderID})
	if err != nil || !ok {
		return
	}
	var trade *core.Trade
	trades, err := s.orders.MyTrades(ctx, core.MyTradesRequest{Symbol: order.Symbol, OrderID: orderID})
	if err == nil && len(trades) > 0 {
		trade = &trades[len(trades)-1]
	}
	s.hub.Broadcast(userdata.NewExecutionReport(order, trade, s.now()))
	if trade != nil {
		s.publishAccount(ctx)
	}
}

func (s *Simulator) publishAccount(ctx context.Context) {
	if !s.publish {
		return
	}
	acct, err := s.ledger.Account(ctx)
	if err != nil {
		return
	}
	s.hub.Broadcast(userdata.NewAccountUpdate(acct, s.now()))
}

// SessionState is everything a session accumulated beyond its market
// snapshot. It can be saved and restored into a fresh Simulator.
type SessionState struct {
	SavedAt     time.Time    `json:"saved_at"`
	Account     core.Account `json:"account"`
	Orders      []core.Order `json:"orders"`
	Trades      []core.Trade `json:"trades"`
	LastOrderID int64        `json:"last_order_id"`
	LastTradeID int64        `json:"last_trade_id"`
	Funding     FundingState `json:"funding"`
}

func (s *Simulator) Export(ctx context.Context) (SessionState, error) {
	acct, err := s.ledger.Account(ctx)
	if err != nil {
		return SessionState{}, err
	}
	return SessionState{
		SavedAt:     s.now().UTC(),
		Account:     acct,
		Orders:      s.orders.orderHistory(),
		Trades:      s.orders.tradeHistory(),
		LastOrderID: s.orders.lastOrderID(),
		LastTradeID: s.ledger.lastTradeID(),
		Funding:     s.funding.snapshot(),
	}, nil
}

// Restore replaces the session state. Symbols and prices still come from
// the market data source.
func (s *Simulator) Restore(ctx context.Context, state SessionState) error {
	if state.Account.Balances == nil {
		return fmt.Errorf("session state has no balances")
	}
	lastTradeID := state.LastTradeID
	for _, t := range state.Trades {
		if t.ID > lastTradeID {
			lastTradeID = t.ID
		}
	}
	if err := s.ledger.restore(ctx, state.Account, lastTradeID); err != nil {
		return err
	}
	s.orders.restore(state.Orders, state.Trades, state.LastOrderID)
	s.funding.restore(state.Funding)
	log.Printf(
		"level=INFO event=sim_session_restored orders=%d trades=%d withdrawals=%d",
		len(state.Orders),
		len(state.Trades),
		len(state.Funding.Withdrawals),
	)
	return nil
}
