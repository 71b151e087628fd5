package sim

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"spot-sim/internal/core"
)

const rejectUnsupportedType = "UNSUPPORTED_ORDER_TYPE"

// TradeJournal receives every settled trade, e.g. to persist it.
type TradeJournal interface {
	AppendTrade(trade core.Trade) error
}

type RegistryOptions struct {
	Now     func() time.Time
	Metrics *Metrics
	Journal TradeJournal
}

// OrderRegistry runs the order state machine and keeps the order and trade
// history of the simulated account.
type OrderRegistry struct {
	ledger  *Ledger
	now     func() time.Time
	metrics *Metrics
	journal TradeJournal
	nextID  atomic.Int64

	mu         sync.Mutex
	orders     []*core.Order
	byID       map[int64]*core.Order
	byClientID map[string]*core.Order
	trades     []core.Trade
}

func NewOrderRegistry(ledger *Ledger, opts RegistryOptions) *OrderRegistry {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &OrderRegistry{
		ledger:     ledger,
		now:        now,
		metrics:    opts.Metrics,
		journal:    opts.Journal,
		byID:       make(map[int64]*core.Order),
		byClientID: make(map[string]*core.Order),
	}
}

// CreateOrder places an order. A test placement is validated and given an id
// but never touches the ledger or the history.
func (r *OrderRegistry) CreateOrder(ctx context.Context, placement core.NewOrder, test bool) (core.OrderRef, error) {
	info, err := r.ledger.Symbol(ctx, placement.Symbol)
	if err != nil {
		return core.OrderRef{}, err
	}
	if err := core.CheckPlacement(placement, info.Rules); err != nil {
		return core.OrderRef{}, err
	}

	if test {
		order := r.newOrder(r.nextID.Add(1), placement)
		order.Test = true
		return refFor(order, placement), nil
	}

	r.mu.Lock()
	if placement.NewClientOrderID != "" {
		if prev, ok := r.byClientID[placement.NewClientOrderID]; ok && !prev.Status.Terminal() {
			r.mu.Unlock()
			return core.OrderRef{}, fmt.Errorf("%w: clientOrderId=%s", core.ErrDuplicateOrder, placement.NewClientOrderID)
		}
	}
	order := r.newOrder(r.nextID.Add(1), placement)

	var trade *core.Trade
	switch order.Type {
	case core.Market:
		settled, err := r.ledger.SettleTrade(ctx, order)
		if err != nil {
			r.mu.Unlock()
			log.Printf(
				"level=WARN event=sim_order_settle_failed order_id=%d symbol=%s side=%s qty=%s err=%q",
				order.OrderID,
				order.Symbol,
				order.Side,
				order.OrigQty.String(),
				err.Error(),
			)
			return core.OrderRef{}, err
		}
		trade = &settled
	case core.Limit, core.StopLoss, core.LimitMaker, core.TakeProfit:
		// Rests at NEW; nothing in the simulator ever matches it.
	default:
		// Fresh orders are NEW, so this is always a legal transition.
		order.Status = core.OrderRejected
		order.RejectReason = rejectUnsupportedType
		log.Printf(
			"level=WARN event=sim_order_rejected order_id=%d symbol=%s type=%s reason=%s",
			order.OrderID,
			order.Symbol,
			order.Type,
			rejectUnsupportedType,
		)
	}

	r.appendOrderLocked(order)
	if trade != nil {
		r.trades = append(r.trades, *trade)
	}
	ref := refFor(order, placement)
	status := order.Status
	r.mu.Unlock()

	r.metrics.ObserveOrder(order.Symbol, string(order.Side), string(order.Type), string(status))
	if trade != nil {
		r.metrics.ObserveTrade(trade.Symbol)
		r.journalTrade(*trade)
	}
	return ref, nil
}

func (r *OrderRegistry) newOrder(id int64, placement core.NewOrder) *core.Order {
	now := r.now()
	clientID := placement.NewClientOrderID
	if clientID == "" {
		clientID = "sim-" + strconv.FormatInt(id, 10)
	}
	return &core.Order{
		OrderID:            id,
		ClientOrderID:      clientID,
		Symbol:             placement.Symbol,
		Side:               placement.Side,
		Type:               placement.Type,
		TimeInForce:        placement.TimeInForce,
		Price:              placement.Price,
		StopPrice:          placement.StopPrice,
		IcebergQty:         placement.IcebergQty,
		OrigQty:            placement.Quantity,
		ExecutedQty:        decimal.Zero,
		CumulativeQuoteQty: decimal.Zero,
		Status:             core.OrderNew,
		Time:               now,
		UpdateTime:         now,
	}
}

func refFor(order *core.Order, placement core.NewOrder) core.OrderRef {
	return core.OrderRef{
		OrderID:       order.OrderID,
		ClientOrderID: order.ClientOrderID,
		Symbol:        order.Symbol,
		TransactTime:  order.Time,
		Placement:     placement,
		Test:          order.Test,
	}
}

func (r *OrderRegistry) journalTrade(trade core.Trade) {
	if r.journal == nil {
		return
	}
	if err := r.journal.AppendTrade(trade); err != nil {
		log.Printf(
			"level=ERROR event=sim_trade_journal_failed trade_id=%d order_id=%d err=%q",
			trade.ID,
			trade.OrderID,
			err.Error(),
		)
	}
}

// CancelOrder moves a NEW order to CANCELED. The order is looked up by id,
// or by client order id when no id is given.
func (r *OrderRegistry) CancelOrder(ctx context.Context, req core.CancelOrderRequest) (core.Order, error) {
	if err := ctx.Err(); err != nil {
		return core.Order{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	order := r.lookupLocked(req.OrderID, req.OrigClientOrderID)
	if order == nil {
		return core.Order{}, fmt.Errorf("%w: orderId=%d clientOrderId=%s", core.ErrOrderNotFound, req.OrderID, req.OrigClientOrderID)
	}
	if order.Symbol != req.Symbol {
		return core.Order{}, fmt.Errorf("%w: order %d is %s, not %s", core.ErrSymbolMismatch, order.OrderID, order.Symbol, req.Symbol)
	}
	if err := transition(order, core.OrderCanceled, r.now()); err != nil {
		return core.Order{}, err
	}
	r.metrics.ObserveOrder(order.Symbol, string(order.Side), string(order.Type), string(order.Status))
	return *order, nil
}

// GetOrder returns false when nothing matches, like the live "unknown order".
func (r *OrderRegistry) GetOrder(ctx context.Context, req core.OrderStatusRequest) (core.Order, bool, error) {
	if err := ctx.Err(); err != nil {
		return core.Order{}, false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	order := r.lookupLocked(req.OrderID, req.OrigClientOrderID)
	if order == nil {
		return core.Order{}, false, nil
	}
	if req.Symbol != "" && order.Symbol != req.Symbol {
		return core.Order{}, false, nil
	}
	return *order, true, nil
}

// GetOrderByRef resolves a placement response. Test references are answered
// from the placement itself, always as NEW.
func (r *OrderRegistry) GetOrderByRef(ctx context.Context, ref core.OrderRef) (core.Order, bool, error) {
	if !ref.Test {
		return r.GetOrder(ctx, core.OrderStatusRequest{
			Symbol:            ref.Symbol,
			OrderID:           ref.OrderID,
			OrigClientOrderID: ref.ClientOrderID,
		})
	}
	p := ref.Placement
	return core.Order{
		OrderID:            ref.OrderID,
		ClientOrderID:      ref.ClientOrderID,
		Symbol:             p.Symbol,
		Side:               p.Side,
		Type:               p.Type,
		TimeInForce:        p.TimeInForce,
		Price:              p.Price,
		StopPrice:          p.StopPrice,
		IcebergQty:         p.IcebergQty,
		OrigQty:            p.Quantity,
		ExecutedQty:        decimal.Zero,
		CumulativeQuoteQty: decimal.Zero,
		Status:             core.OrderNew,
		Time:               ref.TransactTime,
		UpdateTime:         ref.TransactTime,
		Test:               true,
	}, true, nil
}

func (r *OrderRegistry) OpenOrders(ctx context.Context, req core.OpenOrdersRequest) ([]core.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return selectWhere(r.orderHistory(), 0,
		orderSymbol(req.Symbol),
		func(o core.Order) bool { return o.Status == core.OrderNew },
	), nil
}

func (r *OrderRegistry) AllOrders(ctx context.Context, req core.AllOrdersRequest) ([]core.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return selectWhere(r.orderHistory(), req.Limit, allOrdersPredicates(req)...), nil
}

func (r *OrderRegistry) ClosedOrders(ctx context.Context, req core.AllOrdersRequest) ([]core.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	preds := append(allOrdersPredicates(req), func(o core.Order) bool { return o.Status.Terminal() })
	return selectWhere(r.orderHistory(), req.Limit, preds...), nil
}

func (r *OrderRegistry) MyTrades(ctx context.Context, req core.MyTradesRequest) ([]core.Trade, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return selectWhere(r.tradeHistory(), req.Limit,
		tradeSymbol(req.Symbol),
		func(t core.Trade) bool { return req.OrderID == 0 || t.OrderID == req.OrderID },
		func(t core.Trade) bool { return req.FromID == 0 || t.ID >= req.FromID },
		func(t core.Trade) bool { return inWindow(t.Time, req.StartTime, req.EndTime) },
	), nil
}

// Trades lists recent trades on a symbol. The simulator has a single
// account, so these are the account's own fills.
func (r *OrderRegistry) Trades(ctx context.Context, req core.TradesRequest) ([]core.Trade, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return selectWhere(r.tradeHistory(), req.Limit, tradeSymbol(req.Symbol)), nil
}

func allOrdersPredicates(req core.AllOrdersRequest) []func(core.Order) bool {
	return []func(core.Order) bool{
		orderSymbol(req.Symbol),
		func(o core.Order) bool { return req.OrderID == 0 || o.OrderID >= req.OrderID },
		func(o core.Order) bool { return inWindow(o.Time, req.StartTime, req.EndTime) },
	}
}

func orderSymbol(symbol string) func(core.Order) bool {
	return func(o core.Order) bool { return symbol == "" || o.Symbol == symbol }
}

func tradeSymbol(symbol string) func(core.Trade) bool {
	return func(t core.Trade) bool { return symbol == "" || t.Symbol == symbol }
}

func (r *OrderRegistry) orderHistory() []core.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.Order, len(r.orders))
	for i, o := range r.orders {
		out[i] = *o
	}
	return out
}

func (r *OrderRegistry) lastOrderID() int64 {
	return r.nextID.Load()
}

func (r *OrderRegistry) tradeHistory() []core.Trade {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.Trade(nil), r.trades...)
}

func (r *OrderRegistry) lookupLocked(orderID int64, clientID string) *core.Order {
	if orderID > 0 {
		return r.byID[orderID]
	}
	if clientID != "" {
		return r.byClientID[clientID]
	}
	return nil
}

func (r *OrderRegistry) appendOrderLocked(order *core.Order) {
	r.orders = append(r.orders, order)
	r.byID[order.OrderID] = order
	r.byClientID[order.ClientOrderID] = order
}

func (r *OrderRegistry) restore(orders []core.Order, trades []core.Trade, lastOrderID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders = make([]*core.Order, 0, len(orders))
	r.byID = make(map[int64]*core.Order, len(orders))
	r.byClientID = make(map[string]*core.Order, len(orders))
	maxID := max(lastOrderID, r.nextID.Load())
	for i := range orders {
		order := orders[i]
		r.appendOrderLocked(&order)
		if order.OrderID > maxID {
			maxID = order.OrderID
		}
	}
	r.trades = append([]core.Trade(nil), trades...)
	r.nextID.Store(maxID)
}

// transition applies the order state machine: only NEW may move, and only
// to FILLED, CANCELED or REJECTED.
func transition(order *core.Order, to core.OrderStatus, at time.Time) error {
	if order.Status != core.OrderNew {
		return fmt.Errorf("%w: order %d is %s", core.ErrOrderNotPending, order.OrderID, order.Status)
	}
	switch to {
	case core.OrderFilled, core.OrderCanceled, core.OrderRejected:
	default:
		return fmt.Errorf("invalid transition %s -> %s", order.Status, to)
	}
	order.Status = to
	order.UpdateTime = at
	return nil
}
