package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"spot-sim/internal/core"
	"spot-sim/internal/sim"
	"spot-sim/internal/userdata"
)

type market struct {
	Symbol string
	Base   string
	Quote  string
	Price  decimal.Decimal
	Rules  core.Rules
}

type checker struct {
	sim    *sim.Simulator
	market market
}

var (
	notionalBuffer = decimal.RequireFromString("1.1")
	fallbackQty    = decimal.RequireFromString("0.001")
	half           = decimal.RequireFromString("0.5")
)

func (c *checker) preflight(ctx context.Context) (string, error) {
	acct, err := c.sim.Account(ctx)
	if err != nil {
		return "", err
	}
	symbols, err := c.sim.ExchangeInfo(ctx)
	if err != nil {
		return "", err
	}
	m, err := pickMarket(ctx, c.sim.Ledger(), acct, symbols)
	if err != nil {
		return "", err
	}
	c.market = m
	return fmt.Sprintf("symbol=%s price=%s assets=%d symbols=%d", m.Symbol, m.Price, len(acct.Balances), len(symbols)), nil
}

type priceLookup interface {
	Price(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// pickMarket returns the first symbol, in name order, that has a price and
// a balance in either leg.
func pickMarket(ctx context.Context, prices priceLookup, acct core.Account, symbols map[string]core.SymbolInfo) (market, error) {
	names := make([]string, 0, len(symbols))
	for name := range symbols {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		info := symbols[name]
		price, err := prices.Price(ctx, name)
		if err != nil || price.Cmp(decimal.Zero) <= 0 {
			continue
		}
		if acct.Balances[info.BaseAsset].Free.Cmp(decimal.Zero) <= 0 &&
			acct.Balances[info.QuoteAsset].Free.Cmp(decimal.Zero) <= 0 {
			continue
		}
		return market{
			Symbol: name,
			Base:   info.BaseAsset,
			Quote:  info.QuoteAsset,
			Price:  price,
			Rules:  info.Rules,
		}, nil
	}
	return market{}, errors.New("no priced symbol with a funded base or quote asset")
}

// orderQty is the smallest quantity that clears the symbol filters at price
// with a 10% notional buffer.
func orderQty(rules core.Rules, price decimal.Decimal) decimal.Decimal {
	qty := rules.MinQty
	if rules.MinNotional.Cmp(decimal.Zero) > 0 && price.Cmp(decimal.Zero) > 0 {
		need := rules.MinNotional.Mul(notionalBuffer).Div(price)
		if need.Cmp(qty) > 0 {
			qty = need
		}
	}
	if qty.Cmp(decimal.Zero) <= 0 {
		qty = fallbackQty
	}
	if rules.QtyStep.Cmp(decimal.Zero) > 0 {
		qty = qty.Div(rules.QtyStep).Ceil().Mul(rules.QtyStep)
	}
	return qty
}

func (c *checker) marketOrder(ctx context.Context) (string, error) {
	m := c.market
	before, err := c.sim.Account(ctx)
	if err != nil {
		return "", err
	}
	qty := orderQty(m.Rules, m.Price)
	side := core.Sell
	if before.Balances[m.Base].Free.Cmp(qty) < 0 {
		side = core.Buy
		if before.Balances[m.Quote].Free.Cmp(qty.Mul(m.Price)) < 0 {
			return "", fmt.Errorf("%w: need %s %s or %s %s", core.ErrInsufficientBalance, qty, m.Base, qty.Mul(m.Price), m.Quote)
		}
	}
	ref, err := c.sim.NewOrder(ctx, core.NewOrder{Symbol: m.Symbol, Side: side, Type: core.Market, Quantity: qty})
	if err != nil {
		return "", err
	}
	order, ok, err := c.sim.GetOrderByRef(ctx, ref)
	if err != nil || !ok {
		return "", fmt.Errorf("order %d not found: %v", ref.OrderID, err)
	}
	if order.Status != core.OrderFilled {
		return "", fmt.Errorf("order %d status=%s, want FILLED", order.OrderID, order.Status)
	}
	trades, err := c.sim.MyTrades(ctx, core.MyTradesRequest{Symbol: m.Symbol, OrderID: order.OrderID})
	if err != nil {
		return "", err
	}
	if len(trades) != 1 {
		return "", fmt.Errorf("order %d trades=%d, want 1", order.OrderID, len(trades))
	}
	after, err := c.sim.Account(ctx)
	if err != nil {
		return "", err
	}
	if err := checkSettlement(before, after, m, trades[0]); err != nil {
		return "", err
	}
	return fmt.Sprintf("side=%s qty=%s price=%s commission=%s %s", side, qty, trades[0].Price, trades[0].Commission, trades[0].CommissionAsset), nil
}

// checkSettlement verifies both legs of a fill moved by exactly the trade
// amounts, commission included.
func checkSettlement(before, after core.Account, m market, trade core.Trade) error {
	baseDelta := after.Balances[m.Base].Free.Sub(before.Balances[m.Base].Free)
	quoteDelta := after.Balances[m.Quote].Free.Sub(before.Balances[m.Quote].Free)
	var wantBase, wantQuote decimal.Decimal
	if trade.IsBuyer {
		wantBase = trade.Qty.Sub(trade.Commission)
		wantQuote = trade.QuoteQty.Neg()
	} else {
		wantBase = trade.Qty.Neg()
		wantQuote = trade.QuoteQty.Sub(trade.Commission)
	}
	if !baseDelta.Equal(wantBase) {
		return fmt.Errorf("%s moved %s, want %s", m.Base, baseDelta, wantBase)
	}
	if !quoteDelta.Equal(wantQuote) {
		return fmt.Errorf("%s moved %s, want %s", m.Quote, quoteDelta, wantQuote)
	}
	return nil
}

func (c *checker) limitLifecycle(ctx context.Context) (string, error) {
	m := c.market
	price := m.Price.Mul(half)
	qty := orderQty(m.Rules, price)
	ref, err := c.sim.NewOrder(ctx, core.NewOrder{
		Symbol:      m.Symbol,
		Side:        core.Buy,
		Type:        core.Limit,
		TimeInForce: core.GTC,
		Price:       price,
		Quantity:    qty,
	})
	if err != nil {
		return "", err
	}
	open, err := c.sim.OpenOrders(ctx, core.OpenOrdersRequest{Symbol: m.Symbol})
	if err != nil {
		return "", err
	}
	found := false
	for _, o := range open {
		if o.OrderID == ref.OrderID {
			found = true
		}
	}
	if !found {
		return "", fmt.Errorf("order %d missing from open orders", ref.OrderID)
	}
	canceled, err := c.sim.CancelOrder(ctx, core.CancelOrderRequest{Symbol: m.Symbol, OrderID: ref.OrderID})
	if err != nil {
		return "", err
	}
	if canceled.Status != core.OrderCanceled {
		return "", fmt.Errorf("cancel status=%s, want CANCELED", canceled.Status)
	}
	if _, err := c.sim.CancelOrder(ctx, core.CancelOrderRequest{Symbol: m.Symbol, OrderID: ref.OrderID}); !errors.Is(err, core.ErrOrderNotPending) {
		return "", fmt.Errorf("second cancel error=%v, want %v", err, core.ErrOrderNotPending)
	}
	return fmt.Sprintf("order=%d price=%s qty=%s", ref.OrderID, price, qty), nil
}

func (c *checker) testOrderIsolation(ctx context.Context) (string, error) {
	m := c.market
	req := core.AllOrdersRequest{Symbol: m.Symbol}
	before, err := c.sim.AllOrders(ctx, req)
	if err != nil {
		return "", err
	}
	ref, err := c.sim.NewOrderTest(ctx, core.NewOrder{
		Symbol:   m.Symbol,
		Side:     core.Buy,
		Type:     core.Market,
		Quantity: orderQty(m.Rules, m.Price),
	})
	if err != nil {
		return "", err
	}
	after, err := c.sim.AllOrders(ctx, req)
	if err != nil {
		return "", err
	}
	if len(after) != len(before) {
		return "", fmt.Errorf("history grew from %d to %d after a test order", len(before), len(after))
	}
	order, ok, err := c.sim.GetOrderByRef(ctx, ref)
	if err != nil || !ok || !order.Test || order.Status != core.OrderNew {
		return "", fmt.Errorf("test order lookup = %+v ok=%v err=%v", order, ok, err)
	}
	return fmt.Sprintf("order=%d history=%d", ref.OrderID, len(after)), nil
}

func (c *checker) withdrawal(ctx context.Context) (string, error) {
	acct, err := c.sim.Account(ctx)
	if err != nil {
		return "", err
	}
	coin := ""
	codes := make([]string, 0, len(acct.Balances))
	for code := range acct.Balances {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	for _, code := range codes {
		if acct.Balances[code].Free.Cmp(decimal.Zero) > 0 {
			coin = code
			break
		}
	}
	if coin == "" {
		return "", errors.New("no funded asset to withdraw")
	}
	amount := acct.Balances[coin].Free.Div(decimal.NewFromInt(10))
	id, err := c.sim.Withdraw(ctx, core.WithdrawOrder{Coin: coin, Address: "simcheck-address", Amount: amount})
	if err != nil {
		return "", err
	}
	history, err := c.sim.WithdrawHistory(ctx, core.HistoryRequest{Coin: coin})
	if err != nil {
		return "", err
	}
	recorded := false
	for _, w := range history {
		if w.ID == id {
			recorded = true
		}
	}
	if !recorded {
		return "", fmt.Errorf("withdrawal %s missing from history", id)
	}
	after, err := c.sim.Asset(ctx, coin)
	if err != nil {
		return "", err
	}
	want := acct.Balances[coin].Free.Sub(amount)
	if !after.Free.Equal(want) {
		return "", fmt.Errorf("%s free=%s, want %s", coin, after.Free, want)
	}
	return fmt.Sprintf("id=%s coin=%s amount=%s", id, coin, amount), nil
}

type streamCounts struct {
	mu         sync.Mutex
	opened     int
	accounts   int
	executions int
	closeCode  int
}

func (c *checker) stream(ctx context.Context) (string, error) {
	counts := &streamCounts{}
	ch := c.sim.Subscribe(userdata.Handler{
		Connected: func() {
			counts.mu.Lock()
			counts.opened++
			counts.mu.Unlock()
		},
		AccountUpdate: func(userdata.AccountUpdateEvent) {
			counts.mu.Lock()
			counts.accounts++
			counts.mu.Unlock()
		},
		ExecutionReport: func(userdata.OrderExecutionEvent) {
			counts.mu.Lock()
			counts.executions++
			counts.mu.Unlock()
		},
		Closed: func(code int, _ string) {
			counts.mu.Lock()
			counts.closeCode = code
			counts.mu.Unlock()
		},
	})
	acct, err := c.sim.Account(ctx)
	if err != nil {
		return "", err
	}
	if err := ch.PushAccountUpdate(acct); err != nil {
		return "", err
	}
	if err := c.sim.KeepAliveUserDataStream(ctx, ch.ListenKey()); err != nil {
		return "", err
	}
	if err := c.sim.CloseUserDataStream(ctx, ch.ListenKey()); err != nil {
		return "", err
	}
	if err := ch.PushAccountUpdate(acct); !errors.Is(err, core.ErrChannelClosed) {
		return "", fmt.Errorf("push after close error=%v, want %v", err, core.ErrChannelClosed)
	}

	counts.mu.Lock()
	defer counts.mu.Unlock()
	if counts.opened != 1 || counts.accounts != 1 || counts.closeCode != 1000 {
		return "", fmt.Errorf("opened=%d accounts=%d close=%d, want 1/1/1000", counts.opened, counts.accounts, counts.closeCode)
	}
	return fmt.Sprintf("listen_key=%s accounts=%d executions=%d", ch.ListenKey(), counts.accounts, counts.executions), nil
}
