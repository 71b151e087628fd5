package sim

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"spot-sim/internal/core"
	"spot-sim/internal/exchange"
)

// DefaultCommissionRate is the fee charged on every simulated fill (0.1%).
var DefaultCommissionRate = decimal.RequireFromString("0.001")

type LedgerOptions struct {
	CommissionRate decimal.Decimal
	Now            func() time.Time
}

// Ledger owns the balances of the single simulated account. It is the only
// component allowed to mutate them.
type Ledger struct {
	source         exchange.MarketDataSource
	commissionRate decimal.Decimal
	now            func() time.Time
	tradeSeq       atomic.Int64

	mu      sync.Mutex
	loaded  bool
	account core.Account
	symbols map[string]core.SymbolInfo
	prices  map[string]decimal.Decimal
}

func NewLedger(source exchange.MarketDataSource, opts LedgerOptions) *Ledger {
	rate := opts.CommissionRate
	if rate.Cmp(decimal.Zero) <= 0 {
		rate = DefaultCommissionRate
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Ledger{
		source:         source,
		commissionRate: rate,
		now:            now,
	}
}

// Account returns a copy of the current account, reading the market data
// source on first use.
func (l *Ledger) Account(ctx context.Context) (core.Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.ensureLoadedLocked(ctx); err != nil {
		return core.Account{}, err
	}
	return l.account.Clone(), nil
}

// Asset returns one balance of the account.
func (l *Ledger) Asset(ctx context.Context, code string) (core.Asset, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.ensureLoadedLocked(ctx); err != nil {
		return core.Asset{}, err
	}
	asset, ok := l.account.Balances[code]
	if !ok {
		return core.Asset{}, fmt.Errorf("%w: %s", core.ErrUnknownAsset, code)
	}
	return asset, nil
}

// Invalidate drops the memoized snapshot; the next read goes back to the source.
func (l *Ledger) Invalidate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loaded = false
	l.account = core.Account{}
	l.symbols = nil
	l.prices = nil
}

func (l *Ledger) ExchangeInfo(ctx context.Context) (map[string]core.SymbolInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.ensureLoadedLocked(ctx); err != nil {
		return nil, err
	}
	out := make(map[string]core.SymbolInfo, len(l.symbols))
	for k, v := range l.symbols {
		out[k] = v
	}
	return out, nil
}

func (l *Ledger) Symbol(ctx context.Context, symbol string) (core.SymbolInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.ensureLoadedLocked(ctx); err != nil {
		return core.SymbolInfo{}, err
	}
	return l.symbolLocked(symbol)
}

// Price returns the mark price used to value market orders without a price.
func (l *Ledger) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.ensureLoadedLocked(ctx); err != nil {
		return decimal.Zero, err
	}
	price, ok := l.prices[symbol]
	if !ok || price.Cmp(decimal.Zero) <= 0 {
		return decimal.Zero, fmt.Errorf("%w: %s", core.ErrNoMarketPrice, symbol)
	}
	return price, nil
}

// SetPrice moves the mark price of a symbol.
func (l *Ledger) SetPrice(ctx context.Context, symbol string, price decimal.Decimal) error {
	if price.Cmp(decimal.Zero) <= 0 {
		return fmt.Errorf("price must be > 0")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.ensureLoadedLocked(ctx); err != nil {
		return err
	}
	if _, err := l.symbolLocked(symbol); err != nil {
		return err
	}
	l.prices[symbol] = price
	return nil
}

// SettleTrade fills order in full against the account and returns the
// resulting trade. The trade is not stored; the caller appends it to history.
//
// BUY debits quote by qty*price and credits base by qty less commission.
// SELL debits base by qty and credits quote by qty*price less commission.
// Either both legs apply or neither does.
func (l *Ledger) SettleTrade(ctx context.Context, order *core.Order) (core.Trade, error) {
	if order == nil {
		return core.Trade{}, core.ErrInvalidOrder
	}
	if order.OrigQty.Cmp(decimal.Zero) <= 0 {
		return core.Trade{}, fmt.Errorf("%w: quantity must be > 0", core.ErrInvalidOrder)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.ensureLoadedLocked(ctx); err != nil {
		return core.Trade{}, err
	}
	info, err := l.symbolLocked(order.Symbol)
	if err != nil {
		return core.Trade{}, err
	}
	base, ok := l.account.Balances[info.BaseAsset]
	if !ok {
		return core.Trade{}, fmt.Errorf("%w: %s", core.ErrUnknownAsset, info.BaseAsset)
	}
	quote, ok := l.account.Balances[info.QuoteAsset]
	if !ok {
		return core.Trade{}, fmt.Errorf("%w: %s", core.ErrUnknownAsset, info.QuoteAsset)
	}

	price := order.Price
	if price.Cmp(decimal.Zero) <= 0 {
		price = l.prices[order.Symbol]
	}
	if price.Cmp(decimal.Zero) <= 0 {
		return core.Trade{}, fmt.Errorf("%w: %s", core.ErrNoMarketPrice, order.Symbol)
	}

	qty := order.OrigQty
	notional := qty.Mul(price)
	var (
		commission      decimal.Decimal
		commissionAsset string
	)
	switch order.Side {
	case core.Buy:
		if quote.Free.Cmp(notional) < 0 {
			return core.Trade{}, fmt.Errorf("%w: %s free=%s need=%s", core.ErrInsufficientBalance, quote.Asset, quote.Free, notional)
		}
		commission = qty.Mul(l.commissionRate)
		commissionAsset = base.Asset
		quote.Free = quote.Free.Sub(notional)
		base.Free = base.Free.Add(qty.Sub(commission))
	case core.Sell:
		if base.Free.Cmp(qty) < 0 {
			return core.Trade{}, fmt.Errorf("%w: %s free=%s need=%s", core.ErrInsufficientBalance, base.Asset, base.Free, qty)
		}
		commission = notional.Mul(l.commissionRate)
		commissionAsset = quote.Asset
		base.Free = base.Free.Sub(qty)
		quote.Free = quote.Free.Add(notional.Sub(commission))
	default:
		return core.Trade{}, fmt.Errorf("%w: side %q", core.ErrInvalidOrder, order.Side)
	}

	now := l.now()
	l.account.Balances[base.Asset] = base
	l.account.Balances[quote.Asset] = quote
	l.account.UpdateTime = now

	order.ExecutedQty = qty
	order.CumulativeQuoteQty = notional
	order.Status = core.OrderFilled
	order.UpdateTime = now

	return core.Trade{
		ID:              l.tradeSeq.Add(1),
		OrderID:         order.OrderID,
		Symbol:          order.Symbol,
		Price:           price,
		Qty:             qty,
		QuoteQty:        notional,
		Commission:      commission,
		CommissionAsset: commissionAsset,
		Time:            now,
		IsBuyer:         order.Side == core.Buy,
		IsMaker:         false,
		IsBestMatch:     true,
	}, nil
}

// SettleWithdrawal debits the withdrawn amount. Fees are recorded on the
// transaction only and never touch the balance.
func (l *Ledger) SettleWithdrawal(ctx context.Context, req core.WithdrawOrder) error {
	if req.Amount.Cmp(decimal.Zero) <= 0 {
		return fmt.Errorf("withdraw amount must be > 0")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.ensureLoadedLocked(ctx); err != nil {
		return err
	}
	asset, ok := l.account.Balances[req.Coin]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrUnknownAsset, req.Coin)
	}
	if asset.Free.Cmp(req.Amount) < 0 {
		return fmt.Errorf("%w: %s free=%s need=%s", core.ErrInsufficientBalance, asset.Asset, asset.Free, req.Amount)
	}
	asset.Free = asset.Free.Sub(req.Amount)
	l.account.Balances[asset.Asset] = asset
	l.account.UpdateTime = l.now()
	return nil
}

// CreditFiatPayment credits the obtained crypto amount of a fiat payment.
func (l *Ledger) CreditFiatPayment(ctx context.Context, payment core.FiatPayment) error {
	return l.credit(ctx, payment.CryptoCurrency, payment.ObtainAmount)
}

func (l *Ledger) CreditDeposit(ctx context.Context, deposit core.Deposit) error {
	return l.credit(ctx, deposit.Coin, deposit.Amount)
}

func (l *Ledger) credit(ctx context.Context, code string, amount decimal.Decimal) error {
	if amount.Cmp(decimal.Zero) < 0 {
		return fmt.Errorf("credit amount must be >= 0")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.ensureLoadedLocked(ctx); err != nil {
		return err
	}
	asset, ok := l.account.Balances[code]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrUnknownAsset, code)
	}
	asset.Free = asset.Free.Add(amount)
	l.account.Balances[code] = asset
	l.account.UpdateTime = l.now()
	return nil
}

func (l *Ledger) restore(ctx context.Context, acct core.Account, lastTradeID int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.ensureLoadedLocked(ctx); err != nil {
		return err
	}
	l.account = acct.Clone()
	// Ids already handed out stay taken.
	if lastTradeID > l.tradeSeq.Load() {
		l.tradeSeq.Store(lastTradeID)
	}
	return nil
}

func (l *Ledger) lastTradeID() int64 {
	return l.tradeSeq.Load()
}

func (l *Ledger) symbolLocked(symbol string) (core.SymbolInfo, error) {
	info, ok := l.symbols[symbol]
	if !ok {
		return core.SymbolInfo{}, fmt.Errorf("%w: %s", core.ErrUnknownSymbol, symbol)
	}
	return info, nil
}

func (l *Ledger) ensureLoadedLocked(ctx context.Context) error {
	if l.loaded {
		return nil
	}
	if l.source == nil {
		return fmt.Errorf("market data source required")
	}
	snap, err := l.source.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("load market snapshot: %w", err)
	}
	l.account = snap.Account.Clone()
	if l.account.UpdateTime.IsZero() {
		l.account.UpdateTime = l.now()
	}
	for code, asset := range l.account.Balances {
		if asset.Asset == "" {
			asset.Asset = code
			l.account.Balances[code] = asset
		}
		if asset.Free.Cmp(decimal.Zero) < 0 || asset.Locked.Cmp(decimal.Zero) < 0 {
			return fmt.Errorf("snapshot balance for %s is negative", code)
		}
	}
	l.symbols = make(map[string]core.SymbolInfo, len(snap.Symbols))
	for k, v := range snap.Symbols {
		l.symbols[k] = v
	}
	l.prices = make(map[string]decimal.Decimal, len(snap.Prices))
	for k, v := range snap.Prices {
		l.prices[k] = v
	}
	l.loaded = true
	log.Printf(
		"level=INFO event=sim_snapshot_loaded assets=%d symbols=%d prices=%d",
		len(l.account.Balances),
		len(l.symbols),
		len(l.prices),
	)
	return nil
}
