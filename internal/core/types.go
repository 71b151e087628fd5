package core

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side string

type OrderType string

type OrderStatus string

type TimeInForce string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

const (
	Market          OrderType = "MARKET"
	Limit           OrderType = "LIMIT"
	StopLoss        OrderType = "STOP_LOSS"
	StopLossLimit   OrderType = "STOP_LOSS_LIMIT"
	TakeProfit      OrderType = "TAKE_PROFIT"
	TakeProfitLimit OrderType = "TAKE_PROFIT_LIMIT"
	LimitMaker      OrderType = "LIMIT_MAKER"
)

const (
	GTC TimeInForce = "GTC"
	IOC TimeInForce = "IOC"
	FOK TimeInForce = "FOK"
)

const (
	OrderNew             OrderStatus = "NEW"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderFilled          OrderStatus = "FILLED"
	OrderCanceled        OrderStatus = "CANCELED"
	OrderRejected        OrderStatus = "REJECTED"
	OrderExpired         OrderStatus = "EXPIRED"
)

// Terminal reports whether no further transition is allowed out of s.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderFilled, OrderCanceled, OrderRejected, OrderExpired:
		return true
	default:
		return false
	}
}

type Asset struct {
	Asset  string          `json:"asset"`
	Free   decimal.Decimal `json:"free"`
	Locked decimal.Decimal `json:"locked"`
}

// Account holds commission rates as fractions (0.001 == 0.1%).
type Account struct {
	MakerCommission  decimal.Decimal  `json:"makerCommission"`
	TakerCommission  decimal.Decimal  `json:"takerCommission"`
	BuyerCommission  decimal.Decimal  `json:"buyerCommission"`
	SellerCommission decimal.Decimal  `json:"sellerCommission"`
	CanTrade         bool             `json:"canTrade"`
	CanWithdraw      bool             `json:"canWithdraw"`
	CanDeposit       bool             `json:"canDeposit"`
	AccountType      string           `json:"accountType"`
	Balances         map[string]Asset `json:"balances"`
	UpdateTime       time.Time        `json:"updateTime"`
}

// Clone returns a copy whose balance map is not shared with a.
func (a Account) Clone() Account {
	out := a
	out.Balances = make(map[string]Asset, len(a.Balances))
	for k, v := range a.Balances {
		out.Balances[k] = v
	}
	return out
}

type Order struct {
	OrderID            int64           `json:"orderId"`
	ClientOrderID      string          `json:"clientOrderId"`
	Symbol             string          `json:"symbol"`
	Side               Side            `json:"side"`
	Type               OrderType       `json:"type"`
	TimeInForce        TimeInForce     `json:"timeInForce,omitempty"`
	Price              decimal.Decimal `json:"price"`
	StopPrice          decimal.Decimal `json:"stopPrice"`
	IcebergQty         decimal.Decimal `json:"icebergQty"`
	OrigQty            decimal.Decimal `json:"origQty"`
	ExecutedQty        decimal.Decimal `json:"executedQty"`
	CumulativeQuoteQty decimal.Decimal `json:"cummulativeQuoteQty"`
	Status             OrderStatus     `json:"status"`
	RejectReason       string          `json:"rejectReason,omitempty"`
	Time               time.Time       `json:"time"`
	UpdateTime         time.Time       `json:"updateTime"`
	Test               bool            `json:"test,omitempty"`
}

type Trade struct {
	ID              int64           `json:"id"`
	OrderID         int64           `json:"orderId,omitempty"`
	Symbol          string          `json:"symbol"`
	Price           decimal.Decimal `json:"price"`
	Qty             decimal.Decimal `json:"qty"`
	QuoteQty        decimal.Decimal `json:"quoteQty"`
	Commission      decimal.Decimal `json:"commission"`
	CommissionAsset string          `json:"commissionAsset"`
	Time            time.Time       `json:"time"`
	IsBuyer         bool            `json:"isBuyer"`
	IsMaker         bool            `json:"isMaker"`
	IsBestMatch     bool            `json:"isBestMatch"`
}

// NewOrder carries the parameters of an order placement request.
type NewOrder struct {
	Symbol           string          `json:"symbol"`
	Side             Side            `json:"side"`
	Type             OrderType       `json:"type"`
	TimeInForce      TimeInForce     `json:"timeInForce,omitempty"`
	Quantity         decimal.Decimal `json:"quantity"`
	Price            decimal.Decimal `json:"price"`
	StopPrice        decimal.Decimal `json:"stopPrice"`
	IcebergQty       decimal.Decimal `json:"icebergQty"`
	NewClientOrderID string          `json:"newClientOrderId,omitempty"`
}

// OrderRef is what a placement returns: enough to query the order later.
type OrderRef struct {
	OrderID       int64     `json:"orderId"`
	ClientOrderID string    `json:"clientOrderId"`
	Symbol        string    `json:"symbol"`
	TransactTime  time.Time `json:"transactTime"`
	Placement     NewOrder  `json:"placement"`
	Test          bool      `json:"test,omitempty"`
}

type CancelOrderRequest struct {
	Symbol            string
	OrderID           int64
	OrigClientOrderID string
}

type OrderStatusRequest struct {
	Symbol            string
	OrderID           int64
	OrigClientOrderID string
}

type OpenOrdersRequest struct {
	Symbol string
}

// AllOrdersRequest selects orders with OrderID >= the given id when set.
type AllOrdersRequest struct {
	Symbol    string
	OrderID   int64
	StartTime time.Time
	EndTime   time.Time
	Limit     int
}

type MyTradesRequest struct {
	Symbol    string
	OrderID   int64
	FromID    int64
	StartTime time.Time
	EndTime   time.Time
	Limit     int
}

type TradesRequest struct {
	Symbol string
	Limit  int
}

type SymbolInfo struct {
	Symbol     string `json:"symbol"`
	BaseAsset  string `json:"baseAsset"`
	QuoteAsset string `json:"quoteAsset"`
	Rules      Rules  `json:"rules"`
}

type Rules struct {
	MinQty      decimal.Decimal `json:"minQty"`
	MinNotional decimal.Decimal `json:"minNotional"`
	PriceTick   decimal.Decimal `json:"priceTick"`
	QtyStep     decimal.Decimal `json:"qtyStep"`
}

// MarketSnapshot is the one-time read a simulation session is seeded from.
type MarketSnapshot struct {
	Account Account                    `json:"account"`
	Symbols map[string]SymbolInfo      `json:"symbols"`
	Prices  map[string]decimal.Decimal `json:"prices"`
	TakenAt time.Time                  `json:"takenAt"`
}
