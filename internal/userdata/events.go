package userdata

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"spot-sim/internal/core"
)

const (
	EventAccountUpdate   = "outboundAccountInfo"
	EventAccountPosition = "outboundAccountPosition"
	EventExecutionReport = "executionReport"
)

var ErrUnknownEvent = errors.New("unknown user data event")

var commissionScale = decimal.NewFromInt(10000)

// Event is one user data stream payload.
type Event interface {
	EventName() string
}

type BalanceEntry struct {
	Asset  string          `json:"a"`
	Free   decimal.Decimal `json:"f"`
	Locked decimal.Decimal `json:"l"`
}

// AccountUpdateEvent reports commissions as integer counters (rate * 10000),
// the way the stream has always sent them.
type AccountUpdateEvent struct {
	EventType        string         `json:"e"`
	EventTime        int64          `json:"E"`
	MakerCommission  int64          `json:"m"`
	TakerCommission  int64          `json:"t"`
	BuyerCommission  int64          `json:"b"`
	SellerCommission int64          `json:"s"`
	CanTrade         bool           `json:"T"`
	CanWithdraw      bool           `json:"W"`
	CanDeposit       bool           `json:"D"`
	LastUpdateTime   int64          `json:"u"`
	Balances         []BalanceEntry `json:"B"`
}

func (AccountUpdateEvent) EventName() string { return EventAccountUpdate }

// OrderExecutionEvent mirrors the executionReport payload. Every single-letter
// key the stream sends is declared, including ones this package ignores, so
// that encoding/json never folds an upper-case key onto its lower-case twin.
type OrderExecutionEvent struct {
	EventType         string          `json:"e"`
	EventTime         int64           `json:"E"`
	Symbol            string          `json:"s"`
	ClientOrderID     string          `json:"c"`
	Side              string          `json:"S"`
	OrderType         string          `json:"o"`
	TimeInForce       string          `json:"f"`
	Quantity          decimal.Decimal `json:"q"`
	Price             decimal.Decimal `json:"p"`
	StopPrice         decimal.Decimal `json:"P"`
	IcebergQty        decimal.Decimal `json:"F"`
	OrderListID       int64           `json:"g"`
	OrigClientOrderID string          `json:"C"`
	ExecutionType     string          `json:"x"`
	OrderStatus       string          `json:"X"`
	RejectReason      string          `json:"r"`
	OrderID           int64           `json:"i"`
	LastQty           decimal.Decimal `json:"l"`
	CumulativeQty     decimal.Decimal `json:"z"`
	LastPrice         decimal.Decimal `json:"L"`
	Commission        decimal.Decimal `json:"n"`
	CommissionAsset   string          `json:"N"`
	TradeTime         int64           `json:"T"`
	TradeID           int64           `json:"t"`
	Ignore            int64           `json:"I"`
	IsWorking         bool            `json:"w"`
	IsMaker           bool            `json:"m"`
	IgnoreFlag        bool            `json:"M"`
	CreationTime      int64           `json:"O"`
	CumulativeQuote   decimal.Decimal `json:"Z"`
	LastQuote         decimal.Decimal `json:"Y"`
	QuoteOrderQty     decimal.Decimal `json:"Q"`
	WorkingTime       int64           `json:"W"`
}

func (OrderExecutionEvent) EventName() string { return EventExecutionReport }

// NewAccountUpdate builds the account event; balances are sorted by asset so
// payloads are stable.
func NewAccountUpdate(acct core.Account, at time.Time) AccountUpdateEvent {
	ev := AccountUpdateEvent{
		EventType:        EventAccountUpdate,
		EventTime:        at.UnixMilli(),
		MakerCommission:  commissionCounter(acct.MakerCommission),
		TakerCommission:  commissionCounter(acct.TakerCommission),
		BuyerCommission:  commissionCounter(acct.BuyerCommission),
		SellerCommission: commissionCounter(acct.SellerCommission),
		CanTrade:         acct.CanTrade,
		CanWithdraw:      acct.CanWithdraw,
		CanDeposit:       acct.CanDeposit,
		LastUpdateTime:   at.UnixMilli(),
		Balances:         make([]BalanceEntry, 0, len(acct.Balances)),
	}
	if !acct.UpdateTime.IsZero() {
		ev.LastUpdateTime = acct.UpdateTime.UnixMilli()
	}
	for _, a := range acct.Balances {
		ev.Balances = append(ev.Balances, BalanceEntry{Asset: a.Asset, Free: a.Free, Locked: a.Locked})
	}
	sort.Slice(ev.Balances, func(i, j int) bool { return ev.Balances[i].Asset < ev.Balances[j].Asset })
	return ev
}

// NewAssetUpdate builds an account event carrying a single balance entry.
func NewAssetUpdate(asset core.Asset, at time.Time) AccountUpdateEvent {
	return AccountUpdateEvent{
		EventType:      EventAccountUpdate,
		EventTime:      at.UnixMilli(),
		LastUpdateTime: at.UnixMilli(),
		Balances:       []BalanceEntry{{Asset: asset.Asset, Free: asset.Free, Locked: asset.Locked}},
	}
}

// NewExecutionReport builds the execution report for an order and, when the
// update came from a fill, the trade that produced it.
func NewExecutionReport(order core.Order, trade *core.Trade, at time.Time) OrderExecutionEvent {
	reason := order.RejectReason
	if reason == "" {
		reason = "NONE"
	}
	ev := OrderExecutionEvent{
		EventType:       EventExecutionReport,
		EventTime:       at.UnixMilli(),
		Symbol:          order.Symbol,
		ClientOrderID:   order.ClientOrderID,
		Side:            string(order.Side),
		OrderType:       string(order.Type),
		TimeInForce:     string(order.TimeInForce),
		Quantity:        order.OrigQty,
		Price:           order.Price,
		StopPrice:       order.StopPrice,
		IcebergQty:      order.IcebergQty,
		OrderListID:     -1,
		ExecutionType:   string(order.Status),
		OrderStatus:     string(order.Status),
		RejectReason:    reason,
		OrderID:         order.OrderID,
		CumulativeQty:   order.ExecutedQty,
		CumulativeQuote: order.CumulativeQuoteQty,
		TradeID:         -1,
		IsWorking:       order.Status == core.OrderNew,
		CreationTime:    order.Time.UnixMilli(),
		TradeTime:       order.UpdateTime.UnixMilli(),
	}
	if trade != nil {
		ev.LastQty = trade.Qty
		ev.LastPrice = trade.Price
		ev.LastQuote = trade.QuoteQty
		ev.Commission = trade.Commission
		ev.CommissionAsset = trade.CommissionAsset
		ev.TradeTime = trade.Time.UnixMilli()
		ev.TradeID = trade.ID
		ev.IsMaker = trade.IsMaker
	}
	return ev
}

func commissionCounter(rate decimal.Decimal) int64 {
	return rate.Mul(commissionScale).Round(0).IntPart()
}

// Encode is the single serializer for user data payloads.
func Encode(ev Event) ([]byte, error) {
	if ev == nil {
		return nil, errors.New("nil event")
	}
	return json.Marshal(ev)
}

type envelope struct {
	EventType      string          `json:"e"`
	EventTime      int64           `json:"E"`
	SubscriptionID *int64          `json:"subscriptionId"`
	Event          json.RawMessage `json:"event"`
}

// Decode parses a payload produced by Encode or received from the live
// stream. WS API frames that wrap the event in {"event": ...} are unwrapped.
func Decode(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	if len(env.Event) > 0 && env.EventType == "" {
		return Decode(env.Event)
	}
	switch env.EventType {
	case EventAccountUpdate, EventAccountPosition:
		var ev AccountUpdateEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case EventExecutionReport:
		var ev OrderExecutionEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.EventType)
	}
}
