package userdata

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"spot-sim/internal/core"
)

func TestNewAccountUpdateUsesCommissionCounters(t *testing.T) {
	acct := core.Account{
		MakerCommission:  decimal.RequireFromString("0.001"),
		TakerCommission:  decimal.RequireFromString("0.001"),
		BuyerCommission:  decimal.Zero,
		SellerCommission: decimal.Zero,
		CanTrade:         true,
		CanWithdraw:      true,
		CanDeposit:       false,
		Balances: map[string]core.Asset{
			"BTC": {Asset: "BTC", Free: decimal.RequireFromString("1.5"), Locked: decimal.Zero},
			"BNB": {Asset: "BNB", Free: decimal.RequireFromString("10"), Locked: decimal.RequireFromString("2")},
		},
	}
	payload, err := Encode(NewAccountUpdate(acct, time.UnixMilli(1700000000000)))
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if string(raw["e"]) != `"outboundAccountInfo"` {
		t.Fatalf("e = %s, want outboundAccountInfo", raw["e"])
	}
	if string(raw["m"]) != "10" || string(raw["t"]) != "10" {
		t.Fatalf("m/t = %s/%s, want 10/10", raw["m"], raw["t"])
	}
	if string(raw["T"]) != "true" || string(raw["W"]) != "true" || string(raw["D"]) != "false" {
		t.Fatalf("T/W/D = %s/%s/%s, want true/true/false", raw["T"], raw["W"], raw["D"])
	}

	var balances []map[string]string
	if err := json.Unmarshal(raw["B"], &balances); err != nil {
		t.Fatalf("json.Unmarshal(B) error = %v", err)
	}
	if len(balances) != 2 || balances[0]["a"] != "BNB" || balances[0]["f"] != "10" || balances[0]["l"] != "2" {
		t.Fatalf("balances = %v, want BNB first with f=10 l=2", balances)
	}
}

func TestExecutionReportStatusFillsBothFields(t *testing.T) {
	created := time.UnixMilli(1700000000000)
	order := core.Order{
		OrderID:       42,
		ClientOrderID: "cid-42",
		Symbol:        "BNBBTC",
		Side:          core.Buy,
		Type:          core.Market,
		OrigQty:       decimal.RequireFromString("1"),
		ExecutedQty:   decimal.RequireFromString("1"),
		Status:        core.OrderFilled,
		Time:          created,
		UpdateTime:    created,
	}
	trade := core.Trade{
		ID:              7,
		OrderID:         42,
		Symbol:          "BNBBTC",
		Price:           decimal.RequireFromString("0.002"),
		Qty:             decimal.RequireFromString("1"),
		Commission:      decimal.RequireFromString("0.001"),
		CommissionAsset: "BNB",
		Time:            created.Add(time.Second),
	}

	payload, err := Encode(NewExecutionReport(order, &trade, created))
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	ev, err := Decode(payload)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	report, ok := ev.(OrderExecutionEvent)
	if !ok {
		t.Fatalf("Decode() type = %T, want OrderExecutionEvent", ev)
	}
	if report.ExecutionType != "FILLED" || report.OrderStatus != "FILLED" {
		t.Fatalf("x/X = %s/%s, want FILLED/FILLED", report.ExecutionType, report.OrderStatus)
	}
	if report.TradeID != 7 || report.OrderID != 42 {
		t.Fatalf("t/i = %d/%d, want 7/42", report.TradeID, report.OrderID)
	}
	if !report.LastPrice.Equal(trade.Price) || !report.CumulativeQty.Equal(order.ExecutedQty) {
		t.Fatalf("L/z = %s/%s, want %s/%s", report.LastPrice, report.CumulativeQty, trade.Price, order.ExecutedQty)
	}
	if report.TradeTime != trade.Time.UnixMilli() {
		t.Fatalf("T = %d, want %d", report.TradeTime, trade.Time.UnixMilli())
	}
	if report.RejectReason != "NONE" {
		t.Fatalf("r = %q, want NONE", report.RejectReason)
	}
}

func TestExecutionReportWithoutTrade(t *testing.T) {
	order := core.Order{OrderID: 3, Symbol: "BNBBTC", Status: core.OrderCanceled}
	ev := NewExecutionReport(order, nil, time.Now())
	if ev.TradeID != -1 {
		t.Fatalf("TradeID = %d, want -1", ev.TradeID)
	}
	if !ev.LastQty.IsZero() {
		t.Fatalf("LastQty = %s, want 0", ev.LastQty)
	}
}

func TestDecodeUnwrapsWSAPIEnvelope(t *testing.T) {
	inner, err := Encode(NewAssetUpdate(core.Asset{Asset: "ETH", Free: decimal.NewFromInt(3)}, time.Now()))
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	frame := []byte(`{"subscriptionId":0,"event":` + string(inner) + `}`)
	ev, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	upd, ok := ev.(AccountUpdateEvent)
	if !ok {
		t.Fatalf("Decode() type = %T, want AccountUpdateEvent", ev)
	}
	if len(upd.Balances) != 1 || upd.Balances[0].Asset != "ETH" {
		t.Fatalf("balances = %+v, want one ETH entry", upd.Balances)
	}
}

func TestDecodeUnknownEvent(t *testing.T) {
	_, err := Decode([]byte(`{"e":"listStatus","E":1}`))
	if !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("Decode() error = %v, want %v", err, ErrUnknownEvent)
	}
}

func TestHandlerDispatchesByEventType(t *testing.T) {
	var (
		accounts int
		reports  int
		errs     int
	)
	h := Handler{
		AccountUpdate:   func(AccountUpdateEvent) { accounts++ },
		ExecutionReport: func(OrderExecutionEvent) { reports++ },
		Error:           func(error) { errs++ },
	}
	acct, _ := Encode(NewAccountUpdate(core.Account{}, time.Now()))
	report, _ := Encode(NewExecutionReport(core.Order{Status: core.OrderNew}, nil, time.Now()))
	h.OnMessage(acct)
	h.OnMessage(report)
	h.OnMessage([]byte("not json"))
	if accounts != 1 || reports != 1 || errs != 1 {
		t.Fatalf("accounts/reports/errs = %d/%d/%d, want 1/1/1", accounts, reports, errs)
	}
}
