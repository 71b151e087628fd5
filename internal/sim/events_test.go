package sim

import (
	"context"
	"errors"
	"sync"
	"testing"

	"spot-sim/internal/core"
	"spot-sim/internal/userdata"
)

type recordingListener struct {
	mu       sync.Mutex
	opened   int
	messages [][]byte
	closes   []int
	reasons  []string
}

func (l *recordingListener) OnOpen() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.opened++
}

func (l *recordingListener) OnMessage(payload []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, append([]byte(nil), payload...))
}

func (l *recordingListener) OnClose(code int, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closes = append(l.closes, code)
	l.reasons = append(l.reasons, reason)
}

func (l *recordingListener) decoded(t *testing.T) []userdata.Event {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]userdata.Event, 0, len(l.messages))
	for _, msg := range l.messages {
		ev, err := userdata.Decode(msg)
		if err != nil {
			t.Fatalf("Decode(%s) error = %v", msg, err)
		}
		out = append(out, ev)
	}
	return out
}

func TestSubscribeOpensSynchronously(t *testing.T) {
	sim := newTestSimulator(t, Options{})
	l := &recordingListener{}
	ch := sim.Subscribe(l)
	if l.opened != 1 {
		t.Fatalf("OnOpen calls = %d, want 1", l.opened)
	}
	if !ch.IsOpen() || ch.ListenKey() == "" {
		t.Fatalf("channel open=%v key=%q, want open with key", ch.IsOpen(), ch.ListenKey())
	}
	got, err := sim.Stream(ch.ListenKey())
	if err != nil || got != ch {
		t.Fatalf("Stream() = %p, %v, want %p", got, err, ch)
	}
}

func TestChannelPushesWireEvents(t *testing.T) {
	sim := newTestSimulator(t, Options{})
	ctx := context.Background()
	l := &recordingListener{}
	ch := sim.Subscribe(l)

	acct, err := sim.Account(ctx)
	if err != nil {
		t.Fatalf("Account() error = %v", err)
	}
	if err := ch.PushAccountUpdate(acct); err != nil {
		t.Fatalf("PushAccountUpdate() error = %v", err)
	}
	if err := ch.PushAssetUpdate(acct.Balances["ETH"]); err != nil {
		t.Fatalf("PushAssetUpdate() error = %v", err)
	}
	ref, err := sim.NewOrder(ctx, core.NewOrder{Symbol: "BNBBTC", Side: core.Buy, Type: core.Market, Quantity: dec("1")})
	if err != nil {
		t.Fatalf("NewOrder() error = %v", err)
	}
	order, _, _ := sim.GetOrderByRef(ctx, ref)
	trades, _ := sim.MyTrades(ctx, core.MyTradesRequest{OrderID: ref.OrderID})
	if err := ch.PushOrderUpdate(order, &trades[0]); err != nil {
		t.Fatalf("PushOrderUpdate() error = %v", err)
	}

	events := l.decoded(t)
	if len(events) != 3 {
		t.Fatalf("events = %d, want 3", len(events))
	}
	full, ok := events[0].(userdata.AccountUpdateEvent)
	if !ok || len(full.Balances) != 4 || full.MakerCommission != 10 || !full.CanTrade {
		t.Fatalf("account event = %+v, want 4 balances, m=10, T=true", events[0])
	}
	single, ok := events[1].(userdata.AccountUpdateEvent)
	if !ok || len(single.Balances) != 1 || single.Balances[0].Asset != "ETH" || !single.Balances[0].Free.Equal(dec("3")) {
		t.Fatalf("asset event = %+v, want single ETH balance of 3", events[1])
	}
	report, ok := events[2].(userdata.OrderExecutionEvent)
	if !ok {
		t.Fatalf("event type = %T, want OrderExecutionEvent", events[2])
	}
	if report.OrderID != ref.OrderID || report.ExecutionType != "FILLED" || report.OrderStatus != "FILLED" {
		t.Fatalf("report i/x/X = %d/%s/%s, want %d/FILLED/FILLED", report.OrderID, report.ExecutionType, report.OrderStatus, ref.OrderID)
	}
	if report.TradeID != trades[0].ID || !report.LastQty.Equal(dec("1")) || report.CommissionAsset != "BNB" {
		t.Fatalf("report t/l/N = %d/%s/%s, want %d/1/BNB", report.TradeID, report.LastQty, report.CommissionAsset, trades[0].ID)
	}
}

func TestChannelCloseIsFinal(t *testing.T) {
	sim := newTestSimulator(t, Options{})
	l := &recordingListener{}
	ch := sim.Subscribe(l)

	ch.Close(1000, "bye")
	ch.Close(1001, "again")
	if ch.IsOpen() {
		t.Fatalf("IsOpen() = true after Close")
	}
	if len(l.closes) != 1 || l.closes[0] != 1000 || l.reasons[0] != "bye" {
		t.Fatalf("OnClose calls = %v %v, want one (1000, bye)", l.closes, l.reasons)
	}
	if err := ch.PushAssetUpdate(core.Asset{Asset: "ETH"}); !errors.Is(err, core.ErrChannelClosed) {
		t.Fatalf("PushAssetUpdate() error = %v, want %v", err, core.ErrChannelClosed)
	}
	if len(l.messages) != 0 {
		t.Fatalf("messages after close = %d, want 0", len(l.messages))
	}
	if _, err := sim.Stream(ch.ListenKey()); !errors.Is(err, core.ErrInvalidListenKey) {
		t.Fatalf("Stream() error = %v, want %v", err, core.ErrInvalidListenKey)
	}
}

func TestListenKeyManagement(t *testing.T) {
	sim := newTestSimulator(t, Options{})
	ctx := context.Background()
	l := &recordingListener{}
	ch := sim.Subscribe(l)

	if err := sim.KeepAliveUserDataStream(ctx, ch.ListenKey()); err != nil {
		t.Fatalf("KeepAliveUserDataStream() error = %v", err)
	}
	if err := sim.KeepAliveUserDataStream(ctx, "missing"); !errors.Is(err, core.ErrInvalidListenKey) {
		t.Fatalf("KeepAliveUserDataStream(missing) error = %v, want %v", err, core.ErrInvalidListenKey)
	}
	if err := sim.CloseUserDataStream(ctx, ch.ListenKey()); err != nil {
		t.Fatalf("CloseUserDataStream() error = %v", err)
	}
	if ch.IsOpen() || len(l.closes) != 1 {
		t.Fatalf("channel open=%v closes=%d, want closed once", ch.IsOpen(), len(l.closes))
	}
	if err := sim.CloseUserDataStream(ctx, ch.ListenKey()); !errors.Is(err, core.ErrInvalidListenKey) {
		t.Fatalf("second CloseUserDataStream() error = %v, want %v", err, core.ErrInvalidListenKey)
	}
}

func TestPublishBroadcastsOrderFlow(t *testing.T) {
	sim := newTestSimulator(t, Options{Publish: true})
	ctx := context.Background()
	var (
		reports  []userdata.OrderExecutionEvent
		accounts int
	)
	sim.Subscribe(userdata.Handler{
		AccountUpdate:   func(userdata.AccountUpdateEvent) { accounts++ },
		ExecutionReport: func(ev userdata.OrderExecutionEvent) { reports = append(reports, ev) },
	})

	if _, err := sim.NewOrder(ctx, core.NewOrder{Symbol: "BNBBTC", Side: core.Buy, Type: core.Market, Quantity: dec("1")}); err != nil {
		t.Fatalf("NewOrder() error = %v", err)
	}
	ref, err := sim.NewOrder(ctx, limitSell("1", "0.003"))
	if err != nil {
		t.Fatalf("NewOrder() error = %v", err)
	}
	if _, err := sim.CancelOrder(ctx, core.CancelOrderRequest{Symbol: "BNBBTC", OrderID: ref.OrderID}); err != nil {
		t.Fatalf("CancelOrder() error = %v", err)
	}
	if _, err := sim.NewOrderTest(ctx, limitSell("1", "0.003")); err != nil {
		t.Fatalf("NewOrderTest() error = %v", err)
	}

	if len(reports) != 3 {
		t.Fatalf("execution reports = %d, want 3", len(reports))
	}
	want := []string{"FILLED", "NEW", "CANCELED"}
	for i, status := range want {
		if reports[i].OrderStatus != status {
			t.Fatalf("report %d status = %s, want %s", i, reports[i].OrderStatus, status)
		}
	}
	if reports[0].TradeID <= 0 || reports[1].TradeID != -1 {
		t.Fatalf("trade ids = %d/%d, want >0/-1", reports[0].TradeID, reports[1].TradeID)
	}
	if accounts != 1 {
		t.Fatalf("account updates = %d, want 1", accounts)
	}
}
