package binance

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"spot-sim/internal/config"
	"spot-sim/internal/core"
	"spot-sim/internal/exchange"
	"spot-sim/internal/userdata"
)

var _ exchange.MarketDataSource = (*Client)(nil)

func TestParseAPIError(t *testing.T) {
	err := parseAPIError(http.StatusBadRequest, []byte(`{"code":-2010,"msg":"Duplicate order sent."}`))
	apiErr, ok := AsAPIError(err)
	if !ok {
		t.Fatalf("parseAPIError() type = %T, want APIError in chain", err)
	}
	if apiErr.Code != -2010 || apiErr.Msg != "Duplicate order sent." {
		t.Fatalf("apiErr = %+v, want -2010 duplicate", apiErr)
	}
	if !errors.Is(err, core.ErrDuplicateOrder) {
		t.Fatalf("parseAPIError() = %v, want ErrDuplicateOrder", err)
	}

	err = parseAPIError(http.StatusBadGateway, []byte("bad gateway"))
	if _, ok := AsAPIError(err); ok {
		t.Fatalf("parseAPIError(non-json) unexpectedly returned APIError: %v", err)
	}
	if !strings.Contains(err.Error(), "http error 502") {
		t.Fatalf("parseAPIError(non-json) = %v, want http error", err)
	}
}

func TestClassifyAPIError(t *testing.T) {
	tests := []struct {
		name string
		code int
		msg  string
		want error
	}{
		{name: "listen key", code: -1125, msg: "This listenKey does not exist.", want: core.ErrInvalidListenKey},
		{name: "unknown symbol", code: -1121, msg: "Invalid symbol.", want: core.ErrUnknownSymbol},
		{name: "order not found", code: -2013, msg: "Order does not exist.", want: core.ErrOrderNotFound},
		{name: "insufficient", code: -2010, msg: "Account has insufficient balance for requested action.", want: core.ErrInsufficientBalance},
		{name: "generic reject", code: -2010, msg: "Market is closed.", want: core.ErrOrderRejected},
		{name: "cancel rejected", code: -2011, msg: "Unknown order sent.", want: core.ErrOrderNotFound},
		{name: "listen key by message", code: -1000, msg: "This listenKey does not exist.", want: core.ErrInvalidListenKey},
		{name: "symbol by message", code: -1100, msg: " Invalid symbol. ", want: core.ErrUnknownSymbol},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := wrapAPIError(tc.code, tc.msg)
			if !errors.Is(err, tc.want) {
				t.Fatalf("wrapAPIError(%d) = %v, want %v", tc.code, err, tc.want)
			}
		})
	}
	if err := wrapAPIError(-2010, "Duplicate order sent."); !errors.Is(err, core.ErrDuplicateOrder) || errors.Is(err, core.ErrOrderRejected) {
		t.Fatalf("wrapAPIError(-2010 duplicate) = %v, want only %v", err, core.ErrDuplicateOrder)
	}
	if err := wrapAPIError(-1000, "unknown"); !errors.As(err, new(APIError)) {
		t.Fatalf("wrapAPIError(-1000) = %T, want plain APIError", err)
	}
}

func TestParseSymbolInfo(t *testing.T) {
	info := parseSymbolInfo(symbolInfoResponse{
		Symbol:     "BTCUSDT",
		BaseAsset:  "BTC",
		QuoteAsset: "USDT",
		Filters: []symbolFilter{
			{FilterType: "LOT_SIZE", MinQty: "0.0001", StepSize: "0.0001"},
			{FilterType: "PRICE_FILTER", TickSize: "0.01"},
			{FilterType: "MIN_NOTIONAL", MinNotional: "5"},
			{FilterType: "NOTIONAL", MinNotional: "10"},
		},
	})
	if info.BaseAsset != "BTC" || info.QuoteAsset != "USDT" {
		t.Fatalf("assets = %s/%s, want BTC/USDT", info.BaseAsset, info.QuoteAsset)
	}
	if !info.Rules.MinQty.Equal(decimal.RequireFromString("0.0001")) {
		t.Fatalf("MinQty = %s, want 0.0001", info.Rules.MinQty)
	}
	if !info.Rules.PriceTick.Equal(decimal.RequireFromString("0.01")) {
		t.Fatalf("PriceTick = %s, want 0.01", info.Rules.PriceTick)
	}
	if !info.Rules.MinNotional.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("MinNotional = %s, want stricter 10", info.Rules.MinNotional)
	}
}

func TestClientSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/account":
			if r.Header.Get("X-MBX-APIKEY") != "k" {
				t.Errorf("X-MBX-APIKEY = %q, want k", r.Header.Get("X-MBX-APIKEY"))
			}
			q := r.URL.Query()
			if q.Get("signature") == "" || q.Get("timestamp") == "" || q.Get("recvWindow") != "5000" {
				t.Errorf("signed query = %v, want timestamp, recvWindow and signature", q)
			}
			_, _ = w.Write([]byte(`{
				"makerCommission": 10, "takerCommission": 10, "buyerCommission": 0, "sellerCommission": 0,
				"commissionRates": {"maker": "0.00075000", "taker": "0.00100000", "buyer": "0", "seller": "0"},
				"canTrade": true, "canWithdraw": true, "canDeposit": false, "accountType": "SPOT",
				"updateTime": 1700000000000,
				"balances": [{"asset": "BTC", "free": "0.5", "locked": "0.1"}, {"asset": "USDT", "free": "1000", "locked": "0"}]
			}`))
		case "/api/v3/exchangeInfo":
			if got := r.URL.Query().Get("symbols"); got != `["BTCUSDT"]` {
				t.Errorf("symbols = %q, want [\"BTCUSDT\"]", got)
			}
			_, _ = w.Write([]byte(`{"symbols": [{"symbol": "BTCUSDT", "baseAsset": "BTC", "quoteAsset": "USDT",
				"filters": [{"filterType": "LOT_SIZE", "minQty": "0.00001", "stepSize": "0.00001"}]}]}`))
		case "/api/v3/ticker/price":
			_, _ = w.Write([]byte(`[{"symbol": "BTCUSDT", "price": "42000.10"}, {"symbol": "ETHUSDT", "price": "2000"}]`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClientWithOptions(Options{
		APIKey:       "k",
		APISecret:    "s",
		RestBaseURL:  srv.URL,
		Symbols:      []string{" btcusdt "},
		RecvWindowMs: 5000,
	})
	takenAt := time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)
	c.now = func() time.Time { return takenAt }

	snap, err := c.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if !snap.TakenAt.Equal(takenAt) {
		t.Fatalf("TakenAt = %v, want %v", snap.TakenAt, takenAt)
	}
	if !snap.Account.MakerCommission.Equal(decimal.RequireFromString("0.00075")) {
		t.Fatalf("maker commission = %s, want 0.00075", snap.Account.MakerCommission)
	}
	if snap.Account.CanDeposit || !snap.Account.CanTrade {
		t.Fatalf("permissions = %+v, want trade without deposit", snap.Account)
	}
	btc := snap.Account.Balances["BTC"]
	if !btc.Free.Equal(decimal.RequireFromString("0.5")) || !btc.Locked.Equal(decimal.RequireFromString("0.1")) {
		t.Fatalf("BTC balance = %+v, want 0.5/0.1", btc)
	}
	if len(snap.Prices) != 1 || !snap.Prices["BTCUSDT"].Equal(decimal.RequireFromString("42000.1")) {
		t.Fatalf("prices = %v, want only BTCUSDT 42000.1", snap.Prices)
	}
	if !snap.Symbols["BTCUSDT"].Rules.MinQty.Equal(decimal.RequireFromString("0.00001")) {
		t.Fatalf("BTCUSDT rules = %+v", snap.Symbols["BTCUSDT"].Rules)
	}
}

func TestAccountLegacyCommissionCounters(t *testing.T) {
	acct := accountResponse{MakerCommission: 15, TakerCommission: 10}.toAccount()
	if !acct.MakerCommission.Equal(decimal.RequireFromString("0.0015")) {
		t.Fatalf("maker commission = %s, want 0.0015", acct.MakerCommission)
	}
	if !acct.TakerCommission.Equal(decimal.RequireFromString("0.001")) {
		t.Fatalf("taker commission = %s, want 0.001", acct.TakerCommission)
	}
}

func TestListenKeyLifecycle(t *testing.T) {
	var mu sync.Mutex
	seen := make([]string, 0, 3)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/userDataStream" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("X-MBX-APIKEY") != "k" {
			t.Errorf("X-MBX-APIKEY = %q, want k", r.Header.Get("X-MBX-APIKEY"))
		}
		mu.Lock()
		seen = append(seen, r.Method)
		mu.Unlock()
		switch r.Method {
		case http.MethodPost:
			_, _ = w.Write([]byte(`{"listenKey": "lk-1"}`))
		case http.MethodPut:
			_ = r.ParseForm()
			if r.Form.Get("listenKey") != "lk-1" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"code": -1125, "msg": "This listenKey does not exist."}`))
				return
			}
			_, _ = w.Write([]byte(`{}`))
		case http.MethodDelete:
			_, _ = w.Write([]byte(`{}`))
		}
	}))
	defer srv.Close()

	c := NewClientWithOptions(Options{APIKey: "k", APISecret: "s", RestBaseURL: srv.URL})
	ctx := context.Background()
	key, err := c.StartUserDataStream(ctx)
	if err != nil || key != "lk-1" {
		t.Fatalf("StartUserDataStream() = %q, %v, want lk-1", key, err)
	}
	if err := c.KeepAliveUserDataStream(ctx, key); err != nil {
		t.Fatalf("KeepAliveUserDataStream() error = %v", err)
	}
	if err := c.KeepAliveUserDataStream(ctx, "missing"); !errors.Is(err, core.ErrInvalidListenKey) {
		t.Fatalf("KeepAliveUserDataStream(missing) error = %v, want %v", err, core.ErrInvalidListenKey)
	}
	if err := c.CloseUserDataStream(ctx, key); err != nil {
		t.Fatalf("CloseUserDataStream() error = %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if strings.Join(seen, ",") != "POST,PUT,PUT,DELETE" {
		t.Fatalf("methods = %v, want POST,PUT,PUT,DELETE", seen)
	}
}

type streamRecorder struct {
	mu       sync.Mutex
	opened   int
	messages [][]byte
	code     int
	closed   chan struct{}
}

func (r *streamRecorder) OnOpen() {
	r.mu.Lock()
	r.opened++
	r.mu.Unlock()
}

func (r *streamRecorder) OnMessage(payload []byte) {
	r.mu.Lock()
	r.messages = append(r.messages, payload)
	r.mu.Unlock()
}

func (r *streamRecorder) OnClose(code int, reason string) {
	r.mu.Lock()
	r.code = code
	r.mu.Unlock()
	close(r.closed)
}

func TestUserStreamForwardsEvents(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Upgrade() error = %v", err)
			return
		}
		defer conn.Close()
		var req wsRequest
		if err := conn.ReadJSON(&req); err != nil {
			t.Errorf("ReadJSON() error = %v", err)
			return
		}
		if req.Method != "userDataStream.subscribe.signature" || req.Params == nil || req.Params.Signature == "" || req.Params.APIKey != "k" {
			t.Errorf("subscribe request = %+v", req)
		}
		_ = conn.WriteJSON(map[string]any{"id": req.ID, "status": 200, "result": map[string]any{"subscriptionId": 0}})
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"subscriptionId":0,"event":{"e":"executionReport","E":1700000000000,"s":"BTCUSDT","i":7,"X":"FILLED"}}`))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		time.Sleep(50 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClientWithOptions(Options{
		APIKey:    "k",
		APISecret: "s",
		WSBaseURL: "ws" + strings.TrimPrefix(srv.URL, "http"),
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := c.NewUserStream(ctx, 0)
	if err != nil {
		t.Fatalf("NewUserStream() error = %v", err)
	}
	rec := &streamRecorder{closed: make(chan struct{})}
	go stream.Forward(ctx, rec)

	select {
	case <-rec.closed:
	case <-ctx.Done():
		t.Fatalf("stream did not close")
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.opened != 1 || len(rec.messages) != 1 {
		t.Fatalf("opened/messages = %d/%d, want 1/1", rec.opened, len(rec.messages))
	}
	if rec.code != websocket.CloseNormalClosure {
		t.Fatalf("close code = %d, want %d", rec.code, websocket.CloseNormalClosure)
	}
	ev, err := userdata.Decode(rec.messages[0])
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	report, ok := ev.(userdata.OrderExecutionEvent)
	if !ok || report.Symbol != "BTCUSDT" {
		t.Fatalf("event = %#v, want BTCUSDT executionReport", ev)
	}
}

func TestNewClientRequiresKeys(t *testing.T) {
	if _, err := NewClient(config.ExchangeConfig{RestBaseURL: "https://testnet.binance.vision"}, nil); err == nil {
		t.Fatalf("NewClient() error = nil, want missing keys error")
	}
}

func TestSignMatchesDocumentedVector(t *testing.T) {
	secret := "NhqPtmdSJYdKjVHjA7PZj4Mge3R5YNiP1e3UZjInClVN65XAbvqqM6A7H5fATj0j"
	payload := "symbol=LTCBTC&side=BUY&type=LIMIT&timeInForce=GTC&quantity=1&price=0.1&recvWindow=5000&timestamp=1499827319559"
	want := "c8db56825ae71d6d79447849e617115f4a920fa2acdcab2b053c4b2838bd6b71"
	if got := sign(secret, payload); got != want {
		t.Fatalf("sign() = %q, want %q", got, want)
	}
}
