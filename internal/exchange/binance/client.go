package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"spot-sim/internal/config"
	"spot-sim/internal/core"
)

type AuthType int

const (
	AuthNone AuthType = iota
	AuthAPIKey
	AuthSigned
)

// Client reads the account and market state a simulation is seeded from.
// It never places orders.
type Client struct {
	apiKey    string
	apiSecret string
	baseURL   string
	wsBaseURL string
	symbols   []string

	recvWindow time.Duration
	httpClient *http.Client
	now        func() time.Time
}

type Options struct {
	APIKey         string
	APISecret      string
	RestBaseURL    string
	WSBaseURL      string
	Symbols        []string
	RecvWindowMs   int64
	HTTPTimeoutSec int64
}

func NewClient(cfg config.ExchangeConfig, symbols []string) (*Client, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, errors.New("api_key/api_secret required")
	}
	return NewClientWithOptions(Options{
		APIKey:         cfg.APIKey,
		APISecret:      cfg.APISecret,
		RestBaseURL:    cfg.RestBaseURL,
		WSBaseURL:      cfg.WSBaseURL,
		Symbols:        symbols,
		RecvWindowMs:   cfg.RecvWindowMs,
		HTTPTimeoutSec: cfg.HTTPTimeoutSec,
	}), nil
}

func NewClientWithOptions(opts Options) *Client {
	timeout := 15 * time.Second
	if opts.HTTPTimeoutSec > 0 {
		timeout = time.Duration(opts.HTTPTimeoutSec) * time.Second
	}
	symbols := make([]string, 0, len(opts.Symbols))
	for _, s := range opts.Symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			symbols = append(symbols, s)
		}
	}
	return &Client{
		apiKey:     opts.APIKey,
		apiSecret:  opts.APISecret,
		baseURL:    strings.TrimRight(opts.RestBaseURL, "/"),
		wsBaseURL:  strings.TrimRight(opts.WSBaseURL, "/"),
		symbols:    symbols,
		recvWindow: time.Duration(opts.RecvWindowMs) * time.Millisecond,
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
}

func (c *Client) Name() string { return "binance" }

func (c *Client) Account(ctx context.Context) (core.Account, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/api/v3/account", url.Values{}, AuthSigned)
	if err != nil {
		return core.Account{}, err
	}
	var resp accountResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return core.Account{}, err
	}
	return resp.toAccount(), nil
}

// ExchangeInfo returns symbol metadata, restricted to the configured
// symbols when any were given.
func (c *Client) ExchangeInfo(ctx context.Context) (map[string]core.SymbolInfo, error) {
	params := url.Values{}
	if len(c.symbols) > 0 {
		encoded, err := json.Marshal(c.symbols)
		if err != nil {
			return nil, err
		}
		params.Set("symbols", string(encoded))
	}
	body, err := c.doRequest(ctx, http.MethodGet, "/api/v3/exchangeInfo", params, AuthNone)
	if err != nil {
		return nil, err
	}
	var resp exchangeInfoResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	out := make(map[string]core.SymbolInfo, len(resp.Symbols))
	for _, src := range resp.Symbols {
		info := parseSymbolInfo(src)
		out[info.Symbol] = info
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: exchangeInfo returned no symbols", core.ErrUnknownSymbol)
	}
	return out, nil
}

func (c *Client) TickerPrices(ctx context.Context) (map[string]decimal.Decimal, error) {
	params := url.Values{}
	if len(c.symbols) > 0 {
		encoded, err := json.Marshal(c.symbols)
		if err != nil {
			return nil, err
		}
		params.Set("symbols", string(encoded))
	}
	body, err := c.doRequest(ctx, http.MethodGet, "/api/v3/ticker/price", params, AuthNone)
	if err != nil {
		return nil, err
	}
	var resp []tickerPriceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	out := make(map[string]decimal.Decimal, len(resp))
	for _, tp := range resp {
		price, err := decimal.NewFromString(tp.Price)
		if err != nil {
			return nil, fmt.Errorf("ticker %s: %w", tp.Symbol, err)
		}
		out[tp.Symbol] = price
	}
	return out, nil
}

// Snapshot reads the account, symbol metadata and prices in one pass.
func (c *Client) Snapshot(ctx context.Context) (core.MarketSnapshot, error) {
	acct, err := c.Account(ctx)
	if err != nil {
		return core.MarketSnapshot{}, fmt.Errorf("account: %w", err)
	}
	symbols, err := c.ExchangeInfo(ctx)
	if err != nil {
		return core.MarketSnapshot{}, fmt.Errorf("exchange info: %w", err)
	}
	prices, err := c.TickerPrices(ctx)
	if err != nil {
		return core.MarketSnapshot{}, fmt.Errorf("ticker prices: %w", err)
	}
	for symbol := range prices {
		if _, ok := symbols[symbol]; !ok {
			delete(prices, symbol)
		}
	}
	return core.MarketSnapshot{
		Account: acct,
		Symbols: symbols,
		Prices:  prices,
		TakenAt: c.now().UTC(),
	}, nil
}

func (c *Client) StartUserDataStream(ctx context.Context) (string, error) {
	body, err := c.doRequest(ctx, http.MethodPost, "/api/v3/userDataStream", url.Values{}, AuthAPIKey)
	if err != nil {
		return "", err
	}
	var resp listenKeyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", err
	}
	if resp.ListenKey == "" {
		return "", errors.New("empty listen key")
	}
	return resp.ListenKey, nil
}

func (c *Client) KeepAliveUserDataStream(ctx context.Context, listenKey string) error {
	params := url.Values{}
	params.Set("listenKey", listenKey)
	_, err := c.doRequest(ctx, http.MethodPut, "/api/v3/userDataStream", params, AuthAPIKey)
	return err
}

func (c *Client) CloseUserDataStream(ctx context.Context, listenKey string) error {
	params := url.Values{}
	params.Set("listenKey", listenKey)
	_, err := c.doRequest(ctx, http.MethodDelete, "/api/v3/userDataStream", params, AuthAPIKey)
	return err
}

func (c *Client) doRequest(ctx context.Context, method, path string, params url.Values, auth AuthType) ([]byte, error) {
	if auth == AuthSigned {
		params.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
		if c.recvWindow > 0 {
			params.Set("recvWindow", strconv.FormatInt(c.recvWindow.Milliseconds(), 10))
		}
		params.Set("signature", sign(c.apiSecret, params.Encode()))
	}
	var (
		req *http.Request
		err error
	)
	urlStr := c.baseURL + path
	if method == http.MethodGet || method == http.MethodDelete {
		if encoded := params.Encode(); encoded != "" {
			urlStr += "?" + encoded
		}
		req, err = http.NewRequestWithContext(ctx, method, urlStr, nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, urlStr, strings.NewReader(params.Encode()))
	}
	if err != nil {
		return nil, err
	}
	if method != http.MethodGet && method != http.MethodDelete {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if auth == AuthAPIKey || auth == AuthSigned {
		req.Header.Set("X-MBX-APIKEY", c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return nil, parseAPIError(resp.StatusCode, body)
	}
	return body, nil
}

func parseAPIError(status int, body []byte) error {
	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Msg != "" {
		return wrapAPIError(apiErr.Code, apiErr.Msg)
	}
	return fmt.Errorf("binance http error %d: %s", status, strings.TrimSpace(string(body)))
}

func sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
