package config

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"spot-sim/internal/core"
)

type Source string

type Network string

const (
	SourceStatic   Source = "static"
	SourceSnapshot Source = "snapshot"
	SourceBinance  Source = "binance"
)

const (
	NetworkTestnet Network = "testnet"
	NetworkLive    Network = "live"
)

type Config struct {
	Source    Source          `yaml:"source"`
	Exchange  ExchangeConfig  `yaml:"exchange"`
	State     StateConfig     `yaml:"state"`
	Simulator SimulatorConfig `yaml:"simulator"`
	Account   AccountConfig   `yaml:"account"`
	Symbols   []SymbolConfig  `yaml:"symbols"`
}

type ExchangeConfig struct {
	Network                Network `yaml:"network"`
	APIKey                 string  `yaml:"api_key"`
	APISecret              string  `yaml:"api_secret"`
	RestBaseURL            string  `yaml:"rest_base_url"`
	WSBaseURL              string  `yaml:"ws_base_url"`
	RecvWindowMs           int64   `yaml:"recv_window_ms"`
	HTTPTimeoutSec         int64   `yaml:"http_timeout_sec"`
	UserStreamKeepaliveSec int64   `yaml:"user_stream_keepalive_sec"`
}

type StateConfig struct {
	Dir string `yaml:"dir"`
}

type SimulatorConfig struct {
	CommissionRate Decimal `yaml:"commission_rate"`
	WithdrawFee    Decimal `yaml:"withdraw_fee"`
	Metrics        bool    `yaml:"metrics"`
	PublishEvents  bool    `yaml:"publish_events"`
}

type AccountConfig struct {
	MakerCommission  Decimal                  `yaml:"maker_commission"`
	TakerCommission  Decimal                  `yaml:"taker_commission"`
	BuyerCommission  Decimal                  `yaml:"buyer_commission"`
	SellerCommission Decimal                  `yaml:"seller_commission"`
	CanTrade         *bool                    `yaml:"can_trade"`
	CanWithdraw      *bool                    `yaml:"can_withdraw"`
	CanDeposit       *bool                    `yaml:"can_deposit"`
	AccountType      string                   `yaml:"account_type"`
	Balances         map[string]BalanceConfig `yaml:"balances"`
}

type BalanceConfig struct {
	Free   Decimal `yaml:"free"`
	Locked Decimal `yaml:"locked"`
}

type SymbolConfig struct {
	Symbol      string  `yaml:"symbol"`
	Base        string  `yaml:"base"`
	Quote       string  `yaml:"quote"`
	Price       Decimal `yaml:"price"`
	MinQty      Decimal `yaml:"min_qty"`
	MinNotional Decimal `yaml:"min_notional"`
	PriceTick   Decimal `yaml:"price_tick"`
	QtyStep     Decimal `yaml:"qty_step"`
}

func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return Config{}, fmt.Errorf("config must contain a single YAML document")
		}
		return Config{}, err
	}
	cfg.normalize()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Source = Source(strings.ToLower(strings.TrimSpace(string(c.Source))))
	c.Exchange.Network = Network(strings.ToLower(strings.TrimSpace(string(c.Exchange.Network))))
	c.Exchange.APIKey = strings.TrimSpace(c.Exchange.APIKey)
	c.Exchange.APISecret = strings.TrimSpace(c.Exchange.APISecret)
	c.Exchange.RestBaseURL = strings.TrimSpace(c.Exchange.RestBaseURL)
	c.Exchange.WSBaseURL = strings.TrimSpace(c.Exchange.WSBaseURL)
	c.State.Dir = strings.TrimSpace(c.State.Dir)
	c.Account.AccountType = strings.ToUpper(strings.TrimSpace(c.Account.AccountType))
	if len(c.Account.Balances) > 0 {
		balances := make(map[string]BalanceConfig, len(c.Account.Balances))
		for code, b := range c.Account.Balances {
			balances[strings.ToUpper(strings.TrimSpace(code))] = b
		}
		c.Account.Balances = balances
	}
	for i := range c.Symbols {
		c.Symbols[i].Symbol = strings.ToUpper(strings.TrimSpace(c.Symbols[i].Symbol))
		c.Symbols[i].Base = strings.ToUpper(strings.TrimSpace(c.Symbols[i].Base))
		c.Symbols[i].Quote = strings.ToUpper(strings.TrimSpace(c.Symbols[i].Quote))
	}
}

func (c *Config) applyDefaults() {
	if c.Source == "" {
		c.Source = SourceStatic
	}
	if c.Exchange.Network == "" {
		c.Exchange.Network = NetworkTestnet
	}
	if c.Exchange.RecvWindowMs == 0 {
		c.Exchange.RecvWindowMs = 5000
	}
	if c.Exchange.HTTPTimeoutSec == 0 {
		c.Exchange.HTTPTimeoutSec = 15
	}
	if c.Exchange.UserStreamKeepaliveSec == 0 {
		c.Exchange.UserStreamKeepaliveSec = 30
	}
	if c.Exchange.RestBaseURL == "" {
		switch c.Exchange.Network {
		case NetworkTestnet:
			c.Exchange.RestBaseURL = "https://testnet.binance.vision"
		case NetworkLive:
			c.Exchange.RestBaseURL = "https://api.binance.com"
		}
	}
	if c.Exchange.WSBaseURL == "" {
		switch c.Exchange.Network {
		case NetworkTestnet:
			c.Exchange.WSBaseURL = "wss://ws-api.testnet.binance.vision/ws-api/v3"
		case NetworkLive:
			c.Exchange.WSBaseURL = "wss://ws-api.binance.com/ws-api/v3"
		}
	}
	if c.State.Dir == "" {
		c.State.Dir = "state"
	}
	if c.Simulator.CommissionRate.Cmp(decimal.Zero) == 0 {
		c.Simulator.CommissionRate = Decimal{decimal.RequireFromString("0.001")}
	}
	if c.Simulator.WithdrawFee.Cmp(decimal.Zero) == 0 {
		c.Simulator.WithdrawFee = Decimal{decimal.RequireFromString("0.001")}
	}
	if c.Account.AccountType == "" {
		c.Account.AccountType = "SPOT"
	}
	if c.Account.MakerCommission.Cmp(decimal.Zero) == 0 {
		c.Account.MakerCommission = c.Simulator.CommissionRate
	}
	if c.Account.TakerCommission.Cmp(decimal.Zero) == 0 {
		c.Account.TakerCommission = c.Simulator.CommissionRate
	}
	enabled := true
	if c.Account.CanTrade == nil {
		c.Account.CanTrade = &enabled
	}
	if c.Account.CanWithdraw == nil {
		c.Account.CanWithdraw = &enabled
	}
	if c.Account.CanDeposit == nil {
		c.Account.CanDeposit = &enabled
	}
}

func (c Config) Validate() error {
	switch c.Source {
	case SourceStatic, SourceSnapshot, SourceBinance:
	default:
		return fmt.Errorf("source must be static, snapshot, or binance")
	}
	one := decimal.NewFromInt(1)
	if c.Simulator.CommissionRate.IsNegative() || c.Simulator.CommissionRate.Cmp(one) >= 0 {
		return fmt.Errorf("simulator commission_rate must be in [0, 1)")
	}
	if c.Simulator.WithdrawFee.IsNegative() {
		return fmt.Errorf("simulator withdraw_fee must be >= 0")
	}
	switch c.Source {
	case SourceStatic:
		if err := c.validateStatic(); err != nil {
			return err
		}
	case SourceSnapshot:
		if c.State.Dir == "" {
			return fmt.Errorf("state.dir is required for snapshot source")
		}
	}
	if c.Source == SourceBinance || c.Exchange.APIKey != "" {
		if err := c.validateExchange(); err != nil {
			return err
		}
	}
	return nil
}

// RequiresExchange reports whether the configured source reads from the
// live REST API.
func (c Config) RequiresExchange() bool {
	return c.Source == SourceBinance
}

func (c Config) validateStatic() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("symbols are required for static source")
	}
	if len(c.Account.Balances) == 0 {
		return fmt.Errorf("account balances are required for static source")
	}
	for code, b := range c.Account.Balances {
		if code == "" {
			return fmt.Errorf("account balances must not contain an empty asset")
		}
		if b.Free.IsNegative() || b.Locked.IsNegative() {
			return fmt.Errorf("account balance %s must be >= 0", code)
		}
	}
	seen := make(map[string]bool, len(c.Symbols))
	for _, s := range c.Symbols {
		if !isValidSymbol(s.Symbol) {
			return fmt.Errorf("symbol %q must match [A-Z0-9], length 5..20", s.Symbol)
		}
		if seen[s.Symbol] {
			return fmt.Errorf("symbol %s is listed twice", s.Symbol)
		}
		seen[s.Symbol] = true
		if s.Base == "" || s.Quote == "" {
			return fmt.Errorf("symbol %s requires base and quote", s.Symbol)
		}
		if s.Base+s.Quote != s.Symbol {
			return fmt.Errorf("symbol %s must equal base+quote (%s%s)", s.Symbol, s.Base, s.Quote)
		}
		if s.Price.IsNegative() {
			return fmt.Errorf("symbol %s price must be >= 0", s.Symbol)
		}
		if s.MinQty.IsNegative() || s.MinNotional.IsNegative() ||
			s.PriceTick.IsNegative() || s.QtyStep.IsNegative() {
			return fmt.Errorf("symbol %s filters must be >= 0", s.Symbol)
		}
	}
	return nil
}

func (c Config) validateExchange() error {
	switch c.Exchange.Network {
	case NetworkTestnet, NetworkLive:
	default:
		return fmt.Errorf("exchange network must be testnet or live")
	}
	if c.Exchange.APIKey == "" || c.Exchange.APISecret == "" {
		return fmt.Errorf("exchange api_key/api_secret are required for binance source")
	}
	if c.Exchange.RecvWindowMs < 1 || c.Exchange.RecvWindowMs > 60000 {
		return fmt.Errorf("exchange recv_window_ms must be between 1 and 60000")
	}
	if c.Exchange.HTTPTimeoutSec < 1 || c.Exchange.HTTPTimeoutSec > 120 {
		return fmt.Errorf("exchange http_timeout_sec must be between 1 and 120")
	}
	if c.Exchange.UserStreamKeepaliveSec < 1 || c.Exchange.UserStreamKeepaliveSec > 3600 {
		return fmt.Errorf("exchange user_stream_keepalive_sec must be between 1 and 3600")
	}
	if err := validateURL(c.Exchange.RestBaseURL, "http", "https"); err != nil {
		return fmt.Errorf("exchange rest_base_url %v", err)
	}
	if err := validateURL(c.Exchange.WSBaseURL, "ws", "wss"); err != nil {
		return fmt.Errorf("exchange ws_base_url %v", err)
	}
	return nil
}

// StaticSnapshot builds the market snapshot described by the account and
// symbols sections.
func (c Config) StaticSnapshot(now time.Time) core.MarketSnapshot {
	acct := core.Account{
		MakerCommission:  c.Account.MakerCommission.Decimal,
		TakerCommission:  c.Account.TakerCommission.Decimal,
		BuyerCommission:  c.Account.BuyerCommission.Decimal,
		SellerCommission: c.Account.SellerCommission.Decimal,
		CanTrade:         boolOr(c.Account.CanTrade, true),
		CanWithdraw:      boolOr(c.Account.CanWithdraw, true),
		CanDeposit:       boolOr(c.Account.CanDeposit, true),
		AccountType:      c.Account.AccountType,
		Balances:         make(map[string]core.Asset, len(c.Account.Balances)),
		UpdateTime:       now,
	}
	for code, b := range c.Account.Balances {
		acct.Balances[code] = core.Asset{Asset: code, Free: b.Free.Decimal, Locked: b.Locked.Decimal}
	}

	snap := core.MarketSnapshot{
		Account: acct,
		Symbols: make(map[string]core.SymbolInfo, len(c.Symbols)),
		Prices:  make(map[string]decimal.Decimal, len(c.Symbols)),
		TakenAt: now,
	}
	for _, s := range c.Symbols {
		snap.Symbols[s.Symbol] = core.SymbolInfo{
			Symbol:     s.Symbol,
			BaseAsset:  s.Base,
			QuoteAsset: s.Quote,
			Rules: core.Rules{
				MinQty:      s.MinQty.Decimal,
				MinNotional: s.MinNotional.Decimal,
				PriceTick:   s.PriceTick.Decimal,
				QtyStep:     s.QtyStep.Decimal,
			},
		}
		if s.Price.Cmp(decimal.Zero) > 0 {
			snap.Prices[s.Symbol] = s.Price.Decimal
		}
	}
	return snap
}

func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}

func isValidSymbol(v string) bool {
	if len(v) < 5 || len(v) > 20 {
		return false
	}
	for _, r := range v {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			continue
		}
		return false
	}
	return true
}

func validateURL(raw string, schemes ...string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("must be a valid URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("must include scheme and host")
	}
	for _, s := range schemes {
		if parsed.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("scheme must be %s", strings.Join(schemes, " or "))
}
