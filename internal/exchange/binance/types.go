package binance

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"spot-sim/internal/core"
)

type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

type APIError struct {
	Code int
	Msg  string
}

func (e APIError) Error() string {
	return "binance api error " + strconv.Itoa(e.Code) + ": " + e.Msg
}

type tickerPriceResponse struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

type listenKeyResponse struct {
	ListenKey string `json:"listenKey"`
}

type accountResponse struct {
	MakerCommission  int64 `json:"makerCommission"`
	TakerCommission  int64 `json:"takerCommission"`
	BuyerCommission  int64 `json:"buyerCommission"`
	SellerCommission int64 `json:"sellerCommission"`
	CommissionRates  *struct {
		Maker  string `json:"maker"`
		Taker  string `json:"taker"`
		Buyer  string `json:"buyer"`
		Seller string `json:"seller"`
	} `json:"commissionRates"`
	CanTrade    bool   `json:"canTrade"`
	CanWithdraw bool   `json:"canWithdraw"`
	CanDeposit  bool   `json:"canDeposit"`
	AccountType string `json:"accountType"`
	UpdateTime  int64  `json:"updateTime"`
	Balances    []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

var basisPoints = decimal.NewFromInt(10000)

// toAccount prefers the fractional commissionRates block and falls back to
// the legacy basis-point integers.
func (r accountResponse) toAccount() core.Account {
	acct := core.Account{
		MakerCommission:  decimal.NewFromInt(r.MakerCommission).Div(basisPoints),
		TakerCommission:  decimal.NewFromInt(r.TakerCommission).Div(basisPoints),
		BuyerCommission:  decimal.NewFromInt(r.BuyerCommission).Div(basisPoints),
		SellerCommission: decimal.NewFromInt(r.SellerCommission).Div(basisPoints),
		CanTrade:         r.CanTrade,
		CanWithdraw:      r.CanWithdraw,
		CanDeposit:       r.CanDeposit,
		AccountType:      r.AccountType,
		Balances:         make(map[string]core.Asset, len(r.Balances)),
	}
	if rates := r.CommissionRates; rates != nil {
		acct.MakerCommission = parseDecimalOr(rates.Maker, acct.MakerCommission)
		acct.TakerCommission = parseDecimalOr(rates.Taker, acct.TakerCommission)
		acct.BuyerCommission = parseDecimalOr(rates.Buyer, acct.BuyerCommission)
		acct.SellerCommission = parseDecimalOr(rates.Seller, acct.SellerCommission)
	}
	if r.UpdateTime > 0 {
		acct.UpdateTime = time.UnixMilli(r.UpdateTime).UTC()
	}
	for _, b := range r.Balances {
		acct.Balances[b.Asset] = core.Asset{
			Asset:  b.Asset,
			Free:   parseDecimalOr(b.Free, decimal.Zero),
			Locked: parseDecimalOr(b.Locked, decimal.Zero),
		}
	}
	return acct
}

func parseDecimalOr(raw string, fallback decimal.Decimal) decimal.Decimal {
	if raw == "" {
		return fallback
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return fallback
	}
	return v
}

type exchangeInfoResponse struct {
	Symbols []symbolInfoResponse `json:"symbols"`
}

type symbolFilter struct {
	FilterType  string `json:"filterType"`
	MinQty      string `json:"minQty"`
	StepSize    string `json:"stepSize"`
	MinNotional string `json:"minNotional"`
	TickSize    string `json:"tickSize"`
}

type symbolInfoResponse struct {
	Symbol     string         `json:"symbol"`
	Status     string         `json:"status"`
	BaseAsset  string         `json:"baseAsset"`
	QuoteAsset string         `json:"quoteAsset"`
	Filters    []symbolFilter `json:"filters"`
}

func parseSymbolInfo(src symbolInfoResponse) core.SymbolInfo {
	info := core.SymbolInfo{
		Symbol:     src.Symbol,
		BaseAsset:  src.BaseAsset,
		QuoteAsset: src.QuoteAsset,
		Rules:      core.Rules{MinQty: decimal.Zero, MinNotional: decimal.Zero, PriceTick: decimal.Zero, QtyStep: decimal.Zero},
	}
	for _, f := range src.Filters {
		switch f.FilterType {
		case "LOT_SIZE":
			info.Rules.MinQty = parseDecimalOr(f.MinQty, info.Rules.MinQty)
			info.Rules.QtyStep = parseDecimalOr(f.StepSize, info.Rules.QtyStep)
		case "PRICE_FILTER":
			info.Rules.PriceTick = parseDecimalOr(f.TickSize, info.Rules.PriceTick)
		case "MIN_NOTIONAL", "NOTIONAL":
			// Both may be present; the stricter minimum wins.
			if v := parseDecimalOr(f.MinNotional, decimal.Zero); v.Cmp(info.Rules.MinNotional) > 0 {
				info.Rules.MinNotional = v
			}
		}
	}
	return info
}
