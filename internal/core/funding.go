package core

import (
	"time"

	"github.com/shopspring/decimal"
)

type WithdrawStatus int

const (
	WithdrawEmailSent WithdrawStatus = iota
	WithdrawCancelled
	WithdrawAwaitingApproval
	WithdrawRejected
	WithdrawProcessing
	WithdrawFailure
	WithdrawCompleted
)

type WithdrawOrder struct {
	Coin       string          `json:"coin"`
	Network    string          `json:"network,omitempty"`
	Address    string          `json:"address"`
	AddressTag string          `json:"addressTag,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	Name       string          `json:"name,omitempty"`
}

type WithdrawTransaction struct {
	ID             string          `json:"id"`
	Coin           string          `json:"coin"`
	Network        string          `json:"network,omitempty"`
	Address        string          `json:"address"`
	AddressTag     string          `json:"addressTag,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	TransactionFee decimal.Decimal `json:"transactionFee"`
	ConfirmNo      int             `json:"confirmNo"`
	Status         WithdrawStatus  `json:"status"`
	ApplyTime      string          `json:"applyTime"`
	Time           time.Time       `json:"time"`
}

type DepositStatus int

const (
	DepositPending DepositStatus = 0
	DepositSuccess DepositStatus = 1
)

type Deposit struct {
	TxID       string          `json:"txId"`
	Coin       string          `json:"coin"`
	Network    string          `json:"network,omitempty"`
	Address    string          `json:"address"`
	AddressTag string          `json:"addressTag,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	Status     DepositStatus   `json:"status"`
	InsertTime time.Time       `json:"insertTime"`
}

// FiatTransactionType follows the live API: 0 is deposit/buy, 1 is withdraw/sell.
type FiatTransactionType int

const (
	FiatDeposit  FiatTransactionType = 0
	FiatWithdraw FiatTransactionType = 1
)

type FiatOrder struct {
	OrderNo         string              `json:"orderNo"`
	TransactionType FiatTransactionType `json:"transactionType"`
	FiatCurrency    string              `json:"fiatCurrency"`
	IndicatedAmount decimal.Decimal     `json:"indicatedAmount"`
	Amount          decimal.Decimal     `json:"amount"`
	TotalFee        decimal.Decimal     `json:"totalFee"`
	Method          string              `json:"method"`
	Status          string              `json:"status"`
	CreateTime      time.Time           `json:"createTime"`
	UpdateTime      time.Time           `json:"updateTime"`
}

type FiatPayment struct {
	OrderNo         string              `json:"orderNo"`
	TransactionType FiatTransactionType `json:"transactionType"`
	SourceAmount    decimal.Decimal     `json:"sourceAmount"`
	FiatCurrency    string              `json:"fiatCurrency"`
	ObtainAmount    decimal.Decimal     `json:"obtainAmount"`
	CryptoCurrency  string              `json:"cryptoCurrency"`
	TotalFee        decimal.Decimal     `json:"totalFee"`
	Price           decimal.Decimal     `json:"price"`
	Status          string              `json:"status"`
	CreateTime      time.Time           `json:"createTime"`
	UpdateTime      time.Time           `json:"updateTime"`
}

type HistoryRequest struct {
	Coin      string
	StartTime time.Time
	EndTime   time.Time
}

// FiatHistoryRequest matches every transaction type when TransactionType
// is nil.
type FiatHistoryRequest struct {
	TransactionType *FiatTransactionType
	BeginTime       time.Time
	EndTime         time.Time
}

func FiatType(t FiatTransactionType) *FiatTransactionType {
	return &t
}

func (r FiatHistoryRequest) MatchesType(t FiatTransactionType) bool {
	return r.TransactionType == nil || *r.TransactionType == t
}
