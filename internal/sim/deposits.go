package sim

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"spot-sim/internal/core"
)

const withdrawApplyTime = "immediate"

// DefaultWithdrawFee is recorded on every simulated withdrawal. It is never
// charged to the ledger.
var DefaultWithdrawFee = decimal.RequireFromString("0.001")

type DepositOptions struct {
	WithdrawFee decimal.Decimal
	Now         func() time.Time
	Metrics     *Metrics
}

// DepositLedger keeps the funding history of the simulated account.
// Balance effects go through the shared Ledger.
type DepositLedger struct {
	ledger  *Ledger
	fee     decimal.Decimal
	now     func() time.Time
	metrics *Metrics

	mu           sync.Mutex
	withdrawals  []core.WithdrawTransaction
	deposits     []core.Deposit
	fiatOrders   []core.FiatOrder
	fiatPayments []core.FiatPayment
}

func NewDepositLedger(ledger *Ledger, opts DepositOptions) *DepositLedger {
	fee := opts.WithdrawFee
	if fee.Cmp(decimal.Zero) < 0 || fee.IsZero() {
		fee = DefaultWithdrawFee
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &DepositLedger{
		ledger:  ledger,
		fee:     fee,
		now:     now,
		metrics: opts.Metrics,
	}
}

// Withdraw debits the ledger and records the transaction, returning its id.
// Nothing is recorded when the debit fails.
func (d *DepositLedger) Withdraw(ctx context.Context, req core.WithdrawOrder) (string, error) {
	req.Coin = strings.ToUpper(strings.TrimSpace(req.Coin))
	if req.Coin == "" {
		return "", fmt.Errorf("withdraw coin required")
	}
	tx := core.WithdrawTransaction{
		ID:             uuid.NewString(),
		Coin:           req.Coin,
		Network:        req.Network,
		Address:        req.Address,
		AddressTag:     req.AddressTag,
		Amount:         req.Amount,
		TransactionFee: d.fee,
		ConfirmNo:      0,
		Status:         core.WithdrawCompleted,
		ApplyTime:      withdrawApplyTime,
		Time:           d.now(),
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ledger.SettleWithdrawal(ctx, req); err != nil {
		d.metrics.ObserveWithdrawal(req.Coin, err)
		log.Printf(
			"level=WARN event=sim_withdraw_failed coin=%s amount=%s err=%q",
			req.Coin,
			req.Amount.String(),
			err.Error(),
		)
		return "", err
	}
	d.withdrawals = append(d.withdrawals, tx)
	d.metrics.ObserveWithdrawal(req.Coin, nil)
	return tx.ID, nil
}

// RecordDeposit credits a simulated inbound crypto deposit.
func (d *DepositLedger) RecordDeposit(ctx context.Context, deposit core.Deposit) error {
	if deposit.TxID == "" {
		deposit.TxID = uuid.NewString()
	}
	if deposit.InsertTime.IsZero() {
		deposit.InsertTime = d.now()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if deposit.Status == core.DepositSuccess {
		if err := d.ledger.CreditDeposit(ctx, deposit); err != nil {
			return err
		}
	}
	d.deposits = append(d.deposits, deposit)
	return nil
}

// RecordFiatPayment credits the crypto bought with fiat. Sell-side payments
// are recorded without touching the ledger.
func (d *DepositLedger) RecordFiatPayment(ctx context.Context, payment core.FiatPayment) error {
	if payment.OrderNo == "" {
		payment.OrderNo = uuid.NewString()
	}
	if payment.CreateTime.IsZero() {
		payment.CreateTime = d.now()
	}
	if payment.UpdateTime.IsZero() {
		payment.UpdateTime = payment.CreateTime
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if payment.TransactionType == core.FiatDeposit {
		if err := d.ledger.CreditFiatPayment(ctx, payment); err != nil {
			return err
		}
	}
	d.fiatPayments = append(d.fiatPayments, payment)
	return nil
}

func (d *DepositLedger) RecordFiatOrder(order core.FiatOrder) {
	if order.OrderNo == "" {
		order.OrderNo = uuid.NewString()
	}
	if order.CreateTime.IsZero() {
		order.CreateTime = d.now()
	}
	if order.UpdateTime.IsZero() {
		order.UpdateTime = order.CreateTime
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fiatOrders = append(d.fiatOrders, order)
}

func (d *DepositLedger) WithdrawHistory(ctx context.Context, req core.HistoryRequest) ([]core.WithdrawTransaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return selectWhere(d.withdrawals, 0,
		func(tx core.WithdrawTransaction) bool { return req.Coin == "" || tx.Coin == req.Coin },
		func(tx core.WithdrawTransaction) bool { return inWindow(tx.Time, req.StartTime, req.EndTime) },
	), nil
}

func (d *DepositLedger) DepositHistory(ctx context.Context, req core.HistoryRequest) ([]core.Deposit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return selectWhere(d.deposits, 0,
		func(dep core.Deposit) bool { return req.Coin == "" || dep.Coin == req.Coin },
		func(dep core.Deposit) bool { return inWindow(dep.InsertTime, req.StartTime, req.EndTime) },
	), nil
}

func (d *DepositLedger) FiatOrders(ctx context.Context, req core.FiatHistoryRequest) ([]core.FiatOrder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return selectWhere(d.fiatOrders, 0,
		func(o core.FiatOrder) bool { return req.MatchesType(o.TransactionType) },
		func(o core.FiatOrder) bool { return inWindow(o.CreateTime, req.BeginTime, req.EndTime) },
	), nil
}

func (d *DepositLedger) FiatPayments(ctx context.Context, req core.FiatHistoryRequest) ([]core.FiatPayment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return selectWhere(d.fiatPayments, 0,
		func(p core.FiatPayment) bool { return req.MatchesType(p.TransactionType) },
		func(p core.FiatPayment) bool { return inWindow(p.CreateTime, req.BeginTime, req.EndTime) },
	), nil
}

// FundingState is the exported funding history of a session.
type FundingState struct {
	Withdrawals  []core.WithdrawTransaction `json:"withdrawals"`
	Deposits     []core.Deposit             `json:"deposits"`
	FiatOrders   []core.FiatOrder           `json:"fiat_orders"`
	FiatPayments []core.FiatPayment         `json:"fiat_payments"`
}

func (d *DepositLedger) snapshot() FundingState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return FundingState{
		Withdrawals:  append([]core.WithdrawTransaction(nil), d.withdrawals...),
		Deposits:     append([]core.Deposit(nil), d.deposits...),
		FiatOrders:   append([]core.FiatOrder(nil), d.fiatOrders...),
		FiatPayments: append([]core.FiatPayment(nil), d.fiatPayments...),
	}
}

func (d *DepositLedger) restore(state FundingState) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.withdrawals = append([]core.WithdrawTransaction(nil), state.Withdrawals...)
	d.deposits = append([]core.Deposit(nil), state.Deposits...)
	d.fiatOrders = append([]core.FiatOrder(nil), state.FiatOrders...)
	d.fiatPayments = append([]core.FiatPayment(nil), state.FiatPayments...)
}
