package sim

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	OrdersTotal      *prometheus.CounterVec
	TradesTotal      *prometheus.CounterVec
	WithdrawalsTotal *prometheus.CounterVec
	EventsPushed     *prometheus.CounterVec
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		OrdersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sim_orders_total",
				Help: "Orders accepted by the simulator, by resulting status.",
			},
			[]string{"symbol", "side", "type", "status"},
		),
		TradesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sim_trades_total",
				Help: "Trades settled by the simulator.",
			},
			[]string{"symbol"},
		),
		WithdrawalsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sim_withdrawals_total",
				Help: "Withdrawals requested against the simulator.",
			},
			[]string{"coin", "result"},
		),
		EventsPushed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sim_events_pushed_total",
				Help: "User data events delivered to subscribers.",
			},
			[]string{"event"},
		),
	}
	if registry != nil {
		registry.MustRegister(m.OrdersTotal, m.TradesTotal, m.WithdrawalsTotal, m.EventsPushed)
	}
	return m
}

func (m *Metrics) ObserveOrder(symbol, side, orderType, status string) {
	if m == nil {
		return
	}
	m.OrdersTotal.WithLabelValues(symbol, side, orderType, status).Inc()
}

func (m *Metrics) ObserveTrade(symbol string) {
	if m == nil {
		return
	}
	m.TradesTotal.WithLabelValues(symbol).Inc()
}

func (m *Metrics) ObserveWithdrawal(coin string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.WithdrawalsTotal.WithLabelValues(coin, result).Inc()
}

func (m *Metrics) ObserveEvent(event string) {
	if m == nil {
		return
	}
	m.EventsPushed.WithLabelValues(event).Inc()
}
