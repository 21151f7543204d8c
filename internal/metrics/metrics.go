// Package metrics exposes Prometheus metrics for the trading loop:
//
//	breakout_orders_total{kind,side}           orders acknowledged by the venue (kind: entry|exit)
//	breakout_order_failures_total{kind,class}  orders that failed, by error class
//	breakout_gateway_errors_total{op,class}    failed gateway calls
//	breakout_entry_skips_total{reason}         entry evaluations that ended without an order
//	breakout_liquidation_passes_total{trigger} liquidation passes (cycle_end|command|restart)
//	breakout_commands_total{command}           control commands processed
//	breakout_trading_active                    1 when entries are allowed
//	breakout_capital_per_symbol                current per-symbol allocation
//	breakout_open_positions                    positions held after the last reconcile
//	breakout_loop_errors_total                 main loop iterations that hit the catch-all
//
// Metrics register with the default registry in init and are served at /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	Orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breakout_orders_total",
			Help: "Orders acknowledged by the venue",
		},
		[]string{"kind", "side"},
	)

	OrderFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breakout_order_failures_total",
			Help: "Order submissions that failed",
		},
		[]string{"kind", "class"},
	)

	GatewayErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breakout_gateway_errors_total",
			Help: "Failed exchange gateway calls",
		},
		[]string{"op", "class"},
	)

	EntrySkips = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breakout_entry_skips_total",
			Help: "Entry evaluations that did not place an order",
		},
		[]string{"reason"},
	)

	LiquidationPasses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breakout_liquidation_passes_total",
			Help: "Liquidation passes executed",
		},
		[]string{"trigger"},
	)

	Commands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "breakout_commands_total",
			Help: "Control commands processed",
		},
		[]string{"command"},
	)

	TradingActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "breakout_trading_active",
			Help: "1 when new entries are allowed",
		},
	)

	CapitalPerSymbol = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "breakout_capital_per_symbol",
			Help: "Margin allocated to each symbol for the current cycle",
		},
	)

	OpenPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "breakout_open_positions",
			Help: "Open positions after the last reconciliation",
		},
	)

	LoopErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "breakout_loop_errors_total",
			Help: "Main loop iterations that failed and backed off",
		},
	)
)

func init() {
	prometheus.MustRegister(
		Orders,
		OrderFailures,
		GatewayErrors,
		EntrySkips,
		LiquidationPasses,
		Commands,
		TradingActive,
		CapitalPerSymbol,
		OpenPositions,
		LoopErrors,
	)
}

// SetTradingActive mirrors the entry gate into the gauge.
func SetTradingActive(on bool) {
	if on {
		TradingActive.Set(1)
		return
	}
	TradingActive.Set(0)
}
