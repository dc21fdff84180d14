// Package metrics holds the Prometheus collectors the engine updates.
//
//   - scalper_cycles_total{result}                 cycles by outcome (ok|data_unavailable|invalid_risk_plan|order_rejected|adapter_fault)
//   - scalper_signals_total{signal}                signals evaluated per new bar (buy|sell|none)
//   - scalper_orders_total{kind,result}            requests sent to the venue (accepted|rejected|error)
//   - scalper_fill_mode_rejections_total{mode}     individual fill-mode rejections
//   - scalper_lifecycle_actions_total{action}      initial_stop|breakeven|partial_close|trailing
//   - scalper_open_positions                       positions reported open last cycle
//   - scalper_tracked_tickets                      entries in the lifecycle flag store
//   - scalper_balance                              last account balance read
//
// Collectors are registered with the default registry in init and served by
// the run command at /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Cycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scalper_cycles_total",
			Help: "Engine cycles by result",
		},
		[]string{"result"},
	)

	Signals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scalper_signals_total",
			Help: "Signals evaluated on new bars",
		},
		[]string{"signal"},
	)

	Orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scalper_orders_total",
			Help: "Requests sent to the venue",
		},
		[]string{"kind", "result"},
	)

	FillModeRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scalper_fill_mode_rejections_total",
			Help: "Requests the venue declined for one fill mode",
		},
		[]string{"mode"},
	)

	LifecycleActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scalper_lifecycle_actions_total",
			Help: "Position lifecycle actions accepted by the venue",
		},
		[]string{"action"},
	)

	OpenPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scalper_open_positions",
			Help: "Positions reported open by the venue last cycle",
		},
	)

	TrackedTickets = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scalper_tracked_tickets",
			Help: "Tickets held in the lifecycle flag store",
		},
	)

	Balance = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scalper_balance",
			Help: "Last account balance read from the venue",
		},
	)
)

func init() {
	prometheus.MustRegister(
		Cycles,
		Signals,
		Orders,
		FillModeRejections,
		LifecycleActions,
		OpenPositions,
		TrackedTickets,
		Balance,
	)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
