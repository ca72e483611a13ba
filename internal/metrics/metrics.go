// Package metrics holds the engine's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every collector the engine exports. Each instance owns its
// registry, so tests can construct one without collector name collisions.
type Metrics struct {
	Registry *prometheus.Registry

	CyclesTotal        prometheus.Counter
	OrdersTotal        prometheus.Counter
	RejectsTotal       *prometheus.CounterVec
	LadderActionsTotal *prometheus.CounterVec

	Equity         prometheus.Gauge
	DrawdownPct    prometheus.Gauge
	ProtectionMode prometheus.Gauge
	OpenPositions  prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		CyclesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "risk_engine_cycles_total",
			Help: "Decision cycles executed.",
		}),
		OrdersTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "risk_engine_orders_total",
			Help: "Orders submitted to the broker.",
		}),
		RejectsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "risk_engine_rejects_total",
			Help: "Sizing and gating rejections by reason.",
		}, []string{"reason"}),
		LadderActionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "risk_engine_ladder_actions_total",
			Help: "Protective ladder actions by type.",
		}, []string{"type"}),

		Equity: factory.NewGauge(prometheus.GaugeOpts{
			Name: "risk_engine_equity",
			Help: "Current capital from the ledger.",
		}),
		DrawdownPct: factory.NewGauge(prometheus.GaugeOpts{
			Name: "risk_engine_drawdown_pct",
			Help: "Drawdown from the high-water mark.",
		}),
		ProtectionMode: factory.NewGauge(prometheus.GaugeOpts{
			Name: "risk_engine_protection_mode",
			Help: "Protection mode as an ordinal (0 NORMAL .. 3 LOCKDOWN).",
		}),
		OpenPositions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "risk_engine_open_positions",
			Help: "Positions under ladder management.",
		}),
	}
}
