// Package metrics exposes Prometheus collectors fed from ledger events.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tolelom/tolstake/core"
	"github.com/tolelom/tolstake/events"
)

const namespace = "tolstake"

// Metrics holds the collectors and the registry they are registered in.
type Metrics struct {
	reg *prometheus.Registry

	txs             *prometheus.CounterVec
	failures        *prometheus.CounterVec
	staked          prometheus.Counter
	funded          prometheus.Counter
	rewardsAccrued  prometheus.Counter
	rewardsPaid     prometheus.Counter
	clampedRedeems  prometheus.Counter
	activePositions prometheus.Gauge
	openPools       prometheus.Gauge
}

// New creates a Metrics with its own registry, including Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		txs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Committed transactions by type.",
		}, []string{"type"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transaction_failures_total",
			Help:      "Rejected transactions by type and error kind.",
		}, []string{"type", "kind"}),
		staked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "staked_principal_total",
			Help:      "Principal locked by stake operations.",
		}),
		funded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reward_funding_total",
			Help:      "Tokens added to reward budgets.",
		}),
		rewardsAccrued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rewards_accrued_total",
			Help:      "Rewards computed at redemption before clamping.",
		}),
		rewardsPaid: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rewards_paid_total",
			Help:      "Rewards paid out of reward budgets.",
		}),
		clampedRedeems: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clamped_redeems_total",
			Help:      "Forced redemptions paid less than the accrued reward.",
		}),
		activePositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_positions",
			Help:      "Open positions across all pools.",
		}),
		openPools: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_pools",
			Help:      "Pools initialized and not closed.",
		}),
	}
	m.reg.MustRegister(
		m.txs, m.failures, m.staked, m.funded, m.rewardsAccrued, m.rewardsPaid,
		m.clampedRedeems, m.activePositions, m.openPools,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Attach subscribes the collectors to em.
func (m *Metrics) Attach(em *events.Emitter) {
	em.Subscribe(events.EventTxExecuted, func(ev events.Event) {
		m.txs.WithLabelValues(str(ev.Data["type"])).Inc()
	})
	em.Subscribe(events.EventTxFailed, func(ev events.Event) {
		m.failures.WithLabelValues(str(ev.Data["type"]), str(ev.Data["kind"])).Inc()
	})
	em.Subscribe(events.EventPoolInitialized, func(events.Event) { m.openPools.Inc() })
	em.Subscribe(events.EventPoolClosed, func(events.Event) { m.openPools.Dec() })
	em.Subscribe(events.EventPoolFunded, func(ev events.Event) {
		m.funded.Add(num(ev.Data["amount"]))
	})
	em.Subscribe(events.EventStaked, func(ev events.Event) {
		m.staked.Add(num(ev.Data["principal"]))
		m.activePositions.Inc()
	})
	em.Subscribe(events.EventRedeemed, func(ev events.Event) {
		m.activePositions.Dec()
		m.rewardsAccrued.Add(num(ev.Data["reward"]))
		m.rewardsPaid.Add(num(ev.Data["reward_paid"]))
		if clamped, _ := ev.Data["clamped"].(bool); clamped {
			m.clampedRedeems.Inc()
		}
	})
}

// Seed sets the state gauges from the pools already in the ledger. Call it
// once at startup, before transactions are accepted, so later events move
// the gauges from the persisted totals rather than from zero.
func (m *Metrics) Seed(pools []*core.Pool) {
	var open, positions uint64
	for _, p := range pools {
		if !p.Closed {
			open++
		}
		positions += p.ActivePositions
	}
	m.openPools.Set(float64(open))
	m.activePositions.Set(float64(positions))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func str(v any) string {
	s, _ := v.(string)
	return s
}

func num(v any) float64 {
	switch n := v.(type) {
	case uint64:
		return float64(n)
	case int64:
		return float64(n)
	case int:
		return float64(n)
	case float64:
		return n
	}
	return 0
}
