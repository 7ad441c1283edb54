package orchestrator

import "github.com/prometheus/client_golang/prometheus"

var (
	cyclesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bucketeer_cycles_total",
		Help: "Decision cycles by result",
	}, []string{"result"})
	cycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "bucketeer_cycle_duration_seconds",
		Help:    "Wall time of a decision cycle",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})
	equityGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bucketeer_equity_dollars",
		Help: "Account equity at the last snapshot",
	})
	budgetGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bucketeer_trade_budget_remaining",
		Help: "Orders left in today's trade budget",
	})
)

func init() {
	prometheus.MustRegister(cyclesTotal, cycleDuration, equityGauge, budgetGauge)
}
