package execution

import "github.com/prometheus/client_golang/prometheus"

var (
	ordersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bucketeer_orders_total",
		Help: "Execution outcomes by order status",
	}, []string{"status"})
	blocksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bucketeer_order_blocks_total",
		Help: "Orders stopped by a policy rule",
	}, []string{"rule"})
	pollDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "bucketeer_order_poll_seconds",
		Help:    "Time spent waiting for an order to settle",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	})
)

func init() {
	prometheus.MustRegister(ordersTotal, blocksTotal, pollDuration)
}
