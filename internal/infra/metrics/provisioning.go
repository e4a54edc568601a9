package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		provisionCallsTotal,
		provisionLatencyMs,
		lockContentionTotal,
	)
}

var (
	provisionCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provision_calls_total",
			Help: "Control-plane RPCs by operation and success.",
		},
		[]string{"op", "success"},
	)

	provisionLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provision_latency_ms",
			Help:    "Control-plane call latency distribution in milliseconds.",
			Buckets: []float64{10, 25, 50, 100, 200, 400, 800, 1600, 3000, 5000, 10000},
		},
		[]string{"op"},
	)

	lockContentionTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "subscriber_lock_contention_total",
			Help: "Guard acquisitions rejected because the subscriber was busy.",
		},
	)
)

func ObserveProvisionCall(op string, latencyMs int64, success bool) {
	provisionCallsTotal.WithLabelValues(norm(op), strconv.FormatBool(success)).Inc()
	provisionLatencyMs.WithLabelValues(norm(op)).Observe(float64(latencyMs))
}

func IncLockContention() { lockContentionTotal.Inc() }
