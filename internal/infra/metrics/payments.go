package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		paymentsTotal,
		paymentsRevenueTotal,
		promoConsumedTotal,
		notificationsTotal,
	)
}

var (
	paymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_total",
			Help: "Finalization outcomes (finalized/duplicate/rejected).",
		},
		[]string{"outcome"},
	)

	paymentsRevenueTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "payments_revenue_total",
			Help: "Total monetary value of approved payments, minor units.",
		},
	)

	promoConsumedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "promo_consumed_total",
			Help: "Promo code uses consumed inside finalization transactions.",
		},
	)

	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Notification dispatch results (sent/skipped/failed) by kind.",
		},
		[]string{"kind", "result"},
	)
)

func IncPayment(outcome string) {
	paymentsTotal.WithLabelValues(norm(outcome)).Inc()
}

func AddPaymentRevenue(amount int64) {
	paymentsRevenueTotal.Add(float64(amount))
}

func IncPromoConsumed() { promoConsumedTotal.Inc() }

func IncNotification(kind, result string) {
	notificationsTotal.WithLabelValues(norm(kind), norm(result)).Inc()
}
