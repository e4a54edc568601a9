package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		reconcilePassesTotal,
		reconcileUsersTotal,
		subscriptionsExpiredTotal,
		activationRetriesTotal,
	)
}

var (
	reconcilePassesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_passes_total",
			Help: "Full sync passes by trigger (startup/unhealthy/manual).",
		},
		[]string{"trigger"},
	)

	reconcileUsersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_users_total",
			Help: "Per-user reconciliation outcomes within full sync passes.",
		},
		[]string{"result"},
	)

	subscriptionsExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "subscriptions_expired_total",
			Help: "Subscriptions flipped to expired by the sweep worker.",
		},
	)

	activationRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activation_retries_total",
			Help: "Background provisioning retries by result.",
		},
		[]string{"result"},
	)
)

func IncReconcilePass(trigger string) {
	reconcilePassesTotal.WithLabelValues(norm(trigger)).Inc()
}

func AddReconcileUsers(result string, n int) {
	reconcileUsersTotal.WithLabelValues(norm(result)).Add(float64(n))
}

func IncSubscriptionsExpired(n int) {
	subscriptionsExpiredTotal.Add(float64(n))
}

func IncActivationRetry(result string) {
	activationRetriesTotal.WithLabelValues(norm(result)).Inc()
}
