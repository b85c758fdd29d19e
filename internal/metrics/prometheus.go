package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sportswire"

var (
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Polling cycles by result",
		},
		[]string{"result"},
	)

	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of completed polling cycles",
			Buckets:   prometheus.DefBuckets,
		},
	)

	StoriesFetchedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stories_fetched_total",
			Help:      "Feed items fetched",
		},
	)

	DuplicatesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicates_total",
			Help:      "Feed items dropped as already seen",
		},
	)

	StoriesRoutedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stories_routed_total",
			Help:      "Scored stories by delivery route",
		},
		[]string{"route"},
	)

	RewritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rewrites_total",
			Help:      "Story rewrites by status",
		},
		[]string{"status"},
	)

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifications delivered by channel",
		},
		[]string{"channel"},
	)

	AttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_attempts_total",
			Help:      "External operation attempts by kind and outcome",
		},
		[]string{"operation", "outcome"},
	)

	PendingRetries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_retries",
			Help:      "Operations waiting for a retry",
		},
	)

	BudgetSpend = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "budget_spend_dollars",
			Help:      "Accumulated spend by budget period",
		},
		[]string{"period"},
	)

	BudgetAlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "budget_alerts_total",
			Help:      "Budget alerts raised by period and level",
		},
		[]string{"period", "level"},
	)

	WorkflowActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workflow_active",
			Help:      "Workflow state (1 = active, 0 = paused)",
		},
	)
)

// RecordAttempt records one operation attempt.
func RecordAttempt(operation, outcome string) {
	AttemptsTotal.WithLabelValues(operation, outcome).Inc()
}

func SetPendingRetries(n int) {
	PendingRetries.Set(float64(n))
}

func SetBudgetSpend(period string, amount float64) {
	BudgetSpend.WithLabelValues(period).Set(amount)
}

func RecordBudgetAlert(period, level string) {
	BudgetAlertsTotal.WithLabelValues(period, level).Inc()
}

func SetWorkflowActive(active bool) {
	if active {
		WorkflowActive.Set(1)
		return
	}
	WorkflowActive.Set(0)
}
