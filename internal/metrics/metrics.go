package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	cyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quantaguard_cycles_total",
			Help: "Decision cycles by outcome",
		},
		[]string{"outcome"},
	)

	decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quantaguard_decisions_total",
			Help: "Persisted decisions by action and success",
		},
		[]string{"action", "success"},
	)

	riskBlocksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quantaguard_risk_blocks_total",
			Help: "Risk rule blocks by rule and gate",
		},
		[]string{"rule", "gate"},
	)

	stopLossTriggers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quantaguard_stop_loss_triggers_total",
			Help: "Forced closes by trigger and result",
		},
		[]string{"trigger", "result"},
	)

	taskRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quantaguard_task_runs_total",
			Help: "Scheduled task runs by result",
		},
		[]string{"task", "result"},
	)

	taskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quantaguard_task_duration_seconds",
			Help:    "Scheduled task duration",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"task"},
	)

	dailyPnlPct = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "quantaguard_daily_pnl_pct",
		Help: "Realized P&L today as a fraction of portfolio value",
	})

	consecutiveLosses = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "quantaguard_consecutive_losses",
		Help: "Current losing streak",
	})

	portfolioValue = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "quantaguard_portfolio_value_usd",
		Help: "Total portfolio value at the last snapshot",
	})
)

func init() {
	prometheus.MustRegister(
		cyclesTotal,
		decisionsTotal,
		riskBlocksTotal,
		stopLossTriggers,
		taskRuns,
		taskDuration,
		dailyPnlPct,
		consecutiveLosses,
		portfolioValue,
	)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordCycle(outcome string) {
	cyclesTotal.WithLabelValues(outcome).Inc()
}

func RecordDecision(action string, success bool) {
	s := "false"
	if success {
		s = "true"
	}
	decisionsTotal.WithLabelValues(action, s).Inc()
}

func RecordRiskBlock(rule, gate string) {
	riskBlocksTotal.WithLabelValues(rule, gate).Inc()
}

func RecordStopLoss(trigger, result string) {
	stopLossTriggers.WithLabelValues(trigger, result).Inc()
}

// RecordTaskRun counts a run. result is one of ok, error, skipped, timeout.
func RecordTaskRun(task, result string, seconds float64) {
	taskRuns.WithLabelValues(task, result).Inc()
	if result != "skipped" {
		taskDuration.WithLabelValues(task).Observe(seconds)
	}
}

func UpdateRiskContext(pnlPct float64, losses int) {
	dailyPnlPct.Set(pnlPct)
	consecutiveLosses.Set(float64(losses))
}

func UpdatePortfolioValue(v float64) {
	portfolioValue.Set(v)
}
