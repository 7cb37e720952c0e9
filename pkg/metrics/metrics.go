package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	vdcMigrator = "vdc_migrator"

	// Outcome metrics
	outcomesTotal = "outcomes_total"

	// Relocation metrics
	relocationDuration = "relocation_duration_seconds"
	taskPollsTotal     = "task_polls_total"

	// Labels
	statusLabel = "status"
	stageLabel  = "stage"
	stateLabel  = "state"
)

var outcomesTotalLabels = []string{
	statusLabel,
	stageLabel,
}

var relocationDurationLabels = []string{
	stateLabel,
}

/**
* Metrics definition
**/
var outcomesTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: vdcMigrator,
		Name:      outcomesTotal,
		Help:      "number of processed migration requests by status and furthest stage",
	},
	outcomesTotalLabels,
)

var relocationDurationMetric = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Subsystem: vdcMigrator,
		Name:      relocationDuration,
		Help:      "time from relocation submit to terminal task state",
		Buckets:   []float64{30, 60, 300, 900, 1800, 3600, 7200},
	},
	relocationDurationLabels,
)

var taskPollsTotalMetric = prometheus.NewCounter(
	prometheus.CounterOpts{
		Subsystem: vdcMigrator,
		Name:      taskPollsTotal,
		Help:      "number of relocation task status reads",
	},
)

func IncreaseOutcomesTotal(status, stage string) {
	labels := prometheus.Labels{
		statusLabel: status,
		stageLabel:  stage,
	}
	outcomesTotalMetric.With(labels).Inc()
}

func ObserveRelocationDuration(state string, d time.Duration) {
	labels := prometheus.Labels{
		stateLabel: state,
	}
	relocationDurationMetric.With(labels).Observe(d.Seconds())
}

func IncreaseTaskPolls() {
	taskPollsTotalMetric.Inc()
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(outcomesTotalMetric)
	prometheus.MustRegister(relocationDurationMetric)
	prometheus.MustRegister(taskPollsTotalMetric)
}
