package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	pusherbot = "pusherbot"

	jobTransitionsTotal   = "job_transitions_total"
	activeJobs            = "active_jobs"
	channelTeardownsTotal = "channel_teardowns_total"
	gatewayErrorsTotal    = "gateway_errors_total"

	// Labels
	transitionLabel = "transition"
	statusLabel     = "status"
	resultLabel     = "result"
	operationLabel  = "operation"
)

// Transition names recorded by IncreaseJobTransitionMetric.
const (
	TransitionCreated    = "created"
	TransitionClaimed    = "claimed"
	TransitionCancelled  = "cancelled"
	TransitionCompleted  = "completed"
	TransitionForceClose = "force_closed"
	TransitionDeleted    = "deleted"
	TransitionReset      = "reset"
)

// Results recorded by IncreaseChannelTeardownMetric.
const (
	TeardownSucceeded = "succeeded"
	TeardownFailed    = "failed"
	TeardownCancelled = "cancelled"
)

/**
* Metrics definition
**/
var jobTransitionsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: pusherbot,
		Name:      jobTransitionsTotal,
		Help:      "number of successful job state transitions",
	},
	[]string{transitionLabel},
)

var activeJobsMetric = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Subsystem: pusherbot,
		Name:      activeJobs,
		Help:      "number of jobs on the board in each status",
	},
	[]string{statusLabel},
)

var channelTeardownsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: pusherbot,
		Name:      channelTeardownsTotal,
		Help:      "number of private channel teardowns by result",
	},
	[]string{resultLabel},
)

var gatewayErrorsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: pusherbot,
		Name:      gatewayErrorsTotal,
		Help:      "number of failed calls to the chat gateway",
	},
	[]string{operationLabel},
)

func IncreaseJobTransitionMetric(transition string) {
	jobTransitionsTotalMetric.With(prometheus.Labels{transitionLabel: transition}).Inc()
}

func UpdateActiveJobsMetric(status string, count int64) {
	activeJobsMetric.With(prometheus.Labels{statusLabel: status}).Set(float64(count))
}

func IncreaseChannelTeardownMetric(result string) {
	channelTeardownsTotalMetric.With(prometheus.Labels{resultLabel: result}).Inc()
}

func IncreaseGatewayErrorMetric(operation string) {
	gatewayErrorsTotalMetric.With(prometheus.Labels{operationLabel: operation}).Inc()
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(jobTransitionsTotalMetric)
	prometheus.MustRegister(activeJobsMetric)
	prometheus.MustRegister(channelTeardownsTotalMetric)
	prometheus.MustRegister(gatewayErrorsTotalMetric)
}
