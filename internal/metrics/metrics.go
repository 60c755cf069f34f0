package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "rehab_"

	ResultSuccess      = "success"
	ResultError        = "error"
	ResultUnauthorized = "unauthorized"
	ResultBadRequest   = "bad_request"

	PollDelivered = "delivered"
	PollEmpty     = "empty"
)

var (
	registerOnce sync.Once

	ingestRequests *prometheus.CounterVec
	commandPolls   *prometheus.CounterVec
	commandEnqueue *prometheus.CounterVec
	stateReads     prometheus.Counter
)

// Init registers the synchronization-core metrics. Safe to call more
// than once.
func Init() {
	registerOnce.Do(func() {
		ingestRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "telemetry_ingest_total",
				Help: "Telemetry ingest requests by result",
			},
			[]string{"result"},
		)
		commandPolls = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "command_polls_total",
				Help: "Device command polls by outcome",
			},
			[]string{"outcome"},
		)
		commandEnqueue = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "commands_enqueued_total",
				Help: "Commands enqueued by the clinical plane, by action",
			},
			[]string{"accion"},
		)
		stateReads = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "state_reads_total",
				Help: "Dashboard and device state reads",
			},
		)

		prometheus.MustRegister(ingestRequests, commandPolls, commandEnqueue, stateReads)
	})
}

// ObserveIngest counts one telemetry ingest request.
func ObserveIngest(result string) {
	if ingestRequests != nil {
		ingestRequests.WithLabelValues(result).Inc()
	}
}

// ObservePoll counts one command poll.
func ObservePoll(outcome string) {
	if commandPolls != nil {
		commandPolls.WithLabelValues(outcome).Inc()
	}
}

// ObserveEnqueue counts one enqueued command.
func ObserveEnqueue(accion string) {
	if commandEnqueue != nil {
		commandEnqueue.WithLabelValues(accion).Inc()
	}
}

// ObserveStateRead counts one state read.
func ObserveStateRead() {
	if stateReads != nil {
		stateReads.Inc()
	}
}
