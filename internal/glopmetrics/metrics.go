// Package glopmetrics exposes Prometheus collectors for the agent
// runtime: how often rules are attempted, how many transactions
// commit, and how scripts behave. Collectors are package-level and
// registered in init; the admin HTTP server mounts promhttp.Handler
// to serve them.
package glopmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// TicksTotal counts every rule-evaluation attempt, matched or not.
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "glop_agent_ticks_total",
			Help: "Total number of rule-evaluation attempts per agent.",
		},
		[]string{"agent"},
	)

	// TransactionsCommittedTotal counts successful commits.
	TransactionsCommittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "glop_transactions_committed_total",
			Help: "Total number of committed transactions per agent.",
		},
		[]string{"agent"},
	)

	// ScriptExecutionsTotal counts, by result, each Apply of a matched
	// rule that contains a script action.
	ScriptExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "glop_script_executions_total",
			Help: "Total number of script action executions per agent, labeled by outcome.",
		},
		[]string{"agent", "outcome"}, // outcome: success|failure
	)

	// ScriptDurationSeconds records the wall-clock time of each Apply of
	// a matched rule that contains a script action, including the time
	// its script subprocesses run.
	ScriptDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "glop_script_duration_seconds",
			Help:    "Script action subprocess duration in seconds.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		},
		[]string{"agent"},
	)

	// AgentsRunning is a gauge of currently registered agents.
	AgentsRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "glop_agents_running",
			Help: "Number of agents currently registered with the supervisor.",
		},
	)
)

func init() {
	prometheus.MustRegister(TicksTotal)
	prometheus.MustRegister(TransactionsCommittedTotal)
	prometheus.MustRegister(ScriptExecutionsTotal)
	prometheus.MustRegister(ScriptDurationSeconds)
	prometheus.MustRegister(AgentsRunning)
}

// Recorder implements glopagent.Metrics, translating agent-loop
// occurrences into the collectors above. The zero value is ready to
// use.
type Recorder struct{}

// ObserveTick implements glopagent.Metrics.
func (Recorder) ObserveTick(agent string) {
	TicksTotal.WithLabelValues(agent).Inc()
}

// ObserveCommit implements glopagent.Metrics.
func (Recorder) ObserveCommit(agent string, seq int64) {
	TransactionsCommittedTotal.WithLabelValues(agent).Inc()
}

// ObserveScript implements glopagent.Metrics.
func (Recorder) ObserveScript(agent string, success bool, d time.Duration) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	ScriptExecutionsTotal.WithLabelValues(agent, outcome).Inc()
	ScriptDurationSeconds.WithLabelValues(agent).Observe(d.Seconds())
}

// SetAgentsRunning updates the registered-agent gauge.
func SetAgentsRunning(n int) {
	AgentsRunning.Set(float64(n))
}
