// Package obs wires the core's Prometheus collectors and the chi-routed
// HTTP introspection surface (status, health, metrics) over C1-C6.
package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "orchestrator"

// ─── Inference ────────────────────────────────────────────────────────────

var (
	InferenceRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace:        namespace,
		Name:             "inference_requests_total",
		Help:             "Generation calls by tier and outcome.",
	},                []string{"tier", "outcome"})

	InferenceLatencySeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:              namespace,
		Name:                   "inference_latency_seconds",
		Help:                   "Per-request generation latency by tier.",
		Buckets:                prometheus.DefBuckets,
	},                      []string{"tier"})

	InferenceTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace:      namespace,
		Name:           "inference_tokens_total",
		Help:           "Prompt and completion tokens by tier and kind.",
	},              []string{"tier", "kind"})

	InferenceFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace:         namespace,
		Name:              "inference_fallbacks_total",
		Help:              "Generation calls that fell back to a secondary tier.",
	},                 []string{"primary_tier", "fallback_tier"})
)

// ─── Tasks ────────────────────────────────────────────────────────────────

var (
	TasksCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace:     namespace,
		Name:          "tasks_completed_total",
		Help:          "Tasks that reached a terminal status, by agent and status.",
	},             []string{"agent", "status"})

	TasksActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name: "tasks_active",
		Help: "Tasks currently running across all in-flight goal runs.",
	})

	GoalRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace:    namespace,
		Name:         "goal_runs_total",
		Help:         "Completed ExecuteGoal calls, partitioned by whether the run was partial.",
	},            []string{"partial"})

	GoalRunDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name: "goal_run_duration_seconds",
		Help: "Wall-clock duration of ExecuteGoal calls.",
		Buckets: prometheus.DefBuckets,
	})

	ParallelBatches = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name: "goal_run_parallel_batches",
		Help: "Number of scheduling batches a goal run took to settle.",
		Buckets: []float64{1, 2, 3, 4, 5, 6},
	})
)

// ─── Endpoints / slots ─────────────────────────────────────────────────────

var (
	EndpointSlotsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:          namespace,
		Name:               "endpoint_slots_active",
		Help:               "Currently held slots per tier.",
	},                  []string{"tier"})

	EndpointSlotsMax = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:       namespace,
		Name:            "endpoint_slots_max",
		Help:            "Configured slot capacity per tier.",
	},               []string{"tier"})

	EndpointRunning = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:      namespace,
		Name:           "endpoint_running",
		Help:           "1 if the endpoint's process is currently running, 0 otherwise.",
	},              []string{"tier"})

	EndpointHealthChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace:           namespace,
		Name:                "endpoint_health_checks_total",
		Help:                "Health probes by tier and outcome.",
	},                   []string{"tier", "outcome"})
)

// ─── Supervisor / reaper ───────────────────────────────────────────────────

var (
	SupervisorStarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace:       namespace,
		Name:            "supervisor_starts_total",
		Help:            "Endpoint start attempts by tier and outcome.",
	},               []string{"tier", "outcome"})

	SupervisorStops = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace:      namespace,
		Name:           "supervisor_stops_total",
		Help:           "Endpoint stop attempts by tier and outcome.",
	},              []string{"tier", "outcome"})

	ReaperSweeps = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name: "reaper_sweeps_total",
		Help: "Idle-sweep passes the reaper has run.",
	})

	ReaperShutdowns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace:      namespace,
		Name:           "reaper_shutdowns_total",
		Help:           "Endpoints the reaper stopped for being idle, by tier.",
	},              []string{"tier"})
)

// RecordGeneration updates the inference collectors after one llmadapter
// call settles, whether it succeeded or failed.
func RecordGeneration(tier, outcome string, latencySeconds float64) {
	InferenceRequests.WithLabelValues(tier, outcome).Inc()
	if outcome == "ok" {
		InferenceLatencySeconds.WithLabelValues(tier).Observe(latencySeconds)
	}
}
