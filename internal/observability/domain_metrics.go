package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	agentRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlagent_runs_total",
			Help: "Total number of agent runs by terminal outcome.",
		},
		[]string{"outcome"},
	)
	agentRunIterations = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sqlagent_run_iterations",
			Help:    "Tool-calling iterations consumed per agent run.",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 6, 8, 10, 15, 20},
		},
	)
	agentRunDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sqlagent_run_duration_seconds",
			Help:    "Wall time of agent runs in seconds.",
			Buckets: []float64{.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
		},
	)
	toolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlagent_tool_calls_total",
			Help: "Total number of tool calls dispatched by tool and result kind.",
		},
		[]string{"tool", "result"},
	)
	modelCallDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sqlagent_model_call_duration_seconds",
			Help:    "Model completion latency in seconds.",
			Buckets: []float64{.25, .5, 1, 2, 4, 8, 16, 32, 64},
		},
		[]string{"status"},
	)
	emptyRepliesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sqlagent_empty_replies_total",
			Help: "Model replies that carried neither content nor tool calls.",
		},
	)
	threadsEvictedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlagent_threads_evicted_total",
			Help: "Conversation threads removed by the idle janitor.",
		},
		[]string{"backend"},
	)
)

func init() {
	prometheus.MustRegister(
		agentRunsTotal,
		agentRunIterations,
		agentRunDurationSeconds,
		toolCallsTotal,
		modelCallDurationSeconds,
		emptyRepliesTotal,
		threadsEvictedTotal,
	)
}

func ObserveRun(outcome string, iterations int, elapsed time.Duration) {
	agentRunsTotal.WithLabelValues(outcome).Inc()
	agentRunIterations.Observe(float64(iterations))
	agentRunDurationSeconds.Observe(elapsed.Seconds())
}

func ObserveToolCall(tool, result string) {
	toolCallsTotal.WithLabelValues(tool, result).Inc()
}

func ObserveModelCall(elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	modelCallDurationSeconds.WithLabelValues(status).Observe(elapsed.Seconds())
}

func IncrementEmptyReply() {
	emptyRepliesTotal.Inc()
}

func AddThreadsEvicted(backend string, count int) {
	if count <= 0 {
		return
	}
	threadsEvictedTotal.WithLabelValues(backend).Add(float64(count))
}
