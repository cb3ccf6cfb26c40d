package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// StoreUpserts counts records passed to the entity store, by outcome
	// (applied, skipped, dropped).
	StoreUpserts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vulnintel",
			Name:      "store_upserts_total",
			Help:      "Total number of records handled by entity store upserts",
		},
		[]string{"entity", "outcome"},
	)

	// StoreErrors counts batches rolled back by a storage failure
	StoreErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vulnintel",
			Name:      "store_errors_total",
			Help:      "Total number of entity store batches rolled back",
		},
		[]string{"entity"},
	)

	// FeedRecords counts records fetched from external feeds
	FeedRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vulnintel",
			Name:      "feed_records_total",
			Help:      "Total number of records fetched from external feeds",
		},
		[]string{"feed", "outcome"},
	)

	// StageRuns counts workflow stage executions
	StageRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vulnintel",
			Name:      "workflow_stage_runs_total",
			Help:      "Total number of workflow stage executions",
		},
		[]string{"stage"},
	)

	// ReflexionCycles counts critique-driven retries of technique mapping
	ReflexionCycles = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vulnintel",
			Name:      "workflow_reflexion_cycles_total",
			Help:      "Total number of technique mapping retries triggered by critique",
		},
	)

	// WorkflowRuns counts finished workflow runs, by result
	WorkflowRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vulnintel",
			Name:      "workflow_runs_total",
			Help:      "Total number of finished assessment workflows",
		},
		[]string{"result"},
	)

	// ReasoningFailures counts failed reasoning calls, by task
	ReasoningFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vulnintel",
			Name:      "reasoning_failures_total",
			Help:      "Total number of reasoning calls that failed after retries",
		},
		[]string{"task"},
	)

	// DegradedInputs counts scores computed from defaulted inputs
	DegradedInputs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vulnintel",
			Name:      "degraded_inputs_total",
			Help:      "Total number of risk scores computed with a defaulted input",
		},
		[]string{"input"},
	)

	// Ensure metrics are only registered once
	once sync.Once
)

// InitMetrics registers all metrics with the global Prometheus registry
// This function is idempotent and can be called multiple times safely
func InitMetrics() {
	once.Do(func() {
		prometheus.DefaultRegisterer.Register(StoreUpserts)
		prometheus.DefaultRegisterer.Register(StoreErrors)
		prometheus.DefaultRegisterer.Register(FeedRecords)
		prometheus.DefaultRegisterer.Register(StageRuns)
		prometheus.DefaultRegisterer.Register(ReflexionCycles)
		prometheus.DefaultRegisterer.Register(WorkflowRuns)
		prometheus.DefaultRegisterer.Register(ReasoningFailures)
		prometheus.DefaultRegisterer.Register(DegradedInputs)
	})
}
