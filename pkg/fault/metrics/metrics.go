package metrics

import (
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// System metrics
	SystemMemoryUsage = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "system_memory_bytes",
		Help: "Current system memory usage",
	})

	SystemGoroutines = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "system_goroutines",
		Help: "Number of goroutines",
	})

	// Case index metrics
	CaseIndexSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "case_index_cases_total",
		Help: "Number of cases held by the similarity index",
	})

	CaseIndexVocabulary = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "case_index_vocabulary_size",
		Help: "Number of terms in the case index vocabulary",
	})

	CaseIndexRebuilds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "case_index_rebuilds_total",
		Help: "Number of full vector table rebuilds",
	})

	// Graph metrics
	GraphSeedsResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graph_seeds_resolved_total",
			Help: "Seed elements resolved against the knowledge graph",
		},
		[]string{"outcome"},
	)

	GraphPathsFound = promauto.NewCounter(prometheus.CounterOpts{
		Name: "graph_reasoning_paths_total",
		Help: "Reasoning paths produced by graph traversal",
	})
)

// UpdateSystemMetrics refreshes system-level gauges.
func UpdateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	SystemMemoryUsage.Set(float64(m.Alloc))
	SystemGoroutines.Set(float64(runtime.NumGoroutine()))
}
