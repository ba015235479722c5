package metrics

import (
	"time"

	"github.com/OFFIS-RIT/linkgraph/pkg/graph"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EntitiesUpserted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linkgraph_entities_upserted_total",
		Help: "Total number of upserts, labelled by entity kind and outcome.",
	}, []string{"kind", "status"})

	DerivationSteps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linkgraph_derivation_steps_total",
		Help: "Total number of derivation steps run, labelled by step and outcome.",
	}, []string{"step", "status"})

	EdgesMerged = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linkgraph_edges_merged_total",
		Help: "Total number of edge merges issued by derivation, labelled by step.",
	}, []string{"step"})

	DanglingReferences = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linkgraph_dangling_references_total",
		Help: "Total number of events stored without participation edges.",
	})

	DerivationStepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "linkgraph_derivation_step_duration_ms",
		Help:    "Derivation step latency in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	}, []string{"step"})

	ExtractedNodes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "linkgraph_extract_nodes",
		Help:    "Number of nodes returned by bulk graph extraction.",
		Buckets: prometheus.ExponentialBuckets(10, 2, 10),
	})

	StoreQueries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linkgraph_store_queries_total",
		Help: "Total number of store operations, labelled by backend, operation and outcome.",
	}, []string{"backend", "op", "status"})

	StoreQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "linkgraph_store_query_duration_ms",
		Help:    "Store operation latency in milliseconds.",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 1000},
	}, []string{"backend", "op"})

	QueueMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linkgraph_queue_messages_total",
		Help: "Total number of queue messages handled, labelled by queue and outcome.",
	}, []string{"queue", "status"})

	ImportedLines = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linkgraph_import_lines_total",
		Help: "Total number of dataset lines imported, labelled by outcome.",
	}, []string{"status"})
)

func status(failed bool) string {
	if failed {
		return "error"
	}
	return "ok"
}

// Tracer feeds graph trace events into the collectors above.
type Tracer struct{}

func (Tracer) Record(ev graph.TraceEvent) {
	failed := ev.Error != ""
	switch ev.Kind {
	case graph.TraceEventUpsert:
		EntitiesUpserted.WithLabelValues(string(ev.EntityKind), status(failed)).Inc()
	case graph.TraceEventDeriveStep:
		DerivationSteps.WithLabelValues(ev.Step, status(failed)).Inc()
		EdgesMerged.WithLabelValues(ev.Step).Add(float64(ev.Edges))
		DerivationStepDuration.WithLabelValues(ev.Step).Observe(float64(ev.DurationMs))
	case graph.TraceEventDanglingReference:
		DanglingReferences.Inc()
	case graph.TraceEventExtract:
		ExtractedNodes.Observe(float64(ev.Nodes))
	}
}

// ObserveQuery matches store.QueryObserver.
func ObserveQuery(backend, op string, took time.Duration, err error) {
	StoreQueries.WithLabelValues(backend, op, status(err != nil)).Inc()
	StoreQueryDuration.WithLabelValues(backend, op).Observe(float64(took.Microseconds()) / 1000)
}
