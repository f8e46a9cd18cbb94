package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// decksIngested counts decks folded into the graph by game
	decksIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cardgraph_decks_ingested_total",
		Help: "Decks folded into the graph by game",
	}, []string{"game"})

	// decksSkipped counts decks rejected during ingestion by reason
	decksSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cardgraph_decks_skipped_total",
		Help: "Decks skipped during ingestion by reason",
	}, []string{"reason"})

	edgeUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cardgraph_edge_updates_total",
		Help: "Edge upserts by source and outcome",
	}, []string{"source", "outcome"})

	storeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cardgraph_store_duration_seconds",
		Help:    "Whole-graph load and save duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
	}, []string{"backend", "op"})

	storeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cardgraph_store_errors_total",
		Help: "Whole-store failures by backend and kind",
	}, []string{"backend", "kind"})

	graphSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cardgraph_graph_size",
		Help: "Nodes and edges held by the last loaded or saved graph",
	}, []string{"kind"})

	jobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cardgraph_job_runs_total",
		Help: "Scheduled job runs by job and outcome",
	}, []string{"job", "outcome"})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cardgraph_job_duration_seconds",
		Help:    "Scheduled job duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
	}, []string{"job"})
)

func DeckIngested(game string) {
	if game == "" {
		game = "unknown"
	}
	decksIngested.WithLabelValues(game).Inc()
}

func DeckSkipped(reason string) {
	decksSkipped.WithLabelValues(reason).Inc()
}

// EdgeUpdate records one edge upsert; source is "deck" or an integrator name.
func EdgeUpdate(source, outcome string) {
	edgeUpdates.WithLabelValues(source, outcome).Inc()
}

// StoreOp records the duration of a load or save and, when kind is not
// empty, a failure of that kind.
func StoreOp(backend, op string, start time.Time, kind string) {
	storeDuration.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
	if kind != "" {
		storeErrors.WithLabelValues(backend, kind).Inc()
	}
}

func GraphSize(nodes, edges int) {
	graphSize.WithLabelValues("nodes").Set(float64(nodes))
	graphSize.WithLabelValues("edges").Set(float64(edges))
}

// JobRun records one scheduled run; a nil err counts as success.
func JobRun(job string, start time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	jobRuns.WithLabelValues(job, outcome).Inc()
	jobDuration.WithLabelValues(job).Observe(time.Since(start).Seconds())
}

func Handler() http.Handler {
	return promhttp.Handler()
}
