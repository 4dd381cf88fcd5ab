package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	syncEntitiesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kpisync_sync_entities_total",
			Help: "Entities processed by sync runs, by result.",
		},
		[]string{"result"},
	)
	syncRowsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kpisync_sync_rows_total",
			Help: "Rows copied from remote sources into local stores.",
		},
	)
	syncDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kpisync_sync_duration_seconds",
			Help:    "Wall time of whole sync runs.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
	)
	catalogEntriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kpisync_catalog_entries_written_total",
			Help: "Catalog entries written by rebuilds.",
		},
	)
	describerFallbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kpisync_describer_fallbacks_total",
			Help: "Column descriptions that fell back to the templated text.",
		},
	)
	assistantQuestionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kpisync_assistant_questions_total",
			Help: "Questions answered by the assistant, by terminal state.",
		},
		[]string{"state"},
	)
	completionLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kpisync_completion_latency_seconds",
			Help:    "Completion service round trip latency.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80, 120, 250},
		},
		[]string{"provider", "outcome"},
	)
	indicatorResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kpisync_indicator_resolutions_total",
			Help: "Indicator resolutions, by outcome.",
		},
		[]string{"outcome"},
	)
	snapshotExportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kpisync_snapshot_exports_total",
			Help: "Parquet snapshot exports, by result.",
		},
		[]string{"result"},
	)
	snapshotBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kpisync_snapshot_bytes_total",
			Help: "Bytes written to object storage by snapshot exports.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		syncEntitiesTotal,
		syncRowsTotal,
		syncDurationSeconds,
		catalogEntriesTotal,
		describerFallbacksTotal,
		assistantQuestionsTotal,
		completionLatencySeconds,
		indicatorResolutionsTotal,
		snapshotExportsTotal,
		snapshotBytesTotal,
	)
}

func ObserveSyncRun(synced, failed int, rows int64, elapsed time.Duration) {
	if synced > 0 {
		syncEntitiesTotal.WithLabelValues("synced").Add(float64(synced))
	}
	if failed > 0 {
		syncEntitiesTotal.WithLabelValues("failed").Add(float64(failed))
	}
	if rows > 0 {
		syncRowsTotal.Add(float64(rows))
	}
	syncDurationSeconds.Observe(elapsed.Seconds())
}

func ObserveCatalogRebuild(entries, fallbacks int) {
	if entries > 0 {
		catalogEntriesTotal.Add(float64(entries))
	}
	if fallbacks > 0 {
		describerFallbacksTotal.Add(float64(fallbacks))
	}
}

func ObserveQuestion(state string) {
	assistantQuestionsTotal.WithLabelValues(state).Inc()
}

func ObserveCompletion(provider string, err error, elapsed time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	completionLatencySeconds.WithLabelValues(provider, outcome).Observe(elapsed.Seconds())
}

func ObserveIndicator(outcome string) {
	indicatorResolutionsTotal.WithLabelValues(outcome).Inc()
}

func ObserveSnapshotExport(bytes int64, err error) {
	if err != nil {
		snapshotExportsTotal.WithLabelValues("failed").Inc()
		return
	}
	snapshotExportsTotal.WithLabelValues("exported").Inc()
	snapshotBytesTotal.Add(float64(bytes))
}
