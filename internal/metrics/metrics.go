package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the ads-kpi service.
type Metrics struct {
	// Ingestion
	FilesLoaded    prometheus.Counter
	FilesSkipped   prometheus.Counter
	FilesErrored   prometheus.Counter
	RowsInserted   prometheus.Counter
	IngestDuration prometheus.Histogram

	// KPI queries
	KPIQueries  *prometheus.CounterVec
	KPIDuration *prometheus.HistogramVec

	// Natural-language endpoint
	AskRequests *prometheus.CounterVec
}

// New creates and registers all metrics on the given registerer.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		FilesLoaded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_files_loaded_total",
			Help:      "Landing files successfully appended to the warehouse",
		}),
		FilesSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_files_skipped_total",
			Help:      "Landing files skipped because they were already loaded",
		}),
		FilesErrored: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_files_errored_total",
			Help:      "Landing files that failed schema or parse checks",
		}),
		RowsInserted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_rows_inserted_total",
			Help:      "Rows appended to the warehouse",
		}),
		IngestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_run_duration_seconds",
			Help:      "Duration of full ingestion runs",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		}),
		KPIQueries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kpi_queries_total",
			Help:      "KPI report computations by mode and outcome",
		}, []string{"mode", "status"}),
		KPIDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kpi_query_duration_seconds",
			Help:      "KPI report computation latency",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"mode"}),
		AskRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ask_requests_total",
			Help:      "Natural-language questions by intent match",
		}, []string{"matched"}),
	}
}

// Handler returns the HTTP handler for the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
