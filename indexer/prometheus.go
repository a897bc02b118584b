package indexer

import (
	"net/http"

	"swap-metrics-indexer/config"
	"swap-metrics-indexer/logger"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "swap_indexer"

var (
	lastChainBlock = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_chain_block",
		Help:      "Chain head seen at the start of the last scan",
	})
	lastScannedBlock = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_scanned_block",
		Help:      "Persisted scan checkpoint",
	})
	windowsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "windows_processed_total",
		Help:      "Block windows fetched and persisted",
	})
	logsFetched = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "logs_fetched_total",
		Help:      "Contract logs returned by the node",
	})
	logsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "logs_skipped_total",
		Help:      "Logs dropped because their transaction could not be enriched",
	})
	rowsInserted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rows_inserted_total",
		Help:      "New rows written to the store",
	}, []string{"table"})
	scanFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scan_failures_total",
		Help:      "Scans aborted before the checkpoint was written",
	})
)

// InitMetricsServer exposes the collectors on their own address. It
// returns nil when no address is configured.
func InitMetricsServer(cfg *config.MetricsConfig) *http.Server {
	if len(cfg.PrometheusAddress) == 0 {
		return nil
	}

	r := mux.NewRouter()

	r.Path("/metrics").Handler(promhttp.Handler())

	srv := &http.Server{
		Addr:    cfg.PrometheusAddress,
		Handler: r,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Prometheus server error: %s", err)
		}
	}()

	return srv
}
