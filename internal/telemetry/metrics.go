package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	ItemsDiscovered    = prometheus.NewCounter(prometheus.CounterOpts{Name: "ingest_items_discovered_total", Help: "Work items upserted by discovery"})
	Transfers          = prometheus.NewCounter(prometheus.CounterOpts{Name: "ingest_transfers_total", Help: "Media transfers completed"})
	Transcriptions     = prometheus.NewCounter(prometheus.CounterOpts{Name: "ingest_transcriptions_total", Help: "Transcriptions completed"})
	StageFailures      = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "ingest_stage_failures_total", Help: "Per-stage item failures"}, []string{"stage"})
	PermanentFailures  = prometheus.NewCounter(prometheus.CounterOpts{Name: "ingest_permanent_failures_total", Help: "Items moved to permanent failure"})
	StuckResets        = prometheus.NewCounter(prometheus.CounterOpts{Name: "ingest_stuck_resets_total", Help: "Stuck items reset to failed by recovery"})
	QueueDepthGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "ingest_queue_depth", Help: "Unfinished items selected for the current run"})
	TransferredBytes   = prometheus.NewCounter(prometheus.CounterOpts{Name: "ingest_transferred_bytes_total", Help: "Bytes streamed into blob storage"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			ItemsDiscovered,
			Transfers,
			Transcriptions,
			StageFailures,
			PermanentFailures,
			StuckResets,
			QueueDepthGauge,
			TransferredBytes,
		)
	})
	return promhttp.Handler()
}
