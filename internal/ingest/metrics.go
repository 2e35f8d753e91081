package ingest

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type ingestMetrics struct {
	LogsIngested     prometheus.Counter
	BatchesRejected  prometheus.Counter
	InsertRetries    prometheus.Counter
	AsyncDropped     prometheus.Counter
	ScanJobsEnqueued prometheus.Counter
	ScansProcessed   prometheus.Counter
	DetectionsFound  prometheus.Counter
}

var (
	ingestMetricsOnce sync.Once
	ingestMetricsInst *ingestMetrics
)

func mIngest() *ingestMetrics {
	ingestMetricsOnce.Do(func() {
		ingestMetricsInst = &ingestMetrics{
			LogsIngested: promauto.NewCounter(prometheus.CounterOpts{
				Name: "logtide_ingest_logs_total",
				Help: "Log records durably written",
			}),
			BatchesRejected: promauto.NewCounter(prometheus.CounterOpts{
				Name: "logtide_ingest_batches_rejected_total",
				Help: "Batches rejected by validation",
			}),
			InsertRetries: promauto.NewCounter(prometheus.CounterOpts{
				Name: "logtide_ingest_insert_retries_total",
				Help: "Batch inserts retried after a transient failure",
			}),
			AsyncDropped: promauto.NewCounter(prometheus.CounterOpts{
				Name: "logtide_ingest_async_dropped_total",
				Help: "Post-commit side effects dropped due to pool saturation",
			}),
			ScanJobsEnqueued: promauto.NewCounter(prometheus.CounterOpts{
				Name: "logtide_ingest_scan_jobs_total",
				Help: "Detection-scan jobs enqueued",
			}),
			ScansProcessed: promauto.NewCounter(prometheus.CounterOpts{
				Name: "logtide_scan_jobs_processed_total",
				Help: "Detection-scan jobs completed",
			}),
			DetectionsFound: promauto.NewCounter(prometheus.CounterOpts{
				Name: "logtide_scan_detections_total",
				Help: "Detection events emitted by scans",
			}),
		}
	})
	return ingestMetricsInst
}
