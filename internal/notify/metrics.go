package notify

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for the notification path.
type Metrics struct {
	ChunksPublished prometheus.Counter
	PublishErrors   prometheus.Counter
	Reconnects      prometheus.Counter
	Dispatches      prometheus.Counter
	CallbackErrors  prometheus.Counter
	Subscribers     prometheus.Gauge
}

// NewMetrics creates and registers all notification metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		ChunksPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "logtide_notify_chunks_published_total",
			Help: "Channel messages emitted on logs_new",
		}),
		PublishErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "logtide_notify_publish_errors_total",
			Help: "Failed pg_notify emissions",
		}),
		Reconnects: promauto.NewCounter(prometheus.CounterOpts{
			Name: "logtide_notify_listener_reconnects_total",
			Help: "Listener reconnect attempts",
		}),
		Dispatches: promauto.NewCounter(prometheus.CounterOpts{
			Name: "logtide_notify_dispatches_total",
			Help: "Notifications dispatched to subscribers",
		}),
		CallbackErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "logtide_notify_callback_errors_total",
			Help: "Subscriber callbacks that returned an error",
		}),
		Subscribers: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "logtide_notify_subscribers",
			Help: "Currently registered live subscribers",
		}),
	}
}

var (
	notifyMetrics     *Metrics
	notifyMetricsOnce sync.Once
)

func metricsNotify() *Metrics {
	notifyMetricsOnce.Do(func() {
		notifyMetrics = NewMetrics()
	})
	return notifyMetrics
}
