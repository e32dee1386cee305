package webhook

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics holds the Prometheus instruments for the webhook server.
type metrics struct {
	requests *prometheus.CounterVec
	duration prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reviewd",
			Subsystem: "webhook",
			Name:      "requests_total",
			Help:      "Webhook requests by outcome.",
		}, []string{"outcome"}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "reviewd",
			Subsystem: "webhook",
			Name:      "request_duration_seconds",
			Help:      "Webhook request handling duration.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}
