package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Requests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tripboard",
		Name:      "http_requests_total",
		Help:      "HTTP requests by route, method and status code.",
	}, []string{"route", "method", "code"})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tripboard",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})

	StoreOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tripboard",
		Name:      "store_operations_total",
		Help:      "Record store operations by backend, operation and result.",
	}, []string{"backend", "op", "result"})

	ChangeChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tripboard",
		Name:      "change_checks_total",
		Help:      "Change-detection answers, no_changes or full.",
	}, []string{"outcome"})

	ImageUploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tripboard",
		Name:      "image_uploads_total",
		Help:      "Stored ticket images by category.",
	}, []string{"category"})

	LiveSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tripboard",
		Name:      "live_subscribers",
		Help:      "Open live-feed websocket connections.",
	})
)

// ObserveStore records the result of one store call.
func ObserveStore(backend, op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	StoreOps.WithLabelValues(backend, op, result).Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
