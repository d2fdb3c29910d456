package ocr

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "folio_ocr_engine_requests_total",
			Help: "Total number of OCR engine requests by outcome",
		},
		[]string{"status"},
	)

	requestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "folio_ocr_engine_request_duration_seconds",
			Help:    "Latency of OCR engine requests",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)
)

func recordRequest(status string, elapsed time.Duration) {
	requestsTotal.WithLabelValues(status).Inc()
	requestDuration.Observe(elapsed.Seconds())
}
