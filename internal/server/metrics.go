package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "folio_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "folio_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Page OCR metrics
	ocrRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "folio_ocr_requests_total",
			Help: "Total number of page OCR requests",
		},
		[]string{"type", "status"}, // type: page, all, websocket; status: success, cached, partial, error
	)

	ocrProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "folio_ocr_processing_duration_seconds",
			Help:    "Page OCR duration in seconds",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 25, 50, 100, 300},
		},
		[]string{"type"},
	)

	ocrTextLength = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "folio_ocr_text_length",
			Help:    "Length of recognized page text",
			Buckets: []float64{0, 10, 50, 100, 500, 1000, 5000, 10000, 50000},
		},
		[]string{"type"},
	)

	ocrUnitsPerPage = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "folio_ocr_units_per_page",
			Help:    "Number of regions or fallback chunks recognized per page",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
		},
		[]string{"mode"},
	)

	// Rate limiting metrics
	rateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "folio_rate_limit_hits_total",
			Help: "Total number of rate limit hits",
		},
		[]string{"type"}, // type: minute, hour, requests, data
	)

	// Upload metrics
	uploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "folio_upload_size_bytes",
			Help:    "Size of uploaded files in bytes",
			Buckets: []float64{1024, 10 * 1024, 100 * 1024, 1024 * 1024, 10 * 1024 * 1024, 50 * 1024 * 1024, 100 * 1024 * 1024},
		},
	)

	uploadPagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "folio_upload_pages_total",
			Help: "Pages created from uploads",
		},
		[]string{"source"}, // source: image, pdf
	)

	// Export metrics
	exportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "folio_exports_total",
			Help: "DOCX exports",
		},
		[]string{"status"},
	)

	// WebSocket metrics
	websocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "folio_websocket_active_connections",
			Help: "Number of active WebSocket connections",
		},
	)

	websocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "folio_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // direction: sent, received
	)
)
