package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	unitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "folio_pipeline_units_total",
			Help: "OCR units (regions or fallback chunks) processed, by mode and status",
		},
		[]string{"mode", "status"},
	)

	pageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "folio_pipeline_page_duration_seconds",
			Help:    "Wall time of one page from detection to stitched text",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"mode"},
	)

	pagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "folio_pipeline_pages_total",
			Help: "Pages processed, by outcome",
		},
		[]string{"status"},
	)
)

func recordUnit(mode Mode, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	unitsTotal.WithLabelValues(string(mode), status).Inc()
}

func recordPage(mode Mode, elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	pagesTotal.WithLabelValues(status).Inc()
	if mode != "" {
		pageDuration.WithLabelValues(string(mode)).Observe(elapsed.Seconds())
	}
}
