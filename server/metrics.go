package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	processed       *prometheus.CounterVec
	processDuration prometheus.Histogram
	requestDuration *prometheus.HistogramVec
}

func newMetrics(registry prometheus.Registerer) *metrics {
	m := &metrics{
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rembg_images_processed_total",
			Help: "Images handled by /api/remove, by result.",
		}, []string{"result"}),
		processDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rembg_processing_duration_seconds",
			Help:    "Time spent decoding, removing and encoding one image.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rembg_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status code.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5, 10},
		}, []string{"route", "code"}),
	}

	registry.MustRegister(m.processed, m.processDuration, m.requestDuration)
	return m
}
