package attendance

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	marksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "attendance_marks_total", Help: "Attendance mark attempts by method and outcome"},
		[]string{"method", "outcome"},
	)
	backfillTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "attendance_backfill_items_total", Help: "Backfill items by outcome"},
		[]string{"outcome"},
	)
	recognitionLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "attendance_recognition_duration_seconds",
			Help:    "Latency of recognition gateway calls",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"result"},
	)
)

func init() { prometheus.MustRegister(marksTotal, backfillTotal, recognitionLatency) }
