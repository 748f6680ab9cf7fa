package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	generationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nano_banana_generations_total",
			Help: "Generation attempts by driver and outcome kind (ok or error kind).",
		},
		[]string{"driver", "outcome"},
	)
	generationDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nano_banana_generation_duration_seconds",
			Help:    "Wall time of one generation including retries.",
			Buckets: []float64{1, 2.5, 5, 10, 20, 40, 80, 160, 320, 600},
		},
		[]string{"driver"},
	)
	imagesReturnedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nano_banana_images_returned_total",
			Help: "Images returned to callers by driver.",
		},
		[]string{"driver"},
	)
	imageFetchFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nano_banana_image_fetch_failures_total",
			Help: "Secondary image downloads that failed and were tolerated.",
		},
	)
	rejectedBusyTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nano_banana_submit_rejected_busy_total",
			Help: "Submits rejected because a generation was already in flight.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		generationsTotal,
		generationDurationSeconds,
		imagesReturnedTotal,
		imageFetchFailuresTotal,
		rejectedBusyTotal,
	)
}

func ObserveGeneration(driver, outcome string, images int, dur time.Duration) {
	if driver == "" {
		driver = "unknown"
	}
	generationsTotal.WithLabelValues(driver, outcome).Inc()
	generationDurationSeconds.WithLabelValues(driver).Observe(dur.Seconds())
	if images > 0 {
		imagesReturnedTotal.WithLabelValues(driver).Add(float64(images))
	}
}

func ImageFetchFailed(error) {
	imageFetchFailuresTotal.Inc()
}

func SubmitRejected() {
	rejectedBusyTotal.Inc()
}
