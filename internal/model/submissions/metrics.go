package submissions

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"max.ks1230/grants-portal/internal/model/customerr"
)

var (
	histogramSubmitTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "grants",
			Subsystem: "submissions",
			Name:      "histogram_submit_time_seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"outcome"},
	)

	rejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "grants",
			Subsystem: "submissions",
			Name:      "rejected_total",
		},
		[]string{"kind"},
	)

	retriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "grants",
			Subsystem: "submissions",
			Name:      "commit_retries_total",
		},
	)
)

func observeSubmit(elapsed time.Duration, err error) {
	outcome := "accepted"
	if err != nil {
		outcome = "rejected"
		kind := customerr.KindOf(err)
		if kind == "" {
			kind = "unknown"
		}
		rejectedTotal.WithLabelValues(string(kind)).Inc()
	}
	histogramSubmitTime.WithLabelValues(outcome).Observe(elapsed.Seconds())
}
