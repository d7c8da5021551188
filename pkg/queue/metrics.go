package queue

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	enqueueTotal  *prometheus.CounterVec
	dispatchTotal *prometheus.CounterVec
	deadTotal     *prometheus.CounterVec

	dispatchLatency *prometheus.HistogramVec
}

var metricsSingleton = sync.OnceValue(func() *metrics {
	return &metrics{
		enqueueTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "queue",
			Name:      "enqueue_total",
			Help:      "Total number of jobs enqueued.",
		}, []string{"queue", "event"}),
		dispatchTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "queue",
			Name:      "dispatch_total",
			Help:      "Total number of job dispatch attempts.",
		}, []string{"queue", "event", "result"}),
		deadTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "queue",
			Name:      "dead_total",
			Help:      "Total number of jobs moved to the dead list.",
		}, []string{"queue", "event"}),
		dispatchLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "queue",
			Name:      "dispatch_latency_seconds",
			Help:      "Latency distribution for job dispatch.",
			Buckets: []float64{
				0.001, 0.002, 0.005,
				0.01, 0.02, 0.05,
				0.1, 0.2, 0.5,
				1, 2, 5, 10,
			},
		}, []string{"queue", "event", "result"}),
	}
})

func getMetrics() *metrics {
	return metricsSingleton()
}
