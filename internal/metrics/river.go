package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
)

// Background job metrics
var (
	JobsQueued = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_queued_total",
			Help:      "Total number of background jobs queued",
		},
		[]string{"kind"},
	)

	JobsInFlight = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_in_flight",
			Help:      "Current number of background jobs executing",
		},
		[]string{"kind"},
	)

	JobDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Background job execution duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		},
		[]string{"kind"},
	)

	JobsCompleted = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_completed_total",
			Help:      "Total number of background jobs completed",
		},
		[]string{"kind", "result"}, // result: success, error
	)
)

// RiverHook feeds job lifecycle events into the job metrics.
type RiverHook struct {
	river.HookDefaults

	mu      sync.Mutex
	started map[int64]time.Time
}

func NewRiverHook() *RiverHook {
	return &RiverHook{started: make(map[int64]time.Time)}
}

func (h *RiverHook) InsertBegin(_ context.Context, params *rivertype.JobInsertParams) error {
	JobsQueued.WithLabelValues(params.Kind).Inc()
	return nil
}

func (h *RiverHook) WorkBegin(_ context.Context, job *rivertype.JobRow) error {
	JobsInFlight.WithLabelValues(job.Kind).Inc()
	h.mu.Lock()
	h.started[job.ID] = time.Now()
	h.mu.Unlock()
	return nil
}

func (h *RiverHook) WorkEnd(_ context.Context, job *rivertype.JobRow, err error) error {
	JobsInFlight.WithLabelValues(job.Kind).Dec()

	h.mu.Lock()
	start, ok := h.started[job.ID]
	delete(h.started, job.ID)
	h.mu.Unlock()
	if ok {
		JobDuration.WithLabelValues(job.Kind).Observe(time.Since(start).Seconds())
	}

	result := "success"
	if err != nil {
		result = "error"
	}
	JobsCompleted.WithLabelValues(job.Kind, result).Inc()
	return nil
}
