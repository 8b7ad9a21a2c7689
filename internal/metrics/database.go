package metrics

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DBConnections = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections",
			Help:      "Database pool connections by state (open, in_use, idle, max)",
		},
		[]string{"state"},
	)

	DBQueryDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Repository call duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	DBErrors = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "db_errors_total",
			Help:      "Repository call failures by operation and cause",
		},
		[]string{"operation", "error_type"},
	)

	Registrations = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registrations",
			Help:      "Registrations across all events by status",
		},
		[]string{"status"},
	)
)

// registrationStatuses are always reported so a status that drops to zero
// does not keep its last value.
var registrationStatuses = []string{"registered", "waitlisted", "cancelled"}

// PoolSource is the part of a pgx pool the collector samples.
type PoolSource interface {
	Stat() *pgxpool.Stat
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// DBCollector samples pool statistics and registration totals on an
// interval.
type DBCollector struct {
	pool     PoolSource
	stopChan chan struct{}
	stopOnce sync.Once
}

func NewDBCollector(pool PoolSource) *DBCollector {
	return &DBCollector{
		pool:     pool,
		stopChan: make(chan struct{}),
	}
}

// Start collects immediately, then every interval until Stop or ctx ends.
func (c *DBCollector) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.collect(ctx)
	for {
		select {
		case <-ticker.C:
			c.collect(ctx)
		case <-c.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop is safe to call more than once.
func (c *DBCollector) Stop() {
	c.stopOnce.Do(func() { close(c.stopChan) })
}

func (c *DBCollector) collect(ctx context.Context) {
	if c.pool == nil {
		return
	}

	if stat := c.pool.Stat(); stat != nil {
		DBConnections.WithLabelValues("open").Set(float64(stat.TotalConns()))
		DBConnections.WithLabelValues("in_use").Set(float64(stat.AcquiredConns()))
		DBConnections.WithLabelValues("idle").Set(float64(stat.IdleConns()))
		DBConnections.WithLabelValues("max").Set(float64(stat.MaxConns()))
	}

	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	start := time.Now()
	counts, err := c.registrationCounts(queryCtx)
	RecordQuery("metrics.registration_counts", start, err)
	if err != nil {
		return
	}
	for _, status := range registrationStatuses {
		Registrations.WithLabelValues(status).Set(float64(counts[status]))
	}
}

func (c *DBCollector) registrationCounts(ctx context.Context) (map[string]int64, error) {
	rows, err := c.pool.Query(ctx, `SELECT status, count(*) FROM registrations GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int64, len(registrationStatuses))
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// RecordQuery records the duration and outcome of a repository call.
//
//	start := time.Now()
//	defer func() { metrics.RecordQuery("registrations.create", start, err) }()
func RecordQuery(operation string, start time.Time, err error) {
	DBQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())

	if err != nil {
		errorType := "query_error"
		switch {
		case errors.Is(err, context.Canceled):
			errorType = "canceled"
		case errors.Is(err, context.DeadlineExceeded):
			errorType = "timeout"
		}
		DBErrors.WithLabelValues(operation, errorType).Inc()
	}
}
