package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const checkTimeout = 2 * time.Second

// RowQuerier is the part of a pgx pool the health checks use.
type RowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type poolStater interface {
	Stat() *pgxpool.Stat
}

type HealthCheck struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	GitCommit string                 `json:"git_commit"`
	Checks    map[string]CheckResult `json:"checks"`
	Timestamp string                 `json:"timestamp"`
}

type CheckResult struct {
	Status    string         `json:"status"`
	Message   string         `json:"message,omitempty"`
	LatencyMs int64          `json:"latency_ms"`
	Details   map[string]any `json:"details,omitempty"`
}

// HealthChecker reports on the database, the migration state and the job
// queue. The queue check is a warning when no River client runs.
type HealthChecker struct {
	db        RowQuerier
	queue     bool
	version   string
	gitCommit string
	now       func() time.Time
}

func NewHealthChecker(db RowQuerier, queueEnabled bool, version, gitCommit string) *HealthChecker {
	return &HealthChecker{db: db, queue: queueEnabled, version: version, gitCommit: gitCommit, now: time.Now}
}

// Readyz runs every check and answers 503 when one fails.
func (h *HealthChecker) Readyz() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Context().Err() != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting_down"})
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		checks := map[string]CheckResult{
			"database":   h.checkDatabase(ctx),
			"migrations": h.checkMigrations(ctx),
			"job_queue":  h.checkJobQueue(ctx),
		}

		status, code := "healthy", http.StatusOK
		for _, check := range checks {
			if check.Status == "fail" {
				status, code = "unhealthy", http.StatusServiceUnavailable
				break
			}
			if check.Status == "warn" {
				status = "degraded"
			}
		}

		writeJSON(w, code, HealthCheck{
			Status:    status,
			Version:   h.version,
			GitCommit: h.gitCommit,
			Checks:    checks,
			Timestamp: h.now().UTC().Format(time.RFC3339),
		})
	})
}

func (h *HealthChecker) checkDatabase(ctx context.Context) CheckResult {
	if h.db == nil {
		return CheckResult{Status: "fail", Message: "Database pool not initialized"}
	}
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	var one int
	err := h.db.QueryRow(ctx, "SELECT 1").Scan(&one)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		message := "Database query failed"
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			message = "Database query timed out"
		}
		return CheckResult{Status: "fail", Message: message, LatencyMs: latency, Details: map[string]any{"error": err.Error()}}
	}

	result := CheckResult{Status: "pass", Message: "PostgreSQL connection successful", LatencyMs: latency}
	if p, ok := h.db.(poolStater); ok {
		stats := p.Stat()
		result.Details = map[string]any{
			"max_connections":      stats.MaxConns(),
			"total_connections":    stats.TotalConns(),
			"idle_connections":     stats.IdleConns(),
			"acquired_connections": stats.AcquiredConns(),
		}
	}
	return result
}

func (h *HealthChecker) checkMigrations(ctx context.Context) CheckResult {
	if h.db == nil {
		return CheckResult{Status: "fail", Message: "Database pool not initialized"}
	}
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	var (
		version int64
		dirty   bool
	)
	err := h.db.QueryRow(ctx, `SELECT version, dirty FROM schema_migrations ORDER BY version DESC LIMIT 1`).Scan(&version, &dirty)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CheckResult{Status: "fail", Message: "No migrations applied", LatencyMs: latency,
				Details: map[string]any{"remediation": "Run: server migrate up"}}
		}
		return CheckResult{Status: "fail", Message: "Failed to query migration version", LatencyMs: latency,
			Details: map[string]any{"error": err.Error()}}
	}
	if dirty {
		return CheckResult{Status: "fail", Message: "Database in dirty migration state", LatencyMs: latency,
			Details: map[string]any{"version": version, "dirty": true}}
	}
	return CheckResult{
		Status:    "pass",
		Message:   fmt.Sprintf("Migrations applied (version %d)", version),
		LatencyMs: latency,
		Details:   map[string]any{"version": version, "dirty": false},
	}
}

func (h *HealthChecker) checkJobQueue(ctx context.Context) CheckResult {
	if !h.queue {
		return CheckResult{Status: "warn", Message: "Job queue not running"}
	}
	if h.db == nil {
		return CheckResult{Status: "fail", Message: "Database pool not initialized"}
	}
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	var active int64
	err := h.db.QueryRow(ctx, `SELECT count(*) FROM river_job WHERE state = ANY($1)`, []string{"available", "running"}).Scan(&active)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return CheckResult{Status: "fail", Message: "Failed to query job queue", LatencyMs: latency,
			Details: map[string]any{"error": err.Error()}}
	}
	return CheckResult{Status: "pass", Message: "River job queue operational", LatencyMs: latency,
		Details: map[string]any{"active_jobs": active}}
}

// Healthz is the liveness probe.
func Healthz() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}
