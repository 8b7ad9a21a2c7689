package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	healthcheckCmd = &cobra.Command{
		Use:   "healthcheck",
		Short: "Check if the server is healthy",
		Long: `Performs a health check by calling the /readyz endpoint.

This command is used by Docker HEALTHCHECK to monitor container health.
It exits with code 0 if the server reports "healthy" and non-zero otherwise.
A "degraded" server counts as unhealthy.`,
		RunE: runHealthcheck,
	}

	healthcheckTimeout    int
	healthcheckURL        string
	healthcheckRetries    int
	healthcheckRetryDelay time.Duration
)

func init() {
	healthcheckCmd.Flags().IntVar(&healthcheckTimeout, "timeout", 5, "timeout in seconds per attempt")
	healthcheckCmd.Flags().StringVar(&healthcheckURL, "url", "", "health check URL (default: http://localhost:{SERVER_PORT}/readyz)")
	healthcheckCmd.Flags().IntVar(&healthcheckRetries, "retries", 1, "number of attempts before giving up")
	healthcheckCmd.Flags().DurationVar(&healthcheckRetryDelay, "retry-delay", 2*time.Second, "delay between attempts")
}

// HealthResponse matches the /readyz body.
type HealthResponse struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthCheckResult is the outcome of one attempt.
type HealthCheckResult struct {
	URL       string
	IsHealthy bool
	Status    string
	Error     string
	LatencyMs int64
}

func runHealthcheck(cmd *cobra.Command, args []string) error {
	result := performHealthCheckWithRetries(healthcheckTargetURL())
	if !result.IsHealthy {
		if result.Error != "" {
			return fmt.Errorf("health check failed: %s", result.Error)
		}
		return fmt.Errorf("unhealthy: status=%s", result.Status)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "healthy (%dms)\n", result.LatencyMs)
	return nil
}

func healthcheckTargetURL() string {
	if healthcheckURL != "" {
		return healthcheckURL
	}
	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8080"
	}
	return fmt.Sprintf("http://localhost:%s/readyz", port)
}

func performHealthCheckWithRetries(url string) HealthCheckResult {
	attempts := max(healthcheckRetries, 1)
	var result HealthCheckResult
	for i := range attempts {
		result = performHealthCheck(url)
		if result.IsHealthy {
			return result
		}
		if i < attempts-1 {
			time.Sleep(healthcheckRetryDelay)
		}
	}
	return result
}

func performHealthCheck(url string) HealthCheckResult {
	result := HealthCheckResult{URL: url}
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(healthcheckTimeout)*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		result.Error = err.Error()
		result.LatencyMs = time.Since(start).Milliseconds()
		return result
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		result.Error = err.Error()
		result.LatencyMs = time.Since(start).Milliseconds()
		return result
	}
	defer func() { _ = resp.Body.Close() }()

	var body HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		result.Error = fmt.Sprintf("invalid response (HTTP %d): %v", resp.StatusCode, err)
		result.LatencyMs = time.Since(start).Milliseconds()
		return result
	}
	result.Status = body.Status
	result.IsHealthy = resp.StatusCode == http.StatusOK && body.Status == "healthy"
	result.LatencyMs = time.Since(start).Milliseconds()
	return result
}
