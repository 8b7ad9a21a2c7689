package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("failed to parse audit line: %v\noutput: %s", err, buf.String())
	}
	return out
}

func TestLogger_Log(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	logger.now = func() time.Time { return fixed }

	logger.Log(Entry{
		Action:       "registration.approve",
		Actor:        "01HX12ORG",
		ResourceType: "registration",
		ResourceID:   "01HX12ABC123",
		IPAddress:    "192.168.1.1",
		Status:       "success",
	})

	got := decode(t, &buf)
	want := map[string]any{
		"audit":         true,
		"level":         "info",
		"action":        "registration.approve",
		"actor":         "01HX12ORG",
		"resource_type": "registration",
		"resource_id":   "01HX12ABC123",
		"ip_address":    "192.168.1.1",
		"status":        "success",
		"message":       "audit",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %v, want %v", k, got[k], v)
		}
	}
	if got["timestamp"] != fixed.Format(time.RFC3339) {
		t.Errorf("timestamp = %v, want %v", got["timestamp"], fixed.Format(time.RFC3339))
	}
}

func TestLogger_LogSuccessUsesContextIP(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf)
	ctx := WithClientIP(context.Background(), "10.0.0.1")

	logger.LogSuccess(ctx, "webhook.deleted", "alice", "webhook", "W1", map[string]string{
		"event": "star-party",
	})

	got := decode(t, &buf)
	if got["ip_address"] != "10.0.0.1" {
		t.Errorf("ip_address = %v, want 10.0.0.1", got["ip_address"])
	}
	details, ok := got["details"].(map[string]any)
	if !ok || details["event"] != "star-party" {
		t.Errorf("details = %v, want event=star-party", got["details"])
	}
}

func TestLogger_LogFailureIsWarning(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf)

	logger.LogFailure(context.Background(), "user.login", "bob", map[string]string{"reason": "invalid_password"})

	got := decode(t, &buf)
	if got["level"] != "warn" {
		t.Errorf("level = %v, want warn", got["level"])
	}
	if got["status"] != "failure" {
		t.Errorf("status = %v, want failure", got["status"])
	}
	if _, ok := got["ip_address"]; ok {
		t.Error("ip_address should be omitted when unknown")
	}
}

func TestLogger_NilIsNoop(t *testing.T) {
	var logger *Logger
	logger.LogSuccess(context.Background(), "x", "y", "z", "1", nil)
}

func TestRequestIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded chain", map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.2"}, "10.0.0.3:1234", "203.0.113.9"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.7"}, "10.0.0.3:1234", "198.51.100.7"},
		{"remote addr", nil, "192.0.2.1:5555", "192.0.2.1"},
		{"remote without port", nil, "192.0.2.1", "192.0.2.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := RequestIP(r); got != tt.want {
				t.Errorf("RequestIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMiddlewareStoresIP(t *testing.T) {
	var seen string
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ClientIP(r.Context())
	}))
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.10:80"

	h.ServeHTTP(httptest.NewRecorder(), r)

	if seen != "192.0.2.10" {
		t.Errorf("ClientIP = %q, want 192.0.2.10", seen)
	}
}
