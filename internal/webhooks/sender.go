package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/eventhorizon/server/internal/metrics"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	// SignatureHeader carries sha256=<hex hmac of the body> when a signing
	// secret is configured.
	SignatureHeader = "X-EventHorizon-Signature"
	EventHeader     = "X-EventHorizon-Event"

	DefaultTimeout   = 5 * time.Second
	DefaultUserAgent = "EventHorizon-Webhook/1.0"
)

// StatusError reports a non-2xx response from a receiver.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook %s responded with status %d", e.URL, e.StatusCode)
}

// SenderConfig configures a Sender. Zero values take the defaults.
type SenderConfig struct {
	Timeout       time.Duration
	UserAgent     string
	SigningSecret string
}

// Sender POSTs payloads to a single URL per call. It never retries.
type Sender struct {
	client    *http.Client
	userAgent string
	secret    []byte
	logger    zerolog.Logger
}

func NewSender(cfg SenderConfig, logger zerolog.Logger) *Sender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	var secret []byte
	if cfg.SigningSecret != "" {
		secret = []byte(cfg.SigningSecret)
	}
	return &Sender{
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		userAgent: cfg.UserAgent,
		secret:    secret,
		logger:    logger.With().Str("component", "webhook_sender").Logger(),
	}
}

// Send delivers one payload. Any 2xx response is success.
func (s *Sender) Send(ctx context.Context, url string, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set(EventHeader, payload.Event)
	if s.secret != nil {
		req.Header.Set(SignatureHeader, "sha256="+Sign(s.secret, body))
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	metrics.WebhookDeliveryDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.WebhookDeliveries.WithLabelValues("transport_error").Inc()
		return fmt.Errorf("post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.WebhookDeliveries.WithLabelValues("http_error").Inc()
		return &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	metrics.WebhookDeliveries.WithLabelValues("success").Inc()
	s.logger.Debug().
		Str("url", url).
		Str("event", payload.Event).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("webhook delivered")
	return nil
}

// Sign returns the hex HMAC-SHA256 of body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a SignatureHeader value against body.
func Verify(secret, body []byte, header string) bool {
	const prefix = "sha256="
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return false
	}
	want, err := hex.DecodeString(header[len(prefix):])
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), want)
}
