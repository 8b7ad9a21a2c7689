package jobs

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/riverqueue/river/rivertype"
	"github.com/stretchr/testify/assert"
)

func newCapturingLogger() (*slog.Logger, *bytes.Buffer) {
	buf := new(bytes.Buffer)
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo})), buf
}

func TestErrorHandlerLogsFinalFailure(t *testing.T) {
	logger, buf := newCapturingLogger()
	h := NewErrorHandler(logger)

	res := h.HandleError(context.Background(), &rivertype.JobRow{ID: 4, Kind: JobKindAPIKeyExpiry, Attempt: 3, MaxAttempts: 3}, errors.New("db down"))

	assert.Nil(t, res)
	out := buf.String()
	assert.Contains(t, out, "level=ERROR")
	assert.Contains(t, out, "kind=api_key_expiry")
	assert.Contains(t, out, "final=true")
	assert.Contains(t, out, "db down")
}

func TestErrorHandlerQuietForWebhookDeliveries(t *testing.T) {
	logger, buf := newCapturingLogger()

	NewErrorHandler(logger).HandleError(context.Background(), &rivertype.JobRow{ID: 5, Kind: JobKindWebhookDelivery, Attempt: 1, MaxAttempts: 1}, errors.New("503"))

	assert.Empty(t, buf.String())
}

func TestErrorHandlerPanic(t *testing.T) {
	logger, buf := newCapturingLogger()

	res := NewErrorHandler(logger).HandlePanic(context.Background(), &rivertype.JobRow{ID: 6, Kind: JobKindAPIKeyExpiry}, "boom", "goroutine 1")

	assert.Nil(t, res)
	assert.Contains(t, buf.String(), "job panicked")
	assert.Contains(t, buf.String(), "panic=boom")
}

func TestErrorHandlerWithoutLogger(t *testing.T) {
	h := &ErrorHandler{}
	assert.NotPanics(t, func() {
		h.HandleError(context.Background(), &rivertype.JobRow{Kind: JobKindAPIKeyExpiry}, errors.New("x"))
		h.HandlePanic(context.Background(), &rivertype.JobRow{Kind: JobKindAPIKeyExpiry}, "x", "")
	})
}
