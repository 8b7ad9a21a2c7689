package jobs

import (
	"context"
	"log/slog"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
)

// ErrorHandler logs job failures. Webhook delivery failures are already
// logged by their worker with the target URL, so they are only noted at
// debug level here.
type ErrorHandler struct {
	Logger *slog.Logger
}

func NewErrorHandler(logger *slog.Logger) *ErrorHandler {
	return &ErrorHandler{Logger: logger}
}

func (h *ErrorHandler) HandleError(ctx context.Context, job *rivertype.JobRow, err error) *river.ErrorHandlerResult {
	if h.Logger == nil {
		return nil
	}
	level := slog.LevelError
	if job.Kind == JobKindWebhookDelivery {
		level = slog.LevelDebug
	}
	h.Logger.Log(ctx, level, "job failed",
		"job_id", job.ID,
		"kind", job.Kind,
		"attempt", job.Attempt,
		"max_attempts", job.MaxAttempts,
		"final", job.Attempt >= job.MaxAttempts,
		"error", err)
	return nil
}

func (h *ErrorHandler) HandlePanic(ctx context.Context, job *rivertype.JobRow, panicVal any, trace string) *river.ErrorHandlerResult {
	if h.Logger != nil {
		h.Logger.ErrorContext(ctx, "job panicked",
			"job_id", job.ID,
			"kind", job.Kind,
			"attempt", job.Attempt,
			"panic", panicVal,
			"trace", trace)
	}
	return nil
}
