package jobs

import (
	"context"
	"fmt"

	"github.com/eventhorizon/server/internal/domain/developers"
	"github.com/eventhorizon/server/internal/webhooks"
	"github.com/riverqueue/river"
	"github.com/rs/zerolog"
)

// WebhookDeliveryArgs is one POST of a payload to one webhook URL.
type WebhookDeliveryArgs struct {
	URL     string           `json:"url"`
	Payload webhooks.Payload `json:"payload"`
}

func (WebhookDeliveryArgs) Kind() string { return JobKindWebhookDelivery }

// WebhookDeliveryWorker sends queued webhook payloads. A failure ends the
// job; it runs with a single attempt.
type WebhookDeliveryWorker struct {
	river.WorkerDefaults[WebhookDeliveryArgs]
	Sender webhooks.Deliverer
	Logger zerolog.Logger
}

func (WebhookDeliveryWorker) Kind() string { return JobKindWebhookDelivery }

func (w WebhookDeliveryWorker) Work(ctx context.Context, job *river.Job[WebhookDeliveryArgs]) error {
	if w.Sender == nil {
		return fmt.Errorf("webhook sender not configured")
	}
	if job == nil {
		return fmt.Errorf("webhook delivery job missing")
	}
	if err := w.Sender.Send(ctx, job.Args.URL, job.Args.Payload); err != nil {
		w.Logger.Warn().
			Err(err).
			Int64("job_id", job.ID).
			Str("url", job.Args.URL).
			Str("event", job.Args.Payload.Event).
			Str("mission_id", job.Args.Payload.MissionID).
			Msg("queued webhook delivery failed")
		return err
	}
	return nil
}

// APIKeyExpiryArgs triggers a purge of expired API keys.
type APIKeyExpiryArgs struct{}

func (APIKeyExpiryArgs) Kind() string { return JobKindAPIKeyExpiry }

// KeyExpirer deletes expired API keys and reports which were removed.
type KeyExpirer interface {
	ExpireAPIKeys(ctx context.Context) ([]developers.ExpiredKey, error)
}

// ExpiryNotifier tells an owner that one of their keys was removed.
type ExpiryNotifier interface {
	APIKeyExpired(ctx context.Context, key developers.ExpiredKey) error
}

// APIKeyExpiryWorker purges expired keys and emails their owners. Email
// failures are logged; the purge itself already happened.
type APIKeyExpiryWorker struct {
	river.WorkerDefaults[APIKeyExpiryArgs]
	Keys     KeyExpirer
	Notifier ExpiryNotifier
	Logger   zerolog.Logger
}

func (APIKeyExpiryWorker) Kind() string { return JobKindAPIKeyExpiry }

func (w APIKeyExpiryWorker) Work(ctx context.Context, job *river.Job[APIKeyExpiryArgs]) error {
	if w.Keys == nil {
		return fmt.Errorf("api key service not configured")
	}

	expired, err := w.Keys.ExpireAPIKeys(ctx)
	if err != nil {
		return fmt.Errorf("expire api keys: %w", err)
	}

	notified := 0
	for _, key := range expired {
		if w.Notifier == nil {
			break
		}
		if err := w.Notifier.APIKeyExpired(ctx, key); err != nil {
			w.Logger.Error().
				Err(err).
				Str("key_id", key.ID).
				Str("username", key.Username).
				Msg("failed to send api key expiry email")
			continue
		}
		notified++
	}

	if len(expired) > 0 {
		w.Logger.Info().
			Int("expired", len(expired)).
			Int("notified", notified).
			Msg("expired api keys purged")
	}
	return nil
}

// WorkerDeps carries the services the workers call into.
type WorkerDeps struct {
	Sender   webhooks.Deliverer
	Keys     KeyExpirer
	Notifier ExpiryNotifier
	Logger   zerolog.Logger
}

func NewWorkers(deps WorkerDeps) *river.Workers {
	logger := deps.Logger.With().Str("component", "jobs").Logger()
	workers := river.NewWorkers()
	river.AddWorker[WebhookDeliveryArgs](workers, WebhookDeliveryWorker{
		Sender: deps.Sender,
		Logger: logger,
	})
	river.AddWorker[APIKeyExpiryArgs](workers, APIKeyExpiryWorker{
		Keys:     deps.Keys,
		Notifier: deps.Notifier,
		Logger:   logger,
	})
	return workers
}
