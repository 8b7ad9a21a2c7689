package jobs

import (
	"context"

	"github.com/eventhorizon/server/internal/webhooks"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/rs/zerolog"
)

// Inserter is the part of the River client the dispatcher needs.
type Inserter interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
}

// QueueDispatcher enqueues one single-attempt job per webhook instead of
// delivering in-process.
type QueueDispatcher struct {
	client Inserter
	logger zerolog.Logger
}

func NewQueueDispatcher(client Inserter, logger zerolog.Logger) *QueueDispatcher {
	return &QueueDispatcher{
		client: client,
		logger: logger.With().Str("component", "webhook_queue").Logger(),
	}
}

// Dispatch never fails the caller; insert errors are logged and the
// delivery is dropped.
func (d *QueueDispatcher) Dispatch(ctx context.Context, url string, payload webhooks.Payload) {
	opts := InsertOptsForKind(JobKindWebhookDelivery)
	if _, err := d.client.Insert(ctx, WebhookDeliveryArgs{URL: url, Payload: payload}, &opts); err != nil {
		d.logger.Error().
			Err(err).
			Str("url", url).
			Str("event", payload.Event).
			Msg("failed to enqueue webhook delivery")
	}
}

var _ webhooks.Dispatcher = (*QueueDispatcher)(nil)
