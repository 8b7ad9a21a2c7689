package webhooks

import (
	"context"
	"sync"

	domain "github.com/eventhorizon/server/internal/domain/webhooks"
	"github.com/rs/zerolog"
)

// Dispatcher hands a payload off for delivery without blocking the caller
// on the receiver.
type Dispatcher interface {
	Dispatch(ctx context.Context, url string, payload Payload)
}

// Deliverer performs a single delivery.
type Deliverer interface {
	Send(ctx context.Context, url string, payload Payload) error
}

// AsyncDispatcher delivers each payload on its own goroutine. Failures are
// logged and dropped.
type AsyncDispatcher struct {
	sender Deliverer
	logger zerolog.Logger
	wg     sync.WaitGroup
}

func NewAsyncDispatcher(sender Deliverer, logger zerolog.Logger) *AsyncDispatcher {
	return &AsyncDispatcher{
		sender: sender,
		logger: logger.With().Str("component", "webhook_dispatcher").Logger(),
	}
}

// Dispatch starts the delivery and returns immediately. The request
// context's values are kept but its cancellation is not, so deliveries
// outlive the request that triggered them.
func (d *AsyncDispatcher) Dispatch(ctx context.Context, url string, payload Payload) {
	ctx = context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.sender.Send(ctx, url, payload); err != nil {
			d.logger.Warn().
				Err(err).
				Str("url", url).
				Str("event", payload.Event).
				Str("mission_id", payload.MissionID).
				Msg("webhook delivery failed")
		}
	}()
}

// Wait blocks until in-flight deliveries finish. Used during shutdown.
func (d *AsyncDispatcher) Wait() {
	d.wg.Wait()
}

// HookLister finds the active webhooks of an event.
type HookLister interface {
	ListActive(ctx context.Context, eventID string) ([]domain.Webhook, error)
}

// Publisher fans a payload out to every active webhook of an event.
type Publisher struct {
	hooks      HookLister
	dispatcher Dispatcher
	logger     zerolog.Logger
}

func NewPublisher(hooks HookLister, dispatcher Dispatcher, logger zerolog.Logger) *Publisher {
	return &Publisher{
		hooks:      hooks,
		dispatcher: dispatcher,
		logger:     logger.With().Str("component", "webhook_publisher").Logger(),
	}
}

// Publish never fails the caller; lookup errors are logged.
func (p *Publisher) Publish(ctx context.Context, eventID string, payload Payload) {
	hooks, err := p.hooks.ListActive(ctx, eventID)
	if err != nil {
		p.logger.Error().Err(err).Str("event_id", eventID).Msg("failed to load webhooks")
		return
	}
	for _, hook := range hooks {
		p.dispatcher.Dispatch(ctx, hook.URL, payload)
	}
}
