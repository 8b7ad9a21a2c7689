package webhooks

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound  = errors.New("webhook not found")
	ErrForbidden = errors.New("only the event organizer can manage webhooks")
)

// Webhook is an organizer-configured URL notified about registrations of
// one event.
type Webhook struct {
	ID        string
	EventID   string
	EventSlug string
	URL       string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Repository interface {
	Create(ctx context.Context, w Webhook) (*Webhook, error)
	Get(ctx context.Context, id string) (*Webhook, error)
	UpdateURL(ctx context.Context, id, url string) (*Webhook, error)
	SetActive(ctx context.Context, id string, active bool) (*Webhook, error)
	Delete(ctx context.Context, id string) error
	ListByEvent(ctx context.Context, eventID string) ([]Webhook, error)
	ListActiveByEvent(ctx context.Context, eventID string) ([]Webhook, error)
}
