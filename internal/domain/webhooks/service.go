package webhooks

import (
	"context"
	"fmt"
	"strings"

	"github.com/eventhorizon/server/internal/audit"
	"github.com/eventhorizon/server/internal/domain/events"
	"github.com/eventhorizon/server/internal/domain/ids"
	"github.com/eventhorizon/server/internal/validation"
	"github.com/rs/zerolog"
)

// EventFinder loads events by slug.
type EventFinder interface {
	Get(ctx context.Context, slug, viewerID string) (*events.Event, error)
}

// Service manages webhooks. Every operation is limited to the organizer
// of the webhook's event.
type Service struct {
	repo   Repository
	events EventFinder
	audit  *audit.Logger
	logger zerolog.Logger
}

func NewService(repo Repository, finder EventFinder, auditLogger *audit.Logger, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		events: finder,
		audit:  auditLogger,
		logger: logger.With().Str("component", "webhooks").Logger(),
	}
}

// Create registers a new active webhook for the event.
func (s *Service) Create(ctx context.Context, slug, actorID, rawURL string) (*Webhook, error) {
	event, err := s.organizedEvent(ctx, slug, actorID)
	if err != nil {
		return nil, err
	}
	target, err := cleanURL(rawURL)
	if err != nil {
		return nil, err
	}

	id, err := ids.NewULID()
	if err != nil {
		return nil, fmt.Errorf("generate webhook id: %w", err)
	}
	hook, err := s.repo.Create(ctx, Webhook{ID: id, EventID: event.ID, URL: target, IsActive: true})
	if err != nil {
		return nil, fmt.Errorf("create webhook: %w", err)
	}
	hook.EventSlug = event.Slug
	s.record(ctx, "webhook.created", actorID, hook)
	return hook, nil
}

// ListForEvent returns every webhook of the event, active or not.
func (s *Service) ListForEvent(ctx context.Context, slug, actorID string) ([]Webhook, error) {
	event, err := s.organizedEvent(ctx, slug, actorID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListByEvent(ctx, event.ID)
}

// Get returns a webhook the actor may manage.
func (s *Service) Get(ctx context.Context, id, actorID string) (*Webhook, error) {
	hook, err := s.repo.Get(ctx, ids.Normalize(id))
	if err != nil {
		return nil, err
	}
	if _, err := s.organizedEvent(ctx, hook.EventSlug, actorID); err != nil {
		return nil, err
	}
	return hook, nil
}

// Update changes the target URL.
func (s *Service) Update(ctx context.Context, id, actorID, rawURL string) (*Webhook, error) {
	hook, err := s.Get(ctx, id, actorID)
	if err != nil {
		return nil, err
	}
	target, err := cleanURL(rawURL)
	if err != nil {
		return nil, err
	}
	updated, err := s.repo.UpdateURL(ctx, hook.ID, target)
	if err != nil {
		return nil, fmt.Errorf("update webhook: %w", err)
	}
	s.record(ctx, "webhook.updated", actorID, updated)
	return updated, nil
}

// Toggle flips is_active and returns the new state.
func (s *Service) Toggle(ctx context.Context, id, actorID string) (*Webhook, error) {
	hook, err := s.Get(ctx, id, actorID)
	if err != nil {
		return nil, err
	}
	updated, err := s.repo.SetActive(ctx, hook.ID, !hook.IsActive)
	if err != nil {
		return nil, fmt.Errorf("toggle webhook: %w", err)
	}
	s.record(ctx, "webhook.toggled", actorID, updated)
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, id, actorID string) (*Webhook, error) {
	hook, err := s.Get(ctx, id, actorID)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Delete(ctx, hook.ID); err != nil {
		return nil, fmt.Errorf("delete webhook: %w", err)
	}
	s.record(ctx, "webhook.deleted", actorID, hook)
	return hook, nil
}

// ListActive returns the active webhooks of an event without an
// authorization check; it backs delivery, not user requests.
func (s *Service) ListActive(ctx context.Context, eventID string) ([]Webhook, error) {
	return s.repo.ListActiveByEvent(ctx, eventID)
}

func (s *Service) organizedEvent(ctx context.Context, slug, actorID string) (*events.Event, error) {
	event, err := s.events.Get(ctx, slug, "")
	if err != nil {
		return nil, err
	}
	if !event.IsOrganizer(actorID) {
		return nil, ErrForbidden
	}
	return event, nil
}

func (s *Service) record(ctx context.Context, action, actorID string, hook *Webhook) {
	s.logger.Info().
		Str("action", action).
		Str("webhook_id", hook.ID).
		Str("event", hook.EventSlug).
		Bool("active", hook.IsActive).
		Msg("webhook changed")
	if s.audit != nil {
		s.audit.LogSuccess(ctx, action, actorID, "webhook", hook.ID, map[string]string{
			"event": hook.EventSlug,
			"url":   hook.URL,
		})
	}
}

func cleanURL(raw string) (string, error) {
	target := strings.TrimSpace(raw)
	if target == "" {
		return "", validation.FieldErrors{{Field: "url", Message: "This field is required."}}
	}
	if len(target) > 2000 {
		return "", validation.FieldErrors{{Field: "url", Message: "Ensure this field has no more than 2000 characters."}}
	}
	if err := validation.ValidateURL(target, "url", false); err != nil {
		return "", validation.FieldErrors{{Field: "url", Message: "Enter a valid URL."}}
	}
	return target, nil
}
