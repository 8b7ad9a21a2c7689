package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/eventhorizon/server/internal/domain/ids"
	"github.com/eventhorizon/server/internal/sanitize"
	"github.com/eventhorizon/server/internal/validation"
	"github.com/rs/zerolog"
)

// maxSlugAttempts bounds how often Create retries after a slug collision.
const maxSlugAttempts = 5

// Input is the writable part of an event, shared by the form and the API.
type Input struct {
	Title              string     `json:"title" validate:"required,max=200"`
	Description        string     `json:"description" validate:"required"`
	StartTime          time.Time  `json:"start_time" validate:"required"`
	EndTime            time.Time  `json:"end_time" validate:"required"`
	Location           string     `json:"location" validate:"required,max=255"`
	Capacity           int        `json:"capacity" validate:"gt=0"`
	RegistrationSchema []Question `json:"registration_schema"`
}

// InputFromEvent returns the current values of e, used as the base for
// partial updates.
func InputFromEvent(e *Event) Input {
	schema := make([]Question, len(e.RegistrationSchema))
	copy(schema, e.RegistrationSchema)
	return Input{
		Title:              e.Title,
		Description:        e.Description,
		StartTime:          e.StartTime,
		EndTime:            e.EndTime,
		Location:           e.Location,
		Capacity:           e.Capacity,
		RegistrationSchema: schema,
	}
}

type Service struct {
	repo      Repository
	validator *validation.Validator
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		validator: validation.New(),
		logger:    logger.With().Str("component", "events").Logger(),
		now:       time.Now,
	}
}

// Create validates the input and stores a new event organized by
// organizerID. The slug is derived from the title and made unique by
// appending four hex characters on collision.
func (s *Service) Create(ctx context.Context, organizerID string, in Input) (*Event, error) {
	in = normalize(in)
	if err := s.validate(in); err != nil {
		return nil, err
	}

	slug := Slugify(in.Title)
	if slug == "" {
		slug = ids.RandomHex(32)
	}

	for attempt := 1; ; attempt++ {
		id, err := ids.NewULID()
		if err != nil {
			return nil, fmt.Errorf("generate event id: %w", err)
		}

		event, err := s.repo.Create(ctx, CreateParams{
			ID:                 id,
			Slug:               slug,
			Title:              in.Title,
			Description:        in.Description,
			StartTime:          in.StartTime,
			EndTime:            in.EndTime,
			Location:           in.Location,
			Capacity:           in.Capacity,
			OrganizerID:        organizerID,
			RegistrationSchema: in.RegistrationSchema,
		})
		if err == nil {
			s.logger.Info().
				Str("event_id", event.ID).
				Str("slug", event.Slug).
				Str("organizer_id", organizerID).
				Msg("event created")
			return event, nil
		}
		if !errors.Is(err, ErrSlugConflict) || attempt >= maxSlugAttempts {
			return nil, fmt.Errorf("create event: %w", err)
		}
		slug = fmt.Sprintf("%s-%s", slug, ids.RandomHex(4))
	}
}

// Update replaces the writable fields of the event. The slug never changes.
func (s *Service) Update(ctx context.Context, actorID, slug string, in Input) (*Event, error) {
	event, err := s.repo.GetBySlug(ctx, slug, actorID)
	if err != nil {
		return nil, err
	}
	if !event.IsOrganizer(actorID) {
		return nil, ErrForbidden
	}

	in = normalize(in)
	if err := s.validate(in); err != nil {
		return nil, err
	}

	updated, err := s.repo.Update(ctx, event.ID, UpdateParams{
		Title:              in.Title,
		Description:        in.Description,
		StartTime:          in.StartTime,
		EndTime:            in.EndTime,
		Location:           in.Location,
		Capacity:           in.Capacity,
		RegistrationSchema: in.RegistrationSchema,
	})
	if err != nil {
		return nil, fmt.Errorf("update event: %w", err)
	}
	updated.IsRegistered = event.IsRegistered
	return updated, nil
}

// Delete removes the event together with its registrations and webhooks.
func (s *Service) Delete(ctx context.Context, actorID, slug string) error {
	event, err := s.repo.GetBySlug(ctx, slug, "")
	if err != nil {
		return err
	}
	if !event.IsOrganizer(actorID) {
		return ErrForbidden
	}
	if err := s.repo.Delete(ctx, event.ID); err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	s.logger.Info().Str("event_id", event.ID).Str("slug", slug).Msg("event deleted")
	return nil
}

// Get loads an event by slug. viewerID may be empty for anonymous viewers.
func (s *Service) Get(ctx context.Context, slug, viewerID string) (*Event, error) {
	return s.repo.GetBySlug(ctx, strings.TrimSpace(slug), viewerID)
}

func (s *Service) List(ctx context.Context, filters Filters, viewerID string) (ListResult, error) {
	if filters.PageSize <= 0 {
		filters.PageSize = DefaultPageSize
	}
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.Order == "" {
		filters.Order = OrderStartDesc
	}
	return s.repo.List(ctx, filters, viewerID)
}

// ListHosted returns the events organized by userID, soonest first.
func (s *Service) ListHosted(ctx context.Context, userID string) ([]Event, error) {
	return s.repo.ListByOrganizer(ctx, userID)
}

// Upcoming returns up to limit events that have not started yet, soonest first.
func (s *Service) Upcoming(ctx context.Context, limit int) ([]Event, error) {
	return s.repo.ListUpcoming(ctx, s.now(), limit)
}

func normalize(in Input) Input {
	in.Title = sanitize.Text(in.Title)
	in.Description = sanitize.Text(in.Description)
	in.Location = sanitize.Text(in.Location)
	in.RegistrationSchema = NormalizeSchema(in.RegistrationSchema)
	in.StartTime = in.StartTime.UTC()
	in.EndTime = in.EndTime.UTC()
	return in
}

func (s *Service) validate(in Input) error {
	var errs validation.FieldErrors
	if err := s.validator.Struct(in); err != nil {
		var fieldErrs validation.FieldErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		errs = append(errs, fieldErrs...)
	}
	if !in.StartTime.IsZero() && !in.EndTime.IsZero() && in.EndTime.Before(in.StartTime) {
		errs.Add("end_time", "End time must not be before the start time.")
	}
	validateSchema(in.RegistrationSchema, &errs)
	return errs.Err()
}
