package registrations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/eventhorizon/server/internal/audit"
	"github.com/eventhorizon/server/internal/domain/events"
	"github.com/eventhorizon/server/internal/domain/ids"
	"github.com/eventhorizon/server/internal/metrics"
	"github.com/eventhorizon/server/internal/webhooks"
	"github.com/rs/zerolog"
)

// EventFinder loads events by slug.
type EventFinder interface {
	Get(ctx context.Context, slug, viewerID string) (*events.Event, error)
}

// Notice carries everything a registration email needs.
type Notice struct {
	Event        *events.Event
	Registration *Registration
	EventURL     string
	Answers      []AnswerItem
}

// Notifier sends registration emails. Implementations deliver
// synchronously; errors are logged by the service and never returned to
// the participant.
type Notifier interface {
	RegistrationReceived(ctx context.Context, n Notice) error
	RegistrationRecorded(ctx context.Context, n Notice) error
	StatusChanged(ctx context.Context, n Notice, previous Status) error
}

// Publisher delivers webhook payloads to an event's active webhooks.
type Publisher interface {
	Publish(ctx context.Context, eventID string, payload webhooks.Payload)
}

type Service struct {
	repo      Repository
	events    EventFinder
	notifier  Notifier
	publisher Publisher
	audit     *audit.Logger
	baseURL   string
	logger    zerolog.Logger
}

func NewService(
	repo Repository,
	finder EventFinder,
	notifier Notifier,
	publisher Publisher,
	auditLogger *audit.Logger,
	baseURL string,
	logger zerolog.Logger,
) *Service {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if publisher == nil {
		publisher = nopPublisher{}
	}
	return &Service{
		repo:      repo,
		events:    finder,
		notifier:  notifier,
		publisher: publisher,
		audit:     auditLogger,
		baseURL:   strings.TrimRight(baseURL, "/"),
		logger:    logger.With().Str("component", "registrations").Logger(),
	}
}

// Register enrolls participant in the event. The participant is
// waitlisted when the registered count has reached capacity. The
// organizer and participant are emailed and active webhooks receive
// registration.created.
func (s *Service) Register(ctx context.Context, slug string, participant events.UserSummary, answers map[string]any) (*Registration, error) {
	event, err := s.events.Get(ctx, slug, participant.ID)
	if err != nil {
		return nil, err
	}
	if answers == nil {
		answers = map[string]any{}
	}

	var reg *Registration
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		if err := tx.LockEvent(ctx, event.ID); err != nil {
			return err
		}

		_, err := tx.GetForParticipant(ctx, event.ID, participant.ID)
		switch {
		case err == nil:
			return ErrAlreadyRegistered
		case !errors.Is(err, ErrNotFound):
			return err
		}

		registered, err := tx.CountByStatus(ctx, event.ID, StatusRegistered)
		if err != nil {
			return err
		}
		status := StatusRegistered
		if registered >= event.Capacity {
			status = StatusWaitlisted
		}

		id, err := ids.NewULID()
		if err != nil {
			return fmt.Errorf("generate registration id: %w", err)
		}
		reg, err = tx.Create(ctx, CreateParams{
			ID:            id,
			EventID:       event.ID,
			ParticipantID: participant.ID,
			Status:        status,
			Answers:       answers,
		})
		return err
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyRegistered) {
			return nil, ErrAlreadyRegistered
		}
		return nil, fmt.Errorf("register: %w", err)
	}

	reg.Event = summarize(event)
	reg.Participant = participant
	metrics.RegistrationsTotal.WithLabelValues(string(reg.Status)).Inc()

	s.logger.Info().
		Str("registration_id", reg.ID).
		Str("event", event.Slug).
		Str("participant", participant.Username).
		Str("status", string(reg.Status)).
		Msg("registration created")

	notice := s.notice(event, reg)
	if err := s.notifier.RegistrationReceived(ctx, notice); err != nil {
		s.logger.Error().Err(err).Str("registration_id", reg.ID).Msg("organizer registration email failed")
	}
	if err := s.notifier.RegistrationRecorded(ctx, notice); err != nil {
		s.logger.Error().Err(err).Str("registration_id", reg.ID).Msg("participant registration email failed")
	}

	s.publisher.Publish(ctx, event.ID, payload(webhooks.EventRegistrationCreated, event, reg, ""))
	return reg, nil
}

// Unregister deletes the participant's registration.
func (s *Service) Unregister(ctx context.Context, slug, participantID string) error {
	event, err := s.events.Get(ctx, slug, participantID)
	if err != nil {
		return err
	}

	reg, err := s.repo.GetForParticipant(ctx, event.ID, participantID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotRegistered
		}
		return err
	}
	if err := s.repo.Delete(ctx, reg.ID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotRegistered
		}
		return fmt.Errorf("unregister: %w", err)
	}

	reg.Event = summarize(event)
	s.logger.Info().
		Str("registration_id", reg.ID).
		Str("event", event.Slug).
		Str("participant_id", participantID).
		Msg("registration withdrawn")

	s.publisher.Publish(ctx, event.ID, payload(webhooks.EventRegistrationDeleted, event, reg, ""))
	return nil
}

// ListForEvent returns the event's registrations, newest first. Only the
// organizer may list them.
func (s *Service) ListForEvent(ctx context.Context, slug, actorID string) (*events.Event, []Registration, error) {
	event, err := s.events.Get(ctx, slug, actorID)
	if err != nil {
		return nil, nil, err
	}
	if !event.IsOrganizer(actorID) {
		return nil, nil, ErrForbidden
	}
	regs, err := s.repo.ListByEvent(ctx, event.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("list registrations: %w", err)
	}
	return event, regs, nil
}

// ListForParticipant returns the user's own registrations, newest first.
func (s *Service) ListForParticipant(ctx context.Context, participantID string) ([]Registration, error) {
	return s.repo.ListByParticipant(ctx, participantID)
}

// GetForParticipant returns one of the user's own registrations. Other
// users' registrations are reported as not found.
func (s *Service) GetForParticipant(ctx context.Context, id, participantID string) (*Registration, error) {
	reg, err := s.repo.GetByID(ctx, ids.Normalize(id))
	if err != nil {
		return nil, err
	}
	if reg.ParticipantID != participantID {
		return nil, ErrNotFound
	}
	return reg, nil
}

// ForEvent returns the participant's registration for the event, or
// ErrNotFound.
func (s *Service) ForEvent(ctx context.Context, eventID, participantID string) (*Registration, error) {
	if participantID == "" {
		return nil, ErrNotFound
	}
	return s.repo.GetForParticipant(ctx, eventID, participantID)
}

// Manage applies an organizer decision. Approving is refused when the
// event is full; a registration that already holds a seat can always be
// re-approved. The participant is emailed when the status changes.
func (s *Service) Manage(ctx context.Context, registrationID, actorID string, action Action) (*Registration, error) {
	reg, err := s.repo.GetByID(ctx, ids.Normalize(registrationID))
	if err != nil {
		return nil, err
	}
	event, err := s.events.Get(ctx, reg.Event.Slug, "")
	if err != nil {
		return nil, err
	}
	if !event.IsOrganizer(actorID) {
		return nil, ErrForbidden
	}

	target := action.Target()
	previous := reg.Status

	var updated *Registration
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		if err := tx.LockEvent(ctx, event.ID); err != nil {
			return err
		}
		current, err := tx.GetByID(ctx, reg.ID)
		if err != nil {
			return err
		}
		previous = current.Status

		if action == ActionApprove && current.Status != StatusRegistered {
			registered, err := tx.CountByStatus(ctx, event.ID, StatusRegistered)
			if err != nil {
				return err
			}
			if registered >= event.Capacity {
				return ErrCapacityReached
			}
		}

		if current.Status == target {
			updated = current
			return nil
		}
		updated, err = tx.UpdateStatus(ctx, current.ID, target)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrCapacityReached) || errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("manage registration: %w", err)
	}

	updated.Event = summarize(event)
	if previous == updated.Status {
		return updated, nil
	}

	metrics.RegistrationStatusChanges.WithLabelValues(string(previous), string(updated.Status)).Inc()
	if s.audit != nil {
		s.audit.LogSuccess(ctx, "registration."+string(action), actorID, "registration", updated.ID, map[string]string{
			"event":           event.Slug,
			"participant":     updated.Participant.Username,
			"previous_status": string(previous),
			"status":          string(updated.Status),
		})
	}

	if err := s.notifier.StatusChanged(ctx, s.notice(event, updated), previous); err != nil {
		s.logger.Error().Err(err).Str("registration_id", updated.ID).Msg("status change email failed")
	}
	s.publisher.Publish(ctx, event.ID, payload(webhooks.EventRegistrationStatusChanged, event, updated, previous))
	return updated, nil
}

// Roster returns the export data for the event. Only the organizer may
// export it.
func (s *Service) Roster(ctx context.Context, slug, actorID string) (*Roster, error) {
	event, regs, err := s.ListForEvent(ctx, slug, actorID)
	if err != nil {
		return nil, err
	}
	return &Roster{Event: event, Registrations: regs}, nil
}

// EventURL is the public page of the event.
func (s *Service) EventURL(slug string) string {
	return fmt.Sprintf("%s/events/%s/", s.baseURL, slug)
}

func (s *Service) notice(event *events.Event, reg *Registration) Notice {
	return Notice{
		Event:        event,
		Registration: reg,
		EventURL:     s.EventURL(event.Slug),
		Answers:      AnswerItems(event.RegistrationSchema, reg.Answers),
	}
}

func summarize(e *events.Event) EventSummary {
	return EventSummary{
		ID:        e.ID,
		Slug:      e.Slug,
		Title:     e.Title,
		StartTime: e.StartTime,
		Location:  e.Location,
	}
}

func payload(kind string, event *events.Event, reg *Registration, previous Status) webhooks.Payload {
	answers := reg.Answers
	if answers == nil {
		answers = map[string]any{}
	}
	return webhooks.Payload{
		Event:        kind,
		MissionID:    event.Slug,
		MissionTitle: event.Title,
		Participant: webhooks.Participant{
			Username: reg.Participant.Username,
			Email:    reg.Participant.Email,
		},
		Status:         string(reg.Status),
		PreviousStatus: string(previous),
		RegisteredAt:   reg.RegisteredAt.UTC().Truncate(time.Millisecond),
		Answers:        answers,
	}
}

type nopNotifier struct{}

func (nopNotifier) RegistrationReceived(context.Context, Notice) error  { return nil }
func (nopNotifier) RegistrationRecorded(context.Context, Notice) error  { return nil }
func (nopNotifier) StatusChanged(context.Context, Notice, Status) error { return nil }

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, webhooks.Payload) {}
