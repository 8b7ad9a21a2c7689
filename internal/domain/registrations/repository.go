package registrations

import (
	"context"
	"errors"
	"time"

	"github.com/eventhorizon/server/internal/domain/events"
)

var (
	ErrNotFound          = errors.New("registration not found")
	ErrAlreadyRegistered = errors.New("already registered for this event")
	ErrNotRegistered     = errors.New("not registered for this event")
	ErrForbidden         = errors.New("only the event organizer can manage registrations")
	ErrCapacityReached   = errors.New("event is at full capacity")
	ErrInvalidAction     = errors.New("action must be one of approve, waitlist or cancel")
)

type Status string

const (
	StatusRegistered Status = "registered"
	StatusWaitlisted Status = "waitlisted"
	StatusCancelled  Status = "cancelled"
)

// Label is the participant-facing name of a status.
func (s Status) Label() string {
	switch s {
	case StatusRegistered:
		return "Approved"
	case StatusWaitlisted:
		return "Waitlisted"
	case StatusCancelled:
		return "Not Approved"
	default:
		return string(s)
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusRegistered || s == StatusWaitlisted || s == StatusCancelled
}

// Action is an organizer decision on a registration.
type Action string

const (
	ActionApprove  Action = "approve"
	ActionWaitlist Action = "waitlist"
	ActionCancel   Action = "cancel"
)

// ParseAction validates an organizer action.
func ParseAction(value string) (Action, error) {
	switch a := Action(value); a {
	case ActionApprove, ActionWaitlist, ActionCancel:
		return a, nil
	default:
		return "", ErrInvalidAction
	}
}

// Target is the status an action moves a registration to.
func (a Action) Target() Status {
	switch a {
	case ActionApprove:
		return StatusRegistered
	case ActionWaitlist:
		return StatusWaitlisted
	default:
		return StatusCancelled
	}
}

// EventSummary identifies the event a registration belongs to.
type EventSummary struct {
	ID        string    `json:"id"`
	Slug      string    `json:"slug"`
	Title     string    `json:"title"`
	StartTime time.Time `json:"start_time"`
	Location  string    `json:"location"`
}

type Registration struct {
	ID            string
	EventID       string
	Event         EventSummary
	ParticipantID string
	Participant   events.UserSummary
	Status        Status
	Answers       map[string]any
	RegisteredAt  time.Time
	UpdatedAt     time.Time
}

type CreateParams struct {
	ID            string
	EventID       string
	ParticipantID string
	Status        Status
	Answers       map[string]any
}

type Repository interface {
	// WithTx runs fn in a transaction; the Repository passed to fn is bound
	// to it.
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	// LockEvent takes a row lock on the event until the transaction ends so
	// capacity checks and writes are serialized per event.
	LockEvent(ctx context.Context, eventID string) error
	CountByStatus(ctx context.Context, eventID string, status Status) (int, error)
	// Create returns ErrAlreadyRegistered on a duplicate (event, participant).
	Create(ctx context.Context, params CreateParams) (*Registration, error)
	GetByID(ctx context.Context, id string) (*Registration, error)
	GetForParticipant(ctx context.Context, eventID, participantID string) (*Registration, error)
	UpdateStatus(ctx context.Context, id string, status Status) (*Registration, error)
	Delete(ctx context.Context, id string) error
	// ListByEvent returns registrations newest first.
	ListByEvent(ctx context.Context, eventID string) ([]Registration, error)
	// ListByParticipant returns registrations newest first.
	ListByParticipant(ctx context.Context, participantID string) ([]Registration, error)
}
