package events

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("event not found")

	// ErrForbidden is returned when someone other than the organizer tries
	// to change an event.
	ErrForbidden = errors.New("only the event organizer can modify this event")

	// ErrSlugConflict is returned by repositories when the slug is taken.
	ErrSlugConflict = errors.New("event slug already exists")
)

// UserSummary is the public part of a user shown next to events and
// registrations.
type UserSummary struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// DisplayName returns the full name, or the username when no name is set.
func (u UserSummary) DisplayName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	default:
		return u.Username
	}
}

type Event struct {
	ID                 string
	Slug               string
	Title              string
	Description        string
	StartTime          time.Time
	EndTime            time.Time
	Location           string
	Capacity           int
	OrganizerID        string
	Organizer          UserSummary
	RegistrationSchema []Question
	CreatedAt          time.Time
	UpdatedAt          time.Time

	// Filled per viewer by Get and List.
	IsRegistered bool
	// Number of registrations with status registered.
	RegisteredCount int
}

// IsOrganizer reports whether userID organizes the event.
func (e *Event) IsOrganizer(userID string) bool {
	return userID != "" && e.OrganizerID == userID
}

// SpotsLeft returns the remaining capacity, never negative.
func (e *Event) SpotsLeft() int {
	if left := e.Capacity - e.RegisteredCount; left > 0 {
		return left
	}
	return 0
}

// Question returns the schema question with the given id.
func (e *Event) Question(id string) (Question, bool) {
	for _, q := range e.RegistrationSchema {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

type CreateParams struct {
	ID                 string
	Slug               string
	Title              string
	Description        string
	StartTime          time.Time
	EndTime            time.Time
	Location           string
	Capacity           int
	OrganizerID        string
	RegistrationSchema []Question
}

type UpdateParams struct {
	Title              string
	Description        string
	StartTime          time.Time
	EndTime            time.Time
	Location           string
	Capacity           int
	RegistrationSchema []Question
}

type ListResult struct {
	Events []Event
	Total  int
}

type Repository interface {
	// Create inserts a new event and returns ErrSlugConflict when the slug
	// is already in use.
	Create(ctx context.Context, params CreateParams) (*Event, error)
	Update(ctx context.Context, id string, params UpdateParams) (*Event, error)
	Delete(ctx context.Context, id string) error
	// GetBySlug loads an event. viewerID may be empty; when set,
	// IsRegistered reflects that user's registration.
	GetBySlug(ctx context.Context, slug string, viewerID string) (*Event, error)
	List(ctx context.Context, filters Filters, viewerID string) (ListResult, error)
	ListByOrganizer(ctx context.Context, organizerID string) ([]Event, error)
	ListUpcoming(ctx context.Context, from time.Time, limit int) ([]Event, error)
}
