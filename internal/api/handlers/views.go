package handlers

import (
	"time"

	"github.com/eventhorizon/server/internal/domain/events"
	"github.com/eventhorizon/server/internal/domain/registrations"
	"github.com/eventhorizon/server/internal/domain/users"
	"github.com/eventhorizon/server/internal/domain/webhooks"
)

type eventView struct {
	ID                 string             `json:"id"`
	Title              string             `json:"title"`
	Description        string             `json:"description"`
	StartTime          time.Time          `json:"start_time"`
	EndTime            time.Time          `json:"end_time"`
	Location           string             `json:"location"`
	Capacity           int                `json:"capacity"`
	SpotsLeft          int                `json:"spots_left"`
	Organizer          events.UserSummary `json:"organizer"`
	RegistrationSchema []events.Question  `json:"registration_schema"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
	IsRegistered       bool               `json:"is_registered"`
	Slug               string             `json:"slug"`
}

func newEventView(e *events.Event) eventView {
	schema := e.RegistrationSchema
	if schema == nil {
		schema = []events.Question{}
	}
	return eventView{
		ID:                 e.ID,
		Title:              e.Title,
		Description:        e.Description,
		StartTime:          e.StartTime,
		EndTime:            e.EndTime,
		Location:           e.Location,
		Capacity:           e.Capacity,
		SpotsLeft:          e.SpotsLeft(),
		Organizer:          e.Organizer,
		RegistrationSchema: schema,
		CreatedAt:          e.CreatedAt,
		UpdatedAt:          e.UpdatedAt,
		IsRegistered:       e.IsRegistered,
		Slug:               e.Slug,
	}
}

func newEventViews(list []events.Event) []eventView {
	out := make([]eventView, 0, len(list))
	for i := range list {
		out = append(out, newEventView(&list[i]))
	}
	return out
}

type registrationView struct {
	ID              string               `json:"id"`
	Event           string               `json:"event"`
	EventSlug       string               `json:"event_slug"`
	EventTitle      string               `json:"event_title"`
	ParticipantInfo events.UserSummary   `json:"participant_info"`
	Status          registrations.Status `json:"status"`
	StatusLabel     string               `json:"status_label"`
	Answers         map[string]any       `json:"answers"`
	RegisteredAt    time.Time            `json:"registered_at"`
}

func newRegistrationView(reg *registrations.Registration) registrationView {
	answers := reg.Answers
	if answers == nil {
		answers = map[string]any{}
	}
	return registrationView{
		ID:              reg.ID,
		Event:           reg.EventID,
		EventSlug:       reg.Event.Slug,
		EventTitle:      reg.Event.Title,
		ParticipantInfo: reg.Participant,
		Status:          reg.Status,
		StatusLabel:     reg.Status.Label(),
		Answers:         answers,
		RegisteredAt:    reg.RegisteredAt,
	}
}

func newRegistrationViews(list []registrations.Registration) []registrationView {
	out := make([]registrationView, 0, len(list))
	for i := range list {
		out = append(out, newRegistrationView(&list[i]))
	}
	return out
}

type profileView struct {
	Bio         string             `json:"bio"`
	Location    string             `json:"location"`
	PhoneNumber string             `json:"phone_number"`
	Avatar      *string            `json:"avatar"`
	SocialLinks []users.SocialLink `json:"social_links"`
}

type userView struct {
	ID         string      `json:"id"`
	Username   string      `json:"username"`
	Email      string      `json:"email"`
	FirstName  string      `json:"first_name"`
	LastName   string      `json:"last_name"`
	DateJoined time.Time   `json:"date_joined"`
	IsStaff    bool        `json:"is_staff"`
	Profile    profileView `json:"profile"`
}

// newUserView renders u; avatarURL is "" when no avatar is set.
func newUserView(u *users.User, avatarURL string) userView {
	links := u.SocialLinks
	if links == nil {
		links = []users.SocialLink{}
	}
	var avatar *string
	if avatarURL != "" {
		avatar = &avatarURL
	}
	return userView{
		ID:         u.ID,
		Username:   u.Username,
		Email:      u.Email,
		FirstName:  u.FirstName,
		LastName:   u.LastName,
		DateJoined: u.DateJoined,
		IsStaff:    u.IsStaff,
		Profile: profileView{
			Bio:         u.Profile.Bio,
			Location:    u.Profile.Location,
			PhoneNumber: u.Profile.PhoneNumber,
			Avatar:      avatar,
			SocialLinks: links,
		},
	}
}

type webhookView struct {
	ID        string    `json:"id"`
	Event     string    `json:"event"`
	URL       string    `json:"url"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func newWebhookView(w *webhooks.Webhook) webhookView {
	return webhookView{
		ID:        w.ID,
		Event:     w.EventSlug,
		URL:       w.URL,
		IsActive:  w.IsActive,
		CreatedAt: w.CreatedAt,
		UpdatedAt: w.UpdatedAt,
	}
}
