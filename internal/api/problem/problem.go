// Package problem writes RFC 7807 problem documents and maps domain errors
// onto them.
package problem

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/eventhorizon/server/internal/auth"
	"github.com/eventhorizon/server/internal/domain/developers"
	"github.com/eventhorizon/server/internal/domain/events"
	"github.com/eventhorizon/server/internal/domain/registrations"
	"github.com/eventhorizon/server/internal/domain/users"
	"github.com/eventhorizon/server/internal/domain/webhooks"
	"github.com/eventhorizon/server/internal/validation"
	"github.com/rs/zerolog"
)

const contentType = "application/problem+json"

const typeBase = "https://eventhorizon.dev/problems/"

// Problem type URIs.
const (
	TypeValidation   = typeBase + "validation-error"
	TypeNotFound     = typeBase + "not-found"
	TypeUnauthorized = typeBase + "unauthorized"
	TypeForbidden    = typeBase + "forbidden"
	TypeConflict     = typeBase + "conflict"
	TypeRateLimited  = typeBase + "rate-limited"
	TypeTooLarge     = typeBase + "payload-too-large"
	TypeCSRF         = typeBase + "csrf-failure"
	TypeServerError  = typeBase + "server-error"
)

type ProblemDetails struct {
	Type     string                 `json:"type"`
	Title    string                 `json:"title"`
	Status   int                    `json:"status"`
	Detail   string                 `json:"detail,omitempty"`
	Instance string                 `json:"instance,omitempty"`
	Errors   validation.FieldErrors `json:"errors,omitempty"`
}

type Option func(*ProblemDetails)

func WithDetail(detail string) Option {
	return func(p *ProblemDetails) {
		p.Detail = detail
	}
}

func WithInstance(instance string) Option {
	return func(p *ProblemDetails) {
		p.Instance = instance
	}
}

func WithErrors(errs validation.FieldErrors) Option {
	return func(p *ProblemDetails) {
		p.Errors = errs
	}
}

// Write sends a problem document. Outside development and test the
// detail of err is replaced by the status text unless WithDetail is given.
func Write(w http.ResponseWriter, r *http.Request, status int, typ, title string, err error, env string, opts ...Option) {
	problem := ProblemDetails{
		Type:   typ,
		Title:  title,
		Status: status,
	}

	for _, opt := range opts {
		opt(&problem)
	}

	if problem.Detail == "" && err != nil {
		if env == "development" || env == "test" {
			problem.Detail = err.Error()
		} else {
			problem.Detail = http.StatusText(status)
		}
	}

	if problem.Instance == "" && r != nil {
		problem.Instance = r.URL.Path
	}

	if err != nil && r != nil {
		logger := zerolog.Ctx(r.Context())
		event := logger.Warn()
		if status >= 500 {
			event = logger.Error()
		}
		event.Err(err).
			Int("status", status).
			Str("type", typ).
			Str("path", r.URL.Path).
			Str("method", r.Method).
			Msg(title)
	}

	WriteProblem(w, problem)
}

func WriteProblem(w http.ResponseWriter, problem ProblemDetails) {
	payload, err := json.Marshal(problem)
	if err != nil {
		fallback := fmt.Sprintf("{\"type\":\"about:blank\",\"title\":\"%s\",\"status\":500}", http.StatusText(http.StatusInternalServerError))
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(fallback))
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(problem.Status)
	_, _ = w.Write(payload)
}

var (
	ErrUnauthorized = errors.New("authentication required")
	ErrForbidden    = errors.New("forbidden")
)

// Class is the HTTP rendering of a domain error.
type Class struct {
	Status int
	Type   string
	Title  string
	// Detail is safe to show to end users in any environment.
	Detail string
	Fields validation.FieldErrors
}

// Classify maps err onto a status and a user-facing message. Unknown errors
// are server errors with a generic message.
func Classify(err error) Class {
	var fields validation.FieldErrors
	if errors.As(err, &fields) {
		return Class{http.StatusBadRequest, TypeValidation, "Invalid request", "Please correct the errors below.", fields}
	}
	var filterErr events.FilterError
	if errors.As(err, &filterErr) {
		return Class{http.StatusBadRequest, TypeValidation, "Invalid request", filterErr.Error(), validation.FieldErrors{{Field: filterErr.Field, Message: filterErr.Message}}}
	}

	switch {
	case errors.Is(err, registrations.ErrAlreadyRegistered):
		return Class{http.StatusBadRequest, TypeConflict, "Already registered", "You are already registered for this event.", nil}
	case errors.Is(err, registrations.ErrNotRegistered):
		return Class{http.StatusNotFound, TypeNotFound, "Not registered", "You are not registered for this event.", nil}
	case errors.Is(err, registrations.ErrCapacityReached):
		return Class{http.StatusConflict, TypeConflict, "Capacity reached", "Cannot approve: Mission is at full capacity.", nil}
	case errors.Is(err, registrations.ErrInvalidAction):
		return Class{http.StatusBadRequest, TypeValidation, "Invalid action", "Invalid action.", nil}
	case errors.Is(err, registrations.ErrForbidden):
		return Class{http.StatusForbidden, TypeForbidden, "Forbidden", "Only the event organizer can manage registrations.", nil}
	case errors.Is(err, events.ErrForbidden):
		return Class{http.StatusForbidden, TypeForbidden, "Forbidden", "Only the event organizer can modify this event.", nil}
	case errors.Is(err, webhooks.ErrForbidden):
		return Class{http.StatusForbidden, TypeForbidden, "Forbidden", "Only the event organizer can manage webhooks.", nil}
	case errors.Is(err, ErrForbidden):
		return Class{http.StatusForbidden, TypeForbidden, "Forbidden", "You do not have permission to perform this action.", nil}
	case errors.Is(err, events.ErrSlugConflict):
		return Class{http.StatusConflict, TypeConflict, "Conflict", "An event with this slug already exists.", nil}
	case errors.Is(err, users.ErrUsernameTaken):
		return Class{http.StatusConflict, TypeConflict, "Conflict", "A user with that username already exists.", nil}
	case errors.Is(err, users.ErrEmailTaken):
		return Class{http.StatusConflict, TypeConflict, "Conflict", "A user is already registered with this email address.", nil}
	case errors.Is(err, users.ErrInvalidCredentials), errors.Is(err, developers.ErrInvalidClient), errors.Is(err, ErrUnauthorized),
		errors.Is(err, auth.ErrMissingAPIKey), errors.Is(err, auth.ErrInvalidAPIKey),
		errors.Is(err, auth.ErrMissingToken), errors.Is(err, auth.ErrInvalidToken):
		return Class{http.StatusUnauthorized, TypeUnauthorized, "Unauthorized", "Authentication credentials were not provided or are invalid.", nil}
	case errors.Is(err, users.ErrInactive):
		return Class{http.StatusForbidden, TypeForbidden, "Forbidden", "This account is inactive.", nil}
	case errors.Is(err, users.ErrInvalidImage):
		return Class{http.StatusBadRequest, TypeValidation, "Invalid image", "Upload a valid image. The file you uploaded was either not an image or a corrupted image.", nil}
	case errors.Is(err, events.ErrNotFound):
		return Class{http.StatusNotFound, TypeNotFound, "Not found", "Event not found.", nil}
	case errors.Is(err, registrations.ErrNotFound):
		return Class{http.StatusNotFound, TypeNotFound, "Not found", "Registration not found.", nil}
	case errors.Is(err, webhooks.ErrNotFound):
		return Class{http.StatusNotFound, TypeNotFound, "Not found", "Webhook not found.", nil}
	case errors.Is(err, users.ErrNotFound):
		return Class{http.StatusNotFound, TypeNotFound, "Not found", "User not found.", nil}
	case errors.Is(err, developers.ErrAPIKeyNotFound):
		return Class{http.StatusNotFound, TypeNotFound, "Not found", "API key not found.", nil}
	case errors.Is(err, developers.ErrApplicationNotFound):
		return Class{http.StatusNotFound, TypeNotFound, "Not found", "Application not found.", nil}
	}

	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		return Class{http.StatusRequestEntityTooLarge, TypeTooLarge, "Payload too large", "The request body is too large.", nil}
	}
	return Class{http.StatusInternalServerError, TypeServerError, "Server error", "Something went wrong. Please try again.", nil}
}

// Message returns the user-facing text for err.
func Message(err error) string {
	return Classify(err).Detail
}

// WriteError classifies err and writes it as a problem document.
func WriteError(w http.ResponseWriter, r *http.Request, err error, env string) {
	c := Classify(err)
	opts := []Option{}
	if c.Status < 500 {
		opts = append(opts, WithDetail(c.Detail))
	}
	if len(c.Fields) > 0 {
		opts = append(opts, WithErrors(c.Fields))
	}
	Write(w, r, c.Status, c.Type, c.Title, err, env, opts...)
}
