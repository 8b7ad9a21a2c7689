package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/eventhorizon/server/internal/api/problem"
	"github.com/eventhorizon/server/internal/domain/events"
)

type EventService interface {
	List(ctx context.Context, filters events.Filters, viewerID string) (events.ListResult, error)
	Get(ctx context.Context, slug, viewerID string) (*events.Event, error)
	Create(ctx context.Context, organizerID string, in events.Input) (*events.Event, error)
	Update(ctx context.Context, actorID, slug string, in events.Input) (*events.Event, error)
	Delete(ctx context.Context, actorID, slug string) error
}

type EventsHandler struct {
	Service       EventService
	Registrations RegistrationService
	Env           string
	now           func() time.Time
}

func NewEventsHandler(service EventService, regs RegistrationService, env string) *EventsHandler {
	return &EventsHandler{Service: service, Registrations: regs, Env: env, now: time.Now}
}

// List returns events latest first unless ordering says otherwise.
func (h *EventsHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Service == nil {
		serverError(w, r, "")
		return
	}

	filters, err := events.ParseFilters(r.URL.Query(), h.clock())
	if err != nil {
		problem.WriteError(w, r, err, h.Env)
		return
	}
	if filters.Order == "" {
		filters.Order = events.OrderStartDesc
	}
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 {
		filters.PageSize = events.DefaultPageSize
	}

	result, err := h.Service.List(r.Context(), filters, viewerID(r))
	if err != nil {
		problem.WriteError(w, r, err, h.Env)
		return
	}
	writeJSON(w, http.StatusOK, newPage(r, newEventViews(result.Events), result.Total, filters.Page, filters.PageSize))
}

func (h *EventsHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Service == nil {
		serverError(w, r, "")
		return
	}
	p, ok := principal(w, r, h.Env)
	if !ok {
		return
	}

	var in events.Input
	if err := decodeJSON(r, &in); err != nil {
		problem.WriteError(w, r, err, h.Env)
		return
	}
	event, err := h.Service.Create(r.Context(), p.UserID, in)
	if err != nil {
		problem.WriteError(w, r, err, h.Env)
		return
	}
	w.Header().Set("Location", "/api/events/"+event.Slug)
	writeJSON(w, http.StatusCreated, newEventView(event))
}

func (h *EventsHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Service == nil {
		serverError(w, r, "")
		return
	}
	event, err := h.Service.Get(r.Context(), pathParam(r, "slug"), viewerID(r))
	if err != nil {
		problem.WriteError(w, r, err, h.Env)
		return
	}
	writeJSON(w, http.StatusOK, newEventView(event))
}

// Update replaces every editable field (PUT).
func (h *EventsHandler) Update(w http.ResponseWriter, r *http.Request) {
	h.update(w, r, false)
}

// Patch changes only the fields present in the body.
func (h *EventsHandler) Patch(w http.ResponseWriter, r *http.Request) {
	h.update(w, r, true)
}

func (h *EventsHandler) update(w http.ResponseWriter, r *http.Request, partial bool) {
	if h == nil || h.Service == nil {
		serverError(w, r, "")
		return
	}
	p, ok := principal(w, r, h.Env)
	if !ok {
		return
	}
	slug := pathParam(r, "slug")

	var in events.Input
	if partial {
		current, err := h.Service.Get(r.Context(), slug, p.UserID)
		if err != nil {
			problem.WriteError(w, r, err, h.Env)
			return
		}
		if !current.IsOrganizer(p.UserID) {
			problem.WriteError(w, r, events.ErrForbidden, h.Env)
			return
		}
		in = events.InputFromEvent(current)
	}
	if err := decodeJSON(r, &in); err != nil {
		problem.WriteError(w, r, err, h.Env)
		return
	}

	event, err := h.Service.Update(r.Context(), p.UserID, slug, in)
	if err != nil {
		problem.WriteError(w, r, err, h.Env)
		return
	}
	writeJSON(w, http.StatusOK, newEventView(event))
}

func (h *EventsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Service == nil {
		serverError(w, r, "")
		return
	}
	p, ok := principal(w, r, h.Env)
	if !ok {
		return
	}
	if err := h.Service.Delete(r.Context(), p.UserID, pathParam(r, "slug")); err != nil {
		problem.WriteError(w, r, err, h.Env)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type registerRequest struct {
	Answers map[string]any `json:"answers"`
}

// Register signs the caller up. The body is optional; answers are keyed by
// question id.
func (h *EventsHandler) Register(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Registrations == nil {
		serverError(w, r, "")
		return
	}
	p, ok := principal(w, r, h.Env)
	if !ok {
		return
	}

	var req registerRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			problem.WriteError(w, r, err, h.Env)
			return
		}
	}

	reg, err := h.Registrations.Register(r.Context(), pathParam(r, "slug"), p.User.Summary(), req.Answers)
	if err != nil {
		problem.WriteError(w, r, err, h.Env)
		return
	}
	writeJSON(w, http.StatusCreated, newRegistrationView(reg))
}

func (h *EventsHandler) Unregister(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Registrations == nil {
		serverError(w, r, "")
		return
	}
	p, ok := principal(w, r, h.Env)
	if !ok {
		return
	}
	if err := h.Registrations.Unregister(r.Context(), pathParam(r, "slug"), p.UserID); err != nil {
		problem.WriteError(w, r, err, h.Env)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *EventsHandler) clock() time.Time {
	if h.now == nil {
		return time.Now()
	}
	return h.now()
}

