package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/eventhorizon/server/internal/api/problem"
	"github.com/eventhorizon/server/internal/domain/events"
	"github.com/eventhorizon/server/internal/domain/registrations"
	"github.com/rs/zerolog"
)

type RegistrationService interface {
	Register(ctx context.Context, slug string, participant events.UserSummary, answers map[string]any) (*registrations.Registration, error)
	Unregister(ctx context.Context, slug, participantID string) error
	ListForEvent(ctx context.Context, slug, actorID string) (*events.Event, []registrations.Registration, error)
	ListForParticipant(ctx context.Context, participantID string) ([]registrations.Registration, error)
	GetForParticipant(ctx context.Context, id, participantID string) (*registrations.Registration, error)
	Manage(ctx context.Context, registrationID, actorID string, action registrations.Action) (*registrations.Registration, error)
	Roster(ctx context.Context, slug, actorID string) (*registrations.Roster, error)
}

type RegistrationsHandler struct {
	Service RegistrationService
	Env     string
	logger  zerolog.Logger
}

func NewRegistrationsHandler(service RegistrationService, env string, logger zerolog.Logger) *RegistrationsHandler {
	return &RegistrationsHandler{
		Service: service,
		Env:     env,
		logger:  logger.With().Str("handler", "registrations").Logger(),
	}
}

// ListForEvent returns the registrations of an event, newest first, to its
// organizer.
func (h *RegistrationsHandler) ListForEvent(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Service == nil {
		serverError(w, r, "")
		return
	}
	p, ok := principal(w, r, h.Env)
	if !ok {
		return
	}

	_, list, err := h.Service.ListForEvent(r.Context(), pathParam(r, "slug"), p.UserID)
	if errors.Is(err, registrations.ErrForbidden) {
		problem.Write(w, r, http.StatusForbidden, problem.TypeForbidden, "Forbidden", err, h.Env,
			problem.WithDetail("Only the event organizer can view registrations."))
		return
	}
	if err != nil {
		problem.WriteError(w, r, err, h.Env)
		return
	}
	writeJSON(w, http.StatusOK, newRegistrationViews(list))
}

// Export streams the roster as CSV.
func (h *RegistrationsHandler) Export(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Service == nil {
		serverError(w, r, "")
		return
	}
	p, ok := principal(w, r, h.Env)
	if !ok {
		return
	}

	roster, err := h.Service.Roster(r.Context(), pathParam(r, "slug"), p.UserID)
	if err != nil {
		problem.WriteError(w, r, err, h.Env)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+roster.Filename()+`"`)
	w.WriteHeader(http.StatusOK)
	if err := roster.WriteCSV(w); err != nil {
		// The status line is already sent.
		h.logger.Error().Err(err).Str("user_id", p.UserID).Msg("roster export interrupted")
	}
}

// Mine lists the caller's registrations, newest first.
func (h *RegistrationsHandler) Mine(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Service == nil {
		serverError(w, r, "")
		return
	}
	p, ok := principal(w, r, h.Env)
	if !ok {
		return
	}
	list, err := h.Service.ListForParticipant(r.Context(), p.UserID)
	if err != nil {
		problem.WriteError(w, r, err, h.Env)
		return
	}
	writeJSON(w, http.StatusOK, newRegistrationViews(list))
}

func (h *RegistrationsHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Service == nil {
		serverError(w, r, "")
		return
	}
	p, ok := principal(w, r, h.Env)
	if !ok {
		return
	}
	reg, err := h.Service.GetForParticipant(r.Context(), pathParam(r, "id"), p.UserID)
	if err != nil {
		problem.WriteError(w, r, err, h.Env)
		return
	}
	writeJSON(w, http.StatusOK, newRegistrationView(reg))
}

type manageRequest struct {
	Action string `json:"action"`
}

// Manage applies an organizer decision: approve, waitlist or cancel.
func (h *RegistrationsHandler) Manage(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Service == nil {
		serverError(w, r, "")
		return
	}
	p, ok := principal(w, r, h.Env)
	if !ok {
		return
	}

	var req manageRequest
	if err := decodeJSON(r, &req); err != nil {
		problem.WriteError(w, r, err, h.Env)
		return
	}
	action, err := registrations.ParseAction(req.Action)
	if err != nil {
		problem.WriteError(w, r, err, h.Env)
		return
	}

	reg, err := h.Service.Manage(r.Context(), pathParam(r, "id"), p.UserID, action)
	if err != nil {
		problem.WriteError(w, r, err, h.Env)
		return
	}
	writeJSON(w, http.StatusOK, newRegistrationView(reg))
}
