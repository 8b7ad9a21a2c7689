package web

import (
	"errors"
	"net/http"
	"strings"

	"github.com/eventhorizon/server/internal/domain/events"
	"github.com/eventhorizon/server/internal/domain/webhooks"
)

type webhookPage struct {
	Event   *events.Event
	Webhook *webhooks.Webhook
	URL     string
	Errors  formErrors
}

func (s *Server) webhookCreate(w http.ResponseWriter, r *http.Request) {
	u, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	event, ok := s.organizedEvent(w, r, u.ID)
	if !ok {
		return
	}
	data := webhookPage{Event: event, Errors: formErrors{}}
	if r.Method == http.MethodGet {
		s.render(w, r, http.StatusOK, "webhook_form.html", "Add webhook", data)
		return
	}

	data.URL = strings.TrimSpace(r.PostFormValue("url"))
	if _, err := s.Webhooks.Create(r.Context(), event.Slug, u.ID, data.URL); err != nil {
		if data.Errors, ok = errorsFrom(err); !ok {
			s.serverError(w, r, err)
			return
		}
		s.render(w, r, http.StatusBadRequest, "webhook_form.html", "Add webhook", data)
		return
	}
	s.addFlash(w, r, levelSuccess, "Webhook created successfully.")
	redirect(w, r, eventURL(event.Slug))
}

func (s *Server) webhookUpdate(w http.ResponseWriter, r *http.Request) {
	u, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	hook, ok := s.ownedWebhook(w, r, u.ID)
	if !ok {
		return
	}
	data := webhookPage{Webhook: hook, URL: hook.URL, Errors: formErrors{}}
	if r.Method == http.MethodGet {
		s.render(w, r, http.StatusOK, "webhook_form.html", "Edit webhook", data)
		return
	}

	data.URL = strings.TrimSpace(r.PostFormValue("url"))
	if _, err := s.Webhooks.Update(r.Context(), hook.ID, u.ID, data.URL); err != nil {
		if data.Errors, ok = errorsFrom(err); !ok {
			s.serverError(w, r, err)
			return
		}
		s.render(w, r, http.StatusBadRequest, "webhook_form.html", "Edit webhook", data)
		return
	}
	s.addFlash(w, r, levelSuccess, "Webhook updated successfully.")
	redirect(w, r, eventURL(hook.EventSlug))
}

func (s *Server) webhookDelete(w http.ResponseWriter, r *http.Request) {
	u, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	hook, ok := s.ownedWebhook(w, r, u.ID)
	if !ok {
		return
	}
	if r.Method == http.MethodGet {
		s.render(w, r, http.StatusOK, "webhook_confirm_delete.html", "Delete webhook", webhookPage{Webhook: hook})
		return
	}
	if _, err := s.Webhooks.Delete(r.Context(), hook.ID, u.ID); err != nil {
		s.pageError(w, r, err)
		return
	}
	s.addFlash(w, r, levelSuccess, "Webhook deleted successfully.")
	redirect(w, r, eventURL(hook.EventSlug))
}

func (s *Server) webhookToggle(w http.ResponseWriter, r *http.Request) {
	u, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	hook, err := s.Webhooks.Toggle(r.Context(), r.PathValue("id"), u.ID)
	if err != nil {
		s.pageError(w, r, err)
		return
	}
	if hook.IsActive {
		s.addFlash(w, r, levelSuccess, "Webhook activated.")
	} else {
		s.addFlash(w, r, levelInfo, "Webhook deactivated.")
	}
	redirect(w, r, eventURL(hook.EventSlug))
}

func (s *Server) ownedWebhook(w http.ResponseWriter, r *http.Request, userID string) (*webhooks.Webhook, bool) {
	hook, err := s.Webhooks.Get(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		if errors.Is(err, webhooks.ErrForbidden) {
			s.forbidden(w, r)
		} else {
			s.pageError(w, r, err)
		}
		return nil, false
	}
	return hook, true
}
