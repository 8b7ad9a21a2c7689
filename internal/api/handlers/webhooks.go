package handlers

import (
	"context"
	"net/http"

	"github.com/eventhorizon/server/internal/api/problem"
	"github.com/eventhorizon/server/internal/domain/webhooks"
)

type WebhookService interface {
	Create(ctx context.Context, slug, actorID, rawURL string) (*webhooks.Webhook, error)
	ListForEvent(ctx context.Context, slug, actorID string) ([]webhooks.Webhook, error)
	Update(ctx context.Context, id, actorID, rawURL string) (*webhooks.Webhook, error)
	Toggle(ctx context.Context, id, actorID string) (*webhooks.Webhook, error)
	Delete(ctx context.Context, id, actorID string) (*webhooks.Webhook, error)
}

// WebhooksHandler manages the webhooks of events organized by the caller.
type WebhooksHandler struct {
	Service WebhookService
	Env     string
}

func NewWebhooksHandler(service WebhookService, env string) *WebhooksHandler {
	return &WebhooksHandler{Service: service, Env: env}
}

type webhookRequest struct {
	URL string `json:"url"`
}

func (h *WebhooksHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Service == nil {
		serverError(w, r, "")
		return
	}
	p, ok := principal(w, r, h.Env)
	if !ok {
		return
	}
	list, err := h.Service.ListForEvent(r.Context(), pathParam(r, "slug"), p.UserID)
	if err != nil {
		problem.WriteError(w, r, err, h.Env)
		return
	}
	views := make([]webhookView, 0, len(list))
	for i := range list {
		views = append(views, newWebhookView(&list[i]))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *WebhooksHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Service == nil {
		serverError(w, r, "")
		return
	}
	p, ok := principal(w, r, h.Env)
	if !ok {
		return
	}
	var req webhookRequest
	if err := decodeJSON(r, &req); err != nil {
		problem.WriteError(w, r, err, h.Env)
		return
	}
	hook, err := h.Service.Create(r.Context(), pathParam(r, "slug"), p.UserID, req.URL)
	if err != nil {
		problem.WriteError(w, r, err, h.Env)
		return
	}
	writeJSON(w, http.StatusCreated, newWebhookView(hook))
}

func (h *WebhooksHandler) Update(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Service == nil {
		serverError(w, r, "")
		return
	}
	p, ok := principal(w, r, h.Env)
	if !ok {
		return
	}
	var req webhookRequest
	if err := decodeJSON(r, &req); err != nil {
		problem.WriteError(w, r, err, h.Env)
		return
	}
	hook, err := h.Service.Update(r.Context(), pathParam(r, "id"), p.UserID, req.URL)
	if err != nil {
		problem.WriteError(w, r, err, h.Env)
		return
	}
	writeJSON(w, http.StatusOK, newWebhookView(hook))
}

func (h *WebhooksHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Service == nil {
		serverError(w, r, "")
		return
	}
	p, ok := principal(w, r, h.Env)
	if !ok {
		return
	}
	hook, err := h.Service.Toggle(r.Context(), pathParam(r, "id"), p.UserID)
	if err != nil {
		problem.WriteError(w, r, err, h.Env)
		return
	}
	writeJSON(w, http.StatusOK, newWebhookView(hook))
}

func (h *WebhooksHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Service == nil {
		serverError(w, r, "")
		return
	}
	p, ok := principal(w, r, h.Env)
	if !ok {
		return
	}
	if _, err := h.Service.Delete(r.Context(), pathParam(r, "id"), p.UserID); err != nil {
		problem.WriteError(w, r, err, h.Env)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
