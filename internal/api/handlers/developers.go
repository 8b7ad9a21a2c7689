package handlers

import (
	"context"
	"net/http"

	"github.com/eventhorizon/server/internal/api/problem"
	"github.com/eventhorizon/server/internal/domain/developers"
)

type DeveloperService interface {
	CreateAPIKey(ctx context.Context, userID, name string) (string, *developers.APIKey, error)
	ListAPIKeys(ctx context.Context, userID string) ([]developers.APIKey, error)
	DeleteAPIKey(ctx context.Context, userID, id string) error
	CreateApplication(ctx context.Context, userID string, in developers.ApplicationInput) (*developers.Application, string, error)
	ListApplications(ctx context.Context, userID string) ([]developers.Application, error)
	DeleteApplication(ctx context.Context, userID, id string) error
}

// DevelopersHandler manages the caller's API keys and OAuth2 applications.
type DevelopersHandler struct {
	Service DeveloperService
	Env     string
}

func NewDevelopersHandler(service DeveloperService, env string) *DevelopersHandler {
	return &DevelopersHandler{Service: service, Env: env}
}

type createAPIKeyRequest struct {
	Name string `json:"name"`
}

type createdAPIKey struct {
	developers.APIKey
	Key     string `json:"key"`
	Warning string `json:"warning"`
}

func (h *DevelopersHandler) ListKeys(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Service == nil {
		serverError(w, r, "")
		return
	}
	p, ok := principal(w, r, h.Env)
	if !ok {
		return
	}
	keys, err := h.Service.ListAPIKeys(r.Context(), p.UserID)
	if err != nil {
		problem.WriteError(w, r, err, h.Env)
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

// CreateKey returns the plaintext key; it cannot be retrieved again.
func (h *DevelopersHandler) CreateKey(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Service == nil {
		serverError(w, r, "")
		return
	}
	p, ok := principal(w, r, h.Env)
	if !ok {
		return
	}
	var req createAPIKeyRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			problem.WriteError(w, r, err, h.Env)
			return
		}
	}
	raw, key, err := h.Service.CreateAPIKey(r.Context(), p.UserID, req.Name)
	if err != nil {
		problem.WriteError(w, r, err, h.Env)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusCreated, createdAPIKey{
		APIKey:  *key,
		Key:     raw,
		Warning: "Copy this key now. It will not be shown again.",
	})
}

func (h *DevelopersHandler) DeleteKey(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Service == nil {
		serverError(w, r, "")
		return
	}
	p, ok := principal(w, r, h.Env)
	if !ok {
		return
	}
	if err := h.Service.DeleteAPIKey(r.Context(), p.UserID, pathParam(r, "id")); err != nil {
		problem.WriteError(w, r, err, h.Env)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type applicationRequest struct {
	Name         string `json:"name"`
	ClientType   string `json:"client_type"`
	GrantType    string `json:"authorization_grant_type"`
	RedirectURIs string `json:"redirect_uris"`
}

type createdApplication struct {
	developers.Application
	ClientSecret string `json:"client_secret"`
	Warning      string `json:"warning"`
}

func (h *DevelopersHandler) ListApplications(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Service == nil {
		serverError(w, r, "")
		return
	}
	p, ok := principal(w, r, h.Env)
	if !ok {
		return
	}
	apps, err := h.Service.ListApplications(r.Context(), p.UserID)
	if err != nil {
		problem.WriteError(w, r, err, h.Env)
		return
	}
	writeJSON(w, http.StatusOK, apps)
}

// CreateApplication returns the client secret once.
func (h *DevelopersHandler) CreateApplication(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Service == nil {
		serverError(w, r, "")
		return
	}
	p, ok := principal(w, r, h.Env)
	if !ok {
		return
	}
	var req applicationRequest
	if err := decodeJSON(r, &req); err != nil {
		problem.WriteError(w, r, err, h.Env)
		return
	}
	app, secret, err := h.Service.CreateApplication(r.Context(), p.UserID, developers.ApplicationInput{
		Name:         req.Name,
		ClientType:   developers.ClientType(req.ClientType),
		GrantType:    developers.GrantType(req.GrantType),
		RedirectURIs: req.RedirectURIs,
	})
	if err != nil {
		problem.WriteError(w, r, err, h.Env)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusCreated, createdApplication{
		Application:  *app,
		ClientSecret: secret,
		Warning:      "Copy this secret now. It will not be shown again.",
	})
}

func (h *DevelopersHandler) DeleteApplication(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Service == nil {
		serverError(w, r, "")
		return
	}
	p, ok := principal(w, r, h.Env)
	if !ok {
		return
	}
	if err := h.Service.DeleteApplication(r.Context(), p.UserID, pathParam(r, "id")); err != nil {
		problem.WriteError(w, r, err, h.Env)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
