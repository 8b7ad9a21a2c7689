package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/eventhorizon/server/internal/auth"
	"github.com/eventhorizon/server/internal/domain/developers"
	"github.com/eventhorizon/server/internal/domain/users"
	"github.com/rs/zerolog"
)

type ClientAuthenticator interface {
	AuthenticateClient(ctx context.Context, clientID, secret string) (*developers.Application, error)
}

type PasswordAuthenticator interface {
	Authenticate(ctx context.Context, login, password string) (*users.User, error)
}

// TokenHandler is the OAuth2 token endpoint. It issues access tokens for
// the client_credentials and password grants.
type TokenHandler struct {
	Clients ClientAuthenticator
	Users   PasswordAuthenticator
	Access  *auth.JWTManager
	logger  zerolog.Logger
}

func NewTokenHandler(clients ClientAuthenticator, usersAuth PasswordAuthenticator, access *auth.JWTManager, logger zerolog.Logger) *TokenHandler {
	return &TokenHandler{
		Clients: clients,
		Users:   usersAuth,
		Access:  access,
		logger:  logger.With().Str("handler", "oauth2_token").Logger(),
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope"`
}

type tokenError struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func (h *TokenHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")

	if h == nil || h.Clients == nil || h.Access == nil {
		writeJSON(w, http.StatusInternalServerError, tokenError{Error: "server_error"})
		return
	}
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, tokenError{Error: "invalid_request", Description: "Malformed form body."})
		return
	}

	clientID, secret, basic := r.BasicAuth()
	if !basic {
		clientID = r.PostForm.Get("client_id")
		secret = r.PostForm.Get("client_secret")
	}

	app, err := h.Clients.AuthenticateClient(r.Context(), clientID, secret)
	if err != nil {
		if errors.Is(err, developers.ErrInvalidClient) {
			if basic {
				w.Header().Set("WWW-Authenticate", `Basic realm="eventhorizon"`)
			}
			writeJSON(w, http.StatusUnauthorized, tokenError{Error: "invalid_client", Description: "Client authentication failed."})
			return
		}
		h.logger.Error().Err(err).Msg("client authentication failed")
		writeJSON(w, http.StatusInternalServerError, tokenError{Error: "server_error"})
		return
	}

	grant := strings.TrimSpace(r.PostForm.Get("grant_type"))
	var (
		subject string
		role    auth.Role
	)
	switch grant {
	case "client_credentials":
		if app.GrantType != developers.GrantClientCredentials || app.ClientType != developers.ClientConfidential {
			writeJSON(w, http.StatusBadRequest, tokenError{Error: "unauthorized_client", Description: "The client is not allowed to use this grant type."})
			return
		}
		subject, role = app.UserID, auth.RoleUser
	case "password":
		if app.GrantType != developers.GrantPassword {
			writeJSON(w, http.StatusBadRequest, tokenError{Error: "unauthorized_client", Description: "The client is not allowed to use this grant type."})
			return
		}
		if h.Users == nil {
			writeJSON(w, http.StatusInternalServerError, tokenError{Error: "server_error"})
			return
		}
		user, err := h.Users.Authenticate(r.Context(), r.PostForm.Get("username"), r.PostForm.Get("password"))
		if err != nil {
			if errors.Is(err, users.ErrInvalidCredentials) || errors.Is(err, users.ErrInactive) {
				writeJSON(w, http.StatusBadRequest, tokenError{Error: "invalid_grant", Description: "Invalid credentials given."})
				return
			}
			h.logger.Error().Err(err).Msg("password grant failed")
			writeJSON(w, http.StatusInternalServerError, tokenError{Error: "server_error"})
			return
		}
		subject, role = user.ID, auth.RoleFor(user.IsStaff)
	case "":
		writeJSON(w, http.StatusBadRequest, tokenError{Error: "invalid_request", Description: "Missing grant_type parameter."})
		return
	default:
		writeJSON(w, http.StatusBadRequest, tokenError{Error: "unsupported_grant_type"})
		return
	}

	token, _, err := h.Access.Generate(subject, role, app.ClientID)
	if err != nil {
		h.logger.Error().Err(err).Str("client_id", app.ClientID).Msg("failed to sign access token")
		writeJSON(w, http.StatusInternalServerError, tokenError{Error: "server_error"})
		return
	}

	h.logger.Info().Str("client_id", app.ClientID).Str("grant_type", grant).Str("user_id", subject).Msg("access token issued")
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(h.Access.Expiry().Seconds()),
		Scope:       "read write",
	})
}
