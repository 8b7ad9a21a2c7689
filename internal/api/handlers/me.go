package handlers

import (
	"context"
	"net/http"

	"github.com/eventhorizon/server/internal/api/problem"
	"github.com/eventhorizon/server/internal/domain/users"
)

type UserService interface {
	Get(ctx context.Context, id string) (*users.User, error)
	UpdateAccount(ctx context.Context, id string, in users.AccountInput) (*users.User, error)
	UpdateProfile(ctx context.Context, id string, in users.ProfileInput) (*users.User, error)
	ReplaceSocialLinks(ctx context.Context, id string, links []users.SocialLink) ([]users.SocialLink, error)
	AvatarURL(ctx context.Context, user *users.User) string
}

type MeHandler struct {
	Users UserService
	Env   string
}

func NewMeHandler(service UserService, env string) *MeHandler {
	return &MeHandler{Users: service, Env: env}
}

func (h *MeHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Users == nil {
		serverError(w, r, "")
		return
	}
	p, ok := principal(w, r, h.Env)
	if !ok {
		return
	}
	user, err := h.Users.Get(r.Context(), p.UserID)
	if err != nil {
		problem.WriteError(w, r, err, h.Env)
		return
	}
	writeJSON(w, http.StatusOK, newUserView(user, h.Users.AvatarURL(r.Context(), user)))
}

type profilePatch struct {
	Bio         *string             `json:"bio"`
	Location    *string             `json:"location"`
	PhoneNumber *string             `json:"phone_number"`
	SocialLinks *[]users.SocialLink `json:"social_links"`
}

type mePatch struct {
	FirstName *string       `json:"first_name"`
	LastName  *string       `json:"last_name"`
	Email     *string       `json:"email"`
	Profile   *profilePatch `json:"profile"`
}

// Patch updates the account and profile fields present in the body.
// Social links, when given, replace the whole set.
func (h *MeHandler) Patch(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Users == nil {
		serverError(w, r, "")
		return
	}
	p, ok := principal(w, r, h.Env)
	if !ok {
		return
	}

	var patch mePatch
	if err := decodeJSON(r, &patch); err != nil {
		problem.WriteError(w, r, err, h.Env)
		return
	}

	ctx := r.Context()
	user, err := h.Users.Get(ctx, p.UserID)
	if err != nil {
		problem.WriteError(w, r, err, h.Env)
		return
	}

	if patch.FirstName != nil || patch.LastName != nil || patch.Email != nil {
		account := users.AccountInput{
			FirstName: valueOr(patch.FirstName, user.FirstName),
			LastName:  valueOr(patch.LastName, user.LastName),
			Email:     valueOr(patch.Email, user.Email),
		}
		if user, err = h.Users.UpdateAccount(ctx, p.UserID, account); err != nil {
			problem.WriteError(w, r, err, h.Env)
			return
		}
	}

	if pp := patch.Profile; pp != nil {
		if pp.Bio != nil || pp.Location != nil || pp.PhoneNumber != nil {
			profile := users.ProfileInput{
				Bio:         valueOr(pp.Bio, user.Profile.Bio),
				Location:    valueOr(pp.Location, user.Profile.Location),
				PhoneNumber: valueOr(pp.PhoneNumber, user.Profile.PhoneNumber),
			}
			if user, err = h.Users.UpdateProfile(ctx, p.UserID, profile); err != nil {
				problem.WriteError(w, r, err, h.Env)
				return
			}
		}
		if pp.SocialLinks != nil {
			links, err := h.Users.ReplaceSocialLinks(ctx, p.UserID, *pp.SocialLinks)
			if err != nil {
				problem.WriteError(w, r, err, h.Env)
				return
			}
			user.SocialLinks = links
		}
	}

	writeJSON(w, http.StatusOK, newUserView(user, h.Users.AvatarURL(ctx, user)))
}

func valueOr(v *string, fallback string) string {
	if v == nil {
		return fallback
	}
	return *v
}
