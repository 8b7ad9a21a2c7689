package web

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/eventhorizon/server/internal/domain/developers"
	"github.com/eventhorizon/server/internal/domain/users"
)

// maxProfileForm bounds the in-memory part of the multipart profile form;
// larger avatars spill to temporary files.
const maxProfileForm = 8 << 20

type profilePage struct {
	FirstName   string
	LastName    string
	Email       string
	Bio         string
	Location    string
	PhoneNumber string
	AvatarURL   string
	SocialLinks []users.SocialLink
	Platforms   []struct{ Value, Label string }
	Errors      formErrors
}

func (s *Server) profileFor(r *http.Request, u *users.User) profilePage {
	links := u.SocialLinks
	if links == nil {
		links = []users.SocialLink{}
	}
	return profilePage{
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		Email:       u.Email,
		Bio:         u.Profile.Bio,
		Location:    u.Profile.Location,
		PhoneNumber: u.Profile.PhoneNumber,
		AvatarURL:   s.Users.AvatarURL(r.Context(), u),
		SocialLinks: links,
		Platforms:   users.Platforms,
		Errors:      formErrors{},
	}
}

// profile edits the account, the profile, the avatar and the social links
// in one form. Social link rows are submitted as parallel social_platform
// and social_url fields; rows without a URL are dropped.
func (s *Server) profile(w http.ResponseWriter, r *http.Request) {
	u, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	title := "Profile | " + u.Username
	if r.Method == http.MethodGet {
		s.render(w, r, http.StatusOK, "profile.html", title, s.profileFor(r, u))
		return
	}

	if err := r.ParseMultipartForm(maxProfileForm); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		s.pageError(w, r, err)
		return
	}
	form := r.PostForm
	data := s.profileFor(r, u)
	data.FirstName = form.Get("first_name")
	data.LastName = form.Get("last_name")
	data.Email = form.Get("email")
	data.Bio = form.Get("bio")
	data.Location = form.Get("location")
	data.PhoneNumber = form.Get("phone_number")
	data.SocialLinks = socialLinksFrom(form["social_platform"], form["social_url"])

	fail := func(err error) {
		errs, ok := errorsFrom(err)
		if !ok {
			s.serverError(w, r, err)
			return
		}
		data.Errors = errs
		s.addFlash(w, r, levelError, "Please correct the errors below.")
		s.render(w, r, http.StatusBadRequest, "profile.html", title, data)
	}

	links, err := users.CleanSocialLinks(data.SocialLinks)
	if err != nil {
		fail(err)
		return
	}
	if _, err := s.Users.UpdateAccount(r.Context(), u.ID, users.AccountInput{
		FirstName: data.FirstName,
		LastName:  data.LastName,
		Email:     data.Email,
	}); err != nil {
		fail(err)
		return
	}
	if _, err := s.Users.UpdateProfile(r.Context(), u.ID, users.ProfileInput{
		Bio:         data.Bio,
		Location:    data.Location,
		PhoneNumber: data.PhoneNumber,
	}); err != nil {
		fail(err)
		return
	}
	if _, err := s.Users.ReplaceSocialLinks(r.Context(), u.ID, links); err != nil {
		fail(err)
		return
	}

	if file, header, err := r.FormFile("avatar"); err == nil {
		defer file.Close()
		if notice := users.UploadNotice(header.Size); notice != "" {
			s.addFlash(w, r, levelInfo, notice)
		}
		if _, err := s.Users.UpdateAvatar(r.Context(), u.ID, file, header.Filename); err != nil {
			fail(err)
			return
		}
	} else if !errors.Is(err, http.ErrMissingFile) && !errors.Is(err, http.ErrNotMultipart) {
		s.serverError(w, r, err)
		return
	}

	s.addFlash(w, r, levelSuccess, "Your profile has been updated!")
	redirect(w, r, "/profile/")
}

func socialLinksFrom(platforms, urls []string) []users.SocialLink {
	links := make([]users.SocialLink, 0, len(urls))
	for i, u := range urls {
		platform := ""
		if i < len(platforms) {
			platform = platforms[i]
		}
		links = append(links, users.SocialLink{Platform: strings.TrimSpace(platform), URL: strings.TrimSpace(u)})
	}
	return links
}

type apiKeysPage struct {
	Keys       []developers.APIKey
	NewKey     string
	NewKeyName string
}

func (s *Server) apiKeys(w http.ResponseWriter, r *http.Request) {
	u, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	s.renderAPIKeys(w, r, u.ID, apiKeysPage{})
}

func (s *Server) renderAPIKeys(w http.ResponseWriter, r *http.Request, userID string, data apiKeysPage) {
	keys, err := s.Developers.ListAPIKeys(r.Context(), userID)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	data.Keys = keys
	s.render(w, r, http.StatusOK, "api_keys.html", "API Keys", data)
}

// apiKeyCreate shows the new key on the response page; it is never stored
// in plaintext and cannot be shown again.
func (s *Server) apiKeyCreate(w http.ResponseWriter, r *http.Request) {
	u, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	if r.Method == http.MethodGet {
		s.render(w, r, http.StatusOK, "api_key_form.html", "Create API Key", map[string]any{"Errors": formErrors{}})
		return
	}
	name := strings.TrimSpace(r.PostFormValue("name"))
	raw, key, err := s.Developers.CreateAPIKey(r.Context(), u.ID, name)
	if err != nil {
		errs, ok := errorsFrom(err)
		if !ok {
			s.serverError(w, r, err)
			return
		}
		s.render(w, r, http.StatusBadRequest, "api_key_form.html", "Create API Key", map[string]any{"Errors": errs, "Name": name})
		return
	}
	s.addFlash(w, r, levelSuccess, "API Key created successfully! Make sure to copy it now - you won't be able to see it again.")
	s.renderAPIKeys(w, r, u.ID, apiKeysPage{NewKey: raw, NewKeyName: key.Name})
}

func (s *Server) apiKeyDelete(w http.ResponseWriter, r *http.Request) {
	u, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	if r.Method == http.MethodGet {
		keys, err := s.Developers.ListAPIKeys(r.Context(), u.ID)
		if err != nil {
			s.serverError(w, r, err)
			return
		}
		for i := range keys {
			if keys[i].ID == id {
				s.render(w, r, http.StatusOK, "api_key_confirm_delete.html", "Delete API Key", map[string]any{"Key": keys[i]})
				return
			}
		}
		s.notFound(w, r)
		return
	}
	if err := s.Developers.DeleteAPIKey(r.Context(), u.ID, id); err != nil {
		s.pageError(w, r, err)
		return
	}
	s.addFlash(w, r, levelSuccess, "API Key deleted successfully!")
	redirect(w, r, "/api-keys/")
}

type appsPage struct {
	Apps      []developers.Application
	NewApp    *developers.Application
	NewSecret string
}

func (s *Server) oauthApps(w http.ResponseWriter, r *http.Request) {
	u, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	s.renderApps(w, r, u.ID, appsPage{})
}

func (s *Server) renderApps(w http.ResponseWriter, r *http.Request, userID string, data appsPage) {
	apps, err := s.Developers.ListApplications(r.Context(), userID)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	data.Apps = apps
	s.render(w, r, http.StatusOK, "oauth2_apps.html", "OAuth2 Applications", data)
}

type appFormPage struct {
	Input       developers.ApplicationInput
	ClientTypes any
	GrantTypes  any
	Errors      formErrors
}

func (s *Server) oauthAppCreate(w http.ResponseWriter, r *http.Request) {
	u, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	data := appFormPage{
		Input: developers.ApplicationInput{
			ClientType: developers.ClientConfidential,
			GrantType:  developers.GrantAuthorizationCode,
		},
		ClientTypes: developers.ClientTypes,
		GrantTypes:  developers.GrantTypes,
		Errors:      formErrors{},
	}
	if r.Method == http.MethodGet {
		s.render(w, r, http.StatusOK, "oauth2_app_form.html", "Create OAuth2 Application", data)
		return
	}

	if err := r.ParseForm(); err != nil {
		s.serverError(w, r, err)
		return
	}
	data.Input = developers.ApplicationInput{
		Name:         strings.TrimSpace(r.PostForm.Get("name")),
		ClientType:   developers.ClientType(r.PostForm.Get("client_type")),
		GrantType:    developers.GrantType(r.PostForm.Get("authorization_grant_type")),
		RedirectURIs: r.PostForm.Get("redirect_uris"),
	}
	if data.Input.Name == "" {
		data.Errors.add("", "Application name is required.")
		s.render(w, r, http.StatusBadRequest, "oauth2_app_form.html", "Create OAuth2 Application", data)
		return
	}
	app, secret, err := s.Developers.CreateApplication(r.Context(), u.ID, data.Input)
	if err != nil {
		if data.Errors, ok = errorsFrom(err); !ok {
			s.serverError(w, r, err)
			return
		}
		s.render(w, r, http.StatusBadRequest, "oauth2_app_form.html", "Create OAuth2 Application", data)
		return
	}
	s.addFlash(w, r, levelSuccess, fmt.Sprintf("OAuth2 application '%s' created successfully! Make sure to copy your Client Secret now.", app.Name))
	s.renderApps(w, r, u.ID, appsPage{NewApp: app, NewSecret: secret})
}

func (s *Server) oauthAppDelete(w http.ResponseWriter, r *http.Request) {
	u, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	apps, err := s.Developers.ListApplications(r.Context(), u.ID)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	var app *developers.Application
	for i := range apps {
		if apps[i].ID == r.PathValue("id") {
			app = &apps[i]
		}
	}
	if app == nil {
		s.notFound(w, r)
		return
	}
	if r.Method == http.MethodGet {
		s.render(w, r, http.StatusOK, "oauth2_app_confirm_delete.html", "Delete "+app.Name, map[string]any{"App": app})
		return
	}
	if err := s.Developers.DeleteApplication(r.Context(), u.ID, app.ID); err != nil {
		s.pageError(w, r, err)
		return
	}
	s.addFlash(w, r, levelSuccess, fmt.Sprintf("OAuth2 application '%s' deleted successfully!", app.Name))
	redirect(w, r, "/oauth2-apps/")
}
