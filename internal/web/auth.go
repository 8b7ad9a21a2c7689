package web

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/eventhorizon/server/internal/auth/oauth"
	"github.com/eventhorizon/server/internal/domain/users"
)

const stateTTL = 10 * time.Minute

type loginPage struct {
	Login  string
	Next   string
	Errors formErrors
}

func (s *Server) loginPage(w http.ResponseWriter, r *http.Request) {
	next := safeNext(r.FormValue("next"))
	if r.Method == http.MethodGet {
		if viewer(r) != nil {
			redirect(w, r, next)
			return
		}
		s.render(w, r, http.StatusOK, "login.html", "Sign In", loginPage{Next: next, Errors: formErrors{}})
		return
	}

	data := loginPage{Login: strings.TrimSpace(r.PostFormValue("login")), Next: next, Errors: formErrors{}}
	user, err := s.Users.Authenticate(r.Context(), data.Login, r.PostFormValue("password"))
	switch {
	case errors.Is(err, users.ErrInvalidCredentials):
		data.Errors.add("", "The username and/or password you specified are not correct.")
		s.render(w, r, http.StatusBadRequest, "login.html", "Sign In", data)
		return
	case errors.Is(err, users.ErrInactive):
		data.Errors.add("", "This account is inactive.")
		s.render(w, r, http.StatusBadRequest, "login.html", "Sign In", data)
		return
	case err != nil:
		s.serverError(w, r, err)
		return
	}
	if err := s.login(w, user); err != nil {
		s.serverError(w, r, err)
		return
	}
	s.addFlash(w, r, levelSuccess, fmt.Sprintf("Successfully signed in as %s.", user.Username))
	redirect(w, r, next)
}

type signupPage struct {
	Username string
	Email    string
	Errors   formErrors
}

func (s *Server) signup(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		s.render(w, r, http.StatusOK, "signup.html", "Sign Up", signupPage{Errors: formErrors{}})
		return
	}

	data := signupPage{
		Username: strings.TrimSpace(r.PostFormValue("username")),
		Email:    strings.TrimSpace(r.PostFormValue("email")),
		Errors:   formErrors{},
	}
	if r.PostFormValue("password1") != r.PostFormValue("password2") {
		data.Errors.add("password2", "You must type the same password each time.")
		s.render(w, r, http.StatusBadRequest, "signup.html", "Sign Up", data)
		return
	}
	user, err := s.Users.SignUp(r.Context(), users.SignUpInput{
		Username: data.Username,
		Email:    data.Email,
		Password: r.PostFormValue("password1"),
	})
	if err != nil {
		errs, ok := errorsFrom(err)
		if !ok {
			s.serverError(w, r, err)
			return
		}
		data.Errors = errs
		s.render(w, r, http.StatusBadRequest, "signup.html", "Sign Up", data)
		return
	}
	if err := s.login(w, user); err != nil {
		s.serverError(w, r, err)
		return
	}
	s.addFlash(w, r, levelSuccess, fmt.Sprintf("Successfully signed in as %s.", user.Username))
	redirect(w, r, "/")
}

func (s *Server) logoutPage(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		s.render(w, r, http.StatusOK, "logout.html", "Sign Out", nil)
		return
	}
	s.logout(w)
	s.addFlash(w, r, levelSuccess, "You have signed out.")
	redirect(w, r, "/")
}

// githubLogin starts the GitHub OAuth flow. The state is kept in a short
// lived cookie and checked on the callback.
func (s *Server) githubLogin(w http.ResponseWriter, r *http.Request) {
	if s.GitHub == nil || !s.GitHub.Enabled() {
		s.notFound(w, r)
		return
	}
	state, err := oauth.GenerateState()
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	s.setShortCookie(w, stateCookieName, state)
	s.setShortCookie(w, nextCookieName, safeNext(r.URL.Query().Get("next")))
	http.Redirect(w, r, s.GitHub.GenerateAuthURL(state), http.StatusFound)
}

func (s *Server) githubCallback(w http.ResponseWriter, r *http.Request) {
	if s.GitHub == nil || !s.GitHub.Enabled() {
		s.notFound(w, r)
		return
	}
	next := "/"
	if c, err := r.Cookie(nextCookieName); err == nil {
		next = safeNext(c.Value)
	}
	s.clearCookie(w, stateCookieName)
	s.clearCookie(w, nextCookieName)

	fail := func(reason string, err error) {
		s.logger.Warn().Err(err).Str("reason", reason).Msg("github login failed")
		s.addFlash(w, r, levelError, "GitHub sign in failed. Please try again.")
		redirect(w, r, "/accounts/login/")
	}

	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		fail("denied", errors.New(e))
		return
	}
	c, err := r.Cookie(stateCookieName)
	if err != nil || c.Value == "" || subtle.ConstantTimeCompare([]byte(c.Value), []byte(q.Get("state"))) != 1 {
		fail("state_mismatch", err)
		return
	}
	token, err := s.GitHub.ExchangeCode(r.Context(), q.Get("code"))
	if err != nil {
		fail("exchange", err)
		return
	}
	gh, err := s.GitHub.FetchUserProfile(r.Context(), token)
	if err != nil {
		fail("profile", err)
		return
	}
	user, err := s.Users.LoginWithGitHub(r.Context(), users.GitHubProfile{
		ID:    gh.ID,
		Login: gh.Login,
		Email: gh.Email,
		Name:  gh.Name,
	})
	if errors.Is(err, users.ErrInactive) {
		s.addFlash(w, r, levelError, "This account is inactive.")
		redirect(w, r, "/accounts/login/")
		return
	}
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	if err := s.login(w, user); err != nil {
		s.serverError(w, r, err)
		return
	}
	s.addFlash(w, r, levelSuccess, fmt.Sprintf("Successfully signed in as %s.", user.Username))
	redirect(w, r, next)
}

func (s *Server) setShortCookie(w http.ResponseWriter, name, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(stateTTL.Seconds()),
		HttpOnly: true,
		Secure:   s.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}
