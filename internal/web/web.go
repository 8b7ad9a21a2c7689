// Package web serves the server-rendered pages of Event Horizon.
package web

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/eventhorizon/server/internal/api/middleware"
	"github.com/eventhorizon/server/internal/auth"
	"github.com/eventhorizon/server/internal/auth/oauth"
	"github.com/eventhorizon/server/internal/domain/developers"
	"github.com/eventhorizon/server/internal/domain/events"
	"github.com/eventhorizon/server/internal/domain/registrations"
	"github.com/eventhorizon/server/internal/domain/users"
	"github.com/eventhorizon/server/internal/domain/webhooks"
	"github.com/rs/zerolog"
)

//go:embed templates
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

const siteName = "Event Horizon"

type EventService interface {
	List(ctx context.Context, filters events.Filters, viewerID string) (events.ListResult, error)
	Get(ctx context.Context, slug, viewerID string) (*events.Event, error)
	Create(ctx context.Context, organizerID string, in events.Input) (*events.Event, error)
	Update(ctx context.Context, actorID, slug string, in events.Input) (*events.Event, error)
	Delete(ctx context.Context, actorID, slug string) error
	ListHosted(ctx context.Context, userID string) ([]events.Event, error)
	Upcoming(ctx context.Context, limit int) ([]events.Event, error)
}

type RegistrationService interface {
	Register(ctx context.Context, slug string, participant events.UserSummary, answers map[string]any) (*registrations.Registration, error)
	Unregister(ctx context.Context, slug, participantID string) error
	ListForEvent(ctx context.Context, slug, actorID string) (*events.Event, []registrations.Registration, error)
	ListForParticipant(ctx context.Context, participantID string) ([]registrations.Registration, error)
	ForEvent(ctx context.Context, eventID, participantID string) (*registrations.Registration, error)
	Manage(ctx context.Context, registrationID, actorID string, action registrations.Action) (*registrations.Registration, error)
	Roster(ctx context.Context, slug, actorID string) (*registrations.Roster, error)
}

type WebhookService interface {
	Create(ctx context.Context, slug, actorID, rawURL string) (*webhooks.Webhook, error)
	ListForEvent(ctx context.Context, slug, actorID string) ([]webhooks.Webhook, error)
	Get(ctx context.Context, id, actorID string) (*webhooks.Webhook, error)
	Update(ctx context.Context, id, actorID, rawURL string) (*webhooks.Webhook, error)
	Toggle(ctx context.Context, id, actorID string) (*webhooks.Webhook, error)
	Delete(ctx context.Context, id, actorID string) (*webhooks.Webhook, error)
}

type UserService interface {
	SignUp(ctx context.Context, in users.SignUpInput) (*users.User, error)
	Authenticate(ctx context.Context, login, password string) (*users.User, error)
	LoginWithGitHub(ctx context.Context, gh users.GitHubProfile) (*users.User, error)
	UpdateAccount(ctx context.Context, id string, in users.AccountInput) (*users.User, error)
	UpdateProfile(ctx context.Context, id string, in users.ProfileInput) (*users.User, error)
	ReplaceSocialLinks(ctx context.Context, id string, links []users.SocialLink) ([]users.SocialLink, error)
	UpdateAvatar(ctx context.Context, id string, r io.Reader, filename string) (*users.AvatarResult, error)
	AvatarURL(ctx context.Context, user *users.User) string
}

type DeveloperService interface {
	CreateAPIKey(ctx context.Context, userID, name string) (string, *developers.APIKey, error)
	ListAPIKeys(ctx context.Context, userID string) ([]developers.APIKey, error)
	DeleteAPIKey(ctx context.Context, userID, id string) error
	CreateApplication(ctx context.Context, userID string, in developers.ApplicationInput) (*developers.Application, string, error)
	ListApplications(ctx context.Context, userID string) ([]developers.Application, error)
	DeleteApplication(ctx context.Context, userID, id string) error
}

// GitHubClient is the part of the GitHub OAuth client the login flow uses.
type GitHubClient interface {
	Enabled() bool
	GenerateAuthURL(state string) string
	ExchangeCode(ctx context.Context, code string) (string, error)
	FetchUserProfile(ctx context.Context, accessToken string) (*oauth.GitHubUser, error)
}

type Deps struct {
	Events        EventService
	Registrations RegistrationService
	Webhooks      WebhookService
	Users         UserService
	Developers    DeveloperService
	GitHub        GitHubClient
	Sessions      *auth.JWTManager
	BaseURL       string
	CSRFKey       []byte
	SecureCookies bool
	Env           string
	Logger        zerolog.Logger
}

type Server struct {
	Deps
	pages  map[string]*template.Template
	logger zerolog.Logger
	now    func() time.Time
}

// New parses the embedded templates. Every page template is combined with
// the shared layout.
func New(deps Deps) (*Server, error) {
	pages, err := parsePages(templateFS)
	if err != nil {
		return nil, err
	}
	deps.BaseURL = strings.TrimRight(deps.BaseURL, "/")
	return &Server{
		Deps:   deps,
		pages:  pages,
		logger: deps.Logger.With().Str("component", "web").Logger(),
		now:    time.Now,
	}, nil
}

var funcs = template.FuncMap{
	"date": func(t time.Time) string {
		return t.UTC().Format("Jan 2, 2006 15:04 UTC")
	},
	"inputTime": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.UTC().Format("2006-01-02T15:04")
	},
	"answers":  registrations.AnswerItems,
	"add":      func(a, b int) int { return a + b },
	"contains": strings.Contains,
}

func parsePages(fsys fs.FS) (map[string]*template.Template, error) {
	names, err := fs.Glob(fsys, "templates/*.html")
	if err != nil {
		return nil, err
	}
	pages := make(map[string]*template.Template, len(names))
	for _, name := range names {
		base := strings.TrimPrefix(name, "templates/")
		if base == "layout.html" {
			continue
		}
		t, err := template.New(base).Funcs(funcs).ParseFS(fsys, "templates/layout.html", name)
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", base, err)
		}
		pages[base] = t
	}
	return pages, nil
}

// page is the data every template receives.
type page struct {
	Title      string
	User       *users.User
	Flashes    []flash
	CSRFField  template.HTML
	CSRFToken  string
	GitHub     bool
	Path       string
	SiteName   string
	SitemapURL string
	Data       any
}

// render writes a page. Rendering goes through a buffer so template errors
// still produce a clean 500.
func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name, title string, data any) {
	t, ok := s.pages[name]
	if !ok {
		s.serverError(w, r, fmt.Errorf("unknown template %s", name))
		return
	}

	p := page{
		Title:      title,
		Flashes:    s.takeFlashes(w, r),
		CSRFField:  middleware.CSRFTemplateField(r),
		CSRFToken:  middleware.CSRFToken(r),
		GitHub:     s.GitHub != nil && s.GitHub.Enabled(),
		Path:       r.URL.Path,
		SiteName:   siteName,
		SitemapURL: s.BaseURL + "/sitemap.xml",
		Data:       data,
	}
	if principal := middleware.PrincipalFrom(r.Context()); principal != nil {
		p.User = principal.User
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", p); err != nil {
		s.serverError(w, r, fmt.Errorf("render %s: %w", name, err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func (s *Server) serverError(w http.ResponseWriter, r *http.Request, err error) {
	zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("page failed")
	http.Error(w, "Something went wrong. Please try again.", http.StatusInternalServerError)
}

func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusNotFound, "not_found.html", "Not found", nil)
}

func (s *Server) forbidden(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusForbidden, "forbidden.html", "Forbidden", nil)
}

func redirect(w http.ResponseWriter, r *http.Request, to string) {
	http.Redirect(w, r, to, http.StatusFound)
}

// currentUser returns the logged-in user. Anonymous visitors are sent to
// the login page with a next parameter and ok is false.
func (s *Server) currentUser(w http.ResponseWriter, r *http.Request) (*users.User, bool) {
	if p := middleware.PrincipalFrom(r.Context()); p != nil && p.User != nil {
		return p.User, true
	}
	redirect(w, r, "/accounts/login/?next="+url.QueryEscape(r.URL.RequestURI()))
	return nil, false
}

func viewer(r *http.Request) *users.User {
	if p := middleware.PrincipalFrom(r.Context()); p != nil {
		return p.User
	}
	return nil
}

// safeNext accepts only local paths so login cannot redirect off-site.
func safeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return "/"
	}
	return next
}

func eventURL(slug string) string {
	return "/events/" + url.PathEscape(slug) + "/"
}
