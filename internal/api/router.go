package api

import (
	"net/http"
	"sort"
	"strings"

	"github.com/eventhorizon/server/internal/api/handlers"
	"github.com/eventhorizon/server/internal/api/middleware"
	"github.com/eventhorizon/server/internal/audit"
	"github.com/eventhorizon/server/internal/auth"
	"github.com/eventhorizon/server/internal/config"
	"github.com/eventhorizon/server/internal/metrics"
	"github.com/eventhorizon/server/internal/web"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// maxRequestBytes bounds JSON and form bodies. Avatar uploads fit within it.
const maxRequestBytes = 10 << 20

// Deps carries the services behind the HTTP surface. Web and Files are
// optional.
type Deps struct {
	Config        config.Config
	Logger        zerolog.Logger
	Build         BuildInfo
	DB            handlers.RowQuerier
	QueueEnabled  bool
	Authenticator *middleware.Authenticator
	Access        *auth.JWTManager
	Events        handlers.EventService
	Registrations handlers.RegistrationService
	Webhooks      handlers.WebhookService
	Users         handlers.UserService
	UserList      handlers.UserLister
	Developers    handlers.DeveloperService
	Clients       handlers.ClientAuthenticator
	Passwords     handlers.PasswordAuthenticator
	Web           *web.Server
	// Files serves uploaded media when storage is local.
	Files http.Handler
}

// Router is the assembled HTTP handler plus the resources it owns.
type Router struct {
	Handler http.Handler
	limiter *middleware.RateLimiter
}

// Close stops the rate limiter's cleanup loop.
func (r *Router) Close() {
	if r != nil && r.limiter != nil {
		r.limiter.Stop()
	}
}

func NewRouter(deps Deps) *Router {
	env := deps.Config.Environment
	logger := deps.Logger

	eventsHandler := handlers.NewEventsHandler(deps.Events, deps.Registrations, env)
	regsHandler := handlers.NewRegistrationsHandler(deps.Registrations, env, logger)
	hooksHandler := handlers.NewWebhooksHandler(deps.Webhooks, env)
	meHandler := handlers.NewMeHandler(deps.Users, env)
	devHandler := handlers.NewDevelopersHandler(deps.Developers, env)
	adminHandler := handlers.NewAdminHandler(deps.UserList, deps.Events, env)
	tokenHandler := handlers.NewTokenHandler(deps.Clients, deps.Passwords, deps.Access, logger)

	user := middleware.RequireUser(env)
	staff := middleware.RequireStaff(env)
	authed := func(h http.HandlerFunc) http.Handler { return user(h) }

	mux := http.NewServeMux()

	mux.Handle("/healthz", handlers.Healthz())
	mux.Handle("/readyz", handlers.NewHealthChecker(deps.DB, deps.QueueEnabled, deps.Build.Version, deps.Build.GitCommit).Readyz())
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/version", VersionHandler(deps.Build))
	mux.Handle("/api/openapi.json", OpenAPIHandler())

	mux.Handle("/api/events", methodMux(map[string]http.Handler{
		http.MethodGet:  http.HandlerFunc(eventsHandler.List),
		http.MethodPost: authed(eventsHandler.Create),
	}))
	mux.Handle("/api/events/{slug}", methodMux(map[string]http.Handler{
		http.MethodGet:    http.HandlerFunc(eventsHandler.Get),
		http.MethodPut:    authed(eventsHandler.Update),
		http.MethodPatch:  authed(eventsHandler.Patch),
		http.MethodDelete: authed(eventsHandler.Delete),
	}))
	mux.Handle("/api/events/{slug}/register", methodMux(map[string]http.Handler{
		http.MethodPost: authed(eventsHandler.Register),
	}))
	mux.Handle("/api/events/{slug}/unregister", methodMux(map[string]http.Handler{
		http.MethodPost: authed(eventsHandler.Unregister),
	}))
	mux.Handle("/api/events/{slug}/registrations", methodMux(map[string]http.Handler{
		http.MethodGet: authed(regsHandler.ListForEvent),
	}))
	mux.Handle("/api/events/{slug}/registrations/export", methodMux(map[string]http.Handler{
		http.MethodGet: authed(regsHandler.Export),
	}))
	mux.Handle("/api/events/{slug}/webhooks", methodMux(map[string]http.Handler{
		http.MethodGet:  authed(hooksHandler.List),
		http.MethodPost: authed(hooksHandler.Create),
	}))
	mux.Handle("/api/webhooks/{id}", methodMux(map[string]http.Handler{
		http.MethodPut:    authed(hooksHandler.Update),
		http.MethodDelete: authed(hooksHandler.Delete),
	}))
	mux.Handle("/api/webhooks/{id}/toggle", methodMux(map[string]http.Handler{
		http.MethodPost: authed(hooksHandler.Toggle),
	}))

	mux.Handle("/api/registrations", methodMux(map[string]http.Handler{
		http.MethodGet: authed(regsHandler.Mine),
	}))
	mux.Handle("/api/registrations/{id}", methodMux(map[string]http.Handler{
		http.MethodGet: authed(regsHandler.Get),
	}))
	mux.Handle("/api/registrations/{id}/manage", methodMux(map[string]http.Handler{
		http.MethodPost: authed(regsHandler.Manage),
	}))

	mux.Handle("/api/me", methodMux(map[string]http.Handler{
		http.MethodGet:   authed(meHandler.Get),
		http.MethodPatch: authed(meHandler.Patch),
	}))
	mux.Handle("/api/keys", methodMux(map[string]http.Handler{
		http.MethodGet:  authed(devHandler.ListKeys),
		http.MethodPost: authed(devHandler.CreateKey),
	}))
	mux.Handle("/api/keys/{id}", methodMux(map[string]http.Handler{
		http.MethodDelete: authed(devHandler.DeleteKey),
	}))
	mux.Handle("/api/oauth2/applications", methodMux(map[string]http.Handler{
		http.MethodGet:  authed(devHandler.ListApplications),
		http.MethodPost: authed(devHandler.CreateApplication),
	}))
	mux.Handle("/api/oauth2/applications/{id}", methodMux(map[string]http.Handler{
		http.MethodDelete: authed(devHandler.DeleteApplication),
	}))
	mux.Handle("/o/token", methodMux(map[string]http.Handler{
		http.MethodPost: tokenHandler,
	}))

	mux.Handle("/api/admin/users", methodMux(map[string]http.Handler{
		http.MethodGet: staff(http.HandlerFunc(adminHandler.ListUsers)),
	}))
	mux.Handle("/api/admin/events", methodMux(map[string]http.Handler{
		http.MethodGet: staff(http.HandlerFunc(adminHandler.ListEvents)),
	}))

	if deps.Files != nil {
		mux.Handle("GET "+mediaPrefix(deps.Config)+"/", http.StripPrefix(mediaPrefix(deps.Config), deps.Files))
	}
	if deps.Web != nil {
		deps.Web.Register(mux)
	}

	limiter := middleware.NewRateLimiter(deps.Config.RateLimit, deps.Config.Server.TrustedProxies, env)

	var handler http.Handler = mux
	handler = middleware.RequestSize(maxRequestBytes)(handler)
	handler = limiter.Middleware(handler)
	handler = loginTier(handler)
	apiCSRF := middleware.CSRFProtection([]byte(deps.Config.Auth.CSRFKey), deps.Config.Auth.SecureCookies, nil)
	handler = middleware.CookieCSRF("/api/", apiCSRF)(handler)
	handler = middleware.Authenticate(deps.Authenticator, env)(handler)
	handler = middleware.RequestLogging(handler)
	handler = middleware.SecurityHeaders(env == "production")(handler)
	handler = audit.Middleware(handler)
	handler = metrics.HTTPMiddleware(handler)
	handler = middleware.Tracing(handler)
	handler = middleware.CorrelationID(logger)(handler)

	return &Router{Handler: handler, limiter: limiter}
}

// loginPaths take credentials and are limited on the login tier.
var loginPaths = map[string]bool{
	"/o/token":          true,
	"/accounts/login/":  true,
	"/accounts/signup/": true,
}

// loginTier marks credential submissions so the rate limiter applies the
// stricter budget. It must run before the limiter.
func loginTier(next http.Handler) http.Handler {
	login := middleware.WithRateLimitTierHandler(middleware.TierLogin)(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && loginPaths[r.URL.Path] {
			login.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// mediaPrefix is the URL path local uploads are served under.
func mediaPrefix(cfg config.Config) string {
	prefix := strings.TrimRight(cfg.Storage.LocalBaseURL, "/")
	if prefix == "" || !strings.HasPrefix(prefix, "/") {
		return "/files"
	}
	return prefix
}

func methodMux(handlers map[string]http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := handlers[r.Method]; ok {
			handler.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Allow", allowedMethods(handlers))
		w.WriteHeader(http.StatusMethodNotAllowed)
	})
}

func allowedMethods(handlers map[string]http.Handler) string {
	methods := make([]string, 0, len(handlers))
	for method := range handlers {
		methods = append(methods, method)
	}
	sort.Strings(methods)
	return strings.Join(methods, ", ")
}
