package web

import (
	"io/fs"
	"net/http"

	"github.com/eventhorizon/server/internal/api/middleware"
)

// Register adds the pages to mux. Every page is CSRF protected; a
// rejected form renders the forbidden page.
func (s *Server) Register(mux *http.ServeMux) {
	protect := middleware.CSRFProtection(s.CSRFKey, s.SecureCookies, http.HandlerFunc(s.csrfFailure))
	page := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, protect(h))
	}
	// form pages answer GET with the form and POST with the submission.
	form := func(path string, h http.HandlerFunc) {
		page(http.MethodGet+" "+path, h)
		page(http.MethodPost+" "+path, h)
	}

	page("GET /{$}", s.home)
	page("GET /events/{$}", s.eventList)
	form("/events/new/{$}", s.eventCreate)
	page("GET /events/{slug}/{$}", s.eventDetail)
	form("/events/{slug}/update/{$}", s.eventUpdate)
	form("/events/{slug}/delete/{$}", s.eventDelete)
	page("POST /events/{slug}/register/{$}", s.register)
	page("POST /events/{slug}/unregister/{$}", s.unregister)
	page("GET /events/{slug}/export/{$}", s.export)
	form("/events/{slug}/webhooks/new/{$}", s.webhookCreate)
	form("/webhooks/{id}/edit/{$}", s.webhookUpdate)
	form("/webhooks/{id}/delete/{$}", s.webhookDelete)
	page("POST /webhooks/{id}/toggle/{$}", s.webhookToggle)
	page("POST /registration/{id}/manage/{$}", s.manage)
	page("GET /my-events/{$}", s.myEvents)
	form("/profile/{$}", s.profile)
	page("GET /api-keys/{$}", s.apiKeys)
	form("/api-keys/create/{$}", s.apiKeyCreate)
	form("/api-keys/{id}/delete/{$}", s.apiKeyDelete)
	page("GET /oauth2-apps/{$}", s.oauthApps)
	form("/oauth2-apps/create/{$}", s.oauthAppCreate)
	form("/oauth2-apps/{id}/delete/{$}", s.oauthAppDelete)
	form("/accounts/login/{$}", s.loginPage)
	form("/accounts/signup/{$}", s.signup)
	form("/accounts/logout/{$}", s.logoutPage)
	page("GET /accounts/github/login/{$}", s.githubLogin)
	page("GET /accounts/github/callback/{$}", s.githubCallback)

	mux.HandleFunc("GET /sitemap.xml", s.sitemapHandler)
	mux.HandleFunc("GET /robots.txt", s.robotsHandler)

	static, _ := fs.Sub(staticFS, "static")
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(static)))
}

func (s *Server) csrfFailure(w http.ResponseWriter, r *http.Request) {
	s.logger.Warn().Str("path", r.URL.Path).Msg("csrf check failed")
	s.render(w, r, http.StatusForbidden, "forbidden.html", "Forbidden", map[string]any{
		"Reason": "The form has expired or was not submitted from this site. Go back, reload the page and try again.",
	})
}
