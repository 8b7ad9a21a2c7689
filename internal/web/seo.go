package web

import (
	"encoding/xml"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/eventhorizon/server/internal/domain/events"
)

// sitemapLimit caps the number of events listed in the sitemap.
const sitemapLimit = 5000

type urlSet struct {
	XMLName xml.Name     `xml:"urlset"`
	XMLNS   string       `xml:"xmlns,attr"`
	URLs    []sitemapURL `xml:"url"`
}

type sitemapURL struct {
	Loc        string `xml:"loc"`
	LastMod    string `xml:"lastmod,omitempty"`
	ChangeFreq string `xml:"changefreq"`
	Priority   string `xml:"priority"`
}

// sitemapHandler lists the static pages and every upcoming event, newest
// first.
func (s *Server) sitemapHandler(w http.ResponseWriter, r *http.Request) {
	upcoming, err := s.Events.Upcoming(r.Context(), sitemapLimit)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	slices.SortStableFunc(upcoming, func(a, b events.Event) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	set := urlSet{XMLNS: "http://www.sitemaps.org/schemas/sitemap/0.9"}
	for _, path := range []string{"/", "/events/"} {
		set.URLs = append(set.URLs, sitemapURL{Loc: s.BaseURL + path, ChangeFreq: "weekly", Priority: "0.8"})
	}
	for _, e := range upcoming {
		set.URLs = append(set.URLs, sitemapURL{
			Loc:        s.BaseURL + eventURL(e.Slug),
			LastMod:    e.UpdatedAt.UTC().Format(time.DateOnly),
			ChangeFreq: "daily",
			Priority:   "0.9",
		})
	}

	out, err := xml.MarshalIndent(set, "", "  ")
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write([]byte(xml.Header))
	_, _ = w.Write(out)
}

func (s *Server) robotsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	_, _ = fmt.Fprintf(w, "User-agent: *\nDisallow: /api/\nDisallow: /accounts/\nDisallow: /profile/\n\nSitemap: %s/sitemap.xml\n", s.BaseURL)
}
