package web

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/eventhorizon/server/internal/api/middleware"
	"github.com/eventhorizon/server/internal/auth"
	"github.com/eventhorizon/server/internal/domain/users"
)

const (
	flashCookieName = "eh_flash"
	stateCookieName = "eh_oauth_state"
	nextCookieName  = "eh_oauth_next"
)

// Flash levels, used as CSS classes.
const (
	levelSuccess = "success"
	levelInfo    = "info"
	levelWarning = "warning"
	levelError   = "error"
)

type flash struct {
	Level string `json:"l"`
	Text  string `json:"t"`
}

// login issues a session token for user and stores it in the session
// cookie.
func (s *Server) login(w http.ResponseWriter, user *users.User) error {
	token, expires, err := s.Sessions.Generate(user.ID, auth.RoleFor(user.IsStaff), "")
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   s.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func (s *Server) logout(w http.ResponseWriter) {
	s.clearCookie(w, middleware.SessionCookieName)
}

func (s *Server) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   s.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// addFlash queues a message for the next rendered page. Messages already
// queued by this response are kept.
func (s *Server) addFlash(w http.ResponseWriter, r *http.Request, level, text string) {
	pending := append(pendingFlashes(w, r), flash{Level: level, Text: text})
	raw, err := json.Marshal(pending)
	if err != nil {
		return
	}
	dropQueuedFlash(w)
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookieName,
		Value:    base64.RawURLEncoding.EncodeToString(raw),
		Path:     "/",
		HttpOnly: true,
		Secure:   s.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// takeFlashes returns the queued messages, including those added while
// handling this request, and clears them.
func (s *Server) takeFlashes(w http.ResponseWriter, r *http.Request) []flash {
	flashes := pendingFlashes(w, r)
	dropQueuedFlash(w)
	if _, err := r.Cookie(flashCookieName); err == nil {
		s.clearCookie(w, flashCookieName)
	}
	return flashes
}

// dropQueuedFlash removes a flash cookie already set on w.
func dropQueuedFlash(w http.ResponseWriter) {
	queued := w.Header()["Set-Cookie"]
	kept := queued[:0]
	for _, raw := range queued {
		if c, err := http.ParseSetCookie(raw); err == nil && c.Name == flashCookieName {
			continue
		}
		kept = append(kept, raw)
	}
	if len(kept) == 0 {
		w.Header().Del("Set-Cookie")
		return
	}
	w.Header()["Set-Cookie"] = kept
}

// pendingFlashes prefers the flash cookie already set on w over the one
// the request carried.
func pendingFlashes(w http.ResponseWriter, r *http.Request) []flash {
	pending := readFlashes(r)
	for _, raw := range w.Header()["Set-Cookie"] {
		if c, err := http.ParseSetCookie(raw); err == nil && c.Name == flashCookieName {
			pending = decodeFlashes(c.Value)
		}
	}
	return pending
}

func readFlashes(r *http.Request) []flash {
	c, err := r.Cookie(flashCookieName)
	if err != nil {
		return nil
	}
	return decodeFlashes(c.Value)
}

func decodeFlashes(value string) []flash {
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil
	}
	var flashes []flash
	if err := json.Unmarshal(raw, &flashes); err != nil {
		return nil
	}
	return flashes
}
