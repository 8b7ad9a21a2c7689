package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/eventhorizon/server/internal/api/problem"
	"github.com/eventhorizon/server/internal/domain/events"
	"github.com/eventhorizon/server/internal/domain/users"
)

type UserLister interface {
	List(ctx context.Context, limit, offset int) ([]users.User, int, error)
}

// AdminHandler serves the staff-only listings. Routes are wrapped in
// RequireStaff.
type AdminHandler struct {
	Users  UserLister
	Events EventService
	Env    string
}

func NewAdminHandler(userList UserLister, eventService EventService, env string) *AdminHandler {
	return &AdminHandler{Users: userList, Events: eventService, Env: env}
}

func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Users == nil {
		serverError(w, r, "")
		return
	}
	current, size, err := pageParams(r)
	if err != nil {
		problem.WriteError(w, r, err, h.Env)
		return
	}
	list, total, err := h.Users.List(r.Context(), size, (current-1)*size)
	if err != nil {
		problem.WriteError(w, r, err, h.Env)
		return
	}
	views := make([]userView, 0, len(list))
	for i := range list {
		views = append(views, newUserView(&list[i], ""))
	}
	writeJSON(w, http.StatusOK, newPage(r, views, total, current, size))
}

// ListEvents lists every event soonest first, with the listing filters.
func (h *AdminHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Events == nil {
		serverError(w, r, "")
		return
	}
	handler := &EventsHandler{Service: h.Events, Env: h.Env}
	q := r.URL.Query()
	if q.Get("ordering") == "" {
		q.Set("ordering", string(events.OrderStartAsc))
		r2 := r.Clone(r.Context())
		r2.URL.RawQuery = q.Encode()
		r = r2
	}
	handler.List(w, r)
}

func pageParams(r *http.Request) (int, int, error) {
	current, size := 1, events.DefaultPageSize
	if raw := r.URL.Query().Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > events.MaxPage {
			return 0, 0, events.FilterError{Field: "page", Message: fmt.Sprintf("must be between 1 and %d", events.MaxPage)}
		}
		current = n
	}
	if raw := r.URL.Query().Get("page_size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > events.MaxPageSize {
			return 0, 0, events.FilterError{Field: "page_size", Message: "must be between 1 and 100"}
		}
		size = n
	}
	return current, size, nil
}
