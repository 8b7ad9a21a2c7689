package web

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"

	"github.com/eventhorizon/server/internal/api/problem"
	"github.com/eventhorizon/server/internal/domain/events"
	"github.com/eventhorizon/server/internal/domain/registrations"
	"github.com/eventhorizon/server/internal/domain/webhooks"
)

const homeUpcomingLimit = 3

func (s *Server) home(w http.ResponseWriter, r *http.Request) {
	upcoming, err := s.Events.Upcoming(r.Context(), homeUpcomingLimit)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	s.render(w, r, http.StatusOK, "home.html", siteName, map[string]any{"Upcoming": upcoming})
}

type listPage struct {
	Events   []events.Event
	Query    string
	Location string
	Page     int
	Pages    int
	Total    int
	PrevURL  string
	NextURL  string
}

// eventList shows events soonest first, six per page. Only the search and
// location filters are read from the query.
func (s *Server) eventList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := events.Filters{
		Query:    q.Get("q"),
		Location: q.Get("location"),
		Order:    events.OrderStartAsc,
		Page:     1,
		PageSize: events.WebPageSize,
	}
	if raw := q.Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > events.MaxPage {
			s.notFound(w, r)
			return
		}
		filters.Page = n
	}

	viewerID := ""
	if u := viewer(r); u != nil {
		viewerID = u.ID
	}
	result, err := s.Events.List(r.Context(), filters, viewerID)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	pages := (result.Total + filters.PageSize - 1) / filters.PageSize
	if pages < 1 {
		pages = 1
	}
	if filters.Page > pages {
		s.notFound(w, r)
		return
	}

	data := listPage{
		Events:   result.Events,
		Query:    filters.Query,
		Location: filters.Location,
		Page:     filters.Page,
		Pages:    pages,
		Total:    result.Total,
	}
	link := func(n int) string {
		v := url.Values{}
		if filters.Query != "" {
			v.Set("q", filters.Query)
		}
		if filters.Location != "" {
			v.Set("location", filters.Location)
		}
		v.Set("page", strconv.Itoa(n))
		return "/events/?" + v.Encode()
	}
	if filters.Page > 1 {
		data.PrevURL = link(filters.Page - 1)
	}
	if filters.Page < pages {
		data.NextURL = link(filters.Page + 1)
	}
	s.render(w, r, http.StatusOK, "event_list.html", "Events", data)
}

type detailPage struct {
	Event         *events.Event
	IsOrganizer   bool
	Registration  *registrations.Registration
	Registrations []registrations.Registration
	Webhooks      []webhooks.Webhook
}

func (s *Server) eventDetail(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")
	u := viewer(r)
	viewerID := ""
	if u != nil {
		viewerID = u.ID
	}

	event, err := s.Events.Get(r.Context(), slug, viewerID)
	if err != nil {
		s.pageError(w, r, err)
		return
	}
	data := detailPage{Event: event, IsOrganizer: event.IsOrganizer(viewerID)}

	if u != nil {
		reg, err := s.Registrations.ForEvent(r.Context(), event.ID, u.ID)
		switch {
		case err == nil:
			data.Registration = reg
		case !errors.Is(err, registrations.ErrNotFound):
			s.serverError(w, r, err)
			return
		}
	}
	if data.IsOrganizer {
		if _, data.Registrations, err = s.Registrations.ListForEvent(r.Context(), slug, u.ID); err != nil {
			s.serverError(w, r, err)
			return
		}
		if data.Webhooks, err = s.Webhooks.ListForEvent(r.Context(), slug, u.ID); err != nil {
			s.serverError(w, r, err)
			return
		}
	}
	s.render(w, r, http.StatusOK, "event_detail.html", event.Title, data)
}

type formPage struct {
	Form          eventForm
	Event         *events.Event
	QuestionTypes []string
}

func (s *Server) eventCreate(w http.ResponseWriter, r *http.Request) {
	u, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	if r.Method == http.MethodGet {
		s.render(w, r, http.StatusOK, "event_form.html", "Create event", formPage{Form: eventForm{Errors: formErrors{}}, QuestionTypes: events.QuestionTypes})
		return
	}

	if err := r.ParseForm(); err != nil {
		s.serverError(w, r, err)
		return
	}
	form, in, errs := parseEventForm(r.PostForm)
	if errs.Any() {
		s.render(w, r, http.StatusBadRequest, "event_form.html", "Create event", formPage{Form: form, QuestionTypes: events.QuestionTypes})
		return
	}
	event, err := s.Events.Create(r.Context(), u.ID, in)
	if err != nil {
		if form.Errors, ok = errorsFrom(err); !ok {
			s.serverError(w, r, err)
			return
		}
		s.render(w, r, http.StatusBadRequest, "event_form.html", "Create event", formPage{Form: form, QuestionTypes: events.QuestionTypes})
		return
	}
	s.addFlash(w, r, levelSuccess, fmt.Sprintf("Event '%s' was created successfully", event.Title))
	redirect(w, r, eventURL(event.Slug))
}

func (s *Server) eventUpdate(w http.ResponseWriter, r *http.Request) {
	u, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	event, ok := s.organizedEvent(w, r, u.ID)
	if !ok {
		return
	}
	title := "Update " + event.Title
	if r.Method == http.MethodGet {
		s.render(w, r, http.StatusOK, "event_form.html", title, formPage{Form: eventFormFrom(event), Event: event, QuestionTypes: events.QuestionTypes})
		return
	}

	if err := r.ParseForm(); err != nil {
		s.serverError(w, r, err)
		return
	}
	form, in, errs := parseEventForm(r.PostForm)
	if errs.Any() {
		s.render(w, r, http.StatusBadRequest, "event_form.html", title, formPage{Form: form, Event: event, QuestionTypes: events.QuestionTypes})
		return
	}
	updated, err := s.Events.Update(r.Context(), u.ID, event.Slug, in)
	if err != nil {
		if form.Errors, ok = errorsFrom(err); !ok {
			s.serverError(w, r, err)
			return
		}
		s.render(w, r, http.StatusBadRequest, "event_form.html", title, formPage{Form: form, Event: event, QuestionTypes: events.QuestionTypes})
		return
	}
	s.addFlash(w, r, levelSuccess, fmt.Sprintf("Event '%s' was updated successfully", updated.Title))
	redirect(w, r, eventURL(updated.Slug))
}

func (s *Server) eventDelete(w http.ResponseWriter, r *http.Request) {
	u, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	event, ok := s.organizedEvent(w, r, u.ID)
	if !ok {
		return
	}
	if r.Method == http.MethodGet {
		s.render(w, r, http.StatusOK, "event_confirm_delete.html", "Delete "+event.Title, map[string]any{"Event": event})
		return
	}
	if err := s.Events.Delete(r.Context(), u.ID, event.Slug); err != nil {
		s.pageError(w, r, err)
		return
	}
	s.addFlash(w, r, levelSuccess, "Event was deleted successfully")
	redirect(w, r, "/my-events/")
}

// organizedEvent loads the event of the path and answers 403 unless userID
// organizes it.
func (s *Server) organizedEvent(w http.ResponseWriter, r *http.Request, userID string) (*events.Event, bool) {
	event, err := s.Events.Get(r.Context(), r.PathValue("slug"), userID)
	if err != nil {
		s.pageError(w, r, err)
		return nil, false
	}
	if !event.IsOrganizer(userID) {
		s.forbidden(w, r)
		return nil, false
	}
	return event, true
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	u, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	slug := r.PathValue("slug")
	event, err := s.Events.Get(r.Context(), slug, u.ID)
	if err != nil {
		s.pageError(w, r, err)
		return
	}
	if err := r.ParseForm(); err != nil {
		s.serverError(w, r, err)
		return
	}

	reg, err := s.Registrations.Register(r.Context(), slug, u.Summary(), registrations.AnswersFromForm(event.RegistrationSchema, r.PostForm))
	switch {
	case errors.Is(err, registrations.ErrAlreadyRegistered):
		s.addFlash(w, r, levelWarning, "You are already registered for this mission.")
	case err != nil:
		s.pageError(w, r, err)
		return
	case reg.Status == registrations.StatusWaitlisted:
		s.addFlash(w, r, levelInfo, "Mission capacity reached. You have been placed on the standby (wait) list.")
	default:
		s.addFlash(w, r, levelSuccess, "Successfully registered for mission: "+event.Title)
	}
	redirect(w, r, eventURL(slug))
}

func (s *Server) unregister(w http.ResponseWriter, r *http.Request) {
	u, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	slug := r.PathValue("slug")
	event, err := s.Events.Get(r.Context(), slug, u.ID)
	if err != nil {
		s.pageError(w, r, err)
		return
	}
	err = s.Registrations.Unregister(r.Context(), slug, u.ID)
	switch {
	case errors.Is(err, registrations.ErrNotRegistered):
		s.addFlash(w, r, levelWarning, "Registration record not found.")
	case err != nil:
		s.pageError(w, r, err)
		return
	default:
		s.addFlash(w, r, levelInfo, "You have withdrawn from mission: "+event.Title)
	}
	redirect(w, r, eventURL(slug))
}

func (s *Server) export(w http.ResponseWriter, r *http.Request) {
	u, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	roster, err := s.Registrations.Roster(r.Context(), r.PathValue("slug"), u.ID)
	if err != nil {
		s.pageError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, roster.Filename()))
	if err := roster.WriteCSV(w); err != nil {
		s.logger.Error().Err(err).Str("event", roster.Event.Slug).Msg("roster export failed")
	}
}

// manage applies approve, waitlist or cancel to a registration and
// returns to the event page.
func (s *Server) manage(w http.ResponseWriter, r *http.Request) {
	u, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		s.serverError(w, r, err)
		return
	}
	action, err := registrations.ParseAction(r.PostForm.Get("action"))
	if err != nil {
		http.Error(w, "Invalid action.", http.StatusBadRequest)
		return
	}

	reg, err := s.Registrations.Manage(r.Context(), r.PathValue("id"), u.ID, action)
	if errors.Is(err, registrations.ErrCapacityReached) {
		// The registration is unchanged; return to its event.
		back := r.PostForm.Get("event")
		if back == "" {
			back = "/my-events/"
		} else {
			back = eventURL(back)
		}
		s.addFlash(w, r, levelError, "Cannot approve: Mission is at full capacity.")
		redirect(w, r, back)
		return
	}
	if err != nil {
		s.pageError(w, r, err)
		return
	}

	name := reg.Participant.Username
	switch action {
	case registrations.ActionApprove:
		s.addFlash(w, r, levelSuccess, fmt.Sprintf("Approved %s for the mission.", name))
	case registrations.ActionWaitlist:
		s.addFlash(w, r, levelInfo, fmt.Sprintf("Moved %s to standby list.", name))
	case registrations.ActionCancel:
		s.addFlash(w, r, levelWarning, fmt.Sprintf("Cancelled registration for %s.", name))
	}
	redirect(w, r, eventURL(reg.Event.Slug))
}

func (s *Server) myEvents(w http.ResponseWriter, r *http.Request) {
	u, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	hosted, err := s.Events.ListHosted(r.Context(), u.ID)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	attending, err := s.Registrations.ListForParticipant(r.Context(), u.ID)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	slices.SortStableFunc(attending, func(a, b registrations.Registration) int {
		return a.Event.StartTime.Compare(b.Event.StartTime)
	})
	s.render(w, r, http.StatusOK, "my_events.html", "My events", map[string]any{
		"Hosted":    hosted,
		"Attending": attending,
	})
}

// pageError renders not found and forbidden pages for domain errors and a
// 500 for anything else.
func (s *Server) pageError(w http.ResponseWriter, r *http.Request, err error) {
	switch problem.Classify(err).Status {
	case http.StatusNotFound:
		s.notFound(w, r)
	case http.StatusForbidden:
		s.forbidden(w, r)
	default:
		s.serverError(w, r, err)
	}
}
