package web

import (
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/eventhorizon/server/internal/api/problem"
	"github.com/eventhorizon/server/internal/domain/events"
	"github.com/eventhorizon/server/internal/validation"
)

// formErrors maps a field name to its messages. The empty key holds errors
// that belong to no field.
type formErrors map[string][]string

func (f formErrors) Get(field string) []string {
	return f[field]
}

func (f formErrors) Any() bool {
	return len(f) > 0
}

func (f formErrors) add(field, message string) {
	f[field] = append(f[field], message)
}

// errorsFrom turns a service error into form errors. ok is false for
// errors a form cannot display.
func errorsFrom(err error) (formErrors, bool) {
	out := formErrors{}
	var fields validation.FieldErrors
	if errors.As(err, &fields) {
		for _, fe := range fields {
			out.add(fe.Field, fe.Message)
		}
		return out, true
	}
	c := problem.Classify(err)
	if c.Status >= 500 {
		return nil, false
	}
	out.add("", c.Detail)
	return out, true
}

const formTimeLayout = "2006-01-02T15:04"

// eventForm holds the submitted values of the event form so they can be
// shown again after a validation error.
type eventForm struct {
	Title       string
	Description string
	StartTime   string
	EndTime     string
	Location    string
	Capacity    string
	Schema      []events.Question
	Errors      formErrors
}

func eventFormFrom(e *events.Event) eventForm {
	return eventForm{
		Title:       e.Title,
		Description: e.Description,
		StartTime:   e.StartTime.UTC().Format(formTimeLayout),
		EndTime:     e.EndTime.UTC().Format(formTimeLayout),
		Location:    e.Location,
		Capacity:    strconv.Itoa(e.Capacity),
		Schema:      e.RegistrationSchema,
		Errors:      formErrors{},
	}
}

// parseEventForm reads the event fields and the dynamic question fields.
// Times are entered in UTC.
func parseEventForm(form url.Values) (eventForm, events.Input, formErrors) {
	f := eventForm{
		Title:       strings.TrimSpace(form.Get("title")),
		Description: strings.TrimSpace(form.Get("description")),
		StartTime:   strings.TrimSpace(form.Get("start_time")),
		EndTime:     strings.TrimSpace(form.Get("end_time")),
		Location:    strings.TrimSpace(form.Get("location")),
		Capacity:    strings.TrimSpace(form.Get("capacity")),
		Schema:      events.ExtractRegistrationSchema(form),
	}
	errs := formErrors{}
	in := events.Input{
		Title:              f.Title,
		Description:        f.Description,
		Location:           f.Location,
		RegistrationSchema: f.Schema,
	}

	parseTime := func(field, value string) time.Time {
		if value == "" {
			errs.add(field, "This field is required.")
			return time.Time{}
		}
		t, err := time.ParseInLocation(formTimeLayout, value, time.UTC)
		if err != nil {
			if t, err = time.Parse(time.RFC3339, value); err != nil {
				errs.add(field, "Enter a valid date/time.")
				return time.Time{}
			}
		}
		return t
	}
	in.StartTime = parseTime("start_time", f.StartTime)
	in.EndTime = parseTime("end_time", f.EndTime)

	if f.Capacity == "" {
		errs.add("capacity", "This field is required.")
	} else if n, err := strconv.Atoi(f.Capacity); err != nil {
		errs.add("capacity", "Enter a whole number.")
	} else {
		in.Capacity = n
	}
	f.Errors = errs
	return f, in, errs
}
