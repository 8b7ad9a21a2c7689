package events

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	dateparser "github.com/markusmobius/go-dateparser"
)

// Ordering of event listings.
type Order string

const (
	// OrderStartAsc lists soonest events first (web listing).
	OrderStartAsc Order = "start_time"
	// OrderStartDesc lists latest events first (API listing).
	OrderStartDesc Order = "-start_time"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
	// WebPageSize is the fixed page size of the public event list page.
	WebPageSize = 6
	// MaxPage bounds page numbers so the row offset cannot overflow.
	MaxPage = 1_000_000
)

type Filters struct {
	Query    string
	Location string
	From     *time.Time
	To       *time.Time
	Order    Order
	Page     int
	PageSize int
}

// Offset returns the row offset of the current page.
func (f Filters) Offset() int {
	if f.Page < 1 {
		return 0
	}
	return (min(f.Page, MaxPage) - 1) * min(f.PageSize, MaxPageSize)
}

type FilterError struct {
	Field   string
	Message string
}

func (e FilterError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// ParseFilters reads listing filters from query parameters:
// q, location, from, to, ordering, page and page_size.
// from and to accept RFC 3339, plain dates, or phrases like "next friday".
func ParseFilters(values url.Values, now time.Time) (Filters, error) {
	filters := Filters{
		Query:    strings.TrimSpace(values.Get("q")),
		Location: strings.TrimSpace(values.Get("location")),
		Order:    OrderStartDesc,
		Page:     1,
		PageSize: DefaultPageSize,
	}

	from, err := parseDate("from", values.Get("from"), now)
	if err != nil {
		return filters, err
	}
	to, err := parseDate("to", values.Get("to"), now)
	if err != nil {
		return filters, err
	}
	if from != nil && to != nil && to.Before(*from) {
		return filters, FilterError{Field: "to", Message: "must be on or after from"}
	}
	filters.From = from
	filters.To = to

	switch ordering := strings.TrimSpace(values.Get("ordering")); ordering {
	case "":
	case string(OrderStartAsc), string(OrderStartDesc):
		filters.Order = Order(ordering)
	default:
		return filters, FilterError{Field: "ordering", Message: "must be start_time or -start_time"}
	}

	if raw := strings.TrimSpace(values.Get("page")); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 || page > MaxPage {
			return filters, FilterError{Field: "page", Message: fmt.Sprintf("must be between 1 and %d", MaxPage)}
		}
		filters.Page = page
	}

	if raw := strings.TrimSpace(values.Get("page_size")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size < 1 || size > MaxPageSize {
			return filters, FilterError{Field: "page_size", Message: fmt.Sprintf("must be between 1 and %d", MaxPageSize)}
		}
		filters.PageSize = size
	}

	return filters, nil
}

func parseDate(field, value string, now time.Time) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}

	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return &t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", value, time.UTC); err == nil {
		return &t, nil
	}

	cfg := &dateparser.Configuration{
		CurrentTime:     now,
		DefaultTimezone: time.UTC,
	}
	parsed, err := dateparser.Parse(cfg, value)
	if err != nil || parsed.Time.IsZero() {
		return nil, FilterError{Field: field, Message: "must be a date (YYYY-MM-DD, RFC 3339, or a phrase like \"next friday\")"}
	}
	t := parsed.Time
	return &t, nil
}
