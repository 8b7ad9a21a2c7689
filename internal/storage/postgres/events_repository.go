package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/eventhorizon/server/internal/domain/events"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ events.Repository = (*EventRepository)(nil)

type EventRepository struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

// $1 is always the viewer id; it may be empty.
const eventColumns = `
SELECT e.id, e.slug, e.title, e.description, e.start_time, e.end_time, e.location, e.capacity,
       e.organizer_id, e.registration_schema, e.created_at, e.updated_at,
       u.username, u.email, u.first_name, u.last_name,
       (SELECT count(*) FROM registrations r WHERE r.event_id = e.id AND r.status = 'registered'),
       ($1::text <> '' AND EXISTS (
           SELECT 1 FROM registrations r WHERE r.event_id = e.id AND r.participant_id = $1::text))
  FROM events e
  JOIN users u ON u.id = e.organizer_id`

func scanEvent(row pgx.Row) (*events.Event, error) {
	var e events.Event
	if err := row.Scan(
		&e.ID,
		&e.Slug,
		&e.Title,
		&e.Description,
		&e.StartTime,
		&e.EndTime,
		&e.Location,
		&e.Capacity,
		&e.OrganizerID,
		&e.RegistrationSchema,
		&e.CreatedAt,
		&e.UpdatedAt,
		&e.Organizer.Username,
		&e.Organizer.Email,
		&e.Organizer.FirstName,
		&e.Organizer.LastName,
		&e.RegisteredCount,
		&e.IsRegistered,
	); err != nil {
		return nil, err
	}
	e.Organizer.ID = e.OrganizerID
	if e.RegistrationSchema == nil {
		e.RegistrationSchema = []events.Question{}
	}
	return &e, nil
}

func schemaValue(schema []events.Question) []events.Question {
	if schema == nil {
		return []events.Question{}
	}
	return schema
}

func (r *EventRepository) Create(ctx context.Context, params events.CreateParams) (event *events.Event, err error) {
	start := time.Now()
	defer func() { observe("events.create", start, err) }()

	_, err = pick(r.pool, r.tx).Exec(ctx, `
INSERT INTO events (id, slug, title, description, start_time, end_time, location, capacity,
                    organizer_id, registration_schema)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`,
		params.ID,
		params.Slug,
		params.Title,
		params.Description,
		params.StartTime.UTC(),
		params.EndTime.UTC(),
		params.Location,
		params.Capacity,
		params.OrganizerID,
		schemaValue(params.RegistrationSchema),
	)
	if err != nil {
		if isUniqueViolation(err, "events_slug_key") {
			return nil, events.ErrSlugConflict
		}
		return nil, fmt.Errorf("insert event: %w", err)
	}
	return r.GetBySlug(ctx, params.Slug, "")
}

func (r *EventRepository) Update(ctx context.Context, id string, params events.UpdateParams) (event *events.Event, err error) {
	start := time.Now()
	defer func() { observe("events.update", start, err) }()

	var slug string
	err = pick(r.pool, r.tx).QueryRow(ctx, `
UPDATE events
   SET title = $2, description = $3, start_time = $4, end_time = $5, location = $6,
       capacity = $7, registration_schema = $8, updated_at = now()
 WHERE id = $1
RETURNING slug
`,
		id,
		params.Title,
		params.Description,
		params.StartTime.UTC(),
		params.EndTime.UTC(),
		params.Location,
		params.Capacity,
		schemaValue(params.RegistrationSchema),
	).Scan(&slug)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, events.ErrNotFound
		}
		return nil, fmt.Errorf("update event: %w", err)
	}
	return r.GetBySlug(ctx, slug, "")
}

func (r *EventRepository) Delete(ctx context.Context, id string) (err error) {
	start := time.Now()
	defer func() { observe("events.delete", start, err) }()

	tag, err := pick(r.pool, r.tx).Exec(ctx, `DELETE FROM events WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return events.ErrNotFound
	}
	return nil
}

func (r *EventRepository) GetBySlug(ctx context.Context, slug string, viewerID string) (event *events.Event, err error) {
	start := time.Now()
	defer func() { observe("events.get", start, err) }()

	event, err = scanEvent(pick(r.pool, r.tx).QueryRow(ctx, eventColumns+` WHERE e.slug = $2`, viewerID, slug))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, events.ErrNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return event, nil
}

func (r *EventRepository) List(ctx context.Context, filters events.Filters, viewerID string) (result events.ListResult, err error) {
	start := time.Now()
	defer func() { observe("events.list", start, err) }()

	q := pick(r.pool, r.tx)
	filterArgs := []any{
		escapeLike(strings.TrimSpace(filters.Query)),
		escapeLike(strings.TrimSpace(filters.Location)),
		filters.From,
		filters.To,
	}

	if err := q.QueryRow(ctx, `SELECT count(*) FROM events e`+eventFilter(1), filterArgs...).Scan(&result.Total); err != nil {
		return events.ListResult{}, fmt.Errorf("count events: %w", err)
	}

	order := "e.start_time ASC, e.id ASC"
	if filters.Order == events.OrderStartDesc {
		order = "e.start_time DESC, e.id DESC"
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = events.DefaultPageSize
	}

	args := append([]any{viewerID}, filterArgs...)
	rows, err := q.Query(ctx, eventColumns+eventFilter(2)+`
 ORDER BY `+order+`
 LIMIT $6 OFFSET $7`, append(args, pageSize, filters.Offset())...)
	if err != nil {
		return events.ListResult{}, fmt.Errorf("list events: %w", err)
	}
	result.Events, err = collectEvents(rows)
	if err != nil {
		return events.ListResult{}, err
	}
	return result, nil
}

func (r *EventRepository) ListByOrganizer(ctx context.Context, organizerID string) (list []events.Event, err error) {
	start := time.Now()
	defer func() { observe("events.list_by_organizer", start, err) }()

	rows, err := pick(r.pool, r.tx).Query(ctx, eventColumns+`
 WHERE e.organizer_id = $2
 ORDER BY e.start_time ASC, e.id ASC`, "", organizerID)
	if err != nil {
		return nil, fmt.Errorf("list hosted events: %w", err)
	}
	return collectEvents(rows)
}

func (r *EventRepository) ListUpcoming(ctx context.Context, from time.Time, limit int) (list []events.Event, err error) {
	start := time.Now()
	defer func() { observe("events.list_upcoming", start, err) }()

	rows, err := pick(r.pool, r.tx).Query(ctx, eventColumns+`
 WHERE e.start_time >= $2
 ORDER BY e.start_time ASC, e.id ASC
 LIMIT $3`, "", from.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list upcoming events: %w", err)
	}
	return collectEvents(rows)
}

func collectEvents(rows pgx.Rows) ([]events.Event, error) {
	defer rows.Close()
	list := []events.Event{}
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		list = append(list, *event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return list, nil
}

// eventFilter renders the listing filters with placeholders numbered from
// first: query, location, from, to.
func eventFilter(first int) string {
	return fmt.Sprintf(`
 WHERE ($%[1]d = '' OR e.title ILIKE '%%' || $%[1]d || '%%' OR e.description ILIKE '%%' || $%[1]d || '%%')
   AND ($%[2]d = '' OR e.location ILIKE '%%' || $%[2]d || '%%')
   AND ($%[3]d::timestamptz IS NULL OR e.start_time >= $%[3]d::timestamptz)
   AND ($%[4]d::timestamptz IS NULL OR e.start_time <= $%[4]d::timestamptz)`,
		first, first+1, first+2, first+3)
}

// escapeLike makes user input match literally inside an ILIKE pattern.
func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}
