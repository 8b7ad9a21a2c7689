package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eventhorizon/server/internal/domain/events"
	"github.com/eventhorizon/server/internal/domain/registrations"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ registrations.Repository = (*RegistrationRepository)(nil)

type RegistrationRepository struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

const registrationColumns = `
SELECT r.id, r.event_id, r.participant_id, r.status, r.answers, r.registered_at, r.updated_at,
       e.slug, e.title, e.start_time, e.location,
       u.username, u.email, u.first_name, u.last_name
  FROM registrations r
  JOIN events e ON e.id = r.event_id
  JOIN users u ON u.id = r.participant_id`

func scanRegistration(row pgx.Row) (*registrations.Registration, error) {
	var (
		reg    registrations.Registration
		status string
	)
	if err := row.Scan(
		&reg.ID,
		&reg.EventID,
		&reg.ParticipantID,
		&status,
		&reg.Answers,
		&reg.RegisteredAt,
		&reg.UpdatedAt,
		&reg.Event.Slug,
		&reg.Event.Title,
		&reg.Event.StartTime,
		&reg.Event.Location,
		&reg.Participant.Username,
		&reg.Participant.Email,
		&reg.Participant.FirstName,
		&reg.Participant.LastName,
	); err != nil {
		return nil, err
	}
	reg.Status = registrations.Status(status)
	reg.Event.ID = reg.EventID
	reg.Participant.ID = reg.ParticipantID
	if reg.Answers == nil {
		reg.Answers = map[string]any{}
	}
	return &reg, nil
}

// WithTx runs fn in a transaction. Nested calls reuse the open
// transaction.
func (r *RegistrationRepository) WithTx(ctx context.Context, fn func(context.Context, registrations.Repository) error) error {
	if r.tx != nil {
		return fn(ctx, r)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	wrapped := &RegistrationRepository{pool: r.pool, tx: tx}
	if err := fn(ctx, wrapped); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *RegistrationRepository) LockEvent(ctx context.Context, eventID string) error {
	if r.tx == nil {
		return fmt.Errorf("lock event: no transaction")
	}
	var id string
	err := r.tx.QueryRow(ctx, `SELECT id FROM events WHERE id = $1 FOR UPDATE`, eventID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return events.ErrNotFound
		}
		return fmt.Errorf("lock event: %w", err)
	}
	return nil
}

func (r *RegistrationRepository) CountByStatus(ctx context.Context, eventID string, status registrations.Status) (int, error) {
	var count int
	err := pick(r.pool, r.tx).QueryRow(ctx,
		`SELECT count(*) FROM registrations WHERE event_id = $1 AND status = $2`,
		eventID, string(status),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count registrations: %w", err)
	}
	return count, nil
}

func (r *RegistrationRepository) Create(ctx context.Context, params registrations.CreateParams) (reg *registrations.Registration, err error) {
	start := time.Now()
	defer func() { observe("registrations.create", start, err) }()

	answers := params.Answers
	if answers == nil {
		answers = map[string]any{}
	}
	_, err = pick(r.pool, r.tx).Exec(ctx, `
INSERT INTO registrations (id, event_id, participant_id, status, answers)
VALUES ($1, $2, $3, $4, $5)
`, params.ID, params.EventID, params.ParticipantID, string(params.Status), answers)
	if err != nil {
		if isUniqueViolation(err, "registrations_event_participant_key") {
			return nil, registrations.ErrAlreadyRegistered
		}
		return nil, fmt.Errorf("insert registration: %w", err)
	}
	return r.GetByID(ctx, params.ID)
}

func (r *RegistrationRepository) GetByID(ctx context.Context, id string) (*registrations.Registration, error) {
	return r.getOne(ctx, registrationColumns+` WHERE r.id = $1`, id)
}

func (r *RegistrationRepository) GetForParticipant(ctx context.Context, eventID, participantID string) (*registrations.Registration, error) {
	return r.getOne(ctx, registrationColumns+` WHERE r.event_id = $1 AND r.participant_id = $2`, eventID, participantID)
}

func (r *RegistrationRepository) getOne(ctx context.Context, query string, args ...any) (reg *registrations.Registration, err error) {
	start := time.Now()
	defer func() { observe("registrations.get", start, err) }()

	reg, err = scanRegistration(pick(r.pool, r.tx).QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, registrations.ErrNotFound
		}
		return nil, fmt.Errorf("get registration: %w", err)
	}
	return reg, nil
}

func (r *RegistrationRepository) UpdateStatus(ctx context.Context, id string, status registrations.Status) (reg *registrations.Registration, err error) {
	start := time.Now()
	defer func() { observe("registrations.update_status", start, err) }()

	tag, err := pick(r.pool, r.tx).Exec(ctx,
		`UPDATE registrations SET status = $2, updated_at = now() WHERE id = $1`,
		id, string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("update registration status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, registrations.ErrNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *RegistrationRepository) Delete(ctx context.Context, id string) (err error) {
	start := time.Now()
	defer func() { observe("registrations.delete", start, err) }()

	tag, err := pick(r.pool, r.tx).Exec(ctx, `DELETE FROM registrations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete registration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return registrations.ErrNotFound
	}
	return nil
}

func (r *RegistrationRepository) ListByEvent(ctx context.Context, eventID string) ([]registrations.Registration, error) {
	return r.list(ctx, "registrations.list_by_event", registrationColumns+`
 WHERE r.event_id = $1
 ORDER BY r.registered_at DESC, r.id DESC`, eventID)
}

func (r *RegistrationRepository) ListByParticipant(ctx context.Context, participantID string) ([]registrations.Registration, error) {
	return r.list(ctx, "registrations.list_by_participant", registrationColumns+`
 WHERE r.participant_id = $1
 ORDER BY r.registered_at DESC, r.id DESC`, participantID)
}

func (r *RegistrationRepository) list(ctx context.Context, operation, query string, arg string) (list []registrations.Registration, err error) {
	start := time.Now()
	defer func() { observe(operation, start, err) }()

	rows, err := pick(r.pool, r.tx).Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	defer rows.Close()

	list = []registrations.Registration{}
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		list = append(list, *reg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate registrations: %w", err)
	}
	return list, nil
}
