package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/eventhorizon/server/internal/domain/webhooks"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ webhooks.Repository = (*WebhookRepository)(nil)

type WebhookRepository struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

const webhookColumns = `
SELECT w.id, w.event_id, e.slug, w.url, w.is_active, w.created_at, w.updated_at
  FROM webhooks w
  JOIN events e ON e.id = w.event_id`

func scanWebhook(row pgx.Row) (*webhooks.Webhook, error) {
	var w webhooks.Webhook
	if err := row.Scan(&w.ID, &w.EventID, &w.EventSlug, &w.URL, &w.IsActive, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *WebhookRepository) Create(ctx context.Context, w webhooks.Webhook) (*webhooks.Webhook, error) {
	_, err := pick(r.pool, r.tx).Exec(ctx,
		`INSERT INTO webhooks (id, event_id, url, is_active) VALUES ($1, $2, $3, $4)`,
		w.ID, w.EventID, w.URL, w.IsActive,
	)
	if err != nil {
		return nil, fmt.Errorf("insert webhook: %w", err)
	}
	return r.Get(ctx, w.ID)
}

func (r *WebhookRepository) Get(ctx context.Context, id string) (*webhooks.Webhook, error) {
	hook, err := scanWebhook(pick(r.pool, r.tx).QueryRow(ctx, webhookColumns+` WHERE w.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, webhooks.ErrNotFound
		}
		return nil, fmt.Errorf("get webhook: %w", err)
	}
	return hook, nil
}

func (r *WebhookRepository) UpdateURL(ctx context.Context, id, url string) (*webhooks.Webhook, error) {
	return r.update(ctx, `UPDATE webhooks SET url = $2, updated_at = now() WHERE id = $1`, id, url)
}

func (r *WebhookRepository) SetActive(ctx context.Context, id string, active bool) (*webhooks.Webhook, error) {
	return r.update(ctx, `UPDATE webhooks SET is_active = $2, updated_at = now() WHERE id = $1`, id, active)
}

func (r *WebhookRepository) update(ctx context.Context, sql, id string, value any) (*webhooks.Webhook, error) {
	tag, err := pick(r.pool, r.tx).Exec(ctx, sql, id, value)
	if err != nil {
		return nil, fmt.Errorf("update webhook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, webhooks.ErrNotFound
	}
	return r.Get(ctx, id)
}

func (r *WebhookRepository) Delete(ctx context.Context, id string) error {
	tag, err := pick(r.pool, r.tx).Exec(ctx, `DELETE FROM webhooks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return webhooks.ErrNotFound
	}
	return nil
}

func (r *WebhookRepository) ListByEvent(ctx context.Context, eventID string) ([]webhooks.Webhook, error) {
	return r.list(ctx, webhookColumns+` WHERE w.event_id = $1 ORDER BY w.created_at, w.id`, eventID)
}

func (r *WebhookRepository) ListActiveByEvent(ctx context.Context, eventID string) ([]webhooks.Webhook, error) {
	return r.list(ctx, webhookColumns+` WHERE w.event_id = $1 AND w.is_active ORDER BY w.created_at, w.id`, eventID)
}

func (r *WebhookRepository) list(ctx context.Context, query, eventID string) ([]webhooks.Webhook, error) {
	rows, err := pick(r.pool, r.tx).Query(ctx, query, eventID)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	defer rows.Close()

	list := []webhooks.Webhook{}
	for rows.Next() {
		hook, err := scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook: %w", err)
		}
		list = append(list, *hook)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate webhooks: %w", err)
	}
	return list, nil
}
