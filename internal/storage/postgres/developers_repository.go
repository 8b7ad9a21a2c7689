package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eventhorizon/server/internal/domain/developers"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ developers.Repository = (*DeveloperRepository)(nil)

// DeveloperRepository stores API keys and OAuth applications.
type DeveloperRepository struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

const apiKeyColumns = `SELECT id, user_id, name, prefix, key_hash, created_at, expires_at, last_used_at FROM api_keys`

func scanAPIKey(row pgx.Row) (*developers.APIKey, error) {
	var k developers.APIKey
	if err := row.Scan(&k.ID, &k.UserID, &k.Name, &k.Prefix, &k.Hash, &k.CreatedAt, &k.ExpiresAt, &k.LastUsedAt); err != nil {
		return nil, err
	}
	return &k, nil
}

func (r *DeveloperRepository) CreateAPIKey(ctx context.Context, key developers.APIKey) (err error) {
	start := time.Now()
	defer func() { observe("api_keys.create", start, err) }()

	createdAt := key.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err = pick(r.pool, r.tx).Exec(ctx, `
INSERT INTO api_keys (id, user_id, name, prefix, key_hash, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`, key.ID, key.UserID, key.Name, key.Prefix, key.Hash, createdAt.UTC(), timePtr(key.ExpiresAt))
	if err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

func (r *DeveloperRepository) GetAPIKey(ctx context.Context, id string) (*developers.APIKey, error) {
	return r.getAPIKey(ctx, apiKeyColumns+` WHERE id = $1`, id)
}

func (r *DeveloperRepository) LookupAPIKeyByPrefix(ctx context.Context, prefix string) (*developers.APIKey, error) {
	return r.getAPIKey(ctx, apiKeyColumns+` WHERE prefix = $1`, prefix)
}

func (r *DeveloperRepository) getAPIKey(ctx context.Context, query, arg string) (key *developers.APIKey, err error) {
	start := time.Now()
	defer func() { observe("api_keys.get", start, err) }()

	key, err = scanAPIKey(pick(r.pool, r.tx).QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, developers.ErrAPIKeyNotFound
		}
		return nil, fmt.Errorf("get api key: %w", err)
	}
	return key, nil
}

func (r *DeveloperRepository) ListAPIKeys(ctx context.Context, userID string) ([]developers.APIKey, error) {
	rows, err := pick(r.pool, r.tx).Query(ctx, apiKeyColumns+` WHERE user_id = $1 ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	keys := []developers.APIKey{}
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, *key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate api keys: %w", err)
	}
	return keys, nil
}

func (r *DeveloperRepository) DeleteAPIKey(ctx context.Context, id string) error {
	tag, err := pick(r.pool, r.tx).Exec(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return developers.ErrAPIKeyNotFound
	}
	return nil
}

func (r *DeveloperRepository) TouchAPIKeys(ctx context.Context, usedAt map[string]time.Time) (err error) {
	if len(usedAt) == 0 {
		return nil
	}
	start := time.Now()
	defer func() { observe("api_keys.touch", start, err) }()

	batch := &pgx.Batch{}
	for id, at := range usedAt {
		// Keys deleted since they were used simply match nothing.
		batch.Queue(`
UPDATE api_keys
   SET last_used_at = $2
 WHERE id = $1 AND (last_used_at IS NULL OR last_used_at < $2)`, id, at.UTC())
	}
	if err = pick(r.pool, r.tx).SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("touch api keys: %w", err)
	}
	return nil
}

func (r *DeveloperRepository) DeleteExpiredAPIKeys(ctx context.Context, now time.Time) (expired []developers.ExpiredKey, err error) {
	start := time.Now()
	defer func() { observe("api_keys.delete_expired", start, err) }()

	rows, err := pick(r.pool, r.tx).Query(ctx, `
WITH removed AS (
    DELETE FROM api_keys
     WHERE expires_at IS NOT NULL AND expires_at <= $1
    RETURNING id, user_id, name, prefix, key_hash, created_at, expires_at, last_used_at
)
SELECT k.id, k.user_id, k.name, k.prefix, k.key_hash, k.created_at, k.expires_at, k.last_used_at,
       u.username, u.email
  FROM removed k
  JOIN users u ON u.id = k.user_id
 ORDER BY k.expires_at, k.id
`, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("delete expired api keys: %w", err)
	}
	defer rows.Close()

	expired = []developers.ExpiredKey{}
	for rows.Next() {
		var k developers.ExpiredKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.Name, &k.Prefix, &k.Hash, &k.CreatedAt, &k.ExpiresAt, &k.LastUsedAt,
			&k.Username, &k.Email); err != nil {
			return nil, fmt.Errorf("scan expired api key: %w", err)
		}
		expired = append(expired, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired api keys: %w", err)
	}
	return expired, nil
}

const applicationColumns = `
SELECT id, user_id, name, client_id, client_secret_hash, client_type, grant_type, redirect_uris, created_at
  FROM oauth_applications`

func scanApplication(row pgx.Row) (*developers.Application, error) {
	var (
		app        developers.Application
		clientType string
		grantType  string
	)
	if err := row.Scan(&app.ID, &app.UserID, &app.Name, &app.ClientID, &app.ClientSecretHash,
		&clientType, &grantType, &app.RedirectURIs, &app.CreatedAt); err != nil {
		return nil, err
	}
	app.ClientType = developers.ClientType(clientType)
	app.GrantType = developers.GrantType(grantType)
	if app.RedirectURIs == nil {
		app.RedirectURIs = []string{}
	}
	return &app, nil
}

func (r *DeveloperRepository) CreateApplication(ctx context.Context, app developers.Application) (err error) {
	start := time.Now()
	defer func() { observe("applications.create", start, err) }()

	redirects := app.RedirectURIs
	if redirects == nil {
		redirects = []string{}
	}
	createdAt := app.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err = pick(r.pool, r.tx).Exec(ctx, `
INSERT INTO oauth_applications (id, user_id, name, client_id, client_secret_hash, client_type, grant_type,
                                redirect_uris, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`, app.ID, app.UserID, app.Name, app.ClientID, app.ClientSecretHash,
		string(app.ClientType), string(app.GrantType), redirects, createdAt.UTC())
	if err != nil {
		return fmt.Errorf("insert application: %w", err)
	}
	return nil
}

func (r *DeveloperRepository) GetApplication(ctx context.Context, id string) (*developers.Application, error) {
	return r.getApplication(ctx, applicationColumns+` WHERE id = $1`, id)
}

func (r *DeveloperRepository) GetApplicationByClientID(ctx context.Context, clientID string) (*developers.Application, error) {
	return r.getApplication(ctx, applicationColumns+` WHERE client_id = $1`, clientID)
}

func (r *DeveloperRepository) getApplication(ctx context.Context, query, arg string) (*developers.Application, error) {
	app, err := scanApplication(pick(r.pool, r.tx).QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, developers.ErrApplicationNotFound
		}
		return nil, fmt.Errorf("get application: %w", err)
	}
	return app, nil
}

func (r *DeveloperRepository) ListApplications(ctx context.Context, userID string) ([]developers.Application, error) {
	rows, err := pick(r.pool, r.tx).Query(ctx, applicationColumns+` WHERE user_id = $1 ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	defer rows.Close()

	apps := []developers.Application{}
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("scan application: %w", err)
		}
		apps = append(apps, *app)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applications: %w", err)
	}
	return apps, nil
}

func (r *DeveloperRepository) DeleteApplication(ctx context.Context, id string) error {
	tag, err := pick(r.pool, r.tx).Exec(ctx, `DELETE FROM oauth_applications WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete application: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return developers.ErrApplicationNotFound
	}
	return nil
}
