package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eventhorizon/server/internal/domain/users"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ users.Repository = (*UserRepository)(nil)

type UserRepository struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

const userColumns = `
SELECT u.id, u.username, u.email, u.first_name, u.last_name, u.password_hash,
       u.is_staff, u.is_active, u.github_id, u.date_joined, u.last_login,
       COALESCE(p.bio, ''), COALESCE(p.location, ''), COALESCE(p.phone_number, ''), COALESCE(p.avatar_path, '')
  FROM users u
  LEFT JOIN profiles p ON p.user_id = u.id`

func scanUser(row pgx.Row) (*users.User, error) {
	var u users.User
	if err := row.Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.FirstName,
		&u.LastName,
		&u.PasswordHash,
		&u.IsStaff,
		&u.IsActive,
		&u.GitHubID,
		&u.DateJoined,
		&u.LastLogin,
		&u.Profile.Bio,
		&u.Profile.Location,
		&u.Profile.PhoneNumber,
		&u.Profile.AvatarPath,
	); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepository) Create(ctx context.Context, params users.CreateParams) (user *users.User, err error) {
	start := time.Now()
	defer func() { observe("users.create", start, err) }()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
INSERT INTO users (id, username, email, first_name, last_name, password_hash, is_staff, github_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`,
		params.ID,
		params.Username,
		params.Email,
		params.FirstName,
		params.LastName,
		params.PasswordHash,
		params.IsStaff,
		params.GitHubID,
	)
	if err != nil {
		switch {
		case isUniqueViolation(err, "users_username_key"):
			return nil, users.ErrUsernameTaken
		case isUniqueViolation(err, "users_email_key"):
			return nil, users.ErrEmailTaken
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	if _, err = tx.Exec(ctx, `INSERT INTO profiles (user_id) VALUES ($1)`, params.ID); err != nil {
		return nil, fmt.Errorf("insert profile: %w", err)
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return r.GetByID(ctx, params.ID)
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*users.User, error) {
	return r.getOne(ctx, "users.get", userColumns+` WHERE u.id = $1`, id)
}

func (r *UserRepository) GetByLogin(ctx context.Context, login string) (*users.User, error) {
	return r.getOne(ctx, "users.get_by_login", userColumns+`
 WHERE u.username = $1 OR (u.email <> '' AND lower(u.email) = lower($1))
 ORDER BY (u.username = $1) DESC
 LIMIT 1`, login)
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*users.User, error) {
	return r.getOne(ctx, "users.get_by_email", userColumns+` WHERE u.email <> '' AND lower(u.email) = lower($1)`, email)
}

func (r *UserRepository) GetByGitHubID(ctx context.Context, githubID int64) (*users.User, error) {
	return r.getOne(ctx, "users.get_by_github", userColumns+` WHERE u.github_id = $1`, githubID)
}

func (r *UserRepository) getOne(ctx context.Context, operation, query string, arg any) (user *users.User, err error) {
	start := time.Now()
	defer func() { observe(operation, start, err) }()

	q := pick(r.pool, r.tx)
	user, err = scanUser(q.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, users.ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user.SocialLinks, err = r.socialLinks(ctx, q, user.ID); err != nil {
		return nil, err
	}
	return user, nil
}

func (r *UserRepository) socialLinks(ctx context.Context, q queryer, userID string) ([]users.SocialLink, error) {
	rows, err := q.Query(ctx, `
SELECT platform, url
  FROM social_links
 WHERE user_id = $1
 ORDER BY position, id
`, userID)
	if err != nil {
		return nil, fmt.Errorf("list social links: %w", err)
	}
	defer rows.Close()

	var links []users.SocialLink
	for rows.Next() {
		var link users.SocialLink
		if err := rows.Scan(&link.Platform, &link.URL); err != nil {
			return nil, fmt.Errorf("scan social link: %w", err)
		}
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate social links: %w", err)
	}
	return links, nil
}

func (r *UserRepository) UsernameExists(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := pick(r.pool, r.tx).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE lower(username) = lower($1))`, username).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check username: %w", err)
	}
	return exists, nil
}

func (r *UserRepository) UpdateAccount(ctx context.Context, id string, params users.AccountParams) error {
	tag, err := pick(r.pool, r.tx).Exec(ctx, `
UPDATE users
   SET first_name = $2, last_name = $3, email = $4
 WHERE id = $1
`, id, params.FirstName, params.LastName, params.Email)
	if err != nil {
		if isUniqueViolation(err, "users_email_key") {
			return users.ErrEmailTaken
		}
		return fmt.Errorf("update account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return users.ErrNotFound
	}
	return nil
}

func (r *UserRepository) UpdateProfile(ctx context.Context, id string, profile users.Profile) error {
	tag, err := pick(r.pool, r.tx).Exec(ctx, `
INSERT INTO profiles (user_id, bio, location, phone_number, avatar_path)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (user_id) DO UPDATE
   SET bio = EXCLUDED.bio,
       location = EXCLUDED.location,
       phone_number = EXCLUDED.phone_number,
       avatar_path = EXCLUDED.avatar_path
`, id, profile.Bio, profile.Location, profile.PhoneNumber, profile.AvatarPath)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return users.ErrNotFound
	}
	return nil
}

func (r *UserRepository) SetAvatar(ctx context.Context, id, path string) error {
	return r.exec(ctx, "set avatar", `UPDATE profiles SET avatar_path = $2 WHERE user_id = $1`, id, path)
}

func (r *UserRepository) ReplaceSocialLinks(ctx context.Context, id string, links []users.SocialLink) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM social_links WHERE user_id = $1`, id); err != nil {
		return fmt.Errorf("clear social links: %w", err)
	}
	if len(links) > 0 {
		batch := &pgx.Batch{}
		for i, link := range links {
			batch.Queue(`INSERT INTO social_links (user_id, platform, url, position) VALUES ($1, $2, $3, $4)`,
				id, link.Platform, link.URL, i)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert social links: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *UserRepository) LinkGitHub(ctx context.Context, id string, githubID int64) error {
	return r.exec(ctx, "link github", `UPDATE users SET github_id = $2 WHERE id = $1`, id, githubID)
}

func (r *UserRepository) SetPassword(ctx context.Context, id, hash string) error {
	return r.exec(ctx, "set password", `UPDATE users SET password_hash = $2 WHERE id = $1`, id, hash)
}

func (r *UserRepository) SetStaff(ctx context.Context, id string, staff bool) error {
	return r.exec(ctx, "set staff", `UPDATE users SET is_staff = $2 WHERE id = $1`, id, staff)
}

func (r *UserRepository) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	return r.exec(ctx, "touch last login", `UPDATE users SET last_login = $2 WHERE id = $1`, id, at.UTC())
}

func (r *UserRepository) exec(ctx context.Context, what, sql string, args ...any) error {
	tag, err := pick(r.pool, r.tx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if tag.RowsAffected() == 0 {
		return users.ErrNotFound
	}
	return nil
}

func (r *UserRepository) List(ctx context.Context, limit, offset int) (list []users.User, total int, err error) {
	start := time.Now()
	defer func() { observe("users.list", start, err) }()

	q := pick(r.pool, r.tx)
	if err := q.QueryRow(ctx, `SELECT count(*) FROM users`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	rows, err := q.Query(ctx, userColumns+`
 ORDER BY u.date_joined, u.id
 LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan user: %w", err)
		}
		list = append(list, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate users: %w", err)
	}
	return list, total, nil
}
