package developers

import (
	"context"
	"time"
)

// Repository persists API keys and OAuth2 applications.
type Repository interface {
	CreateAPIKey(ctx context.Context, key APIKey) error
	GetAPIKey(ctx context.Context, id string) (*APIKey, error)
	LookupAPIKeyByPrefix(ctx context.Context, prefix string) (*APIKey, error)
	ListAPIKeys(ctx context.Context, userID string) ([]APIKey, error)
	DeleteAPIKey(ctx context.Context, id string) error
	// TouchAPIKeys sets last_used_at for each key id.
	TouchAPIKeys(ctx context.Context, usedAt map[string]time.Time) error
	// DeleteExpiredAPIKeys removes keys expired at now and returns them.
	DeleteExpiredAPIKeys(ctx context.Context, now time.Time) ([]ExpiredKey, error)

	CreateApplication(ctx context.Context, app Application) error
	GetApplication(ctx context.Context, id string) (*Application, error)
	GetApplicationByClientID(ctx context.Context, clientID string) (*Application, error)
	ListApplications(ctx context.Context, userID string) ([]Application, error)
	DeleteApplication(ctx context.Context, id string) error
}
