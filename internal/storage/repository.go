package storage

import (
	"context"

	"github.com/eventhorizon/server/internal/domain/developers"
	"github.com/eventhorizon/server/internal/domain/events"
	"github.com/eventhorizon/server/internal/domain/registrations"
	"github.com/eventhorizon/server/internal/domain/users"
	"github.com/eventhorizon/server/internal/domain/webhooks"
)

// Repository groups data access by domain.
type Repository interface {
	Users() users.Repository
	Events() events.Repository
	Registrations() registrations.Repository
	Webhooks() webhooks.Repository
	Developers() developers.Repository

	Ping(ctx context.Context) error
}
