package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/eventhorizon/server/internal/domain/events"
	"github.com/eventhorizon/server/internal/domain/registrations"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistrationRepositoryLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	organizer := createUser(t, ctx, repo, "gene")
	participant := createUser(t, ctx, repo, "buzz")
	event := createEvent(t, ctx, repo, organizer, "apollo-11", time.Now().Add(time.Hour), 1)

	reg, err := repo.Registrations().Create(ctx, registrations.CreateParams{
		ID:            newID(),
		EventID:       event.ID,
		ParticipantID: participant.ID,
		Status:        registrations.StatusWaitlisted,
		Answers:       map[string]any{"size": "L"},
	})
	require.NoError(t, err)
	assert.Equal(t, registrations.StatusWaitlisted, reg.Status)
	assert.Equal(t, "apollo-11", reg.Event.Slug)
	assert.Equal(t, "buzz", reg.Participant.Username)
	assert.Equal(t, "L", reg.Answers["size"])

	_, err = repo.Registrations().Create(ctx, registrations.CreateParams{
		ID:            newID(),
		EventID:       event.ID,
		ParticipantID: participant.ID,
		Status:        registrations.StatusRegistered,
	})
	assert.ErrorIs(t, err, registrations.ErrAlreadyRegistered)

	found, err := repo.Registrations().GetForParticipant(ctx, event.ID, participant.ID)
	require.NoError(t, err)
	assert.Equal(t, reg.ID, found.ID)

	updated, err := repo.Registrations().UpdateStatus(ctx, reg.ID, registrations.StatusRegistered)
	require.NoError(t, err)
	assert.Equal(t, registrations.StatusRegistered, updated.Status)

	count, err := repo.Registrations().CountByStatus(ctx, event.ID, registrations.StatusRegistered)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, repo.Registrations().Delete(ctx, reg.ID))
	assert.ErrorIs(t, repo.Registrations().Delete(ctx, reg.ID), registrations.ErrNotFound)
	_, err = repo.Registrations().GetByID(ctx, reg.ID)
	assert.ErrorIs(t, err, registrations.ErrNotFound)
}

func TestRegistrationRepositoryListsNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	organizer := createUser(t, ctx, repo, "gene")
	buzz := createUser(t, ctx, repo, "buzz")
	neil := createUser(t, ctx, repo, "neil")
	first := createEvent(t, ctx, repo, organizer, "apollo-11", time.Now().Add(time.Hour), 5)
	second := createEvent(t, ctx, repo, organizer, "apollo-12", time.Now().Add(2*time.Hour), 5)

	for _, p := range []struct {
		event string
		user  string
	}{
		{first.ID, buzz.ID},
		{first.ID, neil.ID},
		{second.ID, buzz.ID},
	} {
		_, err := repo.Registrations().Create(ctx, registrations.CreateParams{
			ID:            newID(),
			EventID:       p.event,
			ParticipantID: p.user,
			Status:        registrations.StatusRegistered,
		})
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
	}

	roster, err := repo.Registrations().ListByEvent(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, roster, 2)
	assert.Equal(t, "neil", roster[0].Participant.Username)

	mine, err := repo.Registrations().ListByParticipant(ctx, buzz.ID)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "apollo-12", mine[0].Event.Slug)

	empty, err := repo.Registrations().ListByEvent(ctx, "missing")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestRegistrationRepositoryTransactions(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	organizer := createUser(t, ctx, repo, "gene")
	participant := createUser(t, ctx, repo, "buzz")
	event := createEvent(t, ctx, repo, organizer, "apollo-11", time.Now().Add(time.Hour), 1)

	rollback := errors.New("rollback")
	err := repo.Registrations().WithTx(ctx, func(ctx context.Context, tx registrations.Repository) error {
		require.NoError(t, tx.LockEvent(ctx, event.ID))
		_, err := tx.Create(ctx, registrations.CreateParams{
			ID:            newID(),
			EventID:       event.ID,
			ParticipantID: participant.ID,
			Status:        registrations.StatusRegistered,
		})
		require.NoError(t, err)
		return rollback
	})
	assert.ErrorIs(t, err, rollback)

	count, err := repo.Registrations().CountByStatus(ctx, event.ID, registrations.StatusRegistered)
	require.NoError(t, err)
	assert.Zero(t, count)

	err = repo.Registrations().WithTx(ctx, func(ctx context.Context, tx registrations.Repository) error {
		return tx.LockEvent(ctx, "missing")
	})
	assert.ErrorIs(t, err, events.ErrNotFound)
}

func TestRegistrationRepositoryCascadesWithEvent(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	organizer := createUser(t, ctx, repo, "gene")
	participant := createUser(t, ctx, repo, "buzz")
	event := createEvent(t, ctx, repo, organizer, "apollo-11", time.Now().Add(time.Hour), 1)

	reg, err := repo.Registrations().Create(ctx, registrations.CreateParams{
		ID:            newID(),
		EventID:       event.ID,
		ParticipantID: participant.ID,
		Status:        registrations.StatusRegistered,
	})
	require.NoError(t, err)

	require.NoError(t, repo.Events().Delete(ctx, event.ID))
	_, err = repo.Registrations().GetByID(ctx, reg.ID)
	assert.ErrorIs(t, err, registrations.ErrNotFound)
}
