package webhooks

import (
	"context"
	"errors"
	"testing"

	"github.com/eventhorizon/server/internal/domain/events"
	"github.com/eventhorizon/server/internal/validation"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type memRepo struct {
	hooks map[string]*Webhook
}

func (r *memRepo) Create(_ context.Context, w Webhook) (*Webhook, error) {
	r.hooks[w.ID] = &w
	cp := w
	return &cp, nil
}

func (r *memRepo) Get(_ context.Context, id string) (*Webhook, error) {
	w, ok := r.hooks[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (r *memRepo) UpdateURL(_ context.Context, id, url string) (*Webhook, error) {
	r.hooks[id].URL = url
	cp := *r.hooks[id]
	return &cp, nil
}

func (r *memRepo) SetActive(_ context.Context, id string, active bool) (*Webhook, error) {
	r.hooks[id].IsActive = active
	cp := *r.hooks[id]
	return &cp, nil
}

func (r *memRepo) Delete(_ context.Context, id string) error {
	delete(r.hooks, id)
	return nil
}

func (r *memRepo) ListByEvent(_ context.Context, eventID string) ([]Webhook, error) {
	var out []Webhook
	for _, w := range r.hooks {
		if w.EventID == eventID {
			out = append(out, *w)
		}
	}
	return out, nil
}

func (r *memRepo) ListActiveByEvent(ctx context.Context, eventID string) ([]Webhook, error) {
	all, _ := r.ListByEvent(ctx, eventID)
	var out []Webhook
	for _, w := range all {
		if w.IsActive {
			out = append(out, w)
		}
	}
	return out, nil
}

type finder struct{}

func (finder) Get(_ context.Context, slug, _ string) (*events.Event, error) {
	if slug != "star-party" {
		return nil, events.ErrNotFound
	}
	return &events.Event{ID: "E1", Slug: "star-party", OrganizerID: "ORG"}, nil
}

func newService() (*Service, *memRepo) {
	repo := &memRepo{hooks: map[string]*Webhook{}}
	return NewService(repo, finder{}, nil, zerolog.Nop()), repo
}

// created hooks need the slug the repository would join in
func create(t *testing.T, svc *Service, repo *memRepo, url string) *Webhook {
	t.Helper()
	hook, err := svc.Create(context.Background(), "star-party", "ORG", url)
	require.NoError(t, err)
	repo.hooks[hook.ID].EventSlug = "star-party"
	return hook
}

func TestCreateAndToggle(t *testing.T) {
	svc, repo := newService()
	ctx := context.Background()

	hook := create(t, svc, repo, "  https://hooks.example.com/in  ")
	require.Equal(t, "https://hooks.example.com/in", hook.URL)
	require.True(t, hook.IsActive)

	toggled, err := svc.Toggle(ctx, hook.ID, "ORG")
	require.NoError(t, err)
	require.False(t, toggled.IsActive)

	active, err := svc.ListActive(ctx, "E1")
	require.NoError(t, err)
	require.Empty(t, active)

	all, err := svc.ListForEvent(ctx, "star-party", "ORG")
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestOrganizerOnly(t *testing.T) {
	svc, repo := newService()
	ctx := context.Background()

	_, err := svc.Create(ctx, "star-party", "INTRUDER", "https://x.example")
	require.ErrorIs(t, err, ErrForbidden)

	hook := create(t, svc, repo, "https://x.example")
	_, err = svc.Toggle(ctx, hook.ID, "INTRUDER")
	require.ErrorIs(t, err, ErrForbidden)
	_, err = svc.Delete(ctx, hook.ID, "INTRUDER")
	require.ErrorIs(t, err, ErrForbidden)
	_, err = svc.ListForEvent(ctx, "star-party", "INTRUDER")
	require.ErrorIs(t, err, ErrForbidden)

	_, err = svc.Delete(ctx, hook.ID, "ORG")
	require.NoError(t, err)
	_, err = svc.Get(ctx, hook.ID, "ORG")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestURLValidation(t *testing.T) {
	svc, repo := newService()
	ctx := context.Background()

	for _, raw := range []string{"", "ftp://files.example", "not a url"} {
		_, err := svc.Create(ctx, "star-party", "ORG", raw)
		var fieldErrs validation.FieldErrors
		require.True(t, errors.As(err, &fieldErrs), "url %q", raw)
		require.Equal(t, "url", fieldErrs[0].Field)
	}

	hook := create(t, svc, repo, "https://ok.example")
	updated, err := svc.Update(ctx, hook.ID, "ORG", "http://new.example/hook")
	require.NoError(t, err)
	require.Equal(t, "http://new.example/hook", updated.URL)
}
