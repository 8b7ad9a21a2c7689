package events

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/eventhorizon/server/internal/validation"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type stubRepo struct {
	createFn    func(ctx context.Context, params CreateParams) (*Event, error)
	updateFn    func(ctx context.Context, id string, params UpdateParams) (*Event, error)
	deleteFn    func(ctx context.Context, id string) error
	getFn       func(ctx context.Context, slug, viewerID string) (*Event, error)
	listFn      func(ctx context.Context, filters Filters, viewerID string) (ListResult, error)
	upcomingFn  func(ctx context.Context, from time.Time, limit int) ([]Event, error)
	organizerFn func(ctx context.Context, organizerID string) ([]Event, error)
}

func (s *stubRepo) Create(ctx context.Context, params CreateParams) (*Event, error) {
	return s.createFn(ctx, params)
}

func (s *stubRepo) Update(ctx context.Context, id string, params UpdateParams) (*Event, error) {
	return s.updateFn(ctx, id, params)
}

func (s *stubRepo) Delete(ctx context.Context, id string) error {
	return s.deleteFn(ctx, id)
}

func (s *stubRepo) GetBySlug(ctx context.Context, slug, viewerID string) (*Event, error) {
	return s.getFn(ctx, slug, viewerID)
}

func (s *stubRepo) List(ctx context.Context, filters Filters, viewerID string) (ListResult, error) {
	return s.listFn(ctx, filters, viewerID)
}

func (s *stubRepo) ListByOrganizer(ctx context.Context, organizerID string) ([]Event, error) {
	return s.organizerFn(ctx, organizerID)
}

func (s *stubRepo) ListUpcoming(ctx context.Context, from time.Time, limit int) ([]Event, error) {
	return s.upcomingFn(ctx, from, limit)
}

func validInput() Input {
	start := time.Date(2026, 6, 1, 18, 0, 0, 0, time.UTC)
	return Input{
		Title:       "Launch Party",
		Description: "<p>Rockets</p>",
		StartTime:   start,
		EndTime:     start.Add(2 * time.Hour),
		Location:    "Hangar 9",
		Capacity:    10,
		RegistrationSchema: []Question{
			{ID: "diet", Label: "Dietary needs"},
		},
	}
}

func eventFromParams(p CreateParams) *Event {
	return &Event{
		ID:                 p.ID,
		Slug:               p.Slug,
		Title:              p.Title,
		Description:        p.Description,
		StartTime:          p.StartTime,
		EndTime:            p.EndTime,
		Location:           p.Location,
		Capacity:           p.Capacity,
		OrganizerID:        p.OrganizerID,
		RegistrationSchema: p.RegistrationSchema,
	}
}

func TestServiceCreate(t *testing.T) {
	var got CreateParams
	repo := &stubRepo{createFn: func(_ context.Context, p CreateParams) (*Event, error) {
		got = p
		return eventFromParams(p), nil
	}}
	svc := NewService(repo, zerolog.Nop())

	event, err := svc.Create(context.Background(), "ORG", validInput())

	require.NoError(t, err)
	require.Equal(t, "launch-party", event.Slug)
	require.Equal(t, "ORG", got.OrganizerID)
	require.NotEmpty(t, got.ID)
	require.Equal(t, []Question{{ID: "diet", Label: "Dietary needs", Type: QuestionText}}, got.RegistrationSchema)
	require.Equal(t, "Rockets", got.Description)
}

func TestServiceCreateStoresDescriptionAsPlainText(t *testing.T) {
	var got CreateParams
	repo := &stubRepo{createFn: func(_ context.Context, p CreateParams) (*Event, error) {
		got = p
		return eventFromParams(p), nil
	}}
	svc := NewService(repo, zerolog.Nop())

	in := validInput()
	in.Description = "Q&A night: bring 3 < 5 snacks <script>alert(1)</script>"
	_, err := svc.Create(context.Background(), "ORG", in)

	require.NoError(t, err)
	require.Equal(t, "Q&A night: bring 3 < 5 snacks", got.Description)
}

func TestServiceCreateRetriesSlugConflicts(t *testing.T) {
	var slugs []string
	repo := &stubRepo{createFn: func(_ context.Context, p CreateParams) (*Event, error) {
		slugs = append(slugs, p.Slug)
		if len(slugs) < 3 {
			return nil, ErrSlugConflict
		}
		return eventFromParams(p), nil
	}}
	svc := NewService(repo, zerolog.Nop())

	event, err := svc.Create(context.Background(), "ORG", validInput())

	require.NoError(t, err)
	require.Len(t, slugs, 3)
	require.Equal(t, "launch-party", slugs[0])
	require.Regexp(t, `^launch-party-[0-9a-f]{4}$`, slugs[1])
	require.Regexp(t, `^launch-party-[0-9a-f]{4}-[0-9a-f]{4}$`, slugs[2])
	require.Equal(t, slugs[2], event.Slug)
}

func TestServiceCreateGivesUpAfterFiveConflicts(t *testing.T) {
	calls := 0
	repo := &stubRepo{createFn: func(_ context.Context, p CreateParams) (*Event, error) {
		calls++
		return nil, ErrSlugConflict
	}}
	svc := NewService(repo, zerolog.Nop())

	_, err := svc.Create(context.Background(), "ORG", validInput())

	require.ErrorIs(t, err, ErrSlugConflict)
	require.Equal(t, maxSlugAttempts, calls)
}

func TestServiceCreateFallsBackToRandomSlug(t *testing.T) {
	repo := &stubRepo{createFn: func(_ context.Context, p CreateParams) (*Event, error) {
		return eventFromParams(p), nil
	}}
	svc := NewService(repo, zerolog.Nop())
	in := validInput()
	in.Title = "東京"

	event, err := svc.Create(context.Background(), "ORG", in)

	require.NoError(t, err)
	require.Regexp(t, `^[0-9a-f]{32}$`, event.Slug)
}

func TestServiceCreateValidation(t *testing.T) {
	repo := &stubRepo{createFn: func(context.Context, CreateParams) (*Event, error) {
		t.Fatal("repository must not be called for invalid input")
		return nil, nil
	}}
	svc := NewService(repo, zerolog.Nop())

	in := validInput()
	in.Title = strings.Repeat("x", 201)
	in.Capacity = 0
	in.EndTime = in.StartTime.Add(-time.Hour)
	in.RegistrationSchema = []Question{{ID: "a", Label: "A"}, {ID: "a", Label: "B"}}

	_, err := svc.Create(context.Background(), "ORG", in)

	var fieldErrs validation.FieldErrors
	require.True(t, errors.As(err, &fieldErrs))
	fields := map[string]bool{}
	for _, fe := range fieldErrs {
		fields[fe.Field] = true
	}
	require.True(t, fields["title"])
	require.True(t, fields["capacity"])
	require.True(t, fields["end_time"])
	require.True(t, fields["registration_schema[1].id"])
}

func TestServiceUpdateRequiresOrganizer(t *testing.T) {
	repo := &stubRepo{
		getFn: func(context.Context, string, string) (*Event, error) {
			return &Event{ID: "E1", Slug: "launch", OrganizerID: "ORG"}, nil
		},
		updateFn: func(context.Context, string, UpdateParams) (*Event, error) {
			t.Fatal("update must not run for non-organizers")
			return nil, nil
		},
	}
	svc := NewService(repo, zerolog.Nop())

	_, err := svc.Update(context.Background(), "SOMEONE", "launch", validInput())

	require.ErrorIs(t, err, ErrForbidden)
}

func TestServiceUpdateKeepsSlug(t *testing.T) {
	repo := &stubRepo{
		getFn: func(context.Context, string, string) (*Event, error) {
			return &Event{ID: "E1", Slug: "launch", OrganizerID: "ORG", IsRegistered: true}, nil
		},
		updateFn: func(_ context.Context, id string, p UpdateParams) (*Event, error) {
			require.Equal(t, "E1", id)
			return &Event{ID: id, Slug: "launch", Title: p.Title, OrganizerID: "ORG"}, nil
		},
	}
	svc := NewService(repo, zerolog.Nop())
	in := validInput()
	in.Title = "Renamed"

	event, err := svc.Update(context.Background(), "ORG", "launch", in)

	require.NoError(t, err)
	require.Equal(t, "launch", event.Slug)
	require.Equal(t, "Renamed", event.Title)
	require.True(t, event.IsRegistered)
}

func TestServiceDelete(t *testing.T) {
	deleted := ""
	repo := &stubRepo{
		getFn: func(context.Context, string, string) (*Event, error) {
			return &Event{ID: "E1", Slug: "launch", OrganizerID: "ORG"}, nil
		},
		deleteFn: func(_ context.Context, id string) error {
			deleted = id
			return nil
		},
	}
	svc := NewService(repo, zerolog.Nop())

	require.ErrorIs(t, svc.Delete(context.Background(), "OTHER", "launch"), ErrForbidden)
	require.Empty(t, deleted)

	require.NoError(t, svc.Delete(context.Background(), "ORG", "launch"))
	require.Equal(t, "E1", deleted)
}

func TestServiceUpcomingUsesClock(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	repo := &stubRepo{upcomingFn: func(_ context.Context, from time.Time, limit int) ([]Event, error) {
		require.Equal(t, now, from)
		require.Equal(t, 3, limit)
		return []Event{{Slug: "a"}}, nil
	}}
	svc := NewService(repo, zerolog.Nop())
	svc.now = func() time.Time { return now }

	got, err := svc.Upcoming(context.Background(), 3)

	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestEventHelpers(t *testing.T) {
	e := &Event{OrganizerID: "ORG", Capacity: 2, RegisteredCount: 5,
		RegistrationSchema: []Question{{ID: "q1", Label: "One", Type: QuestionText}}}

	require.True(t, e.IsOrganizer("ORG"))
	require.False(t, e.IsOrganizer(""))
	require.Equal(t, 0, e.SpotsLeft())
	q, ok := e.Question("q1")
	require.True(t, ok)
	require.Equal(t, "One", q.Label)

	require.Equal(t, "Ada Lovelace", UserSummary{Username: "ada", FirstName: "Ada", LastName: "Lovelace"}.DisplayName())
	require.Equal(t, "ada", UserSummary{Username: "ada"}.DisplayName())
}
