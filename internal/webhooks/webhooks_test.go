package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	domain "github.com/eventhorizon/server/internal/domain/webhooks"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func samplePayload() Payload {
	return Payload{
		Event:        EventRegistrationCreated,
		MissionID:    "star-party",
		MissionTitle: "Star Party",
		Participant:  Participant{Username: "alice", Email: "alice@example.com"},
		Status:       "registered",
		RegisteredAt: time.Date(2026, 4, 1, 20, 0, 0, 0, time.UTC),
		Answers:      map[string]any{"vegan": true},
	}
}

func TestSenderPostsJSON(t *testing.T) {
	var (
		gotBody    map[string]any
		gotHeaders http.Header
		rawBody    []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		gotHeaders = r.Header.Clone()
		rawBody, _ = io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(rawBody, &gotBody))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sender := NewSender(SenderConfig{SigningSecret: "s3cret"}, zerolog.Nop())
	require.NoError(t, sender.Send(context.Background(), srv.URL, samplePayload()))

	require.Equal(t, "application/json", gotHeaders.Get("Content-Type"))
	require.Equal(t, DefaultUserAgent, gotHeaders.Get("User-Agent"))
	require.Equal(t, EventRegistrationCreated, gotHeaders.Get(EventHeader))
	require.True(t, Verify([]byte("s3cret"), rawBody, gotHeaders.Get(SignatureHeader)))

	require.Equal(t, "registration.created", gotBody["event"])
	require.Equal(t, "star-party", gotBody["mission_id"])
	require.Equal(t, "Star Party", gotBody["mission_title"])
	require.Equal(t, map[string]any{"username": "alice", "email": "alice@example.com"}, gotBody["participant"])
	require.Equal(t, "2026-04-01T20:00:00Z", gotBody["registered_at"])
	require.Equal(t, map[string]any{"vegan": true}, gotBody["answers"])
	require.NotContains(t, gotBody, "previous_status")
}

func TestSenderUnsignedWithoutSecret(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Empty(t, r.Header.Get(SignatureHeader))
	}))
	defer srv.Close()

	require.NoError(t, NewSender(SenderConfig{}, zerolog.Nop()).Send(context.Background(), srv.URL, samplePayload()))
}

func TestSenderNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewSender(SenderConfig{}, zerolog.Nop()).Send(context.Background(), srv.URL, samplePayload())

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
}

func TestSenderTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	sender := NewSender(SenderConfig{Timeout: 50 * time.Millisecond}, zerolog.Nop())
	err := sender.Send(context.Background(), srv.URL, samplePayload())

	require.Error(t, err)
}

func TestVerifyRejectsMalformed(t *testing.T) {
	body := []byte(`{}`)
	secret := []byte("k")

	require.True(t, Verify(secret, body, "sha256="+Sign(secret, body)))
	require.False(t, Verify(secret, body, Sign(secret, body)))
	require.False(t, Verify(secret, body, "sha256=zz"))
	require.False(t, Verify([]byte("other"), body, "sha256="+Sign(secret, body)))
}

type recordingSender struct {
	mu    sync.Mutex
	urls  []string
	fail  bool
	block chan struct{}
}

func (s *recordingSender) Send(ctx context.Context, url string, _ Payload) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.urls = append(s.urls, url)
	if s.fail {
		return errors.New("connection refused")
	}
	return ctx.Err()
}

func TestAsyncDispatcherDoesNotLeak(t *testing.T) {
	defer goleak.VerifyNone(t)

	sender := &recordingSender{fail: true}
	d := NewAsyncDispatcher(sender, zerolog.Nop())
	for i := 0; i < 5; i++ {
		d.Dispatch(context.Background(), "http://hook.invalid", samplePayload())
	}
	d.Wait()

	require.Len(t, sender.urls, 5)
}

func TestAsyncDispatcherOutlivesRequestContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	sender := &recordingSender{block: make(chan struct{})}
	d := NewAsyncDispatcher(sender, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	d.Dispatch(ctx, "http://hook.invalid", samplePayload())
	cancel()
	close(sender.block)
	d.Wait()

	require.Equal(t, []string{"http://hook.invalid"}, sender.urls)
}

type stubLister struct {
	hooks []domain.Webhook
	err   error
}

func (l stubLister) ListActive(context.Context, string) ([]domain.Webhook, error) {
	return l.hooks, l.err
}

type collectingDispatcher struct {
	urls []string
}

func (d *collectingDispatcher) Dispatch(_ context.Context, url string, _ Payload) {
	d.urls = append(d.urls, url)
}

func TestPublisherFansOut(t *testing.T) {
	dispatcher := &collectingDispatcher{}
	lister := stubLister{hooks: []domain.Webhook{{URL: "https://a.example"}, {URL: "https://b.example"}}}

	NewPublisher(lister, dispatcher, zerolog.Nop()).Publish(context.Background(), "E1", samplePayload())

	require.Equal(t, []string{"https://a.example", "https://b.example"}, dispatcher.urls)
}

func TestPublisherSwallowsLookupErrors(t *testing.T) {
	dispatcher := &collectingDispatcher{}

	NewPublisher(stubLister{err: errors.New("db down")}, dispatcher, zerolog.Nop()).
		Publish(context.Background(), "E1", samplePayload())

	require.Empty(t, dispatcher.urls)
}
