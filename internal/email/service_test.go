package email

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/eventhorizon/server/internal/config"
	"github.com/eventhorizon/server/internal/domain/developers"
	"github.com/eventhorizon/server/internal/domain/events"
	"github.com/eventhorizon/server/internal/domain/registrations"
	"github.com/eventhorizon/server/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

type captureTransport struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (c *captureTransport) Name() string { return "capture" }

func (c *captureTransport) Send(_ context.Context, msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, msg)
	return nil
}

func newTestService(t *testing.T, transport Transport) *Service {
	t.Helper()
	svc, err := NewService(config.EmailConfig{Enabled: true, From: "Event Horizon <noreply@eventhorizon.test>"},
		"https://eh.example.com/", transport, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func testNotice() registrations.Notice {
	event := &events.Event{
		ID:    "E1",
		Slug:  "apollo-11",
		Title: "Apollo <11>",
		Organizer: events.UserSummary{
			ID: "O1", Username: "kranz", Email: "gene@nasa.test", FirstName: "Gene", LastName: "Kranz",
		},
	}
	reg := &registrations.Registration{
		ID:           "R1",
		EventID:      "E1",
		Participant:  events.UserSummary{ID: "P1", Username: "buzz", Email: "buzz@nasa.test"},
		Status:       registrations.StatusWaitlisted,
		Answers:      map[string]any{"suit": "L", "vegan": true},
		RegisteredAt: time.Date(1969, 7, 16, 13, 32, 0, 0, time.UTC),
	}
	return registrations.Notice{
		Event:        event,
		Registration: reg,
		EventURL:     "https://eh.example.com/events/apollo-11/",
		Answers: []registrations.AnswerItem{
			{ID: "suit", Label: "Suit size", Value: "L"},
			{ID: "vegan", Label: "Vegan?", Value: "Yes"},
		},
	}
}

func TestRegistrationReceived(t *testing.T) {
	transport := &captureTransport{}
	svc := newTestService(t, transport)

	if err := svc.RegistrationReceived(context.Background(), testNotice()); err != nil {
		t.Fatalf("RegistrationReceived: %v", err)
	}
	if len(transport.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(transport.sent))
	}
	msg := transport.sent[0]
	if msg.To != "gene@nasa.test" {
		t.Errorf("To = %q", msg.To)
	}
	if msg.Subject != "New registration: Apollo <11>" {
		t.Errorf("Subject = %q", msg.Subject)
	}
	for _, want := range []string{"Hello Gene Kranz", "buzz registered", "Status: waitlisted", "1969-07-16 13:32 UTC", "- Suit size: L", "- Vegan?: Yes", "https://eh.example.com/events/apollo-11/"} {
		if !strings.Contains(msg.Text, want) {
			t.Errorf("text body missing %q:\n%s", want, msg.Text)
		}
	}
	if !strings.Contains(msg.HTML, "Apollo &lt;11&gt;") {
		t.Errorf("html body should escape the title:\n%s", msg.HTML)
	}
	if !strings.Contains(msg.HTML, "eh.example.com") {
		t.Error("html footer should name the site")
	}
}

func TestRegistrationRecorded(t *testing.T) {
	transport := &captureTransport{}
	svc := newTestService(t, transport)

	if err := svc.RegistrationRecorded(context.Background(), testNotice()); err != nil {
		t.Fatalf("RegistrationRecorded: %v", err)
	}
	msg := transport.sent[0]
	if msg.To != "buzz@nasa.test" || msg.Subject != "Registration recorded: Apollo <11>" {
		t.Errorf("unexpected message %q %q", msg.To, msg.Subject)
	}
	if !strings.Contains(msg.Text, "Current status: Waitlisted") || !strings.Contains(msg.Text, "on the waitlist") {
		t.Errorf("unexpected text:\n%s", msg.Text)
	}
}

func TestStatusChanged(t *testing.T) {
	transport := &captureTransport{}
	svc := newTestService(t, transport)

	n := testNotice()
	n.Registration.Status = registrations.StatusCancelled
	if err := svc.StatusChanged(context.Background(), n, registrations.StatusRegistered); err != nil {
		t.Fatalf("StatusChanged: %v", err)
	}
	msg := transport.sent[0]
	if msg.Subject != "Mission status update: Apollo <11>" {
		t.Errorf("Subject = %q", msg.Subject)
	}
	if !strings.Contains(msg.Text, "Previous status: Approved") || !strings.Contains(msg.Text, "New status: Not Approved") {
		t.Errorf("unexpected text:\n%s", msg.Text)
	}
}

func TestAPIKeyExpired(t *testing.T) {
	transport := &captureTransport{}
	svc := newTestService(t, transport)

	key := developers.ExpiredKey{
		APIKey:   developers.APIKey{ID: "K1", Name: "ci", Prefix: "abcd1234"},
		Username: "buzz",
		Email:    "buzz@nasa.test",
	}
	if err := svc.APIKeyExpired(context.Background(), key); err != nil {
		t.Fatalf("APIKeyExpired: %v", err)
	}
	msg := transport.sent[0]
	if msg.Subject != "Your Event Horizon API key expired" {
		t.Errorf("Subject = %q", msg.Subject)
	}
	if !strings.Contains(msg.Text, `"ci" (abcd1234...)`) || !strings.Contains(msg.Text, "https://eh.example.com/accounts/api-keys/") {
		t.Errorf("unexpected text:\n%s", msg.Text)
	}
}

func TestSendSkipsMissingRecipient(t *testing.T) {
	transport := &captureTransport{}
	svc := newTestService(t, transport)

	n := testNotice()
	n.Registration.Participant.Email = ""
	if err := svc.RegistrationRecorded(context.Background(), n); err != nil {
		t.Fatalf("missing recipient should not fail: %v", err)
	}
	if len(transport.sent) != 0 {
		t.Errorf("sent %d messages, want 0", len(transport.sent))
	}
}

func TestSendFailureCounted(t *testing.T) {
	transport := &captureTransport{err: errors.New("relay down")}
	svc := newTestService(t, transport)

	before := testutil.ToFloat64(metrics.EmailsSent.WithLabelValues(KindStatusChanged, "failed"))
	err := svc.StatusChanged(context.Background(), testNotice(), registrations.StatusRegistered)
	if err == nil || !strings.Contains(err.Error(), "relay down") {
		t.Fatalf("expected transport error, got %v", err)
	}
	after := testutil.ToFloat64(metrics.EmailsSent.WithLabelValues(KindStatusChanged, "failed"))
	if after != before+1 {
		t.Errorf("failed counter = %v, want %v", after, before+1)
	}
}

func TestSendRejectsInjectedRecipient(t *testing.T) {
	transport := &captureTransport{}
	svc := newTestService(t, transport)

	err := svc.Send(context.Background(), KindAPIKeyExpired, "victim@example.com\r\nBcc: attacker@evil.com", "x", map[string]any{})
	if err == nil {
		t.Fatal("expected error for header injection")
	}
	if len(transport.sent) != 0 {
		t.Error("nothing should be sent")
	}
}

func TestNewServiceRejectsBadSender(t *testing.T) {
	if _, err := NewService(config.EmailConfig{Enabled: true, From: "not-an-email"}, "", &captureTransport{}, zerolog.Nop()); err == nil {
		t.Fatal("expected error for invalid sender")
	}
	if _, err := NewService(config.EmailConfig{Enabled: false}, "", &captureTransport{}, zerolog.Nop()); err != nil {
		t.Fatalf("disabled email should not validate sender: %v", err)
	}
}

func TestNewTransport(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.EmailConfig
		want string
	}{
		{"disabled", config.EmailConfig{Enabled: false, ResendAPIKey: "re_x"}, "log"},
		{"resend", config.EmailConfig{Enabled: true, ResendAPIKey: "re_x", SMTPHost: "smtp.example.com"}, "resend"},
		{"smtp", config.EmailConfig{Enabled: true, SMTPHost: "smtp.example.com", SMTPPort: 587}, "smtp"},
		{"nothing configured", config.EmailConfig{Enabled: true}, "log"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewTransport(tt.cfg, zerolog.Nop()).Name(); got != tt.want {
				t.Errorf("NewTransport = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLogTransportCountsDisabled(t *testing.T) {
	svc := newTestService(t, &LogTransport{logger: zerolog.Nop()})
	before := testutil.ToFloat64(metrics.EmailsSent.WithLabelValues(KindRegistrationRecorded, "disabled"))
	if err := svc.RegistrationRecorded(context.Background(), testNotice()); err != nil {
		t.Fatal(err)
	}
	if got := testutil.ToFloat64(metrics.EmailsSent.WithLabelValues(KindRegistrationRecorded, "disabled")); got != before+1 {
		t.Errorf("disabled counter = %v, want %v", got, before+1)
	}
}

func TestBuildMIME(t *testing.T) {
	msg := Message{From: "a@example.com", To: "b@example.com", Subject: "Mission status update: Ünity", Text: "plain body", HTML: "<p>html body</p>"}
	out, err := buildMIME(msg, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	if err != nil {
		t.Fatalf("buildMIME: %v", err)
	}
	s := string(out)
	for _, want := range []string{
		"From: a@example.com\r\n",
		"To: b@example.com\r\n",
		"Subject: =?utf-8?q?",
		"MIME-Version: 1.0\r\n",
		"multipart/alternative",
		"text/plain; charset=UTF-8",
		"text/html; charset=UTF-8",
		"plain body",
		"<p>html body</p>",
	} {
		if !strings.Contains(s, want) {
			t.Errorf("message missing %q", want)
		}
	}

	msg.Subject = "hi\r\nBcc: x@evil.com"
	if _, err := buildMIME(msg, time.Now()); err == nil {
		t.Error("expected error for header injection in subject")
	}
}

func TestValidateEmailAddress(t *testing.T) {
	valid := []string{"user@example.com", "user+tag@example.co.uk", "User Name <user@example.com>"}
	for _, e := range valid {
		if err := validateEmailAddress(e); err != nil {
			t.Errorf("%q should be valid: %v", e, err)
		}
	}
	invalid := []string{"", "notanemail", "@example.com", "user@", "user@@example.com", "test@example.com\nCc: hacker@evil.com"}
	for _, e := range invalid {
		if err := validateEmailAddress(e); err == nil {
			t.Errorf("%q should be invalid", e)
		}
	}
}
