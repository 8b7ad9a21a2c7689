// Package email renders and sends the transactional emails of Event
// Horizon: registration notices to organizers and participants, status
// changes and expired API keys.
package email

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"net/mail"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/eventhorizon/server/internal/config"
	"github.com/eventhorizon/server/internal/domain/developers"
	"github.com/eventhorizon/server/internal/domain/registrations"
	"github.com/eventhorizon/server/internal/metrics"
	"github.com/rs/zerolog"
)

//go:embed templates
var templateFS embed.FS

const sendTimeout = 15 * time.Second

// Message kinds, used as template names and metric labels.
const (
	KindOrganizerRegistration = "organizer_registration"
	KindRegistrationRecorded  = "registration_recorded"
	KindStatusChanged         = "status_changed"
	KindAPIKeyExpired         = "api_key_expired"
)

type Service struct {
	transport Transport
	from      string
	siteName  string
	siteURL   string
	text      *texttemplate.Template
	html      *htmltemplate.Template
	logger    zerolog.Logger
}

// NewService parses the embedded templates and validates the sender.
func NewService(cfg config.EmailConfig, siteURL string, transport Transport, logger zerolog.Logger) (*Service, error) {
	if cfg.Enabled {
		if err := validateEmailAddress(cfg.From); err != nil {
			return nil, fmt.Errorf("invalid sender email in config: %w", err)
		}
	}
	text, err := texttemplate.ParseFS(templateFS, "templates/*.txt")
	if err != nil {
		return nil, fmt.Errorf("parse text templates: %w", err)
	}
	html, err := htmltemplate.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse html templates: %w", err)
	}
	siteURL = strings.TrimRight(siteURL, "/")
	return &Service{
		transport: transport,
		from:      cfg.From,
		siteName:  siteHost(siteURL),
		siteURL:   siteURL,
		text:      text,
		html:      html,
		logger:    logger.With().Str("component", "email").Logger(),
	}, nil
}

// Send renders the kind's templates with data and delivers the result. An
// empty recipient is not an error; nothing is sent.
func (s *Service) Send(ctx context.Context, kind, to, subject string, data map[string]any) error {
	if strings.TrimSpace(to) == "" {
		return nil
	}
	if err := validateEmailAddress(to); err != nil {
		metrics.EmailsSent.WithLabelValues(kind, "failed").Inc()
		return fmt.Errorf("invalid recipient email: %w", err)
	}

	data["SiteName"] = s.siteName
	data["SiteURL"] = s.siteURL
	data["Subject"] = subject

	var text, html bytes.Buffer
	if err := s.text.ExecuteTemplate(&text, kind+".txt", data); err != nil {
		return fmt.Errorf("render %s text: %w", kind, err)
	}
	if err := s.html.ExecuteTemplate(&html, kind+".html", data); err != nil {
		return fmt.Errorf("render %s html: %w", kind, err)
	}

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	err := s.transport.Send(ctx, Message{
		From:    s.from,
		To:      to,
		Subject: subject,
		Text:    strings.TrimSpace(text.String()),
		HTML:    html.String(),
	})
	if err != nil {
		metrics.EmailsSent.WithLabelValues(kind, "failed").Inc()
		return fmt.Errorf("send %s email via %s: %w", kind, s.transport.Name(), err)
	}
	outcome := "sent"
	if _, ok := s.transport.(*LogTransport); ok {
		outcome = "disabled"
	}
	metrics.EmailsSent.WithLabelValues(kind, outcome).Inc()
	s.logger.Info().Str("kind", kind).Str("to", to).Str("transport", s.transport.Name()).Msg("email sent")
	return nil
}

// RegistrationReceived tells the organizer about a new registration.
func (s *Service) RegistrationReceived(ctx context.Context, n registrations.Notice) error {
	return s.Send(ctx, KindOrganizerRegistration, n.Event.Organizer.Email,
		"New registration: "+n.Event.Title,
		map[string]any{
			"Event":        n.Event,
			"EventURL":     n.EventURL,
			"Registration": n.Registration,
			"Participant":  n.Registration.Participant,
			"Status":       n.Registration.Status,
			"RegisteredAt": n.Registration.RegisteredAt.UTC().Format("2006-01-02 15:04 MST"),
			"Answers":      n.Answers,
		})
}

// RegistrationRecorded confirms a registration to the participant.
func (s *Service) RegistrationRecorded(ctx context.Context, n registrations.Notice) error {
	return s.Send(ctx, KindRegistrationRecorded, n.Registration.Participant.Email,
		"Registration recorded: "+n.Event.Title,
		map[string]any{
			"Event":       n.Event,
			"EventURL":    n.EventURL,
			"Participant": n.Registration.Participant,
			"Status":      n.Registration.Status,
			"StatusLabel": n.Registration.Status.Label(),
		})
}

// StatusChanged tells the participant the organizer changed their status.
func (s *Service) StatusChanged(ctx context.Context, n registrations.Notice, previous registrations.Status) error {
	return s.Send(ctx, KindStatusChanged, n.Registration.Participant.Email,
		"Mission status update: "+n.Event.Title,
		map[string]any{
			"Event":          n.Event,
			"EventURL":       n.EventURL,
			"Participant":    n.Registration.Participant,
			"OldStatus":      previous,
			"NewStatus":      n.Registration.Status,
			"OldStatusLabel": previous.Label(),
			"NewStatusLabel": n.Registration.Status.Label(),
		})
}

// APIKeyExpired tells a user that the expiry job removed one of their keys.
func (s *Service) APIKeyExpired(ctx context.Context, key developers.ExpiredKey) error {
	return s.Send(ctx, KindAPIKeyExpired, key.Email,
		"Your Event Horizon API key expired",
		map[string]any{
			"Username": key.Username,
			"KeyName":  key.Name,
			"Prefix":   key.Prefix,
			"KeysURL":  s.siteURL + "/accounts/api-keys/",
		})
}

var _ registrations.Notifier = (*Service)(nil)

// validateEmailAddress rejects malformed addresses and header injection.
func validateEmailAddress(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return fmt.Errorf("invalid email format: %w", err)
	}
	if strings.ContainsAny(addr.Address, "\r\n") {
		return fmt.Errorf("invalid email address: contains newline characters")
	}
	return nil
}

func siteHost(siteURL string) string {
	host := siteURL
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	if host == "" {
		return "Event Horizon"
	}
	return host
}
