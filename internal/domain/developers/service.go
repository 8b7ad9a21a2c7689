// Package developers manages the credentials users create for the REST API:
// personal API keys and OAuth2 applications.
//
// API keys look like "eh_" followed by an 8 character lookup prefix and a
// 32 character secret. Only the prefix and a bcrypt hash are stored, so the
// plaintext is returned exactly once by CreateAPIKey. OAuth2 client secrets
// follow the same rule.
package developers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/eventhorizon/server/internal/audit"
	"github.com/eventhorizon/server/internal/auth"
	"github.com/eventhorizon/server/internal/domain/ids"
	"github.com/eventhorizon/server/internal/metrics"
	"github.com/eventhorizon/server/internal/sanitize"
	"github.com/eventhorizon/server/internal/validation"
	"github.com/rs/zerolog"
)

var (
	ErrAPIKeyNotFound      = errors.New("api key not found")
	ErrApplicationNotFound = errors.New("application not found")
	ErrInvalidClient       = errors.New("invalid client credentials")
)

const (
	clientIDLength     = 40
	clientSecretLength = 64
	maxKeyNameLength   = 100
)

type Service struct {
	repo      Repository
	usage     *UsageRecorder
	audit     *audit.Logger
	validator *validation.Validator
	logger    zerolog.Logger
	keyTTL    time.Duration
	cost      int
	now       func() time.Time
}

// NewService creates the service. keyTTL of zero creates keys that never
// expire. usage may be nil, in which case last-used times are written
// synchronously.
func NewService(repo Repository, usage *UsageRecorder, auditLogger *audit.Logger, keyTTL time.Duration, logger zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		usage:     usage,
		audit:     auditLogger,
		validator: validation.New(),
		logger:    logger.With().Str("component", "developers").Logger(),
		keyTTL:    keyTTL,
		cost:      auth.BcryptCost,
		now:       time.Now,
	}
}

// DefaultKeyName is used when a key is created without a name.
func DefaultKeyName(now time.Time) string {
	return "API Key " + now.Format("2006-01-02 15:04")
}

// CreateAPIKey creates a key for userID and returns its plaintext once.
func (s *Service) CreateAPIKey(ctx context.Context, userID, name string) (string, *APIKey, error) {
	now := s.now().UTC()
	name = sanitize.Text(name)
	if name == "" {
		name = DefaultKeyName(now)
	}
	if len([]rune(name)) > maxKeyNameLength {
		return "", nil, validation.FieldErrors{{Field: "name", Message: fmt.Sprintf("Ensure this field has no more than %d characters.", maxKeyNameLength)}}
	}

	raw, prefix, err := auth.GenerateAPIKey()
	if err != nil {
		return "", nil, fmt.Errorf("generate api key: %w", err)
	}
	hash, err := auth.HashSecret(raw, s.cost)
	if err != nil {
		return "", nil, fmt.Errorf("hash api key: %w", err)
	}
	id, err := ids.NewULID()
	if err != nil {
		return "", nil, err
	}

	key := APIKey{
		ID:        id,
		UserID:    userID,
		Name:      name,
		Prefix:    prefix,
		Hash:      hash,
		CreatedAt: now,
	}
	if s.keyTTL > 0 {
		expires := now.Add(s.keyTTL)
		key.ExpiresAt = &expires
	}
	if err := s.repo.CreateAPIKey(ctx, key); err != nil {
		return "", nil, fmt.Errorf("create api key: %w", err)
	}

	s.logger.Info().Str("user_id", userID).Str("key_id", id).Str("prefix", prefix).Msg("api key created")
	s.audit.LogSuccess(ctx, "api_key.create", userID, "api_key", id, map[string]string{"name": name})
	return raw, &key, nil
}

func (s *Service) ListAPIKeys(ctx context.Context, userID string) ([]APIKey, error) {
	return s.repo.ListAPIKeys(ctx, userID)
}

// DeleteAPIKey removes a key owned by userID. Keys of other users are
// reported as not found.
func (s *Service) DeleteAPIKey(ctx context.Context, userID, id string) error {
	key, err := s.repo.GetAPIKey(ctx, ids.Normalize(id))
	if err != nil {
		return err
	}
	if key.UserID != userID {
		return ErrAPIKeyNotFound
	}
	if err := s.repo.DeleteAPIKey(ctx, key.ID); err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	s.logger.Info().Str("user_id", userID).Str("key_id", key.ID).Msg("api key revoked")
	s.audit.LogSuccess(ctx, "api_key.revoke", userID, "api_key", key.ID, nil)
	return nil
}

// AuthenticateAPIKey resolves a raw key to its stored record.
func (s *Service) AuthenticateAPIKey(ctx context.Context, raw string) (*APIKey, error) {
	store := keyStore{s: s, found: &APIKey{}}
	if _, err := auth.ValidateAPIKey(ctx, store, raw, s.now()); err != nil {
		return nil, err
	}
	return store.found, nil
}

// keyStore adapts the repository to auth.APIKeyStore. It is used for one
// lookup only.
type keyStore struct {
	s     *Service
	found *APIKey
}

func (k keyStore) LookupByPrefix(ctx context.Context, prefix string) (*auth.APIKey, error) {
	key, err := k.s.repo.LookupAPIKeyByPrefix(ctx, prefix)
	if err != nil {
		return nil, err
	}
	*k.found = *key
	return &auth.APIKey{
		ID:         key.ID,
		UserID:     key.UserID,
		Prefix:     key.Prefix,
		Hash:       key.Hash,
		Name:       key.Name,
		ExpiresAt:  key.ExpiresAt,
		LastUsedAt: key.LastUsedAt,
	}, nil
}

func (k keyStore) UpdateLastUsed(ctx context.Context, id string) error {
	now := k.s.now().UTC()
	k.found.LastUsedAt = &now
	if k.s.usage != nil {
		k.s.usage.Record(id, now)
		return nil
	}
	return k.s.repo.TouchAPIKeys(ctx, map[string]time.Time{id: now})
}

// ExpireAPIKeys deletes every expired key and returns the removed keys with
// their owners.
func (s *Service) ExpireAPIKeys(ctx context.Context) ([]ExpiredKey, error) {
	expired, err := s.repo.DeleteExpiredAPIKeys(ctx, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("delete expired api keys: %w", err)
	}
	metrics.APIKeysExpired.Add(float64(len(expired)))
	for _, key := range expired {
		s.logger.Info().Str("user_id", key.UserID).Str("key_id", key.ID).Msg("api key expired")
	}
	return expired, nil
}

// CreateApplication registers an OAuth2 client and returns its secret once.
func (s *Service) CreateApplication(ctx context.Context, userID string, in ApplicationInput) (*Application, string, error) {
	in.Name = sanitize.Text(in.Name)
	if in.ClientType == "" {
		in.ClientType = ClientConfidential
	}
	if in.GrantType == "" {
		in.GrantType = GrantAuthorizationCode
	}

	var errs validation.FieldErrors
	if in.Name == "" {
		errs.Add("name", "Application name is required.")
	} else if err := s.validator.Struct(in); err != nil {
		var fieldErrs validation.FieldErrors
		if errors.As(err, &fieldErrs) {
			errs = append(errs, fieldErrs...)
		} else {
			return nil, "", err
		}
	}
	if !in.ClientType.Valid() {
		errs.Add("client_type", fmt.Sprintf("Select a valid choice. %s is not one of the available choices.", in.ClientType))
	}
	if !in.GrantType.Valid() {
		errs.Add("authorization_grant_type", fmt.Sprintf("Select a valid choice. %s is not one of the available choices.", in.GrantType))
	}
	if in.ClientType == ClientPublic && in.GrantType == GrantClientCredentials {
		errs.Add("client_type", "The client credentials grant requires a confidential client.")
	}
	uris, err := validation.ValidateRedirectURIs(in.RedirectURIs, "redirect_uris")
	if err != nil {
		var urlErr validation.URLValidationError
		if errors.As(err, &urlErr) {
			errs.Add("redirect_uris", urlErr.Message)
		}
	} else if in.GrantType == GrantAuthorizationCode && len(uris) == 0 {
		errs.Add("redirect_uris", "Redirect URIs are required for the authorization code grant.")
	}
	if err := errs.Err(); err != nil {
		return nil, "", err
	}

	clientID, err := auth.GenerateSecret(clientIDLength)
	if err != nil {
		return nil, "", err
	}
	secret, err := auth.GenerateSecret(clientSecretLength)
	if err != nil {
		return nil, "", err
	}
	hash, err := auth.HashSecret(secret, s.cost)
	if err != nil {
		return nil, "", fmt.Errorf("hash client secret: %w", err)
	}
	id, err := ids.NewULID()
	if err != nil {
		return nil, "", err
	}

	app := Application{
		ID:               id,
		UserID:           userID,
		Name:             in.Name,
		ClientID:         clientID,
		ClientSecretHash: hash,
		ClientType:       in.ClientType,
		GrantType:        in.GrantType,
		RedirectURIs:     uris,
		CreatedAt:        s.now().UTC(),
	}
	if err := s.repo.CreateApplication(ctx, app); err != nil {
		return nil, "", fmt.Errorf("create application: %w", err)
	}

	s.logger.Info().Str("user_id", userID).Str("application_id", id).Str("grant_type", string(app.GrantType)).Msg("oauth2 application created")
	s.audit.LogSuccess(ctx, "oauth2_application.create", userID, "oauth2_application", id, map[string]string{"name": app.Name})
	return &app, secret, nil
}

func (s *Service) ListApplications(ctx context.Context, userID string) ([]Application, error) {
	return s.repo.ListApplications(ctx, userID)
}

// DeleteApplication removes an application owned by userID.
func (s *Service) DeleteApplication(ctx context.Context, userID, id string) error {
	app, err := s.repo.GetApplication(ctx, ids.Normalize(id))
	if err != nil {
		return err
	}
	if app.UserID != userID {
		return ErrApplicationNotFound
	}
	if err := s.repo.DeleteApplication(ctx, app.ID); err != nil {
		return fmt.Errorf("delete application: %w", err)
	}
	s.audit.LogSuccess(ctx, "oauth2_application.delete", userID, "oauth2_application", app.ID, nil)
	return nil
}

// AuthenticateClient checks OAuth2 client credentials. Confidential clients
// must present their secret; public clients are identified by id alone and
// may only use grants that authenticate a user.
func (s *Service) AuthenticateClient(ctx context.Context, clientID, secret string) (*Application, error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return nil, ErrInvalidClient
	}
	app, err := s.repo.GetApplicationByClientID(ctx, clientID)
	if err != nil {
		if errors.Is(err, ErrApplicationNotFound) {
			return nil, ErrInvalidClient
		}
		return nil, err
	}
	if app.ClientType != ClientPublic && !auth.CompareSecret(app.ClientSecretHash, secret) {
		s.audit.LogFailure(ctx, "oauth2.client_auth", clientID, map[string]string{"reason": "invalid_secret"})
		return nil, ErrInvalidClient
	}
	return app, nil
}
