package developers

import (
	"time"
)

// APIKey is a personal token for the REST API. The plaintext is shown once
// at creation; only the prefix and a bcrypt hash are kept.
type APIKey struct {
	ID         string     `json:"id"`
	UserID     string     `json:"-"`
	Name       string     `json:"name"`
	Prefix     string     `json:"prefix"`
	Hash       string     `json:"-"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at"`
	LastUsedAt *time.Time `json:"last_used_at"`
}

// Expired reports whether the key has an expiry at or before now.
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && !k.ExpiresAt.After(now)
}

// ExpiredKey is a key removed by the expiry job, with the owner details
// needed for the notification email.
type ExpiredKey struct {
	APIKey
	Username string
	Email    string
}

type ClientType string

const (
	ClientConfidential ClientType = "confidential"
	ClientPublic       ClientType = "public"
)

type GrantType string

const (
	GrantAuthorizationCode GrantType = "authorization-code"
	GrantClientCredentials GrantType = "client-credentials"
	GrantPassword          GrantType = "password"
)

// ClientTypes and GrantTypes list the choices in display order.
var (
	ClientTypes = []struct {
		Value ClientType
		Label string
	}{
		{ClientConfidential, "Confidential"},
		{ClientPublic, "Public"},
	}
	GrantTypes = []struct {
		Value GrantType
		Label string
	}{
		{GrantAuthorizationCode, "Authorization code"},
		{GrantClientCredentials, "Client credentials"},
		{GrantPassword, "Resource owner password-based"},
	}
)

func (c ClientType) Valid() bool {
	return c == ClientConfidential || c == ClientPublic
}

func (g GrantType) Valid() bool {
	return g == GrantAuthorizationCode || g == GrantClientCredentials || g == GrantPassword
}

// Application is an OAuth2 client registered by a user.
type Application struct {
	ID               string     `json:"id"`
	UserID           string     `json:"-"`
	Name             string     `json:"name"`
	ClientID         string     `json:"client_id"`
	ClientSecretHash string     `json:"-"`
	ClientType       ClientType `json:"client_type"`
	GrantType        GrantType  `json:"authorization_grant_type"`
	RedirectURIs     []string   `json:"redirect_uris"`
	CreatedAt        time.Time  `json:"created"`
}

type ApplicationInput struct {
	Name         string     `json:"name" validate:"required,max=255"`
	ClientType   ClientType `json:"client_type"`
	GrantType    GrantType  `json:"authorization_grant_type"`
	RedirectURIs string     `json:"redirect_uris"`
}
