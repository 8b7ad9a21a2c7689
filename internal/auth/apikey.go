package auth

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

const (
	// APIKeyPrefix starts every generated key.
	APIKeyPrefix = "eh_"
	// APIKeyPrefixLength is the number of characters after APIKeyPrefix
	// stored in clear for lookup.
	APIKeyPrefixLength = 8

	// BcryptCost is the work factor for API key and client secret hashes.
	BcryptCost = 12
)

type APIKey struct {
	ID         string
	UserID     string
	Prefix     string
	Hash       string
	Name       string
	Role       string
	ExpiresAt  *time.Time
	LastUsedAt *time.Time
}

type APIKeyStore interface {
	LookupByPrefix(ctx context.Context, prefix string) (*APIKey, error)
	UpdateLastUsed(ctx context.Context, id string) error
}

var (
	ErrMissingAPIKey = errors.New("missing api key")
	ErrInvalidAPIKey = errors.New("invalid api key")
)

var keyEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// GenerateAPIKey returns a new raw key and its lookup prefix. The raw key is
// "eh_" followed by the 8 character prefix and a 32 character secret.
func GenerateAPIKey() (raw, prefix string, err error) {
	buf := make([]byte, 25)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	body := strings.ToLower(keyEncoding.EncodeToString(buf))
	return APIKeyPrefix + body, body[:APIKeyPrefixLength], nil
}

// GenerateSecret returns a random URL-safe string of n characters, used for
// OAuth2 client ids and secrets.
func GenerateSecret(n int) (string, error) {
	buf := make([]byte, (n*5+7)/8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return strings.ToLower(keyEncoding.EncodeToString(buf))[:n], nil
}

// APIKeyFromRequest reads "Authorization: Token <key>" or the X-API-Key
// header.
func APIKeyFromRequest(r *http.Request) (string, error) {
	if r == nil {
		return "", ErrMissingAPIKey
	}
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return checkKey(key)
	}
	return APIKeyFromHeader(r.Header.Get("Authorization"))
}

func APIKeyFromHeader(authHeader string) (string, error) {
	parts := strings.Fields(authHeader)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "token") {
		return "", ErrMissingAPIKey
	}
	return checkKey(parts[1])
}

func checkKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" || !utf8.ValidString(key) {
		return "", ErrInvalidAPIKey
	}
	return key, nil
}

// KeyPrefix extracts the lookup prefix from a raw key.
func KeyPrefix(raw string) (string, bool) {
	body, ok := strings.CutPrefix(raw, APIKeyPrefix)
	if !ok || len(body) <= APIKeyPrefixLength {
		return "", false
	}
	return body[:APIKeyPrefixLength], true
}

// ValidateAPIKey looks the key up by prefix, checks expiry and compares the
// hash. On success the key's last-used time is updated.
func ValidateAPIKey(ctx context.Context, store APIKeyStore, raw string, now time.Time) (*APIKey, error) {
	if store == nil {
		return nil, ErrInvalidAPIKey
	}
	prefix, ok := KeyPrefix(raw)
	if !ok {
		return nil, ErrInvalidAPIKey
	}

	stored, err := store.LookupByPrefix(ctx, prefix)
	if err != nil || stored == nil {
		return nil, ErrInvalidAPIKey
	}
	if stored.ExpiresAt != nil && !stored.ExpiresAt.After(now) {
		return nil, ErrInvalidAPIKey
	}
	if bcrypt.CompareHashAndPassword([]byte(stored.Hash), []byte(raw)) != nil {
		return nil, ErrInvalidAPIKey
	}

	_ = store.UpdateLastUsed(ctx, stored.ID)
	return stored, nil
}

// HashSecret hashes an API key or client secret with bcrypt.
func HashSecret(secret string, cost int) (string, error) {
	if cost == 0 {
		cost = BcryptCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CompareSecret reports whether secret matches hash.
func CompareSecret(hash, secret string) bool {
	return hash != "" && bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}
