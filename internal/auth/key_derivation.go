package auth

import (
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DerivedKeyLength is the size of derived HMAC-SHA256 keys in bytes.
const DerivedKeyLength = 32

const (
	purposeSession = "eventhorizon-session-jwt-v1"
	purposeAccess  = "eventhorizon-access-jwt-v1"
)

var ErrInvalidMasterSecret = errors.New("master secret cannot be empty")

// DeriveKey derives a 32-byte key from masterSecret using HKDF-SHA256.
// Keys derived for different purposes are independent.
func DeriveKey(masterSecret []byte, purpose string) ([]byte, error) {
	if len(masterSecret) == 0 {
		return nil, ErrInvalidMasterSecret
	}

	r := hkdf.New(sha256.New, masterSecret, nil, []byte(purpose))
	key := make([]byte, DerivedKeyLength)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

func purposeFor(kind string) string {
	if kind == KindAccess {
		return purposeAccess
	}
	return purposeSession
}
