package auth

import (
	"errors"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newManager(t *testing.T, kind string) *JWTManager {
	t.Helper()
	m, err := NewJWTManager(testSecret, time.Hour, "eventhorizon", kind)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func TestJWTGenerateValidate(t *testing.T) {
	manager := newManager(t, KindSession)
	token, expiresAt, err := manager.Generate("user-1", RoleStaff, "")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	if time.Until(expiresAt) < 59*time.Minute {
		t.Errorf("unexpected expiry %v", expiresAt)
	}

	claims, err := manager.Validate(token)
	if err != nil {
		t.Fatalf("validate token: %v", err)
	}
	if claims.Subject != "user-1" || claims.Role != "staff" || claims.Kind != KindSession {
		t.Fatalf("unexpected claims: %#v", claims)
	}
}

func TestJWTAccessTokenCarriesClient(t *testing.T) {
	manager := newManager(t, KindAccess)
	token, _, err := manager.Generate("user-1", RoleUser, "client-abc")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	claims, err := manager.Validate(token)
	if err != nil {
		t.Fatalf("validate token: %v", err)
	}
	if claims.ClientID != "client-abc" {
		t.Errorf("client id = %q", claims.ClientID)
	}
}

func TestJWTKindsAreNotInterchangeable(t *testing.T) {
	session := newManager(t, KindSession)
	access := newManager(t, KindAccess)

	token, _, err := access.Generate("user-1", RoleUser, "client")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	if _, err := session.Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token, got %v", err)
	}
}

func TestJWTExpired(t *testing.T) {
	manager := newManager(t, KindSession)
	manager.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, _, err := manager.Generate("user-1", RoleUser, "")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	manager.now = time.Now
	if _, err := manager.Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token for expired jwt, got %v", err)
	}
}

func TestJWTGenerateInvalid(t *testing.T) {
	manager := newManager(t, KindSession)
	if _, _, err := manager.Generate("", RoleStaff, ""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token error, got %v", err)
	}
}

func TestJWTValidateMissing(t *testing.T) {
	manager := newManager(t, KindSession)
	if _, err := manager.Validate(""); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected missing token error, got %v", err)
	}
}

func TestNewJWTManagerEmptySecret(t *testing.T) {
	if _, err := NewJWTManager("", time.Hour, "eventhorizon", KindSession); !errors.Is(err, ErrInvalidMasterSecret) {
		t.Fatalf("expected ErrInvalidMasterSecret, got %v", err)
	}
}

func TestTokenFromHeader(t *testing.T) {
	if _, err := TokenFromHeader("nope"); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected missing token error, got %v", err)
	}
	if token, err := TokenFromHeader("Bearer token"); err != nil || token != "token" {
		t.Fatalf("expected token, got %s err %v", token, err)
	}
}

func TestRoles(t *testing.T) {
	if RoleFor(true) != RoleStaff || RoleFor(false) != RoleUser {
		t.Fatal("RoleFor mismatch")
	}
	if !IsStaff(" STAFF ") {
		t.Error("staff role should normalize")
	}
	if NormalizeRole("admin") != RoleUser {
		t.Error("unknown roles fall back to user")
	}
}
