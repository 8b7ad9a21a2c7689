package validation

import (
	"strings"
	"testing"
)

func TestValidateURL_ValidURLs(t *testing.T) {
	tests := []struct {
		name         string
		url          string
		requireHTTPS bool
	}{
		{"HTTP URL", "http://example.com", false},
		{"HTTPS URL", "https://example.com", false},
		{"HTTPS URL with requireHTTPS", "https://example.com", true},
		{"URL with path", "https://hooks.example.com/eventhorizon/incoming", false},
		{"URL with query", "https://example.com?token=abc", false},
		{"URL with port", "http://localhost:9000/hook", false},
		{"Empty URL (allowed)", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateURL(tt.url, "url", tt.requireHTTPS)
			if err != nil {
				t.Errorf("ValidateURL(%q, requireHTTPS=%v) returned error: %v", tt.url, tt.requireHTTPS, err)
			}
		})
	}
}

func TestValidateURL_InvalidURLs(t *testing.T) {
	tests := []struct {
		name          string
		url           string
		requireHTTPS  bool
		expectedError string
	}{
		{"missing scheme", "example.com/hook", false, "scheme"},
		{"missing host", "https://", false, "host"},
		{"javascript scheme", "javascript://alert(1)", false, "http or https"},
		{"ftp scheme", "ftp://files.example.com", false, "http or https"},
		{"http when https required", "http://example.com", true, "HTTPS"},
		{"unparseable", "http://[::1", false, "invalid URL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateURL(tt.url, "url", tt.requireHTTPS)
			if err == nil {
				t.Fatalf("ValidateURL(%q) expected error, got nil", tt.url)
			}
			if !strings.Contains(err.Error(), tt.expectedError) {
				t.Errorf("ValidateURL(%q) error = %v, want it to contain %q", tt.url, err, tt.expectedError)
			}
		})
	}
}

func TestValidateRedirectURIs(t *testing.T) {
	uris, err := ValidateRedirectURIs("https://app.example.com/callback  com.example.app:/oauth", "redirect_uris")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(uris) != 2 {
		t.Fatalf("expected 2 URIs, got %d", len(uris))
	}

	if _, err := ValidateRedirectURIs("https://app.example.com/cb#frag", "redirect_uris"); err == nil {
		t.Error("expected fragment to be rejected")
	}
	if _, err := ValidateRedirectURIs("/relative", "redirect_uris"); err == nil {
		t.Error("expected relative URI to be rejected")
	}
}

type signupInput struct {
	Username string `json:"username" validate:"required,max=150"`
	Email    string `json:"email" validate:"required,email"`
	Age      int    `json:"age" validate:"gt=0"`
}

func TestValidatorStruct_ReportsJSONFieldNames(t *testing.T) {
	v := New()

	err := v.Struct(signupInput{Username: strings.Repeat("a", 151), Email: "nope", Age: 0})
	if err == nil {
		t.Fatal("expected validation error")
	}

	fieldErrs, ok := err.(FieldErrors)
	if !ok {
		t.Fatalf("expected FieldErrors, got %T", err)
	}

	got := map[string]string{}
	for _, fe := range fieldErrs {
		got[fe.Field] = fe.Message
	}
	if got["username"] != "Ensure this field has no more than 150 characters." {
		t.Errorf("username message = %q", got["username"])
	}
	if got["email"] != "Enter a valid email address." {
		t.Errorf("email message = %q", got["email"])
	}
	if got["age"] != "Ensure this value is greater than 0." {
		t.Errorf("age message = %q", got["age"])
	}

	if err := v.Struct(signupInput{Username: "ada", Email: "ada@example.com", Age: 3}); err != nil {
		t.Errorf("expected valid input, got %v", err)
	}
}
