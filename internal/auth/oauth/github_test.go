package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func fakeGitHub(t *testing.T, publicEmail string, emails []map[string]any) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.FormValue("client_secret") != "shh" {
			t.Errorf("client_secret = %q", r.FormValue("client_secret"))
		}
		w.Header().Set("Content-Type", "application/json")
		if r.FormValue("code") != "good-code" {
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "bad_verification_code", "error_description": "The code is incorrect"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "gho_token", "token_type": "bearer"})
	})
	mux.HandleFunc("GET /user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer gho_token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"id": 583231, "login": "octocat", "name": "The Octocat", "email": publicEmail})
	})
	mux.HandleFunc("GET /user/emails", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(emails)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newTestClient(server *httptest.Server) *GitHubClient {
	return NewGitHubClient(GitHubConfig{
		ClientID:     "client",
		ClientSecret: "shh",
		CallbackURL:  "http://localhost:8080/accounts/github/callback",
		AuthURL:      server.URL + "/login/oauth/authorize",
		TokenURL:     server.URL + "/login/oauth/access_token",
		APIURL:       server.URL + "/",
	})
}

func TestGenerateAuthURL(t *testing.T) {
	client := NewGitHubClient(GitHubConfig{ClientID: "test-client-id", CallbackURL: "http://localhost:8080/cb"})
	parsed, err := url.Parse(client.GenerateAuthURL("state-1"))
	if err != nil {
		t.Fatalf("parse auth url: %v", err)
	}
	if parsed.Host != "github.com" || parsed.Path != "/login/oauth/authorize" {
		t.Errorf("unexpected auth url %s", parsed)
	}
	q := parsed.Query()
	for param, want := range map[string]string{"client_id": "test-client-id", "redirect_uri": "http://localhost:8080/cb", "state": "state-1"} {
		if got := q.Get(param); got != want {
			t.Errorf("%s = %q, want %q", param, got, want)
		}
	}
	if !strings.Contains(q.Get("scope"), "user:email") {
		t.Errorf("scope = %q", q.Get("scope"))
	}
}

func TestEnabled(t *testing.T) {
	if NewGitHubClient(GitHubConfig{}).Enabled() {
		t.Error("client without id should be disabled")
	}
	var nilClient *GitHubClient
	if nilClient.Enabled() {
		t.Error("nil client should be disabled")
	}
}

func TestExchangeCode(t *testing.T) {
	client := newTestClient(fakeGitHub(t, "", nil))

	token, err := client.ExchangeCode(context.Background(), "good-code")
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if token != "gho_token" {
		t.Errorf("token = %q", token)
	}

	if _, err := client.ExchangeCode(context.Background(), "bad"); err == nil || !strings.Contains(err.Error(), "bad_verification_code") {
		t.Errorf("expected oauth error, got %v", err)
	}
}

func TestFetchUserProfilePublicEmail(t *testing.T) {
	client := newTestClient(fakeGitHub(t, "octo@github.com", nil))
	user, err := client.FetchUserProfile(context.Background(), "gho_token")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if user.ID != 583231 || user.Login != "octocat" || user.Email != "octo@github.com" || user.Name != "The Octocat" {
		t.Errorf("unexpected user %#v", user)
	}
}

func TestFetchUserProfilePrivateEmail(t *testing.T) {
	emails := []map[string]any{
		{"email": "unverified@example.com", "primary": false, "verified": false},
		{"email": "secondary@example.com", "primary": false, "verified": true},
		{"email": "primary@example.com", "primary": true, "verified": true},
	}
	client := newTestClient(fakeGitHub(t, "", emails))
	user, err := client.FetchUserProfile(context.Background(), "gho_token")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if user.Email != "primary@example.com" {
		t.Errorf("email = %q", user.Email)
	}
}

func TestFetchUserProfileNoVerifiedEmail(t *testing.T) {
	client := newTestClient(fakeGitHub(t, "", []map[string]any{{"email": "x@example.com", "verified": false}}))
	user, err := client.FetchUserProfile(context.Background(), "gho_token")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if user.Email != "" {
		t.Errorf("email = %q, want empty", user.Email)
	}
}

func TestFetchUserProfileUnauthorized(t *testing.T) {
	client := newTestClient(fakeGitHub(t, "", nil))
	if _, err := client.FetchUserProfile(context.Background(), "wrong"); err == nil || !strings.Contains(err.Error(), "status 401") {
		t.Errorf("expected 401 error, got %v", err)
	}
}

func TestGenerateState(t *testing.T) {
	a, err := GenerateState()
	if err != nil {
		t.Fatal(err)
	}
	b, _ := GenerateState()
	if a == b || len(a) < 40 {
		t.Errorf("unexpected states %q %q", a, b)
	}
}
