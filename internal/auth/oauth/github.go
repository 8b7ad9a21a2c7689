// Package oauth implements the GitHub social login flow.
package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultAuthURL  = "https://github.com/login/oauth/authorize"
	defaultTokenURL = "https://github.com/login/oauth/access_token"
	defaultAPIURL   = "https://api.github.com"
)

var ErrNoVerifiedEmail = errors.New("no verified email found")

// GitHubConfig holds the OAuth application credentials. The URL fields
// default to github.com and only need setting in tests.
type GitHubConfig struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
	AuthURL      string
	TokenURL     string
	APIURL       string
}

type GitHubClient struct {
	config     GitHubConfig
	httpClient *http.Client
}

// GitHubUser is the identity returned by GitHub. Email is the primary
// verified address when the public one is hidden.
type GitHubUser struct {
	ID    int64
	Login string
	Email string
	Name  string
}

func NewGitHubClient(config GitHubConfig) *GitHubClient {
	if config.AuthURL == "" {
		config.AuthURL = defaultAuthURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultTokenURL
	}
	if config.APIURL == "" {
		config.APIURL = defaultAPIURL
	}
	config.APIURL = strings.TrimRight(config.APIURL, "/")
	return &GitHubClient{
		config: config,
		httpClient: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Enabled reports whether a client id is configured.
func (c *GitHubClient) Enabled() bool {
	return c != nil && c.config.ClientID != ""
}

// GenerateAuthURL returns the authorization URL the browser is sent to.
// state must come from GenerateState and be checked on callback.
func (c *GitHubClient) GenerateAuthURL(state string) string {
	params := url.Values{
		"client_id":    {c.config.ClientID},
		"redirect_uri": {c.config.CallbackURL},
		"scope":        {"read:user user:email"},
		"state":        {state},
	}
	return c.config.AuthURL + "?" + params.Encode()
}

// ExchangeCode trades the callback code for an access token.
func (c *GitHubClient) ExchangeCode(ctx context.Context, code string) (string, error) {
	data := url.Values{
		"client_id":     {c.config.ClientID},
		"client_secret": {c.config.ClientSecret},
		"code":          {code},
		"redirect_uri":  {c.config.CallbackURL},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		Error       string `json:"error"`
		ErrorDesc   string `json:"error_description"`
	}
	if err := c.do(req, &tokenResp); err != nil {
		return "", fmt.Errorf("exchange code: %w", err)
	}
	if tokenResp.Error != "" {
		return "", fmt.Errorf("github oauth error: %s - %s", tokenResp.Error, tokenResp.ErrorDesc)
	}
	if tokenResp.AccessToken == "" {
		return "", errors.New("no access token in response")
	}
	return tokenResp.AccessToken, nil
}

// FetchUserProfile loads the user and, when the public email is hidden,
// the primary verified email.
func (c *GitHubClient) FetchUserProfile(ctx context.Context, accessToken string) (*GitHubUser, error) {
	var profile struct {
		ID    int64  `json:"id"`
		Login string `json:"login"`
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := c.get(ctx, accessToken, "/user", &profile); err != nil {
		return nil, fmt.Errorf("fetch user profile: %w", err)
	}
	user := &GitHubUser{ID: profile.ID, Login: profile.Login, Email: profile.Email, Name: profile.Name}

	if user.Email == "" {
		email, err := c.fetchPrimaryEmail(ctx, accessToken)
		if err != nil && !errors.Is(err, ErrNoVerifiedEmail) {
			return nil, err
		}
		user.Email = email
	}
	return user, nil
}

func (c *GitHubClient) fetchPrimaryEmail(ctx context.Context, accessToken string) (string, error) {
	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := c.get(ctx, accessToken, "/user/emails", &emails); err != nil {
		return "", fmt.Errorf("fetch user emails: %w", err)
	}
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email, nil
		}
	}
	for _, e := range emails {
		if e.Verified {
			return e.Email, nil
		}
	}
	return "", ErrNoVerifiedEmail
}

func (c *GitHubClient) get(ctx context.Context, accessToken, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.APIURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	return c.do(req, out)
}

func (c *GitHubClient) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// GenerateState returns a random state value for the OAuth round trip.
func GenerateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
