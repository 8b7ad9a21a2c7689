package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testJWTSecret = "test-secret-at-least-32-characters-long"

func TestServeCommandHelp(t *testing.T) {
	cmd := newServeCommand()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--help"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("serve command --help failed: %v", err)
	}

	output := buf.String()
	for _, expected := range []string{
		"Start the Event Horizon HTTP server",
		"--host",
		"--port",
		"server host address",
		"server port",
	} {
		if !strings.Contains(output, expected) {
			t.Errorf("expected help text to contain %q, got:\n%s", expected, output)
		}
	}
}

func TestServeCommandFlags(t *testing.T) {
	for _, flag := range []string{"host", "port"} {
		if f := serveCmd.Flags().Lookup(flag); f == nil {
			t.Errorf("expected flag %q to be defined on serve command", flag)
		}
	}
}

func TestServeCommandFlagParsing(t *testing.T) {
	tests := []struct {
		name        string
		args        []string
		expectError bool
	}{
		{name: "valid host flag", args: []string{"--host", "127.0.0.1"}},
		{name: "valid port flag", args: []string{"--port", "9090"}},
		{name: "valid host and port", args: []string{"--host", "0.0.0.0", "--port", "8080"}},
		{name: "invalid port value", args: []string{"--port", "invalid"}, expectError: true},
		{name: "unknown flag", args: []string{"--unknown"}, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newServeCommand()
			buf := new(bytes.Buffer)
			cmd.SetOut(buf)
			cmd.SetErr(buf)
			cmd.SetArgs(tt.args)

			err := cmd.Execute()
			if tt.expectError && err == nil {
				t.Errorf("expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestServeCommandGlobalFlags(t *testing.T) {
	output := runRoot(t, "serve", "--help")

	for _, flag := range []string{"--config", "--log-level", "--log-format"} {
		if !strings.Contains(output, flag) {
			t.Errorf("expected help text to contain global flag %q, got:\n%s", flag, output)
		}
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://test")
	t.Setenv("JWT_SECRET", testJWTSecret)

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig should succeed with minimal env vars: %v", err)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("expected default host 0.0.0.0, got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
}

func TestLoadConfigFlagOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://test")
	t.Setenv("JWT_SECRET", testJWTSecret)

	logLevel = "debug"
	logFormat = "console"
	defer func() {
		logLevel = ""
		logFormat = ""
	}()

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level 'debug', got %s", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "console" {
		t.Errorf("expected log format 'console', got %s", cfg.Logging.Format)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("SERVER_PORT", "")

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "DATABASE_URL: postgres://file/eventhorizon\n" +
		"JWT_SECRET: " + testJWTSecret + "\n" +
		"SERVER_PORT: 9999\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	configPath = path
	defer func() { configPath = "" }()

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if cfg.Database.URL != "postgres://file/eventhorizon" {
		t.Errorf("expected database url from file, got %s", cfg.Database.URL)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("expected port 9999 from file, got %d", cfg.Server.Port)
	}
}

func TestLoadConfigMissingRequiredVars(t *testing.T) {
	tests := []struct {
		name        string
		databaseURL string
		jwtSecret   string
		expected    string
	}{
		{name: "missing database url", jwtSecret: testJWTSecret, expected: "DATABASE_URL is required"},
		{name: "missing jwt secret", databaseURL: "postgres://test", expected: "JWT_SECRET is required"},
		{name: "short jwt secret", databaseURL: "postgres://test", jwtSecret: "short", expected: "at least 32 characters"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DATABASE_URL", tt.databaseURL)
			t.Setenv("JWT_SECRET", tt.jwtSecret)

			_, err := loadConfig()
			if err == nil {
				t.Fatal("expected error but got none")
			}
			if !strings.Contains(err.Error(), tt.expected) {
				t.Errorf("expected error containing %q, got %v", tt.expected, err)
			}
		})
	}
}

func TestGitHubCallbackURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://test")
	t.Setenv("JWT_SECRET", testJWTSecret)
	t.Setenv("SERVER_BASE_URL", "https://events.example.com/")
	t.Setenv("GITHUB_REDIRECT_URL", "")

	cfg, err := loadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if got := githubCallbackURL(cfg); got != "https://events.example.com/accounts/github/callback/" {
		t.Errorf("unexpected callback url %s", got)
	}

	cfg.OAuth.GitHubRedirectURL = "https://proxy.example.com/cb"
	if got := githubCallbackURL(cfg); got != "https://proxy.example.com/cb" {
		t.Errorf("expected explicit redirect url, got %s", got)
	}
}
