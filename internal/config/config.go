package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Auth        AuthConfig
	OAuth       OAuthConfig
	RateLimit   RateLimitConfig
	Email       EmailConfig
	Storage     StorageConfig
	Webhooks    WebhookConfig
	Jobs        JobsConfig
	Logging     LoggingConfig
	Tracing     TracingConfig
	Environment string
}

type ServerConfig struct {
	Host           string
	Port           int
	BaseURL        string
	TrustedProxies []string
}

type DatabaseConfig struct {
	URL            string
	MaxConnections int
	MaxIdle        int
}

type AuthConfig struct {
	JWTSecret      string
	JWTExpiry      time.Duration
	AccessTokenTTL time.Duration
	APIKeyTTL      time.Duration
	CSRFKey        string
	SecureCookies  bool
}

// OAuthConfig configures GitHub social login. Login is disabled when
// GitHubClientID is empty.
type OAuthConfig struct {
	GitHubClientID     string
	GitHubClientSecret string
	GitHubRedirectURL  string
}

type RateLimitConfig struct {
	PublicPerMinute        int
	AuthenticatedPerMinute int
	LoginPerMinute         int
}

type EmailConfig struct {
	Enabled      bool
	From         string
	ResendAPIKey string
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
}

// Storage backends accepted by STORAGE_BACKEND. "minio" is an alias for an
// S3-compatible endpoint with path-style addressing.
const (
	StorageBackendLocal = "local"
	StorageBackendS3    = "s3"
	StorageBackendMinIO = "minio"
)

type StorageConfig struct {
	Backend      string
	LocalRoot    string
	LocalBaseURL string
	S3Bucket     string
	S3Region     string
	S3Endpoint   string
	S3AccessKey  string
	S3SecretKey  string
	S3PublicURL  string
	PresignTTL   time.Duration
}

// UsePathStyle reports whether S3 requests address the bucket in the path.
func (s StorageConfig) UsePathStyle() bool {
	return s.Backend == StorageBackendMinIO || s.S3Endpoint != ""
}

// Webhook delivery modes.
const (
	WebhookDeliveryAsync = "async"
	WebhookDeliveryQueue = "queue"
)

type WebhookConfig struct {
	Delivery      string
	Timeout       time.Duration
	SigningSecret string
	UserAgent     string
}

type JobsConfig struct {
	MaxWorkers           int
	APIKeyExpiryInterval time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

type TracingConfig struct {
	Enabled      bool
	Exporter     string
	ServiceName  string
	OTLPEndpoint string
	SampleRate   float64
}

// Load reads configuration from the process environment.
func Load() (Config, error) {
	return load(envSource(nil))
}

func load(src source) (Config, error) {
	cfg := Config{
		Server: ServerConfig{
			Host:           src.str("SERVER_HOST", "0.0.0.0"),
			Port:           src.int("SERVER_PORT", 8080),
			BaseURL:        strings.TrimRight(src.str("SERVER_BASE_URL", "http://localhost:8080"), "/"),
			TrustedProxies: src.list("TRUSTED_PROXIES"),
		},
		Database: DatabaseConfig{
			URL:            src.str("DATABASE_URL", ""),
			MaxConnections: src.int("DATABASE_MAX_CONNECTIONS", 25),
			MaxIdle:        src.int("DATABASE_MAX_IDLE_CONNECTIONS", 5),
		},
		Auth: AuthConfig{
			JWTSecret:      src.str("JWT_SECRET", ""),
			JWTExpiry:      time.Duration(src.int("JWT_EXPIRY_HOURS", 24*14)) * time.Hour,
			AccessTokenTTL: time.Duration(src.int("OAUTH_ACCESS_TOKEN_TTL_MINUTES", 60)) * time.Minute,
			APIKeyTTL:      time.Duration(src.int("API_KEY_TTL_HOURS", 0)) * time.Hour,
			CSRFKey:        src.str("CSRF_KEY", ""),
			SecureCookies:  src.bool("SECURE_COOKIES", false),
		},
		OAuth: OAuthConfig{
			GitHubClientID:     src.str("GITHUB_CLIENT_ID", ""),
			GitHubClientSecret: src.str("GITHUB_CLIENT_SECRET", ""),
			GitHubRedirectURL:  src.str("GITHUB_REDIRECT_URL", ""),
		},
		RateLimit: RateLimitConfig{
			PublicPerMinute:        src.int("RATE_LIMIT_PUBLIC", 120),
			AuthenticatedPerMinute: src.int("RATE_LIMIT_AUTHENTICATED", 600),
			LoginPerMinute:         src.int("RATE_LIMIT_LOGIN", 10),
		},
		Email: EmailConfig{
			Enabled:      src.bool("EMAIL_ENABLED", false),
			From:         src.str("DEFAULT_FROM_EMAIL", "noreply@eventhorizon.local"),
			ResendAPIKey: src.str("RESEND_API_KEY", ""),
			SMTPHost:     src.str("SMTP_HOST", ""),
			SMTPPort:     src.int("SMTP_PORT", 587),
			SMTPUser:     src.str("SMTP_USER", ""),
			SMTPPassword: src.str("SMTP_PASSWORD", ""),
		},
		Storage: StorageConfig{
			Backend:      strings.ToLower(src.str("STORAGE_BACKEND", StorageBackendLocal)),
			LocalRoot:    src.str("STORAGE_LOCAL_ROOT", "data"),
			LocalBaseURL: strings.TrimRight(src.str("STORAGE_LOCAL_BASE_URL", "/files"), "/"),
			S3Bucket:     src.str("AWS_STORAGE_BUCKET_NAME", ""),
			S3Region:     src.str("AWS_S3_REGION_NAME", "us-east-1"),
			S3Endpoint:   src.str("AWS_S3_ENDPOINT_URL", ""),
			S3AccessKey:  src.str("AWS_ACCESS_KEY_ID", ""),
			S3SecretKey:  src.str("AWS_SECRET_ACCESS_KEY", ""),
			S3PublicURL:  strings.TrimRight(src.str("AWS_S3_CUSTOM_DOMAIN", ""), "/"),
			PresignTTL:   time.Duration(src.int("AWS_QUERYSTRING_EXPIRE", 3600)) * time.Second,
		},
		Webhooks: WebhookConfig{
			Delivery:      strings.ToLower(src.str("WEBHOOK_DELIVERY", WebhookDeliveryAsync)),
			Timeout:       time.Duration(src.int("WEBHOOK_TIMEOUT_SECONDS", 5)) * time.Second,
			SigningSecret: src.str("WEBHOOK_SIGNING_SECRET", ""),
			UserAgent:     src.str("WEBHOOK_USER_AGENT", "EventHorizon-Webhook/1.0"),
		},
		Jobs: JobsConfig{
			MaxWorkers:           src.int("JOBS_MAX_WORKERS", 10),
			APIKeyExpiryInterval: time.Duration(src.int("JOBS_API_KEY_EXPIRY_MINUTES", 60)) * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  src.str("LOG_LEVEL", "info"),
			Format: src.str("LOG_FORMAT", "json"),
		},
		Tracing: TracingConfig{
			Enabled:      src.bool("TRACING_ENABLED", false),
			Exporter:     src.str("TRACING_EXPORTER", "stdout"),
			ServiceName:  src.str("TRACING_SERVICE_NAME", "eventhorizon"),
			OTLPEndpoint: src.str("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			SampleRate:   src.float("TRACING_SAMPLE_RATE", 1.0),
		},
		Environment: src.str("ENVIRONMENT", "development"),
	}

	if cfg.Database.URL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.Auth.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET is required")
	}
	if len(cfg.Auth.JWTSecret) < 32 {
		return Config{}, fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}
	if cfg.Auth.CSRFKey == "" {
		cfg.Auth.CSRFKey = cfg.Auth.JWTSecret
	}
	if len(cfg.Auth.CSRFKey) < 32 {
		return Config{}, fmt.Errorf("CSRF_KEY must be at least 32 characters")
	}
	if cfg.Environment == "production" && !cfg.Auth.SecureCookies {
		cfg.Auth.SecureCookies = true
	}

	switch cfg.Storage.Backend {
	case StorageBackendLocal:
	case StorageBackendS3, StorageBackendMinIO:
		if cfg.Storage.S3Bucket == "" {
			return Config{}, fmt.Errorf("AWS_STORAGE_BUCKET_NAME is required for STORAGE_BACKEND=%s", cfg.Storage.Backend)
		}
	default:
		return Config{}, fmt.Errorf("unsupported STORAGE_BACKEND %q (must be local, s3 or minio)", cfg.Storage.Backend)
	}

	switch cfg.Webhooks.Delivery {
	case WebhookDeliveryAsync, WebhookDeliveryQueue:
	default:
		return Config{}, fmt.Errorf("unsupported WEBHOOK_DELIVERY %q (must be async or queue)", cfg.Webhooks.Delivery)
	}

	if cfg.Email.Enabled && cfg.Email.ResendAPIKey == "" && cfg.Email.SMTPHost == "" {
		return Config{}, fmt.Errorf("EMAIL_ENABLED requires RESEND_API_KEY or SMTP_HOST")
	}

	return cfg, nil
}

// source resolves configuration keys. The process environment always wins
// over values read from a config file.
type source func(key string) (string, bool)

func envSource(file map[string]string) source {
	return func(key string) (string, bool) {
		if value, ok := os.LookupEnv(key); ok && value != "" {
			return value, true
		}
		value, ok := file[key]
		return value, ok && value != ""
	}
}

func (s source) str(key, fallback string) string {
	if value, ok := s(key); ok {
		return value
	}
	return fallback
}

func (s source) int(key string, fallback int) int {
	value, ok := s(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func (s source) float(key string, fallback float64) float64 {
	value, ok := s(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func (s source) bool(key string, fallback bool) bool {
	value, ok := s(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func (s source) list(key string) []string {
	value, ok := s(key)
	if !ok {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
