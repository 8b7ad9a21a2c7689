package audit

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Entry is one audit record.
type Entry struct {
	Timestamp    time.Time
	Action       string
	Actor        string
	ResourceType string
	ResourceID   string
	IPAddress    string
	Status       string // "success" or "failure"
	Details      map[string]string
}

// Logger writes audit entries as structured log lines tagged audit=true so
// they can be routed separately from application logs.
type Logger struct {
	log zerolog.Logger
	now func() time.Time
}

// NewLogger creates an audit logger writing to w.
func NewLogger(w io.Writer) *Logger {
	return FromZerolog(zerolog.New(w))
}

// FromZerolog derives an audit logger from the application logger.
func FromZerolog(logger zerolog.Logger) *Logger {
	return &Logger{
		log: logger.With().Bool("audit", true).Logger(),
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (l *Logger) Log(entry Entry) {
	if l == nil {
		return
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.now()
	}

	evt := l.log.Info()
	if entry.Status == "failure" {
		evt = l.log.Warn()
	}
	evt = evt.
		Time("timestamp", entry.Timestamp).
		Str("action", entry.Action).
		Str("actor", entry.Actor).
		Str("status", entry.Status)
	if entry.ResourceType != "" {
		evt = evt.Str("resource_type", entry.ResourceType)
	}
	if entry.ResourceID != "" {
		evt = evt.Str("resource_id", entry.ResourceID)
	}
	if entry.IPAddress != "" {
		evt = evt.Str("ip_address", entry.IPAddress)
	}
	if len(entry.Details) > 0 {
		d := zerolog.Dict()
		for k, v := range entry.Details {
			d = d.Str(k, v)
		}
		evt = evt.Dict("details", d)
	}
	evt.Msg("audit")
}

// LogSuccess records a completed operation. The client IP is taken from
// ctx when the request middleware stored one.
func (l *Logger) LogSuccess(ctx context.Context, action, actor, resourceType, resourceID string, details map[string]string) {
	l.Log(Entry{
		Action:       action,
		Actor:        actor,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		IPAddress:    ClientIP(ctx),
		Status:       "success",
		Details:      details,
	})
}

// LogFailure records a rejected operation, typically a failed login.
func (l *Logger) LogFailure(ctx context.Context, action, actor string, details map[string]string) {
	l.Log(Entry{
		Action:    action,
		Actor:     actor,
		IPAddress: ClientIP(ctx),
		Status:    "failure",
		Details:   details,
	})
}

type contextKey string

const clientIPKey contextKey = "auditClientIP"

// WithClientIP stores the request's client address for later entries.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

func ClientIP(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	ip, _ := ctx.Value(clientIPKey).(string)
	return ip
}

// RequestIP extracts the client address from proxy headers or RemoteAddr.
// Only the first X-Forwarded-For hop is used.
func RequestIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware stores the client IP in the request context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(WithClientIP(r.Context(), RequestIP(r))))
	})
}
