package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/eventhorizon/server/internal/api/problem"
	"github.com/eventhorizon/server/internal/auth"
	"github.com/eventhorizon/server/internal/domain/developers"
	"github.com/eventhorizon/server/internal/domain/users"
)

// SessionCookieName holds the session JWT of a logged-in browser.
const SessionCookieName = "eh_session"

// Authentication methods recorded on a Principal.
const (
	MethodSession     = "session"
	MethodCookie      = "session_cookie"
	MethodAccessToken = "access_token"
	MethodAPIKey      = "api_key"
)

// Principal is the authenticated caller of a request.
type Principal struct {
	User     *users.User
	UserID   string
	Role     auth.Role
	Method   string
	ClientID string
}

// IsStaff reports whether the caller has the staff role.
func (p *Principal) IsStaff() bool {
	return p != nil && p.Role == auth.RoleStaff
}

type UserLookup interface {
	Get(ctx context.Context, id string) (*users.User, error)
}

type KeyAuthenticator interface {
	AuthenticateAPIKey(ctx context.Context, raw string) (*developers.APIKey, error)
}

// Authenticator resolves credentials to a Principal. Sessions and Access
// sign different token kinds; either may be nil to disable that method.
type Authenticator struct {
	Sessions *auth.JWTManager
	Access   *auth.JWTManager
	Keys     KeyAuthenticator
	Users    UserLookup
}

// Resolve returns nil, nil when the request carries no credentials.
// Presented but invalid credentials are an error, except a stale session
// cookie which is treated as anonymous.
func (a *Authenticator) Resolve(r *http.Request) (*Principal, error) {
	ctx := r.Context()

	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		if token, err := auth.TokenFromHeader(header); err == nil {
			return a.fromBearer(ctx, token)
		}
		if raw, err := auth.APIKeyFromHeader(header); err == nil {
			return a.fromAPIKey(ctx, raw)
		}
		return nil, auth.ErrInvalidToken
	}

	if raw := strings.TrimSpace(r.Header.Get("X-API-Key")); raw != "" {
		return a.fromAPIKey(ctx, raw)
	}

	if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" && a.Sessions != nil {
		claims, err := a.Sessions.Validate(cookie.Value)
		if err != nil {
			return nil, nil
		}
		p, err := a.principal(ctx, claims.Subject, MethodCookie, "")
		if errors.Is(err, problem.ErrUnauthorized) {
			return nil, nil
		}
		return p, err
	}
	return nil, nil
}

// A bearer token may be an OAuth2 access token or a session token.
func (a *Authenticator) fromBearer(ctx context.Context, token string) (*Principal, error) {
	if a.Access != nil {
		if claims, err := a.Access.Validate(token); err == nil {
			return a.principal(ctx, claims.Subject, MethodAccessToken, claims.ClientID)
		}
	}
	if a.Sessions != nil {
		if claims, err := a.Sessions.Validate(token); err == nil {
			return a.principal(ctx, claims.Subject, MethodSession, "")
		}
	}
	return nil, auth.ErrInvalidToken
}

func (a *Authenticator) fromAPIKey(ctx context.Context, raw string) (*Principal, error) {
	if a.Keys == nil {
		return nil, auth.ErrInvalidAPIKey
	}
	key, err := a.Keys.AuthenticateAPIKey(ctx, raw)
	if err != nil {
		return nil, auth.ErrInvalidAPIKey
	}
	return a.principal(ctx, key.UserID, MethodAPIKey, "")
}

// principal loads the user so that deactivation and staff changes apply to
// tokens issued earlier.
func (a *Authenticator) principal(ctx context.Context, userID, method, clientID string) (*Principal, error) {
	if a.Users == nil {
		return nil, problem.ErrUnauthorized
	}
	user, err := a.Users.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return nil, problem.ErrUnauthorized
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, problem.ErrUnauthorized
	}
	return &Principal{
		User:     user,
		UserID:   user.ID,
		Role:     auth.RoleFor(user.IsStaff),
		Method:   method,
		ClientID: clientID,
	}, nil
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the authenticated caller, or nil for anonymous
// requests.
func PrincipalFrom(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p
}

// Authenticate attaches the Principal to the request context when
// credentials are present. Anonymous requests pass through; invalid
// credentials are rejected with 401.
func Authenticate(a *Authenticator, env string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if a == nil {
				next.ServeHTTP(w, r)
				return
			}
			p, err := a.Resolve(r)
			if err != nil {
				problem.WriteError(w, r, err, env)
				return
			}
			if p == nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := WithPrincipal(r.Context(), p)
			logger := LoggerFromContext(ctx).With().Str("user_id", p.UserID).Logger()
			next.ServeHTTP(w, r.WithContext(logger.WithContext(ctx)))
		})
	}
}

// RequireUser rejects anonymous requests with 401.
func RequireUser(env string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if PrincipalFrom(r.Context()) == nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="eventhorizon"`)
				problem.WriteError(w, r, problem.ErrUnauthorized, env)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireStaff rejects anonymous requests with 401 and non-staff with 403.
func RequireStaff(env string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return RequireUser(env)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !PrincipalFrom(r.Context()).IsStaff() {
				problem.WriteError(w, r, problem.ErrForbidden, env)
				return
			}
			next.ServeHTTP(w, r)
		}))
	}
}
