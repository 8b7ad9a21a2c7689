package middleware

import (
	"html/template"
	"net/http"
	"strings"

	"github.com/eventhorizon/server/internal/api/problem"
	"github.com/gorilla/csrf"
)

// CSRFProtection guards cookie-authenticated form posts with the
// double-submit token of gorilla/csrf. failure renders the rejection; nil writes a
// problem document.
func CSRFProtection(authKey []byte, secure bool, failure http.Handler) func(http.Handler) http.Handler {
	if failure == nil {
		failure = http.HandlerFunc(csrfErrorHandler)
	}
	opts := []csrf.Option{
		csrf.Secure(secure),
		csrf.Path("/"),
		csrf.HttpOnly(true),
		csrf.SameSite(csrf.SameSiteLaxMode),
		csrf.FieldName(CSRFFieldName),
		csrf.ErrorHandler(failure),
	}

	protect := csrf.Protect(authKey, opts...)
	return func(next http.Handler) http.Handler {
		protected := protect(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// gorilla/csrf enforces the Referer check only for TLS requests;
			// plaintext development servers are marked accordingly.
			if !secure {
				r = csrf.PlaintextHTTPRequest(r)
			}
			protected.ServeHTTP(w, r)
		})
	}
}

// CookieCSRF runs protect for state-changing requests under prefix whose
// caller was authenticated by the session cookie. Those must carry the
// X-CSRF-Token header issued with the site's pages. Requests authenticated
// by headers or made anonymously pass straight through.
func CookieCSRF(prefix string, protect func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		protected := protect(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := PrincipalFrom(r.Context())
			if p != nil && p.Method == MethodCookie && !safeMethod(r.Method) && strings.HasPrefix(r.URL.Path, prefix) {
				protected.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func safeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	return false
}

// CSRFFieldName is the hidden form field carrying the token.
const CSRFFieldName = "csrfmiddlewaretoken"

func csrfErrorHandler(w http.ResponseWriter, r *http.Request) {
	problem.Write(w, r, http.StatusForbidden, problem.TypeCSRF, "CSRF verification failed", csrf.FailureReason(r), "production",
		problem.WithDetail("CSRF verification failed. Request aborted."))
}

// CSRFToken returns the token to embed in forms.
func CSRFToken(r *http.Request) string {
	return csrf.Token(r)
}

// CSRFTemplateField returns the hidden input carrying the token.
func CSRFTemplateField(r *http.Request) template.HTML {
	return csrf.TemplateField(r)
}
