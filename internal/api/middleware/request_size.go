package middleware

import (
	"net/http"
)

const (
	// DefaultMaxBodySize is 1MB for JSON and form endpoints
	DefaultMaxBodySize int64 = 1 << 20

	// UploadMaxBodySize covers avatar uploads, which are compressed after
	// they are read.
	UploadMaxBodySize int64 = 32 << 20
)

// RequestSize limits the size of incoming request bodies. Reading past
// maxBytes fails with *http.MaxBytesError, which handlers report as 413.
func RequestSize(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
