// Package handlers implements the JSON API.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/eventhorizon/server/internal/api/middleware"
	"github.com/eventhorizon/server/internal/api/problem"
	"github.com/eventhorizon/server/internal/validation"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func pathParam(r *http.Request, key string) string {
	if r == nil {
		return ""
	}
	return strings.TrimSpace(r.PathValue(key))
}

// decodeJSON reads a single JSON object into dst. Unknown fields are
// rejected so typos surface as errors.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return err
		}
		if errors.Is(err, io.EOF) {
			return validation.FieldErrors{{Field: "body", Message: "Request body is required."}}
		}
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return validation.FieldErrors{{Field: typeErr.Field, Message: fmt.Sprintf("Expected a %s.", typeErr.Type)}}
		}
		return validation.FieldErrors{{Field: "body", Message: "Malformed JSON: " + err.Error()}}
	}
	if dec.More() {
		return validation.FieldErrors{{Field: "body", Message: "Request body must contain a single JSON object."}}
	}
	return nil
}

func serverError(w http.ResponseWriter, r *http.Request, env string) {
	problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", errors.New("handler not configured"), env)
}

// viewerID is the id of the authenticated caller, or "" when anonymous.
func viewerID(r *http.Request) string {
	if p := middleware.PrincipalFrom(r.Context()); p != nil {
		return p.UserID
	}
	return ""
}

// principal returns the caller; routes that use it are wrapped in
// RequireUser.
func principal(w http.ResponseWriter, r *http.Request, env string) (*middleware.Principal, bool) {
	p := middleware.PrincipalFrom(r.Context())
	if p == nil {
		problem.WriteError(w, r, problem.ErrUnauthorized, env)
		return nil, false
	}
	return p, true
}

// page is the envelope of paginated lists.
type page[T any] struct {
	Count    int     `json:"count"`
	Next     *string `json:"next"`
	Previous *string `json:"previous"`
	Results  []T     `json:"results"`
}

// newPage builds next and previous links from the request URL by rewriting
// its page parameter.
func newPage[T any](r *http.Request, results []T, total, current, size int) page[T] {
	p := page[T]{Count: total, Results: results}
	link := func(n int) *string {
		u := *r.URL
		q := u.Query()
		q.Set("page", fmt.Sprint(n))
		u.RawQuery = q.Encode()
		s := u.RequestURI()
		return &s
	}
	if current*size < total {
		p.Next = link(current + 1)
	}
	if current > 1 {
		p.Previous = link(current - 1)
	}
	return p
}
