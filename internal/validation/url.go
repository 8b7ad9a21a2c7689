package validation

import (
	"fmt"
	"net/url"
	"strings"
)

// URLValidationError represents a URL validation failure
type URLValidationError struct {
	Field   string
	Message string
	URL     string
}

func (e URLValidationError) Error() string {
	return fmt.Sprintf("%s: %s (url: %s)", e.Field, e.Message, e.URL)
}

// ValidateURL validates that a URL is an absolute http(s) URL with a host.
// Empty strings pass; callers check required fields separately.
func ValidateURL(urlString, fieldName string, requireHTTPS bool) error {
	if urlString == "" {
		return nil
	}

	parsedURL, err := url.Parse(urlString)
	if err != nil {
		return URLValidationError{
			Field:   fieldName,
			Message: "invalid URL format",
			URL:     urlString,
		}
	}

	if parsedURL.Scheme == "" {
		return URLValidationError{
			Field:   fieldName,
			Message: "URL must include a scheme (http:// or https://)",
			URL:     urlString,
		}
	}

	if parsedURL.Host == "" {
		return URLValidationError{
			Field:   fieldName,
			Message: "URL must include a host",
			URL:     urlString,
		}
	}

	scheme := strings.ToLower(parsedURL.Scheme)
	if requireHTTPS && scheme != "https" {
		return URLValidationError{
			Field:   fieldName,
			Message: "URL must use HTTPS",
			URL:     urlString,
		}
	}
	if scheme != "http" && scheme != "https" {
		return URLValidationError{
			Field:   fieldName,
			Message: "URL scheme must be http or https",
			URL:     urlString,
		}
	}

	return nil
}

// ValidateRedirectURIs validates a whitespace-separated list of OAuth
// redirect URIs and returns them split. Custom schemes are allowed for
// native clients; fragments are not.
func ValidateRedirectURIs(value, fieldName string) ([]string, error) {
	uris := strings.Fields(value)
	for _, raw := range uris {
		parsed, err := url.Parse(raw)
		if err != nil || parsed.Scheme == "" {
			return nil, URLValidationError{Field: fieldName, Message: "redirect URI must be absolute", URL: raw}
		}
		if parsed.Fragment != "" {
			return nil, URLValidationError{Field: fieldName, Message: "redirect URI must not contain a fragment", URL: raw}
		}
		if (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host == "" {
			return nil, URLValidationError{Field: fieldName, Message: "URL must include a host", URL: raw}
		}
	}
	return uris, nil
}
