package domain

import (
	"context"
	"net/http"
)

// SessionProvider owns the authenticated session shared by all extractions
type SessionProvider interface {
	// Authenticate returns the current session, logging in first if none exists
	Authenticate(ctx context.Context) (*Session, error)

	// Validate performs a cheap liveness probe without side effects
	Validate(ctx context.Context, session *Session) bool

	// Refresh discards the current session and logs in again
	Refresh(ctx context.Context) (*Session, error)

	// RefreshIfStale logs in again only if the current session is still the
	// one with the given generation. refreshed is false when another caller
	// already replaced it.
	RefreshIfStale(ctx context.Context, generation uint64) (session *Session, refreshed bool, err error)
}

// SecretProvider defines the interface for retrieving secrets
type SecretProvider interface {
	// GetSecretData retrieves specific keys from a secret
	GetSecretData(secretName string, keys []string) (map[string]string, error)
}

// HTTPClientInterface defines the contract for HTTP clients
type HTTPClientInterface interface {
	// Request makes an HTTP request with the specified method, URL, body, and headers.
	// Cookies are read from and stored into jar when it is not nil.
	Request(
		ctx context.Context,
		method, url string,
		body []byte,
		headers map[string]string,
		jar http.CookieJar,
	) (*http.Response, error)

	// ReadResponseBody reads and closes the response body
	ReadResponseBody(resp *http.Response) ([]byte, error)
}
