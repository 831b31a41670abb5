package common

import (
	"errors"
	"fmt"
	"strings"
)

// Common error types
var (
	// ErrInvalidInput indicates invalid input parameters
	ErrInvalidInput = errors.New("invalid input parameter")

	// ErrUnavailable indicates a service is unavailable
	ErrUnavailable = errors.New("service unavailable")
)

// IsInvalidInput checks if err is or wraps ErrInvalidInput
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsUnavailable checks if err is or wraps ErrUnavailable
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// InvalidInputError returns a wrapped invalid input error with context
func InvalidInputError(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrInvalidInput)
}

// UnavailableError returns a wrapped unavailable error with context
func UnavailableError(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrUnavailable)
}

// excerptLimit bounds the response text carried by errors
const excerptLimit = 200

// Excerpt shortens a response body for inclusion in an error message
func Excerpt(body string) string {
	body = strings.Join(strings.Fields(body), " ")
	if len(body) <= excerptLimit {
		return body
	}
	return body[:excerptLimit] + "..."
}

// ErrAuthentication represents a rejected login or an unreachable dashboard root
type ErrAuthentication struct {
	Site   string
	Reason string
	Err    error
}

func (e ErrAuthentication) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed for site %s: %s: %v", e.Site, e.Reason, e.Err)
	}
	return fmt.Sprintf("authentication failed for site %s: %s", e.Site, e.Reason)
}

func (e ErrAuthentication) Unwrap() error {
	return e.Err
}

// NewAuthenticationError creates a new authentication error
func NewAuthenticationError(site, reason string, err error) error {
	return ErrAuthentication{Site: site, Reason: reason, Err: err}
}

// ErrFetch represents a dashboard page that could not be retrieved or looked wrong
type ErrFetch struct {
	URL     string
	Status  int
	Reason  string
	Excerpt string
}

func (e ErrFetch) Error() string {
	return fmt.Sprintf("fetch %s failed (status %d): %s: %q", e.URL, e.Status, e.Reason, e.Excerpt)
}

// NewFetchError creates a new fetch error
func NewFetchError(url string, status int, reason, body string) error {
	return ErrFetch{
		URL:     url,
		Status:  status,
		Reason:  reason,
		Excerpt: Excerpt(body),
	}
}

// ErrRender represents a failed graph render call. It is never fatal to an extraction.
type ErrRender struct {
	Code     int
	Message  string
	Severity string
	Status   int
	Err      error
}

func (e ErrRender) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("graph render failed (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("graph render failed (status %d, code %d, severity %s): %s",
		e.Status, e.Code, e.Severity, e.Message)
}

func (e ErrRender) Unwrap() error {
	return e.Err
}

// NewRenderError creates a render error from a server error envelope
func NewRenderError(status, code int, message, severity string) error {
	return ErrRender{
		Code:     code,
		Message:  Excerpt(message),
		Severity: severity,
		Status:   status,
	}
}

// WrapRenderError creates a render error from a transport failure
func WrapRenderError(status int, err error) error {
	return ErrRender{Status: status, Err: err}
}

// ErrParse represents markup that no parser backend could read
type ErrParse struct {
	Backends []string
	Err      error
}

func (e ErrParse) Error() string {
	return fmt.Sprintf("no markup backend could parse the document (tried %s): %v",
		strings.Join(e.Backends, ", "), e.Err)
}

func (e ErrParse) Unwrap() error {
	return e.Err
}

// NewParseError creates a new parse error
func NewParseError(backends []string, err error) error {
	return ErrParse{Backends: backends, Err: err}
}

// IsAuthenticationError Error type checking helpers
func IsAuthenticationError(err error) bool {
	var errAuth ErrAuthentication
	return errors.As(err, &errAuth)
}

func IsFetchError(err error) bool {
	var errFetch ErrFetch
	return errors.As(err, &errFetch)
}

func IsRenderError(err error) bool {
	var errRender ErrRender
	return errors.As(err, &errRender)
}

func IsParseError(err error) bool {
	var errParse ErrParse
	return errors.As(err, &errParse)
}
