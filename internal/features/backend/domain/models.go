package domain

import (
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Secret keys understood by the session service
const (
	KeyServerRoot = "serverRoot"
	KeySite       = "site"
	KeyUsername   = "username"
	KeyPassword   = "password"
	KeySecret     = "secret"
)

// CredentialKeys lists every key the session service reads from a secret
var CredentialKeys = []string{KeyServerRoot, KeySite, KeyUsername, KeyPassword, KeySecret}

// Credentials contains the login data for one Checkmk site
type Credentials struct {
	ServerRoot string
	Site       string
	Username   string
	Password   string
	Secret     string
}

// CredentialsFromSecret builds Credentials from secret data
func CredentialsFromSecret(data map[string]string) Credentials {
	return Credentials{
		ServerRoot: strings.TrimRight(strings.TrimSpace(data[KeyServerRoot]), "/"),
		Site:       strings.Trim(strings.TrimSpace(data[KeySite]), "/"),
		Username:   strings.TrimSpace(data[KeyUsername]),
		Password:   data[KeyPassword],
		Secret:     strings.TrimSpace(data[KeySecret]),
	}
}

// Session is an authenticated Checkmk session usable against both the
// REST API and the HTML GUI of one site.
type Session struct {
	// BaseURL is <server root>/<site>/check_mk
	BaseURL string
	// Site is the Checkmk site name
	Site string
	// Jar holds the GUI authentication cookie
	Jar http.CookieJar
	// AuthHeader is the bearer header for automation users, empty for password logins
	AuthHeader string
	// Generation increases every time the session is re-established
	Generation uint64
	// EstablishedAt is when the login completed
	EstablishedAt time.Time
}

// URL joins a GUI or REST path onto the session base URL
func (s *Session) URL(path string, query url.Values) string {
	u := strings.TrimRight(s.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// Headers returns the headers every authenticated request carries
func (s *Session) Headers() map[string]string {
	headers := make(map[string]string)
	if s.AuthHeader != "" {
		headers["Authorization"] = s.AuthHeader
	}
	return headers
}
