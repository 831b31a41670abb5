package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/net/publicsuffix"

	"github.com/jlk/checkmk-llm-server-sub000/internal/common"
	"github.com/jlk/checkmk-llm-server-sub000/internal/features/backend/domain"
)

// SessionServiceConfig holds the configuration for the session service
type SessionServiceConfig struct {
	// SecretName names the secret holding the site credentials
	SecretName string
	// LoginRetryInterval is the pause before the single reachability retry
	LoginRetryInterval time.Duration
}

// SessionService implements domain.SessionProvider.
// Reads of the current session share an RWMutex; logins are serialized by refreshMu.
type SessionService struct {
	config         SessionServiceConfig
	secretProvider domain.SecretProvider
	httpClient     domain.HTTPClientInterface
	logger         *slog.Logger

	session    *domain.Session
	generation uint64
	mutex      sync.RWMutex
	refreshMu  sync.Mutex
	now        func() time.Time
}

// NewSessionService creates a new session service
func NewSessionService(
	config SessionServiceConfig,
	secretProvider domain.SecretProvider,
	httpClient domain.HTTPClientInterface,
	logger *slog.Logger,
) *SessionService {
	if secretProvider == nil {
		panic("secret provider cannot be nil")
	}
	if httpClient == nil {
		panic("HTTP client cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if config.LoginRetryInterval <= 0 {
		config.LoginRetryInterval = time.Second
	}

	return &SessionService{
		config:         config,
		secretProvider: secretProvider,
		httpClient:     httpClient,
		logger:         logger,
		now:            time.Now,
	}
}

// Authenticate returns the current session, logging in if there is none
func (s *SessionService) Authenticate(ctx context.Context) (*domain.Session, error) {
	s.mutex.RLock()
	session := s.session
	s.mutex.RUnlock()

	if session != nil {
		return session, nil
	}

	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	// Another caller may have logged in while we waited
	s.mutex.RLock()
	session = s.session
	s.mutex.RUnlock()
	if session != nil {
		return session, nil
	}

	return s.establish(ctx)
}

// Refresh discards the current session and logs in again
func (s *SessionService) Refresh(ctx context.Context) (*domain.Session, error) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	s.discard()
	return s.establish(ctx)
}

// RefreshIfStale logs in again unless someone already replaced the session
// with the given generation.
func (s *SessionService) RefreshIfStale(ctx context.Context, generation uint64) (*domain.Session, bool, error) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	s.mutex.RLock()
	current := s.session
	s.mutex.RUnlock()

	if current != nil && current.Generation != generation {
		s.logger.Debug("session already refreshed by another caller",
			"observed_generation", generation, "current_generation", current.Generation)
		return current, false, nil
	}

	s.discard()
	session, err := s.establish(ctx)
	if err != nil {
		return nil, false, err
	}
	return session, true, nil
}

// Validate probes the REST API version endpoint with the session
func (s *SessionService) Validate(ctx context.Context, session *domain.Session) bool {
	if session == nil {
		return false
	}

	resp, err := s.httpClient.Request(ctx, http.MethodGet, session.URL("api/1.0/version", nil),
		nil, session.Headers(), session.Jar)
	if err != nil {
		s.logger.Debug("session probe failed", "error", err)
		return false
	}
	_, _ = s.httpClient.ReadResponseBody(resp)

	if resp.Request != nil && strings.HasSuffix(resp.Request.URL.Path, "login.py") {
		return false
	}
	return resp.StatusCode == http.StatusOK
}

func (s *SessionService) discard() {
	s.mutex.Lock()
	s.session = nil
	s.mutex.Unlock()
}

// establish performs a full login. Callers hold refreshMu.
func (s *SessionService) establish(ctx context.Context) (*domain.Session, error) {
	secretData, err := s.secretProvider.GetSecretData(s.config.SecretName, domain.CredentialKeys)
	if err != nil {
		return nil, common.NewAuthenticationError("", "failed to read credentials", err)
	}

	creds := domain.CredentialsFromSecret(secretData)
	if err := validateCredentials(creds); err != nil {
		return nil, common.NewAuthenticationError(creds.Site, "incomplete credentials", err)
	}

	baseURL, err := url.JoinPath(creds.ServerRoot, creds.Site, "check_mk")
	if err != nil {
		return nil, common.NewAuthenticationError(creds.Site, "invalid server root", err)
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, common.NewAuthenticationError(creds.Site, "failed to create cookie jar", err)
	}

	session := &domain.Session{
		BaseURL: baseURL,
		Site:    creds.Site,
		Jar:     jar,
	}
	if creds.Secret != "" {
		session.AuthHeader = fmt.Sprintf("Bearer %s %s", creds.Username, creds.Secret)
	}

	if err := s.checkReachable(ctx, session); err != nil {
		return nil, common.NewAuthenticationError(creds.Site, "dashboard root unreachable", err)
	}

	if creds.Password != "" {
		if err := s.login(ctx, session, creds); err != nil {
			return nil, err
		}
	} else if !s.Validate(ctx, session) {
		return nil, common.NewAuthenticationError(creds.Site, "automation secret rejected", nil)
	}

	s.mutex.Lock()
	s.generation++
	session.Generation = s.generation
	session.EstablishedAt = s.now()
	s.session = session
	s.mutex.Unlock()

	s.logger.Info("checkmk session established",
		"site", creds.Site, "user", creds.Username, "generation", session.Generation)

	return session, nil
}

// checkReachable requests the login page, retrying once on transport errors and 5xx
func (s *SessionService) checkReachable(ctx context.Context, session *domain.Session) error {
	operation := func() error {
		resp, err := s.httpClient.Request(ctx, http.MethodGet, session.URL("login.py", nil), nil, nil, session.Jar)
		if err != nil {
			if common.IsContextCanceled(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		_, _ = s.httpClient.ReadResponseBody(resp)

		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("dashboard root returned status %d", resp.StatusCode)
		}
		if resp.StatusCode == http.StatusNotFound {
			return backoff.Permanent(fmt.Errorf("site %s not found at %s", session.Site, session.BaseURL))
		}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.config.LoginRetryInterval), 1),
		ctx,
	)

	return backoff.RetryNotify(operation, policy, func(err error, wait time.Duration) {
		s.logger.Warn("dashboard root not reachable, retrying", "error", err, "wait", wait)
	})
}

// login posts the GUI login form and checks for the site auth cookie
func (s *SessionService) login(ctx context.Context, session *domain.Session, creds domain.Credentials) error {
	form := url.Values{
		"_login":      {"1"},
		"_username":   {creds.Username},
		"_password":   {creds.Password},
		"_origtarget": {"index.py"},
		"filled_in":   {"login"},
	}

	resp, err := s.httpClient.Request(
		ctx,
		http.MethodPost,
		session.URL("login.py", nil),
		[]byte(form.Encode()),
		map[string]string{"Content-Type": "application/x-www-form-urlencoded"},
		session.Jar,
	)
	if err != nil {
		return common.NewAuthenticationError(creds.Site, "login request failed", err)
	}

	body, err := s.httpClient.ReadResponseBody(resp)
	if err != nil {
		return common.NewAuthenticationError(creds.Site, "failed to read login response", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return common.NewAuthenticationError(creds.Site,
			fmt.Sprintf("credentials rejected with status %d", resp.StatusCode), nil)
	}

	if !hasAuthCookie(session) {
		return common.NewAuthenticationError(creds.Site,
			fmt.Sprintf("credentials rejected: %s", common.Excerpt(string(body))), nil)
	}

	return nil
}

func hasAuthCookie(session *domain.Session) bool {
	u, err := url.Parse(session.BaseURL)
	if err != nil {
		return false
	}
	for _, cookie := range session.Jar.Cookies(u) {
		if strings.HasPrefix(cookie.Name, "auth_") && cookie.Value != "" {
			return true
		}
	}
	return false
}

func validateCredentials(creds domain.Credentials) error {
	switch {
	case creds.ServerRoot == "":
		return fmt.Errorf("required key '%s' missing", domain.KeyServerRoot)
	case creds.Site == "":
		return fmt.Errorf("required key '%s' missing", domain.KeySite)
	case creds.Username == "":
		return fmt.Errorf("required key '%s' missing", domain.KeyUsername)
	case creds.Password == "" && creds.Secret == "":
		return fmt.Errorf("either '%s' or '%s' is required", domain.KeyPassword, domain.KeySecret)
	}
	return nil
}
