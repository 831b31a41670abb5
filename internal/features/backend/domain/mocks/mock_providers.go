package mocks

import (
	"context"
	"net/http"

	"github.com/stretchr/testify/mock"

	"github.com/jlk/checkmk-llm-server-sub000/internal/features/backend/domain"
)

// MockHTTPClient is a mock implementation of domain.HTTPClientInterface
type MockHTTPClient struct {
	mock.Mock
}

// Request mocks the Request method
func (m *MockHTTPClient) Request(
	ctx context.Context,
	method, url string,
	body []byte,
	headers map[string]string,
	jar http.CookieJar,
) (*http.Response, error) {
	args := m.Called(ctx, method, url, body, headers, jar)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*http.Response), args.Error(1)
}

// ReadResponseBody mocks the ReadResponseBody method
func (m *MockHTTPClient) ReadResponseBody(resp *http.Response) ([]byte, error) {
	args := m.Called(resp)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

// MockSecretProvider is a mock implementation of domain.SecretProvider
type MockSecretProvider struct {
	mock.Mock
}

// GetSecretData mocks the GetSecretData method
func (m *MockSecretProvider) GetSecretData(secretName string, keys []string) (map[string]string, error) {
	args := m.Called(secretName, keys)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]string), args.Error(1)
}

// MockSessionProvider is a mock implementation of domain.SessionProvider
type MockSessionProvider struct {
	mock.Mock
}

// Authenticate mocks the Authenticate method
func (m *MockSessionProvider) Authenticate(ctx context.Context) (*domain.Session, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Session), args.Error(1)
}

// Validate mocks the Validate method
func (m *MockSessionProvider) Validate(ctx context.Context, session *domain.Session) bool {
	args := m.Called(ctx, session)
	return args.Bool(0)
}

// Refresh mocks the Refresh method
func (m *MockSessionProvider) Refresh(ctx context.Context) (*domain.Session, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Session), args.Error(1)
}

// RefreshIfStale mocks the RefreshIfStale method
func (m *MockSessionProvider) RefreshIfStale(ctx context.Context, generation uint64) (*domain.Session, bool, error) {
	args := m.Called(ctx, generation)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*domain.Session), args.Bool(1), args.Error(2)
}
