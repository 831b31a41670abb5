package backend

import (
	"fmt"
	"log/slog"
	"time"

	cfgadapter "github.com/jlk/checkmk-llm-server-sub000/internal/features/backend/adapter/config"
	"github.com/jlk/checkmk-llm-server-sub000/internal/features/backend/adapter/http"
	ks "github.com/jlk/checkmk-llm-server-sub000/internal/features/backend/adapter/kubernetes"
	"github.com/jlk/checkmk-llm-server-sub000/internal/features/backend/domain"
	"github.com/jlk/checkmk-llm-server-sub000/internal/features/backend/usecase"

	"k8s.io/client-go/kubernetes"
)

// Credential sources
const (
	SourceConfig     = "config"
	SourceKubernetes = "kubernetes"
)

// Config holds the configuration for the backend package
type Config struct {
	// CredentialSource selects where site credentials come from: "config" or "kubernetes"
	CredentialSource string
	// Namespace is the Kubernetes namespace of the credential secret
	Namespace string
	// SecretName names the credential secret
	SecretName string
	// Credentials holds inline credentials for the "config" source
	Credentials map[string]string
	// Timeout bounds every HTTP call against the site
	Timeout time.Duration
	// InsecureSkipVerify disables TLS verification for self-signed sites
	InsecureSkipVerify bool
	// LoginRetryInterval is the pause before the single login reachability retry
	LoginRetryInterval time.Duration
}

// Services contains all the services provided by the backend package
type Services struct {
	SessionProvider domain.SessionProvider
	HTTPClient      domain.HTTPClientInterface
}

// NewBackendServices creates and initializes all backend services.
// clientset is only required for the kubernetes credential source.
func NewBackendServices(clientset kubernetes.Interface, config Config, logger *slog.Logger) (*Services, error) {
	if config.SecretName == "" {
		return nil, fmt.Errorf("secret name cannot be empty")
	}

	// Create HTTP client
	httpClientConfig := http.DefaultClientConfig()
	if config.Timeout > 0 {
		httpClientConfig.Timeout = config.Timeout
	}
	httpClientConfig.InsecureSkipVerify = config.InsecureSkipVerify

	httpClient, err := http.NewClient(httpClientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}

	// Create secret provider
	var secretProvider domain.SecretProvider
	switch config.CredentialSource {
	case SourceKubernetes:
		if clientset == nil {
			return nil, fmt.Errorf("kubernetes client cannot be nil for credential source %q", SourceKubernetes)
		}
		secretProvider = ks.NewSecretProvider(clientset, config.Namespace)
	case SourceConfig, "":
		secretProvider = cfgadapter.NewSecretProvider(config.SecretName, config.Credentials)
	default:
		return nil, fmt.Errorf("unknown credential source %q", config.CredentialSource)
	}

	sessionService := usecase.NewSessionService(
		usecase.SessionServiceConfig{
			SecretName:         config.SecretName,
			LoginRetryInterval: config.LoginRetryInterval,
		},
		secretProvider,
		httpClient,
		logger,
	)

	return &Services{
		SessionProvider: sessionService,
		HTTPClient:      httpClient,
	}, nil
}
