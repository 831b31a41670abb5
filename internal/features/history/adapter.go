package history

import (
	"fmt"
	"log/slog"

	"k8s.io/client-go/kubernetes"

	"github.com/jlk/checkmk-llm-server-sub000/cmd/app"
	"github.com/jlk/checkmk-llm-server-sub000/internal/features/backend"
	bdomain "github.com/jlk/checkmk-llm-server-sub000/internal/features/backend/domain"
	"github.com/jlk/checkmk-llm-server-sub000/internal/features/history/domain"
	"github.com/jlk/checkmk-llm-server-sub000/internal/features/history/service"
)

// Services contains the history provider and the site session it shares
type Services struct {
	Provider        domain.Provider
	SessionProvider bdomain.SessionProvider
}

// NewProvider creates the history provider.
// clientset may be nil unless credentials come from Kubernetes.
func NewProvider(
	cfg *app.Config,
	clientset kubernetes.Interface,
	metrics *service.Metrics,
	logger *slog.Logger,
) (*Services, error) {
	backendServices, err := backend.NewBackendServices(clientset, backend.Config{
		CredentialSource:   cfg.Checkmk.CredentialSource,
		Namespace:          cfg.Kubernetes.Namespace,
		SecretName:         cfg.Checkmk.SecretName,
		Credentials:        cfg.Checkmk.Credentials(),
		Timeout:            cfg.Checkmk.Timeout,
		InsecureSkipVerify: cfg.Checkmk.InsecureSkipVerify,
		LoginRetryInterval: cfg.Checkmk.LoginRetryInterval,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create backend services: %w", err)
	}

	serviceConfig := service.Config{
		ValueRange:           domain.ValueRange{Min: cfg.Extraction.MinValue, Max: cfg.Extraction.MaxValue},
		MinPageBytes:         cfg.Extraction.MinPageBytes,
		OverallTimeout:       cfg.Extraction.OverallTimeout,
		AlternateURLCacheTTL: cfg.Extraction.AlternateURLCacheTTL,
	}

	logger.Info("history provider initialized",
		"credential_source", cfg.Checkmk.CredentialSource,
		"min_value", serviceConfig.ValueRange.Min,
		"max_value", serviceConfig.ValueRange.Max)

	provider := service.NewHistoryService(
		serviceConfig,
		backendServices.SessionProvider,
		backendServices.HTTPClient,
		metrics,
		logger,
	)

	return &Services{
		Provider:        provider,
		SessionProvider: backendServices.SessionProvider,
	}, nil
}
