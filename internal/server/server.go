package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/client-go/kubernetes"

	"github.com/jlk/checkmk-llm-server-sub000/cmd/app"
	"github.com/jlk/checkmk-llm-server-sub000/internal/api/v1/handler"
	"github.com/jlk/checkmk-llm-server-sub000/internal/api/v1/middleware"
	"github.com/jlk/checkmk-llm-server-sub000/internal/common"
	bdomain "github.com/jlk/checkmk-llm-server-sub000/internal/features/backend/domain"
	"github.com/jlk/checkmk-llm-server-sub000/internal/features/history"
	"github.com/jlk/checkmk-llm-server-sub000/internal/features/history/domain"
	"github.com/jlk/checkmk-llm-server-sub000/internal/features/history/service"
)

// readHeaderTimeout bounds slow clients
const readHeaderTimeout = 10 * time.Second

// RouterConfig holds what the HTTP API needs besides the provider
type RouterConfig struct {
	DefaultPeriod  string
	RequestTimeout time.Duration
	Readiness      handler.ReadinessProbe
	Gatherer       prometheus.Gatherer
	Logger         *slog.Logger
}

// NewRouter builds the gin engine serving the history API and /metrics
func NewRouter(provider domain.Provider, config RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.LoggingMiddleware(config.Logger))

	handler.NewHealthHandler(config.Readiness).SetupRoutes(r)
	handler.NewHistoryHandler(provider, config.DefaultPeriod, config.RequestTimeout).SetupRoutes(r)

	if config.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(config.Gatherer, promhttp.HandlerOpts{})))
	}
	return r
}

// NewProvider builds the history provider with its metrics registered on reg
func NewProvider(cfg *app.Config, reg prometheus.Registerer, logger *slog.Logger) (*history.Services, error) {
	var clientset kubernetes.Interface
	if cfg.Checkmk.CredentialSource == "kubernetes" {
		kubeClients, err := app.NewKubeClients(&cfg.Kubernetes)
		if err != nil {
			return nil, fmt.Errorf("failed to create kubernetes clients: %w", err)
		}
		clientset = kubeClients.ClientSet
	}

	metrics := service.NewMetrics()
	if reg != nil {
		if err := metrics.Register(reg); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}

	return history.NewProvider(cfg, clientset, metrics, logger)
}

// SessionReadiness reports the service ready once a Checkmk session exists.
// Failures are reported as unavailable.
func SessionReadiness(sessions bdomain.SessionProvider) handler.ReadinessProbe {
	return func(ctx context.Context) error {
		if _, err := sessions.Authenticate(ctx); err != nil {
			return common.UnavailableError("checkmk session unavailable: %v", err)
		}
		return nil
	}
}

// Run serves the HTTP API until ctx is cancelled, then shuts down gracefully
func Run(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	services, err := NewProvider(cfg, registry, logger)
	if err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	router := NewRouter(services.Provider, RouterConfig{
		DefaultPeriod:  cfg.Extraction.DefaultPeriod,
		RequestTimeout: cfg.Server.RequestTimeout,
		Readiness:      SessionReadiness(services.SessionProvider),
		Gatherer:       registry,
		Logger:         logger,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down HTTP server", "timeout", cfg.Server.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown failed: %w", err)
	}
	logger.Info("HTTP server stopped")
	return nil
}
