package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jlk/checkmk-llm-server-sub000/internal/common"
	"github.com/jlk/checkmk-llm-server-sub000/internal/features/history/domain"
)

// HistoryResponse is the body of a successful history request
type HistoryResponse struct {
	Host    string          `json:"host"`
	Check   string          `json:"check"`
	Period  string          `json:"period"`
	Count   int             `json:"count"`
	Samples []domain.Sample `json:"samples"`
}

// HistoryHandler serves extracted service history
type HistoryHandler struct {
	provider      domain.Provider
	defaultPeriod string
	timeout       time.Duration
}

// NewHistoryHandler creates a new history handler
func NewHistoryHandler(provider domain.Provider, defaultPeriod string, timeout time.Duration) *HistoryHandler {
	if provider == nil {
		panic("history provider cannot be nil")
	}
	return &HistoryHandler{
		provider:      provider,
		defaultPeriod: defaultPeriod,
		timeout:       timeout,
	}
}

// SetupRoutes registers handler routes to the router
func (h *HistoryHandler) SetupRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		api.GET("/history", h.getHistory)
	}
}

// getHistory extracts the samples of one host and service
func (h *HistoryHandler) getHistory(c *gin.Context) {
	host := c.Query("host")
	check := c.Query("check")
	period := c.DefaultQuery("period", h.defaultPeriod)

	if host == "" || check == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "host and check are required",
		})
		return
	}

	ctx := c.Request.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	samples, err := h.provider.ExtractHistoricalData(ctx, period, host, check)
	if err != nil {
		common.LoggerFromContext(ctx).Error("history request failed",
			"host", host, "check", check, "error", err)
		c.JSON(statusFor(err), gin.H{
			"error": err.Error(),
		})
		return
	}
	if samples == nil {
		samples = []domain.Sample{}
	}

	resolved, _ := domain.ResolvePeriod(period)
	c.JSON(http.StatusOK, HistoryResponse{
		Host:    host,
		Check:   check,
		Period:  resolved.Token,
		Count:   len(samples),
		Samples: samples,
	})
}

// statusFor maps extraction errors onto HTTP statuses
func statusFor(err error) int {
	switch {
	case common.IsInvalidInput(err):
		return http.StatusBadRequest
	case common.IsAuthenticationError(err), common.IsFetchError(err), common.IsParseError(err):
		return http.StatusBadGateway
	case common.IsUnavailable(err):
		return http.StatusServiceUnavailable
	case common.IsContextCanceled(err):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
