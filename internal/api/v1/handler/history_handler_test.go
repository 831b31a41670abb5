package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jlk/checkmk-llm-server-sub000/internal/common"
	"github.com/jlk/checkmk-llm-server-sub000/internal/features/history/domain"
	"github.com/jlk/checkmk-llm-server-sub000/internal/features/history/domain/mocks"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newHistoryRouter(provider domain.Provider) *gin.Engine {
	r := gin.New()
	NewHistoryHandler(provider, "4h", time.Second).SetupRoutes(r)
	return r
}

func TestGetHistory(t *testing.T) {
	ts := time.Unix(1700000000, 0).UTC()
	provider := &mocks.MockProvider{}
	provider.On("ExtractHistoricalData", mock.Anything, "25h", "server01", "Temperature").
		Return([]domain.Sample{
			{Timestamp: ts, Value: 21.5, Kind: domain.KindSeries},
			{Timestamp: ts, Value: 24.0, Kind: domain.KindMax},
		}, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/history?host=server01&check=Temperature&period=25h", nil)
	newHistoryRouter(provider).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp HistoryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "server01", resp.Host)
	assert.Equal(t, "25h", resp.Period)
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, domain.KindMax, resp.Samples[1].Kind)
	provider.AssertExpectations(t)
}

func TestGetHistoryDefaultsPeriodAndEmptyResult(t *testing.T) {
	provider := &mocks.MockProvider{}
	provider.On("ExtractHistoricalData", mock.Anything, "4h", "server01", "Temperature").Return(nil, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/history?host=server01&check=Temperature", nil)
	newHistoryRouter(provider).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"host":"server01","check":"Temperature","period":"4h","count":0,"samples":[]}`, w.Body.String())
}

func TestGetHistoryErrors(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		err        error
		wantStatus int
	}{
		{"missing check", "?host=server01", nil, http.StatusBadRequest},
		{"authentication", "?host=server01&check=Temperature",
			common.NewAuthenticationError("prod", "credentials rejected", nil), http.StatusBadGateway},
		{"fetch", "?host=server01&check=Temperature",
			common.NewFetchError("http://cmk/view.py", 500, "unexpected status", ""), http.StatusBadGateway},
		{"invalid input", "?host=server01&check=Temperature",
			common.InvalidInputError("bad host"), http.StatusBadRequest},
		{"unavailable", "?host=server01&check=Temperature",
			common.UnavailableError("site down"), http.StatusServiceUnavailable},
		{"unexpected", "?host=server01&check=Temperature", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &mocks.MockProvider{}
			if tt.err != nil {
				provider.On("ExtractHistoricalData", mock.Anything, "4h", "server01", "Temperature").Return(nil, tt.err)
			}

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/api/v1/history"+tt.query, nil)
			newHistoryRouter(provider).ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Contains(t, w.Body.String(), "error")
		})
	}
}
