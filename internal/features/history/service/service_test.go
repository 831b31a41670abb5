package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jlk/checkmk-llm-server-sub000/internal/common"
	bmocks "github.com/jlk/checkmk-llm-server-sub000/internal/features/backend/domain/mocks"
	"github.com/jlk/checkmk-llm-server-sub000/internal/features/history/domain"
)

const graphPageWithLoader = `<!DOCTYPE html>
<html><head><title>Service graphs of server01 - Temperature</title>
<link rel="stylesheet" href="themes/facelift/theme.css?v=check_mk"></head>
<body class="main">
<div id="graph_0" class="graph_container">server01 / Temperature</div>
<script>
cmk.graphs.load_graph_content("<div class=\"graph\" style=\"width: 100%\"></div>", {"title": "Temperature", "metrics": [{"title": "Temperature", "unit": "c"}]}, {"time_range": [1699000000, 1699014400], "step": 30}, {"show_legend": true}, "graph_0");
</script>
</body></html>`

const graphPageWithoutData = `<!DOCTYPE html>
<html><head><title>Service graphs of server01 - Temperature</title>
<link rel="stylesheet" href="themes/facelift/theme.css?v=check_mk"></head>
<body class="main">
<div id="graph_0" class="graph_container">server01 / Temperature</div>
<p>No graphs are available for this service.</p>
<script>var siteName = "prod";</script>
</body></html>`

// fakeSite serves a Checkmk site for one host and service
type fakeSite struct {
	page             string
	render           string
	liveStatus       string
	unauthorizedOnce bool

	pageHits   atomic.Int32
	renderHits atomic.Int32
}

func (f *fakeSite) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/prod/check_mk/view.py", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("view_name") != "service_graphs" {
			http.NotFound(w, r)
			return
		}
		assert.Equal(t, "server01", r.URL.Query().Get("host"))
		assert.Equal(t, "Temperature", r.URL.Query().Get("service"))
		assert.NotEmpty(t, r.Header.Get("Referer"))

		if f.pageHits.Add(1) == 1 && f.unauthorizedOnce {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(f.page))
	})
	mux.HandleFunc("/prod/check_mk/ajax_render_graph_content.py", func(w http.ResponseWriter, _ *http.Request) {
		f.renderHits.Add(1)
		if f.render == "" {
			http.NotFound(w, nil)
			return
		}
		_, _ = w.Write([]byte(f.render))
	})
	mux.HandleFunc("/prod/check_mk/api/1.0/objects/host/server01/actions/show_service/invoke",
		func(w http.ResponseWriter, r *http.Request) {
			if f.liveStatus == "" {
				http.NotFound(w, r)
				return
			}
			_, _ = w.Write([]byte(f.liveStatus))
		})
	return mux
}

// renderEnvelope wraps a create_graph call with n points in a result_code envelope.
// The embedded timing is stale so the requested bounds have to win.
func renderEnvelope(t *testing.T, n int) string {
	t.Helper()
	points := make([]any, n)
	for i := range points {
		points[i] = 20.0 + float64(i%10)/2
	}
	artwork := map[string]any{
		"start_time": 1699000000,
		"end_time":   1699003600,
		"step":       60,
		"curves": []any{map[string]any{
			"title":  "Temperature",
			"points": points,
			"scalars": map[string]any{
				"min":     []any{20.0, "20.0 °C"},
				"max":     []any{24.5, "24.5 °C"},
				"average": []any{22.25, "22.25 °C"},
				"last":    []any{24.5, "24.5 °C"},
			},
		}},
	}
	art, err := json.Marshal(artwork)
	require.NoError(t, err)

	markup := fmt.Sprintf(`<div class="graph"><script>cmk.graphs.create_graph("<table class=\"legend\"></table>", %s);</script></div>`, art)
	envelope, err := json.Marshal(map[string]any{"result_code": 0, "result": markup, "severity": "success"})
	require.NoError(t, err)
	return string(envelope)
}

func newTestHistoryService(t *testing.T, sessions *bmocks.MockSessionProvider, metrics *Metrics) *HistoryService {
	t.Helper()
	config := DefaultConfig()
	config.MinPageBytes = 64

	svc := NewHistoryService(config, sessions, newTestHTTPClient(t), metrics, common.DiscardLogger())
	clock := func() time.Time { return testNow }
	svc.now = clock
	svc.ajax.now = clock
	svc.graphs.now = clock
	svc.alternatives.now = clock
	return svc
}

func TestExtractHistoricalDataFromRenderedGraph(t *testing.T) {
	site := &fakeSite{page: graphPageWithLoader, render: renderEnvelope(t, 480)}
	server := httptest.NewServer(site.handler(t))
	defer server.Close()

	sessions := &bmocks.MockSessionProvider{}
	sessions.On("Authenticate", mock.Anything).Return(newTestSession(t, server.URL, 1), nil)

	samples, err := newTestHistoryService(t, sessions, nil).
		ExtractHistoricalData(context.Background(), "4h", "server01", "Temperature")

	require.NoError(t, err)
	require.Len(t, samples, 484)

	windowStart := testNow.Add(-4 * time.Hour)
	for i := 0; i < 480; i++ {
		assert.Equal(t, domain.KindSeries, samples[i].Kind)
		assert.Equal(t, windowStart.Add(time.Duration(i)*30*time.Second), samples[i].Timestamp)
	}
	kinds := map[domain.Kind]float64{}
	for _, s := range samples[480:] {
		assert.Equal(t, testNow, s.Timestamp)
		kinds[s.Kind] = s.Value
	}
	assert.Equal(t, map[domain.Kind]float64{
		domain.KindMin:     20.0,
		domain.KindMax:     24.5,
		domain.KindAverage: 22.25,
		domain.KindLast:    24.5,
	}, kinds)
	assert.Equal(t, int32(1), site.renderHits.Load())
}

func TestExtractHistoricalDataRetriesOnceAfterUnauthorized(t *testing.T) {
	site := &fakeSite{page: graphPageWithLoader, render: renderEnvelope(t, 10), unauthorizedOnce: true}
	server := httptest.NewServer(site.handler(t))
	defer server.Close()

	stale := newTestSession(t, server.URL, 1)
	fresh := newTestSession(t, server.URL, 2)

	sessions := &bmocks.MockSessionProvider{}
	sessions.On("Authenticate", mock.Anything).Return(stale, nil)
	sessions.On("RefreshIfStale", mock.Anything, uint64(1)).Return(fresh, true, nil).Once()

	metrics := NewMetrics()
	samples, err := newTestHistoryService(t, sessions, metrics).
		ExtractHistoricalData(context.Background(), "4h", "server01", "Temperature")

	require.NoError(t, err)
	assert.NotEmpty(t, samples)
	assert.Equal(t, int32(2), site.pageHits.Load())
	sessions.AssertNumberOfCalls(t, "RefreshIfStale", 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.sessionRefreshes))
}

func TestExtractHistoricalDataReusesSessionRefreshedElsewhere(t *testing.T) {
	site := &fakeSite{page: graphPageWithLoader, render: renderEnvelope(t, 10), unauthorizedOnce: true}
	server := httptest.NewServer(site.handler(t))
	defer server.Close()

	sessions := &bmocks.MockSessionProvider{}
	sessions.On("Authenticate", mock.Anything).Return(newTestSession(t, server.URL, 1), nil)
	sessions.On("RefreshIfStale", mock.Anything, uint64(1)).Return(newTestSession(t, server.URL, 2), false, nil).Once()

	metrics := NewMetrics()
	samples, err := newTestHistoryService(t, sessions, metrics).
		ExtractHistoricalData(context.Background(), "4h", "server01", "Temperature")

	require.NoError(t, err)
	assert.NotEmpty(t, samples)
	assert.Equal(t, int32(2), site.pageHits.Load())
	assert.Zero(t, testutil.ToFloat64(metrics.sessionRefreshes), "another caller's login is not counted here")
}

func TestExtractHistoricalDataStampsGraphAndTableAggregatesAlike(t *testing.T) {
	statsTable := `<table class="stats">
<tr><th>Metric</th><th>Minimum</th><th>Maximum</th><th>Average</th><th>Last</th></tr>
<tr><td>Temperature</td><td>20.0 °C</td><td>24.5 °C</td><td>22.25 °C</td><td>24.5 °C</td></tr>
</table>
<script>`
	page := strings.Replace(graphPageWithLoader, "<script>", statsTable, 1)
	site := &fakeSite{page: page, render: renderEnvelope(t, 480)}
	server := httptest.NewServer(site.handler(t))
	defer server.Close()

	sessions := &bmocks.MockSessionProvider{}
	sessions.On("Authenticate", mock.Anything).Return(newTestSession(t, server.URL, 1), nil)

	svc := newTestHistoryService(t, sessions, nil)
	svc.ajax.now = func() time.Time { return testNow.Add(time.Second) }

	samples, err := svc.ExtractHistoricalData(context.Background(), "4h", "server01", "Temperature")

	require.NoError(t, err)
	require.Len(t, samples, 484, "aggregates found in the graph and the table collapse into one")
	for _, s := range samples[480:] {
		assert.Equal(t, testNow, s.Timestamp, string(s.Kind))
	}
}

func TestExtractHistoricalDataLogsWithRequestLogger(t *testing.T) {
	site := &fakeSite{page: graphPageWithLoader, render: renderEnvelope(t, 10)}
	server := httptest.NewServer(site.handler(t))
	defer server.Close()

	sessions := &bmocks.MockSessionProvider{}
	sessions.On("Authenticate", mock.Anything).Return(newTestSession(t, server.URL, 1), nil)

	var buf bytes.Buffer
	requestLogger := slog.New(slog.NewJSONHandler(&buf, nil)).With("path", "/api/v1/history")
	ctx := common.ContextWithLogger(context.Background(), requestLogger)

	_, err := newTestHistoryService(t, sessions, nil).ExtractHistoricalData(ctx, "4h", "server01", "Temperature")

	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"msg":"extraction finished"`)
	assert.Contains(t, buf.String(), `"path":"/api/v1/history"`)
	assert.Contains(t, buf.String(), `"host":"server01"`)
}

func TestRenderGraphsStopsOnCanceledContext(t *testing.T) {
	sessions := &bmocks.MockSessionProvider{}
	svc := newTestHistoryService(t, sessions, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome := svc.renderGraphs(ctx, &Request{
		Page:    graphPageWithLoader,
		Session: newTestSession(t, "http://127.0.0.1:1", 1),
	})

	assert.Equal(t, OutcomeSoftFailure, outcome.Status)
	assert.True(t, common.IsContextCanceled(outcome.Reason))
}

func TestExtractHistoricalDataGivesUpAfterSecondUnauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	sessions := &bmocks.MockSessionProvider{}
	sessions.On("Authenticate", mock.Anything).Return(newTestSession(t, server.URL, 1), nil)
	sessions.On("RefreshIfStale", mock.Anything, uint64(1)).Return(newTestSession(t, server.URL, 2), true, nil)

	_, err := newTestHistoryService(t, sessions, nil).
		ExtractHistoricalData(context.Background(), "4h", "server01", "Temperature")

	require.Error(t, err)
	assert.True(t, common.IsFetchError(err))
	sessions.AssertNumberOfCalls(t, "RefreshIfStale", 1)
}

func TestExtractHistoricalDataFallsBackToLiveStatus(t *testing.T) {
	site := &fakeSite{
		page:       graphPageWithoutData,
		liveStatus: `{"extensions":{"perf_data":"temp=42.5;60;70","plugin_output":"OK - 42.5 °C"}}`,
	}
	server := httptest.NewServer(site.handler(t))
	defer server.Close()

	sessions := &bmocks.MockSessionProvider{}
	sessions.On("Authenticate", mock.Anything).Return(newTestSession(t, server.URL, 1), nil)

	samples, err := newTestHistoryService(t, sessions, nil).
		ExtractHistoricalData(context.Background(), "4h", "server01", "Temperature")

	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, domain.Sample{Timestamp: testNow, Value: 42.5, Kind: domain.KindCurrent}, samples[0])
	assert.Zero(t, site.renderHits.Load())
}

func TestExtractHistoricalDataNothingFound(t *testing.T) {
	site := &fakeSite{page: graphPageWithoutData}
	server := httptest.NewServer(site.handler(t))
	defer server.Close()

	sessions := &bmocks.MockSessionProvider{}
	sessions.On("Authenticate", mock.Anything).Return(newTestSession(t, server.URL, 1), nil)

	samples, err := newTestHistoryService(t, sessions, nil).
		ExtractHistoricalData(context.Background(), "unknown-period", "server01", "Temperature")

	require.NoError(t, err)
	assert.Empty(t, samples)
}

func TestExtractHistoricalDataErrors(t *testing.T) {
	t.Run("authentication errors surface", func(t *testing.T) {
		sessions := &bmocks.MockSessionProvider{}
		sessions.On("Authenticate", mock.Anything).
			Return(nil, common.NewAuthenticationError("prod", "credentials rejected", nil))

		_, err := newTestHistoryService(t, sessions, nil).
			ExtractHistoricalData(context.Background(), "4h", "server01", "Temperature")

		assert.True(t, common.IsAuthenticationError(err))
	})

	t.Run("implausible page", func(t *testing.T) {
		site := &fakeSite{page: `<html><body>check_mk login portal for another host entirely</body></html>`}
		server := httptest.NewServer(site.handler(t))
		defer server.Close()

		sessions := &bmocks.MockSessionProvider{}
		sessions.On("Authenticate", mock.Anything).Return(newTestSession(t, server.URL, 1), nil)

		_, err := newTestHistoryService(t, sessions, nil).
			ExtractHistoricalData(context.Background(), "4h", "server01", "Temperature")

		require.Error(t, err)
		assert.True(t, common.IsFetchError(err))
	})

	t.Run("expired deadline yields empty result", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		sessions := &bmocks.MockSessionProvider{}
		sessions.On("Authenticate", mock.Anything).Return(nil, context.Canceled)

		samples, err := newTestHistoryService(t, sessions, nil).
			ExtractHistoricalData(ctx, "4h", "server01", "Temperature")

		assert.NoError(t, err)
		assert.Empty(t, samples)
	})

	t.Run("missing host", func(t *testing.T) {
		_, err := newTestHistoryService(t, &bmocks.MockSessionProvider{}, nil).
			ExtractHistoricalData(context.Background(), "4h", "", "Temperature")

		assert.True(t, common.IsInvalidInput(err))
	})
}
