package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jlk/checkmk-llm-server-sub000/internal/common"
	"github.com/jlk/checkmk-llm-server-sub000/internal/features/history/domain"
)

func newTestAlternatives(t *testing.T) *AlternativeApproachEngine {
	t.Helper()
	logger := common.DiscardLogger()
	valueRange := domain.DefaultValueRange()
	markup := NewMarkupParser(logger)
	scripts := NewScriptFallbackExtractor(valueRange, logger)
	graphs := NewGraphResponseParser(valueRange, markup, scripts, logger)
	graphs.now = func() time.Time { return testNow }

	engine := NewAlternativeApproachEngine(newTestHTTPClient(t), graphs, scripts, markup, valueRange,
		time.Minute, nil, logger)
	engine.now = func() time.Time { return testNow }
	return engine
}

func newAlternativesRequest(t *testing.T, serverURL string) *Request {
	period, _ := domain.ResolvePeriod("4h")
	return &Request{
		Host:      "server01",
		Check:     "Temperature",
		Period:    period,
		Session:   newTestSession(t, serverURL, 1),
		WindowEnd: testNow,
	}
}

func TestLiveStatusFromRESTObject(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/prod/check_mk/api/1.0/objects/host/server01/actions/show_service/invoke",
		func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Temperature", r.URL.Query().Get("service_description"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"title":"Temperature","extensions":{"perf_data":"temp=42.5;60;70","plugin_output":"OK - 42.5 °C"}}`))
		})
	server := httptest.NewServer(mux)
	defer server.Close()

	outcome := newTestAlternatives(t).liveStatus(context.Background(), newAlternativesRequest(t, server.URL))

	require.Equal(t, OutcomeSuccess, outcome.Status)
	require.Len(t, outcome.Samples, 1)
	assert.Equal(t, domain.Sample{Timestamp: testNow, Value: 42.5, Kind: domain.KindCurrent}, outcome.Samples[0])
}

func TestLiveStatusFromViewExport(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/prod/check_mk/view.py", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "json", r.URL.Query().Get("output_format"))
		_, _ = w.Write([]byte(`[["service_state","service_description","svc_plugin_output","svc_perf_data"],
			["OK","Temperature","OK - 38 °C","temp=38;60;70"]]`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	outcome := newTestAlternatives(t).liveStatus(context.Background(), newAlternativesRequest(t, server.URL))

	require.Equal(t, OutcomeSuccess, outcome.Status)
	require.Len(t, outcome.Samples, 1)
	assert.Equal(t, 38.0, outcome.Samples[0].Value)
}

func TestLiveStatusAllUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	outcome := newTestAlternatives(t).liveStatus(context.Background(), newAlternativesRequest(t, server.URL))

	assert.Equal(t, OutcomeSoftFailure, outcome.Status)
	assert.Error(t, outcome.Reason)
}

func TestProbeCollectionsMatchesService(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/prod/check_mk/api/1.0/domain-types/service/collections/all", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "server01", r.URL.Query().Get("host_name"))
		_, _ = w.Write([]byte(`{"value":[
			{"extensions":{"description":"CPU load","perf_data":"load1=0.5;;;0","plugin_output":"OK"}},
			{"extensions":{"description":"Temperature Zone 1","perf_data":"temp=51.2;60;70","plugin_output":"OK"}}
		]}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	outcome := newTestAlternatives(t).probeCollections(context.Background(), newAlternativesRequest(t, server.URL))

	require.Equal(t, OutcomeSuccess, outcome.Status)
	require.Len(t, outcome.Samples, 1)
	assert.Equal(t, 51.2, outcome.Samples[0].Value)
}

func TestAlternateURLsRemembersWorkingURL(t *testing.T) {
	var graphExportHits atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/prod/check_mk/graph_export.py", func(w http.ResponseWriter, _ *http.Request) {
		graphExportHits.Add(1)
		http.NotFound(w, nil)
	})
	mux.HandleFunc("/prod/check_mk/webapi.py", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "get_graph", r.URL.Query().Get("action"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result_code":0,"result":{"start_time":1700000000,"end_time":1700000090,"step":30,
			"curves":[{"title":"Temperature","rrddata":[20.5,21.0,null]}]}}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	engine := newTestAlternatives(t)
	req := newAlternativesRequest(t, server.URL)

	outcome := engine.alternateURLs(context.Background(), req)
	require.Equal(t, OutcomeSuccess, outcome.Status)
	require.Len(t, outcome.Samples, 2)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), outcome.Samples[0].Timestamp)
	assert.Equal(t, 21.0, outcome.Samples[1].Value)
	assert.Equal(t, int32(1), graphExportHits.Load())

	cached, ok := engine.urlCache.Get("server01|Temperature")
	require.True(t, ok)
	assert.Equal(t, "webapi_get_graph", cached)

	outcome = engine.alternateURLs(context.Background(), req)
	require.Equal(t, OutcomeSuccess, outcome.Status)
	assert.Equal(t, int32(1), graphExportHits.Load(), "cached url should be tried first")
}

func TestDelimitedSamples(t *testing.T) {
	engine := newTestAlternatives(t)
	req := &Request{Check: "Temperature", WindowEnd: testNow}

	t.Run("time and value rows", func(t *testing.T) {
		samples := engine.delimitedSamples("time;value\n1700000000;20,5\n1700000060;21.5\n", req)
		require.Len(t, samples, 2)
		assert.Equal(t, 20.5, samples[0].Value)
		assert.Equal(t, time.Unix(1700000060, 0).UTC(), samples[1].Timestamp)
	})

	t.Run("service export without times", func(t *testing.T) {
		samples := engine.delimitedSamples(
			"\"service_description\";\"svc_plugin_output\";\"svc_perf_data\"\n\"Temperature\";\"OK - 40 °C\";\"temp=40;60;70\"\n", req)
		require.Len(t, samples, 1)
		assert.Equal(t, domain.KindCurrent, samples[0].Kind)
		assert.Equal(t, 40.0, samples[0].Value)
	})

	t.Run("empty", func(t *testing.T) {
		assert.Empty(t, engine.delimitedSamples("", req))
	})
}

func TestMineHTML(t *testing.T) {
	engine := newTestAlternatives(t)
	doc, err := engine.markup.Parse(`<html><body>
		<input type="hidden" name="last" value="41.5">
		<div data-current-value="42">x</div>
		<div data-id="999">ignored</div>
		<svg><text>43.5 °C</text></svg>
		<script>var currentTemp = 44.0; var other = 1000;</script>
	</body></html>`)
	require.NoError(t, err)

	outcome := engine.mineHTML(context.Background(), &Request{Document: doc, WindowEnd: testNow})

	require.Equal(t, OutcomeSuccess, outcome.Status)
	var values []float64
	for _, s := range outcome.Samples {
		assert.Equal(t, domain.KindCurrent, s.Kind)
		values = append(values, s.Value)
	}
	assert.ElementsMatch(t, []float64{41.5, 42, 43.5, 44}, values)
}

func TestTryAllStopsOncePriorIsSufficient(t *testing.T) {
	var collectionHits atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/prod/check_mk/api/1.0/objects/host/server01/actions/show_service/invoke",
		func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"extensions":{"perf_data":"temp=42.5;60;70"}}`))
		})
	mux.HandleFunc("/prod/check_mk/api/1.0/domain-types/service/collections/all", func(w http.ResponseWriter, _ *http.Request) {
		collectionHits.Add(1)
		http.NotFound(w, nil)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	samples := newTestAlternatives(t).TryAll(context.Background(), newAlternativesRequest(t, server.URL), 1)

	require.Len(t, samples, 1)
	assert.Equal(t, 42.5, samples[0].Value)
	assert.Zero(t, collectionHits.Load())
}

func TestMatchRecord(t *testing.T) {
	records := []serviceRecord{
		{description: "Temperature Zone 1"},
		{description: "temperature"},
	}

	record, ok := matchRecord(records, "Temperature")
	require.True(t, ok)
	assert.Equal(t, "temperature", record.description, "exact match should win over containment")

	_, ok = matchRecord(records, "Fan")
	assert.False(t, ok)
}
