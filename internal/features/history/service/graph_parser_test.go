package service

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jlk/checkmk-llm-server-sub000/internal/common"
	"github.com/jlk/checkmk-llm-server-sub000/internal/features/history/domain"
)

func newTestGraphParser() *GraphResponseParser {
	logger := common.DiscardLogger()
	valueRange := domain.DefaultValueRange()
	parser := NewGraphResponseParser(valueRange, NewMarkupParser(logger), NewScriptFallbackExtractor(valueRange, logger), logger)
	parser.now = func() time.Time { return testNow }
	return parser
}

// drawCall wraps an artwork literal in the draw call found in render responses
func drawCall(artwork string) string {
	return fmt.Sprintf(`<div class="graph"></div><script>cmk.graphs.create_graph("<div></div>", %s);</script>`, artwork)
}

func resultEnvelope(t *testing.T, markup string) string {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"result_code": 0, "result": markup, "severity": "success"})
	require.NoError(t, err)
	return string(raw)
}

func seriesOf(samples []domain.Sample) ([]time.Time, []float64) {
	var times []time.Time
	var values []float64
	for _, s := range samples {
		if s.Kind == domain.KindSeries {
			times = append(times, s.Timestamp)
			values = append(values, s.Value)
		}
	}
	return times, values
}

func aggregatesByKind(samples []domain.Sample) map[domain.Kind]domain.Sample {
	byKind := make(map[domain.Kind]domain.Sample)
	for _, s := range samples {
		if s.Kind.IsAggregate() {
			byKind[s.Kind] = s
		}
	}
	return byKind
}

func TestParseOffsetPoints(t *testing.T) {
	raw := drawCall(`{"start_time": 1700000000, "step": 30, "curves": [{"points": [[0, 20.5], [30, 21.0], [60, null], [90, 22.0]]}]}`)

	t.Run("offsets count from the embedded start", func(t *testing.T) {
		times, values := seriesOf(newTestGraphParser().Parse(raw, nil))

		assert.Equal(t, []float64{20.5, 21.0, 22.0}, values)
		assert.Equal(t, []time.Time{
			time.Unix(1700000000, 0).UTC(),
			time.Unix(1700000030, 0).UTC(),
			time.Unix(1700000090, 0).UTC(),
		}, times)
	})

	t.Run("offsets count from the requested start", func(t *testing.T) {
		bounds := &domain.TimeBounds{Start: testNow.Add(-4 * time.Hour), End: testNow}

		times, values := seriesOf(newTestGraphParser().Parse(raw, bounds))

		assert.Equal(t, []float64{20.5, 21.0, 22.0}, values)
		assert.Equal(t, bounds.Start.Add(90*time.Second), times[2])
	})

	t.Run("offsets in multiples of step not starting at zero", func(t *testing.T) {
		shifted := drawCall(`{"start_time": 1700000000, "step": 60, "curves": [{"points": [[60, 30], [120, 31], [240, 32]]}]}`)

		times, values := seriesOf(newTestGraphParser().Parse(shifted, nil))

		assert.Equal(t, []float64{30, 31, 32}, values)
		assert.Equal(t, time.Unix(1700000240, 0).UTC(), times[2])
	})
}

func TestParseStackedPoints(t *testing.T) {
	tests := []struct {
		name   string
		points string
		want   []float64
	}{
		{"bases go down", `[[10, 15], [12, 20], [5, 9]]`, []float64{5, 8, 4}},
		{"bases rise off the step grid", `[[10, 15], [12, 20], [13, 19]]`, []float64{5, 8, 6}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := drawCall(fmt.Sprintf(`{"start_time": 1700000000, "step": 60, "curves": [{"points": %s}]}`, tt.points))

			times, values := seriesOf(newTestGraphParser().Parse(raw, nil))

			assert.Equal(t, tt.want, values)
			assert.Equal(t, time.Unix(1700000120, 0).UTC(), times[2], "stacked points are placed by index")
		})
	}
}

func TestParseAbsolutePointsWinOverBounds(t *testing.T) {
	raw := drawCall(`{"start_time": 1600000000, "step": 300, "curves": [{"points": [[1700000000, 21.5], [1700000060, null], [1700000120, 22]]}]}`)
	bounds := &domain.TimeBounds{Start: testNow.Add(-4 * time.Hour), End: testNow}

	times, values := seriesOf(newTestGraphParser().Parse(raw, bounds))

	assert.Equal(t, []float64{21.5, 22}, values)
	assert.Equal(t, []time.Time{time.Unix(1700000000, 0).UTC(), time.Unix(1700000120, 0).UTC()}, times)
}

func TestParsePlainPointTiming(t *testing.T) {
	raw := drawCall(`{"start_time": 1699000000, "end_time": 1699000240, "step": 60, "curves": [{"points": [20, 21, null, 23]}]}`)

	t.Run("embedded start and step without bounds", func(t *testing.T) {
		times, values := seriesOf(newTestGraphParser().Parse(raw, nil))

		assert.Equal(t, []float64{20, 21, 23}, values)
		for i, idx := range []int64{0, 1, 3} {
			assert.Equal(t, time.Unix(1699000000+idx*60, 0).UTC(), times[i])
		}
	})

	t.Run("requested bounds win over stale embedded timing", func(t *testing.T) {
		bounds := &domain.TimeBounds{Start: testNow.Add(-4 * time.Minute), End: testNow}

		times, _ := seriesOf(newTestGraphParser().Parse(raw, bounds))

		assert.Equal(t, bounds.Start, times[0])
		assert.Equal(t, bounds.Start.Add(3*time.Minute), times[2])
	})
}

func TestParseScalars(t *testing.T) {
	raw := drawCall(`{"start_time": 1699000000, "end_time": 1699003600, "step": 60, "curves": [{"points": [20],
		"scalars": {"min": [20.0, "20 °C"], "max": [500.0, "500 °C"], "average": 22.25, "last": [24.5, "24.5 °C"]}}]}`)

	t.Run("stamped at the embedded end without bounds", func(t *testing.T) {
		byKind := aggregatesByKind(newTestGraphParser().Parse(raw, nil))

		assert.NotContains(t, byKind, domain.KindMax, "out of range scalars are dropped")
		assert.Equal(t, 20.0, byKind[domain.KindMin].Value)
		assert.Equal(t, 22.25, byKind[domain.KindAverage].Value)
		assert.Equal(t, time.Unix(1699003600, 0).UTC(), byKind[domain.KindLast].Timestamp)
	})

	t.Run("stamped at the requested end", func(t *testing.T) {
		bounds := &domain.TimeBounds{Start: testNow.Add(-time.Hour), End: testNow}

		byKind := aggregatesByKind(newTestGraphParser().Parse(raw, bounds))

		assert.Equal(t, testNow, byKind[domain.KindLast].Timestamp)
	})
}

func TestParseLegendFallback(t *testing.T) {
	bounds := &domain.TimeBounds{Start: testNow.Add(-4 * time.Hour), End: testNow}

	t.Run("header columns", func(t *testing.T) {
		legend := `<table class="legend">
<tr><th></th><th>Minimum</th><th>Maximum</th><th>Average</th><th>Last</th></tr>
<tr><td>Temperature</td><td>20 °C</td><td>500 °C</td><td>22.1 °C</td><td>23 °C</td></tr>
</table>`

		samples := newTestGraphParser().Parse(resultEnvelope(t, legend), bounds)

		require.Len(t, samples, 3)
		byKind := aggregatesByKind(samples)
		assert.Equal(t, 20.0, byKind[domain.KindMin].Value)
		assert.Equal(t, 22.1, byKind[domain.KindAverage].Value)
		assert.Equal(t, 23.0, byKind[domain.KindLast].Value)
		assert.NotContains(t, byKind, domain.KindMax)
		for _, s := range samples {
			assert.Equal(t, testNow, s.Timestamp)
		}
	})

	t.Run("positional row", func(t *testing.T) {
		legend := `<table class="legend"><tr><td>10</td><td>30</td><td>20</td><td>25</td></tr></table>`

		byKind := aggregatesByKind(newTestGraphParser().Parse(legend, bounds))

		assert.Equal(t, 10.0, byKind[domain.KindMin].Value)
		assert.Equal(t, 30.0, byKind[domain.KindMax].Value)
		assert.Equal(t, 20.0, byKind[domain.KindAverage].Value)
		assert.Equal(t, 25.0, byKind[domain.KindLast].Value)
	})
}

func TestParseScriptArrayFallback(t *testing.T) {
	markup := `<div class="graph"></div><script>var tempData = [[1700000000, 21.5], [1700000060, 22.0]];</script>`

	times, values := seriesOf(newTestGraphParser().Parse(resultEnvelope(t, markup), nil))

	assert.Equal(t, []float64{21.5, 22.0}, values)
	assert.Equal(t, time.Unix(1700000060, 0).UTC(), times[1])
}

func TestParseErrorEnvelope(t *testing.T) {
	raw := `{"result_code": 1, "result": "Cannot render graph", "severity": "error"}`

	assert.Empty(t, newTestGraphParser().Parse(raw, nil))
}

func TestResolveLeadsLeavesOtherPointsAlone(t *testing.T) {
	v := 3.0
	points := []domain.Point{{Value: &v}, {Timestamp: 1700000000, Value: &v}}

	assert.Equal(t, points, resolveLeads(points, 60))
}
