package service

import (
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/jlk/checkmk-llm-server-sub000/internal/features/history/domain"
)

// graphDrawCalls are the invocations whose second argument is the graph artwork
var graphDrawCalls = []string{
	"cmk.graphs.create_graph",
	"cmk.graph_integration.create_graph",
}

// artworkFallbackFields are recovered when the artwork as a whole does not decode
var artworkFallbackFields = []string{"curves", "start_time", "end_time", "step", "time_range"}

// legendPositional is the column order assumed for legend rows without a header
var legendPositional = []domain.Kind{domain.KindMin, domain.KindMax, domain.KindAverage, domain.KindLast}

// artworkTiming is the time metadata embedded in an artwork
type artworkTiming struct {
	start float64
	end   float64
	step  float64
}

// GraphResponseParser turns render responses into samples
type GraphResponseParser struct {
	valueRange domain.ValueRange
	markup     *MarkupParser
	scripts    *ScriptFallbackExtractor
	logger     *slog.Logger
	now        func() time.Time
}

// NewGraphResponseParser creates a new response parser
func NewGraphResponseParser(
	valueRange domain.ValueRange,
	markup *MarkupParser,
	scripts *ScriptFallbackExtractor,
	logger *slog.Logger,
) *GraphResponseParser {
	if logger == nil {
		logger = slog.Default()
	}
	return &GraphResponseParser{
		valueRange: valueRange,
		markup:     markup,
		scripts:    scripts,
		logger:     logger,
		now:        time.Now,
	}
}

// Parse extracts samples from a raw render response. bounds is the range the
// request asked for and may be nil. Falls back to legend tables and then to
// script arrays inside the response.
func (p *GraphResponseParser) Parse(raw string, bounds *domain.TimeBounds) []domain.Sample {
	env := decodeEnvelope(http.StatusOK, []byte(raw))
	if env.Err != nil {
		p.logger.Debug("render response carries an error envelope", "error", env.Err)
		return nil
	}
	payload := env.Payload

	if samples := p.artworkSamples(payload, bounds); len(samples) > 0 {
		return samples
	}
	if samples := p.legendSamples(payload, bounds); len(samples) > 0 {
		p.logger.Debug("using legend values", "samples", len(samples))
		return samples
	}
	return p.scriptSamples(payload)
}

func (p *GraphResponseParser) artworkSamples(payload string, bounds *domain.TimeBounds) []domain.Sample {
	var samples []domain.Sample
	for _, art := range p.findArtworks(payload) {
		samples = append(samples, p.samplesFromArtwork(art, bounds)...)
	}
	return samples
}

// findArtworks returns the decoded artwork of every draw call. A payload that
// is itself an artwork object is accepted as well.
func (p *GraphResponseParser) findArtworks(payload string) []map[string]any {
	var artworks []map[string]any

	for _, name := range graphDrawCalls {
		for _, open := range FindCalls(payload, name) {
			args, _, ok := SplitArguments(payload, open)
			if !ok || len(args) < 2 {
				p.logger.Debug("draw call without artwork argument", "call", name, "offset", open)
				continue
			}
			if art := decodeArtwork(args[1]); art != nil {
				artworks = append(artworks, art)
			}
		}
	}

	if len(artworks) == 0 {
		if trimmed := strings.TrimSpace(payload); strings.HasPrefix(trimmed, "{") {
			if art := decodeArtwork(trimmed); art != nil && art["curves"] != nil {
				artworks = append(artworks, art)
			}
		}
	}
	return artworks
}

func decodeArtwork(text string) map[string]any {
	var art map[string]any
	if err := DecodeLoose(text, &art); err == nil && art != nil {
		return art
	}
	manual := extractFields(text, artworkFallbackFields)
	if _, ok := manual["curves"]; ok {
		return manual
	}
	return nil
}

// samplesFromArtwork converts a decoded artwork into samples
func (p *GraphResponseParser) samplesFromArtwork(art map[string]any, bounds *domain.TimeBounds) []domain.Sample {
	timing := timingOf(art)
	var samples []domain.Sample
	for _, curve := range parseCurves(art["curves"]) {
		samples = append(samples, p.curveSamples(curve, timing, bounds)...)
	}
	return samples
}

func (p *GraphResponseParser) curveSamples(curve domain.Curve, timing artworkTiming, bounds *domain.TimeBounds) []domain.Sample {
	start, step := timing.start, timing.step
	if curve.Step > 0 && curve.Start > 0 {
		start, step = curve.Start, curve.Step
	}

	points := resolveLeads(curve.Points, step)
	n := len(points)
	samples := make([]domain.Sample, 0, n+len(curve.Scalars))
	for i, pt := range points {
		if pt.Value == nil {
			continue
		}
		ts, ok := pointTime(i, n, pt, start, step, bounds)
		if !ok {
			p.logger.Debug("point without usable timestamp dropped", "curve", curve.Title, "index", i)
			continue
		}
		if !p.valueRange.Contains(*pt.Value) {
			p.logger.Debug("out of range point dropped", "curve", curve.Title, "value", *pt.Value)
			continue
		}
		samples = append(samples, domain.Sample{Timestamp: ts, Value: *pt.Value, Kind: domain.KindSeries})
	}

	at := p.scalarTime(timing, bounds, start, step, n)
	for _, kind := range domain.AggregateKinds {
		v := curve.Scalars[kind]
		if v == nil {
			continue
		}
		if !p.valueRange.Contains(*v) {
			p.logger.Debug("out of range scalar dropped", "curve", curve.Title, "kind", kind, "value", *v)
			continue
		}
		samples = append(samples, domain.Sample{Timestamp: at, Value: *v, Kind: kind})
	}
	return samples
}

// resolveLeads decides what the leading pair elements of a curve are. Leads
// that strictly increase from 0, or in multiples of step, are offsets from the
// curve start. Anything else is a stacked curve and yields top - base.
func resolveLeads(points []domain.Point, step float64) []domain.Point {
	var leads []float64
	for _, pt := range points {
		if pt.Lead != nil {
			leads = append(leads, *pt.Lead)
		}
	}
	if len(leads) == 0 {
		return points
	}

	offsets := leads[0] >= 0
	for i := 1; offsets && i < len(leads); i++ {
		offsets = leads[i] > leads[i-1]
	}
	if offsets && leads[0] != 0 {
		offsets = step > 0 && allMultiplesOf(leads, step)
	}

	resolved := make([]domain.Point, len(points))
	for i, pt := range points {
		resolved[i] = pt
		if pt.Lead == nil || offsets {
			continue
		}
		resolved[i].Lead = nil
		if pt.Value != nil {
			height := *pt.Value - *pt.Lead
			resolved[i].Value = &height
		}
	}
	return resolved
}

func allMultiplesOf(values []float64, step float64) bool {
	for _, v := range values {
		if q := v / step; math.Abs(q-math.Round(q)) > 1e-9 {
			return false
		}
	}
	return true
}

// pointTime resolves the timestamp of point i of n. Absolute point timestamps
// win; offsets count from the requested start, else the embedded start; then
// the requested bounds; then the embedded start and step.
func pointTime(i, n int, pt domain.Point, start, step float64, bounds *domain.TimeBounds) (time.Time, bool) {
	switch {
	case pt.Timestamp > 0:
		return epochToTime(pt.Timestamp), true
	case pt.Lead != nil && bounds != nil && !bounds.Start.IsZero():
		return bounds.Start.Add(time.Duration(*pt.Lead * float64(time.Second))), true
	case pt.Lead != nil && start > 0:
		return floatTime(start + *pt.Lead), true
	case pt.Lead != nil:
		return time.Time{}, false
	case bounds != nil && n > 0 && bounds.Duration() > 0:
		offset := time.Duration(float64(i) * float64(bounds.Duration()) / float64(n))
		return bounds.Start.Add(offset), true
	case start > 0 && step > 0:
		return floatTime(start + float64(i)*step), true
	}
	return time.Time{}, false
}

// scalarTime stamps aggregates at the end of the window
func (p *GraphResponseParser) scalarTime(timing artworkTiming, bounds *domain.TimeBounds, start, step float64, n int) time.Time {
	switch {
	case bounds != nil && !bounds.End.IsZero():
		return bounds.End
	case timing.end > 0:
		return floatTime(timing.end)
	case start > 0 && step > 0:
		return floatTime(start + float64(n)*step)
	}
	return p.now().UTC().Truncate(time.Second)
}

func timingOf(art map[string]any) artworkTiming {
	var t artworkTiming
	t.start, _ = toFloat(art["start_time"])
	t.end, _ = toFloat(art["end_time"])
	t.step, _ = toFloat(art["step"])

	if t.start == 0 || t.end == 0 {
		if r, ok := art["time_range"].([]any); ok && len(r) == 2 {
			if t.start == 0 {
				t.start, _ = toFloat(r[0])
			}
			if t.end == 0 {
				t.end, _ = toFloat(r[1])
			}
		}
	}
	return t
}

func parseCurves(v any) []domain.Curve {
	list, ok := v.([]any)
	if !ok {
		return nil
	}

	curves := make([]domain.Curve, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}

		curve := domain.Curve{}
		curve.Title, _ = m["title"].(string)
		for _, key := range []string{"points", "rrddata", "data"} {
			if raw, exists := m[key]; exists && raw != nil {
				curve.Points = parsePoints(raw)
				break
			}
		}
		curve.Scalars = parseScalars(m["scalars"])
		curve.Start, _ = toFloat(m["start_time"])
		curve.Step, _ = toFloat(m["step"])
		curves = append(curves, curve)
	}
	return curves
}

// parsePoints accepts plain numbers, nulls, [timestamp, value] pairs and [lead, value] pairs.
// Leads are resolved per curve by resolveLeads.
func parsePoints(v any) []domain.Point {
	list, ok := v.([]any)
	if !ok {
		return nil
	}

	points := make([]domain.Point, 0, len(list))
	for _, item := range list {
		var pt domain.Point
		switch x := item.(type) {
		case nil:
		case []any:
			if len(x) != 2 {
				break
			}
			first, firstOK := toFloat(x[0])
			second, secondOK := toFloat(x[1])
			switch {
			case firstOK && looksLikeEpoch(first):
				pt.Timestamp = first
				if secondOK {
					pt.Value = &second
				}
			case firstOK:
				pt.Lead = &first
				if secondOK {
					pt.Value = &second
				}
			}
		default:
			if f, ok := toFloat(x); ok {
				pt.Value = &f
			}
		}
		points = append(points, pt)
	}
	return points
}

// parseScalars reads {"max": [value, "text"], "min": value, ...}
func parseScalars(v any) map[domain.Kind]*float64 {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}

	scalars := make(map[domain.Kind]*float64, len(m))
	for key, raw := range m {
		kind, ok := aggregateKind(key)
		if !ok {
			continue
		}
		if pair, isPair := raw.([]any); isPair {
			if len(pair) == 0 {
				continue
			}
			raw = pair[0]
		}
		if f, ok := toFloat(raw); ok {
			scalars[kind] = &f
		}
	}
	return scalars
}

// legendSamples reads aggregates from legend tables of the response
func (p *GraphResponseParser) legendSamples(payload string, bounds *domain.TimeBounds) []domain.Sample {
	if !strings.Contains(payload, "legend") {
		return nil
	}
	doc, err := p.markup.Parse(payload)
	if err != nil {
		return nil
	}

	at := p.now().UTC().Truncate(time.Second)
	if bounds != nil && !bounds.End.IsZero() {
		at = bounds.End
	}

	var samples []domain.Sample
	doc.Sel.Find("table.legend").Each(func(_ int, table *goquery.Selection) {
		var columns map[int]domain.Kind

		table.Find("tr").Each(func(_ int, row *goquery.Selection) {
			cells := row.ChildrenFiltered("th, td")
			if row.ChildrenFiltered("td").Length() == 0 {
				columns = legendColumns(cells)
				return
			}

			var numeric []float64
			cells.Each(func(j int, cell *goquery.Selection) {
				v, ok := ParseNumberCell(cell.Text())
				if !ok || !p.valueRange.Contains(v) {
					return
				}
				if kind, known := columns[j]; known {
					samples = append(samples, domain.Sample{Timestamp: at, Value: v, Kind: kind})
					return
				}
				numeric = append(numeric, v)
			})

			if len(columns) == 0 && len(numeric) == len(legendPositional) {
				for j, v := range numeric {
					samples = append(samples, domain.Sample{Timestamp: at, Value: v, Kind: legendPositional[j]})
				}
			}
		})
	})
	return samples
}

func legendColumns(cells *goquery.Selection) map[int]domain.Kind {
	columns := make(map[int]domain.Kind)
	cells.Each(func(j int, cell *goquery.Selection) {
		if kind, ok := aggregateKind(cell.Text()); ok {
			columns[j] = kind
		}
	})
	return columns
}

// scriptSamples runs the script array scan over the response
func (p *GraphResponseParser) scriptSamples(payload string) []domain.Sample {
	if p.scripts == nil {
		return nil
	}
	scripts := []string{payload}
	if strings.Contains(payload, "<script") {
		if doc, err := p.markup.Parse(payload); err == nil {
			scripts = doc.Scripts()
		}
	}
	return p.scripts.Extract(scripts)
}
