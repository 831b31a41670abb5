package service

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/jlk/checkmk-llm-server-sub000/internal/features/history/domain"
)

// scriptAnchor locates the start of a candidate array in script text
type scriptAnchor struct {
	name string
	re   *regexp.Regexp
	// outer selects the first bracket of the match instead of the last
	outer bool
}

var scriptAnchors = []scriptAnchor{
	{name: "named_variable", re: regexp.MustCompile(`(?i)\b(?:var|let|const)\s+[\w$]*(?:data|points|series|values|history|metrics)[\w$]*\s*=\s*\[`)},
	{name: "object_property", re: regexp.MustCompile(`(?i)["']?\b(?:points|values|datapoints|history|rrddata)\b["']?\s*:\s*\[`)},
	{name: "return_array", re: regexp.MustCompile(`\breturn\s+\[`)},
	{name: "nested_assignment", re: regexp.MustCompile(`=\s*\[\s*\[`), outer: true},
	{name: "chart_data", re: regexp.MustCompile(`["']data["']\s*:\s*\[`)},
	{name: "series_data", re: regexp.MustCompile(`(?is)\bseries\s*:\s*\[\s*\{[^\[\]]*?\bdata\s*:\s*\[`)},
	{name: "epoch_pairs", re: regexp.MustCompile(`\[\s*\[\s*\d{10,13}(?:\.\d+)?\s*,`), outer: true},
}

// pairPattern pulls [timestamp, value] pairs out of text that does not decode
var pairPattern = regexp.MustCompile(`\[\s*(\d{10,13}(?:\.\d+)?)\s*,\s*(-?\d+(?:\.\d+)?(?:[eE][-+]?\d+)?)\s*\]`)

// objectPointKeys are the timestamp/value key pairs understood in point objects
var objectPointKeys = [][2]string{{"x", "y"}, {"t", "v"}, {"time", "value"}, {"timestamp", "value"}, {"ts", "val"}}

// ScriptFallbackExtractor finds time series embedded in inline script
type ScriptFallbackExtractor struct {
	valueRange domain.ValueRange
	logger     *slog.Logger
}

// NewScriptFallbackExtractor creates a new script extractor
func NewScriptFallbackExtractor(valueRange domain.ValueRange, logger *slog.Logger) *ScriptFallbackExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &ScriptFallbackExtractor{valueRange: valueRange, logger: logger}
}

// Extract returns series samples found in the scripts, first occurrence per timestamp
func (e *ScriptFallbackExtractor) Extract(scripts []string) []domain.Sample {
	seen := make(map[int64]struct{})
	var samples []domain.Sample

	for _, script := range scripts {
		for _, anchor := range scriptAnchors {
			for _, loc := range anchor.re.FindAllStringIndex(script, -1) {
				start := arrayStart(script, loc, anchor.outer)
				if start < 0 {
					continue
				}
				found := e.samplesAt(script, start)
				if len(found) > 0 {
					e.logger.Debug("script array found", "pattern", anchor.name, "samples", len(found))
				}
				for _, s := range found {
					key := s.Timestamp.UnixNano()
					if _, dup := seen[key]; dup {
						continue
					}
					seen[key] = struct{}{}
					samples = append(samples, s)
				}
			}
		}
	}
	return samples
}

func arrayStart(script string, loc []int, outer bool) int {
	match := script[loc[0]:loc[1]]
	if outer {
		if i := strings.IndexByte(match, '['); i >= 0 {
			return loc[0] + i
		}
		return -1
	}
	if i := strings.LastIndexByte(match, '['); i >= 0 {
		return loc[0] + i
	}
	return -1
}

// samplesAt decodes the array starting at start
func (e *ScriptFallbackExtractor) samplesAt(script string, start int) []domain.Sample {
	text, ok := cutBalanced(script, start)
	if !ok {
		// Truncated script: the pair pattern still works on what is there
		return e.pairSamples(script[start:])
	}

	var items []any
	if err := DecodeLoose(text, &items); err != nil {
		return e.pairSamples(text)
	}
	return e.itemSamples(items)
}

func (e *ScriptFallbackExtractor) itemSamples(items []any) []domain.Sample {
	var samples []domain.Sample
	for _, item := range items {
		ts, v, ok := timeValue(item)
		if !ok || !looksLikeEpoch(ts) || !e.valueRange.Contains(v) {
			continue
		}
		samples = append(samples, domain.Sample{Timestamp: epochToTime(ts), Value: v, Kind: domain.KindSeries})
	}
	return samples
}

func (e *ScriptFallbackExtractor) pairSamples(text string) []domain.Sample {
	var samples []domain.Sample
	for _, m := range pairPattern.FindAllStringSubmatch(text, -1) {
		ts, ok := parseDecimal(m[1])
		if !ok {
			continue
		}
		v, ok := parseDecimal(m[2])
		if !ok || !e.valueRange.Contains(v) {
			continue
		}
		samples = append(samples, domain.Sample{Timestamp: epochToTime(ts), Value: v, Kind: domain.KindSeries})
	}
	return samples
}

// timeValue reads a [ts, v] pair or a point object
func timeValue(item any) (float64, float64, bool) {
	switch x := item.(type) {
	case []any:
		if len(x) < 2 {
			return 0, 0, false
		}
		ts, tsOK := toFloat(x[0])
		v, vOK := toFloat(x[1])
		return ts, v, tsOK && vOK
	case map[string]any:
		for _, keys := range objectPointKeys {
			rawTS, hasTS := x[keys[0]]
			rawV, hasV := x[keys[1]]
			if !hasTS || !hasV {
				continue
			}
			ts, tsOK := toFloat(rawTS)
			v, vOK := toFloat(rawV)
			return ts, v, tsOK && vOK
		}
	}
	return 0, 0, false
}
