package service

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/jlk/checkmk-llm-server-sub000/internal/features/history/domain"
)

// PerfDatum is one label=value[unit];warn;crit;min;max entry of a performance string
type PerfDatum struct {
	Label string
	Value float64
	Unit  string
	Warn  *float64
	Crit  *float64
	Min   *float64
	Max   *float64
}

// statusNumber finds unit-suffixed numbers in human readable status text
var statusNumber = regexp.MustCompile(`([-+]?\d+(?:\.\d+)?)\s*(°\s?[CF]|%|[kKMGT]?i?B(?:/s)?|[kMG]?Hz|ms|V|A|W|rpm|RPM|dBm)`)

// ParsePerfdata parses a monitoring plugin performance string. Invalid tokens are skipped.
func ParsePerfdata(raw string) []PerfDatum {
	var data []PerfDatum
	for _, token := range tokenizePerfdata(raw) {
		if datum, ok := parsePerfToken(token); ok {
			data = append(data, datum)
		}
	}
	return data
}

func tokenizePerfdata(s string) []string {
	var tokens []string
	var cur strings.Builder
	var quote rune

	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}

	for _, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
		case unicode.IsSpace(r):
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()

	return tokens
}

func parsePerfToken(token string) (PerfDatum, bool) {
	label, rest, found := strings.Cut(token, "=")
	if !found || label == "" {
		return PerfDatum{}, false
	}

	fields := strings.SplitN(rest, ";", 5)
	value, unit, ok := parseValueUnit(fields[0])
	if !ok {
		return PerfDatum{}, false
	}

	return PerfDatum{
		Label: label,
		Value: value,
		Unit:  unit,
		Warn:  parseFloatPtr(perfField(fields, 1)),
		Crit:  parseFloatPtr(perfField(fields, 2)),
		Min:   parseFloatPtr(perfField(fields, 3)),
		Max:   parseFloatPtr(perfField(fields, 4)),
	}, true
}

func perfField(fields []string, idx int) string {
	if idx >= len(fields) {
		return ""
	}
	return fields[idx]
}

func parseValueUnit(value string) (float64, string, bool) {
	i := 0
	for i < len(value) && isNumberChar(value[i]) {
		i++
	}
	if i == 0 {
		return 0, value, false
	}
	v, err := strconv.ParseFloat(value[:i], 64)
	if err != nil {
		return 0, value[i:], false
	}
	return v, value[i:], true
}

// parseFloatPtr reads a threshold field; ranges like "10:20" keep their upper bound
func parseFloatPtr(val string) *float64 {
	val = strings.TrimSpace(val)
	if i := strings.LastIndexByte(val, ':'); i >= 0 {
		val = val[i+1:]
	}
	if val == "" || strings.EqualFold(val, "u") || val == "~" {
		return nil
	}
	v, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return nil
	}
	return &v
}

func isNumberChar(b byte) bool {
	return (b >= '0' && b <= '9') || b == '.' || b == '-' || b == '+' || b == 'e' || b == 'E'
}

// currentValue picks one plausible value for a check from its performance
// string, falling back to the first unit-suffixed number of its status text.
// A datum whose label matches a word of the check name is preferred.
func currentValue(perfdata, status, check string, valueRange domain.ValueRange) (float64, bool) {
	data := ParsePerfdata(perfdata)

	words := strings.Fields(strings.ToLower(check))
	for _, d := range data {
		label := strings.ToLower(d.Label)
		for _, w := range words {
			related := strings.Contains(label, w) || (len(label) > 2 && strings.Contains(w, label))
			if len(w) > 2 && related && valueRange.Contains(d.Value) {
				return d.Value, true
			}
		}
	}
	for _, d := range data {
		if valueRange.Contains(d.Value) {
			return d.Value, true
		}
	}

	for _, m := range statusNumber.FindAllStringSubmatch(status, -1) {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil && valueRange.Contains(v) {
			return v, true
		}
	}
	return 0, false
}
