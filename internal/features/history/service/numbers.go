package service

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// epoch bounds used to tell absolute timestamps from offsets
const (
	minEpochSeconds = 1e9
	minEpochMillis  = 1e11
)

var (
	// numberWithUnit matches a whole cell holding one number and an optional unit
	numberWithUnit = regexp.MustCompile(
		`^\s*([-+]?\d+(?:[.,]\d+)?(?:[eE][-+]?\d+)?)\s*(°\s?[CF]|%|[kKMGT]?i?B(?:/s)?|[kMG]?Hz|ms|s|V|A|W|rpm|RPM|dBm|C|F)?\s*$`)
	// numberInText finds numbers anywhere in text, with an optional unit
	numberInText = regexp.MustCompile(
		`([-+]?\d+(?:\.\d+)?)\s*(°\s?[CF]|%|[kKMGT]?i?B(?:/s)?|[kMG]?Hz|ms|V|A|W|rpm|RPM|dBm)?`)
)

// ParseNumberCell parses a cell that holds nothing but a number with an optional unit
func ParseNumberCell(text string) (float64, bool) {
	text = strings.ReplaceAll(text, "\u00a0", " ")
	m := numberWithUnit.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	return parseDecimal(m[1])
}

func parseDecimal(raw string) (float64, bool) {
	if !strings.Contains(raw, ".") {
		raw = strings.Replace(raw, ",", ".", 1)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// toFloat converts a decoded JSON value into a float
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		return parseDecimal(strings.TrimSpace(n))
	}
	return 0, false
}

// looksLikeEpoch reports whether v is plausibly a Unix timestamp in seconds or milliseconds
func looksLikeEpoch(v float64) bool {
	return v >= minEpochSeconds
}

// epochToTime converts seconds or milliseconds since the epoch into a time
func epochToTime(v float64) time.Time {
	if v >= minEpochMillis {
		v /= 1000
	}
	sec, frac := math.Modf(v)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

// floatTime converts fractional seconds since the epoch into a time
func floatTime(v float64) time.Time {
	sec, frac := math.Modf(v)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}
