package domain

import (
	"strings"
	"time"
)

// Period maps an external time window token onto the server's graph range vocabulary
type Period struct {
	// Token is the canonical external token
	Token string
	// GraphRange is the value the dashboard expects
	GraphRange string
	// Seconds is the window length
	Seconds int64
}

// Duration returns the window length
func (p Period) Duration() time.Duration {
	return time.Duration(p.Seconds) * time.Second
}

// periods is ordered shortest first
var periods = []Period{
	{Token: "4h", GraphRange: "4h", Seconds: 4 * 3600},
	{Token: "25h", GraphRange: "25h", Seconds: 25 * 3600},
	{Token: "8d", GraphRange: "8d", Seconds: 8 * 86400},
	{Token: "35d", GraphRange: "35d", Seconds: 35 * 86400},
	{Token: "400d", GraphRange: "400d", Seconds: 400 * 86400},
}

var periodAliases = map[string]string{
	"hour":  "4h",
	"day":   "25h",
	"week":  "8d",
	"month": "35d",
	"year":  "400d",
}

// ShortestPeriod returns the fallback period for unknown tokens
func ShortestPeriod() Period {
	return periods[0]
}

// Periods returns all supported periods, shortest first
func Periods() []Period {
	out := make([]Period, len(periods))
	copy(out, periods)
	return out
}

// ResolvePeriod maps a token onto a Period. Unknown tokens resolve to the
// shortest period and ok=false so the caller can warn.
func ResolvePeriod(token string) (Period, bool) {
	token = strings.ToLower(strings.TrimSpace(token))
	if alias, exists := periodAliases[token]; exists {
		token = alias
	}
	for _, p := range periods {
		if p.Token == token {
			return p, true
		}
	}
	return ShortestPeriod(), false
}
