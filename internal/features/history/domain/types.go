package domain

import (
	"encoding/json"
	"math"
	"time"
)

// Kind tells a time-series point apart from a scalar aggregate
type Kind string

// Sample kinds
const (
	KindSeries  Kind = "series"
	KindMin     Kind = "min"
	KindMax     Kind = "max"
	KindAverage Kind = "average"
	KindLast    Kind = "last"
	KindFirst   Kind = "first"
	KindCurrent Kind = "current"
)

// AggregateKinds lists the scalar aggregates in presentation order
var AggregateKinds = []Kind{KindMin, KindMax, KindAverage, KindLast, KindFirst}

// IsAggregate reports whether k names a scalar aggregate rather than a series point
func (k Kind) IsAggregate() bool {
	return k != KindSeries && k != ""
}

// Sample is one measurement or named scalar aggregate
type Sample struct {
	// Timestamp is the instant the value applies to
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	// Value is the measurement
	Value float64 `json:"value" yaml:"value"`
	// Kind is "series" or an aggregate name
	Kind Kind `json:"kind" yaml:"kind"`
}

// ValueRange is the plausible physical range of a measurement
type ValueRange struct {
	Min float64
	Max float64
}

// DefaultValueRange returns the default plausible range
func DefaultValueRange() ValueRange {
	return ValueRange{Min: -100, Max: 200}
}

// Contains reports whether v is a finite value within the range
func (r ValueRange) Contains(v float64) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false
	}
	return v >= r.Min && v <= r.Max
}

// ExtractionParameters is the graph request bundle rebuilt from the page.
// Only DataRange["time_range"] is ever rewritten; the rest is passed through.
type ExtractionParameters struct {
	DrawRecipe   json.RawMessage
	DataRange    map[string]any
	RenderConfig json.RawMessage
	DisplayID    json.RawMessage
	// Partial is set when any argument was recovered field by field
	Partial bool
}

// TimeBounds is the time range the pipeline itself asked the server for
type TimeBounds struct {
	Start time.Time
	End   time.Time
}

// Duration returns the length of the bounds
func (b TimeBounds) Duration() time.Duration {
	return b.End.Sub(b.Start)
}

// Point is one curve point. Timestamp is zero when the position is implied by the index.
// Lead holds the first element of a [lead, value] pair that is not an epoch
// timestamp: an offset from the curve start, or the base of a stacked area.
type Point struct {
	Timestamp float64
	Value     *float64
	Lead      *float64
}

// Curve is one server-side series as returned by the render endpoint
type Curve struct {
	Title   string
	Points  []Point
	Scalars map[Kind]*float64
	// Start and Step come from per-curve metadata (rrddata exports), zero if absent
	Start float64
	Step  float64
}
