package service

import (
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/jlk/checkmk-llm-server-sub000/internal/features/history/domain"
)

// latestTimestamp rejects obviously corrupt far-future timestamps
var latestTimestamp = time.Date(2100, time.January, 1, 0, 0, 0, 0, time.UTC)

// kindOrder puts series points before aggregates at equal instants
var kindOrder = map[domain.Kind]int{
	domain.KindSeries:  0,
	domain.KindMin:     1,
	domain.KindMax:     2,
	domain.KindAverage: 3,
	domain.KindFirst:   4,
	domain.KindLast:    5,
	domain.KindCurrent: 6,
}

type sampleKey struct {
	kind  domain.Kind
	nanos int64
	value float64
}

// DataNormalizer validates, deduplicates and orders candidate samples
type DataNormalizer struct {
	valueRange domain.ValueRange
	logger     *slog.Logger
}

// NewDataNormalizer creates a normalizer for the given plausible range
func NewDataNormalizer(valueRange domain.ValueRange, logger *slog.Logger) *DataNormalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &DataNormalizer{valueRange: valueRange, logger: logger}
}

// Normalize drops invalid samples, removes exact duplicates and sorts by time.
// Normalizing an already normalized slice returns an equal slice.
func (n *DataNormalizer) Normalize(candidates []domain.Sample) []domain.Sample {
	seen := make(map[sampleKey]struct{}, len(candidates))
	result := make([]domain.Sample, 0, len(candidates))
	dropped := 0

	for _, s := range candidates {
		if !n.valid(s) {
			dropped++
			continue
		}
		if s.Kind == "" {
			s.Kind = domain.KindSeries
		}
		key := sampleKey{kind: s.Kind, nanos: s.Timestamp.UnixNano(), value: s.Value}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		result = append(result, s)
	}

	sort.SliceStable(result, func(i, j int) bool {
		if !result[i].Timestamp.Equal(result[j].Timestamp) {
			return result[i].Timestamp.Before(result[j].Timestamp)
		}
		return kindOrder[result[i].Kind] < kindOrder[result[j].Kind]
	})

	if dropped > 0 {
		n.logger.Debug("dropped invalid samples", "count", dropped)
	}
	if len(result) == 0 {
		n.logger.Info("no samples left after normalization", "candidates", len(candidates))
	}
	return result
}

func (n *DataNormalizer) valid(s domain.Sample) bool {
	if s.Timestamp.IsZero() || s.Timestamp.Unix() <= 0 || !s.Timestamp.Before(latestTimestamp) {
		return false
	}
	if math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
		return false
	}
	return n.valueRange.Contains(s.Value)
}
