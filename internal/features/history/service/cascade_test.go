package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jlk/checkmk-llm-server-sub000/internal/common"
	"github.com/jlk/checkmk-llm-server-sub000/internal/features/history/domain"
)

func fixedSamples(values ...float64) []domain.Sample {
	base := time.Unix(1700000000, 0).UTC()
	samples := make([]domain.Sample, len(values))
	for i, v := range values {
		samples[i] = domain.Sample{Timestamp: base.Add(time.Duration(i) * time.Minute), Value: v, Kind: domain.KindSeries}
	}
	return samples
}

type countingStrategy struct {
	name    string
	outcome Outcome
	calls   int
}

func (s *countingStrategy) Name() string { return s.name }

func (s *countingStrategy) Attempt(context.Context, *Request) Outcome {
	s.calls++
	return s.outcome
}

func TestOutcomeConstructors(t *testing.T) {
	assert.Equal(t, OutcomeEmpty, Success(nil).Status)
	assert.Equal(t, OutcomeSuccess, Success(fixedSamples(1)).Status)
	assert.Equal(t, OutcomeSoftFailure, SoftFailure(errors.New("x")).Status)
	assert.Equal(t, "soft_failure", OutcomeSoftFailure.String())
}

func TestCascadeFirstSuccessWins(t *testing.T) {
	failing := &countingStrategy{name: "failing", outcome: SoftFailure(errors.New("render failed"))}
	empty := &countingStrategy{name: "empty", outcome: Empty()}
	winner := &countingStrategy{name: "winner", outcome: Success(fixedSamples(1, 2))}
	never := &countingStrategy{name: "never", outcome: Success(fixedSamples(9))}

	cascade := &Cascade{
		Stage:      "graph",
		Strategies: []Strategy{failing, empty, winner, never},
		Logger:     common.DiscardLogger(),
	}

	result := cascade.Run(context.Background(), &Request{})

	assert.Len(t, result, 2)
	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, 1, empty.calls)
	assert.Equal(t, 0, never.calls)
}

func TestCascadeMergeStopsWhenSufficient(t *testing.T) {
	first := &countingStrategy{name: "first", outcome: Success(fixedSamples(1))}
	second := &countingStrategy{name: "second", outcome: Success(fixedSamples(2))}
	third := &countingStrategy{name: "third", outcome: Success(fixedSamples(3))}

	cascade := &Cascade{
		Stage:      "alternatives",
		Strategies: []Strategy{first, second, third},
		Merge:      true,
		Sufficient: func(total int) bool { return total > 1 },
		Logger:     common.DiscardLogger(),
	}

	result := cascade.Run(context.Background(), &Request{})

	assert.Len(t, result, 2)
	assert.Equal(t, 0, third.calls)
}

func TestCascadeIsolatesPanics(t *testing.T) {
	panicking := NewStrategy("panicking", func(context.Context, *Request) Outcome {
		var m map[string]int
		m["boom"]++
		return Empty()
	})
	after := &countingStrategy{name: "after", outcome: Success(fixedSamples(4))}

	cascade := &Cascade{Stage: "graph", Strategies: []Strategy{panicking, after}, Logger: common.DiscardLogger()}

	result := cascade.Run(context.Background(), &Request{})

	require.Len(t, result, 1)
	assert.Equal(t, 1, after.calls)
}

func TestCascadeStopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	strategy := &countingStrategy{name: "s", outcome: Success(fixedSamples(1))}

	cascade := &Cascade{Stage: "graph", Strategies: []Strategy{strategy}, Logger: common.DiscardLogger()}

	assert.Empty(t, cascade.Run(ctx, &Request{}))
	assert.Equal(t, 0, strategy.calls)
}
