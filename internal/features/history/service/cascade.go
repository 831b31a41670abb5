package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	bdomain "github.com/jlk/checkmk-llm-server-sub000/internal/features/backend/domain"
	"github.com/jlk/checkmk-llm-server-sub000/internal/features/history/domain"
)

// OutcomeStatus tags the result of one strategy attempt
type OutcomeStatus int

const (
	// OutcomeSuccess means the strategy produced at least one sample
	OutcomeSuccess OutcomeStatus = iota
	// OutcomeEmpty means the strategy ran but found nothing
	OutcomeEmpty
	// OutcomeSoftFailure means the strategy could not run to completion
	OutcomeSoftFailure
)

// String returns the label used in logs and metrics
func (s OutcomeStatus) String() string {
	switch s {
	case OutcomeSuccess:
		return "success"
	case OutcomeEmpty:
		return "empty"
	case OutcomeSoftFailure:
		return "soft_failure"
	default:
		return "unknown"
	}
}

// Outcome is Success(samples), Empty or SoftFailure(reason)
type Outcome struct {
	Status  OutcomeStatus
	Samples []domain.Sample
	Reason  error
}

// Success wraps samples; an empty slice is reported as Empty
func Success(samples []domain.Sample) Outcome {
	if len(samples) == 0 {
		return Empty()
	}
	return Outcome{Status: OutcomeSuccess, Samples: samples}
}

// Empty reports a strategy that found nothing
func Empty() Outcome {
	return Outcome{Status: OutcomeEmpty}
}

// SoftFailure reports a strategy that failed without aborting the pipeline
func SoftFailure(reason error) Outcome {
	return Outcome{Status: OutcomeSoftFailure, Reason: reason}
}

// Request is the per-extraction state shared by all strategies.
// It is owned by one ExtractHistoricalData call.
type Request struct {
	Host     string
	Check    string
	Period   domain.Period
	Session  *bdomain.Session
	Page     string
	Document *Document
	// WindowEnd is the instant scalar aggregates are stamped with
	WindowEnd time.Time
}

// Strategy is one way of producing samples
type Strategy interface {
	Name() string
	Attempt(ctx context.Context, req *Request) Outcome
}

// strategyFunc adapts a function to Strategy
type strategyFunc struct {
	name string
	fn   func(ctx context.Context, req *Request) Outcome
}

func (s strategyFunc) Name() string { return s.name }

func (s strategyFunc) Attempt(ctx context.Context, req *Request) Outcome { return s.fn(ctx, req) }

// NewStrategy builds a Strategy from a function
func NewStrategy(name string, fn func(ctx context.Context, req *Request) Outcome) Strategy {
	return strategyFunc{name: name, fn: fn}
}

// Cascade tries strategies in order. Without Merge the first success wins;
// with Merge successes accumulate until Sufficient reports enough samples.
type Cascade struct {
	Stage      string
	Strategies []Strategy
	Merge      bool
	// Sufficient receives the number of samples merged so far
	Sufficient func(total int) bool
	Logger     *slog.Logger
	Metrics    *Metrics
}

// Run executes the cascade and returns the collected samples
func (c *Cascade) Run(ctx context.Context, req *Request) []domain.Sample {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var merged []domain.Sample
	for _, strategy := range c.Strategies {
		if err := ctx.Err(); err != nil {
			logger.Warn("cascade stopped", "stage", c.Stage, "error", err)
			break
		}

		outcome := attempt(ctx, strategy, req)
		c.Metrics.RecordOutcome(c.Stage, strategy.Name(), outcome.Status)

		switch outcome.Status {
		case OutcomeSuccess:
			logger.Debug("strategy succeeded", "stage", c.Stage, "strategy", strategy.Name(),
				"samples", len(outcome.Samples))
			if !c.Merge {
				return outcome.Samples
			}
			merged = append(merged, outcome.Samples...)
			if c.Sufficient != nil && c.Sufficient(len(merged)) {
				return merged
			}
		case OutcomeSoftFailure:
			logger.Warn("strategy failed", "stage", c.Stage, "strategy", strategy.Name(),
				"error", outcome.Reason)
		default:
			logger.Debug("strategy found nothing", "stage", c.Stage, "strategy", strategy.Name())
		}
	}
	return merged
}

// attempt isolates a strategy so a panic on malformed input only fails that strategy
func attempt(ctx context.Context, strategy Strategy, req *Request) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = SoftFailure(fmt.Errorf("strategy %s panicked: %v", strategy.Name(), r))
		}
	}()
	return strategy.Attempt(ctx, req)
}
