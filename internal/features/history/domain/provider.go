package domain

import "context"

// Provider defines the interface for the history extraction service
type Provider interface {
	// ExtractHistoricalData returns the ordered samples of one host/check over a period.
	// An empty result is not an error.
	ExtractHistoricalData(ctx context.Context, period, host, check string) ([]Sample, error)
}
