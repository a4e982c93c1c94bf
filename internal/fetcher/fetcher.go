// Package fetcher contains the per-source deal adapters. Each adapter
// normalizes provider records into the common Deal shape and applies its
// source-specific thresholds.
package fetcher

import (
	"context"
	"errors"

	"pastel-deals/internal/models"
)

// ErrSourceUnavailable indicates a network or parse failure from one deal
// source. An empty result is not an error.
var ErrSourceUnavailable = errors.New("fetcher: source unavailable")

// DealFetcher is the polling contract implemented by every source adapter.
type DealFetcher interface {
	Source() models.Source
	Fetch(ctx context.Context) ([]models.Deal, error)
}
