// Package rates converts prices between currencies using cached
// exchange-rate tables with a twice-daily refresh policy.
package rates

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"pastel-deals/internal/storage"
)

// ErrProviderUnavailable indicates the rate provider could not be reached
// and no cached value was available to fall back on.
var ErrProviderUnavailable = errors.New("rates: provider unavailable")

// Provider returns the full exchange-rate table anchored at a base currency.
type Provider interface {
	GetRates(ctx context.Context, base string) (map[string]decimal.Decimal, error)
}

// CacheOptions tune cache behaviour.
type CacheOptions struct {
	StaleAfter time.Duration
}

type entry struct {
	rate      decimal.Decimal
	fetchedAt time.Time
}

// Cache wraps a Provider with a staleness-driven in-memory cache. A stale
// rate triggers a refetch before use; when the refetch fails the last-known
// rate is returned with a warning instead of failing the caller. Refreshes
// are single-flight per base currency.
type Cache struct {
	provider  Provider
	snapshots storage.RateSnapshotStore // optional
	opts      CacheOptions
	logger    zerolog.Logger

	mu      sync.RWMutex
	entries map[string]entry // "FROM/TO" -> entry
	group   singleflight.Group

	now func() time.Time
}

// NewCache constructs a rate cache. snapshots may be nil when persistence
// is not configured.
func NewCache(provider Provider, snapshots storage.RateSnapshotStore, opts CacheOptions, logger zerolog.Logger) *Cache {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 12 * time.Hour
	}
	return &Cache{
		provider:  provider,
		snapshots: snapshots,
		opts:      opts,
		logger:    logger.With().Str("component", "rate_cache").Logger(),
		entries:   make(map[string]entry),
		now:       time.Now,
	}
}

func pairKey(from, to string) string {
	return from + "/" + to
}

// Restore seeds the cache from the persisted snapshot for a base currency.
// Stale snapshot entries are still loaded; they serve as the degraded
// fallback until the first successful refresh.
func (c *Cache) Restore(ctx context.Context, base string) error {
	if c.snapshots == nil {
		return nil
	}
	snaps, err := c.snapshots.LoadRates(ctx, base)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, snap := range snaps {
		c.entries[pairKey(base, snap.Quote)] = entry{rate: snap.Rate, fetchedAt: snap.FetchedAt}
	}
	if len(snaps) > 0 {
		c.logger.Info().Str("base", base).Int("count", len(snaps)).Msg("rate snapshot restored")
	}
	return nil
}

// Rate returns the exchange rate from one currency to another, refreshing
// the table anchored at from when the cached value is missing or older than
// the staleness window.
func (c *Cache) Rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	if from == to {
		return decimal.NewFromInt(1), nil
	}

	key := pairKey(from, to)

	c.mu.RLock()
	cached, ok := c.entries[key]
	c.mu.RUnlock()

	if ok && c.now().Sub(cached.fetchedAt) < c.opts.StaleAfter {
		return cached.rate, nil
	}

	// Miss or stale: refresh the whole table for this base. Concurrent
	// callers share one in-flight provider call.
	_, err, _ := c.group.Do(from, func() (any, error) {
		return nil, c.refresh(ctx, from)
	})
	if err != nil {
		if ok {
			c.logger.Warn().Err(err).Str("pair", key).
				Msg("rate refresh failed; using stale cached rate")
			return cached.rate, nil
		}
		return decimal.Decimal{}, err
	}

	c.mu.RLock()
	refreshed, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("%w: no rate for %s", ErrProviderUnavailable, key)
	}
	return refreshed.rate, nil
}

// Convert converts an amount between currencies, rounded to cents.
func (c *Cache) Convert(ctx context.Context, amount decimal.Decimal, from, to string) (decimal.Decimal, error) {
	rate, err := c.Rate(ctx, from, to)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return amount.Mul(rate).Round(2), nil
}

func (c *Cache) refresh(ctx context.Context, base string) error {
	table, err := c.provider.GetRates(ctx, base)
	if err != nil {
		return err
	}
	fetchedAt := c.now().UTC()

	c.mu.Lock()
	for quote, rate := range table {
		c.entries[pairKey(base, quote)] = entry{rate: rate, fetchedAt: fetchedAt}
	}
	c.mu.Unlock()

	if c.snapshots != nil {
		snaps := make([]storage.RateSnapshot, 0, len(table))
		for quote, rate := range table {
			snaps = append(snaps, storage.RateSnapshot{Quote: quote, Rate: rate, FetchedAt: fetchedAt})
		}
		if err := c.snapshots.SaveRates(ctx, base, snaps); err != nil {
			c.logger.Warn().Err(err).Str("base", base).Msg("failed to persist rate snapshot")
		}
	}

	c.logger.Info().Str("base", base).Int("count", len(table)).Msg("exchange rates refreshed")
	return nil
}
