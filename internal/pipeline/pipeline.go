// Package pipeline merges the heterogeneous deal sources into a single
// deduplicated, filtered, persisted stream of postable deals.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pastel-deals/internal/fetcher"
	"pastel-deals/internal/models"
	"pastel-deals/internal/storage"
)

// Pipeline owns the write path into the dedup store. Each source's cycle is
// sequential with respect to itself (the scheduler never overlaps a job), and
// the single-connection store serializes writes across sources.
type Pipeline struct {
	store  storage.DealRecordStore
	logger zerolog.Logger

	mu       sync.Mutex
	firstRun bool
	seeded   map[models.Source]bool
}

// New constructs the pipeline, capturing first-run state once, before any
// source's first poll. First run means the store has never seen a deal: the
// first cycle per source then seeds the store with the current market state
// instead of flooding the room.
func New(ctx context.Context, store storage.DealRecordStore, logger zerolog.Logger) (*Pipeline, error) {
	count, err := store.CountRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("determine first-run state: %w", err)
	}

	p := &Pipeline{
		store:    store,
		logger:   logger.With().Str("component", "pipeline").Logger(),
		firstRun: count == 0,
		seeded:   make(map[models.Source]bool),
	}
	if p.firstRun {
		p.logger.Info().Msg("empty store detected; first cycle per source will seed without posting")
	}
	return p, nil
}

// Ingest runs one poll cycle for a source and returns the new postable deals
// in discovery order. A source failure is returned as-is so the caller can
// log and skip the cycle; it never affects other sources.
func (p *Pipeline) Ingest(ctx context.Context, f fetcher.DealFetcher, interval time.Duration) ([]models.Deal, error) {
	deals, err := f.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("poll %s: %w", f.Source(), err)
	}

	seedOnly := p.takeSeed(f.Source())

	var fresh []models.Deal
	var seededCount int
	for _, deal := range deals {
		if err := deal.Validate(); err != nil {
			p.logger.Warn().Err(err).Str("source", string(f.Source())).Msg("discarding invalid deal")
			continue
		}

		rec := deal.Record(interval)

		if seedOnly {
			if err := p.insert(ctx, rec); err != nil {
				p.logger.Error().Err(err).Str("title", rec.Title).Msg("failed to seed deal record")
				continue
			}
			seededCount++
			continue
		}

		exists, err := p.store.ExistsRecord(ctx, rec.Source, rec.GameID, rec.Bucket)
		if err != nil {
			p.logger.Error().Err(err).Str("title", rec.Title).Msg("dedup check failed; skipping deal")
			continue
		}
		if exists {
			continue
		}

		// The record is persisted before the deal is ever emitted, so a
		// crash between insert and post can only under-post, never spam.
		if err := p.insert(ctx, rec); err != nil {
			p.logger.Error().Err(err).Str("title", rec.Title).Msg("failed to insert deal record")
			continue
		}
		fresh = append(fresh, deal)
	}

	if seedOnly {
		p.logger.Info().Str("source", string(f.Source())).Int("count", seededCount).
			Msg("first run: recorded existing deals without posting")
		return nil, nil
	}

	p.logger.Info().Str("source", string(f.Source())).
		Int("polled", len(deals)).Int("new", len(fresh)).Msg("cycle complete")
	return fresh, nil
}

// insert treats a duplicate key as an idempotent no-op.
func (p *Pipeline) insert(ctx context.Context, rec models.DealRecord) error {
	err := p.store.InsertRecord(ctx, rec)
	if errors.Is(err, storage.ErrDuplicateRecord) {
		return nil
	}
	return err
}

// Prune removes records older than the cutoff and returns the count deleted.
func (p *Pipeline) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	deleted, err := p.store.PruneRecords(ctx, olderThan)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		p.logger.Info().Int64("count", deleted).Msg("pruned old deal records")
	}
	return deleted, nil
}

// takeSeed reports whether this cycle should seed silently. True at most
// once per source, and only when the process started with an empty store.
func (p *Pipeline) takeSeed(source models.Source) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.firstRun || p.seeded[source] {
		return false
	}
	p.seeded[source] = true
	return true
}
