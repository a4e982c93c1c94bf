// Package service orchestrates the per-source poll cycles: poll, dedupe,
// convert prices, format, and publish.
package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pastel-deals/internal/fetcher"
	"pastel-deals/internal/formatter"
	"pastel-deals/internal/models"
	"pastel-deals/internal/pipeline"
	"pastel-deals/internal/publisher"
	"pastel-deals/internal/rates"
	"pastel-deals/internal/scheduler"
)

// Options name the display currencies for posted prices.
type Options struct {
	BaseCurrency      string
	DisplayCurrencies []string
	PruneInterval     time.Duration
	PruneOlderThan    time.Duration
}

// Service drives the ingestion pipeline and publishes its output.
type Service struct {
	pipeline  *pipeline.Pipeline
	publisher *publisher.Publisher
	rates     *rates.Cache
	opts      Options
	logger    zerolog.Logger
}

// New constructs the service.
func New(p *pipeline.Pipeline, pub *publisher.Publisher, cache *rates.Cache, opts Options, logger zerolog.Logger) *Service {
	if opts.BaseCurrency == "" {
		opts.BaseCurrency = "USD"
	}
	return &Service{
		pipeline:  p,
		publisher: pub,
		rates:     cache,
		opts:      opts,
		logger:    logger.With().Str("component", "service").Logger(),
	}
}

// SourceJob builds the recurring job for one deal source. The job runs once
// immediately at startup (the first run after a fresh install only seeds the
// store) and then at the source's own interval.
func (s *Service) SourceJob(f fetcher.DealFetcher, interval time.Duration) scheduler.Job {
	return scheduler.Job{
		Name:      string(f.Source()),
		Interval:  interval,
		Immediate: true,
		Run: func(ctx context.Context) error {
			return s.runCycle(ctx, f, interval)
		},
	}
}

// PruneJob builds the daily record-pruning job.
func (s *Service) PruneJob() scheduler.Job {
	return scheduler.Job{
		Name:     "prune",
		Interval: s.opts.PruneInterval,
		Run: func(ctx context.Context) error {
			_, err := s.pipeline.Prune(ctx, s.opts.PruneOlderThan)
			return err
		},
	}
}

// runCycle executes one poll cycle for one source. Errors from the fetch are
// surfaced to the scheduler, which logs and retries at the next cadence; a
// failing post is logged and the remaining deals still go out.
func (s *Service) runCycle(ctx context.Context, f fetcher.DealFetcher, interval time.Duration) error {
	deals, err := s.pipeline.Ingest(ctx, f, interval)
	if err != nil {
		return err
	}

	for _, deal := range deals {
		msg := s.render(ctx, deal)
		eventID, err := s.publisher.Publish(ctx, deal, msg)
		if err != nil {
			s.logger.Error().Err(err).Str("title", deal.Title).Msg("failed to post deal")
			continue
		}
		if eventID != "" {
			s.logger.Info().Str("title", deal.Title).Str("event_id", eventID).Msg("posted deal")
		}
	}
	return nil
}

func (s *Service) render(ctx context.Context, deal models.Deal) formatter.Message {
	if deal.Source == models.SourceEpic {
		return formatter.FormatDeal(deal, nil, nil)
	}
	sale := s.displayPrices(ctx, deal.SalePrice, deal.Currency)
	base := s.displayPrices(ctx, deal.BasePrice, deal.Currency)
	return formatter.FormatDeal(deal, sale, base)
}

// displayPrices converts an amount into the configured display currencies.
// A currency whose rate cannot be resolved is simply omitted; the native
// amount always survives, so posting degrades instead of blocking.
func (s *Service) displayPrices(ctx context.Context, amount decimal.Decimal, from string) []formatter.Price {
	targets := make([]string, 0, len(s.opts.DisplayCurrencies)+1)
	targets = append(targets, s.opts.BaseCurrency)
	for _, c := range s.opts.DisplayCurrencies {
		if c != s.opts.BaseCurrency {
			targets = append(targets, c)
		}
	}

	prices := make([]formatter.Price, 0, len(targets))
	for _, target := range targets {
		converted, err := s.rates.Convert(ctx, amount, from, target)
		if err != nil {
			s.logger.Warn().Err(err).Str("from", from).Str("to", target).Msg("price conversion unavailable")
			continue
		}
		prices = append(prices, formatter.Price{Currency: target, Amount: converted})
	}

	if len(prices) == 0 {
		prices = append(prices, formatter.Price{Currency: from, Amount: amount.Round(2)})
	}
	return prices
}
