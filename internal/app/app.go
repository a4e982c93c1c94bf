package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"pastel-deals/internal/config"
	"pastel-deals/internal/fetcher"
	"pastel-deals/internal/matrix"
	"pastel-deals/internal/pipeline"
	"pastel-deals/internal/publisher"
	"pastel-deals/internal/rates"
	"pastel-deals/internal/scheduler"
	"pastel-deals/internal/service"
	"pastel-deals/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) openStore() (*storage.Store, error) {
	store, err := storage.Open(a.Config.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", a.Config.Database.Path, err)
	}
	return store, nil
}

func (a *App) newMatrixClient() *matrix.Client {
	cfg := a.Config.Matrix
	return matrix.NewClient(matrix.Options{
		HomeserverURL:  cfg.HomeserverURL,
		UserID:         cfg.UserID,
		AccessToken:    cfg.AccessToken,
		Timeout:        cfg.RequestTimeout,
		SendsPerSecond: cfg.SendsPerSecond,
	}, a.Logger)
}

func (a *App) newRateCache(snapshots storage.RateSnapshotStore) *rates.Cache {
	provider := rates.NewFrankfurter(rates.FrankfurterOptions{
		BaseURL: a.Config.Rates.BaseURL,
		Timeout: a.Config.Rates.RequestTimeout,
	}, a.Logger)

	return rates.NewCache(provider, snapshots, rates.CacheOptions{
		StaleAfter: a.Config.Rates.StaleAfter,
	}, a.Logger)
}

type sourceSpec struct {
	fetcher  fetcher.DealFetcher
	interval time.Duration
}

func (a *App) newSources(cache *rates.Cache) []sourceSpec {
	var sources []sourceSpec

	if cs := a.Config.Sources.CheapShark; cs.Enabled {
		sources = append(sources, sourceSpec{
			fetcher: fetcher.NewCheapShark(fetcher.CheapSharkOptions{
				BaseURL:     cs.BaseURL,
				MinDiscount: a.Config.CheapSharkMinDiscount(),
				MinRating:   cs.MinRating,
				MaxPrice:    a.Config.CheapSharkMaxPrice(),
				PageSize:    cs.PageSize,
				Timeout:     cs.RequestTimeout,
			}, a.Logger),
			interval: cs.Interval,
		})
	}

	if itad := a.Config.Sources.ITAD; itad.Enabled {
		if itad.APIKey == "" {
			a.Logger.Warn().Msg("sources.itad.api_key not set; ITAD source disabled")
		} else {
			sources = append(sources, sourceSpec{
				fetcher: fetcher.NewITAD(fetcher.ITADOptions{
					BaseURL:     itad.BaseURL,
					APIKey:      itad.APIKey,
					Countries:   itad.Countries,
					MinDiscount: a.Config.ITADMinDiscount(),
					MaxPrice:    a.Config.ITADMaxPrice(),
					Limit:       itad.DealsLimit,
					Timeout:     itad.RequestTimeout,
				}, cache, a.Logger),
				interval: itad.Interval,
			})
		}
	}

	if epic := a.Config.Sources.Epic; epic.Enabled {
		sources = append(sources, sourceSpec{
			fetcher: fetcher.NewEpic(fetcher.EpicOptions{
				BaseURL: epic.BaseURL,
				Locale:  epic.Locale,
				Timeout: epic.RequestTimeout,
			}, a.Logger),
			interval: epic.Interval,
		})
	}

	return sources
}

// Run executes the long-running polling loop.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	mx := a.newMatrixClient()
	userID, err := mx.WhoAmI(ctx)
	if err != nil {
		return fmt.Errorf("matrix authentication: %w", err)
	}
	a.Logger.Info().Str("user_id", userID).Msg("authenticated with homeserver")

	if err := mx.EnsureJoined(ctx, a.Config.Matrix.RoomID); err != nil {
		return err
	}

	cache := a.newRateCache(store)
	if err := cache.Restore(ctx, a.Config.Rates.BaseCurrency); err != nil {
		a.Logger.Warn().Err(err).Msg("could not restore rate snapshot")
	}

	sources := a.newSources(cache)
	if len(sources) == 0 {
		return errors.New("no deal sources enabled")
	}

	pipe, err := pipeline.New(ctx, store, a.Logger)
	if err != nil {
		return err
	}

	pub := publisher.New(mx, store, publisher.Options{
		RoomID:     a.Config.Matrix.RoomID,
		UseThreads: a.Config.Matrix.UseThreads,
	}, a.Logger)

	svc := service.New(pipe, pub, cache, service.Options{
		BaseCurrency:      a.Config.Rates.BaseCurrency,
		DisplayCurrencies: a.Config.Rates.Currencies,
		PruneInterval:     a.Config.Pruning.Interval,
		PruneOlderThan:    a.Config.Pruning.OlderThan,
	}, a.Logger)

	sched := scheduler.New(a.Logger)
	for _, src := range sources {
		sched.Add(svc.SourceJob(src.fetcher, src.interval))
	}
	sched.Add(svc.PruneJob())

	a.Logger.Info().Int("sources", len(sources)).Msg("starting deals bot")
	err = sched.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("bot terminated with error")
		return err
	}

	a.Logger.Info().Msg("deals bot stopped")
	return nil
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// PruneOptions configure the one-shot prune command.
type PruneOptions struct {
	OlderThan time.Duration
}
