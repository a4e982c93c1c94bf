package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"pastel-deals/internal/fetcher"
	"pastel-deals/internal/rates"
)

// Preflight validates connectivity to every configured collaborator without
// entering the polling loop. It returns an error when any critical check
// fails so the CLI can exit non-zero.
func (a *App) Preflight(ctx context.Context) error {
	allOK := true

	fmt.Fprintln(os.Stdout, "\npastel — preflight checks")

	fmt.Fprintln(os.Stdout, "\nMatrix")
	allOK = a.checkMatrix(ctx) && allOK

	fmt.Fprintln(os.Stdout, "\nDatabase")
	allOK = a.checkDatabase() && allOK

	fmt.Fprintln(os.Stdout, "\nCheapShark")
	allOK = a.checkCheapShark(ctx) && allOK

	fmt.Fprintln(os.Stdout, "\nEpic Games Store")
	allOK = a.checkEpic(ctx) && allOK

	fmt.Fprintln(os.Stdout, "\nFrankfurter (exchange rates)")
	allOK = a.checkFrankfurter(ctx) && allOK

	fmt.Fprintln(os.Stdout, "\nIsThereAnyDeal")
	allOK = a.checkITAD(ctx) && allOK

	fmt.Fprintln(os.Stdout)
	if !allOK {
		fmt.Fprintln(os.Stdout, "Some checks failed. Review the errors above before starting the bot.")
		return errors.New("preflight checks failed")
	}
	fmt.Fprintln(os.Stdout, "All checks passed. The bot is ready to run.")
	return nil
}

func pass(label, detail string) bool {
	if detail != "" {
		detail = " — " + detail
	}
	fmt.Fprintf(os.Stdout, "  ✓ %s%s\n", label, detail)
	return true
}

func fail(label string, err error) bool {
	fmt.Fprintf(os.Stdout, "  ✗ %s — %v\n", label, err)
	return false
}

func skip(label, detail string) bool {
	fmt.Fprintf(os.Stdout, "  – %s — %s\n", label, detail)
	return true // skips don't count as failures
}

func (a *App) checkMatrix(ctx context.Context) bool {
	mx := a.newMatrixClient()

	userID, err := mx.WhoAmI(ctx)
	if err != nil {
		return fail("Authentication", err)
	}
	ok := pass("Authentication", "logged in as "+userID)

	rooms, err := mx.JoinedRooms(ctx)
	if err != nil {
		return fail("Room access", err)
	}
	for _, room := range rooms {
		if room == a.Config.Matrix.RoomID {
			return pass("Room access", "bot is a member of "+room) && ok
		}
	}
	return fail("Room access", fmt.Errorf("bot is NOT in %s — invite the bot first", a.Config.Matrix.RoomID))
}

func (a *App) checkDatabase() bool {
	store, err := a.openStore()
	if err != nil {
		return fail("Database open", err)
	}
	defer store.Close()
	return pass("Database open", a.Config.Database.Path)
}

func (a *App) checkCheapShark(ctx context.Context) bool {
	cs := fetcher.NewCheapShark(fetcher.CheapSharkOptions{
		BaseURL:     a.Config.Sources.CheapShark.BaseURL,
		MinDiscount: a.Config.CheapSharkMinDiscount(),
		MinRating:   a.Config.Sources.CheapShark.MinRating,
		MaxPrice:    a.Config.CheapSharkMaxPrice(),
		PageSize:    1,
		Timeout:     a.Config.Sources.CheapShark.RequestTimeout,
	}, a.Logger)

	deals, err := cs.Fetch(ctx)
	if err != nil {
		return fail("API reachable", err)
	}
	return pass("API reachable", fmt.Sprintf("%d deal(s) in response", len(deals)))
}

func (a *App) checkEpic(ctx context.Context) bool {
	epic := fetcher.NewEpic(fetcher.EpicOptions{
		BaseURL: a.Config.Sources.Epic.BaseURL,
		Locale:  a.Config.Sources.Epic.Locale,
		Timeout: a.Config.Sources.Epic.RequestTimeout,
	}, a.Logger)

	deals, err := epic.Fetch(ctx)
	if err != nil {
		return fail("API reachable", err)
	}
	return pass("API reachable", fmt.Sprintf("%d promotion(s) in catalog", len(deals)))
}

func (a *App) checkFrankfurter(ctx context.Context) bool {
	provider := rates.NewFrankfurter(rates.FrankfurterOptions{
		BaseURL: a.Config.Rates.BaseURL,
		Timeout: a.Config.Rates.RequestTimeout,
	}, a.Logger)

	table, err := provider.GetRates(ctx, a.Config.Rates.BaseCurrency)
	if err != nil {
		return fail("API reachable", err)
	}
	return pass("API reachable", fmt.Sprintf("%d rate(s) returned", len(table)))
}

func (a *App) checkITAD(ctx context.Context) bool {
	cfg := a.Config.Sources.ITAD
	if !cfg.Enabled {
		return skip("Skipped", "sources.itad.enabled is false")
	}
	if cfg.APIKey == "" {
		return skip("Skipped", "no sources.itad.api_key configured (optional)")
	}

	// One country is enough to validate the key.
	countries := cfg.Countries
	if len(countries) > 1 {
		countries = countries[:1]
	}

	itad := fetcher.NewITAD(fetcher.ITADOptions{
		BaseURL:     cfg.BaseURL,
		APIKey:      cfg.APIKey,
		Countries:   countries,
		MinDiscount: a.Config.ITADMinDiscount(),
		MaxPrice:    a.Config.ITADMaxPrice(),
		Limit:       1,
		Timeout:     cfg.RequestTimeout,
	}, nil, a.Logger)

	if _, err := itad.Fetch(ctx); err != nil {
		return fail("API key", err)
	}
	return pass("API key valid", "ITAD responded successfully")
}
