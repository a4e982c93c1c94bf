package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pastel-deals/internal/models"
)

func itadEntryJSON(id, title, typ string, cut int, price, regular float64, currency, flag string) string {
	return fmt.Sprintf(`{
		"id": %q,
		"slug": %q,
		"title": %q,
		"type": %q,
		"deal": {
			"cut": %d,
			"price": {"amount": %.2f, "currency": %q},
			"regular": {"amount": %.2f, "currency": %q},
			"shop": {"id": 61, "name": "Steam"},
			"url": "https://example.com/deal",
			"flag": %q,
			"expiry": "2026-09-01T00:00:00Z"
		}
	}`, id, id, title, typ, cut, price, currency, regular, currency, flag)
}

type fixedConverter struct {
	rate decimal.Decimal
	err  error
}

func (f fixedConverter) Convert(_ context.Context, amount decimal.Decimal, _, _ string) (decimal.Decimal, error) {
	if f.err != nil {
		return decimal.Decimal{}, f.err
	}
	return amount.Mul(f.rate).Round(2), nil
}

func newITADServer(t *testing.T, byCountry map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") == "" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		country := r.URL.Query().Get("country")
		body, ok := byCountry[country]
		if !ok {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		fmt.Fprintf(w, `{"list": [%s]}`, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestITADFetchCountryPriority(t *testing.T) {
	srv := newITADServer(t, map[string]string{
		"US": itadEntryJSON("018d-aaaa", "Hades", "game", 60, 9.99, 24.99, "USD", ""),
		"CA": itadEntryJSON("018d-aaaa", "Hades", "game", 60, 13.74, 32.99, "CAD", "") + "," +
			itadEntryJSON("018d-bbbb", "Celeste", "game", 75, 6.79, 26.99, "CAD", "H"),
	})

	itad := NewITAD(ITADOptions{
		BaseURL:     srv.URL,
		APIKey:      "test-key",
		Countries:   []string{"US", "CA"},
		MinDiscount: 50,
		MaxPrice:    20,
	}, fixedConverter{rate: decimal.RequireFromString("0.73")}, zerolog.Nop())

	deals, err := itad.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(deals) != 2 {
		t.Fatalf("Fetch() returned %d deals, want 2", len(deals))
	}

	// The US listing wins for the shared game; the CA-only game survives.
	if deals[0].GameID != "018d-aaaa" || deals[0].Country != "US" {
		t.Errorf("deals[0] = %s/%s, want 018d-aaaa/US", deals[0].GameID, deals[0].Country)
	}
	if deals[1].GameID != "018d-bbbb" || deals[1].Country != "CA" {
		t.Errorf("deals[1] = %s/%s, want 018d-bbbb/CA", deals[1].GameID, deals[1].Country)
	}
	if !deals[1].IsHistoricalLow {
		t.Error("flag H must mark the deal as a historical low")
	}
	if deals[1].ExpiresAt == nil {
		t.Error("expiry timestamp should be carried over")
	}
}

func TestITADFetchFiltersByCutAndPrice(t *testing.T) {
	srv := newITADServer(t, map[string]string{
		"US": itadEntryJSON("018d-cccc", "Shallow Cut", "game", 30, 13.99, 19.99, "USD", "") + "," +
			itadEntryJSON("018d-dddd", "Expensive", "game", 50, 29.99, 59.99, "USD", "") + "," +
			itadEntryJSON("018d-eeee", "Keeper", "game", 80, 3.99, 19.99, "USD", ""),
	})

	itad := NewITAD(ITADOptions{
		BaseURL:     srv.URL,
		APIKey:      "test-key",
		Countries:   []string{"US"},
		MinDiscount: 50,
		MaxPrice:    20,
	}, nil, zerolog.Nop())

	deals, err := itad.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(deals) != 1 {
		t.Fatalf("Fetch() returned %d deals, want 1", len(deals))
	}
	if deals[0].Title != "Keeper" {
		t.Errorf("deals[0].Title = %q, want Keeper", deals[0].Title)
	}
}

func TestITADFetchConvertsForeignPriceForFilter(t *testing.T) {
	// 26.00 CAD at 0.73 is 18.98 USD, inside the 20 USD ceiling.
	srv := newITADServer(t, map[string]string{
		"CA": itadEntryJSON("018d-ffff", "Borderline", "game", 55, 26.00, 57.99, "CAD", ""),
	})

	itad := NewITAD(ITADOptions{
		BaseURL:     srv.URL,
		APIKey:      "test-key",
		Countries:   []string{"CA"},
		MinDiscount: 50,
		MaxPrice:    20,
	}, fixedConverter{rate: decimal.RequireFromString("0.73")}, zerolog.Nop())

	deals, err := itad.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(deals) != 1 {
		t.Fatalf("Fetch() returned %d deals, want 1", len(deals))
	}
	if deals[0].Currency != "CAD" {
		t.Errorf("Currency = %q, want native CAD preserved", deals[0].Currency)
	}
}

func TestITADFetchSkipsDealWhenConversionFails(t *testing.T) {
	srv := newITADServer(t, map[string]string{
		"CA": itadEntryJSON("018d-gggg", "Unconvertible", "game", 55, 26.00, 57.99, "CAD", ""),
	})

	itad := NewITAD(ITADOptions{
		BaseURL:     srv.URL,
		APIKey:      "test-key",
		Countries:   []string{"CA"},
		MinDiscount: 50,
		MaxPrice:    20,
	}, fixedConverter{err: errors.New("no rates")}, zerolog.Nop())

	deals, err := itad.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(deals) != 0 {
		t.Errorf("Fetch() returned %d deals, want 0 when conversion fails", len(deals))
	}
}

func TestITADFetchCategories(t *testing.T) {
	srv := newITADServer(t, map[string]string{
		"US": itadEntryJSON("018d-1111", "A Game", "game", 60, 7.99, 19.99, "USD", "") + "," +
			itadEntryJSON("018d-2222", "An Expansion", "dlc", 60, 7.99, 19.99, "USD", "") + "," +
			itadEntryJSON("018d-3333", "A Soundtrack", "music", 60, 7.99, 19.99, "USD", ""),
	})

	itad := NewITAD(ITADOptions{
		BaseURL:     srv.URL,
		APIKey:      "test-key",
		Countries:   []string{"US"},
		MinDiscount: 50,
		MaxPrice:    20,
	}, nil, zerolog.Nop())

	deals, err := itad.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(deals) != 3 {
		t.Fatalf("Fetch() returned %d deals, want 3", len(deals))
	}

	want := []models.Category{models.CategoryGame, models.CategoryDLC, models.CategoryOther}
	for i, deal := range deals {
		if deal.Category != want[i] {
			t.Errorf("deals[%d].Category = %q, want %q", i, deal.Category, want[i])
		}
	}
}

func TestITADFetchCountryFailureAbortsCycle(t *testing.T) {
	srv := newITADServer(t, map[string]string{
		"US": itadEntryJSON("018d-4444", "Fine", "game", 60, 7.99, 19.99, "USD", ""),
		// "CA" missing: the server answers 400.
	})

	itad := NewITAD(ITADOptions{
		BaseURL:     srv.URL,
		APIKey:      "test-key",
		Countries:   []string{"US", "CA"},
		MinDiscount: 50,
		MaxPrice:    20,
	}, nil, zerolog.Nop())

	if _, err := itad.Fetch(context.Background()); !errors.Is(err, ErrSourceUnavailable) {
		t.Errorf("Fetch() error = %v, want ErrSourceUnavailable", err)
	}
}

func TestITADLimitClamped(t *testing.T) {
	itad := NewITAD(ITADOptions{APIKey: "k", Limit: 5000}, nil, zerolog.Nop())
	if itad.opts.Limit != itadMaxLimit {
		t.Errorf("Limit = %d, want clamped to %d", itad.opts.Limit, itadMaxLimit)
	}

	itad = NewITAD(ITADOptions{APIKey: "k"}, nil, zerolog.Nop())
	if itad.opts.Limit != itadMaxLimit {
		t.Errorf("zero Limit = %d, want default %d", itad.opts.Limit, itadMaxLimit)
	}
}
