package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pastel-deals/internal/models"
	"pastel-deals/internal/version"
)

// itadMaxLimit is the per-country page size cap enforced by the ITAD API.
const itadMaxLimit = 200

// PriceConverter converts an amount between currencies. Satisfied by
// rates.Cache.
type PriceConverter interface {
	Convert(ctx context.Context, amount decimal.Decimal, from, to string) (decimal.Decimal, error)
}

// ITADOptions parameterise the IsThereAnyDeal adapter.
type ITADOptions struct {
	BaseURL     string
	APIKey      string
	Countries   []string
	MinDiscount int
	MaxPrice    float64
	Limit       int
	Timeout     time.Duration
}

// ITAD polls the IsThereAnyDeal deals list for each configured country and
// merges the results with a deterministic country-priority rule.
type ITAD struct {
	opts      ITADOptions
	client    *http.Client
	baseURL   string
	converter PriceConverter
	logger    zerolog.Logger
}

// NewITAD constructs an ITAD adapter.
func NewITAD(opts ITADOptions, converter PriceConverter, logger zerolog.Logger) *ITAD {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.isthereanydeal.com"
	}

	if len(opts.Countries) == 0 {
		opts.Countries = []string{"US"}
	}
	if opts.Limit <= 0 || opts.Limit > itadMaxLimit {
		opts.Limit = itadMaxLimit
	}

	return &ITAD{
		opts:      opts,
		client:    &http.Client{Timeout: timeout},
		baseURL:   baseURL,
		converter: converter,
		logger:    logger.With().Str("component", "itad_fetcher").Logger(),
	}
}

// Source implements DealFetcher.
func (i *ITAD) Source() models.Source {
	return models.SourceITAD
}

// Fetch returns current ITAD deals across the configured countries. When the
// same game appears in more than one country, the first country in the
// configured order wins and supplies the displayed price; later matches are
// discarded.
func (i *ITAD) Fetch(ctx context.Context) ([]models.Deal, error) {
	seen := make(map[string]struct{})
	var merged []models.Deal

	for _, country := range i.opts.Countries {
		deals, err := i.fetchCountry(ctx, country)
		if err != nil {
			return nil, err
		}
		for _, deal := range deals {
			if _, dup := seen[deal.GameID]; dup {
				i.logger.Debug().Str("title", deal.Title).Str("country", country).Msg("skipping duplicate from lower-priority country")
				continue
			}
			seen[deal.GameID] = struct{}{}
			merged = append(merged, deal)
		}
	}

	i.logger.Info().Int("count", len(merged)).Int("countries", len(i.opts.Countries)).Msg("deals after cross-country merge")
	return merged, nil
}

func (i *ITAD) fetchCountry(ctx context.Context, country string) ([]models.Deal, error) {
	params := url.Values{}
	params.Set("key", i.opts.APIKey)
	params.Set("country", country)
	params.Set("sort", "-cut")
	params.Set("limit", fmt.Sprintf("%d", i.opts.Limit))
	params.Set("nondeals", "false")

	endpoint := i.baseURL + "/deals/v2?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: itad %s: %v", ErrSourceUnavailable, country, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := i.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: itad %s: %v", ErrSourceUnavailable, country, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: itad %s: %v", ErrSourceUnavailable, country, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: itad %s: status %d", ErrSourceUnavailable, country, resp.StatusCode)
	}

	var parsed itadDealsResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, fmt.Errorf("%w: itad %s: %v", ErrSourceUnavailable, country, err)
	}

	observed := time.Now().UTC()
	deals := make([]models.Deal, 0, len(parsed.List))
	for _, entry := range parsed.List {
		deal, ok := i.normalize(ctx, entry, country, observed)
		if !ok {
			continue
		}
		deals = append(deals, deal)
	}

	i.logger.Debug().Str("country", country).Int("count", len(deals)).Msg("deals after filtering")
	return deals, nil
}

func (i *ITAD) normalize(ctx context.Context, entry itadEntry, country string, observed time.Time) (models.Deal, bool) {
	if entry.Deal == nil || entry.ID == "" {
		return models.Deal{}, false
	}

	d := entry.Deal
	if d.Cut < i.opts.MinDiscount {
		return models.Deal{}, false
	}

	currency := d.Price.Currency
	if currency == "" {
		currency = "USD"
	}

	// The price ceiling is defined in USD; convert foreign prices before
	// comparing. Degraded (stale) rates are acceptable here.
	priceUSD := d.Price.Amount
	if currency != "USD" && i.converter != nil {
		converted, err := i.converter.Convert(ctx, d.Price.Amount, currency, "USD")
		if err != nil {
			i.logger.Warn().Err(err).Str("title", entry.Title).Str("currency", currency).
				Msg("cannot convert price for filter; skipping deal")
			return models.Deal{}, false
		}
		priceUSD = converted
	}
	if i.opts.MaxPrice > 0 && priceUSD.GreaterThan(decimal.NewFromFloat(i.opts.MaxPrice)) {
		return models.Deal{}, false
	}

	var category models.Category
	switch entry.Type {
	case "game":
		category = models.CategoryGame
	case "dlc":
		category = models.CategoryDLC
	default:
		category = models.CategoryOther
	}

	deal := models.Deal{
		Source:          models.SourceITAD,
		GameID:          entry.ID,
		Title:           entry.Title,
		Category:        category,
		Store:           d.Shop.Name,
		Country:         country,
		Currency:        currency,
		BasePrice:       d.Regular.Amount,
		SalePrice:       d.Price.Amount,
		DiscountPercent: d.Cut,
		IsHistoricalLow: d.Flag == "H" || d.Flag == "N",
		URL:             d.URL,
		ObservedAt:      observed,
	}
	if d.Expiry != "" {
		if expiry, err := time.Parse(time.RFC3339, d.Expiry); err == nil {
			deal.ExpiresAt = &expiry
		}
	}
	return deal, true
}

type itadDealsResponse struct {
	List []itadEntry `json:"list"`
}

type itadEntry struct {
	ID    string    `json:"id"`
	Slug  string    `json:"slug"`
	Title string    `json:"title"`
	Type  string    `json:"type"`
	Deal  *itadDeal `json:"deal"`
}

type itadDeal struct {
	Cut     int       `json:"cut"`
	Price   itadPrice `json:"price"`
	Regular itadPrice `json:"regular"`
	Shop    itadShop  `json:"shop"`
	URL     string    `json:"url"`
	Flag    string    `json:"flag"`
	Expiry  string    `json:"expiry"`
}

type itadPrice struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

type itadShop struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

var _ DealFetcher = (*ITAD)(nil)
