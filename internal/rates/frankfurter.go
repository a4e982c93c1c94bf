package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pastel-deals/internal/version"
)

// FrankfurterOptions parameterise the exchange-rate provider.
type FrankfurterOptions struct {
	BaseURL string
	Timeout time.Duration
}

// Frankfurter fetches ECB reference rates from the Frankfurter API. No API
// key is required.
type Frankfurter struct {
	opts    FrankfurterOptions
	client  *http.Client
	baseURL string
	logger  zerolog.Logger
}

// NewFrankfurter constructs a rate provider.
func NewFrankfurter(opts FrankfurterOptions, logger zerolog.Logger) *Frankfurter {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.frankfurter.dev/v1"
	}

	return &Frankfurter{
		opts:    opts,
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		logger:  logger.With().Str("component", "rate_provider").Logger(),
	}
}

type latestResponse struct {
	Base  string                     `json:"base"`
	Date  string                     `json:"date"`
	Rates map[string]decimal.Decimal `json:"rates"`
}

// GetRates returns the full rate table anchored at base. The table is never
// narrowed to the display currencies: conversions anchor at whatever currency
// a deal was priced in, and that table must still contain USD for the price
// filter.
func (f *Frankfurter) GetRates(ctx context.Context, base string) (map[string]decimal.Decimal, error) {
	endpoint := fmt.Sprintf("%s/latest?base=%s", f.baseURL, base)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrProviderUnavailable, resp.StatusCode)
	}

	var parsed latestResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if len(parsed.Rates) == 0 {
		return nil, fmt.Errorf("%w: response contained no rates", ErrProviderUnavailable)
	}

	f.logger.Debug().Str("base", base).Int("count", len(parsed.Rates)).Msg("rates fetched")
	return parsed.Rates, nil
}

var _ Provider = (*Frankfurter)(nil)
