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

// CheapShark store IDs for the PC/digital storefronts worth posting.
var cheapSharkStores = map[string]string{
	"1":  "Steam",
	"7":  "GOG",
	"11": "Humble Store",
	"23": "GreenManGaming",
}

// CheapSharkOptions parameterise the CheapShark adapter.
type CheapSharkOptions struct {
	BaseURL     string
	MinDiscount int
	MinRating   float64
	MaxPrice    float64
	PageSize    int
	Timeout     time.Duration
}

// CheapShark polls the CheapShark deals endpoint.
type CheapShark struct {
	opts    CheapSharkOptions
	client  *http.Client
	baseURL string
	logger  zerolog.Logger
}

// NewCheapShark constructs a CheapShark adapter.
func NewCheapShark(opts CheapSharkOptions, logger zerolog.Logger) *CheapShark {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://www.cheapshark.com/api/1.0"
	}

	if opts.PageSize <= 0 {
		opts.PageSize = 10
	}

	return &CheapShark{
		opts:    opts,
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		logger:  logger.With().Str("component", "cheapshark_fetcher").Logger(),
	}
}

// Source implements DealFetcher.
func (c *CheapShark) Source() models.Source {
	return models.SourceCheapShark
}

// Fetch returns the current top deals across the configured stores, filtered
// by the discount, rating, and price thresholds.
func (c *CheapShark) Fetch(ctx context.Context) ([]models.Deal, error) {
	storeIDs := make([]string, 0, len(cheapSharkStores))
	for id := range cheapSharkStores {
		storeIDs = append(storeIDs, id)
	}

	params := url.Values{}
	params.Set("storeID", strings.Join(storeIDs, ","))
	params.Set("upperPrice", fmt.Sprintf("%d", int(c.opts.MaxPrice)))
	params.Set("sortBy", "Deal Rating")
	params.Set("desc", "1")
	params.Set("pageSize", fmt.Sprintf("%d", c.opts.PageSize))

	endpoint := c.baseURL + "/deals?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: cheapshark: %v", ErrSourceUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: cheapshark: %v", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: cheapshark: %v", ErrSourceUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: cheapshark: status %d", ErrSourceUnavailable, resp.StatusCode)
	}

	var raw []cheapSharkDeal
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: cheapshark: %v", ErrSourceUnavailable, err)
	}

	c.logger.Debug().Int("count", len(raw)).Msg("raw deals before filtering")

	observed := time.Now().UTC()
	deals := make([]models.Deal, 0, len(raw))
	for _, d := range raw {
		deal, ok := c.normalize(d, observed)
		if !ok {
			continue
		}
		deals = append(deals, deal)
	}

	c.logger.Info().Int("count", len(deals)).Msg("deals after filtering")
	return deals, nil
}

func (c *CheapShark) normalize(d cheapSharkDeal, observed time.Time) (models.Deal, bool) {
	savings, err := decimal.NewFromString(d.Savings)
	if err != nil {
		return models.Deal{}, false
	}
	discount := int(savings.Round(0).IntPart())
	if discount < c.opts.MinDiscount {
		c.logger.Debug().Str("title", d.Title).Int("discount", discount).Msg("filtered: discount below threshold")
		return models.Deal{}, false
	}

	rating, err := decimal.NewFromString(d.DealRating)
	if err != nil {
		rating = decimal.Zero
	}
	ratingF, _ := rating.Float64()
	// A zero rating means CheapShark has not rated the deal yet; those pass.
	if ratingF > 0 && ratingF < c.opts.MinRating {
		c.logger.Debug().Str("title", d.Title).Float64("rating", ratingF).Msg("filtered: rating below threshold")
		return models.Deal{}, false
	}

	salePrice, err := decimal.NewFromString(d.SalePrice)
	if err != nil {
		return models.Deal{}, false
	}
	normalPrice, err := decimal.NewFromString(d.NormalPrice)
	if err != nil {
		return models.Deal{}, false
	}
	if c.opts.MaxPrice > 0 && salePrice.GreaterThan(decimal.NewFromFloat(c.opts.MaxPrice)) {
		return models.Deal{}, false
	}

	deal := models.Deal{
		Source:          models.SourceCheapShark,
		GameID:          d.GameID,
		Title:           d.Title,
		Category:        models.CategoryGame,
		Store:           StoreName(d.StoreID),
		Country:         "US",
		Currency:        "USD",
		BasePrice:       normalPrice,
		SalePrice:       salePrice,
		DiscountPercent: discount,
		URL:             fmt.Sprintf("https://www.cheapshark.com/redirect?dealID=%s", d.DealID),
		ObservedAt:      observed,
	}
	if ratingF > 0 {
		deal.Rating = &ratingF
	}
	return deal, true
}

// StoreName resolves a CheapShark store id to its display name.
func StoreName(storeID string) string {
	if name, ok := cheapSharkStores[storeID]; ok {
		return name
	}
	return "Store " + storeID
}

type cheapSharkDeal struct {
	DealID      string `json:"dealID"`
	GameID      string `json:"gameID"`
	Title       string `json:"title"`
	SalePrice   string `json:"salePrice"`
	NormalPrice string `json:"normalPrice"`
	Savings     string `json:"savings"`
	DealRating  string `json:"dealRating"`
	StoreID     string `json:"storeID"`
	SteamAppID  string `json:"steamAppID"`
	LastChange  int64  `json:"lastChange"`
}

var _ DealFetcher = (*CheapShark)(nil)
