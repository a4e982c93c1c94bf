package fetcher

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

	"pastel-deals/internal/models"
	"pastel-deals/internal/version"
)

// EpicOptions parameterise the Epic Games Store adapter.
type EpicOptions struct {
	BaseURL string
	Locale  string
	Timeout time.Duration
}

// Epic polls the Epic Games Store free-games promotions feed. No price
// thresholds apply; everything it returns is free.
type Epic struct {
	opts    EpicOptions
	client  *http.Client
	baseURL string
	logger  zerolog.Logger

	now func() time.Time
}

// NewEpic constructs an Epic adapter.
func NewEpic(opts EpicOptions, logger zerolog.Logger) *Epic {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://store-site-backend-static.ak.epicgames.com"
	}
	if opts.Locale == "" {
		opts.Locale = "en-US"
	}

	return &Epic{
		opts:    opts,
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		logger:  logger.With().Str("component", "epic_fetcher").Logger(),
		now:     time.Now,
	}
}

// Source implements DealFetcher.
func (e *Epic) Source() models.Source {
	return models.SourceEpic
}

// Fetch returns the currently free and upcoming-free promotions. Upcoming
// promotions are flagged so the formatter can render them differently.
func (e *Epic) Fetch(ctx context.Context) ([]models.Deal, error) {
	endpoint := e.baseURL + "/freeGamesPromotions?locale=" + e.opts.Locale
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: epic: %v", ErrSourceUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: epic: %v", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: epic: %v", ErrSourceUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: epic: status %d", ErrSourceUnavailable, resp.StatusCode)
	}

	var parsed epicResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, fmt.Errorf("%w: epic: %v", ErrSourceUnavailable, err)
	}

	elements := parsed.Data.Catalog.SearchStore.Elements
	if len(elements) == 0 {
		e.logger.Warn().Msg("no elements in free games response")
		return nil, nil
	}

	observed := e.now().UTC()
	var deals []models.Deal
	for _, elem := range elements {
		deals = append(deals, e.promotions(elem, observed)...)
	}

	e.logger.Info().Int("count", len(deals)).Msg("free game promotions")
	return deals, nil
}

func (e *Epic) promotions(elem epicElement, observed time.Time) []models.Deal {
	if elem.Promotions == nil || elem.ID == "" {
		return nil
	}

	var deals []models.Deal
	for _, group := range elem.Promotions.PromotionalOffers {
		for _, offer := range group.PromotionalOffers {
			if offer.DiscountSetting.DiscountPercentage != 0 {
				continue
			}
			if !e.offerActive(offer, observed) {
				continue
			}
			deals = append(deals, e.newDeal(elem, offer, false, observed))
		}
	}
	for _, group := range elem.Promotions.UpcomingPromotionalOffers {
		for _, offer := range group.PromotionalOffers {
			if offer.DiscountSetting.DiscountPercentage != 0 {
				continue
			}
			deals = append(deals, e.newDeal(elem, offer, true, observed))
		}
	}
	return deals
}

// offerActive checks that a current offer's window actually covers now; the
// feed sometimes lists offers whose window has not started or already ended.
func (e *Epic) offerActive(offer epicOffer, now time.Time) bool {
	if offer.StartDate != "" {
		if start, err := time.Parse(time.RFC3339, offer.StartDate); err == nil && start.After(now) {
			return false
		}
	}
	if offer.EndDate != "" {
		if end, err := time.Parse(time.RFC3339, offer.EndDate); err == nil && end.Before(now) {
			return false
		}
	}
	return true
}

func (e *Epic) newDeal(elem epicElement, offer epicOffer, upcoming bool, observed time.Time) models.Deal {
	deal := models.Deal{
		Source:          models.SourceEpic,
		GameID:          elem.ID,
		Title:           elem.Title,
		Category:        models.CategoryGame,
		Store:           "Epic Games Store",
		Country:         "US",
		Currency:        "USD",
		BasePrice:       decimal.Zero,
		SalePrice:       decimal.Zero,
		DiscountPercent: 100,
		Upcoming:        upcoming,
		URL:             e.storeURL(elem),
		ObservedAt:      observed,
	}
	if offer.EndDate != "" {
		if end, err := time.Parse(time.RFC3339, offer.EndDate); err == nil {
			deal.ExpiresAt = &end
		}
	}
	return deal
}

func (e *Epic) storeURL(elem epicElement) string {
	slug := elem.ProductSlug
	if slug == "" {
		slug = elem.URLSlug
	}
	if slug == "" {
		for _, mapping := range elem.CatalogNs.Mappings {
			if mapping.PageSlug != "" {
				slug = mapping.PageSlug
				break
			}
		}
	}
	if slug == "" {
		return ""
	}
	return fmt.Sprintf("https://store.epicgames.com/%s/p/%s", e.opts.Locale, slug)
}

type epicResponse struct {
	Data struct {
		Catalog struct {
			SearchStore struct {
				Elements []epicElement `json:"elements"`
			} `json:"searchStore"`
		} `json:"Catalog"`
	} `json:"data"`
}

type epicElement struct {
	Title       string `json:"title"`
	ID          string `json:"id"`
	Description string `json:"description"`
	ProductSlug string `json:"productSlug"`
	URLSlug     string `json:"urlSlug"`
	CatalogNs   struct {
		Mappings []struct {
			PageSlug string `json:"pageSlug"`
		} `json:"mappings"`
	} `json:"catalogNs"`
	Promotions *epicPromotions `json:"promotions"`
}

type epicPromotions struct {
	PromotionalOffers         []epicOfferGroup `json:"promotionalOffers"`
	UpcomingPromotionalOffers []epicOfferGroup `json:"upcomingPromotionalOffers"`
}

type epicOfferGroup struct {
	PromotionalOffers []epicOffer `json:"promotionalOffers"`
}

type epicOffer struct {
	StartDate       string `json:"startDate"`
	EndDate         string `json:"endDate"`
	DiscountSetting struct {
		DiscountPercentage int `json:"discountPercentage"`
	} `json:"discountSetting"`
}

var _ DealFetcher = (*Epic)(nil)
