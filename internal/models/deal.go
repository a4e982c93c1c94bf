package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Source identifies the deal API a record came from.
type Source string

const (
	SourceCheapShark Source = "cheapshark"
	SourceITAD       Source = "itad"
	SourceEpic       Source = "epic"
)

// Category classifies a deal's content type. Non-game categories only
// occur for ITAD deals.
type Category string

const (
	CategoryGame  Category = "game"
	CategoryDLC   Category = "dlc"
	CategoryOther Category = "other"
)

// Deal is a single promotional offer observed during one poll cycle.
type Deal struct {
	Source          Source
	GameID          string
	Title           string
	Category        Category
	Store           string // storefront display name
	Country         string
	Currency        string
	BasePrice       decimal.Decimal
	SalePrice       decimal.Decimal
	DiscountPercent int
	Rating          *float64 // normalized 0-10, nil when the source has none
	IsHistoricalLow bool
	Upcoming        bool // Epic only: promotion announced but not yet active
	URL             string
	ExpiresAt       *time.Time
	ObservedAt      time.Time
}

// Bucket truncates ObservedAt to the given poll interval. Re-observing an
// unchanged deal within one interval maps to the same dedup key; a deal that
// disappears and returns a cycle later lands in a new bucket and is treated
// as new again.
func (d Deal) Bucket(interval time.Duration) time.Time {
	if interval <= 0 {
		return d.ObservedAt.UTC()
	}
	return d.ObservedAt.UTC().Truncate(interval)
}

// Record converts the deal into its persisted form.
func (d Deal) Record(interval time.Duration) DealRecord {
	return DealRecord{
		Source:     d.Source,
		GameID:     d.GameID,
		Bucket:     d.Bucket(interval),
		Title:      d.Title,
		ObservedAt: d.ObservedAt.UTC(),
	}
}

// Validate checks the price/discount invariants.
func (d Deal) Validate() error {
	if d.GameID == "" {
		return fmt.Errorf("deal %q: missing game id", d.Title)
	}
	if d.SalePrice.GreaterThan(d.BasePrice) {
		return fmt.Errorf("deal %q: sale price %s exceeds base price %s", d.Title, d.SalePrice, d.BasePrice)
	}
	if d.DiscountPercent < 0 || d.DiscountPercent > 100 {
		return fmt.Errorf("deal %q: discount %d%% out of range", d.Title, d.DiscountPercent)
	}
	if d.BasePrice.IsPositive() {
		implied := decimal.NewFromInt(100).Sub(
			d.SalePrice.Div(d.BasePrice).Mul(decimal.NewFromInt(100)),
		)
		diff := implied.Sub(decimal.NewFromInt(int64(d.DiscountPercent))).Abs()
		// Sources round prices and discounts independently.
		if diff.GreaterThan(decimal.NewFromInt(2)) {
			return fmt.Errorf("deal %q: discount %d%% inconsistent with prices %s/%s",
				d.Title, d.DiscountPercent, d.SalePrice, d.BasePrice)
		}
	}
	return nil
}

// DealRecord is one row of the dedup store. Created on first observation,
// never mutated, removed by pruning.
type DealRecord struct {
	Source     Source
	GameID     string
	Bucket     time.Time
	Title      string
	ObservedAt time.Time
}
