// Package formatter renders deals into Matrix message bodies. Everything
// here is a pure function of its inputs: the same deal and price list always
// produce the same message.
package formatter

import (
	"fmt"
	"html"
	"strings"

	"github.com/shopspring/decimal"

	"pastel-deals/internal/models"
)

// Price is one converted amount for display, in the order it should appear.
type Price struct {
	Currency string
	Amount   decimal.Decimal
}

// Message carries the plain-text body and the HTML formatted body of a
// Matrix m.room.message.
type Message struct {
	Body          string
	FormattedBody string
}

var currencySymbols = map[string]string{
	"USD": "$",
	"CAD": "C$",
	"EUR": "€",
	"GBP": "£",
}

// PriceLine renders a multi-currency price string, e.g.
// "$14.99 · C$20.54 · €13.78 · £11.98".
func PriceLine(prices []Price) string {
	parts := make([]string, 0, len(prices))
	for _, p := range prices {
		symbol, ok := currencySymbols[p.Currency]
		if !ok {
			symbol = p.Currency + " "
		}
		parts = append(parts, fmt.Sprintf("%s%s", symbol, p.Amount.StringFixed(2)))
	}
	return strings.Join(parts, " · ")
}

// FormatDeal renders a deal with its converted display prices.
func FormatDeal(deal models.Deal, salePrices, basePrices []Price) Message {
	if deal.Source == models.SourceEpic {
		return formatEpic(deal)
	}
	return formatSale(deal, salePrices, basePrices)
}

func formatSale(deal models.Deal, salePrices, basePrices []Price) Message {
	saleLine := PriceLine(salePrices)
	baseLine := PriceLine(basePrices)

	var prefix string
	if deal.Category == models.CategoryDLC {
		prefix = "🧩 [DLC DEAL]"
	} else {
		prefix = "🎮 [DEAL]"
	}

	plain := []string{
		fmt.Sprintf("%s %s", prefix, deal.Title),
		fmt.Sprintf("  %d%% off on %s (was %s)", deal.DiscountPercent, deal.Store, baseLine),
		fmt.Sprintf("  💰 %s", saleLine),
	}
	htmlLines := []string{
		fmt.Sprintf("<strong>%s %s</strong>", html.EscapeString(prefix), html.EscapeString(deal.Title)),
		fmt.Sprintf("%d%% off on %s <del>%s</del>", deal.DiscountPercent, html.EscapeString(deal.Store), html.EscapeString(baseLine)),
		fmt.Sprintf("💰 <strong>%s</strong>", html.EscapeString(saleLine)),
	}

	if deal.IsHistoricalLow {
		plain = append(plain, "  🏆 All-time low!")
		htmlLines = append(htmlLines, "🏆 <em>All-time low!</em>")
	}
	if deal.URL != "" {
		plain = append(plain, fmt.Sprintf("  🔗 %s", deal.URL))
		htmlLines = append(htmlLines, fmt.Sprintf(`🔗 <a href="%s">View Deal</a>`, html.EscapeString(deal.URL)))
	}

	return Message{
		Body:          strings.Join(plain, "\n"),
		FormattedBody: strings.Join(htmlLines, "<br>\n"),
	}
}

func formatEpic(deal models.Deal) Message {
	var headline, byline, linkText string
	if deal.Upcoming {
		headline = fmt.Sprintf("📢 [UPCOMING FREE] %s", deal.Title)
		byline = "Coming soon — Free on Epic Games Store"
		linkText = "Store Page"
	} else {
		headline = fmt.Sprintf("🆓 [FREE] %s", deal.Title)
		byline = "Free on Epic Games Store"
		linkText = "Claim Now"
	}

	plain := []string{headline, "  " + byline}
	htmlLines := []string{
		fmt.Sprintf("<strong>%s</strong>", html.EscapeString(headline)),
		html.EscapeString(byline),
	}

	if deal.ExpiresAt != nil {
		until := deal.ExpiresAt.UTC().Format("January 2")
		plain = append(plain, fmt.Sprintf("  📅 Free until %s", until))
		htmlLines = append(htmlLines, fmt.Sprintf("📅 <em>Free until %s</em>", until))
	}
	if deal.URL != "" {
		plain = append(plain, fmt.Sprintf("  🔗 %s", deal.URL))
		htmlLines = append(htmlLines, fmt.Sprintf(`🔗 <a href="%s">%s</a>`, html.EscapeString(deal.URL), linkText))
	}

	return Message{
		Body:          strings.Join(plain, "\n"),
		FormattedBody: strings.Join(htmlLines, "<br>\n"),
	}
}

// ThreadRoot renders the first message of a per-category thread.
func ThreadRoot(label, description string) Message {
	return Message{
		Body: label + "\n" + description,
		FormattedBody: fmt.Sprintf("<strong>%s</strong><br>\n<em>%s</em>",
			html.EscapeString(label), html.EscapeString(description)),
	}
}
