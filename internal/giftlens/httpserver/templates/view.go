package templates

import (
	"finitefield.org/giftlens/internal/giftlens/analysis"
	"finitefield.org/giftlens/internal/giftlens/catalog"
	"finitefield.org/giftlens/internal/giftlens/content"
	"finitefield.org/giftlens/internal/giftlens/wishlist"
)

// PageInfo identifies the page in the layout.
type PageInfo struct {
	Name  string
	Title string
}

// Card is one product card with the form fields it posts back.
type Card struct {
	Product   catalog.Product
	Page      string
	CSRFToken string
}

// View is the data every page template receives.
type View struct {
	Page      PageInfo
	CSRFToken string

	Hero  []content.Block
	Steps []content.Block
	Cards []Card

	Items  []wishlist.Item
	Budget float64

	Progress analysis.Progress
}

// Cards wraps products for the card partial.
func Cards(products []catalog.Product, page, csrf string) []Card {
	out := make([]Card, 0, len(products))
	for _, p := range products {
		out = append(out, Card{Product: p, Page: page, CSRFToken: csrf})
	}
	return out
}
