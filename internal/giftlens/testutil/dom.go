package testutil

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
)

// ParseHTML parses the provided HTML payload into a goquery document for assertions.
func ParseHTML(t testing.TB, body []byte) *goquery.Document {
	t.Helper()

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		t.Fatalf("parse html: %v", err)
	}
	return doc
}

// ParseString is ParseHTML for string fixtures.
func ParseString(t testing.TB, body string) *goquery.Document {
	t.Helper()
	return ParseHTML(t, []byte(body))
}

// ProviderBarText is the provider bar copy every page must carry.
const ProviderBarText = "Searching: Amazon ? Shop ? Etsy ? Walmart ? More"

// AffiliateText is the affiliate disclosure every page must carry.
const AffiliateText = "All purchases may use affiliate links."

// PageOption tweaks a fixture page.
type PageOption func(*pageFixture)

type pageFixture struct {
	nav       bool
	provider  string
	affiliate string
	cards     int
	missingID map[int]bool
	buttons   bool
	header    string
}

// WithoutNav drops the primary navigation landmark.
func WithoutNav() PageOption {
	return func(p *pageFixture) { p.nav = false }
}

// WithProviderText overrides the provider bar text. Empty removes the bar.
func WithProviderText(text string) PageOption {
	return func(p *pageFixture) { p.provider = text }
}

// WithAffiliateText overrides the affiliate text. Empty removes the disclosure.
func WithAffiliateText(text string) PageOption {
	return func(p *pageFixture) { p.affiliate = text }
}

// WithCards sets the number of product cards.
func WithCards(n int) PageOption {
	return func(p *pageFixture) { p.cards = n }
}

// WithCardMissingID strips the product id from the card at index.
func WithCardMissingID(index int) PageOption {
	return func(p *pageFixture) { p.missingID[index] = true }
}

// WithoutButtons omits the wishlist buttons from every card.
func WithoutButtons() PageOption {
	return func(p *pageFixture) { p.buttons = false }
}

// WithHeaderExtra injects markup into the header, such as a count badge.
func WithHeaderExtra(markup string) PageOption {
	return func(p *pageFixture) { p.header = markup }
}

// ResultsPage renders a results page fixture using the shared card markup.
func ResultsPage(opts ...PageOption) string {
	p := &pageFixture{
		nav:       true,
		provider:  ProviderBarText,
		affiliate: AffiliateText,
		cards:     12,
		missingID: make(map[int]bool),
		buttons:   true,
	}
	for _, opt := range opts {
		opt(p)
	}

	var b strings.Builder
	b.WriteString(`<!doctype html><html><head><title>Results</title></head><body><header>`)
	if p.nav {
		b.WriteString(`<nav id="nav-main"><a href="/">Home</a><a href="/wishlist">Wishlist <span class="wishlist-count">0</span></a></nav>`)
	}
	b.WriteString(p.header)
	b.WriteString(`</header><main>`)
	if p.provider != "" {
		fmt.Fprintf(&b, `<div class="provider-bar">%s</div>`, p.provider)
	}
	if p.affiliate != "" {
		fmt.Fprintf(&b, `<p class="affiliate-note">%s</p>`, p.affiliate)
	}
	b.WriteString(`<div class="results-grid">`)
	for i := 0; i < p.cards; i++ {
		id := fmt.Sprintf(` data-product-id="prod-%d"`, i+1)
		if p.missingID[i] {
			id = ""
		}
		fmt.Fprintf(&b, `<article class="product-card"%s>`, id)
		fmt.Fprintf(&b, `<img class="product-thumb" data-src="/img/%d.jpg" alt="">`, i+1)
		fmt.Fprintf(&b, `<h3 class="product-title">Gift %d</h3>`, i+1)
		fmt.Fprintf(&b, `<span class="product-price">$%d.50</span>`, 10+i)
		fmt.Fprintf(&b, `<a class="product-source" href="https://shop.example/%d">Etsy</a>`, i+1)
		if p.buttons {
			b.WriteString(`<button class="wishlist-btn" type="button" aria-pressed="false"><svg><path d=""></path></svg></button>`)
		}
		b.WriteString(`</article>`)
	}
	b.WriteString(`</div></main></body></html>`)
	return b.String()
}
