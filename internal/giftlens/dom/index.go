// Package dom reads product cards out of a rendered storefront page.
package dom

import (
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"

	"finitefield.org/giftlens/internal/giftlens/wishlist"
)

// AttributeMap names the selectors one page type uses for its product cards.
// Selector lists are tried in order and the first match wins.
type AttributeMap struct {
	Card       string   `yaml:"card"`
	ID         string   `yaml:"id"`
	Name       []string `yaml:"name"`
	Price      []string `yaml:"price"`
	Image      []string `yaml:"image"`
	ImageAttrs []string `yaml:"imageAttrs"`
	Source     []string `yaml:"source"`
	Quantity   []string `yaml:"quantity"`
	Button     string   `yaml:"button"`
}

// DefaultAttributeMap matches the product cards shared by the home and results pages.
func DefaultAttributeMap() AttributeMap {
	return AttributeMap{
		Card:       ".product-card",
		ID:         "data-product-id",
		Name:       []string{".product-title", ".product-name"},
		Price:      []string{".product-price"},
		Image:      []string{".product-thumb", "img"},
		ImageAttrs: []string{"src", "data-src"},
		Source:     []string{".product-source"},
		Quantity:   []string{".quantity-input"},
		Button:     ".wishlist-btn",
	}
}

func (m AttributeMap) withDefaults() AttributeMap {
	def := DefaultAttributeMap()
	if m.Card == "" {
		m.Card = def.Card
	}
	if m.ID == "" {
		m.ID = def.ID
	}
	if len(m.Name) == 0 {
		m.Name = def.Name
	}
	if len(m.Price) == 0 {
		m.Price = def.Price
	}
	if len(m.Image) == 0 {
		m.Image = def.Image
	}
	if len(m.ImageAttrs) == 0 {
		m.ImageAttrs = def.ImageAttrs
	}
	if len(m.Source) == 0 {
		m.Source = def.Source
	}
	if len(m.Quantity) == 0 {
		m.Quantity = def.Quantity
	}
	if m.Button == "" {
		m.Button = def.Button
	}
	return m
}

// Index extracts products from documents using one AttributeMap.
type Index struct {
	attrs  AttributeMap
	policy *bluemonday.Policy
}

// NewIndex builds an index. Empty fields of attrs fall back to DefaultAttributeMap.
func NewIndex(attrs AttributeMap) *Index {
	return &Index{
		attrs:  attrs.withDefaults(),
		policy: bluemonday.StrictPolicy(),
	}
}

// Attributes returns the effective attribute map.
func (idx *Index) Attributes() AttributeMap {
	return idx.attrs
}

// Cards returns every product card in doc.
func (idx *Index) Cards(doc *goquery.Document) *goquery.Selection {
	return doc.Find(idx.attrs.Card)
}

// All extracts every card in document order.
func (idx *Index) All(doc *goquery.Document) []wishlist.Product {
	cards := idx.Cards(doc)
	out := make([]wishlist.Product, 0, cards.Length())
	cards.Each(func(i int, card *goquery.Selection) {
		out = append(out, idx.Extract(card, i))
	})
	return out
}

// Find returns the card carrying id and its extracted product.
func (idx *Index) Find(doc *goquery.Document, id string) (*goquery.Selection, wishlist.Product, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, wishlist.Product{}, false
	}
	var (
		found   *goquery.Selection
		product wishlist.Product
	)
	idx.Cards(doc).EachWithBreak(func(i int, card *goquery.Selection) bool {
		if idx.ID(card, i) != id {
			return true
		}
		found = card
		product = idx.Extract(card, i)
		return false
	})
	return found, product, found != nil
}

// ID returns the product id of card, or the positional placeholder when the card carries none.
func (idx *Index) ID(card *goquery.Selection, index int) string {
	id, _ := idx.id(card, index)
	return id
}

func (idx *Index) id(card *goquery.Selection, index int) (string, bool) {
	if value, ok := card.Attr(idx.attrs.ID); ok {
		if value = strings.TrimSpace(value); value != "" {
			return value, false
		}
	}
	return PlaceholderID(index), true
}

// PlaceholderID is the id given to the card at index when it has none.
func PlaceholderID(index int) string {
	return fmt.Sprintf("product-%d", index)
}

// Extract reads one card. Missing fields degrade to zero values.
func (idx *Index) Extract(card *goquery.Selection, index int) wishlist.Product {
	id, placeholder := idx.id(card, index)
	product := wishlist.Product{
		ID:          id,
		Placeholder: placeholder,
		Name:        idx.text(first(card, idx.attrs.Name)),
		Price:       wishlist.ParsePrice(idx.text(first(card, idx.attrs.Price))),
		Quantity:    1,
	}

	if img := first(card, idx.attrs.Image); img != nil {
		for _, attr := range idx.attrs.ImageAttrs {
			if value, ok := img.Attr(attr); ok && strings.TrimSpace(value) != "" {
				product.Image = strings.TrimSpace(value)
				break
			}
		}
	}

	if src := first(card, idx.attrs.Source); src != nil {
		product.Source = idx.text(src)
		if href, ok := src.Attr("href"); ok {
			product.Link = strings.TrimSpace(href)
		}
	}

	if qty := first(card, idx.attrs.Quantity); qty != nil {
		if value, ok := qty.Attr("value"); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && n >= 1 {
				product.Quantity = n
			}
		}
	}
	return product
}

// Button returns the wishlist button inside card, if any.
func (idx *Index) Button(card *goquery.Selection) *goquery.Selection {
	btn := card.Find(idx.attrs.Button)
	if btn.Length() == 0 {
		return nil
	}
	return btn.First()
}

// AttributesFor normalises an extracted product into the attributes wishlist.State consumes.
func AttributesFor(p wishlist.Product) wishlist.Attrs {
	return p.Attrs()
}

func (idx *Index) text(sel *goquery.Selection) string {
	if sel == nil {
		return ""
	}
	clean := idx.policy.Sanitize(sel.Text())
	return strings.Join(strings.Fields(html.UnescapeString(clean)), " ")
}

func first(card *goquery.Selection, selectors []string) *goquery.Selection {
	for _, selector := range selectors {
		if selector == "" {
			continue
		}
		if found := card.Find(selector); found.Length() > 0 {
			return found.First()
		}
	}
	return nil
}
