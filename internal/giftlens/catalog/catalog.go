// Package catalog holds the page types and mock products the storefront serves.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"finitefield.org/giftlens/internal/giftlens/dom"
	"finitefield.org/giftlens/internal/giftlens/integrity"
	"finitefield.org/giftlens/internal/giftlens/reflector"
	"finitefield.org/giftlens/internal/giftlens/wishlist"
)

// Page type names.
const (
	PageHome     = "home"
	PageAnalysis = "analysis"
	PageResults  = "results"
	PageWishlist = "wishlist"
)

// ErrUnknownPage is returned for page names the catalog does not define.
var ErrUnknownPage = errors.New("catalog: unknown page")

var (
	//go:embed pages.yaml
	pagesYAML []byte
	//go:embed products.yaml
	productsYAML []byte

	defaultOnce    sync.Once
	defaultCatalog *Catalog
	defaultErr     error
)

// Page configures one page type.
type Page struct {
	Name       string           `yaml:"-"`
	Title      string           `yaml:"title"`
	Template   string           `yaml:"template"`
	Seed       bool             `yaml:"seed"`
	Reflect    ReflectOptions   `yaml:"reflect"`
	Attributes dom.AttributeMap `yaml:"attributes"`
	Integrity  integrity.Rules  `yaml:"integrity"`
}

// ReflectOptions mirrors reflector.Options in the catalog file.
type ReflectOptions struct {
	CreateButtons bool `yaml:"createButtons"`
	PruneUnsaved  bool `yaml:"pruneUnsaved"`
}

// Options converts to the reflector's option set.
func (o ReflectOptions) Options() reflector.Options {
	return reflector.Options{CreateButtons: o.CreateButtons, PruneUnsaved: o.PruneUnsaved}
}

// Product is a mock catalog entry.
type Product struct {
	ID       string  `yaml:"id"`
	Name     string  `yaml:"name"`
	Price    float64 `yaml:"price"`
	Quantity int     `yaml:"quantity"`
	Image    string  `yaml:"image"`
	Source   string  `yaml:"source"`
	Link     string  `yaml:"link"`
}

// Wishlist converts p to the wishlist product shape.
func (p Product) Wishlist() wishlist.Product {
	quantity := p.Quantity
	if quantity < 1 {
		quantity = 1
	}
	return wishlist.Product{
		ID:       p.ID,
		Name:     p.Name,
		Price:    p.Price,
		Quantity: quantity,
		Image:    p.Image,
		Source:   p.Source,
		Link:     p.Link,
	}
}

// Products groups the mock product lists by where they appear.
type Products struct {
	Results  []Product `yaml:"results"`
	Trending []Product `yaml:"trending"`
	Starter  []Product `yaml:"starter"`
}

// Lookup finds a product by id across every list.
func (p Products) Lookup(id string) (Product, bool) {
	for _, list := range [][]Product{p.Results, p.Trending, p.Starter} {
		for _, prod := range list {
			if prod.ID == id {
				return prod, true
			}
		}
	}
	return Product{}, false
}

// Catalog is the parsed page and product configuration.
type Catalog struct {
	pages    map[string]Page
	products Products
}

// Default returns the embedded catalog. It is parsed once.
func Default() (*Catalog, error) {
	defaultOnce.Do(func() {
		defaultCatalog, defaultErr = Parse(pagesYAML, productsYAML)
	})
	return defaultCatalog, defaultErr
}

// MustDefault is Default for callers that treat a broken embedded catalog as a programming error.
func MustDefault() *Catalog {
	c, err := Default()
	if err != nil {
		panic(err)
	}
	return c
}

// Parse builds a catalog from page and product YAML documents.
func Parse(pages, products []byte) (*Catalog, error) {
	parsed := map[string]Page{}
	if err := yaml.Unmarshal(pages, &parsed); err != nil {
		return nil, fmt.Errorf("catalog: parse pages: %w", err)
	}
	if len(parsed) == 0 {
		return nil, errors.New("catalog: no pages defined")
	}
	for name, page := range parsed {
		page.Name = name
		if err := validatePage(page); err != nil {
			return nil, err
		}
		parsed[name] = page
	}

	var prods Products
	if len(products) > 0 {
		if err := yaml.Unmarshal(products, &prods); err != nil {
			return nil, fmt.Errorf("catalog: parse products: %w", err)
		}
	}
	if err := validateProducts(prods); err != nil {
		return nil, err
	}
	return &Catalog{pages: parsed, products: prods}, nil
}

func validatePage(p Page) error {
	for i, lm := range p.Integrity.Landmarks {
		if strings.TrimSpace(lm.Selector) == "" {
			return fmt.Errorf("catalog: page %s landmark %d has no selector", p.Name, i)
		}
		if strings.TrimSpace(lm.Name) == "" {
			return fmt.Errorf("catalog: page %s landmark %s has no name", p.Name, lm.Selector)
		}
	}
	if c := p.Integrity.Cards; c != nil {
		if c.Selector == "" {
			return fmt.Errorf("catalog: page %s card range has no selector", p.Name)
		}
		if c.Max > 0 && c.Max < c.Min {
			return fmt.Errorf("catalog: page %s card range %d-%d is inverted", p.Name, c.Min, c.Max)
		}
	}
	return nil
}

func validateProducts(p Products) error {
	for _, list := range [][]Product{p.Results, p.Trending, p.Starter} {
		seen := map[string]struct{}{}
		for _, prod := range list {
			if strings.TrimSpace(prod.ID) == "" {
				return fmt.Errorf("catalog: product %q has no id", prod.Name)
			}
			if _, dup := seen[prod.ID]; dup {
				return fmt.Errorf("catalog: duplicate product id %s", prod.ID)
			}
			seen[prod.ID] = struct{}{}
		}
	}
	return nil
}

// Page returns the named page type.
func (c *Catalog) Page(name string) (Page, error) {
	p, ok := c.pages[strings.TrimSpace(name)]
	if !ok {
		return Page{}, fmt.Errorf("%w: %q", ErrUnknownPage, name)
	}
	return p, nil
}

// Names lists the page types in sorted order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.pages))
	for name := range c.pages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Products returns the mock product lists.
func (c *Catalog) Products() Products {
	return c.products
}
