// Package wishlist owns the session wishlist record and the operations that mutate it.
package wishlist

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// DefaultBudget is used when no budget has been persisted.
const DefaultBudget = 300.0

// StorageKey is the single session slot the record lives under.
const StorageKey = "giftlens:wishlist:v1"

// Item is one saved product.
type Item struct {
	ID       string
	Name     string
	Price    float64
	Quantity int
	Image    string
	Source   string
	Link     string
	AddedAt  time.Time
}

// Total returns price times quantity rounded to cents.
func (i Item) Total() float64 {
	return roundCents(i.Price * float64(i.Quantity))
}

type itemJSON struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    json.RawMessage `json:"price"`
	Quantity *int            `json:"quantity,omitempty"`
	Image    string          `json:"image,omitempty"`
	Source   string          `json:"source,omitempty"`
	Link     string          `json:"link,omitempty"`
	AddedAt  string          `json:"addedAt,omitempty"`
}

// MarshalJSON writes the canonical persisted shape.
func (i Item) MarshalJSON() ([]byte, error) {
	quantity := i.Quantity
	out := itemJSON{
		ID:       i.ID,
		Name:     i.Name,
		Price:    json.RawMessage(strconv.FormatFloat(i.Price, 'f', -1, 64)),
		Quantity: &quantity,
		Image:    i.Image,
		Source:   i.Source,
		Link:     i.Link,
	}
	if !i.AddedAt.IsZero() {
		out.AddedAt = i.AddedAt.UTC().Format(time.RFC3339)
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts the canonical shape plus the legacy variants: price as a
// formatted string ("$19.50") and an absent quantity.
func (i *Item) UnmarshalJSON(data []byte) error {
	var raw itemJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	price, err := decodePrice(raw.Price)
	if err != nil {
		return fmt.Errorf("item %q: %w", raw.ID, err)
	}
	quantity := 1
	if raw.Quantity != nil {
		quantity = *raw.Quantity
	}
	var added time.Time
	if raw.AddedAt != "" {
		if parsed, err := time.Parse(time.RFC3339, raw.AddedAt); err == nil {
			added = parsed.UTC()
		}
	}
	*i = Item{
		ID:       strings.TrimSpace(raw.ID),
		Name:     raw.Name,
		Price:    price,
		Quantity: quantity,
		Image:    raw.Image,
		Source:   raw.Source,
		Link:     raw.Link,
		AddedAt:  added,
	}
	return nil
}

func decodePrice(raw json.RawMessage) (float64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, nil
	}
	if raw[0] == '"' {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0, err
		}
		return ParsePrice(text), nil
	}
	var value float64
	if err := json.Unmarshal(raw, &value); err != nil {
		return 0, fmt.Errorf("invalid price %s", raw)
	}
	return value, nil
}

// ParsePrice reads a display price such as "$1,234.50". Anything unparsable is 0.
func ParsePrice(text string) float64 {
	var b strings.Builder
	for _, r := range text {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' {
			b.WriteRune(r)
		}
	}
	value, err := strconv.ParseFloat(b.String(), 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0
	}
	return value
}

// Record is the whole persisted wishlist.
type Record struct {
	Items    []Item  `json:"items"`
	Budget   float64 `json:"budget"`
	Subtotal float64 `json:"subtotal"`
}

// NewRecord returns an empty record with the given budget.
func NewRecord(budget float64) Record {
	return Record{Items: []Item{}, Budget: budget}
}

// Remaining is budget minus subtotal. It may be negative.
func (r Record) Remaining() float64 {
	return roundCents(r.Budget - r.Subtotal)
}

// Count returns the number of distinct items.
func (r Record) Count() int {
	return len(r.Items)
}

// Contains reports whether id is present.
func (r Record) Contains(id string) bool {
	return r.index(id) >= 0
}

// BudgetUsedPercent is min(100, round(subtotal/budget*100)); 0 when no budget is set.
func (r Record) BudgetUsedPercent() int {
	if r.Budget <= 0 {
		return 0
	}
	pct := int(math.Round(r.Subtotal / r.Budget * 100))
	if pct > 100 {
		return 100
	}
	if pct < 0 {
		return 0
	}
	return pct
}

// Clone returns a deep copy.
func (r Record) Clone() Record {
	out := r
	out.Items = make([]Item, len(r.Items))
	copy(out.Items, r.Items)
	return out
}

func (r Record) index(id string) int {
	for i, item := range r.Items {
		if item.ID == id {
			return i
		}
	}
	return -1
}

// normalize enforces unique non-empty ids, quantity at least 1 and a fresh subtotal.
func (r *Record) normalize(defaultBudget float64) {
	seen := make(map[string]struct{}, len(r.Items))
	items := make([]Item, 0, len(r.Items))
	for _, item := range r.Items {
		if item.ID == "" {
			continue
		}
		if _, dup := seen[item.ID]; dup {
			continue
		}
		seen[item.ID] = struct{}{}
		if item.Quantity < 1 {
			item.Quantity = 1
		}
		if item.Price < 0 || math.IsNaN(item.Price) || math.IsInf(item.Price, 0) {
			item.Price = 0
		}
		items = append(items, item)
	}
	r.Items = items
	if r.Budget < 0 || math.IsNaN(r.Budget) || math.IsInf(r.Budget, 0) {
		r.Budget = defaultBudget
	}
	r.recompute()
}

func (r *Record) recompute() {
	var sum float64
	for _, item := range r.Items {
		sum += item.Price * float64(item.Quantity)
	}
	r.Subtotal = roundCents(sum)
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

// Attrs are the product attributes supplied when adding an item.
type Attrs struct {
	Name     string
	Price    float64
	Quantity int
	Image    string
	Source   string
	Link     string
}

// Product is an item candidate discovered on a page.
type Product struct {
	ID          string
	Name        string
	Price       float64
	Image       string
	Source      string
	Link        string
	Quantity    int
	Placeholder bool
}

// Attrs converts the product to the attribute shape Add consumes.
func (p Product) Attrs() Attrs {
	quantity := p.Quantity
	if quantity < 1 {
		quantity = 1
	}
	return Attrs{
		Name:     p.Name,
		Price:    p.Price,
		Quantity: quantity,
		Image:    p.Image,
		Source:   p.Source,
		Link:     p.Link,
	}
}
