// Package reflector projects the wishlist record onto a rendered page.
package reflector

import (
	"fmt"
	"html"
	"math"
	"strconv"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"finitefield.org/giftlens/internal/giftlens/dom"
	"finitefield.org/giftlens/internal/giftlens/wishlist"
)

const (
	savedColor    = "#f5a94b"
	unsavedFill   = "none"
	unsavedStroke = "#000"

	labelAdd    = "Add to wishlist"
	labelRemove = "Remove from wishlist"

	heartSVG = `<svg width="18" height="18" viewBox="0 0 24 24" stroke="#000" fill="none" stroke-width="2"><path d="M20.84 4.61a5.5 5.5 0 0 0-7.78 0L12 5.67l-1.06-1.06a5.5 5.5 0 0 0-7.78 7.78l1.06 1.06L12 21.23l7.78-7.78 1.06-1.06a5.5 5.5 0 0 0 0-7.78z"/></svg>`
)

// Options selects page-specific behaviour.
type Options struct {
	// CreateButtons adds a wishlist button to cards that lack one.
	CreateButtons bool
	// PruneUnsaved removes cards whose product is no longer saved (wishlist page).
	PruneUnsaved bool
}

// Reflector renders wishlist state into documents. Render is idempotent.
type Reflector struct {
	index *dom.Index
	opts  Options
}

// New builds a reflector over the cards index describes.
func New(index *dom.Index, opts Options) *Reflector {
	return &Reflector{index: index, opts: opts}
}

// Render updates every wishlist-dependent element in doc to match record.
// Targets that are absent from the page are skipped.
func (r *Reflector) Render(record wishlist.Record, doc *goquery.Document) {
	saved := make(map[string]wishlist.Item, len(record.Items))
	for _, item := range record.Items {
		saved[item.ID] = item
	}

	var prune []*goquery.Selection
	r.index.Cards(doc).Each(func(i int, card *goquery.Selection) {
		id := r.index.ID(card, i)
		item, ok := saved[id]
		if !ok && r.opts.PruneUnsaved {
			prune = append(prune, card)
			return
		}
		r.renderCard(card, id, item, ok)
	})
	for _, card := range prune {
		card.Remove()
	}

	r.renderGlobals(record, doc)
}

func (r *Reflector) renderCard(card *goquery.Selection, id string, item wishlist.Item, saved bool) {
	if _, ok := card.Attr("role"); !ok {
		card.SetAttr("role", "article")
	}

	btn := r.index.Button(card)
	if btn == nil && r.opts.CreateButtons {
		card.AppendHtml(fmt.Sprintf(
			`<button class="%s" type="button" data-product-id="%s" aria-label="%s" aria-pressed="false">%s</button>`,
			classFromSelector(r.index.Attributes().Button), html.EscapeString(id), labelAdd, heartSVG))
		btn = r.index.Button(card)
	}
	if btn != nil {
		btn.SetAttr("aria-pressed", strconv.FormatBool(saved))
		svg := btn.Find("svg")
		if saved {
			btn.AddClass("is-saved")
			btn.SetAttr("aria-label", labelRemove)
			svg.SetAttr("fill", savedColor)
			svg.SetAttr("stroke", savedColor)
		} else {
			btn.RemoveClass("is-saved")
			btn.SetAttr("aria-label", labelAdd)
			svg.SetAttr("fill", unsavedFill)
			svg.SetAttr("stroke", unsavedStroke)
		}
	}

	if !saved {
		return
	}
	quantity := strconv.Itoa(item.Quantity)
	for _, selector := range r.index.Attributes().Quantity {
		card.Find(selector).SetAttr("value", quantity)
	}
	decrease := card.Find(`[data-action="decrease"]`)
	if item.Quantity <= 1 {
		decrease.SetAttr("disabled", "")
	} else {
		decrease.RemoveAttr("disabled")
	}
	card.Find(".item-total").SetText(FormatMoney(item.Total()))
}

func (r *Reflector) renderGlobals(record wishlist.Record, doc *goquery.Document) {
	count := strconv.Itoa(len(record.Items))
	doc.Find(".wishlist-count").SetText(count)

	icon := doc.Find(".wishlist-icon")
	if len(record.Items) > 0 {
		icon.SetAttr("fill", savedColor)
	} else {
		icon.SetAttr("fill", unsavedFill)
	}

	doc.Find("#subtotal").SetText(FormatMoney(record.Subtotal))
	doc.Find("#budget-total").SetText(FormatMoney(record.Budget))

	remaining := doc.Find("#budget-remaining")
	remaining.SetText(FormatMoney(record.Remaining()))
	if record.Remaining() < 0 {
		remaining.SetAttr("data-over-budget", "true")
	} else {
		remaining.RemoveAttr("data-over-budget")
	}

	pct := record.BudgetUsedPercent()
	doc.Find(".budget-fill").SetAttr("style", fmt.Sprintf("width: %d%%", pct))
	bar := doc.Find(".budget-bar")
	bar.SetAttr("aria-valuenow", strconv.Itoa(pct))
	bar.SetAttr("aria-label", fmt.Sprintf("Budget used: %d%%", pct))

	empty := doc.Find(".wishlist-empty")
	if len(record.Items) == 0 {
		empty.RemoveAttr("hidden")
	} else {
		empty.SetAttr("hidden", "")
	}
}

// ShowToast replaces any toast on the page with one carrying msg.
func ShowToast(doc *goquery.Document, msg string) {
	doc.Find(".giftlens-toast").Remove()
	doc.Find("body").AppendHtml(fmt.Sprintf(
		`<div class="giftlens-toast" role="status" aria-live="polite">%s</div>`, html.EscapeString(msg)))
}

// FormatMoney renders v as US dollars with thousands separators, e.g. $1,234.50 or -$5.00.
func FormatMoney(v float64) string {
	printer := message.NewPrinter(language.AmericanEnglish)
	v = math.Round(v*100) / 100
	if v < 0 {
		return "-$" + printer.Sprintf("%.2f", -v)
	}
	return "$" + printer.Sprintf("%.2f", v)
}

func classFromSelector(selector string) string {
	if len(selector) > 1 && selector[0] == '.' {
		return selector[1:]
	}
	return "wishlist-btn"
}
