package templates_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"finitefield.org/giftlens/internal/giftlens/analysis"
	"finitefield.org/giftlens/internal/giftlens/catalog"
	"finitefield.org/giftlens/internal/giftlens/httpserver/templates"
	"finitefield.org/giftlens/internal/giftlens/testutil"
	"finitefield.org/giftlens/internal/giftlens/wishlist"
)

func TestEveryCatalogTemplateParses(t *testing.T) {
	set, err := templates.Parse()
	require.NoError(t, err)

	cat := catalog.MustDefault()
	for _, name := range cat.Names() {
		p, err := cat.Page(name)
		require.NoError(t, err)
		if p.Template == "" {
			continue
		}
		require.True(t, set.Has(p.Template), "missing template %s for page %s", p.Template, name)
	}
}

func TestResultsTemplateMarkup(t *testing.T) {
	set, err := templates.Parse()
	require.NoError(t, err)

	products := catalog.MustDefault().Products().Results
	var buf bytes.Buffer
	err = set.Render(&buf, "results.html", templates.View{
		Page:      templates.PageInfo{Name: catalog.PageResults, Title: "Gift results"},
		CSRFToken: "tok",
		Cards:     templates.Cards(products, catalog.PageResults, "tok"),
	})
	require.NoError(t, err)

	doc := testutil.ParseHTML(t, buf.Bytes())
	page, _ := doc.Find("body").Attr("data-page")
	require.Equal(t, catalog.PageResults, page)
	require.Equal(t, len(products), doc.Find(".results-grid .product-card").Length())
	require.Equal(t, testutil.ProviderBarText, doc.Find(".provider-bar").Text())
	require.Equal(t, testutil.AffiliateText, doc.Find(".affiliate-note").Text())

	first := doc.Find(".product-card").First()
	id, _ := first.Attr("data-product-id")
	require.Equal(t, products[0].ID, id)
	require.Equal(t, "$19.50", first.Find(".product-price").Text())
	token, _ := first.Find(`input[name="csrf_token"]`).Attr("value")
	require.Equal(t, "tok", token)
	require.Equal(t, 1, doc.Find(`#nav-main a[aria-current="page"]`).Length())
}

func TestWishlistTemplateMarkup(t *testing.T) {
	set, err := templates.Parse()
	require.NoError(t, err)

	var buf bytes.Buffer
	err = set.Render(&buf, "wishlist.html", templates.View{
		Page:   templates.PageInfo{Name: catalog.PageWishlist, Title: "My wishlist"},
		Items:  []wishlist.Item{{ID: "prod-2", Name: "Mug", Price: 29, Quantity: 2}},
		Budget: 300,
	})
	require.NoError(t, err)

	doc := testutil.ParseHTML(t, buf.Bytes())
	card := doc.Find(".wishlist-items .product-card")
	require.Equal(t, 1, card.Length())
	qty, _ := card.Find(".quantity-input").Attr("value")
	require.Equal(t, "2", qty)
	require.Equal(t, "$58.00", card.Find(".item-total").Text())
	budget, _ := doc.Find("#budget-input").Attr("value")
	require.Equal(t, "300", budget)
	for _, sel := range []string{"#subtotal", "#budget-total", "#budget-remaining", ".budget-fill", "#export-csv-btn", "#email-btn", ".wishlist-empty", ".wishlist-list"} {
		require.Equal(t, 1, doc.Find(sel).Length(), sel)
	}
	require.Equal(t, testutil.ProviderBarText, doc.Find(".provider-bar").Text())
	require.Equal(t, testutil.AffiliateText, doc.Find(".affiliate-note").Text())
	require.Zero(t, doc.Find("main#content .provider-bar, main#content .affiliate-note").Length())
}

func TestAnalysisProgressFragment(t *testing.T) {
	set, err := templates.Parse()
	require.NoError(t, err)

	var buf bytes.Buffer
	err = set.Execute(&buf, "analysis.html", "analysis-progress", analysis.Progress{Running: true, Percent: 40, Step: "Searching across retailers..."})
	require.NoError(t, err)

	doc := testutil.ParseHTML(t, buf.Bytes())
	require.Equal(t, "40%", doc.Find(".progress-percent").Text())
	require.Equal(t, "Searching across retailers...", doc.Find(".progress-step").Text())
}

func TestExecuteUnknownPage(t *testing.T) {
	set, err := templates.Parse()
	require.NoError(t, err)
	require.Error(t, set.Render(&bytes.Buffer{}, "missing.html", nil))
}
