package dom_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"finitefield.org/giftlens/internal/giftlens/dom"
	"finitefield.org/giftlens/internal/giftlens/testutil"
)

func TestIndexExtractsCards(t *testing.T) {
	doc := testutil.ParseString(t, testutil.ResultsPage(testutil.WithCards(3)))
	idx := dom.NewIndex(dom.AttributeMap{})

	products := idx.All(doc)
	require.Len(t, products, 3)

	first := products[0]
	require.Equal(t, "prod-1", first.ID)
	require.False(t, first.Placeholder)
	require.Equal(t, "Gift 1", first.Name)
	require.Equal(t, 10.5, first.Price)
	require.Equal(t, "/img/1.jpg", first.Image)
	require.Equal(t, "Etsy", first.Source)
	require.Equal(t, "https://shop.example/1", first.Link)
	require.Equal(t, 1, first.Quantity)
}

func TestIndexPlaceholderForMissingID(t *testing.T) {
	doc := testutil.ParseString(t, testutil.ResultsPage(testutil.WithCards(3), testutil.WithCardMissingID(1)))
	idx := dom.NewIndex(dom.AttributeMap{})

	products := idx.All(doc)
	require.Equal(t, "product-1", products[1].ID)
	require.True(t, products[1].Placeholder)

	card, product, ok := idx.Find(doc, "product-1")
	require.True(t, ok)
	require.NotNil(t, card)
	require.Equal(t, "Gift 2", product.Name)
}

func TestIndexFindMissing(t *testing.T) {
	doc := testutil.ParseString(t, testutil.ResultsPage(testutil.WithCards(2)))
	idx := dom.NewIndex(dom.AttributeMap{})

	_, _, ok := idx.Find(doc, "prod-99")
	require.False(t, ok)
	_, _, ok = idx.Find(doc, " ")
	require.False(t, ok)
}

func TestIndexDegradesMissingFields(t *testing.T) {
	doc := testutil.ParseString(t, `<div class="product-card" data-product-id="bare"></div>`)
	idx := dom.NewIndex(dom.AttributeMap{})

	products := idx.All(doc)
	require.Len(t, products, 1)
	require.Equal(t, "bare", products[0].ID)
	require.Empty(t, products[0].Name)
	require.Zero(t, products[0].Price)
	require.Empty(t, products[0].Image)
	require.Equal(t, 1, products[0].Quantity)
	require.Nil(t, idx.Button(doc.Find(".product-card")))
}

func TestIndexWishlistPageMap(t *testing.T) {
	html := `<ul class="wishlist-list">
	  <li class="wishlist-item" data-id="w1">
	    <img src="/w1.jpg">
	    <span class="product-name">Candle &amp; <b>Holder</b></span>
	    <span class="product-price">$1,020.00</span>
	    <input class="quantity-input" value="3">
	    <a class="product-source" href="https://amazon.example/w1"> Amazon </a>
	  </li>
	  <li class="wishlist-item" data-id="w2"><input class="quantity-input" value="zero"></li>
	</ul>`
	doc := testutil.ParseString(t, html)
	idx := dom.NewIndex(dom.AttributeMap{
		Card:     ".wishlist-item",
		ID:       "data-id",
		Name:     []string{".product-title", ".product-name"},
		Quantity: []string{".quantity-input"},
	})

	products := idx.All(doc)
	require.Len(t, products, 2)
	require.Equal(t, "w1", products[0].ID)
	require.Equal(t, "Candle & Holder", products[0].Name)
	require.Equal(t, 1020.0, products[0].Price)
	require.Equal(t, 3, products[0].Quantity)
	require.Equal(t, "/w1.jpg", products[0].Image)
	require.Equal(t, "Amazon", products[0].Source)
	require.Equal(t, 1, products[1].Quantity)

	attrs := dom.AttributesFor(products[0])
	require.Equal(t, 3, attrs.Quantity)
	require.Equal(t, "https://amazon.example/w1", attrs.Link)
}

func TestIndexStripsMarkupFromText(t *testing.T) {
	doc := testutil.ParseString(t, `<div class="product-card" data-product-id="x"><h3 class="product-title">&lt;script&gt;alert(1)&lt;/script&gt;Lamp</h3></div>`)
	products := dom.NewIndex(dom.AttributeMap{}).All(doc)
	require.NotContains(t, products[0].Name, "<script>")
	require.Contains(t, products[0].Name, "Lamp")
}
