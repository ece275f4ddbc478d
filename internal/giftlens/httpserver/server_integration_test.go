package httpserver_test

import (
	"encoding/json"
	"io"
	"io/fs"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"finitefield.org/giftlens/internal/giftlens/httpserver/templates"
	"finitefield.org/giftlens/internal/giftlens/testutil"
)

type browser struct {
	t      *testing.T
	base   string
	client *http.Client
	csrf   string
}

func newBrowser(t *testing.T, base string) *browser {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &browser{
		t:    t,
		base: base,
		client: &http.Client{
			Jar: jar,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (b *browser) do(req *http.Request) (*http.Response, []byte) {
	b.t.Helper()
	resp, err := b.client.Do(req)
	require.NoError(b.t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(b.t, err)
	return resp, body
}

func (b *browser) get(path string) (*http.Response, *goquery.Document) {
	b.t.Helper()
	req, err := http.NewRequest(http.MethodGet, b.base+path, nil)
	require.NoError(b.t, err)
	resp, body := b.do(req)
	doc := testutil.ParseHTML(b.t, body)
	if token, ok := doc.Find(`meta[name="csrf-token"]`).Attr("content"); ok && token != "" {
		b.csrf = token
	}
	return resp, doc
}

func (b *browser) post(path string, form url.Values, htmx bool) (*http.Response, []byte) {
	b.t.Helper()
	req, err := http.NewRequest(http.MethodPost, b.base+path, strings.NewReader(form.Encode()))
	require.NoError(b.t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if b.csrf != "" {
		req.Header.Set("X-CSRF-Token", b.csrf)
	}
	if htmx {
		req.Header.Set("HX-Request", "true")
	}
	return b.do(req)
}

func (b *browser) snapshot() map[string]any {
	b.t.Helper()
	req, err := http.NewRequest(http.MethodGet, b.base+"/api/wishlist", nil)
	require.NoError(b.t, err)
	resp, body := b.do(req)
	require.Equal(b.t, http.StatusOK, resp.StatusCode)
	var out map[string]any
	require.NoError(b.t, json.Unmarshal(body, &out))
	return out
}

func triggers(t *testing.T, resp *http.Response) map[string]json.RawMessage {
	t.Helper()
	raw := resp.Header.Get("HX-Trigger")
	require.NotEmpty(t, raw)
	var out map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &out))
	return out
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	ts := testutil.NewServer(t)
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestResultsPageRendersWishlistState(t *testing.T) {
	t.Parallel()

	ts := testutil.NewServer(t)
	b := newBrowser(t, ts.URL)

	resp, doc := b.get("/results")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "no-store, max-age=0", resp.Header.Get("Cache-Control"))
	require.NotEmpty(t, b.csrf)
	require.Equal(t, 12, doc.Find(".results-grid .product-card").Length())
	require.Equal(t, "0", doc.Find("#wishlist-count").Text())
	require.Contains(t, triggers(t, resp), "giftlens:ready")

	pressed, _ := doc.Find(`.product-card[data-product-id="prod-1"] .wishlist-btn`).Attr("aria-pressed")
	require.Equal(t, "false", pressed)
}

func TestToggleOverHTMXReturnsFragmentAndTriggers(t *testing.T) {
	t.Parallel()

	ts := testutil.NewServer(t)
	b := newBrowser(t, ts.URL)
	b.get("/results")

	resp, body := b.post("/wishlist/toggle/prod-1", url.Values{"page": {"results"}}, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	events := triggers(t, resp)
	require.Contains(t, events, "wl:add")
	require.Contains(t, events, "wl:updated")
	require.JSONEq(t, `{"message":"Saved to wishlist","duration":3000}`, string(events["toast:show"]))

	doc := testutil.ParseHTML(t, body)
	require.Equal(t, 1, doc.Find("main#content").Length())
	oob := doc.Find(`#wishlist-count[hx-swap-oob="true"]`)
	require.Equal(t, "1", oob.Text())
	pressed, _ := doc.Find(`.product-card[data-product-id="prod-1"] .wishlist-btn`).Attr("aria-pressed")
	require.Equal(t, "true", pressed)

	snap := b.snapshot()
	require.EqualValues(t, 1, snap["count"])
	items := snap["items"].([]any)
	require.Equal(t, "prod-1", items[0].(map[string]any)["id"])
	require.Equal(t, "Smart Speaker", items[0].(map[string]any)["name"])

	resp, _ = b.post("/wishlist/toggle/prod-1", url.Values{"page": {"results"}}, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, triggers(t, resp), "wl:remove")
	require.EqualValues(t, 0, b.snapshot()["count"])
}

func TestPlainFormPostRedirects(t *testing.T) {
	t.Parallel()

	ts := testutil.NewServer(t)
	b := newBrowser(t, ts.URL)
	b.get("/")

	resp, _ := b.post("/wishlist/toggle/trend-1", url.Values{"page": {"home"}}, false)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	require.Equal(t, "/", resp.Header.Get("Location"))
	require.EqualValues(t, 1, b.snapshot()["count"])
}

func TestMutationsRequireCSRFToken(t *testing.T) {
	t.Parallel()

	ts := testutil.NewServer(t)
	b := newBrowser(t, ts.URL)
	b.get("/results")
	b.csrf = ""

	resp, _ := b.post("/wishlist/toggle/prod-1", url.Values{"page": {"results"}}, true)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestWishlistPageSeedsStarterItemsOnce(t *testing.T) {
	t.Parallel()

	ts := testutil.NewServer(t)
	b := newBrowser(t, ts.URL)

	_, doc := b.get("/wishlist")
	require.Equal(t, 3, doc.Find(".wishlist-items .product-card").Length())
	require.Equal(t, "3", doc.Find("#wishlist-count").Text())
	require.Equal(t, "$101.50", doc.Find("#subtotal").Text())
	require.Equal(t, "$300.00", doc.Find("#budget-total").Text())
	require.Equal(t, "$198.50", doc.Find("#budget-remaining").Text())
	href, _ := doc.Find("#email-btn").Attr("href")
	require.True(t, strings.HasPrefix(href, "mailto:?subject="), href)

	resp, _ := b.post("/wishlist/clear", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, doc = b.get("/wishlist")
	require.Equal(t, 0, doc.Find(".wishlist-items .product-card").Length())
	_, hidden := doc.Find(".wishlist-empty").Attr("hidden")
	require.False(t, hidden)
}

func TestWishlistQuantityDeleteAndBudget(t *testing.T) {
	t.Parallel()

	ts := testutil.NewServer(t)
	b := newBrowser(t, ts.URL)
	b.get("/wishlist")

	resp, body := b.post("/wishlist/items/prod-1/quantity", url.Values{"action": {"increase"}}, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	doc := testutil.ParseHTML(t, body)
	card := doc.Find(`.product-card[data-product-id="prod-1"]`)
	qty, _ := card.Find(".quantity-input").Attr("value")
	require.Equal(t, "2", qty)
	require.Equal(t, "$39.00", card.Find(".item-total").Text())

	resp, _ = b.post("/wishlist/items/prod-1/quantity", url.Values{"quantity": {"0"}}, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	items := b.snapshot()["items"].([]any)
	for _, raw := range items {
		item := raw.(map[string]any)
		if item["id"] == "prod-1" {
			require.EqualValues(t, 1, item["quantity"])
		}
	}

	resp, _ = b.post("/wishlist/items/missing/quantity", url.Values{"action": {"increase"}}, true)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = b.post("/wishlist/items/prod-4/delete", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"message":"Removed from wishlist","duration":3000}`, string(triggers(t, resp)["toast:show"]))
	doc = testutil.ParseHTML(t, body)
	require.Equal(t, 0, doc.Find(`.product-card[data-product-id="prod-4"]`).Length())

	resp, _ = b.post("/wishlist/budget", url.Values{"budget": {"50"}}, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	snap := b.snapshot()
	require.EqualValues(t, 50, snap["budget"])
	require.EqualValues(t, 77.5, snap["subtotal"])
	require.EqualValues(t, -27.5, snap["remaining"])

	resp, _ = b.post("/wishlist/budget", url.Values{"budget": {"lots"}}, true)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "application/json; charset=utf-8", resp.Header.Get("Content-Type"))
}

func TestCopyListPublishesClipboardEvent(t *testing.T) {
	t.Parallel()

	ts := testutil.NewServer(t)
	b := newBrowser(t, ts.URL)
	b.get("/wishlist")

	resp, _ := b.post("/wishlist/copy", url.Values{"mode": {"list"}}, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	events := triggers(t, resp)
	var copied struct {
		Text string `json:"text"`
	}
	require.NoError(t, json.Unmarshal(events["clipboard:copy"], &copied))
	require.True(t, strings.HasPrefix(copied.Text, "My Wishlist:"))
	require.Contains(t, copied.Text, "Handmade Ceramic Mug")

	resp, _ = b.post("/wishlist/copy", url.Values{"mode": {"link"}}, true)
	require.NoError(t, json.Unmarshal(triggers(t, resp)["clipboard:copy"], &copied))
	require.Equal(t, ts.URL+"/wishlist", copied.Text)
}

func TestCSVExports(t *testing.T) {
	t.Parallel()

	ts := testutil.NewServer(t)
	b := newBrowser(t, ts.URL)
	b.get("/results")

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/wishlist/export.csv", nil)
	require.NoError(t, err)
	resp, _ := b.do(req)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	req, err = http.NewRequest(http.MethodGet, ts.URL+"/results/export.csv", nil)
	require.NoError(t, err)
	resp, body := b.do(req)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, `attachment; filename="giftlens-results.csv"`, resp.Header.Get("Content-Disposition"))
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	require.Len(t, lines, 13)
	require.Equal(t, "Product Name,Price,Site", strings.TrimSpace(lines[0]))

	b.get("/wishlist")
	req, err = http.NewRequest(http.MethodGet, ts.URL+"/wishlist/export.csv", nil)
	require.NoError(t, err)
	resp, body = b.do(req)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, `attachment; filename="giftlens_wishlist.csv"`, resp.Header.Get("Content-Disposition"))
	require.True(t, strings.HasPrefix(string(body), "Product Name,Price,Quantity,Total,Source,Link"))
}

func TestAnalysisRedirectsToResultsWhenDone(t *testing.T) {
	t.Parallel()

	ts := testutil.NewServer(t, testutil.WithAnalysisInterval(5*time.Millisecond))
	b := newBrowser(t, ts.URL)

	resp, doc := b.get("/analysis?recipient=sister")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, triggers(t, resp), "analysis:start")
	require.Equal(t, 1, doc.Find("#analysis-progress").Length())

	plain, err := http.NewRequest(http.MethodGet, ts.URL+"/analysis/progress", nil)
	require.NoError(t, err)
	resp, _ = b.do(plain)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	require.Eventually(t, func() bool {
		req, err := http.NewRequest(http.MethodGet, ts.URL+"/analysis/progress", nil)
		if err != nil {
			return false
		}
		req.Header.Set("HX-Request", "true")
		resp, _ := b.do(req)
		return resp.Header.Get("HX-Redirect") == "/results"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDefaultBudgetIsConfigurable(t *testing.T) {
	t.Parallel()

	ts := testutil.NewServer(t, testutil.WithDefaultBudget(150), testutil.WithoutCSRF())
	b := newBrowser(t, ts.URL)

	_, doc := b.get("/wishlist")
	require.Equal(t, "$150.00", doc.Find("#budget-total").Text())
	require.Equal(t, "$48.50", doc.Find("#budget-remaining").Text())

	resp, _ := b.post("/wishlist/budget", url.Values{"budget": {"90"}}, false)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	require.Equal(t, "/wishlist", resp.Header.Get("Location"))
	require.EqualValues(t, 90, b.snapshot()["budget"])
}

func TestQuotaOverflowKeepsServing(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.WarnLevel)
	ts := testutil.NewServer(t,
		testutil.WithWishlistQuota(32),
		testutil.WithoutCSRF(),
		testutil.WithLogger(zap.New(core)),
	)
	b := newBrowser(t, ts.URL)

	resp, body := b.post("/wishlist/toggle/prod-1", url.Values{"page": {"results"}}, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	events := triggers(t, resp)
	require.Contains(t, events, "wl:add")
	require.JSONEq(t, `{"message":"Couldn't save your wishlist","duration":3000}`, string(events["toast:show"]))
	require.Contains(t, string(body), `id="wishlist-count"`)

	require.NotZero(t, logs.FilterMessage("wishlist save rejected: storage quota exceeded").Len())

	// Nothing was stored, so the next request starts empty.
	require.EqualValues(t, 0, b.snapshot()["count"])
}

func TestFullResultsPageFitsOneSession(t *testing.T) {
	t.Parallel()

	ts := testutil.NewServer(t)
	b := newBrowser(t, ts.URL)
	_, doc := b.get("/results")
	base, err := url.Parse(ts.URL)
	require.NoError(t, err)
	cookieSize := func() int {
		total := 0
		for _, cookie := range b.client.Jar.Cookies(base) {
			total += len(cookie.Value)
		}
		return total
	}
	empty := cookieSize()
	require.NotZero(t, empty)

	var ids []string
	doc.Find(".results-grid .product-card").Each(func(_ int, card *goquery.Selection) {
		ids = append(ids, card.AttrOr("data-product-id", ""))
	})
	require.Len(t, ids, 12)

	for _, id := range ids {
		resp, _ := b.post("/wishlist/toggle/"+id, url.Values{"page": {"results"}}, true)
		require.Equal(t, http.StatusOK, resp.StatusCode, id)
		require.JSONEq(t, `{"message":"Saved to wishlist","duration":3000}`, string(triggers(t, resp)["toast:show"]), id)
	}

	snap := b.snapshot()
	require.EqualValues(t, 12, snap["count"])
	require.Len(t, snap["items"], 12)

	// The cookie only identifies the session, so it does not grow with the list.
	require.InDelta(t, empty, cookieSize(), 32)
	require.Less(t, cookieSize(), 1024)
}

func TestConcurrentRequestsShareOneSession(t *testing.T) {
	t.Parallel()

	ts := testutil.NewServer(t)
	b := newBrowser(t, ts.URL)
	b.get("/results")

	ids := []string{"prod-1", "prod-2", "prod-3", "prod-4"}
	statuses := make(chan int, len(ids))
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			form := url.Values{"page": {"results"}}
			req, err := http.NewRequest(http.MethodPost, ts.URL+"/wishlist/toggle/"+id, strings.NewReader(form.Encode()))
			if err != nil {
				statuses <- 0
				return
			}
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			req.Header.Set("X-CSRF-Token", b.csrf)
			req.Header.Set("HX-Request", "true")
			resp, err := b.client.Do(req)
			if err != nil {
				statuses <- 0
				return
			}
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			statuses <- resp.StatusCode
		}(id)
	}
	wg.Wait()
	close(statuses)

	for status := range statuses {
		require.Equal(t, http.StatusOK, status)
	}
	snap := b.snapshot()
	require.EqualValues(t, len(ids), snap["count"])
	saved := map[string]bool{}
	for _, raw := range snap["items"].([]any) {
		saved[raw.(map[string]any)["id"].(string)] = true
	}
	for _, id := range ids {
		require.True(t, saved[id], id)
	}
}

func TestHistoryRestoreDoesNotReplayNotifications(t *testing.T) {
	t.Parallel()

	ts := testutil.NewServer(t, testutil.WithTemplates(providerMismatchOn(t, "results")))
	b := newBrowser(t, ts.URL)

	resp, _ := b.get("/results")
	first := triggers(t, resp)
	require.Contains(t, first, "giftlens:ready")
	require.Contains(t, first, "toast:show")

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/results", nil)
	require.NoError(t, err)
	req.Header.Set("HX-Request", "true")
	req.Header.Set("HX-History-Restore-Request", "true")
	resp, body := b.do(req)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Values("Vary"), "HX-Request")

	raw := resp.Header.Get("HX-Trigger")
	require.NotContains(t, raw, "giftlens:ready")
	require.NotContains(t, raw, "toast:show")
	doc := testutil.ParseHTML(t, body)
	require.Equal(t, 12, doc.Find(".results-grid .product-card").Length())
}

func TestWishlistProviderBarMismatchBlocksQuantityChange(t *testing.T) {
	t.Parallel()

	ts := testutil.NewServer(t, testutil.WithTemplates(providerMismatchOn(t, "wishlist")))
	b := newBrowser(t, ts.URL)

	b.get("/results")
	resp, _ := b.post("/wishlist/toggle/prod-1", url.Values{"page": {"results"}}, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	before := b.snapshot()
	require.EqualValues(t, 1, before["count"])

	resp, doc := b.get("/wishlist")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "Searching: Amazon only", doc.Find(".provider-bar").Text())

	resp, body := b.post("/wishlist/items/prod-1/quantity", url.Values{"action": {"increase"}}, true)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Contains(t, string(body), "Feature unavailable")

	require.Equal(t, before, b.snapshot())
}

// providerMismatchOn serves the real templates but changes the provider bar copy on one page.
func providerMismatchOn(t *testing.T, pageName string) *templates.Set {
	t.Helper()

	const bar = `<div class="provider-bar">` + testutil.ProviderBarText + `</div>`
	fsys := fstest.MapFS{}
	err := fs.WalkDir(os.DirFS("templates"), ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".html") {
			return err
		}
		raw, err := os.ReadFile(filepath.Join("templates", path))
		if err != nil {
			return err
		}
		if path == "layouts/base.html" {
			require.Contains(t, string(raw), bar)
			swapped := `<div class="provider-bar">{{if eq .Page.Name "` + pageName + `"}}Searching: Amazon only{{else}}` + testutil.ProviderBarText + `{{end}}</div>`
			raw = []byte(strings.Replace(string(raw), bar, swapped, 1))
		}
		fsys[path] = &fstest.MapFile{Data: raw}
		return nil
	})
	require.NoError(t, err)

	set, err := templates.ParseFS(fsys)
	require.NoError(t, err)
	return set
}
