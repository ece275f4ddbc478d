package ui

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"finitefield.org/giftlens/internal/giftlens/analysis"
	"finitefield.org/giftlens/internal/giftlens/catalog"
	"finitefield.org/giftlens/internal/giftlens/content"
	"finitefield.org/giftlens/internal/giftlens/events"
	"finitefield.org/giftlens/internal/giftlens/export"
	custommw "finitefield.org/giftlens/internal/giftlens/httpserver/middleware"
	"finitefield.org/giftlens/internal/giftlens/httpserver/templates"
	"finitefield.org/giftlens/internal/giftlens/observability"
	"finitefield.org/giftlens/internal/giftlens/page"
	"finitefield.org/giftlens/internal/giftlens/session"
	"finitefield.org/giftlens/internal/giftlens/storage"
	"finitefield.org/giftlens/internal/giftlens/wishlist"
)

// clipboardLimit bounds what the browser clipboard event carries; longer text goes to the fallback textarea.
const clipboardLimit = 4096

// Dependencies collects what the storefront handlers need.
type Dependencies struct {
	Catalog   *catalog.Catalog
	Content   *content.Set
	Templates *templates.Set
	// Slots holds each session's wishlist on the server. A default registry is built when nil.
	Slots            *storage.Registry
	DefaultBudget    float64
	AnalysisInterval time.Duration
	Logger           *zap.Logger
}

// Handlers exposes the storefront pages and wishlist actions.
type Handlers struct {
	catalog       *catalog.Catalog
	content       *content.Set
	templates     *templates.Set
	slots         *storage.Registry
	defaultBudget float64
	runners       *runnerRegistry
	logger        *zap.Logger
}

// NewHandlers wires the handler set, loading embedded defaults for anything left nil.
func NewHandlers(deps Dependencies) (*Handlers, error) {
	logger := observability.OrNop(deps.Logger)
	cat := deps.Catalog
	if cat == nil {
		var err error
		if cat, err = catalog.Default(); err != nil {
			return nil, fmt.Errorf("ui: load catalog: %w", err)
		}
	}
	copySet := deps.Content
	if copySet == nil {
		var err error
		if copySet, err = content.Default(); err != nil {
			return nil, fmt.Errorf("ui: load content: %w", err)
		}
	}
	tmpl := deps.Templates
	if tmpl == nil {
		var err error
		if tmpl, err = templates.Parse(); err != nil {
			return nil, err
		}
	}
	slots := deps.Slots
	if slots == nil {
		slots = storage.NewRegistry()
	}
	budget := deps.DefaultBudget
	if budget <= 0 {
		budget = wishlist.DefaultBudget
	}
	return &Handlers{
		catalog:       cat,
		content:       copySet,
		templates:     tmpl,
		slots:         slots,
		defaultBudget: budget,
		runners:       newRunnerRegistry(deps.AnalysisInterval, logger),
		logger:        logger,
	}, nil
}

// Shutdown stops background analysis runs.
func (h *Handlers) Shutdown() {
	h.runners.Shutdown()
}

// EndSession forgets the wishlist and analysis run of an expired session.
func (h *Handlers) EndSession(id string) {
	h.slots.Drop(id)
	h.runners.drop(id)
}

// scope is the per-request wiring around one session's wishlist.
type scope struct {
	sess      *session.Session
	store     *wishlist.Store
	csrf      string
	bus       *events.Bus
	recorder  *events.Recorder
	engine    *page.Engine
	runner    *analysis.Runner
	clipboard *export.Buffer
	fallback  *export.Buffer
	logger    *zap.Logger
	release   func()
}

func (h *Handlers) begin(r *http.Request, pageURL string) (*scope, error) {
	ctx := r.Context()
	sess, ok := custommw.SessionFromContext(ctx)
	if !ok {
		return nil, errors.New("ui: session missing from request")
	}
	logger := observability.FromContext(ctx)

	// Held until release so one session's requests load, mutate and save in turn.
	slots, unlock := h.slots.Acquire(sess.ID())
	store := wishlist.NewStore(slots, wishlist.WithLogger(logger), wishlist.WithDefaultBudget(h.defaultBudget))
	bus := events.NewBus(logger)
	recorder := events.Record(bus)
	runner, detach := h.runners.acquire(sess.ID(), bus)

	sc := &scope{
		sess:      sess,
		store:     store,
		csrf:      custommw.CSRFTokenFromContext(ctx),
		bus:       bus,
		recorder:  recorder,
		runner:    runner,
		clipboard: &export.Buffer{Limit: clipboardLimit},
		fallback:  &export.Buffer{},
		logger:    logger,
	}
	engine, err := page.NewEngine(page.Config{
		Catalog:           h.catalog,
		Store:             store,
		Bus:               bus,
		Logger:            logger,
		Runner:            runner,
		Clipboard:         sc.clipboard,
		FallbackClipboard: sc.fallback,
		PageURL:           pageURL,
	})
	if err != nil {
		detach()
		recorder.Stop()
		unlock()
		return nil, err
	}
	sc.engine = engine
	sc.release = func() {
		engine.Detach()
		detach()
		recorder.Stop()
		unlock()
	}
	return sc, nil
}

// load renders the named page and attaches its controller.
func (h *Handlers) load(r *http.Request, sc *scope, name string) (*goquery.Document, page.AttachResult, error) {
	p, err := h.catalog.Page(name)
	if err != nil {
		return nil, page.AttachResult{}, err
	}
	view := h.view(sc, p)

	var buf bytes.Buffer
	if err := h.templates.Render(&buf, p.Template, view); err != nil {
		return nil, page.AttachResult{}, err
	}
	doc, err := goquery.NewDocumentFromReader(&buf)
	if err != nil {
		return nil, page.AttachResult{}, fmt.Errorf("ui: parse rendered page: %w", err)
	}
	ctx := r.Context()
	if custommw.IsHistoryRestore(ctx) {
		ctx = page.WithReentry(ctx)
	}
	res, err := sc.engine.Init(ctx, doc)
	if err != nil {
		return nil, page.AttachResult{}, err
	}
	if !res.Report.OK {
		sc.logger.Warn("page integrity check failed", zap.String("page", name), zap.Int("findings", len(res.Report.Findings)))
	}
	return doc, res, nil
}

func (h *Handlers) view(sc *scope, p catalog.Page) templates.View {
	view := templates.View{
		Page:      templates.PageInfo{Name: p.Name, Title: p.Title},
		CSRFToken: sc.csrf,
	}
	products := h.catalog.Products()
	switch p.Name {
	case catalog.PageHome:
		view.Hero = h.content.Section("hero")
		view.Steps = h.content.Section("how-it-works")
		view.Cards = templates.Cards(products.Trending, p.Name, sc.csrf)
	case catalog.PageResults:
		view.Cards = templates.Cards(products.Results, p.Name, sc.csrf)
	case catalog.PageAnalysis:
		view.Progress = sc.runner.Progress()
	case catalog.PageWishlist:
		record := sc.engine.Snapshot()
		view.Budget = record.Budget
		if hasRecord(sc) {
			view.Items = record.Items
		} else {
			for _, sp := range products.Starter {
				view.Items = append(view.Items, itemFromProduct(sp))
			}
		}
	}
	return view
}

func hasRecord(sc *scope) bool {
	_, ok := sc.store.Lookup()
	return ok
}

func itemFromProduct(p catalog.Product) wishlist.Item {
	wp := p.Wishlist()
	return wishlist.Item{
		ID:       wp.ID,
		Name:     wp.Name,
		Price:    wp.Price,
		Quantity: wp.Quantity,
		Image:    wp.Image,
		Source:   wp.Source,
		Link:     wp.Link,
	}
}

// decorate fills in links that depend on the session's wishlist.
func decorate(doc *goquery.Document, sc *scope) {
	doc.Find("#email-btn").SetAttr("href", sc.engine.MailtoURL())
}

// copyFallback shows text the browser clipboard could not take so the user can copy it by hand.
func copyFallback(doc *goquery.Document, sc *scope) {
	if _, ok := sc.clipboard.Text(); ok {
		return
	}
	text, ok := sc.fallback.Text()
	if !ok {
		return
	}
	doc.Find(".copy-fallback").Remove()
	area := doc.Find(".share-actions")
	if area.Length() == 0 {
		area = doc.Find("main#content")
	}
	area.AppendHtml(`<textarea class="copy-fallback" readonly aria-label="Copy this text"></textarea>`)
	doc.Find(".copy-fallback").SetText(text)
}
