// Package page wires the wishlist engine onto rendered storefront pages.
package page

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"finitefield.org/giftlens/internal/giftlens/catalog"
	"finitefield.org/giftlens/internal/giftlens/dom"
	"finitefield.org/giftlens/internal/giftlens/events"
	"finitefield.org/giftlens/internal/giftlens/integrity"
	"finitefield.org/giftlens/internal/giftlens/reflector"
	"finitefield.org/giftlens/internal/giftlens/wishlist"
)

// WiredAttr marks a document root a controller has attached to.
const WiredAttr = "data-gl-wired"

// Toast copy for wishlist clicks.
const (
	SavedMessage       = "Saved to wishlist"
	RemovedMessage     = "Removed from wishlist"
	SaveFailedMessage  = "Couldn't save your wishlist"
	UnavailableMessage = "Feature unavailable"
)

type reentryKey struct{}

// WithReentry marks ctx as a return to a page the browser already showed, as after
// back/forward navigation. Attach then skips the ready notification and integrity toasts.
func WithReentry(ctx context.Context) context.Context {
	return context.WithValue(ctx, reentryKey{}, true)
}

func isReentry(ctx context.Context) bool {
	v, _ := ctx.Value(reentryKey{}).(bool)
	return v
}

// AttachResult describes one Attach call.
type AttachResult struct {
	Page   string
	Report integrity.Report
	// Seeded is the number of items copied from the page into an empty wishlist.
	Seeded int
	// Reattached is true when the document was already wired by this controller
	// or the context was marked with WithReentry.
	Reattached bool
}

// Controller binds one page type to a wishlist store.
// A controller attaches to one document at a time; documents are not safe for concurrent use.
type Controller struct {
	page      catalog.Page
	index     *dom.Index
	gate      *integrity.Gate
	reflector *reflector.Reflector
	store     *wishlist.Store
	bus       *events.Bus
	logger    *zap.Logger
	now       func() time.Time

	mu     sync.Mutex
	state  *wishlist.State
	doc    *goquery.Document
	unsubs []func()

	// docMu serialises document writes from renders and toast handlers.
	docMu sync.Mutex
}

// ControllerOption customises a Controller.
type ControllerOption func(*Controller)

// WithLogger sets the controller logger.
func WithLogger(logger *zap.Logger) ControllerOption {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock sets the clock used for item timestamps.
func WithClock(now func() time.Time) ControllerOption {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// NewController builds a detached controller for p.
func NewController(p catalog.Page, store *wishlist.Store, bus *events.Bus, opts ...ControllerOption) *Controller {
	c := &Controller{
		page:   p,
		store:  store,
		bus:    bus,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("page", p.Name))
	c.index = dom.NewIndex(p.Attributes)
	c.gate = integrity.NewGate(p.Integrity, bus, c.logger)
	c.reflector = reflector.New(c.index, p.Reflect.Options())
	return c
}

// Page returns the page type.
func (c *Controller) Page() catalog.Page {
	return c.page
}

// Index returns the product index for this page type.
func (c *Controller) Index() *dom.Index {
	return c.index
}

// Gate returns the integrity gate.
func (c *Controller) Gate() *integrity.Gate {
	return c.gate
}

// State returns the wishlist state, or nil before the first Attach.
func (c *Controller) State() *wishlist.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Document returns the attached document, or nil when detached.
func (c *Controller) Document() *goquery.Document {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doc
}

// Attach checks doc, loads the wishlist and renders it onto doc.
// Calling Attach again is safe: subscriptions are registered once, buttons are not duplicated,
// and an unchanged integrity report does not toast twice.
func (c *Controller) Attach(ctx context.Context, doc *goquery.Document) AttachResult {
	root := doc.Find("html").First()
	_, wired := root.Attr(WiredAttr)

	c.mu.Lock()
	reattach := (wired && c.doc == doc) || isReentry(ctx)
	c.doc = doc
	if len(c.unsubs) == 0 {
		c.unsubs = []func(){
			c.bus.Subscribe(events.KindUpdated, c.onUpdated),
			c.bus.Subscribe(events.KindToast, c.onToast),
		}
	}
	c.mu.Unlock()

	var report integrity.Report
	if isReentry(ctx) {
		report = c.gate.Observe(doc)
	} else {
		report = c.gate.Check(ctx, doc)
	}

	c.mu.Lock()
	if c.state == nil {
		c.state = wishlist.NewState(c.store,
			wishlist.WithNotifier(events.WishlistNotifier{Bus: c.bus}),
			wishlist.WithGate(c.gate),
			wishlist.WithClock(c.now),
		)
	}
	state := c.state
	c.mu.Unlock()

	result := AttachResult{Page: c.page.Name, Report: report, Reattached: reattach}
	if c.page.Seed {
		result.Seeded = state.Seed(c.index.All(doc))
		if result.Seeded > 0 {
			c.logger.Info("wishlist seeded from page", zap.Int("items", result.Seeded))
		}
	}

	c.render(state, doc)
	root.SetAttr(WiredAttr, "true")

	if !reattach {
		c.bus.Publish(ctx, events.Ready{IntegrityOK: report.OK, Page: c.page.Name})
	}
	return result
}

// Detach drops the bus subscriptions and releases the document. The state survives for a later Attach.
func (c *Controller) Detach() {
	c.mu.Lock()
	unsubs := c.unsubs
	doc := c.doc
	c.unsubs = nil
	c.doc = nil
	c.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	if doc != nil {
		doc.Find("html").First().RemoveAttr(WiredAttr)
	}
}

// Render re-applies the current state to the attached document.
func (c *Controller) Render() {
	c.mu.Lock()
	state, doc := c.state, c.doc
	c.mu.Unlock()
	if state == nil || doc == nil {
		return
	}
	c.render(state, doc)
}

// Products lists the product cards on the attached document.
func (c *Controller) Products() []wishlist.Product {
	doc := c.Document()
	if doc == nil {
		return nil
	}
	return c.index.All(doc)
}

// Lookup returns the attributes of the card for id on the attached document.
func (c *Controller) Lookup(id string) (wishlist.Attrs, bool) {
	doc := c.Document()
	if doc == nil {
		return wishlist.Attrs{}, false
	}
	_, product, ok := c.index.Find(doc, id)
	if !ok {
		return wishlist.Attrs{}, false
	}
	return dom.AttributesFor(product), true
}

// Toggle saves or removes the card for id, the action behind a heart click.
func (c *Controller) Toggle(ctx context.Context, id string) (wishlist.ToggleResult, error) {
	state := c.State()
	if state == nil {
		return wishlist.ToggleResult{}, ErrNotAttached
	}
	attrs, _ := c.Lookup(id)
	return toggle(ctx, c.bus, state, id, attrs)
}

func (c *Controller) render(state *wishlist.State, doc *goquery.Document) {
	c.docMu.Lock()
	defer c.docMu.Unlock()
	c.reflector.Render(state.Snapshot(), doc)
}

func (c *Controller) onUpdated(_ context.Context, env events.Envelope) {
	update, ok := env.Notification.(events.Updated)
	if !ok {
		return
	}
	c.mu.Lock()
	state, doc := c.state, c.doc
	c.mu.Unlock()
	if state == nil || doc == nil {
		return
	}
	if update.Source != state.ID() {
		state.Reload()
	}
	c.render(state, doc)
}

func (c *Controller) onToast(_ context.Context, env events.Envelope) {
	toast, ok := env.Notification.(events.ToastRequested)
	if !ok {
		return
	}
	doc := c.Document()
	if doc == nil {
		return
	}
	c.docMu.Lock()
	defer c.docMu.Unlock()
	reflector.ShowToast(doc, toast.Message)
}

func toggle(ctx context.Context, bus *events.Bus, state *wishlist.State, id string, attrs wishlist.Attrs) (wishlist.ToggleResult, error) {
	res, err := state.Toggle(ctx, id, attrs)
	if err != nil {
		if errors.Is(err, wishlist.ErrDisabled) {
			bus.Publish(ctx, events.Toast(UnavailableMessage))
		}
		return res, err
	}
	switch {
	case res.SaveErr != nil:
		bus.Publish(ctx, events.Toast(SaveFailedMessage))
	case res.Added:
		bus.Publish(ctx, events.Toast(SavedMessage))
	default:
		bus.Publish(ctx, events.Toast(RemovedMessage))
	}
	return res, nil
}
