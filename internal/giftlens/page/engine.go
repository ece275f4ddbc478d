package page

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"finitefield.org/giftlens/internal/giftlens/analysis"
	"finitefield.org/giftlens/internal/giftlens/catalog"
	"finitefield.org/giftlens/internal/giftlens/events"
	"finitefield.org/giftlens/internal/giftlens/export"
	"finitefield.org/giftlens/internal/giftlens/wishlist"
)

// Toast copy for exports.
const (
	WishlistExportedMessage = "Wishlist exported"
	ResultsExportedMessage  = "CSV exported successfully"
	NothingToExportMessage  = "No wishlist items to export"
)

var (
	// ErrNotAttached is returned by page operations before a document was attached.
	ErrNotAttached = errors.New("page: no document attached")
	// ErrNoRunner is returned by StartAnalysis when the engine has no analysis runner.
	ErrNoRunner = errors.New("page: analysis unavailable")
	// ErrNothingToExport is returned when an export would be empty.
	ErrNothingToExport = errors.New("page: nothing to export")
)

// Config wires an Engine.
type Config struct {
	// Catalog defaults to the embedded catalog.
	Catalog *catalog.Catalog
	Store   *wishlist.Store
	Bus     *events.Bus
	Logger  *zap.Logger
	// Runner drives StartAnalysis. Optional.
	Runner *analysis.Runner
	// Clipboard and FallbackClipboard back CopyToClipboard.
	Clipboard         export.Clipboard
	FallbackClipboard export.Clipboard
	// DefaultPage names the page type used when a document does not declare one.
	DefaultPage string
	// PageURL is copied when CopyToClipboard gets no text.
	PageURL string
	Now     func() time.Time
}

// Engine is the page-independent API over one session's wishlist.
type Engine struct {
	catalog     *catalog.Catalog
	store       *wishlist.Store
	bus         *events.Bus
	logger      *zap.Logger
	runner      *analysis.Runner
	copier      export.Copier
	defaultPage string
	pageURL     string
	now         func() time.Time

	mu          sync.Mutex
	controllers map[string]*Controller
	current     *Controller
	headless    *wishlist.State
}

// NewEngine validates cfg and builds an engine with no page attached.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New("page: store is required")
	}
	if cfg.Bus == nil {
		return nil, errors.New("page: bus is required")
	}
	cat := cfg.Catalog
	if cat == nil {
		var err error
		if cat, err = catalog.Default(); err != nil {
			return nil, err
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	defaultPage := strings.TrimSpace(cfg.DefaultPage)
	if defaultPage == "" {
		defaultPage = catalog.PageHome
	}
	if _, err := cat.Page(defaultPage); err != nil {
		return nil, err
	}
	return &Engine{
		catalog: cat,
		store:   cfg.Store,
		bus:     cfg.Bus,
		logger:  logger,
		runner:  cfg.Runner,
		copier: export.Copier{
			Primary:   cfg.Clipboard,
			Fallback:  cfg.FallbackClipboard,
			Publisher: cfg.Bus,
			Logger:    logger,
		},
		defaultPage: defaultPage,
		pageURL:     cfg.PageURL,
		now:         now,
		controllers: make(map[string]*Controller),
	}, nil
}

// PageName reads the page type declared on the document body.
func PageName(doc *goquery.Document) string {
	name, _ := doc.Find("body").First().Attr("data-page")
	return strings.TrimSpace(name)
}

// Init attaches the controller for doc's page type and makes it current.
func (e *Engine) Init(ctx context.Context, doc *goquery.Document) (AttachResult, error) {
	name := PageName(doc)
	if name == "" {
		name = e.defaultPage
	}
	p, err := e.catalog.Page(name)
	if err != nil {
		return AttachResult{}, err
	}

	e.mu.Lock()
	ctrl, ok := e.controllers[name]
	if !ok {
		ctrl = NewController(p, e.store, e.bus, WithLogger(e.logger), WithClock(e.now))
		e.controllers[name] = ctrl
	}
	e.current = ctrl
	e.mu.Unlock()

	return ctrl.Attach(ctx, doc), nil
}

// Current returns the most recently initialised controller.
func (e *Engine) Current() (*Controller, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current, e.current != nil
}

// Detach detaches every controller.
func (e *Engine) Detach() {
	e.mu.Lock()
	ctrls := make([]*Controller, 0, len(e.controllers))
	for _, c := range e.controllers {
		ctrls = append(ctrls, c)
	}
	e.current = nil
	e.mu.Unlock()
	for _, c := range ctrls {
		c.Detach()
	}
}

// AddToWishlist saves id. Without attrs the card on the current page is used,
// then the mock catalog. It reports whether the item was newly added.
func (e *Engine) AddToWishlist(ctx context.Context, id string, attrs *wishlist.Attrs) bool {
	a := e.attrsFor(id)
	if attrs != nil {
		a = *attrs
	}
	res, err := e.state().Add(ctx, id, a)
	if err != nil {
		e.reject(ctx, "add", id, err)
		return false
	}
	return res == wishlist.Added
}

// RemoveFromWishlist deletes id and reports whether it was saved.
func (e *Engine) RemoveFromWishlist(ctx context.Context, id string) bool {
	_, res, err := e.state().Remove(ctx, id)
	if err != nil {
		e.reject(ctx, "remove", id, err)
		return false
	}
	return res == wishlist.Removed
}

// GetWishlist returns a copy of the saved items.
func (e *Engine) GetWishlist() []wishlist.Item {
	return e.state().List()
}

// Snapshot returns a copy of the whole record.
func (e *Engine) Snapshot() wishlist.Record {
	return e.state().Snapshot()
}

// Toggle saves or removes id and toasts the outcome.
func (e *Engine) Toggle(ctx context.Context, id string) (wishlist.ToggleResult, error) {
	if ctrl, ok := e.Current(); ok {
		return ctrl.Toggle(ctx, id)
	}
	return toggle(ctx, e.bus, e.state(), id, e.attrsFor(id))
}

// SetQuantity changes the quantity of a saved item, clamped to at least 1.
func (e *Engine) SetQuantity(ctx context.Context, id string, quantity int) (wishlist.Result, error) {
	res, err := e.state().SetQuantity(ctx, id, quantity)
	if err != nil {
		e.reject(ctx, "set quantity", id, err)
	}
	return res, err
}

// SetBudget changes the budget.
func (e *Engine) SetBudget(ctx context.Context, budget float64) (wishlist.Result, error) {
	res, err := e.state().SetBudget(ctx, budget)
	if err != nil {
		e.reject(ctx, "set budget", "", err)
	}
	return res, err
}

// Clear empties the wishlist.
func (e *Engine) Clear(ctx context.Context) (wishlist.Result, error) {
	res, err := e.state().Clear(ctx)
	if err != nil {
		e.reject(ctx, "clear", "", err)
	}
	return res, err
}

// StartAnalysis starts the mock analysis sequence.
func (e *Engine) StartAnalysis(ctx context.Context, cfg analysis.Config) error {
	if e.runner == nil {
		return ErrNoRunner
	}
	return e.runner.Start(ctx, cfg)
}

// ExportCSV renders items, or the wishlist when items is nil, as a three-column CSV.
func (e *Engine) ExportCSV(ctx context.Context, items []wishlist.Item) (export.File, error) {
	if items == nil {
		items = e.GetWishlist()
	}
	file, err := export.SimpleCSV(export.GenericFilename, items)
	if err != nil {
		return export.File{}, err
	}
	e.bus.Publish(ctx, events.CSVExported{Filename: file.Filename, Items: items})
	return file, nil
}

// ExportWishlist renders the full wishlist CSV. An empty wishlist is refused with a toast.
func (e *Engine) ExportWishlist(ctx context.Context) (export.File, error) {
	items := e.GetWishlist()
	if len(items) == 0 {
		e.bus.Publish(ctx, events.Toast(NothingToExportMessage))
		return export.File{}, ErrNothingToExport
	}
	file, err := export.WishlistCSV(items)
	if err != nil {
		return export.File{}, err
	}
	e.bus.Publish(ctx, events.CSVExported{Filename: file.Filename, Items: items})
	e.bus.Publish(ctx, events.Toast(WishlistExportedMessage))
	return file, nil
}

// ExportResults renders the product cards on the current page.
func (e *Engine) ExportResults(ctx context.Context) (export.File, error) {
	ctrl, ok := e.Current()
	if !ok {
		return export.File{}, ErrNotAttached
	}
	items := export.ItemsFromProducts(ctrl.Products())
	file, err := export.SimpleCSV(export.ResultsFilename, items)
	if err != nil {
		return export.File{}, err
	}
	e.bus.Publish(ctx, events.CSVExported{Filename: file.Filename, Items: items})
	e.bus.Publish(ctx, events.Toast(ResultsExportedMessage))
	return file, nil
}

// CopyToClipboard copies text, or the page URL when text is empty.
func (e *Engine) CopyToClipboard(ctx context.Context, text string) bool {
	if text == "" {
		text = e.pageURL
	}
	return e.copier.Copy(ctx, text, export.LinkCopiedMessage)
}

// CopyList copies the plain-text wishlist.
func (e *Engine) CopyList(ctx context.Context) bool {
	return e.copier.Copy(ctx, export.ListText(e.Snapshot()), export.ListCopiedMessage)
}

// MailtoURL returns an email link listing the wishlist.
func (e *Engine) MailtoURL() string {
	return export.MailtoURL(e.Snapshot())
}

// ToastOption customises ShowToast.
type ToastOption func(*events.ToastRequested)

// WithDuration sets how long the toast stays visible.
func WithDuration(d time.Duration) ToastOption {
	return func(t *events.ToastRequested) {
		if d > 0 {
			t.Duration = d
		}
	}
}

// ShowToast publishes a toast. Attached pages render it.
func (e *Engine) ShowToast(ctx context.Context, message string, opts ...ToastOption) {
	toast := events.Toast(message)
	for _, opt := range opts {
		opt(&toast)
	}
	e.bus.Publish(ctx, toast)
}

// state returns the current controller's state, or a page-less state before any Init.
func (e *Engine) state() *wishlist.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current != nil {
		if s := e.current.State(); s != nil {
			return s
		}
	}
	if e.headless == nil {
		e.headless = wishlist.NewState(e.store,
			wishlist.WithNotifier(events.WishlistNotifier{Bus: e.bus}),
			wishlist.WithClock(e.now),
		)
	}
	return e.headless
}

func (e *Engine) attrsFor(id string) wishlist.Attrs {
	if ctrl, ok := e.Current(); ok {
		if attrs, found := ctrl.Lookup(id); found {
			return attrs
		}
	}
	if p, ok := e.catalog.Products().Lookup(id); ok {
		return p.Wishlist().Attrs()
	}
	return wishlist.Attrs{}
}

func (e *Engine) reject(ctx context.Context, op, id string, err error) {
	e.logger.Info("wishlist operation rejected", zap.String("op", op), zap.String("id", id), zap.Error(err))
	if errors.Is(err, wishlist.ErrDisabled) {
		e.bus.Publish(ctx, events.Toast(UnavailableMessage))
	}
}
