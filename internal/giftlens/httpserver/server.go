package httpserver

import (
	"crypto/rand"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"finitefield.org/giftlens/internal/giftlens/catalog"
	"finitefield.org/giftlens/internal/giftlens/content"
	custommw "finitefield.org/giftlens/internal/giftlens/httpserver/middleware"
	"finitefield.org/giftlens/internal/giftlens/httpserver/templates"
	"finitefield.org/giftlens/internal/giftlens/httpserver/ui"
	"finitefield.org/giftlens/internal/giftlens/observability"
	"finitefield.org/giftlens/internal/giftlens/session"
	"finitefield.org/giftlens/internal/giftlens/storage"
)

const (
	defaultReadTimeout    = 15 * time.Second
	defaultWriteTimeout   = 30 * time.Second
	defaultIdleTimeout    = 120 * time.Second
	defaultRequestTimeout = 30 * time.Second
)

// Config holds runtime options for the storefront HTTP server.
type Config struct {
	Address        string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration

	// Sessions encodes the cookie that identifies the visitor. A throwaway manager is built when nil.
	Sessions *session.Manager
	Logger   *zap.Logger
	Catalog  *catalog.Catalog
	Content  *content.Set
	// Templates replaces the embedded page templates when set.
	Templates *templates.Set

	DefaultBudget    float64
	AnalysisInterval time.Duration
	// WishlistQuota bounds the bytes each session may store. Zero uses storage.DefaultQuota.
	WishlistQuota int
	DisableCSRF   bool
}

// New constructs the HTTP server with its middleware stack. Background analysis
// runs are stopped when the server shuts down.
func New(cfg Config) (*http.Server, error) {
	logger := observability.OrNop(cfg.Logger)

	sessions := cfg.Sessions
	if sessions == nil {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("httpserver: generate session key: %w", err)
		}
		var err error
		if sessions, err = session.NewManager(session.Config{HashKey: key}); err != nil {
			return nil, err
		}
	}

	slotOpts := []storage.RegistryOption{storage.WithIdleTTL(sessions.IdleTimeout())}
	if cfg.WishlistQuota > 0 {
		slotOpts = append(slotOpts, storage.WithQuota(cfg.WishlistQuota))
	}

	handlers, err := ui.NewHandlers(ui.Dependencies{
		Catalog:          cfg.Catalog,
		Content:          cfg.Content,
		Templates:        cfg.Templates,
		Slots:            storage.NewRegistry(slotOpts...),
		DefaultBudget:    cfg.DefaultBudget,
		AnalysisInterval: cfg.AnalysisInterval,
		Logger:           logger,
	})
	if err != nil {
		return nil, err
	}

	router := chi.NewRouter()
	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(observability.RequestLogger(logger))
	router.Use(chimw.Recoverer)
	router.Use(chimw.Timeout(durationOr(cfg.RequestTimeout, defaultRequestTimeout)))

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mountStorefrontRoutes(router, handlers, routeOptions{
		Sessions:    sessions,
		DisableCSRF: cfg.DisableCSRF,
	})

	srv := &http.Server{
		Addr:              cfg.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       durationOr(cfg.ReadTimeout, defaultReadTimeout),
		WriteTimeout:      durationOr(cfg.WriteTimeout, defaultWriteTimeout),
		IdleTimeout:       durationOr(cfg.IdleTimeout, defaultIdleTimeout),
	}
	srv.RegisterOnShutdown(handlers.Shutdown)
	return srv, nil
}

type routeOptions struct {
	Sessions    custommw.SessionStore
	DisableCSRF bool
}

func mountStorefrontRoutes(router chi.Router, h *ui.Handlers, opts routeOptions) {
	router.Group(func(r chi.Router) {
		r.Use(custommw.HTMX())
		r.Use(custommw.Session(opts.Sessions, custommw.OnSessionEnd(h.EndSession)))
		if !opts.DisableCSRF {
			r.Use(custommw.CSRF(custommw.CSRFConfig{}))
		}
		r.Use(custommw.NoStore())

		r.Get("/", h.Home)
		r.Get("/analysis", h.Analysis)
		r.With(custommw.RequireHTMX()).Get("/analysis/progress", h.AnalysisProgress)
		r.Get("/results", h.Results)
		r.Get("/results/export.csv", h.ExportResults)

		r.Route("/wishlist", func(r chi.Router) {
			r.Get("/", h.Wishlist)
			r.Post("/toggle/{id}", h.ToggleItem)
			r.Post("/items/{id}/quantity", h.UpdateQuantity)
			r.Post("/items/{id}/delete", h.DeleteItem)
			r.Post("/budget", h.UpdateBudget)
			r.Post("/clear", h.ClearWishlist)
			r.Post("/copy", h.CopyWishlist)
			r.Get("/export.csv", h.ExportWishlist)
		})

		r.Get("/api/wishlist", h.WishlistAPI)
	})
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
