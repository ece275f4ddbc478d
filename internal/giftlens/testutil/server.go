package testutil

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"finitefield.org/giftlens/internal/giftlens/httpserver"
	"finitefield.org/giftlens/internal/giftlens/httpserver/templates"
	"finitefield.org/giftlens/internal/giftlens/session"
)

// ServerOption customises the HTTP server configuration for tests.
type ServerOption func(*httpserver.Config)

// WithoutCSRF disables the CSRF check so tests can post bare forms.
func WithoutCSRF() ServerOption {
	return func(cfg *httpserver.Config) {
		cfg.DisableCSRF = true
	}
}

// WithAnalysisInterval overrides the mock analysis tick.
func WithAnalysisInterval(d time.Duration) ServerOption {
	return func(cfg *httpserver.Config) {
		cfg.AnalysisInterval = d
	}
}

// WithDefaultBudget overrides the budget new wishlists start with.
func WithDefaultBudget(budget float64) ServerOption {
	return func(cfg *httpserver.Config) {
		cfg.DefaultBudget = budget
	}
}

// WithLogger routes server logs to logger.
func WithLogger(logger *zap.Logger) ServerOption {
	return func(cfg *httpserver.Config) {
		cfg.Logger = logger
	}
}

// WithWishlistQuota caps the bytes each session may store so quota handling can be exercised.
func WithWishlistQuota(n int) ServerOption {
	return func(cfg *httpserver.Config) {
		cfg.WishlistQuota = n
	}
}

// WithTemplates serves pages from set instead of the embedded templates.
func WithTemplates(set *templates.Set) ServerOption {
	return func(cfg *httpserver.Config) {
		cfg.Templates = set
	}
}

// NewServer constructs an httptest server running the storefront stack with sensible defaults.
func NewServer(t testing.TB, opts ...ServerOption) *httptest.Server {
	t.Helper()

	cfg := httpserver.Config{
		Address:          ":0",
		Sessions:         newSessions(t),
		DefaultBudget:    300,
		AnalysisInterval: 10 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	srv, err := httpserver.New(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Shutdown(context.Background())
	})
	return ts
}

// newSessions signs and encrypts cookies the way a production deployment does.
func newSessions(t testing.TB) *session.Manager {
	t.Helper()
	mgr, err := session.NewManager(session.Config{
		HashKey:  []byte(strings.Repeat("k", 32)),
		BlockKey: []byte(strings.Repeat("b", 32)),
	})
	if err != nil {
		t.Fatalf("session manager: %v", err)
	}
	return mgr
}
