package middleware

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const navigationKey contextKey = "giftlens.navigation"

// Navigation is how the browser reached the current request.
type Navigation struct {
	// Fragment is set for htmx requests that swap part of the page.
	Fragment bool
	// Restore is set when htmx reloads a page from history after back/forward navigation.
	Restore bool
}

// HTMX reads the htmx request headers into the context. Responses vary on HX-Request
// because the same URL answers with a fragment or a full page.
func HTMX() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Add("Vary", "HX-Request")
			nav := Navigation{
				Fragment: headerTrue(r, "HX-Request"),
				Restore:  headerTrue(r, "HX-History-Restore-Request"),
			}
			ctx := context.WithValue(r.Context(), navigationKey, nav)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NavigationFromContext returns the navigation recorded by HTMX, or the zero value.
func NavigationFromContext(ctx context.Context) Navigation {
	nav, _ := ctx.Value(navigationKey).(Navigation)
	return nav
}

// IsHTMXRequest reports whether htmx issued the request.
func IsHTMXRequest(ctx context.Context) bool {
	return NavigationFromContext(ctx).Fragment
}

// IsHistoryRestore reports whether the page is being restored after back/forward navigation.
func IsHistoryRestore(ctx context.Context) bool {
	return NavigationFromContext(ctx).Restore
}

// RequireHTMX answers 404 to direct navigation so fragment routes stay hidden.
func RequireHTMX() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !IsHTMXRequest(r.Context()) {
				http.NotFound(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func headerTrue(r *http.Request, name string) bool {
	return strings.EqualFold(r.Header.Get(name), "true")
}
