package ui

import (
	"bytes"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"finitefield.org/giftlens/internal/giftlens/analysis"
	"finitefield.org/giftlens/internal/giftlens/catalog"
	"finitefield.org/giftlens/internal/giftlens/events"
)

// AnalysisCompleteMessage is toasted when the mock analysis finishes.
const AnalysisCompleteMessage = "Analysis complete"

var pagePaths = map[string]string{
	catalog.PageHome:     "/",
	catalog.PageAnalysis: "/analysis",
	catalog.PageResults:  "/results",
	catalog.PageWishlist: "/wishlist",
}

// Home renders the landing page.
func (h *Handlers) Home(w http.ResponseWriter, r *http.Request) {
	h.renderPage(w, r, catalog.PageHome)
}

// Results renders the product results grid.
func (h *Handlers) Results(w http.ResponseWriter, r *http.Request) {
	h.renderPage(w, r, catalog.PageResults)
}

// Wishlist renders the saved items with budget controls.
func (h *Handlers) Wishlist(w http.ResponseWriter, r *http.Request) {
	h.renderPage(w, r, catalog.PageWishlist)
}

// Analysis starts a mock analysis run for the submitted profile and renders its progress page.
func (h *Handlers) Analysis(w http.ResponseWriter, r *http.Request) {
	sc, err := h.begin(r, absoluteURL(r, pagePaths[catalog.PageAnalysis]))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	defer sc.release()

	cfg := analysis.Config{Params: profileParams(r)}
	if err := sc.engine.StartAnalysis(r.Context(), cfg); err != nil && !errors.Is(err, analysis.ErrRunning) {
		h.fail(w, r, err)
		return
	}

	doc, _, err := h.load(r, sc, catalog.PageAnalysis)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeDocument(w, r, sc, doc)
}

// AnalysisProgress renders the progress fragment polled by the analysis page.
// A finished run redirects the browser to the results.
func (h *Handlers) AnalysisProgress(w http.ResponseWriter, r *http.Request) {
	sc, err := h.begin(r, absoluteURL(r, pagePaths[catalog.PageAnalysis]))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	defer sc.release()

	ctx := r.Context()
	progress := sc.runner.Progress()
	if progress.Percent > 0 {
		sc.bus.Publish(ctx, events.AnalysisProgress{Percent: progress.Percent, Step: progress.Step})
	}
	if progress.Done {
		sc.bus.Publish(ctx, events.AnalysisCompleted{})
		sc.engine.ShowToast(ctx, AnalysisCompleteMessage)
		w.Header().Set("HX-Redirect", pagePaths[catalog.PageResults])
	}

	var buf bytes.Buffer
	if err := h.templates.Execute(&buf, "analysis.html", "analysis-progress", progress); err != nil {
		h.fail(w, r, err)
		return
	}
	setTrigger(w, sc)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (h *Handlers) renderPage(w http.ResponseWriter, r *http.Request, name string) {
	sc, err := h.begin(r, absoluteURL(r, pagePaths[name]))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	defer sc.release()

	doc, _, err := h.load(r, sc, name)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeDocument(w, r, sc, doc)
}

func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	writeError(w, r, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
}

// profileParams flattens the submitted gift profile, keeping the first value of each field.
func profileParams(r *http.Request) map[string]string {
	query := r.URL.Query()
	if len(query) == 0 {
		return nil
	}
	params := make(map[string]string, len(query))
	for key, values := range query {
		if len(values) > 0 && strings.TrimSpace(values[0]) != "" {
			params[key] = strings.TrimSpace(values[0])
		}
	}
	return params
}

func absoluteURL(r *http.Request, path string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto == "https" || proto == "http" {
		scheme = proto
	}
	return scheme + "://" + r.Host + path
}
