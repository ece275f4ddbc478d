package ui

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/PuerkitoBio/goquery"
	"github.com/a-h/templ"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"finitefield.org/giftlens/internal/giftlens/events"
	custommw "finitefield.org/giftlens/internal/giftlens/httpserver/middleware"
	"finitefield.org/giftlens/internal/giftlens/observability"
)

// nodes renders parsed nodes as a templ component.
func nodes(list ...*html.Node) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		for _, n := range list {
			if err := html.Render(w, n); err != nil {
				return err
			}
		}
		return nil
	})
}

// setTrigger exposes the notifications raised by this request to htmx.
func setTrigger(w http.ResponseWriter, sc *scope) {
	header, err := events.TriggerHeader(sc.recorder.Envelopes())
	if err != nil {
		sc.logger.Warn("encode hx-trigger failed", zap.Error(err))
		return
	}
	if header != "" {
		w.Header().Set("HX-Trigger", header)
	}
}

// writeDocument sends the whole page.
func writeDocument(w http.ResponseWriter, r *http.Request, sc *scope, doc *goquery.Document) {
	decorate(doc, sc)
	setTrigger(w, sc)
	templ.Handler(nodes(doc.Nodes...)).ServeHTTP(w, r)
}

// writeContent sends the main region plus an out-of-band count badge for htmx swaps.
func writeContent(w http.ResponseWriter, r *http.Request, sc *scope, doc *goquery.Document) {
	decorate(doc, sc)
	setTrigger(w, sc)

	main := doc.Find("main#content").First()
	if main.Length() == 0 {
		writeDocument(w, r, sc, doc)
		return
	}
	list := []*html.Node{main.Get(0)}
	if count := doc.Find("#wishlist-count").First(); count.Length() > 0 {
		oob := count.Clone()
		oob.SetAttr("hx-swap-oob", "true")
		list = append(list, oob.Get(0))
	}
	templ.Handler(nodes(list...)).ServeHTTP(w, r)
}

// writeError responds with JSON for htmx requests and plain text otherwise.
func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	if custommw.IsHTMXRequest(r.Context()) {
		writeJSON(w, r, status, map[string]string{"error": msg})
		return
	}
	http.Error(w, msg, status)
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		observability.FromContext(r.Context()).Warn("encode json response failed", zap.Error(err))
	}
}
