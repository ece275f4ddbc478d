package ui

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-chi/chi/v5"

	"finitefield.org/giftlens/internal/giftlens/catalog"
	"finitefield.org/giftlens/internal/giftlens/export"
	custommw "finitefield.org/giftlens/internal/giftlens/httpserver/middleware"
	"finitefield.org/giftlens/internal/giftlens/page"
	"finitefield.org/giftlens/internal/giftlens/wishlist"
)

// Snapshot is the JSON shape of GET /api/wishlist.
type Snapshot struct {
	Items     []wishlist.Item `json:"items"`
	Budget    float64         `json:"budget"`
	Subtotal  float64         `json:"subtotal"`
	Remaining float64         `json:"remaining"`
	Count     int             `json:"count"`
}

// ToggleItem saves or removes a product from the page named by the "page" form field.
func (h *Handlers) ToggleItem(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.PostFormValue("page"))
	if name == "" {
		name = catalog.PageResults
	}
	if _, ok := pagePaths[name]; !ok {
		writeError(w, r, http.StatusBadRequest, "unknown page")
		return
	}
	id := chi.URLParam(r, "id")

	h.mutate(w, r, name, func(sc *scope, _ *goquery.Document) (int, string) {
		if _, err := sc.engine.Toggle(r.Context(), id); err != nil {
			return statusFor(err)
		}
		return 0, ""
	})
}

// UpdateQuantity applies the +/- buttons or a typed quantity to a saved item.
func (h *Handlers) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	action := r.PostFormValue("action")
	typed := r.PostFormValue("quantity")

	h.mutate(w, r, catalog.PageWishlist, func(sc *scope, _ *goquery.Document) (int, string) {
		current, ok := findItem(sc.engine.GetWishlist(), id)
		if !ok {
			return http.StatusNotFound, "item not in wishlist"
		}
		quantity := current.Quantity
		switch action {
		case "increase":
			quantity++
		case "decrease":
			quantity--
		default:
			n, err := strconv.Atoi(strings.TrimSpace(typed))
			if err != nil {
				return http.StatusBadRequest, "invalid quantity"
			}
			quantity = n
		}
		if _, err := sc.engine.SetQuantity(r.Context(), id, quantity); err != nil {
			return statusFor(err)
		}
		return 0, ""
	})
}

// DeleteItem removes a saved item.
func (h *Handlers) DeleteItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h.mutate(w, r, catalog.PageWishlist, func(sc *scope, _ *goquery.Document) (int, string) {
		if sc.engine.RemoveFromWishlist(r.Context(), id) {
			sc.engine.ShowToast(r.Context(), page.RemovedMessage)
		}
		return 0, ""
	})
}

// UpdateBudget sets the wishlist budget.
func (h *Handlers) UpdateBudget(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.PostFormValue("budget"))
	h.mutate(w, r, catalog.PageWishlist, func(sc *scope, _ *goquery.Document) (int, string) {
		budget, err := strconv.ParseFloat(raw, 64)
		if err != nil || budget < 0 {
			return http.StatusBadRequest, "invalid budget"
		}
		if _, err := sc.engine.SetBudget(r.Context(), budget); err != nil {
			return statusFor(err)
		}
		return 0, ""
	})
}

// ClearWishlist removes every item.
func (h *Handlers) ClearWishlist(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, catalog.PageWishlist, func(sc *scope, _ *goquery.Document) (int, string) {
		if _, err := sc.engine.Clear(r.Context()); err != nil {
			return statusFor(err)
		}
		return 0, ""
	})
}

// CopyWishlist copies the share link (mode=link) or the plain-text list (mode=list).
func (h *Handlers) CopyWishlist(w http.ResponseWriter, r *http.Request) {
	mode := r.PostFormValue("mode")
	h.mutate(w, r, catalog.PageWishlist, func(sc *scope, doc *goquery.Document) (int, string) {
		switch mode {
		case "list":
			sc.engine.CopyList(r.Context())
		case "", "link":
			sc.engine.CopyToClipboard(r.Context(), "")
		default:
			return http.StatusBadRequest, "unknown copy mode"
		}
		copyFallback(doc, sc)
		return 0, ""
	})
}

// ExportWishlist downloads the wishlist as CSV.
func (h *Handlers) ExportWishlist(w http.ResponseWriter, r *http.Request) {
	sc, err := h.begin(r, absoluteURL(r, pagePaths[catalog.PageWishlist]))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	defer sc.release()

	file, err := sc.engine.ExportWishlist(r.Context())
	if errors.Is(err, page.ErrNothingToExport) {
		setTrigger(w, sc)
		writeError(w, r, http.StatusNotFound, page.NothingToExportMessage)
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeFile(w, sc, file)
}

// ExportResults downloads the results grid as CSV.
func (h *Handlers) ExportResults(w http.ResponseWriter, r *http.Request) {
	sc, err := h.begin(r, absoluteURL(r, pagePaths[catalog.PageResults]))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	defer sc.release()

	if _, _, err := h.load(r, sc, catalog.PageResults); err != nil {
		h.fail(w, r, err)
		return
	}
	file, err := sc.engine.ExportResults(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeFile(w, sc, file)
}

// WishlistAPI returns the wishlist as JSON.
func (h *Handlers) WishlistAPI(w http.ResponseWriter, r *http.Request) {
	sc, err := h.begin(r, absoluteURL(r, pagePaths[catalog.PageWishlist]))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	defer sc.release()

	record := sc.engine.Snapshot()
	items := record.Items
	if items == nil {
		items = []wishlist.Item{}
	}
	writeJSON(w, r, http.StatusOK, Snapshot{
		Items:     items,
		Budget:    record.Budget,
		Subtotal:  record.Subtotal,
		Remaining: record.Remaining(),
		Count:     len(items),
	})
}

// mutate loads page name, applies op, then answers with the refreshed content for htmx
// or a redirect back to the page otherwise. op returns a non-zero status to abort.
func (h *Handlers) mutate(w http.ResponseWriter, r *http.Request, name string, op func(*scope, *goquery.Document) (int, string)) {
	sc, err := h.begin(r, absoluteURL(r, pagePaths[catalog.PageWishlist]))
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
	if status, msg := op(sc, doc); status != 0 {
		setTrigger(w, sc)
		writeError(w, r, status, msg)
		return
	}

	if custommw.IsHTMXRequest(r.Context()) {
		writeContent(w, r, sc, doc)
		return
	}
	http.Redirect(w, r, pagePaths[name], http.StatusSeeOther)
}

func writeFile(w http.ResponseWriter, sc *scope, file export.File) {
	setTrigger(w, sc)
	w.Header().Set("Content-Type", file.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+file.Filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(file.Body)))
	_, _ = w.Write(file.Body)
}

func findItem(items []wishlist.Item, id string) (wishlist.Item, bool) {
	for _, item := range items {
		if item.ID == id {
			return item, true
		}
	}
	return wishlist.Item{}, false
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, wishlist.ErrEmptyID):
		return http.StatusBadRequest, "missing product id"
	case errors.Is(err, wishlist.ErrDisabled):
		return http.StatusConflict, page.UnavailableMessage
	default:
		return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
	}
}
