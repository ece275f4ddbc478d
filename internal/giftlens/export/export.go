// Package export turns the wishlist into shareable artefacts: CSV files, plain text and mail links.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"finitefield.org/giftlens/internal/giftlens/wishlist"
)

// Download file names.
const (
	WishlistFilename = "giftlens_wishlist.csv"
	ResultsFilename  = "giftlens-results.csv"
	GenericFilename  = "giftlens-export.csv"

	csvContentType = "text/csv; charset=utf-8"
	mailSubject    = "My GiftLens Wishlist"
)

// File is a generated download.
type File struct {
	Filename    string
	ContentType string
	Body        []byte
}

// WishlistCSV renders the full wishlist table.
func WishlistCSV(items []wishlist.Item) (File, error) {
	rows := [][]string{{"Product Name", "Price", "Quantity", "Total", "Source", "Link"}}
	for _, item := range items {
		rows = append(rows, []string{
			item.Name,
			dollars(item.Price),
			strconv.Itoa(item.Quantity),
			strconv.FormatFloat(item.Total(), 'f', 2, 64),
			item.Source,
			item.Link,
		})
	}
	return writeCSV(WishlistFilename, rows)
}

// SimpleCSV renders the three-column product table used by the results page.
func SimpleCSV(filename string, items []wishlist.Item) (File, error) {
	if filename == "" {
		filename = GenericFilename
	}
	rows := [][]string{{"Product Name", "Price", "Site"}}
	for _, item := range items {
		rows = append(rows, []string{item.Name, dollars(item.Price), item.Source})
	}
	return writeCSV(filename, rows)
}

// ItemsFromProducts adapts page products to the item shape the CSV writers take.
func ItemsFromProducts(products []wishlist.Product) []wishlist.Item {
	items := make([]wishlist.Item, 0, len(products))
	for _, p := range products {
		quantity := p.Quantity
		if quantity < 1 {
			quantity = 1
		}
		items = append(items, wishlist.Item{
			ID:       p.ID,
			Name:     p.Name,
			Price:    p.Price,
			Quantity: quantity,
			Image:    p.Image,
			Source:   p.Source,
			Link:     p.Link,
		})
	}
	return items
}

func writeCSV(filename string, rows [][]string) (File, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(rows); err != nil {
		return File{}, fmt.Errorf("export: write %s: %w", filename, err)
	}
	return File{Filename: filename, ContentType: csvContentType, Body: buf.Bytes()}, nil
}

// ListText is the plain-text wishlist placed on the clipboard by "copy list".
func ListText(record wishlist.Record) string {
	var b strings.Builder
	b.WriteString("My Wishlist:\n\n")
	for _, item := range record.Items {
		fmt.Fprintf(&b, "%s - %s (Qty: %d) - %s\n%s\n\n", item.Name, dollars(item.Price), item.Quantity, item.Source, item.Link)
	}
	writeTotals(&b, record, "\n")
	return b.String()
}

// MailtoURL builds a mailto: link whose body lists the wishlist.
func MailtoURL(record wishlist.Record) string {
	var b strings.Builder
	b.WriteString("My Wishlist:\r\n\r\n")
	for _, item := range record.Items {
		fmt.Fprintf(&b, "%s - %s (Qty: %d)\r\n%s\r\n\r\n", item.Name, dollars(item.Price), item.Quantity, item.Link)
	}
	writeTotals(&b, record, "\r\n")
	return "mailto:?subject=" + escape(mailSubject) + "&body=" + escape(b.String())
}

func writeTotals(b *strings.Builder, record wishlist.Record, newline string) {
	fmt.Fprintf(b, "Subtotal: %s%s", dollars(record.Subtotal), newline)
	fmt.Fprintf(b, "Budget Remaining: %s", dollars(record.Remaining()))
}

func dollars(v float64) string {
	return "$" + strconv.FormatFloat(v, 'f', 2, 64)
}

func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
