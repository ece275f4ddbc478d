// Package templates holds the storefront page templates.
package templates

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"path"

	"finitefield.org/giftlens/internal/giftlens/reflector"
)

//go:embed layouts/*.html partials/*.html pages/*.html
var files embed.FS

// Set maps page template names (e.g. "results.html") to a layout clone that defines "content".
type Set struct {
	pages map[string]*template.Template
}

// FuncMap returns the helpers available to every template.
func FuncMap() template.FuncMap {
	return template.FuncMap{
		"money": reflector.FormatMoney,
	}
}

// Parse builds one template tree per page from the embedded files.
func Parse() (*Set, error) {
	return ParseFS(files)
}

// ParseFS is Parse over an arbitrary tree with the same layout.
func ParseFS(fsys fs.FS) (*Set, error) {
	shared, err := template.New("_root").Funcs(FuncMap()).ParseFS(fsys, "layouts/*.html", "partials/*.html")
	if err != nil {
		return nil, fmt.Errorf("templates: parse layout: %w", err)
	}
	pages, err := fs.Glob(fsys, "pages/*.html")
	if err != nil {
		return nil, fmt.Errorf("templates: list pages: %w", err)
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("templates: no pages found")
	}

	set := &Set{pages: make(map[string]*template.Template, len(pages))}
	for _, p := range pages {
		clone, err := shared.Clone()
		if err != nil {
			return nil, fmt.Errorf("templates: clone layout: %w", err)
		}
		if _, err := clone.ParseFS(fsys, p); err != nil {
			return nil, fmt.Errorf("templates: parse %s: %w", p, err)
		}
		set.pages[path.Base(p)] = clone
	}
	return set, nil
}

// Has reports whether page was parsed.
func (s *Set) Has(page string) bool {
	_, ok := s.pages[page]
	return ok
}

// Render executes the full layout of page.
func (s *Set) Render(w io.Writer, page string, data any) error {
	return s.Execute(w, page, "base", data)
}

// Execute runs one named template from page's tree, e.g. a fragment it defines.
func (s *Set) Execute(w io.Writer, page, name string, data any) error {
	t, ok := s.pages[page]
	if !ok {
		return fmt.Errorf("templates: unknown page %q", page)
	}
	if err := t.ExecuteTemplate(w, name, data); err != nil {
		return fmt.Errorf("templates: execute %s/%s: %w", page, name, err)
	}
	return nil
}
