// Package content renders the markdown copy shown on the home page.
package content

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"gopkg.in/yaml.v3"
)

//go:embed blocks/*.md
var embedded embed.FS

var (
	defaultOnce sync.Once
	defaultSet  *Set
	defaultErr  error
)

// Block is one rendered copy block.
type Block struct {
	Slug    string
	Section string
	Title   string
	Order   int
	HTML    template.HTML
}

type frontMatter struct {
	Title   string `yaml:"title"`
	Section string `yaml:"section"`
	Order   int    `yaml:"order"`
}

// Set groups blocks by section.
type Set struct {
	sections map[string][]Block
}

// Default returns the embedded copy, rendered once.
func Default() (*Set, error) {
	defaultOnce.Do(func() {
		sub, err := fs.Sub(embedded, "blocks")
		if err != nil {
			defaultErr = err
			return
		}
		defaultSet, defaultErr = Load(sub)
	})
	return defaultSet, defaultErr
}

// Load renders every .md file at the root of fsys.
func Load(fsys fs.FS) (*Set, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("content: read blocks: %w", err)
	}
	md := goldmark.New()
	policy := bluemonday.UGCPolicy()

	set := &Set{sections: make(map[string][]Block)}
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".md" {
			continue
		}
		data, err := fs.ReadFile(fsys, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("content: read %s: %w", entry.Name(), err)
		}
		block, err := render(md, policy, strings.TrimSuffix(entry.Name(), ".md"), string(data))
		if err != nil {
			return nil, err
		}
		set.sections[block.Section] = append(set.sections[block.Section], block)
	}
	for name := range set.sections {
		blocks := set.sections[name]
		sort.SliceStable(blocks, func(i, j int) bool {
			if blocks[i].Order != blocks[j].Order {
				return blocks[i].Order < blocks[j].Order
			}
			return blocks[i].Slug < blocks[j].Slug
		})
	}
	return set, nil
}

func render(md goldmark.Markdown, policy *bluemonday.Policy, slug, raw string) (Block, error) {
	fm, body := splitFrontMatter(raw)
	front := frontMatter{}
	if strings.TrimSpace(fm) != "" {
		if err := yaml.Unmarshal([]byte(fm), &front); err != nil {
			return Block{}, fmt.Errorf("content: parse front matter %s: %w", slug, err)
		}
	}
	var buf bytes.Buffer
	if err := md.Convert([]byte(body), &buf); err != nil {
		return Block{}, fmt.Errorf("content: render %s: %w", slug, err)
	}
	section := strings.TrimSpace(front.Section)
	if section == "" {
		section = "misc"
	}
	return Block{
		Slug:    slug,
		Section: section,
		Title:   strings.TrimSpace(front.Title),
		Order:   front.Order,
		// sanitized by policy
		HTML: template.HTML(policy.SanitizeBytes(buf.Bytes())),
	}, nil
}

// Section returns the blocks of one section in display order.
func (s *Set) Section(name string) []Block {
	if s == nil {
		return nil
	}
	blocks := s.sections[name]
	out := make([]Block, len(blocks))
	copy(out, blocks)
	return out
}

func splitFrontMatter(input string) (string, string) {
	input = strings.TrimLeft(input, "\ufeff")
	lines := strings.Split(input, "\n")
	if strings.TrimSpace(lines[0]) != "---" {
		return "", input
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			fm := strings.Join(lines[1:i], "\n")
			body := strings.Join(lines[i+1:], "\n")
			return fm, strings.TrimLeft(body, "\n\r")
		}
	}
	return "", input
}
