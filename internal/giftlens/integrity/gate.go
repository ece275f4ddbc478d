// Package integrity checks that a page carries the landmarks the wishlist depends on.
package integrity

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"finitefield.org/giftlens/internal/giftlens/events"
)

// Expected landmark copy on the results page.
const (
	ProviderBarText = "Searching: Amazon ? Shop ? Etsy ? Walmart ? More"
	AffiliateText   = "All purchases may use affiliate links."
)

// Landmark is a structural element a page must (or should) carry.
type Landmark struct {
	Name     string `yaml:"name"`
	Selector string `yaml:"selector"`
	// Text, when set, must equal the element text after whitespace folding.
	Text     string `yaml:"text"`
	Required bool   `yaml:"required"`
}

// CardRange bounds the number of result cards. A zero Max disables the upper bound.
type CardRange struct {
	Selector string `yaml:"selector"`
	Min      int    `yaml:"min"`
	Max      int    `yaml:"max"`
}

// Rules is everything the gate checks on one page type.
type Rules struct {
	Landmarks []Landmark `yaml:"landmarks"`
	Cards     *CardRange `yaml:"cards"`
}

// FindingKind classifies a finding.
type FindingKind string

const (
	FindingMissing   FindingKind = "missing"
	FindingMismatch  FindingKind = "mismatch"
	FindingCardCount FindingKind = "card_count"
)

// Finding is one failed check.
type Finding struct {
	Kind     FindingKind
	Landmark string
	Selector string
	Expected string
	Actual   string
	// Fatal findings disable wishlist mutations.
	Fatal   bool
	Message string
}

// Report is the outcome of one check.
type Report struct {
	OK       bool
	Findings []Finding
}

// Publisher is the part of the event bus the gate needs.
type Publisher interface {
	Publish(ctx context.Context, n events.Notification)
}

// Gate runs the page checks and remembers the last outcome.
type Gate struct {
	rules     Rules
	publisher Publisher
	logger    *zap.Logger

	mu      sync.RWMutex
	checked bool
	last    Report
}

// NewGate builds a gate. publisher and logger may be nil.
func NewGate(rules Rules, publisher Publisher, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		rules:     rules,
		publisher: publisher,
		logger:    logger.Named("integrity"),
	}
}

// Check inspects doc, publishes one toast per finding and logs every finding.
// Re-checking a page that yields the same report does not toast again.
func (g *Gate) Check(ctx context.Context, doc *goquery.Document) Report {
	report := Evaluate(g.rules, doc)

	g.mu.Lock()
	repeat := g.checked && sameFindings(g.last, report)
	g.checked = true
	g.last = report
	g.mu.Unlock()

	if repeat {
		return report
	}
	for _, f := range report.Findings {
		fields := []zap.Field{
			zap.String("kind", string(f.Kind)),
			zap.String("landmark", f.Landmark),
			zap.String("selector", f.Selector),
			zap.Bool("fatal", f.Fatal),
		}
		if f.Expected != "" {
			fields = append(fields, zap.String("expected", f.Expected), zap.String("actual", f.Actual))
		}
		if f.Fatal {
			g.logger.Error("page integrity check failed", fields...)
		} else {
			g.logger.Warn("page integrity warning", fields...)
		}
		if g.publisher != nil {
			g.publisher.Publish(ctx, events.Toast(f.Message))
		}
	}
	return report
}

// Observe records the outcome for doc without toasting. It is used for pages the
// browser restores from history, whose findings the visitor has already been shown.
func (g *Gate) Observe(doc *goquery.Document) Report {
	report := Evaluate(g.rules, doc)
	g.mu.Lock()
	g.checked = true
	g.last = report
	g.mu.Unlock()
	if !report.OK {
		g.logger.Info("restored page still fails integrity checks", zap.Int("findings", len(report.Findings)))
	}
	return report
}

// Enabled reports whether the last check passed. It is false before the first check.
func (g *Gate) Enabled() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.checked && g.last.OK
}

// Last returns the most recent report.
func (g *Gate) Last() (Report, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.last, g.checked
}

// Evaluate runs rules against doc without side effects.
func Evaluate(rules Rules, doc *goquery.Document) Report {
	report := Report{OK: true}
	for _, lm := range rules.Landmarks {
		f, ok := checkLandmark(lm, doc)
		if ok {
			continue
		}
		report.Findings = append(report.Findings, f)
		if f.Fatal {
			report.OK = false
		}
	}
	if rules.Cards != nil {
		if f, ok := checkCards(*rules.Cards, doc); !ok {
			report.Findings = append(report.Findings, f)
		}
	}
	return report
}

func checkLandmark(lm Landmark, doc *goquery.Document) (Finding, bool) {
	sel := doc.Find(lm.Selector)
	if sel.Length() == 0 {
		return Finding{
			Kind:     FindingMissing,
			Landmark: lm.Name,
			Selector: lm.Selector,
			Fatal:    lm.Required,
			Message:  fmt.Sprintf("%s missing; some features disabled", lm.Name),
		}, false
	}
	if lm.Text == "" {
		return Finding{}, true
	}
	actual := fold(sel.First().Text())
	if actual == fold(lm.Text) {
		return Finding{}, true
	}
	return Finding{
		Kind:     FindingMismatch,
		Landmark: lm.Name,
		Selector: lm.Selector,
		Expected: lm.Text,
		Actual:   actual,
		Fatal:    lm.Required,
		Message:  fmt.Sprintf("%s content unexpected", lm.Name),
	}, false
}

func checkCards(r CardRange, doc *goquery.Document) (Finding, bool) {
	n := doc.Find(r.Selector).Length()
	if n >= r.Min && (r.Max <= 0 || n <= r.Max) {
		return Finding{}, true
	}
	expected := fmt.Sprintf("%d-%d", r.Min, r.Max)
	if r.Max <= 0 {
		expected = fmt.Sprintf(">=%d", r.Min)
	}
	return Finding{
		Kind:     FindingCardCount,
		Landmark: "Results grid",
		Selector: r.Selector,
		Expected: expected,
		Actual:   fmt.Sprintf("%d", n),
		Message:  "Unexpected number of results found",
	}, false
}

func fold(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func sameFindings(a, b Report) bool {
	if a.OK != b.OK || len(a.Findings) != len(b.Findings) {
		return false
	}
	for i := range a.Findings {
		if a.Findings[i] != b.Findings[i] {
			return false
		}
	}
	return true
}
