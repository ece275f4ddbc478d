// Package events carries GiftLens notifications between page controllers and their observers.
package events

import (
	"time"

	"finitefield.org/giftlens/internal/giftlens/wishlist"
)

// Kind is the wire name of a notification, shared with the browser through HX-Trigger.
type Kind string

const (
	KindAdded             Kind = "wl:add"
	KindRemoved           Kind = "wl:remove"
	KindUpdated           Kind = "wl:updated"
	KindToast             Kind = "toast:show"
	KindClipboardCopied   Kind = "clipboard:copy"
	KindCSVExported       Kind = "csv:export"
	KindAnalysisStarted   Kind = "analysis:start"
	KindAnalysisProgress  Kind = "analysis:progress"
	KindAnalysisCompleted Kind = "analysis:complete"
	KindReady             Kind = "giftlens:ready"
)

// Kinds lists every notification kind in a stable order.
func Kinds() []Kind {
	return []Kind{
		KindAdded, KindRemoved, KindUpdated, KindToast, KindClipboardCopied,
		KindCSVExported, KindAnalysisStarted, KindAnalysisProgress, KindAnalysisCompleted, KindReady,
	}
}

// DefaultToastDuration is how long a toast stays visible when the caller does not say.
const DefaultToastDuration = 3 * time.Second

// Notification is implemented only by the variants declared in this package.
type Notification interface {
	Kind() Kind
	notification()
}

// Added reports that an item entered the wishlist.
type Added struct {
	Item wishlist.Item `json:"item"`
}

// Removed reports that an item left the wishlist.
type Removed struct {
	Item wishlist.Item `json:"item"`
}

// Updated is the canonical refresh signal carrying the full list after a mutation.
type Updated struct {
	Items    []wishlist.Item `json:"items"`
	Subtotal float64         `json:"subtotal"`
	Budget   float64         `json:"budget"`
	// Source identifies the state that performed the mutation.
	Source string `json:"-"`
}

// ToastRequested asks the page to show a transient message.
type ToastRequested struct {
	Message  string        `json:"message"`
	Duration time.Duration `json:"-"`
}

// ClipboardCopied reports text placed on the clipboard.
type ClipboardCopied struct {
	Text string `json:"text"`
}

// CSVExported reports a generated CSV download.
type CSVExported struct {
	Filename string          `json:"filename"`
	Items    []wishlist.Item `json:"items"`
}

// AnalysisStarted opens a mock analysis run. Config is nil when the caller passed none.
type AnalysisStarted struct {
	Config map[string]string `json:"config"`
}

// AnalysisProgress reports one analysis step.
type AnalysisProgress struct {
	Percent int    `json:"percent"`
	Step    string `json:"step"`
}

// AnalysisCompleted closes an analysis run.
type AnalysisCompleted struct{}

// Ready is published once a controller finished attaching to a page.
type Ready struct {
	IntegrityOK bool   `json:"integrityOk"`
	Page        string `json:"page"`
}

func (Added) Kind() Kind             { return KindAdded }
func (Removed) Kind() Kind           { return KindRemoved }
func (Updated) Kind() Kind           { return KindUpdated }
func (ToastRequested) Kind() Kind    { return KindToast }
func (ClipboardCopied) Kind() Kind   { return KindClipboardCopied }
func (CSVExported) Kind() Kind       { return KindCSVExported }
func (AnalysisStarted) Kind() Kind   { return KindAnalysisStarted }
func (AnalysisProgress) Kind() Kind  { return KindAnalysisProgress }
func (AnalysisCompleted) Kind() Kind { return KindAnalysisCompleted }
func (Ready) Kind() Kind             { return KindReady }

func (Added) notification()             {}
func (Removed) notification()           {}
func (Updated) notification()           {}
func (ToastRequested) notification()    {}
func (ClipboardCopied) notification()   {}
func (CSVExported) notification()       {}
func (AnalysisStarted) notification()   {}
func (AnalysisProgress) notification()  {}
func (AnalysisCompleted) notification() {}
func (Ready) notification()             {}

// Toast builds a ToastRequested with the default duration.
func Toast(message string) ToastRequested {
	return ToastRequested{Message: message, Duration: DefaultToastDuration}
}
