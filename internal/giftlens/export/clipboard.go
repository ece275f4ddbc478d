package export

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"finitefield.org/giftlens/internal/giftlens/events"
)

// Toast copy for clipboard outcomes.
const (
	LinkCopiedMessage = "Link copied to clipboard"
	ListCopiedMessage = "List copied to clipboard"
	CopyFailedMessage = "Failed to copy link"
)

var (
	// ErrEmptyText is returned when there is nothing to copy.
	ErrEmptyText = errors.New("clipboard: empty text")
	// ErrTooLarge is returned when a clipboard cannot carry the text.
	ErrTooLarge = errors.New("clipboard: text too large")
)

// Clipboard accepts text for the user to paste.
type Clipboard interface {
	Write(ctx context.Context, text string) error
}

// Buffer is an in-memory clipboard. Limit bounds the accepted text length; zero means unlimited.
type Buffer struct {
	Limit int

	mu   sync.Mutex
	text string
	set  bool
}

// Write implements Clipboard.
func (b *Buffer) Write(_ context.Context, text string) error {
	if text == "" {
		return ErrEmptyText
	}
	if b.Limit > 0 && len(text) > b.Limit {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLarge, len(text), b.Limit)
	}
	b.mu.Lock()
	b.text = text
	b.set = true
	b.mu.Unlock()
	return nil
}

// Text returns the last accepted text.
func (b *Buffer) Text() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.text, b.set
}

// Publisher is the part of the event bus the copier needs.
type Publisher interface {
	Publish(ctx context.Context, n events.Notification)
}

// Copier writes to a primary clipboard and falls back to a secondary one.
// Outcomes are reported as toasts; callers never see an error.
type Copier struct {
	Primary   Clipboard
	Fallback  Clipboard
	Publisher Publisher
	Logger    *zap.Logger
}

// Copy places text on a clipboard and announces the result with success as the toast copy.
// It reports whether any clipboard accepted the text.
func (c Copier) Copy(ctx context.Context, text, success string) bool {
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if success == "" {
		success = LinkCopiedMessage
	}

	var errs []error
	for i, cb := range []Clipboard{c.Primary, c.Fallback} {
		if cb == nil {
			continue
		}
		err := cb.Write(ctx, text)
		if err == nil {
			if i > 0 {
				logger.Info("clipboard fallback used", zap.Errors("primary_errors", errs))
			}
			c.publish(ctx, events.ClipboardCopied{Text: text})
			c.publish(ctx, events.Toast(success))
			return true
		}
		errs = append(errs, err)
	}

	logger.Warn("clipboard copy failed", zap.Int("bytes", len(text)), zap.Errors("errors", errs))
	c.publish(ctx, events.Toast(CopyFailedMessage))
	return false
}

func (c Copier) publish(ctx context.Context, n events.Notification) {
	if c.Publisher != nil {
		c.Publisher.Publish(ctx, n)
	}
}
