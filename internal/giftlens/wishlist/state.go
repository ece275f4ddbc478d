package wishlist

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "finitefield.org/giftlens/internal/giftlens/wishlist"

var (
	// ErrEmptyID is returned when an operation is given a blank product id.
	ErrEmptyID = errors.New("wishlist: empty product id")
	// ErrDisabled is returned when mutations are suppressed by a failed page check.
	ErrDisabled = errors.New("wishlist: mutations disabled")
)

// Result describes what a mutation did.
type Result int

const (
	Unchanged Result = iota
	Added
	AlreadyPresent
	Removed
	NotPresent
	Updated
)

func (r Result) String() string {
	switch r {
	case Added:
		return "added"
	case AlreadyPresent:
		return "already_present"
	case Removed:
		return "removed"
	case NotPresent:
		return "not_present"
	case Updated:
		return "updated"
	default:
		return "unchanged"
	}
}

// Change is the refresh payload published after every effective mutation.
type Change struct {
	Record Record
	// Source is the id of the State that made the change.
	Source string
}

// Notifier receives wishlist notifications after the state lock is released.
type Notifier interface {
	ItemAdded(ctx context.Context, item Item)
	ItemRemoved(ctx context.Context, item Item)
	ListUpdated(ctx context.Context, change Change)
}

// Gate decides whether mutations are currently allowed.
type Gate interface {
	Enabled() bool
}

// ToggleResult reports the single transition a Toggle performed.
type ToggleResult struct {
	Added bool
	Item  Item
	// SaveErr is set when the new record could not be persisted. The in-memory state still changed.
	SaveErr error
}

// State is the in-memory wishlist for one page controller, kept in step with the Store.
type State struct {
	id       string
	mu       sync.Mutex
	store    *Store
	notifier Notifier
	gate     Gate
	now      func() time.Time
	tracer   trace.Tracer
	record   Record
}

// StateOption customises a State.
type StateOption func(*State)

// WithNotifier sets the notification sink.
func WithNotifier(n Notifier) StateOption {
	return func(s *State) {
		s.notifier = n
	}
}

// WithGate installs a mutation gate.
func WithGate(g Gate) StateOption {
	return func(s *State) {
		s.gate = g
	}
}

// WithClock overrides the clock used for AddedAt.
func WithClock(now func() time.Time) StateOption {
	return func(s *State) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTracerProvider sets where mutation spans are reported. The global provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) StateOption {
	return func(s *State) {
		if tp != nil {
			s.tracer = tp.Tracer(tracerName)
		}
	}
}

// NewState loads the record from store.
func NewState(store *Store, opts ...StateOption) *State {
	s := &State{
		id:     ulid.Make().String(),
		store:  store,
		now:    time.Now,
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.record = store.Load()
	return s
}

// ID identifies this state in published changes.
func (s *State) ID() string {
	return s.id
}

// Add inserts id with attrs. An id already present is left untouched.
func (s *State) Add(ctx context.Context, id string, attrs Attrs) (Result, error) {
	id = strings.TrimSpace(id)
	ctx, span := s.startSpan(ctx, "wishlist.Add", id)
	defer span.End()
	if id == "" {
		return Unchanged, spanError(span, ErrEmptyID)
	}
	if !s.enabled() {
		return Unchanged, spanError(span, ErrDisabled)
	}

	s.mu.Lock()
	if s.record.Contains(id) {
		s.mu.Unlock()
		span.SetAttributes(attribute.String("wishlist.result", AlreadyPresent.String()))
		return AlreadyPresent, nil
	}
	item := s.newItem(id, attrs)
	s.record.Items = append(s.record.Items, item)
	change, saveErr := s.commitLocked()
	s.mu.Unlock()

	endMutation(span, Added, change, saveErr)
	s.publish(ctx, func(n Notifier) { n.ItemAdded(ctx, item) }, change)
	return Added, nil
}

// Remove deletes id and returns the removed item.
func (s *State) Remove(ctx context.Context, id string) (Item, Result, error) {
	id = strings.TrimSpace(id)
	ctx, span := s.startSpan(ctx, "wishlist.Remove", id)
	defer span.End()
	if id == "" {
		return Item{}, NotPresent, spanError(span, ErrEmptyID)
	}
	if !s.enabled() {
		return Item{}, Unchanged, spanError(span, ErrDisabled)
	}

	s.mu.Lock()
	idx := s.record.index(id)
	if idx < 0 {
		s.mu.Unlock()
		span.SetAttributes(attribute.String("wishlist.result", NotPresent.String()))
		return Item{}, NotPresent, nil
	}
	item := s.removeLocked(idx)
	change, saveErr := s.commitLocked()
	s.mu.Unlock()

	endMutation(span, Removed, change, saveErr)
	s.publish(ctx, func(n Notifier) { n.ItemRemoved(ctx, item) }, change)
	return item, Removed, nil
}

// SetQuantity sets the quantity of id, clamped to at least 1.
func (s *State) SetQuantity(ctx context.Context, id string, quantity int) (Result, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return NotPresent, ErrEmptyID
	}
	if !s.enabled() {
		return Unchanged, ErrDisabled
	}
	if quantity < 1 {
		quantity = 1
	}

	s.mu.Lock()
	idx := s.record.index(id)
	if idx < 0 {
		s.mu.Unlock()
		return NotPresent, nil
	}
	if s.record.Items[idx].Quantity == quantity {
		s.mu.Unlock()
		return Unchanged, nil
	}
	s.record.Items[idx].Quantity = quantity
	change, _ := s.commitLocked()
	s.mu.Unlock()

	s.publish(ctx, nil, change)
	return Updated, nil
}

// Toggle adds id when absent and removes it when present, as one atomic transition.
func (s *State) Toggle(ctx context.Context, id string, attrs Attrs) (ToggleResult, error) {
	id = strings.TrimSpace(id)
	ctx, span := s.startSpan(ctx, "wishlist.Toggle", id)
	defer span.End()
	if id == "" {
		return ToggleResult{}, spanError(span, ErrEmptyID)
	}
	if !s.enabled() {
		return ToggleResult{}, spanError(span, ErrDisabled)
	}

	s.mu.Lock()
	var (
		result  ToggleResult
		primary func(Notifier)
		outcome Result
	)
	if idx := s.record.index(id); idx >= 0 {
		item := s.removeLocked(idx)
		result = ToggleResult{Added: false, Item: item}
		primary = func(n Notifier) { n.ItemRemoved(ctx, item) }
		outcome = Removed
	} else {
		item := s.newItem(id, attrs)
		s.record.Items = append(s.record.Items, item)
		result = ToggleResult{Added: true, Item: item}
		primary = func(n Notifier) { n.ItemAdded(ctx, item) }
		outcome = Added
	}
	change, saveErr := s.commitLocked()
	s.mu.Unlock()
	result.SaveErr = saveErr

	endMutation(span, outcome, change, saveErr)
	s.publish(ctx, primary, change)
	return result, nil
}

// SetBudget replaces the budget, clamped to at least 0.
func (s *State) SetBudget(ctx context.Context, budget float64) (Result, error) {
	if !s.enabled() {
		return Unchanged, ErrDisabled
	}
	if budget < 0 {
		budget = 0
	}
	budget = roundCents(budget)

	s.mu.Lock()
	if s.record.Budget == budget {
		s.mu.Unlock()
		return Unchanged, nil
	}
	s.record.Budget = budget
	change, _ := s.commitLocked()
	s.mu.Unlock()

	s.publish(ctx, nil, change)
	return Updated, nil
}

// Clear removes every item and keeps the budget.
func (s *State) Clear(ctx context.Context) (Result, error) {
	if !s.enabled() {
		return Unchanged, ErrDisabled
	}

	s.mu.Lock()
	if len(s.record.Items) == 0 {
		s.mu.Unlock()
		return Unchanged, nil
	}
	s.record.Items = []Item{}
	change, _ := s.commitLocked()
	s.mu.Unlock()

	s.publish(ctx, nil, change)
	return Updated, nil
}

// Seed fills an empty wishlist from page products when nothing has been persisted yet.
// It returns the number of items added. Seeding publishes nothing.
func (s *State) Seed(products []Product) int {
	if !s.enabled() {
		return 0
	}
	if _, found := s.store.Lookup(); found {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.record.Items) > 0 {
		return 0
	}
	added := 0
	for _, p := range products {
		id := strings.TrimSpace(p.ID)
		if id == "" || p.Placeholder || s.record.Contains(id) {
			continue
		}
		s.record.Items = append(s.record.Items, s.newItem(id, p.Attrs()))
		added++
	}
	if added > 0 {
		_, _ = s.commitLocked()
	}
	return added
}

// Reload replaces the in-memory record with the persisted one.
func (s *State) Reload() {
	record := s.store.Load()
	s.mu.Lock()
	s.record = record
	s.mu.Unlock()
}

// Apply adopts a record published by another state without persisting it again.
func (s *State) Apply(record Record) {
	record = record.Clone()
	record.recompute()
	s.mu.Lock()
	s.record = record
	s.mu.Unlock()
}

// List returns a copy of the items in insertion order.
func (s *State) List() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Item, len(s.record.Items))
	copy(out, s.record.Items)
	return out
}

// Contains reports whether id is saved.
func (s *State) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record.Contains(strings.TrimSpace(id))
}

// Subtotal returns the sum of price times quantity.
func (s *State) Subtotal() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record.Subtotal
}

// Budget returns the current budget.
func (s *State) Budget() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record.Budget
}

// Remaining returns budget minus subtotal.
func (s *State) Remaining() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record.Remaining()
}

// Snapshot returns a deep copy of the record.
func (s *State) Snapshot() Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record.Clone()
}

func (s *State) enabled() bool {
	return s.gate == nil || s.gate.Enabled()
}

func (s *State) newItem(id string, attrs Attrs) Item {
	quantity := attrs.Quantity
	if quantity < 1 {
		quantity = 1
	}
	price := attrs.Price
	if price < 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		price = 0
	}
	return Item{
		ID:       id,
		Name:     strings.TrimSpace(attrs.Name),
		Price:    price,
		Quantity: quantity,
		Image:    attrs.Image,
		Source:   strings.TrimSpace(attrs.Source),
		Link:     attrs.Link,
		AddedAt:  s.now().UTC().Truncate(time.Second),
	}
}

func (s *State) removeLocked(idx int) Item {
	item := s.record.Items[idx]
	items := make([]Item, 0, len(s.record.Items)-1)
	items = append(items, s.record.Items[:idx]...)
	items = append(items, s.record.Items[idx+1:]...)
	s.record.Items = items
	return item
}

// commitLocked recomputes the subtotal and persists. Callers hold s.mu.
// The change is returned even when the save failed.
func (s *State) commitLocked() (Change, error) {
	s.record.recompute()
	err := s.store.Save(s.record)
	return Change{Record: s.record.Clone(), Source: s.id}, err
}

func (s *State) startSpan(ctx context.Context, name, id string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("wishlist.state", s.id),
		attribute.String("wishlist.product_id", id),
	))
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func endMutation(span trace.Span, result Result, change Change, saveErr error) {
	span.SetAttributes(
		attribute.String("wishlist.result", result.String()),
		attribute.Int("wishlist.count", change.Record.Count()),
	)
	if saveErr != nil {
		spanError(span, saveErr)
	}
}

func (s *State) publish(ctx context.Context, primary func(Notifier), change Change) {
	if s.notifier == nil {
		return
	}
	if primary != nil {
		primary(s.notifier)
	}
	s.notifier.ListUpdated(ctx, change)
}
