package wishlist

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"finitefield.org/giftlens/internal/giftlens/storage"
)

type recordedCall struct {
	kind   string
	item   Item
	change Change
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []recordedCall
	// onUpdate runs inside ListUpdated, used to check re-entrancy.
	onUpdate func()
}

func (n *recordingNotifier) ItemAdded(_ context.Context, item Item) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, recordedCall{kind: "added", item: item})
}

func (n *recordingNotifier) ItemRemoved(_ context.Context, item Item) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, recordedCall{kind: "removed", item: item})
}

func (n *recordingNotifier) ListUpdated(_ context.Context, change Change) {
	n.mu.Lock()
	n.calls = append(n.calls, recordedCall{kind: "updated", change: change})
	hook := n.onUpdate
	n.mu.Unlock()
	if hook != nil {
		hook()
	}
}

func (n *recordingNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.calls))
	for i, c := range n.calls {
		out[i] = c.kind
	}
	return out
}

func (n *recordingNotifier) reset() {
	n.mu.Lock()
	n.calls = nil
	n.mu.Unlock()
}

type staticGate bool

func (g staticGate) Enabled() bool { return bool(g) }

var fixedNow = time.Date(2025, 6, 1, 8, 30, 0, 0, time.UTC)

func newTestState(t *testing.T, opts ...StateOption) (*State, *Store, *storage.Memory, *recordingNotifier) {
	t.Helper()
	mem := storage.NewMemory()
	store := NewStore(mem)
	notifier := &recordingNotifier{}
	base := []StateOption{WithNotifier(notifier), WithClock(func() time.Time { return fixedNow })}
	state := NewState(store, append(base, opts...)...)
	return state, store, mem, notifier
}

func TestStateAddPersistsThenPublishes(t *testing.T) {
	state, store, _, notifier := newTestState(t)
	ctx := context.Background()

	var persistedAtNotify Record
	notifier.onUpdate = func() { persistedAtNotify = store.Load() }

	res, err := state.Add(ctx, "p1", Attrs{Name: " Mug ", Price: 12.5, Quantity: 2, Source: "Etsy"})
	require.NoError(t, err)
	require.Equal(t, Added, res)
	require.Equal(t, []string{"added", "updated"}, notifier.kinds())

	require.Len(t, persistedAtNotify.Items, 1)
	require.Equal(t, 25.0, persistedAtNotify.Subtotal)

	item := state.List()[0]
	require.Equal(t, "Mug", item.Name)
	require.Equal(t, fixedNow, item.AddedAt)
	require.Equal(t, state.ID(), notifier.calls[1].change.Source)
}

func TestStateAddExistingIsNoop(t *testing.T) {
	state, _, _, notifier := newTestState(t)
	ctx := context.Background()

	_, err := state.Add(ctx, "p1", Attrs{Name: "Mug", Price: 10})
	require.NoError(t, err)
	notifier.reset()

	res, err := state.Add(ctx, "p1", Attrs{Name: "Other", Price: 99})
	require.NoError(t, err)
	require.Equal(t, AlreadyPresent, res)
	require.Empty(t, notifier.kinds())
	require.Equal(t, "Mug", state.List()[0].Name)
}

func TestStateEmptyIDIsRejected(t *testing.T) {
	state, _, mem, notifier := newTestState(t)
	ctx := context.Background()

	_, err := state.Add(ctx, "  ", Attrs{})
	require.ErrorIs(t, err, ErrEmptyID)
	_, res, err := state.Remove(ctx, "")
	require.ErrorIs(t, err, ErrEmptyID)
	require.Equal(t, NotPresent, res)
	_, err = state.Toggle(ctx, "", Attrs{})
	require.ErrorIs(t, err, ErrEmptyID)
	_, err = state.SetQuantity(ctx, "", 3)
	require.ErrorIs(t, err, ErrEmptyID)

	require.Empty(t, notifier.kinds())
	require.Equal(t, 0, mem.Len())
}

func TestStateRemove(t *testing.T) {
	state, _, _, notifier := newTestState(t)
	ctx := context.Background()
	_, _ = state.Add(ctx, "p1", Attrs{Name: "Mug", Price: 10})
	_, _ = state.Add(ctx, "p2", Attrs{Name: "Pen", Price: 5})
	notifier.reset()

	item, res, err := state.Remove(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, Removed, res)
	require.Equal(t, "Mug", item.Name)
	require.Equal(t, []string{"removed", "updated"}, notifier.kinds())
	require.Equal(t, 5.0, state.Subtotal())

	notifier.reset()
	_, res, err = state.Remove(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, NotPresent, res)
	require.Empty(t, notifier.kinds())
}

func TestStateSetQuantityClampsAndPublishesOnce(t *testing.T) {
	state, store, _, notifier := newTestState(t)
	ctx := context.Background()
	_, _ = state.Add(ctx, "p1", Attrs{Name: "Mug", Price: 10})
	notifier.reset()

	res, err := state.SetQuantity(ctx, "p1", 3)
	require.NoError(t, err)
	require.Equal(t, Updated, res)
	require.Equal(t, []string{"updated"}, notifier.kinds())
	require.Equal(t, 30.0, store.Load().Subtotal)

	res, err = state.SetQuantity(ctx, "p1", -4)
	require.NoError(t, err)
	require.Equal(t, Updated, res)
	require.Equal(t, 1, state.List()[0].Quantity)

	notifier.reset()
	res, err = state.SetQuantity(ctx, "p1", 0)
	require.NoError(t, err)
	require.Equal(t, Unchanged, res)
	require.Empty(t, notifier.kinds())

	res, err = state.SetQuantity(ctx, "missing", 2)
	require.NoError(t, err)
	require.Equal(t, NotPresent, res)
}

func TestStateToggleSingleTransition(t *testing.T) {
	state, _, _, notifier := newTestState(t)
	ctx := context.Background()

	first, err := state.Toggle(ctx, "p1", Attrs{Name: "Mug", Price: 10})
	require.NoError(t, err)
	require.True(t, first.Added)
	require.Equal(t, []string{"added", "updated"}, notifier.kinds())

	notifier.reset()
	second, err := state.Toggle(ctx, "p1", Attrs{})
	require.NoError(t, err)
	require.False(t, second.Added)
	require.Equal(t, "Mug", second.Item.Name)
	require.Equal(t, []string{"removed", "updated"}, notifier.kinds())
	require.False(t, state.Contains("p1"))
}

func TestStateGateDisablesMutations(t *testing.T) {
	state, _, mem, notifier := newTestState(t, WithGate(staticGate(false)))
	ctx := context.Background()

	_, err := state.Add(ctx, "p1", Attrs{})
	require.ErrorIs(t, err, ErrDisabled)
	_, err = state.Toggle(ctx, "p1", Attrs{})
	require.ErrorIs(t, err, ErrDisabled)
	_, err = state.SetBudget(ctx, 10)
	require.ErrorIs(t, err, ErrDisabled)
	_, err = state.Clear(ctx)
	require.ErrorIs(t, err, ErrDisabled)
	require.Zero(t, state.Seed([]Product{{ID: "p1"}}))

	require.Empty(t, state.List())
	require.Empty(t, notifier.kinds())
	require.Equal(t, 0, mem.Len())
}

func TestStateSetBudgetAndRemaining(t *testing.T) {
	state, store, _, notifier := newTestState(t)
	ctx := context.Background()
	_, _ = state.Add(ctx, "p1", Attrs{Price: 80})
	notifier.reset()

	res, err := state.SetBudget(ctx, 50)
	require.NoError(t, err)
	require.Equal(t, Updated, res)
	require.Equal(t, -30.0, state.Remaining())
	require.Equal(t, 50.0, store.Load().Budget)
	require.Equal(t, []string{"updated"}, notifier.kinds())

	res, err = state.SetBudget(ctx, -5)
	require.NoError(t, err)
	require.Equal(t, Updated, res)
	require.Zero(t, state.Budget())
}

func TestStateClearKeepsBudget(t *testing.T) {
	state, store, _, notifier := newTestState(t)
	ctx := context.Background()
	_, _ = state.SetBudget(ctx, 120)
	_, _ = state.Add(ctx, "p1", Attrs{Price: 5})
	notifier.reset()

	res, err := state.Clear(ctx)
	require.NoError(t, err)
	require.Equal(t, Updated, res)
	require.Empty(t, store.Load().Items)
	require.Equal(t, 120.0, store.Load().Budget)
	require.Equal(t, []string{"updated"}, notifier.kinds())

	notifier.reset()
	res, _ = state.Clear(ctx)
	require.Equal(t, Unchanged, res)
	require.Empty(t, notifier.kinds())
}

func TestStateSeedOnlyWithoutPersistedRecord(t *testing.T) {
	state, store, _, notifier := newTestState(t)
	products := []Product{
		{ID: "p1", Name: "Mug", Price: 10, Quantity: 2},
		{ID: "product-1", Name: "Ghost", Placeholder: true},
		{ID: "p1", Name: "Dup"},
		{ID: "p2", Name: "Pen", Price: 3},
	}

	require.Equal(t, 2, state.Seed(products))
	require.Empty(t, notifier.kinds())
	require.Equal(t, 23.0, store.Load().Subtotal)

	other := NewState(store)
	require.Zero(t, other.Seed([]Product{{ID: "p9"}}))
	require.Len(t, other.List(), 2)
}

func TestStateSeedSkipsWhenEmptyRecordPersisted(t *testing.T) {
	mem := storage.NewMemory()
	store := NewStore(mem)
	require.NoError(t, store.Save(NewRecord(300)))

	state := NewState(store)
	require.Zero(t, state.Seed([]Product{{ID: "p1"}}))
}

func TestStateReloadAndApply(t *testing.T) {
	state, store, _, _ := newTestState(t)
	ctx := context.Background()
	other := NewState(store)

	_, _ = other.Add(ctx, "p1", Attrs{Price: 4})
	require.False(t, state.Contains("p1"))

	state.Reload()
	require.True(t, state.Contains("p1"))

	state.Apply(Record{Items: []Item{{ID: "x", Price: 2, Quantity: 3}}, Budget: 10})
	require.Equal(t, 6.0, state.Subtotal())
	require.Equal(t, 4.0, state.Remaining())
}

func TestStateListIsACopy(t *testing.T) {
	state, _, _, _ := newTestState(t)
	_, _ = state.Add(context.Background(), "p1", Attrs{Name: "Mug"})

	list := state.List()
	list[0].Name = "changed"
	snapshot := state.Snapshot()
	snapshot.Items[0].Name = "changed too"

	require.Equal(t, "Mug", state.List()[0].Name)
}

func TestStateNotifierMayReadDuringPublish(t *testing.T) {
	state, _, _, notifier := newTestState(t)
	var seen int
	notifier.onUpdate = func() { seen = len(state.List()) }

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = state.Add(context.Background(), "p1", Attrs{})
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish deadlocked on re-entrant read")
	}
	require.Equal(t, 1, seen)
}

func TestStateNonFinitePricesBecomeZero(t *testing.T) {
	state, store, _, _ := newTestState(t)
	ctx := context.Background()

	for i, price := range []float64{math.NaN(), math.Inf(1), math.Inf(-1), -4} {
		id := string(rune('a' + i))
		_, err := state.Add(ctx, id, Attrs{Name: "Gift", Price: price})
		require.NoError(t, err)
	}

	for _, item := range state.List() {
		require.Zero(t, item.Price, item.ID)
	}
	require.Zero(t, state.Subtotal())
	require.Equal(t, 300.0, state.Remaining())
	require.Len(t, store.Load().Items, 4)
}

func TestStateToggleReportsRejectedSave(t *testing.T) {
	mem := &storage.Memory{Quota: 16}
	state := NewState(NewStore(mem))

	res, err := state.Toggle(context.Background(), "p1", Attrs{Name: "Gift", Price: 5})
	require.NoError(t, err)
	require.True(t, res.Added)
	require.ErrorIs(t, res.SaveErr, storage.ErrQuotaExceeded)
	require.Equal(t, 0, mem.Len())
}

func TestStateMutationsAreTraced(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	state, _, _, _ := newTestState(t, WithTracerProvider(tp))
	ctx := context.Background()

	_, err := state.Add(ctx, "p1", Attrs{Name: "Mug", Price: 9})
	require.NoError(t, err)
	_, err = state.Toggle(ctx, "p2", Attrs{Name: "Lamp", Price: 20})
	require.NoError(t, err)
	_, _, err = state.Remove(ctx, "p1")
	require.NoError(t, err)
	_, err = state.Toggle(ctx, " ", Attrs{})
	require.ErrorIs(t, err, ErrEmptyID)

	spans := recorder.Ended()
	require.Len(t, spans, 4)

	names := make([]string, len(spans))
	for i, span := range spans {
		names[i] = span.Name()
	}
	require.Equal(t, []string{"wishlist.Add", "wishlist.Toggle", "wishlist.Remove", "wishlist.Toggle"}, names)

	attrs := attribute.NewSet(spans[1].Attributes()...)
	result, ok := attrs.Value("wishlist.result")
	require.True(t, ok)
	require.Equal(t, "added", result.AsString())
	count, ok := attrs.Value("wishlist.count")
	require.True(t, ok)
	require.EqualValues(t, 2, count.AsInt64())
	product, _ := attrs.Value("wishlist.product_id")
	require.Equal(t, "p2", product.AsString())

	require.Equal(t, codes.Unset, spans[2].Status().Code)
	require.Equal(t, codes.Error, spans[3].Status().Code)
}
