package events

import (
	"context"

	"finitefield.org/giftlens/internal/giftlens/wishlist"
)

var emptyItems = []wishlist.Item{}

// WishlistNotifier publishes wishlist state changes on a bus.
type WishlistNotifier struct {
	Bus *Bus
}

var _ wishlist.Notifier = WishlistNotifier{}

// ItemAdded implements wishlist.Notifier.
func (n WishlistNotifier) ItemAdded(ctx context.Context, item wishlist.Item) {
	n.Bus.Publish(ctx, Added{Item: item})
}

// ItemRemoved implements wishlist.Notifier.
func (n WishlistNotifier) ItemRemoved(ctx context.Context, item wishlist.Item) {
	n.Bus.Publish(ctx, Removed{Item: item})
}

// ListUpdated implements wishlist.Notifier.
func (n WishlistNotifier) ListUpdated(ctx context.Context, change wishlist.Change) {
	n.Bus.Publish(ctx, UpdatedFrom(change))
}

// UpdatedFrom converts a wishlist change into its refresh notification.
func UpdatedFrom(change wishlist.Change) Updated {
	items := change.Record.Items
	if items == nil {
		items = emptyItems
	}
	return Updated{
		Items:    items,
		Subtotal: change.Record.Subtotal,
		Budget:   change.Record.Budget,
		Source:   change.Source,
	}
}

// Record rebuilds the wishlist record carried by the notification.
func (u Updated) Record() wishlist.Record {
	items := make([]wishlist.Item, len(u.Items))
	copy(items, u.Items)
	return wishlist.Record{Items: items, Budget: u.Budget, Subtotal: u.Subtotal}
}
