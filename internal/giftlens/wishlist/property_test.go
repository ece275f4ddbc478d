package wishlist

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"

	"finitefield.org/giftlens/internal/giftlens/storage"
)

func TestStateInvariantsUnderRandomOperations(t *testing.T) {
	for seed := uint64(1); seed <= 20; seed++ {
		t.Run(fmt.Sprintf("seed-%d", seed), func(t *testing.T) {
			rng := rand.New(rand.NewPCG(seed, seed*31))
			mem := storage.NewMemory()
			store := NewStore(mem)
			state := NewState(store)
			ctx := context.Background()

			for step := 0; step < 200; step++ {
				id := fmt.Sprintf("p%d", rng.IntN(8))
				switch rng.IntN(5) {
				case 0:
					_, _ = state.Add(ctx, id, Attrs{Price: float64(rng.IntN(10000)) / 100, Quantity: rng.IntN(4) - 1})
				case 1:
					_, _, _ = state.Remove(ctx, id)
				case 2:
					_, _ = state.Toggle(ctx, id, Attrs{Price: float64(rng.IntN(500))})
				case 3:
					_, _ = state.SetQuantity(ctx, id, rng.IntN(6)-2)
				case 4:
					_, _ = state.SetBudget(ctx, float64(rng.IntN(600)))
				}
				assertInvariants(t, state.Snapshot())
				require.Equal(t, state.Snapshot(), store.Load(), "persisted record diverged at step %d", step)
			}
		})
	}
}

func assertInvariants(t *testing.T, record Record) {
	t.Helper()
	seen := make(map[string]struct{})
	var sum float64
	for _, item := range record.Items {
		_, dup := seen[item.ID]
		require.False(t, dup, "duplicate id %s", item.ID)
		seen[item.ID] = struct{}{}
		require.GreaterOrEqual(t, item.Quantity, 1)
		sum += item.Price * float64(item.Quantity)
	}
	require.InDelta(t, math.Round(sum*100)/100, record.Subtotal, 0.0001)
}

func TestToggleTwiceRestoresMembership(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	state := NewState(NewStore(storage.NewMemory()))
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("p%d", rng.IntN(5))
		before := state.Contains(id)
		_, err := state.Toggle(ctx, id, Attrs{Price: 1})
		require.NoError(t, err)
		_, err = state.Toggle(ctx, id, Attrs{Price: 1})
		require.NoError(t, err)
		require.Equal(t, before, state.Contains(id))
	}
}

func TestRecordRoundTripsThroughStore(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 5))
	for i := 0; i < 25; i++ {
		mem := storage.NewMemory()
		store := NewStore(mem)
		record := NewRecord(float64(rng.IntN(1000)))
		n := rng.IntN(6)
		for j := 0; j < n; j++ {
			record.Items = append(record.Items, Item{
				ID:       fmt.Sprintf("id-%d", j),
				Name:     fmt.Sprintf("Product %d", j),
				Price:    float64(rng.IntN(100000)) / 100,
				Quantity: 1 + rng.IntN(5),
				Source:   "Amazon",
			})
		}
		record.recompute()

		require.NoError(t, store.Save(record))
		require.Equal(t, record, store.Load())
	}
}
