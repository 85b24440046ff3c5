package ports

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/mealycache/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunObservationStoreContract runs a suite of tests to verify that an ObservationStore implementation
// adheres to the defined interface contract. Every key lives under a per-run root symbol so the
// suite can share a backend with other data.
func RunObservationStoreContract(t *testing.T, store ObservationStore) {
	ctx := context.Background()
	root := domain.Symbol("contract-" + time.Now().Format("20060102150405.000000000"))
	w := func(s string) domain.Word {
		return domain.NewWord(root).Concat(domain.ParseWord(s))
	}
	r := domain.ParseWord

	t.Run("Increment and Majority", func(t *testing.T) {
		key := w("A B C")
		require.NoError(t, store.Increment(ctx, key, r("x y z")))
		require.NoError(t, store.Increment(ctx, key, r("x y w")))
		require.NoError(t, store.Increment(ctx, key, r("x y z")))

		obs, ok, err := store.Majority(ctx, key)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "x y z", obs.Response.Key())
		assert.Equal(t, int64(2), obs.Count)
		assert.False(t, obs.Synthetic)
		assert.True(t, obs.Key.Equal(key))
	})

	t.Run("Majority Missing", func(t *testing.T) {
		_, ok, err := store.Majority(ctx, w("never seen"))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Tie Goes To First Seen", func(t *testing.T) {
		key := w("T")
		require.NoError(t, store.Increment(ctx, key, r("first")))
		require.NoError(t, store.Increment(ctx, key, r("second")))

		obs, ok, err := store.Majority(ctx, key)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "first", obs.Response.Key())
	})

	t.Run("Synthetic Records", func(t *testing.T) {
		key := w("S")
		require.NoError(t, store.PutSynthetic(ctx, key, r("-")))

		obs, ok, err := store.Majority(ctx, key)
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, obs.Synthetic)
		assert.Equal(t, int64(1), obs.Count)

		// Re-inserting is a no-op, incrementing keeps the provenance flag.
		require.NoError(t, store.PutSynthetic(ctx, key, r("-")))
		require.NoError(t, store.Increment(ctx, key, r("-")))
		obs, _, err = store.Majority(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, int64(2), obs.Count)
		assert.True(t, obs.Synthetic)

		// Synthetic insert never touches an observed pair.
		observed := w("S2")
		require.NoError(t, store.Increment(ctx, observed, r("ok")))
		require.NoError(t, store.PutSynthetic(ctx, observed, r("ok")))
		obs, _, err = store.Majority(ctx, observed)
		require.NoError(t, err)
		assert.Equal(t, int64(1), obs.Count)
		assert.False(t, obs.Synthetic)
	})

	t.Run("DeleteWhere Prunes Prefix Scope", func(t *testing.T) {
		require.NoError(t, store.Increment(ctx, w("P"), r("a b")))
		require.NoError(t, store.Increment(ctx, w("P"), r("a c")))
		require.NoError(t, store.Increment(ctx, w("P Q"), r("a b d")))
		require.NoError(t, store.Increment(ctx, w("P Q"), r("a c d")))
		require.NoError(t, store.Increment(ctx, w("PQ"), r("a c")))
		require.NoError(t, store.Increment(ctx, w("Z"), r("a c")))

		n, err := store.DeleteWhere(ctx, w("P"), r("a b"))
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		under, err := store.List(ctx, w("P"))
		require.NoError(t, err)
		require.Len(t, under, 2)
		for _, o := range under {
			assert.True(t, o.Response.HasPrefix(r("a b")), "kept %s", o.Response)
		}

		// PQ is not a word-extension of P and must survive.
		obs, ok, err := store.Majority(ctx, w("PQ"))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "a c", obs.Response.Key())

		n, err = store.DeleteWhere(ctx, w("P"), r("a b"))
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
	})

	t.Run("List Ordering", func(t *testing.T) {
		require.NoError(t, store.Increment(ctx, w("L B"), r("1 2")))
		require.NoError(t, store.Increment(ctx, w("L A"), r("1 1")))
		require.NoError(t, store.Increment(ctx, w("L A"), r("1 3")))

		got, err := store.List(ctx, w("L"))
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, w("L A").Key(), got[0].Key.Key())
		assert.Equal(t, "1 1", got[0].Response.Key())
		assert.Equal(t, "1 3", got[1].Response.Key())
		assert.Equal(t, w("L B").Key(), got[2].Key.Key())
	})

	t.Run("Concurrent Increments", func(t *testing.T) {
		key := w("C")
		const n = 20
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- store.Increment(ctx, key, r("c"))
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		obs, ok, err := store.Majority(ctx, key)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, int64(n), obs.Count)
	})
}
