package badger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/mealycache/pkg/domain"
	"github.com/aretw0/mealycache/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBadgerStore_Contract(t *testing.T) {
	store, err := Open(InMemoryConfig())
	require.NoError(t, err)
	defer store.Close()

	ports.RunObservationStoreContract(t, store)
}

func TestBadgerStore_Durable(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	key := domain.ParseWord("A B")

	store, err := Open(Config{Path: dir, SyncWrites: true})
	require.NoError(t, err)
	require.NoError(t, store.Increment(ctx, key, domain.ParseWord("x y")))
	require.NoError(t, store.Increment(ctx, key, domain.ParseWord("x z")))
	require.NoError(t, store.Close())

	store, err = Open(Config{Path: dir})
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.Increment(ctx, key, domain.ParseWord("x w")))

	obs, err := store.List(ctx, key)
	require.NoError(t, err)
	require.Len(t, obs, 3)
	assert.Equal(t, "x y", obs[0].Response.Key(), "first-seen order survives a restart")
	assert.Less(t, obs[1].ID, obs[2].ID)
}

func TestBadgerStore_EpsilonScope(t *testing.T) {
	store, err := Open(InMemoryConfig())
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Increment(ctx, domain.ParseWord("A"), domain.ParseWord("x")))
	require.NoError(t, store.Increment(ctx, domain.ParseWord("B"), domain.ParseWord("y")))

	all, err := store.List(ctx, domain.Epsilon())
	require.NoError(t, err)
	assert.Len(t, all, 2)

	n, err := store.DeleteWhere(ctx, domain.Epsilon(), domain.ParseWord("x"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestBadgerStore_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestBadgerStore_PruneWaitsForWriters(t *testing.T) {
	store, err := Open(InMemoryConfig())
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()
	key := domain.ParseWord("A")
	require.NoError(t, store.Increment(ctx, key, domain.ParseWord("x")))

	store.wmu.Lock()
	done := make(chan int64)
	go func() {
		n, _ := store.DeleteWhere(ctx, key, domain.ParseWord("y"))
		done <- n
	}()
	select {
	case <-done:
		t.Fatal("prune ran while a write was in progress")
	case <-time.After(50 * time.Millisecond):
	}
	store.wmu.Unlock()
	assert.Equal(t, int64(1), <-done)
}

func TestBadgerStore_PruneRacingIncrements(t *testing.T) {
	store, err := Open(InMemoryConfig())
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()
	key := domain.ParseWord("A")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for range 100 {
			assert.NoError(t, store.Increment(ctx, key, domain.ParseWord("y")))
			assert.NoError(t, store.Increment(ctx, key, domain.ParseWord("x")))
		}
	}()
	go func() {
		defer wg.Done()
		for range 100 {
			_, err := store.DeleteWhere(ctx, key, domain.ParseWord("y"))
			assert.NoError(t, err)
		}
	}()
	wg.Wait()

	obs, ok, err := store.Majority(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "y", obs.Response.Key())
	assert.Equal(t, int64(100), obs.Count, "kept responses lose no increments")
}
