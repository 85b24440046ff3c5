package redis_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/mealycache/internal/adapters/redis"
	"github.com/aretw0/mealycache/pkg/domain"
	"github.com/aretw0/mealycache/pkg/ports"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T, opts ...redis.Option) (*redis.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redis.NewFromClient(client, opts...), mr
}

func TestRedisStore_Contract(t *testing.T) {
	store, _ := newStore(t)
	ports.RunObservationStoreContract(t, store)
}

func TestRedisStore_Prefix(t *testing.T) {
	store, mr := newStore(t, redis.WithPrefix("learner1:"))
	ctx := context.Background()

	require.NoError(t, store.Increment(ctx, domain.ParseWord("A B"), domain.ParseWord("x y")))

	assert.True(t, mr.Exists("learner1:keys"))
	assert.True(t, mr.Exists("learner1:c:A B"))
	assert.False(t, mr.Exists(redis.DefaultPrefix+"keys"))

	members, err := mr.ZMembers("learner1:keys")
	require.NoError(t, err)
	assert.Equal(t, []string{"A B"}, members)
}

func TestRedisStore_PruneDropsEmptyKeys(t *testing.T) {
	store, mr := newStore(t)
	ctx := context.Background()
	key := domain.ParseWord("A")

	require.NoError(t, store.Increment(ctx, key, domain.ParseWord("x")))
	require.NoError(t, store.PutSynthetic(ctx, domain.ParseWord("A B"), domain.ParseWord("y -")))

	n, err := store.DeleteWhere(ctx, key, domain.ParseWord("z"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	members, err := mr.ZMembers(redis.DefaultPrefix + "keys")
	if err == nil {
		assert.Empty(t, members)
	}
	all, err := store.List(ctx, domain.Epsilon())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestRedisStore_EpsilonKey(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Increment(ctx, domain.Epsilon(), domain.Epsilon()))
	obs, ok, err := store.Majority(ctx, domain.Epsilon())
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, obs.Response.IsEmpty())
}

func TestRedisStore_PruneKeepsResponsesItDoesNotTarget(t *testing.T) {
	store, mr := newStore(t)
	ctx := context.Background()
	key := domain.ParseWord("A")

	require.NoError(t, store.Increment(ctx, key, domain.ParseWord("x")))
	require.NoError(t, store.Increment(ctx, key, domain.ParseWord("y")))

	n, err := store.DeleteWhere(ctx, key, domain.ParseWord("y"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	members, err := mr.ZMembers(redis.DefaultPrefix + "keys")
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, members)
}

func TestRedisStore_PruneRacingIncrementsStayIndexed(t *testing.T) {
	store, mr := newStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 400)
	for g := range 4 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := range 50 {
				key := domain.ParseWord(fmt.Sprintf("K%d", i%5))
				if err := store.Increment(ctx, key, domain.ParseWord(fmt.Sprintf("r%d", g))); err != nil {
					errs <- err
				}
			}
		}()
		go func() {
			defer wg.Done()
			for i := range 50 {
				key := domain.ParseWord(fmt.Sprintf("K%d", i%5))
				if _, err := store.DeleteWhere(ctx, key, domain.ParseWord("keep")); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	members, _ := mr.ZMembers(redis.DefaultPrefix + "keys")
	indexed := make(map[string]bool)
	for _, m := range members {
		indexed[m] = true
	}
	for i := range 5 {
		k := fmt.Sprintf("K%d", i)
		if mr.Exists(redis.DefaultPrefix + "c:" + k) {
			assert.True(t, indexed[k], "%s has records but is missing from the index", k)
		}
	}
}
