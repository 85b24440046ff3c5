package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/mealycache/pkg/adapters/memory"
	"github.com/aretw0/mealycache/pkg/domain"
	"github.com/aretw0/mealycache/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_LockLifecycle(t *testing.T) {
	mgr := NewManager(memory.NewStore())
	ctx := context.Background()

	for i := 0; i < 1000; i++ {
		key := fmt.Sprintf("prefix-%d", i)
		require.NoError(t, mgr.WithLock(ctx, key, func(context.Context) error { return nil }))
	}

	assert.Empty(t, mgr.locks, "locks must be released once unused")
}

func TestManager_SerializesSameKey(t *testing.T) {
	mgr := NewManager(memory.NewStore())
	ctx := context.Background()

	var inside, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = mgr.WithLock(ctx, "A B", func(context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), peak)
}

func TestManager_Prune(t *testing.T) {
	store := memory.NewStore()
	mgr := NewManager(store)
	ctx := context.Background()

	require.NoError(t, store.Increment(ctx, domain.ParseWord("A"), domain.ParseWord("x")))
	require.NoError(t, store.Increment(ctx, domain.ParseWord("A"), domain.ParseWord("y")))
	require.NoError(t, store.Increment(ctx, domain.ParseWord("A B"), domain.ParseWord("y z")))

	n, err := mgr.Prune(ctx, domain.ParseWord("A"), domain.ParseWord("y"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	obs, err := store.List(ctx, domain.Epsilon())
	require.NoError(t, err)
	assert.Len(t, obs, 2)
}

type fakeLocker struct {
	mu    sync.Mutex
	keys  []string
	fail  error
	freed int
}

func (f *fakeLocker) Lock(ctx context.Context, key string, ttl time.Duration) (ports.UnlockFunc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	f.keys = append(f.keys, key)
	return func(context.Context) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.freed++
		return nil
	}, nil
}

func TestManager_DistributedLocker(t *testing.T) {
	locker := &fakeLocker{}
	mgr := NewManager(memory.NewStore(), WithLocker(locker))

	_, err := mgr.Prune(context.Background(), domain.ParseWord("A"), domain.ParseWord("x"))
	require.NoError(t, err)
	assert.Equal(t, []string{"repair:A"}, locker.keys)
	assert.Equal(t, 1, locker.freed)

	locker.fail = errors.New("busy")
	_, err = mgr.Prune(context.Background(), domain.ParseWord("A"), domain.ParseWord("x"))
	assert.ErrorContains(t, err, "busy")
}
