package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/aretw0/mealycache/pkg/adapters/memory"
	"github.com/aretw0/mealycache/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ab = domain.MustAlphabet("a", "b")

func w(s string) domain.Word { return domain.ParseWord(s) }

// fakeDelegate answers each probe with answer(input) and records what it saw.
type fakeDelegate struct {
	mu     sync.Mutex
	answer func(call int, input domain.Word) domain.Word
	calls  int
	probes []string
	err    error
}

func (f *fakeDelegate) ProcessQueries(ctx context.Context, queries []*domain.Query) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	for _, q := range queries {
		f.probes = append(f.probes, q.Input().Key())
		q.Answer(f.answer(f.calls, q.Input()))
	}
	return nil
}

// perSymbol maps every input symbol to a fixed output.
func perSymbol(out map[domain.Symbol]domain.Symbol) func(int, domain.Word) domain.Word {
	return func(_ int, input domain.Word) domain.Word {
		syms := make([]domain.Symbol, input.Len())
		for i := range syms {
			syms[i] = out[input.At(i)]
		}
		return domain.NewWord(syms...)
	}
}

var xy = perSymbol(map[domain.Symbol]domain.Symbol{"a": "x", "b": "y"})

func TestOracle_BatchMerge(t *testing.T) {
	d := &fakeDelegate{answer: xy}
	o := New(ab, d)

	q1 := domain.NewQuery(domain.Epsilon(), w("a b"))
	q2 := domain.NewQuery(w("a"), w("b"))
	q3 := domain.NewQuery(w("a b"), domain.Epsilon())
	require.NoError(t, o.ProcessQueries(context.Background(), []*domain.Query{q1, q2, q3}))

	assert.Equal(t, 1, d.calls)
	assert.Equal(t, []string{"a b"}, d.probes)
	assert.Equal(t, "x y", q1.Output().Key())
	assert.Equal(t, "y", q2.Output().Key())
	assert.True(t, q3.Answered())
	assert.True(t, q3.Output().IsEmpty())
}

func TestOracle_GroupsByPrefix(t *testing.T) {
	d := &fakeDelegate{answer: xy}
	o := New(ab, d)

	qs := []*domain.Query{
		domain.NewQuery(domain.Epsilon(), w("a")),
		domain.NewQuery(domain.Epsilon(), w("b a")),
		domain.NewQuery(w("b"), w("a")),
		domain.NewQuery(w("a"), w("b")),
	}
	require.NoError(t, o.ProcessQueries(context.Background(), qs))

	assert.ElementsMatch(t, []string{"b a", "a b"}, d.probes)
	assert.Equal(t, "x", qs[0].Output().Key())
	assert.Equal(t, "y x", qs[1].Output().Key())
	assert.Equal(t, "x", qs[2].Output().Key())
	assert.Equal(t, "y", qs[3].Output().Key())
}

func TestOracle_AnswersFromCache(t *testing.T) {
	d := &fakeDelegate{answer: xy}
	o := New(ab, d)
	ctx := context.Background()

	_, err := o.AnswerQuery(ctx, domain.Epsilon(), w("a b a"))
	require.NoError(t, err)

	out, err := o.AnswerQuery(ctx, w("a"), w("b"))
	require.NoError(t, err)
	assert.Equal(t, "y", out.Key())
	assert.Equal(t, 1, d.calls)

	stats := o.Stats()
	assert.Equal(t, int64(2), stats.Queries)
	assert.Equal(t, int64(1), stats.Dispatched)
	assert.Equal(t, int64(1), stats.Cached)
}

func TestOracle_EmptyBatch(t *testing.T) {
	d := &fakeDelegate{answer: xy}
	o := New(ab, d)

	require.NoError(t, o.ProcessQueries(context.Background(), nil))
	assert.Zero(t, d.calls)
}

func TestOracle_DelegateErrorPropagates(t *testing.T) {
	boom := errors.New("sut unreachable")
	d := &fakeDelegate{answer: xy, err: boom}
	store := memory.NewStore()
	o := New(ab, d, WithStore(store))

	_, err := o.AnswerQuery(context.Background(), domain.Epsilon(), w("a"))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, o.Size(), "nothing cached from a failed batch")
	assert.Zero(t, store.Len())
}

func TestOracle_MalformedDelegateAnswer(t *testing.T) {
	d := &fakeDelegate{answer: func(int, domain.Word) domain.Word { return w("x") }}
	o := New(ab, d)

	_, err := o.AnswerQuery(context.Background(), domain.Epsilon(), w("a b"))
	assert.ErrorIs(t, err, domain.ErrMalformedObservation)
}

func TestOracle_UnknownSymbol(t *testing.T) {
	d := &fakeDelegate{answer: xy}
	o := New(ab, d)

	_, err := o.AnswerQuery(context.Background(), domain.Epsilon(), w("a c"))
	assert.ErrorIs(t, err, domain.ErrUnknownSymbol)
	assert.Zero(t, d.calls)
}

func TestOracle_RecordsEveryPrefix(t *testing.T) {
	d := &fakeDelegate{answer: xy}
	store := memory.NewStore()
	o := New(ab, d, WithStore(store))
	ctx := context.Background()

	_, err := o.AnswerQuery(ctx, domain.Epsilon(), w("a b"))
	require.NoError(t, err)

	obs, ok, err := store.Majority(ctx, w("a"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "x", obs.Response.Key())
	obs, ok, err = store.Majority(ctx, w("a b"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "x y", obs.Response.Key())
	assert.Equal(t, 2, store.Len())
}

// seed stores n observations of response under key.
func seed(t *testing.T, store *memory.Store, key, response string, n int) {
	t.Helper()
	for range n {
		require.NoError(t, store.Increment(context.Background(), w(key), w(response)))
	}
}

func TestOracle_ConflictAgainstMajorityExhausts(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, "a", "x", 5)
	seed(t, store, "a", "z", 1)

	// The first probe agrees with the majority, every later one returns the outlier.
	d := &fakeDelegate{answer: func(call int, input domain.Word) domain.Word {
		if call == 1 {
			return xy(call, input)
		}
		out := xy(call, input).Symbols()
		out[0] = "z"
		return domain.NewWord(out...)
	}}
	o := New(ab, d, WithStore(store))
	ctx := context.Background()

	_, err := o.AnswerQuery(ctx, domain.Epsilon(), w("a"))
	require.NoError(t, err)

	_, err = o.AnswerQuery(ctx, domain.Epsilon(), w("a b"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConsistencyExhausted)

	var ce *domain.ConsistencyError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "a", ce.Prefix.Key())
	assert.Equal(t, "x", ce.Old.Key())
	assert.Equal(t, "z", ce.New.Key())
	assert.Equal(t, DefaultRetryBudget+1, ce.Attempts)
	assert.Equal(t, 2+DefaultRetryBudget, d.calls)

	obs, ok, err := store.Majority(ctx, w("a"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "x", obs.Response.Key(), "the majority survives")
	assert.Equal(t, int64(6), obs.Count)

	resp, _ := o.Lookup(w("a"))
	assert.Equal(t, "x", resp.Key(), "the cache keeps its canonical answer")
}

func TestOracle_ConflictResolvedByRetry(t *testing.T) {
	store := memory.NewStore()
	d := &fakeDelegate{answer: func(call int, input domain.Word) domain.Word {
		if call == 2 {
			return w("z y")
		}
		return xy(call, input)
	}}
	o := New(ab, d, WithStore(store))
	ctx := context.Background()

	_, err := o.AnswerQuery(ctx, domain.Epsilon(), w("a"))
	require.NoError(t, err)

	out, err := o.AnswerQuery(ctx, domain.Epsilon(), w("a b"))
	require.NoError(t, err)
	assert.Equal(t, "x y", out.Key())
	assert.Equal(t, int64(1), o.Stats().Conflicts)

	obs, err := store.List(ctx, w("a"))
	require.NoError(t, err)
	for _, rec := range obs {
		assert.NotEqual(t, domain.Symbol("z"), rec.Response.At(0), "conflicting observations are not counted")
	}
}

func TestOracle_ConflictWithMajorityInvalidates(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, "a", "z", 5)

	d := &fakeDelegate{answer: func(call int, input domain.Word) domain.Word {
		if call == 1 {
			return xy(call, input)
		}
		out := xy(call, input).Symbols()
		out[0] = "z"
		return domain.NewWord(out...)
	}}
	o := New(ab, d, WithStore(store))
	ctx := context.Background()

	_, err := o.AnswerQuery(ctx, domain.Epsilon(), w("a"))
	require.NoError(t, err)

	_, err = o.AnswerQuery(ctx, domain.Epsilon(), w("a b"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCacheInvalidated)
	var ce *domain.ConsistencyError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, int64(1), ce.Pruned)
	assert.Equal(t, 2, d.calls, "no retry once the store was corrected")

	recs, err := store.List(ctx, domain.Epsilon())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "z", recs[0].Response.Key())

	require.NoError(t, o.Rebuild(ctx))
	resp, complete := o.Lookup(w("a"))
	assert.True(t, complete)
	assert.Equal(t, "z", resp.Key())

	out, err := o.AnswerQuery(ctx, domain.Epsilon(), w("a b"))
	require.NoError(t, err)
	assert.Equal(t, "z y", out.Key())
}

func TestOracle_RebuildPrefersMajority(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, "a", "x", 1)
	seed(t, store, "a", "z", 2)
	seed(t, store, "a b", "x y", 3)
	seed(t, store, "b", "y", 1)

	o := New(ab, &fakeDelegate{answer: xy}, WithStore(store))
	require.NoError(t, o.Rebuild(context.Background()))

	resp, complete := o.Lookup(w("a b"))
	assert.True(t, complete)
	assert.Equal(t, "x y", resp.Key(), "the longer key is loaded first")
	resp, complete = o.Lookup(w("b"))
	assert.True(t, complete)
	assert.Equal(t, "y", resp.Key())
}

func TestOracle_ErrorMapping(t *testing.T) {
	d := &fakeDelegate{answer: func(_ int, input domain.Word) domain.Word {
		syms := make([]domain.Symbol, input.Len())
		for i := range syms {
			syms[i] = domain.Symbol(fmt.Sprintf("o%d", i))
		}
		if input.At(0) == "a" {
			syms[0] = "ERR"
		}
		return domain.NewWord(syms...)
	}}
	o := New(ab, d, WithErrorMapping(map[domain.Symbol]domain.Symbol{"ERR": "SINK"}))
	ctx := context.Background()

	out, err := o.AnswerQuery(ctx, domain.Epsilon(), w("a b b"))
	require.NoError(t, err)
	assert.Equal(t, "ERR SINK SINK", out.Key())
	assert.Equal(t, 2, o.Size(), "only the pair up to the error output is stored")

	out, err = o.AnswerQuery(ctx, w("a"), w("a b a"))
	require.NoError(t, err)
	assert.Equal(t, "SINK SINK SINK", out.Key())
	assert.Equal(t, 1, d.calls, "the sink completion comes from the cache")
}

func TestOracle_ConcurrentBatches(t *testing.T) {
	d := &fakeDelegate{answer: xy}
	o := New(ab, d, WithStore(memory.NewStore()))
	ctx := context.Background()

	words := []string{"a", "b", "a b", "b a", "a a b", "b b a", "a b a b"}
	var wg sync.WaitGroup
	errs := make(chan error, 200)
	for i := range 40 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var qs []*domain.Query
			for j := range 3 {
				qs = append(qs, domain.NewQuery(domain.Epsilon(), w(words[(i+j)%len(words)])))
			}
			if err := o.ProcessQueries(ctx, qs); err != nil {
				errs <- err
				return
			}
			for _, q := range qs {
				if !q.Output().Equal(xy(0, q.Input())) {
					errs <- fmt.Errorf("%s answered %s", q.Input(), q.Output())
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}
