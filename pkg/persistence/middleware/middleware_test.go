package middleware

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/mealycache/internal/logging"
	"github.com/aretw0/mealycache/pkg/adapters/memory"
	"github.com/aretw0/mealycache/pkg/domain"
	"github.com/aretw0/mealycache/pkg/observability"
	"github.com/aretw0/mealycache/pkg/ports"
)

type failingStore struct {
	ports.ObservationStore
}

func (failingStore) Increment(context.Context, domain.Word, domain.Word) error {
	return errors.New("connection reset")
}

func TestInstrument_Contract(t *testing.T) {
	store := NewInstrumentMiddleware(nil, observability.NewMetrics(nil))(memory.NewStore())
	ports.RunObservationStoreContract(t, store)
}

func TestInstrument_RecordsFailures(t *testing.T) {
	var buf bytes.Buffer
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	store := NewInstrumentMiddleware(logging.NewWithWriter(&buf, 0), metrics)(failingStore{memory.NewStore()})

	err := store.Increment(context.Background(), domain.ParseWord("A"), domain.ParseWord("x"))
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.StoreErrors.WithLabelValues("increment")))
	assert.Contains(t, buf.String(), "op=increment")
	assert.Contains(t, buf.String(), "err=\"connection reset\"")
}

func TestReadOnly(t *testing.T) {
	ctx := context.Background()
	inner := memory.NewStore()
	require.NoError(t, inner.Increment(ctx, domain.ParseWord("A"), domain.ParseWord("x")))

	store := Chain(inner, NewInstrumentMiddleware(nil, nil), NewReadOnlyMiddleware())

	assert.ErrorIs(t, store.Increment(ctx, domain.ParseWord("A"), domain.ParseWord("y")), ErrReadOnly)
	assert.ErrorIs(t, store.PutSynthetic(ctx, domain.ParseWord("A"), domain.ParseWord("y")), ErrReadOnly)
	_, err := store.DeleteWhere(ctx, domain.Epsilon(), domain.ParseWord("y"))
	assert.ErrorIs(t, err, ErrReadOnly)

	obs, ok, err := store.Majority(ctx, domain.ParseWord("A"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "x", obs.Response.Key())
	assert.Equal(t, 1, inner.Len())
}

func TestChain_Order(t *testing.T) {
	var calls []string
	tag := func(name string) Middleware {
		return func(next ports.ObservationStore) ports.ObservationStore {
			calls = append(calls, name)
			return next
		}
	}
	Chain(memory.NewStore(), tag("outer"), tag("inner"))
	assert.Equal(t, []string{"inner", "outer"}, calls, "innermost wraps first")
}
