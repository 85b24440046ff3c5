package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/aretw0/mealycache/pkg/domain"
	"github.com/aretw0/mealycache/pkg/observability"
	"github.com/aretw0/mealycache/pkg/ports"
)

type instrumented struct {
	next    ports.ObservationStore
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewInstrumentMiddleware times every store call, counts failures and logs them at Warn.
// Either logger or metrics may be nil.
func NewInstrumentMiddleware(logger *slog.Logger, metrics *observability.Metrics) Middleware {
	return func(next ports.ObservationStore) ports.ObservationStore {
		return &instrumented{next: next, logger: logger, metrics: metrics}
	}
}

func (m *instrumented) done(op string, key domain.Word, start time.Time, err error) {
	m.metrics.StoreOp(op, time.Since(start).Seconds(), err != nil)
	if err != nil && m.logger != nil {
		m.logger.Warn("store call failed", "op", op, "key", key.String(), "error", err)
	}
}

func (m *instrumented) Majority(ctx context.Context, key domain.Word) (domain.Observation, bool, error) {
	start := time.Now()
	obs, ok, err := m.next.Majority(ctx, key)
	m.done("majority", key, start, err)
	return obs, ok, err
}

func (m *instrumented) Increment(ctx context.Context, key, response domain.Word) error {
	start := time.Now()
	err := m.next.Increment(ctx, key, response)
	m.done("increment", key, start, err)
	return err
}

func (m *instrumented) PutSynthetic(ctx context.Context, key, response domain.Word) error {
	start := time.Now()
	err := m.next.PutSynthetic(ctx, key, response)
	m.done("put_synthetic", key, start, err)
	return err
}

func (m *instrumented) DeleteWhere(ctx context.Context, keyPrefix, keep domain.Word) (int64, error) {
	start := time.Now()
	n, err := m.next.DeleteWhere(ctx, keyPrefix, keep)
	m.done("delete_where", keyPrefix, start, err)
	return n, err
}

func (m *instrumented) List(ctx context.Context, keyPrefix domain.Word) ([]domain.Observation, error) {
	start := time.Now()
	out, err := m.next.List(ctx, keyPrefix)
	m.done("list", keyPrefix, start, err)
	return out, err
}
