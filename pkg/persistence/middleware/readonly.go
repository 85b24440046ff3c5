package middleware

import (
	"context"
	"errors"

	"github.com/aretw0/mealycache/pkg/domain"
	"github.com/aretw0/mealycache/pkg/ports"
)

// ErrReadOnly is returned by writes through a read-only store.
var ErrReadOnly = errors.New("observation store is read-only")

type readOnly struct {
	ports.ObservationStore
}

// NewReadOnlyMiddleware rejects every write. The inspection API serves through it.
func NewReadOnlyMiddleware() Middleware {
	return func(next ports.ObservationStore) ports.ObservationStore {
		return readOnly{next}
	}
}

func (readOnly) Increment(context.Context, domain.Word, domain.Word) error {
	return ErrReadOnly
}

func (readOnly) PutSynthetic(context.Context, domain.Word, domain.Word) error {
	return ErrReadOnly
}

func (readOnly) DeleteWhere(context.Context, domain.Word, domain.Word) (int64, error) {
	return 0, ErrReadOnly
}
