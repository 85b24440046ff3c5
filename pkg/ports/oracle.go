package ports

import (
	"context"

	"github.com/aretw0/mealycache/pkg/domain"
)

// Oracle answers membership queries. The cache layer is an Oracle wrapping another
// Oracle (the delegate), which must answer every query before returning.
type Oracle interface {
	ProcessQueries(ctx context.Context, queries []*domain.Query) error
}

// OracleFunc adapts a function to the Oracle interface.
type OracleFunc func(ctx context.Context, queries []*domain.Query) error

// ProcessQueries calls f.
func (f OracleFunc) ProcessQueries(ctx context.Context, queries []*domain.Query) error {
	return f(ctx, queries)
}

// SUL is the system under learning, as seen through its protocol driver.
// Pre resets the SUT before a probe, Step exchanges one symbol, Post releases it.
type SUL interface {
	Pre(ctx context.Context) error
	Step(ctx context.Context, input domain.Symbol) (domain.Symbol, error)
	Post(ctx context.Context) error
}
