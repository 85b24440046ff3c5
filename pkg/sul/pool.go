package sul

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/aretw0/mealycache/pkg/domain"
	"github.com/aretw0/mealycache/pkg/ports"
)

// Pool spreads a batch over several delegate oracles. Oracles are checked out
// while in use, so concurrent batches never drive the same oracle at once.
type Pool struct {
	idle chan ports.Oracle
	size int
}

// NewPool creates a pool. Every oracle should drive its own SUT instance.
func NewPool(oracles ...ports.Oracle) (*Pool, error) {
	if len(oracles) == 0 {
		return nil, errors.New("sul: pool needs at least one oracle")
	}
	idle := make(chan ports.Oracle, len(oracles))
	for _, o := range oracles {
		idle <- o
	}
	return &Pool{idle: idle, size: len(oracles)}, nil
}

// Size returns the number of oracles.
func (p *Pool) Size() int {
	return p.size
}

// ProcessQueries checks out one oracle, waiting if needed, plus any others that
// are idle, and splits queries between them. The first error cancels the
// remaining work.
func (p *Pool) ProcessQueries(ctx context.Context, queries []*domain.Query) error {
	if len(queries) == 0 {
		return nil
	}
	oracles, err := p.checkout(ctx, min(p.size, len(queries)))
	if err != nil {
		return err
	}
	defer func() {
		for _, o := range oracles {
			p.idle <- o
		}
	}()

	n := len(oracles)
	if n == 1 {
		return oracles[0].ProcessQueries(ctx, queries)
	}

	chunks := make([][]*domain.Query, n)
	for i, q := range queries {
		chunks[i%n] = append(chunks[i%n], q)
	}

	g, gCtx := errgroup.WithContext(ctx)
	for i, chunk := range chunks {
		oracle := oracles[i]
		g.Go(func() error {
			return oracle.ProcessQueries(gCtx, chunk)
		})
	}
	return g.Wait()
}

// checkout blocks for the first oracle and takes up to limit-1 more without waiting.
func (p *Pool) checkout(ctx context.Context, limit int) ([]ports.Oracle, error) {
	var first ports.Oracle
	select {
	case first = <-p.idle:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	oracles := []ports.Oracle{first}
	for len(oracles) < limit {
		select {
		case o := <-p.idle:
			oracles = append(oracles, o)
		default:
			return oracles, nil
		}
	}
	return oracles, nil
}
