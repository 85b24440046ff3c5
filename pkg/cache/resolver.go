package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/aretw0/mealycache/pkg/domain"
	"github.com/aretw0/mealycache/pkg/observability"
)

// settle inserts an observed response into the automaton and the store, resolving
// conflicts by majority vote. It returns the response delivered to callers, which
// may come from a later probe than the one passed in.
func (o *Oracle) settle(ctx context.Context, word, response domain.Word) (domain.Word, error) {
	for attempt := 0; ; attempt++ {
		mapped, keep := o.mapErrors(response)
		err := o.insert(word.Prefix(keep), mapped.Prefix(keep))
		if err == nil {
			if attempt > 0 {
				o.metrics.Conflict(observability.OutcomeResolved)
			}
			if err := o.record(ctx, word.Prefix(keep), mapped.Prefix(keep)); err != nil {
				return domain.Word{}, err
			}
			return mapped, nil
		}

		var conflict *domain.ConflictError
		if !errors.As(err, &conflict) {
			return domain.Word{}, err
		}
		o.conflicts.Add(1)
		o.logger.Warn("cache conflict",
			"prefix", conflict.Prefix.String(),
			"recorded", conflict.Old.String(),
			"observed", conflict.New.String(),
			"attempt", attempt+1,
		)

		majority, ok, err := o.majority(ctx, conflict.Prefix)
		if err != nil {
			return domain.Word{}, err
		}
		if ok && majority.Response.Equal(conflict.New) {
			pruned, err := o.repairs.Prune(ctx, conflict.Prefix, conflict.New)
			if err != nil {
				return domain.Word{}, err
			}
			o.metrics.Conflict(observability.OutcomeInvalidated)
			o.logger.Error("cache invalidated by majority vote",
				"prefix", conflict.Prefix.String(),
				"majority", majority.Response.String(),
				"count", majority.Count,
				"pruned", pruned,
			)
			return domain.Word{}, &domain.ConsistencyError{
				Kind:     domain.ErrCacheInvalidated,
				Prefix:   conflict.Prefix,
				Old:      conflict.Old,
				New:      conflict.New,
				Attempts: attempt + 1,
				Pruned:   pruned,
			}
		}

		if attempt >= o.retryBudget {
			o.metrics.Conflict(observability.OutcomeExhausted)
			return domain.Word{}, &domain.ConsistencyError{
				Kind:     domain.ErrConsistencyExhausted,
				Prefix:   conflict.Prefix,
				Old:      conflict.Old,
				New:      conflict.New,
				Attempts: attempt + 1,
			}
		}
		o.metrics.Conflict(observability.OutcomeRetried)
		o.metrics.Retry()

		response, err = o.reprobe(ctx, word)
		if err != nil {
			return domain.Word{}, err
		}
	}
}

// insert adds a pair to the automaton under the lock.
func (o *Oracle) insert(word, response domain.Word) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.automaton.Insert(word, response)
}

// record counts the observation at every prefix length.
func (o *Oracle) record(ctx context.Context, word, response domain.Word) error {
	if o.store == nil {
		return nil
	}
	for n := 1; n <= word.Len(); n++ {
		if err := o.store.Increment(ctx, word.Prefix(n), response.Prefix(n)); err != nil {
			return fmt.Errorf("%w: increment %s: %v", domain.ErrStoreUnavailable, word.Prefix(n), err)
		}
	}
	return nil
}

func (o *Oracle) majority(ctx context.Context, key domain.Word) (domain.Observation, bool, error) {
	if o.store == nil {
		return domain.Observation{}, false, nil
	}
	obs, ok, err := o.store.Majority(ctx, key)
	if err != nil {
		return domain.Observation{}, false, fmt.Errorf("%w: majority %s: %v", domain.ErrStoreUnavailable, key, err)
	}
	return obs, ok, nil
}

// reprobe sends word straight to the delegate, bypassing the automaton.
func (o *Oracle) reprobe(ctx context.Context, word domain.Word) (domain.Word, error) {
	q := domain.NewQuery(domain.Epsilon(), word)
	o.dispatched.Add(1)
	o.metrics.AddMastersProbed(1)
	if err := o.delegate.ProcessQueries(ctx, []*domain.Query{q}); err != nil {
		return domain.Word{}, fmt.Errorf("delegate oracle: %w", err)
	}
	if err := checkAnswer(q); err != nil {
		return domain.Word{}, err
	}
	return q.Output(), nil
}
