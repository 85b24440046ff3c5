package ports

import (
	"context"

	"github.com/aretw0/mealycache/pkg/domain"
)

// ObservationStore is the durable majority-vote store.
// Keys and responses are words; implementations key on domain.Word.Key.
// Implementations must be safe for concurrent use: counters are updated with
// upsert-then-increment semantics.
type ObservationStore interface {
	// Majority returns the most frequently observed response for key.
	// Ties go to the record seen first. ok is false when nothing is recorded.
	Majority(ctx context.Context, key domain.Word) (obs domain.Observation, ok bool, err error)

	// Increment records one more observation of response for key,
	// creating the record if needed.
	Increment(ctx context.Context, key, response domain.Word) error

	// PutSynthetic inserts a synthetic record with count 1 unless the pair already exists.
	PutSynthetic(ctx context.Context, key, response domain.Word) error

	// DeleteWhere removes every record whose key equals or extends keyPrefix and
	// whose response does not start with keep. It returns the number of records removed.
	DeleteWhere(ctx context.Context, keyPrefix, keep domain.Word) (int64, error)

	// List returns every record whose key equals or extends keyPrefix,
	// ordered by key and then first-seen order.
	List(ctx context.Context, keyPrefix domain.Word) ([]domain.Observation, error)
}
