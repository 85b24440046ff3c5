package cache

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/aretw0/mealycache/internal/logging"
	"github.com/aretw0/mealycache/pkg/automaton"
	"github.com/aretw0/mealycache/pkg/domain"
	"github.com/aretw0/mealycache/pkg/observability"
	"github.com/aretw0/mealycache/pkg/ports"
	"github.com/aretw0/mealycache/pkg/session"
)

// DefaultRetryBudget is the number of fresh probes spent on one conflict.
const DefaultRetryBudget = 3

// Oracle is a caching ports.Oracle in front of a delegate oracle.
// It is safe for concurrent use; concurrent batches share one automaton.
type Oracle struct {
	delegate ports.Oracle
	store    ports.ObservationStore
	repairs  *session.Manager
	locker   ports.DistributedLocker

	mu        sync.Mutex // guards automaton
	automaton *automaton.Builder

	errorSyms   map[domain.Symbol]domain.Symbol
	retryBudget int
	logger      *slog.Logger
	metrics     *observability.Metrics

	queries    atomic.Int64
	dispatched atomic.Int64
	cached     atomic.Int64
	conflicts  atomic.Int64
}

// Option configures the Oracle.
type Option func(*Oracle)

// WithStore attaches the durable majority-vote store.
// Without a store, conflicts are only retried against the delegate.
func WithStore(store ports.ObservationStore) Option {
	return func(o *Oracle) {
		o.store = store
	}
}

// WithRepairManager serializes store repairs through m instead of a private manager.
func WithRepairManager(m *session.Manager) Option {
	return func(o *Oracle) {
		o.repairs = m
	}
}

// WithLocker makes the private repair manager take a distributed lock as well.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(o *Oracle) {
		o.locker = locker
	}
}

// WithRetryBudget sets how many fresh probes a conflict may consume.
func WithRetryBudget(n int) Option {
	return func(o *Oracle) {
		if n >= 0 {
			o.retryBudget = n
		}
	}
}

// WithErrorMapping collapses everything after an error output to a sink symbol.
// Keys are error symbols, values the sink each one repeats.
func WithErrorMapping(m map[domain.Symbol]domain.Symbol) Option {
	return func(o *Oracle) {
		o.errorSyms = make(map[domain.Symbol]domain.Symbol, len(m))
		for k, v := range m {
			o.errorSyms[k] = v
		}
	}
}

// WithLogger sets a custom structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Oracle) {
		o.logger = logger
	}
}

// WithMetrics records Prometheus metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *Oracle) {
		o.metrics = m
	}
}

// New creates a caching oracle over alphabet that forwards misses to delegate.
func New(alphabet domain.Alphabet, delegate ports.Oracle, opts ...Option) *Oracle {
	o := &Oracle{
		delegate:    delegate,
		automaton:   automaton.NewBuilder(alphabet),
		retryBudget: DefaultRetryBudget,
		logger:      logging.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.repairs == nil && o.store != nil {
		mopts := []session.Option{session.WithLogger(o.logger)}
		if o.locker != nil {
			mopts = append(mopts, session.WithLocker(o.locker))
		}
		o.repairs = session.NewManager(o.store, mopts...)
	}
	return o
}

// Alphabet returns the input alphabet.
func (o *Oracle) Alphabet() domain.Alphabet {
	return o.automaton.Alphabet()
}

type item struct {
	q    *domain.Query
	word domain.Word
}

// ProcessQueries answers every query, dispatching at most one probe per group of
// queries whose inputs are prefixes of one another.
func (o *Oracle) ProcessQueries(ctx context.Context, queries []*domain.Query) error {
	if len(queries) == 0 {
		return nil
	}
	o.queries.Add(int64(len(queries)))
	o.metrics.AddQueries(len(queries))

	alphabet := o.automaton.Alphabet()
	items := make([]item, len(queries))
	for i, q := range queries {
		items[i] = item{q: q, word: q.Input()}
		if err := alphabet.Validate(items[i].word); err != nil {
			return err
		}
	}

	o.mu.Lock()
	slices.SortStableFunc(items, func(a, b item) int {
		return -domain.LexCompare(a.word, b.word, alphabet)
	})

	var masters []*master
	var cur *master
	var reference domain.Word
	for i, it := range items {
		if i == 0 || !it.word.IsPrefixOf(reference) {
			cur = o.newMaster(it.word)
			masters = append(masters, cur)
		}
		cur.slaves = append(cur.slaves, it.q)
		reference = it.word
	}

	var pending []*master
	for _, m := range masters {
		if m.answered() {
			o.cached.Add(1)
			o.metrics.MasterCached()
			continue
		}
		pending = append(pending, m)
	}
	o.mu.Unlock()

	if len(pending) > 0 {
		probes := make([]*domain.Query, len(pending))
		for i, m := range pending {
			probes[i] = m.query
		}
		o.dispatched.Add(int64(len(probes)))
		o.metrics.AddMastersProbed(len(probes))
		o.logger.Debug("dispatching masters", "queries", len(queries), "masters", len(masters), "dispatched", len(probes))

		if err := o.delegate.ProcessQueries(ctx, probes); err != nil {
			return fmt.Errorf("delegate oracle: %w", err)
		}
		for _, q := range probes {
			if err := checkAnswer(q); err != nil {
				return err
			}
		}

		for _, m := range pending {
			out, err := o.settle(ctx, m.word, m.output())
			if err != nil {
				return err
			}
			m.query.Answer(out)
		}
	}

	for _, m := range masters {
		m.deliver()
	}
	return nil
}

// AnswerQuery answers a single query.
func (o *Oracle) AnswerQuery(ctx context.Context, prefix, suffix domain.Word) (domain.Word, error) {
	q := domain.NewQuery(prefix, suffix)
	if err := o.ProcessQueries(ctx, []*domain.Query{q}); err != nil {
		return domain.Word{}, err
	}
	return q.Output(), nil
}

// Lookup returns the longest known response prefix for word.
func (o *Oracle) Lookup(word domain.Word) (domain.Word, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.automaton.Lookup(word)
}

// Size returns the number of automaton nodes.
func (o *Oracle) Size() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.automaton.Size()
}

// Stats is a point-in-time summary of the oracle.
type Stats struct {
	Nodes      int   `json:"nodes"`
	Queries    int64 `json:"queries"`
	Dispatched int64 `json:"dispatched"`
	Cached     int64 `json:"cached"`
	Conflicts  int64 `json:"conflicts"`
}

// Stats returns counters accumulated since creation.
func (o *Oracle) Stats() Stats {
	return Stats{
		Nodes:      o.Size(),
		Queries:    o.queries.Load(),
		Dispatched: o.dispatched.Load(),
		Cached:     o.cached.Load(),
		Conflicts:  o.conflicts.Load(),
	}
}

// Rebuild discards the automaton and warms it from the majority response of every
// stored key. Longer keys go first; a key that contradicts what is already loaded is skipped.
func (o *Oracle) Rebuild(ctx context.Context) error {
	var records []domain.Observation
	if o.store != nil {
		var err error
		records, err = o.store.List(ctx, domain.Epsilon())
		if err != nil {
			return fmt.Errorf("%w: list observations: %v", domain.ErrStoreUnavailable, err)
		}
	}

	best := make(map[string]domain.Observation)
	for _, rec := range records {
		if cur, ok := best[rec.Key.Key()]; !ok || rec.Outranks(cur) {
			best[rec.Key.Key()] = rec
		}
	}
	winners := make([]domain.Observation, 0, len(best))
	for _, rec := range best {
		winners = append(winners, rec)
	}
	alphabet := o.automaton.Alphabet()
	slices.SortFunc(winners, func(a, b domain.Observation) int {
		if a.Key.Len() != b.Key.Len() {
			return b.Key.Len() - a.Key.Len()
		}
		return domain.LexCompare(a.Key, b.Key, alphabet)
	})

	o.mu.Lock()
	defer o.mu.Unlock()
	o.automaton.Reset()
	skipped := 0
	for _, rec := range winners {
		if err := o.automaton.Insert(rec.Key, rec.Response); err != nil {
			skipped++
			o.logger.Debug("rebuild skipped observation", "key", rec.Key.String(), "response", rec.Response.String(), "err", err)
		}
	}
	o.logger.Info("cache rebuilt", "records", len(records), "keys", len(winners), "skipped", skipped, "nodes", o.automaton.Size())
	return nil
}
