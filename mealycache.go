package mealycache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/aretw0/mealycache/internal/logging"
	"github.com/aretw0/mealycache/pkg/cache"
	"github.com/aretw0/mealycache/pkg/domain"
	"github.com/aretw0/mealycache/pkg/observability"
	"github.com/aretw0/mealycache/pkg/persistence/middleware"
	"github.com/aretw0/mealycache/pkg/ports"
	"github.com/aretw0/mealycache/pkg/sul"
)

// Version is overridden at build time with -ldflags "-X github.com/aretw0/mealycache.Version=...".
var Version = "dev"

// Stack is the assembled caching layer: a cache.Oracle in front of one sul.Oracle per SUT,
// sharing one observation store.
type Stack struct {
	cache       *cache.Oracle
	delegate    ports.Oracle
	store       ports.ObservationStore
	metrics     *observability.Metrics
	logger      *slog.Logger
	autoRebuild bool
}

type settings struct {
	store       ports.ObservationStore
	locker      ports.DistributedLocker
	logger      *slog.Logger
	registerer  prometheus.Registerer
	retryBudget int
	errorMap    map[domain.Symbol]domain.Symbol
	oracle      sul.Config
	limit       rate.Limit
	burst       int
	autoRebuild bool
}

// Option defines a functional option for configuring the Stack.
type Option func(*settings)

// WithStore sets the durable observation store. Without one, conflicts are
// resolved by re-probing alone and nothing survives a restart.
func WithStore(store ports.ObservationStore) Option {
	return func(s *settings) {
		s.store = store
	}
}

// WithLocker serializes store repairs across processes sharing the store.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(s *settings) {
		s.locker = locker
	}
}

// WithLogger sets a custom structured logger for every component.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

// WithMetrics registers the Prometheus collectors on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(s *settings) {
		s.registerer = reg
	}
}

// WithRetryBudget bounds conflict re-probes per master query.
func WithRetryBudget(n int) Option {
	return func(s *settings) {
		s.retryBudget = n
	}
}

// WithErrorMapping collapses everything after an error symbol to its sink.
func WithErrorMapping(m map[domain.Symbol]domain.Symbol) Option {
	return func(s *settings) {
		s.errorMap = m
	}
}

// WithOracleConfig configures how each SUT is driven.
func WithOracleConfig(cfg sul.Config) Option {
	return func(s *settings) {
		s.oracle = cfg
	}
}

// WithRateLimit paces probes across all SUTs together.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(s *settings) {
		s.limit = limit
		s.burst = burst
	}
}

// WithAutoRebuild makes ProcessQueries rebuild the cache from the store and
// retry the batch once when a repair invalidated it.
func WithAutoRebuild(enabled bool) Option {
	return func(s *settings) {
		s.autoRebuild = enabled
	}
}

// New assembles the stack over one driver per SUT instance.
func New(alphabet domain.Alphabet, suls []ports.SUL, opts ...Option) (*Stack, error) {
	if len(suls) == 0 {
		return nil, errors.New("at least one SUL is required")
	}
	s := &settings{retryBudget: cache.DefaultRetryBudget}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.NewNop()
	}
	if s.oracle.Bypass.Alphabet.Size() == 0 {
		s.oracle.Bypass.Alphabet = alphabet
	}

	metrics := observability.NewMetrics(s.registerer)
	if s.store != nil {
		s.store = middleware.NewInstrumentMiddleware(s.logger, metrics)(s.store)
	}

	var limiter *rate.Limiter
	if s.limit > 0 {
		limiter = rate.NewLimiter(s.limit, max(s.burst, 1))
	}

	oracles := make([]ports.Oracle, 0, len(suls))
	for i, driver := range suls {
		sopts := []sul.Option{
			sul.WithLogger(s.logger.With("sul", i)),
			sul.WithMetrics(metrics),
		}
		if limiter != nil {
			sopts = append(sopts, sul.WithRateLimit(limiter))
		}
		o, err := sul.New(driver, s.store, s.oracle, sopts...)
		if err != nil {
			return nil, fmt.Errorf("sul %d: %w", i, err)
		}
		oracles = append(oracles, o)
	}

	var delegate ports.Oracle = oracles[0]
	if len(oracles) > 1 {
		pool, err := sul.NewPool(oracles...)
		if err != nil {
			return nil, err
		}
		delegate = pool
	}

	copts := []cache.Option{
		cache.WithLogger(s.logger),
		cache.WithMetrics(metrics),
		cache.WithRetryBudget(s.retryBudget),
	}
	if s.store != nil {
		copts = append(copts, cache.WithStore(s.store))
	}
	if s.locker != nil {
		copts = append(copts, cache.WithLocker(s.locker))
	}
	if len(s.errorMap) > 0 {
		copts = append(copts, cache.WithErrorMapping(s.errorMap))
	}

	return &Stack{
		cache:       cache.New(alphabet, delegate, copts...),
		delegate:    delegate,
		store:       s.store,
		metrics:     metrics,
		logger:      s.logger,
		autoRebuild: s.autoRebuild,
	}, nil
}

// ProcessQueries answers a batch through the cache.
func (st *Stack) ProcessQueries(ctx context.Context, queries []*domain.Query) error {
	err := st.cache.ProcessQueries(ctx, queries)
	if err == nil || !st.autoRebuild || !errors.Is(err, domain.ErrCacheInvalidated) {
		return err
	}

	st.logger.Warn("cache invalidated, rebuilding from store", "error", err)
	if rerr := st.cache.Rebuild(ctx); rerr != nil {
		return errors.Join(err, rerr)
	}
	pending := make([]*domain.Query, 0, len(queries))
	for _, q := range queries {
		if !q.Answered() {
			pending = append(pending, q)
		}
	}
	return st.cache.ProcessQueries(ctx, pending)
}

// AnswerQuery answers a single query through the cache.
func (st *Stack) AnswerQuery(ctx context.Context, prefix, suffix domain.Word) (domain.Word, error) {
	q := domain.NewQuery(prefix, suffix)
	if err := st.ProcessQueries(ctx, []*domain.Query{q}); err != nil {
		return domain.Word{}, err
	}
	return q.Output(), nil
}

// Rebuild reloads the in-memory cache from the store.
func (st *Stack) Rebuild(ctx context.Context) error {
	return st.cache.Rebuild(ctx)
}

// Cache returns the caching oracle.
func (st *Stack) Cache() *cache.Oracle {
	return st.cache
}

// Store returns the observation store, or nil.
func (st *Stack) Store() ports.ObservationStore {
	return st.store
}

// Stats summarizes the cache.
func (st *Stack) Stats() cache.Stats {
	return st.cache.Stats()
}
