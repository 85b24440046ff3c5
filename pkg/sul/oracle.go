package sul

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/aretw0/mealycache/internal/logging"
	"github.com/aretw0/mealycache/pkg/bypass"
	"github.com/aretw0/mealycache/pkg/domain"
	"github.com/aretw0/mealycache/pkg/observability"
	"github.com/aretw0/mealycache/pkg/ports"
)

// DefaultFlowRetries bounds re-probes of a query that contradicts an expected flow.
const DefaultFlowRetries = 3

// Config selects the optional behaviours of an Oracle.
type Config struct {
	// UseCache answers from the store's majority response when one exists.
	UseCache bool
	// TimeLearn gates every input through a bypass classifier.
	TimeLearn bool
	// RecordObservations increments the store for every probed prefix.
	// Leave it off behind a cache.Oracle, which records accepted answers itself.
	RecordObservations bool

	ExpectedFlows []Flow
	FlowRetries   int

	Bypass     bypass.Config
	Normalizer *bypass.Normalizer
}

// Oracle answers queries against a single SUT. Concurrent callers are served one
// probe at a time; use a Pool to drive several SUTs at once.
type Oracle struct {
	// mu serializes SUT sessions and the classifier.
	mu         sync.Mutex
	sul        ports.SUL
	store      ports.ObservationStore
	cfg        Config
	classifier *bypass.Classifier
	limiter    *rate.Limiter
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// Option configures the Oracle.
type Option func(*Oracle)

// WithLogger sets a custom structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Oracle) {
		o.logger = logger
	}
}

// WithMetrics records SUT steps and probe durations.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *Oracle) {
		o.metrics = m
	}
}

// WithRateLimit paces probes, one token per probe.
func WithRateLimit(l *rate.Limiter) Option {
	return func(o *Oracle) {
		o.limiter = l
	}
}

// New creates an oracle over sul. store may be nil when neither UseCache,
// TimeLearn pre-population nor RecordObservations is wanted.
func New(sul ports.SUL, store ports.ObservationStore, cfg Config, opts ...Option) (*Oracle, error) {
	if sul == nil {
		return nil, errors.New("sul: SUL is required")
	}
	if cfg.FlowRetries <= 0 {
		cfg.FlowRetries = DefaultFlowRetries
	}
	if cfg.Bypass.Normalizer == nil {
		cfg.Bypass.Normalizer = cfg.Normalizer
	}
	o := &Oracle{
		sul:    sul,
		store:  store,
		cfg:    cfg,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if cfg.TimeLearn {
		c, err := bypass.New(cfg.Bypass, store, bypass.WithLogger(o.logger), bypass.WithMetrics(o.metrics))
		if err != nil {
			return nil, err
		}
		o.classifier = c
	}
	return o, nil
}

// ProcessQueries answers every query in order.
func (o *Oracle) ProcessQueries(ctx context.Context, queries []*domain.Query) error {
	for _, q := range queries {
		out, err := o.AnswerQuery(ctx, q.Prefix, q.Suffix)
		if err != nil {
			return err
		}
		q.Answer(out)
	}
	return nil
}

// AnswerQuery returns the outputs for suffix after prefix.
func (o *Oracle) AnswerQuery(ctx context.Context, prefix, suffix domain.Word) (domain.Word, error) {
	input := prefix.Concat(suffix)

	if o.cfg.UseCache && o.store != nil {
		obs, ok, err := o.store.Majority(ctx, input)
		if err != nil {
			return domain.Word{}, fmt.Errorf("%w: majority %s: %v", domain.ErrStoreUnavailable, input, err)
		}
		if ok && obs.Response.Len() == input.Len() {
			o.logger.Debug("answered from store", "query", input.String(), "response", obs.Response.String(), "synthetic", obs.Synthetic)
			return obs.Response.Suffix(suffix.Len()), nil
		}
	}

	var output domain.Word
	for attempt := 0; ; attempt++ {
		var err error
		output, err = o.probe(ctx, input)
		if err != nil {
			return domain.Word{}, err
		}
		err = o.checkFlows(input, output)
		if err == nil {
			break
		}
		if attempt >= o.cfg.FlowRetries {
			return domain.Word{}, err
		}
		o.logger.Info("expected flow inconsistency, retrying", "query", input.String(), "response", output.String(), "attempt", attempt+1)
	}

	if o.cfg.RecordObservations && o.store != nil {
		for n := 1; n <= input.Len(); n++ {
			if err := o.store.Increment(ctx, input.Prefix(n), output.Prefix(n)); err != nil {
				return domain.Word{}, fmt.Errorf("%w: increment %s: %v", domain.ErrStoreUnavailable, input.Prefix(n), err)
			}
		}
	}
	return output.Suffix(suffix.Len()), nil
}

func (o *Oracle) checkFlows(input, output domain.Word) error {
	for _, f := range o.cfg.ExpectedFlows {
		if err := f.Check(input, output, o.cfg.Normalizer); err != nil {
			return err
		}
	}
	return nil
}

// probe runs input through a freshly reset SUT and returns every output.
func (o *Oracle) probe(ctx context.Context, input domain.Word) (output domain.Word, err error) {
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return domain.Word{}, err
		}
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	start := time.Now()
	defer func() { o.metrics.ObserveProbe(time.Since(start).Seconds()) }()

	if err := o.sul.Pre(ctx); err != nil {
		return domain.Word{}, fmt.Errorf("sul pre: %w", err)
	}
	defer func() {
		if perr := o.sul.Post(ctx); perr != nil && err == nil {
			err = fmt.Errorf("sul post: %w", perr)
		}
	}()

	if o.classifier != nil {
		o.classifier.Reset()
	}
	out := make([]domain.Symbol, 0, input.Len())
	for i := range input.Len() {
		sym := input.At(i)
		if o.classifier != nil {
			forward, err := o.classifier.Input(ctx, sym)
			if err != nil {
				return domain.Word{}, err
			}
			if !forward {
				out = append(out, o.classifier.DisabledMarker())
				continue
			}
		}
		res, err := o.sul.Step(ctx, sym)
		if err != nil {
			return domain.Word{}, fmt.Errorf("sul step %s: %w", sym, err)
		}
		o.metrics.Step(true)
		out = append(out, res)
		if o.classifier != nil {
			if err := o.classifier.Output(ctx, res); err != nil {
				return domain.Word{}, err
			}
		}
	}
	output = domain.NewWord(out...)
	o.logger.Debug("probe", "query", input.String(), "response", output.String())
	return output, nil
}
