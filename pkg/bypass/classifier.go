package bypass

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/aretw0/mealycache/internal/logging"
	"github.com/aretw0/mealycache/pkg/domain"
	"github.com/aretw0/mealycache/pkg/observability"
	"github.com/aretw0/mealycache/pkg/ports"
)

// DefaultDisabledMarker is recorded as the response of every refused input.
const DefaultDisabledMarker domain.Symbol = "-"

// Wireless markers, matched as substrings.
const (
	DefaultAssociationMarker = "ASSOC"
	DefaultTimeoutMarker     = "TIMEOUT"
	DefaultDataMarker        = "DATA"
)

// ErrOutOfOrder is returned when inputs and outputs do not alternate.
var ErrOutOfOrder = errors.New("bypass: input and output out of order")

// Config holds the per-protocol settings shared by every session.
type Config struct {
	Alphabet domain.Alphabet
	Variant  Variant

	// ResetOutputs are normalized outputs after which the session is dead.
	ResetOutputs []domain.Symbol
	// RetransAllowed are the inputs still worth probing after a retransmission.
	RetransAllowed []domain.Symbol

	DisabledMarker    domain.Symbol
	AssociationMarker string
	TimeoutMarker     string
	DataMarker        string

	Normalizer *Normalizer
}

func (c *Config) defaults() {
	if c.DisabledMarker == "" {
		c.DisabledMarker = DefaultDisabledMarker
	}
	if c.AssociationMarker == "" {
		c.AssociationMarker = DefaultAssociationMarker
	}
	if c.TimeoutMarker == "" {
		c.TimeoutMarker = DefaultTimeoutMarker
	}
	if c.DataMarker == "" {
		c.DataMarker = DefaultDataMarker
	}
}

// Classifier follows one probe through the protocol and decides, input by input,
// whether the SUT still needs to see it. It never talks to the SUT itself.
//
// A Classifier belongs to a single session and is not safe for concurrent use.
type Classifier struct {
	cfg     Config
	store   ports.ObservationStore
	logger  *slog.Logger
	metrics *observability.Metrics

	id       uuid.UUID
	state    State
	inputs   int
	query    []domain.Symbol
	response []domain.Symbol
	last     domain.Symbol
}

// Option configures the Classifier.
type Option func(*Classifier)

// WithLogger sets a custom structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Classifier) {
		c.logger = logger
	}
}

// WithMetrics records synthetic records and bypassed steps.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Classifier) {
		c.metrics = m
	}
}

// New creates a classifier in the Start state. store receives synthetic
// records and may be nil.
func New(cfg Config, store ports.ObservationStore, opts ...Option) (*Classifier, error) {
	if cfg.Alphabet.Size() == 0 {
		return nil, errors.New("bypass: alphabet is required")
	}
	cfg.defaults()
	c := &Classifier{
		cfg:    cfg,
		store:  store,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.Reset()
	return c, nil
}

// Reset starts a new session.
func (c *Classifier) Reset() {
	c.id = uuid.New()
	c.state = Start
	c.inputs = 0
	c.query = c.query[:0]
	c.response = c.response[:0]
	c.last = ""
}

// SessionID identifies the current session in logs.
func (c *Classifier) SessionID() string {
	return c.id.String()
}

// State returns the current state.
func (c *Classifier) State() State {
	return c.state
}

// Terminal reports whether every further input will be refused.
func (c *Classifier) Terminal() bool {
	return c.state.Terminal()
}

// Query returns the inputs seen so far.
func (c *Classifier) Query() domain.Word {
	return domain.NewWord(c.query...)
}

// Response returns the outputs seen so far, with the disabled marker for refused inputs.
func (c *Classifier) Response() domain.Word {
	return domain.NewWord(c.response...)
}

// DisabledMarker is the output recorded for refused inputs.
func (c *Classifier) DisabledMarker() domain.Symbol {
	return c.cfg.DisabledMarker
}

// Input classifies the next input. forward is false when the input must not reach
// the SUT; its response is then the disabled marker.
func (c *Classifier) Input(ctx context.Context, sym domain.Symbol) (forward bool, err error) {
	c.inputs++
	if c.cfg.Variant == Wireless && c.inputs >= 2 && !c.state.Terminal() &&
		strings.Contains(string(sym), c.cfg.AssociationMarker) {
		c.logger.Debug("association after session start", "session", c.SessionID(), "input", sym)
		return c.refuse(sym), c.enter(ctx, AssociationViolation)
	}

	switch c.state {
	case Disabled, AssociationViolation:
		return c.refuse(sym), nil
	case Start:
		c.query = append(c.query, sym)
		return true, c.enter(ctx, AwaitResponse)
	case PostMatch:
		if slices.Contains(c.cfg.RetransAllowed, sym) {
			c.query = append(c.query, sym)
			return true, c.enter(ctx, AwaitResponse)
		}
		return c.refuse(sym), c.enter(ctx, Disabled)
	case AwaitDataAfterTimeout:
		if strings.Contains(string(sym), c.cfg.DataMarker) {
			c.query = append(c.query, sym)
			return true, c.enter(ctx, DataObserved)
		}
		return c.refuse(sym), c.enter(ctx, Disabled)
	default:
		return false, fmt.Errorf("%w: input %s in state %s", ErrOutOfOrder, sym, c.state)
	}
}

// Output classifies the SUT's response to the last forwarded input.
func (c *Classifier) Output(ctx context.Context, sym domain.Symbol) error {
	switch c.state {
	case AwaitResponse:
		c.response = append(c.response, sym)
		norm := c.cfg.Normalizer.Symbol(sym)
		last := c.last
		c.last = norm
		switch {
		case norm == last:
			return c.enter(ctx, PostMatch)
		case slices.Contains(c.cfg.ResetOutputs, norm):
			return c.enter(ctx, Disabled)
		case c.cfg.Variant == Wireless && strings.Contains(string(norm), c.cfg.TimeoutMarker):
			return c.enter(ctx, AwaitDataAfterTimeout)
		default:
			return c.enter(ctx, Start)
		}
	case DataObserved:
		c.response = append(c.response, sym)
		c.last = c.cfg.Normalizer.Symbol(sym)
		return c.enter(ctx, Disabled)
	default:
		return fmt.Errorf("%w: output %s in state %s", ErrOutOfOrder, sym, c.state)
	}
}

// refuse records a refused input and always returns false.
func (c *Classifier) refuse(sym domain.Symbol) bool {
	c.query = append(c.query, sym)
	c.response = append(c.response, c.cfg.DisabledMarker)
	c.metrics.Step(false)
	return false
}

func (c *Classifier) enter(ctx context.Context, next State) error {
	prev := c.state
	c.state = next
	if prev == next {
		return nil
	}
	c.logger.Debug("bypass transition", "session", c.SessionID(), "from", prev.String(), "to", next.String(), "query", c.Query().String())

	switch next {
	case PostMatch:
		return c.prepopulate(ctx, func(s domain.Symbol) bool {
			return !slices.Contains(c.cfg.RetransAllowed, s)
		})
	case Disabled:
		return c.prepopulate(ctx, func(domain.Symbol) bool { return true })
	}
	return nil
}

// prepopulate stores query+s -> response+marker for every alphabet symbol s selected by want.
func (c *Classifier) prepopulate(ctx context.Context, want func(domain.Symbol) bool) error {
	if c.store == nil {
		return nil
	}
	if len(c.query) != len(c.response) {
		c.logger.Debug("skipping pre-population of misaligned session", "session", c.SessionID(), "query", c.Query().String(), "response", c.Response().String())
		return nil
	}
	query, response := c.Query(), c.Response().Append(c.cfg.DisabledMarker)
	n := 0
	for _, s := range c.cfg.Alphabet.Symbols() {
		if !want(s) {
			continue
		}
		if err := c.store.PutSynthetic(ctx, query.Append(s), response); err != nil {
			return fmt.Errorf("%w: synthetic record for %s: %v", domain.ErrStoreUnavailable, query.Append(s), err)
		}
		n++
	}
	c.metrics.Synthetic(n)
	c.logger.Debug("pre-populated synthetic records", "session", c.SessionID(), "state", c.state.String(), "records", n)
	return nil
}
