// Package config loads mealycache.yaml.
//
// Backend-specific sections (store.options, sul.options) stay untyped in YAML and
// are decoded with mapstructure once the backend is known.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/aretw0/mealycache/internal/logging"
	"github.com/aretw0/mealycache/pkg/adapters/process"
	"github.com/aretw0/mealycache/pkg/bypass"
	"github.com/aretw0/mealycache/pkg/domain"
	"github.com/aretw0/mealycache/pkg/sul"
)

// DefaultPath is the config file looked up when none is given.
const DefaultPath = "mealycache.yaml"

// Store backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendBadger = "badger"
)

// SUL kinds.
const (
	SULSimulated = "simulated"
	SULProcess   = "process"
)

// Config is the root of mealycache.yaml.
type Config struct {
	Alphabet []string     `yaml:"alphabet"`
	LogLevel string       `yaml:"log_level"`
	Cache    CacheConfig  `yaml:"cache"`
	Store    StoreConfig  `yaml:"store"`
	SUL      SULConfig    `yaml:"sul"`
	Oracle   OracleConfig `yaml:"oracle"`
	Bypass   BypassConfig `yaml:"bypass"`
	Serve    ServeConfig  `yaml:"serve"`
}

type CacheConfig struct {
	RetryBudget  int               `yaml:"retry_budget"`
	ErrorMapping map[string]string `yaml:"error_mapping"`
}

// StoreConfig selects the observation store. Options depend on Backend.
type StoreConfig struct {
	Backend string         `yaml:"backend"`
	Options map[string]any `yaml:"options"`
}

type SQLiteOptions struct {
	Path string `mapstructure:"path"`
}

type RedisOptions struct {
	Addr       string        `mapstructure:"addr"`
	Password   string        `mapstructure:"password"`
	DB         int           `mapstructure:"db"`
	Prefix     string        `mapstructure:"prefix"`
	Lock       bool          `mapstructure:"lock"`
	LockPrefix string        `mapstructure:"lock_prefix"`
	LockTTL    time.Duration `mapstructure:"lock_ttl"`
}

type BadgerOptions struct {
	Path       string `mapstructure:"path"`
	InMemory   bool   `mapstructure:"in_memory"`
	SyncWrites bool   `mapstructure:"sync_writes"`
}

// SULConfig describes how the SUT is reached.
type SULConfig struct {
	Kind      string         `yaml:"kind"`
	Instances int            `yaml:"instances"`
	Rate      float64        `yaml:"rate"`
	Options   map[string]any `yaml:"options"`
}

type SimulatedOptions struct {
	Machine string `mapstructure:"machine"`
}

type OracleConfig struct {
	UseCache           bool       `yaml:"use_cache"`
	TimeLearn          bool       `yaml:"time_learn"`
	RecordObservations bool       `yaml:"record_observations"`
	FlowRetries        int        `yaml:"flow_retries"`
	ExpectedFlows      []sul.Flow `yaml:"expected_flows"`
}

type BypassConfig struct {
	Variant          string   `yaml:"variant"`
	ResetOutputs     []string `yaml:"reset_outputs"`
	RetransAllowed   []string `yaml:"retrans_allowed"`
	DisabledMarker   string   `yaml:"disabled_marker"`
	TimestampPattern *string  `yaml:"timestamp_pattern"`
}

type ServeConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Cache:    CacheConfig{RetryBudget: 3},
		Store:    StoreConfig{Backend: BackendMemory},
		SUL:      SULConfig{Kind: SULSimulated, Instances: 1},
		Oracle:   OracleConfig{FlowRetries: sul.DefaultFlowRetries},
		Serve:    ServeConfig{Addr: ":8080"},
	}
}

// Load reads path over the defaults. A missing DefaultPath is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && path == DefaultPath {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks values that do not depend on external resources.
func (c *Config) Validate() error {
	if len(c.Alphabet) > 0 {
		if _, err := c.InputAlphabet(); err != nil {
			return err
		}
	}
	if c.Cache.RetryBudget < 0 {
		return fmt.Errorf("cache.retry_budget must not be negative, got %d", c.Cache.RetryBudget)
	}
	switch c.Store.Backend {
	case BackendMemory, BackendSQLite, BackendRedis, BackendBadger:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	switch c.SUL.Kind {
	case SULSimulated, SULProcess:
	default:
		return fmt.Errorf("unknown sul kind %q", c.SUL.Kind)
	}
	if c.SUL.Instances < 1 {
		return fmt.Errorf("sul.instances must be at least 1, got %d", c.SUL.Instances)
	}
	if c.SUL.Rate < 0 {
		return fmt.Errorf("sul.rate must not be negative, got %v", c.SUL.Rate)
	}
	if _, err := bypass.ParseVariant(c.Bypass.Variant); err != nil {
		return err
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// InputAlphabet builds the configured alphabet.
func (c *Config) InputAlphabet() (domain.Alphabet, error) {
	if len(c.Alphabet) == 0 {
		return domain.Alphabet{}, errors.New("alphabet is required")
	}
	return domain.NewAlphabet(symbols(c.Alphabet)...)
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	return logging.ParseLevel(c.LogLevel)
}

// ErrorMapping converts cache.error_mapping to symbols.
func (c *Config) ErrorMapping() map[domain.Symbol]domain.Symbol {
	if len(c.Cache.ErrorMapping) == 0 {
		return nil
	}
	out := make(map[domain.Symbol]domain.Symbol, len(c.Cache.ErrorMapping))
	for k, v := range c.Cache.ErrorMapping {
		out[domain.Symbol(k)] = domain.Symbol(v)
	}
	return out
}

// BypassSettings assembles the classifier configuration.
func (c *Config) BypassSettings(alphabet domain.Alphabet) (bypass.Config, error) {
	variant, err := bypass.ParseVariant(c.Bypass.Variant)
	if err != nil {
		return bypass.Config{}, err
	}
	norm, err := c.Normalizer()
	if err != nil {
		return bypass.Config{}, err
	}
	return bypass.Config{
		Alphabet:       alphabet,
		Variant:        variant,
		ResetOutputs:   symbols(c.Bypass.ResetOutputs),
		RetransAllowed: symbols(c.Bypass.RetransAllowed),
		DisabledMarker: domain.Symbol(c.Bypass.DisabledMarker),
		Normalizer:     norm,
	}, nil
}

// Normalizer compiles the timestamp pattern. An explicit empty pattern disables it.
func (c *Config) Normalizer() (*bypass.Normalizer, error) {
	pattern := bypass.DefaultTimestampPattern
	if c.Bypass.TimestampPattern != nil {
		pattern = *c.Bypass.TimestampPattern
	}
	return bypass.NewNormalizer(pattern)
}

// OracleSettings assembles the SUT oracle configuration.
func (c *Config) OracleSettings(alphabet domain.Alphabet) (sul.Config, error) {
	bc, err := c.BypassSettings(alphabet)
	if err != nil {
		return sul.Config{}, err
	}
	return sul.Config{
		UseCache:           c.Oracle.UseCache,
		TimeLearn:          c.Oracle.TimeLearn,
		RecordObservations: c.Oracle.RecordObservations,
		ExpectedFlows:      c.Oracle.ExpectedFlows,
		FlowRetries:        c.Oracle.FlowRetries,
		Bypass:             bc,
		Normalizer:         bc.Normalizer,
	}, nil
}

// SQLiteOptions decodes store.options for the sqlite backend.
func (c *Config) SQLiteOptions() (SQLiteOptions, error) {
	opts := SQLiteOptions{Path: "mealycache.db"}
	return opts, decode(c.Store.Options, &opts)
}

// RedisOptions decodes store.options for the redis backend.
func (c *Config) RedisOptions() (RedisOptions, error) {
	opts := RedisOptions{Addr: "localhost:6379", LockPrefix: "mealycache:", LockTTL: 30 * time.Second}
	return opts, decode(c.Store.Options, &opts)
}

// BadgerOptions decodes store.options for the badger backend.
func (c *Config) BadgerOptions() (BadgerOptions, error) {
	opts := BadgerOptions{Path: "mealycache.badger"}
	return opts, decode(c.Store.Options, &opts)
}

// SimulatedOptions decodes sul.options for the simulated SUT.
func (c *Config) SimulatedOptions() (SimulatedOptions, error) {
	var opts SimulatedOptions
	if err := decode(c.SUL.Options, &opts); err != nil {
		return opts, err
	}
	if opts.Machine == "" {
		return opts, errors.New("sul.options.machine is required for the simulated sul")
	}
	return opts, nil
}

// ProcessOptions decodes sul.options for an external driver process.
func (c *Config) ProcessOptions() (process.Config, error) {
	var opts process.Config
	if err := decode(c.SUL.Options, &opts); err != nil {
		return opts, err
	}
	return opts, opts.Validate()
}

func decode(input map[string]any, out any) error {
	if len(input) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(input); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}
	return nil
}

func symbols(ss []string) []domain.Symbol {
	out := make([]domain.Symbol, len(ss))
	for i, s := range ss {
		out[i] = domain.Symbol(s)
	}
	return out
}
