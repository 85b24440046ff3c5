package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/aretw0/mealycache"
	redisAdapter "github.com/aretw0/mealycache/internal/adapters/redis"
	"github.com/aretw0/mealycache/internal/config"
	badgerAdapter "github.com/aretw0/mealycache/pkg/adapters/badger"
	"github.com/aretw0/mealycache/pkg/adapters/memory"
	"github.com/aretw0/mealycache/pkg/adapters/process"
	"github.com/aretw0/mealycache/pkg/adapters/simulated"
	"github.com/aretw0/mealycache/pkg/adapters/sqlite"
	"github.com/aretw0/mealycache/pkg/ports"
)

// Backend is an opened observation store plus whatever it needs released.
type Backend struct {
	Store  ports.ObservationStore
	Locker ports.DistributedLocker
	close  func() error
}

// Close releases the backend.
func (b *Backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// OpenStore opens the configured observation store.
func OpenStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Backend, error) {
	switch cfg.Store.Backend {
	case config.BackendMemory:
		return &Backend{Store: memory.NewStore()}, nil

	case config.BackendSQLite:
		opts, err := cfg.SQLiteOptions()
		if err != nil {
			return nil, fmt.Errorf("store.options: %w", err)
		}
		store, err := sqlite.Open(ctx, opts.Path)
		if err != nil {
			return nil, err
		}
		logger.Debug("sqlite store opened", "path", opts.Path)
		return &Backend{Store: store, close: store.Close}, nil

	case config.BackendBadger:
		opts, err := cfg.BadgerOptions()
		if err != nil {
			return nil, fmt.Errorf("store.options: %w", err)
		}
		store, err := badgerAdapter.Open(badgerAdapter.Config{
			Path:       opts.Path,
			InMemory:   opts.InMemory,
			SyncWrites: opts.SyncWrites,
			Logger:     logger.With("component", "badger"),
		})
		if err != nil {
			return nil, err
		}
		logger.Debug("badger store opened", "path", opts.Path, "in_memory", opts.InMemory)
		return &Backend{Store: store, close: store.Close}, nil

	case config.BackendRedis:
		opts, err := cfg.RedisOptions()
		if err != nil {
			return nil, fmt.Errorf("store.options: %w", err)
		}
		var sopts []redisAdapter.Option
		if opts.Prefix != "" {
			sopts = append(sopts, redisAdapter.WithPrefix(opts.Prefix))
		}
		store := redisAdapter.New(opts.Addr, opts.Password, opts.DB, sopts...)
		if err := store.Client().Ping(ctx).Err(); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to reach redis at %s: %w", opts.Addr, err)
		}
		b := &Backend{Store: store, close: store.Close}
		if opts.Lock {
			b.Locker = redisAdapter.NewLocker(store.Client(), opts.LockPrefix)
		}
		logger.Debug("redis store opened", "addr", opts.Addr, "lock", opts.Lock)
		return b, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
}

// OpenSULs creates one driver per configured instance.
// Relative machine paths resolve against baseDir.
func OpenSULs(cfg *config.Config, baseDir string) ([]ports.SUL, error) {
	suls := make([]ports.SUL, 0, cfg.SUL.Instances)
	switch cfg.SUL.Kind {
	case config.SULSimulated:
		opts, err := cfg.SimulatedOptions()
		if err != nil {
			return nil, err
		}
		path := opts.Machine
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		m, err := simulated.Load(path)
		if err != nil {
			return nil, err
		}
		for range cfg.SUL.Instances {
			suls = append(suls, simulated.New(m))
		}

	case config.SULProcess:
		opts, err := cfg.ProcessOptions()
		if err != nil {
			return nil, fmt.Errorf("sul.options: %w", err)
		}
		for range cfg.SUL.Instances {
			driver, err := process.New(opts)
			if err != nil {
				return nil, err
			}
			suls = append(suls, driver)
		}

	default:
		return nil, fmt.Errorf("unknown sul kind %q", cfg.SUL.Kind)
	}
	return suls, nil
}

// BuildStack wires the whole caching layer from cfg. The caller closes the backend.
func BuildStack(ctx context.Context, cfg *config.Config, baseDir string, logger *slog.Logger, reg prometheus.Registerer) (*mealycache.Stack, *Backend, error) {
	alphabet, err := cfg.InputAlphabet()
	if err != nil {
		return nil, nil, err
	}
	oracleCfg, err := cfg.OracleSettings(alphabet)
	if err != nil {
		return nil, nil, err
	}
	suls, err := OpenSULs(cfg, baseDir)
	if err != nil {
		return nil, nil, err
	}
	backend, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	opts := []mealycache.Option{
		mealycache.WithStore(backend.Store),
		mealycache.WithLogger(logger),
		mealycache.WithMetrics(reg),
		mealycache.WithRetryBudget(cfg.Cache.RetryBudget),
		mealycache.WithErrorMapping(cfg.ErrorMapping()),
		mealycache.WithOracleConfig(oracleCfg),
		mealycache.WithAutoRebuild(true),
	}
	if backend.Locker != nil {
		opts = append(opts, mealycache.WithLocker(backend.Locker))
	}
	if cfg.SUL.Rate > 0 {
		opts = append(opts, mealycache.WithRateLimit(rate.Limit(cfg.SUL.Rate), 1))
	}

	stack, err := mealycache.New(alphabet, suls, opts...)
	if err != nil {
		return nil, nil, errors.Join(err, backend.Close())
	}
	if err := stack.Rebuild(ctx); err != nil {
		return nil, nil, errors.Join(err, backend.Close())
	}
	return stack, backend, nil
}
