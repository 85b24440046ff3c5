// Package badger stores observations in an embedded BadgerDB.
//
// Records live under obs/<key>\x00<response> with a small JSON value. First-seen
// order comes from a Badger sequence, so ties stay stable across restarts.
package badger

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/aretw0/mealycache/pkg/domain"
)

const (
	recordPrefix = "obs/"
	sequenceKey  = "seq/obs"
	maxRetries   = 16
)

// Config holds configuration for the Badger store.
type Config struct {
	// Path is the directory for database files. Ignored when InMemory is true.
	Path string
	// InMemory keeps everything in RAM. Useful for testing.
	InMemory bool
	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool
	// Logger receives Badger's internal logs. Nil disables them.
	Logger *slog.Logger
}

// InMemoryConfig returns configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

type value struct {
	ID        int64 `json:"id"`
	Count     int64 `json:"count"`
	Synthetic bool  `json:"synthetic"`
}

// Store implements ports.ObservationStore on BadgerDB.
type Store struct {
	db  *badger.DB
	seq *badger.Sequence
	// wmu serializes read-modify-write transactions within this process.
	wmu sync.Mutex
}

// Open opens the database described by cfg.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	seq, err := db.GetSequence([]byte(sequenceKey), 64)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open id sequence: %w", err)
	}
	return &Store{db: db, seq: seq}, nil
}

// Close releases the sequence lease and closes the database.
func (s *Store) Close() error {
	if err := s.seq.Release(); err != nil {
		_ = s.db.Close()
		return err
	}
	return s.db.Close()
}

func recordKey(key, response domain.Word) []byte {
	return []byte(recordPrefix + key.Key() + "\x00" + response.Key())
}

func splitKey(k []byte) (key, response domain.Word, ok bool) {
	rest, found := bytes.CutPrefix(k, []byte(recordPrefix))
	if !found {
		return domain.Word{}, domain.Word{}, false
	}
	kp, rp, found := bytes.Cut(rest, []byte{0})
	if !found {
		return domain.Word{}, domain.Word{}, false
	}
	return domain.ParseWord(string(kp)), domain.ParseWord(string(rp)), true
}

// scan calls fn for every record whose key equals or extends prefix.
// exact limits the scan to records of prefix itself.
func scan(txn *badger.Txn, prefix domain.Word, exact bool, fn func(k []byte, obs domain.Observation) error) error {
	seek := recordPrefix + prefix.Key()
	if exact {
		seek += "\x00"
	}
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(seek)
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
		item := it.Item()
		key, response, ok := splitKey(item.Key())
		if !ok || !domain.ExtendsKey(key, prefix) {
			continue
		}
		var v value
		if err := item.Value(func(b []byte) error { return json.Unmarshal(b, &v) }); err != nil {
			return fmt.Errorf("decode %q: %w", item.Key(), err)
		}
		obs := domain.Observation{ID: v.ID, Key: key, Response: response, Count: v.Count, Synthetic: v.Synthetic}
		if err := fn(item.KeyCopy(nil), obs); err != nil {
			return err
		}
	}
	return nil
}

// Majority returns the most observed response for key.
func (s *Store) Majority(ctx context.Context, key domain.Word) (domain.Observation, bool, error) {
	var best domain.Observation
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		return scan(txn, key, true, func(_ []byte, obs domain.Observation) error {
			if !found || obs.Outranks(best) {
				best, found = obs, true
			}
			return nil
		})
	})
	return best, found, err
}

// Increment upserts the pair and bumps its counter, retrying on transaction conflicts.
func (s *Store) Increment(ctx context.Context, key, response domain.Word) error {
	return s.update(ctx, key, response, func(v *value, created bool) bool {
		v.Count++
		return true
	})
}

// PutSynthetic inserts a synthetic record unless the pair already exists.
func (s *Store) PutSynthetic(ctx context.Context, key, response domain.Word) error {
	return s.update(ctx, key, response, func(v *value, created bool) bool {
		if !created {
			return false
		}
		v.Count = 1
		v.Synthetic = true
		return true
	})
}

func (s *Store) update(ctx context.Context, key, response domain.Word, mutate func(v *value, created bool) bool) error {
	k := recordKey(key, response)
	s.wmu.Lock()
	defer s.wmu.Unlock()
	for range maxRetries {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.db.Update(func(txn *badger.Txn) error {
			var v value
			created := false
			item, err := txn.Get(k)
			switch {
			case errors.Is(err, badger.ErrKeyNotFound):
				id, err := s.seq.Next()
				if err != nil {
					return err
				}
				v.ID = int64(id) + 1
				created = true
			case err != nil:
				return err
			default:
				if err := item.Value(func(b []byte) error { return json.Unmarshal(b, &v) }); err != nil {
					return err
				}
			}
			if !mutate(&v, created) {
				return nil
			}
			b, err := json.Marshal(v)
			if err != nil {
				return err
			}
			return txn.Set(k, b)
		})
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		return err
	}
	return fmt.Errorf("update %s: %w", key, badger.ErrConflict)
}

// DeleteWhere removes records at or below keyPrefix whose response does not start with keep.
func (s *Store) DeleteWhere(ctx context.Context, keyPrefix, keep domain.Word) (int64, error) {
	// Writers wait until the batch is flushed, so no increment lands between scan and delete.
	s.wmu.Lock()
	defer s.wmu.Unlock()

	var doomed [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		return scan(txn, keyPrefix, false, func(k []byte, obs domain.Observation) error {
			if !obs.Response.HasPrefix(keep) {
				doomed = append(doomed, k)
			}
			return nil
		})
	})
	if err != nil || len(doomed) == 0 {
		return 0, err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range doomed {
		if err := wb.Delete(k); err != nil {
			return 0, err
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, err
	}
	return int64(len(doomed)), nil
}

// List returns the records at or below keyPrefix ordered by key, then first-seen order.
func (s *Store) List(ctx context.Context, keyPrefix domain.Word) ([]domain.Observation, error) {
	var out []domain.Observation
	err := s.db.View(func(txn *badger.Txn) error {
		return scan(txn, keyPrefix, false, func(_ []byte, obs domain.Observation) error {
			out = append(out, obs)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b domain.Observation) int {
		if c := cmp.Compare(a.Key.Key(), b.Key.Key()); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}
