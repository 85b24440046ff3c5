// Package sqlite stores observations in a SQLite database.
//
// The schema is a single table keyed by (prefix_id, response), so several learner
// runs against the same SUT can share one database file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"unicode/utf8"

	_ "modernc.org/sqlite"

	"github.com/aretw0/mealycache/pkg/domain"
)

// ErrNotInitialized is returned when the store is used before Init.
var ErrNotInitialized = errors.New("sqlite store is not initialized")

const schema = `
CREATE TABLE IF NOT EXISTS cache (
	id           INTEGER PRIMARY KEY,
	prefix_id    TEXT    NOT NULL,
	response     TEXT    NOT NULL,
	count        INTEGER NOT NULL DEFAULT 0,
	is_optimised INTEGER NOT NULL DEFAULT 0,
	UNIQUE(prefix_id, response)
);
CREATE INDEX IF NOT EXISTS cache_prefix_count ON cache (prefix_id, count DESC, id);
`

// Store implements ports.ObservationStore on SQLite.
type Store struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

// NewStore creates a store for the database at path. Call Init before use.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Open creates and initializes a store.
func Open(ctx context.Context, path string) (*Store, error) {
	s := NewStore(path)
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Init opens the database and creates the schema if needed.
func (s *Store) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}
	// SQLite serializes writers; a single connection avoids SQLITE_BUSY under concurrent increments.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return fmt.Errorf("create schema: %w", err)
	}

	s.db = db
	return nil
}

// Close releases the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, ErrNotInitialized
	}
	return s.db, nil
}

// Majority returns the most observed response for key, ties to the lowest id.
func (s *Store) Majority(ctx context.Context, key domain.Word) (domain.Observation, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return domain.Observation{}, false, err
	}

	var (
		obs      domain.Observation
		response string
	)
	err = db.QueryRowContext(ctx, `
		SELECT id, response, count, is_optimised FROM cache
		WHERE prefix_id = ?
		ORDER BY count DESC, id ASC
		LIMIT 1
	`, key.Key()).Scan(&obs.ID, &response, &obs.Count, &obs.Synthetic)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Observation{}, false, nil
	}
	if err != nil {
		return domain.Observation{}, false, err
	}
	obs.Key = key
	obs.Response = domain.ParseWord(response)
	return obs, true, nil
}

// Increment upserts the pair and bumps its counter in one statement.
func (s *Store) Increment(ctx context.Context, key, response domain.Word) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO cache (prefix_id, response, count, is_optimised)
		VALUES (?, ?, 1, 0)
		ON CONFLICT(prefix_id, response) DO UPDATE SET count = count + 1
	`, key.Key(), response.Key())
	return err
}

// PutSynthetic inserts a synthetic record unless the pair already exists.
func (s *Store) PutSynthetic(ctx context.Context, key, response domain.Word) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO cache (prefix_id, response, count, is_optimised)
		VALUES (?, ?, 1, 1)
		ON CONFLICT(prefix_id, response) DO NOTHING
	`, key.Key(), response.Key())
	return err
}

// DeleteWhere removes records at or below keyPrefix whose response does not start with keep.
func (s *Store) DeleteWhere(ctx context.Context, keyPrefix, keep domain.Word) (int64, error) {
	db, err := s.getDB()
	if err != nil {
		return 0, err
	}
	if keep.IsEmpty() {
		return 0, nil
	}

	scope, args := scopeClause("prefix_id", keyPrefix)
	keepClause, keepArgs := scopeClause("response", keep)
	res, err := db.ExecContext(ctx, `
		DELETE FROM cache
		WHERE `+scope+`
		AND NOT `+keepClause, append(args, keepArgs...)...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// List returns the records at or below keyPrefix ordered by key, then id.
func (s *Store) List(ctx context.Context, keyPrefix domain.Word) ([]domain.Observation, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	scope, args := scopeClause("prefix_id", keyPrefix)
	rows, err := db.QueryContext(ctx, `
		SELECT id, prefix_id, response, count, is_optimised FROM cache
		WHERE `+scope+`
		ORDER BY prefix_id ASC, id ASC
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Observation
	for rows.Next() {
		var (
			obs           domain.Observation
			key, response string
		)
		if err := rows.Scan(&obs.ID, &key, &response, &obs.Count, &obs.Synthetic); err != nil {
			return nil, err
		}
		obs.Key = domain.ParseWord(key)
		obs.Response = domain.ParseWord(response)
		out = append(out, obs)
	}
	return out, rows.Err()
}

// scopeClause matches col equal to prefix or word-extending it.
// substr compares exactly; LIKE would fold ASCII case.
func scopeClause(col string, prefix domain.Word) (string, []any) {
	if prefix.IsEmpty() {
		return "(1 = 1)", nil
	}
	head := prefix.Key() + " "
	return "(" + col + " = ? OR substr(" + col + ", 1, ?) = ?)",
		[]any{prefix.Key(), utf8.RuneCountInString(head), head}
}
