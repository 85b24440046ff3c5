package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/aretw0/mealycache/pkg/domain"
)

type record struct {
	id        int64
	key       domain.Word
	response  domain.Word
	count     int64
	synthetic bool
}

// Store implements ports.ObservationStore in memory.
// Safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	nextID int64
	// data maps key -> response key -> record
	data map[string]map[string]*record
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		data: make(map[string]map[string]*record),
	}
}

// Majority returns the most observed response for key.
func (s *Store) Majority(ctx context.Context, key domain.Word) (domain.Observation, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *domain.Observation
	for _, rec := range s.data[key.Key()] {
		obs := rec.observation()
		if best == nil || obs.Outranks(*best) {
			best = &obs
		}
	}
	if best == nil {
		return domain.Observation{}, false, nil
	}
	return *best, true, nil
}

// Increment upserts the pair and bumps its counter.
func (s *Store) Increment(ctx context.Context, key, response domain.Word) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.upsert(key, response, false).count++
	return nil
}

// PutSynthetic inserts a synthetic record unless the pair already exists.
func (s *Store) PutSynthetic(ctx context.Context, key, response domain.Word) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.upsert(key, response, true)
	if rec.count == 0 {
		rec.count = 1
	}
	return nil
}

// DeleteWhere prunes disagreeing records under keyPrefix.
func (s *Store) DeleteWhere(ctx context.Context, keyPrefix, keep domain.Word) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for k, byResp := range s.data {
		for rk, rec := range byResp {
			if !domain.ExtendsKey(rec.key, keyPrefix) || rec.response.HasPrefix(keep) {
				continue
			}
			delete(byResp, rk)
			removed++
		}
		if len(byResp) == 0 {
			delete(s.data, k)
		}
	}
	return removed, nil
}

// List returns the records under keyPrefix.
func (s *Store) List(ctx context.Context, keyPrefix domain.Word) ([]domain.Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Observation
	for _, byResp := range s.data {
		for _, rec := range byResp {
			if domain.ExtendsKey(rec.key, keyPrefix) {
				out = append(out, rec.observation())
			}
		}
	}
	slices.SortFunc(out, func(a, b domain.Observation) int {
		if c := cmp.Compare(a.Key.Key(), b.Key.Key()); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, byResp := range s.data {
		n += len(byResp)
	}
	return n
}

// upsert must be called with s.mu held.
func (s *Store) upsert(key, response domain.Word, synthetic bool) *record {
	k := key.Key()
	byResp, ok := s.data[k]
	if !ok {
		byResp = make(map[string]*record)
		s.data[k] = byResp
	}
	rk := response.Key()
	rec, ok := byResp[rk]
	if !ok {
		s.nextID++
		rec = &record{id: s.nextID, key: key, response: response, synthetic: synthetic}
		byResp[rk] = rec
	}
	return rec
}

func (r *record) observation() domain.Observation {
	return domain.Observation{
		ID:        r.id,
		Key:       r.key,
		Response:  r.response,
		Count:     r.count,
		Synthetic: r.synthetic,
	}
}
