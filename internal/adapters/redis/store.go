// Package redis provides the Redis observation store and distributed locker.
//
// Layout under the key prefix (default "mealycache:obs:"):
//
//	keys           ZSET of word keys, all scored 0 for lexicographic range scans
//	c:<key>        HASH response -> count
//	o:<key>        HASH response -> first-seen id
//	s:<key>        SET of synthetic responses
//	seq            INCR counter for first-seen ids
package redis

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"

	backend "github.com/redis/go-redis/v9"

	"github.com/aretw0/mealycache/pkg/domain"
)

// DefaultPrefix is the namespace used when none is configured.
const DefaultPrefix = "mealycache:obs:"

// upsertScript creates the pair if needed and then applies ARGV[3]:
// "inc" bumps the counter, "syn" only inserts a synthetic record with count 1.
var upsertScript = backend.NewScript(`
if redis.call("HEXISTS", KEYS[3], ARGV[2]) == 0 then
	local id = redis.call("INCR", KEYS[5])
	redis.call("HSET", KEYS[3], ARGV[2], id)
	redis.call("ZADD", KEYS[1], 0, ARGV[1])
	if ARGV[3] == "syn" then
		redis.call("SADD", KEYS[4], ARGV[2])
		redis.call("HSET", KEYS[2], ARGV[2], 1)
		return 1
	end
elseif ARGV[3] == "syn" then
	return 0
end
redis.call("HINCRBY", KEYS[2], ARGV[2], 1)
return 1
`)

// pruneScript deletes the responses of one key that do not word-start with ARGV[2]
// and drops the key from the index once nothing is left. It returns the number removed.
var pruneScript = backend.NewScript(`
local keep = ARGV[2]
local removed = 0
for _, resp in ipairs(redis.call("HKEYS", KEYS[3])) do
	local kept = keep == "" or resp == keep or string.sub(resp, 1, #keep + 1) == keep .. " "
	if not kept then
		redis.call("HDEL", KEYS[2], resp)
		redis.call("HDEL", KEYS[3], resp)
		redis.call("SREM", KEYS[4], resp)
		removed = removed + 1
	end
end
if redis.call("HLEN", KEYS[2]) == 0 then
	redis.call("ZREM", KEYS[1], ARGV[1])
end
return removed
`)

// Store implements ports.ObservationStore using Redis.
type Store struct {
	client *backend.Client
	prefix string
}

type Option func(*Store)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a new Redis store with options.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a new Redis store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: DefaultPrefix,
	}

	for _, opt := range opts {
		opt(store)
	}

	return store
}

// Client exposes the underlying client, e.g. to share it with a Locker.
func (s *Store) Client() *backend.Client {
	return s.client
}

func (s *Store) indexKey() string          { return s.prefix + "keys" }
func (s *Store) seqKey() string            { return s.prefix + "seq" }
func (s *Store) countsKey(k string) string { return s.prefix + "c:" + k }
func (s *Store) orderKey(k string) string  { return s.prefix + "o:" + k }
func (s *Store) synthKey(k string) string  { return s.prefix + "s:" + k }

// Majority returns the most observed response for key.
func (s *Store) Majority(ctx context.Context, key domain.Word) (domain.Observation, bool, error) {
	records, err := s.load(ctx, key)
	if err != nil {
		return domain.Observation{}, false, err
	}
	if len(records) == 0 {
		return domain.Observation{}, false, nil
	}
	best := records[0]
	for _, obs := range records[1:] {
		if obs.Outranks(best) {
			best = obs
		}
	}
	return best, true, nil
}

// Increment upserts the pair and bumps its counter atomically.
func (s *Store) Increment(ctx context.Context, key, response domain.Word) error {
	return s.upsert(ctx, key, response, "inc")
}

// PutSynthetic inserts a synthetic record unless the pair already exists.
func (s *Store) PutSynthetic(ctx context.Context, key, response domain.Word) error {
	return s.upsert(ctx, key, response, "syn")
}

func (s *Store) upsert(ctx context.Context, key, response domain.Word, mode string) error {
	k := key.Key()
	keys := []string{s.indexKey(), s.countsKey(k), s.orderKey(k), s.synthKey(k), s.seqKey()}
	if err := upsertScript.Run(ctx, s.client, keys, k, response.Key(), mode).Err(); err != nil {
		return fmt.Errorf("failed to upsert %s in redis: %w", key, err)
	}
	return nil
}

// DeleteWhere removes records at or below keyPrefix whose response does not start with keep.
// Each key is pruned atomically, so a concurrent insert is either pruned or kept indexed.
func (s *Store) DeleteWhere(ctx context.Context, keyPrefix, keep domain.Word) (int64, error) {
	keys, err := s.scope(ctx, keyPrefix)
	if err != nil {
		return 0, err
	}

	var removed int64
	for _, key := range keys {
		k := key.Key()
		n, err := pruneScript.Run(ctx, s.client,
			[]string{s.indexKey(), s.countsKey(k), s.orderKey(k), s.synthKey(k)},
			k, keep.Key()).Int64()
		if err != nil {
			return removed, fmt.Errorf("failed to prune %s in redis: %w", key, err)
		}
		removed += n
	}
	return removed, nil
}

// List returns the records at or below keyPrefix.
func (s *Store) List(ctx context.Context, keyPrefix domain.Word) ([]domain.Observation, error) {
	keys, err := s.scope(ctx, keyPrefix)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(keys, func(a, b domain.Word) int { return cmp.Compare(a.Key(), b.Key()) })

	var out []domain.Observation
	for _, key := range keys {
		records, err := s.load(ctx, key)
		if err != nil {
			return nil, err
		}
		out = append(out, records...)
	}
	return out, nil
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}

// scope returns every recorded key equal to or word-extending prefix.
func (s *Store) scope(ctx context.Context, prefix domain.Word) ([]domain.Word, error) {
	by := &backend.ZRangeBy{Min: "-", Max: "+"}
	if !prefix.IsEmpty() {
		// Bytewise range; "PQ" also falls inside and is filtered below.
		by = &backend.ZRangeBy{Min: "[" + prefix.Key(), Max: "[" + prefix.Key() + "\xff"}
	}
	members, err := s.client.ZRangeByLex(ctx, s.indexKey(), by).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to scan keys in redis: %w", err)
	}

	keys := make([]domain.Word, 0, len(members))
	for _, m := range members {
		key := domain.ParseWord(m)
		if domain.ExtendsKey(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// load returns the records of one key in first-seen order.
func (s *Store) load(ctx context.Context, key domain.Word) ([]domain.Observation, error) {
	k := key.Key()
	pipe := s.client.Pipeline()
	counts := pipe.HGetAll(ctx, s.countsKey(k))
	order := pipe.HGetAll(ctx, s.orderKey(k))
	synth := pipe.SMembers(ctx, s.synthKey(k))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, backend.Nil) {
		return nil, fmt.Errorf("failed to load %s from redis: %w", key, err)
	}

	synthetic := make(map[string]bool)
	for _, r := range synth.Val() {
		synthetic[r] = true
	}

	out := make([]domain.Observation, 0, len(order.Val()))
	for resp, rawID := range order.Val() {
		id, err := strconv.ParseInt(rawID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt id for %s/%s: %w", key, resp, err)
		}
		count, err := strconv.ParseInt(counts.Val()[resp], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt count for %s/%s: %w", key, resp, err)
		}
		out = append(out, domain.Observation{
			ID:        id,
			Key:       key,
			Response:  domain.ParseWord(resp),
			Count:     count,
			Synthetic: synthetic[resp],
		})
	}
	slices.SortFunc(out, func(a, b domain.Observation) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}
