// Package kv is the thin adapter the rest of the system uses to talk to
// the key-value store (Redis-compatible). Every other storage-adjacent
// component — cache, rate limiter, registry, event bus — is built on top
// of this package rather than importing go-redis directly, so the
// backend can be swapped (Valkey, DragonflyDB) without touching callers.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/evalgo/flowcollab/internal/apierr"
)

// ErrNotFound is returned by Get/GetBytes when the key has no value.
// Callers that need taxonomy-coded errors translate it themselves;
// kv stays backend-shaped rather than API-shaped.
var ErrNotFound = errors.New("kv: key not found")

// Store wraps a Redis client with the small surface the rest of the
// system needs: scalar get/set, locks, counters and pub/sub.
type Store struct {
	client *redis.Client
}

// New connects to the KV backend at url and verifies reachability with a
// bounded ping, mirroring the connect-then-verify pattern used throughout
// the codebase's other store constructors.
func New(ctx context.Context, url string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("kv: parse url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("kv: connect: %w", err)
	}

	return &Store{client: client}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping checks liveness; used by the /healthz and /readyz probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Set stores value (JSON-encoded) under key with an optional ttl. A zero
// ttl means no expiry.
func (s *Store) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("kv: marshal: %w", err)
	}
	return s.client.Set(ctx, key, data, ttl).Err()
}

// Get decodes the value stored at key into out. Returns ErrNotFound on a
// cache miss.
func (s *Store) Get(ctx context.Context, key string, out interface{}) error {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// Delete removes one or more keys in a single round trip and reports how
// many actually existed. Deleting absent keys is not an error.
func (s *Store) Delete(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	return s.client.Del(ctx, keys...).Result()
}

// MGet fetches several keys in one round trip. The returned map holds
// only the keys that had a value; callers check for a key's presence
// rather than getting a zero-value placeholder for a miss.
func (s *Store) MGet(ctx context.Context, keys ...string) (map[string][]byte, error) {
	if len(keys) == 0 {
		return map[string][]byte{}, nil
	}

	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	out := make(map[string][]byte, len(keys))
	for i, v := range vals {
		if v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		out[keys[i]] = []byte(s)
	}
	return out, nil
}

// MSet writes several key/value pairs with a single shared ttl,
// pipelined into one round trip. A zero ttl means no expiry.
func (s *Store) MSet(ctx context.Context, values map[string]interface{}, ttl time.Duration) error {
	if len(values) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for key, value := range values {
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("kv: marshal %s: %w", key, err)
		}
		pipe.Set(ctx, key, data, ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Keys returns every key matching pattern (Redis glob syntax, e.g.
// "flows:*"), scanning incrementally rather than blocking the server
// the way KEYS would. Used by cache invalidation to purge an entire
// category without knowing its exact key set in advance.
func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := s.client.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

// Exists reports whether key currently has a value.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	return n > 0, err
}

// Expire resets the TTL on an existing key.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.client.Expire(ctx, key, ttl).Err()
}

// Incr atomically increments the integer counter at key and returns the
// new value, creating it at 1 if absent. Used by the rate limiter's
// hourly/daily budget counters.
func (s *Store) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// Decr atomically decrements the integer counter at key, not letting it go
// below zero (used to release a previously-acquired connection slot).
func (s *Store) Decr(ctx context.Context, key string) (int64, error) {
	decrScript := redis.NewScript(`
local v = redis.call("get", KEYS[1])
if not v or tonumber(v) <= 0 then
	return 0
end
return redis.call("decr", KEYS[1])
`)
	return decrScript.Run(ctx, s.client, []string{key}).Int64()
}

// Lock is a held, releasable advisory lock. The token prevents one holder
// from releasing a lock it no longer owns after its TTL has expired and
// another caller acquired it.
type Lock struct {
	key   string
	token string
	store *Store
}

// AcquireLock attempts a non-blocking SETNX-with-TTL lock acquisition,
// the same scheme as the codebase's other Redis-backed lock helpers. ok
// is false if the lock is already held.
func (s *Store) AcquireLock(ctx context.Context, name string, ttl time.Duration) (lock *Lock, ok bool, err error) {
	key := "lock:" + name
	token := uuid.NewString()
	set, err := s.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !set {
		return nil, false, nil
	}
	return &Lock{key: key, token: token, store: s}, true, nil
}

// releaseScript only deletes the key if it still holds our token, so a
// lock that already expired and was re-acquired by someone else is left
// alone.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// Release frees the lock if this holder still owns it.
func (l *Lock) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, l.store.client, []string{l.key}, l.token).Err()
}

// Extend pushes the lock's TTL out, for long-running holders (e.g. an
// active collaboration session queue) that must renew periodically.
func (l *Lock) Extend(ctx context.Context, ttl time.Duration) (bool, error) {
	extendScript := redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end
`)
	res, err := extendScript.Run(ctx, l.store.client, []string{l.key}, l.token, ttl.Milliseconds()).Int()
	return res == 1, err
}

// Publish broadcasts a JSON-encoded message on channel. Delivery is
// at-most-once and only reaches subscribers connected at publish time.
func (s *Store) Publish(ctx context.Context, channel string, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("kv: marshal: %w", err)
	}
	return s.client.Publish(ctx, channel, data).Err()
}

// Subscription is an active pub/sub subscription; call Close when done.
type Subscription struct {
	pubsub *redis.PubSub
	C      <-chan *redis.Message
}

// Close stops the subscription and releases its connection.
func (sub *Subscription) Close() error {
	return sub.pubsub.Close()
}

// Subscribe joins one or more channels (supports glob patterns via
// PSubscribe semantics when pattern is true).
func (s *Store) Subscribe(ctx context.Context, pattern bool, channels ...string) (*Subscription, error) {
	var pubsub *redis.PubSub
	if pattern {
		pubsub = s.client.PSubscribe(ctx, channels...)
	} else {
		pubsub = s.client.Subscribe(ctx, channels...)
	}
	if _, err := pubsub.Receive(ctx); err != nil {
		return nil, err
	}
	return &Subscription{pubsub: pubsub, C: pubsub.Channel()}, nil
}

// HSet stores a hash field, used by the service registry to keep each
// service record as a single hash keyed by service id.
func (s *Store) HSet(ctx context.Context, key, field string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("kv: marshal: %w", err)
	}
	return s.client.HSet(ctx, key, field, data).Err()
}

// HGetAll returns every field in a hash, raw-encoded; callers unmarshal
// each value themselves since the hash may hold heterogeneous records.
func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return s.client.HGetAll(ctx, key).Result()
}

// HDel removes a field from a hash.
func (s *Store) HDel(ctx context.Context, key, field string) error {
	return s.client.HDel(ctx, key, field).Err()
}

// HGet reads a single hash field, decoding it the same way Get does.
// Returns ErrNotFound if the field (or the hash itself) is absent.
func (s *Store) HGet(ctx context.Context, key, field string, out interface{}) error {
	data, err := s.client.HGet(ctx, key, field).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// HIncrBy atomically adjusts an integer hash field by delta and returns
// the new value, creating the field at delta if absent.
func (s *Store) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	return s.client.HIncrBy(ctx, key, field, delta).Result()
}

// translateErr maps a backend error into the taxonomy's KVUnavailable
// code for callers that surface it straight to a client response.
func translateErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) {
		return apierr.New(apierr.NotFound, "not found")
	}
	return apierr.Wrap(apierr.KVUnavailable, "key-value store unavailable", err)
}

// Translate exposes translateErr for callers outside this package that
// need a taxonomy-coded error from a raw kv failure.
func Translate(err error) error { return translateErr(err) }
