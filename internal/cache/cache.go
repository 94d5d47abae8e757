// Package cache layers namespacing, category TTLs, dependency invalidation
// and metrics on top of internal/kv. It never talks to Redis directly.
package cache

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/evalgo/flowcollab/internal/kv"
)

// Category names the cache partitions recognized by the system. Each maps
// to a default TTL and an advisory tier label; the tier is recorded in
// categorySpecs but no code path reads it.
type Category string

const (
	Sessions     Category = "sessions"
	UserData     Category = "user_data"
	Flows        Category = "flows"
	Knowledge    Category = "knowledge"
	AIResponses  Category = "ai_responses"
	APIResponses Category = "api_responses"
	Workspace    Category = "workspace"
	Billing      Category = "billing"
	Config       Category = "config"
	Metrics      Category = "metrics"
)

// Tier is the advisory size-class a category belongs to.
type Tier string

const (
	Hot  Tier = "hot"
	Warm Tier = "warm"
	Cold Tier = "cold"
)

type categorySpec struct {
	ttl  time.Duration
	tier Tier
}

var categorySpecs = map[Category]categorySpec{
	Sessions:     {1800 * time.Second, Hot},
	UserData:     {900 * time.Second, Warm},
	Flows:        {600 * time.Second, Warm},
	Knowledge:    {1800 * time.Second, Cold},
	AIResponses:  {3600 * time.Second, Cold},
	APIResponses: {300 * time.Second, Warm},
	Workspace:    {600 * time.Second, Warm},
	Billing:      {300 * time.Second, Warm},
	Config:       {3600 * time.Second, Cold},
	Metrics:      {60 * time.Second, Hot},
}

// defaultDependents mirrors the spec's invalidation graph: invalidating a
// category also invalidates everything downstream of it.
var defaultDependents = map[Category][]Category{
	UserData: {Sessions, Workspace},
	Flows:    {APIResponses},
}

const (
	maxKeyLength       = 200
	hashSuffixLength   = 12
	compressionMarker  = byte(0x1f) // gzip magic first byte, used as our own marker too
	compressThreshold  = 1024
)

// Metrics are the prometheus collectors registered once per Manager.
type metrics struct {
	hits         prometheus.Counter
	misses       prometheus.Counter
	sets         prometheus.Counter
	deletes      prometheus.Counter
	invalidations prometheus.Counter
	errors       prometheus.Counter
	responseTime prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		hits:    prometheus.NewCounter(prometheus.CounterOpts{Name: "flowcollab_cache_hits_total"}),
		misses:  prometheus.NewCounter(prometheus.CounterOpts{Name: "flowcollab_cache_misses_total"}),
		sets:    prometheus.NewCounter(prometheus.CounterOpts{Name: "flowcollab_cache_sets_total"}),
		deletes: prometheus.NewCounter(prometheus.CounterOpts{Name: "flowcollab_cache_deletes_total"}),
		invalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowcollab_cache_invalidations_total",
		}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{Name: "flowcollab_cache_errors_total"}),
		responseTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "flowcollab_cache_response_seconds",
			Buckets: prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.hits, m.misses, m.sets, m.deletes, m.invalidations, m.errors, m.responseTime)
	}
	return m
}

// Manager is the cache manager (C2). Zero value is not usable; use New.
type Manager struct {
	store  *kv.Store
	prefix string
	m      *metrics

	mu         sync.RWMutex
	dependents map[Category][]Category
}

// Option configures a Manager at construction.
type Option func(*Manager)

// WithDependents overrides the default invalidation graph.
func WithDependents(graph map[Category][]Category) Option {
	return func(mgr *Manager) { mgr.dependents = graph }
}

// New builds a cache manager over an already-connected kv.Store.
func New(store *kv.Store, prefix string, reg prometheus.Registerer, opts ...Option) *Manager {
	mgr := &Manager{
		store:      store,
		prefix:     prefix,
		m:          newMetrics(reg),
		dependents: defaultDependents,
	}
	for _, opt := range opts {
		opt(mgr)
	}
	return mgr
}

// key builds the namespaced, length-bounded cache key for a category and a
// caller-supplied logical key.
func (mgr *Manager) key(category Category, userKey string) string {
	full := fmt.Sprintf("%s:%s:%s", mgr.prefix, category, userKey)
	if len(full) <= maxKeyLength {
		return full
	}
	sum := sha1.Sum([]byte(full))
	hash := hex.EncodeToString(sum[:])[:hashSuffixLength]
	cut := maxKeyLength - hashSuffixLength - 1
	return full[:cut] + "_" + hash
}

func ttlFor(category Category) time.Duration {
	if spec, ok := categorySpecs[category]; ok {
		return spec.ttl
	}
	return 300 * time.Second
}

// encode serializes v to JSON, gzip-compressing and marker-prefixing the
// payload when it is at least compressThreshold bytes long.
func encode(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if len(data) < compressThreshold {
		return append([]byte{0x00}, data...), nil
	}
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(data); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return append([]byte{compressionMarker}, buf.Bytes()...), nil
}

func decode(raw []byte, out interface{}) error {
	if len(raw) == 0 {
		return fmt.Errorf("cache: empty payload")
	}
	marker, body := raw[0], raw[1:]
	if marker == compressionMarker {
		gz, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return err
		}
		defer gz.Close()
		data, err := io.ReadAll(gz)
		if err != nil {
			return err
		}
		return json.Unmarshal(data, out)
	}
	return json.Unmarshal(body, out)
}

// Get reads a cached value. A miss, including one caused by a transport
// error, returns kv.ErrNotFound: the caller treats a failed read as a miss
// per the cache's failure policy, never as a hard error.
func (mgr *Manager) Get(ctx context.Context, category Category, userKey string, out interface{}) error {
	start := time.Now()
	defer func() { mgr.m.responseTime.Observe(time.Since(start).Seconds()) }()

	var raw []byte
	if err := mgr.store.Get(ctx, mgr.key(category, userKey), &raw); err != nil {
		mgr.m.misses.Inc()
		return kv.ErrNotFound
	}
	if err := decode(raw, out); err != nil {
		mgr.m.errors.Inc()
		return kv.ErrNotFound
	}
	mgr.m.hits.Inc()
	return nil
}

// Set writes v under category/userKey using the category's default TTL, or
// ttlOverride when non-zero.
func (mgr *Manager) Set(ctx context.Context, category Category, userKey string, v interface{}, ttlOverride time.Duration) error {
	ttl := ttlFor(category)
	if ttlOverride > 0 {
		ttl = ttlOverride
	}
	data, err := encode(v)
	if err != nil {
		mgr.m.errors.Inc()
		return err
	}
	if err := mgr.store.Set(ctx, mgr.key(category, userKey), data, ttl); err != nil {
		mgr.m.errors.Inc()
		return nil // writes are best-effort
	}
	mgr.m.sets.Inc()
	return nil
}

// Delete removes one cached entry.
func (mgr *Manager) Delete(ctx context.Context, category Category, userKey string) error {
	if _, err := mgr.store.Delete(ctx, mgr.key(category, userKey)); err != nil {
		mgr.m.errors.Inc()
		return nil
	}
	mgr.m.deletes.Inc()
	return nil
}

// categoryPattern is the glob matching every key cached under category,
// regardless of the logical key it was stored under.
func (mgr *Manager) categoryPattern(category Category) string {
	return fmt.Sprintf("%s:%s:*", mgr.prefix, category)
}

// deleteCategory purges every key currently cached under category, not just
// the one tied to a particular userKey, since a category-level invalidation
// doesn't know in advance which logical keys downstream consumers used.
func (mgr *Manager) deleteCategory(ctx context.Context, category Category) error {
	keys, err := mgr.store.Keys(ctx, mgr.categoryPattern(category))
	if err != nil {
		mgr.m.errors.Inc()
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	n, err := mgr.store.Delete(ctx, keys...)
	if err != nil {
		mgr.m.errors.Inc()
		return err
	}
	for i := int64(0); i < n; i++ {
		mgr.m.deletes.Inc()
	}
	return nil
}

// Loader produces the authoritative value on a cache miss.
type Loader func(ctx context.Context) (interface{}, error)

// GetOrSet returns the cached value if present; otherwise it calls loader,
// caches the result, and returns it. Concurrent callers for the same key
// may all invoke loader — coalescing is the caller's responsibility when it
// matters.
func (mgr *Manager) GetOrSet(ctx context.Context, category Category, userKey string, out interface{}, loader Loader, ttlOverride time.Duration) error {
	if err := mgr.Get(ctx, category, userKey, out); err == nil {
		return nil
	}
	v, err := loader(ctx)
	if err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return err
	}
	_ = mgr.Set(ctx, category, userKey, v, ttlOverride)
	return nil
}

// InvalidateDependent deletes the triggering entry plus, by pattern, every
// key cached under each category declared dependent on it — a dependent
// category is purged wholesale since the write that triggered invalidation
// doesn't know which logical keys other consumers cached it under. Emits an
// invalidation event per affected category on the given callback (nil to
// skip).
func (mgr *Manager) InvalidateDependent(ctx context.Context, category Category, userKey string, onInvalidate func(Category, string)) error {
	mgr.mu.RLock()
	deps := mgr.dependents[category]
	mgr.mu.RUnlock()

	if err := mgr.Delete(ctx, category, userKey); err != nil {
		return err
	}
	mgr.m.invalidations.Inc()
	if onInvalidate != nil {
		onInvalidate(category, userKey)
	}

	for _, dep := range deps {
		if err := mgr.deleteCategory(ctx, dep); err != nil {
			continue
		}
		mgr.m.invalidations.Inc()
		if onInvalidate != nil {
			onInvalidate(dep, userKey)
		}
	}
	return nil
}
