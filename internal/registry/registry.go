// Package registry is the service registry (C3): named-service
// registration, health probing, and load-balanced, retrying discovery.
// Records are kept in memory and written to the KV store's
// service:registry hash on register and after every probe. Discover reads
// only the in-memory map and nothing reads the hash back, so a process
// starts with an empty registry and resolves only the services registered
// through it.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/evalgo/flowcollab/internal/apierr"
	"github.com/evalgo/flowcollab/internal/kv"
)

const registryHashKey = "service:registry"

// Status is a service record's health status.
type Status string

const (
	Healthy   Status = "healthy"
	Unhealthy Status = "unhealthy"
	Unknown   Status = "unknown"
	Offline   Status = "offline"
)

// Config is what a caller supplies to Register.
type Config struct {
	Name       string
	Host       string
	Port       int
	Version    string
	BaseURL    string
	HealthPath string
}

// Record is a service record plus its counters, as stored and returned by
// Discover.
type Record struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Host         string `json:"host"`
	Port         int    `json:"port"`
	Version      string `json:"version"`
	BaseURL      string `json:"baseUrl"`
	HealthPath   string `json:"healthPath"`
	Status       Status `json:"status"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`

	requests  atomic.Int64
	successes atomic.Int64
	errors    atomic.Int64
}

// Strategy selects one record among several matching candidates.
type Strategy string

const (
	First      Strategy = "first"
	Random     Strategy = "random"
	RoundRobin Strategy = "round_robin"
)

// DiscoverOptions filters and steers a Discover call.
type DiscoverOptions struct {
	RequireHealthy   bool
	PreferredVersion string
	Strategy         Strategy
}

// Registry is the in-memory + KV-mirrored service registry.
type Registry struct {
	store  *kv.Store
	logger logf

	mu       sync.RWMutex
	services map[string]*Record
	rrIdx    map[string]uint64

	probeInterval time.Duration
	probeTimeout  time.Duration
	httpClient    *http.Client

	stopCh chan struct{}
	wg     sync.WaitGroup
}

type logf func(format string, args ...interface{})

// New creates a registry over store. probeInterval/probeTimeout default to
// 30s/5s (spec default) when zero.
func New(store *kv.Store, probeInterval, probeTimeout time.Duration, logger logf) *Registry {
	if probeInterval <= 0 {
		probeInterval = 30 * time.Second
	}
	if probeTimeout <= 0 {
		probeTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = func(string, ...interface{}) {}
	}
	return &Registry{
		store:         store,
		logger:        logger,
		services:      make(map[string]*Record),
		rrIdx:         make(map[string]uint64),
		probeInterval: probeInterval,
		probeTimeout:  probeTimeout,
		httpClient:    &http.Client{Timeout: probeTimeout},
		stopCh:        make(chan struct{}),
	}
}

// Start launches the periodic health-probe loop.
func (r *Registry) Start() {
	r.wg.Add(1)
	go r.probeLoop()
}

// Stop halts the health-probe loop.
func (r *Registry) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}

// Register persists a new service record, probes it once immediately, and
// returns its generated id.
func (r *Registry) Register(ctx context.Context, cfg Config) (string, error) {
	rec := &Record{
		ID:            uuid.NewString(),
		Name:          cfg.Name,
		Host:          cfg.Host,
		Port:          cfg.Port,
		Version:       cfg.Version,
		BaseURL:       cfg.BaseURL,
		HealthPath:    cfg.HealthPath,
		Status:        Unknown,
		LastHeartbeat: time.Now(),
	}

	r.mu.Lock()
	r.services[rec.ID] = rec
	r.mu.Unlock()

	if err := r.persist(ctx, rec); err != nil {
		return "", apierr.Wrap(apierr.KVUnavailable, "failed to persist service record", err)
	}

	r.probeOne(ctx, rec)
	return rec.ID, nil
}

// RecordView is a snapshot of one service record's exported fields,
// safe to copy and marshal (unlike Record, which carries atomic
// counters).
type RecordView struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Host          string    `json:"host"`
	Port          int       `json:"port"`
	Version       string    `json:"version"`
	BaseURL       string    `json:"baseUrl"`
	HealthPath    string    `json:"healthPath"`
	Status        Status    `json:"status"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`
}

// Snapshot returns every currently-registered record, for the admin
// introspection endpoint.
func (r *Registry) Snapshot() []RecordView {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RecordView, 0, len(r.services))
	for _, rec := range r.services {
		out = append(out, RecordView{
			ID: rec.ID, Name: rec.Name, Host: rec.Host, Port: rec.Port,
			Version: rec.Version, BaseURL: rec.BaseURL, HealthPath: rec.HealthPath,
			Status: rec.Status, LastHeartbeat: rec.LastHeartbeat,
		})
	}
	return out
}

// Deregister removes a service from both the in-memory map and the KV
// mirror.
func (r *Registry) Deregister(ctx context.Context, serviceID string) error {
	r.mu.Lock()
	delete(r.services, serviceID)
	r.mu.Unlock()

	if err := r.store.HDel(ctx, registryHashKey, serviceID); err != nil {
		return apierr.Wrap(apierr.KVUnavailable, "failed to remove service record", err)
	}
	return nil
}

// Discover filters in-memory records by name and opts, then applies a
// load-balancing strategy. Returns apierr NotFound when nothing matches.
func (r *Registry) Discover(name string, opts DiscoverOptions) (*Record, error) {
	r.mu.RLock()
	var candidates []*Record
	for _, rec := range r.services {
		if rec.Name != name {
			continue
		}
		if opts.RequireHealthy && rec.Status != Healthy {
			continue
		}
		if opts.PreferredVersion != "" && rec.Version != opts.PreferredVersion {
			continue
		}
		candidates = append(candidates, rec)
	}
	r.mu.RUnlock()

	// Map iteration order differs between calls; sort by id so every
	// strategy indexes one stable candidate order.
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })

	if len(candidates) == 0 {
		return nil, apierr.Newf(apierr.NotFound, "no available service for %q", name)
	}

	switch opts.Strategy {
	case Random:
		return candidates[rand.Intn(len(candidates))], nil
	case RoundRobin:
		r.mu.Lock()
		idx := r.rrIdx[name]
		r.rrIdx[name] = idx + 1
		r.mu.Unlock()
		return candidates[int(idx%uint64(len(candidates)))], nil
	default:
		return candidates[0], nil
	}
}

// CallOptions configures a single Call invocation.
type CallOptions struct {
	Method  string
	Headers map[string]string
	Body    io.Reader
	Timeout time.Duration
	Retries int
	DiscoverOptions
}

// Call discovers a service and issues an HTTP request against path,
// retrying up to opts.Retries times with exponential backoff (2^attempt
// seconds). Per-service counters are updated on every attempt.
func (r *Registry) Call(ctx context.Context, name, path string, opts CallOptions) (*http.Response, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	var lastErr error
	for attempt := 0; attempt <= opts.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(1<<uint(attempt)) * time.Second):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		rec, err := r.Discover(name, opts.DiscoverOptions)
		if err != nil {
			lastErr = err
			continue
		}

		req, err := http.NewRequestWithContext(ctx, orDefault(opts.Method, http.MethodGet), rec.BaseURL+path, opts.Body)
		if err != nil {
			return nil, apierr.Wrap(apierr.ProcessingError, "failed to build request", err)
		}
		for k, v := range opts.Headers {
			req.Header.Set(k, v)
		}

		client := &http.Client{Timeout: opts.Timeout}
		rec.requests.Add(1)
		resp, err := client.Do(req)
		if err != nil || resp.StatusCode >= 500 {
			rec.errors.Add(1)
			lastErr = fmt.Errorf("call %s%s: %w (status=%v)", name, path, err, statusOf(resp))
			continue
		}
		rec.successes.Add(1)
		return resp, nil
	}

	return nil, apierr.Wrap(apierr.ServiceUnavailable, fmt.Sprintf("service %q exhausted retries", name), lastErr)
}

func statusOf(resp *http.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// probeLoop runs the periodic health-probe ticker.
func (r *Registry) probeLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.probeInterval)
	defer ticker.Stop()

	r.probeAll(context.Background())

	for {
		select {
		case <-ticker.C:
			r.probeAll(context.Background())
		case <-r.stopCh:
			return
		}
	}
}

func (r *Registry) probeAll(ctx context.Context) {
	r.mu.RLock()
	records := make([]*Record, 0, len(r.services))
	for _, rec := range r.services {
		records = append(records, rec)
	}
	r.mu.RUnlock()

	for _, rec := range records {
		r.probeOne(ctx, rec)
	}
}

type healthPayload struct {
	Status string `json:"status"`
}

func (r *Registry) probeOne(ctx context.Context, rec *Record) {
	probeCtx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()

	url := rec.BaseURL + rec.HealthPath
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, url, nil)
	if err != nil {
		r.setStatus(rec, Unhealthy)
		return
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		r.setStatus(rec, Unhealthy)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		r.setStatus(rec, Unhealthy)
		return
	}

	var payload healthPayload
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	if payload.Status == string(Healthy) || payload.Status == "" {
		r.setStatus(rec, Healthy)
	} else {
		r.setStatus(rec, Unhealthy)
	}
}

func (r *Registry) setStatus(rec *Record, status Status) {
	r.mu.Lock()
	prev := rec.Status
	rec.Status = status
	rec.LastHeartbeat = time.Now()
	r.mu.Unlock()

	if prev != status {
		r.logger("registry: service %s transitioned %s -> %s", rec.Name, prev, status)
	}
	_ = r.persist(context.Background(), rec)
}

func (r *Registry) persist(ctx context.Context, rec *Record) error {
	return r.store.HSet(ctx, registryHashKey, rec.ID, rec)
}
