package registry

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalgo/flowcollab/internal/apierr"
	"github.com/evalgo/flowcollab/internal/kv"
)

func newTestStore(t *testing.T) *kv.Store {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	store, err := kv.New(context.Background(), fmt.Sprintf("redis://%s/0", mr.Addr()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func healthyServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRegisterAndDiscover(t *testing.T) {
	store := newTestStore(t)
	srv := healthyServer(t)
	r := New(store, time.Hour, time.Second, nil)

	id, err := r.Register(context.Background(), Config{
		Name: "ai-worker", BaseURL: srv.URL, HealthPath: "/healthz", Version: "1.0.0",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	rec, err := r.Discover("ai-worker", DiscoverOptions{RequireHealthy: true})
	require.NoError(t, err)
	assert.Equal(t, "ai-worker", rec.Name)
	assert.Equal(t, Healthy, rec.Status)
}

func TestDiscover_NotFoundWhenNoMatch(t *testing.T) {
	store := newTestStore(t)
	r := New(store, time.Hour, time.Second, nil)

	_, err := r.Discover("nonexistent", DiscoverOptions{})
	require.Error(t, err)
	assert.Equal(t, apierr.NotFound, apierr.CodeOf(err))
}

func TestDiscover_RoundRobinCyclesCandidates(t *testing.T) {
	store := newTestStore(t)
	srv := healthyServer(t)
	r := New(store, time.Hour, time.Second, nil)

	for i := 0; i < 3; i++ {
		_, err := r.Register(context.Background(), Config{
			Name: "svc", BaseURL: srv.URL, HealthPath: "/healthz",
		})
		require.NoError(t, err)
	}

	seen := make(map[string]bool)
	for i := 0; i < 3; i++ {
		rec, err := r.Discover("svc", DiscoverOptions{Strategy: RoundRobin})
		require.NoError(t, err)
		seen[rec.ID] = true
	}
	assert.Len(t, seen, 3, "round robin should visit all 3 distinct records across 3 calls")
}

func TestDeregisterRemovesRecord(t *testing.T) {
	store := newTestStore(t)
	srv := healthyServer(t)
	r := New(store, time.Hour, time.Second, nil)

	id, err := r.Register(context.Background(), Config{Name: "svc", BaseURL: srv.URL, HealthPath: "/healthz"})
	require.NoError(t, err)

	require.NoError(t, r.Deregister(context.Background(), id))

	_, err = r.Discover("svc", DiscoverOptions{})
	require.Error(t, err)
}

func TestCall_RetriesAndEventuallyFails(t *testing.T) {
	store := newTestStore(t)
	unhealthySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(unhealthySrv.Close)

	r := New(store, time.Hour, time.Second, nil)
	_, err := r.Register(context.Background(), Config{Name: "flaky", BaseURL: unhealthySrv.URL, HealthPath: "/healthz"})
	require.NoError(t, err)

	_, err = r.Call(context.Background(), "flaky", "/do-work", CallOptions{Retries: 1})
	require.Error(t, err)
	assert.Equal(t, apierr.ServiceUnavailable, apierr.CodeOf(err))
}
