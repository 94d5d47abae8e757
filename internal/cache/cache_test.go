package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalgo/flowcollab/internal/kv"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	store, err := kv.New(context.Background(), fmt.Sprintf("redis://%s/0", mr.Addr()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return New(store, "test", nil)
}

type flowPayload struct {
	Name string `json:"name"`
}

func TestManager_SetGetRoundTrip(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, mgr.Set(ctx, Flows, "flow-1", flowPayload{Name: "checkout"}, 0))

	var out flowPayload
	require.NoError(t, mgr.Get(ctx, Flows, "flow-1", &out))
	assert.Equal(t, "checkout", out.Name)
}

func TestManager_GetMissReturnsNotFound(t *testing.T) {
	mgr := newTestManager(t)
	var out flowPayload
	err := mgr.Get(context.Background(), Flows, "absent", &out)
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func TestManager_LargeValueSurvivesCompressionRoundTrip(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	big := make([]byte, 4096)
	for i := range big {
		big[i] = byte('a' + i%26)
	}
	type largePayload struct {
		Blob string `json:"blob"`
	}
	require.NoError(t, mgr.Set(ctx, Knowledge, "doc-1", largePayload{Blob: string(big)}, 0))

	var out largePayload
	require.NoError(t, mgr.Get(ctx, Knowledge, "doc-1", &out))
	assert.Equal(t, string(big), out.Blob)
}

func TestManager_GetOrSetCallsLoaderOnceOnMiss(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()
	calls := 0
	loader := func(ctx context.Context) (interface{}, error) {
		calls++
		return flowPayload{Name: "loaded"}, nil
	}

	var out flowPayload
	require.NoError(t, mgr.GetOrSet(ctx, Flows, "flow-2", &out, loader, 0))
	assert.Equal(t, "loaded", out.Name)
	assert.Equal(t, 1, calls)

	var out2 flowPayload
	require.NoError(t, mgr.GetOrSet(ctx, Flows, "flow-2", &out2, loader, 0))
	assert.Equal(t, "loaded", out2.Name)
	assert.Equal(t, 1, calls, "loader must not be called again once cached")
}

// Flows invalidation must cascade to ApiResponses per the dependency graph.
func TestManager_InvalidateDependentCascades(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, mgr.Set(ctx, Flows, "flow-3", flowPayload{Name: "x"}, 0))
	require.NoError(t, mgr.Set(ctx, APIResponses, "flow-3", flowPayload{Name: "y"}, 0))

	var invalidated []Category
	require.NoError(t, mgr.InvalidateDependent(ctx, Flows, "flow-3", func(c Category, _ string) {
		invalidated = append(invalidated, c)
	}))

	var out flowPayload
	assert.ErrorIs(t, mgr.Get(ctx, Flows, "flow-3", &out), kv.ErrNotFound)
	assert.ErrorIs(t, mgr.Get(ctx, APIResponses, "flow-3", &out), kv.ErrNotFound)
	assert.Contains(t, invalidated, Flows)
	assert.Contains(t, invalidated, APIResponses)
}

// A category-level invalidation must purge every key cached under the
// dependent category, not just the one sharing the triggering write's key —
// other consumers may have cached unrelated entries in that category.
func TestManager_InvalidateDependentPurgesWholeDependentCategory(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, mgr.Set(ctx, Flows, "flow-9", flowPayload{Name: "x"}, 0))
	require.NoError(t, mgr.Set(ctx, APIResponses, "unrelated-response", flowPayload{Name: "y"}, 0))

	require.NoError(t, mgr.InvalidateDependent(ctx, Flows, "flow-9", nil))

	var out flowPayload
	assert.ErrorIs(t, mgr.Get(ctx, APIResponses, "unrelated-response", &out),
		kv.ErrNotFound, "invalidating Flows must purge all of APIResponses, not just the flow-9 key")
}

func TestKeyNamespacingTruncatesOverlongKeys(t *testing.T) {
	mgr := New(nil, "prefix", nil)
	longKey := ""
	for i := 0; i < 50; i++ {
		longKey += "0123456789"
	}
	k := mgr.key(Flows, longKey)
	assert.LessOrEqual(t, len(k), maxKeyLength)
}

func TestTTLForKnownAndUnknownCategory(t *testing.T) {
	assert.Equal(t, 1800*time.Second, ttlFor(Sessions))
	assert.Equal(t, 300*time.Second, ttlFor(Category("unrecognized")))
}
