//go:build integration
// +build integration

package flow

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/evalgo/flowcollab/internal/cache"
	"github.com/evalgo/flowcollab/internal/docstore"
	"github.com/evalgo/flowcollab/internal/eventbus"
	"github.com/evalgo/flowcollab/internal/kv"
)

// setupCouchDBContainer mirrors internal/docstore's container fixture; a
// disposable CouchDB instance per test.
func setupCouchDBContainer(t *testing.T) string {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "couchdb:3.3",
		ExposedPorts: []string{"5984/tcp"},
		Env: map[string]string{
			"COUCHDB_USER":     "admin",
			"COUCHDB_PASSWORD": "testpass",
		},
		WaitingFor: wait.ForHTTP("/_up").WithPort("5984/tcp").WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start couchdb container")
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5984")
	require.NoError(t, err)

	return fmt.Sprintf("http://admin:testpass@%s:%s", host, port.Port())
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()

	docsURL := setupCouchDBContainer(t)
	docs, err := docstore.New(context.Background(), docsURL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = docs.Close() })

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	store, err := kv.New(context.Background(), fmt.Sprintf("redis://%s/0", mr.Addr()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	c := cache.New(store, "test", nil)
	bus := eventbus.New(store)

	return New(docs, c, bus)
}

func TestManager_CreateGetUpdateRoundTrip(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	doc, err := mgr.CreateFlow(ctx, CreateParams{
		ProjectID: "proj-1", WorkspaceID: "ws-1", UserID: "user-1",
		Template: "basic", Name: "Checkout flow",
	})
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", doc.Metadata.Version)
	assert.Len(t, doc.Nodes, 3)
	assert.Len(t, doc.Edges, 2)

	fetched, err := mgr.GetFlow(ctx, doc.ID, GetFilters{ProjectID: "proj-1"})
	require.NoError(t, err)
	assert.Equal(t, doc.ID, fetched.ID)

	// Scenario: a single ADD_NODE/ADD_EDGE batch bumps the patch version
	// and is reflected in a subsequent read (cache repopulated on write).
	result, err := mgr.UpdateFlow(ctx, doc.ID, []Transaction{
		{Action: AddNode, Payload: map[string]interface{}{
			"id": "extra", "type": "note", "position": map[string]interface{}{"x": 1.0, "y": 1.0},
		}},
	}, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "1.0.1", result.Document.Metadata.Version)
	assert.Len(t, result.Document.Nodes, 4)

	again, err := mgr.GetFlow(ctx, doc.ID, GetFilters{})
	require.NoError(t, err)
	assert.Equal(t, "1.0.1", again.Metadata.Version)
}

// An update batch that violates an invariant is rejected and leaves the
// stored document untouched.
func TestManager_UpdateFlow_RejectsInvalidBatch(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	doc, err := mgr.CreateFlow(ctx, CreateParams{UserID: "user-1", Template: "empty", Name: "Empty"})
	require.NoError(t, err)

	_, err = mgr.UpdateFlow(ctx, doc.ID, []Transaction{
		{Action: AddEdge, Payload: map[string]interface{}{"id": "e1", "source": "start", "target": "ghost"}},
	}, "user-1")
	require.Error(t, err)

	unchanged, err := mgr.GetFlow(ctx, doc.ID, GetFilters{})
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", unchanged.Metadata.Version)
	assert.Len(t, unchanged.Edges, 0)
}

// A soft-deleted flow is no longer reachable through GetFlow.
func TestManager_DeleteFlow_IsSoftAndHidesFromGet(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	doc, err := mgr.CreateFlow(ctx, CreateParams{UserID: "user-1", Template: "empty", Name: "To delete"})
	require.NoError(t, err)

	require.NoError(t, mgr.DeleteFlow(ctx, doc.ID, "user-1"))

	_, err = mgr.GetFlow(ctx, doc.ID, GetFilters{})
	require.Error(t, err)
}

// GetFlow enforces project/workspace scoping even when the caller knows
// the flow id.
func TestManager_GetFlow_ScopedByProject(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	doc, err := mgr.CreateFlow(ctx, CreateParams{ProjectID: "proj-a", UserID: "user-1", Template: "empty", Name: "Scoped"})
	require.NoError(t, err)

	_, err = mgr.GetFlow(ctx, doc.ID, GetFilters{ProjectID: "proj-b"})
	require.Error(t, err)
}

// Update batches applied one after another to the same flow through
// UpdateFlow accumulate: each patch bump is sequential and no node is
// lost, exercising the same read-clone-apply-
// write path the collaboration coordinator's per-flow queue relies on to
// make concurrent submissions safe.
func TestManager_UpdateFlow_SequentialBatchesAccumulate(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	doc, err := mgr.CreateFlow(ctx, CreateParams{UserID: "user-1", Template: "empty", Name: "Accum"})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("node-%d", i)
		_, err := mgr.UpdateFlow(ctx, doc.ID, []Transaction{
			{Action: AddNode, Payload: map[string]interface{}{
				"id": id, "type": "note", "position": map[string]interface{}{"x": 0.0, "y": 0.0},
			}},
		}, "user-1")
		require.NoError(t, err)
	}

	final, err := mgr.GetFlow(ctx, doc.ID, GetFilters{})
	require.NoError(t, err)
	assert.Len(t, final.Nodes, 6) // template's "start" plus 5 added nodes
	assert.Equal(t, "1.0.5", final.Metadata.Version)
}
