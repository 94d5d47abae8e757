//go:build integration
// +build integration

package docstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupCouchDBContainer starts a disposable CouchDB container for the
// lifetime of one test.
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
	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5984")
	require.NoError(t, err)

	return fmt.Sprintf("http://admin:testpass@%s:%s", host, port.Port())
}

type testDoc struct {
	ID   string `json:"_id"`
	Rev  string `json:"_rev,omitempty"`
	Name string `json:"name"`
}

func TestStore_PutGetDelete(t *testing.T) {
	url := setupCouchDBContainer(t)
	store, err := New(context.Background(), url)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	doc := testDoc{ID: "doc-1", Name: "hello"}

	rev, err := store.Put(ctx, CollectionFlows, doc.ID, doc)
	require.NoError(t, err)
	assert.NotEmpty(t, rev)

	var fetched testDoc
	require.NoError(t, store.Get(ctx, CollectionFlows, doc.ID, &fetched))
	assert.Equal(t, "hello", fetched.Name)

	require.NoError(t, store.Delete(ctx, CollectionFlows, doc.ID, fetched.Rev))

	err = store.Get(ctx, CollectionFlows, doc.ID, &fetched)
	assert.Error(t, err)
}

func TestStore_FindBySelector(t *testing.T) {
	url := setupCouchDBContainer(t)
	store, err := New(context.Background(), url)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	_, err = store.Put(ctx, CollectionFlowVersions, "v-1", map[string]interface{}{
		"_id": "v-1", "flowId": "flow-1", "version": "1.0.0",
	})
	require.NoError(t, err)

	var matches []map[string]interface{}
	err = store.Find(ctx, CollectionFlowVersions, map[string]interface{}{"flowId": "flow-1"}, func(scan func(interface{}) error) error {
		var m map[string]interface{}
		if err := scan(&m); err != nil {
			return err
		}
		matches = append(matches, m)
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}
