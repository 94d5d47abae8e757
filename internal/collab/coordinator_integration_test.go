//go:build integration
// +build integration

package collab

import (
	"context"
	"fmt"
	"sync"
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
	"github.com/evalgo/flowcollab/internal/flow"
	"github.com/evalgo/flowcollab/internal/kv"
)

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

// recordingBroadcaster captures every fan-out the coordinator issues, so
// a test can assert on who was told what without a real gateway.
type recordingBroadcaster struct {
	mu    sync.Mutex
	room  []roomCall
	conn  []connCall
}

type roomCall struct {
	flowID, event, exclude string
	payload                interface{}
}

type connCall struct {
	connID, event string
	payload       interface{}
}

func (b *recordingBroadcaster) ToRoom(flowID, event string, payload interface{}, excludeConnID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.room = append(b.room, roomCall{flowID, event, excludeConnID, payload})
}

func (b *recordingBroadcaster) ToConnection(connID, event string, payload interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conn = append(b.conn, connCall{connID, event, payload})
}

func (b *recordingBroadcaster) roomEvents(event string) []roomCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []roomCall
	for _, c := range b.room {
		if c.event == event {
			out = append(out, c)
		}
	}
	return out
}

func newTestCoordinator(t *testing.T) (*Coordinator, *flow.Manager, *kv.Store, *recordingBroadcaster) {
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
	flows := flow.New(docs, c, bus)

	bc := &recordingBroadcaster{}
	coord := New(flows, bus, store, bc)
	t.Cleanup(coord.Stop)

	return coord, flows, store, bc
}

// Scenario: joining announces presence to the rest of the room, and
// leaving announces departure; the joining/leaving connection itself is
// excluded from its own announcement.
func TestCoordinator_JoinLeaveAnnouncesToRoom(t *testing.T) {
	coord, flows, _, bc := newTestCoordinator(t)
	ctx := context.Background()

	doc, err := flows.CreateFlow(ctx, flow.CreateParams{UserID: "u1", Template: "empty", Name: "f"})
	require.NoError(t, err)

	_, _, err = coord.JoinProject(ctx, doc.ID, "u1", "c1")
	require.NoError(t, err)

	roster, _, err := coord.JoinProject(ctx, doc.ID, "u2", "c2")
	require.NoError(t, err)
	assert.Len(t, roster, 2)

	joins := bc.roomEvents("user_joined_project")
	require.Len(t, joins, 2)
	assert.Equal(t, "c2", joins[1].exclude)

	require.NoError(t, coord.LeaveProject(ctx, doc.ID, "u2", "c2"))
	leaves := bc.roomEvents("user_left_project")
	require.Len(t, leaves, 1)
	assert.False(t, coord.IsMember(doc.ID, "c2"))
}

// FlowOperation rejects a submission from a connection that never joined
// the room.
func TestCoordinator_FlowOperation_RejectsNonMember(t *testing.T) {
	coord, flows, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	doc, err := flows.CreateFlow(ctx, flow.CreateParams{UserID: "u1", Template: "empty", Name: "f"})
	require.NoError(t, err)

	err = coord.FlowOperation(ctx, doc.ID, "u1", "not-a-member", []Operation{
		{Action: "ADD_NODE", Payload: map[string]interface{}{"id": "n1", "type": "note"}},
	})
	require.Error(t, err)
}

// Scenario 4: multiple members submitting flow operations against the
// same flow concurrently are applied one at a time by the flow's serial
// queue — every submitted node ends up present, and every submission
// gets exactly one flow_updated broadcast.
func TestCoordinator_FlowOperation_SerializesConcurrentSubmissions(t *testing.T) {
	coord, flows, _, bc := newTestCoordinator(t)
	ctx := context.Background()

	doc, err := flows.CreateFlow(ctx, flow.CreateParams{UserID: "u1", Template: "empty", Name: "f"})
	require.NoError(t, err)

	_, _, err = coord.JoinProject(ctx, doc.ID, "u1", "c1")
	require.NoError(t, err)
	_, _, err = coord.JoinProject(ctx, doc.ID, "u2", "c2")
	require.NoError(t, err)

	const n = 10
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			conn := "c1"
			if i%2 == 0 {
				conn = "c2"
			}
			err := coord.FlowOperation(ctx, doc.ID, "u1", conn, []Operation{
				{Action: "ADD_NODE", Payload: map[string]interface{}{
					"id": fmt.Sprintf("n%d", i), "type": "note",
					"position": map[string]interface{}{"x": 0.0, "y": 0.0},
				}},
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		return len(bc.roomEvents("flow_updated")) == n
	}, 5*time.Second, 20*time.Millisecond)

	final, err := flows.GetFlow(ctx, doc.ID, flow.GetFilters{})
	require.NoError(t, err)
	assert.Len(t, final.Nodes, n+1) // template's "start" plus n submissions
}

// Cursor positions are only stored and broadcast for room members.
func TestCoordinator_CursorPosition_IgnoresNonMembers(t *testing.T) {
	coord, flows, _, bc := newTestCoordinator(t)
	ctx := context.Background()

	doc, err := flows.CreateFlow(ctx, flow.CreateParams{UserID: "u1", Template: "empty", Name: "f"})
	require.NoError(t, err)

	coord.CursorPosition(ctx, doc.ID, "u1", "not-a-member", Position{X: 1, Y: 2})
	assert.Empty(t, bc.roomEvents("cursor_update"))

	_, _, err = coord.JoinProject(ctx, doc.ID, "u1", "c1")
	require.NoError(t, err)
	coord.CursorPosition(ctx, doc.ID, "u1", "c1", Position{X: 1, Y: 2})
	assert.Len(t, bc.roomEvents("cursor_update"), 1)
}
