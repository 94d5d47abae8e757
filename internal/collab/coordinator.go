package collab

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/evalgo/flowcollab/internal/aiworker"
	"github.com/evalgo/flowcollab/internal/apierr"
	"github.com/evalgo/flowcollab/internal/eventbus"
	"github.com/evalgo/flowcollab/internal/flow"
	"github.com/evalgo/flowcollab/internal/kv"
)

// Coordinator is the collaboration coordinator (C8). It guarantees
// serial application of mutation batches per flow, tracks room
// membership and cursor/selection presence, and routes AI intents to
// the worker over the event bus.
type Coordinator struct {
	flows *flow.Manager
	bus   *eventbus.Bus
	rooms *rooms
	pres  *presence
	q     *queues
	bc    Broadcaster
}

// New builds a coordinator over its collaborators. bc receives every
// broadcast the coordinator makes: joins, leaves, cursor/selection
// updates, flow_updated and error frames from processJob, and
// ai_response from HandleAIResponse. The gateway's own subscription to C4
// separately delivers flow:update and ai:response events published on
// the bus.
func New(flows *flow.Manager, bus *eventbus.Bus, store *kv.Store, bc Broadcaster) *Coordinator {
	c := &Coordinator{flows: flows, bus: bus, rooms: newRooms(), pres: newPresence(store), bc: bc}
	c.q = newQueues(c.processJob, c.flowIsIdle)
	return c
}

// Roster returns the current local room membership for flowID, used by
// the gateway to know which connections a given broadcast should reach.
func (c *Coordinator) Roster(flowID string) []Member {
	return c.rooms.roster(flowID)
}

// IsMember reports whether connID has joined flowID's room.
func (c *Coordinator) IsMember(flowID, connID string) bool {
	return c.rooms.isMember(flowID, connID)
}

func (c *Coordinator) flowIsIdle(flowID string) bool {
	return len(c.rooms.roster(flowID)) == 0
}

// JoinProject adds (userID, connID) to flowID's room, announces it to
// the rest of the room, and returns the current roster plus last-known
// cursor snapshots for the joining client.
func (c *Coordinator) JoinProject(ctx context.Context, flowID, userID, connID string) ([]Member, map[string]Position, error) {
	m := Member{UserID: userID, ConnectionID: connID}
	c.rooms.join(flowID, m)

	roster := c.rooms.roster(flowID)
	snap := c.pres.snapshot(ctx, flowID, roster)

	c.bc.ToRoom(flowID, "user_joined_project", map[string]interface{}{
		"userId": userID, "flowId": flowID, "timestamp": time.Now().UTC(),
	}, connID)

	return roster, snap, nil
}

// LeaveProject removes (userID, connID) from flowID's room and deletes
// its cursor TTL key.
func (c *Coordinator) LeaveProject(ctx context.Context, flowID, userID, connID string) error {
	c.rooms.leave(flowID, connID)
	_ = c.pres.deleteCursor(ctx, flowID, userID)

	c.bc.ToRoom(flowID, "user_left_project", map[string]interface{}{
		"userId": userID, "flowId": flowID, "timestamp": time.Now().UTC(),
	}, "")
	return nil
}

// DisconnectAll leaves connID from every room it had joined, for gateway
// disconnect cleanup.
func (c *Coordinator) DisconnectAll(ctx context.Context, userID, connID string) {
	for _, flowID := range c.rooms.leaveAll(connID) {
		_ = c.pres.deleteCursor(ctx, flowID, userID)
		c.bc.ToRoom(flowID, "user_left_project", map[string]interface{}{
			"userId": userID, "flowId": flowID, "timestamp": time.Now().UTC(),
		}, "")
	}
}

// CursorPosition stores and broadcasts a cursor update. Non-members are
// silently ignored per the design (cursor and selection never surface
// NOT_IN_PROJECT; only operations do).
func (c *Coordinator) CursorPosition(ctx context.Context, flowID, userID, connID string, pos Position) {
	if !c.rooms.isMember(flowID, connID) {
		return
	}
	_ = c.pres.setCursor(ctx, flowID, userID, pos)
	c.bc.ToRoom(flowID, "cursor_update", map[string]interface{}{
		"userId": userID, "position": pos, "timestamp": time.Now().UTC(),
	}, connID)
}

// SelectionUpdate broadcasts a selection change with no persistence.
func (c *Coordinator) SelectionUpdate(ctx context.Context, flowID, userID, connID string, selection interface{}) {
	if !c.rooms.isMember(flowID, connID) {
		return
	}
	c.bc.ToRoom(flowID, "selection_update", map[string]interface{}{
		"userId": userID, "selection": selection, "timestamp": time.Now().UTC(),
	}, connID)
}

// FlowOperation enqueues a mutation batch on flowID's serial queue.
// Returns apierr.NotInProject if connID has not joined the room.
func (c *Coordinator) FlowOperation(ctx context.Context, flowID, userID, connID string, ops []Operation) error {
	if !c.rooms.isMember(flowID, connID) {
		return apierr.New(apierr.NotInProject, "not a member of this flow's room")
	}
	c.q.submit(flowID, job{userID: userID, connID: connID, ops: ops})
	return nil
}

// processJob is the per-flow queue's consumer callback: it converts the
// operation batch into flow transactions and applies them through the
// flow manager. Failures are reported to the originating connection
// only; they never abort the connection or the queue.
func (c *Coordinator) processJob(flowID string, j job) {
	txns := make([]flow.Transaction, len(j.ops))
	for i, op := range j.ops {
		txns[i] = flow.Transaction{Action: flow.Action(op.Action), Payload: op.Payload}
	}

	ctx := context.Background()
	result, err := c.flows.UpdateFlow(ctx, flowID, txns, j.userID)
	if err != nil {
		code := apierr.CodeOf(err)
		c.bc.ToConnection(j.connID, "error", map[string]interface{}{
			"type": code, "message": err.Error(),
		})
		return
	}

	c.bc.ToRoom(flowID, "flow_updated", map[string]interface{}{
		"flowId": flowID, "changes": result.Changes, "userId": j.userID, "timestamp": time.Now().UTC(),
	}, "")
}

// UserMessageReceived publishes a chat intent to the AI worker and
// returns the ack payload for the caller.
func (c *Coordinator) UserMessageReceived(ctx context.Context, projectID, userID, connID, message string, msgCtx map[string]interface{}) (map[string]interface{}, error) {
	requestID := uuid.NewString()
	req := aiworker.Request{
		RequestID: requestID, Kind: aiworker.UserMessage, ProjectID: projectID,
		UserID: userID, ConnectionID: connID, Message: message, Context: msgCtx,
	}
	if err := c.publishRequest(ctx, requestID, req); err != nil {
		return nil, err
	}
	return map[string]interface{}{"status": "processing", "requestId": requestID}, nil
}

// PlanApproved converts an approved ghost subgraph into a mutation batch
// and enqueues it on the flow's serial queue.
func (c *Coordinator) PlanApproved(ctx context.Context, projectID, userID, connID, planID string, flowStructure, modifications map[string]interface{}) (map[string]interface{}, error) {
	ops, err := opsFromFlowStructure(flowStructure)
	if err != nil {
		return nil, apierr.Wrap(apierr.ValidationError, "could not convert approved plan into a mutation batch", err)
	}
	c.q.submit(projectID, job{userID: userID, connID: connID, ops: ops})
	return map[string]interface{}{"status": "executing", "planId": planID}, nil
}

// ImageUploadReceived enforces the 10 MiB cap, then publishes an image
// analysis intent to the AI worker.
func (c *Coordinator) ImageUploadReceived(ctx context.Context, projectID, userID, connID, imageData, mimeType, purpose string) (map[string]interface{}, error) {
	if len(imageData) > imageUploadMaxBytes {
		return nil, apierr.New(apierr.SizeLimit, "image upload exceeds the 10 MiB limit")
	}
	requestID := uuid.NewString()
	req := aiworker.Request{
		RequestID: requestID, Kind: aiworker.ImageUpload, ProjectID: projectID,
		UserID: userID, ConnectionID: connID, ImageData: imageData, MimeType: mimeType, Purpose: purpose,
	}
	if err := c.publishRequest(ctx, requestID, req); err != nil {
		return nil, err
	}
	return map[string]interface{}{"status": "analyzing", "requestId": requestID}, nil
}

func (c *Coordinator) publishRequest(ctx context.Context, requestID string, req aiworker.Request) error {
	payload := map[string]interface{}{
		"requestId": req.RequestID, "kind": req.Kind, "projectId": req.ProjectID,
		"userId": req.UserID, "connectionId": req.ConnectionID, "message": req.Message,
		"context": req.Context, "planId": req.PlanID, "flowStructure": req.FlowStructure,
		"modifications": req.Modifications, "imageData": req.ImageData, "mimeType": req.MimeType,
		"purpose": req.Purpose,
	}
	if err := c.bus.Publish(ctx, eventbus.TopicAIRequest(requestID), payload); err != nil {
		return apierr.Wrap(apierr.ServiceUnavailable, "failed to dispatch request to the AI worker", err)
	}
	return nil
}

// HandleAIResponse routes a decoded ai:response:<requestId> envelope: to
// a single connection when one is addressed, otherwise to the room
// identified by projectId.
func (c *Coordinator) HandleAIResponse(resp aiworker.Response) {
	payload := map[string]interface{}{
		"type": resp.Type, "content": resp.Content, "metadata": resp.Metadata,
		"timestamp": time.Now().UTC(),
	}
	if resp.ConnectionID != "" {
		c.bc.ToConnection(resp.ConnectionID, "ai_response", payload)
		return
	}
	if resp.ProjectID != "" {
		c.bc.ToRoom(resp.ProjectID, "ai_response", payload, "")
	}
}

// Stop disposes every live per-flow queue.
func (c *Coordinator) Stop() { c.q.stopAll() }

// opsFromFlowStructure interprets an approved ghost subgraph's flowStructure
// as a single ADD_NODE/ADD_EDGE batch: every "nodes" entry becomes an
// ADD_NODE, every "edges" entry an ADD_EDGE, in that order so edges never
// precede the nodes they reference (I1).
func opsFromFlowStructure(flowStructure map[string]interface{}) ([]Operation, error) {
	var ops []Operation

	if rawNodes, ok := flowStructure["nodes"].([]interface{}); ok {
		for _, rn := range rawNodes {
			node, ok := rn.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("flowStructure.nodes entry is not an object")
			}
			ops = append(ops, Operation{Action: "ADD_NODE", Payload: node})
		}
	}
	if rawEdges, ok := flowStructure["edges"].([]interface{}); ok {
		for _, re := range rawEdges {
			edge, ok := re.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("flowStructure.edges entry is not an object")
			}
			ops = append(ops, Operation{Action: "ADD_EDGE", Payload: edge})
		}
	}
	return ops, nil
}
