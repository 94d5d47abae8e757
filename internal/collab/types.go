// Package collab is the collaboration coordinator (C8): it sits between
// the connection gateway (C6) and the flow manager (C7), guaranteeing
// serial application of mutation batches per flow, tracking room
// membership and transient cursor/selection presence, and routing AI
// intents and responses to and from the external AI worker contract
// (C9) over the event bus (C4).
package collab

import "time"

// Position is a cursor location on the canvas.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Member identifies one connection's presence in a room.
type Member struct {
	UserID       string `json:"userId"`
	ConnectionID string `json:"connectionId"`
}

// Broadcaster is the gateway-side fan-out the coordinator drives. The
// coordinator never touches a transport connection directly — it only
// decides who should receive what, matching the design's separation of
// the per-connection event loop (C6) from collaboration bookkeeping
// (C8).
type Broadcaster interface {
	// ToRoom delivers event/payload to every member of flowId's room
	// except excludeConnID (pass "" to exclude no one).
	ToRoom(flowID, event string, payload interface{}, excludeConnID string)
	// ToConnection delivers event/payload to one connection, if still
	// locally present. No-op if the connection is not local to this
	// gateway instance.
	ToConnection(connID, event string, payload interface{})
}

// Operation is one entry of a flow_operation batch.
type Operation struct {
	Action  string                 `json:"action"`
	Payload map[string]interface{} `json:"payload"`
}

// job is one unit of serialized work for a flow's queue.
type job struct {
	userID string
	connID string
	ops    []Operation
}

const cursorTTL = 60 * time.Second

// imageUploadMaxBytes is the 10 MiB cap on IMAGE_UPLOAD_RECEIVED payloads.
const imageUploadMaxBytes = 10 * 1024 * 1024
