// Package flow is the flow manager (C7): authoritative flow documents,
// transactional mutation batches, version snapshots and cache coherency.
// The document is a flat arena — nodes, edges and frames referenced by id,
// never by pointer — per the system's design note rejecting cyclic
// in-memory structures in favor of id-indexed maps built at load time.
package flow

import "time"

// NodeType is the closed set of node variants a flow document can contain.
type NodeType string

const (
	NodeStart    NodeType = "start"
	NodeEnd      NodeType = "end"
	NodeScreen   NodeType = "screen"
	NodeDecision NodeType = "decision"
	NodeCondition NodeType = "condition"
	NodeAction   NodeType = "action"
	NodeNote     NodeType = "note"
	NodeSubflow  NodeType = "subflow"
	NodeFrame    NodeType = "frame"
)

var validNodeTypes = map[NodeType]bool{
	NodeStart: true, NodeEnd: true, NodeScreen: true, NodeDecision: true,
	NodeCondition: true, NodeAction: true, NodeNote: true, NodeSubflow: true,
	NodeFrame: true,
}

// Position is a node or frame's location on the canvas.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Size is a node or frame's bounding box.
type Size struct {
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Node is one vertex of a flow's graph.
type Node struct {
	ID       string                 `json:"id"`
	Type     NodeType               `json:"type"`
	Position Position               `json:"position"`
	Size     *Size                  `json:"size,omitempty"`
	Data     map[string]interface{} `json:"data,omitempty"`
	Ghost    bool                   `json:"ghost,omitempty"`
}

// Edge is a directed arc between two nodes, optionally attached to named
// handles on either side.
type Edge struct {
	ID           string                 `json:"id"`
	Source       string                 `json:"source"`
	Target       string                 `json:"target"`
	SourceHandle string                 `json:"sourceHandle,omitempty"`
	TargetHandle string                 `json:"targetHandle,omitempty"`
	Label        string                 `json:"label,omitempty"`
	Style        map[string]interface{} `json:"style,omitempty"`
	Type         string                 `json:"type,omitempty"`
	Ghost        bool                   `json:"ghost,omitempty"`
}

// Frame visually groups nodes. ContainedNodeIDs is derived by geometric
// containment whenever the frame or a node's geometry changes — it is
// never authored directly by a transaction.
type Frame struct {
	ID               string   `json:"id"`
	Position         Position `json:"position"`
	Size             Size     `json:"size"`
	ContainedNodeIDs []string `json:"containedNodeIds"`
}

// Status is the flow document's lifecycle marker.
type Status string

const (
	StatusActive  Status = "active"
	StatusDeleted Status = "deleted"
)

// Metadata is the flow document's descriptive envelope.
type Metadata struct {
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	Version        string    `json:"version"`
	OwnerID        string    `json:"ownerId"`
	WorkspaceID    string    `json:"workspaceId"`
	ProjectID      string    `json:"projectId"`
	Status         Status    `json:"status"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
	LastModifiedBy string    `json:"lastModifiedBy,omitempty"`
}

// Document is the authoritative shape of a flow, as stored in the
// `flows` collection.
type Document struct {
	ID       string   `json:"_id"`
	Rev      string   `json:"_rev,omitempty"`
	Metadata Metadata `json:"metadata"`
	Nodes    []Node   `json:"nodes"`
	Edges    []Edge   `json:"edges"`
	Frames   []Frame  `json:"frames"`
}

// VersionSnapshot is one append-only entry in `flow_versions`.
type VersionSnapshot struct {
	ID        string    `json:"_id"`
	FlowID    string    `json:"flowId"`
	Version   string    `json:"version"`
	Document  Document  `json:"document"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Action is the closed set of per-transaction mutation verbs.
type Action string

const (
	AddNode    Action = "ADD_NODE"
	UpdateNode Action = "UPDATE_NODE"
	DeleteNode Action = "DELETE_NODE"
	AddEdge    Action = "ADD_EDGE"
	UpdateEdge Action = "UPDATE_EDGE"
	DeleteEdge Action = "DELETE_EDGE"
)

// Transaction is one entry of a mutation batch. Payload carries the
// action's fields as a generic map and is decoded per action when
// applyBatch applies the batch.
type Transaction struct {
	Action Action                 `json:"action"`
	Payload map[string]interface{} `json:"payload"`
}

// nodeTypeValid reports whether t is one of the enumerated node variants.
func nodeTypeValid(t NodeType) bool {
	return validNodeTypes[t]
}
