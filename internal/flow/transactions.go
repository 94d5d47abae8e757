package flow

import (
	"encoding/json"
	"fmt"

	"github.com/evalgo/flowcollab/internal/apierr"
)

// applyBatch applies every transaction in order against a/doc. On the
// first invalid transaction it returns an error naming the offending
// transaction and leaves the document unchanged from the caller's point
// of view (the caller must operate on a clone, never the live document).
func applyBatch(a *arena, txns []Transaction) error {
	for i, txn := range txns {
		if err := applyOne(a, txn); err != nil {
			return apierr.Wrap(apierr.ValidationError, fmt.Sprintf("transaction %d (%s) rejected", i, txn.Action), err)
		}
	}
	return nil
}

func applyOne(a *arena, txn Transaction) error {
	switch txn.Action {
	case AddNode:
		return applyAddNode(a, txn.Payload)
	case UpdateNode:
		return applyUpdateNode(a, txn.Payload)
	case DeleteNode:
		return applyDeleteNode(a, txn.Payload)
	case AddEdge:
		return applyAddEdge(a, txn.Payload)
	case UpdateEdge:
		return applyUpdateEdge(a, txn.Payload)
	case DeleteEdge:
		return applyDeleteEdge(a, txn.Payload)
	default:
		return fmt.Errorf("unknown action %q", txn.Action)
	}
}

func decodePayload(payload map[string]interface{}, out interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

type addNodePayload struct {
	ID       string                 `json:"id"`
	Type     NodeType               `json:"type"`
	Position *Position              `json:"position"`
	Data     map[string]interface{} `json:"data"`
}

// applyAddNode implements ADD_NODE: id must not exist (I2); position
// defaults to {0,0}; type must be one of the enumerated variants.
func applyAddNode(a *arena, payload map[string]interface{}) error {
	var p addNodePayload
	if err := decodePayload(payload, &p); err != nil {
		return fmt.Errorf("malformed ADD_NODE payload: %w", err)
	}
	if p.ID == "" {
		return fmt.Errorf("ADD_NODE requires an id")
	}
	if a.hasNode(p.ID) {
		return fmt.Errorf("node %q already exists", p.ID)
	}
	if !nodeTypeValid(p.Type) {
		return fmt.Errorf("node %q has unknown type %q", p.ID, p.Type)
	}
	pos := Position{}
	if p.Position != nil {
		pos = *p.Position
	}
	a.addNode(Node{ID: p.ID, Type: p.Type, Position: pos, Data: p.Data})
	return nil
}

type updateNodePayload struct {
	ID       string                 `json:"id"`
	Type     *NodeType              `json:"type"`
	Position *Position              `json:"position"`
	Size     *Size                  `json:"size"`
	Data     map[string]interface{} `json:"data"`
}

// applyUpdateNode implements UPDATE_NODE: id must exist; supplied fields
// overwrite; data is merged shallowly.
func applyUpdateNode(a *arena, payload map[string]interface{}) error {
	var p updateNodePayload
	if err := decodePayload(payload, &p); err != nil {
		return fmt.Errorf("malformed UPDATE_NODE payload: %w", err)
	}
	node, ok := a.node(p.ID)
	if !ok {
		return fmt.Errorf("node %q does not exist", p.ID)
	}
	if p.Type != nil {
		if !nodeTypeValid(*p.Type) {
			return fmt.Errorf("node %q has unknown type %q", p.ID, *p.Type)
		}
		node.Type = *p.Type
	}
	if p.Position != nil {
		node.Position = *p.Position
	}
	if p.Size != nil {
		node.Size = p.Size
	}
	if p.Data != nil {
		if node.Data == nil {
			node.Data = make(map[string]interface{})
		}
		for k, v := range p.Data {
			node.Data[k] = v
		}
	}
	return nil
}

type idPayload struct {
	ID string `json:"id"`
}

// applyDeleteNode implements DELETE_NODE, with Q1 resolved as a
// VALIDATION_ERROR on a missing id (asymmetric with DELETE_EDGE — see
// DESIGN.md). Incident edges are removed in the same step (I3).
func applyDeleteNode(a *arena, payload map[string]interface{}) error {
	var p idPayload
	if err := decodePayload(payload, &p); err != nil {
		return fmt.Errorf("malformed DELETE_NODE payload: %w", err)
	}
	if !a.hasNode(p.ID) {
		return fmt.Errorf("node %q does not exist", p.ID)
	}
	a.removeEdgesTouching(p.ID)
	a.removeNode(p.ID)
	return nil
}

type addEdgePayload struct {
	ID           string                 `json:"id"`
	Source       string                 `json:"source"`
	Target       string                 `json:"target"`
	SourceHandle string                 `json:"sourceHandle"`
	TargetHandle string                 `json:"targetHandle"`
	Label        string                 `json:"label"`
	Type         string                 `json:"type"`
	Data         map[string]interface{} `json:"data"`
}

// applyAddEdge implements ADD_EDGE: id must not exist; source and target
// must already exist (I1).
func applyAddEdge(a *arena, payload map[string]interface{}) error {
	var p addEdgePayload
	if err := decodePayload(payload, &p); err != nil {
		return fmt.Errorf("malformed ADD_EDGE payload: %w", err)
	}
	if p.ID == "" {
		return fmt.Errorf("ADD_EDGE requires an id")
	}
	if a.hasEdge(p.ID) {
		return fmt.Errorf("edge %q already exists", p.ID)
	}
	if !a.hasNode(p.Source) {
		return fmt.Errorf("edge %q references missing source node %q", p.ID, p.Source)
	}
	if !a.hasNode(p.Target) {
		return fmt.Errorf("edge %q references missing target node %q", p.ID, p.Target)
	}
	a.addEdge(Edge{
		ID: p.ID, Source: p.Source, Target: p.Target,
		SourceHandle: p.SourceHandle, TargetHandle: p.TargetHandle,
		Label: p.Label, Type: p.Type,
	})
	return nil
}

type updateEdgePayload struct {
	ID   string                 `json:"id"`
	Data map[string]interface{} `json:"data"`
}

// applyUpdateEdge implements UPDATE_EDGE: id must exist; data merged
// shallowly into Style (the edge's only free-form field).
func applyUpdateEdge(a *arena, payload map[string]interface{}) error {
	var p updateEdgePayload
	if err := decodePayload(payload, &p); err != nil {
		return fmt.Errorf("malformed UPDATE_EDGE payload: %w", err)
	}
	edge, ok := a.edge(p.ID)
	if !ok {
		return fmt.Errorf("edge %q does not exist", p.ID)
	}
	if p.Data != nil {
		if edge.Style == nil {
			edge.Style = make(map[string]interface{})
		}
		for k, v := range p.Data {
			edge.Style[k] = v
		}
	}
	return nil
}

// applyDeleteEdge implements DELETE_EDGE: idempotent by design (L1) — a
// missing id is not an error, to keep ghost-rejection simple.
func applyDeleteEdge(a *arena, payload map[string]interface{}) error {
	var p idPayload
	if err := decodePayload(payload, &p); err != nil {
		return fmt.Errorf("malformed DELETE_EDGE payload: %w", err)
	}
	a.removeEdge(p.ID)
	return nil
}
