package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_DuplicateNodeIDRejected(t *testing.T) {
	doc := newDoc([]Node{{ID: "a"}, {ID: "a"}}, nil)
	err := validate(newArena(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate node id")
}

func TestValidate_EdgeToMissingSourceRejected(t *testing.T) {
	doc := newDoc([]Node{{ID: "b"}}, []Edge{{ID: "e1", Source: "ghost", Target: "b"}})
	err := validate(newArena(doc))
	require.Error(t, err)
}

// I4: a condition node's outgoing edges must use one of its declared
// branch ids as sourceHandle.
func TestValidateConditionHandles_RejectsUnknownBranch(t *testing.T) {
	doc := newDoc(
		[]Node{
			{ID: "decision", Type: NodeCondition, Data: map[string]interface{}{
				"branches": []interface{}{map[string]interface{}{"id": "yes"}, map[string]interface{}{"id": "no"}},
			}},
			{ID: "target"},
		},
		[]Edge{{ID: "e1", Source: "decision", Target: "target", SourceHandle: "maybe"}},
	)
	err := validate(newArena(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid branch handle")
}

func TestValidateConditionHandles_AcceptsDeclaredBranch(t *testing.T) {
	doc := newDoc(
		[]Node{
			{ID: "decision", Type: NodeCondition, Data: map[string]interface{}{
				"branches": []interface{}{map[string]interface{}{"id": "yes"}, map[string]interface{}{"id": "no"}},
			}},
			{ID: "target"},
		},
		[]Edge{{ID: "e1", Source: "decision", Target: "target", SourceHandle: "yes"}},
	)
	assert.NoError(t, validate(newArena(doc)))
}

// I6: frame containment is derived from geometry, not authored.
func TestRecomputeFrameContainment(t *testing.T) {
	doc := &Document{
		Nodes: []Node{
			{ID: "inside", Position: Position{X: 10, Y: 10}},
			{ID: "outside", Position: Position{X: 1000, Y: 1000}},
		},
		Frames: []Frame{
			{ID: "f1", Position: Position{X: 0, Y: 0}, Size: Size{W: 100, H: 100}},
		},
	}

	recomputeFrameContainment(doc)

	assert.Equal(t, []string{"inside"}, doc.Frames[0].ContainedNodeIDs)
}

func TestRecomputeFrameContainment_EmptyWhenNoNodesInside(t *testing.T) {
	doc := &Document{
		Nodes:  []Node{{ID: "far", Position: Position{X: 500, Y: 500}}},
		Frames: []Frame{{ID: "f1", Position: Position{X: 0, Y: 0}, Size: Size{W: 10, H: 10}}},
	}
	recomputeFrameContainment(doc)
	assert.Empty(t, doc.Frames[0].ContainedNodeIDs)
}
