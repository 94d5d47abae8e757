package flow

import "fmt"

// validate checks invariants I1, I2 and I4 against the current state of
// the arena's document. I3 and the DELETE_NODE/DELETE_EDGE rules are
// enforced at apply time; I5 (version bump) and I6 (frame containment)
// are handled by the caller after a successful validate.
func validate(a *arena) error {
	seenNodes := make(map[string]bool, len(a.doc.Nodes))
	for _, n := range a.doc.Nodes {
		if seenNodes[n.ID] {
			return fmt.Errorf("duplicate node id %q", n.ID) // I2
		}
		seenNodes[n.ID] = true
	}

	seenEdges := make(map[string]bool, len(a.doc.Edges))
	for _, e := range a.doc.Edges {
		if seenEdges[e.ID] {
			return fmt.Errorf("duplicate edge id %q", e.ID) // I2
		}
		seenEdges[e.ID] = true

		if !seenNodes[e.Source] {
			return fmt.Errorf("edge %q references missing source node %q", e.ID, e.Source) // I1
		}
		if !seenNodes[e.Target] {
			return fmt.Errorf("edge %q references missing target node %q", e.ID, e.Target) // I1
		}
	}

	if err := validateConditionHandles(a); err != nil {
		return err // I4
	}

	return nil
}

// validateConditionHandles enforces I4: a condition node's declared
// branch ids are the only valid sourceHandle values for edges leaving it.
func validateConditionHandles(a *arena) error {
	branchesByNode := make(map[string]map[string]bool)
	for _, n := range a.doc.Nodes {
		if n.Type != NodeCondition {
			continue
		}
		branches, ok := n.Data["branches"]
		if !ok {
			continue
		}
		list, ok := branches.([]interface{})
		if !ok {
			continue
		}
		set := make(map[string]bool, len(list))
		for _, b := range list {
			entry, ok := b.(map[string]interface{})
			if !ok {
				continue
			}
			if id, ok := entry["id"].(string); ok {
				set[id] = true
			}
		}
		branchesByNode[n.ID] = set
	}

	for _, e := range a.doc.Edges {
		branches, isConditionSource := branchesByNode[e.Source]
		if !isConditionSource {
			continue
		}
		if e.SourceHandle == "" || !branches[e.SourceHandle] {
			return fmt.Errorf("edge %q leaves condition node %q on invalid branch handle %q", e.ID, e.Source, e.SourceHandle)
		}
	}
	return nil
}

// recomputeFrameContainment implements I6: containedNodeIds is derived
// from geometric containment (axis-aligned bounding box), never
// user-authored.
func recomputeFrameContainment(doc *Document) {
	for i := range doc.Frames {
		frame := &doc.Frames[i]
		contained := make([]string, 0)
		for _, n := range doc.Nodes {
			if nodeInFrame(n, *frame) {
				contained = append(contained, n.ID)
			}
		}
		frame.ContainedNodeIDs = contained
	}
}

func nodeInFrame(n Node, f Frame) bool {
	if n.Position.X < f.Position.X || n.Position.Y < f.Position.Y {
		return false
	}
	if n.Position.X > f.Position.X+f.Size.W || n.Position.Y > f.Position.Y+f.Size.H {
		return false
	}
	return true
}
