package flow

// arena is the id-indexed view of a document's nodes and edges, built
// fresh from the flat slices whenever it's needed. There is no persistent
// pointer graph — lookups always go through these maps, matching the
// design note that rejects cyclic in-memory structures for this
// component.
type arena struct {
	doc       *Document
	nodeIndex map[string]int
	edgeIndex map[string]int
}

func newArena(doc *Document) *arena {
	a := &arena{
		doc:       doc,
		nodeIndex: make(map[string]int, len(doc.Nodes)),
		edgeIndex: make(map[string]int, len(doc.Edges)),
	}
	for i, n := range doc.Nodes {
		a.nodeIndex[n.ID] = i
	}
	for i, e := range doc.Edges {
		a.edgeIndex[e.ID] = i
	}
	return a
}

func (a *arena) hasNode(id string) bool {
	_, ok := a.nodeIndex[id]
	return ok
}

func (a *arena) hasEdge(id string) bool {
	_, ok := a.edgeIndex[id]
	return ok
}

func (a *arena) node(id string) (*Node, bool) {
	i, ok := a.nodeIndex[id]
	if !ok {
		return nil, false
	}
	return &a.doc.Nodes[i], true
}

func (a *arena) edge(id string) (*Edge, bool) {
	i, ok := a.edgeIndex[id]
	if !ok {
		return nil, false
	}
	return &a.doc.Edges[i], true
}

// addNode appends a node and indexes it.
func (a *arena) addNode(n Node) {
	a.doc.Nodes = append(a.doc.Nodes, n)
	a.nodeIndex[n.ID] = len(a.doc.Nodes) - 1
}

// addEdge appends an edge and indexes it.
func (a *arena) addEdge(e Edge) {
	a.doc.Edges = append(a.doc.Edges, e)
	a.edgeIndex[e.ID] = len(a.doc.Edges) - 1
}

// removeNode deletes a node and rebuilds the node index (rare enough —
// bounded by one flow's node count — that a full rebuild is simpler than
// tombstoning).
func (a *arena) removeNode(id string) {
	i, ok := a.nodeIndex[id]
	if !ok {
		return
	}
	a.doc.Nodes = append(a.doc.Nodes[:i], a.doc.Nodes[i+1:]...)
	a.rebuildNodeIndex()
}

// removeEdge deletes an edge and rebuilds the edge index.
func (a *arena) removeEdge(id string) {
	i, ok := a.edgeIndex[id]
	if !ok {
		return
	}
	a.doc.Edges = append(a.doc.Edges[:i], a.doc.Edges[i+1:]...)
	a.rebuildEdgeIndex()
}

// removeEdgesTouching removes every edge whose source or target is id,
// implementing I3's cascading delete.
func (a *arena) removeEdgesTouching(id string) {
	kept := a.doc.Edges[:0]
	for _, e := range a.doc.Edges {
		if e.Source == id || e.Target == id {
			continue
		}
		kept = append(kept, e)
	}
	a.doc.Edges = kept
	a.rebuildEdgeIndex()
}

func (a *arena) rebuildNodeIndex() {
	a.nodeIndex = make(map[string]int, len(a.doc.Nodes))
	for i, n := range a.doc.Nodes {
		a.nodeIndex[n.ID] = i
	}
}

func (a *arena) rebuildEdgeIndex() {
	a.edgeIndex = make(map[string]int, len(a.doc.Edges))
	for i, e := range a.doc.Edges {
		a.edgeIndex[e.ID] = i
	}
}
