package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/evalgo/flowcollab/internal/apierr"
	"github.com/evalgo/flowcollab/internal/cache"
	"github.com/evalgo/flowcollab/internal/docstore"
	"github.com/evalgo/flowcollab/internal/eventbus"
)

// Manager is the flow manager (C7): document CRUD, transactional
// mutation, version snapshots and cache coherency, layered on the
// document store, the cache manager and the event bus.
type Manager struct {
	docs  *docstore.Store
	cache *cache.Manager
	bus   *eventbus.Bus
}

// New builds a flow manager over its three collaborators.
func New(docs *docstore.Store, c *cache.Manager, bus *eventbus.Bus) *Manager {
	return &Manager{docs: docs, cache: c, bus: bus}
}

// CreateParams are the arguments to CreateFlow.
type CreateParams struct {
	ProjectID   string
	WorkspaceID string
	UserID      string
	Template    string
	Name        string
	Description string
}

// CreateFlow builds a document from a named template, validates it,
// inserts it into the document store, records version 1.0.0, and
// populates the cache.
func (m *Manager) CreateFlow(ctx context.Context, p CreateParams) (*Document, error) {
	nodes, edges, frames, err := buildTemplate(p.Template)
	if err != nil {
		return nil, apierr.Wrap(apierr.ValidationError, "unknown flow template", err)
	}

	now := time.Now().UTC()
	doc := &Document{
		ID: uuid.NewString(),
		Metadata: Metadata{
			Name:           p.Name,
			Description:    p.Description,
			Version:        "1.0.0",
			OwnerID:        p.UserID,
			WorkspaceID:    p.WorkspaceID,
			ProjectID:      p.ProjectID,
			Status:         StatusActive,
			CreatedAt:      now,
			UpdatedAt:      now,
			LastModifiedBy: p.UserID,
		},
		Nodes:  nodes,
		Edges:  edges,
		Frames: frames,
	}

	a := newArena(doc)
	if err := validate(a); err != nil {
		return nil, apierr.Wrap(apierr.ValidationError, "template produced an invalid flow", err)
	}
	recomputeFrameContainment(doc)

	rev, err := m.docs.Put(ctx, docstore.CollectionFlows, doc.ID, doc)
	if err != nil {
		return nil, err
	}
	doc.Rev = rev

	if err := m.writeVersionSnapshot(ctx, doc, p.UserID); err != nil {
		return nil, err
	}

	_ = m.cache.Set(ctx, cache.Flows, doc.ID, doc, 0)

	return doc, nil
}

// GetFilters optionally scopes access to a flow.
type GetFilters struct {
	ProjectID   string
	WorkspaceID string
}

// GetFlow reads a flow cache-first, falling back to the document store on
// a miss and repopulating the cache. Returns NOT_FOUND if absent,
// logically deleted, or outside the supplied scope.
func (m *Manager) GetFlow(ctx context.Context, flowID string, filters GetFilters) (*Document, error) {
	var doc Document
	err := m.cache.Get(ctx, cache.Flows, flowID, &doc)
	if err != nil {
		if err := m.docs.Get(ctx, docstore.CollectionFlows, flowID, &doc); err != nil {
			return nil, err
		}
		_ = m.cache.Set(ctx, cache.Flows, flowID, &doc, 0)
	}

	if doc.Metadata.Status == StatusDeleted {
		return nil, apierr.New(apierr.NotFound, "flow not found")
	}
	if filters.ProjectID != "" && doc.Metadata.ProjectID != filters.ProjectID {
		return nil, apierr.New(apierr.NotFound, "flow not found")
	}
	if filters.WorkspaceID != "" && doc.Metadata.WorkspaceID != filters.WorkspaceID {
		return nil, apierr.New(apierr.NotFound, "flow not found")
	}
	return &doc, nil
}

// UpdateResult is what UpdateFlow returns on success.
type UpdateResult struct {
	Document *Document
	Changes  []Transaction
}

// UpdateFlow loads the current document (cache ok), deep-clones it,
// applies the batch in order, validates invariants, bumps the patch
// version, replaces the document atomically, appends a version
// snapshot, invalidates dependent cache categories, and publishes
// flow:update:<flowId>. Failure during apply or validate aborts without
// writing; the document store is never touched.
func (m *Manager) UpdateFlow(ctx context.Context, flowID string, txns []Transaction, userID string) (*UpdateResult, error) {
	current, err := m.GetFlow(ctx, flowID, GetFilters{})
	if err != nil {
		return nil, err
	}

	clone := cloneDocument(current)
	a := newArena(clone)

	if err := applyBatch(a, txns); err != nil {
		return nil, err
	}
	if err := validate(a); err != nil {
		return nil, apierr.Wrap(apierr.ValidationError, "resulting flow violates an invariant", err)
	}
	recomputeFrameContainment(clone)

	clone.Metadata.LastModifiedBy = userID
	clone.Metadata.UpdatedAt = time.Now().UTC()
	clone.Metadata.Version = bumpPatch(clone.Metadata.Version)
	clone.Rev = current.Rev

	rev, err := m.docs.Put(ctx, docstore.CollectionFlows, flowID, clone)
	if err != nil {
		return nil, err
	}
	clone.Rev = rev

	if err := m.writeVersionSnapshot(ctx, clone, userID); err != nil {
		return nil, err
	}

	_ = m.cache.InvalidateDependent(ctx, cache.Flows, flowID, nil)
	_ = m.cache.Set(ctx, cache.Flows, flowID, clone, 0)

	if err := m.bus.Publish(ctx, eventbus.TopicFlowUpdate(flowID), map[string]interface{}{
		"flowId":  flowID,
		"userId":  userID,
		"changes": txns,
	}); err != nil {
		// Publication failure never rolls back a committed write; the
		// change is durable even if this particular fan-out was lost.
	}

	return &UpdateResult{Document: clone, Changes: txns}, nil
}

// DeleteFlow soft-deletes a flow: sets status=deleted, stamps timestamps,
// and invalidates the cache. Versions are retained for audit.
func (m *Manager) DeleteFlow(ctx context.Context, flowID, userID string) error {
	var doc Document
	if err := m.docs.Get(ctx, docstore.CollectionFlows, flowID, &doc); err != nil {
		return err
	}

	doc.Metadata.Status = StatusDeleted
	doc.Metadata.UpdatedAt = time.Now().UTC()
	doc.Metadata.LastModifiedBy = userID

	if _, err := m.docs.Put(ctx, docstore.CollectionFlows, flowID, &doc); err != nil {
		return err
	}

	_ = m.cache.InvalidateDependent(ctx, cache.Flows, flowID, nil)
	return nil
}

func (m *Manager) writeVersionSnapshot(ctx context.Context, doc *Document, userID string) error {
	snap := VersionSnapshot{
		ID:        fmt.Sprintf("%s:%s", doc.ID, doc.Metadata.Version),
		FlowID:    doc.ID,
		Version:   doc.Metadata.Version,
		Document:  *doc,
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
	}
	_, err := m.docs.Put(ctx, docstore.CollectionFlowVersions, snap.ID, snap)
	return err
}

// cloneDocument deep-copies doc via JSON round trip — simple, correct for
// a pure-data document, and avoids hand-written copy code going stale as
// fields are added.
func cloneDocument(doc *Document) *Document {
	data, err := json.Marshal(doc)
	if err != nil {
		panic(fmt.Sprintf("flow: document failed to marshal for clone: %v", err))
	}
	var clone Document
	if err := json.Unmarshal(data, &clone); err != nil {
		panic(fmt.Sprintf("flow: document failed to unmarshal for clone: %v", err))
	}
	return &clone
}

// bumpPatch increments the patch component of a MAJOR.MINOR.PATCH
// version string (I5).
func bumpPatch(version string) string {
	parts := strings.SplitN(version, ".", 3)
	if len(parts) != 3 {
		return "1.0.1"
	}
	patch, err := strconv.Atoi(parts[2])
	if err != nil {
		patch = 0
	}
	return fmt.Sprintf("%s.%s.%d", parts[0], parts[1], patch+1)
}
