package collab

import (
	"context"
	"fmt"

	"github.com/evalgo/flowcollab/internal/kv"
)

// presence stores short-lived cursor snapshots in the KV store, one key
// per (flowId, userId), expiring after cursorTTL — a member who goes
// silent simply ages out of the snapshot, no explicit cleanup needed.
type presence struct {
	store *kv.Store
}

func newPresence(store *kv.Store) *presence {
	return &presence{store: store}
}

func cursorKey(flowID, userID string) string {
	return fmt.Sprintf("cursor:%s:%s", flowID, userID)
}

func (p *presence) setCursor(ctx context.Context, flowID, userID string, pos Position) error {
	return p.store.Set(ctx, cursorKey(flowID, userID), pos, cursorTTL)
}

func (p *presence) deleteCursor(ctx context.Context, flowID, userID string) error {
	_, err := p.store.Delete(ctx, cursorKey(flowID, userID))
	return err
}

// snapshot returns the last known cursor for each given member, skipping
// anyone whose entry has expired or was never set.
func (p *presence) snapshot(ctx context.Context, flowID string, members []Member) map[string]Position {
	out := make(map[string]Position)
	for _, m := range members {
		var pos Position
		if err := p.store.Get(ctx, cursorKey(flowID, m.UserID), &pos); err == nil {
			out[m.UserID] = pos
		}
	}
	return out
}
