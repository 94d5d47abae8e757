package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/evalgo/flowcollab/internal/apierr"
	"github.com/evalgo/flowcollab/internal/collab"
)

// dispatch routes one decoded client frame to its handler. Handler
// errors are caught here, logged with the connection id, and reported to
// the client as a structured error frame — they never abort the
// connection (per the error handling design, a bad message is the
// client's problem, not a reason to drop them).
func (g *Gateway) dispatch(ctx context.Context, sess *Session, frame clientFrame) {
	defer func() {
		if r := recover(); r != nil {
			g.logger("gateway: panic handling %s from conn=%s: %v", frame.Type, sess.ConnectionID, r)
			sess.enqueue(errFrame(apierr.ProcessingError, "internal error handling message"))
		}
	}()

	var err error
	switch frame.Type {
	case EventJoinProject:
		err = g.handleJoinProject(ctx, sess, frame.Payload)
	case EventLeaveProject:
		err = g.handleLeaveProject(ctx, sess, frame.Payload)
	case EventCursorPosition:
		err = g.handleCursorPosition(ctx, sess, frame.Payload)
	case EventSelectionUpdate:
		err = g.handleSelectionUpdate(ctx, sess, frame.Payload)
	case EventFlowOperation:
		err = g.handleFlowOperation(ctx, sess, frame.Payload)
	case EventUserMessage:
		err = g.handleUserMessage(ctx, sess, frame.Payload)
	case EventPlanApproved:
		err = g.handlePlanApproved(ctx, sess, frame.Payload)
	case EventImageUpload:
		err = g.handleImageUpload(ctx, sess, frame.Payload)
	default:
		err = apierr.Newf(apierr.ValidationError, "unknown event type %q", frame.Type)
	}

	if err != nil {
		code := apierr.CodeOf(err)
		g.logger("gateway: conn=%s event=%s failed: %v", sess.ConnectionID, frame.Type, err)
		sess.enqueue(errFrame(code, err.Error()))
	}
}

func errFrame(code apierr.Code, message string) Envelope {
	return Envelope{Type: EventError, Timestamp: time.Now().UTC(), Payload: map[string]interface{}{
		"type": string(code), "message": message,
	}}
}

type joinLeavePayload struct {
	FlowID string `json:"flowId"`
}

func (g *Gateway) handleJoinProject(ctx context.Context, sess *Session, raw json.RawMessage) error {
	var p joinLeavePayload
	if err := json.Unmarshal(raw, &p); err != nil || p.FlowID == "" {
		return apierr.New(apierr.ValidationError, "join_project requires flowId")
	}

	roster, cursors, err := g.coord.JoinProject(ctx, p.FlowID, sess.UserID, sess.ConnectionID)
	if err != nil {
		return err
	}

	users := make([]map[string]string, 0, len(roster))
	for _, m := range roster {
		users = append(users, map[string]string{"userId": m.UserID, "connectionId": m.ConnectionID})
	}
	sess.enqueue(Envelope{Type: EventJoinedProject, Timestamp: time.Now().UTC(), Payload: map[string]interface{}{
		"flowId": p.FlowID, "users": users, "cursors": cursors,
	}})
	return nil
}

func (g *Gateway) handleLeaveProject(ctx context.Context, sess *Session, raw json.RawMessage) error {
	var p joinLeavePayload
	if err := json.Unmarshal(raw, &p); err != nil || p.FlowID == "" {
		return apierr.New(apierr.ValidationError, "leave_project requires flowId")
	}
	return g.coord.LeaveProject(ctx, p.FlowID, sess.UserID, sess.ConnectionID)
}

type cursorPayload struct {
	FlowID   string           `json:"flowId"`
	Position collab.Position `json:"position"`
}

func (g *Gateway) handleCursorPosition(ctx context.Context, sess *Session, raw json.RawMessage) error {
	var p cursorPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.FlowID == "" {
		return apierr.New(apierr.ValidationError, "cursor_position requires flowId and position")
	}
	g.coord.CursorPosition(ctx, p.FlowID, sess.UserID, sess.ConnectionID, p.Position)
	return nil
}

type selectionPayload struct {
	FlowID    string      `json:"flowId"`
	Selection interface{} `json:"selection"`
}

func (g *Gateway) handleSelectionUpdate(ctx context.Context, sess *Session, raw json.RawMessage) error {
	var p selectionPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.FlowID == "" {
		return apierr.New(apierr.ValidationError, "selection_update requires flowId")
	}
	g.coord.SelectionUpdate(ctx, p.FlowID, sess.UserID, sess.ConnectionID, p.Selection)
	return nil
}

type flowOperationPayload struct {
	FlowID    string              `json:"flowId"`
	Operation *collab.Operation   `json:"operation,omitempty"`
	Batch     []collab.Operation  `json:"batch,omitempty"`
}

func (g *Gateway) handleFlowOperation(ctx context.Context, sess *Session, raw json.RawMessage) error {
	var p flowOperationPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.FlowID == "" {
		return apierr.New(apierr.ValidationError, "flow_operation requires flowId and operation or batch")
	}

	var ops []collab.Operation
	if p.Operation != nil {
		ops = append(ops, *p.Operation)
	}
	ops = append(ops, p.Batch...)
	if len(ops) == 0 {
		return apierr.New(apierr.ValidationError, "flow_operation requires operation or batch")
	}

	return g.coord.FlowOperation(ctx, p.FlowID, sess.UserID, sess.ConnectionID, ops)
}

type userMessagePayload struct {
	ProjectID string                 `json:"projectId"`
	Message   string                 `json:"message"`
	Context   map[string]interface{} `json:"context,omitempty"`
}

func (g *Gateway) handleUserMessage(ctx context.Context, sess *Session, raw json.RawMessage) error {
	var p userMessagePayload
	if err := json.Unmarshal(raw, &p); err != nil || p.ProjectID == "" || p.Message == "" {
		return apierr.New(apierr.ValidationError, "USER_MESSAGE_RECEIVED requires projectId and message")
	}
	ack, err := g.coord.UserMessageReceived(ctx, p.ProjectID, sess.UserID, sess.ConnectionID, p.Message, p.Context)
	if err != nil {
		return err
	}
	sess.enqueue(Envelope{Type: EventMessageAcknowledged, Timestamp: time.Now().UTC(), Payload: ack})
	return nil
}

type planApprovedPayload struct {
	ProjectID     string                 `json:"projectId"`
	PlanID        string                 `json:"planId"`
	FlowStructure map[string]interface{} `json:"flowStructure,omitempty"`
	Modifications map[string]interface{} `json:"modifications,omitempty"`
}

func (g *Gateway) handlePlanApproved(ctx context.Context, sess *Session, raw json.RawMessage) error {
	var p planApprovedPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.ProjectID == "" || p.PlanID == "" {
		return apierr.New(apierr.ValidationError, "USER_PLAN_APPROVED requires projectId and planId")
	}
	ack, err := g.coord.PlanApproved(ctx, p.ProjectID, sess.UserID, sess.ConnectionID, p.PlanID, p.FlowStructure, p.Modifications)
	if err != nil {
		return err
	}
	sess.enqueue(Envelope{Type: EventPlanApprovalAck, Timestamp: time.Now().UTC(), Payload: ack})
	return nil
}

type imageUploadPayload struct {
	ProjectID string `json:"projectId"`
	ImageData string `json:"imageData"`
	MimeType  string `json:"mimeType,omitempty"`
	Purpose   string `json:"purpose,omitempty"`
}

func (g *Gateway) handleImageUpload(ctx context.Context, sess *Session, raw json.RawMessage) error {
	var p imageUploadPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.ProjectID == "" || p.ImageData == "" {
		return apierr.New(apierr.ValidationError, "IMAGE_UPLOAD_RECEIVED requires projectId and imageData")
	}
	ack, err := g.coord.ImageUploadReceived(ctx, p.ProjectID, sess.UserID, sess.ConnectionID, p.ImageData, p.MimeType, p.Purpose)
	if err != nil {
		return err
	}
	sess.enqueue(Envelope{Type: EventImageUploadAck, Timestamp: time.Now().UTC(), Payload: ack})
	return nil
}
