package gateway

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalgo/flowcollab/internal/apierr"
)

func newTestSession() *Session {
	return &Session{ConnectionID: "c1", UserID: "u1", Tier: "free", send: make(chan Envelope, 8)}
}

func raw(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

// Every handler validates its payload before ever touching the
// coordinator, so a nil coordinator is sufficient to exercise the
// rejection path.
func TestHandlers_RejectMissingRequiredFields(t *testing.T) {
	g := &Gateway{}
	ctx := context.Background()
	sess := newTestSession()

	cases := []struct {
		name string
		run  func() error
	}{
		{"join_project missing flowId", func() error {
			return g.handleJoinProject(ctx, sess, raw(t, map[string]interface{}{}))
		}},
		{"leave_project missing flowId", func() error {
			return g.handleLeaveProject(ctx, sess, raw(t, map[string]interface{}{}))
		}},
		{"cursor_position missing flowId", func() error {
			return g.handleCursorPosition(ctx, sess, raw(t, map[string]interface{}{"position": map[string]float64{"x": 1, "y": 2}}))
		}},
		{"selection_update missing flowId", func() error {
			return g.handleSelectionUpdate(ctx, sess, raw(t, map[string]interface{}{}))
		}},
		{"flow_operation missing operation and batch", func() error {
			return g.handleFlowOperation(ctx, sess, raw(t, map[string]interface{}{"flowId": "f1"}))
		}},
		{"USER_MESSAGE_RECEIVED missing message", func() error {
			return g.handleUserMessage(ctx, sess, raw(t, map[string]interface{}{"projectId": "p1"}))
		}},
		{"USER_PLAN_APPROVED missing planId", func() error {
			return g.handlePlanApproved(ctx, sess, raw(t, map[string]interface{}{"projectId": "p1"}))
		}},
		{"IMAGE_UPLOAD_RECEIVED missing imageData", func() error {
			return g.handleImageUpload(ctx, sess, raw(t, map[string]interface{}{"projectId": "p1"}))
		}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.run()
			require.Error(t, err)
			assert.Equal(t, apierr.ValidationError, apierr.CodeOf(err))
		})
	}
}

// A malformed (non-JSON-object) payload is also a validation error, not a
// panic.
func TestHandlers_RejectMalformedPayload(t *testing.T) {
	g := &Gateway{}
	sess := newTestSession()
	err := g.handleJoinProject(context.Background(), sess, json.RawMessage(`not-json`))
	require.Error(t, err)
	assert.Equal(t, apierr.ValidationError, apierr.CodeOf(err))
}

// An unknown event type is routed to a validation error rather than
// silently dropped, and the connection survives (dispatch never panics
// on an unrecognized frame).
func TestDispatch_UnknownEventTypeProducesErrorFrame(t *testing.T) {
	g := &Gateway{logger: func(string, ...interface{}) {}}
	sess := newTestSession()

	g.dispatch(context.Background(), sess, clientFrame{Type: "not_a_real_event"})

	select {
	case env := <-sess.send:
		assert.Equal(t, EventError, env.Type)
		payload, ok := env.Payload.(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, string(apierr.ValidationError), payload["type"])
	default:
		t.Fatal("expected an error frame to be enqueued")
	}
}

// A handler panic is recovered and surfaced as PROCESSING_ERROR instead
// of crashing the connection's goroutine.
func TestDispatch_RecoversHandlerPanic(t *testing.T) {
	g := &Gateway{logger: func(string, ...interface{}) {}}
	sess := newTestSession()

	// cursor_position payload with a position field of the wrong shape
	// does not itself panic (json.Unmarshal just errors), so drive the
	// panic path directly through a type assertion no handler performs
	// incorrectly in production: simulate by calling dispatch with a
	// join_project frame whose g.coord is nil, which panics inside
	// handleJoinProject's call to g.coord.JoinProject.
	g.dispatch(context.Background(), sess, clientFrame{
		Type:    EventJoinProject,
		Payload: raw(t, map[string]interface{}{"flowId": "f1"}),
	})

	select {
	case env := <-sess.send:
		assert.Equal(t, EventError, env.Type)
		payload, ok := env.Payload.(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, string(apierr.ProcessingError), payload["type"])
	default:
		t.Fatal("expected a PROCESSING_ERROR frame from the recovered panic")
	}
}

func TestErrFrame(t *testing.T) {
	env := errFrame(apierr.RateLimit, "too fast")
	assert.Equal(t, EventError, env.Type)
	payload, ok := env.Payload.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, string(apierr.RateLimit), payload["type"])
	assert.Equal(t, "too fast", payload["message"])
}
