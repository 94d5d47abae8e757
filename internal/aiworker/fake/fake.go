// Package fake is an in-memory AIWorker used only by integration tests
// that need something listening on ai:request:* without standing up the
// real external worker.
package fake

import (
	"fmt"

	"github.com/evalgo/flowcollab/internal/aiworker"
)

// Worker echoes a canned response for every request kind, sufficient to
// exercise the request/response plumbing without any real model call.
type Worker struct{}

// New returns a ready-to-use fake worker.
func New() *Worker { return &Worker{} }

// Handle implements aiworker.Worker.
func (w *Worker) Handle(req aiworker.Request) (aiworker.Response, error) {
	resp := aiworker.Response{
		RequestID:    req.RequestID,
		ConnectionID: req.ConnectionID,
		ProjectID:    req.ProjectID,
	}
	switch req.Kind {
	case aiworker.UserMessage:
		resp.Type = "chat"
		resp.Content = fmt.Sprintf("received: %s", req.Message)
	case aiworker.PlanApproved:
		resp.Type = "plan_executed"
		resp.Content = fmt.Sprintf("plan %s executed", req.PlanID)
	case aiworker.ImageUpload:
		resp.Type = "image_analyzed"
		resp.Content = "no findings"
	default:
		resp.Type = "unknown"
	}
	return resp, nil
}
