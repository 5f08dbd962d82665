package service

import (
	"context"

	checkpointdomain "github.com/Phillboard/mobul-sub000/internal/checkpoint/domain"
)

// Trace is the per-request step recorder threaded through one provision
// attempt. It pins the request id so the engine cannot checkpoint against
// the wrong request, and it keeps checkpoint writes fire-and-forget.
type Trace struct {
	requestID   string
	checkpoints checkpointdomain.Service
}

func NewTrace(requestID string, checkpoints checkpointdomain.Service) *Trace {
	return &Trace{requestID: requestID, checkpoints: checkpoints}
}

func (t *Trace) RequestID() string {
	return t.requestID
}

func (t *Trace) Started(ctx context.Context, step string) {
	t.checkpoints.Append(ctx, t.requestID, step, checkpointdomain.StatusStarted, "", nil)
}

func (t *Trace) Completed(ctx context.Context, step string, detail map[string]any) {
	t.checkpoints.Append(ctx, t.requestID, step, checkpointdomain.StatusCompleted, "", detail)
}

func (t *Trace) Failed(ctx context.Context, step, errorCode string, detail map[string]any) {
	t.checkpoints.Append(ctx, t.requestID, step, checkpointdomain.StatusFailed, errorCode, detail)
}
