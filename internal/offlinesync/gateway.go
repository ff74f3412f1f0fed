package offlinesync

import (
	"context"

	"github.com/agentworkforce/fieldsync/internal/mutationqueue"
)

// Result is what the gateway hands back to application code. Queued marks
// a soft success: the mutation was stored for replay instead of failing.
type Result struct {
	Data   []byte `json:"data"`
	Status int    `json:"status,omitempty"`
	Queued bool   `json:"queued"`
	Error  string `json:"error,omitempty"`
}

// Issue is the single entry point for application requests. Reads are sent
// directly and never queued. A mutation that fails while offline is queued;
// one that fails while online is reported as a failure.
func (e *Engine) Issue(ctx context.Context, req Request) Result {
	resp, err := e.send(ctx, req)
	if err == nil {
		return Result{Data: resp.Body, Status: resp.StatusCode}
	}
	if !mutationqueue.IsMutatingMethod(req.Method) {
		return Result{Status: statusOf(err), Error: RequestFailedMessage}
	}
	if e.Online() {
		e.warnf("%s %s failed while online: %v", req.Method, req.URL, err)
		return Result{Status: statusOf(err), Error: RequestFailedMessage}
	}

	// The caller's context may already be done if the request timed out.
	id, appendErr := e.store.Append(context.WithoutCancel(ctx), mutationqueue.QueuedMutation{
		URL:       req.URL,
		Method:    req.Method,
		Headers:   req.Headers,
		Body:      req.Body,
		Timestamp: e.now(),
	})
	if appendErr != nil {
		e.warnf("%v: could not queue %s %s; request is lost: %v", ErrPersistence, req.Method, req.URL, appendErr)
		return Result{Error: RequestFailedMessage}
	}
	if e.metrics != nil {
		e.metrics.ObserveEnqueue()
	}
	e.logf("offline: queued %s %s as mutation %d", req.Method, req.URL, id)
	e.refreshPending(context.WithoutCancel(ctx))
	return Result{Queued: true}
}
