package offlinesync

import "context"

// BackgroundFacility is an optional platform mechanism that runs a drain
// outside the current process lifetime.
type BackgroundFacility interface {
	Supported() bool
	RegisterIntent(ctx context.Context, tag string) error
}

type DispatchOutcome string

const (
	DispatchOffline  DispatchOutcome = "offline"
	DispatchBusy     DispatchOutcome = "busy"
	DispatchDeferred DispatchOutcome = "deferred"
	DispatchDrained  DispatchOutcome = "drained"
)

type DispatchResult struct {
	Outcome DispatchOutcome `json:"outcome"`
	Report  *DrainReport    `json:"report,omitempty"`
}

// Dispatch triggers a drain unless the engine is offline or already syncing.
// When a background facility is available the drain is handed to it;
// otherwise it runs in-process and Dispatch waits for it.
func (e *Engine) Dispatch(ctx context.Context) DispatchResult {
	result := e.dispatch(ctx)
	if e.metrics != nil {
		e.metrics.ObserveDispatch(result.Outcome)
	}
	return result
}

func (e *Engine) dispatch(ctx context.Context) DispatchResult {
	if !e.Online() {
		return DispatchResult{Outcome: DispatchOffline}
	}
	if e.syncing.Load() {
		return DispatchResult{Outcome: DispatchBusy}
	}
	if e.background != nil && e.background.Supported() {
		err := e.background.RegisterIntent(ctx, e.syncTag)
		if err == nil {
			e.logf("sync intent %q registered with background facility", e.syncTag)
			return DispatchResult{Outcome: DispatchDeferred}
		}
		e.warnf("background sync registration failed; draining in-process: %v", err)
	}
	report := e.Drain(ctx)
	if report.Skipped {
		return DispatchResult{Outcome: DispatchBusy, Report: &report}
	}
	return DispatchResult{Outcome: DispatchDrained, Report: &report}
}
