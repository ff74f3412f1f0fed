package offlinesync

import "context"

// SignalSource reports platform connectivity transitions until ctx ends.
type SignalSource interface {
	Run(ctx context.Context, report func(online bool)) error
}

func (e *Engine) Online() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.online
}

// SetOnline records a connectivity signal. An offline to online transition
// dispatches a sync in the background; going offline never interrupts a
// drain that is already running.
func (e *Engine) SetOnline(online bool) {
	e.mu.Lock()
	was := e.online
	e.online = online
	closed := e.closed
	if !closed && online && !was {
		e.wg.Add(1)
	}
	e.publishLocked()
	e.mu.Unlock()

	if was == online {
		return
	}
	if !online {
		e.logf("connectivity lost; mutations will be queued")
		return
	}
	if closed {
		return
	}
	e.logf("connectivity restored; dispatching sync")
	go func() {
		defer e.wg.Done()
		e.Dispatch(e.baseCtx)
	}()
}

// Watch feeds a connectivity source into the engine.
func (e *Engine) Watch(ctx context.Context, source SignalSource) error {
	return source.Run(ctx, e.SetOnline)
}
