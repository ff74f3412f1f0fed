// Package connectivity turns platform reachability signals into online and
// offline reports for the sync engine.
package connectivity

import (
	"context"
	"sync"
	"time"
)

type Logger interface {
	Printf(format string, args ...any)
}

// changeReporter forwards only transitions, plus the first observation.
type changeReporter struct {
	mu     sync.Mutex
	report func(bool)
	known  bool
	last   bool
}

func newChangeReporter(report func(bool)) *changeReporter {
	return &changeReporter{report: report}
}

func (r *changeReporter) set(online bool) {
	r.mu.Lock()
	if r.known && r.last == online {
		r.mu.Unlock()
		return
	}
	r.known = true
	r.last = online
	r.mu.Unlock()
	r.report(online)
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func logf(logger Logger, format string, args ...any) {
	if logger == nil {
		return
	}
	logger.Printf(format, args...)
}

func warnf(logger Logger, format string, args ...any) {
	if w, ok := logger.(interface{ Warnf(string, ...any) }); ok {
		w.Warnf(format, args...)
		return
	}
	logf(logger, format, args...)
}
