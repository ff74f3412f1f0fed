package offlinesync

import (
	"context"
	"time"
)

type DrainReport struct {
	Skipped   bool           `json:"skipped,omitempty"`
	Attempted int            `json:"attempted"`
	Replayed  int            `json:"replayed"`
	Remaining int            `json:"remaining"`
	Failure   *ReplayFailure `json:"failure,omitempty"`
	// LoadFailed or RemoveFailed mean the store, not the network, stopped the drain.
	LoadFailed   bool `json:"loadFailed,omitempty"`
	RemoveFailed bool `json:"removeFailed,omitempty"`
}

// Drain replays queued mutations in ascending id order and stops at the
// first failure, leaving that record and everything after it queued. Only
// one drain runs at a time per engine.
func (e *Engine) Drain(ctx context.Context) DrainReport {
	if !e.syncing.CompareAndSwap(false, true) {
		return DrainReport{Skipped: true}
	}
	e.publish()
	defer func() {
		e.syncing.Store(false)
		e.refreshPending(context.WithoutCancel(ctx))
	}()

	if e.lock != nil {
		release, acquired, err := e.lock.TryAcquire()
		if err != nil {
			e.warnf("drain lock unavailable; skipping drain: %v", err)
			return DrainReport{Skipped: true}
		}
		if !acquired {
			e.logf("another instance is draining the queue; skipping")
			return DrainReport{Skipped: true}
		}
		defer release()
	}

	records, err := e.store.Load(ctx)
	if err != nil {
		e.warnf("%v: load pending mutations: %v", ErrPersistence, err)
		return DrainReport{LoadFailed: true}
	}

	report := DrainReport{}
	for i, record := range records {
		report.Attempted++
		started := time.Now()
		_, err := e.send(ctx, Request{
			URL:     record.URL,
			Method:  record.Method,
			Headers: record.Headers,
			Body:    record.Body,
		})
		if e.metrics != nil {
			e.metrics.ObserveReplay(err == nil, time.Since(started))
		}
		if err != nil {
			report.Failure = newReplayFailure(record.ID, err)
			report.Remaining = len(records) - i
			if report.Failure.StaleCredential {
				e.warnf("replay of mutation %d rejected credentials (status %d); it stays queued until cleared", record.ID, report.Failure.StatusCode)
			} else {
				e.warnf("replay of mutation %d failed; %d mutations remain queued: %v", record.ID, report.Remaining, err)
			}
			return report
		}
		if err := e.store.Remove(ctx, record.ID); err != nil {
			// The request went out but the record stays; the next drain
			// replays it again.
			e.warnf("%v: remove replayed mutation %d: %v", ErrPersistence, record.ID, err)
			report.RemoveFailed = true
			report.Remaining = len(records) - i
			return report
		}
		report.Replayed++
		e.refreshPending(context.WithoutCancel(ctx))
	}
	if report.Replayed > 0 {
		e.logf("sync drained %d queued mutations", report.Replayed)
	}
	return report
}
