package offlinesync

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentworkforce/fieldsync/internal/mutationqueue"
)

const DefaultSyncTag = "mutation-sync"

type Logger interface {
	Printf(format string, args ...any)
}

// Metrics receives engine observations. internal/metrics provides the
// Prometheus implementation.
type Metrics interface {
	ObserveState(state State)
	ObserveReplay(success bool, elapsed time.Duration)
	ObserveEnqueue()
	ObserveDispatch(outcome DispatchOutcome)
}

// DrainLock serializes drains across processes that share one store.
type DrainLock interface {
	TryAcquire() (release func(), acquired bool, err error)
}

type Options struct {
	Store         mutationqueue.Store
	Transport     Transport
	Now           func() time.Time
	Logger        Logger
	Background    BackgroundFacility
	Lock          DrainLock
	Metrics       Metrics
	InitialOnline bool
	SyncTag       string
}

// State is the observable engine state surfaced to banners and badges.
type State struct {
	Online  bool `json:"online"`
	Syncing bool `json:"syncing"`
	Pending int  `json:"pending"`
}

type Engine struct {
	store      mutationqueue.Store
	transport  Transport
	now        func() time.Time
	logger     Logger
	background BackgroundFacility
	lock       DrainLock
	metrics    Metrics
	syncTag    string

	syncing atomic.Bool

	mu          sync.Mutex
	online      bool
	pending     int
	closed      bool
	subscribers map[int]chan State
	nextSubID   int

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	if opts.Transport == nil {
		return nil, errors.New("transport is required")
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	syncTag := strings.TrimSpace(opts.SyncTag)
	if syncTag == "" {
		syncTag = DefaultSyncTag
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		store:       opts.Store,
		transport:   opts.Transport,
		now:         now,
		logger:      opts.Logger,
		background:  opts.Background,
		lock:        opts.Lock,
		metrics:     opts.Metrics,
		syncTag:     syncTag,
		online:      opts.InitialOnline,
		subscribers: map[int]chan State{},
		baseCtx:     baseCtx,
		cancel:      cancel,
	}
	e.refreshPending(context.Background())
	return e, nil
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stateLocked()
}

func (e *Engine) stateLocked() State {
	return State{
		Online:  e.online,
		Syncing: e.syncing.Load(),
		Pending: e.pending,
	}
}

// Subscribe returns a channel that always holds the latest state. Slow
// readers skip intermediate states rather than blocking the engine.
func (e *Engine) Subscribe() (<-chan State, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch := make(chan State, 1)
	if e.closed {
		close(ch)
		return ch, func() {}
	}
	id := e.nextSubID
	e.nextSubID++
	e.subscribers[id] = ch
	ch <- e.stateLocked()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			if sub, ok := e.subscribers[id]; ok {
				delete(e.subscribers, id)
				close(sub)
			}
		})
	}
}

func (e *Engine) publish() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.publishLocked()
}

func (e *Engine) publishLocked() {
	state := e.stateLocked()
	if e.metrics != nil {
		e.metrics.ObserveState(state)
	}
	for _, ch := range e.subscribers {
		select {
		case ch <- state:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- state:
		default:
		}
	}
}

func (e *Engine) refreshPending(ctx context.Context) {
	n, err := e.store.Len(ctx)
	if err != nil {
		e.warnf("persistence failure reading queue length: %v", err)
		e.publish()
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = n
	e.publishLocked()
}

// Refresh re-reads the pending count from the store. Another process that
// shares the store may have drained or appended since the last change.
func (e *Engine) Refresh(ctx context.Context) State {
	e.refreshPending(ctx)
	return e.State()
}

// Pending returns the queued records in replay order.
func (e *Engine) Pending(ctx context.Context) ([]mutationqueue.QueuedMutation, error) {
	return e.store.Load(ctx)
}

// Clear drops every queued record. It is the escape hatch for a record that
// blocks the head of the queue.
func (e *Engine) Clear(ctx context.Context) error {
	err := e.store.Clear(ctx)
	if err != nil {
		e.warnf("persistence failure clearing queue: %v", err)
	} else {
		e.logf("pending mutation queue cleared")
	}
	e.refreshPending(context.WithoutCancel(ctx))
	return err
}

// Wait blocks until reconnect-triggered dispatches have finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()

	e.mu.Lock()
	for id, ch := range e.subscribers {
		delete(e.subscribers, id)
		close(ch)
	}
	e.mu.Unlock()
	return nil
}

func (e *Engine) logf(format string, args ...any) {
	if e.logger == nil {
		return
	}
	e.logger.Printf(format, args...)
}

// warner is implemented by loggers that keep failures apart from progress.
type warner interface {
	Warnf(format string, args ...any)
}

func (e *Engine) warnf(format string, args ...any) {
	if w, ok := e.logger.(warner); ok {
		w.Warnf(format, args...)
		return
	}
	e.logf(format, args...)
}
