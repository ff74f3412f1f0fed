package offlinesync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentworkforce/fieldsync/internal/mutationqueue"
)

var errNetworkDown = errors.New("dial tcp: network is unreachable")

// fakeNetwork answers requests while up and fails them while down. A
// per-call hook can override the answer.
type fakeNetwork struct {
	up   atomic.Bool
	mu   sync.Mutex
	seen []Request
	hook func(call int, req Request) (Response, error)
}

func (n *fakeNetwork) Do(ctx context.Context, req Request) (Response, error) {
	n.mu.Lock()
	call := len(n.seen)
	n.seen = append(n.seen, req)
	hook := n.hook
	n.mu.Unlock()
	if hook != nil {
		return hook(call, req)
	}
	if !n.up.Load() {
		return Response{}, errNetworkDown
	}
	return Response{StatusCode: 200, Body: []byte(`{"ok":true}`)}, nil
}

func (n *fakeNetwork) calls() []Request {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Request(nil), n.seen...)
}

type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) Printf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf(format, args...))
}

// leveledLogger records failures apart from progress.
type leveledLogger struct {
	recordingLogger
	warnings []string
}

func (l *leveledLogger) Warnf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warnings = append(l.warnings, fmt.Sprintf(format, args...))
}

func (l *recordingLogger) contains(fragment string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range l.lines {
		if strings.Contains(strings.ToLower(line), strings.ToLower(fragment)) {
			return true
		}
	}
	return false
}

// brokenStore wraps a store and fails selected operations.
type brokenStore struct {
	mutationqueue.Store
	appendErr error
	loadErr   error
	removeErr error
}

func (s *brokenStore) Append(ctx context.Context, record mutationqueue.QueuedMutation) (int64, error) {
	if s.appendErr != nil {
		return 0, s.appendErr
	}
	return s.Store.Append(ctx, record)
}

func (s *brokenStore) Load(ctx context.Context) ([]mutationqueue.QueuedMutation, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return s.Store.Load(ctx)
}

func (s *brokenStore) Remove(ctx context.Context, id int64) error {
	if s.removeErr != nil {
		return s.removeErr
	}
	return s.Store.Remove(ctx, id)
}

type fakeFacility struct {
	supported bool
	err       error
	mu        sync.Mutex
	tags      []string
}

func (f *fakeFacility) Supported() bool { return f.supported }

func (f *fakeFacility) RegisterIntent(ctx context.Context, tag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tags = append(f.tags, tag)
	return f.err
}

type fakeLock struct {
	held     bool
	err      error
	releases int
}

func (l *fakeLock) TryAcquire() (func(), bool, error) {
	if l.err != nil {
		return nil, false, l.err
	}
	if l.held {
		return nil, false, nil
	}
	return func() { l.releases++ }, true, nil
}

var fixedNow = time.Date(2024, 3, 5, 9, 30, 0, 0, time.UTC)

func newTestEngine(t *testing.T, store mutationqueue.Store, network Transport, online bool) *Engine {
	t.Helper()
	if store == nil {
		store = mutationqueue.NewMemoryStore()
	}
	engine, err := New(Options{
		Store:         store,
		Transport:     network,
		Now:           func() time.Time { return fixedNow },
		InitialOnline: online,
	})
	if err != nil {
		t.Fatalf("new engine failed: %v", err)
	}
	t.Cleanup(func() { _ = engine.Close() })
	return engine
}

func postOrder(body string) Request {
	return Request{
		URL:    "https://api.field.test/v1/orders",
		Method: "POST",
		Headers: []mutationqueue.Header{
			{Name: "Authorization", Value: "Bearer rep_token"},
			{Name: "Content-Type", Value: "application/json"},
		},
		Body: []byte(body),
	}
}

func pendingCount(t *testing.T, store mutationqueue.Store) int {
	t.Helper()
	n, err := store.Len(context.Background())
	if err != nil {
		t.Fatalf("store len failed: %v", err)
	}
	return n
}
