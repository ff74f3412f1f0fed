package background

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DrainFunc runs one drain for intent. A non-nil error schedules a retry.
type DrainFunc func(ctx context.Context, intent Intent) error

type AgentOptions struct {
	Dir         string
	Drain       DrainFunc
	Logger      Logger
	MaxAttempts int
	RetryDelay  time.Duration
}

// Agent executes intents dropped into a spool directory, one at a time.
type Agent struct {
	spool       *Spool
	drain       DrainFunc
	logger      Logger
	maxAttempts int
	retryDelay  time.Duration
}

func NewAgent(opts AgentOptions) (*Agent, error) {
	if strings.TrimSpace(opts.Dir) == "" {
		return nil, errors.New("spool directory is required")
	}
	if opts.Drain == nil {
		return nil, errors.New("drain func is required")
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	retryDelay := opts.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 30 * time.Second
	}
	return &Agent{
		spool:       NewSpool(opts.Dir),
		drain:       opts.Drain,
		logger:      opts.Logger,
		maxAttempts: maxAttempts,
		retryDelay:  retryDelay,
	}, nil
}

// Run processes intents already in the spool, then every intent written
// after it, until ctx ends.
func (a *Agent) Run(ctx context.Context) error {
	if err := os.MkdirAll(a.spool.Dir, 0o755); err != nil {
		return fmt.Errorf("create spool dir: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create spool watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(a.spool.Dir); err != nil {
		return fmt.Errorf("watch spool dir: %w", err)
	}

	retries := make(chan Intent, 16)
	a.processPending(ctx, retries)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(event.Name, intentSuffix) || !(event.Has(fsnotify.Create) || event.Has(fsnotify.Write)) {
				continue
			}
			a.processPending(ctx, retries)
		case intent := <-retries:
			if _, err := a.spool.write(intent); err != nil {
				a.warnf("requeue sync intent %s: %v", intent.Tag, err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			a.warnf("spool watcher error: %v", err)
		}
	}
}

// RunPending processes the intents currently in the spool and returns.
func (a *Agent) RunPending(ctx context.Context) int {
	return a.processPending(ctx, nil)
}

func (a *Agent) processPending(ctx context.Context, retries chan<- Intent) int {
	entries, err := os.ReadDir(a.spool.Dir)
	if err != nil {
		a.warnf("read spool dir: %v", err)
		return 0
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), intentSuffix) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	processed := 0
	for _, name := range names {
		if ctx.Err() != nil {
			return processed
		}
		intent, ok := a.claim(filepath.Join(a.spool.Dir, name))
		if !ok {
			continue
		}
		processed++
		a.logf("running sync intent %s (id %s, attempt %d)", intent.Tag, intent.ID, intent.Attempt)
		if err := a.drain(ctx, intent); err != nil {
			a.scheduleRetry(ctx, intent, err, retries)
		}
	}
	return processed
}

// claim reads and removes an intent file. Removing before the drain lets a
// registration that arrives mid-drain produce a fresh intent.
func (a *Agent) claim(path string) (Intent, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			a.warnf("read sync intent %s: %v", path, err)
		}
		return Intent{}, false
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		a.warnf("remove sync intent %s: %v", path, err)
		return Intent{}, false
	}
	var intent Intent
	if err := json.Unmarshal(data, &intent); err != nil {
		a.warnf("discard malformed sync intent %s: %v", path, err)
		return Intent{}, false
	}
	return intent, true
}

func (a *Agent) scheduleRetry(ctx context.Context, intent Intent, cause error, retries chan<- Intent) {
	if intent.Attempt >= a.maxAttempts || retries == nil {
		a.warnf("sync intent %s failed after %d attempts: %v", intent.Tag, intent.Attempt, cause)
		return
	}
	a.warnf("sync intent %s failed (attempt %d), retrying in %s: %v", intent.Tag, intent.Attempt, a.retryDelay, cause)
	next := intent
	next.Attempt++
	go func() {
		timer := time.NewTimer(a.retryDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		select {
		case retries <- next:
		case <-ctx.Done():
		}
	}()
}

func (a *Agent) logf(format string, args ...any) {
	if a.logger == nil {
		return
	}
	a.logger.Printf(format, args...)
}

func (a *Agent) warnf(format string, args ...any) {
	if w, ok := a.logger.(interface{ Warnf(string, ...any) }); ok {
		w.Warnf(format, args...)
		return
	}
	a.logf(format, args...)
}
