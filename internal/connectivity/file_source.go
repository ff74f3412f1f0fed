package connectivity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// FileSource reads connectivity from a status file kept up to date by a
// platform hook (NetworkManager dispatcher, launchd script and so on). The
// file holds "online" or "offline"; a missing file means offline.
type FileSource struct {
	Path   string
	Logger Logger
}

func NewFileSource(path string, logger Logger) *FileSource {
	return &FileSource{Path: path, Logger: logger}
}

func (s *FileSource) Run(ctx context.Context, report func(online bool)) error {
	path := strings.TrimSpace(s.Path)
	if path == "" {
		return errors.New("status file path is required")
	}
	path = filepath.Clean(path)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create status watcher: %w", err)
	}
	defer watcher.Close()
	// Watch the directory so replace-by-rename updates are seen.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	reporter := newChangeReporter(report)
	reporter.set(s.read(path))
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			reporter.set(s.read(path))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			warnf(s.Logger, "status file watcher error: %v", err)
		}
	}
}

func (s *FileSource) read(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			warnf(s.Logger, "read status file %s: %v", path, err)
		}
		return false
	}
	return ParseStatus(string(data))
}

// ParseStatus reports whether text names an online state.
func ParseStatus(text string) bool {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "online", "up", "connected", "1", "true":
		return true
	default:
		return false
	}
}
